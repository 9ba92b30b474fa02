package cmd

import (
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/unmanic/unmanic/pkg/logging"
)

var installationCmd = &cobra.Command{
	Use:   "installation",
	Short: "Inspect stored installation records",
}

var installationListCmd = &cobra.Command{
	Use:   "list",
	Short: "List installation records, earliest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := logging.AddFields(cmd.Context(), logging.Fields{logging.CommandFieldKey: "installation list"})
		return withApp(ctx, func(a *app) error {
			records, err := a.installation.List(ctx)
			if err != nil {
				return err
			}
			rows := make([]table.Row, 0, len(records))
			for _, rec := range records {
				rows = append(rows, table.Row{rec.ID, rec.UUID, rec.CreatedAt.Format(time.RFC3339)})
			}
			writeTable(cmd.OutOrStdout(), table.Row{"Record ID", "UUID", "Created"}, rows)
			return nil
		})
	},
}

//nolint:gochecknoinits
func init() {
	rootCmd.AddCommand(installationCmd)
	installationCmd.AddCommand(installationListCmd)
}
