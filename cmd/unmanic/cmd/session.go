package cmd

import (
	"fmt"
	"slices"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/unmanic/unmanic/pkg/logging"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect the installation session",
}

var sessionUUIDCmd = &cobra.Command{
	Use:   "uuid",
	Short: "Print the installation identifier, creating it when missing",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := logging.AddFields(cmd.Context(), logging.Fields{logging.CommandFieldKey: "session uuid"})
		return withApp(ctx, func(a *app) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), a.session.GetInstallationUUID(ctx))
			return err
		})
	},
}

var sessionRegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "Register this installation, storing its identifier",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := logging.AddFields(cmd.Context(), logging.Fields{logging.CommandFieldKey: "session register"})
		force, _ := cmd.Flags().GetBool("force")
		return withApp(ctx, func(a *app) error {
			registered := a.session.RegisterUnmanic(ctx, force)
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "registered: %t\ninstallation: %s\n",
				registered, a.session.GetInstallationUUID(ctx))
			return err
		})
	},
}

var sessionInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Print installation and session details",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := logging.AddFields(cmd.Context(), logging.Fields{logging.CommandFieldKey: "session info"})
		return withApp(ctx, func(a *app) error {
			md := a.session.Metadata(ctx)
			keys := make([]string, 0, len(md))
			for k := range md {
				keys = append(keys, k)
			}
			slices.Sort(keys)
			rows := make([]table.Row, 0, len(keys)+3)
			for _, k := range keys {
				rows = append(rows, table.Row{k, md[k]})
			}
			rows = append(rows,
				table.Row{"library_count", a.session.LibraryCount()},
				table.Row{"link_count", a.session.LinkCount()},
				table.Row{"site_url", a.session.GetSiteURL()},
			)
			writeTable(cmd.OutOrStdout(), table.Row{"Key", "Value"}, rows)
			return nil
		})
	},
}

//nolint:gochecknoinits
func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionUUIDCmd)
	sessionCmd.AddCommand(sessionRegisterCmd)
	sessionCmd.AddCommand(sessionInfoCmd)
	sessionRegisterCmd.Flags().Bool("force", false, "register even when already registered")
}
