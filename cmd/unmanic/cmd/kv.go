package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/unmanic/unmanic/pkg/kv"
)

var kvCmd = &cobra.Command{
	Use:    "kv",
	Short:  "Inspect the key-value store",
	Hidden: true,
}

var kvDriversCmd = &cobra.Command{
	Use:   "drivers",
	Short: "List the registered kv drivers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		for _, name := range kv.Drivers() {
			if _, err := fmt.Fprintln(cmd.OutOrStdout(), name); err != nil {
				return err
			}
		}
		return nil
	},
}

//nolint:gochecknoinits
func init() {
	rootCmd.AddCommand(kvCmd)
	kvCmd.AddCommand(kvDriversCmd)
}
