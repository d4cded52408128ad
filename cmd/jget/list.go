package main

import (
	"os"

	"github.com/spf13/cobra"
)

var plainList bool

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List known downloads, newest first",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer closeApp(a)

		renderEntries(os.Stdout, a.registry.List(), !plainList)
		return nil
	},
}

func init() {
	listCmd.Flags().BoolVar(&plainList, "plain", false, "Disable colors")
	rootCmd.AddCommand(listCmd)
}
