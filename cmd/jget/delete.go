package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"jget/internal/downloader"
)

var deleteAll bool

var deleteCmd = &cobra.Command{
	Use:     "delete [index|id...]",
	Aliases: []string{"rm"},
	Short:   "Delete downloads and their partial files",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer closeApp(a)

		if deleteAll && len(args) == 0 {
			if err := a.registry.DeleteAll(cmd.Context()); err != nil {
				return err
			}
			printSuccess("all downloads deleted")
			return nil
		}

		// ids of records that could not be loaded are not listed, so they
		// are passed straight to the registry
		var unlisted []string
		if !deleteAll {
			var listed []string
			for _, ref := range args {
				if _, err := a.registry.Lookup(ref); errors.Is(err, downloader.ErrTaskNotFound) {
					unlisted = append(unlisted, ref)
					continue
				}
				listed = append(listed, ref)
			}
			if len(args) > 0 && len(listed) == 0 {
				return deleteUnlisted(cmd.Context(), a.registry, unlisted)
			}
			args = listed
		}

		targets, err := selectTransfers(a.registry, args, deleteAll, "delete")
		if err != nil {
			return err
		}
		for _, t := range targets {
			if err := a.registry.DeleteID(cmd.Context(), t.ID()); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("deleted %s (%s)", t.ID(), t.URL()))
		}
		return deleteUnlisted(cmd.Context(), a.registry, unlisted)
	},
}

func deleteUnlisted(ctx context.Context, registry downloader.Registry, ids []string) error {
	for _, id := range ids {
		if err := registry.DeleteID(ctx, id); err != nil {
			return err
		}
		printSuccess(fmt.Sprintf("deleted %s", id))
	}
	return nil
}

func init() {
	deleteCmd.Flags().BoolVar(&deleteAll, "all", false, "Delete every download")
	rootCmd.AddCommand(deleteCmd)
}
