package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"jget/internal/domain"
	"jget/internal/downloader"
)

var resumeAll bool

var resumeCmd = &cobra.Command{
	Use:   "resume [index|id...]",
	Short: "Resume interrupted or failed downloads",
	Long: "Resume downloads by list index or id. Without arguments the list is " +
		"shown and the downloads to resume are asked for.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer closeApp(a)

		targets, err := selectTransfers(a.registry, args, resumeAll, "resume")
		if err != nil {
			return err
		}

		var g errgroup.Group
		for _, t := range targets {
			if t.State() == domain.TaskStateFinished {
				printInfo(fmt.Sprintf("%s already finished", t.FileName()))
				continue
			}
			if _, err := a.registry.ResumeID(t.ID()); err != nil {
				printError(fmt.Sprintf("%s: %v", t.ID(), err))
				continue
			}
			t := t
			g.Go(func() error {
				if err := t.Wait(ctx); err != nil {
					if !errors.Is(err, context.Canceled) {
						printError(fmt.Sprintf("%s: %v", t.FileName(), err))
					}
					return err
				}
				printSuccess(fmt.Sprintf("%s -> %s", t.URL(), lastSuccessor(t).Path()))
				return nil
			})
		}
		return g.Wait()
	},
}

// selectTransfers resolves refs, --all, or an interactive choice to
// transfers. Everything is resolved before any is acted on, since deleting
// shifts list indexes.
func selectTransfers(registry downloader.Registry, refs []string, all bool, action string) ([]*downloader.Transfer, error) {
	entries := registry.List()
	if len(entries) == 0 {
		return nil, errors.New("no downloads")
	}

	if len(refs) == 0 && !all {
		renderEntries(os.Stdout, entries, true)
		indexes, chosenAll, err := promptSelection(os.Stdin, os.Stdout, action, len(entries))
		if err != nil {
			return nil, err
		}
		if chosenAll {
			all = true
		}
		for _, i := range indexes {
			refs = append(refs, entries[i-1].ID)
		}
	}
	if all {
		refs = refs[:0]
		for _, e := range entries {
			refs = append(refs, e.ID)
		}
	}

	targets := make([]*downloader.Transfer, 0, len(refs))
	for _, ref := range refs {
		t, err := registry.Lookup(ref)
		if err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}
	return targets, nil
}

func init() {
	resumeCmd.Flags().BoolVar(&resumeAll, "all", false, "Resume every unfinished download")
	rootCmd.AddCommand(resumeCmd)
}
