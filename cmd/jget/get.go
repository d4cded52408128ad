package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"jget/internal/downloader"
)

var (
	listFile string
	workers  int
)

var getCmd = &cobra.Command{
	Use:   "get [url...]",
	Short: "Download one or more URLs",
	Args:  cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 && listFile == "" {
			return errors.New("no URL or URL list provided")
		}
		if len(args) > 0 && listFile != "" {
			return errors.New("cannot specify url arguments and --list together, choose one")
		}

		var entries []batchEntry
		for _, url := range args {
			entries = append(entries, batchEntry{URL: url})
		}
		if listFile != "" {
			var err error
			if entries, err = readBatchFile(listFile); err != nil {
				return err
			}
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer closeApp(a)

		return downloadAll(ctx, a.registry, entries, workers)
	},
}

// downloadAll runs entries with at most workers transfers in flight and
// reports how many failed.
func downloadAll(ctx context.Context, registry downloader.Registry, entries []batchEntry, workers int) error {
	var (
		g      errgroup.Group
		mu     sync.Mutex
		failed int
	)
	g.SetLimit(max(workers, 1))
	for _, entry := range entries {
		entry := entry
		g.Go(func() error {
			err := fetch(ctx, registry, entry)
			if err != nil {
				mu.Lock()
				failed++
				mu.Unlock()
			}
			return err
		})
	}
	_ = g.Wait()

	if ctx.Err() != nil {
		printInfo("interrupted, run 'jget resume' to continue")
		return ctx.Err()
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d downloads failed", failed, len(entries))
	}
	return nil
}

func fetch(ctx context.Context, registry downloader.Registry, entry batchEntry) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	t, err := registry.Download(entry.URL, entry.Dir)
	if err != nil {
		printError(fmt.Sprintf("%s: %v", entry.URL, err))
		return err
	}
	if err := t.Wait(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			printError(fmt.Sprintf("%s: %v", entry.URL, err))
		}
		return err
	}
	final := lastSuccessor(t)
	printSuccess(fmt.Sprintf("%s -> %s (%s)", entry.URL, final.Path(), downloader.FormatBytes(final.Received())))
	return nil
}

// lastSuccessor follows redirects to the transfer that wrote the file.
func lastSuccessor(t *downloader.Transfer) *downloader.Transfer {
	for next := t.Successor(); next != nil; next = t.Successor() {
		t = next
	}
	return t
}

func closeApp(a *app) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	a.Close(ctx)
}

func init() {
	getCmd.Flags().StringVarP(&listFile, "list", "l", "", "Path to YAML file listing urls (and optional dirs)")
	getCmd.Flags().IntVarP(&workers, "workers", "w", 1, "Number of downloads to run in parallel")
	rootCmd.AddCommand(getCmd)
}
