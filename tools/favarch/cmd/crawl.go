package cmd

import (
	"fmt"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/codedcells/favarch/pkg/client"
	"github.com/codedcells/favarch/pkg/pool"
)

// crawlCmd walks the favorites listings of the given accounts.
var crawlCmd = &cobra.Command{
	Use:   "crawl [targets...]",
	Short: "Crawl favorites listings and archive new submissions.",
	Long: `Crawls the favorites listing of each target account, records new
favorites, snapshots their pages and downloads their media. Without
arguments the configured users or the targets file are used.`,
	Args: cobra.ArbitraryArgs,
	RunE: runCrawl,
}

func runCrawl(cmd *cobra.Command, args []string) error {
	targets := getTargets(cfg, console, args)
	if len(targets) == 0 {
		return fmt.Errorf("no targets given: pass accounts as arguments or add them to %s", cfg.TargetsFile)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		mu       sync.Mutex
		total    client.Summary
		firstErr error
	)
	workers := pool.New(cfg.MaxWorkers, len(targets))
	for _, target := range targets {
		target := target
		workers.Submit(func() {
			summary, err := appClient.CrawlFavorites(ctx, target)
			mu.Lock()
			defer mu.Unlock()
			if summary != nil {
				total.Add(*summary)
			}
			if err != nil && firstErr == nil {
				firstErr = err
			}
			if err != nil {
				console.Error("Crawl of %s failed: %v", target, err)
			} else {
				console.Success("Crawled %s: %d new favorites", target, summary.NewFavorites)
			}
		})
	}
	workers.Stop()

	// Backfill anything older runs left behind before reporting.
	if ctx.Err() == nil {
		syncSummary, err := appClient.SyncMissing(ctx)
		if syncSummary != nil {
			total.Add(*syncSummary)
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	console.Info("Crawl finished: %d new, %d archived, %d abandoned, %d failed",
		total.NewFavorites, total.Archived, total.Abandoned, total.Failed)

	message := fmt.Sprintf("favarch: %d new favorites, %d archived, %d abandoned, %d failed",
		total.NewFavorites, total.Archived, total.Abandoned, total.Failed)
	if err := appClient.Notify(ctx, message); err != nil {
		console.Warn("Notification failed: %v", err)
	}
	return firstErr
}
