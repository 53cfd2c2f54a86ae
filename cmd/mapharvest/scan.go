package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rendis/mapharvest/internal/config"
	"github.com/rendis/mapharvest/internal/engine/harvest"
	"github.com/rendis/mapharvest/internal/runner"
	"github.com/rendis/mapharvest/internal/tui"
)

type scanCmd struct {
	Query    string `arg:"" help:"What to search for, e.g. \"bakery\"."`
	Location string `help:"Where to search, e.g. \"Madrid, Spain\"." short:"l" env:"MAPHARVEST_LOCATION"`

	config.Settings `embed:""`
}

func (c *scanCmd) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(os.Stderr, "\nShutting down gracefully, exporting what was collected...")
			cancel()
		case <-ctx.Done():
		}
	}()

	params := c.Params(c.Query, c.Location)
	fmt.Fprintf(os.Stderr, "Harvesting %q: target=%d workers=%d timeout=%s\n",
		params.SearchText(), params.TargetCount, params.Workers, params.Timeout)

	stats := &harvest.Stats{}
	res, err := runner.Run(ctx, runner.Job{Query: c.Query, Location: c.Location, Settings: c.Settings}, runner.Hooks{
		Stats: stats,
	})
	if res == nil {
		return fmt.Errorf("harvesting: %w", err)
	}
	if res.DBPath != "" {
		_ = tui.SaveRecent(tui.RecentEntry{Path: res.DBPath, Label: params.SearchText(), Records: len(res.Records)})
	}

	printSummary(res, stats)
	return err
}

func printSummary(res *runner.Result, stats *harvest.Stats) {
	status := "Complete"
	if runner.Cancelled(res.Err) {
		status = "Interrupted"
	}
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "══════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "  Harvest %s\n", status)
	fmt.Fprintf(os.Stderr, "══════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "  Search:     %s\n", res.Params.SearchText())
	if res.Params.HasCenter() {
		fmt.Fprintf(os.Stderr, "  Center:     %.4f, %.4f\n", res.Params.CenterLat, res.Params.CenterLng)
	}
	fmt.Fprintf(os.Stderr, "  Found:      %d\n", stats.Discovered.Load())
	fmt.Fprintf(os.Stderr, "  Collected:  %d/%d\n", len(res.Records), res.Params.TargetCount)
	if res.Filtered > 0 {
		fmt.Fprintf(os.Stderr, "  Outside:    %d (dropped)\n", res.Filtered)
	}
	fmt.Fprintf(os.Stderr, "  Emails:     %d\n", stats.Emails.Load())
	fmt.Fprintf(os.Stderr, "  Errors:     %d\n", stats.Errors.Load())
	fmt.Fprintf(os.Stderr, "  Duration:   %s\n", res.Duration)
	for _, f := range res.Files {
		fmt.Fprintf(os.Stderr, "  Output:     %s\n", f)
	}
	if res.DBPath != "" {
		fmt.Fprintf(os.Stderr, "  Database:   %s\n", res.DBPath)
	}
	fmt.Fprintf(os.Stderr, "  Log:        %s\n", res.LogPath)
	fmt.Fprintf(os.Stderr, "══════════════════════════════\n")
}
