package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"github.com/rendis/mapharvest/internal/config"
	"github.com/rendis/mapharvest/internal/tui"
)

var version = "dev"

type cli struct {
	TUI     tuiCmd     `cmd:"" default:"1" help:"Launch the interactive front-end."`
	Scan    scanCmd    `cmd:"" help:"Run a headless harvest."`
	Export  exportCmd  `cmd:"" help:"Regenerate export files from a run database."`
	Version versionCmd `cmd:"" help:"Show version."`
}

type tuiCmd struct {
	config.Settings `embed:""`
}

func (c *tuiCmd) Run() error {
	return tui.Run(c.Settings, version)
}

type versionCmd struct{}

func (versionCmd) Run() error {
	fmt.Println("mapharvest " + version)
	return nil
}

func main() {
	// .env must be in the environment before kong resolves env fallbacks.
	if err := config.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	var c cli
	ctx := kong.Parse(&c,
		kong.Name("mapharvest"),
		kong.Description("Google Maps business harvester with website contact enrichment."),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run())
}
