package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rendis/mapharvest/internal/config"
	"github.com/rendis/mapharvest/internal/engine/storage"
	"github.com/rendis/mapharvest/internal/runner"
)

type exportCmd struct {
	DB      string   `help:"Run database to export." required:"" type:"existingfile"`
	Output  string   `help:"Output directory (default: next to the database)." short:"o" type:"path"`
	Formats []string `help:"Export formats (csv, xlsx, geojson)." default:"csv,xlsx,geojson"`
}

func (c *exportCmd) Run() error {
	s := config.Settings{OutputDir: c.Output, Formats: c.Formats}
	if s.OutputDir == "" {
		s.OutputDir = filepath.Dir(c.DB)
	}
	for _, f := range s.Formats {
		if !config.ValidFormat(f) {
			return fmt.Errorf("unsupported format: %s", f)
		}
	}
	if err := os.MkdirAll(s.OutputDir, 0o755); err != nil {
		return fmt.Errorf("creating output dir: %w", err)
	}

	store, err := storage.NewStore(c.DB)
	if err != nil {
		return fmt.Errorf("opening db: %w", err)
	}
	defer store.Close()

	businesses, err := store.LoadAll()
	if err != nil {
		return fmt.Errorf("loading db: %w", err)
	}
	if len(businesses) == 0 {
		return errors.New("no businesses found in database")
	}

	base := strings.TrimSuffix(filepath.Base(c.DB), filepath.Ext(c.DB))
	files, err := runner.Export(s, base, businesses)
	if err != nil {
		return err
	}
	for _, f := range files {
		fmt.Fprintf(os.Stderr, "Exported %d businesses to %s\n", len(businesses), f)
	}
	return nil
}
