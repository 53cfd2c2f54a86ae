package tui

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"
)

const maxRecent = 10

// RecentEntry is a finished harvest whose run database can be reopened.
type RecentEntry struct {
	Path    string    `json:"path"`
	Label   string    `json:"label"`
	Records int       `json:"records"`
	SavedAt time.Time `json:"saved_at"`
}

func recentFile() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locating config dir: %w", err)
	}
	return filepath.Join(dir, "mapharvest", "recent.json"), nil
}

// LoadRecent returns the remembered runs, newest first. A missing or
// unreadable file yields an empty list.
func LoadRecent() []RecentEntry {
	path, err := recentFile()
	if err != nil {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var entries []RecentEntry
	if json.Unmarshal(data, &entries) != nil {
		return nil
	}
	return entries
}

// SaveRecent puts e at the top of the list, replacing any entry for the
// same database, and keeps the newest maxRecent.
func SaveRecent(e RecentEntry) error {
	if e.Path == "" {
		return nil
	}
	e.Path = absPath(e.Path)
	if e.SavedAt.IsZero() {
		e.SavedAt = time.Now()
	}
	entries := slices.DeleteFunc(LoadRecent(), func(old RecentEntry) bool { return old.Path == e.Path })
	entries = append([]RecentEntry{e}, entries...)
	return writeRecent(entries[:min(len(entries), maxRecent)])
}

// ForgetRecent removes path from the list. The database file is untouched.
func ForgetRecent(path string) error {
	path = absPath(path)
	entries := LoadRecent()
	kept := slices.DeleteFunc(slices.Clone(entries), func(e RecentEntry) bool { return e.Path == path })
	if len(kept) == len(entries) {
		return nil
	}
	return writeRecent(kept)
}

func writeRecent(entries []RecentEntry) error {
	path, err := recentFile()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding recent runs: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}
