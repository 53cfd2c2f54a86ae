package runner

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rendis/mapharvest/internal/config"
	"github.com/rendis/mapharvest/internal/engine/browser"
	"github.com/rendis/mapharvest/internal/engine/browser/browsertest"
	"github.com/rendis/mapharvest/internal/engine/geo"
	"github.com/rendis/mapharvest/internal/engine/harvest"
	"github.com/rendis/mapharvest/internal/engine/storage"
	"github.com/rendis/mapharvest/internal/model"
)

func settings(dir string) config.Settings {
	return config.Settings{
		Target:         2,
		Workers:        2,
		Timeout:        10 * time.Second,
		Lang:           "en",
		OutputDir:      dir,
		Formats:        []string{config.FormatCSV, config.FormatGeoJSON},
		NoEnrich:       true,
		Geocode:        true,
		WithinLocation: true,
		WithinMargin:   0.02,
		TypeDelayMin:   time.Microsecond,
		TypeDelayMax:   time.Microsecond,
		ScrollSettle:   time.Millisecond,
		MaxIdleCycles:  2,
		QueueTimeout:   20 * time.Millisecond,
	}
}

func listings(n int) []browsertest.Listing {
	out := make([]browsertest.Listing, 0, n)
	for i := range n {
		c := rune('A' + i)
		out = append(out, browsertest.Listing{
			Name:     fmt.Sprintf("Shop %c", c),
			Address:  fmt.Sprintf("Calle %c 1, Madrid", c),
			Phone:    "+34 910 000 000",
			PlaceURL: "https://www.google.com/maps/place/Shop/data=!3d40.4168!4d-3.7038",
		})
	}
	return out
}

func madrid(t *testing.T) *geo.Geocoder {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"lat":"40.4167","lon":"-3.7036","display_name":"Madrid","boundingbox":["40.31","40.64","-3.89","-3.52"]}]`))
	}))
	t.Cleanup(srv.Close)
	g := geo.NewGeocoder()
	g.BaseURL = srv.URL
	return g
}

func TestRunPersistsAndExports(t *testing.T) {
	dir := t.TempDir()
	sf := &browsertest.Surface{Listings: listings(4), Initial: 4}
	stats := &harvest.Stats{}
	var counts []int

	res, err := Run(context.Background(), Job{Query: "bakery", Location: "Madrid", Settings: settings(dir)}, Hooks{
		Launcher:   sf.Launcher(),
		Geocoder:   madrid(t),
		Stats:      stats,
		OnProgress: func(p model.Progress) { counts = append(counts, p.Count) },
	})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(res.Records) != 2 || res.Err != nil {
		t.Fatalf("records = %d, err = %v", len(res.Records), res.Err)
	}
	if res.Params.CenterLat != 40.4167 || res.Params.CenterLng != -3.7036 {
		t.Fatalf("viewport center = %f,%f", res.Params.CenterLat, res.Params.CenterLng)
	}
	if len(counts) != 2 || counts[1] != 2 {
		t.Fatalf("progress counts = %v", counts)
	}
	if stats.Accepted.Load() != 2 {
		t.Fatalf("accepted = %d", stats.Accepted.Load())
	}

	if len(res.Files) != 2 {
		t.Fatalf("files = %v", res.Files)
	}
	for _, f := range res.Files {
		if !strings.HasPrefix(filepath.Base(f), "bakery_madrid_") {
			t.Fatalf("unexpected export name %s", f)
		}
		if _, err := os.Stat(f); err != nil {
			t.Fatalf("export missing: %v", err)
		}
	}

	store, err := storage.NewStore(res.DBPath)
	if err != nil {
		t.Fatalf("opening run db: %v", err)
	}
	defer store.Close()
	if n, _ := store.Count(); n != 2 {
		t.Fatalf("db holds %d records, want 2", n)
	}

	logData, err := os.ReadFile(res.LogPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(logData), "session start") || !strings.Contains(string(logData), res.RunID) {
		t.Fatalf("log lacks run lines:\n%s", logData)
	}
}

func TestRunKeepsOutOfAreaRecordsOutOfDatabase(t *testing.T) {
	dir := t.TempDir()
	shops := listings(3)
	shops[1].PlaceURL = "https://www.google.com/maps/place/Shop/data=!3d41.3874!4d2.1686"
	sf := &browsertest.Surface{Listings: shops, Initial: 3}
	s := settings(dir)
	s.Target = 3

	res, err := Run(context.Background(), Job{Query: "bakery", Location: "Madrid", Settings: s}, Hooks{
		Launcher: sf.Launcher(),
		Geocoder: madrid(t),
	})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(res.Records) != 2 || res.Filtered != 1 {
		t.Fatalf("records = %d, filtered = %d", len(res.Records), res.Filtered)
	}

	store, err := storage.NewStore(res.DBPath)
	if err != nil {
		t.Fatalf("opening run db: %v", err)
	}
	defer store.Close()
	stored, err := store.LoadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 2 {
		t.Fatalf("db holds %d records, want 2", len(stored))
	}
	for _, b := range stored {
		if b.Name == "Shop B" {
			t.Fatal("record outside the location was stored")
		}
	}
}

func TestRunReportsSessionFailure(t *testing.T) {
	s := settings(t.TempDir())
	s.Geocode, s.WithinLocation = false, false
	failing := browser.Launcher(func(context.Context, int) (browser.Session, error) {
		return nil, errors.New("chrome not found")
	})

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	_, err := Run(ctx, Job{Query: "bakery", Settings: s}, Hooks{Launcher: failing})
	if !errors.Is(err, harvest.ErrNoSessions) {
		t.Fatalf("Run() error = %v, want ErrNoSessions", err)
	}
}

func TestRunRejectsInvalidSettings(t *testing.T) {
	s := settings(t.TempDir())
	s.Target = 0
	if _, err := Run(context.Background(), Job{Query: "bakery", Settings: s}, Hooks{}); err == nil {
		t.Fatal("Run() accepted a zero target")
	}
}
