package listing_test

import (
	"context"
	"errors"
	"testing"

	"github.com/rendis/mapharvest/internal/engine/browser"
	"github.com/rendis/mapharvest/internal/engine/browser/browsertest"
	"github.com/rendis/mapharvest/internal/engine/listing"
)

func resultsSession(t *testing.T, sf *browsertest.Surface) *browsertest.Session {
	t.Helper()
	sess := sf.NewSession()
	if err := sess.Navigate(context.Background(), listing.SearchURL("bakeries in Lyon", "en", 0, 0, false)); err != nil {
		t.Fatalf("navigate: %v", err)
	}
	return sess
}

func TestLocateResultsContainer(t *testing.T) {
	ctx := context.Background()
	sf := &browsertest.Surface{}
	sess := sf.NewSession()

	if _, err := listing.LocateResultsContainer(ctx, sess); !errors.Is(err, browser.ErrNotFound) {
		t.Fatalf("blank page: err = %v, want ErrNotFound", err)
	}

	sess.Navigate(ctx, listing.SearchURL("bakeries", "", 0, 0, false))
	if _, err := listing.LocateResultsContainer(ctx, sess); err != nil {
		t.Fatalf("results page: %v", err)
	}
}

func TestListNewEntriesSkipsSeen(t *testing.T) {
	ctx := context.Background()
	sf := &browsertest.Surface{
		Listings: []browsertest.Listing{{Name: "Alpha"}, {Name: "Beta"}, {Name: "Gamma"}},
		Initial:  3,
	}
	sess := resultsSession(t, sf)

	entries, err := listing.ListNewEntries(ctx, sess, map[string]struct{}{"Beta": {}})
	if err != nil {
		t.Fatalf("ListNewEntries: %v", err)
	}
	if len(entries) != 2 || entries[0].Name != "Alpha" || entries[1].Name != "Gamma" {
		t.Fatalf("entries = %+v", entries)
	}
}

func TestResolveEntryCascade(t *testing.T) {
	ctx := context.Background()
	listings := []browsertest.Listing{{Name: "Le Petit Four", Address: "2 Rue A"}, {Name: "Boulangerie Paul", Address: "9 Rue B"}}

	tests := []struct {
		name    string
		surface *browsertest.Surface
	}{
		{"exact", &browsertest.Surface{Listings: listings, Initial: 2}},
		{"substring", &browsertest.Surface{Listings: listings, Initial: 2, ExactMiss: true}},
		{"scan", &browsertest.Surface{Listings: listings, Initial: 2, ExactMiss: true, ContainsMiss: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess := resultsSession(t, tt.surface)
			el, err := listing.ResolveEntry(ctx, sess, "Boulangerie Paul")
			if err != nil {
				t.Fatalf("ResolveEntry: %v", err)
			}
			if err := sess.Click(ctx, el); err != nil {
				t.Fatalf("click: %v", err)
			}
			d := listing.ExtractDetails(ctx, sess)
			if d.Address != "9 Rue B" {
				t.Fatalf("opened wrong listing, address %q", d.Address)
			}
		})
	}
}

func TestResolveEntryNotLoaded(t *testing.T) {
	sf := &browsertest.Surface{Listings: []browsertest.Listing{{Name: "Alpha"}}, Initial: 0}
	sess := resultsSession(t, sf)
	if _, err := listing.ResolveEntry(context.Background(), sess, "Alpha"); !errors.Is(err, browser.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSearchURL(t *testing.T) {
	got := listing.SearchURL("cafes in New York", "en", 40.7128, -74.006, true)
	want := "https://www.google.com/maps/search/cafes%20in%20New%20York/@40.712800,-74.006000,13z?hl=en"
	if got != want {
		t.Fatalf("SearchURL() = %q, want %q", got, want)
	}
}
