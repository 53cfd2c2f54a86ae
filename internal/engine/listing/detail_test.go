package listing

import (
	"context"
	"testing"

	"github.com/rendis/mapharvest/internal/engine/browser/browsertest"
)

func TestExtractDetails(t *testing.T) {
	ctx := context.Background()
	sf := &browsertest.Surface{
		Listings: []browsertest.Listing{{
			Name:       "Cafe Lumen",
			Address:    " 12 Harbour St, Sydney",
			Phone:      "\n+61 2 5550 1234",
			Website:    "https://www.google.com/url?q=https://cafelumen.test/&sa=U",
			Rating:     "4,6",
			Reviews:    "(1,284)",
			Hours:      "Open ⋅ Closes 5 pm",
			Categories: []string{"Cafe", "Coffee shop", "Cafe"},
			PlaceURL:   "https://www.google.com/maps/place/Cafe+Lumen/@-33.86,151.2,17z/data=!3d-33.8612!4d151.2099",
		}},
		Initial: 1,
	}
	sess := sf.NewSession()
	sess.Navigate(ctx, SearchURL("cafes", "", 0, 0, false))
	el, err := ResolveEntry(ctx, sess, "Cafe Lumen")
	if err != nil {
		t.Fatalf("ResolveEntry: %v", err)
	}
	if err := sess.Click(ctx, el); err != nil {
		t.Fatalf("click: %v", err)
	}

	d := ExtractDetails(ctx, sess)
	if d.Address != "12 Harbour St, Sydney" {
		t.Errorf("Address = %q", d.Address)
	}
	if d.Phone != "+61 2 5550 1234" {
		t.Errorf("Phone = %q", d.Phone)
	}
	if d.Website != "https://cafelumen.test/" {
		t.Errorf("Website = %q", d.Website)
	}
	if d.Rating != 4.6 {
		t.Errorf("Rating = %v", d.Rating)
	}
	if d.Reviews != 1284 {
		t.Errorf("Reviews = %d", d.Reviews)
	}
	if d.Hours != "Open ⋅ Closes 5 pm" {
		t.Errorf("Hours = %q", d.Hours)
	}
	if len(d.Categories) != 2 || d.Categories[0] != "Cafe" || d.Categories[1] != "Coffee shop" {
		t.Errorf("Categories = %v", d.Categories)
	}
	if !d.HasPoint || d.Point.Lat() != -33.8612 || d.Point.Lon() != 151.2099 {
		t.Errorf("Point = %v (has %v)", d.Point, d.HasPoint)
	}
}

func TestExtractDetailsMissingFields(t *testing.T) {
	ctx := context.Background()
	sf := &browsertest.Surface{Listings: []browsertest.Listing{{Name: "Bare", Phone: "555"}}, Initial: 1}
	sess := sf.NewSession()
	sess.Navigate(ctx, SearchURL("x", "", 0, 0, false))
	el, err := ResolveEntry(ctx, sess, "Bare")
	if err != nil {
		t.Fatalf("ResolveEntry: %v", err)
	}
	sess.Click(ctx, el)

	d := ExtractDetails(ctx, sess)
	if d.Phone != "555" || d.Address != "" || d.Website != "" || d.Rating != 0 || d.HasPoint {
		t.Fatalf("unexpected details %+v", d)
	}
}

func TestParseCoordinatesFallsBackToViewport(t *testing.T) {
	p, ok := ParseCoordinates("https://www.google.com/maps/@48.8566,2.3522,14z")
	if !ok || p.Lat() != 48.8566 || p.Lon() != 2.3522 {
		t.Fatalf("got %v %v", p, ok)
	}
	if _, ok := ParseCoordinates("https://www.google.com/maps"); ok {
		t.Fatal("expected no coordinates")
	}
}

func TestXPathLiteral(t *testing.T) {
	tests := map[string]string{
		`Joe's Diner`:       `"Joe's Diner"`,
		`Plain`:             `'Plain'`,
		`Joe's "Best" Cafe`: `concat('Joe', "'", 's "Best" Cafe')`,
	}
	for in, want := range tests {
		if got := xpathLiteral(in); got != want {
			t.Errorf("xpathLiteral(%q) = %s, want %s", in, got, want)
		}
	}
}
