package export

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/paulmach/orb/geojson"
	"github.com/xuri/excelize/v2"

	"github.com/rendis/mapharvest/internal/model"
)

var sample = []model.Business{
	{
		Name:           "Shop A",
		Address:        "Calle A 1, Madrid",
		URL:            "https://shop-a.test",
		PhoneNumber:    "+34 910 000 000",
		Email:          "info@shop-a.test",
		ReviewsCount:   12,
		ReviewsAverage: 4.5,
		SocialMedia:    map[string]string{"twitter": "https://x.com/shopa", "facebook": "https://facebook.com/shopa"},
		Categories:     []string{"Bakery", "Cafe"},
		Lat:            40.4168,
		Lng:            -3.7038,
		Query:          "bakery in Madrid",
	},
	{Name: "Shop B", PhoneNumber: "+34 911 111 111", Query: "bakery in Madrid"},
}

func TestBaseName(t *testing.T) {
	ts := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	tests := []struct {
		query, location, want string
	}{
		{"Coffee Shops", "New York, NY", "coffee_shops_new_york_ny_20260314_092653"},
		{"  café/bar ", "", "caf_bar_20260314_092653"},
		{"", "", "mapharvest_20260314_092653"},
	}
	for _, tt := range tests {
		if got := BaseName(tt.query, tt.location, ts); got != tt.want {
			t.Errorf("BaseName(%q, %q) = %q, want %q", tt.query, tt.location, got, tt.want)
		}
	}
}

func TestWriteCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	if err := WriteCSV(path, sample); err != nil {
		t.Fatalf("WriteCSV() error: %v", err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("reading csv: %v", err)
	}
	if len(rows) != 3 || len(rows[0]) != len(Columns) {
		t.Fatalf("csv has %d rows of %d columns", len(rows), len(rows[0]))
	}
	a := rows[1]
	if a[0] != "Shop A" || a[4] != "info@shop-a.test" || a[6] != "4.5" {
		t.Fatalf("row = %v", a)
	}
	if a[7] != "facebook: https://facebook.com/shopa; twitter: https://x.com/shopa" {
		t.Fatalf("social column = %q", a[7])
	}
	if a[9] != "Bakery, Cafe" || a[10] != "40.416800" {
		t.Fatalf("row = %v", a)
	}
	if rows[2][10] != "" {
		t.Fatalf("missing coordinates written as %q", rows[2][10])
	}
}

func TestWriteXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.xlsx")
	if err := WriteXLSX(path, sample); err != nil {
		t.Fatalf("WriteXLSX() error: %v", err)
	}
	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatalf("opening xlsx: %v", err)
	}
	defer f.Close()
	rows, err := f.GetRows("Businesses")
	if err != nil {
		t.Fatalf("GetRows() error: %v", err)
	}
	if len(rows) != 3 || rows[0][0] != "name" || rows[2][0] != "Shop B" {
		t.Fatalf("rows = %v", rows)
	}
}

func TestWriteGeoJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.geojson")
	n, err := WriteGeoJSON(path, sample)
	if err != nil {
		t.Fatalf("WriteGeoJSON() error: %v", err)
	}
	if n != 1 {
		t.Fatalf("wrote %d features, want 1", n)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		t.Fatalf("parsing geojson: %v", err)
	}
	if len(fc.Features) != 1 || fc.Features[0].Properties.MustString("name", "") != "Shop A" {
		t.Fatalf("features = %+v", fc.Features)
	}
}
