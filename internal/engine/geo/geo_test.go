package geo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/paulmach/orb"

	"github.com/rendis/mapharvest/internal/model"
)

func TestGeocode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") != "Madrid, Spain" || r.Header.Get("User-Agent") == "" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		w.Write([]byte(`[{"lat":"40.4167","lon":"-3.7036","display_name":"Madrid","boundingbox":["40.31","40.64","-3.89","-3.52"]}]`))
	}))
	defer srv.Close()

	g := NewGeocoder()
	g.BaseURL = srv.URL
	place, err := g.Geocode(context.Background(), "Madrid, Spain")
	if err != nil {
		t.Fatalf("Geocode() error: %v", err)
	}
	if place.Center.Lat() != 40.4167 || place.Center.Lon() != -3.7036 {
		t.Fatalf("Center = %v", place.Center)
	}
	if place.Bound.Min.Lat() != 40.31 || place.Bound.Max.Lon() != -3.52 {
		t.Fatalf("Bound = %v", place.Bound)
	}
}

func TestGeocodeNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	g := NewGeocoder()
	g.BaseURL = srv.URL
	if _, err := g.Geocode(context.Background(), "Atlantis"); err == nil {
		t.Fatal("Geocode() succeeded for an unknown place")
	}
}

func TestFilterWithin(t *testing.T) {
	area := orb.Bound{Min: orb.Point{-3.9, 40.3}, Max: orb.Point{-3.5, 40.6}}
	in := []model.Business{
		{Name: "inside", Lat: 40.4, Lng: -3.7},
		{Name: "edge", Lat: 40.62, Lng: -3.7},
		{Name: "far", Lat: 41.4, Lng: 2.17},
		{Name: "unknown"},
	}
	got := FilterWithin(in, area, 0.05)
	if len(got) != 3 || got[0].Name != "inside" || got[1].Name != "edge" || got[2].Name != "unknown" {
		t.Fatalf("FilterWithin() = %+v", got)
	}
}

func TestWithinMatchesFilter(t *testing.T) {
	area := orb.Bound{Min: orb.Point{-3.9, 40.3}, Max: orb.Point{-3.5, 40.6}}
	tests := []struct {
		b    model.Business
		want bool
	}{
		{model.Business{Lat: 40.4, Lng: -3.7}, true},
		{model.Business{Lat: 40.62, Lng: -3.7}, true},
		{model.Business{Lat: 41.4, Lng: 2.17}, false},
		{model.Business{}, true},
	}
	for _, tt := range tests {
		if got := Within(tt.b, area, 0.05); got != tt.want {
			t.Errorf("Within(%v,%v) = %v, want %v", tt.b.Lat, tt.b.Lng, got, tt.want)
		}
	}
}
