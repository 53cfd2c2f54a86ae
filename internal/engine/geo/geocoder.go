package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/paulmach/orb"
)

const nominatimURL = "https://nominatim.openstreetmap.org/search"

type nominatimResult struct {
	Lat         string   `json:"lat"`
	Lon         string   `json:"lon"`
	BoundingBox []string `json:"boundingbox"` // [minLat, maxLat, minLng, maxLng]
	DisplayName string   `json:"display_name"`
}

// Place is a geocoded location.
type Place struct {
	Center      orb.Point
	Bound       orb.Bound
	DisplayName string
}

// Geocoder resolves free-text locations with the OSM Nominatim API.
type Geocoder struct {
	BaseURL   string
	UserAgent string
	HTTP      *http.Client
}

func NewGeocoder() *Geocoder {
	return &Geocoder{
		BaseURL:   nominatimURL,
		UserAgent: "mapharvest/0.1 (business directory harvester)",
		HTTP:      &http.Client{Timeout: 10 * time.Second},
	}
}

// GeocodeLocation resolves location with the public Nominatim endpoint.
func GeocodeLocation(ctx context.Context, location string) (Place, error) {
	return NewGeocoder().Geocode(ctx, location)
}

func (g *Geocoder) Geocode(ctx context.Context, location string) (Place, error) {
	u := g.BaseURL + "?" + url.Values{
		"q":      {location},
		"format": {"json"},
		"limit":  {"1"},
	}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Place{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", g.UserAgent)

	resp, err := g.HTTP.Do(req)
	if err != nil {
		return Place{}, fmt.Errorf("geocoding request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Place{}, fmt.Errorf("geocoding returned status %d", resp.StatusCode)
	}

	var results []nominatimResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return Place{}, fmt.Errorf("decoding geocoding response: %w", err)
	}
	if len(results) == 0 {
		return Place{}, fmt.Errorf("location %q not found", location)
	}

	r := results[0]
	lat, err1 := strconv.ParseFloat(r.Lat, 64)
	lng, err2 := strconv.ParseFloat(r.Lon, 64)
	if err1 != nil || err2 != nil {
		return Place{}, fmt.Errorf("invalid coordinates from geocoder: %q, %q", r.Lat, r.Lon)
	}
	place := Place{Center: orb.Point{lng, lat}, DisplayName: r.DisplayName}
	place.Bound = place.Center.Bound()

	if bb := r.BoundingBox; len(bb) >= 4 {
		minLat, _ := strconv.ParseFloat(bb[0], 64)
		maxLat, _ := strconv.ParseFloat(bb[1], 64)
		minLng, _ := strconv.ParseFloat(bb[2], 64)
		maxLng, _ := strconv.ParseFloat(bb[3], 64)
		place.Bound = orb.Bound{Min: orb.Point{minLng, minLat}, Max: orb.Point{maxLng, maxLat}}
	}
	return place, nil
}
