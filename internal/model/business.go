package model

import (
	"strings"
	"time"
)

// Business represents one harvested Google Maps listing.
type Business struct {
	Name           string            `json:"name"`
	Address        string            `json:"address"`
	URL            string            `json:"url"`
	PhoneNumber    string            `json:"phone_number"`
	Email          string            `json:"email"`
	ReviewsCount   int               `json:"reviews_count"`
	ReviewsAverage float64           `json:"reviews_average"`
	SocialMedia    map[string]string `json:"social_media,omitempty"`
	BusinessHours  string            `json:"business_hours"`
	Categories     []string          `json:"categories,omitempty"`
	Lat            float64           `json:"lat"`
	Lng            float64           `json:"lng"`
	GoogleURL      string            `json:"google_url"`
	Query          string            `json:"query"`
}

// Valid reports whether b carries a name and at least one way to reach the business.
func (b Business) Valid() bool {
	if strings.TrimSpace(b.Name) == "" {
		return false
	}
	return strings.TrimSpace(b.Address) != "" ||
		strings.TrimSpace(b.PhoneNumber) != "" ||
		strings.TrimSpace(b.URL) != ""
}

// HasLocation reports whether coordinates were captured for b.
func (b Business) HasLocation() bool {
	return b.Lat != 0 || b.Lng != 0
}

// WorkItem references a listing still resident in a live results page.
// It never carries page handles; each actor resolves Name against its own session.
type WorkItem struct {
	Name  string
	Index int
}

// SearchParams holds the configuration of a single harvest.
type SearchParams struct {
	Query       string
	Location    string
	TargetCount int
	Workers     int
	Timeout     time.Duration
	Lang        string

	// Center, when set, positions the map viewport before the search is typed.
	CenterLat float64
	CenterLng float64
}

// SearchText is the text typed into the maps search box.
func (p SearchParams) SearchText() string {
	q := strings.TrimSpace(p.Query)
	loc := strings.TrimSpace(p.Location)
	if loc == "" {
		return q
	}
	return q + " in " + loc
}

func (p SearchParams) HasCenter() bool {
	return p.CenterLat != 0 || p.CenterLng != 0
}

// Progress is delivered to the caller every time a record is accepted.
type Progress struct {
	Count    int
	Name     string
	Snapshot []Business
}
