// Package config loads run settings from .env, the environment and flags.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/rendis/mapharvest/internal/engine/browser"
	"github.com/rendis/mapharvest/internal/engine/harvest"
	"github.com/rendis/mapharvest/internal/model"
)

// Formats accepted by --formats.
const (
	FormatCSV     = "csv"
	FormatXLSX    = "xlsx"
	FormatGeoJSON = "geojson"
)

func ValidFormat(name string) bool {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case FormatCSV, FormatXLSX, FormatGeoJSON:
		return true
	}
	return false
}

// Load populates the process environment from the given .env files, or ./.env
// when none are named. A missing file is not an error.
func Load(files ...string) error {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading env file: %w", err)
	}
	return nil
}

// Settings is shared by the scan and tui commands. Every flag falls back to a
// MAPHARVEST_* variable.
type Settings struct {
	Target  int           `help:"Number of businesses to collect." default:"20" env:"MAPHARVEST_TARGET" short:"n"`
	Workers int           `help:"Processing actors, each with its own browser." default:"3" env:"MAPHARVEST_WORKERS" short:"w"`
	Timeout time.Duration `help:"Overall harvest timeout." default:"300s" env:"MAPHARVEST_TIMEOUT"`
	Lang    string        `help:"Interface language of the map pages." default:"en" env:"MAPHARVEST_LANG"`

	Headless   bool     `help:"Run Chrome without a window." default:"true" env:"MAPHARVEST_HEADLESS" negatable:""`
	ChromePath string   `help:"Chrome binary; empty uses the system install." env:"MAPHARVEST_CHROME_PATH" type:"path"`
	Proxies    string   `help:"File with one proxy per line." env:"MAPHARVEST_PROXIES" type:"path"`
	UserAgents []string `help:"User agents to rotate; empty uses a built-in pool." env:"MAPHARVEST_USER_AGENTS" sep:"|"`

	OutputDir string   `help:"Directory for exports, the run database and the log." default:"./harvests" env:"MAPHARVEST_OUTPUT_DIR" short:"o" type:"path"`
	Formats   []string `help:"Export formats (csv, xlsx, geojson)." default:"csv,xlsx,geojson" env:"MAPHARVEST_FORMATS"`
	NoDB      bool     `name:"no-db" help:"Do not keep a sqlite database of the run." env:"MAPHARVEST_NO_DB"`

	NoEnrich          bool          `name:"no-enrich" help:"Skip website email and social extraction." env:"MAPHARVEST_NO_ENRICH"`
	VerifyMX          bool          `name:"verify-mx" help:"Keep only emails whose domain has MX records." env:"MAPHARVEST_VERIFY_MX"`
	RequestsPerSecond float64       `help:"Pace of website requests per processing actor; 0 is unpaced." default:"2" env:"MAPHARVEST_REQUESTS_PER_SECOND"`
	RedisAddr         string        `help:"Redis address for the contact cache." env:"MAPHARVEST_REDIS_ADDR"`
	RedisTTL          time.Duration `name:"redis-ttl" help:"Lifetime of cached contacts." default:"168h" env:"MAPHARVEST_REDIS_TTL"`

	KafkaBrokers string `help:"Comma-separated brokers to publish records to." env:"MAPHARVEST_KAFKA_BROKERS"`
	KafkaTopic   string `help:"Topic for published records." default:"mapharvest.businesses" env:"MAPHARVEST_KAFKA_TOPIC"`

	Geocode        bool    `help:"Center the map on the geocoded location before searching." default:"true" env:"MAPHARVEST_GEOCODE" negatable:""`
	WithinLocation bool    `help:"Drop records outside the geocoded location bounds." env:"MAPHARVEST_WITHIN_LOCATION"`
	WithinMargin   float64 `help:"Margin in degrees around the location bounds." default:"0.02" env:"MAPHARVEST_WITHIN_MARGIN"`

	TypeDelayMin  time.Duration `help:"Minimum per-character typing delay." default:"100ms" env:"MAPHARVEST_TYPE_DELAY_MIN"`
	TypeDelayMax  time.Duration `help:"Maximum per-character typing delay." default:"300ms" env:"MAPHARVEST_TYPE_DELAY_MAX"`
	ScrollSettle  time.Duration `help:"Base wait after each results scroll." default:"1500ms" env:"MAPHARVEST_SCROLL_SETTLE"`
	DetailSettle  time.Duration `help:"Wait after opening a listing." default:"1s" env:"MAPHARVEST_DETAIL_SETTLE"`
	MaxIdleCycles int           `help:"Scroll cycles without new results before the search ends." default:"3" env:"MAPHARVEST_MAX_IDLE_CYCLES"`
	QueueTimeout  time.Duration `help:"Bound on each queue put or get." default:"1s" env:"MAPHARVEST_QUEUE_TIMEOUT"`

	Debug bool `help:"Verbose logging." env:"MAPHARVEST_DEBUG"`
}

// Validate reports the first setting that cannot start a run.
func (s Settings) Validate() error {
	if s.Target < 1 {
		return fmt.Errorf("target must be at least 1, got %d", s.Target)
	}
	if s.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", s.Workers)
	}
	if s.TypeDelayMax < s.TypeDelayMin {
		return fmt.Errorf("type delay max %s is below min %s", s.TypeDelayMax, s.TypeDelayMin)
	}
	for _, f := range s.Formats {
		if !ValidFormat(f) {
			return fmt.Errorf("unsupported format: %s", f)
		}
	}
	if s.WithinLocation && !s.Geocode {
		return errors.New("within-location needs geocoding enabled")
	}
	return nil
}

// Params builds the harvest parameters for one query.
func (s Settings) Params(query, location string) model.SearchParams {
	return model.SearchParams{
		Query:       strings.TrimSpace(query),
		Location:    strings.TrimSpace(location),
		TargetCount: s.Target,
		Workers:     s.Workers,
		Timeout:     s.Timeout,
		Lang:        s.Lang,
	}
}

// HarvestConfig overlays the timing flags on the harvest defaults.
func (s Settings) HarvestConfig() harvest.Config {
	cfg := harvest.DefaultConfig()
	if s.TypeDelayMin > 0 {
		cfg.TypeDelayMin = s.TypeDelayMin
	}
	if s.TypeDelayMax > 0 {
		cfg.TypeDelayMax = s.TypeDelayMax
	}
	if s.ScrollSettle > 0 {
		cfg.ScrollSettleMin = s.ScrollSettle
		cfg.ScrollSettleMax = 2 * s.ScrollSettle
	}
	if s.DetailSettle >= 0 {
		cfg.DetailSettle = s.DetailSettle
	}
	if s.MaxIdleCycles > 0 {
		cfg.MaxIdleCycles = s.MaxIdleCycles
	}
	if s.QueueTimeout > 0 {
		cfg.QueueTimeout = s.QueueTimeout
	}
	return cfg
}

func (s Settings) ChromeOptions() browser.ChromeOptions {
	return browser.ChromeOptions{
		Headless: s.Headless,
		ExecPath: s.ChromePath,
		Lang:     s.Lang,
	}
}

// HasFormat reports whether name is among the requested export formats.
func (s Settings) HasFormat(name string) bool {
	for _, f := range s.Formats {
		if strings.EqualFold(strings.TrimSpace(f), name) {
			return true
		}
	}
	return false
}

// Path names a per-run file; every file of one run shares base.
func (s Settings) Path(base, ext string) string {
	return filepath.Join(s.OutputDir, base+"."+ext)
}
