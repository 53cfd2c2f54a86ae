package harvest

import (
	"time"

	"github.com/rendis/mapharvest/internal/engine/retry"
)

// Config holds the pacing and retry knobs of a harvest.
type Config struct {
	// Per-character typing delay when entering the search.
	TypeDelayMin, TypeDelayMax time.Duration
	// Wait after each scroll for lazy-loaded entries.
	ScrollSettleMin, ScrollSettleMax time.Duration
	// Wait after opening a listing before reading its fields.
	DetailSettle time.Duration
	// FindTimeout bounds every wait for an element to appear.
	FindTimeout  time.Duration
	PollInterval time.Duration

	// QueueTimeout bounds each blocking put/get; callers re-check their loop
	// condition and try again.
	QueueTimeout time.Duration
	// MaxIdleCycles ends the search after that many scroll cycles without new names.
	MaxIdleCycles int

	SubmitAttempts int
	SubmitBackoff  retry.Schedule
	LaunchAttempts int
	LaunchBackoff  retry.Schedule
	ClickAttempts  int
	ClickBackoff   retry.Schedule
	// ResolveScrolls bounds how far a processor scrolls its own feed looking for an item.
	ResolveScrolls int

	ShutdownGrace time.Duration
	ProgressEvery time.Duration
}

func DefaultConfig() Config {
	return Config{
		TypeDelayMin:    100 * time.Millisecond,
		TypeDelayMax:    300 * time.Millisecond,
		ScrollSettleMin: 1500 * time.Millisecond,
		ScrollSettleMax: 3 * time.Second,
		DetailSettle:    time.Second,
		FindTimeout:     10 * time.Second,
		PollInterval:    250 * time.Millisecond,
		QueueTimeout:    time.Second,
		MaxIdleCycles:   3,
		SubmitAttempts:  3,
		SubmitBackoff:   retry.Jittered(2*time.Second, 4*time.Second),
		LaunchAttempts:  3,
		LaunchBackoff:   retry.Jittered(2*time.Second, 4*time.Second),
		ClickAttempts:   3,
		ClickBackoff:    retry.Increasing(300*time.Millisecond, 600*time.Millisecond),
		ResolveScrolls:  10,
		ShutdownGrace:   5 * time.Second,
		ProgressEvery:   10 * time.Second,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.TypeDelayMax <= 0 && c.TypeDelayMin <= 0 {
		c.TypeDelayMin, c.TypeDelayMax = d.TypeDelayMin, d.TypeDelayMax
	}
	if c.ScrollSettleMax <= 0 && c.ScrollSettleMin <= 0 {
		c.ScrollSettleMin, c.ScrollSettleMax = d.ScrollSettleMin, d.ScrollSettleMax
	}
	if c.FindTimeout <= 0 {
		c.FindTimeout = d.FindTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.QueueTimeout <= 0 {
		c.QueueTimeout = d.QueueTimeout
	}
	if c.MaxIdleCycles <= 0 {
		c.MaxIdleCycles = d.MaxIdleCycles
	}
	if c.SubmitAttempts <= 0 {
		c.SubmitAttempts = d.SubmitAttempts
	}
	if c.SubmitBackoff == nil {
		c.SubmitBackoff = d.SubmitBackoff
	}
	if c.LaunchAttempts <= 0 {
		c.LaunchAttempts = d.LaunchAttempts
	}
	if c.LaunchBackoff == nil {
		c.LaunchBackoff = d.LaunchBackoff
	}
	if c.ClickAttempts <= 0 {
		c.ClickAttempts = d.ClickAttempts
	}
	if c.ClickBackoff == nil {
		c.ClickBackoff = d.ClickBackoff
	}
	if c.ResolveScrolls <= 0 {
		c.ResolveScrolls = d.ResolveScrolls
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = d.ShutdownGrace
	}
	if c.ProgressEvery <= 0 {
		c.ProgressEvery = d.ProgressEvery
	}
	return c
}
