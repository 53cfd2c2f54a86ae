package harvest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"github.com/rendis/mapharvest/internal/engine/browser"
	"github.com/rendis/mapharvest/internal/engine/browser/browsertest"
	"github.com/rendis/mapharvest/internal/engine/enrich"
	"github.com/rendis/mapharvest/internal/model"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func fastConfig() *Config {
	tick := func(int) time.Duration { return time.Millisecond }
	return &Config{
		TypeDelayMin:    time.Microsecond,
		TypeDelayMax:    time.Microsecond,
		ScrollSettleMin: time.Millisecond,
		ScrollSettleMax: 2 * time.Millisecond,
		FindTimeout:     200 * time.Millisecond,
		PollInterval:    5 * time.Millisecond,
		QueueTimeout:    20 * time.Millisecond,
		MaxIdleCycles:   3,
		SubmitBackoff:   tick,
		LaunchBackoff:   tick,
		ClickBackoff:    tick,
		ShutdownGrace:   time.Second,
		ProgressEvery:   time.Hour,
	}
}

func shop(letter rune) browsertest.Listing {
	return browsertest.Listing{
		Name:       fmt.Sprintf("Shop %c", letter),
		Address:    fmt.Sprintf("Calle %c 1, Madrid", letter),
		Phone:      "+34 910 000 000",
		Website:    fmt.Sprintf("https://shop-%c.test", letter),
		Rating:     "4,5",
		Reviews:    "(1,234)",
		Hours:      "Open 9 AM",
		Categories: []string{"Bakery"},
		PlaceURL:   "https://www.google.com/maps/place/Shop/data=!3d40.4168!4d-3.7038",
	}
}

func shops(n int) []browsertest.Listing {
	out := make([]browsertest.Listing, 0, n)
	for i := range n {
		out = append(out, shop(rune('A'+i)))
	}
	return out
}

func params(target, workers int, timeout time.Duration) model.SearchParams {
	return model.SearchParams{
		Query:       "bakery",
		Location:    "Madrid",
		TargetCount: target,
		Workers:     workers,
		Timeout:     timeout,
	}
}

func TestRunStopsAtTarget(t *testing.T) {
	sf := &browsertest.Surface{Listings: shops(5), Initial: 1, PerScroll: 1, FailClicks: 1}
	state := NewState(3)

	coll, err := Run(context.Background(), params(3, 2, 10*time.Second), Deps{Browsers: sf.Launcher()}, quietLogger(),
		&RunOptions{Config: fastConfig(), State: state})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if coll.Len() != 3 {
		t.Fatalf("collected %d records, want 3", coll.Len())
	}
	if state.Searching() {
		t.Fatal("searching still true after target reached")
	}
	if state.Processed() < 3 {
		t.Fatalf("processed = %d, want >= 3", state.Processed())
	}
	if got := sf.Submitted(); len(got) != 1 || got[0] != "bakery in Madrid" {
		t.Fatalf("submitted %q", got)
	}
	if open := sf.OpenSessions(); open != 0 {
		t.Fatalf("%d sessions left open", open)
	}
	for _, b := range coll.Snapshot() {
		if !b.Valid() {
			t.Fatalf("invalid record collected: %+v", b)
		}
		if b.ReviewsAverage != 4.5 || b.ReviewsCount != 1234 || b.Lat != 40.4168 || b.Lng != -3.7038 {
			t.Fatalf("details not extracted: %+v", b)
		}
		if b.Query != "bakery in Madrid" {
			t.Fatalf("Query = %q", b.Query)
		}
	}
}

func TestRunReachesTargetPastEarlyDuplicate(t *testing.T) {
	listings := shops(5)
	listings[1].Name = "Shop A Bakery"
	listings[1].Address = listings[0].Address
	sf := &browsertest.Surface{Listings: listings, Initial: 1, PerScroll: 1}
	stats := &Stats{}

	start := time.Now()
	coll, err := Run(context.Background(), params(3, 1, 10*time.Second), Deps{Browsers: sf.Launcher()}, quietLogger(),
		&RunOptions{Config: fastConfig(), Stats: stats})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("Run() took %s, waited out the timeout", elapsed)
	}
	var names []string
	for _, b := range coll.Snapshot() {
		names = append(names, b.Name)
	}
	if coll.Len() != 3 {
		t.Fatalf("collected %d records, want 3: %v", coll.Len(), names)
	}
	if stats.Duplicates.Load() != 1 {
		t.Fatalf("duplicates = %d, want 1", stats.Duplicates.Load())
	}
}

func TestRunEndsWhenResultsStopGrowing(t *testing.T) {
	sf := &browsertest.Surface{}
	cfg := fastConfig()
	cfg.MaxIdleCycles = 4

	start := time.Now()
	coll, err := Run(context.Background(), params(5, 1, 5*time.Second), Deps{Browsers: sf.Launcher()}, quietLogger(),
		&RunOptions{Config: cfg})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if coll.Len() != 0 {
		t.Fatalf("collected %d records from an empty feed", coll.Len())
	}
	if elapsed := time.Since(start); elapsed >= 5*time.Second {
		t.Fatalf("Run() waited for the timeout (%v) instead of finishing", elapsed)
	}
	if got := sf.ScrollCalls(); got != 4 {
		t.Fatalf("feed scrolled %d times, want 4", got)
	}
}

type timeoutFetcher struct{}

func (timeoutFetcher) Get(ctx context.Context, _ string, _ http.Header, _ time.Duration) (*enrich.Response, error) {
	return nil, context.DeadlineExceeded
}

func TestRunKeepsRecordWhenEnrichmentTimesOut(t *testing.T) {
	sf := &browsertest.Surface{Listings: shops(2), Initial: 2}
	deps := Deps{
		Browsers: sf.Launcher(),
		Enrichers: func(int) Enricher {
			return enrich.New(timeoutFetcher{}, enrich.Options{Backoff: func(int) time.Duration { return 0 }})
		},
	}

	coll, err := Run(context.Background(), params(2, 1, 10*time.Second), deps, quietLogger(), &RunOptions{Config: fastConfig()})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if coll.Len() != 2 {
		t.Fatalf("collected %d records, want 2", coll.Len())
	}
	for _, b := range coll.Snapshot() {
		if b.Email != "" {
			t.Fatalf("Email = %q, want none", b.Email)
		}
		if b.Address == "" || b.PhoneNumber == "" || b.URL == "" || b.BusinessHours == "" || len(b.Categories) != 1 {
			t.Fatalf("fields missing: %+v", b)
		}
	}
}

type fixedEnricher struct{}

func (fixedEnricher) Enrich(_ context.Context, website string) enrich.Contact {
	return enrich.Contact{Email: "info@" + website[len("https://"):], Social: map[string]string{"facebook": "https://facebook.com/shop"}}
}

func TestRunDeduplicatesAndReportsProgress(t *testing.T) {
	listings := shops(3)
	branch := shop('A')
	branch.Name = "Shop A Centro"
	kiosk := browsertest.Listing{Name: "Closed Kiosk"}
	listings = append(listings, branch, kiosk)
	sf := &browsertest.Surface{Listings: listings, Initial: len(listings)}

	var counts []int
	var accepted []string
	opts := &RunOptions{
		Config:     fastConfig(),
		OnRecord:   func(b model.Business) { accepted = append(accepted, b.Name) },
		OnProgress: func(p model.Progress) {
			counts = append(counts, p.Count)
			if len(p.Snapshot) != p.Count {
				t.Errorf("snapshot has %d records at count %d", len(p.Snapshot), p.Count)
			}
		},
	}
	deps := Deps{Browsers: sf.Launcher(), Enrichers: func(int) Enricher { return fixedEnricher{} }}

	coll, err := Run(context.Background(), params(10, 2, 10*time.Second), deps, quietLogger(), opts)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if coll.Len() != 3 {
		t.Fatalf("collected %d records, want 3: %v", coll.Len(), accepted)
	}
	for i, c := range counts {
		if c != i+1 {
			t.Fatalf("progress counts %v are not increasing by one", counts)
		}
	}
	for _, b := range coll.Snapshot() {
		if b.Name == "Closed Kiosk" {
			t.Fatal("record without contact fields collected")
		}
		if b.Email == "" || b.SocialMedia["facebook"] == "" {
			t.Fatalf("enrichment not applied: %+v", b)
		}
	}
}

func TestRunReturnsWithinTimeoutWhenActorsHang(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	sf := &browsertest.Surface{Listings: shops(3), Initial: 3, Block: block}
	cfg := fastConfig()
	cfg.ShutdownGrace = 200 * time.Millisecond

	start := time.Now()
	coll, err := Run(context.Background(), params(3, 1, 300*time.Millisecond), Deps{Browsers: sf.Launcher()}, quietLogger(),
		&RunOptions{Config: cfg})
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if coll.Len() != 0 {
		t.Fatalf("collected %d records", coll.Len())
	}
	if elapsed > 2*time.Second {
		t.Fatalf("Run() took %v with a 300ms timeout", elapsed)
	}
	if open := sf.OpenSessions(); open != 0 {
		t.Fatalf("%d sessions left open", open)
	}
}

func TestRunFailsWithoutSessions(t *testing.T) {
	sf := &browsertest.Surface{Listings: shops(1), FailLaunches: 100}

	_, err := Run(context.Background(), params(1, 2, time.Second), Deps{Browsers: sf.Launcher()}, quietLogger(),
		&RunOptions{Config: fastConfig()})
	if !errors.Is(err, ErrNoSessions) {
		t.Fatalf("Run() error = %v, want ErrNoSessions", err)
	}
}

func TestRunNeedsASessionPerRole(t *testing.T) {
	// Slot 0 launches, then every other attempt fails: one session is not enough.
	sf := &browsertest.Surface{Listings: shops(1)}
	launch := sf.Launcher()
	calls := 0
	deps := Deps{Browsers: func(ctx context.Context, slot int) (browser.Session, error) {
		calls++
		if slot > 0 {
			return nil, errors.New("chrome crashed")
		}
		return launch(ctx, slot)
	}}

	_, err := Run(context.Background(), params(1, 1, time.Second), deps, quietLogger(), &RunOptions{Config: fastConfig()})
	if !errors.Is(err, ErrNoSessions) {
		t.Fatalf("Run() error = %v, want ErrNoSessions", err)
	}
	if calls != 1+3 {
		t.Fatalf("launcher called %d times, want 4", calls)
	}
	if open := sf.OpenSessions(); open != 0 {
		t.Fatalf("%d sessions left open", open)
	}
}

func TestRunCancelled(t *testing.T) {
	sf := &browsertest.Surface{Listings: shops(3), Initial: 0}
	cfg := fastConfig()
	cfg.MaxIdleCycles = 1 << 20

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := Run(ctx, params(3, 1, 10*time.Second), Deps{Browsers: sf.Launcher()}, quietLogger(), &RunOptions{Config: cfg})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run() error = %v, want the context error", err)
	}
}

func TestRunLogsFailedSearchActor(t *testing.T) {
	sf := &browsertest.Surface{Listings: shops(2), Initial: 2, FailSubmissions: 100}
	logger, hook := logtest.NewNullLogger()

	coll, err := Run(context.Background(), params(2, 1, 10*time.Second), Deps{Browsers: sf.Launcher()}, logger,
		&RunOptions{Config: fastConfig()})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if coll.Len() != 0 {
		t.Fatalf("collected %d records without a search", coll.Len())
	}

	var failure *logrus.Entry
	for _, e := range hook.AllEntries() {
		if e.Message == "harvest actor failed" {
			failure = e
		}
	}
	if failure == nil {
		t.Fatal("actor failure not logged")
	}
	if got := fmt.Sprint(failure.Data[logrus.ErrorKey]); !strings.Contains(got, "submitting search") {
		t.Fatalf("logged error = %q", got)
	}
}
