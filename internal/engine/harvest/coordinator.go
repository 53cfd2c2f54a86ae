// Package harvest runs the search actor and the processing pool against live
// map sessions and collects their records.
package harvest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/rendis/mapharvest/internal/engine/browser"
	"github.com/rendis/mapharvest/internal/engine/retry"
	"github.com/rendis/mapharvest/internal/model"
)

// ErrNoSessions is returned when not enough browser sessions could be started
// to run one search actor and at least one processor.
var ErrNoSessions = errors.New("no browser sessions available")

const DefaultTimeout = 300 * time.Second

// Deps are the session factories a harvest draws from.
type Deps struct {
	Browsers browser.Launcher
	// Enrichers builds the HTTP-backed enricher of a processing slot. Nil
	// disables enrichment.
	Enrichers func(slot int) Enricher
}

// RunOptions provides optional callbacks and shared counters.
type RunOptions struct {
	// OnProgress is called after every accepted record, from the draining goroutine.
	OnProgress func(model.Progress)
	// OnRecord is called with each accepted record before OnProgress.
	OnRecord func(model.Business)
	// Stats allows passing an external Stats object for live progress tracking.
	Stats *Stats
	// State exposes the shared actor state to the caller.
	State  *State
	Config *Config
	RunID  string
}

// Run is the harvest entry point. It returns the records collected before the
// target, the timeout or the end of the results, whichever comes first. Only a
// failure to start sessions is reported as an error; a cancelled ctx returns
// the partial collection together with ctx.Err().
func Run(ctx context.Context, params model.SearchParams, deps Deps, logger *logrus.Logger, opts *RunOptions) (*model.Collection, error) {
	if opts == nil {
		opts = &RunOptions{}
	}
	cfg := DefaultConfig()
	if opts.Config != nil {
		cfg = opts.Config.withDefaults()
	}
	stats := opts.Stats
	if stats == nil {
		stats = &Stats{}
	}
	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	if params.Workers < 1 {
		params.Workers = 1
	}
	if params.Timeout <= 0 {
		params.Timeout = DefaultTimeout
	}
	log := logger.WithField("run", runID)

	state := opts.State
	if state == nil {
		state = NewState(params.TargetCount)
	}
	coll := model.NewCollection(params.TargetCount)

	sessions, err := acquire(ctx, deps.Browsers, params.Workers+1, cfg, log)
	if err != nil {
		return coll, err
	}
	stats.Sessions.Store(int64(len(sessions)))
	log.WithFields(logrus.Fields{
		"query":    params.SearchText(),
		"target":   params.TargetCount,
		"sessions": len(sessions),
		"timeout":  params.Timeout,
	}).Info("harvest started")

	capacity := params.TargetCount * 2
	if capacity < 2*len(sessions) {
		capacity = 2 * len(sessions)
	}
	work := NewQueue[model.WorkItem](capacity)
	out := NewQueue[model.Business](capacity)

	actorCtx, cancelActors := context.WithCancel(ctx)
	defer cancelActors()

	// The group is a join point only: one actor failing must not cancel the others.
	var actors errgroup.Group
	actorsDone := make(chan struct{})

	s := &searcher{
		sess:   sessions[0],
		params: params,
		cfg:    cfg,
		work:   work,
		state:  state,
		stats:  stats,
		log:    log.WithField("actor", "search"),
		seen:   make(map[string]struct{}),
	}
	actors.Go(func() error { return s.run(actorCtx) })

	for i, sess := range sessions[1:] {
		p := &processor{
			id:     i,
			sess:   sess,
			params: params,
			cfg:    cfg,
			work:   work,
			out:    out,
			state:  state,
			stats:  stats,
			log:    log.WithField("actor", fmt.Sprintf("worker-%d", i)),
		}
		if deps.Enrichers != nil {
			p.enricher = deps.Enrichers(i)
		}
		actors.Go(func() error { return p.run(actorCtx) })
	}
	go func() {
		defer close(actorsDone)
		if err := actors.Wait(); err != nil {
			log.WithError(err).Error("harvest actor failed")
		}
	}()

	stopReporter := startReporter(stats, state, cfg.ProgressEvery, log)

	exhausted := func() bool {
		select {
		case <-actorsDone:
			return work.Len() == 0 && out.Len() == 0
		default:
			return false
		}
	}

	drainCtx, cancelDrain := context.WithTimeout(ctx, params.Timeout)
	defer cancelDrain()

	reason := "exhausted"
	for {
		if drainCtx.Err() != nil {
			reason = "timeout"
			if ctx.Err() != nil {
				reason = "cancelled"
			}
			break
		}
		b, ok := out.Get(drainCtx, cfg.PollInterval)
		if !ok {
			if exhausted() {
				break
			}
			continue
		}
		if !coll.Accept(b) {
			stats.Duplicates.Add(1)
			log.WithField("name", b.Name).Debug("duplicate record skipped")
			continue
		}
		stats.Accepted.Add(1)
		state.RecordAccepted()
		if opts.OnRecord != nil {
			opts.OnRecord(b)
		}
		if opts.OnProgress != nil {
			opts.OnProgress(model.Progress{Count: coll.Len(), Name: b.Name, Snapshot: coll.Snapshot()})
		}
		if state.TargetReached() {
			reason = "target"
			break
		}
	}

	stopReporter()
	teardown(sessions, cancelActors, actorsDone, cfg.ShutdownGrace, log)

	log.WithFields(logrus.Fields{
		"reason":     reason,
		"records":    coll.Len(),
		"discovered": stats.Discovered.Load(),
		"dropped":    stats.Dropped.Load(),
		"duplicates": stats.Duplicates.Load(),
		"emails":     stats.Emails.Load(),
	}).Info("harvest finished")

	if err := ctx.Err(); err != nil {
		return coll, err
	}
	return coll, nil
}

// acquire starts n browser sessions with bounded retries per slot. Fewer than two
// usable sessions is fatal.
func acquire(ctx context.Context, launch browser.Launcher, n int, cfg Config, log logrus.FieldLogger) ([]browser.Session, error) {
	if launch == nil {
		return nil, fmt.Errorf("%w: no launcher configured", ErrNoSessions)
	}
	var sessions []browser.Session
	for slot := range n {
		policy := retry.Policy{
			MaxTries: cfg.LaunchAttempts,
			Backoff:  cfg.LaunchBackoff,
			OnRetry: func(attempt int, err error) {
				log.WithFields(logrus.Fields{"slot": slot, "attempt": attempt + 1}).WithError(err).Warn("browser launch failed, retrying")
			},
		}
		sess, err := retry.Attempt(ctx, policy, func(ctx context.Context, attempt int) (browser.Session, error) {
			return launch(ctx, slot)
		})
		if err != nil {
			log.WithField("slot", slot).WithError(err).Error("browser session unavailable")
			if ctx.Err() != nil {
				break
			}
			continue
		}
		sessions = append(sessions, sess)
	}
	if len(sessions) < 2 {
		for _, s := range sessions {
			_ = s.Close()
		}
		return nil, fmt.Errorf("%w: started %d of %d", ErrNoSessions, len(sessions), n)
	}
	return sessions, nil
}

// teardown stops the actors, closes every session and waits for the actors
// only up to grace.
func teardown(sessions []browser.Session, cancel context.CancelFunc, actorsDone <-chan struct{}, grace time.Duration, log logrus.FieldLogger) {
	cancel()

	var wg sync.WaitGroup
	for i, s := range sessions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Close(); err != nil {
				log.WithField("slot", i).WithError(err).Debug("closing session")
			}
		}()
	}
	closed := make(chan struct{})
	go func() {
		wg.Wait()
		close(closed)
	}()

	t := time.NewTimer(grace)
	defer t.Stop()
	for _, ch := range []<-chan struct{}{closed, actorsDone} {
		select {
		case <-ch:
		case <-t.C:
			log.Warn("actors still running after shutdown grace period")
			return
		}
	}
}

// startReporter logs the counters periodically until the returned func is called.
func startReporter(stats *Stats, state *State, every time.Duration, log logrus.FieldLogger) func() {
	done := make(chan struct{})
	start := time.Now()
	go func() {
		t := time.NewTicker(every)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				log.WithFields(logrus.Fields{
					"discovered": stats.Discovered.Load(),
					"processed":  stats.Processed.Load(),
					"accepted":   stats.Accepted.Load(),
					"dropped":    stats.Dropped.Load(),
					"errors":     stats.Errors.Load(),
					"searching":  state.Searching(),
					"elapsed":    time.Since(start).Truncate(time.Second),
				}).Info("progress")
			case <-done:
				return
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}
