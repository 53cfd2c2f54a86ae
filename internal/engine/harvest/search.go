package harvest

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/rendis/mapharvest/internal/engine/browser"
	"github.com/rendis/mapharvest/internal/engine/listing"
	"github.com/rendis/mapharvest/internal/engine/retry"
	"github.com/rendis/mapharvest/internal/model"
)

// searcher drives the results feed and feeds work items to the processors.
// It owns its session and the set of names already queued.
type searcher struct {
	sess   browser.Session
	params model.SearchParams
	cfg    Config
	work   *Queue[model.WorkItem]
	state  *State
	stats  *Stats
	log    logrus.FieldLogger

	seen map[string]struct{}
	next int
}

// run submits the search and scans the feed. It returns the error that ended
// the search early; running out of results or time is not one.
func (s *searcher) run(ctx context.Context) (err error) {
	defer s.state.StopSearching()
	defer func() {
		if r := recover(); r != nil {
			s.stats.Errors.Add(1)
			s.log.WithField("panic", r).Error("search actor crashed")
			err = fmt.Errorf("search actor crashed: %v", r)
		}
	}()

	if err := s.submit(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		s.stats.Errors.Add(1)
		s.log.WithError(err).Error("search submission failed")
		return fmt.Errorf("submitting search %q: %w", s.params.SearchText(), err)
	}
	s.scan(ctx)
	return nil
}

// submit opens the maps page and types the search, starting over with fresh
// cookies on every failed attempt.
func (s *searcher) submit(ctx context.Context) error {
	policy := retry.Policy{
		MaxTries: s.cfg.SubmitAttempts,
		Backoff:  s.cfg.SubmitBackoff,
		OnRetry: func(attempt int, err error) {
			s.log.WithField("attempt", attempt+1).WithError(err).Warn("search submission failed, retrying")
			if cerr := s.sess.ClearCookies(ctx); cerr != nil {
				s.log.WithError(cerr).Debug("clearing cookies")
			}
		},
	}
	return retry.Do(ctx, policy, func(ctx context.Context, attempt int) error {
		return s.submitOnce(ctx)
	})
}

func (s *searcher) submitOnce(ctx context.Context) error {
	home := listing.HomeURL(s.params.Lang)
	if s.params.HasCenter() {
		home = listing.ViewportURL(s.params.Lang, s.params.CenterLat, s.params.CenterLng)
	}
	if err := s.sess.Navigate(ctx, home); err != nil {
		return fmt.Errorf("opening maps: %w", err)
	}
	if listing.DismissConsent(ctx, s.sess) {
		s.log.Debug("consent dialog dismissed")
	}

	box, err := waitFor(ctx, s.cfg, func(ctx context.Context) (browser.Element, error) {
		return s.sess.Find(ctx, listing.SearchBoxLocator)
	})
	if err != nil {
		return fmt.Errorf("search box: %w", err)
	}
	if err := s.sess.Click(ctx, box); err != nil {
		return fmt.Errorf("focusing search box: %w", err)
	}
	for _, r := range s.params.SearchText() {
		if err := s.sess.SendKeys(ctx, box, string(r)); err != nil {
			return fmt.Errorf("typing search: %w", err)
		}
		if err := retry.Sleep(ctx, retry.Between(s.cfg.TypeDelayMin, s.cfg.TypeDelayMax)); err != nil {
			return retry.Permanent(err)
		}
	}

	if button, err := s.sess.Find(ctx, listing.SearchButtonLocator); err == nil {
		if err := s.sess.Click(ctx, button); err != nil {
			return fmt.Errorf("submitting search: %w", err)
		}
	} else if err := s.sess.SendKeys(ctx, box, browser.KeyEnter); err != nil {
		return fmt.Errorf("submitting search: %w", err)
	}

	if _, err := waitFor(ctx, s.cfg, func(ctx context.Context) (browser.Element, error) {
		return listing.LocateResultsContainer(ctx, s.sess)
	}); err != nil {
		return err
	}
	s.log.WithField("query", s.params.SearchText()).Info("search submitted")
	return nil
}

// scan scrolls the feed until the target is met, the context ends or
// MaxIdleCycles consecutive cycles reveal nothing new.
func (s *searcher) scan(ctx context.Context) {
	idle := 0
	for cycle := 0; ; cycle++ {
		if ctx.Err() != nil || s.state.TargetReached() {
			return
		}

		found, err := s.cycle(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.WithField("cycle", cycle).WithError(err).Warn("scroll cycle failed")
		}
		if found > 0 {
			idle = 0
			continue
		}
		idle++
		s.log.WithFields(logrus.Fields{"cycle": cycle, "idle": idle, "seen": len(s.seen)}).Debug("no new listings")
		if idle >= s.cfg.MaxIdleCycles {
			s.log.WithField("seen", len(s.seen)).Info("results exhausted")
			return
		}
	}
}

// cycle scrolls the container to its end, waits for content and queues every
// newly seen name. It returns how many names were queued.
func (s *searcher) cycle(ctx context.Context) (int, error) {
	container, err := listing.LocateResultsContainer(ctx, s.sess)
	if err != nil {
		_ = retry.Sleep(ctx, retry.Between(s.cfg.ScrollSettleMin, s.cfg.ScrollSettleMax))
		return 0, err
	}
	height, err := s.sess.ScrollHeight(ctx, container)
	if err != nil {
		return 0, fmt.Errorf("reading feed height: %w", err)
	}
	if err := s.sess.SetScrollTop(ctx, container, height); err != nil {
		return 0, fmt.Errorf("scrolling feed: %w", err)
	}
	if err := retry.Sleep(ctx, retry.Between(s.cfg.ScrollSettleMin, s.cfg.ScrollSettleMax)); err != nil {
		return 0, err
	}

	entries, err := listing.ListNewEntries(ctx, s.sess, s.seen)
	if err != nil {
		return 0, err
	}
	queued := 0
	for _, e := range entries {
		s.seen[e.Name] = struct{}{}
		item := model.WorkItem{Name: e.Name, Index: s.next}
		s.next++
		if !s.enqueue(ctx, item) {
			return queued, ctx.Err()
		}
		queued++
		s.stats.Discovered.Add(1)
		s.log.WithFields(logrus.Fields{"name": item.Name, "index": item.Index}).Debug("listing queued")
	}
	return queued, nil
}

// enqueue blocks until item is queued. It gives up only when the harvest is over.
func (s *searcher) enqueue(ctx context.Context, item model.WorkItem) bool {
	for {
		err := s.work.Put(ctx, item, s.cfg.QueueTimeout)
		if err == nil {
			return true
		}
		if !errors.Is(err, ErrQueueTimeout) || s.state.TargetReached() {
			return false
		}
		s.log.WithField("name", item.Name).Debug("work queue full, waiting")
	}
}

// waitFor polls fn until it succeeds or FindTimeout passes.
func waitFor[T any](ctx context.Context, cfg Config, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.FindTimeout)
	defer cancel()
	for {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		if serr := retry.Sleep(ctx, cfg.PollInterval); serr != nil {
			var zero T
			return zero, err
		}
	}
}
