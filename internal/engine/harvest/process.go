package harvest

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/rendis/mapharvest/internal/engine/browser"
	"github.com/rendis/mapharvest/internal/engine/enrich"
	"github.com/rendis/mapharvest/internal/engine/listing"
	"github.com/rendis/mapharvest/internal/engine/retry"
	"github.com/rendis/mapharvest/internal/model"
)

// Enricher derives contact details from a business website.
type Enricher interface {
	Enrich(ctx context.Context, website string) enrich.Contact
}

// processor turns work items into records using its own results page.
type processor struct {
	id       int
	sess     browser.Session
	enricher Enricher
	params   model.SearchParams
	cfg      Config
	work     *Queue[model.WorkItem]
	out      *Queue[model.Business]
	state    *State
	stats    *Stats
	log      logrus.FieldLogger

	ready   bool
	emitted int
	lastErr error
}

// run pulls work until the search is over and the queue is drained. A reached
// target ends the run through ctx. A processor that dropped every item it took
// returns the last extraction error.
func (p *processor) run(ctx context.Context) error {
	for ctx.Err() == nil {
		if !p.state.Searching() && p.work.Len() == 0 {
			break
		}
		item, ok := p.work.Get(ctx, p.cfg.QueueTimeout)
		if !ok {
			continue
		}
		p.handle(ctx, item)
	}
	if p.emitted == 0 && p.lastErr != nil && ctx.Err() == nil {
		return fmt.Errorf("worker-%d processed no listing: %w", p.id, p.lastErr)
	}
	return nil
}

// handle processes one item. Every failure stays inside this call.
func (p *processor) handle(ctx context.Context, item model.WorkItem) {
	log := p.log.WithFields(logrus.Fields{"name": item.Name, "index": item.Index})
	defer func() {
		if r := recover(); r != nil {
			p.stats.Errors.Add(1)
			log.WithField("panic", r).WithField("stack", string(debug.Stack())).Error("work item crashed")
		}
	}()

	b, err := p.extract(ctx, item)
	if err != nil {
		p.lastErr = err
		p.stats.Dropped.Add(1)
		if ctx.Err() == nil {
			log.WithError(err).Warn("listing dropped")
		}
		return
	}
	if !b.Valid() {
		p.stats.Dropped.Add(1)
		log.Debug("listing has no contact fields, discarded")
		return
	}
	if !p.emit(ctx, b) {
		return
	}
	p.emitted++
	p.stats.Processed.Add(1)
	n := p.state.RecordProcessed()
	log.WithField("processed", n).Info("listing processed")
}

func (p *processor) extract(ctx context.Context, item model.WorkItem) (model.Business, error) {
	if !p.ready {
		if err := p.prepare(ctx); err != nil {
			return model.Business{}, err
		}
	}

	el, err := p.resolve(ctx, item.Name)
	if err != nil {
		return model.Business{}, err
	}
	if err := p.open(ctx, el); err != nil {
		return model.Business{}, err
	}
	defer p.dismiss(ctx)

	if _, err := waitFor(ctx, p.cfg, func(ctx context.Context) (browser.Element, error) {
		return p.sess.Find(ctx, listing.DetailReadyLocator)
	}); err != nil {
		return model.Business{}, fmt.Errorf("detail view: %w", err)
	}
	if err := retry.Sleep(ctx, p.cfg.DetailSettle); err != nil {
		return model.Business{}, err
	}

	d := listing.ExtractDetails(ctx, p.sess)
	b := model.Business{
		Name:           item.Name,
		Address:        d.Address,
		URL:            d.Website,
		PhoneNumber:    d.Phone,
		ReviewsCount:   d.Reviews,
		ReviewsAverage: d.Rating,
		BusinessHours:  d.Hours,
		Categories:     d.Categories,
		GoogleURL:      d.PlaceURL,
		Query:          p.params.SearchText(),
	}
	if d.HasPoint {
		b.Lng, b.Lat = d.Point.X(), d.Point.Y()
	}

	if b.URL != "" && p.enricher != nil {
		contact := p.enricher.Enrich(ctx, b.URL)
		b.Email = contact.Email
		b.SocialMedia = contact.Social
		if b.Email != "" {
			p.stats.Emails.Add(1)
		}
	}
	return b, nil
}

// prepare opens this actor's own copy of the results feed.
func (p *processor) prepare(ctx context.Context) error {
	u := listing.SearchURL(p.params.SearchText(), p.params.Lang, p.params.CenterLat, p.params.CenterLng, p.params.HasCenter())
	if err := p.sess.Navigate(ctx, u); err != nil {
		return fmt.Errorf("opening results: %w", err)
	}
	listing.DismissConsent(ctx, p.sess)
	if _, err := waitFor(ctx, p.cfg, func(ctx context.Context) (browser.Element, error) {
		return listing.LocateResultsContainer(ctx, p.sess)
	}); err != nil {
		return err
	}
	p.ready = true
	return nil
}

// resolve finds name in the local feed, scrolling it further when the entry
// has not been loaded here yet.
func (p *processor) resolve(ctx context.Context, name string) (browser.Element, error) {
	for scroll := 0; ; scroll++ {
		el, err := listing.ResolveEntry(ctx, p.sess, name)
		if err == nil {
			return el, nil
		}
		if !errors.Is(err, browser.ErrNotFound) || scroll >= p.cfg.ResolveScrolls {
			return nil, err
		}
		container, cerr := listing.LocateResultsContainer(ctx, p.sess)
		if cerr != nil {
			p.ready = false
			return nil, cerr
		}
		height, herr := p.sess.ScrollHeight(ctx, container)
		if herr != nil {
			return nil, herr
		}
		if err := p.sess.SetScrollTop(ctx, container, height); err != nil {
			return nil, err
		}
		if err := retry.Sleep(ctx, retry.Between(p.cfg.ScrollSettleMin, p.cfg.ScrollSettleMax)); err != nil {
			return nil, err
		}
	}
}

// open clicks the entry, falling back from a script click to a pointer click.
func (p *processor) open(ctx context.Context, el browser.Element) error {
	policy := retry.Policy{
		MaxTries: p.cfg.ClickAttempts,
		Backoff:  p.cfg.ClickBackoff,
		OnRetry: func(attempt int, err error) {
			p.log.WithField("attempt", attempt+1).WithError(err).Debug("click failed")
		},
	}
	return retry.Do(ctx, policy, func(ctx context.Context, attempt int) error {
		_ = p.sess.ScrollIntoView(ctx, el)
		err := p.sess.Click(ctx, el)
		if err == nil {
			return nil
		}
		if perr := p.sess.PointerClick(ctx, el); perr != nil {
			return fmt.Errorf("clicking entry: %w", errors.Join(err, perr))
		}
		return nil
	})
}

// dismiss closes the detail view so the feed is back in front.
func (p *processor) dismiss(ctx context.Context) {
	if err := p.sess.SendKeys(ctx, nil, browser.KeyEscape); err != nil && ctx.Err() == nil {
		p.log.WithError(err).Debug("closing detail view")
	}
}

// emit hands b to the coordinator, waiting while the output queue is full.
func (p *processor) emit(ctx context.Context, b model.Business) bool {
	for {
		err := p.out.Put(ctx, b, p.cfg.QueueTimeout)
		if err == nil {
			return true
		}
		if !errors.Is(err, ErrQueueTimeout) {
			return false
		}
		p.log.WithField("name", strings.TrimSpace(b.Name)).Debug("output queue full, waiting")
	}
}
