// Package enrich derives contact details for a business from its own website.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rendis/mapharvest/internal/engine/retry"
)

var errNoEmail = errors.New("no valid email found")

// Fetcher performs GET requests; *Session is the production implementation.
type Fetcher interface {
	Get(ctx context.Context, rawURL string, headers http.Header, timeout time.Duration) (*Response, error)
}

// Verifier confirms an address can receive mail.
type Verifier interface {
	Verify(ctx context.Context, email string) bool
}

// Cache remembers contacts per registrable domain across runs.
type Cache interface {
	Get(ctx context.Context, domain string) (Contact, bool)
	Set(ctx context.Context, domain string, c Contact)
}

// Contact is what enrichment learned about a business.
type Contact struct {
	Email  string            `json:"email,omitempty"`
	Social map[string]string `json:"social,omitempty"`
}

// Options tunes an Enricher. Zero values select the defaults.
type Options struct {
	MaxRetries int
	// Pace is the jittered pause before each attempt.
	PaceMin, PaceMax time.Duration
	// Backoff is the pause after a failed attempt.
	Backoff        retry.Schedule
	PageTimeout    time.Duration
	ContactTimeout time.Duration
	ContactPaths   []string
	Verifier       Verifier
	Cache          Cache
	Logger         logrus.FieldLogger
}

// Enricher extracts emails and social profiles from business websites.
// An Enricher is used by a single actor at a time.
type Enricher struct {
	fetch Fetcher
	opts  Options
}

func New(fetch Fetcher, opts Options) *Enricher {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.Backoff == nil {
		opts.Backoff = retry.Increasing(2*time.Second, 4*time.Second)
	}
	if opts.PageTimeout <= 0 {
		opts.PageTimeout = 10 * time.Second
	}
	if opts.ContactTimeout <= 0 {
		opts.ContactTimeout = 5 * time.Second
	}
	if opts.ContactPaths == nil {
		opts.ContactPaths = ContactPaths
	}
	if opts.Logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		opts.Logger = l
	}
	return &Enricher{fetch: fetch, opts: opts}
}

// ExtractEmail returns the first valid email found on the site, or "" when
// every attempt fails to produce one.
func (e *Enricher) ExtractEmail(ctx context.Context, website string) string {
	return e.Enrich(ctx, website).Email
}

// Enrich fetches the site and its conventional contact pages. Failures are
// logged and retried; exhaustion yields a Contact without an email.
func (e *Enricher) Enrich(ctx context.Context, website string) Contact {
	site, base, err := normalizeSite(website)
	if err != nil {
		e.opts.Logger.WithField("url", website).WithError(err).Debug("skipping enrichment")
		return Contact{}
	}

	domain, derr := RegistrableDomain(hostOf(site))
	if e.opts.Cache != nil && derr == nil {
		if c, ok := e.opts.Cache.Get(ctx, domain); ok {
			return c
		}
	}

	social := map[string]string{}
	policy := retry.Policy{
		MaxTries: e.opts.MaxRetries,
		Backoff:  e.opts.Backoff,
		OnRetry: func(attempt int, err error) {
			e.opts.Logger.WithFields(logrus.Fields{
				"url":     site,
				"attempt": attempt + 1,
			}).WithError(err).Debug("enrichment attempt failed")
		},
	}
	email, err := retry.Attempt(ctx, policy, func(ctx context.Context, attempt int) (string, error) {
		if err := retry.Sleep(ctx, retry.Between(e.opts.PaceMin, e.opts.PaceMax)); err != nil {
			return "", retry.Permanent(err)
		}
		return e.attempt(ctx, site, base, social)
	})
	if err != nil {
		e.opts.Logger.WithFields(logrus.Fields{
			"url":      site,
			"attempts": e.opts.MaxRetries,
		}).WithError(err).Info("no email found")
	}

	c := Contact{Email: email}
	if len(social) > 0 {
		c.Social = social
	}
	if e.opts.Cache != nil && derr == nil && (c.Email != "" || len(c.Social) > 0) {
		e.opts.Cache.Set(ctx, domain, c)
	}
	return c
}

func (e *Enricher) attempt(ctx context.Context, site, base string, social map[string]string) (string, error) {
	resp, err := e.fetch.Get(ctx, site, nil, e.opts.PageTimeout)
	if err != nil {
		return "", err
	}
	// A refused home page still leaves the contact pages to try.
	var homeErr error
	if resp.StatusCode != http.StatusOK {
		homeErr = &StatusError{StatusCode: resp.StatusCode, URL: site}
	} else if email, ok := e.pick(ctx, scanPage(resp.Body, resp.URL), social); ok {
		return email, nil
	}

	for _, path := range e.opts.ContactPaths {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		page := base + path
		resp, err := e.fetch.Get(ctx, page, nil, e.opts.ContactTimeout)
		if err != nil || resp.StatusCode != http.StatusOK {
			continue
		}
		if email, ok := e.pick(ctx, scanPage(resp.Body, resp.URL), social); ok {
			return email, nil
		}
	}
	if homeErr != nil {
		return "", homeErr
	}
	return "", errNoEmail
}

// pick merges the page's social links and returns its first acceptable email.
func (e *Enricher) pick(ctx context.Context, scan pageScan, social map[string]string) (string, bool) {
	for platform, link := range scan.social {
		if _, ok := social[platform]; !ok {
			social[platform] = link
		}
	}
	for _, email := range scan.emails {
		if e.opts.Verifier != nil && !e.opts.Verifier.Verify(ctx, email) {
			continue
		}
		return email, true
	}
	return "", false
}

// normalizeSite adds a scheme when missing and returns the site and its root.
func normalizeSite(raw string) (site, base string, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", "", errors.New("empty url")
	}
	if !strings.HasPrefix(strings.ToLower(raw), "http") {
		raw = "https://" + strings.TrimLeft(raw, "/")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("parsing %q: %w", raw, err)
	}
	if u.Host == "" {
		return "", "", fmt.Errorf("no host in %q", raw)
	}
	return u.String(), u.Scheme + "://" + u.Host, nil
}

func hostOf(site string) string {
	u, err := url.Parse(site)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
