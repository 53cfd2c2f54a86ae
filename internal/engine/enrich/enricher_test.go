package enrich

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// fixtureFetcher serves canned pages by URL; unknown URLs return 404.
type fixtureFetcher struct {
	mu    sync.Mutex
	pages map[string]string
	err   error
	calls []string
}

func (f *fixtureFetcher) Get(ctx context.Context, rawURL string, _ http.Header, _ time.Duration) (*Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, rawURL)
	if f.err != nil {
		return nil, f.err
	}
	body, ok := f.pages[rawURL]
	if !ok {
		return &Response{StatusCode: http.StatusNotFound, URL: rawURL}, nil
	}
	return &Response{StatusCode: http.StatusOK, Body: []byte(body), URL: rawURL}, nil
}

func (f *fixtureFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func fastOptions() Options {
	return Options{Backoff: func(int) time.Duration { return 0 }}
}

func TestExtractEmailFromMailto(t *testing.T) {
	f := &fixtureFetcher{pages: map[string]string{
		"https://acme-bakery.test": `<html><body><a href="mailto:Info@Acme-Bakery.com?subject=Order">Email us</a></body></html>`,
	}}
	e := New(f, fastOptions())

	if got := e.ExtractEmail(context.Background(), "https://acme-bakery.test"); got != "info@acme-bakery.com" {
		t.Fatalf("ExtractEmail() = %q, want info@acme-bakery.com", got)
	}
}

func TestExtractEmailRejectsPlaceholders(t *testing.T) {
	f := &fixtureFetcher{pages: map[string]string{
		"https://placeholder.test": `<p>Write to test@example.com or admin@yourdomain.org</p><img src="logo@2x.png">`,
	}}
	e := New(f, fastOptions())

	if got := e.ExtractEmail(context.Background(), "https://placeholder.test"); got != "" {
		t.Fatalf("ExtractEmail() = %q, want none", got)
	}
	// main page plus every contact path, once per attempt
	if want := 3 * (1 + len(ContactPaths)); f.callCount() != want {
		t.Fatalf("fetches = %d, want %d", f.callCount(), want)
	}
}

func TestExtractEmailIsIdempotent(t *testing.T) {
	f := &fixtureFetcher{pages: map[string]string{
		"https://multi.test": `<p>sales@multi.test</p><p>support@multi.test</p><a href="mailto:owner@multi.test">x</a>`,
	}}
	e := New(f, fastOptions())

	first := e.ExtractEmail(context.Background(), "https://multi.test")
	for range 5 {
		if got := e.ExtractEmail(context.Background(), "https://multi.test"); got != first {
			t.Fatalf("ExtractEmail() = %q, then %q", first, got)
		}
	}
	if first != "owner@multi.test" {
		t.Fatalf("ExtractEmail() = %q, want the mailto target", first)
	}
}

func TestExtractEmailFetchesContactPages(t *testing.T) {
	f := &fixtureFetcher{pages: map[string]string{
		"https://hidden.test/shop":    `<p>Welcome</p>`,
		"https://hidden.test/contact": `<p>Reach us: hello [at] hidden (dot) test</p>`,
	}}
	e := New(f, fastOptions())

	if got := e.ExtractEmail(context.Background(), "hidden.test/shop"); got != "hello@hidden.test" {
		t.Fatalf("ExtractEmail() = %q, want hello@hidden.test", got)
	}
}

func TestExtractEmailFetchesContactPagesWhenHomeRefused(t *testing.T) {
	f := &fixtureFetcher{pages: map[string]string{
		"https://shop.test/contact": `<a href="mailto:orders@shop.test">Write to us</a>`,
	}}
	e := New(f, fastOptions())

	if got := e.ExtractEmail(context.Background(), "https://shop.test"); got != "orders@shop.test" {
		t.Fatalf("ExtractEmail() = %q after fetches %v", got, f.calls)
	}
	if f.calls[0] != "https://shop.test" || f.calls[1] != "https://shop.test/contact" {
		t.Fatalf("fetches = %v, want home page then /contact", f.calls)
	}
}

func TestExtractEmailNetworkFailure(t *testing.T) {
	f := &fixtureFetcher{err: errors.New("dial tcp: i/o timeout")}
	e := New(f, fastOptions())

	if got := e.ExtractEmail(context.Background(), "https://down.test"); got != "" {
		t.Fatalf("ExtractEmail() = %q, want none", got)
	}
	if f.callCount() != 3 {
		t.Fatalf("fetches = %d, want 3 attempts", f.callCount())
	}
}

func TestEnrichCollectsSocialProfiles(t *testing.T) {
	f := &fixtureFetcher{pages: map[string]string{
		"https://social.test": `
			<a href="https://www.facebook.com/socialcafe">fb</a>
			<a href="https://www.facebook.com/sharer/sharer.php?u=x">share</a>
			<a href="https://x.com/socialcafe">x</a>
			<a href="https://instagram.com/socialcafe/">ig</a>
			<p>hi@social.test</p>`,
	}}
	e := New(f, fastOptions())

	c := e.Enrich(context.Background(), "https://social.test")
	if c.Email != "hi@social.test" {
		t.Fatalf("Email = %q", c.Email)
	}
	want := map[string]string{
		"facebook":  "https://www.facebook.com/socialcafe",
		"twitter":   "https://x.com/socialcafe",
		"instagram": "https://instagram.com/socialcafe/",
	}
	if len(c.Social) != len(want) {
		t.Fatalf("Social = %v", c.Social)
	}
	for k, v := range want {
		if c.Social[k] != v {
			t.Fatalf("Social[%s] = %q, want %q", k, c.Social[k], v)
		}
	}
}

type rejectAll struct{}

func (rejectAll) Verify(context.Context, string) bool { return false }

func TestEnrichHonoursVerifier(t *testing.T) {
	f := &fixtureFetcher{pages: map[string]string{"https://mx.test": `<p>info@mx.test</p>`}}
	opts := fastOptions()
	opts.Verifier = rejectAll{}
	if got := New(f, opts).ExtractEmail(context.Background(), "https://mx.test"); got != "" {
		t.Fatalf("ExtractEmail() = %q, want none", got)
	}
}

func TestEnrichUsesCache(t *testing.T) {
	f := &fixtureFetcher{pages: map[string]string{"https://www.cached.test": `<p>desk@cached.test</p>`}}
	opts := fastOptions()
	opts.Cache = NewMemoryCache()
	e := New(f, opts)

	first := e.Enrich(context.Background(), "https://www.cached.test")
	calls := f.callCount()
	second := e.Enrich(context.Background(), "https://www.cached.test")
	if first.Email != "desk@cached.test" || second.Email != first.Email {
		t.Fatalf("first %q second %q", first.Email, second.Email)
	}
	if f.callCount() != calls {
		t.Fatalf("cached lookup fetched again")
	}
}

func TestEnrichTimeoutAgainstSlowSite(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	sess := NewSession(SessionOptions{MaxRetries: 1})
	opts := fastOptions()
	opts.PageTimeout = 50 * time.Millisecond
	e := New(sess, opts)

	start := time.Now()
	if got := e.ExtractEmail(context.Background(), srv.URL); got != "" {
		t.Fatalf("ExtractEmail() = %q, want none", got)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("enrichment took %v", elapsed)
	}
}

func TestNormalizeEmail(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"MAILTO:Info@Shop.COM?subject=hi", "info@shop.com", true},
		{"info%40shop.com", "info@shop.com", true},
		{"sales@shop.co.uk.", "sales@shop.co.uk", true},
		{"test@example.com", "", false},
		{"noreply@wordpress.org", "", false},
		{"user@localhost", "", false},
		{"not-an-email", "", false},
	}
	for _, tt := range tests {
		got, ok := NormalizeEmail(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("NormalizeEmail(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}
