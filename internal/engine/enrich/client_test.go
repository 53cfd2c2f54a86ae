package enrich

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

type fixedUA string

func (u fixedUA) UserAgent() string { return string(u) }

func TestSessionRetriesTransientStatus(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	s := NewSession(SessionOptions{MaxRetries: 3, BackoffFactor: time.Millisecond})
	resp, err := s.Get(context.Background(), srv.URL, nil, time.Second)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if resp.StatusCode != http.StatusOK || string(resp.Body) != "ok" {
		t.Fatalf("Get() = %d %q", resp.StatusCode, resp.Body)
	}
	if hits.Load() != 3 {
		t.Fatalf("server hit %d times, want 3", hits.Load())
	}
}

func TestSessionGivesUpOnPersistentStatus(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	s := NewSession(SessionOptions{MaxRetries: 2, BackoffFactor: time.Millisecond})
	_, err := s.Get(context.Background(), srv.URL, nil, time.Second)

	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusTooManyRequests || !se.Retryable() {
		t.Fatalf("Get() error = %v, want retryable 429", err)
	}
	if hits.Load() != 2 {
		t.Fatalf("server hit %d times, want 2", hits.Load())
	}
}

func TestSessionPassesThroughClientErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	s := NewSession(SessionOptions{BackoffFactor: time.Millisecond})
	resp, err := s.Get(context.Background(), srv.URL+"/missing", nil, time.Second)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound || hits.Load() != 1 {
		t.Fatalf("status %d after %d hits", resp.StatusCode, hits.Load())
	}
}

func TestSessionSendsBrowserHeaders(t *testing.T) {
	var ua, lang, cookie string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/again" {
			if c, err := r.Cookie("sid"); err == nil {
				cookie = c.Value
			}
			return
		}
		ua = r.Header.Get("User-Agent")
		lang = r.Header.Get("Accept-Language")
		http.SetCookie(w, &http.Cookie{Name: "sid", Value: "abc", Path: "/"})
	}))
	defer srv.Close()

	s := NewSession(SessionOptions{UserAgents: fixedUA("mapharvest-test/1.0"), Lang: "es"})
	if _, err := s.Get(context.Background(), srv.URL, nil, time.Second); err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if ua != "mapharvest-test/1.0" || lang != "es" {
		t.Fatalf("headers UA=%q lang=%q", ua, lang)
	}

	if _, err := s.Get(context.Background(), srv.URL+"/again", nil, time.Second); err != nil {
		t.Fatalf("second Get() error: %v", err)
	}
	if cookie != "abc" {
		t.Fatalf("cookie not replayed, got %q", cookie)
	}
}
