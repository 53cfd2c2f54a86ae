package enrich

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	utls "github.com/refraction-networking/utls"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"

	"github.com/rendis/mapharvest/internal/engine/retry"
)

const (
	defaultPoolSize      = 10
	defaultMaxRetries    = 3
	defaultBackoffFactor = 500 * time.Millisecond
	maxBackoff           = 8 * time.Second
	jitterFactor         = 0.25
	maxBodyBytes         = 2 << 20
)

// StatusError reports a response status the session did not accept.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.StatusCode, e.URL)
}

// Retryable reports whether the status is a transient server or rate-limit condition.
func (e *StatusError) Retryable() bool {
	return retryableStatus(e.StatusCode)
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Body       []byte
	URL        string
}

// UserAgents supplies the user agent presented on each request.
type UserAgents interface {
	UserAgent() string
}

// SessionOptions configures an HTTP session.
type SessionOptions struct {
	Proxy      string
	UserAgents UserAgents
	Lang       string
	// PoolSize bounds idle and active connections per host.
	PoolSize int
	// MaxRetries is the number of attempts made for transient failures.
	MaxRetries int
	// BackoffFactor is the first retry delay; later ones double.
	BackoffFactor time.Duration
	// RequestsPerSecond paces outbound requests; 0 disables pacing.
	RequestsPerSecond float64
}

// Session is an HTTP client owned by one processing actor. It presents a Chrome
// TLS fingerprint, keeps cookies across requests and retries transient failures.
type Session struct {
	http    *http.Client
	uas     UserAgents
	lang    string
	limiter *rate.Limiter
	policy  retry.Policy
}

func NewSession(opts SessionOptions) *Session {
	jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})

	pool := opts.PoolSize
	if pool <= 0 {
		pool = defaultPoolSize
	}
	tries := opts.MaxRetries
	if tries <= 0 {
		tries = defaultMaxRetries
	}
	factor := opts.BackoffFactor
	if factor <= 0 {
		factor = defaultBackoffFactor
	}

	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		DialTLSContext:      chromeTLSDialer(dialer),
		MaxIdleConns:        pool,
		MaxIdleConnsPerHost: pool,
		MaxConnsPerHost:     pool,
		IdleConnTimeout:     90 * time.Second,
	}

	if opts.Proxy != "" {
		if proxyURL, err := url.Parse(opts.Proxy); err == nil {
			transport.Proxy = http.ProxyURL(proxyURL)
			// Through a proxy the tunnel carries standard TLS.
			transport.DialTLSContext = nil
			transport.TLSClientConfig = &tls.Config{}
		}
	}

	s := &Session{
		http: &http.Client{
			Transport: transport,
			Jar:       jar,
		},
		uas:  opts.UserAgents,
		lang: opts.Lang,
		policy: retry.Policy{
			MaxTries: tries,
			Backoff:  retry.Exponential(factor, maxBackoff, jitterFactor),
		},
	}
	if opts.RequestsPerSecond > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	return s
}

func chromeTLSDialer(dialer *net.Dialer) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := dialer.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}

		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			host = addr
		}

		// Chrome hello with HTTP/1.1 ALPN, since the transport does not speak h2 over utls.
		spec, err := utls.UTLSIdToSpec(utls.HelloChrome_Auto)
		if err != nil {
			conn.Close()
			return nil, err
		}
		for i, ext := range spec.Extensions {
			if alpn, ok := ext.(*utls.ALPNExtension); ok {
				alpn.AlpnProtocols = []string{"http/1.1"}
				spec.Extensions[i] = alpn
				break
			}
		}

		tlsConn := utls.UClient(conn, &utls.Config{ServerName: host}, utls.HelloCustom)
		if err := tlsConn.ApplyPreset(&spec); err != nil {
			conn.Close()
			return nil, err
		}
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, err
		}
		return tlsConn, nil
	}
}

// Get fetches rawURL, retrying transport errors and 429/500/502/503/504 responses.
// Other statuses are returned as-is. timeout bounds each individual request.
func (s *Session) Get(ctx context.Context, rawURL string, headers http.Header, timeout time.Duration) (*Response, error) {
	return retry.Attempt(ctx, s.policy, func(ctx context.Context, attempt int) (*Response, error) {
		resp, err := s.do(ctx, rawURL, headers, timeout)
		if err != nil {
			return nil, err
		}
		if retryableStatus(resp.StatusCode) {
			return nil, &StatusError{StatusCode: resp.StatusCode, URL: rawURL}
		}
		return resp, nil
	})
}

func (s *Session) do(ctx context.Context, rawURL string, headers http.Header, timeout time.Duration) (*Response, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, retry.Permanent(err)
		}
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("building request: %w", err))
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if req.Header.Get("User-Agent") == "" && s.uas != nil {
		req.Header.Set("User-Agent", s.uas.UserAgent())
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	}
	if req.Header.Get("Accept-Language") == "" && s.lang != "" {
		req.Header.Set("Accept-Language", s.lang)
	}
	req.Header.Set("Accept-Encoding", "identity")

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}
	return &Response{StatusCode: resp.StatusCode, Body: body, URL: resp.Request.URL.String()}, nil
}
