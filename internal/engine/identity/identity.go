// Package identity supplies the outbound proxies and user agents each session presents.
package identity

import (
	"bufio"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"strings"
	"sync"
)

var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:133.0) Gecko/20100101 Firefox/133.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_7_1) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/18.1 Safari/605.1.15",
}

// Supplier cycles through proxies and hands out random user agents.
// It is safe for concurrent use.
type Supplier struct {
	mu         sync.Mutex
	proxies    []string
	next       int
	userAgents []string
}

// NewSupplier builds a supplier; an empty userAgents falls back to a built-in pool.
func NewSupplier(proxies, userAgents []string) *Supplier {
	if len(userAgents) == 0 {
		userAgents = defaultUserAgents
	}
	return &Supplier{proxies: proxies, userAgents: userAgents}
}

// LoadProxies reads one proxy per line, skipping blanks and # comments.
// Bare host:port entries get an http:// scheme.
func LoadProxies(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening proxies file: %w", err)
	}
	defer f.Close()
	return ParseProxies(f)
}

func ParseProxies(r io.Reader) ([]string, error) {
	var out []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !strings.Contains(line, "://") {
			line = "http://" + line
		}
		out = append(out, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading proxies: %w", err)
	}
	return out, nil
}

// NextProxy returns the next proxy in round-robin order, or "" when none are configured.
func (s *Supplier) NextProxy() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.proxies) == 0 {
		return ""
	}
	p := s.proxies[s.next%len(s.proxies)]
	s.next++
	return p
}

func (s *Supplier) UserAgent() string {
	return s.userAgents[rand.IntN(len(s.userAgents))]
}

func (s *Supplier) Proxies() int {
	return len(s.proxies)
}
