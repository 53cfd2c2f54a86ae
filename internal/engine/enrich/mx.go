package enrich

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"
)

var defaultResolvers = []string{"8.8.8.8:53", "1.1.1.1:53"}

// MXVerifier accepts an address when its domain publishes MX records.
// Answers are cached per domain; when no resolver answers, addresses are accepted.
type MXVerifier struct {
	client  *dns.Client
	servers []string

	mu    sync.Mutex
	known map[string]bool
}

func NewMXVerifier(servers ...string) *MXVerifier {
	if len(servers) == 0 {
		servers = defaultResolvers
	}
	return &MXVerifier{
		client:  &dns.Client{Timeout: 3 * time.Second},
		servers: servers,
		known:   make(map[string]bool),
	}
}

func (v *MXVerifier) Verify(ctx context.Context, email string) bool {
	at := strings.LastIndexByte(email, '@')
	if at < 0 || at == len(email)-1 {
		return false
	}
	domain := strings.ToLower(email[at+1:])

	v.mu.Lock()
	ok, cached := v.known[domain]
	v.mu.Unlock()
	if cached {
		return ok
	}

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(domain), dns.TypeMX)
	msg.RecursionDesired = true

	for _, server := range v.servers {
		resp, _, err := v.client.ExchangeContext(ctx, msg, server)
		if err != nil || resp == nil {
			continue
		}
		ok := resp.Rcode == dns.RcodeSuccess && hasMX(resp.Answer)
		v.mu.Lock()
		v.known[domain] = ok
		v.mu.Unlock()
		return ok
	}
	return true
}

func hasMX(answers []dns.RR) bool {
	for _, rr := range answers {
		if _, ok := rr.(*dns.MX); ok {
			return true
		}
	}
	return false
}
