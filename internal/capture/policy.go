// Package capture decides whether a navigation should be recorded at all.
// It runs in front of the engine: a denied visit is never submitted, so the
// engine itself stores whatever it is given.
package capture

import (
	"fmt"
	"net/url"
	"regexp"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/runnerr0/trail/internal/config"
)

// Reason explains a denial.
type Reason string

const (
	ReasonIncognito     Reason = "incognito"
	ReasonScheme        Reason = "ignored_scheme"
	ReasonNotAllowed    Reason = "not_in_allowlist"
	ReasonDeniedDomain  Reason = "denied_domain"
	ReasonDeniedPattern Reason = "denied_pattern"
	ReasonDuplicate     Reason = "duplicate"
)

// Decision is the outcome of Check. Reason is empty when Record is true.
// Category names the built-in group for denials from the default denylist.
type Decision struct {
	Record   bool
	Reason   Reason
	Category string
}

// maxTracked bounds the dedupe table. When it fills, expired entries are
// swept first, then the oldest tenth is evicted if that was not enough.
const maxTracked = 10000

// Policy applies the capture section of the config. It is safe for
// concurrent use.
type Policy struct {
	excludeIncognito bool
	schemes          map[string]struct{}
	builtin          bool
	allow            []string
	deny             []string
	patterns         []*regexp.Regexp
	dedupe           time.Duration

	mu       sync.Mutex
	lastSeen map[string]time.Time
	capacity int
}

// NewPolicy builds a Policy from cfg. The curated default denylist is added
// when cfg.UseDefaultDenylist is set.
func NewPolicy(cfg config.CaptureConfig) (*Policy, error) {
	p := &Policy{
		excludeIncognito: cfg.ExcludeIncognito,
		builtin:          cfg.UseDefaultDenylist,
		schemes:          make(map[string]struct{}, len(cfg.IgnoredSchemes)),
		dedupe:           time.Duration(cfg.DedupeIntervalSeconds) * time.Second,
		lastSeen:         make(map[string]time.Time),
		capacity:         maxTracked,
	}

	for _, s := range cfg.IgnoredSchemes {
		p.schemes[strings.ToLower(s)] = struct{}{}
	}
	for _, d := range cfg.AllowlistDomains {
		p.allow = append(p.allow, normalizeDomain(d))
	}

	for _, d := range cfg.DenylistDomains {
		p.deny = append(p.deny, normalizeDomain(d))
	}

	for _, expr := range cfg.DenylistRegex {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("compile denylist pattern %q: %w", expr, err)
		}
		p.patterns = append(p.patterns, re)
	}

	return p, nil
}

// Check reports whether a visit to rawURL should be recorded. URLs that do
// not parse are let through so the engine can reject them with a proper
// validation error.
func (p *Policy) Check(rawURL string, incognito bool, now time.Time) Decision {
	if incognito && p.excludeIncognito {
		return deny(ReasonIncognito)
	}

	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return Decision{Record: true}
	}

	if _, ignored := p.schemes[strings.ToLower(u.Scheme)]; ignored {
		return deny(ReasonScheme)
	}

	host := strings.ToLower(u.Hostname())
	if len(p.allow) > 0 && !matchesAny(host, p.allow) {
		return deny(ReasonNotAllowed)
	}
	if p.builtin {
		if c, ok := SensitiveCategory(host); ok {
			return Decision{Reason: ReasonDeniedDomain, Category: c}
		}
	}
	if matchesAny(host, p.deny) {
		return deny(ReasonDeniedDomain)
	}
	for _, re := range p.patterns {
		if re.MatchString(rawURL) {
			return deny(ReasonDeniedPattern)
		}
	}

	if p.dedupe > 0 && p.seenRecently(u.String(), now) {
		return deny(ReasonDuplicate)
	}

	return Decision{Record: true}
}

func deny(r Reason) Decision {
	return Decision{Reason: r}
}

// seenRecently records now as the last sighting of key and reports whether
// the previous sighting was within the dedupe interval.
func (p *Policy) seenRecently(key string, now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	last, ok := p.lastSeen[key]
	if ok && now.Sub(last) < p.dedupe && !now.Before(last) {
		return true
	}

	if len(p.lastSeen) >= p.capacity {
		p.evict(now)
	}
	p.lastSeen[key] = now
	return false
}

// evict drops expired entries, then the oldest ones until the table is at
// most nine tenths full. Callers hold mu.
func (p *Policy) evict(now time.Time) {
	for k, ts := range p.lastSeen {
		if now.Sub(ts) >= p.dedupe {
			delete(p.lastSeen, k)
		}
	}

	target := p.capacity - p.capacity/10 - 1
	if len(p.lastSeen) <= target {
		return
	}

	keys := make([]string, 0, len(p.lastSeen))
	for k := range p.lastSeen {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b string) int {
		return p.lastSeen[a].Compare(p.lastSeen[b])
	})
	for _, k := range keys[:len(keys)-target] {
		delete(p.lastSeen, k)
	}
}

// matchesAny reports whether host equals one of domains or is a subdomain
// of one.
func matchesAny(host string, domains []string) bool {
	if host == "" {
		return false
	}
	for _, d := range domains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

func normalizeDomain(d string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(d)), ".")
}
