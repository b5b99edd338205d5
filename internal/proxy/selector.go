package proxy

import (
	"fmt"
	"math/rand/v2"
	"net/url"
	"strings"

	"github.com/ligun0805/warden-keeper/internal/textfile"
)

// Selector hands out one proxy per outbound request.
// The pool is fixed after construction; Select is safe for concurrent use.
type Selector struct {
	enabled bool
	pool    []*url.URL
	intn    func(n int) int
}

// New builds a selector over already parsed endpoints.
func New(enabled bool, pool []*url.URL) *Selector {
	cp := make([]*url.URL, len(pool))
	copy(cp, pool)
	return &Selector{enabled: enabled, pool: cp, intn: rand.IntN}
}

// Load parses proxy lines (http://user:pass@ip:port or ip:port).
// Lines that do not parse are reported through logf and skipped.
func Load(enabled bool, lines []textfile.Line, logf func(string, ...any)) *Selector {
	pool := make([]*url.URL, 0, len(lines))
	for _, l := range lines {
		u, err := Parse(l.Text)
		if err != nil {
			if logf != nil {
				logf("[proxy] line %d skipped: %v", l.No, err)
			}
			continue
		}
		pool = append(pool, u)
	}
	return New(enabled, pool)
}

// Parse accepts a proxy URI; a missing scheme means http.
func Parse(s string) (*url.URL, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty proxy")
	}
	if !strings.Contains(s, "://") {
		s = "http://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("bad proxy %q: %w", redact(s), err)
	}
	switch u.Scheme {
	case "http", "https", "socks5", "socks5h":
	default:
		return nil, fmt.Errorf("bad proxy %q: unsupported scheme %q", redact(s), u.Scheme)
	}
	if u.Host == "" || u.Port() == "" {
		return nil, fmt.Errorf("bad proxy %q: host:port required", redact(s))
	}
	return u, nil
}

// Select returns a uniformly random endpoint, or nil for a direct connection.
func (s *Selector) Select() *url.URL {
	if s == nil || !s.enabled || len(s.pool) == 0 {
		return nil
	}
	return s.pool[s.intn(len(s.pool))]
}

func (s *Selector) Enabled() bool { return s != nil && s.enabled }

func (s *Selector) Len() int {
	if s == nil {
		return 0
	}
	return len(s.pool)
}

// redact hides credentials embedded in a proxy URI.
func redact(s string) string {
	at := strings.LastIndex(s, "@")
	if at < 0 {
		return s
	}
	scheme := ""
	if i := strings.Index(s, "://"); i >= 0 && i < at {
		scheme = s[:i+3]
	}
	return scheme + "***" + s[at:]
}
