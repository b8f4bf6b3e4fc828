// Package robots evaluates robots.txt rules with per-host caching. The
// catalog site this project mirrors publishes no robots rules, so the agent
// defaults to pass-through and only fetches rules when respect is enabled.
package robots

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"

	"github.com/JdoesTech/bookstoscrape/internal/config"
)

const maxRobotsBytes = 512 * 1024

// Agent answers allow/deny questions for crawl targets.
type Agent struct {
	httpClient *http.Client
	userAgent  string
	ttl        time.Duration
	respect    bool

	mu    sync.Mutex
	cache map[string]*hostRules
}

// hostRules caches one host's parsed rules until expiry. A nil data means
// the last download failed; it is cached too, so a broken robots endpoint
// is retried once per TTL instead of once per request.
type hostRules struct {
	expires time.Time
	data    *robotstxt.RobotsData
}

// NewAgent constructs a robots agent from configuration.
func NewAgent(cfg config.RobotsConfig, client *http.Client) *Agent {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	ttl := cfg.CacheTTL.Duration
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Agent{
		httpClient: client,
		userAgent:  cfg.UserAgent,
		ttl:        ttl,
		respect:    cfg.Respect,
		cache:      make(map[string]*hostRules),
	}
}

// Allowed reports whether the target URL is permitted. Download failures
// fail open.
func (a *Agent) Allowed(ctx context.Context, target *url.URL) bool {
	if target == nil || !target.IsAbs() {
		return false
	}
	if !a.respect {
		return true
	}

	data := a.rulesFor(ctx, target)
	if data == nil {
		return true
	}
	return data.TestAgent(target.Path, a.userAgent)
}

func (a *Agent) rulesFor(ctx context.Context, target *url.URL) *robotstxt.RobotsData {
	host := strings.ToLower(target.Host)
	now := time.Now()

	a.mu.Lock()
	if entry, ok := a.cache[host]; ok && now.Before(entry.expires) {
		a.mu.Unlock()
		return entry.data
	}
	a.mu.Unlock()

	data := a.download(ctx, target.Scheme, target.Host)

	a.mu.Lock()
	a.cache[host] = &hostRules{expires: now.Add(a.ttl), data: data}
	a.mu.Unlock()
	return data
}

// download fetches and parses one host's robots.txt. Status semantics are
// delegated to the parser: 4xx means allow-all, 5xx means disallow-all.
func (a *Agent) download(ctx context.Context, scheme, host string) *robotstxt.RobotsData {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, scheme+"://"+host+"/robots.txt", nil)
	if err != nil {
		return nil
	}
	if a.userAgent != "" {
		req.Header.Set("User-Agent", a.userAgent)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBytes))
	if err != nil {
		return nil
	}
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return nil
	}
	return data
}
