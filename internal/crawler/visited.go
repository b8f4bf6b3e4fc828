package crawler

import (
	"net/url"
	"strings"
	"sync"
)

// VisitedSet tracks URLs already dispatched to the fetcher within one run.
// Detail fetches for a single listing page run concurrently and may carry
// duplicate links, so membership checks and inserts are guarded by a mutex.
// The set is owned by the run and discarded with it.
type VisitedSet struct {
	mu      sync.Mutex
	entries map[string]struct{}
}

// NewVisitedSet creates an empty run-scoped visited set.
func NewVisitedSet() *VisitedSet {
	return &VisitedSet{entries: make(map[string]struct{})}
}

// Add marks a URL as dispatched. It returns false if the URL was already
// present, which callers treat as "skip this fetch".
func (v *VisitedSet) Add(u *url.URL) bool {
	if u == nil {
		return false
	}
	key := canonicalKey(u)

	v.mu.Lock()
	defer v.mu.Unlock()
	if _, seen := v.entries[key]; seen {
		return false
	}
	v.entries[key] = struct{}{}
	return true
}

// Len reports how many distinct URLs were dispatched.
func (v *VisitedSet) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.entries)
}

func canonicalKey(u *url.URL) string {
	scheme := strings.ToLower(u.Scheme)
	if scheme == "" {
		scheme = "http"
	}
	host := strings.ToLower(u.Hostname())
	if port := u.Port(); port != "" && port != defaultPortForScheme(scheme) {
		host = host + ":" + port
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	key := scheme + "://" + host + path
	if q := u.RawQuery; q != "" {
		key += "?" + q
	}
	return key
}

func defaultPortForScheme(scheme string) string {
	switch scheme {
	case "http":
		return "80"
	case "https":
		return "443"
	default:
		return ""
	}
}
