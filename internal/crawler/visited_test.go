package crawler

import (
	"net/url"
	"testing"
)

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	return u
}

func TestVisitedSetDeduplicates(t *testing.T) {
	v := NewVisitedSet()

	if !v.Add(mustURL(t, "https://example.com/a")) {
		t.Fatal("first add should report unseen")
	}
	if v.Add(mustURL(t, "https://example.com/a")) {
		t.Fatal("second add should report seen")
	}
	if got := v.Len(); got != 1 {
		t.Fatalf("expected len 1, got %d", got)
	}
}

func TestVisitedSetCanonicalisation(t *testing.T) {
	v := NewVisitedSet()
	v.Add(mustURL(t, "https://example.com/path"))

	equivalents := []string{
		"HTTPS://EXAMPLE.COM/path",
		"https://example.com:443/path",
	}
	for _, raw := range equivalents {
		if v.Add(mustURL(t, raw)) {
			t.Fatalf("%q should canonicalise to an already-seen key", raw)
		}
	}

	distinct := []string{
		"https://example.com/path?page=2",
		"https://example.com/other",
		"http://example.com/path",
	}
	for _, raw := range distinct {
		if !v.Add(mustURL(t, raw)) {
			t.Fatalf("%q should be a distinct key", raw)
		}
	}
}

func TestVisitedSetRootPathDefault(t *testing.T) {
	v := NewVisitedSet()
	v.Add(mustURL(t, "https://example.com"))
	if v.Add(mustURL(t, "https://example.com/")) {
		t.Fatal("bare host and slash root should share one key")
	}
}
