package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/JdoesTech/bookstoscrape/internal/config"
	"github.com/JdoesTech/bookstoscrape/internal/crawler"
	"github.com/JdoesTech/bookstoscrape/internal/storage"
	"github.com/JdoesTech/bookstoscrape/pkg/types"
)

type fakeBookStore struct{}

func (fakeBookStore) ListBooks(ctx context.Context, params storage.BookListParams) (storage.BookListResult, error) {
	return storage.BookListResult{
		Total:    0,
		Page:     1,
		PageSize: 20,
		Items:    []types.StoredBook{},
	}, nil
}

func (fakeBookStore) GetByID(ctx context.Context, id string) (*types.StoredBook, error) {
	if id == "known" {
		return &types.StoredBook{ID: "known", Status: "active"}, nil
	}
	return nil, nil
}

func (fakeBookStore) GetRawHTML(ctx context.Context, id string) (string, error) {
	if id == "known" {
		return "<html><body>snapshot</body></html>", nil
	}
	return "", nil
}

func (fakeBookStore) ListChanges(ctx context.Context, params storage.ChangeListParams) ([]types.ChangeRecord, error) {
	return []types.ChangeRecord{}, nil
}

func newTestServer(t *testing.T, key string) *Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	runner := crawler.NewRunner(func(ctx context.Context) (*types.CrawlReport, error) {
		return &types.CrawlReport{}, nil
	}, logger)
	t.Cleanup(runner.Close)
	cfg := config.APIConfig{Key: key, KeyHeader: "X-API-Key"}
	return NewServer(cfg, fakeBookStore{}, runner, logger)
}

func TestServerRoutes(t *testing.T) {
	server := newTestServer(t, "")

	assertRoute(t, server, http.MethodGet, "/health", http.StatusOK)
	assertRoute(t, server, http.MethodGet, "/api/books", http.StatusOK)
	assertRoute(t, server, http.MethodGet, "/api/books/known", http.StatusOK)
	assertRoute(t, server, http.MethodGet, "/api/books/missing", http.StatusNotFound)
	assertRoute(t, server, http.MethodGet, "/api/books/known/html", http.StatusOK)
	assertRoute(t, server, http.MethodGet, "/api/changes", http.StatusOK)
	assertRoute(t, server, http.MethodGet, "/api/crawl/status", http.StatusOK)
	assertRoute(t, server, http.MethodPost, "/api/books", http.StatusMethodNotAllowed)
	assertRoute(t, server, http.MethodGet, "/api/crawl", http.StatusMethodNotAllowed)
}

func TestServerRejectsBadQueryParams(t *testing.T) {
	server := newTestServer(t, "")

	assertRoute(t, server, http.MethodGet, "/api/books?sort_by=title", http.StatusBadRequest)
	assertRoute(t, server, http.MethodGet, "/api/books?min_price=abc", http.StatusBadRequest)
	assertRoute(t, server, http.MethodGet, "/api/books?rating=9", http.StatusBadRequest)
	assertRoute(t, server, http.MethodGet, "/api/books?page=-1", http.StatusBadRequest)
	assertRoute(t, server, http.MethodGet, "/api/changes?limit=zero", http.StatusBadRequest)
}

func TestServerAPIKeyAuth(t *testing.T) {
	server := newTestServer(t, "secret")

	// Health stays open without a key.
	assertRoute(t, server, http.MethodGet, "/health", http.StatusOK)

	req := httptest.NewRequest(http.MethodGet, "/api/books", nil)
	rr := httptest.NewRecorder()
	server.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without key, got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/books", nil)
	req.Header.Set("X-API-Key", "wrong")
	rr = httptest.NewRecorder()
	server.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong key, got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/books", nil)
	req.Header.Set("X-API-Key", "secret")
	rr = httptest.NewRecorder()
	server.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 with valid key, got %d (body=%s)", rr.Code, rr.Body.String())
	}
}

func TestCrawlTriggerConflictsWhileRunning(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	release := make(chan struct{})
	var once sync.Once
	runner := crawler.NewRunner(func(ctx context.Context) (*types.CrawlReport, error) {
		<-release
		return &types.CrawlReport{TotalBooks: 1}, nil
	}, logger)
	t.Cleanup(func() {
		once.Do(func() { close(release) })
		runner.Close()
	})
	server := NewServer(config.APIConfig{}, fakeBookStore{}, runner, logger)

	rr := httptest.NewRecorder()
	server.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/crawl", nil))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("first trigger: expected 202, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	server.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/crawl", nil))
	if rr.Code != http.StatusConflict {
		t.Fatalf("second trigger: expected 409, got %d", rr.Code)
	}

	once.Do(func() { close(release) })
	waitForIdle(t, runner)

	rr = httptest.NewRecorder()
	server.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/crawl/status", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status: expected 200, got %d", rr.Code)
	}
	var status crawler.RunStatus
	if err := json.Unmarshal(rr.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.State != "idle" {
		t.Fatalf("expected idle state after run, got %q", status.State)
	}
	if status.LastReport == nil || status.LastReport.TotalBooks != 1 {
		t.Fatalf("expected last report with one book, got %+v", status.LastReport)
	}
}

func waitForIdle(t *testing.T, runner *crawler.Runner) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if runner.Status().State == "idle" {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("runner never returned to idle")
}

func assertRoute(t *testing.T, h http.Handler, method, path string, wantStatus int) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != wantStatus {
		t.Fatalf("%s %s: expected status %d, got %d (body=%s)", method, path, wantStatus, rr.Code, rr.Body.String())
	}
}
