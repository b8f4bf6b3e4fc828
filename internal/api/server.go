// Package api exposes the read API over stored books and change records,
// plus endpoints for triggering and observing crawl runs.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/JdoesTech/bookstoscrape/internal/config"
	"github.com/JdoesTech/bookstoscrape/internal/crawler"
	"github.com/JdoesTech/bookstoscrape/internal/storage"
	"github.com/JdoesTech/bookstoscrape/pkg/types"
)

// BookStore is the slice of the storage layer the API reads from.
type BookStore interface {
	ListBooks(ctx context.Context, params storage.BookListParams) (storage.BookListResult, error)
	GetByID(ctx context.Context, id string) (*types.StoredBook, error)
	GetRawHTML(ctx context.Context, id string) (string, error)
	ListChanges(ctx context.Context, params storage.ChangeListParams) ([]types.ChangeRecord, error)
}

// Server routes HTTP requests onto the store and the crawl runner.
type Server struct {
	store  BookStore
	runner *crawler.Runner
	logger *slog.Logger

	apiKey    string
	keyHeader string
	mux       *http.ServeMux
}

// NewServer wires handlers onto an HTTP mux.
func NewServer(cfg config.APIConfig, store BookStore, runner *crawler.Runner, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	keyHeader := cfg.KeyHeader
	if keyHeader == "" {
		keyHeader = "X-API-Key"
	}
	s := &Server{
		store:     store,
		runner:    runner,
		logger:    logger,
		apiKey:    cfg.Key,
		keyHeader: keyHeader,
		mux:       http.NewServeMux(),
	}
	s.routes()
	return s
}

// ServeHTTP satisfies the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/books", s.authenticated(s.handleBooks))
	s.mux.HandleFunc("/api/books/", s.authenticated(s.handleBookByID))
	s.mux.HandleFunc("/api/changes", s.authenticated(s.handleChanges))
	s.mux.HandleFunc("/api/crawl", s.authenticated(s.handleCrawl))
	s.mux.HandleFunc("/api/crawl/status", s.authenticated(s.handleCrawlStatus))
}

// authenticated rejects requests whose key header does not match the
// configured API key. An empty configured key disables the check.
func (s *Server) authenticated(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey != "" {
			got := r.Header.Get(s.keyHeader)
			if subtle.ConstantTimeCompare([]byte(got), []byte(s.apiKey)) != 1 {
				writeJSON(w, http.StatusUnauthorized, map[string]string{
					"error": "invalid or missing API key",
				})
				return
			}
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleBooks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	params, err := parseBookListParams(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	result, err := s.store.ListBooks(r.Context(), params)
	if err != nil {
		s.logger.Error("list books failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleBookByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	trimmed := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/books/"), "/")
	if trimmed == "" {
		http.NotFound(w, r)
		return
	}
	parts := strings.Split(trimmed, "/")
	id := parts[0]

	switch {
	case len(parts) == 1:
		book, err := s.store.GetByID(r.Context(), id)
		if err != nil {
			s.logger.Error("get book failed", "book_id", id, "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if book == nil {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, http.StatusOK, book)
	case len(parts) == 2 && parts[1] == "html":
		raw, err := s.store.GetRawHTML(r.Context(), id)
		if err != nil {
			s.logger.Error("get raw html failed", "book_id", id, "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if raw == "" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(raw))
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleChanges(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	q := r.URL.Query()
	params := storage.ChangeListParams{
		BookID:     q.Get("book_id"),
		ChangeType: q.Get("change_type"),
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		params.Limit = limit
	}
	records, err := s.store.ListChanges(r.Context(), params)
	if err != nil {
		s.logger.Error("list changes failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleCrawl(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	status, err := s.runner.Trigger()
	if err != nil {
		if errors.Is(err, crawler.ErrRunInProgress) {
			writeJSON(w, http.StatusConflict, map[string]any{
				"error":  err.Error(),
				"status": status,
			})
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, status)
}

func (s *Server) handleCrawlStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, s.runner.Status())
}

func parseBookListParams(r *http.Request) (storage.BookListParams, error) {
	q := r.URL.Query()
	params := storage.BookListParams{
		Category: q.Get("category"),
		SortBy:   q.Get("sort_by"),
	}
	switch params.SortBy {
	case "", "rating", "price", "reviews":
	default:
		return params, fmt.Errorf("unsupported sort_by %q", params.SortBy)
	}

	var err error
	if params.Page, err = intParam(q.Get("page")); err != nil {
		return params, fmt.Errorf("invalid page: %w", err)
	}
	if params.PageSize, err = intParam(q.Get("page_size")); err != nil {
		return params, fmt.Errorf("invalid page_size: %w", err)
	}
	if raw := q.Get("min_price"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return params, fmt.Errorf("invalid min_price: %w", err)
		}
		params.MinPrice = &v
	}
	if raw := q.Get("max_price"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return params, fmt.Errorf("invalid max_price: %w", err)
		}
		params.MaxPrice = &v
	}
	if raw := q.Get("rating"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 || v > 5 {
			return params, errors.New("invalid rating: must be 0-5")
		}
		params.Rating = &v
	}
	return params, nil
}

func intParam(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, errors.New("must be non-negative")
	}
	return v, nil
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
