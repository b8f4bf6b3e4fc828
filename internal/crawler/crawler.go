// Package crawler walks the catalog's category → pagination → detail graph
// and collects structured book records for one run.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/JdoesTech/bookstoscrape/internal/config"
	"github.com/JdoesTech/bookstoscrape/internal/extractor"
	"github.com/JdoesTech/bookstoscrape/internal/fetcher"
	robotsclient "github.com/JdoesTech/bookstoscrape/internal/robots"
	"github.com/JdoesTech/bookstoscrape/pkg/types"
)

// ErrNoCategories is returned when the site root yields no category links.
// It is the only failure that aborts a run; everything below category
// discovery degrades to per-URL skips counted in the report.
var ErrNoCategories = errors.New("no categories discovered from site root")

// Engine orchestrates fetching, extraction, and report aggregation for one
// crawl run. Run-scoped state (visited set, worker pool, report) is created
// inside Run and discarded with it, so an Engine can be reused across runs.
type Engine struct {
	cfg     config.Config
	baseURL *url.URL
	fetch   *fetcher.Client
	robots  *robotsclient.Agent
	limiter *HostLimiter
	logger  *slog.Logger
}

// NewEngine builds a crawler engine from configuration.
func NewEngine(cfg config.Config, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}

	base, err := url.Parse(cfg.Crawl.BaseURL)
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("parse base url %q: %w", cfg.Crawl.BaseURL, err)
	}

	fetch := fetcher.NewClient(fetcher.Options{
		UserAgent:      cfg.Crawl.UserAgent,
		RequestTimeout: cfg.Crawl.RequestTimeout.Duration,
		MaxBodyBytes:   cfg.Crawl.MaxBodyBytes,
		MaxConcurrent:  cfg.Crawl.MaxConcurrentFetches,
		MaxAttempts:    cfg.Retry.MaxAttempts,
		BackoffFactor:  cfg.Retry.BackoffFactor,
		BackoffBase:    cfg.Retry.BackoffBase.Duration,
	}, logger)

	limiter := NewHostLimiter(cfg.Crawl.PerHostDelay.Duration, RateLimiterSettings{
		Requests: cfg.Crawl.RateLimit.Requests,
		Window:   cfg.Crawl.RateLimit.Window.Duration,
	})

	return &Engine{
		cfg:     cfg,
		baseURL: base,
		fetch:   fetch,
		robots:  robotsclient.NewAgent(cfg.Robots, fetch.HTTPClient()),
		limiter: limiter,
		logger:  logger,
	}, nil
}

// run holds the mutable state of one crawl run.
type run struct {
	visited *VisitedSet
	pool    *workerPool

	mu     sync.Mutex
	report types.CrawlReport
}

func (r *run) addBook(b types.Book) {
	r.mu.Lock()
	r.report.Books = append(r.report.Books, b)
	r.mu.Unlock()
}

func (r *run) countMiss()         { r.mu.Lock(); r.report.PermanentMisses++; r.mu.Unlock() }
func (r *run) countParseFailure() { r.mu.Lock(); r.report.ParseFailures++; r.mu.Unlock() }
func (r *run) countFetchFailure() { r.mu.Lock(); r.report.FetchFailures++; r.mu.Unlock() }

// Run executes a full crawl: discover categories from the site root, then
// walk each category's pagination sequentially, fanning out detail fetches
// per listing page. Only root discovery failure is fatal; the returned
// report models partial success for everything else.
func (e *Engine) Run(ctx context.Context) (*types.CrawlReport, error) {
	started := time.Now().UTC()
	e.logger.Info("starting crawl", "base_url", e.baseURL.String())

	categories, err := e.discoverCategories(ctx)
	if err != nil {
		return nil, err
	}
	e.logger.Info("discovered categories", "count", len(categories))

	r := &run{visited: NewVisitedSet()}
	r.report.StartedAt = started
	r.pool = newWorkerPool(ctx, e.cfg.Crawl.MaxConcurrentFetches, func(workerCtx context.Context, target *url.URL) {
		e.crawlBook(workerCtx, target, r)
	})
	defer r.pool.close()

	// Categories are walked sequentially; concurrency is spent on the
	// detail fetches, which dominate request volume.
	for _, category := range categories {
		if ctx.Err() != nil {
			break
		}
		count := e.crawlCategory(ctx, category.URL, r)
		e.logger.Info("category crawled", "url", category.URL.String(), "books", count)
	}

	r.mu.Lock()
	report := r.report
	r.mu.Unlock()
	report.TotalBooks = len(report.Books)
	report.Duration = time.Since(started)

	e.logger.Info("crawl finished",
		"books", report.TotalBooks,
		"permanent_misses", report.PermanentMisses,
		"parse_failures", report.ParseFailures,
		"fetch_failures", report.FetchFailures,
		"duration", report.Duration)

	if ctx.Err() != nil {
		return &report, ctx.Err()
	}
	return &report, nil
}

func (e *Engine) discoverCategories(ctx context.Context) ([]types.CrawlTarget, error) {
	doc, ok := e.fetchPage(ctx, e.baseURL, nil)
	if !ok {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("fetch site root %s: %w", e.baseURL, ErrNoCategories)
	}
	categories, err := extractor.Categories(doc.Body, e.baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse site root: %w", err)
	}
	if len(categories) == 0 {
		return nil, ErrNoCategories
	}
	return categories, nil
}

// crawlCategory walks one category's pagination chain. The visited set is
// checked before each listing page, so a cyclic "next" pointer truncates the
// walk instead of looping. Returns the number of books collected.
func (e *Engine) crawlCategory(ctx context.Context, first *url.URL, r *run) int {
	collected := 0
	current := first

	for current != nil {
		if ctx.Err() != nil {
			return collected
		}
		if !r.visited.Add(current) {
			e.logger.Warn("pagination loop truncated", "url", current.String())
			return collected
		}
		e.logger.Debug("crawling listing page", "url", current.String())

		doc, ok := e.fetchPage(ctx, current, r)
		if !ok {
			return collected
		}

		targets, next, err := extractor.CategoryPage(doc.Body, current)
		if err != nil {
			e.logger.Warn("listing page parse failed", "url", current.String(), "error", err)
			r.countParseFailure()
			return collected
		}

		collected += e.crawlBooks(ctx, targets, r)
		current = next
	}
	return collected
}

// crawlBooks fans out detail fetches for one listing page and joins before
// returning, so pagination never outruns the page's own workers.
func (e *Engine) crawlBooks(ctx context.Context, targets []types.CrawlTarget, r *run) int {
	var wg sync.WaitGroup
	before := countBooks(r)

	for _, target := range targets {
		if !r.visited.Add(target.URL) {
			continue
		}
		if !r.pool.dispatch(ctx, target.URL, &wg) {
			e.logger.Warn("detail fetch not scheduled", "url", target.URL.String())
		}
	}
	wg.Wait()
	return countBooks(r) - before
}

func (e *Engine) crawlBook(ctx context.Context, target *url.URL, r *run) {
	if ctx.Err() != nil {
		return
	}
	doc, ok := e.fetchPage(ctx, target, r)
	if !ok {
		return
	}

	book, err := extractor.Book(doc.Body, target)
	if err != nil {
		e.logger.Warn("book page parse failed", "url", target.String(), "error", err)
		r.countParseFailure()
		return
	}
	book.FetchedAt = doc.FetchedAt
	if e.cfg.Crawl.KeepRawHTML {
		book.RawHTML = string(doc.Body)
	}
	r.addBook(*book)
}

// fetchPage applies politeness and robots checks, then fetches. Expected
// failure outcomes are counted in the run's report (when r is non-nil) and
// reported as !ok.
func (e *Engine) fetchPage(ctx context.Context, target *url.URL, r *run) (*types.Document, bool) {
	if !e.robots.Allowed(ctx, target) {
		e.logger.Debug("blocked by robots", "url", target.String())
		return nil, false
	}
	if err := e.limiter.Wait(ctx, target.Hostname()); err != nil {
		return nil, false
	}

	result, err := e.fetch.Fetch(ctx, target.String())
	if err != nil {
		return nil, false
	}
	switch result.Status {
	case fetcher.StatusOK:
		return result.Doc, true
	case fetcher.StatusPermanentMiss:
		if r != nil {
			r.countMiss()
		}
		return nil, false
	default:
		if r != nil {
			r.countFetchFailure()
		}
		return nil, false
	}
}

func countBooks(r *run) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.report.Books)
}
