package fetcher

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"golang.org/x/sync/semaphore"

	"github.com/JdoesTech/bookstoscrape/pkg/types"
)

// Status is the terminal outcome of fetching one URL. Expected failure modes
// are values the orchestrator inspects, not errors it unwinds on.
type Status int

const (
	// StatusOK means a 2xx response was obtained.
	StatusOK Status = iota
	// StatusPermanentMiss means the server answered 404; never retried.
	StatusPermanentMiss
	// StatusFailed means every attempt failed with a transient error.
	StatusFailed
)

// String returns a short label for logs.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusPermanentMiss:
		return "permanent_miss"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result carries the outcome of a fetch. Doc is non-nil only for StatusOK.
// Err holds the last transient error for StatusFailed.
type Result struct {
	Status   Status
	Doc      *types.Document
	Attempts int
	Err      error
}

// Options controls HTTP fetching behaviour.
type Options struct {
	UserAgent      string
	RequestTimeout time.Duration
	MaxBodyBytes   int64
	MaxConcurrent  int
	MaxAttempts    int
	BackoffFactor  float64
	BackoffBase    time.Duration
}

// Client fetches pages with a bounded number of in-flight requests and
// exponential-backoff retries. It holds no crawl state beyond the gate.
type Client struct {
	client        *http.Client
	userAgent     string
	maxBodyBytes  int64
	gate          *semaphore.Weighted
	maxAttempts   int
	backoffFactor float64
	backoffBase   time.Duration
	logger        *slog.Logger
}

// NewClient constructs a fetch client from options.
func NewClient(opts Options, logger *slog.Logger) *Client {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 6 * 1024 * 1024
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 10
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.BackoffFactor < 1 {
		opts.BackoffFactor = 2.0
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	transport := &http.Transport{
		DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &Client{
		client: &http.Client{
			Timeout:   opts.RequestTimeout,
			Transport: transport,
		},
		userAgent:     opts.UserAgent,
		maxBodyBytes:  opts.MaxBodyBytes,
		gate:          semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		maxAttempts:   opts.MaxAttempts,
		backoffFactor: opts.BackoffFactor,
		backoffBase:   opts.BackoffBase,
		logger:        logger,
	}
}

// Fetch downloads one URL, retrying transient failures with exponential
// backoff. The returned error is non-nil only when ctx is cancelled; every
// expected outcome is reported through Result.Status.
func (c *Client) Fetch(ctx context.Context, rawURL string) (Result, error) {
	target, err := url.Parse(rawURL)
	if err != nil {
		return Result{Status: StatusFailed, Err: fmt.Errorf("parse url %q: %w", rawURL, err)}, nil
	}

	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			if err := c.sleepBackoff(ctx, attempt-1); err != nil {
				return Result{Status: StatusFailed, Attempts: attempt, Err: lastErr}, err
			}
		}

		doc, status, err := c.fetchOnce(ctx, target)
		switch {
		case err == nil && status == StatusOK:
			return Result{Status: StatusOK, Doc: doc, Attempts: attempt + 1}, nil
		case status == StatusPermanentMiss:
			c.logger.Warn("permanent miss", "url", rawURL)
			return Result{Status: StatusPermanentMiss, Attempts: attempt + 1}, nil
		default:
			lastErr = err
			if ctx.Err() != nil {
				return Result{Status: StatusFailed, Attempts: attempt + 1, Err: lastErr}, ctx.Err()
			}
			c.logger.Warn("fetch attempt failed",
				"url", rawURL,
				"attempt", attempt+1,
				"max_attempts", c.maxAttempts,
				"error", err)
		}
	}

	c.logger.Error("fetch exhausted retries", "url", rawURL, "attempts", c.maxAttempts, "error", lastErr)
	return Result{Status: StatusFailed, Attempts: c.maxAttempts, Err: lastErr}, nil
}

// fetchOnce performs a single HTTP round trip under the admission gate. The
// gate is released before any backoff sleep so waiting retries do not starve
// other callers.
func (c *Client) fetchOnce(ctx context.Context, target *url.URL) (*types.Document, Status, error) {
	if err := c.gate.Acquire(ctx, 1); err != nil {
		return nil, StatusFailed, err
	}
	defer c.gate.Release(1)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, StatusFailed, fmt.Errorf("build request: %w", err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, StatusFailed, fmt.Errorf("http fetch: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		return nil, StatusPermanentMiss, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		return nil, StatusFailed, fmt.Errorf("http status %d", resp.StatusCode)
	}

	body, err := c.readBody(resp)
	if err != nil {
		return nil, StatusFailed, err
	}

	return &types.Document{
		URL:        target,
		Body:       body,
		StatusCode: resp.StatusCode,
		FetchedAt:  time.Now().UTC(),
	}, StatusOK, nil
}

func (c *Client) sleepBackoff(ctx context.Context, attempt int) error {
	delay := time.Duration(float64(c.backoffBase) * math.Pow(c.backoffFactor, float64(attempt)))
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HTTPClient exposes the underlying HTTP client for reuse (eg. robots.txt
// fetches). It shares the transport but bypasses the admission gate.
func (c *Client) HTTPClient() *http.Client {
	if c == nil {
		return nil
	}
	return c.client
}

func (c *Client) readBody(resp *http.Response) ([]byte, error) {
	if resp.Body == nil {
		return nil, errors.New("empty response body")
	}

	reader := io.Reader(resp.Body)
	closers := []io.Closer{resp.Body}

	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			_ = resp.Body.Close()
			return nil, fmt.Errorf("gzip decode: %w", err)
		}
		reader = gz
		closers = append(closers, gz)
	case "br":
		reader = brotli.NewReader(resp.Body)
	case "deflate":
		fl := flate.NewReader(resp.Body)
		reader = fl
		closers = append(closers, fl)
	}

	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i].Close()
		}
	}()

	limited := io.LimitReader(reader, c.maxBodyBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > c.maxBodyBytes {
		return nil, fmt.Errorf("response body exceeds limit of %d bytes", c.maxBodyBytes)
	}
	return body, nil
}
