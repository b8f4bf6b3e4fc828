package crawler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/JdoesTech/bookstoscrape/pkg/types"
)

// ErrRunInProgress is returned when a crawl is requested while one is active.
var ErrRunInProgress = errors.New("a crawl run is already in progress")

// RunFunc executes one full crawl-and-detect pass.
type RunFunc func(ctx context.Context) (*types.CrawlReport, error)

// RunStatus is a snapshot of the runner's state.
type RunStatus struct {
	State      string             `json:"state"` // "idle" or "running"
	StartedAt  *time.Time         `json:"started_at,omitempty"`
	FinishedAt *time.Time         `json:"finished_at,omitempty"`
	LastReport *types.CrawlReport `json:"last_report,omitempty"`
	LastError  string             `json:"last_error,omitempty"`
}

// Runner serializes crawl runs: at most one pass executes at a time, and
// requests arriving during a pass are rejected rather than queued.
type Runner struct {
	run    RunFunc
	logger *slog.Logger

	mu     sync.Mutex
	status RunStatus
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewRunner wraps a run function with single-flight semantics.
func NewRunner(run RunFunc, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		run:    run,
		logger: logger,
		status: RunStatus{State: "idle"},
		ctx:    ctx,
		cancel: cancel,
	}
}

// Trigger starts a run in the background. It returns ErrRunInProgress if one
// is already active. The run outlives the caller's request context.
func (r *Runner) Trigger() (RunStatus, error) {
	r.mu.Lock()
	if r.status.State == "running" {
		status := r.status
		r.mu.Unlock()
		return status, ErrRunInProgress
	}
	now := time.Now().UTC()
	r.status = RunStatus{State: "running", StartedAt: &now}
	status := r.status
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		report, err := r.run(r.ctx)
		finished := time.Now().UTC()

		r.mu.Lock()
		r.status.State = "idle"
		r.status.FinishedAt = &finished
		r.status.LastReport = report
		if err != nil {
			r.status.LastError = err.Error()
		} else {
			r.status.LastError = ""
		}
		r.mu.Unlock()

		if err != nil {
			r.logger.Error("crawl run failed", "error", err)
			return
		}
		r.logger.Info("crawl run finished",
			"total_books", report.TotalBooks,
			"changes", len(report.Changes),
			"duration", report.Duration.String())
	}()
	return status, nil
}

// Status returns the current runner snapshot.
func (r *Runner) Status() RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Close cancels any active run and waits for it to unwind.
func (r *Runner) Close() {
	r.cancel()
	r.wg.Wait()
}
