// Package scheduler triggers periodic crawl runs on a cron expression.
package scheduler

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/JdoesTech/bookstoscrape/internal/config"
	"github.com/JdoesTech/bookstoscrape/internal/crawler"
)

// Scheduler fires the crawl runner on a fixed schedule. Ticks that land
// while a run is still active are skipped, not queued.
type Scheduler struct {
	cron   *cron.Cron
	runner *crawler.Runner
	logger *slog.Logger
	spec   string
}

// New parses the cron expression and registers the crawl job.
func New(cfg config.SchedulerConfig, runner *crawler.Runner, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	spec := cfg.Cron
	if spec == "" {
		spec = "0 9 * * *"
	}

	s := &Scheduler{
		cron:   cron.New(),
		runner: runner,
		logger: logger,
		spec:   spec,
	}
	if _, err := s.cron.AddFunc(spec, s.tick); err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}
	return s, nil
}

// Start begins firing scheduled runs.
func (s *Scheduler) Start() {
	s.logger.Info("scheduler started", "cron", s.spec)
	s.cron.Start()
}

// Stop halts the schedule and waits for an in-flight tick callback. A crawl
// started by a tick keeps running; the caller shuts the runner down.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) tick() {
	status, err := s.runner.Trigger()
	if err != nil {
		if errors.Is(err, crawler.ErrRunInProgress) {
			s.logger.Warn("scheduled crawl skipped: previous run still active",
				"started_at", status.StartedAt)
			return
		}
		s.logger.Error("scheduled crawl failed to start", "error", err)
		return
	}
	s.logger.Info("scheduled crawl started")
}
