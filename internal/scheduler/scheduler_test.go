package scheduler

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JdoesTech/bookstoscrape/internal/config"
	"github.com/JdoesTech/bookstoscrape/internal/crawler"
	"github.com/JdoesTech/bookstoscrape/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewRejectsInvalidCron(t *testing.T) {
	runner := crawler.NewRunner(func(ctx context.Context) (*types.CrawlReport, error) {
		return &types.CrawlReport{}, nil
	}, testLogger())
	defer runner.Close()

	_, err := New(config.SchedulerConfig{Cron: "not a schedule"}, runner, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid cron expression")
}

func TestNewDefaultsCronExpression(t *testing.T) {
	runner := crawler.NewRunner(func(ctx context.Context) (*types.CrawlReport, error) {
		return &types.CrawlReport{}, nil
	}, testLogger())
	defer runner.Close()

	s, err := New(config.SchedulerConfig{}, runner, testLogger())
	require.NoError(t, err)
	assert.Equal(t, "0 9 * * *", s.spec)
}

func TestTickSkipsWhileRunning(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	runner := crawler.NewRunner(func(ctx context.Context) (*types.CrawlReport, error) {
		close(started)
		<-release
		return &types.CrawlReport{}, nil
	}, testLogger())
	defer func() {
		close(release)
		runner.Close()
	}()

	s, err := New(config.SchedulerConfig{Cron: "0 9 * * *"}, runner, testLogger())
	require.NoError(t, err)

	s.tick()
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("first tick never started a run")
	}

	// Second tick lands while the first run is still active and must not
	// queue another one.
	s.tick()
	assert.Equal(t, "running", runner.Status().State)
}
