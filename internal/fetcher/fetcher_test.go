package fetcher

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastOptions() Options {
	return Options{
		UserAgent:     "test-bot/1.0",
		MaxAttempts:   3,
		BackoffFactor: 2.0,
		BackoffBase:   time.Millisecond,
	}
}

func TestFetchSuccess(t *testing.T) {
	var gotUA atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA.Store(r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte("<html>ok</html>"))
	}))
	defer srv.Close()

	client := NewClient(fastOptions(), testLogger())
	result, err := client.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)

	assert.Equal(t, StatusOK, result.Status)
	assert.Equal(t, 1, result.Attempts)
	require.NotNil(t, result.Doc)
	assert.Equal(t, http.StatusOK, result.Doc.StatusCode)
	assert.Equal(t, "<html>ok</html>", string(result.Doc.Body))
	assert.False(t, result.Doc.FetchedAt.IsZero())
	assert.Equal(t, "test-bot/1.0", gotUA.Load())
}

func TestFetchRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("recovered"))
	}))
	defer srv.Close()

	client := NewClient(fastOptions(), testLogger())
	result, err := client.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)

	assert.Equal(t, StatusOK, result.Status)
	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetchExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewClient(fastOptions(), testLogger())
	result, err := client.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, result.Status)
	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, int32(3), calls.Load())
	assert.Error(t, result.Err)
}

func TestFetchNotFoundDoesNotRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	client := NewClient(fastOptions(), testLogger())
	result, err := client.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)

	assert.Equal(t, StatusPermanentMiss, result.Status)
	assert.Equal(t, 1, result.Attempts)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetchHonoursContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	opts := fastOptions()
	opts.BackoffBase = 5 * time.Second
	client := NewClient(opts, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	result, err := client.Fetch(ctx, srv.URL)
	require.Error(t, err)
	assert.Equal(t, StatusFailed, result.Status)
}

func TestFetchCapsBodySize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for i := 0; i < 1024; i++ {
			_, _ = w.Write([]byte("0123456789"))
		}
	}))
	defer srv.Close()

	opts := fastOptions()
	opts.MaxBodyBytes = 512
	client := NewClient(opts, testLogger())

	result, err := client.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, result.Status)
	assert.LessOrEqual(t, len(result.Doc.Body), 512)
}

func TestFetchRejectsInvalidURL(t *testing.T) {
	client := NewClient(fastOptions(), testLogger())
	result, err := client.Fetch(context.Background(), "://not-a-url")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, result.Status)
	assert.Error(t, result.Err)
}
