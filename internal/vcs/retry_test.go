package vcs

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoRawRetriesOnRateLimit(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte("diff content"))
	}))
	defer srv.Close()

	c := &restClient{httpc: srv.Client(), token: "tok", logger: slog.Default()}
	start := time.Now()
	body, err := c.doRaw(context.Background(), http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	assert.Equal(t, "diff content", string(body))
	assert.Equal(t, int32(2), hits.Load())
	assert.GreaterOrEqual(t, time.Since(start), time.Second, "Retry-After is honoured")
}

func TestDoRawExhaustsAttempts(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	// Shrink the backoff window by driving withRetry directly with a
	// cancellable context after we observe all attempts would block.
	c := &restClient{httpc: srv.Client(), token: "tok", logger: slog.Default()}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := c.doRaw(ctx, http.MethodGet, srv.URL, nil)
	require.Error(t, err)
	assert.Equal(t, int32(1), hits.Load(), "backoff blocks until the context deadline")
}

func TestDoRawNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := &restClient{httpc: srv.Client(), token: "tok", logger: slog.Default()}
	_, err := c.doRaw(context.Background(), http.MethodGet, srv.URL, nil)
	assert.ErrorIs(t, err, errNotFound)
}

func TestDoRawNonRetryableError(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := &restClient{httpc: srv.Client(), token: "tok", logger: slog.Default()}
	_, err := c.doRaw(context.Background(), http.MethodGet, srv.URL, nil)
	require.Error(t, err)
	assert.Equal(t, int32(1), hits.Load(), "server errors are not retried")
}

func TestDoRawSendsAuthHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := &restClient{httpc: srv.Client(), token: "tok", logger: slog.Default()}
	_, err := c.doRaw(context.Background(), http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
}

func TestParseRetryAfter(t *testing.T) {
	resp := &http.Response{Header: http.Header{}}
	assert.Equal(t, time.Duration(0), parseRetryAfter(resp))

	resp.Header.Set("Retry-After", "3")
	assert.Equal(t, 3*time.Second, parseRetryAfter(resp))

	resp.Header.Set("Retry-After", "garbage")
	assert.Equal(t, time.Duration(0), parseRetryAfter(resp))
}
