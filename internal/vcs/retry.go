package vcs

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

const (
	maxAttempts    = 3
	initialBackoff = 2 * time.Second
)

// rateLimited pairs a 429 response with the provider's Retry-After hint.
type rateLimited struct {
	retryAfter time.Duration
}

func (e *rateLimited) Error() string {
	return fmt.Sprintf("rate limited (retry after %s)", e.retryAfter)
}

// withRetry runs fn up to maxAttempts times, backing off exponentially on
// rate limiting (initial 2s, doubling) and honouring Retry-After when the
// provider supplies one. Non-rate-limit errors are returned immediately.
func withRetry(ctx context.Context, logger *slog.Logger, op string, fn func() error) error {
	backoff := initialBackoff
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		rl, ok := err.(*rateLimited)
		if !ok {
			return err
		}
		if attempt == maxAttempts {
			break
		}

		wait := backoff
		if rl.retryAfter > 0 {
			wait = rl.retryAfter
		}
		logger.Warn("provider rate limited, backing off",
			"op", op, "attempt", attempt, "wait", wait)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		backoff *= 2
	}
	return fmt.Errorf("%s: rate limited after %d attempts: %w", op, maxAttempts, err)
}

// parseRetryAfter reads the Retry-After header (seconds form).
func parseRetryAfter(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// restClient is the shared JSON/raw HTTP plumbing for the GitLab and
// Bitbucket variants.
type restClient struct {
	httpc  *http.Client
	token  string
	logger *slog.Logger
}

// doRaw performs the request and returns the body. 429 becomes a rateLimited
// error for withRetry; 404 is surfaced as errNotFound; other non-2xx as
// errors.
var errNotFound = fmt.Errorf("not found")

func (c *restClient) doRaw(ctx context.Context, method, url string, headers map[string]string) ([]byte, error) {
	var body []byte
	err := withRetry(ctx, c.logger, method+" "+url, func() error {
		req, err := http.NewRequestWithContext(ctx, method, url, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := c.httpc.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			io.Copy(io.Discard, resp.Body)
			return &rateLimited{retryAfter: parseRetryAfter(resp)}
		case resp.StatusCode == http.StatusNotFound:
			return errNotFound
		case resp.StatusCode < 200 || resp.StatusCode >= 300:
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
			return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(b))
		}

		body, err = io.ReadAll(resp.Body)
		return err
	})
	return body, err
}

// doSend performs a request with a prepared body, retrying the same way.
// newReq must build a fresh request per attempt (bodies are single-use).
func (c *restClient) doSend(ctx context.Context, newReq func() (*http.Request, error)) ([]byte, error) {
	var body []byte
	err := withRetry(ctx, c.logger, "send", func() error {
		req, err := newReq()
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+c.token)

		resp, err := c.httpc.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			io.Copy(io.Discard, resp.Body)
			return &rateLimited{retryAfter: parseRetryAfter(resp)}
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
			return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(b))
		}
		body, err = io.ReadAll(resp.Body)
		return err
	})
	return body, err
}
