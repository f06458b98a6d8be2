package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/rostilos/codecrow/internal/errors"
	"github.com/rostilos/codecrow/internal/events"
)

// Result is the terminal outcome of one streamed analysis run.
type Result struct {
	Issues  []*ResultIssue
	Comment string
	Raw     map[string]interface{}
}

// Client drives the AI service's streaming analyze endpoint. The response is
// newline-delimited JSON; exactly one of a result or error frame terminates
// the stream.
type Client struct {
	baseURL string
	secret  string
	httpc   *http.Client
	logger  *slog.Logger
}

// NewClient creates the streaming AI client.
func NewClient(baseURL, serviceSecret string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &Client{
		baseURL: baseURL,
		secret:  serviceSecret,
		httpc:   &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Analyze posts the payload and consumes the event stream. A dedicated
// reader goroutine feeds a bounded channel; this goroutine drains it and
// invokes the sink serially, so callbacks never interleave. Sink panics are
// logged and do not abort the stream.
func (c *Client) Analyze(ctx context.Context, payload *Payload, sink events.Sink) (*Result, error) {
	guarded := events.Guard(sink, c.logger)

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.UpstreamAi(err, "encode analyze request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/analyze", bytes.NewReader(body))
	if err != nil {
		return nil, errors.UpstreamAi(err, "build analyze request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/x-ndjson")
	req.Header.Set("x-service-secret", c.secret)

	resp, err := c.httpc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.Cancelled(ctx.Err())
		}
		return nil, errors.UpstreamAi(err, "analyze request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.UpstreamAi(
			fmt.Errorf("status %d", resp.StatusCode), "analyze request rejected")
	}

	frames := make(chan events.Event, 64)
	readErr := make(chan error, 1)
	// On early return (terminal frame) the reader may still hold frames;
	// drain so it can observe the closed body and exit.
	defer func() {
		go func() {
			for range frames {
			}
		}()
	}()
	go func() {
		defer close(frames)
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			var frame events.Event
			if err := json.Unmarshal(line, &frame); err != nil {
				c.logger.Warn("malformed stream frame skipped", "error", err)
				continue
			}
			select {
			case frames <- frame:
			case <-ctx.Done():
				readErr <- ctx.Err()
				return
			}
		}
		readErr <- scanner.Err()
	}()

	var partials []*ResultIssue
	for frame := range frames {
		switch frame.Type() {
		case "status", "progress", "warning":
			guarded.Accept(frame)

		case "partial_issue":
			guarded.Accept(frame)
			partials = append(partials, decodeIssue(frame))

		case "error":
			guarded.Accept(frame)
			msg, _ := frame["message"].(string)
			return nil, errors.UpstreamAi(fmt.Errorf("%s", msg), "analysis failed")

		case "result":
			guarded.Accept(frame)
			return c.buildResult(frame, partials)

		default:
			// Unknown frame types are forwarded untouched for
			// forward-compatibility with newer service versions.
			guarded.Accept(frame)
		}
	}

	if ctx.Err() != nil {
		return nil, errors.Cancelled(ctx.Err())
	}
	if err := <-readErr; err != nil {
		return nil, errors.UpstreamAi(err, "stream read failed")
	}
	return nil, errors.New(errors.KindUpstreamAi, "stream closed without terminal event")
}

// buildResult normalises the terminal frame. The result's issues field is
// authoritative; when absent, the accumulated partial issues stand in.
func (c *Client) buildResult(frame events.Event, partials []*ResultIssue) (*Result, error) {
	result := &Result{Raw: frame}
	if comment, ok := frame["comment"].(string); ok {
		result.Comment = comment
	}

	rawIssues, present := frame["issues"]
	if !present {
		result.Issues = partials
		return result, nil
	}

	issues, err := NormalizeIssues(rawIssues)
	if err != nil {
		// Unparseable issues field: treated as empty, surfaced to the
		// caller via the error for its warning event.
		result.Issues = nil
		return result, err
	}
	result.Issues = issues
	return result, nil
}
