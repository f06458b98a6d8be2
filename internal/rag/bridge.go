package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/rostilos/codecrow/internal/diff"
	"github.com/rostilos/codecrow/internal/events"
	"github.com/rostilos/codecrow/internal/models"
)

// Operations is the retrieval-indexer capability the processors consume.
// Every failure is best-effort territory: callers log, emit a warning event,
// and move on.
type Operations interface {
	IsEnabled(project *models.Project) bool
	IsReady(ctx context.Context, project *models.Project, branch string) (bool, error)
	EnsureIndexUpToDate(ctx context.Context, project *models.Project, branch string, sink events.Sink) error
	TriggerIncrementalUpdate(ctx context.Context, project *models.Project, branch, commitHash, unifiedDiff string, sink events.Sink) error
}

// Bridge talks to the external indexer over its internal JSON API. The
// incremental update parses the diff into added/modified/deleted sets and
// ships each set, so the indexer never re-walks the whole tree.
type Bridge struct {
	baseURL string
	secret  string
	httpc   *http.Client
	logger  *slog.Logger
}

// NewBridge creates the indexer client. An empty baseURL disables the bridge.
func NewBridge(baseURL, serviceSecret string, timeout time.Duration, logger *slog.Logger) *Bridge {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Bridge{
		baseURL: baseURL,
		secret:  serviceSecret,
		httpc:   &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// IsEnabled reports whether retrieval indexing applies to this project.
func (b *Bridge) IsEnabled(project *models.Project) bool {
	return b.baseURL != "" && project.Config.Rag.Enabled
}

// IsReady asks the indexer whether the branch index is queryable.
func (b *Bridge) IsReady(ctx context.Context, project *models.Project, branch string) (bool, error) {
	var out struct {
		Ready bool `json:"ready"`
	}
	err := b.post(ctx, "/index/status", map[string]interface{}{
		"projectId": project.ID,
		"branch":    branch,
	}, &out)
	if err != nil {
		return false, err
	}
	return out.Ready, nil
}

// EnsureIndexUpToDate requests a catch-up index pass for the branch before
// an analysis that wants retrieval context.
func (b *Bridge) EnsureIndexUpToDate(ctx context.Context, project *models.Project, branch string, sink events.Sink) error {
	if !b.IsEnabled(project) {
		return nil
	}
	if sink != nil {
		sink.Accept(events.Status("rag_sync", "ensuring retrieval index is current"))
	}
	return b.post(ctx, "/index/ensure", map[string]interface{}{
		"projectId": project.ID,
		"branch":    branch,
	}, nil)
}

// TriggerIncrementalUpdate parses the merge diff into change sets and asks
// the indexer to apply them for the branch head.
func (b *Bridge) TriggerIncrementalUpdate(ctx context.Context, project *models.Project, branch, commitHash, unifiedDiff string, sink events.Sink) error {
	if !b.IsEnabled(project) {
		return nil
	}

	change := diff.Parse(unifiedDiff)
	if sink != nil {
		sink.Accept(events.Status("rag_update", fmt.Sprintf(
			"incremental index update: %d changed, %d deleted",
			len(change.AddedOrModified), len(change.Deleted))))
	}

	return b.post(ctx, "/index/incremental", map[string]interface{}{
		"projectId":       project.ID,
		"branch":          branch,
		"commitHash":      commitHash,
		"addedOrModified": diff.SortedPaths(change.AddedOrModified),
		"deleted":         diff.SortedPaths(change.Deleted),
		"snippets":        change.Snippets,
	}, nil)
}

func (b *Bridge) post(ctx context.Context, path string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode rag request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build rag request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-service-secret", b.secret)

	resp, err := b.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("rag request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("rag %s returned %d: %s", path, resp.StatusCode, string(msg))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode rag response: %w", err)
		}
	}
	return nil
}
