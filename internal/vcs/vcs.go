package vcs

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/rostilos/codecrow/internal/models"
)

// Report is the rendered result of an analysis run posted back to the
// provider. When PlaceholderCommentID is set, the existing comment is updated
// in place, making the post idempotent.
type Report struct {
	PrNumber             int
	CommitHash           string
	Comment              string
	Issues               []*models.CodeAnalysisIssue
	Cached               bool
	PlaceholderCommentID *int64
}

// Operations is the provider-agnostic capability the core consumes. One
// implementation exists per provider; all calls honour context cancellation
// and retry on provider rate limiting.
type Operations interface {
	// PullRequestDiff returns the unified diff across all files in the PR,
	// not just the head commit.
	PullRequestDiff(ctx context.Context, prNumber int) (string, error)

	// CommitDiff returns the unified diff introduced by one commit.
	CommitDiff(ctx context.Context, commitHash string) (string, error)

	// FileExistsInBranch probes a path on a ref. 404 is a successful false;
	// other failures are surfaced.
	FileExistsInBranch(ctx context.Context, branch, filePath string) (bool, error)

	// PostAnalysisReport posts or updates the analysis comment on the PR.
	PostAnalysisReport(ctx context.Context, report *Report) error
}

// New dispatches on the connection's provider tag.
func New(conn models.VcsConnection, logger *slog.Logger) (Operations, error) {
	switch conn.Provider {
	case models.ProviderGitHub:
		return newGitHubOps(conn, logger), nil
	case models.ProviderGitLab:
		return newGitLabOps(conn, logger), nil
	case models.ProviderBitbucketCloud:
		return newBitbucketOps(conn, logger), nil
	default:
		return nil, fmt.Errorf("unknown vcs provider %q", conn.Provider)
	}
}

// Factory resolves Operations for a project connection. Indirected so tests
// can substitute a fake provider.
type Factory func(conn models.VcsConnection) (Operations, error)

// DefaultFactory builds the real provider clients.
func DefaultFactory(logger *slog.Logger) Factory {
	return func(conn models.VcsConnection) (Operations, error) {
		return New(conn, logger)
	}
}

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: 60 * time.Second}
}
