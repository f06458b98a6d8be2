package vcs

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/go-github/v57/github"
	"golang.org/x/time/rate"

	"github.com/rostilos/codecrow/internal/models"
)

// githubOps implements Operations for GitHub using the official client, with
// a client-side limiter in front of every call.
type githubOps struct {
	client  *github.Client
	limiter *rate.Limiter
	owner   string
	repo    string
	logger  *slog.Logger
}

func newGitHubOps(conn models.VcsConnection, logger *slog.Logger) *githubOps {
	client := github.NewClient(nil).WithAuthToken(conn.Token)
	return &githubOps{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(10), 1),
		owner:   conn.Workspace,
		repo:    conn.RepoSlug,
		logger:  logger.With("provider", "github"),
	}
}

// asRateLimited converts the client's rate-limit error types into the shared
// retry signal.
func asRateLimited(err error) error {
	switch e := err.(type) {
	case *github.RateLimitError:
		return &rateLimited{}
	case *github.AbuseRateLimitError:
		rl := &rateLimited{}
		if e.RetryAfter != nil {
			rl.retryAfter = *e.RetryAfter
		}
		return rl
	}
	return err
}

func (g *githubOps) PullRequestDiff(ctx context.Context, prNumber int) (string, error) {
	var diff string
	err := withRetry(ctx, g.logger, "pr diff", func() error {
		if err := g.limiter.Wait(ctx); err != nil {
			return err
		}
		raw, _, err := g.client.PullRequests.GetRaw(ctx, g.owner, g.repo, prNumber,
			github.RawOptions{Type: github.Diff})
		if err != nil {
			return asRateLimited(err)
		}
		diff = raw
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("fetch pr diff: %w", err)
	}
	return diff, nil
}

func (g *githubOps) CommitDiff(ctx context.Context, commitHash string) (string, error) {
	var diff string
	err := withRetry(ctx, g.logger, "commit diff", func() error {
		if err := g.limiter.Wait(ctx); err != nil {
			return err
		}
		raw, _, err := g.client.Repositories.GetCommitRaw(ctx, g.owner, g.repo, commitHash,
			github.RawOptions{Type: github.Diff})
		if err != nil {
			return asRateLimited(err)
		}
		diff = raw
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("fetch commit diff: %w", err)
	}
	return diff, nil
}

func (g *githubOps) FileExistsInBranch(ctx context.Context, branch, filePath string) (bool, error) {
	exists := false
	err := withRetry(ctx, g.logger, "file exists", func() error {
		if err := g.limiter.Wait(ctx); err != nil {
			return err
		}
		_, _, resp, err := g.client.Repositories.GetContents(ctx, g.owner, g.repo, filePath,
			&github.RepositoryContentGetOptions{Ref: branch})
		if err != nil {
			if resp != nil && resp.StatusCode == http.StatusNotFound {
				exists = false
				return nil
			}
			return asRateLimited(err)
		}
		exists = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("check file exists: %w", err)
	}
	return exists, nil
}

func (g *githubOps) PostAnalysisReport(ctx context.Context, report *Report) error {
	body := RenderMarkdown(report)
	err := withRetry(ctx, g.logger, "post report", func() error {
		if err := g.limiter.Wait(ctx); err != nil {
			return err
		}
		var err error
		if report.PlaceholderCommentID != nil {
			_, _, err = g.client.Issues.EditComment(ctx, g.owner, g.repo,
				*report.PlaceholderCommentID, &github.IssueComment{Body: &body})
		} else {
			_, _, err = g.client.Issues.CreateComment(ctx, g.owner, g.repo,
				report.PrNumber, &github.IssueComment{Body: &body})
		}
		return asRateLimited(err)
	})
	if err != nil {
		return fmt.Errorf("post analysis report: %w", err)
	}
	return nil
}
