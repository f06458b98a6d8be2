package vcs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/rostilos/codecrow/internal/models"
)

// bitbucketOps implements Operations over the Bitbucket Cloud 2.0 API. The
// diff endpoints return raw unified diffs directly.
type bitbucketOps struct {
	rest    *restClient
	baseURL string
	repo    string // workspace/slug
	logger  *slog.Logger
}

func newBitbucketOps(conn models.VcsConnection, logger *slog.Logger) *bitbucketOps {
	base := conn.BaseURL
	if base == "" {
		base = "https://api.bitbucket.org"
	}
	l := logger.With("provider", "bitbucket")
	return &bitbucketOps{
		rest:    &restClient{httpc: newHTTPClient(), token: conn.Token, logger: l},
		baseURL: strings.TrimSuffix(base, "/"),
		repo:    conn.Workspace + "/" + conn.RepoSlug,
		logger:  l,
	}
}

func (b *bitbucketOps) PullRequestDiff(ctx context.Context, prNumber int) (string, error) {
	u := fmt.Sprintf("%s/2.0/repositories/%s/pullrequests/%d/diff", b.baseURL, b.repo, prNumber)
	body, err := b.rest.doRaw(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("fetch pr diff: %w", err)
	}
	return string(body), nil
}

func (b *bitbucketOps) CommitDiff(ctx context.Context, commitHash string) (string, error) {
	u := fmt.Sprintf("%s/2.0/repositories/%s/diff/%s", b.baseURL, b.repo, url.PathEscape(commitHash))
	body, err := b.rest.doRaw(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("fetch commit diff: %w", err)
	}
	return string(body), nil
}

func (b *bitbucketOps) FileExistsInBranch(ctx context.Context, branch, filePath string) (bool, error) {
	u := fmt.Sprintf("%s/2.0/repositories/%s/src/%s/%s?format=meta",
		b.baseURL, b.repo, url.PathEscape(branch), escapePath(filePath))
	_, err := b.rest.doRaw(ctx, http.MethodGet, u, nil)
	if err != nil {
		if errors.Is(err, errNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("check file exists: %w", err)
	}
	return true, nil
}

func (b *bitbucketOps) PostAnalysisReport(ctx context.Context, report *Report) error {
	payload, err := json.Marshal(map[string]interface{}{
		"content": map[string]string{"raw": RenderMarkdown(report)},
	})
	if err != nil {
		return err
	}

	method := http.MethodPost
	u := fmt.Sprintf("%s/2.0/repositories/%s/pullrequests/%d/comments",
		b.baseURL, b.repo, report.PrNumber)
	if report.PlaceholderCommentID != nil {
		method = http.MethodPut
		u = fmt.Sprintf("%s/%d", u, *report.PlaceholderCommentID)
	}

	_, err = b.rest.doSend(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, method, u, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return fmt.Errorf("post analysis report: %w", err)
	}
	return nil
}

// escapePath escapes a repository path segment-by-segment, keeping the
// slashes the src endpoint expects.
func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}
