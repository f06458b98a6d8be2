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

// gitlabOps implements Operations over the GitLab REST API (OAuth bearer).
type gitlabOps struct {
	rest    *restClient
	baseURL string
	project string // URL-encoded namespace/slug
	logger  *slog.Logger
}

func newGitLabOps(conn models.VcsConnection, logger *slog.Logger) *gitlabOps {
	base := conn.BaseURL
	if base == "" {
		base = "https://gitlab.com"
	}
	l := logger.With("provider", "gitlab")
	return &gitlabOps{
		rest:    &restClient{httpc: newHTTPClient(), token: conn.Token, logger: l},
		baseURL: strings.TrimSuffix(base, "/"),
		project: url.PathEscape(conn.Workspace + "/" + conn.RepoSlug),
		logger:  l,
	}
}

// gitlabDiff is one entry of the commit/MR diff JSON.
type gitlabDiff struct {
	Diff        string `json:"diff"`
	OldPath     string `json:"old_path"`
	NewPath     string `json:"new_path"`
	NewFile     bool   `json:"new_file"`
	RenamedFile bool   `json:"renamed_file"`
	DeletedFile bool   `json:"deleted_file"`
}

// reassemble renders GitLab's per-file diff JSON back into a unified diff
// with the git extended headers the parser relies on.
func reassemble(diffs []gitlabDiff) string {
	var sb strings.Builder
	for _, d := range diffs {
		fmt.Fprintf(&sb, "diff --git a/%s b/%s\n", d.OldPath, d.NewPath)
		switch {
		case d.NewFile:
			sb.WriteString("new file mode 100644\n")
		case d.DeletedFile:
			sb.WriteString("deleted file mode 100644\n")
		case d.RenamedFile:
			fmt.Fprintf(&sb, "rename from %s\n", d.OldPath)
			fmt.Fprintf(&sb, "rename to %s\n", d.NewPath)
		}
		fmt.Fprintf(&sb, "--- a/%s\n", d.OldPath)
		fmt.Fprintf(&sb, "+++ b/%s\n", d.NewPath)
		sb.WriteString(d.Diff)
		if !strings.HasSuffix(d.Diff, "\n") {
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

func (g *gitlabOps) PullRequestDiff(ctx context.Context, prNumber int) (string, error) {
	u := fmt.Sprintf("%s/api/v4/projects/%s/merge_requests/%d/diffs?per_page=100",
		g.baseURL, g.project, prNumber)
	body, err := g.rest.doRaw(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("fetch mr diff: %w", err)
	}
	var diffs []gitlabDiff
	if err := json.Unmarshal(body, &diffs); err != nil {
		return "", fmt.Errorf("decode mr diff: %w", err)
	}
	return reassemble(diffs), nil
}

func (g *gitlabOps) CommitDiff(ctx context.Context, commitHash string) (string, error) {
	u := fmt.Sprintf("%s/api/v4/projects/%s/repository/commits/%s/diff",
		g.baseURL, g.project, url.PathEscape(commitHash))
	body, err := g.rest.doRaw(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("fetch commit diff: %w", err)
	}
	var diffs []gitlabDiff
	if err := json.Unmarshal(body, &diffs); err != nil {
		return "", fmt.Errorf("decode commit diff: %w", err)
	}
	return reassemble(diffs), nil
}

func (g *gitlabOps) FileExistsInBranch(ctx context.Context, branch, filePath string) (bool, error) {
	u := fmt.Sprintf("%s/api/v4/projects/%s/repository/files/%s?ref=%s",
		g.baseURL, g.project, url.PathEscape(filePath), url.QueryEscape(branch))
	_, err := g.rest.doRaw(ctx, http.MethodHead, u, nil)
	if err != nil {
		if errors.Is(err, errNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("check file exists: %w", err)
	}
	return true, nil
}

func (g *gitlabOps) PostAnalysisReport(ctx context.Context, report *Report) error {
	payload, err := json.Marshal(map[string]string{"body": RenderMarkdown(report)})
	if err != nil {
		return err
	}

	method := http.MethodPost
	u := fmt.Sprintf("%s/api/v4/projects/%s/merge_requests/%d/notes",
		g.baseURL, g.project, report.PrNumber)
	if report.PlaceholderCommentID != nil {
		method = http.MethodPut
		u = fmt.Sprintf("%s/%d", u, *report.PlaceholderCommentID)
	}

	_, err = g.rest.doSend(ctx, func() (*http.Request, error) {
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
