package server

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rostilos/codecrow/internal/ai"
	"github.com/rostilos/codecrow/internal/analysis"
	"github.com/rostilos/codecrow/internal/config"
	"github.com/rostilos/codecrow/internal/events"
	"github.com/rostilos/codecrow/internal/lock"
	"github.com/rostilos/codecrow/internal/models"
	"github.com/rostilos/codecrow/internal/store"
	"github.com/rostilos/codecrow/internal/vcs"
)

type stubAI struct {
	result *ai.Result
}

func (s *stubAI) Analyze(ctx context.Context, payload *ai.Payload, sink events.Sink) (*ai.Result, error) {
	sink.Accept(events.Status("analyzing", "working"))
	if s.result != nil {
		return s.result, nil
	}
	return &ai.Result{Comment: "ok"}, nil
}

type stubVCS struct{ diff string }

func (s *stubVCS) PullRequestDiff(ctx context.Context, prNumber int) (string, error) {
	return s.diff, nil
}
func (s *stubVCS) CommitDiff(ctx context.Context, commitHash string) (string, error) {
	return s.diff, nil
}
func (s *stubVCS) FileExistsInBranch(ctx context.Context, branch, filePath string) (bool, error) {
	return true, nil
}
func (s *stubVCS) PostAnalysisReport(ctx context.Context, report *vcs.Report) error { return nil }

const stubDiff = `diff --git a/a.go b/a.go
index 1111111..2222222 100644
--- a/a.go
+++ b/a.go
@@ -1,1 +1,2 @@
+changed
`

func newTestServer(t *testing.T) (*httptest.Server, *store.MemoryStore) {
	t.Helper()

	cfg := config.Default()
	cfg.Locks.PollInterval = 10 * time.Millisecond
	cfg.Locks.MaxWait = 50 * time.Millisecond

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	st := store.NewMemoryStore()
	deps := analysis.Deps{
		Store:  st,
		Locker: lock.NewMemoryLocker(),
		AI: &stubAI{result: &ai.Result{
			Comment: "one finding",
			Issues: []*ai.ResultIssue{
				{FilePath: "a.go", Severity: models.SeverityHigh, Reason: "bug"},
			},
		}},
		VCS:    func(models.VcsConnection) (vcs.Operations, error) { return &stubVCS{diff: stubDiff}, nil },
		Config: cfg,
		Logger: logger,
	}

	srv := New(":0", "topsecret",
		analysis.NewPrProcessor(deps), analysis.NewBranchProcessor(deps),
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	ts := httptest.NewServer(srv.httpd.Handler)
	t.Cleanup(ts.Close)
	return ts, st
}

func seedServerProject(t *testing.T, st *store.MemoryStore) *models.Project {
	t.Helper()
	p := &models.Project{
		Name:      "demo",
		Namespace: "acme",
		Connection: models.VcsConnection{
			Provider: models.ProviderGitHub, Workspace: "acme", RepoSlug: "demo",
		},
		Config: models.ProjectConfig{PrAnalysisEnabled: true, BranchAnalysisEnabled: true},
	}
	require.NoError(t, st.SaveProject(context.Background(), p))
	return p
}

func postJSON(t *testing.T, url, secret, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		req.Header.Set("x-service-secret", secret)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func readEvents(t *testing.T, body io.Reader) []events.Event {
	t.Helper()
	var out []events.Event
	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var e events.Event
		require.NoError(t, json.Unmarshal([]byte(line), &e), "line %q", line)
		out = append(out, e)
	}
	return out
}

func TestPrEndpointStreamsLifecycle(t *testing.T) {
	ts, st := newTestServer(t)
	p := seedServerProject(t, st)

	resp := postJSON(t, ts.URL+"/analysis/pr", "topsecret",
		`{"projectId":`+jsonID(p.ID)+`,"prNumber":7,"commitHash":"c1","sourceBranch":"feature","targetBranch":"main"}`)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/x-ndjson", resp.Header.Get("Content-Type"))

	evs := readEvents(t, resp.Body)
	require.NotEmpty(t, evs)
	assert.Equal(t, "analysis_started", evs[0].Type())

	last := evs[len(evs)-1]
	assert.Equal(t, "completed", last.Type())
	assert.Equal(t, events.StatusSuccess, last["status"])
	assert.Equal(t, float64(1), last["issues_found"])
}

func TestBranchEndpointStreamsLifecycle(t *testing.T) {
	ts, st := newTestServer(t)
	p := seedServerProject(t, st)

	resp := postJSON(t, ts.URL+"/analysis/branch", "topsecret",
		`{"projectId":`+jsonID(p.ID)+`,"targetBranch":"main","commitHash":"merge1"}`)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	evs := readEvents(t, resp.Body)
	require.NotEmpty(t, evs)
	assert.Equal(t, "completed", evs[len(evs)-1].Type())
	assert.Equal(t, events.StatusSuccess, evs[len(evs)-1]["status"])
}

func TestEndpointsRejectBadSecret(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/analysis/pr", "wrong", `{}`)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	missing := postJSON(t, ts.URL+"/analysis/branch", "", `{}`)
	defer missing.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, missing.StatusCode)
}

func TestEndpointsRejectInvalidRequests(t *testing.T) {
	ts, _ := newTestServer(t)

	malformed := postJSON(t, ts.URL+"/analysis/pr", "topsecret", `{not json`)
	defer malformed.Body.Close()
	assert.Equal(t, http.StatusBadRequest, malformed.StatusCode)

	invalid := postJSON(t, ts.URL+"/analysis/pr", "topsecret", `{"projectId":0}`)
	defer invalid.Body.Close()
	assert.Equal(t, http.StatusBadRequest, invalid.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(invalid.Body).Decode(&body))
	assert.Contains(t, body["error"], "projectId")
}

func TestHealthz(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func jsonID(id int64) string {
	b, _ := json.Marshal(id)
	return string(b)
}
