package analysis

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/rostilos/codecrow/internal/ai"
	"github.com/rostilos/codecrow/internal/config"
	"github.com/rostilos/codecrow/internal/events"
	"github.com/rostilos/codecrow/internal/lock"
	"github.com/rostilos/codecrow/internal/models"
	"github.com/rostilos/codecrow/internal/store"
	"github.com/rostilos/codecrow/internal/vcs"
)

func intPtr(n int) *int { return &n }

type fakeAI struct {
	mu       sync.Mutex
	result   *ai.Result
	err      error
	emit     []events.Event
	payloads []*ai.Payload
}

func (f *fakeAI) Analyze(ctx context.Context, payload *ai.Payload, sink events.Sink) (*ai.Result, error) {
	f.mu.Lock()
	f.payloads = append(f.payloads, payload)
	f.mu.Unlock()
	for _, e := range f.emit {
		sink.Accept(e)
	}
	if f.err != nil {
		return f.result, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &ai.Result{Comment: "looks fine"}, nil
}

func (f *fakeAI) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payloads)
}

func (f *fakeAI) lastPayload() *ai.Payload {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.payloads) == 0 {
		return nil
	}
	return f.payloads[len(f.payloads)-1]
}

type fakeVCS struct {
	mu        sync.Mutex
	diff      string
	diffErr   error
	missing   map[string]bool  // path -> absent from branch head
	probeErrs map[string]error // path -> probe failure
	reportErr error
	reports   []*vcs.Report
	probed    []string
}

func (f *fakeVCS) PullRequestDiff(ctx context.Context, prNumber int) (string, error) {
	return f.diff, f.diffErr
}

func (f *fakeVCS) CommitDiff(ctx context.Context, commitHash string) (string, error) {
	return f.diff, f.diffErr
}

func (f *fakeVCS) FileExistsInBranch(ctx context.Context, branch, filePath string) (bool, error) {
	f.mu.Lock()
	f.probed = append(f.probed, filePath)
	f.mu.Unlock()
	if err := f.probeErrs[filePath]; err != nil {
		return false, err
	}
	return !f.missing[filePath], nil
}

func (f *fakeVCS) PostAnalysisReport(ctx context.Context, report *vcs.Report) error {
	if f.reportErr != nil {
		return f.reportErr
	}
	f.mu.Lock()
	f.reports = append(f.reports, report)
	f.mu.Unlock()
	return nil
}

func (f *fakeVCS) postedReports() []*vcs.Report {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*vcs.Report, len(f.reports))
	copy(out, f.reports)
	return out
}

func (f *fakeVCS) probedFiles() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.probed))
	copy(out, f.probed)
	return out
}

func (f *fakeVCS) factory() vcs.Factory {
	return func(models.VcsConnection) (vcs.Operations, error) { return f, nil }
}

type fakeRag struct {
	mu          sync.Mutex
	enabled     bool
	ensureErr   error
	triggerErr  error
	ensures     int
	triggers    int
	lastTrigger string // diff passed to the last incremental update
}

func (f *fakeRag) IsEnabled(project *models.Project) bool { return f.enabled }

func (f *fakeRag) IsReady(ctx context.Context, project *models.Project, branch string) (bool, error) {
	return f.enabled, nil
}

func (f *fakeRag) EnsureIndexUpToDate(ctx context.Context, project *models.Project, branch string, sink events.Sink) error {
	f.mu.Lock()
	f.ensures++
	f.mu.Unlock()
	return f.ensureErr
}

func (f *fakeRag) TriggerIncrementalUpdate(ctx context.Context, project *models.Project, branch, commitHash, unifiedDiff string, sink events.Sink) error {
	f.mu.Lock()
	f.triggers++
	f.lastTrigger = unifiedDiff
	f.mu.Unlock()
	return f.triggerErr
}

// testEnv bundles the in-memory backends one processor test needs.
type testEnv struct {
	store  *store.MemoryStore
	locker *lock.MemoryLocker
	ai     *fakeAI
	vcs    *fakeVCS
	rag    *fakeRag
	deps   Deps
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := config.Default()
	cfg.Locks.PollInterval = 10 * time.Millisecond
	cfg.Locks.MaxWait = 60 * time.Millisecond

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	env := &testEnv{
		store:  store.NewMemoryStore(),
		locker: lock.NewMemoryLocker(),
		ai:     &fakeAI{},
		vcs:    &fakeVCS{},
		rag:    &fakeRag{},
	}
	env.deps = Deps{
		Store:  env.store,
		Locker: env.locker,
		AI:     env.ai,
		VCS:    env.vcs.factory(),
		Rag:    env.rag,
		Config: cfg,
		Logger: logger,
	}
	return env
}

func (e *testEnv) seedProject(t *testing.T) *models.Project {
	t.Helper()
	p := &models.Project{
		Name:      "demo",
		Namespace: "acme",
		Connection: models.VcsConnection{
			Provider: models.ProviderGitHub, Workspace: "acme", RepoSlug: "demo",
		},
		Config: models.ProjectConfig{
			PrAnalysisEnabled:     true,
			BranchAnalysisEnabled: true,
		},
	}
	require.NoError(t, e.store.SaveProject(context.Background(), p))
	return p
}

// completedEvents asserts the terminal-event property: exactly one completed
// event with the expected status.
func completedOnce(t *testing.T, c *events.Collector, status string) events.Event {
	t.Helper()
	completed := c.OfType("completed")
	require.Len(t, completed, 1, "exactly one terminal event per run")
	require.Equal(t, status, completed[0]["status"])
	return completed[0]
}

func diffFor(paths ...string) string {
	var out string
	for _, p := range paths {
		out += "diff --git a/" + p + " b/" + p + "\n" +
			"index 1111111..2222222 100644\n" +
			"--- a/" + p + "\n" +
			"+++ b/" + p + "\n" +
			"@@ -1,1 +1,2 @@\n" +
			"+changed line\n"
	}
	return out
}
