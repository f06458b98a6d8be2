package analysis

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rostilos/codecrow/internal/ai"
	"github.com/rostilos/codecrow/internal/errors"
	"github.com/rostilos/codecrow/internal/events"
	"github.com/rostilos/codecrow/internal/lock"
	"github.com/rostilos/codecrow/internal/models"
)

func prRequest(projectID int64) *PrAnalysisRequest {
	return &PrAnalysisRequest{
		ProjectID:    projectID,
		PrNumber:     7,
		CommitHash:   "commit1",
		SourceBranch: "feature",
		TargetBranch: "main",
	}
}

func TestPrAnalysisFullRun(t *testing.T) {
	env := newTestEnv(t)
	p := env.seedProject(t)
	env.vcs.diff = diffFor("a.go", "b.go")
	env.ai.result = &ai.Result{
		Comment: "two findings",
		Issues: []*ai.ResultIssue{
			{FilePath: "a.go", LineNumber: intPtr(3), Severity: models.SeverityHigh, Reason: "bug"},
			{FilePath: "b.go", Severity: models.SeverityLow, Reason: "nit"},
		},
	}

	collector := &events.Collector{}
	analysis, err := NewPrProcessor(env.deps).Process(context.Background(), prRequest(p.ID), collector)
	require.NoError(t, err)
	require.NotNil(t, analysis)

	assert.Equal(t, models.StatusAccepted, analysis.Status)
	assert.Equal(t, "two findings", analysis.Comment)
	require.Len(t, analysis.Issues, 2)
	assert.NotZero(t, analysis.Issues[0].ID, "issues are persisted with ids")

	// Persisted under the cache fingerprint.
	cached, err := env.store.FindAcceptedAnalysis(context.Background(), p.ID, "commit1", intPtr(7))
	require.NoError(t, err)
	assert.Equal(t, analysis.ID, cached.ID)

	// Report posted once, not cached.
	reports := env.vcs.postedReports()
	require.Len(t, reports, 1)
	assert.False(t, reports[0].Cached)
	assert.Equal(t, 7, reports[0].PrNumber)

	// Event stream: started first, exactly one terminal.
	all := collector.Events()
	require.NotEmpty(t, all)
	assert.Equal(t, "analysis_started", all[0].Type())
	done := completedOnce(t, collector, events.StatusSuccess)
	assert.Equal(t, 2, done["issues_found"])
	assert.Equal(t, 2, done["files_analyzed"])

	// Lock released after the run.
	assert.False(t, env.locker.Held(p.ID, "feature", models.PrAnalysis))

	// Payload carried the parsed changed files.
	payload := env.ai.lastPayload()
	require.NotNil(t, payload)
	assert.Equal(t, []string{"a.go", "b.go"}, payload.ChangedFiles)
	assert.Equal(t, models.PrAnalysis, payload.AnalysisType)
}

func TestPrAnalysisCacheHit(t *testing.T) {
	env := newTestEnv(t)
	p := env.seedProject(t)
	env.vcs.diff = diffFor("a.go")

	prior := &models.CodeAnalysis{
		ProjectID:        p.ID,
		AnalysisType:     models.PrAnalysis,
		PrNumber:         intPtr(7),
		BranchName:       "main",
		SourceBranchName: "feature",
		CommitHash:       "commit1",
		Status:           models.StatusAccepted,
		Comment:          "from before",
	}
	require.NoError(t, env.store.SaveAnalysis(context.Background(), prior))

	collector := &events.Collector{}
	got, err := NewPrProcessor(env.deps).Process(context.Background(), prRequest(p.ID), collector)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, prior.ID, got.ID)

	// No new analysis, no AI call.
	assert.Equal(t, 0, env.ai.calls())
	history, err := env.store.ListPrAnalyses(context.Background(), p.ID, 7)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	// Cached report re-posted.
	reports := env.vcs.postedReports()
	require.Len(t, reports, 1)
	assert.True(t, reports[0].Cached)

	results := collector.OfType("result")
	require.Len(t, results, 1)
	assert.Equal(t, true, results[0]["cached"])

	done := completedOnce(t, collector, events.StatusSuccess)
	assert.Equal(t, 0, done["issues_found"])
	assert.Equal(t, 0, done["files_analyzed"])
}

func TestPrAnalysisLockTimeout(t *testing.T) {
	env := newTestEnv(t)
	p := env.seedProject(t)

	// Another run holds the source branch tuple.
	held, err := env.locker.Acquire(context.Background(), lock.Request{
		ProjectID:    p.ID,
		BranchName:   "feature",
		AnalysisType: models.PrAnalysis,
		CommitHash:   "other",
	})
	require.NoError(t, err)
	require.True(t, held.Acquired)

	collector := &events.Collector{}
	_, err = NewPrProcessor(env.deps).Process(context.Background(), prRequest(p.ID), collector)
	require.Error(t, err)
	assert.True(t, errors.IsLocked(err))

	done := completedOnce(t, collector, events.StatusFailed)
	assert.Equal(t, "Lock acquisition timeout", done["message"])
	assert.NotEmpty(t, collector.OfType("lock_waiting"))

	// Nothing ran: no AI call, no analysis rows, no report.
	assert.Equal(t, 0, env.ai.calls())
	history, err := env.store.ListPrAnalyses(context.Background(), p.ID, 7)
	require.NoError(t, err)
	assert.Empty(t, history)
	assert.Empty(t, env.vcs.postedReports())
}

func TestPrAnalysisPreAcquiredLockNotReleased(t *testing.T) {
	env := newTestEnv(t)
	p := env.seedProject(t)
	env.vcs.diff = diffFor("a.go")

	held, err := env.locker.Acquire(context.Background(), lock.Request{
		ProjectID:    p.ID,
		BranchName:   "feature",
		AnalysisType: models.PrAnalysis,
		CommitHash:   "commit1",
	})
	require.NoError(t, err)
	require.True(t, held.Acquired)

	req := prRequest(p.ID)
	req.PreAcquiredLockKey = held.LockKey

	collector := &events.Collector{}
	_, err = NewPrProcessor(env.deps).Process(context.Background(), req, collector)
	require.NoError(t, err)

	completedOnce(t, collector, events.StatusSuccess)
	assert.True(t, env.locker.Held(p.ID, "feature", models.PrAnalysis),
		"the outer coordinator owns the lock lifecycle")
}

func TestPrAnalysisReportFailureIsNonFatal(t *testing.T) {
	env := newTestEnv(t)
	p := env.seedProject(t)
	env.vcs.diff = diffFor("a.go")
	env.vcs.reportErr = assert.AnError

	collector := &events.Collector{}
	analysis, err := NewPrProcessor(env.deps).Process(context.Background(), prRequest(p.ID), collector)
	require.NoError(t, err, "the analysis is already persisted; posting is best-effort")
	require.NotNil(t, analysis)

	completedOnce(t, collector, events.StatusSuccess)
	assert.NotEmpty(t, collector.OfType("warning"))
}

func TestPrAnalysisAiFailure(t *testing.T) {
	env := newTestEnv(t)
	p := env.seedProject(t)
	env.vcs.diff = diffFor("a.go")
	env.ai.err = errors.New(errors.KindUpstreamAi, "model unavailable")

	collector := &events.Collector{}
	_, err := NewPrProcessor(env.deps).Process(context.Background(), prRequest(p.ID), collector)
	require.Error(t, err)
	assert.Equal(t, errors.KindUpstreamAi, errors.KindOf(err))

	completedOnce(t, collector, events.StatusFailed)

	// Failed runs leave no accepted analysis and release the lock.
	history, listErr := env.store.ListPrAnalyses(context.Background(), p.ID, 7)
	require.NoError(t, listErr)
	assert.Empty(t, history)
	assert.False(t, env.locker.Held(p.ID, "feature", models.PrAnalysis))
}

func TestPrAnalysisPriorIssuesCarried(t *testing.T) {
	env := newTestEnv(t)
	p := env.seedProject(t)
	env.vcs.diff = diffFor("a.go")

	prior := &models.CodeAnalysis{
		ProjectID:        p.ID,
		AnalysisType:     models.PrAnalysis,
		PrNumber:         intPtr(7),
		BranchName:       "main",
		SourceBranchName: "feature",
		CommitHash:       "commit0",
		Status:           models.StatusAccepted,
		Issues: []*models.CodeAnalysisIssue{
			{FilePath: "a.go", Severity: models.SeverityHigh, Reason: "still open"},
			{FilePath: "b.go", Severity: models.SeverityLow, Reason: "fixed", Resolved: true},
		},
	}
	require.NoError(t, env.store.SaveAnalysis(context.Background(), prior))

	req := prRequest(p.ID)
	req.CommitHash = "commit1" // new head, so no cache hit
	_, err := NewPrProcessor(env.deps).Process(context.Background(), req, &events.Collector{})
	require.NoError(t, err)

	payload := env.ai.lastPayload()
	require.NotNil(t, payload)
	require.Len(t, payload.PriorIssues, 1, "only unresolved prior issues are carried")
	assert.Equal(t, "still open", payload.PriorIssues[0].Reason)
	assert.Equal(t, 1, payload.PriorAnalysisCount)
}

func TestPrAnalysisValidation(t *testing.T) {
	env := newTestEnv(t)

	_, err := NewPrProcessor(env.deps).Process(context.Background(), &PrAnalysisRequest{}, &events.Collector{})
	require.Error(t, err)
	assert.Equal(t, errors.KindInvalidRequest, errors.KindOf(err))
}

func TestPrAnalysisDisabledProject(t *testing.T) {
	env := newTestEnv(t)
	p := env.seedProject(t)
	p.Config.PrAnalysisEnabled = false
	require.NoError(t, env.store.SaveProject(context.Background(), p))

	collector := &events.Collector{}
	_, err := NewPrProcessor(env.deps).Process(context.Background(), prRequest(p.ID), collector)
	require.Error(t, err)
	assert.Equal(t, errors.KindInvalidRequest, errors.KindOf(err))
	completedOnce(t, collector, events.StatusFailed)
}

func TestPrAnalysisRagFailureIsNonFatal(t *testing.T) {
	env := newTestEnv(t)
	p := env.seedProject(t)
	p.Config.Rag.Enabled = true
	require.NoError(t, env.store.SaveProject(context.Background(), p))
	env.vcs.diff = diffFor("a.go")
	env.rag.enabled = true
	env.rag.ensureErr = assert.AnError

	collector := &events.Collector{}
	_, err := NewPrProcessor(env.deps).Process(context.Background(), prRequest(p.ID), collector)
	require.NoError(t, err)

	completedOnce(t, collector, events.StatusSuccess)
	assert.NotEmpty(t, collector.OfType("warning"))
	assert.Equal(t, 1, env.rag.ensures)
}
