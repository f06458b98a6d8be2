package analysis

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rostilos/codecrow/internal/ai"
	"github.com/rostilos/codecrow/internal/cache"
	"github.com/rostilos/codecrow/internal/config"
	"github.com/rostilos/codecrow/internal/errors"
	"github.com/rostilos/codecrow/internal/events"
	"github.com/rostilos/codecrow/internal/jobs"
	"github.com/rostilos/codecrow/internal/lock"
	"github.com/rostilos/codecrow/internal/models"
	"github.com/rostilos/codecrow/internal/rag"
	"github.com/rostilos/codecrow/internal/store"
	"github.com/rostilos/codecrow/internal/vcs"
)

// AIClient is the slice of the AI client the processors consume.
type AIClient interface {
	Analyze(ctx context.Context, payload *ai.Payload, sink events.Sink) (*ai.Result, error)
}

// Deps wires one processor instance. Jobs, Diffs and Rag may be left unset;
// nil-safe defaults are substituted.
type Deps struct {
	Store  store.Store
	Locker lock.Locker
	AI     AIClient
	VCS    vcs.Factory
	Rag    rag.Operations
	Diffs  *cache.DiffCache
	Jobs   jobs.Recorder
	Config *config.Config
	Logger *logrus.Logger
}

func (d *Deps) normalize() {
	if d.Jobs == nil {
		d.Jobs = jobs.Discard
	}
	if d.Logger == nil {
		d.Logger = logrus.New()
	}
	if d.Config == nil {
		d.Config = config.Default()
	}
}

func (d *Deps) lockTTL(analysisType models.AnalysisType) time.Duration {
	return d.Config.LockTTLFor(string(analysisType))
}

func (d *Deps) waitOptions() lock.WaitOptions {
	return lock.WaitOptions{
		PollInterval: d.Config.Locks.PollInterval,
		MaxWait:      d.Config.Locks.MaxWait,
	}
}

// terminator guarantees exactly one terminal completed event per run, no
// matter which path exits the pipeline.
type terminator struct {
	sink events.Sink
	sent bool
}

func (t *terminator) complete(status, message string, issuesFound, filesAnalyzed int) {
	if t.sent {
		return
	}
	t.sent = true
	t.sink.Accept(events.Completed(status, message, issuesFound, filesAnalyzed))
}

// failWith maps an error to its terminal status and emits it.
func (t *terminator) failWith(err error) {
	status := events.StatusFailed
	message := err.Error()
	if errors.KindOf(err) == errors.KindCancelled {
		status = events.StatusCancelled
		message = "Analysis cancelled"
	}
	if errors.IsLocked(err) {
		message = "Lock acquisition timeout"
	}
	t.complete(status, message, 0, 0)
}

// issuesFromResult converts normalised AI findings to persistence rows.
func issuesFromResult(issues []*ai.ResultIssue) []*models.CodeAnalysisIssue {
	out := make([]*models.CodeAnalysisIssue, 0, len(issues))
	for _, iss := range issues {
		out = append(out, &models.CodeAnalysisIssue{
			FilePath:     iss.FilePath,
			LineNumber:   iss.LineNumber,
			Severity:     iss.Severity,
			Reason:       iss.Reason,
			SuggestedFix: iss.SuggestedFix,
			Resolved:     iss.Resolved,
		})
	}
	return out
}
