package analysis

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/rostilos/codecrow/internal/ai"
	"github.com/rostilos/codecrow/internal/diff"
	"github.com/rostilos/codecrow/internal/errors"
	"github.com/rostilos/codecrow/internal/events"
	"github.com/rostilos/codecrow/internal/jobs"
	"github.com/rostilos/codecrow/internal/lock"
	"github.com/rostilos/codecrow/internal/models"
	"github.com/rostilos/codecrow/internal/store"
	"github.com/rostilos/codecrow/internal/vcs"
)

// PrProcessor runs the pull-request pipeline: lock, cache check, diff, AI
// stream, persistence, report. Exactly one terminal completed event reaches
// the sink on every exit path.
type PrProcessor struct {
	deps Deps
}

// NewPrProcessor wires a PR pipeline.
func NewPrProcessor(deps Deps) *PrProcessor {
	deps.normalize()
	return &PrProcessor{deps: deps}
}

// Process executes one PR analysis. The returned analysis is nil on the
// cached path's caller-visible error paths; on a cache hit the previously
// accepted analysis is returned.
func (p *PrProcessor) Process(ctx context.Context, req *PrAnalysisRequest, sink events.Sink) (result *models.CodeAnalysis, runErr error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	guarded := events.Guard(sink, slog.Default())
	term := &terminator{sink: guarded}
	correlationID := uuid.NewString()

	log := p.deps.Logger.WithFields(logrus.Fields{
		"correlation_id": correlationID,
		"project_id":     req.ProjectID,
		"pr_number":      req.PrNumber,
		"commit":         shortHash(req.CommitHash),
	})

	guarded.Accept(events.Started(correlationID, string(models.PrAnalysis)))
	p.deps.Jobs.JobStarted(ctx, correlationID, req.ProjectID, models.PrAnalysis, req.TargetBranch, &req.PrNumber)

	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("pr pipeline panicked")
			term.complete(events.StatusFailed, "internal error", 0, 0)
			runErr = errors.Newf(errors.KindInternal, "pipeline panic: %v", r)
		}
		status := events.StatusSuccess
		if runErr != nil {
			status = events.StatusFailed
			if errors.KindOf(runErr) == errors.KindCancelled {
				status = events.StatusCancelled
			}
			term.failWith(runErr)
		}
		p.deps.Jobs.JobFinished(ctx, correlationID, status)
	}()

	result, runErr = p.run(ctx, correlationID, req, guarded, term, log)
	return result, runErr
}

func (p *PrProcessor) run(ctx context.Context, correlationID string, req *PrAnalysisRequest,
	sink events.Sink, term *terminator, log *logrus.Entry) (*models.CodeAnalysis, error) {

	project, err := p.deps.Store.GetProject(ctx, req.ProjectID)
	if err != nil {
		return nil, errors.Persistence(err, "load project")
	}
	if !project.Config.PrAnalysisEnabled {
		return nil, errors.InvalidRequest("PR analysis is disabled for this project")
	}

	// Lock the source branch tuple. A pre-acquired key means an outer
	// coordinator owns the lock lifecycle.
	lockKey := req.PreAcquiredLockKey
	ownsLock := false
	if lockKey == "" {
		lockKey, err = p.deps.Locker.AcquireWait(ctx, lock.Request{
			ProjectID:    req.ProjectID,
			BranchName:   req.SourceBranch,
			AnalysisType: models.PrAnalysis,
			CommitHash:   req.CommitHash,
			PrNumber:     &req.PrNumber,
			TTL:          p.deps.lockTTL(models.PrAnalysis),
		}, sink, p.deps.waitOptions())
		if err != nil {
			p.deps.Jobs.StageFailed(ctx, correlationID, jobs.StageLock, err)
			return nil, err
		}
		ownsLock = true
	}
	defer func() {
		if ownsLock {
			if relErr := p.deps.Locker.Release(context.WithoutCancel(ctx), lockKey); relErr != nil {
				log.WithError(relErr).Warn("lock release failed; sweeper will reclaim")
			}
		}
	}()
	p.deps.Jobs.StageCompleted(ctx, correlationID, jobs.StageLock, lockKey)

	pr, err := p.deps.Store.UpsertPullRequest(ctx, req.ProjectID, req.PrNumber,
		req.SourceBranch, req.TargetBranch, req.CommitHash)
	if err != nil {
		return nil, errors.Persistence(err, "upsert pull request")
	}

	// Cache fingerprint check. A hit short-circuits the whole pipeline; the
	// report is still (re)posted so a retriggered webhook refreshes the PR.
	cached, err := p.deps.Store.FindAcceptedAnalysis(ctx, req.ProjectID, req.CommitHash, &req.PrNumber)
	if err != nil && !stderrors.Is(err, store.ErrNotFound) {
		return nil, errors.Persistence(err, "fingerprint lookup")
	}
	if cached != nil {
		log.Info("analysis served from cache")
		p.deps.Jobs.StageCompleted(ctx, correlationID, jobs.StageCache, "hit")
		p.postReport(ctx, correlationID, project, req, cached, true, sink, log)
		sink.Accept(events.Event{
			"type":   "result",
			"status": "cached",
			"cached": true,
		})
		term.complete(events.StatusSuccess, "Analysis served from cache", 0, 0)
		return cached, nil
	}
	p.deps.Jobs.StageCompleted(ctx, correlationID, jobs.StageCache, "miss")

	history, err := p.deps.Store.ListPrAnalyses(ctx, req.ProjectID, req.PrNumber)
	if err != nil {
		return nil, errors.Persistence(err, "load analysis history")
	}

	// Retrieval index sync is best-effort.
	if p.deps.Rag != nil && p.deps.Rag.IsEnabled(project) {
		if ragErr := p.deps.Rag.EnsureIndexUpToDate(ctx, project, req.TargetBranch, sink); ragErr != nil {
			log.WithError(ragErr).Warn("retrieval index sync failed")
			sink.Accept(events.Warning("retrieval index unavailable, analyzing without it"))
			p.deps.Jobs.StageFailed(ctx, correlationID, jobs.StageRag, ragErr)
		} else {
			p.deps.Jobs.StageCompleted(ctx, correlationID, jobs.StageRag, "synced")
		}
	}

	sink.Accept(events.Status("fetching_diff", "fetching pull request diff"))
	rawDiff, err := p.fetchPrDiff(ctx, project, req)
	if err != nil {
		p.deps.Jobs.StageFailed(ctx, correlationID, jobs.StageDiff, err)
		return nil, err
	}
	changedFiles := diff.SortedPaths(diff.ParseChangedPaths(rawDiff))
	p.deps.Jobs.StageCompleted(ctx, correlationID, jobs.StageDiff,
		fmt.Sprintf("%d files", len(changedFiles)))

	payload := ai.BuildPayload(project, models.PrAnalysis, req.TargetBranch, req.SourceBranch,
		req.CommitHash, &req.PrNumber, changedFiles, rawDiff, history)

	sink.Accept(events.Status("analyzing", "streaming analysis"))
	aiResult, err := p.deps.AI.Analyze(ctx, payload, sink)
	if err != nil {
		if errors.KindOf(err) == errors.KindProtocolMismatch && aiResult != nil {
			log.WithError(err).Warn("issues field unparseable, treated as empty")
			sink.Accept(events.Warning("analysis result issues were unparseable"))
		} else {
			p.deps.Jobs.StageFailed(ctx, correlationID, jobs.StageAI, err)
			return nil, err
		}
	}
	p.deps.Jobs.StageCompleted(ctx, correlationID, jobs.StageAI,
		fmt.Sprintf("%d issues", len(aiResult.Issues)))

	analysis := &models.CodeAnalysis{
		ProjectID:        req.ProjectID,
		AnalysisType:     models.PrAnalysis,
		PrNumber:         &req.PrNumber,
		BranchName:       req.TargetBranch,
		SourceBranchName: req.SourceBranch,
		CommitHash:       req.CommitHash,
		PrVersion:        pr.PrVersion,
		Status:           models.StatusAccepted,
		Comment:          aiResult.Comment,
		Issues:           issuesFromResult(aiResult.Issues),
	}
	if err := p.deps.Store.SaveAnalysis(ctx, analysis); err != nil {
		p.deps.Jobs.StageFailed(ctx, correlationID, jobs.StagePersist, err)
		return nil, errors.Persistence(err, "save analysis")
	}
	p.deps.Jobs.StageCompleted(ctx, correlationID, jobs.StagePersist,
		fmt.Sprintf("analysis %d", analysis.ID))

	p.postReport(ctx, correlationID, project, req, analysis, false, sink, log)

	log.WithFields(logrus.Fields{
		"issues": len(analysis.Issues),
		"files":  len(changedFiles),
	}).Info("pr analysis completed")
	term.complete(events.StatusSuccess, "Analysis completed", len(analysis.Issues), len(changedFiles))
	return analysis, nil
}

// fetchPrDiff returns the PR's full unified diff, memoised per head commit.
func (p *PrProcessor) fetchPrDiff(ctx context.Context, project *models.Project, req *PrAnalysisRequest) (string, error) {
	ref := fmt.Sprintf("%d:%s", req.PrNumber, req.CommitHash)
	if d := p.deps.Diffs.GetDiff(ctx, project.ID, "pr", ref); d != "" {
		return d, nil
	}

	ops, err := p.deps.VCS(project.EffectiveConnection())
	if err != nil {
		return "", errors.UpstreamVcs(err, "resolve vcs client")
	}
	rawDiff, err := ops.PullRequestDiff(ctx, req.PrNumber)
	if err != nil {
		if ctx.Err() != nil {
			return "", errors.Cancelled(ctx.Err())
		}
		return "", errors.UpstreamVcs(err, "fetch pull request diff")
	}
	p.deps.Diffs.PutDiff(ctx, project.ID, "pr", ref, rawDiff)
	return rawDiff, nil
}

// postReport publishes the analysis comment. Failure is never fatal: the
// analysis is already persisted, so only a warning reaches the sink.
func (p *PrProcessor) postReport(ctx context.Context, correlationID string, project *models.Project,
	req *PrAnalysisRequest, analysis *models.CodeAnalysis, cachedRun bool, sink events.Sink, log *logrus.Entry) {

	ops, err := p.deps.VCS(project.EffectiveConnection())
	if err == nil {
		err = ops.PostAnalysisReport(ctx, &vcs.Report{
			PrNumber:             req.PrNumber,
			CommitHash:           analysis.CommitHash,
			Comment:              analysis.Comment,
			Issues:               analysis.Issues,
			Cached:               cachedRun,
			PlaceholderCommentID: req.PlaceholderCommentID,
		})
	}
	if err != nil {
		log.WithError(err).Warn("report post failed")
		sink.Accept(events.Warning("analysis completed but posting the report failed"))
		p.deps.Jobs.StageFailed(ctx, correlationID, jobs.StageReport, err)
		return
	}
	p.deps.Jobs.StageCompleted(ctx, correlationID, jobs.StageReport, "posted")
}

func shortHash(h string) string {
	if len(h) > 10 {
		return h[:10]
	}
	return h
}
