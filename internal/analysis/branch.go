package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

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

// fileProbeConcurrency bounds parallel provider existence checks.
const fileProbeConcurrency = 4

// BranchProcessor reconciles a branch aggregate after a merge: it maps the
// merged change's findings onto the branch, asks the AI which carried issues
// the change resolved, and recomputes the counters.
type BranchProcessor struct {
	deps Deps
}

// NewBranchProcessor wires a branch pipeline.
func NewBranchProcessor(deps Deps) *BranchProcessor {
	deps.normalize()
	return &BranchProcessor{deps: deps}
}

// Process executes one branch reconciliation and returns the refreshed
// branch aggregate.
func (p *BranchProcessor) Process(ctx context.Context, req *BranchAnalysisRequest, sink events.Sink) (result *models.Branch, runErr error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	guarded := events.Guard(sink, slog.Default())
	term := &terminator{sink: guarded}
	correlationID := uuid.NewString()

	log := p.deps.Logger.WithFields(logrus.Fields{
		"correlation_id": correlationID,
		"project_id":     req.ProjectID,
		"branch":         req.TargetBranch,
		"commit":         shortHash(req.CommitHash),
	})

	guarded.Accept(events.Started(correlationID, string(models.BranchAnalysis)))
	p.deps.Jobs.JobStarted(ctx, correlationID, req.ProjectID, models.BranchAnalysis, req.TargetBranch, req.SourcePrNumber)

	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("branch pipeline panicked")
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

func (p *BranchProcessor) run(ctx context.Context, correlationID string, req *BranchAnalysisRequest,
	sink events.Sink, term *terminator, log *logrus.Entry) (*models.Branch, error) {

	project, err := p.deps.Store.GetProject(ctx, req.ProjectID)
	if err != nil {
		return nil, errors.Persistence(err, "load project")
	}
	if !project.Config.BranchAnalysisEnabled {
		return nil, errors.InvalidRequest("branch analysis is disabled for this project")
	}

	lockKey, err := p.deps.Locker.AcquireWait(ctx, lock.Request{
		ProjectID:    req.ProjectID,
		BranchName:   req.TargetBranch,
		AnalysisType: models.BranchAnalysis,
		CommitHash:   req.CommitHash,
		PrNumber:     req.SourcePrNumber,
		TTL:          p.deps.lockTTL(models.BranchAnalysis),
	}, sink, p.deps.waitOptions())
	if err != nil {
		p.deps.Jobs.StageFailed(ctx, correlationID, jobs.StageLock, err)
		return nil, err
	}
	defer func() {
		if relErr := p.deps.Locker.Release(context.WithoutCancel(ctx), lockKey); relErr != nil {
			log.WithError(relErr).Warn("lock release failed; sweeper will reclaim")
		}
	}()
	p.deps.Jobs.StageCompleted(ctx, correlationID, jobs.StageLock, lockKey)

	ops, err := p.deps.VCS(project.EffectiveConnection())
	if err != nil {
		return nil, errors.UpstreamVcs(err, "resolve vcs client")
	}

	sink.Accept(events.Status("fetching_diff", "fetching merged change diff"))
	rawDiff, err := p.fetchDiff(ctx, ops, project, req)
	if err != nil {
		p.deps.Jobs.StageFailed(ctx, correlationID, jobs.StageDiff, err)
		return nil, err
	}

	// changedFiles carries deletions too: a carried issue in a deleted
	// file is still a reconciliation candidate.
	change := diff.Parse(rawDiff)
	changedFiles := diff.SortedPaths(change.AddedOrModified, change.Deleted)
	p.deps.Jobs.StageCompleted(ctx, correlationID, jobs.StageDiff,
		fmt.Sprintf("%d changed, %d deleted", len(changedFiles), len(change.Deleted)))

	branch, err := p.deps.Store.UpsertBranch(ctx, req.ProjectID, req.TargetBranch, req.CommitHash)
	if err != nil {
		return nil, errors.Persistence(err, "upsert branch")
	}

	var existing []string
	resolved := 0
	if len(changedFiles) == 0 {
		log.Info("empty diff, nothing to reconcile")
	} else {
		// Probe which added-or-modified files still exist on the branch
		// head. Deleted paths are known gone and are not probed; probe
		// failures fail open so a flaky provider never blocks
		// reconciliation.
		var fileIssues map[string][]store.IssueWithOrigin
		existing, fileIssues, err = p.probeFiles(ctx, ops, req, diff.SortedPaths(change.AddedOrModified), log)
		if err != nil {
			return nil, err
		}

		sink.Accept(events.Status("mapping_issues", fmt.Sprintf("mapping issues across %d files", len(existing))))
		for _, filePath := range existing {
			unresolved := 0
			for _, origin := range fileIssues[filePath] {
				if !origin.Issue.Resolved {
					unresolved++
				}
				if _, err := p.deps.Store.UpsertBranchIssue(ctx, branch.ID, origin.Issue, origin.PrNumber); err != nil {
					return nil, errors.Persistence(err, "map branch issue")
				}
			}
			if err := p.deps.Store.UpsertBranchFile(ctx, req.ProjectID, req.TargetBranch, filePath, unresolved); err != nil {
				return nil, errors.Persistence(err, "upsert branch file")
			}
		}

		branch, err = p.deps.Store.RecomputeBranchCounters(ctx, branch.ID)
		if err != nil {
			return nil, errors.Persistence(err, "recompute branch counters")
		}
		p.deps.Jobs.StageCompleted(ctx, correlationID, jobs.StagePersist,
			fmt.Sprintf("%d open issues", branch.TotalIssues))

		// Reconcile: only unresolved carried issues touched by this change
		// are candidates for resolution.
		resolved, err = p.reconcile(ctx, correlationID, project, req, branch, changedFiles, rawDiff, sink, log)
		if err != nil {
			return nil, err
		}
		if resolved > 0 {
			branch, err = p.deps.Store.RecomputeBranchCounters(ctx, branch.ID)
			if err != nil {
				return nil, errors.Persistence(err, "recompute branch counters")
			}
		}
	}

	if project.DefaultBranch == "" {
		if err := p.deps.Store.SetProjectDefaultBranch(ctx, req.ProjectID, req.TargetBranch); err != nil {
			log.WithError(err).Warn("default branch not recorded")
		}
	}

	// Incremental retrieval-index update is best-effort.
	if p.deps.Rag != nil && p.deps.Rag.IsEnabled(project) {
		if ragErr := p.deps.Rag.TriggerIncrementalUpdate(ctx, project, req.TargetBranch, req.CommitHash, rawDiff, sink); ragErr != nil {
			log.WithError(ragErr).Warn("incremental index update failed")
			sink.Accept(events.Warning("retrieval index update failed"))
			p.deps.Jobs.StageFailed(ctx, correlationID, jobs.StageRag, ragErr)
		} else {
			p.deps.Jobs.StageCompleted(ctx, correlationID, jobs.StageRag, "updated")
		}
	}

	// TotalIssues counts unresolved issues only; resolved ones live in
	// ResolvedCount.
	open := branch.TotalIssues
	log.WithFields(logrus.Fields{
		"open_issues": open,
		"resolved":    resolved,
		"files":       len(existing),
	}).Info("branch reconciliation completed")
	if len(changedFiles) == 0 {
		term.complete(events.StatusSuccess, "No changes to reconcile", 0, 0)
	} else {
		term.complete(events.StatusSuccess,
			fmt.Sprintf("Branch reconciled, %d issues resolved", resolved), open, len(existing))
	}
	return branch, nil
}

// fetchDiff prefers the merged PR's full diff over the single merge commit.
func (p *BranchProcessor) fetchDiff(ctx context.Context, ops vcs.Operations, project *models.Project, req *BranchAnalysisRequest) (string, error) {
	kind, ref := "commit", req.CommitHash
	if req.SourcePrNumber != nil {
		kind, ref = "pr", fmt.Sprintf("%d:%s", *req.SourcePrNumber, req.CommitHash)
	}
	if d := p.deps.Diffs.GetDiff(ctx, project.ID, kind, ref); d != "" {
		return d, nil
	}

	var (
		rawDiff string
		err     error
	)
	if req.SourcePrNumber != nil {
		rawDiff, err = ops.PullRequestDiff(ctx, *req.SourcePrNumber)
	} else {
		rawDiff, err = ops.CommitDiff(ctx, req.CommitHash)
	}
	if err != nil {
		if ctx.Err() != nil {
			return "", errors.Cancelled(ctx.Err())
		}
		return "", errors.UpstreamVcs(err, "fetch change diff")
	}
	p.deps.Diffs.PutDiff(ctx, project.ID, kind, ref, rawDiff)
	return rawDiff, nil
}

// probeFiles checks each changed file against the branch head and collects
// the findings mapped to the surviving files.
func (p *BranchProcessor) probeFiles(ctx context.Context, ops vcs.Operations, req *BranchAnalysisRequest,
	changedFiles []string, log *logrus.Entry) ([]string, map[string][]store.IssueWithOrigin, error) {

	var mu sync.Mutex
	existing := make([]string, 0, len(changedFiles))
	fileIssues := make(map[string][]store.IssueWithOrigin, len(changedFiles))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fileProbeConcurrency)
	for _, filePath := range changedFiles {
		filePath := filePath
		g.Go(func() error {
			exists, probeErr := ops.FileExistsInBranch(gctx, req.TargetBranch, filePath)
			if probeErr != nil {
				// Fail open: a probe error must not drop the file's issues.
				log.WithError(probeErr).WithField("file", filePath).Warn("existence probe failed, assuming present")
				exists = true
			}
			if !exists {
				return nil
			}
			issues, listErr := p.deps.Store.ListIssuesForBranchFile(gctx, req.ProjectID, req.TargetBranch, filePath)
			if listErr != nil {
				return errors.Persistence(listErr, "list issues for file")
			}
			mu.Lock()
			existing = append(existing, filePath)
			fileIssues[filePath] = issues
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, nil, errors.Cancelled(ctx.Err())
		}
		return nil, nil, err
	}
	sort.Strings(existing)
	return existing, fileIssues, nil
}

// reconcile asks the AI which carried unresolved issues the change resolved
// and applies the resolutions. Returns the number of issues flipped.
func (p *BranchProcessor) reconcile(ctx context.Context, correlationID string, project *models.Project,
	req *BranchAnalysisRequest, branch *models.Branch, changedFiles []string, rawDiff string,
	sink events.Sink, log *logrus.Entry) (int, error) {

	branchIssues, err := p.deps.Store.ListBranchIssues(ctx, branch.ID)
	if err != nil {
		return 0, errors.Persistence(err, "list branch issues")
	}

	changed := make(map[string]struct{}, len(changedFiles))
	for _, f := range changedFiles {
		changed[f] = struct{}{}
	}

	byIssueID := make(map[int64]*models.BranchIssue, len(branchIssues))
	var candidates []ai.PriorIssue
	for _, bi := range branchIssues {
		if bi.Resolved {
			continue
		}
		issue, err := p.deps.Store.GetAnalysisIssue(ctx, bi.CodeAnalysisIssueID)
		if err != nil {
			return 0, errors.Persistence(err, "load candidate issue")
		}
		if _, touched := changed[issue.FilePath]; !touched {
			continue
		}
		byIssueID[issue.ID] = bi
		candidates = append(candidates, ai.PriorIssue{
			IssueID:    issue.ID,
			FilePath:   issue.FilePath,
			LineNumber: issue.LineNumber,
			Severity:   issue.Severity,
			Reason:     issue.Reason,
		})
	}
	if len(candidates) == 0 {
		return 0, nil
	}

	sink.Accept(events.Status("reconciling", fmt.Sprintf("checking %d carried issues", len(candidates))))
	payload := ai.ReconcilePayload(project, req.TargetBranch, req.CommitHash, rawDiff, changedFiles, candidates)
	result, err := p.deps.AI.Analyze(ctx, payload, sink)
	if err != nil {
		if errors.KindOf(err) == errors.KindProtocolMismatch && result != nil {
			log.WithError(err).Warn("reconcile decisions unparseable, no issues resolved")
			sink.Accept(events.Warning("reconcile decisions were unparseable"))
			p.deps.Jobs.StageFailed(ctx, correlationID, jobs.StageReconcile, err)
			return 0, nil
		}
		p.deps.Jobs.StageFailed(ctx, correlationID, jobs.StageReconcile, err)
		return 0, err
	}

	resolved := 0
	for _, decision := range result.Issues {
		if !decision.Resolved {
			continue
		}
		issueID, ok := decision.IssueIDInt()
		if !ok {
			log.WithField("issue_id", decision.IssueID).Warn("unparseable decision id skipped")
			continue
		}
		bi, known := byIssueID[issueID]
		if !known {
			continue
		}
		description := decision.Reason
		if description == "" {
			description = "resolved by merged change"
		}
		if err := p.deps.Store.ResolveIssue(ctx, branch.ID, bi.CodeAnalysisIssueID, req.CommitHash, nil, description); err != nil {
			return resolved, errors.Persistence(err, "resolve issue")
		}
		resolved++
	}
	p.deps.Jobs.StageCompleted(ctx, correlationID, jobs.StageReconcile,
		fmt.Sprintf("%d resolved", resolved))
	return resolved, nil
}
