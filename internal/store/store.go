package store

import (
	"context"
	"errors"

	"github.com/rostilos/codecrow/internal/models"
)

// Common errors
var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

// IssueWithOrigin pairs a finding with the PR number of its owning analysis,
// used when materialising branch issues (firstDetectedPrNumber).
type IssueWithOrigin struct {
	Issue    *models.CodeAnalysisIssue
	PrNumber *int
}

// Store is the persistence boundary for the orchestration core. Two
// implementations exist: Postgres (production) and in-memory (tests, local
// mode). All mutations that touch a branch aggregate keep counters and issue
// rows consistent within a single transaction.
type Store interface {
	// Project operations. Projects are created externally; SaveProject
	// exists for seeding and the in-memory mode.
	SaveProject(ctx context.Context, project *models.Project) error
	GetProject(ctx context.Context, projectID int64) (*models.Project, error)
	SetProjectDefaultBranch(ctx context.Context, projectID int64, branch string) error

	// Pull request operations. Upsert bumps pr_version when the analyzed
	// head commit changes.
	UpsertPullRequest(ctx context.Context, projectID int64, prNumber int, sourceBranch, targetBranch, commitHash string) (*models.PullRequest, error)
	GetPullRequest(ctx context.Context, projectID int64, prNumber int) (*models.PullRequest, error)

	// Analysis operations. (project, commit_hash, pr_number) is the cache
	// fingerprint: at most one ACCEPTED analysis per fingerprint.
	SaveAnalysis(ctx context.Context, analysis *models.CodeAnalysis) error
	FindAcceptedAnalysis(ctx context.Context, projectID int64, commitHash string, prNumber *int) (*models.CodeAnalysis, error)
	ListPrAnalyses(ctx context.Context, projectID int64, prNumber int) ([]*models.CodeAnalysis, error)
	GetAnalysisIssue(ctx context.Context, issueID int64) (*models.CodeAnalysisIssue, error)

	// ListIssuesForBranchFile returns the findings for (project, filePath)
	// whose owning analysis targets the branch: analysis.branch_name OR
	// analysis.source_branch_name equals branch.
	// TODO: the OR double-mapping can attribute an issue to both a feature
	// branch and its merge target; kept for counter compatibility.
	ListIssuesForBranchFile(ctx context.Context, projectID int64, branch, filePath string) ([]IssueWithOrigin, error)

	// Branch aggregate operations.
	UpsertBranch(ctx context.Context, projectID int64, branch, commitHash string) (*models.Branch, error)
	GetBranch(ctx context.Context, projectID int64, branch string) (*models.Branch, error)
	UpsertBranchIssue(ctx context.Context, branchID int64, issue *models.CodeAnalysisIssue, firstDetectedPr *int) (*models.BranchIssue, error)
	ListBranchIssues(ctx context.Context, branchID int64) ([]*models.BranchIssue, error)

	// ResolveIssue flips both the branch issue and its authoritative
	// finding in one transaction. Exactly one of commitHash / prNumber
	// carries the attribution.
	ResolveIssue(ctx context.Context, branchID, codeAnalysisIssueID int64, commitHash string, prNumber *int, description string) error

	// RecomputeBranchCounters rescans the branch's issues and rewrites the
	// aggregate counters in one transaction, returning the fresh row.
	RecomputeBranchCounters(ctx context.Context, branchID int64) (*models.Branch, error)

	// Branch file operations.
	UpsertBranchFile(ctx context.Context, projectID int64, branch, filePath string, issueCount int) error
	GetBranchFile(ctx context.Context, projectID int64, branch, filePath string) (*models.BranchFile, error)

	Close() error
}
