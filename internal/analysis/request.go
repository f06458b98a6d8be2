package analysis

import (
	"strings"

	"github.com/rostilos/codecrow/internal/errors"
)

// PrAnalysisRequest triggers the pull-request pipeline. Validation happens
// before any lock is taken so malformed requests never hold a tuple.
type PrAnalysisRequest struct {
	ProjectID            int64  `json:"projectId"`
	PrNumber             int    `json:"prNumber"`
	CommitHash           string `json:"commitHash"`
	SourceBranch         string `json:"sourceBranch"`
	TargetBranch         string `json:"targetBranch"`
	PrAuthor             string `json:"prAuthor,omitempty"`
	PlaceholderCommentID *int64 `json:"placeholderCommentId,omitempty"`

	// PreAcquiredLockKey carries a lock taken by an outer coordinator (for
	// example a webhook dispatcher). When set, the pipeline neither acquires
	// nor releases the lock.
	PreAcquiredLockKey string `json:"preAcquiredLockKey,omitempty"`
}

// Validate rejects structurally invalid requests.
func (r *PrAnalysisRequest) Validate() error {
	if r.ProjectID <= 0 {
		return errors.InvalidRequest("projectId must be positive")
	}
	if r.PrNumber <= 0 {
		return errors.InvalidRequest("prNumber must be positive")
	}
	if strings.TrimSpace(r.CommitHash) == "" {
		return errors.InvalidRequest("commitHash is required")
	}
	if strings.TrimSpace(r.SourceBranch) == "" {
		return errors.InvalidRequest("sourceBranch is required")
	}
	if strings.TrimSpace(r.TargetBranch) == "" {
		return errors.InvalidRequest("targetBranch is required")
	}
	return nil
}

// BranchAnalysisRequest triggers the branch reconciliation pipeline, usually
// after a merge into the target branch.
type BranchAnalysisRequest struct {
	ProjectID    int64  `json:"projectId"`
	TargetBranch string `json:"targetBranch"`
	CommitHash   string `json:"commitHash"`

	// SourcePrNumber, when set, selects the merged PR's full diff instead of
	// the single merge commit's diff.
	SourcePrNumber *int `json:"sourcePrNumber,omitempty"`
}

// Validate rejects structurally invalid requests.
func (r *BranchAnalysisRequest) Validate() error {
	if r.ProjectID <= 0 {
		return errors.InvalidRequest("projectId must be positive")
	}
	if strings.TrimSpace(r.TargetBranch) == "" {
		return errors.InvalidRequest("targetBranch is required")
	}
	if strings.TrimSpace(r.CommitHash) == "" {
		return errors.InvalidRequest("commitHash is required")
	}
	if r.SourcePrNumber != nil && *r.SourcePrNumber <= 0 {
		return errors.InvalidRequest("sourcePrNumber must be positive when set")
	}
	return nil
}
