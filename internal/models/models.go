package models

import (
	"time"
)

// VcsProvider identifies the hosting provider for a project's repository.
type VcsProvider string

const (
	ProviderGitHub         VcsProvider = "GITHUB"
	ProviderGitLab         VcsProvider = "GITLAB"
	ProviderBitbucketCloud VcsProvider = "BITBUCKET_CLOUD"
)

// AnalysisType distinguishes the two pipeline kinds plus RAG indexing locks.
type AnalysisType string

const (
	PrAnalysis     AnalysisType = "PR_ANALYSIS"
	BranchAnalysis AnalysisType = "BRANCH_ANALYSIS"
	RagIndexing    AnalysisType = "RAG_INDEXING"
)

// AnalysisStatus is the lifecycle state of a CodeAnalysis row.
type AnalysisStatus string

const (
	StatusPending  AnalysisStatus = "PENDING"
	StatusRunning  AnalysisStatus = "RUNNING"
	StatusAccepted AnalysisStatus = "ACCEPTED"
	StatusFailed   AnalysisStatus = "FAILED"
)

// Severity of a finding.
type Severity string

const (
	SeverityHigh   Severity = "HIGH"
	SeverityMedium Severity = "MEDIUM"
	SeverityLow    Severity = "LOW"
	SeverityInfo   Severity = "INFO"
)

// ValidSeverity reports whether s is one of the four defined levels.
func ValidSeverity(s Severity) bool {
	switch s {
	case SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo:
		return true
	}
	return false
}

// HealthStatus of a tracked branch.
type HealthStatus string

const (
	HealthUnknown HealthStatus = "UNKNOWN"
	HealthHealthy HealthStatus = "HEALTHY"
	HealthStale   HealthStatus = "STALE"
)

// VcsConnection is the resolved connection a processor uses to talk to the
// provider for one project.
type VcsConnection struct {
	Provider  VcsProvider `json:"provider" db:"provider"`
	BaseURL   string      `json:"base_url" db:"base_url"` // empty = provider default
	Workspace string      `json:"workspace" db:"workspace"`
	RepoSlug  string      `json:"repo_slug" db:"repo_slug"`
	Token     string      `json:"-" db:"token"`
}

// RagConfig is the per-project retrieval-index configuration.
type RagConfig struct {
	Enabled bool   `json:"enabled"`
	IndexID string `json:"index_id,omitempty"`
}

// ProjectConfig groups the analysis feature toggles.
type ProjectConfig struct {
	UseLocalMcp           bool      `json:"use_local_mcp"`
	PrAnalysisEnabled     bool      `json:"pr_analysis_enabled"`
	BranchAnalysisEnabled bool      `json:"branch_analysis_enabled"`
	Rag                   RagConfig `json:"rag"`
	CommentCommands       bool      `json:"comment_commands"`
}

// Project is created externally (setup wizard); the core only reads it.
type Project struct {
	ID            int64         `json:"id" db:"id"`
	Name          string        `json:"name" db:"name"`
	Namespace     string        `json:"namespace" db:"namespace"`
	WorkspaceID   int64         `json:"workspace_id" db:"workspace_id"`
	Connection    VcsConnection `json:"connection"`
	AiBinding     string        `json:"ai_binding,omitempty" db:"ai_binding"`
	DefaultBranch string        `json:"default_branch,omitempty" db:"default_branch"`
	Config        ProjectConfig `json:"config"`
	CreatedAt     time.Time     `json:"created_at" db:"created_at"`
}

// EffectiveConnection resolves the single VCS connection for the project.
// Legacy dual bindings were retired; this is the one accessor.
func (p *Project) EffectiveConnection() VcsConnection {
	return p.Connection
}

// Branch aggregates per-branch issue state. Counters are recomputed from the
// owned issue rows in one transaction, never adjusted by deltas.
type Branch struct {
	ID                       int64        `json:"id" db:"id"`
	ProjectID                int64        `json:"project_id" db:"project_id"`
	Name                     string       `json:"name" db:"name"`
	CommitHash               string       `json:"commit_hash" db:"commit_hash"`
	LastSuccessfulCommitHash string       `json:"last_successful_commit_hash" db:"last_successful_commit_hash"`
	HealthStatus             HealthStatus `json:"health_status" db:"health_status"`
	ConsecutiveFailures      int          `json:"consecutive_failures" db:"consecutive_failures"`
	LastHealthCheckAt        *time.Time   `json:"last_health_check_at" db:"last_health_check_at"`

	TotalIssues         int `json:"total_issues" db:"total_issues"`
	HighSeverityCount   int `json:"high_severity_count" db:"high_severity_count"`
	MediumSeverityCount int `json:"medium_severity_count" db:"medium_severity_count"`
	LowSeverityCount    int `json:"low_severity_count" db:"low_severity_count"`
	InfoSeverityCount   int `json:"info_severity_count" db:"info_severity_count"`
	ResolvedCount       int `json:"resolved_count" db:"resolved_count"`

	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// BranchIssue is the per-branch materialisation of a finding. The linked
// CodeAnalysisIssue stays the authoritative record; resolution state is
// tracked here independently.
type BranchIssue struct {
	ID                  int64      `json:"id" db:"id"`
	BranchID            int64      `json:"branch_id" db:"branch_id"`
	CodeAnalysisIssueID int64      `json:"code_analysis_issue_id" db:"code_analysis_issue_id"`
	Severity            Severity   `json:"severity" db:"severity"`
	Resolved            bool       `json:"resolved" db:"resolved"`
	FirstDetectedPr     *int       `json:"first_detected_pr_number" db:"first_detected_pr_number"`
	ResolvedInPr        *int       `json:"resolved_in_pr_number" db:"resolved_in_pr_number"`
	ResolvedInCommit    string     `json:"resolved_in_commit_hash" db:"resolved_in_commit_hash"`
	ResolvedDescription string     `json:"resolved_description" db:"resolved_description"`
	ResolvedAt          *time.Time `json:"resolved_at" db:"resolved_at"`
	ResolvedBy          string     `json:"resolved_by" db:"resolved_by"`
}

// BranchFile tracks unresolved issue counts per file per branch.
type BranchFile struct {
	ID         int64     `json:"id" db:"id"`
	ProjectID  int64     `json:"project_id" db:"project_id"`
	BranchName string    `json:"branch_name" db:"branch_name"`
	FilePath   string    `json:"file_path" db:"file_path"`
	IssueCount int       `json:"issue_count" db:"issue_count"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// PullRequest mirrors the provider PR; PrVersion increases on each
// re-analysis of the same PR.
type PullRequest struct {
	ID               int64     `json:"id" db:"id"`
	ProjectID        int64     `json:"project_id" db:"project_id"`
	Number           int       `json:"pr_number" db:"pr_number"`
	SourceBranchName string    `json:"source_branch_name" db:"source_branch_name"`
	TargetBranchName string    `json:"target_branch_name" db:"target_branch_name"`
	CommitHash       string    `json:"commit_hash" db:"commit_hash"`
	PrVersion        int       `json:"pr_version" db:"pr_version"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}

// CodeAnalysis is one analysis run. Immutable once ACCEPTED, except for
// owned issue rows being flipped resolved.
type CodeAnalysis struct {
	ID               int64                `json:"id" db:"id"`
	ProjectID        int64                `json:"project_id" db:"project_id"`
	AnalysisType     AnalysisType         `json:"analysis_type" db:"analysis_type"`
	PrNumber         *int                 `json:"pr_number" db:"pr_number"`
	BranchName       string               `json:"branch_name" db:"branch_name"`
	SourceBranchName string               `json:"source_branch_name" db:"source_branch_name"`
	CommitHash       string               `json:"commit_hash" db:"commit_hash"`
	PrVersion        int                  `json:"pr_version" db:"pr_version"`
	Status           AnalysisStatus       `json:"status" db:"status"`
	Comment          string               `json:"comment" db:"comment"`
	Issues           []*CodeAnalysisIssue `json:"issues"`
	CreatedAt        time.Time            `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time            `json:"updated_at" db:"updated_at"`
}

// UnresolvedCount returns the number of owned issues not yet resolved.
func (a *CodeAnalysis) UnresolvedCount() int {
	n := 0
	for _, iss := range a.Issues {
		if !iss.Resolved {
			n++
		}
	}
	return n
}

// CodeAnalysisIssue is a single finding owned by its CodeAnalysis.
type CodeAnalysisIssue struct {
	ID           int64    `json:"id" db:"id"`
	AnalysisID   int64    `json:"analysis_id" db:"analysis_id"`
	FilePath     string   `json:"file_path" db:"file_path"`
	LineNumber   *int     `json:"line_number" db:"line_number"`
	Severity     Severity `json:"severity" db:"severity"`
	Reason       string   `json:"reason" db:"reason"`
	SuggestedFix string   `json:"suggested_fix_description" db:"suggested_fix_description"`
	Resolved     bool     `json:"resolved" db:"resolved"`
}

// AnalysisLock is an advisory expiring lock row. At most one unexpired lock
// may exist per (project_id, branch_name, analysis_type).
type AnalysisLock struct {
	LockKey      string       `json:"lock_key" db:"lock_key"`
	ProjectID    int64        `json:"project_id" db:"project_id"`
	BranchName   string       `json:"branch_name" db:"branch_name"`
	AnalysisType AnalysisType `json:"analysis_type" db:"analysis_type"`
	CommitHash   string       `json:"commit_hash" db:"commit_hash"`
	PrNumber     *int         `json:"pr_number" db:"pr_number"`
	AcquiredAt   time.Time    `json:"acquired_at" db:"acquired_at"`
	ExpiresAt    time.Time    `json:"expires_at" db:"expires_at"`
}

// Expired reports whether the lock has passed its deadline at now.
func (l *AnalysisLock) Expired(now time.Time) bool {
	return !l.ExpiresAt.After(now)
}
