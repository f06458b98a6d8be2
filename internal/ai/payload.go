package ai

import (
	"github.com/rostilos/codecrow/internal/models"
)

// PriorIssue is a previously detected finding carried into a new request so
// the service can detect resolutions.
type PriorIssue struct {
	IssueID    int64           `json:"issueId"`
	FilePath   string          `json:"filePath"`
	LineNumber *int            `json:"lineNumber,omitempty"`
	Severity   models.Severity `json:"severity"`
	Reason     string          `json:"reason"`
}

// Payload is the fixed request shape consumed by the AI service.
type Payload struct {
	ProjectID          int64               `json:"projectId"`
	ProjectName        string              `json:"projectName"`
	Namespace          string              `json:"namespace"`
	TargetBranch       string              `json:"targetBranch"`
	SourceBranch       string              `json:"sourceBranch,omitempty"`
	CommitHash         string              `json:"commitHash"`
	PrNumber           *int                `json:"prNumber"`
	ChangedFiles       []string            `json:"changedFiles"`
	RawDiff            string              `json:"rawDiff"`
	PriorIssues        []PriorIssue        `json:"priorIssues"`
	PriorAnalysisCount int                 `json:"priorAnalysisCount"`
	AnalysisType       models.AnalysisType `json:"analysisType"`
}

// BuildPayload assembles the request from the project, the triggering
// request context, and the ordered history of prior analyses (newest first).
// The immediate predecessor's unresolved issues become priorIssues.
func BuildPayload(project *models.Project, analysisType models.AnalysisType,
	targetBranch, sourceBranch, commitHash string, prNumber *int,
	changedFiles []string, rawDiff string, history []*models.CodeAnalysis) *Payload {

	p := &Payload{
		ProjectID:          project.ID,
		ProjectName:        project.Name,
		Namespace:          project.Namespace,
		TargetBranch:       targetBranch,
		SourceBranch:       sourceBranch,
		CommitHash:         commitHash,
		PrNumber:           prNumber,
		ChangedFiles:       changedFiles,
		RawDiff:            rawDiff,
		PriorIssues:        []PriorIssue{},
		PriorAnalysisCount: len(history),
		AnalysisType:       analysisType,
	}

	if len(history) > 0 {
		for _, iss := range history[0].Issues {
			if iss.Resolved {
				continue
			}
			p.PriorIssues = append(p.PriorIssues, PriorIssue{
				IssueID:    iss.ID,
				FilePath:   iss.FilePath,
				LineNumber: iss.LineNumber,
				Severity:   iss.Severity,
				Reason:     iss.Reason,
			})
		}
	}
	return p
}

// ReconcilePayload builds the targeted re-analysis request for branch
// reconciliation: only the candidate issues are carried, as priorIssues.
func ReconcilePayload(project *models.Project, targetBranch, commitHash, rawDiff string,
	changedFiles []string, candidates []PriorIssue) *Payload {
	return &Payload{
		ProjectID:          project.ID,
		ProjectName:        project.Name,
		Namespace:          project.Namespace,
		TargetBranch:       targetBranch,
		CommitHash:         commitHash,
		ChangedFiles:       changedFiles,
		RawDiff:            rawDiff,
		PriorIssues:        candidates,
		PriorAnalysisCount: len(candidates),
		AnalysisType:       models.BranchAnalysis,
	}
}
