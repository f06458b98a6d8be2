package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rostilos/codecrow/internal/models"
)

// MemoryStore is the in-memory Store implementation used by tests and the
// local storage mode. A single mutex serialises every operation, which makes
// the multi-row transactional brackets of the Postgres store trivially atomic
// here as well.
type MemoryStore struct {
	mu sync.Mutex

	projects     map[int64]*models.Project
	pullRequests map[int64]*models.PullRequest // keyed by id
	analyses     map[int64]*models.CodeAnalysis
	issues       map[int64]*models.CodeAnalysisIssue
	branches     map[int64]*models.Branch
	branchIssues map[int64]*models.BranchIssue
	branchFiles  map[int64]*models.BranchFile

	nextID int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		projects:     make(map[int64]*models.Project),
		pullRequests: make(map[int64]*models.PullRequest),
		analyses:     make(map[int64]*models.CodeAnalysis),
		issues:       make(map[int64]*models.CodeAnalysisIssue),
		branches:     make(map[int64]*models.Branch),
		branchIssues: make(map[int64]*models.BranchIssue),
		branchFiles:  make(map[int64]*models.BranchFile),
	}
}

func (s *MemoryStore) nextIDLocked() int64 {
	s.nextID++
	return s.nextID
}

// SaveProject stores or replaces a project.
func (s *MemoryStore) SaveProject(ctx context.Context, project *models.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if project.ID == 0 {
		project.ID = s.nextIDLocked()
	}
	cp := *project
	s.projects[project.ID] = &cp
	return nil
}

// GetProject returns a copy of the project.
func (s *MemoryStore) GetProject(ctx context.Context, projectID int64) (*models.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[projectID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

// SetProjectDefaultBranch sets the default branch only when unset.
func (s *MemoryStore) SetProjectDefaultBranch(ctx context.Context, projectID int64, branch string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[projectID]
	if !ok {
		return ErrNotFound
	}
	if p.DefaultBranch == "" {
		p.DefaultBranch = branch
	}
	return nil
}

// UpsertPullRequest creates or refreshes the PR row; re-analysis of the same
// PR at a new head commit bumps pr_version.
func (s *MemoryStore) UpsertPullRequest(ctx context.Context, projectID int64, prNumber int, sourceBranch, targetBranch, commitHash string) (*models.PullRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, pr := range s.pullRequests {
		if pr.ProjectID == projectID && pr.Number == prNumber {
			if pr.CommitHash != commitHash {
				pr.PrVersion++
			}
			pr.SourceBranchName = sourceBranch
			pr.TargetBranchName = targetBranch
			pr.CommitHash = commitHash
			pr.UpdatedAt = time.Now()
			cp := *pr
			return &cp, nil
		}
	}
	pr := &models.PullRequest{
		ID:               s.nextIDLocked(),
		ProjectID:        projectID,
		Number:           prNumber,
		SourceBranchName: sourceBranch,
		TargetBranchName: targetBranch,
		CommitHash:       commitHash,
		PrVersion:        1,
		UpdatedAt:        time.Now(),
	}
	s.pullRequests[pr.ID] = pr
	cp := *pr
	return &cp, nil
}

// GetPullRequest looks up by (project, number).
func (s *MemoryStore) GetPullRequest(ctx context.Context, projectID int64, prNumber int) (*models.PullRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, pr := range s.pullRequests {
		if pr.ProjectID == projectID && pr.Number == prNumber {
			cp := *pr
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

// SaveAnalysis persists the analysis and its owned issues, assigning IDs.
func (s *MemoryStore) SaveAnalysis(ctx context.Context, analysis *models.CodeAnalysis) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if analysis.ID == 0 {
		analysis.ID = s.nextIDLocked()
		analysis.CreatedAt = time.Now()
	}
	analysis.UpdatedAt = time.Now()

	cp := *analysis
	cp.Issues = nil
	for _, iss := range analysis.Issues {
		if iss.ID == 0 {
			iss.ID = s.nextIDLocked()
		}
		iss.AnalysisID = analysis.ID
		issCp := *iss
		s.issues[iss.ID] = &issCp
		cp.Issues = append(cp.Issues, &issCp)
	}
	s.analyses[analysis.ID] = &cp
	return nil
}

func prNumberMatches(a, b *int) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return *a == *b
}

// FindAcceptedAnalysis returns the ACCEPTED analysis for the cache
// fingerprint (project, commitHash, prNumber), or ErrNotFound.
func (s *MemoryStore) FindAcceptedAnalysis(ctx context.Context, projectID int64, commitHash string, prNumber *int) (*models.CodeAnalysis, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.analyses {
		if a.ProjectID == projectID && a.CommitHash == commitHash &&
			a.Status == models.StatusAccepted && prNumberMatches(a.PrNumber, prNumber) {
			return s.copyAnalysisLocked(a), nil
		}
	}
	return nil, ErrNotFound
}

// ListPrAnalyses returns the PR's analyses newest-first, with issues.
func (s *MemoryStore) ListPrAnalyses(ctx context.Context, projectID int64, prNumber int) ([]*models.CodeAnalysis, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.CodeAnalysis
	for _, a := range s.analyses {
		if a.ProjectID == projectID && a.PrNumber != nil && *a.PrNumber == prNumber {
			out = append(out, s.copyAnalysisLocked(a))
		}
	}
	// Newest first; creation order matches ID order here.
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].ID > out[i].ID {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out, nil
}

// GetAnalysisIssue returns a copy of the finding row.
func (s *MemoryStore) GetAnalysisIssue(ctx context.Context, issueID int64) (*models.CodeAnalysisIssue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	iss, ok := s.issues[issueID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *iss
	return &cp, nil
}

// ListIssuesForBranchFile applies the branch-targeting filter: the owning
// analysis' branch_name OR source_branch_name equals branch.
func (s *MemoryStore) ListIssuesForBranchFile(ctx context.Context, projectID int64, branch, filePath string) ([]IssueWithOrigin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []IssueWithOrigin
	for _, iss := range s.issues {
		if iss.FilePath != filePath {
			continue
		}
		a, ok := s.analyses[iss.AnalysisID]
		if !ok || a.ProjectID != projectID {
			continue
		}
		if a.BranchName != branch && a.SourceBranchName != branch {
			continue
		}
		cp := *iss
		out = append(out, IssueWithOrigin{Issue: &cp, PrNumber: a.PrNumber})
	}
	return out, nil
}

// UpsertBranch creates the branch lazily on first analysis and refreshes the
// observed head commit.
func (s *MemoryStore) UpsertBranch(ctx context.Context, projectID int64, branch, commitHash string) (*models.Branch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b := s.findBranchLocked(projectID, branch); b != nil {
		b.CommitHash = commitHash
		b.UpdatedAt = time.Now()
		cp := *b
		return &cp, nil
	}
	b := &models.Branch{
		ID:           s.nextIDLocked(),
		ProjectID:    projectID,
		Name:         branch,
		CommitHash:   commitHash,
		HealthStatus: models.HealthUnknown,
		UpdatedAt:    time.Now(),
	}
	s.branches[b.ID] = b
	cp := *b
	return &cp, nil
}

// GetBranch looks up by (project, name).
func (s *MemoryStore) GetBranch(ctx context.Context, projectID int64, branch string) (*models.Branch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.findBranchLocked(projectID, branch)
	if b == nil {
		return nil, ErrNotFound
	}
	cp := *b
	return &cp, nil
}

// UpsertBranchIssue maps a finding onto the branch: creates the link when
// absent, otherwise refreshes severity. firstDetectedPrNumber is preserved
// on update.
func (s *MemoryStore) UpsertBranchIssue(ctx context.Context, branchID int64, issue *models.CodeAnalysisIssue, firstDetectedPr *int) (*models.BranchIssue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, bi := range s.branchIssues {
		if bi.BranchID == branchID && bi.CodeAnalysisIssueID == issue.ID {
			bi.Severity = issue.Severity
			cp := *bi
			return &cp, nil
		}
	}
	bi := &models.BranchIssue{
		ID:                  s.nextIDLocked(),
		BranchID:            branchID,
		CodeAnalysisIssueID: issue.ID,
		Severity:            issue.Severity,
		Resolved:            issue.Resolved,
		FirstDetectedPr:     firstDetectedPr,
	}
	s.branchIssues[bi.ID] = bi
	cp := *bi
	return &cp, nil
}

// ListBranchIssues returns copies of the branch's issue links.
func (s *MemoryStore) ListBranchIssues(ctx context.Context, branchID int64) ([]*models.BranchIssue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.BranchIssue
	for _, bi := range s.branchIssues {
		if bi.BranchID == branchID {
			cp := *bi
			out = append(out, &cp)
		}
	}
	return out, nil
}

// ResolveIssue flips the branch issue and the authoritative finding
// together; under the store mutex both updates are atomic.
func (s *MemoryStore) ResolveIssue(ctx context.Context, branchID, codeAnalysisIssueID int64, commitHash string, prNumber *int, description string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var target *models.BranchIssue
	for _, bi := range s.branchIssues {
		if bi.BranchID == branchID && bi.CodeAnalysisIssueID == codeAnalysisIssueID {
			target = bi
			break
		}
	}
	if target == nil {
		return ErrNotFound
	}

	now := time.Now()
	target.Resolved = true
	target.ResolvedInCommit = commitHash
	target.ResolvedInPr = prNumber
	target.ResolvedDescription = description
	target.ResolvedAt = &now

	if iss, ok := s.issues[codeAnalysisIssueID]; ok {
		iss.Resolved = true
	}
	return nil
}

// RecomputeBranchCounters rescans the branch's issues and rewrites the
// aggregate counters. Never applies deltas.
func (s *MemoryStore) RecomputeBranchCounters(ctx context.Context, branchID int64) (*models.Branch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.branches[branchID]
	if !ok {
		return nil, ErrNotFound
	}

	var total, high, medium, low, info, resolved int
	for _, bi := range s.branchIssues {
		if bi.BranchID != branchID {
			continue
		}
		if bi.Resolved {
			resolved++
			continue
		}
		total++
		switch bi.Severity {
		case models.SeverityHigh:
			high++
		case models.SeverityMedium:
			medium++
		case models.SeverityLow:
			low++
		case models.SeverityInfo:
			info++
		}
	}

	b.TotalIssues = total
	b.HighSeverityCount = high
	b.MediumSeverityCount = medium
	b.LowSeverityCount = low
	b.InfoSeverityCount = info
	b.ResolvedCount = resolved
	b.UpdatedAt = time.Now()

	cp := *b
	return &cp, nil
}

// UpsertBranchFile sets the unresolved-issue count for the file.
func (s *MemoryStore) UpsertBranchFile(ctx context.Context, projectID int64, branch, filePath string, issueCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, bf := range s.branchFiles {
		if bf.ProjectID == projectID && bf.BranchName == branch && bf.FilePath == filePath {
			bf.IssueCount = issueCount
			bf.UpdatedAt = time.Now()
			return nil
		}
	}
	bf := &models.BranchFile{
		ID:         s.nextIDLocked(),
		ProjectID:  projectID,
		BranchName: branch,
		FilePath:   filePath,
		IssueCount: issueCount,
		UpdatedAt:  time.Now(),
	}
	s.branchFiles[bf.ID] = bf
	return nil
}

// GetBranchFile looks up by (project, branch, path).
func (s *MemoryStore) GetBranchFile(ctx context.Context, projectID int64, branch, filePath string) (*models.BranchFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, bf := range s.branchFiles {
		if bf.ProjectID == projectID && bf.BranchName == branch && bf.FilePath == filePath {
			cp := *bf
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) findBranchLocked(projectID int64, branch string) *models.Branch {
	for _, b := range s.branches {
		if b.ProjectID == projectID && b.Name == branch {
			return b
		}
	}
	return nil
}

func (s *MemoryStore) copyAnalysisLocked(a *models.CodeAnalysis) *models.CodeAnalysis {
	cp := *a
	cp.Issues = nil
	for _, iss := range s.issues {
		if iss.AnalysisID == a.ID {
			issCp := *iss
			cp.Issues = append(cp.Issues, &issCp)
		}
	}
	// Same ordering as the Postgres store: (file_path, line_number nulls
	// last, id).
	sort.Slice(cp.Issues, func(i, j int) bool {
		a, b := cp.Issues[i], cp.Issues[j]
		if a.FilePath != b.FilePath {
			return a.FilePath < b.FilePath
		}
		switch {
		case a.LineNumber == nil && b.LineNumber == nil:
		case a.LineNumber == nil:
			return false
		case b.LineNumber == nil:
			return true
		case *a.LineNumber != *b.LineNumber:
			return *a.LineNumber < *b.LineNumber
		}
		return a.ID < b.ID
	})
	return &cp
}
