package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rostilos/codecrow/internal/models"
)

// PostgresStore implements Store on a pgx connection pool.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresStore connects, pings, and bootstraps the schema.
func NewPostgresStore(ctx context.Context, dsn string, logger *slog.Logger) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn missing")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	logger.Info("postgres store connected")
	return &PostgresStore{pool: pool, logger: logger}, nil
}

// Pool exposes the underlying pool for collaborators sharing the database
// (lock service).
func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	s.logger.Info("postgres store closed")
	return nil
}

// SaveProject stores or replaces a project row.
func (s *PostgresStore) SaveProject(ctx context.Context, project *models.Project) error {
	cfg, err := json.Marshal(project.Config)
	if err != nil {
		return fmt.Errorf("marshal project config: %w", err)
	}
	query := `
		INSERT INTO projects (id, name, namespace, workspace_id, provider, base_url,
			workspace, repo_slug, token, ai_binding, default_branch, config)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			namespace = EXCLUDED.namespace,
			provider = EXCLUDED.provider,
			base_url = EXCLUDED.base_url,
			workspace = EXCLUDED.workspace,
			repo_slug = EXCLUDED.repo_slug,
			token = EXCLUDED.token,
			ai_binding = EXCLUDED.ai_binding,
			default_branch = EXCLUDED.default_branch,
			config = EXCLUDED.config
	`
	conn := project.Connection
	_, err = s.pool.Exec(ctx, query,
		project.ID, project.Name, project.Namespace, project.WorkspaceID,
		conn.Provider, conn.BaseURL, conn.Workspace, conn.RepoSlug, conn.Token,
		project.AiBinding, project.DefaultBranch, cfg)
	if err != nil {
		return fmt.Errorf("save project: %w", err)
	}
	return nil
}

// GetProject loads the project with its effective connection.
func (s *PostgresStore) GetProject(ctx context.Context, projectID int64) (*models.Project, error) {
	query := `
		SELECT id, name, namespace, workspace_id, provider, base_url, workspace,
			repo_slug, token, ai_binding, default_branch, config, created_at
		FROM projects WHERE id = $1
	`
	var p models.Project
	var cfg []byte
	err := s.pool.QueryRow(ctx, query, projectID).Scan(
		&p.ID, &p.Name, &p.Namespace, &p.WorkspaceID,
		&p.Connection.Provider, &p.Connection.BaseURL, &p.Connection.Workspace,
		&p.Connection.RepoSlug, &p.Connection.Token,
		&p.AiBinding, &p.DefaultBranch, &cfg, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get project: %w", err)
	}
	if len(cfg) > 0 {
		if err := json.Unmarshal(cfg, &p.Config); err != nil {
			return nil, fmt.Errorf("decode project config: %w", err)
		}
	}
	return &p, nil
}

// SetProjectDefaultBranch sets the default branch only when currently unset.
func (s *PostgresStore) SetProjectDefaultBranch(ctx context.Context, projectID int64, branch string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE projects SET default_branch = $2 WHERE id = $1 AND default_branch = ''`,
		projectID, branch)
	if err != nil {
		return fmt.Errorf("set default branch: %w", err)
	}
	return nil
}

// UpsertPullRequest creates or refreshes the PR row, bumping pr_version when
// the analyzed head commit changes.
func (s *PostgresStore) UpsertPullRequest(ctx context.Context, projectID int64, prNumber int, sourceBranch, targetBranch, commitHash string) (*models.PullRequest, error) {
	query := `
		INSERT INTO pull_requests (project_id, pr_number, source_branch_name,
			target_branch_name, commit_hash, pr_version)
		VALUES ($1, $2, $3, $4, $5, 1)
		ON CONFLICT (project_id, pr_number) DO UPDATE SET
			source_branch_name = EXCLUDED.source_branch_name,
			target_branch_name = EXCLUDED.target_branch_name,
			pr_version = pull_requests.pr_version +
				CASE WHEN pull_requests.commit_hash <> EXCLUDED.commit_hash THEN 1 ELSE 0 END,
			commit_hash = EXCLUDED.commit_hash,
			updated_at = now()
		RETURNING id, project_id, pr_number, source_branch_name, target_branch_name,
			commit_hash, pr_version, updated_at
	`
	var pr models.PullRequest
	err := s.pool.QueryRow(ctx, query, projectID, prNumber, sourceBranch, targetBranch, commitHash).Scan(
		&pr.ID, &pr.ProjectID, &pr.Number, &pr.SourceBranchName, &pr.TargetBranchName,
		&pr.CommitHash, &pr.PrVersion, &pr.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("upsert pull request: %w", err)
	}
	return &pr, nil
}

// GetPullRequest looks up by (project, number).
func (s *PostgresStore) GetPullRequest(ctx context.Context, projectID int64, prNumber int) (*models.PullRequest, error) {
	query := `
		SELECT id, project_id, pr_number, source_branch_name, target_branch_name,
			commit_hash, pr_version, updated_at
		FROM pull_requests WHERE project_id = $1 AND pr_number = $2
	`
	var pr models.PullRequest
	err := s.pool.QueryRow(ctx, query, projectID, prNumber).Scan(
		&pr.ID, &pr.ProjectID, &pr.Number, &pr.SourceBranchName, &pr.TargetBranchName,
		&pr.CommitHash, &pr.PrVersion, &pr.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get pull request: %w", err)
	}
	return &pr, nil
}

// SaveAnalysis persists the analysis and its owned issues in one transaction.
func (s *PostgresStore) SaveAnalysis(ctx context.Context, analysis *models.CodeAnalysis) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if analysis.ID == 0 {
		err = tx.QueryRow(ctx, `
			INSERT INTO code_analyses (project_id, analysis_type, pr_number, branch_name,
				source_branch_name, commit_hash, pr_version, status, comment)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING id, created_at, updated_at`,
			analysis.ProjectID, analysis.AnalysisType, analysis.PrNumber, analysis.BranchName,
			analysis.SourceBranchName, analysis.CommitHash, analysis.PrVersion,
			analysis.Status, analysis.Comment).
			Scan(&analysis.ID, &analysis.CreatedAt, &analysis.UpdatedAt)
	} else {
		_, err = tx.Exec(ctx, `
			UPDATE code_analyses SET status = $2, comment = $3, updated_at = now()
			WHERE id = $1`,
			analysis.ID, analysis.Status, analysis.Comment)
	}
	if err != nil {
		return fmt.Errorf("save analysis: %w", err)
	}

	for _, iss := range analysis.Issues {
		if iss.ID != 0 {
			continue
		}
		iss.AnalysisID = analysis.ID
		err = tx.QueryRow(ctx, `
			INSERT INTO code_analysis_issues (analysis_id, file_path, line_number,
				severity, reason, suggested_fix_description, resolved)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id`,
			iss.AnalysisID, iss.FilePath, iss.LineNumber, iss.Severity,
			iss.Reason, iss.SuggestedFix, iss.Resolved).Scan(&iss.ID)
		if err != nil {
			return fmt.Errorf("save analysis issue: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// FindAcceptedAnalysis returns the ACCEPTED analysis for the fingerprint
// (project, commitHash, prNumber), with its issues.
func (s *PostgresStore) FindAcceptedAnalysis(ctx context.Context, projectID int64, commitHash string, prNumber *int) (*models.CodeAnalysis, error) {
	query := `
		SELECT id, project_id, analysis_type, pr_number, branch_name, source_branch_name,
			commit_hash, pr_version, status, comment, created_at, updated_at
		FROM code_analyses
		WHERE project_id = $1 AND commit_hash = $2
			AND COALESCE(pr_number, -1) = COALESCE($3, -1)
			AND status = 'ACCEPTED'
	`
	a, err := s.scanAnalysis(ctx, query, projectID, commitHash, prNumber)
	if err != nil {
		return nil, err
	}
	if err := s.loadIssues(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// ListPrAnalyses returns the PR's analyses newest-first, with issues.
func (s *PostgresStore) ListPrAnalyses(ctx context.Context, projectID int64, prNumber int) ([]*models.CodeAnalysis, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, project_id, analysis_type, pr_number, branch_name, source_branch_name,
			commit_hash, pr_version, status, comment, created_at, updated_at
		FROM code_analyses
		WHERE project_id = $1 AND pr_number = $2
		ORDER BY created_at DESC, id DESC`,
		projectID, prNumber)
	if err != nil {
		return nil, fmt.Errorf("list pr analyses: %w", err)
	}
	defer rows.Close()

	var out []*models.CodeAnalysis
	for rows.Next() {
		var a models.CodeAnalysis
		if err := rows.Scan(&a.ID, &a.ProjectID, &a.AnalysisType, &a.PrNumber, &a.BranchName,
			&a.SourceBranchName, &a.CommitHash, &a.PrVersion, &a.Status, &a.Comment,
			&a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan analysis: %w", err)
		}
		out = append(out, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, a := range out {
		if err := s.loadIssues(ctx, a); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// GetAnalysisIssue loads one finding row.
func (s *PostgresStore) GetAnalysisIssue(ctx context.Context, issueID int64) (*models.CodeAnalysisIssue, error) {
	var iss models.CodeAnalysisIssue
	err := s.pool.QueryRow(ctx, `
		SELECT id, analysis_id, file_path, line_number, severity, reason,
			suggested_fix_description, resolved
		FROM code_analysis_issues WHERE id = $1`, issueID).
		Scan(&iss.ID, &iss.AnalysisID, &iss.FilePath, &iss.LineNumber, &iss.Severity,
			&iss.Reason, &iss.SuggestedFix, &iss.Resolved)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get analysis issue: %w", err)
	}
	return &iss, nil
}

// ListIssuesForBranchFile applies the branch-targeting filter: the owning
// analysis' branch_name OR source_branch_name equals the target branch.
// The OR double-mapping is kept verbatim for counter compatibility.
func (s *PostgresStore) ListIssuesForBranchFile(ctx context.Context, projectID int64, branch, filePath string) ([]IssueWithOrigin, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT i.id, i.analysis_id, i.file_path, i.line_number, i.severity, i.reason,
			i.suggested_fix_description, i.resolved, a.pr_number
		FROM code_analysis_issues i
		JOIN code_analyses a ON a.id = i.analysis_id
		WHERE a.project_id = $1 AND i.file_path = $2
			AND (a.branch_name = $3 OR a.source_branch_name = $3)`,
		projectID, filePath, branch)
	if err != nil {
		return nil, fmt.Errorf("list issues for branch file: %w", err)
	}
	defer rows.Close()

	var out []IssueWithOrigin
	for rows.Next() {
		var iss models.CodeAnalysisIssue
		var prNumber *int
		if err := rows.Scan(&iss.ID, &iss.AnalysisID, &iss.FilePath, &iss.LineNumber,
			&iss.Severity, &iss.Reason, &iss.SuggestedFix, &iss.Resolved, &prNumber); err != nil {
			return nil, fmt.Errorf("scan issue: %w", err)
		}
		out = append(out, IssueWithOrigin{Issue: &iss, PrNumber: prNumber})
	}
	return out, rows.Err()
}

// UpsertBranch creates the branch lazily and refreshes the observed head.
func (s *PostgresStore) UpsertBranch(ctx context.Context, projectID int64, branch, commitHash string) (*models.Branch, error) {
	query := `
		INSERT INTO branches (project_id, branch_name, commit_hash)
		VALUES ($1, $2, $3)
		ON CONFLICT (project_id, branch_name) DO UPDATE SET
			commit_hash = EXCLUDED.commit_hash,
			updated_at = now()
		RETURNING ` + branchColumns
	return s.scanBranch(ctx, query, projectID, branch, commitHash)
}

// GetBranch looks up by (project, name).
func (s *PostgresStore) GetBranch(ctx context.Context, projectID int64, branch string) (*models.Branch, error) {
	query := `SELECT ` + branchColumns + ` FROM branches WHERE project_id = $1 AND branch_name = $2`
	return s.scanBranch(ctx, query, projectID, branch)
}

// UpsertBranchIssue maps a finding onto the branch, preserving
// first_detected_pr_number on update.
func (s *PostgresStore) UpsertBranchIssue(ctx context.Context, branchID int64, issue *models.CodeAnalysisIssue, firstDetectedPr *int) (*models.BranchIssue, error) {
	query := `
		INSERT INTO branch_issues (branch_id, code_analysis_issue_id, severity,
			resolved, first_detected_pr_number)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (branch_id, code_analysis_issue_id) DO UPDATE SET
			severity = EXCLUDED.severity
		RETURNING id, branch_id, code_analysis_issue_id, severity, resolved,
			first_detected_pr_number, resolved_in_pr_number, resolved_in_commit_hash,
			resolved_description, resolved_at, resolved_by
	`
	var bi models.BranchIssue
	err := s.pool.QueryRow(ctx, query, branchID, issue.ID, issue.Severity, issue.Resolved, firstDetectedPr).
		Scan(&bi.ID, &bi.BranchID, &bi.CodeAnalysisIssueID, &bi.Severity, &bi.Resolved,
			&bi.FirstDetectedPr, &bi.ResolvedInPr, &bi.ResolvedInCommit,
			&bi.ResolvedDescription, &bi.ResolvedAt, &bi.ResolvedBy)
	if err != nil {
		return nil, fmt.Errorf("upsert branch issue: %w", err)
	}
	return &bi, nil
}

// ListBranchIssues returns the branch's issue links.
func (s *PostgresStore) ListBranchIssues(ctx context.Context, branchID int64) ([]*models.BranchIssue, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, branch_id, code_analysis_issue_id, severity, resolved,
			first_detected_pr_number, resolved_in_pr_number, resolved_in_commit_hash,
			resolved_description, resolved_at, resolved_by
		FROM branch_issues WHERE branch_id = $1`, branchID)
	if err != nil {
		return nil, fmt.Errorf("list branch issues: %w", err)
	}
	defer rows.Close()

	var out []*models.BranchIssue
	for rows.Next() {
		var bi models.BranchIssue
		if err := rows.Scan(&bi.ID, &bi.BranchID, &bi.CodeAnalysisIssueID, &bi.Severity,
			&bi.Resolved, &bi.FirstDetectedPr, &bi.ResolvedInPr, &bi.ResolvedInCommit,
			&bi.ResolvedDescription, &bi.ResolvedAt, &bi.ResolvedBy); err != nil {
			return nil, fmt.Errorf("scan branch issue: %w", err)
		}
		out = append(out, &bi)
	}
	return out, rows.Err()
}

// ResolveIssue flips the branch issue and its authoritative finding in one
// transaction.
func (s *PostgresStore) ResolveIssue(ctx context.Context, branchID, codeAnalysisIssueID int64, commitHash string, prNumber *int, description string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE branch_issues SET resolved = TRUE, resolved_in_commit_hash = $3,
			resolved_in_pr_number = $4, resolved_description = $5, resolved_at = now()
		WHERE branch_id = $1 AND code_analysis_issue_id = $2`,
		branchID, codeAnalysisIssueID, commitHash, prNumber, description)
	if err != nil {
		return fmt.Errorf("resolve branch issue: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	if _, err := tx.Exec(ctx,
		`UPDATE code_analysis_issues SET resolved = TRUE WHERE id = $1`,
		codeAnalysisIssueID); err != nil {
		return fmt.Errorf("resolve analysis issue: %w", err)
	}

	return tx.Commit(ctx)
}

// RecomputeBranchCounters rescans owned issues and rewrites the counters in
// one transaction. Readers see pre- or post-state, never an intermediate one.
func (s *PostgresStore) RecomputeBranchCounters(ctx context.Context, branchID int64) (*models.Branch, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		UPDATE branches b SET
			total_issues = c.total,
			high_severity_count = c.high,
			medium_severity_count = c.medium,
			low_severity_count = c.low,
			info_severity_count = c.info,
			resolved_count = c.resolved,
			updated_at = now()
		FROM (
			SELECT
				COUNT(*) FILTER (WHERE NOT resolved)                            AS total,
				COUNT(*) FILTER (WHERE NOT resolved AND severity = 'HIGH')      AS high,
				COUNT(*) FILTER (WHERE NOT resolved AND severity = 'MEDIUM')    AS medium,
				COUNT(*) FILTER (WHERE NOT resolved AND severity = 'LOW')       AS low,
				COUNT(*) FILTER (WHERE NOT resolved AND severity = 'INFO')      AS info,
				COUNT(*) FILTER (WHERE resolved)                                AS resolved
			FROM branch_issues WHERE branch_id = $1
		) c
		WHERE b.id = $1
		RETURNING ` + prefixedBranchColumns("b")
	b, err := scanBranchRow(tx.QueryRow(ctx, query, branchID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("recompute branch counters: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

// UpsertBranchFile sets the unresolved-issue count for the file.
func (s *PostgresStore) UpsertBranchFile(ctx context.Context, projectID int64, branch, filePath string, issueCount int) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO branch_files (project_id, branch_name, file_path, issue_count)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (project_id, branch_name, file_path) DO UPDATE SET
			issue_count = EXCLUDED.issue_count,
			updated_at = now()`,
		projectID, branch, filePath, issueCount)
	if err != nil {
		return fmt.Errorf("upsert branch file: %w", err)
	}
	return nil
}

// GetBranchFile looks up by (project, branch, path).
func (s *PostgresStore) GetBranchFile(ctx context.Context, projectID int64, branch, filePath string) (*models.BranchFile, error) {
	var bf models.BranchFile
	err := s.pool.QueryRow(ctx, `
		SELECT id, project_id, branch_name, file_path, issue_count, updated_at
		FROM branch_files
		WHERE project_id = $1 AND branch_name = $2 AND file_path = $3`,
		projectID, branch, filePath).
		Scan(&bf.ID, &bf.ProjectID, &bf.BranchName, &bf.FilePath, &bf.IssueCount, &bf.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get branch file: %w", err)
	}
	return &bf, nil
}

// Internal helpers

const branchColumns = `id, project_id, branch_name, commit_hash, last_successful_commit_hash,
	health_status, consecutive_failures, last_health_check_at, total_issues,
	high_severity_count, medium_severity_count, low_severity_count,
	info_severity_count, resolved_count, updated_at`

func prefixedBranchColumns(alias string) string {
	return alias + `.id, ` + alias + `.project_id, ` + alias + `.branch_name, ` +
		alias + `.commit_hash, ` + alias + `.last_successful_commit_hash, ` +
		alias + `.health_status, ` + alias + `.consecutive_failures, ` +
		alias + `.last_health_check_at, ` + alias + `.total_issues, ` +
		alias + `.high_severity_count, ` + alias + `.medium_severity_count, ` +
		alias + `.low_severity_count, ` + alias + `.info_severity_count, ` +
		alias + `.resolved_count, ` + alias + `.updated_at`
}

func scanBranchRow(row pgx.Row) (*models.Branch, error) {
	var b models.Branch
	err := row.Scan(&b.ID, &b.ProjectID, &b.Name, &b.CommitHash, &b.LastSuccessfulCommitHash,
		&b.HealthStatus, &b.ConsecutiveFailures, &b.LastHealthCheckAt, &b.TotalIssues,
		&b.HighSeverityCount, &b.MediumSeverityCount, &b.LowSeverityCount,
		&b.InfoSeverityCount, &b.ResolvedCount, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *PostgresStore) scanBranch(ctx context.Context, query string, args ...interface{}) (*models.Branch, error) {
	b, err := scanBranchRow(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan branch: %w", err)
	}
	return b, nil
}

func (s *PostgresStore) scanAnalysis(ctx context.Context, query string, args ...interface{}) (*models.CodeAnalysis, error) {
	var a models.CodeAnalysis
	err := s.pool.QueryRow(ctx, query, args...).Scan(
		&a.ID, &a.ProjectID, &a.AnalysisType, &a.PrNumber, &a.BranchName,
		&a.SourceBranchName, &a.CommitHash, &a.PrVersion, &a.Status, &a.Comment,
		&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan analysis: %w", err)
	}
	return &a, nil
}

func (s *PostgresStore) loadIssues(ctx context.Context, a *models.CodeAnalysis) error {
	rows, err := s.pool.Query(ctx, `
		SELECT id, analysis_id, file_path, line_number, severity, reason,
			suggested_fix_description, resolved
		FROM code_analysis_issues WHERE analysis_id = $1
		ORDER BY file_path, line_number NULLS LAST, id`, a.ID)
	if err != nil {
		return fmt.Errorf("load issues: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var iss models.CodeAnalysisIssue
		if err := rows.Scan(&iss.ID, &iss.AnalysisID, &iss.FilePath, &iss.LineNumber,
			&iss.Severity, &iss.Reason, &iss.SuggestedFix, &iss.Resolved); err != nil {
			return fmt.Errorf("scan issue: %w", err)
		}
		a.Issues = append(a.Issues, &iss)
	}
	return rows.Err()
}
