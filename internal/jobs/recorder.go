package jobs

import (
	"context"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver registration
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/rostilos/codecrow/internal/models"
)

// Pipeline stages recorded against a job. The sequence is fixed; a run may
// stop early (cache hit skips everything after cache).
const (
	StageLock      = "lock"
	StageCache     = "cache"
	StageDiff      = "diff"
	StageAI        = "ai"
	StagePersist   = "persist"
	StageReport    = "report"
	StageReconcile = "reconcile"
	StageRag       = "rag"
)

// Recorder captures per-run audit rows. Every write is best-effort: a failed
// audit insert never fails the analysis, it is logged and dropped.
type Recorder interface {
	JobStarted(ctx context.Context, correlationID string, projectID int64, analysisType models.AnalysisType, branch string, prNumber *int)
	StageCompleted(ctx context.Context, correlationID, stage string, detail string)
	StageFailed(ctx context.Context, correlationID, stage string, stageErr error)
	JobFinished(ctx context.Context, correlationID, status string)
}

// Discard drops every record. Used when no audit DSN is configured.
var Discard Recorder = discardRecorder{}

type discardRecorder struct{}

func (discardRecorder) JobStarted(context.Context, string, int64, models.AnalysisType, string, *int) {
}
func (discardRecorder) StageCompleted(context.Context, string, string, string) {}
func (discardRecorder) StageFailed(context.Context, string, string, error)     {}
func (discardRecorder) JobFinished(context.Context, string, string)            {}

const recorderSchema = `
CREATE TABLE IF NOT EXISTS analysis_jobs (
    correlation_id TEXT PRIMARY KEY,
    project_id     BIGINT NOT NULL,
    analysis_type  TEXT NOT NULL,
    branch_name    TEXT NOT NULL,
    pr_number      INTEGER,
    status         TEXT NOT NULL DEFAULT 'RUNNING',
    started_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
    finished_at    TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS analysis_job_events (
    id             BIGSERIAL PRIMARY KEY,
    correlation_id TEXT NOT NULL,
    stage          TEXT NOT NULL,
    outcome        TEXT NOT NULL,
    detail         TEXT NOT NULL DEFAULT '',
    recorded_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS analysis_job_events_correlation
    ON analysis_job_events (correlation_id, id);
`

// DBRecorder writes audit rows through sqlx.
type DBRecorder struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewDBRecorder connects to the audit database and ensures the schema.
func NewDBRecorder(dsn string, logger *logrus.Logger) (*DBRecorder, error) {
	db, err := sqlx.Connect("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)
	if _, err := db.Exec(recorderSchema); err != nil {
		db.Close()
		return nil, err
	}
	return &DBRecorder{db: db, logger: logger}, nil
}

// Close releases the audit connection pool.
func (r *DBRecorder) Close() error {
	return r.db.Close()
}

func (r *DBRecorder) JobStarted(ctx context.Context, correlationID string, projectID int64, analysisType models.AnalysisType, branch string, prNumber *int) {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO analysis_jobs (correlation_id, project_id, analysis_type, branch_name, pr_number)
		VALUES (:correlation_id, :project_id, :analysis_type, :branch_name, :pr_number)
		ON CONFLICT (correlation_id) DO NOTHING`,
		map[string]interface{}{
			"correlation_id": correlationID,
			"project_id":     projectID,
			"analysis_type":  string(analysisType),
			"branch_name":    branch,
			"pr_number":      prNumber,
		})
	if err != nil {
		r.logger.WithError(err).WithField("correlation_id", correlationID).
			Warn("audit: job start not recorded")
	}
}

func (r *DBRecorder) StageCompleted(ctx context.Context, correlationID, stage, detail string) {
	r.insertEvent(ctx, correlationID, stage, "completed", detail)
}

func (r *DBRecorder) StageFailed(ctx context.Context, correlationID, stage string, stageErr error) {
	detail := ""
	if stageErr != nil {
		detail = stageErr.Error()
	}
	r.insertEvent(ctx, correlationID, stage, "failed", detail)
}

func (r *DBRecorder) JobFinished(ctx context.Context, correlationID, status string) {
	_, err := r.db.ExecContext(ctx, `
		UPDATE analysis_jobs SET status = $1, finished_at = now()
		WHERE correlation_id = $2`, status, correlationID)
	if err != nil {
		r.logger.WithError(err).WithField("correlation_id", correlationID).
			Warn("audit: job finish not recorded")
	}
}

func (r *DBRecorder) insertEvent(ctx context.Context, correlationID, stage, outcome, detail string) {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO analysis_job_events (correlation_id, stage, outcome, detail)
		VALUES (:correlation_id, :stage, :outcome, :detail)`,
		map[string]interface{}{
			"correlation_id": correlationID,
			"stage":          stage,
			"outcome":        outcome,
			"detail":         detail,
		})
	if err != nil {
		r.logger.WithError(err).WithFields(logrus.Fields{
			"correlation_id": correlationID,
			"stage":          stage,
		}).Warn("audit: stage event not recorded")
	}
}
