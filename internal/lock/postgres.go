package lock

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rostilos/codecrow/internal/events"
)

// PostgresLocker implements Locker on the shared database. The unique index
// on (project_id, branch_name, analysis_type) enforces the single holder;
// the race loser's insert conflicts and affects zero rows.
type PostgresLocker struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresLocker wraps an existing pool (shared with the store).
func NewPostgresLocker(pool *pgxpool.Pool, logger *slog.Logger) *PostgresLocker {
	return &PostgresLocker{pool: pool, logger: logger}
}

// Acquire attempts the insert. A zero-row result means an unexpired lock
// holds the tuple.
func (l *PostgresLocker) Acquire(ctx context.Context, req Request) (Acquisition, error) {
	lockKey := uuid.NewString()

	// Expired rows for the same tuple are cleared inline so a crashed
	// holder never blocks past its TTL even if the sweeper is behind.
	if _, err := l.pool.Exec(ctx, `
		DELETE FROM analysis_locks
		WHERE project_id = $1 AND branch_name = $2 AND analysis_type = $3
			AND expires_at <= now()`,
		req.ProjectID, req.BranchName, req.AnalysisType); err != nil {
		return Acquisition{}, fmt.Errorf("clear expired locks: %w", err)
	}

	tag, err := l.pool.Exec(ctx, `
		INSERT INTO analysis_locks (lock_key, project_id, branch_name, analysis_type,
			commit_hash, pr_number, acquired_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now() + make_interval(secs => $7))
		ON CONFLICT (project_id, branch_name, analysis_type) DO NOTHING`,
		lockKey, req.ProjectID, req.BranchName, req.AnalysisType,
		req.CommitHash, req.PrNumber, req.ttl().Seconds())
	if err != nil {
		return Acquisition{}, fmt.Errorf("acquire lock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return Acquisition{Acquired: false}, nil
	}

	l.logger.Debug("lock acquired",
		"project_id", req.ProjectID, "branch", req.BranchName,
		"type", req.AnalysisType, "lock_key", lockKey)
	return Acquisition{LockKey: lockKey, Acquired: true}, nil
}

// AcquireWait polls Acquire until success, timeout, or cancellation.
func (l *PostgresLocker) AcquireWait(ctx context.Context, req Request, sink events.Sink, opts WaitOptions) (string, error) {
	return acquireWait(ctx, l, req, sink, opts)
}

// Release deletes the lock by key. Failure to release is the caller's to log
// and ignore; expiration cleans up.
func (l *PostgresLocker) Release(ctx context.Context, lockKey string) error {
	if lockKey == "" {
		return nil
	}
	if _, err := l.pool.Exec(ctx, `DELETE FROM analysis_locks WHERE lock_key = $1`, lockKey); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

// SweepExpired deletes rows past their deadline. Run at least once per TTL.
func (l *PostgresLocker) SweepExpired(ctx context.Context) (int, error) {
	tag, err := l.pool.Exec(ctx, `DELETE FROM analysis_locks WHERE expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("sweep expired locks: %w", err)
	}
	n := int(tag.RowsAffected())
	if n > 0 {
		l.logger.Info("expired locks swept", "count", n)
	}
	return n, nil
}
