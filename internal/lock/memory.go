package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rostilos/codecrow/internal/events"
	"github.com/rostilos/codecrow/internal/models"
)

type lockTuple struct {
	projectID    int64
	branchName   string
	analysisType models.AnalysisType
}

// MemoryLocker is the in-memory Locker used by tests and local mode. The
// mutex makes check-and-insert atomic, matching the Postgres conditional
// insert semantics.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]*models.AnalysisLock
}

// NewMemoryLocker creates an empty in-memory locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{locks: make(map[string]*models.AnalysisLock)}
}

// Acquire takes the lock unless an unexpired holder exists for the tuple.
func (l *MemoryLocker) Acquire(ctx context.Context, req Request) (Acquisition, error) {
	if err := ctx.Err(); err != nil {
		return Acquisition{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	tuple := lockTuple{req.ProjectID, req.BranchName, req.AnalysisType}
	for key, held := range l.locks {
		if held.Expired(now) {
			delete(l.locks, key)
			continue
		}
		if (lockTuple{held.ProjectID, held.BranchName, held.AnalysisType}) == tuple {
			return Acquisition{Acquired: false}, nil
		}
	}

	lockKey := uuid.NewString()
	l.locks[lockKey] = &models.AnalysisLock{
		LockKey:      lockKey,
		ProjectID:    req.ProjectID,
		BranchName:   req.BranchName,
		AnalysisType: req.AnalysisType,
		CommitHash:   req.CommitHash,
		PrNumber:     req.PrNumber,
		AcquiredAt:   now,
		ExpiresAt:    now.Add(req.ttl()),
	}
	return Acquisition{LockKey: lockKey, Acquired: true}, nil
}

// AcquireWait polls Acquire until success, timeout, or cancellation.
func (l *MemoryLocker) AcquireWait(ctx context.Context, req Request, sink events.Sink, opts WaitOptions) (string, error) {
	return acquireWait(ctx, l, req, sink, opts)
}

// Release deletes by key; unknown keys are a no-op.
func (l *MemoryLocker) Release(ctx context.Context, lockKey string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.locks, lockKey)
	return nil
}

// SweepExpired removes rows past their deadline.
func (l *MemoryLocker) SweepExpired(ctx context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	n := 0
	for key, held := range l.locks {
		if held.Expired(now) {
			delete(l.locks, key)
			n++
		}
	}
	return n, nil
}

// Held reports whether an unexpired lock exists for the tuple. Test helper.
func (l *MemoryLocker) Held(projectID int64, branch string, analysisType models.AnalysisType) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	for _, held := range l.locks {
		if held.ProjectID == projectID && held.BranchName == branch &&
			held.AnalysisType == analysisType && !held.Expired(now) {
			return true
		}
	}
	return false
}
