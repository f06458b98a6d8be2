package lock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rostilos/codecrow/internal/errors"
	"github.com/rostilos/codecrow/internal/events"
	"github.com/rostilos/codecrow/internal/models"
)

func testRequest(ttl time.Duration) Request {
	return Request{
		ProjectID:    1,
		BranchName:   "main",
		AnalysisType: models.PrAnalysis,
		CommitHash:   "abc123",
		TTL:          ttl,
	}
}

func TestAcquireSingleHolder(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	acq, err := l.Acquire(ctx, testRequest(time.Minute))
	require.NoError(t, err)
	require.True(t, acq.Acquired)
	require.NotEmpty(t, acq.LockKey)

	second, err := l.Acquire(ctx, testRequest(time.Minute))
	require.NoError(t, err)
	assert.False(t, second.Acquired)
	assert.Empty(t, second.LockKey)
}

func TestAcquireDistinctTuples(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	first, err := l.Acquire(ctx, testRequest(time.Minute))
	require.NoError(t, err)
	require.True(t, first.Acquired)

	other := testRequest(time.Minute)
	other.AnalysisType = models.BranchAnalysis
	second, err := l.Acquire(ctx, other)
	require.NoError(t, err)
	assert.True(t, second.Acquired, "different analysis type is a different tuple")
}

func TestReleaseFreesTuple(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	acq, err := l.Acquire(ctx, testRequest(time.Minute))
	require.NoError(t, err)
	require.True(t, acq.Acquired)

	require.NoError(t, l.Release(ctx, acq.LockKey))
	require.NoError(t, l.Release(ctx, acq.LockKey), "release is idempotent")

	again, err := l.Acquire(ctx, testRequest(time.Minute))
	require.NoError(t, err)
	assert.True(t, again.Acquired)
}

func TestExpiredLockIsReacquirable(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	acq, err := l.Acquire(ctx, testRequest(10*time.Millisecond))
	require.NoError(t, err)
	require.True(t, acq.Acquired)

	time.Sleep(20 * time.Millisecond)

	again, err := l.Acquire(ctx, testRequest(time.Minute))
	require.NoError(t, err)
	assert.True(t, again.Acquired, "expired lock must not block a new holder")
}

func TestAcquireWaitTimesOut(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	acq, err := l.Acquire(ctx, testRequest(time.Minute))
	require.NoError(t, err)
	require.True(t, acq.Acquired)

	collector := &events.Collector{}
	_, err = l.AcquireWait(ctx, testRequest(time.Minute), collector, WaitOptions{
		PollInterval: 10 * time.Millisecond,
		MaxWait:      50 * time.Millisecond,
	})
	require.Error(t, err)
	assert.True(t, errors.IsLocked(err))

	waits := collector.OfType("lock_waiting")
	require.NotEmpty(t, waits, "each retry emits a lock_waiting event")
	assert.Equal(t, "main", waits[0]["branch"])
	assert.Equal(t, string(models.PrAnalysis), waits[0]["analysis_type"])
}

func TestAcquireWaitSucceedsAfterRelease(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	acq, err := l.Acquire(ctx, testRequest(time.Minute))
	require.NoError(t, err)
	require.True(t, acq.Acquired)

	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = l.Release(context.Background(), acq.LockKey)
	}()

	key, err := l.AcquireWait(ctx, testRequest(time.Minute), events.Discard, WaitOptions{
		PollInterval: 10 * time.Millisecond,
		MaxWait:      2 * time.Second,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, key)
}

func TestAcquireWaitCancellation(t *testing.T) {
	l := NewMemoryLocker()

	acq, err := l.Acquire(context.Background(), testRequest(time.Minute))
	require.NoError(t, err)
	require.True(t, acq.Acquired)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err = l.AcquireWait(ctx, testRequest(time.Minute), events.Discard, WaitOptions{
		PollInterval: 10 * time.Millisecond,
		MaxWait:      5 * time.Second,
	})
	require.Error(t, err)
	assert.Equal(t, errors.KindCancelled, errors.KindOf(err))
}

func TestSweepExpired(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	_, err := l.Acquire(ctx, testRequest(10*time.Millisecond))
	require.NoError(t, err)

	live := testRequest(time.Minute)
	live.BranchName = "develop"
	_, err = l.Acquire(ctx, live)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)

	n, err := l.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, l.Held(1, "develop", models.PrAnalysis))
	assert.False(t, l.Held(1, "main", models.PrAnalysis))
}
