package lock

import (
	"context"
	"time"

	"github.com/rostilos/codecrow/internal/errors"
	"github.com/rostilos/codecrow/internal/events"
	"github.com/rostilos/codecrow/internal/models"
)

// Defaults for acquisition behaviour. TTL is configurable per type via
// Request.TTL.
const (
	DefaultTTL          = 10 * time.Minute
	DefaultPollInterval = 5 * time.Second
	DefaultMaxWait      = 2 * time.Minute
)

// Request identifies the lock tuple and its metadata.
type Request struct {
	ProjectID    int64
	BranchName   string
	AnalysisType models.AnalysisType
	CommitHash   string
	PrNumber     *int
	TTL          time.Duration // zero = DefaultTTL
}

func (r Request) ttl() time.Duration {
	if r.TTL > 0 {
		return r.TTL
	}
	return DefaultTTL
}

// Acquisition is the result of a single acquire attempt.
type Acquisition struct {
	LockKey  string
	Acquired bool
}

// WaitOptions tune AcquireWait polling.
type WaitOptions struct {
	PollInterval time.Duration
	MaxWait      time.Duration
}

func (o WaitOptions) withDefaults() WaitOptions {
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.MaxWait <= 0 {
		o.MaxWait = DefaultMaxWait
	}
	return o
}

// Locker is the advisory expiring lock service. At most one unexpired lock
// exists per (project, branch, type); contention is detected by the failed
// conditional insert, never by a pre-read.
type Locker interface {
	// Acquire attempts a single conditional insert. Acquired=false means an
	// unexpired lock holds the tuple.
	Acquire(ctx context.Context, req Request) (Acquisition, error)

	// AcquireWait polls on contention, emitting a lock_waiting event on each
	// retry. Returns a LockedError after MaxWait.
	AcquireWait(ctx context.Context, req Request, sink events.Sink, opts WaitOptions) (string, error)

	// Release deletes the lock by key. Idempotent.
	Release(ctx context.Context, lockKey string) error

	// SweepExpired deletes rows past their deadline, returning the count.
	SweepExpired(ctx context.Context) (int, error)
}

// acquireWait implements the shared polling loop over a Locker's Acquire.
func acquireWait(ctx context.Context, l Locker, req Request, sink events.Sink, opts WaitOptions) (string, error) {
	opts = opts.withDefaults()
	if sink == nil {
		sink = events.Discard
	}

	deadline := time.Now().Add(opts.MaxWait)
	attempt := 0
	for {
		acq, err := l.Acquire(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return "", errors.Cancelled(ctx.Err())
			}
			return "", err
		}
		if acq.Acquired {
			return acq.LockKey, nil
		}

		attempt++
		if time.Now().After(deadline) {
			return "", &errors.LockedError{
				ProjectID:    req.ProjectID,
				BranchName:   req.BranchName,
				AnalysisType: req.AnalysisType,
			}
		}
		sink.Accept(events.LockWaiting(req.BranchName, string(req.AnalysisType), attempt))

		select {
		case <-ctx.Done():
			return "", errors.Cancelled(ctx.Err())
		case <-time.After(opts.PollInterval):
		}
	}
}
