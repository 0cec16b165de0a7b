package core

// limiter.go bounds how many finished uploads are post-processed and committed
// at once. Receiving chunks is not limited: a chunk is a bounded write to a
// scratch file, while finalization may call a remote compressor and stream a
// whole file to object storage.
//
// When all slots are occupied a finished upload waits up to maxWait before
// failing with ErrTooManyUploads. WaitForDrain supports graceful shutdown.

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// ErrTooManyUploads is returned when all finalize slots are occupied and the
// wait timeout expires. Clients should retry after a short delay.
var ErrTooManyUploads = errors.New("too many concurrent uploads, please try again later")

const (
	// DefaultMaxConcurrentFinalizations is the default limit for parallel finalizations.
	DefaultMaxConcurrentFinalizations = 5

	// DefaultMaxWaitTime is how long to wait for a slot before rejecting.
	DefaultMaxWaitTime = 30 * time.Second

	drainPollInterval = 50 * time.Millisecond
)

// FinalizeLimiter is a counting semaphore around the finalize stage.
type FinalizeLimiter struct {
	slots   chan struct{}
	maxWait time.Duration
	active  atomic.Int64
}

// NewFinalizeLimiter allows at most maxConcurrent simultaneous finalizations.
func NewFinalizeLimiter(maxConcurrent int, maxWait time.Duration) *FinalizeLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentFinalizations
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWaitTime
	}

	return &FinalizeLimiter{
		slots:   make(chan struct{}, maxConcurrent),
		maxWait: maxWait,
	}
}

// Acquire takes a slot, waiting at most maxWait.
// The caller MUST call Release when finalization completes (use defer).
func (l *FinalizeLimiter) Acquire(ctx context.Context) error {
	timer := time.NewTimer(l.maxWait)
	defer timer.Stop()

	select {
	case l.slots <- struct{}{}:
		l.active.Add(1)
		return nil
	case <-timer.C:
		return ErrTooManyUploads
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release returns a slot taken by Acquire.
func (l *FinalizeLimiter) Release() {
	l.active.Add(-1)
	<-l.slots
}

// Active returns the number of finalizations in flight.
func (l *FinalizeLimiter) Active() int {
	return int(l.active.Load())
}

// WaitForDrain blocks until no finalization is in flight or ctx is done.
func (l *FinalizeLimiter) WaitForDrain(ctx context.Context) error {
	if l.Active() == 0 {
		return nil
	}

	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if l.Active() == 0 {
				return nil
			}
		}
	}
}

// LimiterStatus is a snapshot of the limiter for the health endpoint.
type LimiterStatus struct {
	Active        int `json:"active"`
	MaxConcurrent int `json:"max_concurrent"`
}

// Status returns the current limiter state.
func (l *FinalizeLimiter) Status() LimiterStatus {
	return LimiterStatus{
		Active:        l.Active(),
		MaxConcurrent: cap(l.slots),
	}
}
