package ingest

// limiter.go bounds how many ingestion runs execute in parallel. Each run
// holds a decoded workbook in memory, so an unbounded number of uploads
// can exhaust the process; the semaphore caps that. Requests that cannot
// get a slot within maxWait fail with ErrTooManyIngestions.

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrTooManyIngestions is returned when every slot is occupied and the
// wait timeout expires. Clients should retry after a short delay.
var ErrTooManyIngestions = errors.New("too many concurrent uploads, please try again later")

// Limiter restricts concurrent ingestion runs using a buffered channel as
// a counting semaphore.
type Limiter struct {
	slots   chan struct{}
	maxWait time.Duration

	mu     sync.Mutex
	active int
}

// NewLimiter allows at most maxConcurrent simultaneous runs. Callers that
// cannot acquire a slot within maxWait receive ErrTooManyIngestions.
func NewLimiter(maxConcurrent int, maxWait time.Duration) *Limiter {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Limiter{
		slots:   make(chan struct{}, maxConcurrent),
		maxWait: maxWait,
	}
}

// Acquire blocks until a slot is free, the wait timeout expires, or ctx is
// cancelled. On success the caller must Release exactly once.
func (l *Limiter) Acquire(ctx context.Context) error {
	waitCtx := ctx
	if l.maxWait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, l.maxWait)
		defer cancel()
	}

	select {
	case l.slots <- struct{}{}:
		l.mu.Lock()
		l.active++
		l.mu.Unlock()
		return nil
	case <-waitCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrTooManyIngestions
	}
}

// Release frees a previously acquired slot.
func (l *Limiter) Release() {
	l.mu.Lock()
	l.active--
	l.mu.Unlock()
	<-l.slots
}

// Active returns the number of runs currently holding a slot.
func (l *Limiter) Active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

// WaitForDrain blocks until no runs are active or ctx is cancelled. Used
// during shutdown so in-flight ingestions finish before the process exits.
func (l *Limiter) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		if l.Active() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
