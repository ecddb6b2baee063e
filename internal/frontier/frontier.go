// Package frontier tracks the two monotonic LSN counters that gate
// reads and mark the WAL resume point for a single timeline: the last
// valid LSN readers may observe, and the last record LSN the WAL
// receiver should resume streaming from.
package frontier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/linux/projects/server/page-server/internal/keycodec"
)

// ErrWaitedTooLong is returned by Wait when the frontier does not reach
// the requested LSN before the timeout elapses.
var ErrWaitedTooLong = errors.New("frontier: waited too long for lsn")

// DefaultWaitTimeout is used by Wait when the caller's context carries
// no deadline of its own.
const DefaultWaitTimeout = 30 * time.Second

// Frontier holds the last-valid and last-record LSN counters for one
// timeline, plus the wait primitive readers block on.
type Frontier struct {
	mu         sync.Mutex
	cond       *sync.Cond
	lastValid  keycodec.Lsn
	lastRecord keycodec.Lsn
}

// New creates a Frontier with both counters at keycodec.InvalidLsn.
func New() *Frontier {
	f := &Frontier{}
	f.cond = sync.NewCond(&f.mu)
	return f
}

// InitValidLsn sets the initial last-valid LSN, e.g. after restoring a
// timeline from on-disk state. It is only meaningful before any writer
// has started advancing the frontier.
func (f *Frontier) InitValidLsn(l keycodec.Lsn) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if l > f.lastValid {
		f.lastValid = l
	}
}

// AdvanceLastRecordLsn advances the last-record counter. Calling with a
// value not greater than the current counter is a no-op; the counter
// never regresses.
func (f *Frontier) AdvanceLastRecordLsn(l keycodec.Lsn) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if l > f.lastRecord {
		f.lastRecord = l
	}
}

// AdvanceLastValidLsn advances the last-valid counter and wakes every
// goroutine blocked in Wait. Calling with a value not greater than the
// current counter is a no-op.
func (f *Frontier) AdvanceLastValidLsn(l keycodec.Lsn) {
	f.mu.Lock()
	if l > f.lastValid {
		f.lastValid = l
	}
	f.mu.Unlock()
	f.cond.Broadcast()
}

// GetLastValidLsn returns the current last-valid LSN.
func (f *Frontier) GetLastValidLsn() keycodec.Lsn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastValid
}

// GetLastRecordLsn returns the current last-record LSN.
func (f *Frontier) GetLastRecordLsn() keycodec.Lsn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastRecord
}

// Wait blocks until the last-valid LSN is at least target, the context
// is cancelled, or the timeout elapses, returning the observed
// last-valid LSN. The timeout is the context's deadline when it has one,
// and DefaultWaitTimeout otherwise; when it elapses Wait returns
// ErrWaitedTooLong.
func (f *Frontier) Wait(ctx context.Context, target keycodec.Lsn) (keycodec.Lsn, error) {
	deadline := time.Now().Add(DefaultWaitTimeout)
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			f.cond.Broadcast()
		case <-time.After(time.Until(deadline)):
			f.cond.Broadcast()
		case <-done:
		}
	}()

	f.mu.Lock()
	defer f.mu.Unlock()
	for f.lastValid < target {
		if time.Now().After(deadline) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return f.lastValid, ErrWaitedTooLong
		}
		if err := ctx.Err(); err != nil {
			return f.lastValid, fmt.Errorf("frontier: wait cancelled: %w", err)
		}
		f.cond.Wait()
	}
	return f.lastValid, nil
}
