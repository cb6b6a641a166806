package flow

import (
	"context"
	"sync"

	"github.com/pitabwire/floe/model"
)

// Locker serializes phase execution per flow ID. At most one holder per flow
// ID at a time; a second acquirer is rejected immediately rather than queued,
// so the caller can surface a conflict instead of stacking stale executions.
type Locker interface {
	// TryAcquire takes the lock for a flow ID. On success it returns a
	// release function that must be called exactly once. If the lock is
	// already held it returns an EXECUTION_IN_FLIGHT error.
	TryAcquire(ctx context.Context, flowID string) (release func(), err error)
}

// MemoryLocker is an in-process Locker for single-instance deployments.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewMemoryLocker creates a new in-process locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]struct{})}
}

// TryAcquire takes the in-process lock for a flow ID.
func (l *MemoryLocker) TryAcquire(_ context.Context, flowID string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, taken := l.held[flowID]; taken {
		return nil, inFlightError(flowID)
	}
	l.held[flowID] = struct{}{}

	var once sync.Once
	release := func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, flowID)
			l.mu.Unlock()
		})
	}
	return release, nil
}

func inFlightError(flowID string) *model.ErrorEnvelope {
	return &model.ErrorEnvelope{
		Code:       model.ErrExecutionInFlight,
		Message:    "another phase execution is in flight for flow " + flowID,
		NextAction: model.ActionRetry,
	}
}
