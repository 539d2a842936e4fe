// ABOUTME: Block registry tracking temporary suspensions
// ABOUTME: Deferred unblocks are cancellable timers, never blocking sleeps

package block

import (
	"context"
	"sync"
	"time"
)

// Store is the persistence surface the registry needs. *store.Store
// satisfies it.
type Store interface {
	AddBlock(ctx context.Context, userID int64, unblock time.Time) error
	RemoveBlock(ctx context.Context, userID int64) error
	IsBlocked(ctx context.Context, userID int64, now time.Time) (bool, error)
	RemoveExpiredBlocks(ctx context.Context, now time.Time) (int, error)
}

// Registry tracks time-bounded suspensions. Records persist through the
// store; deferred removals are in-memory timers. If a record is cleared
// by the expiry sweep before a timer fires, the late removal is a
// harmless no-op (last writer wins on the record key).
type Registry struct {
	store Store

	mu     sync.Mutex
	timers map[int64]*time.Timer
	closed bool
}

// NewRegistry creates a registry over the given store.
func NewRegistry(s Store) *Registry {
	return &Registry{
		store:  s,
		timers: make(map[int64]*time.Timer),
	}
}

// Block suspends userID until the given time.
func (r *Registry) Block(ctx context.Context, userID int64, until time.Time) error {
	return r.store.AddBlock(ctx, userID, until)
}

// Unblock lifts the suspension for userID and cancels any pending
// deferred removal.
func (r *Registry) Unblock(ctx context.Context, userID int64) error {
	r.cancelTimer(userID)
	return r.store.RemoveBlock(ctx, userID)
}

// IsBlocked reports whether userID is suspended at now.
func (r *Registry) IsBlocked(ctx context.Context, userID int64, now time.Time) (bool, error) {
	return r.store.IsBlocked(ctx, userID, now)
}

// ScheduleUnblock arranges for the block record of userID to be removed
// after d. The timer is cancelled by Unblock or Close; an earlier sweep
// removing the record independently makes the timer a no-op.
func (r *Registry) ScheduleUnblock(userID int64, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	if old, ok := r.timers[userID]; ok {
		old.Stop()
	}
	var tm *time.Timer
	tm = time.AfterFunc(d, func() {
		r.mu.Lock()
		current := r.timers[userID] == tm
		if current {
			delete(r.timers, userID)
		}
		r.mu.Unlock()
		if !current {
			// Superseded by a later schedule; that one owns the removal.
			return
		}
		// Best effort: the expiry sweep covers a failed removal.
		_ = r.store.RemoveBlock(context.Background(), userID)
	})
	r.timers[userID] = tm
}

// SweepExpired removes every record whose unblock time has passed.
func (r *Registry) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	return r.store.RemoveExpiredBlocks(ctx, now)
}

// Close cancels all pending timers.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	for id, t := range r.timers {
		t.Stop()
		delete(r.timers, id)
	}
}

func (r *Registry) cancelTimer(userID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.timers[userID]; ok {
		t.Stop()
		delete(r.timers, userID)
	}
}
