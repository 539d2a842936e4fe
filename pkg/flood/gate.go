// ABOUTME: Per-user sliding-window flood gate
// ABOUTME: First interceptor for every inbound event

package flood

import (
	"sync"
	"time"
)

// Verdict is the admission decision for one inbound event.
type Verdict int

const (
	// Allow admits the event.
	Allow Verdict = iota
	// Warn rejects the event and instructs the caller to send the
	// single rate-limit notice for this block window.
	Warn
	// Drop rejects the event silently. No feedback is given to a user
	// who keeps probing while blocked.
	Drop
)

// Gate enforces a per-user message-rate limit over a sliding window.
// Exceeding the limit blocks the user for a fixed time, during which
// every event is dropped without reply. Admin ids bypass the gate.
type Gate struct {
	limit     int
	period    time.Duration
	blockTime time.Duration
	admins    map[int64]struct{}

	mu      sync.Mutex
	windows map[int64]*window
}

type window struct {
	stamps       []time.Time
	blockedUntil time.Time
}

// NewGate creates a flood gate. limit is the number of messages allowed
// per period before a block of blockTime is imposed.
func NewGate(limit int, period, blockTime time.Duration, adminIDs []int64) *Gate {
	admins := make(map[int64]struct{}, len(adminIDs))
	for _, id := range adminIDs {
		admins[id] = struct{}{}
	}
	return &Gate{
		limit:     limit,
		period:    period,
		blockTime: blockTime,
		admins:    admins,
		windows:   make(map[int64]*window),
	}
}

// Admit decides whether the event at time now from userID passes the
// gate. The prune-check-append sequence for one user is atomic with
// respect to concurrent events from the same user.
func (g *Gate) Admit(userID int64, now time.Time) Verdict {
	if _, ok := g.admins[userID]; ok {
		return Allow
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	w, ok := g.windows[userID]
	if !ok {
		w = &window{}
		g.windows[userID] = w
	}

	if !w.blockedUntil.IsZero() && now.Before(w.blockedUntil) {
		return Drop
	}

	kept := w.stamps[:0]
	for _, ts := range w.stamps {
		if now.Sub(ts) <= g.period {
			kept = append(kept, ts)
		}
	}
	w.stamps = append(kept, now)

	if len(w.stamps) > g.limit {
		w.blockedUntil = now.Add(g.blockTime)
		return Warn
	}
	return Allow
}

// Blocked reports whether userID is currently inside a flood block.
func (g *Gate) Blocked(userID int64, now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	w, ok := g.windows[userID]
	return ok && now.Before(w.blockedUntil)
}
