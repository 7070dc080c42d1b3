package risk

import (
	"sync"
	"time"
)

// Window counts fills per user inside a rolling time span. The
// orchestrator records every fill; the evaluator reads the count as the
// velocity signal. Stale entries are evicted lazily on each touch.
type Window struct {
	mu    sync.Mutex
	span  time.Duration
	fills map[string][]time.Time
	now   func() time.Time
}

func NewWindow(span time.Duration) *Window {
	return &Window{
		span:  span,
		fills: make(map[string][]time.Time),
		now:   time.Now,
	}
}

// Record notes one fill for the user at the given time.
func (w *Window) Record(userID string, at time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.fills[userID] = append(w.fills[userID], at)
	w.evictLocked(userID)
}

// Count returns how many fills the user has inside the window.
func (w *Window) Count(userID string) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.evictLocked(userID)
	return len(w.fills[userID])
}

// evictLocked drops entries older than the span. Caller holds w.mu.
func (w *Window) evictLocked(userID string) {
	entries := w.fills[userID]
	if len(entries) == 0 {
		return
	}

	cutoff := w.now().Add(-w.span)
	keep := -1
	for i, at := range entries {
		if at.After(cutoff) {
			keep = i
			break
		}
	}

	switch {
	case keep == -1:
		delete(w.fills, userID)
	case keep > 0:
		w.fills[userID] = entries[keep:]
	}
}
