package ratelimit

import (
	"context"
	"sync"
	"time"
)

// windowState is one caller's counter for the current fixed window.
type windowState struct {
	count int
	start time.Time
}

// MemoryStore keeps fixed-window counters in a mutex-guarded map with a
// background sweep evicting elapsed windows.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]*windowState

	now func() time.Time // injectable clock for tests
}

// NewMemoryStore creates a MemoryStore and starts the eviction
// goroutine, stopped when ctx is cancelled.
func NewMemoryStore(ctx context.Context) *MemoryStore {
	s := &MemoryStore{
		windows: make(map[string]*windowState),
		now:     time.Now,
	}
	go s.sweep(ctx)
	return s
}

// Incr counts one request for key. A key seen for the first time, or
// whose window has elapsed, starts a fresh window with count=1.
func (s *MemoryStore) Incr(ctx context.Context, key string, window time.Duration) (int, time.Time, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[key]
	if !ok || now.Sub(w.start) >= window {
		w = &windowState{count: 1, start: now}
		s.windows[key] = w
		return w.count, w.start, nil
	}
	w.count++
	return w.count, w.start, nil
}

// sweep evicts windows idle past the sweep horizon. Entries only matter
// for the length of their window, so anything older than an hour is
// garbage regardless of policy.
func (s *MemoryStore) sweep(ctx context.Context) {
	const horizon = time.Hour
	ticker := time.NewTicker(horizon / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.mu.Lock()
			for key, w := range s.windows {
				if now.Sub(w.start) > horizon {
					delete(s.windows, key)
				}
			}
			s.mu.Unlock()
		}
	}
}
