package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultIdleTTL is how long an unused session survives.
const DefaultIdleTTL = 30 * time.Minute

// StoreConfig configures a [Store].
type StoreConfig[T any] struct {
	// New creates the value for a new session id. Must not be nil.
	New func(id string) T

	// IdleTTL is how long a session may go unused before [Store.Sweep]
	// evicts it. Default: [DefaultIdleTTL].
	IdleTTL time.Duration

	// OnCreate, if set, is called after a session is created.
	OnCreate func(id string, v T)

	// OnEvict, if set, is called after a session is removed, whether by
	// [Store.Delete] or by idle eviction.
	OnEvict func(id string, v T)
}

type storeEntry[T any] struct {
	value    T
	lastUsed time.Time
}

// Store maps session ids to per-session values. Sessions never share a
// value.
type Store[T any] struct {
	newFn    func(id string) T
	idleTTL  time.Duration
	onCreate func(id string, v T)
	onEvict  func(id string, v T)
	now      func() time.Time

	mu      sync.Mutex
	entries map[string]*storeEntry[T]
}

// NewStore creates an empty Store.
func NewStore[T any](cfg StoreConfig[T]) *Store[T] {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = DefaultIdleTTL
	}
	return &Store[T]{
		newFn:    cfg.New,
		idleTTL:  cfg.IdleTTL,
		onCreate: cfg.OnCreate,
		onEvict:  cfg.OnEvict,
		now:      time.Now,
		entries:  make(map[string]*storeEntry[T]),
	}
}

// NewID returns a fresh random session id.
func NewID() string {
	return uuid.NewString()
}

// Get returns the value for id and marks it used.
func (s *Store[T]) Get(id string) (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		var zero T
		return zero, false
	}
	e.lastUsed = s.now()
	return e.value, true
}

// GetOrCreate returns the value for id, creating it when absent. An empty id
// is replaced by [NewID]. The effective id is returned.
func (s *Store[T]) GetOrCreate(id string) (string, T) {
	if id == "" {
		id = NewID()
	}
	s.mu.Lock()
	if e, ok := s.entries[id]; ok {
		e.lastUsed = s.now()
		s.mu.Unlock()
		return id, e.value
	}
	v := s.newFn(id)
	s.entries[id] = &storeEntry[T]{value: v, lastUsed: s.now()}
	s.mu.Unlock()

	if s.onCreate != nil {
		s.onCreate(id, v)
	}
	return id, v
}

// Delete removes id. It reports whether the session existed.
func (s *Store[T]) Delete(id string) bool {
	s.mu.Lock()
	e, ok := s.entries[id]
	delete(s.entries, id)
	s.mu.Unlock()

	if ok && s.onEvict != nil {
		s.onEvict(id, e.value)
	}
	return ok
}

// Len returns the number of live sessions.
func (s *Store[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Sweep evicts every session idle for longer than the TTL and returns how
// many were removed.
func (s *Store[T]) Sweep() int {
	type evicted struct {
		id string
		v  T
	}
	cutoff := s.now().Add(-s.idleTTL)

	s.mu.Lock()
	var gone []evicted
	for id, e := range s.entries {
		if e.lastUsed.Before(cutoff) {
			gone = append(gone, evicted{id, e.value})
			delete(s.entries, id)
		}
	}
	s.mu.Unlock()

	for _, g := range gone {
		slog.Debug("session evicted", "session_id", g.id)
		if s.onEvict != nil {
			s.onEvict(g.id, g.v)
		}
	}
	return len(gone)
}

// Run sweeps idle sessions every interval until ctx is done. A non-positive
// interval defaults to a quarter of the TTL.
func (s *Store[T]) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = s.idleTTL / 4
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				slog.Info("idle sessions evicted", "count", n, "remaining", s.Len())
			}
		}
	}
}
