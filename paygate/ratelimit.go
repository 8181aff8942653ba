package paygate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// CounterStore is a fixed-window request counter keyed by caller. It is an
// injected interface so the limit holds across multiple service instances
// when backed by shared storage.
type CounterStore interface {
	// Incr bumps the caller's counter for the window containing now and
	// returns the new count.
	Incr(ctx context.Context, caller string, window time.Duration) (int64, error)
}

// PGCounterStore implements CounterStore on PostgreSQL. Window buckets are
// truncated timestamps, so every instance agrees on bucket boundaries.
type PGCounterStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewCounterStore creates a PostgreSQL-backed rate limit counter.
func NewCounterStore(pool *pgxpool.Pool) *PGCounterStore {
	return &PGCounterStore{pool: pool, now: time.Now}
}

// Incr implements CounterStore.
func (s *PGCounterStore) Incr(ctx context.Context, caller string, window time.Duration) (int64, error) {
	bucket := s.now().UTC().Truncate(window)

	var count int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO rate_limits (caller, window_start, count)
		VALUES ($1, $2, 1)
		ON CONFLICT (caller, window_start) DO UPDATE SET count = rate_limits.count + 1
		RETURNING count
	`, caller, bucket).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("paygate: incr rate counter: %w", err)
	}
	return count, nil
}

// MemoryCounterStore is a single-instance CounterStore for tests and local
// dev.
type MemoryCounterStore struct {
	mu      sync.Mutex
	buckets map[string]int64
	now     func() time.Time
}

// NewMemoryCounterStore creates an empty in-memory counter store.
func NewMemoryCounterStore() *MemoryCounterStore {
	return &MemoryCounterStore{buckets: make(map[string]int64), now: time.Now}
}

// WithClock overrides the clock for tests.
func (s *MemoryCounterStore) WithClock(now func() time.Time) *MemoryCounterStore {
	s.now = now
	return s
}

// Incr implements CounterStore.
func (s *MemoryCounterStore) Incr(ctx context.Context, caller string, window time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := fmt.Sprintf("%s@%d", caller, s.now().UTC().Truncate(window).Unix())
	s.buckets[key]++
	return s.buckets[key], nil
}
