package paygate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ProofStore enforces single-use of payment proof references. Consume claims
// the proof before verification starts (insert-first, so a concurrent
// duplicate loses); Release frees it again when verification fails so a
// legitimate retry with the same proof can succeed later.
type ProofStore interface {
	Consume(ctx context.Context, token, resource string) error
	Release(ctx context.Context, token string) error
}

// PGProofStore persists consumed proofs in PostgreSQL. The primary key on the
// token makes the claim atomic across service instances.
type PGProofStore struct {
	pool *pgxpool.Pool
}

// NewProofStore creates a PostgreSQL-backed proof store.
func NewProofStore(pool *pgxpool.Pool) *PGProofStore {
	return &PGProofStore{pool: pool}
}

// Consume claims the proof token for the given resource.
func (s *PGProofStore) Consume(ctx context.Context, token, resource string) error {
	if token == "" {
		return fmt.Errorf("paygate: empty proof token")
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO consumed_proofs (token, resource, consumed_at) VALUES ($1, $2, $3)`,
		token, resource, time.Now().UTC())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrProofConsumed
		}
		return fmt.Errorf("paygate: consume proof: %w", err)
	}
	return nil
}

// Release frees a claimed proof after a failed verification.
func (s *PGProofStore) Release(ctx context.Context, token string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM consumed_proofs WHERE token = $1`, token); err != nil {
		return fmt.Errorf("paygate: release proof: %w", err)
	}
	return nil
}

// MemoryProofStore is a single-instance ProofStore for tests and local dev.
type MemoryProofStore struct {
	mu     sync.Mutex
	tokens map[string]string
}

// NewMemoryProofStore creates an empty in-memory proof store.
func NewMemoryProofStore() *MemoryProofStore {
	return &MemoryProofStore{tokens: make(map[string]string)}
}

// Consume implements ProofStore.
func (s *MemoryProofStore) Consume(ctx context.Context, token, resource string) error {
	if token == "" {
		return fmt.Errorf("paygate: empty proof token")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tokens[token]; ok {
		return ErrProofConsumed
	}
	s.tokens[token] = resource
	return nil
}

// Release implements ProofStore.
func (s *MemoryProofStore) Release(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, token)
	return nil
}
