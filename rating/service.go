// Package rating lets buyers score completed purchases and aggregates those
// scores into provider reputation.
package rating

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"datanexus/escrow"
)

var (
	ErrInvalidScore    = errors.New("rating: score must be between 1 and 5")
	ErrCommentTooLong  = errors.New("rating: comment exceeds 500 characters")
	ErrNotCompleted    = errors.New("rating: escrow is not completed")
	ErrUnauthorized    = errors.New("rating: only the escrow buyer may rate")
	ErrDuplicateRating = errors.New("rating: escrow already rated")
	ErrNotFound        = errors.New("rating: not found")
)

const maxCommentLen = 500

// Repository persists ratings and serves aggregates.
type Repository interface {
	Insert(ctx context.Context, rating Rating) (Rating, error)
	GetByEscrow(ctx context.Context, escrowID string) (Rating, error)
	ListByProvider(ctx context.Context, provider string, limit int) ([]Rating, error)
	Reputation(ctx context.Context, provider string) (Reputation, error)
}

// EscrowReader looks up the escrow being rated.
type EscrowReader interface {
	Get(ctx context.Context, buyer, requestID string) (escrow.Escrow, error)
}

// Service validates and records ratings.
type Service struct {
	repo        Repository
	escrows     EscrowReader
	syncer      escrow.RecordSyncer
	idGenerator func() string
	now         func() time.Time
}

// NewService wires the rating service. syncer may be nil when chain sync is
// disabled.
func NewService(repo Repository, escrows EscrowReader, syncer escrow.RecordSyncer) *Service {
	return &Service{
		repo:        repo,
		escrows:     escrows,
		syncer:      syncer,
		idGenerator: uuid.NewString,
		now:         time.Now,
	}
}

// WithIDGenerator overrides rating id generation.
func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGenerator = gen
	return s
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// CreateParams is the rating request.
type CreateParams struct {
	Buyer     string
	RequestID string
	Rater     string // authenticated caller
	Score     int
	Comment   string
}

// Create records a rating for a completed escrow. Only the escrow's buyer may
// rate, and only once.
func (s *Service) Create(ctx context.Context, params CreateParams) (Rating, error) {
	if params.Score < 1 || params.Score > 5 {
		return Rating{}, ErrInvalidScore
	}
	if len(params.Comment) > maxCommentLen {
		return Rating{}, ErrCommentTooLong
	}

	esc, err := s.escrows.Get(ctx, params.Buyer, params.RequestID)
	if err != nil {
		return Rating{}, fmt.Errorf("rating: look up escrow: %w", err)
	}
	if params.Rater != esc.Buyer {
		return Rating{}, ErrUnauthorized
	}
	if esc.Status != escrow.StatusCompleted {
		return Rating{}, ErrNotCompleted
	}

	rating := Rating{
		ID:        s.idGenerator(),
		EscrowID:  esc.ID,
		Buyer:     esc.Buyer,
		Provider:  esc.Provider,
		RequestID: esc.RequestID,
		Score:     params.Score,
		Comment:   params.Comment,
		CreatedAt: s.now().UTC(),
	}

	stored, err := s.repo.Insert(ctx, rating)
	if err != nil {
		return Rating{}, err
	}

	if s.syncer != nil {
		if err := s.syncer.Enqueue(ctx, "rating", stored.ID, stored); err != nil {
			log.Printf("rating: enqueue sync %s: %v", stored.ID, err)
		}
	}
	return stored, nil
}

// GetByEscrow returns the rating for one escrow.
func (s *Service) GetByEscrow(ctx context.Context, escrowID string) (Rating, error) {
	return s.repo.GetByEscrow(ctx, escrowID)
}

// ProviderReputation returns the provider's aggregate plus recent ratings.
func (s *Service) ProviderReputation(ctx context.Context, provider string) (Reputation, []Rating, error) {
	rep, err := s.repo.Reputation(ctx, provider)
	if err != nil {
		return Reputation{}, nil, err
	}
	recent, err := s.repo.ListByProvider(ctx, provider, 10)
	if err != nil {
		return Reputation{}, nil, err
	}
	return rep, recent, nil
}
