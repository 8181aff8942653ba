// Package dispute tracks why an escrow was disputed and how it was ruled.
// The escrow state machine owns the fund movement; this package owns the
// paper trail around it.
package dispute

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"datanexus/escrow"
)

var ErrReasonRequired = errors.New("dispute: reason is required")

// EscrowTransitioner is the slice of the escrow service disputes drive.
type EscrowTransitioner interface {
	RaiseDispute(ctx context.Context, buyer, requestID, actor string) (escrow.Result, error)
	ResolveDispute(ctx context.Context, buyer, requestID, actor string, refundToBuyer bool) (escrow.Result, error)
}

type Service struct {
	repo        *Repository
	escrows     EscrowTransitioner
	syncer      escrow.RecordSyncer
	idGenerator func() string
	now         func() time.Time
}

// NewService wires the dispute service. syncer may be nil when chain sync is
// disabled.
func NewService(repo *Repository, escrows EscrowTransitioner, syncer escrow.RecordSyncer) *Service {
	return &Service{
		repo:        repo,
		escrows:     escrows,
		syncer:      syncer,
		idGenerator: uuid.NewString,
		now:         time.Now,
	}
}

// WithIDGenerator overrides dispute id generation.
func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGenerator = gen
	return s
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) List(ctx context.Context, escrowID string) ([]Record, error) {
	return s.repo.List(ctx, escrowID)
}

// Raise moves the escrow to disputed and opens the dispute record. The
// escrow transition is the gate: an illegal transition or unauthorized actor
// fails before any record is written.
func (s *Service) Raise(ctx context.Context, buyer, requestID, actor, reason string) (escrow.Result, Record, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return escrow.Result{}, Record{}, ErrReasonRequired
	}

	res, err := s.escrows.RaiseDispute(ctx, buyer, requestID, actor)
	if err != nil {
		return escrow.Result{}, Record{}, err
	}

	rec, err := s.repo.Create(ctx, Record{
		ID:        s.idGenerator(),
		EscrowID:  res.Escrow.ID,
		Buyer:     buyer,
		RequestID: requestID,
		RaisedBy:  actor,
		Reason:    reason,
		CreatedAt: s.now().UTC(),
	})
	if err != nil {
		return escrow.Result{}, Record{}, err
	}
	s.enqueue(ctx, rec)
	return res, rec, nil
}

// Resolve rules on the escrow's open dispute. refundToBuyer picks the ruling:
// full refund, or the standard fee-split release to the provider.
func (s *Service) Resolve(ctx context.Context, buyer, requestID, actor string, refundToBuyer bool) (escrow.Result, Record, error) {
	res, err := s.escrows.ResolveDispute(ctx, buyer, requestID, actor, refundToBuyer)
	if err != nil {
		return escrow.Result{}, Record{}, err
	}

	open, err := s.repo.OpenByEscrow(ctx, res.Escrow.ID)
	if err != nil {
		return escrow.Result{}, Record{}, err
	}

	resolution := ResolutionRelease
	if refundToBuyer {
		resolution = ResolutionRefund
	}
	rec, err := s.repo.Resolve(ctx, open.ID, actor, resolution)
	if err != nil {
		return escrow.Result{}, Record{}, err
	}
	s.enqueue(ctx, rec)
	return res, rec, nil
}

// enqueue hands the dispute record to chain sync. Best effort: the escrow
// transition already committed.
func (s *Service) enqueue(ctx context.Context, rec Record) {
	if s.syncer == nil {
		return
	}
	if err := s.syncer.Enqueue(ctx, "dispute", rec.ID, rec); err != nil {
		log.Printf("dispute: enqueue sync %s: %v", rec.ID, err)
	}
}
