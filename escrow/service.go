package escrow

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"datanexus/ledger"
	"datanexus/settlement"
)

// Repository defines the mirror-store access the service needs.
type Repository interface {
	UpsertSnapshot(ctx context.Context, esc Escrow) (Escrow, error)
	Get(ctx context.Context, buyer, requestID string) (Escrow, error)
	HasNonTerminal(ctx context.Context, buyer, requestID string) (bool, error)
	InsertRefund(ctx context.Context, refund Refund) (Refund, error)
}

// RecordSyncer hands terminal domain records to the chain-sync layer. Sync is
// a durability enhancement: enqueue failures are logged, never propagated to
// the transition that already committed on the ledger.
type RecordSyncer interface {
	Enqueue(ctx context.Context, recordType, domainID string, payload any) error
}

// Service drives the escrow lifecycle. Every fund-moving transition is a
// single atomic ledger instruction; the repository only mirrors the result.
type Service struct {
	ledger      ledger.Client
	repo        Repository
	syncer      RecordSyncer
	feeRate     settlement.FeeRate
	idGenerator func() string
	now         func() time.Time
}

// CreateParams describes a buyer's create-and-fund request.
type CreateParams struct {
	Buyer      string
	Provider   string
	Platform   string
	Amount     int64
	RequestID  string
	ProposalID string
}

// Result bundles the refreshed escrow with the signature of the ledger
// instruction that produced it.
type Result struct {
	Escrow    Escrow
	Signature string
}

// NewService wires the escrow state machine. syncer may be nil when chain
// sync is disabled.
func NewService(ledgerClient ledger.Client, repo Repository, syncer RecordSyncer) *Service {
	return &Service{
		ledger:      ledgerClient,
		repo:        repo,
		syncer:      syncer,
		feeRate:     settlement.DefaultFeeRate,
		idGenerator: func() string { return uuid.NewString() },
		now:         time.Now,
	}
}

// WithFeeRate overrides the platform fee rate.
func (s *Service) WithFeeRate(rate settlement.FeeRate) *Service {
	s.feeRate = rate
	return s
}

// WithIDGenerator overrides record ID generation for tests.
func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGenerator = gen
	return s
}

// WithClock overrides the service clock for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Create locks the buyer's funds in a new escrow. Funding happens inside the
// creation instruction, so the resulting status is Funded.
func (s *Service) Create(ctx context.Context, params CreateParams) (Result, error) {
	if params.Amount <= 0 {
		return Result{}, ErrInvalidAmount
	}
	if params.Buyer == "" || params.Provider == "" || params.Platform == "" || params.RequestID == "" {
		return Result{}, fmt.Errorf("escrow: buyer, provider, platform, and request id are required")
	}
	if params.Buyer == params.Provider || params.Buyer == params.Platform || params.Provider == params.Platform {
		return Result{}, ErrPartiesNotDistinct
	}

	// Pre-check against the mirror for a fast rejection; the ledger enforces
	// the same invariant atomically.
	exists, err := s.repo.HasNonTerminal(ctx, params.Buyer, params.RequestID)
	if err != nil {
		return Result{}, fmt.Errorf("escrow: check existing: %w", err)
	}
	if exists {
		return Result{}, ErrDuplicateEscrow
	}

	acct, sig, err := s.ledger.CreateEscrow(ctx, ledger.CreateParams{
		Buyer:      params.Buyer,
		Provider:   params.Provider,
		Platform:   params.Platform,
		Amount:     params.Amount,
		RequestID:  params.RequestID,
		ProposalID: params.ProposalID,
	})
	if err != nil {
		return Result{}, s.mapLedgerErr(err)
	}

	return s.mirror(ctx, acct, sig), nil
}

// MarkDelivered transitions Funded -> Delivered. Only the provider may call it.
func (s *Service) MarkDelivered(ctx context.Context, buyer, requestID, actor string) (Result, error) {
	acct, sig, err := s.ledger.MarkDelivered(ctx, buyer, requestID, actor)
	if err != nil {
		return Result{}, s.mapLedgerErr(err)
	}
	return s.mirror(ctx, acct, sig), nil
}

// ConfirmAndRelease settles a delivered escrow: the buyer confirms, the
// settlement engine computes the split, and the ledger pays it out in one
// instruction.
func (s *Service) ConfirmAndRelease(ctx context.Context, buyer, requestID, actor string) (Result, error) {
	current, err := s.ledger.GetEscrow(ctx, buyer, requestID)
	if err != nil {
		return Result{}, s.mapLedgerErr(err)
	}

	split, err := settlement.Split(current.Amount, s.feeRate)
	if err != nil {
		return Result{}, fmt.Errorf("escrow: compute split: %w", err)
	}

	acct, sig, err := s.ledger.ConfirmAndRelease(ctx, buyer, requestID, actor, ledger.ReleaseSplit{
		ProviderShare: split.ProviderShare,
		PlatformFee:   split.PlatformFee,
	})
	if err != nil {
		return Result{}, s.mapLedgerErr(err)
	}
	return s.mirror(ctx, acct, sig), nil
}

// Cancel refunds a funded escrow in full. Only the buyer may cancel, and only
// before delivery.
func (s *Service) Cancel(ctx context.Context, buyer, requestID, actor string) (Result, error) {
	acct, sig, err := s.ledger.Cancel(ctx, buyer, requestID, actor)
	if err != nil {
		return Result{}, s.mapLedgerErr(err)
	}

	res := s.mirror(ctx, acct, sig)
	s.recordRefund(ctx, res, "cancelled")
	return res, nil
}

// RaiseDispute transitions Delivered -> Disputed on the buyer's word.
func (s *Service) RaiseDispute(ctx context.Context, buyer, requestID, actor string) (Result, error) {
	acct, sig, err := s.ledger.RaiseDispute(ctx, buyer, requestID, actor)
	if err != nil {
		return Result{}, s.mapLedgerErr(err)
	}
	return s.mirror(ctx, acct, sig), nil
}

// ResolveDispute is the platform's arbitration outcome: full refund to the
// buyer, or release of the standard split.
func (s *Service) ResolveDispute(ctx context.Context, buyer, requestID, actor string, refundToBuyer bool) (Result, error) {
	current, err := s.ledger.GetEscrow(ctx, buyer, requestID)
	if err != nil {
		return Result{}, s.mapLedgerErr(err)
	}

	split, err := settlement.Split(current.Amount, s.feeRate)
	if err != nil {
		return Result{}, fmt.Errorf("escrow: compute split: %w", err)
	}

	acct, sig, err := s.ledger.ResolveDispute(ctx, buyer, requestID, actor, refundToBuyer, ledger.ReleaseSplit{
		ProviderShare: split.ProviderShare,
		PlatformFee:   split.PlatformFee,
	})
	if err != nil {
		return Result{}, s.mapLedgerErr(err)
	}

	res := s.mirror(ctx, acct, sig)
	if refundToBuyer {
		s.recordRefund(ctx, res, "dispute_refund")
	}
	return res, nil
}

// Get returns a ledger-refreshed escrow snapshot.
func (s *Service) Get(ctx context.Context, buyer, requestID string) (Escrow, error) {
	if buyer == "" || requestID == "" {
		return Escrow{}, fmt.Errorf("escrow: buyer and request id are required")
	}
	acct, err := s.ledger.GetEscrow(ctx, buyer, requestID)
	if err != nil {
		return Escrow{}, s.mapLedgerErr(err)
	}
	return s.mirror(ctx, acct, "").Escrow, nil
}

// mirror writes the authoritative snapshot through to the local store. The
// ledger instruction already committed, so mirror failures are logged and the
// snapshot returned regardless.
func (s *Service) mirror(ctx context.Context, acct ledger.Account, sig string) Result {
	esc := fromLedger(acct)
	esc.UpdatedAt = s.now().UTC()

	stored, err := s.repo.UpsertSnapshot(ctx, esc)
	if err != nil {
		log.Printf("escrow: mirror upsert %s/%s: %v", acct.Buyer, acct.RequestID, err)
		return Result{Escrow: esc, Signature: sig}
	}
	return Result{Escrow: stored, Signature: sig}
}

// recordRefund persists the refund row and hands it to chain-sync. Both are
// best-effort relative to the ledger instruction that already refunded the
// buyer.
func (s *Service) recordRefund(ctx context.Context, res Result, reason string) {
	refund := Refund{
		ID:        s.idGenerator(),
		Buyer:     res.Escrow.Buyer,
		RequestID: res.Escrow.RequestID,
		Amount:    res.Escrow.Amount,
		Reason:    reason,
		Signature: res.Signature,
		CreatedAt: s.now().UTC(),
	}
	stored, err := s.repo.InsertRefund(ctx, refund)
	if err != nil {
		log.Printf("escrow: insert refund %s: %v", refund.ID, err)
		return
	}
	if s.syncer == nil {
		return
	}
	if err := s.syncer.Enqueue(ctx, "refund", stored.ID, stored); err != nil {
		log.Printf("escrow: enqueue refund sync %s: %v", stored.ID, err)
	}
}

func (s *Service) mapLedgerErr(err error) error {
	switch {
	case errors.Is(err, ledger.ErrInvalidStatus):
		return fmt.Errorf("%w: %v", ErrInvalidState, err)
	case errors.Is(err, ledger.ErrUnauthorized):
		return ErrUnauthorized
	case errors.Is(err, ledger.ErrEscrowNotFound):
		return ErrNotFound
	case errors.Is(err, ledger.ErrEscrowExists):
		return ErrDuplicateEscrow
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return ErrInsufficientFunds
	default:
		return fmt.Errorf("escrow: ledger call: %w", err)
	}
}
