// Package ledger talks to the custodial ledger that holds escrowed funds.
// The ledger is the source of truth for balances and escrow status; every
// fund-moving operation is a single atomic instruction there. Service-side
// records are read-through mirrors refreshed from this package.
package ledger

import (
	"context"
	"errors"
	"time"
)

// TokenProgramID is the token-transfer program expected on payment
// transactions during direct verification.
const TokenProgramID = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"

var (
	// ErrInvalidStatus signals the escrow is not in the required status for
	// the requested instruction. The authority rejects the instruction; it is
	// never coerced into a different one.
	ErrInvalidStatus = errors.New("ledger: invalid escrow status for instruction")
	// ErrUnauthorized signals the signer is not the party allowed to perform
	// the instruction.
	ErrUnauthorized = errors.New("ledger: signer not authorized")
	// ErrEscrowExists signals a non-terminal escrow already exists for the
	// (buyer, requestID) pair.
	ErrEscrowExists = errors.New("ledger: escrow already exists")
	// ErrEscrowNotFound signals no escrow account exists for the pair.
	ErrEscrowNotFound = errors.New("ledger: escrow not found")
	// ErrInsufficientFunds signals the buyer token account cannot cover the
	// escrow amount.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")
	// ErrTxNotFound signals the referenced transaction signature is unknown.
	ErrTxNotFound = errors.New("ledger: transaction not found")
)

// Status is the authoritative escrow lifecycle status held on the ledger.
type Status string

const (
	StatusCreated   Status = "created"
	StatusFunded    Status = "funded"
	StatusDelivered Status = "delivered"
	StatusDisputed  Status = "disputed"
	StatusCompleted Status = "completed"
	StatusRefunded  Status = "refunded"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further instruction can move the escrow.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusRefunded, StatusCancelled:
		return true
	}
	return false
}

// Account is the on-ledger escrow account snapshot.
type Account struct {
	Buyer       string
	Provider    string
	Platform    string
	Amount      int64 // micro-units, immutable after creation
	RequestID   string
	ProposalID  string
	Status      Status
	CreatedAt   time.Time
	FundedAt    *time.Time
	DeliveredAt *time.Time
	CompletedAt *time.Time
	RefundedAt  *time.Time
	DisputedAt  *time.Time
}

// Transaction is a ledger transaction as seen by direct payment verification.
type Transaction struct {
	Signature string
	// ErrCode is non-nil when the transaction failed on the ledger.
	ErrCode *string
	// Programs lists the program IDs the transaction invoked.
	Programs []string
	// Balances holds per-owner token balances before and after execution.
	Balances  []TokenBalance
	BlockTime time.Time
}

// TokenBalance is the pre/post token balance of one account owner.
type TokenBalance struct {
	Owner string
	Pre   int64
	Post  int64
}

// RecipientDelta returns the token balance change for owner, and whether the
// owner appeared in the transaction at all.
func (t Transaction) RecipientDelta(owner string) (int64, bool) {
	for _, b := range t.Balances {
		if b.Owner == owner {
			return b.Post - b.Pre, true
		}
	}
	return 0, false
}

// CreateParams describes a create-and-fund escrow instruction.
type CreateParams struct {
	Buyer      string
	Provider   string
	Platform   string
	Amount     int64
	RequestID  string
	ProposalID string
}

// ReleaseSplit carries the exact provider/platform amounts for a release.
// The two transfers execute inside one atomic instruction.
type ReleaseSplit struct {
	ProviderShare int64
	PlatformFee   int64
}

// Anchor is a content-hash anchor written to the public ledger by the
// chain-sync layer.
type Anchor struct {
	ContentHash string
	RecordType  string
	DurableRef  string
}

// Client executes escrow instructions against the custodial ledger. Every
// mutating call returns the transaction signature of the single atomic
// instruction that performed it.
type Client interface {
	// CreateEscrow initializes the escrow account and locks the buyer's funds
	// in the same instruction; the account lands in StatusFunded.
	CreateEscrow(ctx context.Context, params CreateParams) (Account, string, error)
	// MarkDelivered transitions funded -> delivered. Signer must be the provider.
	MarkDelivered(ctx context.Context, buyer, requestID, signer string) (Account, string, error)
	// ConfirmAndRelease pays out the split and completes the escrow. Signer
	// must be the buyer; escrow must be delivered.
	ConfirmAndRelease(ctx context.Context, buyer, requestID, signer string, split ReleaseSplit) (Account, string, error)
	// Cancel refunds the full amount to the buyer. Signer must be the buyer;
	// escrow must still be funded.
	Cancel(ctx context.Context, buyer, requestID, signer string) (Account, string, error)
	// RaiseDispute transitions delivered -> disputed. Signer must be the buyer.
	RaiseDispute(ctx context.Context, buyer, requestID, signer string) (Account, string, error)
	// ResolveDispute either refunds the buyer in full or releases the split.
	// Signer must be the platform; escrow must be disputed.
	ResolveDispute(ctx context.Context, buyer, requestID, signer string, refundToBuyer bool, split ReleaseSplit) (Account, string, error)
	// GetEscrow fetches the authoritative escrow snapshot.
	GetEscrow(ctx context.Context, buyer, requestID string) (Account, error)
	// GetTransaction fetches a transaction by signature for direct payment
	// verification.
	GetTransaction(ctx context.Context, signature string) (Transaction, error)
	// AnchorRecord writes a content-hash anchor and returns its signature.
	AnchorRecord(ctx context.Context, anchor Anchor) (string, error)
}
