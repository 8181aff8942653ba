package escrow

import (
	"time"

	"datanexus/ledger"
)

// Status mirrors the authoritative ledger status of an escrow.
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

// Terminal reports whether the escrow can no longer transition. Terminal
// escrows are kept forever; rows are never deleted.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusRefunded, StatusCancelled:
		return true
	}
	return false
}

// Escrow mirrors the escrows table. It is a read-through copy of the ledger
// account, refreshed on demand; balances and status authority stay with the
// ledger.
type Escrow struct {
	ID          string
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
	UpdatedAt   time.Time
}

// Refund records a full refund paid back to the buyer, either from a cancel
// or a dispute resolution. Refund rows feed the chain-sync layer.
type Refund struct {
	ID        string
	Buyer     string
	RequestID string
	Amount    int64
	Reason    string // "cancelled" or "dispute_refund"
	Signature string
	CreatedAt time.Time
}

// fromLedger converts an authoritative account snapshot into the mirror shape.
func fromLedger(acct ledger.Account) Escrow {
	return Escrow{
		Buyer:       acct.Buyer,
		Provider:    acct.Provider,
		Platform:    acct.Platform,
		Amount:      acct.Amount,
		RequestID:   acct.RequestID,
		ProposalID:  acct.ProposalID,
		Status:      Status(acct.Status),
		CreatedAt:   acct.CreatedAt,
		FundedAt:    acct.FundedAt,
		DeliveredAt: acct.DeliveredAt,
		CompletedAt: acct.CompletedAt,
		RefundedAt:  acct.RefundedAt,
		DisputedAt:  acct.DisputedAt,
	}
}
