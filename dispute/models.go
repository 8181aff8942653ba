package dispute

import "time"

// Status represents the lifecycle of a dispute record.
type Status string

const (
	StatusUnderReview Status = "under_review"
	StatusResolved    Status = "resolved"
)

// Resolution records which way a resolved dispute went.
const (
	ResolutionRefund  = "refund"
	ResolutionRelease = "release"
)

// Record mirrors the disputes table. The escrow itself carries the disputed
// status; this record carries the reason and the eventual ruling.
type Record struct {
	ID         string
	EscrowID   string
	Buyer      string
	RequestID  string
	RaisedBy   string
	Reason     string
	Status     Status
	Resolution *string
	ResolvedBy *string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	ResolvedAt *time.Time
}
