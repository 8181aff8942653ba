package rating

import "time"

// Rating is a buyer's score for a completed purchase. One rating per escrow.
type Rating struct {
	ID        string
	EscrowID  string
	Buyer     string
	Provider  string
	RequestID string
	Score     int // 1..5
	Comment   string
	CreatedAt time.Time
}

// Reputation aggregates a provider's ratings.
type Reputation struct {
	Provider string
	Count    int64
	Average  float64
}
