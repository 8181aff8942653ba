package paygate

import "errors"

var (
	// ErrPaymentRequired signals the request carried no payment proof.
	ErrPaymentRequired = errors.New("paygate: payment required")
	// ErrInvalidPayment signals the proof was rejected by both verification
	// tiers.
	ErrInvalidPayment = errors.New("paygate: invalid payment")
	// ErrProofConsumed signals the proof reference was already spent on a
	// protected resource. Proofs are single-use.
	ErrProofConsumed = errors.New("paygate: payment proof already used")
	// ErrRateLimited signals the caller exceeded the per-window request
	// budget.
	ErrRateLimited = errors.New("paygate: rate limit exceeded")
)
