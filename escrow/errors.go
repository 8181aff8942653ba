package escrow

import "errors"

var (
	// ErrInvalidState signals an illegal state transition. The required
	// precondition is carried in the wrapped message; the escrow is never
	// coerced into the nearest valid state.
	ErrInvalidState = errors.New("escrow: invalid state for transition")
	// ErrUnauthorized signals the actor is not the party permitted to perform
	// the transition in the current state.
	ErrUnauthorized = errors.New("escrow: actor not permitted")
	// ErrNotFound signals no escrow exists for the (buyer, requestID) pair.
	ErrNotFound = errors.New("escrow: not found")
	// ErrDuplicateEscrow signals a non-terminal escrow already exists for the
	// (buyer, requestID) pair.
	ErrDuplicateEscrow = errors.New("escrow: non-terminal escrow already exists")
	// ErrInvalidAmount signals a non-positive escrow amount.
	ErrInvalidAmount = errors.New("escrow: amount must be positive")
	// ErrInsufficientFunds signals the buyer cannot cover the escrow amount.
	ErrInsufficientFunds = errors.New("escrow: insufficient buyer funds")
	// ErrPartiesNotDistinct signals buyer, provider, and platform are not
	// three distinct identities.
	ErrPartiesNotDistinct = errors.New("escrow: buyer, provider, and platform must be distinct")
)
