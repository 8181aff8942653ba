package paygate

import (
	"context"
	"fmt"
	"log"

	"datanexus/facilitator"
	"datanexus/ledger"
	"datanexus/settlement"
)

// DefaultTolerance is the allowed rounding slack on the recipient's balance
// delta: one cent in micro-units. It covers rounding, not underpayment.
const DefaultTolerance int64 = 10_000

// ResourceConfig describes one protected resource and its price.
type ResourceConfig struct {
	// Resource identifies the protected resource for proof bookkeeping.
	Resource       string
	Price          int64 // micro-units
	Currency       string
	Network        string
	Recipient      string
	FacilitatorURL string
	Description    string
}

// FacilitatorClient is tier 1: the delegated verifier.
type FacilitatorClient interface {
	Verify(ctx context.Context, facilitatorURL string, req facilitator.VerifyRequest) (facilitator.VerifyResponse, error)
}

// TransactionReader is tier 2: direct ledger inspection.
type TransactionReader interface {
	GetTransaction(ctx context.Context, signature string) (ledger.Transaction, error)
}

// Evidence is attached to the response after a successful verification.
type Evidence struct {
	Signature string
	Tier      string // "facilitator" or "ledger"
	Amount    int64  // verified amount in micro-units (0 when tier 1 omits it)
}

// Verifier runs the two-tier proof verification strategy.
type Verifier struct {
	facilitator FacilitatorClient
	ledger      TransactionReader
	tolerance   int64
}

// NewVerifier wires both tiers. facilitatorClient may be nil to run tier 2
// only.
func NewVerifier(facilitatorClient FacilitatorClient, ledgerClient TransactionReader) *Verifier {
	return &Verifier{
		facilitator: facilitatorClient,
		ledger:      ledgerClient,
		tolerance:   DefaultTolerance,
	}
}

// WithTolerance overrides the balance-delta tolerance.
func (v *Verifier) WithTolerance(tolerance int64) *Verifier {
	v.tolerance = tolerance
	return v
}

// Verify checks the proof token against the resource's expected payment.
// Tier-1 failures (unreachable or rejecting) silently fall through to tier 2;
// an error only surfaces when both tiers fail.
func (v *Verifier) Verify(ctx context.Context, token string, cfg ResourceConfig) (Evidence, error) {
	if v.facilitator != nil && cfg.FacilitatorURL != "" {
		resp, err := v.facilitator.Verify(ctx, cfg.FacilitatorURL, facilitator.VerifyRequest{
			Token:     token,
			Network:   cfg.Network,
			Recipient: cfg.Recipient,
			Amount:    settlement.FormatAmount(cfg.Price),
			Currency:  cfg.Currency,
		})
		if err == nil {
			sig := resp.Signature
			if sig == "" {
				sig = token
			}
			amount := cfg.Price
			if resp.Amount != "" {
				if parsed, perr := settlement.ParseAmount(resp.Amount); perr == nil {
					amount = parsed
				}
			}
			return Evidence{Signature: sig, Tier: "facilitator", Amount: amount}, nil
		}
		log.Printf("paygate: tier-1 verification failed, falling back to ledger: %v", err)
	}

	return v.verifyDirect(ctx, token, cfg)
}

// verifyDirect inspects the referenced ledger transaction itself.
func (v *Verifier) verifyDirect(ctx context.Context, token string, cfg ResourceConfig) (Evidence, error) {
	tx, err := v.ledger.GetTransaction(ctx, token)
	if err != nil {
		return Evidence{}, fmt.Errorf("%w: transaction lookup: %v", ErrInvalidPayment, err)
	}

	if tx.ErrCode != nil {
		return Evidence{}, fmt.Errorf("%w: transaction failed with %s", ErrInvalidPayment, *tx.ErrCode)
	}

	invoked := false
	for _, program := range tx.Programs {
		if program == ledger.TokenProgramID {
			invoked = true
			break
		}
	}
	if !invoked {
		return Evidence{}, fmt.Errorf("%w: transaction did not invoke the token-transfer program", ErrInvalidPayment)
	}

	delta, found := tx.RecipientDelta(cfg.Recipient)
	if !found {
		return Evidence{}, fmt.Errorf("%w: recipient %s not touched by transaction", ErrInvalidPayment, cfg.Recipient)
	}

	diff := delta - cfg.Price
	if diff < 0 {
		diff = -diff
	}
	if diff > v.tolerance {
		return Evidence{}, fmt.Errorf("%w: recipient delta %s differs from expected %s beyond tolerance",
			ErrInvalidPayment, settlement.FormatAmount(delta), settlement.FormatAmount(cfg.Price))
	}

	return Evidence{Signature: tx.Signature, Tier: "ledger", Amount: delta}, nil
}
