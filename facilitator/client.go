// Package facilitator calls the delegated x402 payment verifier. The
// facilitator is tier 1 of payment verification; callers fall back to direct
// ledger inspection when it is unreachable or rejects.
package facilitator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrRejected signals the facilitator answered but did not validate the proof.
var ErrRejected = errors.New("facilitator: proof rejected")

// VerifyRequest is the expected-payment context sent alongside the proof.
type VerifyRequest struct {
	Token     string `json:"token"`
	Network   string `json:"network"`
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
}

// VerifyResponse is the facilitator's verdict. A valid=true answer is
// authoritative; everything else falls through to tier 2.
type VerifyResponse struct {
	Valid     bool   `json:"valid"`
	Signature string `json:"signature,omitempty"`
	Amount    string `json:"amount,omitempty"`
	Recipient string `json:"recipient,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Client posts verification requests to a facilitator endpoint with a short
// timeout so tier-2 fallback stays fast.
type Client struct {
	http *http.Client
}

// NewClient builds a facilitator client. The timeout bounds the whole
// round-trip.
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{http: &http.Client{Timeout: timeout}}
}

// Verify submits the proof to {facilitatorURL}/verify. A network failure or
// non-JSON answer is returned as an error distinct from ErrRejected so the
// caller can tell "unreachable" from "said no".
func (c *Client) Verify(ctx context.Context, facilitatorURL string, req VerifyRequest) (VerifyResponse, error) {
	if facilitatorURL == "" {
		return VerifyResponse{}, fmt.Errorf("facilitator: no url configured")
	}

	body, err := json.Marshal(req)
	if err != nil {
		return VerifyResponse{}, fmt.Errorf("facilitator: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, facilitatorURL+"/verify", bytes.NewReader(body))
	if err != nil {
		return VerifyResponse{}, fmt.Errorf("facilitator: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return VerifyResponse{}, fmt.Errorf("facilitator: verify call: %w", err)
	}
	defer resp.Body.Close()

	var out VerifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return VerifyResponse{}, fmt.Errorf("facilitator: decode response: %w", err)
	}

	if !out.Valid {
		if out.Error != "" {
			return out, fmt.Errorf("%w: %s", ErrRejected, out.Error)
		}
		return out, ErrRejected
	}
	return out, nil
}
