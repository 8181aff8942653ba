package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// RPC implements Client over the custody gateway's HTTP API. The gateway
// signs and submits the underlying chain instructions; each call here maps to
// exactly one instruction, so atomicity holds at the gateway.
type RPC struct {
	baseURL string
	http    *http.Client
}

// NewRPC creates a gateway-backed ledger client with a bounded timeout.
func NewRPC(baseURL string, timeout time.Duration) *RPC {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &RPC{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

type rpcAccount struct {
	Buyer       string     `json:"buyer"`
	Provider    string     `json:"provider"`
	Platform    string     `json:"platform"`
	Amount      int64      `json:"amount"`
	RequestID   string     `json:"requestId"`
	ProposalID  string     `json:"proposalId"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"createdAt"`
	FundedAt    *time.Time `json:"fundedAt,omitempty"`
	DeliveredAt *time.Time `json:"deliveredAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	RefundedAt  *time.Time `json:"refundedAt,omitempty"`
	DisputedAt  *time.Time `json:"disputedAt,omitempty"`
}

type rpcResponse struct {
	Account   *rpcAccount  `json:"account,omitempty"`
	Signature string       `json:"signature,omitempty"`
	Tx        *Transaction `json:"transaction,omitempty"`
	Error     string       `json:"error,omitempty"`
}

func (a rpcAccount) toAccount() Account {
	return Account{
		Buyer:       a.Buyer,
		Provider:    a.Provider,
		Platform:    a.Platform,
		Amount:      a.Amount,
		RequestID:   a.RequestID,
		ProposalID:  a.ProposalID,
		Status:      Status(a.Status),
		CreatedAt:   a.CreatedAt,
		FundedAt:    a.FundedAt,
		DeliveredAt: a.DeliveredAt,
		CompletedAt: a.CompletedAt,
		RefundedAt:  a.RefundedAt,
		DisputedAt:  a.DisputedAt,
	}
}

// gateway error codes mapped back to package sentinels.
var rpcErrors = map[string]error{
	"INVALID_STATUS":     ErrInvalidStatus,
	"UNAUTHORIZED":       ErrUnauthorized,
	"ESCROW_EXISTS":      ErrEscrowExists,
	"ESCROW_NOT_FOUND":   ErrEscrowNotFound,
	"INSUFFICIENT_FUNDS": ErrInsufficientFunds,
	"TX_NOT_FOUND":       ErrTxNotFound,
}

func (r *RPC) post(ctx context.Context, path string, body any) (rpcResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return rpcResponse{}, fmt.Errorf("ledger: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return rpcResponse{}, fmt.Errorf("ledger: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.http.Do(req)
	if err != nil {
		return rpcResponse{}, fmt.Errorf("ledger: gateway call %s: %w", path, err)
	}
	defer resp.Body.Close()

	var out rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return rpcResponse{}, fmt.Errorf("ledger: decode response %s: %w", path, err)
	}
	if out.Error != "" {
		if sentinel, ok := rpcErrors[out.Error]; ok {
			return rpcResponse{}, sentinel
		}
		return rpcResponse{}, fmt.Errorf("ledger: gateway error %s: %s", path, out.Error)
	}
	return out, nil
}

func (r *RPC) get(ctx context.Context, path string, query url.Values) (rpcResponse, error) {
	u := r.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return rpcResponse{}, fmt.Errorf("ledger: build request: %w", err)
	}

	resp, err := r.http.Do(req)
	if err != nil {
		return rpcResponse{}, fmt.Errorf("ledger: gateway call %s: %w", path, err)
	}
	defer resp.Body.Close()

	var out rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return rpcResponse{}, fmt.Errorf("ledger: decode response %s: %w", path, err)
	}
	if out.Error != "" {
		if sentinel, ok := rpcErrors[out.Error]; ok {
			return rpcResponse{}, sentinel
		}
		return rpcResponse{}, fmt.Errorf("ledger: gateway error %s: %s", path, out.Error)
	}
	return out, nil
}

func (r *RPC) accountCall(ctx context.Context, path string, body any) (Account, string, error) {
	out, err := r.post(ctx, path, body)
	if err != nil {
		return Account{}, "", err
	}
	if out.Account == nil {
		return Account{}, "", fmt.Errorf("ledger: gateway response %s missing account", path)
	}
	return out.Account.toAccount(), out.Signature, nil
}

// CreateEscrow implements Client.
func (r *RPC) CreateEscrow(ctx context.Context, params CreateParams) (Account, string, error) {
	return r.accountCall(ctx, "/escrow/create", map[string]any{
		"buyer":      params.Buyer,
		"provider":   params.Provider,
		"platform":   params.Platform,
		"amount":     params.Amount,
		"requestId":  params.RequestID,
		"proposalId": params.ProposalID,
	})
}

// MarkDelivered implements Client.
func (r *RPC) MarkDelivered(ctx context.Context, buyer, requestID, signer string) (Account, string, error) {
	return r.accountCall(ctx, "/escrow/mark-delivered", map[string]any{
		"buyer": buyer, "requestId": requestID, "signer": signer,
	})
}

// ConfirmAndRelease implements Client.
func (r *RPC) ConfirmAndRelease(ctx context.Context, buyer, requestID, signer string, split ReleaseSplit) (Account, string, error) {
	return r.accountCall(ctx, "/escrow/confirm-and-release", map[string]any{
		"buyer": buyer, "requestId": requestID, "signer": signer,
		"providerShare": split.ProviderShare, "platformFee": split.PlatformFee,
	})
}

// Cancel implements Client.
func (r *RPC) Cancel(ctx context.Context, buyer, requestID, signer string) (Account, string, error) {
	return r.accountCall(ctx, "/escrow/cancel", map[string]any{
		"buyer": buyer, "requestId": requestID, "signer": signer,
	})
}

// RaiseDispute implements Client.
func (r *RPC) RaiseDispute(ctx context.Context, buyer, requestID, signer string) (Account, string, error) {
	return r.accountCall(ctx, "/escrow/raise-dispute", map[string]any{
		"buyer": buyer, "requestId": requestID, "signer": signer,
	})
}

// ResolveDispute implements Client.
func (r *RPC) ResolveDispute(ctx context.Context, buyer, requestID, signer string, refundToBuyer bool, split ReleaseSplit) (Account, string, error) {
	return r.accountCall(ctx, "/escrow/resolve-dispute", map[string]any{
		"buyer": buyer, "requestId": requestID, "signer": signer,
		"refundToBuyer": refundToBuyer,
		"providerShare": split.ProviderShare, "platformFee": split.PlatformFee,
	})
}

// GetEscrow implements Client.
func (r *RPC) GetEscrow(ctx context.Context, buyer, requestID string) (Account, error) {
	out, err := r.get(ctx, "/escrow", url.Values{"buyer": {buyer}, "requestId": {requestID}})
	if err != nil {
		return Account{}, err
	}
	if out.Account == nil {
		return Account{}, ErrEscrowNotFound
	}
	return out.Account.toAccount(), nil
}

// GetTransaction implements Client.
func (r *RPC) GetTransaction(ctx context.Context, signature string) (Transaction, error) {
	out, err := r.get(ctx, "/tx", url.Values{"signature": {signature}})
	if err != nil {
		return Transaction{}, err
	}
	if out.Tx == nil {
		return Transaction{}, ErrTxNotFound
	}
	return *out.Tx, nil
}

// AnchorRecord implements Client.
func (r *RPC) AnchorRecord(ctx context.Context, anchor Anchor) (string, error) {
	out, err := r.post(ctx, "/anchor", map[string]any{
		"contentHash": anchor.ContentHash,
		"recordType":  anchor.RecordType,
		"durableRef":  anchor.DurableRef,
	})
	if err != nil {
		return "", err
	}
	if out.Signature == "" {
		return "", fmt.Errorf("ledger: gateway anchor response missing signature")
	}
	return out.Signature, nil
}
