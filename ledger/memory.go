package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process custodial ledger. It enforces the same status and
// signer preconditions as the on-chain program under a single mutex, so two
// concurrent attempts at the same instruction cannot both succeed. Used by
// tests and local development.
type Memory struct {
	mu       sync.Mutex
	escrows  map[string]*Account
	balances map[string]int64
	txs      map[string]Transaction
	anchors  []Anchor
	now      func() time.Time
	sigGen   func() string
}

// NewMemory creates an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{
		escrows:  make(map[string]*Account),
		balances: make(map[string]int64),
		txs:      make(map[string]Transaction),
		now:      time.Now,
		sigGen:   func() string { return uuid.NewString() },
	}
}

// WithClock overrides the ledger clock.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.now = now
	return m
}

func escrowKey(buyer, requestID string) string {
	return buyer + "/" + requestID
}

func vaultOwner(buyer, requestID string) string {
	return "vault:" + escrowKey(buyer, requestID)
}

// Credit funds an owner's token account. Test/dev seeding only.
func (m *Memory) Credit(owner string, amount int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[owner] += amount
}

// Balance returns an owner's current token balance.
func (m *Memory) Balance(owner string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[owner]
}

// Transfer moves tokens between owners and records a token-program
// transaction with pre/post balances, mirroring what payment verification
// later inspects. Returns the transaction signature.
func (m *Memory) Transfer(ctx context.Context, from, to string, amount int64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if amount <= 0 {
		return "", fmt.Errorf("ledger: transfer amount must be positive")
	}
	if m.balances[from] < amount {
		return "", ErrInsufficientFunds
	}

	fromPre, toPre := m.balances[from], m.balances[to]
	m.balances[from] -= amount
	m.balances[to] += amount

	sig := m.sigGen()
	m.txs[sig] = Transaction{
		Signature: sig,
		Programs:  []string{TokenProgramID},
		Balances: []TokenBalance{
			{Owner: from, Pre: fromPre, Post: fromPre - amount},
			{Owner: to, Pre: toPre, Post: toPre + amount},
		},
		BlockTime: m.now().UTC(),
	}
	return sig, nil
}

// RecordFailedTransaction registers a failed transaction so verification
// paths can be exercised. Test helper.
func (m *Memory) RecordFailedTransaction(sig, errCode string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txs[sig] = Transaction{Signature: sig, ErrCode: &errCode, BlockTime: m.now().UTC()}
}

// CreateEscrow implements Client.
func (m *Memory) CreateEscrow(ctx context.Context, params CreateParams) (Account, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if params.Amount <= 0 {
		return Account{}, "", fmt.Errorf("ledger: escrow amount must be positive")
	}
	key := escrowKey(params.Buyer, params.RequestID)
	if existing, ok := m.escrows[key]; ok && !existing.Status.Terminal() {
		return Account{}, "", ErrEscrowExists
	}
	if m.balances[params.Buyer] < params.Amount {
		return Account{}, "", ErrInsufficientFunds
	}

	now := m.now().UTC()
	vault := vaultOwner(params.Buyer, params.RequestID)
	sig := m.transferLocked(params.Buyer, vault, params.Amount)

	funded := now
	acct := &Account{
		Buyer:      params.Buyer,
		Provider:   params.Provider,
		Platform:   params.Platform,
		Amount:     params.Amount,
		RequestID:  params.RequestID,
		ProposalID: params.ProposalID,
		Status:     StatusFunded,
		CreatedAt:  now,
		FundedAt:   &funded,
	}
	m.escrows[key] = acct
	return *acct, sig, nil
}

// MarkDelivered implements Client.
func (m *Memory) MarkDelivered(ctx context.Context, buyer, requestID, signer string) (Account, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	acct, err := m.getLocked(buyer, requestID)
	if err != nil {
		return Account{}, "", err
	}
	if acct.Status != StatusFunded {
		return Account{}, "", fmt.Errorf("%w: %s", ErrInvalidStatus, acct.Status)
	}
	if signer != acct.Provider {
		return Account{}, "", ErrUnauthorized
	}

	now := m.now().UTC()
	acct.Status = StatusDelivered
	acct.DeliveredAt = &now
	return *acct, m.sigGen(), nil
}

// ConfirmAndRelease implements Client.
func (m *Memory) ConfirmAndRelease(ctx context.Context, buyer, requestID, signer string, split ReleaseSplit) (Account, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	acct, err := m.getLocked(buyer, requestID)
	if err != nil {
		return Account{}, "", err
	}
	if acct.Status != StatusDelivered {
		return Account{}, "", fmt.Errorf("%w: %s", ErrInvalidStatus, acct.Status)
	}
	if signer != acct.Buyer {
		return Account{}, "", ErrUnauthorized
	}

	sig, err := m.releaseLocked(acct, split)
	if err != nil {
		return Account{}, "", err
	}
	now := m.now().UTC()
	acct.Status = StatusCompleted
	acct.CompletedAt = &now
	return *acct, sig, nil
}

// Cancel implements Client.
func (m *Memory) Cancel(ctx context.Context, buyer, requestID, signer string) (Account, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	acct, err := m.getLocked(buyer, requestID)
	if err != nil {
		return Account{}, "", err
	}
	if acct.Status != StatusFunded {
		return Account{}, "", fmt.Errorf("%w: %s", ErrInvalidStatus, acct.Status)
	}
	if signer != acct.Buyer {
		return Account{}, "", ErrUnauthorized
	}

	sig := m.transferLocked(vaultOwner(buyer, requestID), acct.Buyer, acct.Amount)
	acct.Status = StatusCancelled
	return *acct, sig, nil
}

// RaiseDispute implements Client.
func (m *Memory) RaiseDispute(ctx context.Context, buyer, requestID, signer string) (Account, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	acct, err := m.getLocked(buyer, requestID)
	if err != nil {
		return Account{}, "", err
	}
	if acct.Status != StatusDelivered {
		return Account{}, "", fmt.Errorf("%w: %s", ErrInvalidStatus, acct.Status)
	}
	if signer != acct.Buyer {
		return Account{}, "", ErrUnauthorized
	}

	now := m.now().UTC()
	acct.Status = StatusDisputed
	acct.DisputedAt = &now
	return *acct, m.sigGen(), nil
}

// ResolveDispute implements Client.
func (m *Memory) ResolveDispute(ctx context.Context, buyer, requestID, signer string, refundToBuyer bool, split ReleaseSplit) (Account, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	acct, err := m.getLocked(buyer, requestID)
	if err != nil {
		return Account{}, "", err
	}
	if acct.Status != StatusDisputed {
		return Account{}, "", fmt.Errorf("%w: %s", ErrInvalidStatus, acct.Status)
	}
	if signer != acct.Platform {
		return Account{}, "", ErrUnauthorized
	}

	now := m.now().UTC()
	if refundToBuyer {
		sig := m.transferLocked(vaultOwner(buyer, requestID), acct.Buyer, acct.Amount)
		acct.Status = StatusRefunded
		acct.RefundedAt = &now
		return *acct, sig, nil
	}

	sig, err := m.releaseLocked(acct, split)
	if err != nil {
		return Account{}, "", err
	}
	acct.Status = StatusCompleted
	acct.CompletedAt = &now
	return *acct, sig, nil
}

// GetEscrow implements Client.
func (m *Memory) GetEscrow(ctx context.Context, buyer, requestID string) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	acct, err := m.getLocked(buyer, requestID)
	if err != nil {
		return Account{}, err
	}
	return *acct, nil
}

// GetTransaction implements Client.
func (m *Memory) GetTransaction(ctx context.Context, signature string) (Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx, ok := m.txs[signature]
	if !ok {
		return Transaction{}, ErrTxNotFound
	}
	return tx, nil
}

// AnchorRecord implements Client.
func (m *Memory) AnchorRecord(ctx context.Context, anchor Anchor) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if anchor.ContentHash == "" || anchor.RecordType == "" {
		return "", fmt.Errorf("ledger: anchor requires content hash and record type")
	}
	m.anchors = append(m.anchors, anchor)
	return m.sigGen(), nil
}

// Anchors returns all anchors written so far. Test helper.
func (m *Memory) Anchors() []Anchor {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Anchor, len(m.anchors))
	copy(out, m.anchors)
	return out
}

func (m *Memory) getLocked(buyer, requestID string) (*Account, error) {
	acct, ok := m.escrows[escrowKey(buyer, requestID)]
	if !ok {
		return nil, ErrEscrowNotFound
	}
	return acct, nil
}

// releaseLocked pays the split out of the vault. The split must account for
// the full escrowed amount; a mismatch means the caller computed it wrong.
func (m *Memory) releaseLocked(acct *Account, split ReleaseSplit) (string, error) {
	if split.ProviderShare+split.PlatformFee != acct.Amount {
		return "", fmt.Errorf("ledger: split %d+%d does not cover amount %d",
			split.ProviderShare, split.PlatformFee, acct.Amount)
	}
	vault := vaultOwner(acct.Buyer, acct.RequestID)
	m.transferLocked(vault, acct.Provider, split.ProviderShare)
	sig := m.transferLocked(vault, acct.Platform, split.PlatformFee)
	return sig, nil
}

// transferLocked moves tokens and records the transaction. Caller holds mu.
func (m *Memory) transferLocked(from, to string, amount int64) string {
	fromPre, toPre := m.balances[from], m.balances[to]
	m.balances[from] -= amount
	m.balances[to] += amount

	sig := m.sigGen()
	m.txs[sig] = Transaction{
		Signature: sig,
		Programs:  []string{TokenProgramID},
		Balances: []TokenBalance{
			{Owner: from, Pre: fromPre, Post: fromPre - amount},
			{Owner: to, Pre: toPre, Post: toPre + amount},
		},
		BlockTime: m.now().UTC(),
	}
	return sig
}
