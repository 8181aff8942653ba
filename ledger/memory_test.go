package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func fundedEscrow(t *testing.T, m *Memory) Account {
	t.Helper()
	m.Credit("buyer-1", 100_000_000)
	acct, sig, err := m.CreateEscrow(context.Background(), CreateParams{
		Buyer:     "buyer-1",
		Provider:  "provider-1",
		Platform:  "platform-1",
		Amount:    100_000_000,
		RequestID: "req-1",
	})
	if err != nil {
		t.Fatalf("create escrow: %v", err)
	}
	if sig == "" {
		t.Fatalf("expected funding signature")
	}
	return acct
}

func TestCreateEscrow_LocksFundsAtomically(t *testing.T) {
	m := NewMemory()
	acct := fundedEscrow(t, m)

	if acct.Status != StatusFunded {
		t.Fatalf("expected funded status, got %s", acct.Status)
	}
	if got := m.Balance("buyer-1"); got != 0 {
		t.Errorf("expected buyer balance 0 after lock, got %d", got)
	}
	if got := m.Balance(vaultOwner("buyer-1", "req-1")); got != 100_000_000 {
		t.Errorf("expected vault balance 100000000, got %d", got)
	}
}

func TestCreateEscrow_DuplicateNonTerminal(t *testing.T) {
	m := NewMemory()
	fundedEscrow(t, m)

	m.Credit("buyer-1", 100_000_000)
	_, _, err := m.CreateEscrow(context.Background(), CreateParams{
		Buyer: "buyer-1", Provider: "provider-1", Platform: "platform-1",
		Amount: 100_000_000, RequestID: "req-1",
	})
	if !errors.Is(err, ErrEscrowExists) {
		t.Fatalf("expected ErrEscrowExists, got %v", err)
	}
}

func TestCreateEscrow_InsufficientFunds(t *testing.T) {
	m := NewMemory()
	_, _, err := m.CreateEscrow(context.Background(), CreateParams{
		Buyer: "poor", Provider: "p", Platform: "pl", Amount: 1, RequestID: "r",
	})
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestRelease_SplitsBalances(t *testing.T) {
	m := NewMemory()
	fundedEscrow(t, m)
	ctx := context.Background()

	if _, _, err := m.MarkDelivered(ctx, "buyer-1", "req-1", "provider-1"); err != nil {
		t.Fatalf("mark delivered: %v", err)
	}
	acct, sig, err := m.ConfirmAndRelease(ctx, "buyer-1", "req-1", "buyer-1",
		ReleaseSplit{ProviderShare: 95_000_000, PlatformFee: 5_000_000})
	if err != nil {
		t.Fatalf("confirm and release: %v", err)
	}
	if acct.Status != StatusCompleted || acct.CompletedAt == nil {
		t.Errorf("expected completed with timestamp, got %+v", acct)
	}
	if sig == "" {
		t.Errorf("expected release signature")
	}
	if got := m.Balance("provider-1"); got != 95_000_000 {
		t.Errorf("provider balance = %d, want 95000000", got)
	}
	if got := m.Balance("platform-1"); got != 5_000_000 {
		t.Errorf("platform balance = %d, want 5000000", got)
	}
}

func TestRelease_RejectsMismatchedSplit(t *testing.T) {
	m := NewMemory()
	fundedEscrow(t, m)
	ctx := context.Background()
	if _, _, err := m.MarkDelivered(ctx, "buyer-1", "req-1", "provider-1"); err != nil {
		t.Fatalf("mark delivered: %v", err)
	}
	_, _, err := m.ConfirmAndRelease(ctx, "buyer-1", "req-1", "buyer-1",
		ReleaseSplit{ProviderShare: 90_000_000, PlatformFee: 5_000_000})
	if err == nil {
		t.Fatalf("expected split mismatch error")
	}
}

func TestInstructions_PreconditionAndSignerChecks(t *testing.T) {
	ctx := context.Background()
	split := ReleaseSplit{ProviderShare: 95_000_000, PlatformFee: 5_000_000}

	cases := []struct {
		name string
		run  func(m *Memory) error
		want error
	}{
		{"confirm before delivery", func(m *Memory) error {
			_, _, err := m.ConfirmAndRelease(ctx, "buyer-1", "req-1", "buyer-1", split)
			return err
		}, ErrInvalidStatus},
		{"dispute before delivery", func(m *Memory) error {
			_, _, err := m.RaiseDispute(ctx, "buyer-1", "req-1", "buyer-1")
			return err
		}, ErrInvalidStatus},
		{"cancel after delivery", func(m *Memory) error {
			if _, _, err := m.MarkDelivered(ctx, "buyer-1", "req-1", "provider-1"); err != nil {
				return err
			}
			_, _, err := m.Cancel(ctx, "buyer-1", "req-1", "buyer-1")
			return err
		}, ErrInvalidStatus},
		{"deliver signed by buyer", func(m *Memory) error {
			_, _, err := m.MarkDelivered(ctx, "buyer-1", "req-1", "buyer-1")
			return err
		}, ErrUnauthorized},
		{"resolve signed by provider", func(m *Memory) error {
			if _, _, err := m.MarkDelivered(ctx, "buyer-1", "req-1", "provider-1"); err != nil {
				return err
			}
			if _, _, err := m.RaiseDispute(ctx, "buyer-1", "req-1", "buyer-1"); err != nil {
				return err
			}
			_, _, err := m.ResolveDispute(ctx, "buyer-1", "req-1", "provider-1", true, split)
			return err
		}, ErrUnauthorized},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := NewMemory()
			fundedEscrow(t, m)
			if err := tc.run(m); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestConcurrentSameTransition_OneWins(t *testing.T) {
	m := NewMemory()
	fundedEscrow(t, m)
	ctx := context.Background()

	const attempts = 16
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = m.MarkDelivered(ctx, "buyer-1", "req-1", "provider-1")
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrInvalidStatus):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("expected exactly one successful transition, got %d", succeeded)
	}
}

func TestTransfer_RecordsVerifiableTransaction(t *testing.T) {
	m := NewMemory()
	m.Credit("agent", 2_000_000)

	sig, err := m.Transfer(context.Background(), "agent", "merchant", 500_000)
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}

	tx, err := m.GetTransaction(context.Background(), sig)
	if err != nil {
		t.Fatalf("get transaction: %v", err)
	}
	if tx.ErrCode != nil {
		t.Errorf("expected successful transaction")
	}
	delta, ok := tx.RecipientDelta("merchant")
	if !ok || delta != 500_000 {
		t.Errorf("recipient delta = %d (found=%v), want 500000", delta, ok)
	}
	if len(tx.Programs) == 0 || tx.Programs[0] != TokenProgramID {
		t.Errorf("expected token program in transaction, got %v", tx.Programs)
	}
}
