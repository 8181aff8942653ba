package escrow

import (
	"context"
	"errors"
	"testing"
	"time"

	"datanexus/ledger"
)

type fakeRepo struct {
	snapshots []Escrow
	refunds   []Refund
	upsertErr error
}

func (f *fakeRepo) UpsertSnapshot(_ context.Context, esc Escrow) (Escrow, error) {
	if f.upsertErr != nil {
		return Escrow{}, f.upsertErr
	}
	for i, existing := range f.snapshots {
		if existing.Buyer == esc.Buyer && existing.RequestID == esc.RequestID && existing.CreatedAt.Equal(esc.CreatedAt) {
			esc.ID = existing.ID
			f.snapshots[i] = esc
			return esc, nil
		}
	}
	esc.ID = "row-" + esc.RequestID
	f.snapshots = append(f.snapshots, esc)
	return esc, nil
}

func (f *fakeRepo) Get(_ context.Context, buyer, requestID string) (Escrow, error) {
	for i := len(f.snapshots) - 1; i >= 0; i-- {
		if f.snapshots[i].Buyer == buyer && f.snapshots[i].RequestID == requestID {
			return f.snapshots[i], nil
		}
	}
	return Escrow{}, ErrNotFound
}

func (f *fakeRepo) HasNonTerminal(_ context.Context, buyer, requestID string) (bool, error) {
	for _, esc := range f.snapshots {
		if esc.Buyer == buyer && esc.RequestID == requestID && !esc.Status.Terminal() {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeRepo) InsertRefund(_ context.Context, refund Refund) (Refund, error) {
	f.refunds = append(f.refunds, refund)
	return refund, nil
}

type fakeSyncer struct {
	enqueued []string // recordType:domainID
}

func (f *fakeSyncer) Enqueue(_ context.Context, recordType, domainID string, _ any) error {
	f.enqueued = append(f.enqueued, recordType+":"+domainID)
	return nil
}

func newTestService(t *testing.T) (*Service, *ledger.Memory, *fakeRepo, *fakeSyncer) {
	t.Helper()
	mem := ledger.NewMemory()
	mem.Credit("buyer-1", 500_000_000)
	repo := &fakeRepo{}
	syncer := &fakeSyncer{}
	svc := NewService(mem, repo, syncer).
		WithClock(func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) })
	return svc, mem, repo, syncer
}

func create(t *testing.T, svc *Service, amount int64) Result {
	t.Helper()
	res, err := svc.Create(context.Background(), CreateParams{
		Buyer:      "buyer-1",
		Provider:   "provider-1",
		Platform:   "platform-1",
		Amount:     amount,
		RequestID:  "req-1",
		ProposalID: "prop-1",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return res
}

func TestCreate_FundsAndMirrors(t *testing.T) {
	svc, _, repo, _ := newTestService(t)

	res := create(t, svc, 100_000_000)

	if res.Escrow.Status != StatusFunded {
		t.Errorf("expected funded, got %s", res.Escrow.Status)
	}
	if res.Escrow.FundedAt == nil {
		t.Errorf("expected funded timestamp")
	}
	if res.Signature == "" {
		t.Errorf("expected funding signature")
	}
	if len(repo.snapshots) != 1 {
		t.Errorf("expected one mirror row, got %d", len(repo.snapshots))
	}
}

func TestCreate_Validation(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Create(ctx, CreateParams{Buyer: "b", Provider: "p", Platform: "x", Amount: 0, RequestID: "r"}); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("zero amount: expected ErrInvalidAmount, got %v", err)
	}
	if _, err := svc.Create(ctx, CreateParams{Buyer: "b", Provider: "b", Platform: "x", Amount: 1, RequestID: "r"}); !errors.Is(err, ErrPartiesNotDistinct) {
		t.Errorf("same parties: expected ErrPartiesNotDistinct, got %v", err)
	}
}

func TestCreate_RejectsDuplicateNonTerminal(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	create(t, svc, 100_000_000)

	_, err := svc.Create(context.Background(), CreateParams{
		Buyer: "buyer-1", Provider: "provider-1", Platform: "platform-1",
		Amount: 50_000_000, RequestID: "req-1",
	})
	if !errors.Is(err, ErrDuplicateEscrow) {
		t.Fatalf("expected ErrDuplicateEscrow, got %v", err)
	}
}

func TestScenario_ConfirmAndRelease(t *testing.T) {
	// create 100 -> delivered -> confirmed: provider 95, platform 5.
	svc, mem, _, _ := newTestService(t)
	ctx := context.Background()
	create(t, svc, 100_000_000)

	res, err := svc.MarkDelivered(ctx, "buyer-1", "req-1", "provider-1")
	if err != nil {
		t.Fatalf("mark delivered: %v", err)
	}
	if res.Escrow.Status != StatusDelivered {
		t.Fatalf("expected delivered, got %s", res.Escrow.Status)
	}

	res, err = svc.ConfirmAndRelease(ctx, "buyer-1", "req-1", "buyer-1")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if res.Escrow.Status != StatusCompleted {
		t.Errorf("expected completed, got %s", res.Escrow.Status)
	}
	if got := mem.Balance("provider-1"); got != 95_000_000 {
		t.Errorf("provider credited %d, want 95000000", got)
	}
	if got := mem.Balance("platform-1"); got != 5_000_000 {
		t.Errorf("platform credited %d, want 5000000", got)
	}
}

func TestScenario_Cancel(t *testing.T) {
	svc, mem, repo, syncer := newTestService(t)
	ctx := context.Background()
	create(t, svc, 100_000_000)

	buyerBefore := mem.Balance("buyer-1")
	res, err := svc.Cancel(ctx, "buyer-1", "req-1", "buyer-1")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if res.Escrow.Status != StatusCancelled {
		t.Errorf("expected cancelled, got %s", res.Escrow.Status)
	}
	if got := mem.Balance("buyer-1"); got != buyerBefore+100_000_000 {
		t.Errorf("buyer refunded to %d, want %d", got, buyerBefore+100_000_000)
	}
	if len(repo.refunds) != 1 || repo.refunds[0].Reason != "cancelled" {
		t.Fatalf("expected one cancelled refund record, got %+v", repo.refunds)
	}
	if len(syncer.enqueued) != 1 {
		t.Errorf("expected refund handed to chain-sync, got %v", syncer.enqueued)
	}
}

func TestScenario_DisputeRefund(t *testing.T) {
	svc, mem, repo, _ := newTestService(t)
	ctx := context.Background()
	create(t, svc, 100_000_000)

	if _, err := svc.MarkDelivered(ctx, "buyer-1", "req-1", "provider-1"); err != nil {
		t.Fatalf("mark delivered: %v", err)
	}
	res, err := svc.RaiseDispute(ctx, "buyer-1", "req-1", "buyer-1")
	if err != nil {
		t.Fatalf("raise dispute: %v", err)
	}
	if res.Escrow.Status != StatusDisputed || res.Escrow.DisputedAt == nil {
		t.Fatalf("expected disputed with timestamp, got %+v", res.Escrow)
	}

	res, err = svc.ResolveDispute(ctx, "buyer-1", "req-1", "platform-1", true)
	if err != nil {
		t.Fatalf("resolve dispute: %v", err)
	}
	if res.Escrow.Status != StatusRefunded {
		t.Errorf("expected refunded, got %s", res.Escrow.Status)
	}
	if got := mem.Balance("buyer-1"); got != 500_000_000 {
		t.Errorf("buyer credited back to %d, want full 500000000", got)
	}
	if len(repo.refunds) != 1 || repo.refunds[0].Reason != "dispute_refund" {
		t.Fatalf("expected dispute_refund record, got %+v", repo.refunds)
	}
}

func TestScenario_DisputeRelease(t *testing.T) {
	svc, mem, _, _ := newTestService(t)
	ctx := context.Background()
	create(t, svc, 100_000_000)

	if _, err := svc.MarkDelivered(ctx, "buyer-1", "req-1", "provider-1"); err != nil {
		t.Fatalf("mark delivered: %v", err)
	}
	if _, err := svc.RaiseDispute(ctx, "buyer-1", "req-1", "buyer-1"); err != nil {
		t.Fatalf("raise dispute: %v", err)
	}

	res, err := svc.ResolveDispute(ctx, "buyer-1", "req-1", "platform-1", false)
	if err != nil {
		t.Fatalf("resolve dispute: %v", err)
	}
	if res.Escrow.Status != StatusCompleted {
		t.Errorf("expected completed, got %s", res.Escrow.Status)
	}
	if got := mem.Balance("provider-1"); got != 95_000_000 {
		t.Errorf("provider credited %d, want 95000000", got)
	}
}

func TestIllegalTransitions_RejectedWithoutStatusChange(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		name string
		run  func(svc *Service) error
		want error
	}{
		{"confirm while funded", func(svc *Service) error {
			_, err := svc.ConfirmAndRelease(ctx, "buyer-1", "req-1", "buyer-1")
			return err
		}, ErrInvalidState},
		{"dispute while funded", func(svc *Service) error {
			_, err := svc.RaiseDispute(ctx, "buyer-1", "req-1", "buyer-1")
			return err
		}, ErrInvalidState},
		{"cancel while delivered", func(svc *Service) error {
			if _, err := svc.MarkDelivered(ctx, "buyer-1", "req-1", "provider-1"); err != nil {
				return err
			}
			_, err := svc.Cancel(ctx, "buyer-1", "req-1", "buyer-1")
			return err
		}, ErrInvalidState},
		{"provider cannot confirm", func(svc *Service) error {
			if _, err := svc.MarkDelivered(ctx, "buyer-1", "req-1", "provider-1"); err != nil {
				return err
			}
			_, err := svc.ConfirmAndRelease(ctx, "buyer-1", "req-1", "provider-1")
			return err
		}, ErrUnauthorized},
		{"buyer cannot resolve", func(svc *Service) error {
			if _, err := svc.MarkDelivered(ctx, "buyer-1", "req-1", "provider-1"); err != nil {
				return err
			}
			if _, err := svc.RaiseDispute(ctx, "buyer-1", "req-1", "buyer-1"); err != nil {
				return err
			}
			_, err := svc.ResolveDispute(ctx, "buyer-1", "req-1", "buyer-1", true)
			return err
		}, ErrUnauthorized},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, _, _, _ := newTestService(t)
			create(t, svc, 100_000_000)

			if err := tc.run(svc); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestRejectedTransition_LeavesStatusUnchanged(t *testing.T) {
	svc, mem, _, _ := newTestService(t)
	ctx := context.Background()
	create(t, svc, 100_000_000)

	if _, err := svc.ConfirmAndRelease(ctx, "buyer-1", "req-1", "buyer-1"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	if got := mustStatus(t, mem); got != ledger.StatusFunded {
		t.Fatalf("rejected transition moved status to %s", got)
	}
}

func TestGet_RefreshesFromLedger(t *testing.T) {
	svc, mem, repo, _ := newTestService(t)
	ctx := context.Background()
	create(t, svc, 100_000_000)

	// Move the ledger directly; the mirror is stale until Get refreshes it.
	if _, _, err := mem.MarkDelivered(ctx, "buyer-1", "req-1", "provider-1"); err != nil {
		t.Fatalf("ledger deliver: %v", err)
	}

	esc, err := svc.Get(ctx, "buyer-1", "req-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if esc.Status != StatusDelivered {
		t.Errorf("expected refreshed delivered status, got %s", esc.Status)
	}
	if repo.snapshots[0].Status != StatusDelivered {
		t.Errorf("expected mirror updated, got %s", repo.snapshots[0].Status)
	}
}

func TestGet_NotFound(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	if _, err := svc.Get(context.Background(), "buyer-1", "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func mustStatus(t *testing.T, mem *ledger.Memory) ledger.Status {
	t.Helper()
	acct, err := mem.GetEscrow(context.Background(), "buyer-1", "req-1")
	if err != nil {
		t.Fatalf("ledger get: %v", err)
	}
	return acct.Status
}
