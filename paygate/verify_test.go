package paygate

import (
	"context"
	"errors"
	"testing"

	"datanexus/facilitator"
	"datanexus/ledger"
)

type fakeFacilitator struct {
	resp facilitator.VerifyResponse
	err  error
	seen []facilitator.VerifyRequest
}

func (f *fakeFacilitator) Verify(_ context.Context, _ string, req facilitator.VerifyRequest) (facilitator.VerifyResponse, error) {
	f.seen = append(f.seen, req)
	return f.resp, f.err
}

func paidLedger(t *testing.T, recipient string, amount int64) (*ledger.Memory, string) {
	t.Helper()
	mem := ledger.NewMemory()
	mem.Credit("payer-1", amount)
	sig, err := mem.Transfer(context.Background(), "payer-1", recipient, amount)
	if err != nil {
		t.Fatalf("seed transfer: %v", err)
	}
	return mem, sig
}

func testConfig(price int64) ResourceConfig {
	return ResourceConfig{
		Resource:       "dataset-7",
		Price:          price,
		Currency:       "USDC",
		Network:        "devnet",
		Recipient:      "provider-1",
		FacilitatorURL: "http://facilitator.local",
	}
}

func TestVerify_FacilitatorAccepts(t *testing.T) {
	fac := &fakeFacilitator{resp: facilitator.VerifyResponse{Valid: true, Signature: "fac-sig", Amount: "0.5"}}
	v := NewVerifier(fac, ledger.NewMemory())

	ev, err := v.Verify(context.Background(), "tok-1", testConfig(500_000))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if ev.Tier != "facilitator" || ev.Signature != "fac-sig" || ev.Amount != 500_000 {
		t.Fatalf("unexpected evidence %+v", ev)
	}
	if got := fac.seen[0].Amount; got != "0.5" {
		t.Fatalf("facilitator asked to verify amount %q, want 0.5", got)
	}
}

func TestVerify_FacilitatorDownFallsBackToLedger(t *testing.T) {
	mem, sig := paidLedger(t, "provider-1", 500_000)
	fac := &fakeFacilitator{err: errors.New("facilitator: verify call: connection refused")}
	v := NewVerifier(fac, mem)

	ev, err := v.Verify(context.Background(), sig, testConfig(500_000))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if ev.Tier != "ledger" {
		t.Fatalf("tier = %q, want ledger", ev.Tier)
	}
	if ev.Signature != sig || ev.Amount != 500_000 {
		t.Fatalf("unexpected evidence %+v", ev)
	}
}

func TestVerify_FacilitatorRejectionStillChecksLedger(t *testing.T) {
	// A rejecting facilitator is not authoritative: the ledger is.
	mem, sig := paidLedger(t, "provider-1", 500_000)
	fac := &fakeFacilitator{resp: facilitator.VerifyResponse{Valid: false}, err: facilitator.ErrRejected}
	v := NewVerifier(fac, mem)

	if _, err := v.Verify(context.Background(), sig, testConfig(500_000)); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestVerifyDirect_Rejections(t *testing.T) {
	mem, sig := paidLedger(t, "provider-1", 400_000)
	mem.RecordFailedTransaction("failed-sig", "InsufficientFunds")

	v := NewVerifier(nil, mem)

	cases := []struct {
		name  string
		token string
		cfg   ResourceConfig
	}{
		{"unknown transaction", "no-such-sig", testConfig(500_000)},
		{"failed transaction", "failed-sig", testConfig(500_000)},
		{"underpaid beyond tolerance", sig, testConfig(500_000)},
		{"wrong recipient", sig, ResourceConfig{Price: 400_000, Recipient: "someone-else"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := v.Verify(context.Background(), tc.token, tc.cfg)
			if !errors.Is(err, ErrInvalidPayment) {
				t.Fatalf("err = %v, want ErrInvalidPayment", err)
			}
		})
	}
}

func TestVerifyDirect_ToleratesRounding(t *testing.T) {
	mem, sig := paidLedger(t, "provider-1", 499_995)
	v := NewVerifier(nil, mem)

	ev, err := v.Verify(context.Background(), sig, testConfig(500_000))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if ev.Amount != 499_995 {
		t.Fatalf("amount = %d, want actual delta", ev.Amount)
	}
}
