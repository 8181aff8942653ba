package facilitator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestVerify_Valid(t *testing.T) {
	var got VerifyRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/verify" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(VerifyResponse{Valid: true, Signature: "sig-1"})
	}))
	defer srv.Close()

	c := NewClient(2 * time.Second)
	resp, err := c.Verify(context.Background(), srv.URL, VerifyRequest{
		Token: "tok-1", Network: "solana-devnet", Recipient: "merchant", Amount: "0.5", Currency: "USDC",
	})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if resp.Signature != "sig-1" {
		t.Errorf("expected signature passthrough, got %q", resp.Signature)
	}
	if got.Token != "tok-1" || got.Recipient != "merchant" || got.Amount != "0.5" {
		t.Errorf("unexpected request payload: %+v", got)
	}
}

func TestVerify_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(VerifyResponse{Valid: false, Error: "amount mismatch"})
	}))
	defer srv.Close()

	c := NewClient(2 * time.Second)
	_, err := c.Verify(context.Background(), srv.URL, VerifyRequest{Token: "tok-1"})
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
}

func TestVerify_Unreachable(t *testing.T) {
	c := NewClient(200 * time.Millisecond)
	_, err := c.Verify(context.Background(), "http://127.0.0.1:1", VerifyRequest{Token: "tok-1"})
	if err == nil {
		t.Fatalf("expected network error")
	}
	if errors.Is(err, ErrRejected) {
		t.Fatalf("network failure must not look like a rejection: %v", err)
	}
}
