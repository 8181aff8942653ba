package paygate

import (
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"time"

	"datanexus/metrics"
	"datanexus/settlement"
)

// Header names follow the payment-challenge convention used by the custody
// gateway and the facilitator.
const (
	HeaderPaymentToken       = "x-payment-token"
	HeaderPaymentAmount      = "x-payment-amount"
	HeaderPaymentCurrency    = "x-payment-currency"
	HeaderPaymentRecipient   = "x-payment-recipient"
	HeaderPaymentNetwork     = "x-payment-network"
	HeaderPaymentFacilitator = "x-payment-facilitator"
	HeaderPaymentVerified    = "x-payment-verified"
	HeaderPaymentSignature   = "x-payment-signature"
	HeaderPaymentTier        = "x-payment-tier"
)

// Gate issues payment challenges and admits requests carrying a valid,
// unused payment proof.
type Gate struct {
	verifier   *Verifier
	proofs     ProofStore
	counters   CounterStore
	callerKey  func(*http.Request) string
	rateLimit  int64
	rateWindow time.Duration
}

// NewGate builds a gate. counters may be nil to disable rate limiting.
func NewGate(verifier *Verifier, proofs ProofStore, counters CounterStore) *Gate {
	return &Gate{
		verifier:   verifier,
		proofs:     proofs,
		counters:   counters,
		callerKey:  callerAddr,
		rateLimit:  60,
		rateWindow: time.Minute,
	}
}

// WithRateLimit sets the per-caller request budget per window.
func (g *Gate) WithRateLimit(limit int64, window time.Duration) *Gate {
	g.rateLimit = limit
	g.rateWindow = window
	return g
}

// WithCallerKey overrides how callers are identified for rate limiting.
func (g *Gate) WithCallerKey(fn func(*http.Request) string) *Gate {
	g.callerKey = fn
	return g
}

// Protect wraps a handler with the payment gate for one resource.
func (g *Gate) Protect(cfg ResourceConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !g.admitRate(w, r) {
				return
			}

			token := r.Header.Get(HeaderPaymentToken)
			if token == "" {
				metrics.PaymentRequired.Inc()
				g.challenge(w, cfg, "PAYMENT_REQUIRED", "payment required for this resource")
				return
			}

			if err := g.proofs.Consume(r.Context(), token, cfg.Resource); err != nil {
				if errors.Is(err, ErrProofConsumed) {
					metrics.PaymentVerifications.WithLabelValues("none", "replayed").Inc()
					g.challenge(w, cfg, "INVALID_PAYMENT", "payment proof already used")
					return
				}
				log.Printf("paygate: proof store: %v", err)
				writeError(w, http.StatusInternalServerError, "INTERNAL", "payment verification unavailable", nil)
				return
			}

			evidence, err := g.verifier.Verify(r.Context(), token, cfg)
			if err != nil {
				// Give the proof back so a transient failure does not burn it.
				if relErr := g.proofs.Release(r.Context(), token); relErr != nil {
					log.Printf("paygate: proof release: %v", relErr)
				}
				metrics.PaymentVerifications.WithLabelValues("ledger", "rejected").Inc()
				g.challenge(w, cfg, "INVALID_PAYMENT", err.Error())
				return
			}

			metrics.PaymentVerifications.WithLabelValues(evidence.Tier, "ok").Inc()
			w.Header().Set(HeaderPaymentVerified, "true")
			w.Header().Set(HeaderPaymentSignature, evidence.Signature)
			w.Header().Set(HeaderPaymentTier, evidence.Tier)
			next.ServeHTTP(w, r)
		})
	}
}

// admitRate applies the per-caller budget. A broken counter store logs and
// admits: availability over strictness for a paid endpoint.
func (g *Gate) admitRate(w http.ResponseWriter, r *http.Request) bool {
	if g.counters == nil || g.rateLimit <= 0 {
		return true
	}
	count, err := g.counters.Incr(r.Context(), g.callerKey(r), g.rateWindow)
	if err != nil {
		log.Printf("paygate: rate counter: %v", err)
		return true
	}
	if count > g.rateLimit {
		writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests", nil)
		return false
	}
	return true
}

// challenge writes the 402 response with the payment instruction headers.
func (g *Gate) challenge(w http.ResponseWriter, cfg ResourceConfig, code, message string) {
	price := settlement.FormatAmount(cfg.Price)
	w.Header().Set(HeaderPaymentAmount, price)
	w.Header().Set(HeaderPaymentCurrency, cfg.Currency)
	w.Header().Set(HeaderPaymentRecipient, cfg.Recipient)
	w.Header().Set(HeaderPaymentNetwork, cfg.Network)
	if cfg.FacilitatorURL != "" {
		w.Header().Set(HeaderPaymentFacilitator, cfg.FacilitatorURL)
	}
	writeError(w, http.StatusPaymentRequired, code, message, map[string]any{
		"price":    price,
		"currency": cfg.Currency,
		"network":  cfg.Network,
	})
}

func callerAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeError(w http.ResponseWriter, status int, code, message string, details map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body := map[string]any{
		"success": false,
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	}
	if details != nil {
		body["error"].(map[string]any)["details"] = details
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("paygate: write response: %v", err)
	}
}
