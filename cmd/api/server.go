package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"datanexus/auth"
	"datanexus/dispute"
	"datanexus/escrow"
	"datanexus/paygate"
	"datanexus/rating"
)

type ctxKey int

const ctxKeyIdentity ctxKey = iota

// Service seams the handlers depend on; tests substitute stubs.
type escrowService interface {
	Create(ctx context.Context, params escrow.CreateParams) (escrow.Result, error)
	MarkDelivered(ctx context.Context, buyer, requestID, actor string) (escrow.Result, error)
	ConfirmAndRelease(ctx context.Context, buyer, requestID, actor string) (escrow.Result, error)
	Cancel(ctx context.Context, buyer, requestID, actor string) (escrow.Result, error)
	Get(ctx context.Context, buyer, requestID string) (escrow.Escrow, error)
}

type disputeService interface {
	Raise(ctx context.Context, buyer, requestID, actor, reason string) (escrow.Result, dispute.Record, error)
	Resolve(ctx context.Context, buyer, requestID, actor string, refundToBuyer bool) (escrow.Result, dispute.Record, error)
	List(ctx context.Context, escrowID string) ([]dispute.Record, error)
}

type ratingService interface {
	Create(ctx context.Context, params rating.CreateParams) (rating.Rating, error)
	ProviderReputation(ctx context.Context, provider string) (rating.Reputation, []rating.Rating, error)
}

type authService interface {
	Register(ctx context.Context, req auth.RegisterRequest) (*auth.User, error)
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
	VerifyToken(token string) (auth.Identity, error)
}

// Server bundles the HTTP surface over the domain services.
type Server struct {
	authService    authService
	escrowService  escrowService
	disputeService disputeService
	ratingService  ratingService
	gate           *paygate.Gate
	datasets       Catalog

	platformWallet string
	currency       string
	network        string
	facilitatorURL string
}

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/register", s.handleRegister)
		r.Post("/auth/login", s.handleLogin)

		// Paid resource: the gate issues the 402 challenge, not the auth layer.
		r.Get("/datasets/{id}/download", s.handleDatasetDownload)

		r.Get("/providers/{id}/reputation", s.handleProviderReputation)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)
			r.Post("/escrow", s.handleCreateEscrow)
			r.Get("/escrow", s.handleGetEscrow)
			r.Post("/escrow/{action}", s.handleEscrowAction)
			r.Post("/ratings", s.handleCreateRating)
			r.Get("/disputes", s.handleListDisputes)
		})
	})

	return r
}

// requireAuth extracts and verifies the bearer token, storing the caller's
// identity on the request context.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing bearer token")
			return
		}
		identity, err := s.authService.VerifyToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKeyIdentity, identity)))
	})
}

func callerIdentity(r *http.Request) (auth.Identity, bool) {
	identity, ok := r.Context().Value(ctxKeyIdentity).(auth.Identity)
	return identity, ok
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("api: write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"success": false,
		"error":   map[string]string{"code": code, "message": message},
	})
}

// writeDomainError maps service sentinels onto the HTTP error taxonomy.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, escrow.ErrNotFound),
		errors.Is(err, rating.ErrNotFound),
		errors.Is(err, dispute.ErrNotFound),
		errors.Is(err, auth.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, escrow.ErrUnauthorized),
		errors.Is(err, rating.ErrUnauthorized):
		writeError(w, http.StatusForbidden, "UNAUTHORIZED", err.Error())
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", err.Error())
	case errors.Is(err, escrow.ErrInvalidState),
		errors.Is(err, dispute.ErrBadStatus),
		errors.Is(err, escrow.ErrDuplicateEscrow),
		errors.Is(err, rating.ErrDuplicateRating),
		errors.Is(err, rating.ErrNotCompleted),
		errors.Is(err, escrow.ErrInsufficientFunds):
		writeError(w, http.StatusConflict, "INVALID_STATE", err.Error())
	case errors.Is(err, escrow.ErrInvalidAmount),
		errors.Is(err, escrow.ErrPartiesNotDistinct),
		errors.Is(err, rating.ErrInvalidScore),
		errors.Is(err, rating.ErrCommentTooLong),
		errors.Is(err, dispute.ErrReasonRequired),
		errors.Is(err, auth.ErrWeakPassword),
		errors.Is(err, auth.ErrDuplicateUser):
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
	default:
		log.Printf("api: internal error: %v", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
	}
}
