package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"datanexus/auth"
	"datanexus/dispute"
	"datanexus/escrow"
	"datanexus/metrics"
	"datanexus/paygate"
	"datanexus/rating"
	"datanexus/settlement"
)

type userResponse struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FullName  string `json:"fullName"`
	Wallet    string `json:"wallet"`
	Role      string `json:"role"`
	CreatedAt string `json:"createdAt"`
}

func toUserResponse(u auth.User) userResponse {
	return userResponse{
		ID:        u.ID,
		Email:     u.Email,
		FullName:  u.FullName,
		Wallet:    u.Wallet,
		Role:      string(u.Role),
		CreatedAt: u.CreatedAt.Format(time.RFC3339),
	}
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid JSON body")
		return
	}
	user, err := s.authService.Register(r.Context(), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "user": toUserResponse(*user)})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid JSON body")
		return
	}
	result, err := s.authService.Login(r.Context(), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"token":   result.Token,
		"user":    toUserResponse(result.User),
	})
}

type escrowResponse struct {
	ID          string  `json:"id"`
	Buyer       string  `json:"buyer"`
	Provider    string  `json:"provider"`
	Platform    string  `json:"platform"`
	Amount      string  `json:"amount"`
	AmountMicro int64   `json:"amountMicro"`
	RequestID   string  `json:"requestId"`
	ProposalID  string  `json:"proposalId,omitempty"`
	Status      string  `json:"status"`
	CreatedAt   string  `json:"createdAt"`
	FundedAt    *string `json:"fundedAt,omitempty"`
	DeliveredAt *string `json:"deliveredAt,omitempty"`
	CompletedAt *string `json:"completedAt,omitempty"`
	RefundedAt  *string `json:"refundedAt,omitempty"`
	DisputedAt  *string `json:"disputedAt,omitempty"`
}

func toEscrowResponse(esc escrow.Escrow) escrowResponse {
	return escrowResponse{
		ID:          esc.ID,
		Buyer:       esc.Buyer,
		Provider:    esc.Provider,
		Platform:    esc.Platform,
		Amount:      settlement.FormatAmount(esc.Amount),
		AmountMicro: esc.Amount,
		RequestID:   esc.RequestID,
		ProposalID:  esc.ProposalID,
		Status:      string(esc.Status),
		CreatedAt:   esc.CreatedAt.Format(time.RFC3339),
		FundedAt:    formatTimePtr(esc.FundedAt),
		DeliveredAt: formatTimePtr(esc.DeliveredAt),
		CompletedAt: formatTimePtr(esc.CompletedAt),
		RefundedAt:  formatTimePtr(esc.RefundedAt),
		DisputedAt:  formatTimePtr(esc.DisputedAt),
	}
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	formatted := t.Format(time.RFC3339)
	return &formatted
}

func (s *Server) explorerURL(signature string) string {
	return fmt.Sprintf("https://explorer.solana.com/tx/%s?cluster=%s", signature, s.network)
}

type createEscrowRequest struct {
	Provider   string `json:"provider"`
	Amount     string `json:"amount"` // decimal units, e.g. "100" or "0.5"
	RequestID  string `json:"requestId"`
	ProposalID string `json:"proposalId"`
}

func (s *Server) handleCreateEscrow(w http.ResponseWriter, r *http.Request) {
	identity, ok := callerIdentity(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing identity")
		return
	}

	var req createEscrowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid JSON body")
		return
	}
	amount, err := settlement.ParseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}

	res, err := s.escrowService.Create(r.Context(), escrow.CreateParams{
		Buyer:      identity.Wallet,
		Provider:   req.Provider,
		Platform:   s.platformWallet,
		Amount:     amount,
		RequestID:  req.RequestID,
		ProposalID: req.ProposalID,
	})
	if err != nil {
		metrics.EscrowTransitions.WithLabelValues("create", "rejected").Inc()
		writeDomainError(w, err)
		return
	}
	metrics.EscrowTransitions.WithLabelValues("create", "ok").Inc()

	writeJSON(w, http.StatusCreated, map[string]any{
		"success":     true,
		"signature":   res.Signature,
		"explorerUrl": s.explorerURL(res.Signature),
		"escrow":      toEscrowResponse(res.Escrow),
	})
}

func (s *Server) handleGetEscrow(w http.ResponseWriter, r *http.Request) {
	identity, _ := callerIdentity(r)
	buyer := r.URL.Query().Get("buyer")
	if buyer == "" {
		buyer = identity.Wallet
	}
	requestID := r.URL.Query().Get("requestId")
	if requestID == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "requestId is required")
		return
	}

	esc, err := s.escrowService.Get(r.Context(), buyer, requestID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "escrow": toEscrowResponse(esc)})
}

type escrowActionRequest struct {
	BuyerPublicKey string `json:"buyerPublicKey"`
	RequestID      string `json:"requestId"`
	RefundToBuyer  bool   `json:"refundToBuyer"`
	Reason         string `json:"reason"`
}

// handleEscrowAction drives one state-machine transition. The authenticated
// caller's wallet is the acting party; the escrow service enforces which
// party may perform which transition.
func (s *Server) handleEscrowAction(w http.ResponseWriter, r *http.Request) {
	identity, ok := callerIdentity(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing identity")
		return
	}

	var req escrowActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid JSON body")
		return
	}
	buyer := req.BuyerPublicKey
	if buyer == "" {
		buyer = identity.Wallet
	}
	if req.RequestID == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "requestId is required")
		return
	}

	action := chi.URLParam(r, "action")
	var (
		res        escrow.Result
		disputeRec *dispute.Record
		err        error
	)
	switch action {
	case "mark-delivered":
		res, err = s.escrowService.MarkDelivered(r.Context(), buyer, req.RequestID, identity.Wallet)
	case "confirm":
		res, err = s.escrowService.ConfirmAndRelease(r.Context(), buyer, req.RequestID, identity.Wallet)
	case "cancel":
		res, err = s.escrowService.Cancel(r.Context(), buyer, req.RequestID, identity.Wallet)
	case "raise-dispute":
		var rec dispute.Record
		res, rec, err = s.disputeService.Raise(r.Context(), buyer, req.RequestID, identity.Wallet, req.Reason)
		disputeRec = &rec
	case "resolve-dispute":
		var rec dispute.Record
		res, rec, err = s.disputeService.Resolve(r.Context(), buyer, req.RequestID, identity.Wallet, req.RefundToBuyer)
		disputeRec = &rec
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("unknown action %q", action))
		return
	}
	if err != nil {
		metrics.EscrowTransitions.WithLabelValues(action, "rejected").Inc()
		writeDomainError(w, err)
		return
	}
	metrics.EscrowTransitions.WithLabelValues(action, "ok").Inc()

	payload := map[string]any{
		"success":     true,
		"action":      action,
		"signature":   res.Signature,
		"status":      string(res.Escrow.Status),
		"explorerUrl": s.explorerURL(res.Signature),
	}
	if disputeRec != nil {
		payload["dispute"] = toDisputeResponse(*disputeRec)
	}
	writeJSON(w, http.StatusOK, payload)
}

// handleDatasetDownload serves a dataset through the payment gate. The gate
// wraps the final handler per request because price and recipient vary per
// dataset.
func (s *Server) handleDatasetDownload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ds, ok := s.datasets.Get(r.Context(), id)
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "dataset not found")
		return
	}

	cfg := paygate.ResourceConfig{
		Resource:       "dataset:" + ds.ID,
		Price:          ds.Price,
		Currency:       s.currency,
		Network:        s.network,
		Recipient:      ds.Recipient,
		FacilitatorURL: s.facilitatorURL,
		Description:    ds.Description,
	}
	serve := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		contentType := ds.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(http.StatusOK)
		w.Write(ds.Content)
	})
	s.gate.Protect(cfg)(serve).ServeHTTP(w, r)
}

type ratingResponse struct {
	ID        string `json:"id"`
	EscrowID  string `json:"escrowId"`
	Provider  string `json:"provider"`
	Score     int    `json:"score"`
	Comment   string `json:"comment,omitempty"`
	CreatedAt string `json:"createdAt"`
}

func toRatingResponse(rt rating.Rating) ratingResponse {
	return ratingResponse{
		ID:        rt.ID,
		EscrowID:  rt.EscrowID,
		Provider:  rt.Provider,
		Score:     rt.Score,
		Comment:   rt.Comment,
		CreatedAt: rt.CreatedAt.Format(time.RFC3339),
	}
}

type createRatingRequest struct {
	RequestID string `json:"requestId"`
	Score     int    `json:"score"`
	Comment   string `json:"comment"`
}

func (s *Server) handleCreateRating(w http.ResponseWriter, r *http.Request) {
	identity, ok := callerIdentity(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing identity")
		return
	}

	var req createRatingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid JSON body")
		return
	}

	rt, err := s.ratingService.Create(r.Context(), rating.CreateParams{
		Buyer:     identity.Wallet,
		RequestID: req.RequestID,
		Rater:     identity.Wallet,
		Score:     req.Score,
		Comment:   req.Comment,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "rating": toRatingResponse(rt)})
}

func (s *Server) handleProviderReputation(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "id")
	rep, recent, err := s.ratingService.ProviderReputation(r.Context(), provider)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	items := make([]ratingResponse, 0, len(recent))
	for _, rt := range recent {
		items = append(items, toRatingResponse(rt))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"provider": rep.Provider,
		"count":    rep.Count,
		"average":  rep.Average,
		"recent":   items,
	})
}

type disputeResponse struct {
	ID         string  `json:"id"`
	EscrowID   string  `json:"escrowId"`
	RaisedBy   string  `json:"raisedBy"`
	Reason     string  `json:"reason"`
	Status     string  `json:"status"`
	Resolution *string `json:"resolution,omitempty"`
	CreatedAt  string  `json:"createdAt"`
	ResolvedAt *string `json:"resolvedAt,omitempty"`
}

func toDisputeResponse(rec dispute.Record) disputeResponse {
	return disputeResponse{
		ID:         rec.ID,
		EscrowID:   rec.EscrowID,
		RaisedBy:   rec.RaisedBy,
		Reason:     rec.Reason,
		Status:     string(rec.Status),
		Resolution: rec.Resolution,
		CreatedAt:  rec.CreatedAt.Format(time.RFC3339),
		ResolvedAt: formatTimePtr(rec.ResolvedAt),
	}
}

func (s *Server) handleListDisputes(w http.ResponseWriter, r *http.Request) {
	records, err := s.disputeService.List(r.Context(), r.URL.Query().Get("escrowId"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	items := make([]disputeResponse, 0, len(records))
	for _, rec := range records {
		items = append(items, toDisputeResponse(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "items": items, "total": len(items)})
}
