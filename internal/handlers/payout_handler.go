package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/arenapay/backend/internal/models"
	"github.com/arenapay/backend/internal/services"
)

type PayoutHandler struct {
	payouts   *services.PayoutService
	validator *services.ValidationHelper
}

func NewPayoutHandler(payouts *services.PayoutService) *PayoutHandler {
	return &PayoutHandler{
		payouts:   payouts,
		validator: services.NewValidationHelper(),
	}
}

// RequestPayout opens a withdrawal, holding the funds immediately
// @Summary Request a payout
// @Description Hold the amount from the wallet and queue a withdrawal request
// @Tags payouts
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body models.PayoutRequestInput true "Payout request"
// @Success 201 {object} models.PayoutRequest
// @Failure 402 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /payouts [post]
func (h *PayoutHandler) RequestPayout(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req models.PayoutRequestInput
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	request, err := h.payouts.Request(r.Context(), userID, req.Amount, req.PaymentDetails)
	if err != nil {
		services.SendServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(request)
}

// ListPayouts lists the caller's payout requests
// @Summary List payouts
// @Tags payouts
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Number of requests to return (default: 20, max: 100)"
// @Success 200 {object} map[string]interface{}
// @Router /payouts [get]
func (h *PayoutHandler) ListPayouts(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	limit := 20
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if val, err := strconv.Atoi(limitStr); err == nil && val > 0 && val <= 100 {
			limit = val
		}
	}

	requests, err := h.payouts.ListForOwner(r.Context(), userID, limit)
	if err != nil {
		services.SendServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"requests": requests,
		"count":    len(requests),
	})
}

// TransitionPayout moves a payout request through the queue (admin)
// @Summary Transition a payout request
// @Description Approve, process, complete or reject a payout; rejection refunds the hold
// @Tags payouts
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param requestId path string true "Payout request ID"
// @Param request body object{status=string,notes=string,proof_reference=string} true "Transition"
// @Success 200 {object} models.PayoutRequest
// @Failure 403 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /payouts/{requestId}/status [put]
func (h *PayoutHandler) TransitionPayout(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		Status         string `json:"status" validate:"required,oneof=approved processing completed rejected"`
		Notes          string `json:"notes"`
		ProofReference string `json:"proof_reference"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	request, err := h.payouts.AdminTransition(r.Context(), chi.URLParam(r, "requestId"),
		models.PayoutStatus(req.Status), req.Notes, req.ProofReference, isAdmin(r))
	if err != nil {
		services.SendServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(request)
}
