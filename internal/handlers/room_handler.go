package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/arenapay/backend/internal/services"
)

type RoomHandler struct {
	rooms      *services.RoomService
	settlement *services.SettlementService
	validator  *services.ValidationHelper
}

func NewRoomHandler(rooms *services.RoomService, settlement *services.SettlementService) *RoomHandler {
	return &RoomHandler{
		rooms:      rooms,
		settlement: settlement,
		validator:  services.NewValidationHelper(),
	}
}

// CreateRoom opens a new room
// @Summary Create a room
// @Description Create a room with an entry fee; the creator joins automatically
// @Tags rooms
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body models.CreateRoomRequest true "Room parameters"
// @Success 201 {object} models.Room
// @Failure 400 {object} services.ErrorResponse
// @Router /rooms [post]
func (h *RoomHandler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		EntryFee   int64 `json:"entry_fee" validate:"required,gt=0"`
		MaxPlayers int   `json:"max_players" validate:"required,min=2,max=32"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	room, err := h.rooms.CreateRoom(r.Context(), userID, req.EntryFee, req.MaxPlayers)
	if err != nil {
		services.SendServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(room)
}

// GetRoom returns a room with its participants
// @Summary Get room
// @Tags rooms
// @Produce json
// @Security BearerAuth
// @Param roomId path string true "Room ID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} services.ErrorResponse
// @Router /rooms/{roomId} [get]
func (h *RoomHandler) GetRoom(w http.ResponseWriter, r *http.Request) {
	room, participants, err := h.rooms.GetRoom(r.Context(), chi.URLParam(r, "roomId"))
	if err != nil {
		services.SendServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"room":         room,
		"participants": participants,
	})
}

// JoinRoom joins the caller into an open room
// @Summary Join room
// @Tags rooms
// @Produce json
// @Security BearerAuth
// @Param roomId path string true "Room ID"
// @Success 200 {object} map[string]string
// @Failure 409 {object} services.ErrorResponse
// @Router /rooms/{roomId}/join [post]
func (h *RoomHandler) JoinRoom(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	if err := h.rooms.Join(r.Context(), chi.URLParam(r, "roomId"), userID); err != nil {
		services.SendServiceError(w, err)
		return
	}
	writeOK(w, "joined")
}

// LeaveRoom marks the caller as left
// @Summary Leave room
// @Tags rooms
// @Produce json
// @Security BearerAuth
// @Param roomId path string true "Room ID"
// @Success 200 {object} map[string]string
// @Failure 409 {object} services.ErrorResponse
// @Router /rooms/{roomId}/leave [post]
func (h *RoomHandler) LeaveRoom(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	if err := h.rooms.Leave(r.Context(), chi.URLParam(r, "roomId"), userID); err != nil {
		services.SendServiceError(w, err)
		return
	}
	writeOK(w, "left")
}

// StartRound charges every active participant and starts a match
// @Summary Start a round
// @Description Collect the entry fee from every active participant, all or nothing
// @Tags rooms
// @Produce json
// @Security BearerAuth
// @Param roomId path string true "Room ID"
// @Success 201 {object} models.Match
// @Failure 402 {object} services.ErrorResponse
// @Failure 403 {object} services.ErrorResponse
// @Router /rooms/{roomId}/start [post]
func (h *RoomHandler) StartRound(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	match, err := h.rooms.StartRound(r.Context(), chi.URLParam(r, "roomId"), userID, isAdmin(r))
	if err != nil {
		services.SendServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(match)
}

// CancelRoom cancels a room and refunds any ongoing match
// @Summary Cancel room
// @Tags rooms
// @Produce json
// @Security BearerAuth
// @Param roomId path string true "Room ID"
// @Success 200 {object} map[string]string
// @Failure 403 {object} services.ErrorResponse
// @Router /rooms/{roomId}/cancel [post]
func (h *RoomHandler) CancelRoom(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	if err := h.rooms.CancelRoom(r.Context(), chi.URLParam(r, "roomId"), userID, isAdmin(r)); err != nil {
		services.SendServiceError(w, err)
		return
	}
	writeOK(w, "cancelled")
}

// ReopenRoom returns a completed room to open
// @Summary Reopen room
// @Tags rooms
// @Produce json
// @Security BearerAuth
// @Param roomId path string true "Room ID"
// @Success 200 {object} map[string]string
// @Failure 409 {object} services.ErrorResponse
// @Router /rooms/{roomId}/reopen [post]
func (h *RoomHandler) ReopenRoom(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	if err := h.rooms.Reopen(r.Context(), chi.URLParam(r, "roomId"), userID, isAdmin(r)); err != nil {
		services.SendServiceError(w, err)
		return
	}
	writeOK(w, "open")
}

// SettleMatch pays out a match
// @Summary Settle a match
// @Description Pay the winner and the platform fee, closing the match exactly once
// @Tags matches
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param matchId path string true "Match ID"
// @Param request body object{winner_id=string,proof_reference=string} true "Settlement"
// @Success 200 {object} services.Settlement
// @Failure 409 {object} services.ErrorResponse
// @Router /matches/{matchId}/settle [post]
func (h *RoomHandler) SettleMatch(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		WinnerID       string `json:"winner_id" validate:"required"`
		ProofReference string `json:"proof_reference"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	settlement, err := h.settlement.Settle(r.Context(), chi.URLParam(r, "matchId"),
		req.WinnerID, req.ProofReference, userID, isAdmin(r))
	if err != nil {
		services.SendServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(settlement)
}

// decodeJSON decodes a single JSON object, rejecting unknown fields and
// trailing content. Writes the error response itself on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return false
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return false
	}
	return true
}

func writeOK(w http.ResponseWriter, status string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": status})
}

func isAdmin(r *http.Request) bool {
	role, _ := r.Context().Value("role").(string)
	return role == "admin"
}
