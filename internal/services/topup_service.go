package services

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/skip2/go-qrcode"

	"github.com/arenapay/backend/internal/models"
)

// ConfirmResult is the outcome of processing one gateway notification.
type ConfirmResult string

const (
	ConfirmCredited         ConfirmResult = "credited"
	ConfirmAlreadyConfirmed ConfirmResult = "already_confirmed"
	ConfirmFailed           ConfirmResult = "failed"
	ConfirmNotFound         ConfirmResult = "not_found"
)

// TopupService turns inbound payment notifications into at most one ledger
// credit per tx_ref, no matter how often the gateway re-delivers them.
type TopupService struct {
	db          *sql.DB
	redis       *redis.Client
	ledger      *LedgerService
	gateway     PaymentGateway
	broadcaster Broadcaster
	validator   *ValidationHelper
}

func NewTopupService(db *sql.DB, redisClient *redis.Client, ledger *LedgerService, gateway PaymentGateway, broadcaster Broadcaster) *TopupService {
	return &TopupService{
		db:          db,
		redis:       redisClient,
		ledger:      ledger,
		gateway:     gateway,
		broadcaster: broadcaster,
		validator:   NewValidationHelper(),
	}
}

// TopupResponse is returned to the caller before the gateway redirect.
type TopupResponse struct {
	TxRef       string `json:"tx_ref"`
	Amount      int64  `json:"amount"`
	RedirectURL string `json:"redirect_url"`
	QRImage     string `json:"qr_image,omitempty"` // base64 PNG of the redirect URL
	Status      string `json:"status"`
}

// CreateTopup records a pending intent, requests a checkout session from the
// gateway and hands back the redirect URL. The intent row exists before the
// redirect so a notification can never arrive for an unknown tx_ref.
func (s *TopupService) CreateTopup(ctx context.Context, ownerID string, amount int64) (*TopupResponse, error) {
	txRef := uuid.New().String()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO topup_intents (tx_ref, owner_id, amount, status, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		txRef, ownerID, amount, models.TopupStatusPending, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to create topup intent: %w", err)
	}

	session, err := s.gateway.CreateCheckout(ctx, CheckoutRequest{
		TxRef:       txRef,
		Amount:      amount,
		Description: "Wallet topup " + RefToken(txRef),
	})
	if err != nil {
		if _, markErr := s.db.ExecContext(ctx, `
			UPDATE topup_intents SET status = $1 WHERE tx_ref = $2 AND status = $3`,
			models.TopupStatusFailed, txRef, models.TopupStatusPending); markErr != nil {
			log.Printf("[TOPUP] Failed to mark intent %s failed: %v", txRef, markErr)
		}
		return nil, fmt.Errorf("gateway checkout failed: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE topup_intents SET gateway_order_code = $1 WHERE tx_ref = $2`,
		session.OrderCode, txRef)
	if err != nil {
		return nil, fmt.Errorf("failed to store gateway order code: %w", err)
	}

	resp := &TopupResponse{
		TxRef:       txRef,
		Amount:      amount,
		RedirectURL: session.RedirectURL,
		Status:      string(models.TopupStatusPending),
	}
	if png, err := qrcode.Encode(session.RedirectURL, qrcode.Medium, 256); err == nil {
		resp.QRImage = base64.StdEncoding.EncodeToString(png)
	} else {
		log.Printf("[TOPUP] QR generation failed for %s: %v", txRef, err)
	}
	return resp, nil
}

// Confirm processes one inbound notification. The intent row is locked FOR
// UPDATE so concurrent re-deliveries serialize; a paid notification credits
// the deposit and marks the intent confirmed in the same transaction, so the
// intent can never read confirmed without the credit having committed.
func (s *TopupService) Confirm(ctx context.Context, n GatewayNotification) (ConfirmResult, *models.TopupIntent, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", nil, err
	}
	defer tx.Rollback()

	intent, err := s.lockIntent(ctx, tx, n)
	if err == sql.ErrNoRows {
		return ConfirmNotFound, nil, nil
	}
	if err != nil {
		return "", nil, err
	}

	switch intent.Status {
	case models.TopupStatusConfirmed:
		// Idempotency guarantee: no second ledger credit. Re-emit the
		// broadcast because a listener may have missed the first one.
		s.broadcastStatus(ctx, intent)
		return ConfirmAlreadyConfirmed, intent, nil

	case models.TopupStatusFailed:
		s.broadcastStatus(ctx, intent)
		return ConfirmFailed, intent, nil
	}

	if n.Failed() {
		if _, err := tx.ExecContext(ctx, `
			UPDATE topup_intents SET status = $1 WHERE tx_ref = $2`,
			models.TopupStatusFailed, intent.TxRef); err != nil {
			return "", nil, err
		}
		if err := tx.Commit(); err != nil {
			return "", nil, err
		}
		intent.Status = models.TopupStatusFailed
		s.broadcastStatus(ctx, intent)
		return ConfirmFailed, intent, nil
	}

	if !n.Paid() {
		return "", nil, fmt.Errorf("unrecognized gateway status %q for %s", n.Status, intent.TxRef)
	}

	_, err = s.ledger.ApplyEntryTx(ctx, tx, intent.OwnerID, intent.Amount, models.EntryDeposit,
		intent.TxRef, "topup", "Wallet topup via payment gateway",
		models.Metadata{"gateway_order_code": intent.GatewayOrderCode})
	if err != nil {
		// The intent stays pending so a later replay can complete it.
		return "", nil, fmt.Errorf("deposit credit failed for %s: %w", intent.TxRef, err)
	}

	now := time.Now()
	if _, err := tx.ExecContext(ctx, `
		UPDATE topup_intents SET status = $1, confirmed_at = $2 WHERE tx_ref = $3`,
		models.TopupStatusConfirmed, now, intent.TxRef); err != nil {
		return "", nil, err
	}

	if err := tx.Commit(); err != nil {
		return "", nil, err
	}

	intent.Status = models.TopupStatusConfirmed
	intent.ConfirmedAt = &now
	s.invalidateStatusCache(ctx, intent.TxRef)
	s.broadcastStatus(ctx, intent)
	log.Printf("[TOPUP] Credited %d to %s for %s", intent.Amount, intent.OwnerID, intent.TxRef)
	return ConfirmCredited, intent, nil
}

// lockIntent resolves the notification to an intent row: by tx_ref or
// gateway order code first, then by the reference token some gateways only
// echo back inside the free-text description.
func (s *TopupService) lockIntent(ctx context.Context, tx *sql.Tx, n GatewayNotification) (*models.TopupIntent, error) {
	if n.OrderCode != "" {
		intent, err := s.selectIntentForUpdate(ctx, tx, `
			SELECT tx_ref, owner_id, amount, status, COALESCE(gateway_order_code, ''), confirmed_at, created_at
			FROM topup_intents
			WHERE tx_ref = $1 OR gateway_order_code = $1
			FOR UPDATE`, n.OrderCode)
		if err == nil || err != sql.ErrNoRows {
			return intent, err
		}
	}

	token := ParseRefToken(n.Description)
	if token == "" {
		return nil, sql.ErrNoRows
	}
	return s.selectIntentForUpdate(ctx, tx, `
		SELECT tx_ref, owner_id, amount, status, COALESCE(gateway_order_code, ''), confirmed_at, created_at
		FROM topup_intents
		WHERE tx_ref = $1
		FOR UPDATE`, token)
}

func (s *TopupService) selectIntentForUpdate(ctx context.Context, tx *sql.Tx, query, key string) (*models.TopupIntent, error) {
	var intent models.TopupIntent
	err := tx.QueryRowContext(ctx, query, key).Scan(
		&intent.TxRef, &intent.OwnerID, &intent.Amount, &intent.Status,
		&intent.GatewayOrderCode, &intent.ConfirmedAt, &intent.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &intent, nil
}

// GetIntent fetches an intent by tx_ref, using a short redis cache for
// terminal statuses to absorb poll traffic.
func (s *TopupService) GetIntent(ctx context.Context, txRef string) (*models.TopupIntent, error) {
	if s.redis != nil {
		if data, err := s.redis.Get(ctx, topupStatusKey(txRef)).Bytes(); err == nil {
			var intent models.TopupIntent
			if json.Unmarshal(data, &intent) == nil {
				return &intent, nil
			}
		}
	}

	var intent models.TopupIntent
	err := s.db.QueryRowContext(ctx, `
		SELECT tx_ref, owner_id, amount, status, COALESCE(gateway_order_code, ''), confirmed_at, created_at
		FROM topup_intents
		WHERE tx_ref = $1`, txRef).Scan(
		&intent.TxRef, &intent.OwnerID, &intent.Amount, &intent.Status,
		&intent.GatewayOrderCode, &intent.ConfirmedAt, &intent.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if s.redis != nil && intent.Status != models.TopupStatusPending {
		if data, err := json.Marshal(&intent); err == nil {
			s.redis.Set(ctx, topupStatusKey(txRef), data, 5*time.Minute)
		}
	}
	return &intent, nil
}

func (s *TopupService) invalidateStatusCache(ctx context.Context, txRef string) {
	if s.redis != nil {
		s.redis.Del(ctx, topupStatusKey(txRef))
	}
}

func topupStatusKey(txRef string) string {
	return fmt.Sprintf("topup:status:%s", txRef)
}

func (s *TopupService) broadcastStatus(ctx context.Context, intent *models.TopupIntent) {
	s.broadcaster.Publish(ctx, intent.TxRef, Event{
		Type:      "topup." + string(intent.Status),
		Reference: intent.TxRef,
		Data: map[string]any{
			"owner_id": intent.OwnerID,
			"amount":   intent.Amount,
			"status":   intent.Status,
		},
	})
}

// HandleCreateTopup starts a wallet topup
// @Summary Create a topup
// @Description Create a topup intent and return the gateway redirect URL
// @Tags topups
// @Accept json
// @Produce json
// @Param topup body object{amount=int} true "Topup amount in minor units"
// @Success 201 {object} TopupResponse
// @Failure 400 {object} ErrorResponse
// @Router /topups [post]
func (s *TopupService) HandleCreateTopup(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		Amount int64 `json:"amount" validate:"required,gt=0"`
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	resp, err := s.CreateTopup(r.Context(), userID, req.Amount)
	if err != nil {
		log.Printf("[TOPUP] Create failed for %s: %v", userID, err)
		SendErrorResponse(w, "Failed to create topup", http.StatusBadGateway, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(resp)
}

// HandleGatewayWebhook consumes payment notifications
// @Summary Payment gateway webhook
// @Description Consume a pay/fail notification from the payment gateway
// @Tags topups
// @Accept json
// @Produce json
// @Success 200 {object} map[string]string
// @Failure 404 {object} ErrorResponse
// @Router /topups/webhook [post]
func (s *TopupService) HandleGatewayWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1_048_576))
	if err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	// Gateways disagree on field casing; accept both before normalizing.
	var raw struct {
		OrderCode   string `json:"orderCode"`
		OrderCode2  string `json:"order_code"`
		Description string `json:"description"`
		Status      string `json:"status"`
		Amount      int64  `json:"amount"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		SendErrorResponse(w, "Invalid notification payload", http.StatusBadRequest, nil)
		return
	}

	n := GatewayNotification{
		OrderCode:   raw.OrderCode,
		Description: raw.Description,
		Status:      raw.Status,
		Amount:      raw.Amount,
	}
	if n.OrderCode == "" {
		n.OrderCode = raw.OrderCode2
	}

	result, intent, err := s.Confirm(r.Context(), n)
	if err != nil {
		log.Printf("[TOPUP] Webhook processing failed: %v", err)
		SendErrorResponse(w, "Failed to process notification", http.StatusInternalServerError, nil)
		return
	}
	if result == ConfirmNotFound {
		SendErrorResponse(w, "Unknown transaction reference", http.StatusNotFound, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"result": string(result),
		"tx_ref": intent.TxRef,
	})
}

// GetTopupStatus polls an intent by reference
// @Summary Get topup status
// @Description Poll a topup intent by tx_ref; fallback for missed broadcasts
// @Tags topups
// @Produce json
// @Param txRef path string true "Transaction reference"
// @Success 200 {object} models.TopupIntent
// @Failure 404 {object} ErrorResponse
// @Router /topups/{txRef} [get]
func (s *TopupService) GetTopupStatus(w http.ResponseWriter, r *http.Request) {
	userID, _ := r.Context().Value("userID").(string)
	txRef := chi.URLParam(r, "txRef")

	intent, err := s.GetIntent(r.Context(), txRef)
	if err != nil {
		if err == ErrNotFound {
			SendErrorResponse(w, "Topup not found", http.StatusNotFound, nil)
		} else {
			SendErrorResponse(w, "Failed to fetch topup", http.StatusInternalServerError, nil)
		}
		return
	}

	role, _ := r.Context().Value("role").(string)
	if intent.OwnerID != userID && role != "admin" {
		SendErrorResponse(w, "Forbidden", http.StatusForbidden, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(intent)
}
