package services

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound               = errors.New("not found")
	ErrForbidden              = errors.New("forbidden")
	ErrDuplicateOperation     = errors.New("duplicate operation")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrAlreadySettled         = errors.New("match already settled")
	ErrInvalidWinner          = errors.New("winner is not an active match participant")

	// ErrIntegrityViolation marks pool accounting that failed its own
	// conservation check. Unreachable unless the math is broken.
	ErrIntegrityViolation = errors.New("integrity violation")
)

// InsufficientFundsError is returned when a debit would push a wallet
// negative. The balance is never clamped.
type InsufficientFundsError struct {
	OwnerID string
	Balance int64
	Amount  int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds for %s: balance %d, need %d", e.OwnerID, e.Balance, -e.Amount)
}

// StatusForError maps the service error taxonomy to HTTP status codes.
func StatusForError(err error) int {
	var insufficient *InsufficientFundsError
	switch {
	case errors.As(err, &insufficient):
		return http.StatusPaymentRequired
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrDuplicateOperation),
		errors.Is(err, ErrAlreadySettled),
		errors.Is(err, ErrInvalidStateTransition):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidWinner):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
