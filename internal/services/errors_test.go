package services

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusForError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"insufficient funds", &InsufficientFundsError{OwnerID: "p", Balance: 10, Amount: -50}, http.StatusPaymentRequired},
		{"wrapped insufficient funds", fmt.Errorf("round start aborted: %w", &InsufficientFundsError{}), http.StatusPaymentRequired},
		{"not found", fmt.Errorf("room x: %w", ErrNotFound), http.StatusNotFound},
		{"forbidden", ErrForbidden, http.StatusForbidden},
		{"duplicate operation", ErrDuplicateOperation, http.StatusConflict},
		{"already settled", ErrAlreadySettled, http.StatusConflict},
		{"invalid state transition", ErrInvalidStateTransition, http.StatusConflict},
		{"invalid winner", ErrInvalidWinner, http.StatusBadRequest},
		{"anything else", errors.New("pq: broken pipe"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StatusForError(tt.err))
		})
	}
}

func TestInsufficientFundsError_Message(t *testing.T) {
	err := &InsufficientFundsError{OwnerID: "player1", Balance: 200, Amount: -1000}
	assert.Equal(t, "insufficient funds for player1: balance 200, need 1000", err.Error())
}
