package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRefToken(t *testing.T) {
	token := RefToken("2f1e4a88-0000-4000-8000-000000000001")
	assert.Equal(t, "arenapay:2f1e4a88-0000-4000-8000-000000000001", token)
	assert.Equal(t, "2f1e4a88-0000-4000-8000-000000000001", ParseRefToken(token))
}

func TestParseRefToken(t *testing.T) {
	tests := []struct {
		name        string
		description string
		want        string
	}{
		{"embedded in free text", "Wire transfer arenapay:abc12345 thanks", "abc12345"},
		{"full uuid", "ref arenapay:2f1e4a88-0000-4000-8000-000000000001", "2f1e4a88-0000-4000-8000-000000000001"},
		{"no token", "regular payment description", ""},
		{"empty description", "", ""},
		{"token too short", "see arenapay:ab12", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseRefToken(tt.description))
		})
	}
}

func TestGatewayNotification_StatusChecks(t *testing.T) {
	assert.True(t, GatewayNotification{Status: "PAID"}.Paid())
	assert.True(t, GatewayNotification{Status: "success"}.Paid())
	assert.True(t, GatewayNotification{Status: "Completed"}.Paid())
	assert.False(t, GatewayNotification{Status: "PENDING"}.Paid())

	assert.True(t, GatewayNotification{Status: "FAILED"}.Failed())
	assert.True(t, GatewayNotification{Status: "cancelled"}.Failed())
	assert.True(t, GatewayNotification{Status: "Expired"}.Failed())
	assert.False(t, GatewayNotification{Status: "PAID"}.Failed())
}

func TestHTTPGateway_CreateCheckout(t *testing.T) {
	newGateway := func(url string) *HTTPGateway {
		return &HTTPGateway{
			baseURL: url,
			apiKey:  "test-key",
			client:  &http.Client{Timeout: 5 * time.Second},
		}
	}

	t.Run("normalizes a checkoutUrl response", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1/checkout", r.URL.Path)
			assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

			var req CheckoutRequest
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, int64(5000), req.Amount)

			json.NewEncoder(w).Encode(map[string]any{
				"orderCode":   "OC-42",
				"checkoutUrl": "https://pay.example/OC-42",
			})
		}))
		defer server.Close()

		session, err := newGateway(server.URL).CreateCheckout(context.Background(), CheckoutRequest{
			TxRef:  "ref-1",
			Amount: 5000,
		})
		assert.NoError(t, err)
		assert.Equal(t, "OC-42", session.OrderCode)
		assert.Equal(t, "https://pay.example/OC-42", session.RedirectURL)
	})

	t.Run("falls back to paymentUrl", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{
				"orderCode":  "OC-43",
				"paymentUrl": "https://pay.example/alt",
			})
		}))
		defer server.Close()

		session, err := newGateway(server.URL).CreateCheckout(context.Background(), CheckoutRequest{Amount: 100})
		assert.NoError(t, err)
		assert.Equal(t, "https://pay.example/alt", session.RedirectURL)
	})

	t.Run("incomplete response is rejected", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{"checkoutUrl": "https://pay.example/x"})
		}))
		defer server.Close()

		_, err := newGateway(server.URL).CreateCheckout(context.Background(), CheckoutRequest{Amount: 100})
		assert.ErrorContains(t, err, "missing order code")
	})

	t.Run("provider error status fails the call", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer server.Close()

		_, err := newGateway(server.URL).CreateCheckout(context.Background(), CheckoutRequest{Amount: 100})
		assert.ErrorContains(t, err, "status 502")
	})
}
