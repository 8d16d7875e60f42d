package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// CheckoutRequest is the outbound payment-link request the core hands to the
// gateway. TxRef is caller-supplied and unique; the description embeds it as
// a token because some gateways only echo free text back on notification.
type CheckoutRequest struct {
	TxRef       string `json:"tx_ref"`
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
}

// CheckoutSession is the validated, fixed response shape of a checkout call.
// Untyped gateway fields are normalized here and never enter the core.
type CheckoutSession struct {
	OrderCode   string `json:"order_code"`
	RedirectURL string `json:"redirect_url"`
}

// PaymentGateway is the narrow outbound boundary to the external payment
// provider. Everything protocol-specific stays behind it.
type PaymentGateway interface {
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
}

// GatewayNotification is the normalized inbound pay/fail notification.
// Delivery is at-least-once and may repeat or arrive out of order.
type GatewayNotification struct {
	OrderCode   string `json:"order_code"`
	Description string `json:"description"`
	Status      string `json:"status"`
	Amount      int64  `json:"amount"`
}

// Paid reports whether the notification signals a successful payment.
func (n GatewayNotification) Paid() bool {
	switch strings.ToUpper(n.Status) {
	case "PAID", "SUCCESS", "COMPLETED":
		return true
	}
	return false
}

// Failed reports whether the notification is a terminal failure signal.
func (n GatewayNotification) Failed() bool {
	switch strings.ToUpper(n.Status) {
	case "FAILED", "CANCELLED", "EXPIRED":
		return true
	}
	return false
}

// refTokenPattern matches the reference token embedded in checkout
// descriptions, e.g. "Wallet topup arenapay:2f1e...".
var refTokenPattern = regexp.MustCompile(`arenapay:([0-9a-fA-F-]{8,})`)

// RefToken formats a tx_ref as the description-embedded token.
func RefToken(txRef string) string {
	return "arenapay:" + txRef
}

// ParseRefToken extracts a tx_ref from free-text gateway descriptions.
// Returns "" when no token is present.
func ParseRefToken(description string) string {
	m := refTokenPattern.FindStringSubmatch(description)
	if m == nil {
		return ""
	}
	return m[1]
}

// HTTPGateway talks to the provider's checkout endpoint over HTTPS.
type HTTPGateway struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPGateway reads gateway settings from viper config.
func NewHTTPGateway() *HTTPGateway {
	viper.SetDefault("gateway.base_url", "https://gateway.example.com")
	viper.SetDefault("gateway.timeout", 15*time.Second)

	return &HTTPGateway{
		baseURL: strings.TrimRight(viper.GetString("gateway.base_url"), "/"),
		apiKey:  viper.GetString("gateway.api_key"),
		client:  &http.Client{Timeout: viper.GetDuration("gateway.timeout")},
	}
}

func (g *HTTPGateway) CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/checkout", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gateway checkout request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("gateway checkout returned status %d", resp.StatusCode)
	}

	// The provider response is loosely typed; pick out the fields the core
	// needs and reject anything incomplete at this boundary.
	var raw struct {
		OrderCode   string `json:"orderCode"`
		CheckoutURL string `json:"checkoutUrl"`
		PaymentURL  string `json:"paymentUrl"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("gateway checkout response malformed: %w", err)
	}

	redirect := raw.CheckoutURL
	if redirect == "" {
		redirect = raw.PaymentURL
	}
	if raw.OrderCode == "" || redirect == "" {
		return nil, fmt.Errorf("gateway checkout response missing order code or redirect URL")
	}

	return &CheckoutSession{OrderCode: raw.OrderCode, RedirectURL: redirect}, nil
}
