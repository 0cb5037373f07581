package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/hangarshare/backend-hangar/internal/resilience"
)

// Stripe implements Gateway against a Stripe-style charge API. When Sandbox is
// set no network call is made: references and secrets are synthesised
// deterministically so integration tests can drive the full lifecycle, the
// same approach the production webhook path is verified with. Live mode routes
// every call through the resilient HTTP client so transient gateway failures
// get retries and circuit breaking.
type Stripe struct {
	SecretKey     string
	WebhookSecret string
	BaseURL       string
	Sandbox       bool
	HTTP          *resilience.HTTPClient

	// DeclineSecrets lists client secrets the sandbox reports as declined.
	DeclineSecrets map[string]bool

	mu      sync.Mutex
	charges map[string]ChargeStatus
}

// CreateChargeIntent opens a charge for the given amount in minor units.
func (g *Stripe) CreateChargeIntent(ctx context.Context, amount int64, currency string) (ChargeIntent, error) {
	if amount <= 0 {
		return ChargeIntent{}, fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}
	if strings.TrimSpace(currency) == "" {
		return ChargeIntent{}, errors.New("payment: currency is required")
	}
	if !g.Sandbox {
		var out struct {
			ID           string `json:"id"`
			ClientSecret string `json:"client_secret"`
		}
		payload := map[string]any{"amount": amount, "currency": strings.ToLower(currency)}
		if err := g.call(ctx, http.MethodPost, "/v1/charges", payload, &out); err != nil {
			return ChargeIntent{}, err
		}
		return ChargeIntent{Reference: out.ID, ClientSecret: out.ClientSecret}, nil
	}
	ref := "ch_" + uuid.NewString()
	intent := ChargeIntent{
		Reference:    ref,
		ClientSecret: ref + "_secret_" + uuid.NewString()[:8],
	}
	g.track(ref, ChargeStatusPending)
	return intent, nil
}

// ConfirmCharge resolves a charge to succeeded or declined.
func (g *Stripe) ConfirmCharge(ctx context.Context, clientSecret, paymentMethod string) (ChargeResult, error) {
	if strings.TrimSpace(clientSecret) == "" {
		return ChargeResult{}, errors.New("payment: client secret is required")
	}
	ref := referenceFromSecret(clientSecret)
	if !g.Sandbox {
		var out struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		}
		payload := map[string]any{"payment_method": paymentMethod}
		if err := g.call(ctx, http.MethodPost, "/v1/charges/"+ref+"/confirm", payload, &out); err != nil {
			return ChargeResult{}, err
		}
		return ChargeResult{Status: normaliseChargeStatus(out.Status), Reference: out.ID}, nil
	}
	status := ChargeStatusSucceeded
	if g.DeclineSecrets[clientSecret] || strings.Contains(paymentMethod, "declined") {
		status = ChargeStatusDeclined
	}
	g.track(ref, status)
	return ChargeResult{Status: status, Reference: ref}, nil
}

// GetCharge reports the last known status for a reference. Callers poll this
// after an ambiguous timeout before retrying a create, to avoid double
// charging.
func (g *Stripe) GetCharge(ctx context.Context, reference string) (ChargeResult, error) {
	if !g.Sandbox {
		var out struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		}
		if err := g.call(ctx, http.MethodGet, "/v1/charges/"+reference, nil, &out); err != nil {
			return ChargeResult{}, err
		}
		return ChargeResult{Status: normaliseChargeStatus(out.Status), Reference: out.ID}, nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	status, ok := g.charges[reference]
	if !ok {
		return ChargeResult{}, fmt.Errorf("payment: unknown charge %q", reference)
	}
	return ChargeResult{Status: status, Reference: reference}, nil
}

// call performs one live API request through the resilient client.
func (g *Stripe) call(ctx context.Context, method, path string, payload any, out any) error {
	if g.HTTP == nil {
		return fmt.Errorf("%w: live mode requires an http client", ErrGatewayUnavailable)
	}
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(g.BaseURL, "/")+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+g.SecretKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.HTTP.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: %s: %s", ErrGatewayUnavailable, resp.Status, strings.TrimSpace(string(data)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// VerifyWebhook validates the HMAC signature and normalises the payload.
func (g *Stripe) VerifyWebhook(_ *http.Request, body []byte) (WebhookResult, error) {
	var payload struct {
		ChargeRef string `json:"charge_ref"`
		Amount    int64  `json:"amount"`
		Status    string `json:"status"`
		Signature string `json:"signature"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return WebhookResult{Valid: false, Err: err}, nil
	}
	if payload.ChargeRef == "" {
		return WebhookResult{Valid: false, Err: errors.New("missing charge reference")}, nil
	}
	expected := g.computeSignature(payload.ChargeRef, payload.Amount, payload.Status)
	provided := strings.TrimSpace(payload.Signature)
	if expected == "" || provided == "" || !hmac.Equal([]byte(expected), []byte(provided)) {
		return WebhookResult{Valid: false, Err: errors.New("invalid signature")}, nil
	}
	return WebhookResult{
		Valid:           true,
		ChargeRef:       payload.ChargeRef,
		Amount:          payload.Amount,
		Status:          normaliseChargeStatus(payload.Status),
		ProviderPayload: body,
	}, nil
}

// SignPayload produces a webhook signature for the given fields. Exposed for
// tests and the sandbox event generator.
func (g *Stripe) SignPayload(chargeRef string, amount int64, status string) string {
	return g.computeSignature(chargeRef, amount, status)
}

func (g *Stripe) computeSignature(chargeRef string, amount int64, status string) string {
	key := strings.TrimSpace(g.WebhookSecret)
	if key == "" {
		return ""
	}
	mac := hmac.New(sha512.New, []byte(key))
	mac.Write([]byte(chargeRef))
	mac.Write([]byte(fmt.Sprintf("%d", amount)))
	mac.Write([]byte(status))
	mac.Write([]byte(key))
	return hex.EncodeToString(mac.Sum(nil))
}

func (g *Stripe) track(ref string, status ChargeStatus) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.charges == nil {
		g.charges = map[string]ChargeStatus{}
	}
	g.charges[ref] = status
}

func referenceFromSecret(clientSecret string) string {
	if idx := strings.Index(clientSecret, "_secret_"); idx > 0 {
		return clientSecret[:idx]
	}
	return clientSecret
}

func normaliseChargeStatus(status string) ChargeStatus {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "succeeded", "paid", "captured":
		return ChargeStatusSucceeded
	case "declined", "failed", "canceled":
		return ChargeStatusDeclined
	default:
		return ChargeStatusPending
	}
}
