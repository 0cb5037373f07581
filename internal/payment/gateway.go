package payment

import (
	"context"
	"errors"
	"net/http"
)

// ChargeStatus is the gateway-reported status of a charge.
type ChargeStatus string

const (
	ChargeStatusPending   ChargeStatus = "PENDING"
	ChargeStatusSucceeded ChargeStatus = "SUCCEEDED"
	ChargeStatusDeclined  ChargeStatus = "DECLINED"
)

// ChargeIntent is the minimal response from opening a charge with the gateway.
type ChargeIntent struct {
	Reference    string
	ClientSecret string
}

// ChargeResult is the normalised outcome of a confirmation or status poll.
type ChargeResult struct {
	Status    ChargeStatus
	Reference string
}

// WebhookResult contains the normalised data extracted from a gateway
// notification after signature verification.
type WebhookResult struct {
	Valid           bool
	ChargeRef       string
	Amount          int64
	Status          ChargeStatus
	ProviderPayload []byte
	Err             error
}

// Gateway abstracts the external payment processor. All amounts crossing this
// boundary are integers in minor currency units. Calls block until the
// caller-supplied context expires; on an ambiguous outcome (timeout) no local
// state transition may be assumed and GetCharge is the authoritative poll.
type Gateway interface {
	CreateChargeIntent(ctx context.Context, amount int64, currency string) (ChargeIntent, error)
	ConfirmCharge(ctx context.Context, clientSecret, paymentMethod string) (ChargeResult, error)
	GetCharge(ctx context.Context, reference string) (ChargeResult, error)
	VerifyWebhook(r *http.Request, body []byte) (WebhookResult, error)
}

var (
	// ErrGatewayUnavailable indicates a transport failure talking to the
	// gateway; the caller may retry with backoff after polling GetCharge.
	ErrGatewayUnavailable = errors.New("payment: gateway unavailable")
	// ErrInvalidAmount indicates a zero or negative amount reached the gateway
	// path; this is a local bug, never retried.
	ErrInvalidAmount = errors.New("payment: invalid charge amount")
	// ErrPaymentDeclined is terminal for an intent; the payer must start over
	// with a new intent and payment method.
	ErrPaymentDeclined = errors.New("payment: charge declined")
	// ErrCannotCancelConfirmed rejects cancellation once a charge is confirmed.
	ErrCannotCancelConfirmed = errors.New("payment: cannot cancel a confirmed intent")
	// ErrPersistenceFailure marks a settlement write that failed after the
	// charge already succeeded; the intent stays confirmed and is reconciled.
	ErrPersistenceFailure = errors.New("payment: persistence failed after successful charge")
	// ErrAmountMismatch rejects a webhook whose reported amount disagrees with
	// the quoted total for the charge.
	ErrAmountMismatch = errors.New("payment: gateway amount mismatch")
)
