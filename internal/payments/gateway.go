package payments

import (
	"context"
	"encoding/json"
	"fmt"
)

// Payment intent statuses as reported by the provider. The confirm path
// switches on these to drive a hold to a terminal state.
const (
	IntentSucceeded             = "succeeded"
	IntentProcessing            = "processing"
	IntentRequiresCapture       = "requires_capture"
	IntentRequiresPaymentMethod = "requires_payment_method"
	IntentRequiresAction        = "requires_action"
	IntentRequiresConfirmation  = "requires_confirmation"
	IntentCanceled              = "canceled"
)

// EscrowChargeRequest describes one per-seller payment hold.
type EscrowChargeRequest struct {
	Amount             float64 // major units; converted at the boundary
	Currency           string
	CustomerID         string
	DestinationAccount string
	Description        string
	Metadata           map[string]string
}

// Hold is a created payment hold plus the client-side confirmation handle.
type Hold struct {
	ID             string `json:"id"`
	ClientSecret   string `json:"clientSecret"`
	Amount         int64  `json:"amount"` // minor units, as the provider sees it
	Currency       string `json:"currency"`
	Status         string `json:"status"`
	RequiresAction bool   `json:"requiresAction"`
}

// Intent is a provider-side view of a hold's current state.
type Intent struct {
	ID              string
	Status          string
	Amount          int64
	AmountReceived  int64
	Currency        string
	PaymentMethodID string
	LatestChargeID  string
	FailureCode     string
	FailureMessage  string
}

// ReleaseRequest asks for a payout transfer of held funds to a seller.
type ReleaseRequest struct {
	PaymentIntentID    string
	DestinationAccount string
	Amount             float64 // major units
	Currency           string
	Metadata           map[string]string
}

// ReleaseOutcome reports a completed payout transfer.
type ReleaseOutcome struct {
	TransferID string
	Amount     int64 // minor units
	Currency   string
}

// RefundOutcome reports a refund (or a voided authorization, when the hold
// had not been captured yet).
type RefundOutcome struct {
	ID       string
	Status   string
	Canceled bool
}

// WebhookEvent is a verified inbound provider event. Object is the raw
// event payload (the provider's data.object).
type WebhookEvent struct {
	ID     string
	Type   string
	Object json.RawMessage
}

// Gateway wraps the external split-payment provider. It holds no state of
// its own: pure request/response mapping with currency-unit normalization.
type Gateway interface {
	CreateCustomer(ctx context.Context, email, name string, metadata map[string]string) (string, error)
	CreateEscrowCharge(ctx context.Context, req EscrowChargeRequest) (*Hold, error)
	RetrievePaymentIntent(ctx context.Context, id string) (*Intent, error)
	ConfirmPaymentIntent(ctx context.Context, id, paymentMethodID string) (*Intent, error)
	CapturePaymentIntent(ctx context.Context, id string) (*Intent, error)
	ReleaseEscrowFunds(ctx context.Context, req ReleaseRequest) (*ReleaseOutcome, error)
	RefundEscrowPayment(ctx context.Context, paymentIntentID, reason string) (*RefundOutcome, error)
	VerifyWebhook(payload []byte, sigHeader string) (*WebhookEvent, error)
}

// GatewayError preserves the provider's error code and message for
// diagnostics while keeping the raw provider error wrapped underneath.
type GatewayError struct {
	Op   string
	Code string
	Msg  string
	Err  error
}

func (e *GatewayError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: [%s] %s", e.Op, e.Code, e.Msg)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Msg)
}

func (e *GatewayError) Unwrap() error { return e.Err }
