package payments

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	stripe "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

// PlatformFeePercent is the platform's cut, recorded in hold metadata at
// charge time for later settlement reporting.
const PlatformFeePercent = 0.05

// StripeGateway implements Gateway against the Stripe API.
type StripeGateway struct {
	api           *client.API
	webhookSecret string
	logger        zerolog.Logger
}

// NewStripeGateway builds a gateway from the platform secret key and the
// webhook signing secret.
func NewStripeGateway(secretKey, webhookSecret string, logger zerolog.Logger) *StripeGateway {
	api := &client.API{}
	api.Init(secretKey, nil)
	return &StripeGateway{
		api:           api,
		webhookSecret: webhookSecret,
		logger:        logger,
	}
}

func wrapStripeErr(op string, err error) error {
	var sErr *stripe.Error
	if errors.As(err, &sErr) {
		return &GatewayError{Op: op, Code: string(sErr.Code), Msg: sErr.Msg, Err: err}
	}
	return &GatewayError{Op: op, Msg: err.Error(), Err: err}
}

// CreateCustomer registers the buyer with the provider so the same card can
// be reused across multiple intents.
func (g *StripeGateway) CreateCustomer(ctx context.Context, email, name string, metadata map[string]string) (string, error) {
	params := &stripe.CustomerParams{
		Email: stripe.String(email),
		Name:  stripe.String(name),
	}
	params.Context = ctx
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}

	cust, err := g.api.Customers.New(params)
	if err != nil {
		return "", wrapStripeErr("create customer", err)
	}
	return cust.ID, nil
}

// CreateEscrowCharge creates an unconfirmed payment intent for one seller's
// portion of an order. The funds land on the platform balance once the
// buyer confirms; the payout transfer to the seller happens at release.
func (g *StripeGateway) CreateEscrowCharge(ctx context.Context, req EscrowChargeRequest) (*Hold, error) {
	amountMinor := MinorUnits(req.Amount, req.Currency)
	feeMinor := int64(float64(amountMinor) * PlatformFeePercent)

	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(amountMinor),
		Currency:           stripe.String(req.Currency),
		Customer:           stripe.String(req.CustomerID),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		CaptureMethod:      stripe.String(string(stripe.PaymentIntentCaptureMethodAutomatic)),
		Description:        stripe.String(req.Description),
	}
	params.Context = ctx
	params.SetIdempotencyKey(uuid.NewString())
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	params.AddMetadata("is_escrow", "true")
	params.AddMetadata("seller_account", req.DestinationAccount)
	params.AddMetadata("platform_fee", strconv.FormatInt(feeMinor, 10))

	intent, err := g.api.PaymentIntents.New(params)
	if err != nil {
		return nil, wrapStripeErr("create escrow charge", err)
	}

	return &Hold{
		ID:           intent.ID,
		ClientSecret: intent.ClientSecret,
		Amount:       intent.Amount,
		Currency:     string(intent.Currency),
		Status:       string(intent.Status),
		RequiresAction: intent.Status == stripe.PaymentIntentStatusRequiresAction ||
			intent.Status == stripe.PaymentIntentStatusRequiresPaymentMethod,
	}, nil
}

func intentFromStripe(pi *stripe.PaymentIntent) *Intent {
	out := &Intent{
		ID:             pi.ID,
		Status:         string(pi.Status),
		Amount:         pi.Amount,
		AmountReceived: pi.AmountReceived,
		Currency:       string(pi.Currency),
	}
	if pi.PaymentMethod != nil {
		out.PaymentMethodID = pi.PaymentMethod.ID
	}
	if pi.LatestCharge != nil {
		out.LatestChargeID = pi.LatestCharge.ID
	}
	if pi.LastPaymentError != nil {
		out.FailureCode = string(pi.LastPaymentError.Code)
		out.FailureMessage = pi.LastPaymentError.Msg
	}
	return out
}

// RetrievePaymentIntent fetches the live state of a hold.
func (g *StripeGateway) RetrievePaymentIntent(ctx context.Context, id string) (*Intent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := g.api.PaymentIntents.Get(id, params)
	if err != nil {
		return nil, wrapStripeErr("retrieve payment intent", err)
	}
	return intentFromStripe(pi), nil
}

// ConfirmPaymentIntent confirms a hold off-session with the buyer's saved
// payment method.
func (g *StripeGateway) ConfirmPaymentIntent(ctx context.Context, id, paymentMethodID string) (*Intent, error) {
	params := &stripe.PaymentIntentConfirmParams{
		OffSession: stripe.Bool(true),
	}
	if paymentMethodID != "" {
		params.PaymentMethod = stripe.String(paymentMethodID)
	}
	params.Context = ctx
	pi, err := g.api.PaymentIntents.Confirm(id, params)
	if err != nil {
		return nil, wrapStripeErr("confirm payment intent", err)
	}
	return intentFromStripe(pi), nil
}

// CapturePaymentIntent captures a hold awaiting capture.
func (g *StripeGateway) CapturePaymentIntent(ctx context.Context, id string) (*Intent, error) {
	params := &stripe.PaymentIntentCaptureParams{}
	params.Context = ctx
	pi, err := g.api.PaymentIntents.Capture(id, params)
	if err != nil {
		return nil, wrapStripeErr("capture payment intent", err)
	}
	return intentFromStripe(pi), nil
}

// ReleaseEscrowFunds moves held funds to the seller's connected account:
// capture the hold if it is still awaiting capture, verify the destination
// account can receive payouts, then create the transfer.
func (g *StripeGateway) ReleaseEscrowFunds(ctx context.Context, req ReleaseRequest) (*ReleaseOutcome, error) {
	piParams := &stripe.PaymentIntentParams{}
	piParams.Context = ctx
	pi, err := g.api.PaymentIntents.Get(req.PaymentIntentID, piParams)
	if err != nil {
		return nil, wrapStripeErr("retrieve payment intent", err)
	}

	if pi.Status == stripe.PaymentIntentStatusRequiresCapture {
		capParams := &stripe.PaymentIntentCaptureParams{}
		capParams.Context = ctx
		if pi, err = g.api.PaymentIntents.Capture(req.PaymentIntentID, capParams); err != nil {
			return nil, wrapStripeErr("capture payment intent", err)
		}
	}

	acctParams := &stripe.AccountParams{}
	acctParams.Context = ctx
	acct, err := g.api.Accounts.GetByID(req.DestinationAccount, acctParams)
	if err != nil {
		return nil, wrapStripeErr("retrieve seller account", err)
	}
	if !acct.ChargesEnabled || !acct.PayoutsEnabled {
		return nil, &GatewayError{
			Op:  "release escrow funds",
			Msg: fmt.Sprintf("account %s is not fully set up to receive payments", req.DestinationAccount),
		}
	}

	currency := string(pi.Currency)
	if currency == "" {
		currency = req.Currency
	}

	transferParams := &stripe.TransferParams{
		Amount:        stripe.Int64(MinorUnits(req.Amount, currency)),
		Currency:      stripe.String(currency),
		Destination:   stripe.String(req.DestinationAccount),
		TransferGroup: stripe.String("ORDER_" + req.Metadata["order_id"]),
		Description:   stripe.String("Escrow release for order " + req.Metadata["order_id"]),
	}
	if pi.LatestCharge != nil {
		transferParams.SourceTransaction = stripe.String(pi.LatestCharge.ID)
	}
	transferParams.Context = ctx
	transferParams.SetIdempotencyKey(uuid.NewString())
	for k, v := range req.Metadata {
		transferParams.AddMetadata(k, v)
	}
	transferParams.AddMetadata("payment_intent", req.PaymentIntentID)
	transferParams.AddMetadata("is_escrow_transfer", "true")

	tr, err := g.api.Transfers.New(transferParams)
	if err != nil {
		return nil, wrapStripeErr("create transfer", err)
	}

	g.logger.Info().
		Str("transfer_id", tr.ID).
		Str("destination", req.DestinationAccount).
		Int64("amount", tr.Amount).
		Msg("released escrow funds to seller")

	return &ReleaseOutcome{
		TransferID: tr.ID,
		Amount:     tr.Amount,
		Currency:   string(tr.Currency),
	}, nil
}

// RefundEscrowPayment returns held funds to the buyer. Voids the
// authorization when the hold was never captured; refunds the charge
// otherwise.
func (g *StripeGateway) RefundEscrowPayment(ctx context.Context, paymentIntentID, reason string) (*RefundOutcome, error) {
	cancelParams := &stripe.PaymentIntentCancelParams{
		CancellationReason: stripe.String("requested_by_customer"),
	}
	cancelParams.Context = ctx
	if voided, err := g.api.PaymentIntents.Cancel(paymentIntentID, cancelParams); err == nil {
		if voided.Status == stripe.PaymentIntentStatusCanceled {
			return &RefundOutcome{ID: voided.ID, Status: string(voided.Status), Canceled: true}, nil
		}
	} else {
		g.logger.Debug().Err(err).Str("payment_intent", paymentIntentID).
			Msg("cannot void authorization, processing refund instead")
	}

	refundParams := &stripe.RefundParams{
		PaymentIntent: stripe.String(paymentIntentID),
		Reason:        stripe.String(string(stripe.RefundReasonRequestedByCustomer)),
	}
	refundParams.Context = ctx
	refundParams.SetIdempotencyKey(uuid.NewString())
	refundParams.AddMetadata("reason", reason)

	ref, err := g.api.Refunds.New(refundParams)
	if err != nil {
		return nil, wrapStripeErr("refund escrow payment", err)
	}
	return &RefundOutcome{ID: ref.ID, Status: string(ref.Status)}, nil
}

// VerifyWebhook checks the inbound event signature against the shared
// secret and returns the verified event.
func (g *StripeGateway) VerifyWebhook(payload []byte, sigHeader string) (*WebhookEvent, error) {
	event, err := webhook.ConstructEvent(payload, sigHeader, g.webhookSecret)
	if err != nil {
		return nil, fmt.Errorf("invalid webhook signature: %w", err)
	}
	return &WebhookEvent{
		ID:     event.ID,
		Type:   string(event.Type),
		Object: event.Data.Raw,
	}, nil
}
