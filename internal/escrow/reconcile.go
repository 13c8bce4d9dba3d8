package escrow

import (
	"strconv"
	"time"

	"github.com/agribazaar/agribazaar-golang/internal/models"
)

// Provider webhook event types the reconciliation engine understands.
// Anything else is acknowledged and skipped.
const (
	EventPaymentSucceeded = "payment_intent.succeeded"
	EventPaymentFailed    = "payment_intent.payment_failed"
	EventChargeRefunded   = "charge.refunded"
	EventTransferPaid     = "transfer.paid"
)

// PaymentEvent is a normalized provider event, keyed by the provider's
// payment/transfer id. The id is the idempotency key: replays of an event
// against an already-terminal entry are no-ops.
type PaymentEvent struct {
	Type       string
	ProviderID string // payment intent id, or transfer id for transfer.paid

	FailureCode    string
	FailureMessage string
	RefundID       string
	RefundAmount   int64
	TransferID     string // the provider transfer, for transfer.paid
}

// ApplyPaymentEvent advances a single ledger entry for one provider event.
// It is a pure reducer, safe to run twice: the returned bool reports
// whether the entry actually changed. Delivery is at-least-once and
// out-of-order across event types, so transfer.paid may arrive before
// payment_intent.succeeded; a released entry then treats the late success
// as a replay.
func ApplyPaymentEvent(entry *models.TransferRecord, ev PaymentEvent, now time.Time) bool {
	if entry.Terminal() {
		return false
	}

	switch ev.Type {
	case EventPaymentSucceeded:
		if entry.Status != models.TransferPending && entry.Status != models.TransferProcessing {
			return false
		}
		entry.Status = models.TransferCompleted
		entry.SetMeta("payment_intent_status", "succeeded")

	case EventPaymentFailed:
		if entry.Status != models.TransferPending && entry.Status != models.TransferProcessing {
			return false
		}
		entry.Status = models.TransferFailed
		if ev.FailureCode != "" {
			entry.SetMeta("failure_code", ev.FailureCode)
		}
		if ev.FailureMessage != "" {
			entry.SetMeta("failure_message", ev.FailureMessage)
		}

	case EventChargeRefunded:
		// Any non-terminal entry can be refunded.
		entry.Status = models.TransferRefunded
		if ev.RefundID != "" {
			entry.SetMeta("refund_id", ev.RefundID)
		}
		if ev.RefundAmount > 0 {
			entry.SetMeta("refund_amount", strconv.FormatInt(ev.RefundAmount, 10))
		}

	case EventTransferPaid:
		entry.Status = models.TransferReleased
		if ev.TransferID != "" {
			entry.TransferID = ev.TransferID
			entry.SetMeta("stripe_transfer_id", ev.TransferID)
		}
		entry.SetMeta("released_at", now.UTC().Format(time.RFC3339))

	default:
		return false
	}

	entry.SetMeta("last_event", ev.Type)
	entry.UpdatedAt = now
	return true
}
