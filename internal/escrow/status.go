package escrow

import "github.com/agribazaar/agribazaar-golang/internal/models"

// DerivePaymentStatus recomputes the order-level payment status from the
// full set of ledger entries. It is the only way paymentStatus is derived:
// every call site that mutates a ledger entry runs this afterwards, inside
// the same transaction, so the aggregate can never drift from the entries.
//
// An open dispute overrides normal progression until resolved. Mixtures
// the rules don't name (e.g. one failed, one completed) stay pending.
func DerivePaymentStatus(entries []models.TransferRecord, disputeOpen bool) string {
	if disputeOpen {
		return models.PaymentDisputed
	}
	if len(entries) == 0 {
		return models.PaymentPending
	}

	allReleased := true
	allRefunded := true
	allFailed := true
	allSettled := true // every entry at least completed, none failed/refunded

	for _, e := range entries {
		if e.Status != models.TransferReleased {
			allReleased = false
		}
		if e.Status != models.TransferRefunded {
			allRefunded = false
		}
		if e.Status != models.TransferFailed {
			allFailed = false
		}
		if e.Status != models.TransferCompleted && e.Status != models.TransferReleased {
			allSettled = false
		}
	}

	switch {
	case allReleased:
		return models.PaymentReleased
	case allRefunded:
		return models.PaymentRefunded
	case allFailed:
		return models.PaymentFailed
	case allSettled:
		return models.PaymentHeldInEscrow
	default:
		return models.PaymentPending
	}
}

// DeriveOrderStatus maps a freshly derived payment status to the order's
// fulfillment status where the two are linked: a fully held order is
// confirmed, a fully failed or refunded one is cancelled. Any other
// combination leaves the current status untouched.
func DeriveOrderStatus(current, paymentStatus string) string {
	switch paymentStatus {
	case models.PaymentHeldInEscrow:
		if current == models.OrderPending {
			return models.OrderConfirmed
		}
	case models.PaymentFailed, models.PaymentRefunded:
		return models.OrderCancelled
	}
	return current
}
