package handlers

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/agribazaar/agribazaar-golang/internal/escrow"
	"github.com/agribazaar/agribazaar-golang/internal/models"
)

//
// --- Payment Provider Webhook ---
//

// StripeWebhook is the handler for POST /v1/webhooks/stripe
//
// Delivery is at-least-once and unordered, so processing has to be
// idempotent: the ledger reducer refuses to move terminal entries and
// reports no-ops, and a replayed event simply acknowledges. A processing
// failure returns 500 so the provider retries; a bad signature is the
// only 400.
func (h *Handlers) StripeWebhook(c *gin.Context) {
	payload, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read request body"})
		return
	}

	event, err := h.Gateway.VerifyWebhook(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		h.Logger.Warn().Err(err).Msg("Webhook signature verification failed")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid webhook signature"})
		return
	}

	paymentEvent, ok := parseProviderEvent(event.Type, event.Object)
	if !ok {
		// Not an event we reconcile; acknowledge so it isn't retried.
		c.JSON(http.StatusOK, gin.H{"received": true, "status": "skipped"})
		return
	}

	orderID, err := findOrderIDByProviderID(h.DB, paymentEvent.ProviderID)
	if err != nil {
		if err == sql.ErrNoRows {
			// An intent we never created (another environment, or a
			// non-escrow charge). Acknowledge and move on.
			h.Logger.Info().Str("event", event.Type).Str("provider_id", paymentEvent.ProviderID).
				Msg("Webhook for unknown payment object, ignoring")
			c.JSON(http.StatusOK, gin.H{"received": true, "status": "unmatched"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to resolve order"})
		return
	}

	changed, err := h.reconcileOrder(c, orderID, paymentEvent)
	if err != nil {
		h.Logger.Error().Err(err).Int64("order_id", orderID).Str("event", event.Type).
			Msg("Webhook reconciliation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process event"})
		return
	}

	h.Logger.Info().
		Str("event", event.Type).
		Str("provider_id", paymentEvent.ProviderID).
		Int64("order_id", orderID).
		Bool("changed", changed).
		Msg("Webhook processed")

	c.JSON(http.StatusOK, gin.H{"received": true, "orderId": orderID, "changed": changed})
}

// parseProviderEvent normalizes a raw provider event into a ledger event.
// The second return is false for event types we do not reconcile.
func parseProviderEvent(eventType string, object json.RawMessage) (escrow.PaymentEvent, bool) {
	switch eventType {
	case escrow.EventPaymentSucceeded:
		var pi struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(object, &pi); err != nil || pi.ID == "" {
			return escrow.PaymentEvent{}, false
		}
		return escrow.PaymentEvent{Type: eventType, ProviderID: pi.ID}, true

	case escrow.EventPaymentFailed:
		var pi struct {
			ID               string `json:"id"`
			LastPaymentError struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"last_payment_error"`
		}
		if err := json.Unmarshal(object, &pi); err != nil || pi.ID == "" {
			return escrow.PaymentEvent{}, false
		}
		return escrow.PaymentEvent{
			Type:           eventType,
			ProviderID:     pi.ID,
			FailureCode:    pi.LastPaymentError.Code,
			FailureMessage: pi.LastPaymentError.Message,
		}, true

	case escrow.EventChargeRefunded:
		var charge struct {
			ID             string `json:"id"`
			PaymentIntent  string `json:"payment_intent"`
			AmountRefunded int64  `json:"amount_refunded"`
			Refunds        struct {
				Data []struct {
					ID string `json:"id"`
				} `json:"data"`
			} `json:"refunds"`
		}
		if err := json.Unmarshal(object, &charge); err != nil || charge.PaymentIntent == "" {
			return escrow.PaymentEvent{}, false
		}
		ev := escrow.PaymentEvent{
			Type:         eventType,
			ProviderID:   charge.PaymentIntent,
			RefundAmount: charge.AmountRefunded,
		}
		if len(charge.Refunds.Data) > 0 {
			ev.RefundID = charge.Refunds.Data[0].ID
		}
		return ev, true

	case escrow.EventTransferPaid:
		var transfer struct {
			ID                 string `json:"id"`
			DestinationPayment string `json:"destination_payment"`
		}
		if err := json.Unmarshal(object, &transfer); err != nil || transfer.ID == "" {
			return escrow.PaymentEvent{}, false
		}
		// The ledger may know this transfer by its id (after a manual
		// release) or not at all yet (out-of-order delivery); both
		// lookups are attempted by the caller via ProviderID.
		return escrow.PaymentEvent{
			Type:       eventType,
			ProviderID: transfer.ID,
			TransferID: transfer.ID,
		}, true
	}

	return escrow.PaymentEvent{}, false
}

// reconcileOrder applies one provider event to the order's ledger inside
// a transaction, then recomputes the derived statuses.
func (h *Handlers) reconcileOrder(c *gin.Context, orderID int64, ev escrow.PaymentEvent) (bool, error) {
	tx, err := h.DB.BeginTx(c, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	order, err := lockOrder(tx, orderID)
	if err != nil {
		return false, err
	}
	entries, err := loadTransfers(tx, orderID, true)
	if err != nil {
		return false, err
	}

	var matched *models.TransferRecord
	for _, entry := range entries {
		if entry.PaymentIntentID == ev.ProviderID || entry.TransferID == ev.ProviderID {
			matched = entry
			break
		}
	}
	if matched == nil {
		// The lookup that routed us here raced a ledger rewrite; nothing
		// to apply.
		return false, tx.Commit()
	}

	now := time.Now()
	changed := escrow.ApplyPaymentEvent(matched, ev, now)
	if changed {
		if err := updateTransfer(tx, matched); err != nil {
			return false, err
		}
		if ev.Type == escrow.EventPaymentSucceeded {
			if err := h.decrementStockForSeller(tx, orderID, matched.SellerID); err != nil {
				return false, err
			}
		}
	}

	if err := applyDerivedStatus(tx, order, entries); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}

	if changed {
		h.notifyForEvent(order, matched, ev)
	}
	return changed, nil
}

// notifyForEvent sends the post-commit notifications for a ledger change.
func (h *Handlers) notifyForEvent(order *models.Order, entry *models.TransferRecord, ev escrow.PaymentEvent) {
	orderLink := fmt.Sprintf("/orders/%d", order.ID)
	switch ev.Type {
	case escrow.EventPaymentSucceeded:
		h.Notify(order.BuyerID, "Payment received",
			fmt.Sprintf("Your payment for order #%d is held in escrow until delivery is confirmed.", order.ID),
			"payment", orderLink, nil)
		h.Notify(entry.SellerID, "Payment secured",
			fmt.Sprintf("Payment for order #%d is held in escrow. You can start processing.", order.ID),
			"payment", orderLink, nil)
	case escrow.EventPaymentFailed:
		h.Notify(order.BuyerID, "Payment failed",
			fmt.Sprintf("A payment for order #%d failed. Please try again with a different card.", order.ID),
			"payment", orderLink, nil)
	case escrow.EventChargeRefunded:
		h.Notify(order.BuyerID, "Payment refunded",
			fmt.Sprintf("A payment for order #%d has been refunded.", order.ID),
			"payment", orderLink, nil)
	case escrow.EventTransferPaid:
		h.Notify(entry.SellerID, "Payout completed",
			fmt.Sprintf("Your payout for order #%d has been paid out by the payment provider.", order.ID),
			"payment", orderLink, map[string]string{"transfer_id": entry.TransferID})
	}
}
