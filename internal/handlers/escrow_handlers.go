package handlers

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/agribazaar/agribazaar-golang/internal/escrow"
	"github.com/agribazaar/agribazaar-golang/internal/models"
)

//
// --- Escrow Release & Dispute Handlers ---
//

// ReleaseEscrowRequest optionally narrows a release to a single seller.
type ReleaseEscrowRequest struct {
	SellerID *int64 `json:"sellerId"`
}

// ReleaseEscrowFunds is the handler for POST /v1/orders/:id/release-escrow
//
// Manual early release by the buyer (or an admin). Per-seller outcomes
// are independent: a transfer failing for one seller does not undo the
// others, and whatever succeeded is persisted. The order only flips to
// released when every seller's entry has been released.
func (h *Handlers) ReleaseEscrowFunds(c *gin.Context) {
	userIDRaw, _ := c.Get("userID")
	userID := userIDRaw.(int64)

	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID"})
		return
	}

	var req ReleaseEscrowRequest
	_ = c.ShouldBindJSON(&req) // body is optional

	tx, err := h.DB.BeginTx(c, nil)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start transaction"})
		return
	}
	defer tx.Rollback()

	order, err := lockOrder(tx, orderID)
	if err != nil {
		if err == sql.ErrNoRows {
			c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load order"})
		return
	}

	// Only the buyer who paid, or an admin.
	if order.BuyerID != userID {
		var role string
		_ = tx.QueryRow("SELECT role FROM users WHERE id = ?", userID).Scan(&role)
		if role != models.RoleAdmin {
			c.JSON(http.StatusForbidden, gin.H{"error": "Only the buyer or an admin can release escrow funds"})
			return
		}
	}

	if order.Escrow.DisputeOpen() {
		c.JSON(http.StatusConflict, gin.H{"error": "Cannot release funds while a dispute is open"})
		return
	}
	if order.PaymentStatus == models.PaymentReleased {
		c.JSON(http.StatusConflict, gin.H{"error": escrow.ErrAlreadyReleased.Error()})
		return
	}
	if order.PaymentStatus != models.PaymentHeldInEscrow {
		c.JSON(http.StatusConflict, gin.H{"error": "Funds are not currently held in escrow"})
		return
	}

	entries, err := loadTransfers(tx, orderID, true)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load payment records"})
		return
	}

	// A seller filter must name a seller with funds on this order.
	if req.SellerID != nil {
		found := false
		for _, entry := range entries {
			if entry.SellerID == *req.SellerID {
				found = true
				break
			}
		}
		if !found {
			c.JSON(http.StatusNotFound, gin.H{"error": "Seller has no funds on this order"})
			return
		}
	}

	now := time.Now()
	results, allReleased := escrow.ReleaseEntries(
		c, h.Gateway, orderID, order.BuyerID, entries, req.SellerID,
		h.sellerAccountResolver(tx), now,
	)

	// Persist whatever succeeded, even when some sellers failed.
	for _, entry := range entries {
		if entry.Status == models.TransferReleased {
			if err := updateTransfer(tx, entry); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to persist release"})
				return
			}
		}
	}

	// The order-level released stamp requires a full release: every
	// seller attempted (no filter) and every transfer succeeded.
	if req.SellerID == nil && allReleased {
		order.Escrow.ReleasedAt = &now
		order.Escrow.ReleasedBy = &userID
		if _, err := tx.Exec(
			"UPDATE orders SET escrow_released_at = ?, escrow_released_by = ? WHERE id = ?",
			now, userID, orderID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to stamp release"})
			return
		}
	}
	if err := applyDerivedStatus(tx, order, entries); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update order status"})
		return
	}

	if err := tx.Commit(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to commit release"})
		return
	}

	orderLink := fmt.Sprintf("/orders/%d", orderID)
	for _, r := range results {
		if r.Success && r.Amount > 0 {
			h.Notify(r.SellerID, "Funds released",
				fmt.Sprintf("Escrow funds for order #%d have been released to your account.", orderID),
				"payment", orderLink, map[string]string{"transfer_id": r.TransferID})
		}
	}

	status := http.StatusOK
	if !allReleased {
		status = http.StatusMultiStatus
	}
	c.JSON(status, gin.H{
		"message":       "Escrow release processed",
		"orderId":       orderID,
		"paymentStatus": order.PaymentStatus,
		"results":       results,
	})
}

// RaiseDisputeRequest carries the buyer's or seller's complaint.
type RaiseDisputeRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// RaiseDispute is the handler for POST /v1/orders/:id/dispute
//
// The buyer or any seller on the order can raise a dispute while funds
// are held. An open dispute freezes both the manual release path and
// the scheduled sweep.
func (h *Handlers) RaiseDispute(c *gin.Context) {
	userIDRaw, _ := c.Get("userID")
	userID := userIDRaw.(int64)

	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID"})
		return
	}

	var req RaiseDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Dispute reason is required"})
		return
	}

	tx, err := h.DB.BeginTx(c, nil)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start transaction"})
		return
	}
	defer tx.Rollback()

	order, err := lockOrder(tx, orderID)
	if err != nil {
		if err == sql.ErrNoRows {
			c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load order"})
		return
	}

	entries, err := loadTransfers(tx, orderID, true)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load payment records"})
		return
	}

	// Party check: buyer or a seller with a ledger entry.
	isParty := order.BuyerID == userID
	for _, entry := range entries {
		if entry.SellerID == userID {
			isParty = true
		}
	}
	if !isParty {
		c.JSON(http.StatusForbidden, gin.H{"error": "Only a party to this order can raise a dispute"})
		return
	}

	if order.Escrow.DisputeOpen() {
		c.JSON(http.StatusConflict, gin.H{"error": "A dispute is already open for this order"})
		return
	}
	if order.PaymentStatus != models.PaymentHeldInEscrow && order.PaymentStatus != models.PaymentPaid {
		c.JSON(http.StatusConflict, gin.H{"error": "Disputes can only be raised while funds are held"})
		return
	}

	now := time.Now()
	if _, err := tx.Exec(`
		UPDATE orders
		SET dispute_raised = TRUE, dispute_reason = ?, dispute_raised_by = ?, dispute_raised_at = ?,
		    dispute_resolved = FALSE, dispute_resolution = NULL, dispute_resolved_by = NULL, dispute_resolved_at = NULL,
		    payment_status = ?, updated_at = ?
		WHERE id = ?`,
		req.Reason, userID, now, models.PaymentDisputed, now, orderID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record dispute"})
		return
	}

	if err := tx.Commit(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to commit dispute"})
		return
	}

	// Everyone involved hears about it.
	orderLink := fmt.Sprintf("/orders/%d", orderID)
	recipients := map[int64]bool{order.BuyerID: true}
	for _, entry := range entries {
		recipients[entry.SellerID] = true
	}
	for recipient := range recipients {
		h.Notify(recipient, "Dispute raised",
			fmt.Sprintf("A dispute has been raised on order #%d. Escrow release is frozen until it is resolved.", orderID),
			"dispute", orderLink, nil)
	}

	c.JSON(http.StatusOK, gin.H{
		"message":       "Dispute raised",
		"orderId":       orderID,
		"paymentStatus": models.PaymentDisputed,
	})
}

// ResolveDisputeRequest picks exactly one outcome.
type ResolveDisputeRequest struct {
	RefundBuyer     bool   `json:"refundBuyer"`
	ReleaseToSeller bool   `json:"releaseToSeller"`
	Notes           string `json:"notes"`
}

// ResolveDispute is the handler for POST /v1/orders/:id/resolve-dispute
//
// Admin only. Either refund the buyer (all non-terminal holds refunded)
// or release to the sellers, never both.
func (h *Handlers) ResolveDispute(c *gin.Context) {
	userIDRaw, _ := c.Get("userID")
	adminID := userIDRaw.(int64)

	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID"})
		return
	}

	var req ResolveDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	if req.RefundBuyer == req.ReleaseToSeller {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Exactly one of refundBuyer or releaseToSeller must be set"})
		return
	}

	tx, err := h.DB.BeginTx(c, nil)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start transaction"})
		return
	}
	defer tx.Rollback()

	order, err := lockOrder(tx, orderID)
	if err != nil {
		if err == sql.ErrNoRows {
			c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load order"})
		return
	}

	if !order.Escrow.DisputeOpen() {
		c.JSON(http.StatusConflict, gin.H{"error": escrow.ErrNotDisputed.Error()})
		return
	}

	entries, err := loadTransfers(tx, orderID, true)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load payment records"})
		return
	}

	now := time.Now()
	resolution := "released_to_seller"
	var results []escrow.ReleaseResult
	partialFailure := false

	if req.RefundBuyer {
		resolution = "refunded_to_buyer"
		for _, entry := range entries {
			if entry.Terminal() {
				continue
			}
			outcome, err := h.Gateway.RefundEscrowPayment(c, entry.PaymentIntentID, "dispute resolved in buyer's favor")
			if err != nil {
				h.Logger.Error().Err(err).Str("payment_intent", entry.PaymentIntentID).
					Msg("Refund failed during dispute resolution")
				partialFailure = true
				break
			}
			entry.Status = models.TransferRefunded
			entry.SetMeta("refund_id", outcome.ID)
			entry.SetMeta("refunded_at", now.UTC().Format(time.RFC3339))
			entry.UpdatedAt = now
			if err := updateTransfer(tx, entry); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update payment record"})
				return
			}
		}
	} else {
		var allReleased bool
		results, allReleased = escrow.ReleaseEntries(
			c, h.Gateway, orderID, order.BuyerID, entries, nil,
			h.sellerAccountResolver(tx), now,
		)
		partialFailure = !allReleased
		for _, entry := range entries {
			if entry.Status == models.TransferReleased {
				if err := updateTransfer(tx, entry); err != nil {
					c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to persist release"})
					return
				}
			}
		}
	}

	// The gateway side is not transactional: money that already moved
	// must stay recorded even when the resolution cannot complete. On
	// partial failure the settled entries are committed and the dispute
	// stays open; a retry skips them as terminal no-ops.
	if partialFailure {
		if err := applyDerivedStatus(tx, order, entries); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update order status"})
			return
		}
		if err := tx.Commit(); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to commit payment records"})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "One or more payment operations failed; dispute remains open",
			"results": results,
		})
		return
	}

	if !req.RefundBuyer {
		order.Escrow.ReleasedAt = &now
		order.Escrow.ReleasedBy = &adminID
		if _, err := tx.Exec(
			"UPDATE orders SET escrow_released_at = ?, escrow_released_by = ? WHERE id = ?",
			now, adminID, orderID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to stamp release"})
			return
		}
	}

	order.Escrow.DisputeResolved = true
	if _, err := tx.Exec(`
		UPDATE orders
		SET dispute_resolved = TRUE, dispute_resolution = ?, dispute_resolved_by = ?, dispute_resolved_at = ?, updated_at = ?
		WHERE id = ?`,
		resolution, adminID, now, now, orderID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record resolution"})
		return
	}
	if err := applyDerivedStatus(tx, order, entries); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update order status"})
		return
	}

	if err := tx.Commit(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to commit resolution"})
		return
	}

	orderLink := fmt.Sprintf("/orders/%d", orderID)
	h.Notify(order.BuyerID, "Dispute resolved",
		fmt.Sprintf("The dispute on order #%d was resolved: %s.", orderID, resolution),
		"dispute", orderLink, nil)
	for _, entry := range entries {
		h.Notify(entry.SellerID, "Dispute resolved",
			fmt.Sprintf("The dispute on order #%d was resolved: %s.", orderID, resolution),
			"dispute", orderLink, nil)
	}

	c.JSON(http.StatusOK, gin.H{
		"message":       "Dispute resolved",
		"orderId":       orderID,
		"resolution":    resolution,
		"paymentStatus": order.PaymentStatus,
		"results":       results,
	})
}

// ProcessEscrowReleases is the handler for POST /v1/internal/escrow/process-releases
//
// The scheduled sweep entry point, protected by the internal shared
// secret. The same sweep also runs from the in-process ticker; this
// endpoint exists so an external cron can drive it instead.
func (h *Handlers) ProcessEscrowReleases(c *gin.Context) {
	summary := h.RunEscrowReleaseSweep(c)
	c.JSON(http.StatusOK, summary)
}

// SweepSummary reports one sweep run.
type SweepSummary struct {
	Checked  int              `json:"checked"`
	Released int              `json:"released"`
	Failed   int              `json:"failed"`
	Orders   []map[string]any `json:"orders,omitempty"`
}

// RunEscrowReleaseSweep finds orders whose escrow hold has matured and
// releases their funds. Each order runs in its own transaction: one
// order failing (or being disputed mid-sweep) never blocks the rest.
func (h *Handlers) RunEscrowReleaseSweep(ctx context.Context) *SweepSummary {
	summary := &SweepSummary{}

	rows, err := h.DB.Query(`
		SELECT id FROM orders
		WHERE payment_status = ?
		  AND escrow_release_date <= NOW()
		  AND dispute_raised = FALSE
		ORDER BY escrow_release_date
		LIMIT 200`, models.PaymentHeldInEscrow)
	if err != nil {
		h.Logger.Error().Err(err).Msg("Escrow sweep query failed")
		return summary
	}
	var dueIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err == nil {
			dueIDs = append(dueIDs, id)
		}
	}
	rows.Close()

	for _, orderID := range dueIDs {
		summary.Checked++
		released, err := h.releaseOrderFunds(ctx, orderID)
		if err != nil {
			summary.Failed++
			h.Logger.Error().Err(err).Int64("order_id", orderID).Msg("Scheduled escrow release failed")
			summary.Orders = append(summary.Orders, map[string]any{
				"orderId": orderID, "released": false, "error": err.Error(),
			})
			continue
		}
		if released {
			summary.Released++
		} else {
			summary.Failed++
		}
		summary.Orders = append(summary.Orders, map[string]any{
			"orderId": orderID, "released": released,
		})
	}

	h.Logger.Info().
		Int("checked", summary.Checked).
		Int("released", summary.Released).
		Int("failed", summary.Failed).
		Msg("Escrow release sweep finished")
	return summary
}

// releaseOrderFunds releases one matured order inside its own
// transaction, re-checking eligibility under the row lock.
func (h *Handlers) releaseOrderFunds(ctx context.Context, orderID int64) (bool, error) {
	tx, err := h.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	order, err := lockOrder(tx, orderID)
	if err != nil {
		return false, err
	}
	// Eligibility can change between the scan and the lock (a dispute
	// raised, a manual release finished first).
	if order.PaymentStatus != models.PaymentHeldInEscrow || order.Escrow.DisputeOpen() {
		return false, nil
	}

	entries, err := loadTransfers(tx, orderID, true)
	if err != nil {
		return false, err
	}

	now := time.Now()
	results, allReleased := escrow.ReleaseEntries(
		ctx, h.Gateway, orderID, order.BuyerID, entries, nil,
		h.sellerAccountResolver(tx), now,
	)

	for _, entry := range entries {
		if entry.Status == models.TransferReleased {
			if err := updateTransfer(tx, entry); err != nil {
				return false, err
			}
		}
	}
	if allReleased {
		if _, err := tx.Exec(
			"UPDATE orders SET escrow_released_at = ? WHERE id = ?", now, orderID); err != nil {
			return false, err
		}
		order.Escrow.ReleasedAt = &now
	}
	if err := applyDerivedStatus(tx, order, entries); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}

	orderLink := fmt.Sprintf("/orders/%d", orderID)
	var releasedSellers int
	for _, r := range results {
		if r.Success && r.Amount > 0 {
			releasedSellers++
			h.Notify(r.SellerID, "Funds released",
				fmt.Sprintf("Escrow funds for order #%d have been released to your account.", orderID),
				"payment", orderLink, map[string]string{"transfer_id": r.TransferID})
		}
	}
	if releasedSellers > 0 {
		h.Notify(order.BuyerID, "Escrow released",
			fmt.Sprintf("The escrow period for order #%d ended and funds were released to the sellers.", orderID),
			"payment", orderLink, nil)
	}

	return allReleased, nil
}
