package handlers

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/agribazaar/agribazaar-golang/internal/escrow"
	"github.com/agribazaar/agribazaar-golang/internal/geo"
	"github.com/agribazaar/agribazaar-golang/internal/models"
	"github.com/agribazaar/agribazaar-golang/internal/payments"
)

//
// --- Order Handlers ---
//

// escrowHoldDays is how long funds stay held after a successful payment
// before the daily sweep releases them to sellers.
const escrowHoldDays = 14

const defaultCurrency = "pkr"

// CreateOrderRequest is the checkout payload.
type CreateOrderRequest struct {
	ShippingAddress struct {
		Street     string `json:"street" binding:"required"`
		City       string `json:"city" binding:"required"`
		State      string `json:"state" binding:"required"`
		PostalCode string `json:"postalCode" binding:"required"`
		Country    string `json:"country" binding:"required"`
	} `json:"shippingAddress" binding:"required"`
	ContactInfo struct {
		Name  string `json:"name" binding:"required"`
		Phone string `json:"phone" binding:"required"`
		Email string `json:"email" binding:"required,email"`
	} `json:"contactInfo" binding:"required"`
	DeliveryNotes string `json:"deliveryNotes"`
	Currency      string `json:"currency"`
}

// CreateEscrowOrder is the handler for POST /v1/orders/escrow
//
// Checkout runs as one database transaction: lock the cart's product
// rows, price the order, create one payment hold per seller, write the
// order aggregate, clear the cart. Any failure (including one seller
// without a payout account) rolls everything back: no order exists with
// holds for only some of its sellers.
func (h *Handlers) CreateEscrowOrder(c *gin.Context) {
	// 1. --- Get Buyer & Parse Request ---
	userIDRaw, _ := c.Get("userID")
	buyerID := userIDRaw.(int64)

	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	currency := req.Currency
	if currency == "" {
		currency = defaultCurrency
	}

	// 2. --- Geocode Shipping Address (best-effort, outside the tx) ---
	var shipLat, shipLng *float64
	if h.Geo != nil {
		fullAddress := geo.BuildFullAddress(models.Address{
			Street: req.ShippingAddress.Street, City: req.ShippingAddress.City,
			State: req.ShippingAddress.State, PostalCode: req.ShippingAddress.PostalCode,
			Country: req.ShippingAddress.Country,
		})
		if coords, err := h.Geo.Geocode(c, fullAddress); err == nil {
			shipLat, shipLng = &coords.Latitude, &coords.Longitude
		} else {
			h.Logger.Warn().Err(err).Msg("Could not geocode shipping address, delivery charges skipped")
		}
	}

	// 3. --- Ensure the Buyer Has a Payment Provider Customer ---
	customerID, err := h.ensureStripeCustomer(c, buyerID)
	if err != nil {
		h.Logger.Error().Err(err).Int64("buyer_id", buyerID).Msg("Failed to ensure payment customer")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to set up payment customer"})
		return
	}

	// 4. --- Begin Transaction ---
	tx, err := h.DB.BeginTx(c, nil)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start transaction"})
		return
	}
	defer tx.Rollback() // Safety net

	// 5. --- Load Cart & Lock Product Rows ---
	var cartID int64
	err = tx.QueryRow("SELECT id FROM carts WHERE user_id = ?", buyerID).Scan(&cartID)
	if err != nil {
		if err == sql.ErrNoRows {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Your cart is empty"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to find cart"})
		return
	}

	items, err := h.loadAssemblyItems(tx, cartID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load cart items"})
		return
	}

	// 6. --- Assemble the Order Draft ---
	draft, err := escrow.BuildDraft(items, shipLat, shipLng)
	if err != nil {
		switch {
		case errors.Is(err, escrow.ErrEmptyCart):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Your cart is empty"})
		case errors.Is(err, escrow.ErrInsufficientStock):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, escrow.ErrInvalidTier):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to assemble order"})
		}
		return
	}

	// 7. --- Insert the Order Record ---
	now := time.Now()
	releaseDate := now.AddDate(0, 0, escrowHoldDays)

	result, err := tx.Exec(`
		INSERT INTO orders
			(buyer_id, total_amount, status, payment_status, payment_method, escrow_release_date,
			 ship_street, ship_city, ship_state, ship_postal_code, ship_country, ship_latitude, ship_longitude,
			 contact_name, contact_phone, contact_email, delivery_notes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		buyerID, draft.TotalAmount, models.OrderPending, models.PaymentPending, "card", releaseDate,
		req.ShippingAddress.Street, req.ShippingAddress.City, req.ShippingAddress.State,
		req.ShippingAddress.PostalCode, req.ShippingAddress.Country, shipLat, shipLng,
		req.ContactInfo.Name, req.ContactInfo.Phone, req.ContactInfo.Email,
		req.DeliveryNotes, now, now,
	)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create order"})
		return
	}
	orderID, err := result.LastInsertId()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get new order ID"})
		return
	}

	// 8. --- Insert Order Items ---
	for _, line := range draft.Lines {
		_, err := tx.Exec(`
			INSERT INTO order_items (order_id, product_id, seller_id, quantity, tier_index, line_price)
			VALUES (?, ?, ?, ?, ?, ?)`,
			orderID, line.ProductID, line.SellerID, line.Quantity, line.TierIndex, line.LinePrice,
		)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save order item"})
			return
		}
	}

	// 9. --- One Payment Hold + Sub-Order + Ledger Entry per Seller ---
	resolve := h.sellerAccountResolver(tx)
	type holdView struct {
		SellerID     int64   `json:"sellerId"`
		HoldID       string  `json:"paymentIntentId"`
		ClientSecret string  `json:"clientSecret"`
		Amount       float64 `json:"amount"`
	}
	var holds []holdView

	for _, seller := range draft.Sellers {
		account, err := resolve(seller.SellerID)
		if err != nil {
			if errors.Is(err, escrow.ErrSellerNotPayable) {
				c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			} else {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to check seller payout account"})
			}
			return
		}

		hold, err := h.Gateway.CreateEscrowCharge(c, payments.EscrowChargeRequest{
			Amount:             seller.ChargeAmount(),
			Currency:           currency,
			CustomerID:         customerID,
			DestinationAccount: account,
			Description:        fmt.Sprintf("Escrow payment for order %d (seller %d)", orderID, seller.SellerID),
			Metadata: map[string]string{
				"order_id":  strconv.FormatInt(orderID, 10),
				"seller_id": strconv.FormatInt(seller.SellerID, 10),
				"buyer_id":  strconv.FormatInt(buyerID, 10),
			},
		})
		if err != nil {
			h.Logger.Error().Err(err).Int64("order_id", orderID).Int64("seller_id", seller.SellerID).
				Msg("Failed to create payment hold")
			c.JSON(http.StatusBadGateway, gin.H{"error": "Payment provider rejected the charge"})
			return
		}

		_, err = tx.Exec(`
			INSERT INTO seller_orders (order_id, seller_id, subtotal, delivery_charge, status)
			VALUES (?, ?, ?, ?, ?)`,
			orderID, seller.SellerID, seller.Subtotal, seller.DeliveryCharge, models.OrderPending,
		)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save seller order"})
			return
		}

		entry := &models.TransferRecord{
			OrderID:         orderID,
			SellerID:        seller.SellerID,
			TransferID:      hold.ID, // replaced with the payout transfer id on release
			PaymentIntentID: hold.ID,
			Amount:          seller.ChargeAmount(),
			Currency:        currency,
			Status:          models.TransferPending,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		entry.SetMeta("seller_account", account)
		if err := insertTransfer(tx, entry); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record payment hold"})
			return
		}

		holds = append(holds, holdView{
			SellerID:     seller.SellerID,
			HoldID:       hold.ID,
			ClientSecret: hold.ClientSecret,
			Amount:       seller.ChargeAmount(),
		})
	}

	// 10. --- Clear the Cart ---
	if _, err := tx.Exec("DELETE FROM cart_items WHERE cart_id = ?", cartID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to clear cart"})
		return
	}

	// 11. --- Commit & Notify ---
	if err := tx.Commit(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to commit order"})
		return
	}

	orderLink := fmt.Sprintf("/orders/%d", orderID)
	h.Notify(buyerID, "Order placed",
		fmt.Sprintf("Your order #%d has been placed. Complete payment to confirm it.", orderID),
		"order", orderLink, map[string]string{"order_id": strconv.FormatInt(orderID, 10)})
	for _, seller := range draft.Sellers {
		h.Notify(seller.SellerID, "New order received",
			fmt.Sprintf("You have a new order #%d awaiting payment.", orderID),
			"order", orderLink, map[string]string{"order_id": strconv.FormatInt(orderID, 10)})
	}

	response := gin.H{
		"message":           "Order created successfully",
		"orderId":           orderID,
		"totalAmount":       draft.TotalAmount,
		"escrowReleaseDate": releaseDate,
		"paymentIntents":    holds,
	}
	if len(holds) > 0 {
		response["clientSecret"] = holds[0].ClientSecret
	}
	c.JSON(http.StatusCreated, response)
}

// loadAssemblyItems joins the cart against products, their tiers and the
// seller's default address, locking the product rows for the transaction.
func (h *Handlers) loadAssemblyItems(tx *sql.Tx, cartID int64) ([]escrow.AssemblyItem, error) {
	rows, err := tx.Query(`
		SELECT ci.product_id, ci.quantity, ci.selected_tier,
		       p.name, p.seller_id, p.stock,
		       ua.latitude, ua.longitude
		FROM cart_items ci
		JOIN products p ON ci.product_id = p.id
		LEFT JOIN user_addresses ua ON ua.user_id = p.seller_id AND ua.is_default = TRUE
		WHERE ci.cart_id = ?
		FOR UPDATE`, cartID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []escrow.AssemblyItem
	for rows.Next() {
		var item escrow.AssemblyItem
		if err := rows.Scan(&item.ProductID, &item.Quantity, &item.SelectedTier,
			&item.ProductName, &item.SellerID, &item.Stock,
			&item.SellerLat, &item.SellerLng); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Tier tables are small; load them per product after the main scan.
	for i := range items {
		priceRows, err := tx.Query(`
			SELECT id, product_id, tier_index, min_qty, max_qty, price
			FROM product_price_tiers WHERE product_id = ? ORDER BY tier_index`, items[i].ProductID)
		if err != nil {
			return nil, err
		}
		for priceRows.Next() {
			var t models.PriceTier
			if err := priceRows.Scan(&t.ID, &t.ProductID, &t.TierIndex, &t.MinQty, &t.MaxQty, &t.Price); err != nil {
				priceRows.Close()
				return nil, err
			}
			items[i].PriceTiers = append(items[i].PriceTiers, t)
		}
		priceRows.Close()

		deliveryRows, err := tx.Query(`
			SELECT id, product_id, min_km, max_km, price
			FROM product_delivery_tiers WHERE product_id = ? ORDER BY min_km`, items[i].ProductID)
		if err != nil {
			return nil, err
		}
		for deliveryRows.Next() {
			var t models.DeliveryTier
			if err := deliveryRows.Scan(&t.ID, &t.ProductID, &t.MinKM, &t.MaxKM, &t.Price); err != nil {
				deliveryRows.Close()
				return nil, err
			}
			items[i].DeliveryTiers = append(items[i].DeliveryTiers, t)
		}
		deliveryRows.Close()
	}

	return items, nil
}

// ensureStripeCustomer returns the buyer's payment provider customer id,
// creating one on first use so the same card can be reused across the
// order's per-seller payment intents.
func (h *Handlers) ensureStripeCustomer(c *gin.Context, buyerID int64) (string, error) {
	var email, name string
	var customerID sql.NullString
	err := h.DB.QueryRow("SELECT email, name, stripe_customer_id FROM users WHERE id = ?", buyerID).
		Scan(&email, &name, &customerID)
	if err != nil {
		return "", err
	}
	if customerID.Valid && customerID.String != "" {
		return customerID.String, nil
	}

	created, err := h.Gateway.CreateCustomer(c, email, name, map[string]string{
		"user_id": strconv.FormatInt(buyerID, 10),
	})
	if err != nil {
		return "", err
	}

	if _, err := h.DB.Exec("UPDATE users SET stripe_customer_id = ? WHERE id = ?", created, buyerID); err != nil {
		return "", err
	}
	return created, nil
}

// ConfirmPaymentRequest identifies which of the order's holds to confirm.
type ConfirmPaymentRequest struct {
	PaymentIntentID string `json:"paymentIntentId" binding:"required"`
	PaymentMethodID string `json:"paymentMethodId"`
}

// ConfirmPayment is the handler for POST /v1/orders/:id/confirm-payment
//
// The direct (non-webhook) settlement path: the frontend confirms the
// intent with the provider, then calls here so the backend verifies the
// provider-side status and moves the ledger entry forward. The webhook
// path converges on the same state, so either can arrive first.
func (h *Handlers) ConfirmPayment(c *gin.Context) {
	userIDRaw, _ := c.Get("userID")
	buyerID := userIDRaw.(int64)

	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID"})
		return
	}

	var req ConfirmPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	// 1. --- Verify the Intent with the Provider (before locking rows) ---
	intent, err := h.Gateway.RetrievePaymentIntent(c, req.PaymentIntentID)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to verify payment with provider"})
		return
	}

	switch intent.Status {
	case payments.IntentSucceeded:
		// Already settled provider-side.
	case payments.IntentRequiresCapture:
		intent, err = h.Gateway.CapturePaymentIntent(c, req.PaymentIntentID)
	case payments.IntentRequiresPaymentMethod, payments.IntentRequiresConfirmation:
		method := req.PaymentMethodID
		if method == "" && h.DevMode {
			method = "pm_card_visa"
		}
		if method == "" {
			c.JSON(http.StatusPaymentRequired, gin.H{"error": escrow.ErrPaymentNotProcessable.Error(), "status": intent.Status})
			return
		}
		intent, err = h.Gateway.ConfirmPaymentIntent(c, req.PaymentIntentID, method)
		if err == nil && intent.Status == payments.IntentRequiresCapture {
			intent, err = h.Gateway.CapturePaymentIntent(c, req.PaymentIntentID)
		}
	case payments.IntentProcessing:
		c.JSON(http.StatusAccepted, gin.H{"message": "Payment is processing, final status will arrive via webhook", "status": intent.Status})
		return
	default:
		c.JSON(http.StatusPaymentRequired, gin.H{"error": escrow.ErrPaymentNotProcessable.Error(), "status": intent.Status})
		return
	}
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "Payment confirmation failed: " + err.Error()})
		return
	}
	if intent.Status != payments.IntentSucceeded {
		c.JSON(http.StatusPaymentRequired, gin.H{"error": escrow.ErrPaymentNotProcessable.Error(), "status": intent.Status})
		return
	}

	// 2. --- Apply the Settlement in One Transaction ---
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
	if order.BuyerID != buyerID {
		c.JSON(http.StatusForbidden, gin.H{"error": "This order does not belong to you"})
		return
	}

	entries, err := loadTransfers(tx, orderID, true)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load payment records"})
		return
	}

	var matched *models.TransferRecord
	for _, entry := range entries {
		if entry.PaymentIntentID == req.PaymentIntentID {
			matched = entry
			break
		}
	}
	if matched == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Payment does not belong to this order"})
		return
	}

	now := time.Now()
	changed := escrow.ApplyPaymentEvent(matched, escrow.PaymentEvent{
		Type:       escrow.EventPaymentSucceeded,
		ProviderID: req.PaymentIntentID,
	}, now)
	if changed {
		if err := updateTransfer(tx, matched); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update payment record"})
			return
		}

		// Stock is decremented when this seller's payment actually
		// settles, not at checkout.
		if err := h.decrementStockForSeller(tx, orderID, matched.SellerID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update stock"})
			return
		}
	}

	if err := applyDerivedStatus(tx, order, entries); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update order status"})
		return
	}
	// With other sellers' holds still pending the derived aggregate is
	// 'pending'; the buyer has paid something, so surface that.
	if order.PaymentStatus == models.PaymentPending {
		order.PaymentStatus = models.PaymentPaid
		order.Status = models.OrderConfirmed
		if _, err := tx.Exec("UPDATE orders SET payment_status = ?, status = ? WHERE id = ?",
			order.PaymentStatus, order.Status, order.ID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update order status"})
			return
		}
	}

	if err := tx.Commit(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to commit payment confirmation"})
		return
	}

	if changed {
		orderLink := fmt.Sprintf("/orders/%d", orderID)
		h.Notify(buyerID, "Payment received",
			fmt.Sprintf("Your payment for order #%d is held in escrow until delivery is confirmed.", orderID),
			"payment", orderLink, nil)
		h.Notify(matched.SellerID, "Payment secured",
			fmt.Sprintf("Payment for order #%d is held in escrow. You can start processing.", orderID),
			"payment", orderLink, nil)
	}

	c.JSON(http.StatusOK, gin.H{
		"message":       "Payment confirmed",
		"orderId":       orderID,
		"paymentStatus": order.PaymentStatus,
		"orderStatus":   order.Status,
	})
}

func (h *Handlers) decrementStockForSeller(tx *sql.Tx, orderID, sellerID int64) error {
	_, err := tx.Exec(`
		UPDATE products p
		JOIN order_items oi ON oi.product_id = p.id
		SET p.stock = GREATEST(p.stock - oi.quantity, 0)
		WHERE oi.order_id = ? AND oi.seller_id = ?`, orderID, sellerID)
	return err
}

// GetMyOrders is the handler for GET /v1/orders
func (h *Handlers) GetMyOrders(c *gin.Context) {
	userIDRaw, _ := c.Get("userID")
	buyerID := userIDRaw.(int64)

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))
	if limit < 1 || limit > 50 {
		limit = 10
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * limit

	query := "SELECT" + orderColumns + " FROM orders WHERE buyer_id = ?"
	args := []any{buyerID}
	if status := c.Query("status"); status != "" {
		query += " AND status = ?"
		args = append(args, status)
	}
	query += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := h.DB.Query(query, args...)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch orders"})
		return
	}
	defer rows.Close()

	orders := []models.Order{}
	for rows.Next() {
		var o models.Order
		var deliveryNotes sql.NullString
		if err := rows.Scan(
			&o.ID, &o.BuyerID, &o.TotalAmount, &o.Status, &o.PaymentStatus, &o.PaymentMethod,
			&o.Escrow.ReleaseDate, &o.Escrow.ReleasedAt, &o.Escrow.ReleasedBy,
			&o.Escrow.DisputeRaised, &o.Escrow.DisputeReason, &o.Escrow.RaisedBy, &o.Escrow.RaisedAt,
			&o.Escrow.DisputeResolved, &o.Escrow.Resolution, &o.Escrow.ResolvedBy, &o.Escrow.ResolvedAt,
			&o.Shipping.Street, &o.Shipping.City, &o.Shipping.State, &o.Shipping.PostalCode, &o.Shipping.Country,
			&o.Shipping.Latitude, &o.Shipping.Longitude,
			&o.Contact.Name, &o.Contact.Phone, &o.Contact.Email,
			&deliveryNotes, &o.CompletedAt, &o.CreatedAt, &o.UpdatedAt,
		); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to scan order"})
			return
		}
		o.DeliveryNotes = deliveryNotes.String
		orders = append(orders, o)
	}

	c.JSON(http.StatusOK, gin.H{
		"orders": orders,
		"page":   page,
		"limit":  limit,
	})
}

// GetOrderDetails is the handler for GET /v1/orders/:id
//
// Visible to the buyer who placed it, any seller with a sub-order on it,
// and admins.
func (h *Handlers) GetOrderDetails(c *gin.Context) {
	userIDRaw, _ := c.Get("userID")
	userID := userIDRaw.(int64)

	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID"})
		return
	}

	order, err := getOrder(h.DB, orderID)
	if err != nil {
		if err == sql.ErrNoRows {
			c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load order"})
		return
	}

	order.Items, err = loadOrderItems(h.DB, orderID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load order items"})
		return
	}
	order.SellerOrders, err = loadSellerOrders(h.DB, orderID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load seller orders"})
		return
	}
	transfers, err := loadTransfers(h.DB, orderID, false)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load payment records"})
		return
	}
	order.Transfers = derefTransfers(transfers)

	// Access check: buyer, participating seller, or admin.
	allowed := order.BuyerID == userID
	if !allowed {
		for _, so := range order.SellerOrders {
			if so.SellerID == userID {
				allowed = true
				break
			}
		}
	}
	if !allowed {
		var role string
		_ = h.DB.QueryRow("SELECT role FROM users WHERE id = ?", userID).Scan(&role)
		allowed = role == models.RoleAdmin
	}
	if !allowed {
		c.JSON(http.StatusForbidden, gin.H{"error": "You do not have access to this order"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"order": order})
}

// CancelOrder is the handler for POST /v1/orders/:id/cancel
//
// Only the narrow window before any money has settled: payment status
// still pending and no seller has started fulfilment. Holds are voided
// at the provider.
func (h *Handlers) CancelOrder(c *gin.Context) {
	userIDRaw, _ := c.Get("userID")
	buyerID := userIDRaw.(int64)

	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID"})
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
	if order.BuyerID != buyerID {
		c.JSON(http.StatusForbidden, gin.H{"error": "This order does not belong to you"})
		return
	}
	if order.PaymentStatus != models.PaymentPending || order.Status != models.OrderPending {
		c.JSON(http.StatusConflict, gin.H{"error": "Order can no longer be cancelled; raise a dispute instead"})
		return
	}

	entries, err := loadTransfers(tx, orderID, true)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load payment records"})
		return
	}

	now := time.Now()
	for _, entry := range entries {
		if entry.Terminal() {
			continue
		}
		// A hold that cannot be voided stays live and confirmable, so a
		// gateway failure aborts the cancellation; marking the entry
		// refunded anyway would make it terminal and lose any later
		// settlement of that intent.
		if _, err := h.Gateway.RefundEscrowPayment(c, entry.PaymentIntentID, "order cancelled by buyer"); err != nil {
			h.Logger.Error().Err(err).Str("payment_intent", entry.PaymentIntentID).
				Msg("Failed to void payment hold during cancellation")
			c.JSON(http.StatusBadGateway, gin.H{"error": "Could not void the payment hold; please try again"})
			return
		}
		entry.Status = models.TransferRefunded
		entry.SetMeta("cancelled_at", now.UTC().Format(time.RFC3339))
		entry.UpdatedAt = now
		if err := updateTransfer(tx, entry); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update payment record"})
			return
		}
	}

	if _, err := tx.Exec("UPDATE seller_orders SET status = ? WHERE order_id = ?", models.OrderCancelled, orderID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to cancel seller orders"})
		return
	}
	if err := applyDerivedStatus(tx, order, entries); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update order status"})
		return
	}

	if err := tx.Commit(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to commit cancellation"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":     "Order cancelled",
		"orderId":     orderID,
		"orderStatus": order.Status,
	})
}

// GetSellerOrders is the handler for GET /v1/seller/orders
func (h *Handlers) GetSellerOrders(c *gin.Context) {
	userIDRaw, _ := c.Get("userID")
	sellerID := userIDRaw.(int64)

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))
	if limit < 1 || limit > 50 {
		limit = 10
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * limit

	query := `
		SELECT so.id, so.order_id, so.seller_id, so.subtotal, so.delivery_charge, so.status, so.delivered_at
		FROM seller_orders so
		WHERE so.seller_id = ?`
	args := []any{sellerID}
	if status := c.Query("status"); status != "" {
		query += " AND so.status = ?"
		args = append(args, status)
	}
	query += " ORDER BY so.id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := h.DB.Query(query, args...)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch seller orders"})
		return
	}
	defer rows.Close()

	subs := []models.SellerOrder{}
	for rows.Next() {
		var so models.SellerOrder
		if err := rows.Scan(&so.ID, &so.OrderID, &so.SellerID, &so.Subtotal,
			&so.DeliveryCharge, &so.Status, &so.DeliveredAt); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to scan seller order"})
			return
		}
		subs = append(subs, so)
	}

	c.JSON(http.StatusOK, gin.H{
		"sellerOrders": subs,
		"page":         page,
		"limit":        limit,
	})
}

// UpdateSellerOrderStatusRequest is the fulfilment update payload.
type UpdateSellerOrderStatusRequest struct {
	Status string `json:"status" binding:"required"`
	Notes  string `json:"notes"`
}

// UpdateSellerOrderStatus is the handler for PATCH /v1/seller/orders/:id/status
//
// Moves one seller's sub-order through its fulfilment state machine and
// appends to the audit history. When the last sub-order reaches
// delivered, the parent order flips to completed.
func (h *Handlers) UpdateSellerOrderStatus(c *gin.Context) {
	userIDRaw, _ := c.Get("userID")
	sellerID := userIDRaw.(int64)

	sellerOrderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid seller order ID"})
		return
	}

	var req UpdateSellerOrderStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	tx, err := h.DB.BeginTx(c, nil)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start transaction"})
		return
	}
	defer tx.Rollback()

	var so models.SellerOrder
	err = tx.QueryRow(`
		SELECT id, order_id, seller_id, subtotal, delivery_charge, status, delivered_at
		FROM seller_orders WHERE id = ? FOR UPDATE`, sellerOrderID).
		Scan(&so.ID, &so.OrderID, &so.SellerID, &so.Subtotal, &so.DeliveryCharge, &so.Status, &so.DeliveredAt)
	if err != nil {
		if err == sql.ErrNoRows {
			c.JSON(http.StatusNotFound, gin.H{"error": "Seller order not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load seller order"})
		return
	}
	if so.SellerID != sellerID {
		c.JSON(http.StatusForbidden, gin.H{"error": "This order does not belong to you"})
		return
	}

	now := time.Now()
	if err := escrow.TransitionSellerOrder(&so, req.Status, sellerID, req.Notes, now); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": fmt.Sprintf("Cannot move from '%s' to '%s'", so.Status, req.Status)})
		return
	}

	if _, err := tx.Exec("UPDATE seller_orders SET status = ?, delivered_at = ? WHERE id = ?",
		so.Status, so.DeliveredAt, so.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update seller order"})
		return
	}
	update := so.History[len(so.History)-1]
	if _, err := tx.Exec(`
		INSERT INTO seller_order_status_history (seller_order_id, status, changed_at, changed_by, notes)
		VALUES (?, ?, ?, ?, ?)`,
		so.ID, update.Status, update.ChangedAt, update.ChangedBy, update.Notes); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record status history"})
		return
	}

	// When every sub-order is delivered the parent order is complete.
	orderCompleted := false
	if so.Status == models.OrderDelivered {
		var remaining int
		err = tx.QueryRow(
			"SELECT COUNT(*) FROM seller_orders WHERE order_id = ? AND status <> ?",
			so.OrderID, models.OrderDelivered).Scan(&remaining)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to check sibling orders"})
			return
		}
		if remaining == 0 {
			if _, err := tx.Exec(
				"UPDATE orders SET status = ?, completed_at = ?, updated_at = ? WHERE id = ?",
				models.OrderCompleted, now, now, so.OrderID); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to complete order"})
				return
			}
			orderCompleted = true
		}
	}

	var buyerID int64
	_ = tx.QueryRow("SELECT buyer_id FROM orders WHERE id = ?", so.OrderID).Scan(&buyerID)

	if err := tx.Commit(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to commit status update"})
		return
	}

	if buyerID != 0 {
		orderLink := fmt.Sprintf("/orders/%d", so.OrderID)
		h.Notify(buyerID, "Order update",
			fmt.Sprintf("Part of your order #%d is now %s.", so.OrderID, so.Status),
			"order", orderLink, nil)
		if orderCompleted {
			h.Notify(buyerID, "Order delivered",
				fmt.Sprintf("All items of order #%d have been delivered.", so.OrderID),
				"order", orderLink, nil)
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"message":        "Status updated",
		"sellerOrderId":  so.ID,
		"status":         so.Status,
		"orderCompleted": orderCompleted,
	})
}
