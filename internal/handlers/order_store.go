package handlers

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/agribazaar/agribazaar-golang/internal/escrow"
	"github.com/agribazaar/agribazaar-golang/internal/models"
)

//
// --- Shared order persistence helpers ---
//
// Every mutation of an order's payment state goes through the same
// shape: lock the order row, lock its transfer ledger, mutate, persist,
// recompute the derived statuses, commit. These helpers keep that shape
// in one place.
//

const orderColumns = `
	id, buyer_id, total_amount, status, payment_status, payment_method,
	escrow_release_date, escrow_released_at, escrow_released_by,
	dispute_raised, dispute_reason, dispute_raised_by, dispute_raised_at,
	dispute_resolved, dispute_resolution, dispute_resolved_by, dispute_resolved_at,
	ship_street, ship_city, ship_state, ship_postal_code, ship_country,
	ship_latitude, ship_longitude,
	contact_name, contact_phone, contact_email,
	delivery_notes, completed_at, created_at, updated_at`

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryRow(query string, args ...any) *sql.Row
	Query(query string, args ...any) (*sql.Rows, error)
	Exec(query string, args ...any) (sql.Result, error)
}

func scanOrder(row *sql.Row) (*models.Order, error) {
	var o models.Order
	var deliveryNotes sql.NullString
	err := row.Scan(
		&o.ID, &o.BuyerID, &o.TotalAmount, &o.Status, &o.PaymentStatus, &o.PaymentMethod,
		&o.Escrow.ReleaseDate, &o.Escrow.ReleasedAt, &o.Escrow.ReleasedBy,
		&o.Escrow.DisputeRaised, &o.Escrow.DisputeReason, &o.Escrow.RaisedBy, &o.Escrow.RaisedAt,
		&o.Escrow.DisputeResolved, &o.Escrow.Resolution, &o.Escrow.ResolvedBy, &o.Escrow.ResolvedAt,
		&o.Shipping.Street, &o.Shipping.City, &o.Shipping.State, &o.Shipping.PostalCode, &o.Shipping.Country,
		&o.Shipping.Latitude, &o.Shipping.Longitude,
		&o.Contact.Name, &o.Contact.Phone, &o.Contact.Email,
		&deliveryNotes, &o.CompletedAt, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	o.DeliveryNotes = deliveryNotes.String
	return &o, nil
}

// lockOrder loads one order row and takes a row lock on it for the
// lifetime of the transaction.
func lockOrder(tx *sql.Tx, orderID int64) (*models.Order, error) {
	query := "SELECT" + orderColumns + " FROM orders WHERE id = ? FOR UPDATE"
	return scanOrder(tx.QueryRow(query, orderID))
}

// getOrder loads one order row without locking (read paths).
func getOrder(q querier, orderID int64) (*models.Order, error) {
	query := "SELECT" + orderColumns + " FROM orders WHERE id = ?"
	return scanOrder(q.QueryRow(query, orderID))
}

// loadTransfers reads the order's transfer ledger. With forUpdate the
// rows are locked so concurrent webhook deliveries serialize.
func loadTransfers(q querier, orderID int64, forUpdate bool) ([]*models.TransferRecord, error) {
	query := `
		SELECT id, order_id, seller_id, transfer_id, payment_intent_id,
		       amount, currency, status, metadata, created_at, updated_at
		FROM order_transfers
		WHERE order_id = ?
		ORDER BY seller_id`
	if forUpdate {
		query += " FOR UPDATE"
	}

	rows, err := q.Query(query, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*models.TransferRecord
	for rows.Next() {
		var entry models.TransferRecord
		var rawMeta []byte
		if err := rows.Scan(
			&entry.ID, &entry.OrderID, &entry.SellerID, &entry.TransferID, &entry.PaymentIntentID,
			&entry.Amount, &entry.Currency, &entry.Status, &rawMeta, &entry.CreatedAt, &entry.UpdatedAt,
		); err != nil {
			return nil, err
		}
		if len(rawMeta) > 0 {
			_ = json.Unmarshal(rawMeta, &entry.Metadata)
		}
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}

// findOrderIDByProviderID resolves a payment provider object id (payment
// intent or payout transfer) to the order it belongs to. sql.ErrNoRows
// means the event belongs to no order we track.
func findOrderIDByProviderID(q querier, providerID string) (int64, error) {
	var orderID int64
	err := q.QueryRow(`
		SELECT order_id FROM order_transfers
		WHERE payment_intent_id = ? OR transfer_id = ?
		LIMIT 1`, providerID, providerID).Scan(&orderID)
	return orderID, err
}

// insertTransfer writes a new ledger entry inside the checkout
// transaction and fills in its generated id.
func insertTransfer(tx *sql.Tx, entry *models.TransferRecord) error {
	meta, err := encodeMeta(entry.Metadata)
	if err != nil {
		return err
	}
	result, err := tx.Exec(`
		INSERT INTO order_transfers
			(order_id, seller_id, transfer_id, payment_intent_id, amount, currency, status, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.OrderID, entry.SellerID, entry.TransferID, entry.PaymentIntentID,
		entry.Amount, entry.Currency, entry.Status, meta, entry.CreatedAt, entry.UpdatedAt,
	)
	if err != nil {
		return err
	}
	entry.ID, err = result.LastInsertId()
	return err
}

// updateTransfer persists a mutated ledger entry.
func updateTransfer(q querier, entry *models.TransferRecord) error {
	meta, err := encodeMeta(entry.Metadata)
	if err != nil {
		return err
	}
	_, err = q.Exec(`
		UPDATE order_transfers
		SET transfer_id = ?, status = ?, metadata = ?, updated_at = ?
		WHERE id = ?`,
		entry.TransferID, entry.Status, meta, entry.UpdatedAt, entry.ID,
	)
	return err
}

// applyDerivedStatus recomputes the order's payment status from its
// ledger, rolls the fulfillment status forward where the payment status
// implies it, and persists both. The mutated order is updated in place.
func applyDerivedStatus(q querier, order *models.Order, entries []*models.TransferRecord) error {
	derived := escrow.DerivePaymentStatus(derefTransfers(entries), order.Escrow.DisputeOpen())
	order.PaymentStatus = derived
	order.Status = escrow.DeriveOrderStatus(order.Status, derived)
	order.UpdatedAt = time.Now()

	_, err := q.Exec(
		"UPDATE orders SET payment_status = ?, status = ?, updated_at = ? WHERE id = ?",
		order.PaymentStatus, order.Status, order.UpdatedAt, order.ID,
	)
	return err
}

func derefTransfers(entries []*models.TransferRecord) []models.TransferRecord {
	out := make([]models.TransferRecord, len(entries))
	for i, e := range entries {
		out[i] = *e
	}
	return out
}

func encodeMeta(meta map[string]string) ([]byte, error) {
	if len(meta) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}
	return raw, nil
}

// loadOrderItems reads the line items of an order.
func loadOrderItems(q querier, orderID int64) ([]models.OrderItem, error) {
	rows, err := q.Query(`
		SELECT id, order_id, product_id, seller_id, quantity, tier_index, line_price
		FROM order_items WHERE order_id = ?`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []models.OrderItem
	for rows.Next() {
		var item models.OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.SellerID,
			&item.Quantity, &item.TierIndex, &item.LinePrice); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// loadSellerOrders reads the per-seller sub-orders of an order.
func loadSellerOrders(q querier, orderID int64) ([]models.SellerOrder, error) {
	rows, err := q.Query(`
		SELECT id, order_id, seller_id, subtotal, delivery_charge, status, delivered_at
		FROM seller_orders WHERE order_id = ? ORDER BY seller_id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []models.SellerOrder
	for rows.Next() {
		var so models.SellerOrder
		if err := rows.Scan(&so.ID, &so.OrderID, &so.SellerID, &so.Subtotal,
			&so.DeliveryCharge, &so.Status, &so.DeliveredAt); err != nil {
			return nil, err
		}
		subs = append(subs, so)
	}
	return subs, rows.Err()
}

// sellerAccountResolver builds an escrow.AccountResolver backed by the
// users table. It is called at release time, never cached, so a seller
// who detached their payout account since checkout fails the release.
func (h *Handlers) sellerAccountResolver(q querier) escrow.AccountResolver {
	return func(sellerID int64) (string, error) {
		var account sql.NullString
		err := q.QueryRow("SELECT stripe_account_id FROM users WHERE id = ?", sellerID).Scan(&account)
		if err != nil {
			return "", fmt.Errorf("failed to look up seller %d: %w", sellerID, err)
		}
		if !account.Valid || account.String == "" {
			return "", fmt.Errorf("seller %d: %w", sellerID, escrow.ErrSellerNotPayable)
		}
		return account.String, nil
	}
}
