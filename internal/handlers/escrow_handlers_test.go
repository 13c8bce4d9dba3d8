package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agribazaar/agribazaar-golang/internal/models"
	"github.com/agribazaar/agribazaar-golang/internal/payments"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// Query fragments for the mock driver's regexp matcher.
var (
	lockOrderQuery          = regexp.QuoteMeta("FROM orders WHERE id = ? FOR UPDATE")
	loadTransfersQuery      = regexp.QuoteMeta("FROM order_transfers WHERE order_id = ?")
	sellerAccountQuery      = regexp.QuoteMeta("SELECT stripe_account_id FROM users WHERE id = ?")
	updateTransferQuery     = regexp.QuoteMeta("UPDATE order_transfers SET transfer_id = ?")
	derivedStatusQuery      = regexp.QuoteMeta("UPDATE orders SET payment_status = ?, status = ?, updated_at = ? WHERE id = ?")
	releaseStampQuery       = regexp.QuoteMeta("UPDATE orders SET escrow_released_at = ?, escrow_released_by = ? WHERE id = ?")
	resolveDisputeQuery     = regexp.QuoteMeta("SET dispute_resolved = TRUE")
	insertNotificationQuery = regexp.QuoteMeta("INSERT INTO notifications")
	sweepScanQuery          = regexp.QuoteMeta("dispute_raised = FALSE")
)

// stubGateway records every call so tests can assert exactly which money
// movements reached the provider.
type stubGateway struct {
	payments.Gateway

	chargeCalls []payments.EscrowChargeRequest
	chargeErr   error

	releaseCalls   []payments.ReleaseRequest
	releaseFailFor map[string]error

	refundCalls []string
	refundErr   error
	refundOK    int // refunds that still succeed when refundErr is set
}

func (g *stubGateway) CreateEscrowCharge(_ context.Context, req payments.EscrowChargeRequest) (*payments.Hold, error) {
	g.chargeCalls = append(g.chargeCalls, req)
	if g.chargeErr != nil {
		return nil, g.chargeErr
	}
	id := fmt.Sprintf("pi_%s", req.Metadata["seller_id"])
	return &payments.Hold{
		ID:           id,
		ClientSecret: id + "_secret",
		Amount:       int64(req.Amount * 100),
		Currency:     req.Currency,
		Status:       payments.IntentRequiresPaymentMethod,
	}, nil
}

func (g *stubGateway) ReleaseEscrowFunds(_ context.Context, req payments.ReleaseRequest) (*payments.ReleaseOutcome, error) {
	g.releaseCalls = append(g.releaseCalls, req)
	if err, ok := g.releaseFailFor[req.DestinationAccount]; ok {
		return nil, err
	}
	return &payments.ReleaseOutcome{
		TransferID: "tr_" + req.DestinationAccount,
		Amount:     int64(req.Amount * 100),
		Currency:   req.Currency,
	}, nil
}

func (g *stubGateway) RefundEscrowPayment(_ context.Context, paymentIntentID, _ string) (*payments.RefundOutcome, error) {
	g.refundCalls = append(g.refundCalls, paymentIntentID)
	if g.refundErr != nil && len(g.refundCalls) > g.refundOK {
		return nil, g.refundErr
	}
	return &payments.RefundOutcome{ID: "re_" + paymentIntentID, Status: "succeeded", Canceled: true}, nil
}

func newTestHandlers(t *testing.T) (*Handlers, sqlmock.Sqlmock, *stubGateway) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	gw := &stubGateway{}
	return NewHandlers(db, gw, nil, zerolog.Nop(), false), mock, gw
}

func newTestContext(t *testing.T, w *httptest.ResponseRecorder, method, path string, body any, userID int64) *gin.Context {
	t.Helper()
	c, _ := gin.CreateTestContext(w)

	var payload []byte
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		payload = raw
	}
	c.Request = httptest.NewRequest(method, path, bytes.NewReader(payload))
	c.Request.Header.Set("Content-Type", "application/json")
	c.Set("userID", userID)
	return c
}

var orderRowColumns = []string{
	"id", "buyer_id", "total_amount", "status", "payment_status", "payment_method",
	"escrow_release_date", "escrow_released_at", "escrow_released_by",
	"dispute_raised", "dispute_reason", "dispute_raised_by", "dispute_raised_at",
	"dispute_resolved", "dispute_resolution", "dispute_resolved_by", "dispute_resolved_at",
	"ship_street", "ship_city", "ship_state", "ship_postal_code", "ship_country",
	"ship_latitude", "ship_longitude",
	"contact_name", "contact_phone", "contact_email",
	"delivery_notes", "completed_at", "created_at", "updated_at",
}

func orderRow(orderID, buyerID int64, status, paymentStatus string, disputed bool) *sqlmock.Rows {
	now := time.Now()
	var reason, raisedBy, raisedAt any
	if disputed {
		reason, raisedBy, raisedAt = "items never arrived", buyerID, now
	}
	return sqlmock.NewRows(orderRowColumns).AddRow(
		orderID, buyerID, 1300.0, status, paymentStatus, "card",
		now.AddDate(0, 0, escrowHoldDays), nil, nil,
		disputed, reason, raisedBy, raisedAt,
		false, nil, nil, nil,
		"12 Canal Rd", "Lahore", "Punjab", "54000", "PK",
		nil, nil,
		"Buyer", "+92-300-0000000", "buyer@example.com",
		nil, nil, now, now,
	)
}

func ledgerEntry(id, orderID, sellerID int64, amount float64, status string) *models.TransferRecord {
	pi := fmt.Sprintf("pi_%d", sellerID)
	return &models.TransferRecord{
		ID: id, OrderID: orderID, SellerID: sellerID,
		TransferID: pi, PaymentIntentID: pi,
		Amount: amount, Currency: "pkr", Status: status,
	}
}

func transferRows(entries ...*models.TransferRecord) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{
		"id", "order_id", "seller_id", "transfer_id", "payment_intent_id",
		"amount", "currency", "status", "metadata", "created_at", "updated_at",
	})
	now := time.Now()
	for _, e := range entries {
		rows.AddRow(e.ID, e.OrderID, e.SellerID, e.TransferID, e.PaymentIntentID,
			e.Amount, e.Currency, e.Status, nil, now, now)
	}
	return rows
}

func accountRow(account any) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"stripe_account_id"}).AddRow(account)
}

// A dispute resolution in the sellers' favor where one transfer fails must
// commit the transfers that did settle and keep the dispute open. A retry
// then skips the settled sellers, so each seller is paid exactly once
// across the two attempts.
func TestResolveDisputePartialFailureKeepsSettledTransfers(t *testing.T) {
	h, mock, gw := newTestHandlers(t)
	gw.releaseFailFor = map[string]error{"acct_2": errors.New("destination account is restricted")}

	const orderID, buyerID, adminID = int64(42), int64(7), int64(99)

	// First attempt: seller 1's transfer settles, seller 2's fails.
	mock.ExpectBegin()
	mock.ExpectQuery(lockOrderQuery).WithArgs(orderID).
		WillReturnRows(orderRow(orderID, buyerID, models.OrderConfirmed, models.PaymentDisputed, true))
	mock.ExpectQuery(loadTransfersQuery).WithArgs(orderID).
		WillReturnRows(transferRows(
			ledgerEntry(11, orderID, 1, 1000, models.TransferCompleted),
			ledgerEntry(12, orderID, 2, 300, models.TransferCompleted),
		))
	mock.ExpectQuery(sellerAccountQuery).WithArgs(int64(1)).WillReturnRows(accountRow("acct_1"))
	mock.ExpectQuery(sellerAccountQuery).WithArgs(int64(2)).WillReturnRows(accountRow("acct_2"))
	mock.ExpectExec(updateTransferQuery).
		WithArgs("tr_acct_1", models.TransferReleased, sqlmock.AnyArg(), sqlmock.AnyArg(), int64(11)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(derivedStatusQuery).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), orderID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	w := httptest.NewRecorder()
	c := newTestContext(t, w, http.MethodPost, "/v1/orders/42/resolve-dispute",
		gin.H{"releaseToSeller": true}, adminID)
	c.Params = gin.Params{{Key: "id", Value: "42"}}
	h.ResolveDispute(c)

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), "dispute remains open")
	require.Len(t, gw.releaseCalls, 2)
	require.NoError(t, mock.ExpectationsWereMet())

	// Retry after the provider recovers: the ledger now shows seller 1
	// released, so only seller 2 reaches the gateway.
	gw.releaseFailFor = nil

	settled := ledgerEntry(11, orderID, 1, 1000, models.TransferReleased)
	settled.TransferID = "tr_acct_1"

	mock.ExpectBegin()
	mock.ExpectQuery(lockOrderQuery).WithArgs(orderID).
		WillReturnRows(orderRow(orderID, buyerID, models.OrderConfirmed, models.PaymentDisputed, true))
	mock.ExpectQuery(loadTransfersQuery).WithArgs(orderID).
		WillReturnRows(transferRows(settled, ledgerEntry(12, orderID, 2, 300, models.TransferCompleted)))
	mock.ExpectQuery(sellerAccountQuery).WithArgs(int64(2)).WillReturnRows(accountRow("acct_2"))
	mock.ExpectExec(updateTransferQuery).
		WithArgs("tr_acct_1", models.TransferReleased, sqlmock.AnyArg(), sqlmock.AnyArg(), int64(11)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(updateTransferQuery).
		WithArgs("tr_acct_2", models.TransferReleased, sqlmock.AnyArg(), sqlmock.AnyArg(), int64(12)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(releaseStampQuery).
		WithArgs(sqlmock.AnyArg(), adminID, orderID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(resolveDisputeQuery).
		WithArgs("released_to_seller", adminID, sqlmock.AnyArg(), sqlmock.AnyArg(), orderID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(derivedStatusQuery).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), orderID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	for i := 0; i < 3; i++ { // buyer + both sellers notified
		mock.ExpectExec(insertNotificationQuery).WillReturnResult(sqlmock.NewResult(int64(i+1), 1))
	}

	w = httptest.NewRecorder()
	c = newTestContext(t, w, http.MethodPost, "/v1/orders/42/resolve-dispute",
		gin.H{"releaseToSeller": true}, adminID)
	c.Params = gin.Params{{Key: "id", Value: "42"}}
	h.ResolveDispute(c)

	assert.Equal(t, http.StatusOK, w.Code)

	var sellerOneTransfers int
	for _, call := range gw.releaseCalls {
		if call.DestinationAccount == "acct_1" {
			sellerOneTransfers++
		}
	}
	assert.Equal(t, 1, sellerOneTransfers)
	require.NoError(t, mock.ExpectationsWereMet())
}

// A refund resolution aborting mid-loop must keep the refunds that already
// happened at the provider on record.
func TestResolveDisputeRefundFailureCommitsCompletedRefunds(t *testing.T) {
	h, mock, gw := newTestHandlers(t)

	const orderID, buyerID, adminID = int64(42), int64(7), int64(99)

	mock.ExpectBegin()
	mock.ExpectQuery(lockOrderQuery).WithArgs(orderID).
		WillReturnRows(orderRow(orderID, buyerID, models.OrderConfirmed, models.PaymentDisputed, true))
	mock.ExpectQuery(loadTransfersQuery).WithArgs(orderID).
		WillReturnRows(transferRows(
			ledgerEntry(11, orderID, 1, 1000, models.TransferCompleted),
			ledgerEntry(12, orderID, 2, 300, models.TransferCompleted),
		))
	mock.ExpectExec(updateTransferQuery).
		WithArgs("pi_1", models.TransferRefunded, sqlmock.AnyArg(), sqlmock.AnyArg(), int64(11)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(derivedStatusQuery).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), orderID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	// First refund succeeds, then the provider goes away.
	gw.refundErr = errors.New("provider unavailable")
	gw.refundOK = 1

	w := httptest.NewRecorder()
	c := newTestContext(t, w, http.MethodPost, "/v1/orders/42/resolve-dispute",
		gin.H{"refundBuyer": true}, adminID)
	c.Params = gin.Params{{Key: "id", Value: "42"}}
	h.ResolveDispute(c)

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), "dispute remains open")
	require.Equal(t, []string{"pi_1", "pi_2"}, gw.refundCalls)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReleaseEscrowFundsRejectsSellerWithoutEntry(t *testing.T) {
	h, mock, gw := newTestHandlers(t)

	mock.ExpectBegin()
	mock.ExpectQuery(lockOrderQuery).WithArgs(int64(42)).
		WillReturnRows(orderRow(42, 7, models.OrderConfirmed, models.PaymentHeldInEscrow, false))
	mock.ExpectQuery(loadTransfersQuery).WithArgs(int64(42)).
		WillReturnRows(transferRows(
			ledgerEntry(11, 42, 1, 1000, models.TransferCompleted),
			ledgerEntry(12, 42, 2, 300, models.TransferCompleted),
		))
	mock.ExpectRollback()

	w := httptest.NewRecorder()
	c := newTestContext(t, w, http.MethodPost, "/v1/orders/42/release-escrow",
		gin.H{"sellerId": 99}, 7)
	c.Params = gin.Params{{Key: "id", Value: "42"}}
	h.ReleaseEscrowFunds(c)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "no funds on this order")
	assert.Empty(t, gw.releaseCalls)
	require.NoError(t, mock.ExpectationsWereMet())
}

// A dispute raised between the sweep's scan and the row lock must stop the
// release: the scan predicate excludes disputed orders, and the re-check
// under the lock catches the race.
func TestEscrowSweepSkipsOrderDisputedAfterScan(t *testing.T) {
	h, mock, gw := newTestHandlers(t)

	mock.ExpectQuery(sweepScanQuery).WithArgs(models.PaymentHeldInEscrow).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))
	mock.ExpectBegin()
	mock.ExpectQuery(lockOrderQuery).WithArgs(int64(42)).
		WillReturnRows(orderRow(42, 7, models.OrderConfirmed, models.PaymentHeldInEscrow, true))
	mock.ExpectRollback()

	summary := h.RunEscrowReleaseSweep(context.Background())

	assert.Equal(t, 1, summary.Checked)
	assert.Equal(t, 0, summary.Released)
	assert.Equal(t, 1, summary.Failed)
	assert.Empty(t, gw.releaseCalls)
	require.NoError(t, mock.ExpectationsWereMet())
}
