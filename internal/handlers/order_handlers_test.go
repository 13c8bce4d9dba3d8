package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agribazaar/agribazaar-golang/internal/models"
)

var (
	buyerCustomerQuery   = regexp.QuoteMeta("SELECT email, name, stripe_customer_id FROM users WHERE id = ?")
	cartQuery            = regexp.QuoteMeta("SELECT id FROM carts WHERE user_id = ?")
	assemblyQuery        = regexp.QuoteMeta("FROM cart_items ci")
	priceTiersQuery      = regexp.QuoteMeta("FROM product_price_tiers")
	deliveryTiersQuery   = regexp.QuoteMeta("FROM product_delivery_tiers")
	insertOrderQuery     = regexp.QuoteMeta("INSERT INTO orders")
	insertOrderItemQuery = regexp.QuoteMeta("INSERT INTO order_items")
	insertSellerOrdQuery = regexp.QuoteMeta("INSERT INTO seller_orders")
	insertTransferQuery  = regexp.QuoteMeta("INSERT INTO order_transfers")
)

func checkoutBody() gin.H {
	return gin.H{
		"shippingAddress": gin.H{
			"street": "12 Canal Rd", "city": "Lahore", "state": "Punjab",
			"postalCode": "54000", "country": "PK",
		},
		"contactInfo": gin.H{
			"name": "Buyer", "phone": "+92-300-0000000", "email": "buyer@example.com",
		},
	}
}

func singleTierRows(productID int64, price float64) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "product_id", "tier_index", "min_qty", "max_qty", "price"}).
		AddRow(productID*10, productID, 0, 1, nil, price)
}

func noDeliveryTierRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "product_id", "min_km", "max_km", "price"})
}

// Checkout is all-or-nothing: when the second seller in a two-seller cart
// has no payout account, the whole transaction rolls back. No order, no
// sub-orders and no ledger entries survive, even though the first seller's
// payment hold had already been created.
func TestCreateEscrowOrderRollsBackWhenSellerNotPayable(t *testing.T) {
	h, mock, gw := newTestHandlers(t)
	const buyerID = int64(7)

	mock.ExpectQuery(buyerCustomerQuery).WithArgs(buyerID).
		WillReturnRows(sqlmock.NewRows([]string{"email", "name", "stripe_customer_id"}).
			AddRow("buyer@example.com", "Buyer", "cus_7"))

	mock.ExpectBegin()
	mock.ExpectQuery(cartQuery).WithArgs(buyerID).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(3)))
	mock.ExpectQuery(assemblyQuery).WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{
			"product_id", "quantity", "selected_tier", "name", "seller_id", "stock", "latitude", "longitude",
		}).
			AddRow(int64(101), 10, 0, "Basmati rice", int64(1), 50, nil, nil).
			AddRow(int64(102), 5, 0, "Chaunsa mangoes", int64(2), 20, nil, nil))
	mock.ExpectQuery(priceTiersQuery).WithArgs(int64(101)).WillReturnRows(singleTierRows(101, 100))
	mock.ExpectQuery(deliveryTiersQuery).WithArgs(int64(101)).WillReturnRows(noDeliveryTierRows())
	mock.ExpectQuery(priceTiersQuery).WithArgs(int64(102)).WillReturnRows(singleTierRows(102, 60))
	mock.ExpectQuery(deliveryTiersQuery).WithArgs(int64(102)).WillReturnRows(noDeliveryTierRows())

	mock.ExpectExec(insertOrderQuery).WillReturnResult(sqlmock.NewResult(42, 1))
	mock.ExpectExec(insertOrderItemQuery).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(insertOrderItemQuery).WillReturnResult(sqlmock.NewResult(2, 1))

	// Seller 1 is payable and gets a hold; seller 2 has no payout account.
	mock.ExpectQuery(sellerAccountQuery).WithArgs(int64(1)).WillReturnRows(accountRow("acct_1"))
	mock.ExpectExec(insertSellerOrdQuery).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(insertTransferQuery).WillReturnResult(sqlmock.NewResult(11, 1))
	mock.ExpectQuery(sellerAccountQuery).WithArgs(int64(2)).WillReturnRows(accountRow(nil))
	mock.ExpectRollback()

	w := httptest.NewRecorder()
	c := newTestContext(t, w, http.MethodPost, "/v1/orders/escrow", checkoutBody(), buyerID)
	h.CreateEscrowOrder(c)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "payout account")
	require.Len(t, gw.chargeCalls, 1)
	assert.Equal(t, "acct_1", gw.chargeCalls[0].DestinationAccount)
	require.NoError(t, mock.ExpectationsWereMet())
}

// A hold the provider cannot void stays live, so the cancellation must
// abort instead of marking the ledger entry refunded.
func TestCancelOrderAbortsWhenVoidFails(t *testing.T) {
	h, mock, gw := newTestHandlers(t)
	gw.refundErr = errors.New("provider unavailable")

	mock.ExpectBegin()
	mock.ExpectQuery(lockOrderQuery).WithArgs(int64(42)).
		WillReturnRows(orderRow(42, 7, models.OrderPending, models.PaymentPending, false))
	mock.ExpectQuery(loadTransfersQuery).WithArgs(int64(42)).
		WillReturnRows(transferRows(ledgerEntry(11, 42, 1, 1000, models.TransferPending)))
	mock.ExpectRollback()

	w := httptest.NewRecorder()
	c := newTestContext(t, w, http.MethodPost, "/v1/orders/42/cancel", nil, 7)
	c.Params = gin.Params{{Key: "id", Value: "42"}}
	h.CancelOrder(c)

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), "Could not void the payment hold")
	require.Equal(t, []string{"pi_1"}, gw.refundCalls)
	require.NoError(t, mock.ExpectationsWereMet())
}
