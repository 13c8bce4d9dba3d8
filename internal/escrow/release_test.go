package escrow

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agribazaar/agribazaar-golang/internal/models"
	"github.com/agribazaar/agribazaar-golang/internal/payments"
)

// fakeGateway records transfer calls and fails the accounts listed in
// failFor. Only ReleaseEscrowFunds matters to these tests.
type fakeGateway struct {
	payments.Gateway

	calls   []payments.ReleaseRequest
	failFor map[string]error
}

func (f *fakeGateway) ReleaseEscrowFunds(_ context.Context, req payments.ReleaseRequest) (*payments.ReleaseOutcome, error) {
	f.calls = append(f.calls, req)
	if err, ok := f.failFor[req.DestinationAccount]; ok {
		return nil, err
	}
	return &payments.ReleaseOutcome{
		TransferID: fmt.Sprintf("tr_%s", req.DestinationAccount),
		Amount:     int64(req.Amount * 100),
		Currency:   req.Currency,
	}, nil
}

func accountForSeller(sellerID int64) (string, error) {
	return fmt.Sprintf("acct_%d", sellerID), nil
}

func completedEntry(sellerID int64, amount float64) *models.TransferRecord {
	return &models.TransferRecord{
		SellerID:        sellerID,
		TransferID:      fmt.Sprintf("pi_%d", sellerID),
		PaymentIntentID: fmt.Sprintf("pi_%d", sellerID),
		Amount:          amount,
		Currency:        "pkr",
		Status:          models.TransferCompleted,
	}
}

func TestReleaseEntriesAllSellers(t *testing.T) {
	gw := &fakeGateway{}
	entries := []*models.TransferRecord{completedEntry(1, 1000), completedEntry(2, 300)}

	results, allReleased := ReleaseEntries(context.Background(), gw, 99, 7, entries, nil, accountForSeller, time.Now())
	require.Len(t, results, 2)
	assert.True(t, allReleased)

	for i, entry := range entries {
		assert.True(t, results[i].Success)
		assert.Equal(t, models.TransferReleased, entry.Status)
		assert.Equal(t, fmt.Sprintf("tr_acct_%d", entry.SellerID), entry.TransferID)
		assert.Equal(t, entry.TransferID, entry.Metadata["stripe_transfer_id"])
	}
	assert.Equal(t, models.PaymentReleased, DerivePaymentStatus(derefEntries(entries), false))

	require.Len(t, gw.calls, 2)
	assert.Equal(t, "pi_1", gw.calls[0].PaymentIntentID)
	assert.Equal(t, 1000.0, gw.calls[0].Amount)
	assert.Equal(t, "99", gw.calls[0].Metadata["order_id"])
}

// One seller's transfer failing must not roll back the other: the
// successful entry ends released, the failed one stays completed, and the
// derived payment status stays held in escrow.
func TestReleaseEntriesPartialFailure(t *testing.T) {
	gw := &fakeGateway{failFor: map[string]error{
		"acct_2": errors.New("destination account is restricted"),
	}}
	entries := []*models.TransferRecord{completedEntry(1, 1000), completedEntry(2, 300)}

	results, allReleased := ReleaseEntries(context.Background(), gw, 99, 7, entries, nil, accountForSeller, time.Now())
	require.Len(t, results, 2)
	assert.False(t, allReleased)

	assert.True(t, results[0].Success)
	assert.Equal(t, models.TransferReleased, entries[0].Status)

	assert.False(t, results[1].Success)
	assert.Contains(t, results[1].Error, "restricted")
	assert.Equal(t, models.TransferCompleted, entries[1].Status)

	assert.Equal(t, models.PaymentHeldInEscrow, DerivePaymentStatus(derefEntries(entries), false))
}

func TestReleaseEntriesAlreadyReleasedIsNoOp(t *testing.T) {
	gw := &fakeGateway{}
	released := completedEntry(1, 1000)
	released.Status = models.TransferReleased
	released.TransferID = "tr_prior"
	entries := []*models.TransferRecord{released, completedEntry(2, 300)}

	results, allReleased := ReleaseEntries(context.Background(), gw, 99, 7, entries, nil, accountForSeller, time.Now())
	require.Len(t, results, 2)
	assert.True(t, allReleased)

	assert.True(t, results[0].Success)
	assert.Equal(t, "tr_prior", results[0].TransferID)
	assert.Equal(t, "funds already released", results[0].Message)

	// Only the second seller reached the gateway.
	require.Len(t, gw.calls, 1)
	assert.Equal(t, "acct_2", gw.calls[0].DestinationAccount)
}

func TestReleaseEntriesSingleSellerFilter(t *testing.T) {
	gw := &fakeGateway{}
	entries := []*models.TransferRecord{completedEntry(1, 1000), completedEntry(2, 300)}
	only := int64(2)

	results, allReleased := ReleaseEntries(context.Background(), gw, 99, 7, entries, &only, accountForSeller, time.Now())
	require.Len(t, results, 1)
	assert.True(t, allReleased)
	assert.Equal(t, int64(2), results[0].SellerID)

	assert.Equal(t, models.TransferCompleted, entries[0].Status)
	assert.Equal(t, models.TransferReleased, entries[1].Status)
}

func TestReleaseEntriesSellerNotPayable(t *testing.T) {
	gw := &fakeGateway{}
	entries := []*models.TransferRecord{completedEntry(1, 1000)}

	results, allReleased := ReleaseEntries(context.Background(), gw, 99, 7, entries, nil,
		func(int64) (string, error) { return "", ErrSellerNotPayable }, time.Now())
	require.Len(t, results, 1)
	assert.False(t, allReleased)
	assert.False(t, results[0].Success)
	assert.Equal(t, models.TransferCompleted, entries[0].Status)
	assert.Empty(t, gw.calls)
}

func derefEntries(entries []*models.TransferRecord) []models.TransferRecord {
	out := make([]models.TransferRecord, len(entries))
	for i, e := range entries {
		out[i] = *e
	}
	return out
}
