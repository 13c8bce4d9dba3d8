package escrow

import (
	"context"
	"strconv"
	"time"

	"github.com/agribazaar/agribazaar-golang/internal/models"
	"github.com/agribazaar/agribazaar-golang/internal/payments"
)

// AccountResolver looks up a seller's payout account id fresh at release
// time. It returns ErrSellerNotPayable when the seller has none.
type AccountResolver func(sellerID int64) (string, error)

// ReleaseResult is one seller's outcome in a multi-seller release.
type ReleaseResult struct {
	SellerID        int64   `json:"sellerId"`
	Success         bool    `json:"success"`
	TransferID      string  `json:"transferId,omitempty"`
	PaymentIntentID string  `json:"paymentIntentId,omitempty"`
	Amount          float64 `json:"amount,omitempty"`
	Message         string  `json:"message,omitempty"`
	Error           string  `json:"error,omitempty"`
}

// ReleaseEntries releases held funds for the given ledger entries through
// the gateway. Already-released entries are skipped as no-op successes.
// A failure on one seller does not roll back the others: successes are
// applied to their entries in place and the caller persists them, so
// partial release is a valid, reportable end state. The second return
// value reports whether every entry (of those attempted) ended released.
func ReleaseEntries(
	ctx context.Context,
	gw payments.Gateway,
	orderID int64,
	buyerID int64,
	entries []*models.TransferRecord,
	onlySellerID *int64,
	resolve AccountResolver,
	now time.Time,
) ([]ReleaseResult, bool) {
	var results []ReleaseResult
	allReleased := true

	for _, entry := range entries {
		if onlySellerID != nil && entry.SellerID != *onlySellerID {
			continue
		}

		if entry.Status == models.TransferReleased {
			results = append(results, ReleaseResult{
				SellerID:        entry.SellerID,
				Success:         true,
				TransferID:      entry.TransferID,
				PaymentIntentID: entry.PaymentIntentID,
				Message:         "funds already released",
			})
			continue
		}

		account, err := resolve(entry.SellerID)
		if err != nil {
			allReleased = false
			results = append(results, ReleaseResult{
				SellerID:        entry.SellerID,
				Success:         false,
				PaymentIntentID: entry.PaymentIntentID,
				Error:           err.Error(),
			})
			continue
		}

		outcome, err := gw.ReleaseEscrowFunds(ctx, payments.ReleaseRequest{
			PaymentIntentID:    entry.PaymentIntentID,
			DestinationAccount: account,
			Amount:             entry.Amount,
			Currency:           entry.Currency,
			Metadata: map[string]string{
				"order_id":  strconv.FormatInt(orderID, 10),
				"seller_id": strconv.FormatInt(entry.SellerID, 10),
				"buyer_id":  strconv.FormatInt(buyerID, 10),
			},
		})
		if err != nil {
			allReleased = false
			results = append(results, ReleaseResult{
				SellerID:        entry.SellerID,
				Success:         false,
				PaymentIntentID: entry.PaymentIntentID,
				Error:           err.Error(),
			})
			continue
		}

		entry.Status = models.TransferReleased
		entry.TransferID = outcome.TransferID
		entry.SetMeta("stripe_transfer_id", outcome.TransferID)
		entry.SetMeta("released_at", now.UTC().Format(time.RFC3339))
		entry.UpdatedAt = now

		results = append(results, ReleaseResult{
			SellerID:        entry.SellerID,
			Success:         true,
			TransferID:      outcome.TransferID,
			PaymentIntentID: entry.PaymentIntentID,
			Amount:          entry.Amount,
		})
	}

	return results, allReleased
}
