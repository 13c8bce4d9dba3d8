package escrow

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/agribazaar/agribazaar-golang/internal/models"
)

func entriesWith(statuses ...string) []models.TransferRecord {
	out := make([]models.TransferRecord, len(statuses))
	for i, s := range statuses {
		out[i] = models.TransferRecord{SellerID: int64(i + 1), Status: s}
	}
	return out
}

func TestDerivePaymentStatus(t *testing.T) {
	tests := []struct {
		name     string
		statuses []string
		want     string
	}{
		{"no entries", nil, models.PaymentPending},
		{"all pending", []string{models.TransferPending, models.TransferPending}, models.PaymentPending},
		{"one completed one pending", []string{models.TransferCompleted, models.TransferPending}, models.PaymentPending},
		{"all completed", []string{models.TransferCompleted, models.TransferCompleted}, models.PaymentHeldInEscrow},
		{"completed plus released stays held", []string{models.TransferCompleted, models.TransferReleased}, models.PaymentHeldInEscrow},
		{"all released", []string{models.TransferReleased, models.TransferReleased}, models.PaymentReleased},
		{"all failed", []string{models.TransferFailed, models.TransferFailed}, models.PaymentFailed},
		{"all refunded", []string{models.TransferRefunded, models.TransferRefunded}, models.PaymentRefunded},
		{"undefined mixture stays pending", []string{models.TransferFailed, models.TransferCompleted}, models.PaymentPending},
		{"single completed", []string{models.TransferCompleted}, models.PaymentHeldInEscrow},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, DerivePaymentStatus(entriesWith(tc.statuses...), false))
		})
	}
}

func TestDerivePaymentStatusDisputeOverrides(t *testing.T) {
	entries := entriesWith(models.TransferCompleted, models.TransferCompleted)
	assert.Equal(t, models.PaymentDisputed, DerivePaymentStatus(entries, true))

	// Once resolved, the entries speak for themselves again.
	assert.Equal(t, models.PaymentHeldInEscrow, DerivePaymentStatus(entries, false))
}

func TestDerivePaymentStatusIsPureRecompute(t *testing.T) {
	// Same entries in, same status out, regardless of call order: the
	// aggregate is always derivable from the current ledger alone.
	entries := entriesWith(models.TransferCompleted, models.TransferCompleted)
	first := DerivePaymentStatus(entries, false)
	entries[0].Status = models.TransferReleased
	second := DerivePaymentStatus(entries, false)
	entries[0].Status = models.TransferCompleted
	assert.Equal(t, first, DerivePaymentStatus(entries, false))
	assert.Equal(t, models.PaymentHeldInEscrow, second)
}

func TestDeriveOrderStatus(t *testing.T) {
	assert.Equal(t, models.OrderConfirmed, DeriveOrderStatus(models.OrderPending, models.PaymentHeldInEscrow))
	assert.Equal(t, models.OrderShipped, DeriveOrderStatus(models.OrderShipped, models.PaymentHeldInEscrow))
	assert.Equal(t, models.OrderCancelled, DeriveOrderStatus(models.OrderPending, models.PaymentFailed))
	assert.Equal(t, models.OrderCancelled, DeriveOrderStatus(models.OrderConfirmed, models.PaymentRefunded))
	assert.Equal(t, models.OrderPending, DeriveOrderStatus(models.OrderPending, models.PaymentPending))
}
