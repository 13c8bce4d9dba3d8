package escrow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agribazaar/agribazaar-golang/internal/models"
)

func TestCanTransitionSellerOrder(t *testing.T) {
	allowed := [][2]string{
		{models.OrderPending, models.OrderProcessing},
		{models.OrderPending, models.OrderCancelled},
		{models.OrderProcessing, models.OrderShipped},
		{models.OrderProcessing, models.OrderCancelled},
		{models.OrderShipped, models.OrderDelivered},
		{models.OrderShipped, models.OrderCancelled},
	}
	for _, pair := range allowed {
		assert.True(t, CanTransitionSellerOrder(pair[0], pair[1]), "%s -> %s", pair[0], pair[1])
	}

	denied := [][2]string{
		{models.OrderPending, models.OrderShipped},
		{models.OrderPending, models.OrderDelivered},
		{models.OrderProcessing, models.OrderDelivered},
		{models.OrderDelivered, models.OrderCancelled},
		{models.OrderDelivered, models.OrderShipped},
		{models.OrderCancelled, models.OrderProcessing},
		{models.OrderShipped, models.OrderProcessing},
	}
	for _, pair := range denied {
		assert.False(t, CanTransitionSellerOrder(pair[0], pair[1]), "%s -> %s", pair[0], pair[1])
	}
}

func TestTransitionSellerOrder(t *testing.T) {
	now := time.Now()
	so := &models.SellerOrder{ID: 7, Status: models.OrderShipped}

	err := TransitionSellerOrder(so, models.OrderDelivered, 42, "left at gate", now)
	require.NoError(t, err)
	assert.Equal(t, models.OrderDelivered, so.Status)
	require.NotNil(t, so.DeliveredAt)
	assert.Equal(t, now, *so.DeliveredAt)

	require.Len(t, so.History, 1)
	assert.Equal(t, models.OrderDelivered, so.History[0].Status)
	assert.Equal(t, int64(42), so.History[0].ChangedBy)
	assert.Equal(t, "left at gate", so.History[0].Notes)
}

func TestTransitionSellerOrderRejectsIllegalMove(t *testing.T) {
	so := &models.SellerOrder{Status: models.OrderDelivered}
	err := TransitionSellerOrder(so, models.OrderCancelled, 1, "", time.Now())
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, models.OrderDelivered, so.Status)
	assert.Empty(t, so.History)
}

func TestTransitionSellerOrderDefaultsToPending(t *testing.T) {
	so := &models.SellerOrder{}
	require.NoError(t, TransitionSellerOrder(so, models.OrderProcessing, 1, "", time.Now()))
	assert.Equal(t, models.OrderProcessing, so.Status)
}
