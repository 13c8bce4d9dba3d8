package escrow

import (
	"fmt"
	"time"

	"github.com/agribazaar/agribazaar-golang/internal/models"
)

// sellerOrderTransitions is the explicit transition table for a seller
// sub-order. delivered and cancelled are terminal.
var sellerOrderTransitions = map[string][]string{
	models.OrderPending:    {models.OrderProcessing, models.OrderCancelled},
	models.OrderProcessing: {models.OrderShipped, models.OrderCancelled},
	models.OrderShipped:    {models.OrderDelivered, models.OrderCancelled},
	models.OrderDelivered:  {},
	models.OrderCancelled:  {},
}

// CanTransitionSellerOrder reports whether a sub-order may move from one
// status to another.
func CanTransitionSellerOrder(from, to string) bool {
	for _, allowed := range sellerOrderTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// TransitionSellerOrder validates and applies a sub-order status change,
// appending to the audit history and stamping deliveredAt on delivery.
func TransitionSellerOrder(so *models.SellerOrder, to string, changedBy int64, notes string, now time.Time) error {
	from := so.Status
	if from == "" {
		from = models.OrderPending
	}
	if !CanTransitionSellerOrder(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	so.Status = to
	so.History = append(so.History, models.SellerStatusUpdate{
		SellerOrderID: so.ID,
		Status:        to,
		ChangedAt:     now,
		ChangedBy:     changedBy,
		Notes:         notes,
	})
	if to == models.OrderDelivered {
		so.DeliveredAt = &now
	}
	return nil
}
