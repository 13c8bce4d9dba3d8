package escrow

import (
	"fmt"

	"github.com/agribazaar/agribazaar-golang/internal/geo"
	"github.com/agribazaar/agribazaar-golang/internal/models"
)

// AssemblyItem is one cart line resolved against the product and user
// stores: live stock, the product's price and delivery tiers, and the
// seller's coordinates when known.
type AssemblyItem struct {
	ProductID     int64
	ProductName   string
	SellerID      int64
	Quantity      int
	SelectedTier  int
	Stock         int
	PriceTiers    []models.PriceTier
	DeliveryTiers []models.DeliveryTier
	SellerLat     *float64
	SellerLng     *float64
}

// DraftLine is a priced order line.
type DraftLine struct {
	ProductID int64
	SellerID  int64
	Quantity  int
	TierIndex int
	LinePrice float64
}

// DraftSellerOrder groups one seller's lines with their subtotal and
// delivery charge. ChargeAmount is what the seller's payment hold is
// sized at.
type DraftSellerOrder struct {
	SellerID       int64
	Lines          []DraftLine
	Subtotal       float64
	DeliveryCharge float64
}

// ChargeAmount is the hold size for this seller: subtotal plus delivery.
func (d *DraftSellerOrder) ChargeAmount() float64 {
	return d.Subtotal + d.DeliveryCharge
}

// Draft is the pure result of order assembly: priced lines grouped by
// seller plus the recomputed total. Nothing here touches storage or the
// payment gateway.
type Draft struct {
	Lines       []DraftLine
	Sellers     []DraftSellerOrder
	TotalAmount float64
}

// BuildDraft turns resolved cart lines into an order draft.
//
// The stock check here is read-then-decide: the actual decrement is
// deferred to payment confirmation, so two concurrent buyers can both pass
// for the last unit. That window is a deliberate, flagged design choice
// (closing it with a reservation would change when assembly fails).
func BuildDraft(items []AssemblyItem, buyerLat, buyerLng *float64) (*Draft, error) {
	if len(items) == 0 {
		return nil, ErrEmptyCart
	}

	draft := &Draft{}
	bySeller := make(map[int64]int) // seller id -> index into draft.Sellers

	for _, item := range items {
		if item.Quantity < 1 {
			return nil, fmt.Errorf("%w: quantity must be at least 1 for %s", ErrInvalidTier, item.ProductName)
		}
		if item.Stock < item.Quantity {
			return nil, fmt.Errorf("%w for %s", ErrInsufficientStock, item.ProductName)
		}

		tier := findPriceTier(item.PriceTiers, item.SelectedTier)
		if tier == nil {
			return nil, fmt.Errorf("%w for %s", ErrInvalidTier, item.ProductName)
		}

		line := DraftLine{
			ProductID: item.ProductID,
			SellerID:  item.SellerID,
			Quantity:  item.Quantity,
			TierIndex: item.SelectedTier,
			LinePrice: tier.Price * float64(item.Quantity),
		}
		draft.Lines = append(draft.Lines, line)
		draft.TotalAmount += line.LinePrice

		idx, ok := bySeller[item.SellerID]
		if !ok {
			idx = len(draft.Sellers)
			bySeller[item.SellerID] = idx
			draft.Sellers = append(draft.Sellers, DraftSellerOrder{SellerID: item.SellerID})
		}
		draft.Sellers[idx].Lines = append(draft.Sellers[idx].Lines, line)
		draft.Sellers[idx].Subtotal += line.LinePrice
	}

	// Delivery charges need both endpoints. The charge is per-seller-
	// shipment: the max single-item tier price among the seller's items,
	// not a sum.
	if buyerLat != nil && buyerLng != nil {
		for i := range draft.Sellers {
			so := &draft.Sellers[i]
			so.DeliveryCharge = sellerDeliveryCharge(items, so.SellerID, *buyerLat, *buyerLng)
			draft.TotalAmount += so.DeliveryCharge
		}
	}

	return draft, nil
}

func findPriceTier(tiers []models.PriceTier, index int) *models.PriceTier {
	for i := range tiers {
		if tiers[i].TierIndex == index {
			return &tiers[i]
		}
	}
	return nil
}

func sellerDeliveryCharge(items []AssemblyItem, sellerID int64, buyerLat, buyerLng float64) float64 {
	var charge float64
	for _, item := range items {
		if item.SellerID != sellerID || len(item.DeliveryTiers) == 0 {
			continue
		}
		if item.SellerLat == nil || item.SellerLng == nil {
			continue
		}
		distance := geo.Haversine(*item.SellerLat, *item.SellerLng, buyerLat, buyerLng)
		if tier := geo.PickDeliveryTier(item.DeliveryTiers, distance); tier != nil && tier.Price > charge {
			charge = tier.Price
		}
	}
	return charge
}
