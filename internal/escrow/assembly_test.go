package escrow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agribazaar/agribazaar-golang/internal/models"
)

func fptr(v float64) *float64 { return &v }

func tier(index int, price float64) models.PriceTier {
	return models.PriceTier{TierIndex: index, Price: price}
}

func TestBuildDraftEmptyCart(t *testing.T) {
	_, err := BuildDraft(nil, nil, nil)
	assert.ErrorIs(t, err, ErrEmptyCart)
}

func TestBuildDraftInsufficientStock(t *testing.T) {
	items := []AssemblyItem{{
		ProductID: 1, ProductName: "Wheat", SellerID: 10,
		Quantity: 5, Stock: 3,
		PriceTiers: []models.PriceTier{tier(0, 100)},
	}}
	_, err := BuildDraft(items, nil, nil)
	assert.ErrorIs(t, err, ErrInsufficientStock)
	assert.Contains(t, err.Error(), "Wheat")
}

func TestBuildDraftInvalidTier(t *testing.T) {
	items := []AssemblyItem{{
		ProductID: 1, ProductName: "Wheat", SellerID: 10,
		Quantity: 1, Stock: 10, SelectedTier: 3,
		PriceTiers: []models.PriceTier{tier(0, 100)},
	}}
	_, err := BuildDraft(items, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidTier)
}

// Cart of [{A, seller S1, tier price 500, qty 2}, {B, seller S2, tier price
// 300, qty 1}] with no delivery tiers: total 1300, two seller groups sized
// 1000 and 300.
func TestBuildDraftTwoSellerScenario(t *testing.T) {
	items := []AssemblyItem{
		{
			ProductID: 1, ProductName: "Product A", SellerID: 1,
			Quantity: 2, Stock: 10, SelectedTier: 0,
			PriceTiers: []models.PriceTier{tier(0, 500)},
		},
		{
			ProductID: 2, ProductName: "Product B", SellerID: 2,
			Quantity: 1, Stock: 5, SelectedTier: 0,
			PriceTiers: []models.PriceTier{tier(0, 300)},
		},
	}

	draft, err := BuildDraft(items, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, 1300.0, draft.TotalAmount)
	require.Len(t, draft.Sellers, 2)
	assert.Equal(t, int64(1), draft.Sellers[0].SellerID)
	assert.Equal(t, 1000.0, draft.Sellers[0].ChargeAmount())
	assert.Equal(t, int64(2), draft.Sellers[1].SellerID)
	assert.Equal(t, 300.0, draft.Sellers[1].ChargeAmount())
	assert.Len(t, draft.Lines, 2)
}

func TestBuildDraftGroupsMultipleLinesPerSeller(t *testing.T) {
	items := []AssemblyItem{
		{ProductID: 1, SellerID: 1, Quantity: 1, Stock: 5, PriceTiers: []models.PriceTier{tier(0, 200)}},
		{ProductID: 2, SellerID: 1, Quantity: 2, Stock: 5, PriceTiers: []models.PriceTier{tier(0, 150)}},
	}
	draft, err := BuildDraft(items, nil, nil)
	require.NoError(t, err)
	require.Len(t, draft.Sellers, 1)
	assert.Equal(t, 500.0, draft.Sellers[0].Subtotal)
	assert.Len(t, draft.Sellers[0].Lines, 2)
}

// The delivery charge is per-seller-shipment: the max single-item tier
// price among that seller's items, not a sum.
func TestBuildDraftDeliveryChargeIsMaxNotSum(t *testing.T) {
	// Seller at the same coordinates as the buyer: distance 0.
	lat, lng := 31.5204, 74.3587
	items := []AssemblyItem{
		{
			ProductID: 1, SellerID: 1, Quantity: 1, Stock: 5,
			PriceTiers:    []models.PriceTier{tier(0, 100)},
			DeliveryTiers: []models.DeliveryTier{{MinKM: 0, MaxKM: fptr(50), Price: 120}},
			SellerLat:     &lat, SellerLng: &lng,
		},
		{
			ProductID: 2, SellerID: 1, Quantity: 1, Stock: 5,
			PriceTiers:    []models.PriceTier{tier(0, 100)},
			DeliveryTiers: []models.DeliveryTier{{MinKM: 0, MaxKM: fptr(50), Price: 80}},
			SellerLat:     &lat, SellerLng: &lng,
		},
	}

	draft, err := BuildDraft(items, &lat, &lng)
	require.NoError(t, err)
	require.Len(t, draft.Sellers, 1)
	assert.Equal(t, 120.0, draft.Sellers[0].DeliveryCharge)
	assert.Equal(t, 200.0+120.0, draft.TotalAmount)
}

func TestBuildDraftNoBuyerCoordinatesSkipsDelivery(t *testing.T) {
	lat, lng := 31.5204, 74.3587
	items := []AssemblyItem{{
		ProductID: 1, SellerID: 1, Quantity: 1, Stock: 5,
		PriceTiers:    []models.PriceTier{tier(0, 100)},
		DeliveryTiers: []models.DeliveryTier{{MinKM: 0, MaxKM: fptr(50), Price: 120}},
		SellerLat:     &lat, SellerLng: &lng,
	}}

	draft, err := BuildDraft(items, nil, nil)
	require.NoError(t, err)
	assert.Zero(t, draft.Sellers[0].DeliveryCharge)
	assert.Equal(t, 100.0, draft.TotalAmount)
}

func TestBuildDraftUnknownSellerCoordinatesSkipsDelivery(t *testing.T) {
	lat, lng := 31.5204, 74.3587
	items := []AssemblyItem{{
		ProductID: 1, SellerID: 1, Quantity: 1, Stock: 5,
		PriceTiers:    []models.PriceTier{tier(0, 100)},
		DeliveryTiers: []models.DeliveryTier{{MinKM: 0, MaxKM: fptr(50), Price: 120}},
	}}

	draft, err := BuildDraft(items, &lat, &lng)
	require.NoError(t, err)
	assert.Zero(t, draft.Sellers[0].DeliveryCharge)
}
