package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agribazaar/agribazaar-golang/internal/models"
)

func fptr(v float64) *float64 { return &v }

func twoTiers() []models.DeliveryTier {
	return []models.DeliveryTier{
		{MinKM: 0, MaxKM: fptr(10), Price: 100},
		{MinKM: 10, MaxKM: fptr(30), Price: 200},
	}
}

func TestPickDeliveryTierBoundaries(t *testing.T) {
	tests := []struct {
		name     string
		distance float64
		want     float64
	}{
		{"lower boundary of first tier", 0, 100},
		{"shared boundary goes to the lower tier", 10, 100},
		{"just past the boundary", 10.0001, 200},
		{"upper boundary of second tier", 30, 200},
		{"past every tier falls back to nearest boundary", 31, 200},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tier := PickDeliveryTier(twoTiers(), tc.distance)
			require.NotNil(t, tier)
			assert.Equal(t, tc.want, tier.Price)
		})
	}
}

func TestPickDeliveryTierUnsortedInput(t *testing.T) {
	tiers := []models.DeliveryTier{
		{MinKM: 10, MaxKM: fptr(30), Price: 200},
		{MinKM: 0, MaxKM: fptr(10), Price: 100},
	}
	tier := PickDeliveryTier(tiers, 5)
	require.NotNil(t, tier)
	assert.Equal(t, 100.0, tier.Price)
}

func TestPickDeliveryTierOpenEnded(t *testing.T) {
	tiers := []models.DeliveryTier{
		{MinKM: 0, MaxKM: fptr(10), Price: 100},
		{MinKM: 10, Price: 250}, // no max: open band
	}
	tier := PickDeliveryTier(tiers, 500)
	require.NotNil(t, tier)
	assert.Equal(t, 250.0, tier.Price)
}

func TestPickDeliveryTierEmpty(t *testing.T) {
	assert.Nil(t, PickDeliveryTier(nil, 12))
}

func TestHaversine(t *testing.T) {
	// Lahore to Karachi is roughly 1,020 km.
	d := Haversine(31.5204, 74.3587, 24.8607, 67.0011)
	assert.InDelta(t, 1020, d, 30)

	assert.Zero(t, Haversine(31.5, 74.3, 31.5, 74.3))
}
