package geo

import (
	"math"
	"sort"

	"github.com/agribazaar/agribazaar-golang/internal/models"
)

const earthRadiusKM = 6371

func toRad(degrees float64) float64 {
	return degrees * (math.Pi / 180)
}

// Haversine returns the great-circle distance between two coordinates in
// kilometres.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKM * c
}

// PickDeliveryTier selects the delivery tier for a computed distance.
// Tiers are scanned sorted by their minimum: the first tier whose
// [min, max] range contains the distance wins. When no range matches,
// prefer the first tier whose max still covers the distance, and failing
// that the tier whose boundary (max, falling back to min) is numerically
// closest. Returns nil when the product has no tiers configured.
func PickDeliveryTier(tiers []models.DeliveryTier, distanceKM float64) *models.DeliveryTier {
	if len(tiers) == 0 {
		return nil
	}

	sorted := make([]models.DeliveryTier, len(tiers))
	copy(sorted, tiers)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].MinKM < sorted[j].MinKM
	})

	for i := range sorted {
		t := &sorted[i]
		if distanceKM >= t.MinKM && (t.MaxKM == nil || distanceKM <= *t.MaxKM) {
			return t
		}
	}

	for i := range sorted {
		t := &sorted[i]
		if t.MaxKM != nil && distanceKM <= *t.MaxKM {
			return t
		}
	}

	chosen := &sorted[0]
	bestDelta := boundaryDelta(chosen, distanceKM)
	for i := 1; i < len(sorted); i++ {
		if d := boundaryDelta(&sorted[i], distanceKM); d < bestDelta {
			chosen = &sorted[i]
			bestDelta = d
		}
	}
	return chosen
}

func boundaryDelta(t *models.DeliveryTier, distanceKM float64) float64 {
	boundary := t.MinKM
	if t.MaxKM != nil {
		boundary = *t.MaxKM
	}
	return math.Abs(distanceKM - boundary)
}
