package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"github.com/agribazaar/agribazaar-golang/internal/models"
)

// Coordinates is a resolved latitude/longitude pair.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Geocoder resolves free-form addresses to coordinates via Nominatim.
// Results are cached in redis for a day so repeated checkouts for the same
// address don't hammer the public endpoint. Geocoding is best-effort
// everywhere it is used: callers treat any error as "no coordinates".
type Geocoder struct {
	httpClient *http.Client
	cache      *redis.Client // may be nil; cache is optional
	baseURL    string
	userAgent  string
	logger     zerolog.Logger
}

const geocodeCacheTTL = 24 * time.Hour

// NewGeocoder builds a Geocoder. A nil cache disables caching.
func NewGeocoder(cache *redis.Client, logger zerolog.Logger) *Geocoder {
	return &Geocoder{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		cache:      cache,
		baseURL:    "https://nominatim.openstreetmap.org/search",
		userAgent:  "AgriBazaar/1.0",
		logger:     logger,
	}
}

// Geocode resolves an address string to coordinates. Returns an error when
// the service fails or finds nothing; callers swallow it.
func (g *Geocoder) Geocode(ctx context.Context, address string) (*Coordinates, error) {
	query := strings.TrimSpace(address)
	if query == "" {
		return nil, fmt.Errorf("empty address")
	}

	cacheKey := "geocode:" + strings.ToLower(query)
	if g.cache != nil {
		if val, err := g.cache.Get(ctx, cacheKey).Result(); err == nil {
			var coords Coordinates
			if err := json.Unmarshal([]byte(val), &coords); err == nil {
				return &coords, nil
			}
		}
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")
	params.Set("limit", "1")
	params.Set("accept-language", "en")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", g.userAgent)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geocode request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geocode request returned status %d", resp.StatusCode)
	}

	var results []struct {
		Lat string `json:"lat"`
		Lon string `json:"lon"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, fmt.Errorf("failed to decode geocode response: %w", err)
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("no geocoding results for %q", query)
	}

	lat, err := strconv.ParseFloat(results[0].Lat, 64)
	if err != nil {
		return nil, fmt.Errorf("bad latitude in geocode response: %w", err)
	}
	lon, err := strconv.ParseFloat(results[0].Lon, 64)
	if err != nil {
		return nil, fmt.Errorf("bad longitude in geocode response: %w", err)
	}

	coords := &Coordinates{Latitude: lat, Longitude: lon}

	if g.cache != nil {
		if raw, err := json.Marshal(coords); err == nil {
			if err := g.cache.Set(ctx, cacheKey, raw, geocodeCacheTTL).Err(); err != nil {
				g.logger.Warn().Err(err).Str("key", cacheKey).Msg("failed to cache geocode result")
			}
		}
	}

	return coords, nil
}

// BuildFullAddress joins the non-empty parts of an address into a single
// query string for the geocoder.
func BuildFullAddress(a models.Address) string {
	parts := make([]string, 0, 5)
	for _, p := range []string{a.Street, a.City, a.State, a.PostalCode, a.Country} {
		if strings.TrimSpace(p) != "" {
			parts = append(parts, strings.TrimSpace(p))
		}
	}
	return strings.Join(parts, ", ")
}
