package handlers

import (
	"database/sql"

	"github.com/rs/zerolog"

	"github.com/agribazaar/agribazaar-golang/internal/geo"
	"github.com/agribazaar/agribazaar-golang/internal/payments"
)

// Handlers holds the shared dependencies for all HTTP handlers.
type Handlers struct {
	DB      *sql.DB
	Gateway payments.Gateway
	Geo     *geo.Geocoder // may be nil; geocoding is then skipped
	Logger  zerolog.Logger

	// DevMode relaxes a few guards for local testing (payment intents
	// auto-confirmed with a test payment method).
	DevMode bool
}

// NewHandlers wires the handler set.
func NewHandlers(db *sql.DB, gateway payments.Gateway, geocoder *geo.Geocoder, logger zerolog.Logger, devMode bool) *Handlers {
	return &Handlers{
		DB:      db,
		Gateway: gateway,
		Geo:     geocoder,
		Logger:  logger,
		DevMode: devMode,
	}
}
