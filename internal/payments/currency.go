package payments

import (
	"math"
	"strings"
)

// zeroDecimalCurrencies are the currencies the provider counts in whole
// units: no x100 conversion when crossing the gateway boundary. This table
// is the single place minor-unit handling lives.
var zeroDecimalCurrencies = map[string]struct{}{
	"bif": {}, "clp": {}, "cve": {}, "djf": {}, "gnf": {}, "jod": {},
	"jpy": {}, "khr": {}, "kmf": {}, "krw": {}, "mga": {}, "mnt": {},
	"mru": {}, "pab": {}, "pyg": {}, "rwf": {}, "vnd": {}, "vuv": {},
	"xaf": {}, "xof": {}, "xpf": {},
}

// IsZeroDecimal reports whether a currency has no minor unit.
func IsZeroDecimal(currency string) bool {
	_, ok := zeroDecimalCurrencies[strings.ToLower(currency)]
	return ok
}

// MinorUnits converts a major-unit amount to the provider's minor currency
// unit (cents/paisa), rounding to the nearest unit.
func MinorUnits(amount float64, currency string) int64 {
	if IsZeroDecimal(currency) {
		return int64(math.Round(amount))
	}
	return int64(math.Round(amount * 100))
}

// MajorUnits converts a provider minor-unit amount back to major units.
func MajorUnits(minor int64, currency string) float64 {
	if IsZeroDecimal(currency) {
		return float64(minor)
	}
	return float64(minor) / 100
}
