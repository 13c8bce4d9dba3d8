package payments

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMinorUnits(t *testing.T) {
	assert.Equal(t, int64(50000), MinorUnits(500, "pkr"))
	assert.Equal(t, int64(1050), MinorUnits(10.50, "usd"))
	assert.Equal(t, int64(1050), MinorUnits(10.499999, "usd"))

	// Zero-decimal currencies cross the boundary unscaled.
	assert.Equal(t, int64(500), MinorUnits(500, "jpy"))
	assert.Equal(t, int64(500), MinorUnits(500, "JPY"))
}

func TestMajorUnits(t *testing.T) {
	assert.Equal(t, 500.0, MajorUnits(50000, "pkr"))
	assert.Equal(t, 500.0, MajorUnits(500, "jpy"))
}

func TestIsZeroDecimal(t *testing.T) {
	assert.True(t, IsZeroDecimal("krw"))
	assert.True(t, IsZeroDecimal("VND"))
	assert.False(t, IsZeroDecimal("pkr"))
	assert.False(t, IsZeroDecimal("usd"))
}
