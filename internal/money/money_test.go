package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCents(t *testing.T) {
	cents, err := ParseCents("19.99")
	require.NoError(t, err)
	assert.Equal(t, int64(1999), cents)

	cents, err = ParseCents(" 60 ")
	require.NoError(t, err)
	assert.Equal(t, int64(6000), cents)

	cents, err = ParseCents("99.5")
	require.NoError(t, err)
	assert.Equal(t, int64(9950), cents)
}

func TestParseCentsRejectsSubCent(t *testing.T) {
	_, err := ParseCents("1.005")
	assert.Error(t, err)

	_, err = ParseCents("abc")
	assert.Error(t, err)
}

func TestFromDecimal(t *testing.T) {
	cents, err := FromDecimal(decimal.RequireFromString("99.00"))
	require.NoError(t, err)
	assert.Equal(t, int64(9900), cents)
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "100.48", Format(10048))
	assert.Equal(t, "0.05", Format(5))
	assert.Equal(t, "0.00", Format(0))
}

func TestParseRate(t *testing.T) {
	rate, err := ParseRate("7.25")
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.RequireFromString("7.25")))

	_, err = ParseRate("-1")
	assert.Error(t, err)
}
