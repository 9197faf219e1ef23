package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMulRateRoundsHalfUp(t *testing.T) {
	cases := []struct {
		amount int64
		rate   string
		want   int64
	}{
		{amount: 2_000_000, rate: "0.01", want: 20_000},
		{amount: 150, rate: "0.01", want: 2},  // 1.5 -> 2
		{amount: 149, rate: "0.01", want: 1},  // 1.49 -> 1
		{amount: 250, rate: "0.005", want: 1}, // 1.25 -> 1
		{amount: 300, rate: "0.005", want: 2}, // 1.5 -> 2
		{amount: 0, rate: "0.18", want: 0},
		{amount: 24_000_000, rate: "0.18", want: 4_320_000},
	}
	for _, tc := range cases {
		got := MulRate(tc.amount, decimal.RequireFromString(tc.rate))
		assert.Equalf(t, tc.want, got, "MulRate(%d, %s)", tc.amount, tc.rate)
	}
}

func TestDivRound(t *testing.T) {
	assert.Equal(t, int64(360_000), DivRound(4_320_000, 12))
	assert.Equal(t, int64(2), DivRound(3, 2))
	assert.Equal(t, int64(1), DivRound(4, 3))
	assert.Equal(t, int64(2), DivRound(5, 3))
	assert.Equal(t, int64(-1), DivRound(-3, 2))
	assert.Equal(t, int64(0), DivRound(0, 52))
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "20000.00", Format(2_000_000))
	assert.Equal(t, "0.05", Format(5))
	assert.Equal(t, "-1.10", Format(-110))
}

func TestParseRate(t *testing.T) {
	rate, err := ParseRate("0.18")
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.RequireFromString("0.18")))

	_, err = ParseRate("1.5")
	require.Error(t, err)
	_, err = ParseRate("-0.1")
	require.Error(t, err)
	_, err = ParseRate("abc")
	require.Error(t, err)
}
