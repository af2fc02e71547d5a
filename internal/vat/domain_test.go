package vat

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestTax(t *testing.T) {
	cases := []struct {
		base string
		rate string
		want string
	}{
		{"100", "22", "22"},
		{"100", "10", "10"},
		{"33.33", "22", "7.33"},
		{"0", "22", "0"},
		// Banker's rounding: the half cent goes to the even neighbour.
		{"10.25", "22", "2.26"}, // 2.255 -> 2.26
		{"10.75", "22", "2.36"}, // 2.365 -> 2.36
		{"56.25", "10", "5.62"}, // 5.625 -> 5.62
		{"56.35", "10", "5.64"}, // 5.635 -> 5.64
	}
	for _, tc := range cases {
		got := Tax(decimal.RequireFromString(tc.base), decimal.RequireFromString(tc.rate))
		assert.True(t, got.Equal(decimal.RequireFromString(tc.want)),
			"Tax(%s, %s) = %s, want %s", tc.base, tc.rate, got, tc.want)
	}
}
