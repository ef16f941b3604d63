package tickutil

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestQuantise(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"100.00", "100.00"},
		{"100.02", "100.00"},
		{"100.03", "100.05"},
		{"99.975", "100.00"},
		{"0.025", "0.05"},
	}

	for _, tc := range cases {
		got := Quantise(decimal.RequireFromString(tc.in), DefaultTick)
		assert.Equal(t, tc.want, got.StringFixed(2), "quantising %s", tc.in)
	}
}

func TestNextOrderID_Monotonic(t *testing.T) {
	first := NextOrderID()
	second := NextOrderID()
	assert.Less(t, first, second)
	assert.NotEqual(t, first, second)
}
