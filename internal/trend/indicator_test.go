package trend

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestUpdate_SidewaysWithFlatHistory(t *testing.T) {
	ind := New(dec("100"))
	var last Signal
	for i := 0; i < 30; i++ {
		last = ind.Update(dec("100"))
	}
	assert.Equal(t, Sideways, last)
}

func TestUpdate_BullishOnSustainedRise(t *testing.T) {
	ind := New(dec("100"))
	// seed a long, flat base so the long MA anchors near 100
	for i := 0; i < 100; i++ {
		ind.Update(dec("100"))
	}
	var last Signal
	for i := 0; i < 20; i++ {
		last = ind.Update(dec("110"))
	}
	assert.Equal(t, Bullish, last)
}

func TestUpdate_BearishOnSustainedFall(t *testing.T) {
	ind := New(dec("100"))
	for i := 0; i < 100; i++ {
		ind.Update(dec("100"))
	}
	var last Signal
	for i := 0; i < 20; i++ {
		last = ind.Update(dec("90"))
	}
	assert.Equal(t, Bearish, last)
}

func TestUpdate_HistoryBoundedAt200(t *testing.T) {
	ind := New(dec("100"))
	for i := 0; i < 500; i++ {
		ind.Update(dec("100"))
	}
	assert.LessOrEqual(t, len(ind.history), historyCapacity)
}

func TestReset_ReseedsWindow(t *testing.T) {
	ind := New(dec("100"))
	for i := 0; i < 50; i++ {
		ind.Update(dec("150"))
	}
	ind.Reset(dec("200"))
	assert.Equal(t, []decimal.Decimal{dec("200")}, ind.history)
}

func TestMarketTrend_Thresholds(t *testing.T) {
	open := dec("700")
	assert.Equal(t, Sideways, MarketTrend(dec("702"), open))
	assert.Equal(t, Bullish, MarketTrend(dec("710"), open))
	assert.Equal(t, Bearish, MarketTrend(dec("690"), open))
}
