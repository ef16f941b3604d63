// Package tickutil provides the low-level primitives every other package in
// tickhouse builds on: price quantisation to the exchange tick, monotonic
// order IDs, and nanosecond timestamps.
package tickutil

import (
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultTick is the minimum price increment enforced on every stored price.
var DefaultTick = decimal.NewFromFloat(0.05)

// Quantise aligns price to the nearest multiple of tick, rounded to two
// decimal places. Mirrors the original enforce_tick: divide by tick, round
// to the nearest integer, multiply back, round to 2dp.
func Quantise(price decimal.Decimal, tick decimal.Decimal) decimal.Decimal {
	if tick.IsZero() {
		return price.Round(2)
	}
	units := price.DivRound(tick, 8).Round(0)
	return units.Mul(tick).Round(2)
}

var orderIDGen int64

// NextOrderID returns the next process-wide monotonic order ID, starting at 1.
// IDs are never reused, including across partial fills and edits.
func NextOrderID() int64 {
	return atomic.AddInt64(&orderIDGen, 1)
}

// NowNanos returns the current wall-clock time in nanoseconds, used for
// order timestamping and edit time-priority resets.
func NowNanos() int64 {
	return time.Now().UnixNano()
}
