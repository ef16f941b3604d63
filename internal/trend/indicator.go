// Package trend maintains the rolling price window backing the exchange's
// two trend signals: a short/long moving-average crossover and a coarse
// last-traded-vs-open comparison.
package trend

import "github.com/shopspring/decimal"

const (
	historyCapacity = 200
	shortWindow     = 20
	longWindow      = 100
)

// Signal is one of Bullish, Bearish, or Sideways.
type Signal int

const (
	Sideways Signal = iota
	Bullish
	Bearish
)

func (s Signal) String() string {
	switch s {
	case Bullish:
		return "bullish"
	case Bearish:
		return "bearish"
	default:
		return "sideways"
	}
}

// Indicator holds the bounded price history and computes trend signals
// from it. Not safe for concurrent use — callers hold the engine lock
// while updating it, matching the rest of the engine's state.
type Indicator struct {
	history []decimal.Decimal
}

// New returns an Indicator seeded with a single price (the day's open),
// mirroring reset_for_new_day's price_history.clear()+append(new_open).
func New(seed decimal.Decimal) *Indicator {
	return &Indicator{history: []decimal.Decimal{seed}}
}

// Reset clears the window and reseeds it with a single price.
func (ind *Indicator) Reset(seed decimal.Decimal) {
	ind.history = []decimal.Decimal{seed}
}

// Update appends price (evicting the oldest entry past 200) and returns the
// short/long moving-average crossover signal: bullish if the 20-sample mean
// exceeds the 100-sample (or all-history, if shorter) mean by >0.1%,
// bearish if it trails by >0.1%, sideways otherwise.
func (ind *Indicator) Update(price decimal.Decimal) Signal {
	ind.history = append(ind.history, price)
	if len(ind.history) > historyCapacity {
		ind.history = ind.history[len(ind.history)-historyCapacity:]
	}

	shortMA := mean(tail(ind.history, shortWindow))
	longMA := mean(tail(ind.history, longWindow))

	upper := longMA.Mul(decimal.NewFromFloat(1.001))
	lower := longMA.Mul(decimal.NewFromFloat(0.999))
	switch {
	case shortMA.GreaterThan(upper):
		return Bullish
	case shortMA.LessThan(lower):
		return Bearish
	default:
		return Sideways
	}
}

// MarketTrend compares lastTraded against open with a 0.5% threshold — a
// coarser signal than Update, independent of the rolling window.
func MarketTrend(lastTraded, open decimal.Decimal) Signal {
	threshold := open.Mul(decimal.NewFromFloat(0.005))
	switch {
	case lastTraded.GreaterThan(open.Add(threshold)):
		return Bullish
	case lastTraded.LessThan(open.Sub(threshold)):
		return Bearish
	default:
		return Sideways
	}
}

func tail(prices []decimal.Decimal, n int) []decimal.Decimal {
	if len(prices) <= n {
		return prices
	}
	return prices[len(prices)-n:]
}

func mean(prices []decimal.Decimal) decimal.Decimal {
	if len(prices) == 0 {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, p := range prices {
		sum = sum.Add(p)
	}
	return sum.Div(decimal.NewFromInt(int64(len(prices))))
}
