package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/om-quantizer/tickhouse/internal/book"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type recordingPublisher struct {
	mu      sync.Mutex
	records [][]byte
}

func (p *recordingPublisher) Publish(rec []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.records = append(p.records, rec)
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.records)
}

type recordingConfirmer struct {
	mu     sync.Mutex
	events []ConfirmationEvent
}

func (c *recordingConfirmer) Confirm(e ConfirmationEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *recordingConfirmer) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func noSlippageConfig() Config {
	return Config{
		Tick:                   dec("0.05"),
		PriceMultiplier:        100,
		StreamID:               1,
		Token:                  1001,
		MaxDailyMovePercent:    dec("10.0"),
		BandExpansionIncrement: dec("5.0"),
		TERPercent:             dec("5.0"),
		CircuitBreakerDuration: 5 * time.Second,
		ClientSlippagePercent:  dec("0"),
		BotSlippagePercent:     dec("0"),
	}
}

func newTestEngine(t *testing.T, open decimal.Decimal) (*Engine, *book.OrderBook, *recordingPublisher) {
	ob := book.New(dec("0.05"), open)
	pub := &recordingPublisher{}
	eng := New(noSlippageConfig(), ob, open, pub, nil, zerolog.Nop())
	t.Cleanup(eng.Close)
	return eng, ob, pub
}

// newMatchingTestEngine opens at 100 with a 50% TER, so the ±10% daily band
// (90.00–110.00) is the only limit on the scenario prices used below.
func newMatchingTestEngine(t *testing.T) (*Engine, *book.OrderBook, *recordingPublisher) {
	cfg := noSlippageConfig()
	cfg.TERPercent = dec("50.0")
	open := dec("100")
	ob := book.New(dec("0.05"), open)
	pub := &recordingPublisher{}
	eng := New(cfg, ob, open, pub, nil, zerolog.Nop())
	t.Cleanup(eng.Close)
	return eng, ob, pub
}

func TestSubmit_PartialThenFullFill(t *testing.T) {
	eng, ob, _ := newMatchingTestEngine(t)

	resting, err := eng.Submit(book.Sell, dec("100.00"), 10, nil)
	require.NoError(t, err)
	require.NotNil(t, resting)

	residual, err := eng.Submit(book.Buy, dec("110.00"), 6, nil)
	require.NoError(t, err)
	require.Nil(t, residual, "buy of 6 fully fills against the resting 10")

	price, qty := ob.BestAsk()
	require.NotNil(t, price)
	assert.True(t, price.Equal(dec("100.00")))
	assert.Equal(t, uint64(4), qty)

	residual2, err := eng.Submit(book.Buy, dec("110.00"), 4, nil)
	require.NoError(t, err)
	assert.Nil(t, residual2, "second buy exhausts the remaining 4")

	price, _ = ob.BestAsk()
	assert.Nil(t, price, "sell order fully consumed and removed")
}

func TestSubmit_MultiLevelAggregationFIFO(t *testing.T) {
	eng, ob, _ := newMatchingTestEngine(t)

	a, err := eng.Submit(book.Sell, dec("100.00"), 5, nil)
	require.NoError(t, err)
	require.NotNil(t, a)

	b, err := eng.Submit(book.Sell, dec("100.00"), 10, nil)
	require.NoError(t, err)
	require.NotNil(t, b)

	residual, err := eng.Submit(book.Buy, dec("110.00"), 12, nil)
	require.NoError(t, err)
	require.Nil(t, residual)

	head, price, ok := func() (*book.Order, decimal.Decimal, bool) {
		ob.Lock()
		defer ob.Unlock()
		return ob.PeekOpposing(book.Buy)
	}()
	require.True(t, ok)
	assert.True(t, price.Equal(dec("100.00")))
	assert.Equal(t, b.ID, head.ID, "A fully consumed, B remains with qty 3")
	assert.Equal(t, uint64(3), head.Quantity)
}

func TestSubmit_EditLosesTimePriority(t *testing.T) {
	eng, ob, _ := newMatchingTestEngine(t)

	a, err := eng.Submit(book.Buy, dec("99.00"), 5, nil)
	require.NoError(t, err)
	require.NotNil(t, a)

	b, err := eng.Submit(book.Buy, dec("99.00"), 5, nil)
	require.NoError(t, err)
	require.NotNil(t, b)

	sameQty := uint64(5)
	samePrice := dec("99.00")
	ok := eng.Edit(a.ID, &samePrice, &sameQty)
	require.True(t, ok)

	residual, err := eng.Submit(book.Sell, dec("99.00"), 5, nil)
	require.NoError(t, err)
	assert.Nil(t, residual)

	// B (never edited) should have been consumed; A (edited, now behind B)
	// should still be resting.
	_, stillRestingB := ob.Cancel(b.ID)
	assert.False(t, stillRestingB, "B was matched, no longer in book")
	restingA, stillRestingA := ob.Cancel(a.ID)
	assert.True(t, stillRestingA, "A lost priority and still rests")
	assert.Equal(t, a.ID, restingA.ID)
}

func TestSubmit_TERRejection(t *testing.T) {
	eng, _, pub := newTestEngine(t, dec("700"))

	before := pub.count()
	order, err := eng.Submit(book.Buy, dec("800.00"), 1, nil)
	require.ErrorIs(t, err, ErrOutsideTER)
	assert.Nil(t, order)
	assert.Greater(t, pub.count(), before, "a New and a Reject were emitted")
}

func TestSubmit_CircuitTrigger(t *testing.T) {
	cfg := noSlippageConfig()
	cfg.MaxDailyMovePercent = dec("10.0")
	cfg.TERPercent = dec("50.0")
	cfg.CircuitBreakerDuration = time.Hour

	ob := book.New(dec("0.05"), dec("100"))
	pub := &recordingPublisher{}
	eng := New(cfg, ob, dec("100"), pub, nil, zerolog.Nop())
	t.Cleanup(eng.Close)

	resting, err := eng.Submit(book.Sell, dec("110.00"), 1, nil)
	require.NoError(t, err)
	require.NotNil(t, resting)

	residual, err := eng.Submit(book.Buy, dec("110.00"), 1, nil)
	require.NoError(t, err)
	assert.Nil(t, residual)

	_, err = eng.Submit(book.Buy, dec("105.00"), 1, nil)
	assert.ErrorIs(t, err, ErrCircuitActive, "breaker tripped by the band-edge trade")

	assert.True(t, eng.currentBandPercent.Equal(dec("15.0")), "MaxDailyMovePercent(10) + BandExpansionIncrement(5)")
	assert.True(t, eng.dailyLowerBound.Equal(dec("85.00")), "band widened around open=100 at 15 percent")
	assert.True(t, eng.dailyUpperBound.Equal(dec("115.00")), "band widened around open=100 at 15 percent")
}

// TestSubmit_ConcurrentFIFO is the concurrency end-to-end scenario from
// spec.md's testable properties: two submissions racing into the engine
// lock must leave the resting order with exactly the expected residual
// quantity, with no lost or doubled fills, regardless of scheduling order —
// ported from original_source/unit_testing.py's test_sequential_processing_acid.
func TestSubmit_ConcurrentFIFO(t *testing.T) {
	eng, ob, _ := newMatchingTestEngine(t)

	resting, err := eng.Submit(book.Sell, dec("100.00"), 10, nil)
	require.NoError(t, err)
	require.NotNil(t, resting)

	var wg sync.WaitGroup
	wg.Add(2)
	for i := 0; i < 2; i++ {
		go func() {
			defer wg.Done()
			_, err := eng.Submit(book.Buy, dec("110.00"), 4, nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	price, qty := ob.BestAsk()
	require.NotNil(t, price)
	assert.True(t, price.Equal(dec("100.00")))
	assert.Equal(t, uint64(2), qty, "two concurrent fills of 4 each against a resting 10, no lost or doubled fills")
}

func TestSubmit_DeliversTradeConfirmationsToBothOwners(t *testing.T) {
	eng, _, _ := newMatchingTestEngine(t)

	seller := &recordingConfirmer{}
	buyer := &recordingConfirmer{}

	_, err := eng.Submit(book.Sell, dec("100.00"), 5, seller)
	require.NoError(t, err)

	residual, err := eng.Submit(book.Buy, dec("110.00"), 5, buyer)
	require.NoError(t, err)
	assert.Nil(t, residual)

	require.Eventually(t, func() bool {
		return seller.len() == 1 && buyer.len() == 1
	}, time.Second, 5*time.Millisecond, "confirmations delivered asynchronously")
}

func TestSubmit_RejectsZeroQuantity(t *testing.T) {
	eng, _, _ := newTestEngine(t, dec("700"))
	_, err := eng.Submit(book.Buy, dec("700.00"), 0, nil)
	assert.Error(t, err)
}

func TestResetForNewDay_DoesNotPurgeRestingOrders(t *testing.T) {
	eng, ob, _ := newTestEngine(t, dec("700"))

	resting, err := eng.Submit(book.Buy, dec("699.00"), 3, nil)
	require.NoError(t, err)
	require.NotNil(t, resting)

	eng.ResetForNewDay(dec("710"))

	price, qty := ob.BestBid()
	require.NotNil(t, price)
	assert.True(t, price.Equal(dec("699.00")))
	assert.Equal(t, uint64(3), qty)
}
