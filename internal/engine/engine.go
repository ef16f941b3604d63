// Package engine implements the sequenced transition function at the heart
// of the exchange: pre-trade gating (circuit breaker, daily band, TER),
// the locked matching walk against the order book, slippage, confirmation
// delivery, and the circuit-breaker/band-expansion/daily-reset bookkeeping.
package engine

import (
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/om-quantizer/tickhouse/internal/book"
	"github.com/om-quantizer/tickhouse/internal/feed"
	"github.com/om-quantizer/tickhouse/internal/tickutil"
	"github.com/om-quantizer/tickhouse/internal/trend"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// ErrCircuitActive is returned when a submission arrives while the circuit
// breaker is tripped.
var ErrCircuitActive = errors.New("engine: circuit breaker active")

// ErrOutsideTER is returned when a submission's post-clamp price falls
// outside the trading execution range.
var ErrOutsideTER = errors.New("engine: price outside trading execution range")

// Confirmer and ConfirmationEvent are the engine's view of the book's
// owner-notification capability: the engine is the sole producer of
// confirmations, the book only threads the type through Order.Owner.
type Confirmer = book.Confirmer
type ConfirmationEvent = book.ConfirmationEvent

// Publisher is the subset of *feed.Publisher the engine depends on,
// allowing tests to substitute a recording stub.
type Publisher interface {
	Publish([]byte)
}

// Config bundles the tunables the engine needs, loaded from
// internal/config at process start.
type Config struct {
	Tick                   decimal.Decimal
	PriceMultiplier        int64
	StreamID               uint16
	Token                  uint32
	MaxDailyMovePercent    decimal.Decimal
	BandExpansionIncrement decimal.Decimal
	TERPercent             decimal.Decimal
	CircuitBreakerDuration time.Duration
	ClientSlippagePercent  decimal.Decimal
	BotSlippagePercent     decimal.Decimal
}

// Engine drives one order book. Submit, Cancel, and Edit all serialise
// through the book's own embedded mutex — there is no second lock here,
// matching the specification's single serialisation point: the engine
// holds book.Lock() for an entire submit (gating, matching walk, residual
// insertion) and for the whole of Cancel/Edit, calling the book's
// *Locked primitives rather than its self-locking ones.
type Engine struct {
	cfg     Config
	book    *book.OrderBook
	pub     Publisher
	confirm *confirmPool
	metrics *Metrics
	log     zerolog.Logger
	rng     *rand.Rand

	lastTradedPrice    decimal.Decimal
	dailyOpenPrice     decimal.Decimal
	currentBandPercent decimal.Decimal
	dailyLowerBound    decimal.Decimal
	dailyUpperBound    decimal.Decimal
	circuitActive      bool
	circuitTriggerTime time.Time
	trendIndicator     *trend.Indicator
}

// New constructs an Engine seeded with initialOpen as both the day's open
// and the last traded price. pub and metrics may be nil (tests commonly
// leave both nil and inspect book/engine state directly instead).
func New(cfg Config, ob *book.OrderBook, initialOpen decimal.Decimal, pub Publisher, metrics *Metrics, log zerolog.Logger) *Engine {
	e := &Engine{
		cfg:            cfg,
		book:           ob,
		pub:            pub,
		metrics:        metrics,
		log:            log.With().Str("component", "engine").Logger(),
		rng:            rand.New(rand.NewSource(time.Now().UnixNano())),
		lastTradedPrice: initialOpen,
		dailyOpenPrice:  initialOpen,
		trendIndicator:  trend.New(initialOpen),
	}
	e.currentBandPercent = cfg.MaxDailyMovePercent
	e.recomputeBounds()
	e.confirm = newConfirmPool(4, e.log)
	return e
}

// Close stops the engine's confirmation delivery pool. Safe to call once
// at shutdown.
func (e *Engine) Close() {
	e.confirm.close()
}

func (e *Engine) recomputeBounds() {
	pct := e.currentBandPercent.Div(decimal.NewFromInt(100))
	delta := e.dailyOpenPrice.Mul(pct)
	e.dailyLowerBound = tickutil.Quantise(e.dailyOpenPrice.Sub(delta), e.cfg.Tick)
	e.dailyUpperBound = tickutil.Quantise(e.dailyOpenPrice.Add(delta), e.cfg.Tick)
}

func (e *Engine) terBounds() (decimal.Decimal, decimal.Decimal) {
	pct := e.cfg.TERPercent.Div(decimal.NewFromInt(100))
	delta := e.dailyOpenPrice.Mul(pct)
	return e.dailyOpenPrice.Sub(delta), e.dailyOpenPrice.Add(delta)
}

func (e *Engine) triggerCircuitBreaker() {
	e.circuitActive = true
	e.circuitTriggerTime = time.Now()
	if e.metrics != nil {
		e.metrics.BreakerTrips.Inc()
	}
	e.log.Warn().Msg("circuit breaker tripped")
}

func (e *Engine) expandDailyBand() {
	e.currentBandPercent = e.currentBandPercent.Add(e.cfg.BandExpansionIncrement)
	e.recomputeBounds()
}

// ResetForNewDay anchors a new session open, resets the band to
// MaxDailyMovePercent, clears the breaker, and reseeds the trend window.
// It does not touch resting orders — a caller that wants a clean book
// calls book.CancelAll itself first.
func (e *Engine) ResetForNewDay(newOpen decimal.Decimal) {
	e.book.Lock()
	defer e.book.Unlock()

	e.dailyOpenPrice = newOpen
	e.currentBandPercent = e.cfg.MaxDailyMovePercent
	e.recomputeBounds()
	e.circuitActive = false
	e.lastTradedPrice = newOpen
	e.trendIndicator.Reset(newOpen)
}

// LastTradedPrice returns the most recent trade price (or the day's open
// if none has traded yet).
func (e *Engine) LastTradedPrice() decimal.Decimal {
	e.book.Lock()
	defer e.book.Unlock()
	return e.lastTradedPrice
}

// Submit runs the full six-step protocol: circuit check, New emission,
// band clamp, TER gate, the locked matching walk, and residual handling.
// A non-nil error means an ingress rejection (no book mutation, no New
// beyond the one already emitted in step 2); a nil order with a nil error
// means the submission filled completely.
func (e *Engine) Submit(side book.Side, limitPrice decimal.Decimal, quantity uint64, owner Confirmer) (*book.Order, error) {
	if quantity < 1 {
		return nil, fmt.Errorf("engine: quantity must be >= 1, got %d", quantity)
	}

	e.book.Lock()
	defer e.book.Unlock()

	// 1. Circuit check.
	if e.circuitActive {
		if time.Since(e.circuitTriggerTime) < e.cfg.CircuitBreakerDuration {
			e.emitSyntheticReject(side, limitPrice, quantity, "circuit breaker active")
			return nil, ErrCircuitActive
		}
		e.circuitActive = false
	}

	// 2. Allocate and emit New before any matching.
	now := tickutil.NowNanos()
	order := &book.Order{
		ID:        tickutil.NextOrderID(),
		Side:      side,
		Price:     tickutil.Quantise(limitPrice, e.cfg.Tick),
		Quantity:  quantity,
		Timestamp: now,
		Owner:     owner,
		Active:    true,
	}
	e.emitOrderRecord(feed.KindNew, order)

	// 3. Band clamp.
	clamped := order.Price
	switch {
	case clamped.LessThan(e.dailyLowerBound):
		clamped = e.dailyLowerBound
	case clamped.GreaterThan(e.dailyUpperBound):
		clamped = e.dailyUpperBound
	}
	order.Price = tickutil.Quantise(clamped, e.cfg.Tick)

	// 4. TER gate — against the already-clamped price.
	terLow, terHigh := e.terBounds()
	if order.Price.LessThan(terLow) || order.Price.GreaterThan(terHigh) {
		e.emitOrderRecord(feed.KindReject, order)
		return nil, ErrOutsideTER
	}

	// 5. Match under the held lock.
	remaining := e.walk(order)

	// 6. Residual.
	if remaining == 0 {
		return nil, nil
	}
	order.Quantity = remaining
	order.Active = true
	e.book.InsertResting(order)
	return order, nil
}

// walk consumes opposing liquidity price-time priority, stopping when
// either the incoming order is fully filled or the best opposing level no
// longer crosses. Caller must hold e.book.Lock().
func (e *Engine) walk(order *book.Order) uint64 {
	remaining := order.Quantity
	for remaining > 0 {
		head, levelPrice, ok := e.book.PeekOpposing(order.Side)
		if !ok {
			break
		}
		if order.Side == book.Buy && levelPrice.GreaterThan(order.Price) {
			break
		}
		if order.Side == book.Sell && levelPrice.LessThan(order.Price) {
			break
		}

		tradeQty := remaining
		if head.Quantity < tradeQty {
			tradeQty = head.Quantity
		}

		e.executeTrade(order, head, tradeQty)
		e.book.Fill(head, tradeQty)
		remaining -= tradeQty
	}
	return remaining
}

// executeTrade produces one trade between the incoming order and a single
// resting order, applying slippage, emitting the feed message, delivering
// confirmations, and updating engine-level state (LTP, trend, breaker).
func (e *Engine) executeTrade(incoming, resting *book.Order, qty uint64) {
	tradePrice := e.applySlippage(resting.Price, incoming.Side, incoming.Owner)

	var buyID, sellID int64
	var buyOwner, sellOwner Confirmer
	if incoming.Side == book.Buy {
		buyID, buyOwner = incoming.ID, incoming.Owner
		sellID, sellOwner = resting.ID, resting.Owner
	} else {
		buyID, buyOwner = resting.ID, resting.Owner
		sellID, sellOwner = incoming.ID, incoming.Owner
	}

	e.emitTradeRecord(buyID, sellID, tradePrice, qty)

	e.confirm.post(buyOwner, ConfirmationEvent{Kind: book.ConfirmTrade, OrderID: buyID, Side: book.Buy, TradePrice: tradePrice, TradeQty: qty, Counterparty: sellID})
	e.confirm.post(sellOwner, ConfirmationEvent{Kind: book.ConfirmTrade, OrderID: sellID, Side: book.Sell, TradePrice: tradePrice, TradeQty: qty, Counterparty: buyID})

	e.lastTradedPrice = tradePrice
	e.trendIndicator.Update(tradePrice)

	if e.metrics != nil {
		tp, _ := tradePrice.Float64()
		e.metrics.TradePrice.Observe(tp)
		e.metrics.TradeQty.Observe(float64(qty))
	}

	// Band breach check uses the post-slippage trade price.
	if !e.circuitActive && (tradePrice.LessThanOrEqual(e.dailyLowerBound) || tradePrice.GreaterThanOrEqual(e.dailyUpperBound)) {
		e.triggerCircuitBreaker()
		e.expandDailyBand()
	}
}

// applySlippage perturbs quotePrice by a uniform envelope sized by
// CLIENT_SLIPPAGE_PERCENT (non-nil owner) or BOT_SLIPPAGE_PERCENT (nil
// owner), worsening the aggressor: higher for a Buy aggressor, lower for a
// Sell aggressor.
func (e *Engine) applySlippage(quotePrice decimal.Decimal, aggressorSide book.Side, owner Confirmer) decimal.Decimal {
	slipPct := e.cfg.BotSlippagePercent
	if owner != nil {
		slipPct = e.cfg.ClientSlippagePercent
	}

	deltaF, _ := quotePrice.Mul(slipPct).Div(decimal.NewFromInt(100)).Float64()
	offset := e.rng.Float64()*deltaF - deltaF/2
	s := decimal.NewFromFloat(offset)

	var adjusted decimal.Decimal
	if aggressorSide == book.Buy {
		adjusted = quotePrice.Add(s)
	} else {
		adjusted = quotePrice.Sub(s)
	}
	return tickutil.Quantise(adjusted, e.cfg.Tick)
}

// Cancel cancels id under the engine's lock, emitting a cancel + cancel-ack
// pair on success. Returns false if id is unknown or already inactive.
func (e *Engine) Cancel(id int64) bool {
	e.book.Lock()
	order, ok := e.book.CancelLocked(id)
	if !ok {
		e.book.Unlock()
		return false
	}
	e.emitOrderRecord(feed.KindCancel, order)
	e.emitOrderRecord(feed.KindCancelAck, order)
	e.book.Unlock()
	return true
}

// Edit applies newPrice/newQuantity to id under the engine's lock, emitting
// an edit-ack on success. Deliberately does not re-run the band/TER gates
// (a known, accepted soundness gap; see DESIGN.md). Returns false if id is
// unknown, inactive, or newQuantity is zero.
func (e *Engine) Edit(id int64, newPrice *decimal.Decimal, newQuantity *uint64) bool {
	e.book.Lock()
	now := tickutil.NowNanos()
	order, ok := e.book.EditLocked(id, newPrice, newQuantity, now)
	if !ok {
		e.book.Unlock()
		return false
	}
	e.emitOrderRecord(feed.KindEditAck, order)
	e.book.Unlock()
	return true
}

func (e *Engine) emitSyntheticReject(side book.Side, limitPrice decimal.Decimal, quantity uint64, reason string) {
	synthetic := &book.Order{
		Side:      side,
		Price:     tickutil.Quantise(limitPrice, e.cfg.Tick),
		Quantity:  quantity,
		Timestamp: tickutil.NowNanos(),
	}
	e.emitOrderRecordReason(feed.KindReject, synthetic, reason)
}

func (e *Engine) emitOrderRecord(kind feed.Kind, o *book.Order) {
	e.emitOrderRecordReason(kind, o, "")
}

func (e *Engine) emitOrderRecordReason(kind feed.Kind, o *book.Order, reason string) {
	if e.pub == nil {
		return
	}
	priceUnits := o.Price.Mul(decimal.NewFromInt(e.cfg.PriceMultiplier)).Round(0).IntPart()
	priceInt, err := feed.PriceToInt(priceUnits)
	if err != nil {
		e.log.Error().Err(err).Int64("order_id", o.ID).Msg("encoding fault, dropping record")
		return
	}

	rec := feed.OrderRecord{
		Header:      feed.Header{StreamID: e.cfg.StreamID, Sequence: feed.NextSequence(), MsgType: kind},
		TimestampNs: uint64(o.Timestamp),
		OrderID:     o.ID,
		Token:       e.cfg.Token,
		Side:        o.Side,
		PriceInt:    priceInt,
		Quantity:    uint32(o.Quantity),
	}
	encoded, err := feed.EncodeOrder(rec)
	if err != nil {
		e.log.Error().Err(err).Int64("order_id", o.ID).Msg("encoding fault, dropping record")
		return
	}
	e.pub.Publish(encoded)
	if e.metrics != nil {
		e.metrics.FeedMessages.WithLabelValues(string(rune(kind))).Inc()
	}
	if reason != "" {
		e.log.Debug().Int64("order_id", o.ID).Str("reason", reason).Msg("order event")
	}
}

func (e *Engine) emitTradeRecord(buyID, sellID int64, price decimal.Decimal, qty uint64) {
	if e.pub == nil {
		return
	}
	priceUnits := price.Mul(decimal.NewFromInt(e.cfg.PriceMultiplier)).Round(0).IntPart()
	priceInt, err := feed.PriceToInt(priceUnits)
	if err != nil {
		e.log.Error().Err(err).Msg("encoding fault, dropping trade record")
		return
	}
	rec := feed.TradeRecord{
		Header:      feed.Header{StreamID: e.cfg.StreamID, Sequence: feed.NextSequence(), MsgType: feed.KindTrade},
		TimestampNs: uint64(tickutil.NowNanos()),
		BuyID:       buyID,
		SellID:      sellID,
		Token:       e.cfg.Token,
		PriceInt:    priceInt,
		Quantity:    uint32(qty),
	}
	encoded, err := feed.EncodeTrade(rec)
	if err != nil {
		e.log.Error().Err(err).Msg("encoding fault, dropping trade record")
		return
	}
	e.pub.Publish(encoded)
	if e.metrics != nil {
		e.metrics.FeedMessages.WithLabelValues("T").Inc()
	}
}
