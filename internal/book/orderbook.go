package book

import (
	"container/list"
	"sync"

	"github.com/om-quantizer/tickhouse/internal/tickutil"
	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"
)

// resting links an order id to the exact price level and list element it
// lives at, giving O(1) removal. Every id present here is present in
// exactly one level's FIFO and vice versa — the dual-indexing invariant.
type resting struct {
	order *Order
	level *priceLevel
	elem  *list.Element
}

// OrderBook is a two-sided priced FIFO queue: bids keyed by price
// (descending retrieval), asks keyed by price (ascending retrieval).
//
// OrderBook embeds sync.Mutex and acts as the specification's single
// serialisation point. Cancel, Edit, BestBid, BestAsk, MarketPrice,
// Snapshot and CancelAll lock it themselves and are safe to call directly.
// The lower-level primitives used by the matching engine during a
// submit walk (PeekOpposing, Fill, InsertResting, Remove) do NOT lock —
// callers (the engine) are expected to hold the book's lock for the
// duration of the whole walk, so that book mutations and engine-level
// state (last traded price, circuit breaker, band) advance atomically
// together.
type OrderBook struct {
	sync.Mutex

	tick         decimal.Decimal
	initialPrice decimal.Decimal

	bids *btree.BTreeG[*priceLevel]
	asks *btree.BTreeG[*priceLevel]
	byID map[int64]*resting
}

// New constructs an empty order book. tick is the minimum price increment
// (the spec's 0.05); initialPrice seeds MarketPrice when neither side has
// liquidity.
func New(tick, initialPrice decimal.Decimal) *OrderBook {
	return &OrderBook{
		tick:         tick,
		initialPrice: initialPrice,
		bids: btree.NewBTreeG(func(a, b *priceLevel) bool {
			return a.price.GreaterThan(b.price) // descending: best bid first
		}),
		asks: btree.NewBTreeG(func(a, b *priceLevel) bool {
			return a.price.LessThan(b.price) // ascending: best ask first
		}),
		byID: make(map[int64]*resting),
	}
}

func (b *OrderBook) levelsFor(side Side) *btree.BTreeG[*priceLevel] {
	if side == Buy {
		return b.bids
	}
	return b.asks
}

// InsertResting appends order to the FIFO of its price level, creating the
// level if needed. Caller must hold b.Lock(). Does not emit any feed
// message — insertion-time emission is the caller's responsibility (the
// engine emits exactly one New per incoming order, before matching).
func (b *OrderBook) InsertResting(o *Order) {
	levels := b.levelsFor(o.Side)
	lvl, ok := levels.Get(&priceLevel{price: o.Price})
	if !ok {
		lvl = newPriceLevel(o.Price)
		levels.Set(lvl)
	}
	elem := lvl.orders.PushBack(o)
	b.byID[o.ID] = &resting{order: o, level: lvl, elem: elem}
}

// Remove detaches id from its level and the lookup table and returns it.
// Caller must hold b.Lock(). Returns (nil, false) if id is unknown.
func (b *OrderBook) Remove(id int64) (*Order, bool) {
	r, ok := b.byID[id]
	if !ok {
		return nil, false
	}
	delete(b.byID, id)
	r.level.orders.Remove(r.elem)
	if r.level.orders.Len() == 0 {
		b.levelsFor(r.order.Side).Delete(r.level)
	}
	return r.order, true
}

// PeekOpposing returns the FIFO head of the best level on the opposing
// side of side, i.e. the next order a new `side` order would trade
// against, along with that level's price. Caller must hold b.Lock().
func (b *OrderBook) PeekOpposing(side Side) (*Order, decimal.Decimal, bool) {
	var opposing *btree.BTreeG[*priceLevel]
	if side == Buy {
		opposing = b.asks
	} else {
		opposing = b.bids
	}
	lvl, ok := opposing.Min()
	if !ok {
		return nil, decimal.Zero, false
	}
	head := lvl.front()
	if head == nil {
		return nil, decimal.Zero, false
	}
	return head, lvl.price, true
}

// Fill decrements order's resting quantity by qty and removes it from the
// book if it reaches zero. Caller must hold b.Lock() and must have
// obtained order via PeekOpposing on the same lock acquisition (no
// intervening release). Returns whether the order was fully consumed.
func (b *OrderBook) Fill(order *Order, qty uint64) bool {
	order.Quantity -= qty
	if order.Quantity == 0 {
		b.Remove(order.ID)
		return true
	}
	return false
}

// CancelLocked is Cancel's logic without locking; callers (the engine,
// serialising cancel with a concurrent matching walk) must hold b.Lock()
// for the duration.
func (b *OrderBook) CancelLocked(id int64) (*Order, bool) {
	r, ok := b.byID[id]
	if !ok || !r.order.Active {
		return nil, false
	}
	r.order.Active = false
	return b.Remove(id)
}

// Cancel marks id inactive and removes it from the book. Returns false if
// id is unknown or already inactive. Self-locking — for use when the book
// is driven directly, without an engine holding its own lock around the
// call.
func (b *OrderBook) Cancel(id int64) (*Order, bool) {
	b.Lock()
	defer b.Unlock()
	return b.CancelLocked(id)
}

// EditLocked is Edit's logic without locking; callers must hold b.Lock().
func (b *OrderBook) EditLocked(id int64, newPrice *decimal.Decimal, newQuantity *uint64, now int64) (*Order, bool) {
	r, ok := b.byID[id]
	if !ok || !r.order.Active {
		return nil, false
	}
	if newQuantity != nil && *newQuantity < 1 {
		return nil, false
	}

	order, _ := b.Remove(id)
	if newPrice != nil {
		order.Price = tickutil.Quantise(*newPrice, b.tick)
	}
	if newQuantity != nil {
		order.Quantity = *newQuantity
	}
	order.Timestamp = now
	b.InsertResting(order)
	return order, true
}

// Edit removes id, applies newPrice/newQuantity (quantising newPrice,
// requiring newQuantity >= 1), refreshes its timestamp, and reinserts it —
// losing time priority. Returns false if id is unknown or inactive, or if
// newQuantity is zero. Self-locking — see EditLocked for the engine's
// already-locked call path.
func (b *OrderBook) Edit(id int64, newPrice *decimal.Decimal, newQuantity *uint64, now int64) (*Order, bool) {
	b.Lock()
	defer b.Unlock()
	return b.EditLocked(id, newPrice, newQuantity, now)
}

// BestBid returns the highest bid price and aggregate quantity at that
// level, or (nil, 0) if the bid side is empty. Self-locking.
func (b *OrderBook) BestBid() (*decimal.Decimal, uint64) {
	b.Lock()
	defer b.Unlock()
	return bestOf(b.bids)
}

// BestAsk returns the lowest ask price and aggregate quantity at that
// level, or (nil, 0) if the ask side is empty. Self-locking.
func (b *OrderBook) BestAsk() (*decimal.Decimal, uint64) {
	b.Lock()
	defer b.Unlock()
	return bestOf(b.asks)
}

func bestOf(levels *btree.BTreeG[*priceLevel]) (*decimal.Decimal, uint64) {
	lvl, ok := levels.Min()
	if !ok {
		return nil, 0
	}
	price := lvl.price
	return &price, lvl.totalQuantity()
}

// MarketPrice derives a reference price for display, never a trade price:
// when both sides exist, the average of the midpoint and the
// quantity-weighted price; otherwise whichever side exists; otherwise the
// book's configured initial price.
func (b *OrderBook) MarketPrice() decimal.Decimal {
	bidPrice, bidQty := b.BestBid()
	askPrice, askQty := b.BestAsk()

	switch {
	case bidPrice != nil && askPrice != nil:
		mid := bidPrice.Add(*askPrice).Div(decimal.NewFromInt(2))
		totalQty := bidQty + askQty
		var vwap decimal.Decimal
		if totalQty > 0 {
			num := bidPrice.Mul(decimal.NewFromInt(int64(bidQty))).Add(askPrice.Mul(decimal.NewFromInt(int64(askQty))))
			vwap = num.Div(decimal.NewFromInt(int64(totalQty)))
		} else {
			vwap = mid
		}
		return tickutil.Quantise(mid.Add(vwap).Div(decimal.NewFromInt(2)), b.tick)
	case bidPrice != nil:
		return *bidPrice
	case askPrice != nil:
		return *askPrice
	default:
		return b.initialPrice
	}
}

// BookSnapshot is a depth-limited read-only view of both sides, used for
// diagnostics (the original simulator's log_snapshot).
type BookSnapshot struct {
	Bids []LevelSummary
	Asks []LevelSummary
}

// Snapshot returns up to depth price levels per side. Self-locking.
func (b *OrderBook) Snapshot(depth int) BookSnapshot {
	b.Lock()
	defer b.Unlock()

	snap := BookSnapshot{}
	n := 0
	b.bids.Scan(func(lvl *priceLevel) bool {
		if n >= depth {
			return false
		}
		snap.Bids = append(snap.Bids, LevelSummary{Price: lvl.price, Quantity: lvl.totalQuantity()})
		n++
		return true
	})
	n = 0
	b.asks.Scan(func(lvl *priceLevel) bool {
		if n >= depth {
			return false
		}
		snap.Asks = append(snap.Asks, LevelSummary{Price: lvl.price, Quantity: lvl.totalQuantity()})
		n++
		return true
	})
	return snap
}

// CancelAll cancels every currently active order, mirroring the original
// simulator's order_book.py:cancel_all. It holds the book lock once to copy
// the resting ids, then locks again per id for each cancel, so the lock is
// released between cancels rather than held for the whole drain.
func (b *OrderBook) CancelAll() int {
	b.Lock()
	ids := make([]int64, 0, len(b.byID))
	for id := range b.byID {
		ids = append(ids, id)
	}
	b.Unlock()

	cancelled := 0
	for _, id := range ids {
		if _, ok := b.Cancel(id); ok {
			cancelled++
		}
	}
	return cancelled
}

// BestPrices returns a LevelSummary for the best bid and best ask,
// mirroring the original simulator's log_best_prices. Either may be nil if
// that side is empty.
func (b *OrderBook) BestPrices() (bid, ask *LevelSummary) {
	bidPrice, bidQty := b.BestBid()
	if bidPrice != nil {
		bid = &LevelSummary{Price: *bidPrice, Quantity: bidQty}
	}
	askPrice, askQty := b.BestAsk()
	if askPrice != nil {
		ask = &LevelSummary{Price: *askPrice, Quantity: askQty}
	}
	return bid, ask
}

// Tick returns the book's configured minimum price increment.
func (b *OrderBook) Tick() decimal.Decimal { return b.tick }
