package book

import (
	"container/list"

	"github.com/shopspring/decimal"
)

// priceLevel holds every resting order at a single price, in FIFO insertion
// order. Orders behind the head cannot match before it: level.front()
// always identifies the next order matching will touch.
type priceLevel struct {
	price  decimal.Decimal
	orders *list.List // of *Order
}

func newPriceLevel(price decimal.Decimal) *priceLevel {
	return &priceLevel{price: price, orders: list.New()}
}

func (l *priceLevel) front() *Order {
	if l.orders.Len() == 0 {
		return nil
	}
	return l.orders.Front().Value.(*Order)
}

func (l *priceLevel) totalQuantity() uint64 {
	var total uint64
	for e := l.orders.Front(); e != nil; e = e.Next() {
		total += e.Value.(*Order).Quantity
	}
	return total
}

// LevelSummary is a read-only view of aggregated quantity at a price level,
// returned from best-of-book and snapshot queries.
type LevelSummary struct {
	Price    decimal.Decimal
	Quantity uint64
}
