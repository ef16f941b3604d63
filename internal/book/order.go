// Package book implements the two-sided priced order book: FIFO queues per
// price level, O(1) lookup by order ID, and best-of-book / market-price
// queries, all serialised by a single per-book mutex.
package book

import "github.com/shopspring/decimal"

// Side is one of Buy or Sell. There is no market-order type: the
// specification's Non-goals exclude anything but limit orders.
type Side uint8

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Buy {
		return "B"
	}
	return "S"
}

// ConfirmationEvent is delivered to an order's Owner, never blocking the
// matching path. For a fill (ConfirmTrade) the Trade* fields and
// Counterparty are populated; RejectReason is populated for a rejection.
type ConfirmationEvent struct {
	Kind         ConfirmationKind
	OrderID      int64
	Side         Side
	TradePrice   decimal.Decimal
	TradeQty     uint64
	Counterparty int64
	RejectReason string
}

type ConfirmationKind uint8

const (
	ConfirmTrade ConfirmationKind = iota
	ConfirmReject
)

// Confirmer is the capability an Order's Owner is represented by. The
// engine depends on nothing about an owner beyond "deliver this event" —
// it is never inspected for identity, balance, or any other property.
type Confirmer interface {
	Confirm(ConfirmationEvent)
}

// Order is the fundamental resting/incoming entity. ID is stable across
// partial fills and edits; a partial fill leaves ID and Timestamp
// unchanged, while an edit refreshes Timestamp (losing time priority).
type Order struct {
	ID        int64
	Side      Side
	Price     decimal.Decimal
	Quantity  uint64
	Timestamp int64 // nanoseconds
	Owner     Confirmer
	Active    bool
}
