// Package submission exposes the public entry points consumed by agents
// and the client-command dispatcher: new/cancel/edit, wrapping the engine
// with structured logging and a per-submission trace id.
package submission

import (
	"github.com/google/uuid"
	"github.com/om-quantizer/tickhouse/internal/book"
	"github.com/om-quantizer/tickhouse/internal/engine"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Facade is the entry point consumed by agents and the client dispatcher.
// Each Submit call gets a fresh trace id, attached to the facade's log line
// for that submission; Cancel and Edit are logged without one. The trace id
// is not passed to the engine and is never part of order identity or the
// wire format.
type Facade struct {
	eng *engine.Engine
	log zerolog.Logger
}

// New wraps eng with a logger scoped to the submission facade.
func New(eng *engine.Engine, log zerolog.Logger) *Facade {
	return &Facade{eng: eng, log: log.With().Str("component", "submission.Facade").Logger()}
}

// Submit forwards to the engine. The returned error distinguishes an
// ingress rejection from a clean full fill (nil order, nil error); a
// non-nil order is the unfilled residual now resting in the book.
func (f *Facade) Submit(side book.Side, limitPrice decimal.Decimal, quantity uint64, owner engine.Confirmer) (*book.Order, error) {
	traceID := uuid.New()
	log := f.log.With().Str("trace_id", traceID.String()).Logger()

	order, err := f.eng.Submit(side, limitPrice, quantity, owner)
	switch {
	case err != nil:
		log.Info().Err(err).Str("side", side.String()).Msg("submission rejected")
	case order != nil:
		log.Info().Int64("order_id", order.ID).Uint64("residual_qty", order.Quantity).Msg("submission rests")
	default:
		log.Info().Msg("submission filled completely")
	}
	return order, err
}

// Cancel forwards to the engine, returning false for an unknown or
// already-inactive order.
func (f *Facade) Cancel(id int64) bool {
	ok := f.eng.Cancel(id)
	f.log.Info().Int64("order_id", id).Bool("cancelled", ok).Msg("cancel")
	return ok
}

// Edit forwards to the engine, returning false for an unknown or
// already-inactive order, or a zero new quantity.
func (f *Facade) Edit(id int64, newPrice *decimal.Decimal, newQuantity *uint64) bool {
	ok := f.eng.Edit(id, newPrice, newQuantity)
	f.log.Info().Int64("order_id", id).Bool("edited", ok).Msg("edit")
	return ok
}
