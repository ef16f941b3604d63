// Package feed packs the exchange's lifecycle events into the fixed-layout
// little-endian binary records carried on the market-data multicast stream,
// and assigns the process-global gapless sequence number every record
// carries.
package feed

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"sync/atomic"

	"github.com/om-quantizer/tickhouse/internal/book"
)

// Kind identifies one of the six wire message types by its ASCII byte.
type Kind uint8

const (
	KindNew       Kind = 'N'
	KindTrade     Kind = 'T'
	KindCancel    Kind = 'X'
	KindCancelAck Kind = 'K'
	KindEditAck   Kind = 'E'
	KindReject    Kind = 'R'
)

// ErrEncodingOverflow is returned when a price or id would not fit the
// wire's fixed-width fields — a programming error upstream, never silently
// truncated.
var ErrEncodingOverflow = errors.New("feed: value overflows wire field")

var sequence uint32

// NextSequence returns the next process-global sequence number, starting at
// 1. Callers must hold the engine lock for the whole emission so that
// sequence numbers are assigned in true emission order — the counter itself
// is a plain atomic increment, not a second lock.
func NextSequence() uint32 {
	return atomic.AddUint32(&sequence, 1)
}

// Header is present in every record.
type Header struct {
	StreamID uint16
	Sequence uint32
	MsgType  Kind
}

// OrderRecord is the N/X/K/E/R payload shape.
type OrderRecord struct {
	Header
	TimestampNs uint64
	OrderID     int64
	Token       uint32
	Side        book.Side
	PriceInt    uint32
	Quantity    uint32
}

// TradeRecord is the T payload shape.
type TradeRecord struct {
	Header
	TimestampNs uint64
	BuyID       int64
	SellID      int64
	Token       uint32
	PriceInt    uint32
	Quantity    uint32
}

// PriceToInt narrows a price already scaled to integer paise (price times
// PRICE_MULTIPLIER) to its on-wire uint32, failing with ErrEncodingOverflow
// rather than wrapping if it is negative or would not fit a uint32.
func PriceToInt(priceUnits int64) (uint32, error) {
	if priceUnits < 0 || priceUnits > math.MaxUint32 {
		return 0, ErrEncodingOverflow
	}
	return uint32(priceUnits), nil
}

// EncodeOrder packs an OrderRecord (N, X, K, E, or R) into its fixed-layout
// little-endian bytes.
func EncodeOrder(r OrderRecord) ([]byte, error) {
	if r.OrderID < -(1<<53) || r.OrderID > (1<<53) {
		// beyond float64's exact-integer range; the wire carries order ids
		// as doubles, so this is the overflow boundary that matters here.
		return nil, ErrEncodingOverflow
	}

	buf := new(bytes.Buffer)
	buf.Grow(2 + 4 + 1 + 8 + 8 + 4 + 1 + 4 + 4)

	if err := binary.Write(buf, binary.LittleEndian, r.StreamID); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, r.Sequence); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, uint8(r.MsgType)); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, r.TimestampNs); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, float64(r.OrderID)); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, r.Token); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, uint8(sideByte(r.Side))); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, r.PriceInt); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, r.Quantity); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeTrade packs a TradeRecord (T) into its fixed-layout little-endian
// bytes.
func EncodeTrade(r TradeRecord) ([]byte, error) {
	if r.BuyID > (1<<53) || r.SellID > (1<<53) {
		return nil, ErrEncodingOverflow
	}

	buf := new(bytes.Buffer)
	buf.Grow(2 + 4 + 1 + 8 + 8 + 8 + 4 + 4 + 4)

	if err := binary.Write(buf, binary.LittleEndian, r.StreamID); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, r.Sequence); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, uint8(r.MsgType)); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, r.TimestampNs); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, float64(r.BuyID)); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, float64(r.SellID)); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, r.Token); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, r.PriceInt); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, r.Quantity); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func sideByte(s book.Side) byte {
	if s == book.Buy {
		return 'B'
	}
	return 'S'
}
