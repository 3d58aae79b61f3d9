// Package market
package market

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TradePair is an ordered pair of asset symbols. The string form BASE_QUOTE
// is canonical; two pairs are equal iff both symbols are equal.
type TradePair struct {
	Base  string
	Quote string
}

func NewTradePair(base, quote string) TradePair {
	return TradePair{Base: strings.ToUpper(base), Quote: strings.ToUpper(quote)}
}

// ParsePair parses the canonical BASE_QUOTE form.
func ParsePair(s string) (TradePair, error) {
	parts := strings.Split(s, "_")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return TradePair{}, fmt.Errorf("invalid trade pair %q: want BASE_QUOTE", s)
	}
	return NewTradePair(parts[0], parts[1]), nil
}

func (p TradePair) String() string {
	return p.Base + "_" + p.Quote
}

func (p TradePair) IsZero() bool {
	return p.Base == "" && p.Quote == ""
}

// Tick represents a single trade, the finest-grained market event.
// Timestamps within one stream are non-decreasing.
type Tick struct {
	Pair      TradePair
	Price     decimal.Decimal
	Quantity  decimal.Decimal
	Timestamp time.Time
}

func (t Tick) Validate() error {
	if t.Pair.IsZero() {
		return errors.New("tick pair is empty")
	}
	if !t.Price.IsPositive() {
		return errors.New("tick price must be positive")
	}
	if t.Quantity.IsNegative() {
		return errors.New("tick quantity cannot be negative")
	}
	if t.Timestamp.IsZero() {
		return errors.New("tick timestamp is zero")
	}
	return nil
}

// Balance represents an asset balance reported by an exchange.
type Balance struct {
	Asset     string
	Available decimal.Decimal
	Locked    decimal.Decimal
}

func (b Balance) Total() decimal.Decimal {
	return b.Available.Add(b.Locked)
}

// PositionSide mirrors the futures position direction reported by adapters.
type PositionSide string

const (
	PositionLong  PositionSide = "LONG"
	PositionShort PositionSide = "SHORT"
)

// Position is supplied by the exchange adapter (or simulated in backtest).
// The decision engine reads it but never owns it.
type Position struct {
	Pair          TradePair
	EntryPrice    decimal.Decimal
	MarkPrice     decimal.Decimal
	Side          PositionSide
	Leverage      decimal.Decimal
	RealizedPnL   decimal.Decimal
	UnrealizedPnL decimal.Decimal
}

// PriceLevel is one side entry of an order book.
type PriceLevel struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// OrderBook is an L2 depth snapshot. Bids are descending, asks ascending;
// both are bounded by the producing adapter.
type OrderBook struct {
	Pair      TradePair
	Bids      []PriceLevel
	Asks      []PriceLevel
	Timestamp time.Time
}

// BestBid returns the highest bid, or false when the book side is empty.
func (ob OrderBook) BestBid() (PriceLevel, bool) {
	if len(ob.Bids) == 0 {
		return PriceLevel{}, false
	}
	return ob.Bids[0], true
}

// BestAsk returns the lowest ask, or false when the book side is empty.
func (ob OrderBook) BestAsk() (PriceLevel, bool) {
	if len(ob.Asks) == 0 {
		return PriceLevel{}, false
	}
	return ob.Asks[0], true
}
