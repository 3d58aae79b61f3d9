// Package event defines the normalized inbound event union every exchange
// adapter must emit. Adapters timestamp each event and never reorder within
// one pair's stream; the per-bot consumer applies them in a single total
// order.
package event

import (
	"time"

	"github.com/amirphl/grid-trader/internal/candle"
	"github.com/amirphl/grid-trader/internal/market"
	"github.com/amirphl/grid-trader/internal/order"
)

type Kind uint8

const (
	KindTick Kind = iota
	KindCandle
	KindOrder
	KindPosition
	KindBalance
	KindDepth
)

func (k Kind) String() string {
	switch k {
	case KindTick:
		return "tick"
	case KindCandle:
		return "candle"
	case KindOrder:
		return "order"
	case KindPosition:
		return "position"
	case KindBalance:
		return "balance"
	case KindDepth:
		return "depth"
	default:
		return "unknown"
	}
}

// Event is the tagged union consumed by the decision engine.
type Event interface {
	Kind() Kind
	Time() time.Time
}

type TickEvent struct {
	Tick market.Tick
}

func (e TickEvent) Kind() Kind      { return KindTick }
func (e TickEvent) Time() time.Time { return e.Tick.Timestamp }

type CandleEvent struct {
	Candle candle.Candle
}

func (e CandleEvent) Kind() Kind      { return KindCandle }
func (e CandleEvent) Time() time.Time { return e.Candle.OpensAt() }

// OrderEvent carries a fill/partial-fill/cancel notification.
type OrderEvent struct {
	Order     order.Order
	Timestamp time.Time
}

func (e OrderEvent) Kind() Kind      { return KindOrder }
func (e OrderEvent) Time() time.Time { return e.Timestamp }

type PositionEvent struct {
	Position  market.Position
	Timestamp time.Time
}

func (e PositionEvent) Kind() Kind      { return KindPosition }
func (e PositionEvent) Time() time.Time { return e.Timestamp }

type BalanceEvent struct {
	Balance   market.Balance
	Timestamp time.Time
}

func (e BalanceEvent) Kind() Kind      { return KindBalance }
func (e BalanceEvent) Time() time.Time { return e.Timestamp }

type DepthEvent struct {
	Book market.OrderBook
}

func (e DepthEvent) Kind() Kind      { return KindDepth }
func (e DepthEvent) Time() time.Time { return e.Book.Timestamp }
