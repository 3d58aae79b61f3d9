// Package backtest
package backtest

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/amirphl/grid-trader/internal/event"
	"github.com/amirphl/grid-trader/internal/market"
	"github.com/amirphl/grid-trader/internal/order"
)

// simExchange is the simulated exchange the decision engine trades against
// during a replay. Market orders fill immediately at the current tick price;
// limit orders rest until price crosses them. Fill notifications are queued
// and delivered back to the engine as inbound Order events, mirroring the
// asynchronous confirmation of a live adapter. No wall clock, no randomness.
type simExchange struct {
	pair market.TradePair
	fee  decimal.Decimal // percent per fill

	base  decimal.Decimal
	quote decimal.Decimal

	feesSum     decimal.Decimal
	tradeVolume decimal.Decimal
	slippageSum decimal.Decimal
	orders      int
	maxLong     int
	maxShort    int

	nextID  int
	resting []order.Order
	pending []event.OrderEvent
	closing []order.Order

	price decimal.Decimal
	now   time.Time
}

func newSimExchange(pair market.TradePair, fee, initialBase, initialQuote decimal.Decimal) *simExchange {
	return &simExchange{
		pair:  pair,
		fee:   fee,
		base:  initialBase,
		quote: initialQuote,
	}
}

// advance moves simulated time forward to one synthesized trade and fills
// any resting limit orders the new price crosses.
func (s *simExchange) advance(price decimal.Decimal, ts time.Time) {
	s.price = price
	s.now = ts

	kept := s.resting[:0]
	for _, o := range s.resting {
		filled := (o.Side == order.Buy && price.LessThanOrEqual(o.Price)) ||
			(o.Side == order.Sell && price.GreaterThanOrEqual(o.Price))
		if filled {
			s.fill(o, o.Price, true)
		} else {
			kept = append(kept, o)
		}
	}
	s.resting = kept
	s.updateMaxOpen()
}

func (s *simExchange) SubmitOrder(_ context.Context, req order.Request) (order.Order, error) {
	s.nextID++
	o := order.Order{
		OrderID:          fmt.Sprintf("sim-%d", s.nextID),
		Pair:             req.Pair,
		Price:            req.Price,
		OriginalQuantity: req.Quantity,
		Side:             req.Side,
		Type:             req.Type,
		Status:           order.StatusNew,
		CreatedAt:        s.now,
		UpdatedAt:        s.now,
	}
	s.orders++

	if req.Type == order.Market {
		// Gap between the requested reference price and the simulated
		// market price is tracked as slippage.
		s.slippageSum = s.slippageSum.Add(s.price.Sub(req.Price).Abs())
		s.fill(o, s.price, false)
		return o, nil
	}

	s.resting = append(s.resting, o)
	s.updateMaxOpen()
	return o, nil
}

func (s *simExchange) CancelOrder(_ context.Context, orderID string) error {
	for i, o := range s.resting {
		if o.OrderID == orderID {
			s.resting = append(s.resting[:i], s.resting[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("cancel: order %s not resting", orderID)
}

func (s *simExchange) Balances(_ context.Context) (map[string]market.Balance, error) {
	return map[string]market.Balance{
		s.pair.Base:  {Asset: s.pair.Base, Available: s.base},
		s.pair.Quote: {Asset: s.pair.Quote, Available: s.quote},
	}, nil
}

func (s *simExchange) OpenOrders(_ context.Context, _ market.TradePair) ([]order.Order, error) {
	out := make([]order.Order, len(s.resting))
	copy(out, s.resting)
	return out, nil
}

// fill settles one order at the given price, applies the fee to the quote
// balance and queues the notification for the engine.
func (s *simExchange) fill(o order.Order, price decimal.Decimal, isClose bool) {
	notional := o.OriginalQuantity.Mul(price)
	fee := notional.Mul(s.fee).Div(decimal.NewFromInt(100))

	if o.Side == order.Buy {
		s.quote = s.quote.Sub(notional).Sub(fee)
		s.base = s.base.Add(o.OriginalQuantity)
	} else {
		s.base = s.base.Sub(o.OriginalQuantity)
		s.quote = s.quote.Add(notional).Sub(fee)
	}
	s.feesSum = s.feesSum.Add(fee)
	s.tradeVolume = s.tradeVolume.Add(notional)

	o.ExecutedQuantity = o.OriginalQuantity
	o.Status = order.StatusFilled
	o.Price = price
	o.Fee = fee
	o.UpdatedAt = s.now

	if isClose {
		s.closing = append(s.closing, o)
	}
	s.pending = append(s.pending, event.OrderEvent{Order: o, Timestamp: s.now})
}

// drain hands out the queued fill notifications and clears the queue.
func (s *simExchange) drain() []event.OrderEvent {
	out := s.pending
	s.pending = nil
	return out
}

func (s *simExchange) updateMaxOpen() {
	var long, short int
	for _, o := range s.resting {
		if o.Side == order.Buy {
			long++
		} else {
			short++
		}
	}
	if long > s.maxLong {
		s.maxLong = long
	}
	if short > s.maxShort {
		s.maxShort = short
	}
}
