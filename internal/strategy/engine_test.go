package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/amirphl/grid-trader/internal/event"
	"github.com/amirphl/grid-trader/internal/market"
	"github.com/amirphl/grid-trader/internal/order"
)

// fakeExchange records submitted orders and answers with NEW orders carrying
// sequential ids.
type fakeExchange struct {
	submitted []order.Request
	canceled  []string
	submitErr error
	nextID    int
}

func (f *fakeExchange) SubmitOrder(_ context.Context, req order.Request) (order.Order, error) {
	if f.submitErr != nil {
		return order.Order{}, f.submitErr
	}
	f.nextID++
	f.submitted = append(f.submitted, req)
	return order.Order{
		OrderID:          fmt.Sprintf("fake-%d", f.nextID),
		Pair:             req.Pair,
		Price:            req.Price,
		OriginalQuantity: req.Quantity,
		Side:             req.Side,
		Type:             req.Type,
		Status:           order.StatusNew,
		CreatedAt:        time.Unix(0, 0).UTC(),
		UpdatedAt:        time.Unix(0, 0).UTC(),
	}, nil
}

func (f *fakeExchange) CancelOrder(_ context.Context, orderID string) error {
	f.canceled = append(f.canceled, orderID)
	return nil
}

func (f *fakeExchange) lastSubmitted() order.Request {
	return f.submitted[len(f.submitted)-1]
}

// fakeAccount serves fixed balances and open orders.
type fakeAccount struct {
	balances map[string]market.Balance
	open     []order.Order
}

func newRichAccount(pair market.TradePair) *fakeAccount {
	return &fakeAccount{
		balances: map[string]market.Balance{
			pair.Base:  {Asset: pair.Base, Available: decimal.NewFromInt(1_000)},
			pair.Quote: {Asset: pair.Quote, Available: decimal.NewFromInt(1_000_000)},
		},
	}
}

func (f *fakeAccount) Balances(context.Context) (map[string]market.Balance, error) {
	return f.balances, nil
}

func (f *fakeAccount) OpenOrders(context.Context, market.TradePair) ([]order.Order, error) {
	return f.open, nil
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func tickAt(pair market.TradePair, price float64) event.TickEvent {
	return event.TickEvent{Tick: market.Tick{
		Pair:      pair,
		Price:     decimal.NewFromFloat(price),
		Quantity:  decimal.NewFromInt(1),
		Timestamp: time.Unix(0, 0).UTC(),
	}}
}

func fillFor(o order.Request, id string) event.OrderEvent {
	return event.OrderEvent{
		Order: order.Order{
			OrderID:          id,
			Pair:             o.Pair,
			Price:            o.Price,
			OriginalQuantity: o.Quantity,
			ExecutedQuantity: o.Quantity,
			Side:             o.Side,
			Type:             o.Type,
			Status:           order.StatusFilled,
		},
		Timestamp: time.Unix(0, 0).UTC(),
	}
}
