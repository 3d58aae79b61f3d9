package exchange

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/amirphl/grid-trader/internal/db"
	"github.com/amirphl/grid-trader/internal/market"
	"github.com/amirphl/grid-trader/internal/order"
)

// Account combines live exchange balances with journaled open orders so an
// engine can rebuild its working set after a restart. Journaled orders are
// refreshed against the exchange before being handed out, which drops
// anything that was filled or canceled while the process was down.
type Account struct {
	exchange Exchange
	storage  db.Storage
	log      zerolog.Logger
}

func NewAccount(exchange Exchange, storage db.Storage, log zerolog.Logger) *Account {
	return &Account{exchange: exchange, storage: storage, log: log}
}

func (a *Account) Balances(ctx context.Context) (map[string]market.Balance, error) {
	return a.exchange.Balances(ctx)
}

func (a *Account) OpenOrders(ctx context.Context, pair market.TradePair) ([]order.Order, error) {
	journaled, err := a.storage.GetOpenOrders(ctx, pair)
	if err != nil {
		return nil, err
	}

	open := make([]order.Order, 0, len(journaled))
	for _, jo := range journaled {
		fresh, err := a.exchange.OrderStatus(ctx, jo.OrderID)
		if err != nil {
			a.log.Warn().Err(err).Str("order_id", jo.OrderID).Msg("order refresh failed, keeping journaled state")
			if jo.IsOpen() {
				open = append(open, jo)
			}
			continue
		}
		if err := a.storage.SaveOrder(ctx, fresh); err != nil {
			a.log.Warn().Err(err).Str("order_id", fresh.OrderID).Msg("persisting refreshed order failed")
		}
		if fresh.IsOpen() {
			open = append(open, fresh)
		}
	}
	return open, nil
}
