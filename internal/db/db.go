// Package db
package db

import (
	"context"
	"time"

	"github.com/amirphl/grid-trader/internal/candle"
	"github.com/amirphl/grid-trader/internal/market"
	"github.com/amirphl/grid-trader/internal/order"
)

// JournalEvent is a persisted record of something the engine did or saw.
type JournalEvent struct {
	Time        time.Time
	Type        string // "order", "signal", "error", ...
	Description string
	Data        map[string]any
}

// Storage is the interface for all persistent storage. The engine only
// relies on these in-memory contracts; the schema behind them is not part
// of the engine's design.
type Storage interface {
	SaveCandles(ctx context.Context, candles []candle.Candle) error
	// GetCandles returns candles ordered by open time ascending, covering
	// [from, to].
	GetCandles(ctx context.Context, pair market.TradePair, timeframe string, from, to time.Time) ([]candle.Candle, error)
	GetLatestCandle(ctx context.Context, pair market.TradePair, timeframe string) (*candle.Candle, error)

	SaveOrder(ctx context.Context, o order.Order) error
	GetOpenOrders(ctx context.Context, pair market.TradePair) ([]order.Order, error)

	LogEvent(ctx context.Context, ev JournalEvent) error

	Close() error
}
