package db

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/amirphl/grid-trader/internal/candle"
	"github.com/amirphl/grid-trader/internal/market"
	"github.com/amirphl/grid-trader/internal/order"
)

// Memory is an in-memory Storage used by tests and database-less backtests.
type Memory struct {
	mu      sync.RWMutex
	candles map[string][]candle.Candle // pair|timeframe -> sorted by open time
	orders  map[string]order.Order
	journal []JournalEvent
}

func NewMemory() *Memory {
	return &Memory{
		candles: make(map[string][]candle.Candle),
		orders:  make(map[string]order.Order),
	}
}

func candleKey(pair market.TradePair, timeframe string) string {
	return pair.String() + "|" + timeframe
}

func (m *Memory) SaveCandles(_ context.Context, candles []candle.Candle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range candles {
		key := candleKey(c.Pair, c.Timeframe)
		replaced := false
		for i, existing := range m.candles[key] {
			if existing.OpenTime == c.OpenTime {
				m.candles[key][i] = c
				replaced = true
				break
			}
		}
		if !replaced {
			m.candles[key] = append(m.candles[key], c)
		}
	}
	for key := range m.candles {
		sort.Slice(m.candles[key], func(i, j int) bool {
			return m.candles[key][i].OpenTime < m.candles[key][j].OpenTime
		})
	}
	return nil
}

func (m *Memory) GetCandles(_ context.Context, pair market.TradePair, timeframe string, from, to time.Time) ([]candle.Candle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []candle.Candle
	for _, c := range m.candles[candleKey(pair, timeframe)] {
		if c.OpenTime >= from.UnixMilli() && c.OpenTime <= to.UnixMilli() {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *Memory) GetLatestCandle(_ context.Context, pair market.TradePair, timeframe string) (*candle.Candle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.candles[candleKey(pair, timeframe)]
	if len(all) == 0 {
		return nil, nil
	}
	c := all[len(all)-1]
	return &c, nil
}

func (m *Memory) SaveOrder(_ context.Context, o order.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.OrderID] = o
	return nil
}

func (m *Memory) GetOpenOrders(_ context.Context, pair market.TradePair) ([]order.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []order.Order
	for _, o := range m.orders {
		if o.Pair == pair && o.IsOpen() {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	return out, nil
}

func (m *Memory) LogEvent(_ context.Context, ev JournalEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.journal = append(m.journal, ev)
	return nil
}

func (m *Memory) Close() error { return nil }
