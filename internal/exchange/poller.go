package exchange

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/amirphl/grid-trader/internal/db"
	"github.com/amirphl/grid-trader/internal/event"
	"github.com/amirphl/grid-trader/internal/market"
	"github.com/amirphl/grid-trader/internal/tfutils"
)

// OrderWatcher polls the status of journaled open orders and forwards every
// change as an OrderEvent. Fill notifications reach the engine through the
// same inbox as market data, so the engine sees one total order of events.
type OrderWatcher struct {
	exchange Exchange
	storage  db.Storage
	sink     TickSink
	pair     market.TradePair
	interval time.Duration
	log      zerolog.Logger
}

func NewOrderWatcher(exchange Exchange, storage db.Storage, sink TickSink, pair market.TradePair, interval time.Duration, log zerolog.Logger) *OrderWatcher {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &OrderWatcher{
		exchange: exchange,
		storage:  storage,
		sink:     sink,
		pair:     pair,
		interval: interval,
		log:      log.With().Str("component", "order-watcher").Logger(),
	}
}

func (w *OrderWatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.check(ctx)
		}
	}
}

func (w *OrderWatcher) check(ctx context.Context) {
	orders, err := w.storage.GetOpenOrders(ctx, w.pair)
	if err != nil {
		w.log.Error().Err(err).Msg("fetching open orders failed")
		return
	}
	for _, o := range orders {
		fresh, err := w.exchange.OrderStatus(ctx, o.OrderID)
		if err != nil {
			w.log.Warn().Err(err).Str("order_id", o.OrderID).Msg("order status check failed")
			continue
		}
		if fresh.Status == o.Status && fresh.ExecutedQuantity.Equal(o.ExecutedQuantity) {
			continue
		}
		ev := event.OrderEvent{Order: fresh, Timestamp: time.Now().UTC()}
		if err := w.sink.Enqueue(ctx, ev); err != nil {
			w.log.Error().Err(err).Msg("enqueueing order event failed")
			return
		}
	}
}

// CandlePoller fetches recent sealed candles for each configured timeframe,
// persists them and forwards new ones as CandleEvents. Indicator-driven
// engines get their bar series from here.
type CandlePoller struct {
	exchange   Exchange
	storage    db.Storage
	sink       TickSink
	pair       market.TradePair
	timeframes []string
	lastSeen   map[string]int64 // timeframe -> newest delivered open time
	log        zerolog.Logger
}

func NewCandlePoller(exchange Exchange, storage db.Storage, sink TickSink, pair market.TradePair, timeframes []string, log zerolog.Logger) *CandlePoller {
	return &CandlePoller{
		exchange:   exchange,
		storage:    storage,
		sink:       sink,
		pair:       pair,
		timeframes: timeframes,
		lastSeen:   make(map[string]int64, len(timeframes)),
		log:        log.With().Str("component", "candle-poller").Logger(),
	}
}

// Run polls once per minute; finer granularity gains nothing since the
// smallest supported timeframe is 1m.
func (p *CandlePoller) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	p.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

func (p *CandlePoller) poll(ctx context.Context) {
	now := time.Now().UTC()
	for _, timeframe := range p.timeframes {
		span := tfutils.GetTimeframeDuration(timeframe)
		from := now.Add(-10 * span)
		candles, err := p.exchange.FetchCandles(ctx, p.pair, timeframe, from, now)
		if err != nil {
			p.log.Error().Err(err).Str("timeframe", timeframe).Msg("candle fetch failed")
			continue
		}
		if len(candles) == 0 {
			continue
		}
		if err := p.storage.SaveCandles(ctx, candles); err != nil {
			p.log.Error().Err(err).Str("timeframe", timeframe).Msg("persisting candles failed")
		}
		cutoff := now.UnixMilli()
		for _, c := range candles {
			// Skip the still-forming bucket and anything already delivered.
			if c.CloseTime >= cutoff || c.OpenTime <= p.lastSeen[timeframe] {
				continue
			}
			if err := p.sink.Enqueue(ctx, event.CandleEvent{Candle: c}); err != nil {
				p.log.Error().Err(err).Msg("enqueueing candle event failed")
				return
			}
			p.lastSeen[timeframe] = c.OpenTime
		}
	}
}
