package backtest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/amirphl/grid-trader/internal/candle"
	"github.com/amirphl/grid-trader/internal/event"
	"github.com/amirphl/grid-trader/internal/market"
	"github.com/amirphl/grid-trader/internal/strategy"
)

// CandleSource supplies the historical sequence to replay.
type CandleSource interface {
	GetCandles(ctx context.Context, pair market.TradePair, timeframe string, from, to time.Time) ([]candle.Candle, error)
}

// Input parameterizes one replay. Exactly one of Grid/Trend must be set.
type Input struct {
	From            time.Time
	To              time.Time
	Fee             decimal.Decimal // percent per fill
	FailIfKlineGaps bool
	Timeframe       string // history timeframe, default "1m"
	InitialBase     decimal.Decimal
	InitialQuote    decimal.Decimal
	Grid            *strategy.GridSettings
	Trend           *strategy.TrendSettings
}

func (in Input) pair() (market.TradePair, error) {
	switch {
	case in.Grid != nil && in.Trend == nil:
		return in.Grid.Pair, nil
	case in.Trend != nil && in.Grid == nil:
		return in.Trend.Pair, nil
	default:
		return market.TradePair{}, errors.New("backtest input needs exactly one strategy settings variant")
	}
}

// indicatorResetter is implemented by engines that accumulate candle
// history and can re-anchor it.
type indicatorResetter interface {
	ResetIndicators()
}

// Runner replays a bounded historical window through a decision engine wired
// to a simulated exchange. Two runs with identical inputs produce
// byte-identical reports.
type Runner struct {
	source CandleSource
	log    zerolog.Logger
}

func NewRunner(source CandleSource, log zerolog.Logger) *Runner {
	return &Runner{source: source, log: log.With().Str("component", "backtest").Logger()}
}

func (r *Runner) Run(ctx context.Context, in Input) (*Report, error) {
	pair, err := in.pair()
	if err != nil {
		return nil, err
	}
	timeframe := in.Timeframe
	if timeframe == "" {
		timeframe = "1m"
	}

	candles, err := r.source.GetCandles(ctx, pair, timeframe, in.From, in.To)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}
	if len(candles) == 0 {
		return nil, fmt.Errorf("no %s history for %s in [%s, %s]",
			timeframe, pair, in.From.Format(time.RFC3339), in.To.Format(time.RFC3339))
	}

	sim := newSimExchange(pair, in.Fee, in.InitialBase, in.InitialQuote)

	var eng strategy.Engine
	// The engine log is silenced: a replay's only output is its report.
	engLog := r.log.Level(zerolog.Disabled)
	if in.Grid != nil {
		eng, err = strategy.NewGridEngine(*in.Grid, sim, sim, engLog)
	} else {
		eng, err = strategy.NewTrendEngine(*in.Trend, sim, sim, engLog)
	}
	if err != nil {
		return nil, err
	}
	if err := eng.Setup(ctx); err != nil {
		return nil, err
	}

	skippedGaps := 0
	var prev *candle.Candle

	for i := range candles {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		c := candles[i]
		if prev != nil && c.OpenTime != prev.CloseTime+1 {
			if in.FailIfKlineGaps {
				return nil, &candle.SequenceError{Expected: prev.CloseTime + 1, Got: c.OpenTime}
			}
			skippedGaps++
			// Post-gap bars are contiguous with each other, so the indicator
			// history re-anchors at the gap: the trend gate goes not-ready
			// until fresh history accrues instead of freezing on a stale
			// snapshot.
			if rw, ok := eng.(indicatorResetter); ok {
				rw.ResetIndicators()
			}
		}
		prev = &candles[i]

		for _, tick := range synthesizeTicks(c) {
			sim.advance(tick.Price, tick.Timestamp)
			if err := eng.Handle(ctx, event.TickEvent{Tick: tick}); err != nil {
				return nil, err
			}
			if err := r.pumpFills(ctx, eng, sim); err != nil {
				return nil, err
			}
		}

		if err := eng.Handle(ctx, event.CandleEvent{Candle: c}); err != nil {
			return nil, err
		}
		if err := r.pumpFills(ctx, eng, sim); err != nil {
			return nil, err
		}
	}

	eng.Stop()

	return &Report{
		FinalBaseBalance:   sim.base,
		FinalQuoteBalance:  sim.quote,
		FeesSum:            sim.feesSum,
		TradeVolume:        sim.tradeVolume,
		SlippageSum:        sim.slippageSum,
		OrdersAmount:       sim.orders,
		MaxLongOpenOrders:  sim.maxLong,
		MaxShortOpenOrders: sim.maxShort,
		SkippedGaps:        skippedGaps,
		ClosingOrders:      sim.closing,
	}, nil
}

// pumpFills delivers queued fill notifications back into the engine until
// the queue settles. Fills may trigger follow-up placements which in turn
// fill, so this loops.
func (r *Runner) pumpFills(ctx context.Context, eng strategy.Engine, sim *simExchange) error {
	for {
		evs := sim.drain()
		if len(evs) == 0 {
			return nil
		}
		for _, ev := range evs {
			if err := eng.Handle(ctx, ev); err != nil {
				return err
			}
		}
	}
}

// synthesizeTicks expands one candle into a chronological trade sequence so
// the decision engine observes the same event shapes as live trading.
// Bullish candles traverse open, low, high, close; bearish candles open,
// high, low, close. Fixed forever for reproducibility.
func synthesizeTicks(c candle.Candle) []market.Tick {
	var prices [4]decimal.Decimal
	if c.Close.GreaterThanOrEqual(c.Open) {
		prices = [4]decimal.Decimal{c.Open, c.Low, c.High, c.Close}
	} else {
		prices = [4]decimal.Decimal{c.Open, c.High, c.Low, c.Close}
	}

	qty := c.Volume.Div(decimal.NewFromInt(4))
	times := [4]int64{c.OpenTime, c.OpenTime + 1, c.OpenTime + 2, c.CloseTime}

	out := make([]market.Tick, 0, 4)
	for i, p := range prices {
		out = append(out, market.Tick{
			Pair:      c.Pair,
			Price:     p,
			Quantity:  qty,
			Timestamp: time.UnixMilli(times[i]).UTC(),
		})
	}
	return out
}
