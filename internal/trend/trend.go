// Package trend maintains Hull Moving Averages and RSI values across the
// timeframes a strategy is configured with, and exposes the latest joint
// snapshot. Insufficient history is a "not ready" state, never a numeric
// error: callers must not trade on trend until the snapshot is ready.
package trend

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/amirphl/grid-trader/internal/candle"
	"github.com/amirphl/grid-trader/internal/indicator"
	"github.com/amirphl/grid-trader/internal/tfutils"
)

// snapshotScale is the fixed rounding applied to every exposed value, so
// backtest and live snapshots compare bit-for-bit.
const snapshotScale = 2

// Config selects up to three HMA periods on one timeframe and up to two RSI
// periods, each with its own timeframe. A zero period disables that
// indicator.
type Config struct {
	HMA1          int    `yaml:"hma1"`
	HMA2          int    `yaml:"hma2"`
	HMA3          int    `yaml:"hma3"`
	HMATimeframe  string `yaml:"hma_timeframe"`
	RSI1          int    `yaml:"rsi1"`
	RSI1Timeframe string `yaml:"rsi1_timeframe"`
	RSI2          int    `yaml:"rsi2"`
	RSI2Timeframe string `yaml:"rsi2_timeframe"`
	Capacity      int    `yaml:"capacity"` // bar window per timeframe
}

func (c Config) Validate() error {
	if c.HMA1 == 0 && c.HMA2 == 0 && c.HMA3 == 0 && c.RSI1 == 0 && c.RSI2 == 0 {
		return fmt.Errorf("trend config enables no indicator")
	}
	for _, tf := range c.timeframes() {
		if !tfutils.IsValidTimeframe(tf) {
			return fmt.Errorf("unsupported trend timeframe %q", tf)
		}
	}
	return nil
}

func (c Config) timeframes() []string {
	seen := map[string]bool{}
	var out []string
	add := func(tf string) {
		if tf != "" && !seen[tf] {
			seen[tf] = true
			out = append(out, tf)
		}
	}
	if c.HMA1 > 0 || c.HMA2 > 0 || c.HMA3 > 0 {
		add(c.HMATimeframe)
	}
	if c.RSI1 > 0 {
		add(c.RSI1Timeframe)
	}
	if c.RSI2 > 0 {
		add(c.RSI2Timeframe)
	}
	return out
}

// Snapshot is the joint indicator state at a point in the stream. Disabled
// indicators stay at decimal zero.
type Snapshot struct {
	HMA1 decimal.Decimal
	HMA2 decimal.Decimal
	HMA3 decimal.Decimal
	RSI1 decimal.Decimal
	RSI2 decimal.Decimal
}

// Calculator owns one kline aggregator per distinct timeframe referenced by
// the configured indicators. Not safe for concurrent use; owned by a single
// consumer like everything else in the decision path.
type Calculator struct {
	cfg   Config
	aggs  map[string]*candle.KlineAggregator
	last  Snapshot
	ready bool
}

func NewCalculator(cfg Config) (*Calculator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	capacity := cfg.Capacity
	if capacity == 0 {
		capacity = 200
	}
	aggs := make(map[string]*candle.KlineAggregator)
	for _, tf := range cfg.timeframes() {
		agg, err := candle.NewKlineAggregator(tf, capacity)
		if err != nil {
			return nil, err
		}
		aggs[tf] = agg
	}
	return &Calculator{cfg: cfg, aggs: aggs}, nil
}

// Add forwards fine-grained bars to every relevant aggregator and recomputes
// the snapshot. A sequence error from any aggregator is fatal and is
// returned unchanged.
func (c *Calculator) Add(bars ...candle.Candle) error {
	for _, agg := range c.aggs {
		if err := agg.Add(bars...); err != nil {
			return err
		}
	}
	c.recompute()
	return nil
}

// CloseCurrent flushes the in-progress bar of every aggregator, then
// recomputes. Used at run start and backtest end.
func (c *Calculator) CloseCurrent() {
	for _, agg := range c.aggs {
		agg.CloseCurrent()
	}
	c.recompute()
}

// Reset discards all accumulated history, returning the snapshot to
// not-ready until fresh bars accrue.
func (c *Calculator) Reset() {
	for _, agg := range c.aggs {
		agg.Reset()
	}
	c.last = Snapshot{}
	c.ready = false
}

// Snapshot returns the latest joint indicator values rounded half-up to two
// fractional digits. The second return is false while any configured
// indicator still lacks history.
func (c *Calculator) Snapshot() (Snapshot, bool) {
	return c.last, c.ready
}

func (c *Calculator) recompute() {
	var snap Snapshot
	ready := true

	if closes, ok := c.closes(c.cfg.HMATimeframe); ok {
		snap.HMA1, ready = hmaAt(closes, c.cfg.HMA1, ready)
		snap.HMA2, ready = hmaAt(closes, c.cfg.HMA2, ready)
		snap.HMA3, ready = hmaAt(closes, c.cfg.HMA3, ready)
	} else if c.cfg.HMA1 > 0 || c.cfg.HMA2 > 0 || c.cfg.HMA3 > 0 {
		ready = false
	}

	snap.RSI1, ready = c.rsiAt(c.cfg.RSI1Timeframe, c.cfg.RSI1, ready)
	snap.RSI2, ready = c.rsiAt(c.cfg.RSI2Timeframe, c.cfg.RSI2, ready)

	c.last = snap
	c.ready = ready
}

func (c *Calculator) closes(tf string) ([]decimal.Decimal, bool) {
	agg, ok := c.aggs[tf]
	if !ok {
		return nil, false
	}
	return agg.Closes(), true
}

func (c *Calculator) rsiAt(tf string, period int, ready bool) (decimal.Decimal, bool) {
	if period <= 0 {
		return decimal.Zero, ready
	}
	closes, ok := c.closes(tf)
	if !ok {
		return decimal.Zero, false
	}
	v, ok := indicator.LastRSI(closes, period)
	if !ok {
		return decimal.Zero, false
	}
	return v.Round(snapshotScale), ready
}

func hmaAt(closes []decimal.Decimal, period int, ready bool) (decimal.Decimal, bool) {
	if period <= 0 {
		return decimal.Zero, ready
	}
	v, ok := indicator.LastHMA(closes, period)
	if !ok {
		return decimal.Zero, false
	}
	return v.Round(snapshotScale), ready
}
