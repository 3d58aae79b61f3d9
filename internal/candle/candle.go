// Package candle
package candle

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/amirphl/grid-trader/internal/market"
	"github.com/amirphl/grid-trader/internal/tfutils"
)

// Candle is one OHLCV bar over the half-open millisecond interval
// [OpenTime, CloseTime]. For a gap-free sequence of one timeframe,
// next.OpenTime == prev.CloseTime+1 must hold.
type Candle struct {
	Pair      market.TradePair `json:"pair"`
	Open      decimal.Decimal  `json:"open"`
	High      decimal.Decimal  `json:"high"`
	Low       decimal.Decimal  `json:"low"`
	Close     decimal.Decimal  `json:"close"`
	Volume    decimal.Decimal  `json:"volume"`
	OpenTime  int64            `json:"open_time"`  // epoch millis
	CloseTime int64            `json:"close_time"` // epoch millis
	Timeframe string           `json:"timeframe"`
	Source    string           `json:"source"`
}

// OpensAt returns the opening instant as time.Time (UTC).
func (c *Candle) OpensAt() time.Time {
	return time.UnixMilli(c.OpenTime).UTC()
}

// Validate checks if a candle has valid data
func (c *Candle) Validate() error {
	if c.OpenTime < 0 {
		return errors.New("candle open time is negative")
	}
	if c.CloseTime <= c.OpenTime {
		return errors.New("candle close time must be greater than open time")
	}
	if !c.Open.IsPositive() || !c.High.IsPositive() || !c.Low.IsPositive() || !c.Close.IsPositive() {
		return errors.New("candle prices must be positive")
	}
	if c.High.LessThan(c.Low) {
		return errors.New("candle high cannot be less than low")
	}
	if c.Open.LessThan(c.Low) || c.Open.GreaterThan(c.High) {
		return errors.New("candle open price must be between high and low")
	}
	if c.Close.LessThan(c.Low) || c.Close.GreaterThan(c.High) {
		return errors.New("candle close price must be between high and low")
	}
	if c.Volume.IsNegative() {
		return errors.New("candle volume cannot be negative")
	}
	if c.Pair.IsZero() {
		return errors.New("candle pair cannot be empty")
	}
	if !tfutils.IsValidTimeframe(c.Timeframe) {
		return fmt.Errorf("unsupported candle timeframe %q", c.Timeframe)
	}
	return nil
}

// merge folds a finer bar into an already-open coarse bar.
func (c *Candle) merge(fine Candle) {
	if fine.High.GreaterThan(c.High) {
		c.High = fine.High
	}
	if fine.Low.LessThan(c.Low) {
		c.Low = fine.Low
	}
	c.Close = fine.Close
	c.Volume = c.Volume.Add(fine.Volume)
}
