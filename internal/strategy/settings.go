// Package strategy
package strategy

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/amirphl/grid-trader/internal/market"
	"github.com/amirphl/grid-trader/internal/trend"
)

// Direction restricts which side may open new entries.
type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
	Both  Direction = "BOTH"
)

func (d Direction) allowsLong() bool  { return d == Long || d == Both }
func (d Direction) allowsShort() bool { return d == Short || d == Both }

func (d Direction) valid() bool {
	return d == Long || d == Short || d == Both
}

// BalanceAsset selects which side of the pair percent sizing draws from.
type BalanceAsset string

const (
	BaseAsset  BalanceAsset = "base"
	QuoteAsset BalanceAsset = "quote"
)

// Sizing configures order quantity: either an absolute amount or a percent
// of the selected asset's free balance. Exactly one of the two must be set.
type Sizing struct {
	OrderSize        decimal.Decimal `yaml:"order_size"`
	OrderSizePercent decimal.Decimal `yaml:"order_size_percent"`
	BalanceAsset     BalanceAsset    `yaml:"balance_asset"`
}

func (s Sizing) validate() error {
	abs := s.OrderSize.IsPositive()
	pct := s.OrderSizePercent.IsPositive()
	if abs == pct {
		return errors.New("sizing needs exactly one of order_size and order_size_percent")
	}
	if pct && s.BalanceAsset != BaseAsset && s.BalanceAsset != QuoteAsset {
		return fmt.Errorf("invalid balance asset %q", s.BalanceAsset)
	}
	return nil
}

// GridSettings configures the pure grid policy: a ladder of price levels
// across [LowerPrice, UpperPrice] spaced by OrderDistance. Immutable for the
// lifetime of a bot run.
type GridSettings struct {
	Pair          market.TradePair `yaml:"-"`
	LowerPrice    decimal.Decimal  `yaml:"lower_price"`
	UpperPrice    decimal.Decimal  `yaml:"upper_price"`
	OrderDistance decimal.Decimal  `yaml:"order_distance"`
	Sizing        Sizing           `yaml:"sizing"`
	MaxOrders     int              `yaml:"max_orders"`
	Direction     Direction        `yaml:"direction"`
	PriceScale    int32            `yaml:"price_scale"`
	AmountScale   int32            `yaml:"amount_scale"`
}

func (s GridSettings) Validate() error {
	if s.Pair.IsZero() {
		return errors.New("grid settings: pair is empty")
	}
	if !s.LowerPrice.IsPositive() || !s.UpperPrice.GreaterThan(s.LowerPrice) {
		return errors.New("grid settings: trading range must satisfy 0 < lower < upper")
	}
	if !s.OrderDistance.IsPositive() {
		return errors.New("grid settings: order distance must be positive")
	}
	if s.MaxOrders <= 0 {
		return errors.New("grid settings: max orders must be positive")
	}
	if !s.Direction.valid() {
		return fmt.Errorf("grid settings: invalid direction %q", s.Direction)
	}
	return s.Sizing.validate()
}

// EntireTPSettings bounds the number of resting close orders by replacing
// per-order take-profits with one consolidated close once a count or P/L
// threshold is crossed.
type EntireTPSettings struct {
	Enabled          bool            `yaml:"enabled"`
	MaxTriggerCount  int             `yaml:"max_trigger_count"`
	MaxProfitPercent decimal.Decimal `yaml:"max_profit_percent"`
	MaxLossPercent   decimal.Decimal `yaml:"max_loss_percent"`
	TPDistance       decimal.Decimal `yaml:"tp_distance"`
}

// TrendSettings configures the trend-gated policy: trailing trigger entries
// gated by HMA/RSI direction, paired take-profits, counter-distance re-arm
// and optional entire take-profit consolidation.
type TrendSettings struct {
	Pair            market.TradePair `yaml:"-"`
	TriggerDistance decimal.Decimal  `yaml:"trigger_distance"`
	MinTPDistance   decimal.Decimal  `yaml:"min_tp_distance"`
	MaxTPDistance   decimal.Decimal  `yaml:"max_tp_distance"`
	CounterDistance decimal.Decimal  `yaml:"counter_distance"`
	Sizing          Sizing           `yaml:"sizing"`
	MaxOrders       int              `yaml:"max_orders"`
	Direction       Direction        `yaml:"direction"`
	PriceScale      int32            `yaml:"price_scale"`
	AmountScale     int32            `yaml:"amount_scale"`
	EntireTP        EntireTPSettings `yaml:"entire_tp"`
	Trend           trend.Config     `yaml:"trend"`
}

func (s TrendSettings) Validate() error {
	if s.Pair.IsZero() {
		return errors.New("trend settings: pair is empty")
	}
	if !s.TriggerDistance.IsPositive() {
		return errors.New("trend settings: trigger distance must be positive")
	}
	if s.MinTPDistance.IsNegative() || s.MaxTPDistance.LessThan(s.MinTPDistance) {
		return errors.New("trend settings: take-profit bounds must satisfy 0 <= min <= max")
	}
	if s.CounterDistance.IsNegative() {
		return errors.New("trend settings: counter distance cannot be negative")
	}
	if s.MaxOrders <= 0 {
		return errors.New("trend settings: max orders must be positive")
	}
	if !s.Direction.valid() {
		return fmt.Errorf("trend settings: invalid direction %q", s.Direction)
	}
	if s.EntireTP.Enabled {
		if s.EntireTP.MaxTriggerCount <= 0 {
			return errors.New("trend settings: entire-tp max trigger count must be positive")
		}
		if !s.EntireTP.TPDistance.IsPositive() {
			return errors.New("trend settings: entire-tp distance must be positive")
		}
	}
	if err := s.Trend.Validate(); err != nil {
		return fmt.Errorf("trend settings: %w", err)
	}
	return s.Sizing.validate()
}

// tpDistance clamps the trigger distance into the configured take-profit
// bounds.
func (s TrendSettings) tpDistance() decimal.Decimal {
	d := s.TriggerDistance
	if d.LessThan(s.MinTPDistance) {
		d = s.MinTPDistance
	}
	if d.GreaterThan(s.MaxTPDistance) {
		d = s.MaxTPDistance
	}
	return d
}
