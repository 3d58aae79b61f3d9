package trend

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirphl/grid-trader/internal/candle"
	"github.com/amirphl/grid-trader/internal/market"
)

const minuteMs = int64(60_000)

func flatBar(minute int64, price float64) candle.Candle {
	p := decimal.NewFromFloat(price)
	return candle.Candle{
		Pair:      market.NewTradePair("BTC", "USDT"),
		Open:      p,
		High:      p,
		Low:       p,
		Close:     p,
		Volume:    decimal.NewFromInt(1),
		OpenTime:  minute * minuteMs,
		CloseTime: minute*minuteMs + minuteMs - 1,
		Timeframe: "1m",
		Source:    "test",
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Run("no indicator enabled", func(t *testing.T) {
		assert.Error(t, Config{}.Validate())
	})

	t.Run("bad timeframe", func(t *testing.T) {
		cfg := Config{RSI1: 14, RSI1Timeframe: "2m"}
		assert.Error(t, cfg.Validate())
	})

	t.Run("valid", func(t *testing.T) {
		cfg := Config{HMA1: 9, HMATimeframe: "1m", RSI1: 14, RSI1Timeframe: "5m"}
		assert.NoError(t, cfg.Validate())
	})
}

func TestCalculator_NotReadyUntilHistory(t *testing.T) {
	calc, err := NewCalculator(Config{RSI1: 3, RSI1Timeframe: "1m"})
	require.NoError(t, err)

	_, ready := calc.Snapshot()
	assert.False(t, ready)

	// Three sealed bars give two deltas: still short of the three the
	// period needs.
	for m := int64(0); m < 4; m++ {
		require.NoError(t, calc.Add(flatBar(m, float64(100+m))))
	}
	_, ready = calc.Snapshot()
	assert.False(t, ready)

	require.NoError(t, calc.Add(flatBar(4, 104)))
	_, ready = calc.Snapshot()
	assert.True(t, ready)
}

func TestCalculator_SnapshotValues(t *testing.T) {
	calc, err := NewCalculator(Config{RSI1: 3, RSI1Timeframe: "1m"})
	require.NoError(t, err)

	// Sealed closes end up 10, 11, 12, 11: RSI(3) = 66.67 after rounding.
	prices := []float64{10, 11, 12, 11, 11}
	for m, p := range prices {
		require.NoError(t, calc.Add(flatBar(int64(m), p)))
	}

	snap, ready := calc.Snapshot()
	require.True(t, ready)
	assert.True(t, snap.RSI1.Equal(decimal.NewFromFloat(66.67)), "got %s", snap.RSI1)
	assert.True(t, snap.HMA1.IsZero())
	assert.True(t, snap.RSI2.IsZero())
}

func TestCalculator_Deterministic(t *testing.T) {
	build := func() Snapshot {
		calc, err := NewCalculator(Config{
			HMA1: 2, HMA2: 4, HMATimeframe: "1m",
			RSI1: 3, RSI1Timeframe: "1m",
		})
		require.NoError(t, err)
		prices := []float64{100, 101, 103, 102, 104, 105, 103, 106, 107, 105}
		for m, p := range prices {
			require.NoError(t, calc.Add(flatBar(int64(m), p)))
		}
		snap, ready := calc.Snapshot()
		require.True(t, ready)
		return snap
	}

	first := build()
	second := build()
	assert.Equal(t, first.HMA1.String(), second.HMA1.String())
	assert.Equal(t, first.HMA2.String(), second.HMA2.String())
	assert.Equal(t, first.RSI1.String(), second.RSI1.String())
}

func TestCalculator_SequenceErrorPropagates(t *testing.T) {
	calc, err := NewCalculator(Config{RSI1: 3, RSI1Timeframe: "1m"})
	require.NoError(t, err)
	require.NoError(t, calc.Add(flatBar(0, 100)))

	err = calc.Add(flatBar(5, 100))
	var seqErr *candle.SequenceError
	assert.ErrorAs(t, err, &seqErr)
}

func TestCalculator_ResetDropsHistory(t *testing.T) {
	calc, err := NewCalculator(Config{RSI1: 3, RSI1Timeframe: "1m"})
	require.NoError(t, err)

	for m := int64(0); m < 5; m++ {
		require.NoError(t, calc.Add(flatBar(m, float64(100+m))))
	}
	_, ready := calc.Snapshot()
	require.True(t, ready)

	calc.Reset()
	_, ready = calc.Snapshot()
	assert.False(t, ready)

	// A discontiguous bar anchors a new sequence without a gap error.
	require.NoError(t, calc.Add(flatBar(10, 110)))
}

func TestCalculator_CloseCurrentFlushes(t *testing.T) {
	calc, err := NewCalculator(Config{RSI1: 3, RSI1Timeframe: "1m"})
	require.NoError(t, err)

	for m := int64(0); m < 4; m++ {
		require.NoError(t, calc.Add(flatBar(m, float64(10+m))))
	}
	_, ready := calc.Snapshot()
	require.False(t, ready)

	// The fourth bar is still open; flushing it completes the history.
	calc.CloseCurrent()
	_, ready = calc.Snapshot()
	assert.True(t, ready)
}
