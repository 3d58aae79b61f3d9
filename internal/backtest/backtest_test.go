package backtest

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirphl/grid-trader/internal/candle"
	"github.com/amirphl/grid-trader/internal/db"
	"github.com/amirphl/grid-trader/internal/market"
	"github.com/amirphl/grid-trader/internal/order"
	"github.com/amirphl/grid-trader/internal/strategy"
	"github.com/amirphl/grid-trader/internal/trend"
)

const minuteMs = int64(60_000)

func bar(pair market.TradePair, minute int64, open, high, low, close float64) candle.Candle {
	return candle.Candle{
		Pair:      pair,
		Open:      decimal.NewFromFloat(open),
		High:      decimal.NewFromFloat(high),
		Low:       decimal.NewFromFloat(low),
		Close:     decimal.NewFromFloat(close),
		Volume:    decimal.NewFromInt(4),
		OpenTime:  minute * minuteMs,
		CloseTime: minute*minuteMs + minuteMs - 1,
		Timeframe: "1m",
		Source:    "test",
	}
}

func flat(pair market.TradePair, minute int64, price float64) candle.Candle {
	return bar(pair, minute, price, price, price, price)
}

func storageWith(t *testing.T, candles []candle.Candle) *db.Memory {
	t.Helper()
	mem := db.NewMemory()
	require.NoError(t, mem.SaveCandles(context.Background(), candles))
	return mem
}

func gridInput(pair market.TradePair) Input {
	return Input{
		From:         time.UnixMilli(0).UTC(),
		To:           time.UnixMilli(0).UTC().Add(24 * time.Hour),
		Fee:          decimal.NewFromFloat(0.1),
		InitialBase:  decimal.NewFromInt(10),
		InitialQuote: decimal.NewFromInt(10_000),
		Grid: &strategy.GridSettings{
			Pair:          pair,
			LowerPrice:    decimal.NewFromInt(1980),
			UpperPrice:    decimal.NewFromInt(2040),
			OrderDistance: decimal.NewFromInt(20),
			Sizing:        strategy.Sizing{OrderSize: decimal.NewFromInt(1)},
			MaxOrders:     10,
			Direction:     strategy.Short,
			PriceScale:    2,
			AmountScale:   4,
		},
	}
}

// reversalCandles walks price from 2000 up to 2022 and back onto 2020: the
// short grid must sell exactly once, at the 2020 level.
func reversalCandles(pair market.TradePair) []candle.Candle {
	return []candle.Candle{
		bar(pair, 0, 2000, 2005, 2000, 2005),
		bar(pair, 1, 2005, 2022, 2005, 2022),
		bar(pair, 2, 2022, 2022, 2020, 2020),
	}
}

func TestRunner_GridReversalFixture(t *testing.T) {
	pair := market.NewTradePair("ETH", "USDT")
	runner := NewRunner(storageWith(t, reversalCandles(pair)), zerolog.Nop())

	report, err := runner.Run(context.Background(), gridInput(pair))
	require.NoError(t, err)

	assert.Equal(t, 1, report.OrdersAmount)
	assert.True(t, report.FinalBaseBalance.Equal(decimal.NewFromInt(9)), "base %s", report.FinalBaseBalance)
	// 10000 + 2020 - 0.1% of 2020
	assert.Equal(t, "12017.98", report.FinalQuoteBalance.StringFixed(2))
	assert.Equal(t, "2.02", report.FeesSum.StringFixed(2))
	assert.True(t, report.TradeVolume.Equal(decimal.NewFromInt(2020)))
	assert.True(t, report.SlippageSum.IsZero(), "slippage %s", report.SlippageSum)
	assert.Equal(t, 0, report.SkippedGaps)
	assert.Empty(t, report.ClosingOrders)
}

func TestRunner_ByteIdenticalReports(t *testing.T) {
	pair := market.NewTradePair("ETH", "USDT")
	runner := NewRunner(storageWith(t, reversalCandles(pair)), zerolog.Nop())

	first, err := runner.Run(context.Background(), gridInput(pair))
	require.NoError(t, err)
	second, err := runner.Run(context.Background(), gridInput(pair))
	require.NoError(t, err)

	assert.Equal(t, first.Summary(), second.Summary())
}

func TestRunner_FeeScalesWithoutChangingDecisions(t *testing.T) {
	pair := market.NewTradePair("ETH", "USDT")
	runner := NewRunner(storageWith(t, reversalCandles(pair)), zerolog.Nop())

	cheap := gridInput(pair)
	expensive := gridInput(pair)
	expensive.Fee = decimal.NewFromFloat(0.2)

	cheapReport, err := runner.Run(context.Background(), cheap)
	require.NoError(t, err)
	expensiveReport, err := runner.Run(context.Background(), expensive)
	require.NoError(t, err)

	assert.Equal(t, cheapReport.OrdersAmount, expensiveReport.OrdersAmount)
	assert.True(t, expensiveReport.FeesSum.GreaterThan(cheapReport.FeesSum))
	assert.True(t, cheapReport.TradeVolume.Equal(expensiveReport.TradeVolume))
}

func TestRunner_KlineGapFailsWhenConfigured(t *testing.T) {
	pair := market.NewTradePair("ETH", "USDT")
	candles := []candle.Candle{
		flat(pair, 0, 2000),
		flat(pair, 1, 2005),
		flat(pair, 3, 2010), // minute 2 missing
	}
	runner := NewRunner(storageWith(t, candles), zerolog.Nop())

	in := gridInput(pair)
	in.FailIfKlineGaps = true
	_, err := runner.Run(context.Background(), in)
	var seqErr *candle.SequenceError
	require.ErrorAs(t, err, &seqErr)
	assert.Equal(t, 2*minuteMs, seqErr.Expected)
}

func TestRunner_KlineGapCountedWhenTolerated(t *testing.T) {
	pair := market.NewTradePair("ETH", "USDT")
	candles := []candle.Candle{
		flat(pair, 0, 2000),
		flat(pair, 1, 2005),
		flat(pair, 3, 2010),
		// Ticks keep flowing after the gap: the fixture reversal still
		// plays out.
		bar(pair, 4, 2010, 2022, 2010, 2022),
		bar(pair, 5, 2022, 2022, 2020, 2020),
	}
	runner := NewRunner(storageWith(t, candles), zerolog.Nop())

	report, err := runner.Run(context.Background(), gridInput(pair))
	require.NoError(t, err)
	assert.Equal(t, 1, report.SkippedGaps)
	assert.Equal(t, 1, report.OrdersAmount, "price-driven trading continues past a tolerated gap")
}

func TestRunner_EmptyHistoryFails(t *testing.T) {
	pair := market.NewTradePair("ETH", "USDT")
	runner := NewRunner(db.NewMemory(), zerolog.Nop())
	_, err := runner.Run(context.Background(), gridInput(pair))
	assert.Error(t, err)
}

func TestRunner_InputNeedsExactlyOneStrategy(t *testing.T) {
	pair := market.NewTradePair("ETH", "USDT")
	runner := NewRunner(storageWith(t, reversalCandles(pair)), zerolog.Nop())

	in := gridInput(pair)
	in.Grid = nil
	_, err := runner.Run(context.Background(), in)
	assert.Error(t, err)
}

func trendInput(pair market.TradePair) Input {
	return Input{
		From:         time.UnixMilli(0).UTC(),
		To:           time.UnixMilli(0).UTC().Add(24 * time.Hour),
		Fee:          decimal.NewFromFloat(0.1),
		InitialBase:  decimal.NewFromInt(10),
		InitialQuote: decimal.NewFromInt(10_000),
		Trend: &strategy.TrendSettings{
			Pair:            pair,
			TriggerDistance: decimal.NewFromInt(10),
			MinTPDistance:   decimal.NewFromInt(5),
			MaxTPDistance:   decimal.NewFromInt(20),
			CounterDistance: decimal.NewFromInt(5),
			Sizing:          strategy.Sizing{OrderSize: decimal.NewFromInt(1)},
			MaxOrders:       10,
			Direction:       strategy.Short,
			PriceScale:      2,
			AmountScale:     4,
			Trend:           trend.Config{RSI1: 3, RSI1Timeframe: "1m"},
		},
	}
}

func TestRunner_TrendEntryAndRestingTakeProfit(t *testing.T) {
	pair := market.NewTradePair("ETH", "USDT")
	candles := []candle.Candle{
		flat(pair, 0, 100),
		flat(pair, 1, 101),
		flat(pair, 2, 102),
		flat(pair, 3, 103),
		flat(pair, 4, 104),
		flat(pair, 5, 94), // 10 below the trailing high: short entry fires
	}
	runner := NewRunner(storageWith(t, candles), zerolog.Nop())

	report, err := runner.Run(context.Background(), trendInput(pair))
	require.NoError(t, err)

	// One market entry plus its resting take-profit.
	assert.Equal(t, 2, report.OrdersAmount)
	assert.Equal(t, 1, report.MaxLongOpenOrders, "buy-back limit rests below the market")
	assert.Equal(t, 0, report.MaxShortOpenOrders)
	assert.True(t, report.FinalBaseBalance.Equal(decimal.NewFromInt(9)))
	assert.Empty(t, report.ClosingOrders, "take-profit never crossed")
}

func TestRunner_TrendReanchorsAfterToleratedGap(t *testing.T) {
	pair := market.NewTradePair("ETH", "USDT")
	candles := []candle.Candle{
		flat(pair, 0, 100),
		flat(pair, 1, 101),
		flat(pair, 2, 102),
		flat(pair, 3, 103),
		flat(pair, 4, 104),
		// Minute 5 missing. The drop right after the gap may not trade on
		// the pre-gap snapshot.
		flat(pair, 6, 93),
		flat(pair, 7, 100),
		flat(pair, 8, 101),
		flat(pair, 9, 102),
		flat(pair, 10, 103),
		flat(pair, 11, 104),
		flat(pair, 12, 94), // fresh history accrued: this drop trades
	}
	runner := NewRunner(storageWith(t, candles), zerolog.Nop())

	report, err := runner.Run(context.Background(), trendInput(pair))
	require.NoError(t, err)

	assert.Equal(t, 1, report.SkippedGaps)
	// One entry plus its resting take-profit, fired at 94 after the rebuilt
	// window was ready again. An entry at the post-gap 93 would mean the
	// engine traded a stale snapshot.
	assert.Equal(t, 2, report.OrdersAmount)
	assert.True(t, report.TradeVolume.Equal(decimal.NewFromInt(94)), "volume %s", report.TradeVolume)
}

func TestSynthesizeTicks(t *testing.T) {
	pair := market.NewTradePair("ETH", "USDT")

	t.Run("bullish traverses low before high", func(t *testing.T) {
		ticks := synthesizeTicks(bar(pair, 0, 100, 110, 95, 105))
		require.Len(t, ticks, 4)
		assert.True(t, ticks[0].Price.Equal(decimal.NewFromInt(100)))
		assert.True(t, ticks[1].Price.Equal(decimal.NewFromInt(95)))
		assert.True(t, ticks[2].Price.Equal(decimal.NewFromInt(110)))
		assert.True(t, ticks[3].Price.Equal(decimal.NewFromInt(105)))
	})

	t.Run("bearish traverses high before low", func(t *testing.T) {
		ticks := synthesizeTicks(bar(pair, 0, 105, 110, 95, 100))
		require.Len(t, ticks, 4)
		assert.True(t, ticks[0].Price.Equal(decimal.NewFromInt(105)))
		assert.True(t, ticks[1].Price.Equal(decimal.NewFromInt(110)))
		assert.True(t, ticks[2].Price.Equal(decimal.NewFromInt(95)))
		assert.True(t, ticks[3].Price.Equal(decimal.NewFromInt(100)))
	})

	t.Run("timestamps are deterministic", func(t *testing.T) {
		c := bar(pair, 2, 100, 110, 95, 105)
		ticks := synthesizeTicks(c)
		assert.Equal(t, c.OpenTime, ticks[0].Timestamp.UnixMilli())
		assert.Equal(t, c.OpenTime+1, ticks[1].Timestamp.UnixMilli())
		assert.Equal(t, c.OpenTime+2, ticks[2].Timestamp.UnixMilli())
		assert.Equal(t, c.CloseTime, ticks[3].Timestamp.UnixMilli())
	})
}

func TestSimExchange_LimitFillRecordedAsClosing(t *testing.T) {
	pair := market.NewTradePair("ETH", "USDT")
	sim := newSimExchange(pair, decimal.NewFromFloat(0.1), decimal.NewFromInt(10), decimal.NewFromInt(10_000))
	ctx := context.Background()

	sim.advance(decimal.NewFromInt(100), time.UnixMilli(0).UTC())
	_, err := sim.SubmitOrder(ctx, order.Request{
		Pair:     pair,
		Side:     order.Buy,
		Type:     order.Limit,
		Price:    decimal.NewFromInt(90),
		Quantity: decimal.NewFromInt(1),
	})
	require.NoError(t, err)
	assert.Empty(t, sim.drain(), "limit order must rest until crossed")

	sim.advance(decimal.NewFromInt(89), time.UnixMilli(1).UTC())
	evs := sim.drain()
	require.Len(t, evs, 1)
	assert.Equal(t, order.StatusFilled, evs[0].Order.Status)
	assert.True(t, evs[0].Order.Price.Equal(decimal.NewFromInt(90)), "fills at the limit price")
	require.Len(t, sim.closing, 1)
}

func TestSimExchange_MarketSlippage(t *testing.T) {
	pair := market.NewTradePair("ETH", "USDT")
	sim := newSimExchange(pair, decimal.Zero, decimal.NewFromInt(10), decimal.NewFromInt(10_000))
	ctx := context.Background()

	sim.advance(decimal.NewFromInt(101), time.UnixMilli(0).UTC())
	_, err := sim.SubmitOrder(ctx, order.Request{
		Pair:     pair,
		Side:     order.Sell,
		Type:     order.Market,
		Price:    decimal.NewFromInt(100), // reference price one below market
		Quantity: decimal.NewFromInt(1),
	})
	require.NoError(t, err)

	assert.True(t, sim.slippageSum.Equal(decimal.NewFromInt(1)), "slippage %s", sim.slippageSum)
	evs := sim.drain()
	require.Len(t, evs, 1)
	assert.True(t, evs[0].Order.Price.Equal(decimal.NewFromInt(101)), "market orders fill at the simulated price")
}
