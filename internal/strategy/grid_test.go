package strategy

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirphl/grid-trader/internal/market"
	"github.com/amirphl/grid-trader/internal/order"
)

func shortGridSettings(pair market.TradePair) GridSettings {
	return GridSettings{
		Pair:          pair,
		LowerPrice:    decimal.NewFromInt(1980),
		UpperPrice:    decimal.NewFromInt(2040),
		OrderDistance: decimal.NewFromInt(20),
		Sizing:        Sizing{OrderSize: decimal.NewFromInt(1)},
		MaxOrders:     10,
		Direction:     Short,
		PriceScale:    2,
		AmountScale:   4,
	}
}

func newTestGrid(t *testing.T, settings GridSettings, exch *fakeExchange, acct *fakeAccount) *GridEngine {
	t.Helper()
	eng, err := NewGridEngine(settings, exch, acct, testLogger())
	require.NoError(t, err)
	require.NoError(t, eng.Setup(context.Background()))
	return eng
}

func TestGridEngine_ShortFiresOnceOnReversal(t *testing.T) {
	pair := market.NewTradePair("ETH", "USDT")
	exch := &fakeExchange{}
	eng := newTestGrid(t, shortGridSettings(pair), exch, newRichAccount(pair))
	ctx := context.Background()

	// Rally from the entry price: levels arm but nothing fires.
	for _, p := range []float64{2000, 2010, 2022} {
		require.NoError(t, eng.Handle(ctx, tickAt(pair, p)))
	}
	assert.Empty(t, exch.submitted, "no order may be placed before the reversal")

	// Pull back through the armed level.
	require.NoError(t, eng.Handle(ctx, tickAt(pair, 2020)))

	require.Len(t, exch.submitted, 1)
	got := exch.lastSubmitted()
	assert.Equal(t, order.Sell, got.Side)
	assert.Equal(t, order.Market, got.Type)
	assert.Equal(t, "2020.00", got.Price.StringFixed(2))
	assert.Len(t, eng.OpenOrders(), 1)

	// Oscillating around the level without re-arming places nothing new.
	require.NoError(t, eng.Handle(ctx, tickAt(pair, 2021)))
	require.NoError(t, eng.Handle(ctx, tickAt(pair, 2019)))
	assert.Len(t, exch.submitted, 1)
}

func TestGridEngine_ExactTouchCountsAsCrossed(t *testing.T) {
	pair := market.NewTradePair("ETH", "USDT")
	exch := &fakeExchange{}
	eng := newTestGrid(t, shortGridSettings(pair), exch, newRichAccount(pair))
	ctx := context.Background()

	// Arm with an exact touch of 2020, then fire with an exact touch back.
	require.NoError(t, eng.Handle(ctx, tickAt(pair, 2010)))
	require.NoError(t, eng.Handle(ctx, tickAt(pair, 2020)))
	assert.Empty(t, exch.submitted)
	require.NoError(t, eng.Handle(ctx, tickAt(pair, 2021)))
	require.NoError(t, eng.Handle(ctx, tickAt(pair, 2020)))

	require.Len(t, exch.submitted, 1)
	assert.Equal(t, "2020.00", exch.lastSubmitted().Price.StringFixed(2))
}

func TestGridEngine_LongMirrored(t *testing.T) {
	pair := market.NewTradePair("ETH", "USDT")
	settings := shortGridSettings(pair)
	settings.Direction = Long
	exch := &fakeExchange{}
	eng := newTestGrid(t, settings, exch, newRichAccount(pair))
	ctx := context.Background()

	// Drop through 2000 arms the buy slot; recovery through it fires.
	for _, p := range []float64{2010, 1995, 2001} {
		require.NoError(t, eng.Handle(ctx, tickAt(pair, p)))
	}

	require.Len(t, exch.submitted, 1)
	got := exch.lastSubmitted()
	assert.Equal(t, order.Buy, got.Side)
	assert.Equal(t, "2000.00", got.Price.StringFixed(2))
}

func TestGridEngine_SlotFreedAfterTerminalStatus(t *testing.T) {
	pair := market.NewTradePair("ETH", "USDT")
	exch := &fakeExchange{}
	eng := newTestGrid(t, shortGridSettings(pair), exch, newRichAccount(pair))
	ctx := context.Background()

	for _, p := range []float64{2010, 2022, 2020} {
		require.NoError(t, eng.Handle(ctx, tickAt(pair, p)))
	}
	require.Len(t, exch.submitted, 1)
	require.Len(t, eng.OpenOrders(), 1)

	placed := eng.OpenOrders()[0]
	require.NoError(t, eng.Handle(ctx, fillFor(exch.lastSubmitted(), placed.OrderID)))
	assert.Empty(t, eng.OpenOrders(), "terminal status must free the slot")

	// Re-arm and fire the same level again.
	require.NoError(t, eng.Handle(ctx, tickAt(pair, 2019)))
	require.NoError(t, eng.Handle(ctx, tickAt(pair, 2022)))
	require.NoError(t, eng.Handle(ctx, tickAt(pair, 2019)))
	assert.Len(t, exch.submitted, 2)
}

func TestGridEngine_StaleOrderUpdateIgnored(t *testing.T) {
	pair := market.NewTradePair("ETH", "USDT")
	exch := &fakeExchange{}
	eng := newTestGrid(t, shortGridSettings(pair), exch, newRichAccount(pair))
	ctx := context.Background()

	ev := fillFor(order.Request{Pair: pair, Side: order.Sell, Type: order.Market,
		Price: decimal.NewFromInt(2020), Quantity: decimal.NewFromInt(1)}, "unknown-id")
	require.NoError(t, eng.Handle(ctx, ev))
	assert.Equal(t, Running, eng.State())
}

func TestGridEngine_MaxOrdersCap(t *testing.T) {
	pair := market.NewTradePair("ETH", "USDT")
	settings := shortGridSettings(pair)
	settings.MaxOrders = 1
	exch := &fakeExchange{}
	eng := newTestGrid(t, settings, exch, newRichAccount(pair))
	ctx := context.Background()

	// Fire level 2020, then arm and cross level 2000 with the first slot
	// still occupied.
	for _, p := range []float64{2010, 2022, 2020, 1999, 2001, 1999} {
		require.NoError(t, eng.Handle(ctx, tickAt(pair, p)))
	}
	assert.Len(t, exch.submitted, 1, "cap must block the second placement")
}

func TestGridEngine_InsufficientBalanceRecovered(t *testing.T) {
	pair := market.NewTradePair("ETH", "USDT")
	acct := &fakeAccount{balances: map[string]market.Balance{}}
	exch := &fakeExchange{}
	eng := newTestGrid(t, shortGridSettings(pair), exch, acct)
	ctx := context.Background()

	for _, p := range []float64{2010, 2022, 2020} {
		require.NoError(t, eng.Handle(ctx, tickAt(pair, p)))
	}
	assert.Empty(t, exch.submitted)
	assert.Equal(t, Running, eng.State(), "balance shortfall must not stop the engine")
}

func TestGridEngine_Lifecycle(t *testing.T) {
	pair := market.NewTradePair("ETH", "USDT")
	exch := &fakeExchange{}
	eng, err := NewGridEngine(shortGridSettings(pair), exch, newRichAccount(pair), testLogger())
	require.NoError(t, err)
	ctx := context.Background()

	assert.Equal(t, Uninitialized, eng.State())
	assert.Error(t, eng.Handle(ctx, tickAt(pair, 2000)), "Handle before Setup must fail")

	require.NoError(t, eng.Setup(ctx))
	assert.Equal(t, Ready, eng.State())

	require.NoError(t, eng.Handle(ctx, tickAt(pair, 2000)))
	assert.Equal(t, Running, eng.State())

	eng.Stop()
	assert.Equal(t, Stopped, eng.State())
	assert.ErrorIs(t, eng.Handle(ctx, tickAt(pair, 2000)), ErrEngineStopped)
	assert.ErrorIs(t, eng.Setup(ctx), ErrEngineStopped)
}

func TestGridEngine_SetupRecoversOpenOrders(t *testing.T) {
	pair := market.NewTradePair("ETH", "USDT")
	recovered := order.Order{
		OrderID:          "live-1",
		Pair:             pair,
		Price:            decimal.NewFromInt(2020),
		OriginalQuantity: decimal.NewFromInt(1),
		Side:             order.Sell,
		Type:             order.Market,
		Status:           order.StatusNew,
	}
	acct := newRichAccount(pair)
	acct.open = []order.Order{recovered, recovered} // duplicate slot
	exch := &fakeExchange{}
	eng := newTestGrid(t, shortGridSettings(pair), exch, acct)

	require.Len(t, eng.OpenOrders(), 1, "duplicate slot keys collapse to one")
	assert.Equal(t, "live-1", eng.OpenOrders()[0].OrderID)

	// Setup again with unchanged state stays at one.
	require.NoError(t, eng.Setup(context.Background()))
	assert.Len(t, eng.OpenOrders(), 1)
}

func TestGridSettings_Validate(t *testing.T) {
	pair := market.NewTradePair("ETH", "USDT")
	tests := []struct {
		name   string
		mutate func(*GridSettings)
	}{
		{"inverted range", func(s *GridSettings) { s.LowerPrice, s.UpperPrice = s.UpperPrice, s.LowerPrice }},
		{"zero distance", func(s *GridSettings) { s.OrderDistance = decimal.Zero }},
		{"zero max orders", func(s *GridSettings) { s.MaxOrders = 0 }},
		{"bad direction", func(s *GridSettings) { s.Direction = "SIDEWAYS" }},
		{"both sizings", func(s *GridSettings) { s.Sizing.OrderSizePercent = decimal.NewFromInt(5) }},
		{"no sizing", func(s *GridSettings) { s.Sizing = Sizing{} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := shortGridSettings(pair)
			tt.mutate(&s)
			assert.Error(t, s.Validate())
		})
	}
}
