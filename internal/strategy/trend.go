package strategy

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/amirphl/grid-trader/internal/event"
	"github.com/amirphl/grid-trader/internal/order"
	"github.com/amirphl/grid-trader/internal/trend"
)

// entryRec is one filled, not-yet-closed entry tracked for counter-distance
// and entire take-profit accounting.
type entryRec struct {
	seq   int
	side  order.Side
	qty   decimal.Decimal
	price decimal.Decimal
}

// TrendEngine implements the trend-gated policy: trailing trigger entries
// restricted by HMA/RSI direction, with a paired take-profit per entry,
// counter-distance re-arm after fills and optional entire-TP consolidation.
type TrendEngine struct {
	settings TrendSettings
	exch     OrderPlacer
	acct     AccountReader
	log      zerolog.Logger
	calc     *trend.Calculator

	state  State
	orders orderMap
	seq    int

	hasRef  bool
	refHigh decimal.Decimal
	refLow  decimal.Decimal

	hasLast   bool
	lastPrice decimal.Decimal

	// pending counter-distance shift per side, consumed by the next trigger
	counterLong  decimal.Decimal
	counterShort decimal.Decimal

	triggered []entryRec
}

func NewTrendEngine(settings TrendSettings, exch OrderPlacer, acct AccountReader, log zerolog.Logger) (*TrendEngine, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	calc, err := trend.NewCalculator(settings.Trend)
	if err != nil {
		return nil, err
	}
	return &TrendEngine{
		settings: settings,
		exch:     exch,
		acct:     acct,
		log:      log.With().Str("engine", "trend").Str("pair", settings.Pair.String()).Logger(),
		calc:     calc,
		orders:   make(orderMap),
	}, nil
}

// Setup reconciles the order map with the exchange. Recovered orders are
// keyed by their exchange id, so repeating Setup cannot duplicate slots.
func (t *TrendEngine) Setup(ctx context.Context) error {
	if t.state == Stopped {
		return ErrEngineStopped
	}
	open, err := t.acct.OpenOrders(ctx, t.settings.Pair)
	if err != nil {
		return fmt.Errorf("trend setup: %w", err)
	}
	t.orders = make(orderMap, len(open))
	for _, o := range open {
		if o.IsOpen() {
			t.orders["recovered@"+o.OrderID] = o
		}
	}
	t.state = Ready
	t.log.Info().Int("open_orders", len(t.orders)).Msg("trend engine ready")
	return nil
}

func (t *TrendEngine) Handle(ctx context.Context, ev event.Event) error {
	switch t.state {
	case Stopped:
		return ErrEngineStopped
	case Uninitialized:
		return errors.New("trend engine: Handle before Setup")
	}
	t.state = Running

	switch e := ev.(type) {
	case event.CandleEvent:
		// Data-integrity errors from the aggregator are fatal: trading on a
		// gapped series would corrupt the trend state.
		if err := t.calc.Add(e.Candle); err != nil {
			return err
		}
		return t.handlePrice(ctx, e.Candle.Close)
	case event.TickEvent:
		return t.handlePrice(ctx, e.Tick.Price)
	case event.OrderEvent:
		return t.handleOrder(ctx, e.Order)
	default:
		return nil
	}
}

// ResetIndicators drops the accumulated candle history so the trend gate
// goes not-ready until fresh bars accrue. Callers use it to re-anchor the
// engine on a candle series with a known, tolerated discontinuity.
func (t *TrendEngine) ResetIndicators() { t.calc.Reset() }

func (t *TrendEngine) Stop()                     { t.state = Stopped }
func (t *TrendEngine) State() State              { return t.state }
func (t *TrendEngine) OpenOrders() []order.Order { return t.orders.snapshot() }

func (t *TrendEngine) handlePrice(ctx context.Context, price decimal.Decimal) error {
	if !t.hasRef {
		t.hasRef = true
		t.refHigh, t.refLow = price, price
	} else {
		if price.GreaterThan(t.refHigh) {
			t.refHigh = price
		}
		if price.LessThan(t.refLow) {
			t.refLow = price
		}
	}
	t.hasLast = true
	t.lastPrice = price

	snap, ready := t.calc.Snapshot()
	if !ready {
		return nil
	}

	if t.settings.Direction.allowsShort() && t.trendAllowsShort(snap) {
		needed := t.settings.TriggerDistance.Add(t.counterShort)
		if t.refHigh.Sub(price).GreaterThanOrEqual(needed) {
			if err := t.enter(ctx, order.Sell, price); err != nil {
				return err
			}
		}
	}
	if t.settings.Direction.allowsLong() && t.trendAllowsLong(snap) {
		needed := t.settings.TriggerDistance.Add(t.counterLong)
		if price.Sub(t.refLow).GreaterThanOrEqual(needed) {
			if err := t.enter(ctx, order.Buy, price); err != nil {
				return err
			}
		}
	}

	return t.evaluateEntireTP(ctx)
}

// trendAllowsShort requires the fast HMA below the slower ones and vetoes
// shorting into oversold RSI readings.
func (t *TrendEngine) trendAllowsShort(snap trend.Snapshot) bool {
	cfg := t.settings.Trend
	if cfg.HMA1 > 0 && cfg.HMA2 > 0 && !snap.HMA1.LessThan(snap.HMA2) {
		return false
	}
	if cfg.HMA2 > 0 && cfg.HMA3 > 0 && !snap.HMA2.LessThan(snap.HMA3) {
		return false
	}
	if cfg.RSI1 > 0 && snap.RSI1.LessThan(decimal.NewFromInt(30)) {
		return false
	}
	if cfg.RSI2 > 0 && snap.RSI2.LessThan(decimal.NewFromInt(30)) {
		return false
	}
	return true
}

func (t *TrendEngine) trendAllowsLong(snap trend.Snapshot) bool {
	cfg := t.settings.Trend
	if cfg.HMA1 > 0 && cfg.HMA2 > 0 && !snap.HMA1.GreaterThan(snap.HMA2) {
		return false
	}
	if cfg.HMA2 > 0 && cfg.HMA3 > 0 && !snap.HMA2.GreaterThan(snap.HMA3) {
		return false
	}
	if cfg.RSI1 > 0 && snap.RSI1.GreaterThan(decimal.NewFromInt(70)) {
		return false
	}
	if cfg.RSI2 > 0 && snap.RSI2.GreaterThan(decimal.NewFromInt(70)) {
		return false
	}
	return true
}

// enter fires one market entry and resets the trailing reference for that
// side. The paired take-profit is placed once the fill notification arrives.
func (t *TrendEngine) enter(ctx context.Context, side order.Side, price decimal.Decimal) error {
	if len(t.orders) >= t.settings.MaxOrders {
		t.log.Warn().Int("max", t.settings.MaxOrders).Msg("order cap reached, skipping entry")
		return nil
	}
	qty, err := resolveQuantity(ctx, t.acct, t.settings.Pair, t.settings.Sizing, side, price, t.settings.AmountScale)
	if err != nil {
		var insufficient *InsufficientBalanceError
		if errors.As(err, &insufficient) {
			t.log.Warn().Err(err).Msg("skipping entry")
			return nil
		}
		return err
	}

	req := order.Request{
		Pair:     t.settings.Pair,
		Side:     side,
		Type:     order.Market,
		Price:    price.RoundBank(t.settings.PriceScale),
		Quantity: qty,
	}
	o, err := t.exch.SubmitOrder(ctx, req)
	if err != nil {
		t.log.Error().Err(err).Str("side", string(side)).Msg("entry submission failed")
		return nil
	}

	t.seq++
	t.orders[fmt.Sprintf("entry#%d", t.seq)] = o
	// Re-arm the trailing reference at the entry price.
	if side == order.Sell {
		t.refHigh = price
		t.counterShort = decimal.Zero
	} else {
		t.refLow = price
		t.counterLong = decimal.Zero
	}
	t.log.Info().Str("side", string(side)).Str("price", req.Price.String()).Str("qty", qty.String()).Msg("trend entry placed")
	return nil
}

func (t *TrendEngine) handleOrder(ctx context.Context, o order.Order) error {
	key, ok := t.orders.findByID(o.OrderID)
	if !ok {
		err := &OrderNotFoundError{OrderID: o.OrderID}
		t.log.Warn().Err(err).Msg("ignoring stale order update")
		return nil
	}

	entry := t.orders[key]
	entry.ExecutedQuantity = o.ExecutedQuantity
	entry.Status = o.Status
	entry.Fee = o.Fee
	entry.UpdatedAt = o.UpdatedAt
	t.orders[key] = entry

	if !entry.Status.Terminal() {
		return nil
	}
	delete(t.orders, key)

	if entry.Status != order.StatusFilled {
		t.log.Info().Str("key", key).Str("status", string(entry.Status)).Msg("slot released")
		return nil
	}

	var seq int
	switch {
	case matchKey(key, "entry#", &seq):
		return t.onEntryFilled(ctx, seq, entry)
	case matchKey(key, "tp#", &seq):
		t.removeTriggered(seq)
		t.log.Info().Int("seq", seq).Msg("take-profit filled")
	default:
		t.log.Info().Str("key", key).Msg("close order filled")
	}
	return nil
}

// onEntryFilled records the triggered entry, arms the counter-distance for
// its side and places the paired take-profit.
func (t *TrendEngine) onEntryFilled(ctx context.Context, seq int, entry order.Order) error {
	t.triggered = append(t.triggered, entryRec{
		seq:   seq,
		side:  entry.Side,
		qty:   entry.ExecutedQuantity,
		price: entry.Price,
	})
	if entry.Side == order.Sell {
		t.counterShort = t.settings.CounterDistance
	} else {
		t.counterLong = t.settings.CounterDistance
	}

	dist := t.settings.tpDistance()
	var tpPrice decimal.Decimal
	if entry.Side == order.Sell {
		tpPrice = entry.Price.Sub(dist)
	} else {
		tpPrice = entry.Price.Add(dist)
	}
	req := order.Request{
		Pair:     t.settings.Pair,
		Side:     entry.Side.Opposite(),
		Type:     order.Limit,
		Price:    tpPrice.RoundBank(t.settings.PriceScale),
		Quantity: entry.ExecutedQuantity,
	}
	o, err := t.exch.SubmitOrder(ctx, req)
	if err != nil {
		t.log.Error().Err(err).Int("seq", seq).Msg("take-profit submission failed")
		return nil
	}
	t.orders[fmt.Sprintf("tp#%d", seq)] = o
	t.log.Info().Int("seq", seq).Str("price", req.Price.String()).Msg("take-profit placed")

	return t.evaluateEntireTP(ctx)
}

// evaluateEntireTP emits one consolidated close order per side once the
// triggered-order count or aggregate P/L crosses the configured thresholds,
// cancelling the individual take-profits it replaces.
func (t *TrendEngine) evaluateEntireTP(ctx context.Context) error {
	cfg := t.settings.EntireTP
	if !cfg.Enabled || len(t.triggered) == 0 || !t.hasLast {
		return nil
	}

	fire := len(t.triggered) >= cfg.MaxTriggerCount
	if !fire {
		agg := t.aggregatePnLPercent()
		if cfg.MaxProfitPercent.IsPositive() && agg.GreaterThanOrEqual(cfg.MaxProfitPercent) {
			fire = true
		}
		if cfg.MaxLossPercent.IsPositive() && agg.LessThanOrEqual(cfg.MaxLossPercent.Neg()) {
			fire = true
		}
	}
	if !fire {
		return nil
	}

	// Sides are consolidated in a fixed order so identical inputs always
	// produce the same submission sequence.
	for _, side := range []order.Side{order.Buy, order.Sell} {
		qty := decimal.Zero
		for _, rec := range t.triggered {
			if rec.side == side {
				qty = qty.Add(rec.qty)
			}
		}
		if qty.IsZero() {
			continue
		}

		closeSide := side.Opposite()
		var price decimal.Decimal
		if side == order.Sell {
			price = t.lastPrice.Sub(cfg.TPDistance) // buy back below market
		} else {
			price = t.lastPrice.Add(cfg.TPDistance)
		}
		req := order.Request{
			Pair:     t.settings.Pair,
			Side:     closeSide,
			Type:     order.Limit,
			Price:    price.RoundBank(t.settings.PriceScale),
			Quantity: qty,
		}
		o, err := t.exch.SubmitOrder(ctx, req)
		if err != nil {
			// The individual take-profits stay resting and the entries stay
			// accounted; the position is never left without a close order.
			t.log.Error().Err(err).Str("side", string(closeSide)).Msg("entire take-profit submission failed")
			continue
		}

		kept := t.triggered[:0]
		for _, rec := range t.triggered {
			if rec.side != side {
				kept = append(kept, rec)
				continue
			}
			tpKey := fmt.Sprintf("tp#%d", rec.seq)
			if tp, ok := t.orders[tpKey]; ok {
				if err := t.exch.CancelOrder(ctx, tp.OrderID); err != nil {
					t.log.Error().Err(err).Str("order_id", tp.OrderID).Msg("take-profit cancellation failed")
				}
				delete(t.orders, tpKey)
			}
		}
		t.triggered = kept

		t.orders["entire-tp@"+string(closeSide)] = o
		t.log.Info().Str("side", string(closeSide)).Str("qty", qty.String()).Str("price", req.Price.String()).Msg("entire take-profit placed")
	}
	return nil
}

// aggregatePnLPercent is the quantity-weighted P/L of all triggered entries
// against the latest price, in percent. Compared unrounded against the
// thresholds.
func (t *TrendEngine) aggregatePnLPercent() decimal.Decimal {
	totalQty := decimal.Zero
	weighted := decimal.Zero
	for _, rec := range t.triggered {
		var pnl decimal.Decimal
		if rec.side == order.Sell {
			pnl = rec.price.Sub(t.lastPrice).Div(rec.price)
		} else {
			pnl = t.lastPrice.Sub(rec.price).Div(rec.price)
		}
		weighted = weighted.Add(pnl.Mul(rec.qty))
		totalQty = totalQty.Add(rec.qty)
	}
	if totalQty.IsZero() {
		return decimal.Zero
	}
	return weighted.Div(totalQty).Mul(decimal.NewFromInt(100))
}

func (t *TrendEngine) removeTriggered(seq int) {
	for i, rec := range t.triggered {
		if rec.seq == seq {
			t.triggered = append(t.triggered[:i], t.triggered[i+1:]...)
			return
		}
	}
}

func matchKey(key, prefix string, seq *int) bool {
	var n int
	if _, err := fmt.Sscanf(key, prefix+"%d", &n); err != nil {
		return false
	}
	*seq = n
	return true
}
