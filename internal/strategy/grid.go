package strategy

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/amirphl/grid-trader/internal/event"
	"github.com/amirphl/grid-trader/internal/order"
)

// GridEngine implements the pure grid policy: price levels spaced by
// OrderDistance across the trading range. A level arms when price crosses it
// in the adverse direction for the configured side and fires a market order
// when crossed back. A price exactly on a level counts as crossed.
type GridEngine struct {
	settings GridSettings
	exch     OrderPlacer
	acct     AccountReader
	log      zerolog.Logger

	state  State
	orders orderMap
	armed  map[string]bool
	levels []decimal.Decimal

	hasLast   bool
	lastPrice decimal.Decimal
}

func NewGridEngine(settings GridSettings, exch OrderPlacer, acct AccountReader, log zerolog.Logger) (*GridEngine, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	g := &GridEngine{
		settings: settings,
		exch:     exch,
		acct:     acct,
		log:      log.With().Str("engine", "grid").Str("pair", settings.Pair.String()).Logger(),
		orders:   make(orderMap),
		armed:    make(map[string]bool),
	}
	// Levels are keyed at the settings' price precision so re-entrant
	// touches cannot create duplicate keys.
	for lv := settings.LowerPrice; !lv.GreaterThan(settings.UpperPrice); lv = lv.Add(settings.OrderDistance) {
		g.levels = append(g.levels, lv.RoundBank(settings.PriceScale))
	}
	return g, nil
}

// Setup populates the order map from the exchange's currently-open orders.
// Calling it twice with unchanged exchange state produces no duplicates:
// slots are keyed by rounded price level and side.
func (g *GridEngine) Setup(ctx context.Context) error {
	if g.state == Stopped {
		return ErrEngineStopped
	}
	open, err := g.acct.OpenOrders(ctx, g.settings.Pair)
	if err != nil {
		return fmt.Errorf("grid setup: %w", err)
	}
	g.orders = make(orderMap, len(open))
	for _, o := range open {
		if !o.IsOpen() {
			continue
		}
		key := g.levelKey(o.Side, o.Price)
		if _, dup := g.orders[key]; dup {
			g.log.Warn().Str("key", key).Str("order_id", o.OrderID).Msg("duplicate open order for grid slot, keeping first")
			continue
		}
		g.orders[key] = o
	}
	g.state = Ready
	g.log.Info().Int("levels", len(g.levels)).Int("open_orders", len(g.orders)).Msg("grid engine ready")
	return nil
}

func (g *GridEngine) Handle(ctx context.Context, ev event.Event) error {
	switch g.state {
	case Stopped:
		return ErrEngineStopped
	case Uninitialized:
		return errors.New("grid engine: Handle before Setup")
	}
	g.state = Running

	switch e := ev.(type) {
	case event.TickEvent:
		return g.handlePrice(ctx, e.Tick.Price)
	case event.CandleEvent:
		return g.handlePrice(ctx, e.Candle.Close)
	case event.OrderEvent:
		g.handleOrder(e.Order)
		return nil
	default:
		return nil
	}
}

func (g *GridEngine) Stop()                     { g.state = Stopped }
func (g *GridEngine) State() State              { return g.state }
func (g *GridEngine) OpenOrders() []order.Order { return g.orders.snapshot() }

func (g *GridEngine) levelKey(side order.Side, price decimal.Decimal) string {
	return string(side) + "@" + price.RoundBank(g.settings.PriceScale).StringFixed(g.settings.PriceScale)
}

func (g *GridEngine) handlePrice(ctx context.Context, price decimal.Decimal) error {
	if !g.hasLast {
		g.hasLast = true
		g.lastPrice = price
		return nil
	}
	last := g.lastPrice
	g.lastPrice = price
	if price.Equal(last) {
		return nil
	}

	for _, lv := range g.levels {
		crossedUp := last.LessThan(lv) && price.GreaterThanOrEqual(lv)
		crossedDown := last.GreaterThan(lv) && price.LessThanOrEqual(lv)

		if g.settings.Direction.allowsShort() {
			key := g.levelKey(order.Sell, lv)
			switch {
			case crossedUp:
				g.armed[key] = true
			case crossedDown && g.armed[key]:
				delete(g.armed, key)
				if err := g.fire(ctx, order.Sell, lv); err != nil {
					return err
				}
			}
		}
		if g.settings.Direction.allowsLong() {
			key := g.levelKey(order.Buy, lv)
			switch {
			case crossedDown:
				g.armed[key] = true
			case crossedUp && g.armed[key]:
				delete(g.armed, key)
				if err := g.fire(ctx, order.Buy, lv); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// fire places one market order for a grid level. Resource and transient
// conditions are recovered locally; only context errors propagate.
func (g *GridEngine) fire(ctx context.Context, side order.Side, level decimal.Decimal) error {
	key := g.levelKey(side, level)
	if _, exists := g.orders[key]; exists {
		return nil
	}
	if len(g.orders) >= g.settings.MaxOrders {
		g.log.Warn().Str("key", key).Int("max", g.settings.MaxOrders).Msg("grid order cap reached, skipping placement")
		return nil
	}

	qty, err := resolveQuantity(ctx, g.acct, g.settings.Pair, g.settings.Sizing, side, level, g.settings.AmountScale)
	if err != nil {
		var insufficient *InsufficientBalanceError
		if errors.As(err, &insufficient) {
			g.log.Warn().Err(err).Str("key", key).Msg("skipping grid placement")
			return nil
		}
		return err
	}

	req := order.Request{
		Pair:     g.settings.Pair,
		Side:     side,
		Type:     order.Market,
		Price:    level,
		Quantity: qty,
	}
	o, err := g.exch.SubmitOrder(ctx, req)
	if err != nil {
		g.log.Error().Err(err).Str("key", key).Msg("grid order submission failed")
		return nil
	}
	g.orders[key] = o
	g.log.Info().Str("key", key).Str("order_id", o.OrderID).Str("qty", qty.String()).Msg("grid order placed")
	return nil
}

func (g *GridEngine) handleOrder(o order.Order) {
	key, ok := g.orders.findByID(o.OrderID)
	if !ok {
		err := &OrderNotFoundError{OrderID: o.OrderID}
		g.log.Warn().Err(err).Msg("ignoring stale order update")
		return
	}

	entry := g.orders[key]
	entry.ExecutedQuantity = o.ExecutedQuantity
	entry.Status = o.Status
	entry.Fee = o.Fee
	entry.UpdatedAt = o.UpdatedAt

	if entry.Status.Terminal() {
		// The slot becomes eligible again once price re-arms the level.
		delete(g.orders, key)
		g.log.Info().Str("key", key).Str("status", string(entry.Status)).Msg("grid slot released")
		return
	}
	g.orders[key] = entry
}
