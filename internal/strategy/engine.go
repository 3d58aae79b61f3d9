package strategy

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/amirphl/grid-trader/internal/event"
	"github.com/amirphl/grid-trader/internal/market"
	"github.com/amirphl/grid-trader/internal/order"
)

// State is the engine lifecycle. Transitions only move forward:
// UNINITIALIZED -> READY -> RUNNING -> STOPPED.
type State uint8

const (
	Uninitialized State = iota
	Ready
	Running
	Stopped
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "UNINITIALIZED"
	case Ready:
		return "READY"
	case Running:
		return "RUNNING"
	case Stopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// OrderPlacer is the outbound command contract toward an exchange adapter.
// Fire-and-forget: confirmations arrive asynchronously as Order events.
type OrderPlacer interface {
	SubmitOrder(ctx context.Context, req order.Request) (order.Order, error)
	CancelOrder(ctx context.Context, orderID string) error
}

// AccountReader supplies the account state the engine needs for sizing and
// setup reconciliation.
type AccountReader interface {
	Balances(ctx context.Context) (map[string]market.Balance, error)
	OpenOrders(ctx context.Context, pair market.TradePair) ([]order.Order, error)
}

// Engine is the order decision core, polymorphic over strategy kind. One
// engine instance is driven by exactly one consumer goroutine; it needs no
// internal locking.
type Engine interface {
	// Setup reconciles the in-memory order map against the exchange's
	// currently-open orders. Idempotent.
	Setup(ctx context.Context) error
	// Handle is the single entry point for market data and order updates.
	Handle(ctx context.Context, ev event.Event) error
	// Stop moves the engine to STOPPED; subsequent Handle calls fail with
	// ErrEngineStopped.
	Stop()
	State() State
	// OpenOrders returns a sorted snapshot of the live order map.
	OpenOrders() []order.Order
}

// orderMap is the authoritative set of orders the engine believes are open,
// keyed by a deterministic slot key. Key uniqueness is mandatory; the map is
// consulted before every placement to avoid duplicates at one slot.
type orderMap map[string]order.Order

func (m orderMap) findByID(orderID string) (string, bool) {
	for k, o := range m {
		if o.OrderID == orderID {
			return k, true
		}
	}
	return "", false
}

func (m orderMap) snapshot() []order.Order {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]order.Order, 0, len(keys))
	for _, k := range keys {
		out = append(out, m[k])
	}
	return out
}

// resolveQuantity turns the sizing settings into a concrete order quantity
// at the given price, rounded half-up at amountScale, and verifies the
// placement is affordable. Amounts round half-up; prices elsewhere round
// half-even to avoid systematic drift.
func resolveQuantity(
	ctx context.Context,
	acct AccountReader,
	pair market.TradePair,
	sizing Sizing,
	side order.Side,
	price decimal.Decimal,
	amountScale int32,
) (decimal.Decimal, error) {
	balances, err := acct.Balances(ctx)
	if err != nil {
		return decimal.Zero, err
	}

	qty := sizing.OrderSize
	if sizing.OrderSizePercent.IsPositive() {
		pct := sizing.OrderSizePercent.Div(decimal.NewFromInt(100))
		switch sizing.BalanceAsset {
		case QuoteAsset:
			free := balances[pair.Quote].Available
			qty = free.Mul(pct).Div(price)
		default:
			free := balances[pair.Base].Available
			qty = free.Mul(pct)
		}
	}
	qty = qty.Round(amountScale)
	if !qty.IsPositive() {
		return decimal.Zero, &InsufficientBalanceError{Asset: pair.Base, Need: qty, Available: decimal.Zero}
	}

	switch side {
	case order.Buy:
		need := qty.Mul(price)
		free := balances[pair.Quote].Available
		if need.GreaterThan(free) {
			return decimal.Zero, &InsufficientBalanceError{Asset: pair.Quote, Need: need, Available: free}
		}
	case order.Sell:
		free := balances[pair.Base].Available
		if qty.GreaterThan(free) {
			return decimal.Zero, &InsufficientBalanceError{Asset: pair.Base, Need: qty, Available: free}
		}
	}
	return qty, nil
}
