package backtest

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/amirphl/grid-trader/internal/order"
)

// Report aggregates the statistics of one replay. Rendering beyond the
// plain-text summary is left to the caller.
type Report struct {
	FinalBaseBalance   decimal.Decimal
	FinalQuoteBalance  decimal.Decimal
	FeesSum            decimal.Decimal
	TradeVolume        decimal.Decimal
	SlippageSum        decimal.Decimal
	OrdersAmount       int
	MaxLongOpenOrders  int
	MaxShortOpenOrders int
	SkippedGaps        int
	ClosingOrders      []order.Order
}

// Summary renders a deterministic plain-text summary: identical inputs yield
// byte-identical output.
func (r *Report) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "final base balance: %s\n", r.FinalBaseBalance.String())
	fmt.Fprintf(&b, "final quote balance: %s\n", r.FinalQuoteBalance.String())
	fmt.Fprintf(&b, "fees: %s\n", r.FeesSum.String())
	fmt.Fprintf(&b, "trade volume: %s\n", r.TradeVolume.String())
	fmt.Fprintf(&b, "slippage: %s\n", r.SlippageSum.String())
	fmt.Fprintf(&b, "orders: %d\n", r.OrdersAmount)
	fmt.Fprintf(&b, "max long open orders: %d\n", r.MaxLongOpenOrders)
	fmt.Fprintf(&b, "max short open orders: %d\n", r.MaxShortOpenOrders)
	fmt.Fprintf(&b, "skipped gaps: %d\n", r.SkippedGaps)
	fmt.Fprintf(&b, "closing orders: %d\n", len(r.ClosingOrders))
	for _, o := range r.ClosingOrders {
		fmt.Fprintf(&b, "  %s %s %s %s @ %s\n",
			o.OrderID, o.Side, o.Type, o.ExecutedQuantity.String(), o.Price.String())
	}
	return b.String()
}
