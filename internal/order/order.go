// Package order
package order

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/amirphl/grid-trader/internal/market"
)

type Side string

const (
	Buy             Side = "BUY"
	Sell            Side = "SELL"
	SideUnsupported Side = "UNSUPPORTED"
)

// Opposite returns the other trading side. Unsupported stays unsupported.
func (s Side) Opposite() Side {
	switch s {
	case Buy:
		return Sell
	case Sell:
		return Buy
	default:
		return SideUnsupported
	}
}

type Type string

const (
	Limit           Type = "LIMIT"
	Market          Type = "MARKET"
	TypeUnsupported Type = "UNSUPPORTED"
)

type Status string

const (
	StatusNew             Status = "NEW"
	StatusPartiallyFilled Status = "PARTIALLY_FILLED"
	StatusFilled          Status = "FILLED"
	StatusCanceled        Status = "CANCELED"
	StatusRejected        Status = "REJECTED"
	StatusUnsupported     Status = "UNSUPPORTED"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusFilled || s == StatusCanceled || s == StatusRejected
}

// ParseSide maps a wire value to a Side. Unknown values map to the
// UNSUPPORTED sentinel instead of failing, so one malformed message cannot
// stop event processing.
func ParseSide(s string) Side {
	switch strings.ToUpper(s) {
	case "BUY":
		return Buy
	case "SELL":
		return Sell
	default:
		return SideUnsupported
	}
}

func ParseType(s string) Type {
	switch strings.ToUpper(s) {
	case "LIMIT":
		return Limit
	case "MARKET":
		return Market
	default:
		return TypeUnsupported
	}
}

func ParseStatus(s string) Status {
	switch strings.ToUpper(s) {
	case "NEW", "OPEN", "ACTIVE":
		return StatusNew
	case "PARTIALLY_FILLED", "PARTIALLY FILLED":
		return StatusPartiallyFilled
	case "FILLED", "DONE":
		return StatusFilled
	case "CANCELED", "CANCELLED":
		return StatusCanceled
	case "REJECTED":
		return StatusRejected
	default:
		return StatusUnsupported
	}
}

// Order is the engine's view of one exchange order. OrderID is empty until
// the exchange assigns one. While open it is owned exclusively by the
// decision engine; once terminal it leaves the live map.
type Order struct {
	OrderID          string
	Pair             market.TradePair
	Price            decimal.Decimal
	OriginalQuantity decimal.Decimal
	ExecutedQuantity decimal.Decimal
	Side             Side
	Type             Type
	Status           Status
	StopPrice        decimal.Decimal
	Fee              decimal.Decimal
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// IsOpen checks if the order is still active on the exchange.
func (o *Order) IsOpen() bool {
	return o.Status == StatusNew || o.Status == StatusPartiallyFilled
}

// RemainingQuantity returns the unfilled part of the order.
func (o *Order) RemainingQuantity() decimal.Decimal {
	return o.OriginalQuantity.Sub(o.ExecutedQuantity)
}

// Request represents a new order to be submitted to an exchange adapter.
// Fire-and-forget: the confirmation arrives later as an inbound Order event.
type Request struct {
	Pair      market.TradePair
	Side      Side
	Type      Type
	Price     decimal.Decimal // ignored for market orders
	Quantity  decimal.Decimal
	StopPrice decimal.Decimal
}

// CancelRequest asks the adapter to cancel one order by id.
type CancelRequest struct {
	OrderID string
}

// CancelAllRequest asks the adapter to cancel every open order of a pair.
type CancelAllRequest struct {
	Pair market.TradePair
}
