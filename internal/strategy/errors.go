package strategy

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrEngineStopped is returned when events arrive after Stop. A consumer
// mid-shutdown must not emit orders.
var ErrEngineStopped = errors.New("engine stopped")

// OrderNotFoundError marks a fill notification that references no slot in
// the order map: a stale or duplicate exchange message. Logged and ignored,
// never fatal.
type OrderNotFoundError struct {
	OrderID string
}

func (e *OrderNotFoundError) Error() string {
	return fmt.Sprintf("order %s not found in engine order map", e.OrderID)
}

// InsufficientBalanceError marks a placement whose size would exceed the
// available balance. The placement is skipped; the engine stays consistent
// and reconsiders on the next event.
type InsufficientBalanceError struct {
	Asset     string
	Need      decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient %s balance: need %s, available %s",
		e.Asset, e.Need.String(), e.Available.String())
}
