// Package exchange
package exchange

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/amirphl/grid-trader/internal/candle"
	"github.com/amirphl/grid-trader/internal/market"
	"github.com/amirphl/grid-trader/internal/order"
)

// Exchange is the interface for all supported exchanges. Adapters emit
// normalized types only; engine code never sees an exchange wire format.
type Exchange interface {
	Name() string
	FetchCandles(ctx context.Context, pair market.TradePair, timeframe string, from, to time.Time) ([]candle.Candle, error)
	SubmitOrder(ctx context.Context, req order.Request) (order.Order, error)
	CancelOrder(ctx context.Context, orderID string) error
	CancelAll(ctx context.Context, pair market.TradePair) error
	OrderStatus(ctx context.Context, orderID string) (order.Order, error)
	Balances(ctx context.Context) (map[string]market.Balance, error)
}

// retry wraps a function with retry logic for transient errors, using
// exponential backoff capped at five minutes.
func retry(ctx context.Context, log zerolog.Logger, attempts int, delay time.Duration, fn func() error) error {
	backoff := delay
	var lastErr error
	for i := 1; i <= attempts; i++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if i == attempts {
			break
		}
		log.Warn().Err(lastErr).Int("attempt", i).Int("max", attempts).Dur("backoff", backoff).Msg("retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 5*time.Minute {
			backoff *= 2
			if backoff > 5*time.Minute {
				backoff = 5 * time.Minute
			}
		}
	}
	return fmt.Errorf("all %d attempts failed: %w", attempts, lastErr)
}
