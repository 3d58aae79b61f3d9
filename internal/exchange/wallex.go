package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	wallex "github.com/wallexchange/wallex-go"

	"github.com/amirphl/grid-trader/internal/candle"
	"github.com/amirphl/grid-trader/internal/market"
	"github.com/amirphl/grid-trader/internal/order"
	"github.com/amirphl/grid-trader/internal/tfutils"
)

// WallexExchange adapts the wallex REST API to the normalized Exchange
// contract. Unknown wire enum values map to UNSUPPORTED sentinels, never
// errors.
type WallexExchange struct {
	client *wallex.Client
	log    zerolog.Logger

	mu        sync.Mutex
	submitted map[string][]string // pair -> order ids this process placed
}

func NewWallexExchange(apiKey string, log zerolog.Logger) *WallexExchange {
	return &WallexExchange{
		client:    wallex.New(wallex.ClientOptions{APIKey: apiKey}),
		log:       log.With().Str("exchange", "wallex").Logger(),
		submitted: make(map[string][]string),
	}
}

func (w *WallexExchange) Name() string { return "wallex" }

// wallexSymbol joins a pair into the exchange's symbol form, e.g. BTCUSDT.
func wallexSymbol(pair market.TradePair) string {
	return pair.Base + pair.Quote
}

func wallexResolution(timeframe string) string {
	switch timeframe {
	case "1m":
		return "1"
	case "5m":
		return "5"
	case "15m":
		return "15"
	case "30m":
		return "30"
	case "1h":
		return "60"
	case "4h":
		return "240"
	case "1d":
		return "D"
	default:
		return ""
	}
}

func (w *WallexExchange) FetchCandles(ctx context.Context, pair market.TradePair, timeframe string, from, to time.Time) ([]candle.Candle, error) {
	resolution := wallexResolution(timeframe)
	if resolution == "" {
		return nil, fmt.Errorf("unsupported timeframe: %s", timeframe)
	}
	spanMs := tfutils.GetTimeframeMillis(timeframe)

	var wallexCandles []*wallex.Candle
	err := retry(ctx, w.log, 3, 2*time.Second, func() error {
		var err error
		wallexCandles, err = w.client.Candles(wallexSymbol(pair), resolution, from, to)
		if err != nil {
			return fmt.Errorf("fetching candles: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("FetchCandles failed: %w", err)
	}

	candles := make([]candle.Candle, 0, len(wallexCandles))
	for _, wc := range wallexCandles {
		c, err := wallexCandleToCandle(wc, pair, timeframe, spanMs)
		if err != nil {
			w.log.Warn().Err(err).Msg("skipping malformed candle")
			continue
		}
		if err := c.Validate(); err != nil {
			w.log.Warn().Err(err).Msg("skipping invalid candle")
			continue
		}
		candles = append(candles, c)
	}
	return candles, nil
}

func wallexCandleToCandle(wc *wallex.Candle, pair market.TradePair, timeframe string, spanMs int64) (candle.Candle, error) {
	c := candle.Candle{
		Pair:      pair,
		Timeframe: timeframe,
		Source:    "wallex",
	}
	openMs := wc.Timestamp.UnixMilli()
	c.OpenTime = tfutils.BucketOpenMillis(openMs, timeframe)
	c.CloseTime = c.OpenTime + spanMs - 1

	for _, f := range []struct {
		dst *decimal.Decimal
		src wallex.Number
	}{
		{&c.Open, wc.Open}, {&c.High, wc.High}, {&c.Low, wc.Low},
		{&c.Close, wc.Close}, {&c.Volume, wc.Volume},
	} {
		d, err := decimal.NewFromString(string(f.src))
		if err != nil {
			return candle.Candle{}, fmt.Errorf("parsing candle value %q: %w", string(f.src), err)
		}
		*f.dst = d
	}
	return c, nil
}

func (w *WallexExchange) SubmitOrder(ctx context.Context, req order.Request) (order.Order, error) {
	select {
	case <-ctx.Done():
		return order.Order{}, ctx.Err()
	default:
	}

	params := &wallex.OrderParams{
		Symbol:   wallexSymbol(req.Pair),
		Type:     string(req.Type),
		Side:     string(req.Side),
		Price:    wallex.Number(req.Price.String()),
		Quantity: wallex.Number(req.Quantity.String()),
	}
	resp, err := w.client.PlaceOrder(params)
	if err != nil {
		return order.Order{}, fmt.Errorf("placing order: %w", err)
	}

	w.mu.Lock()
	key := req.Pair.String()
	w.submitted[key] = append(w.submitted[key], resp.ClientOrderID)
	w.mu.Unlock()

	return order.Order{
		OrderID:          resp.ClientOrderID,
		Pair:             req.Pair,
		Price:            req.Price,
		OriginalQuantity: req.Quantity,
		ExecutedQuantity: numberToDecimal(resp.ExecutedQty),
		Side:             req.Side,
		Type:             req.Type,
		Status:           order.ParseStatus(resp.Status),
		CreatedAt:        resp.CreatedAt.UTC(),
		UpdatedAt:        resp.CreatedAt.UTC(),
	}, nil
}

func (w *WallexExchange) CancelOrder(ctx context.Context, orderID string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return w.client.CancelOrder(orderID)
	}
}

// CancelAll cancels every still-open order this process submitted for the
// pair. Orders placed by other sessions are not touched.
func (w *WallexExchange) CancelAll(ctx context.Context, pair market.TradePair) error {
	w.mu.Lock()
	ids := append([]string(nil), w.submitted[pair.String()]...)
	w.mu.Unlock()

	for _, id := range ids {
		o, err := w.OrderStatus(ctx, id)
		if err != nil {
			w.log.Warn().Err(err).Str("order_id", id).Msg("status check before cancel failed")
			continue
		}
		if !o.IsOpen() {
			continue
		}
		if err := w.CancelOrder(ctx, id); err != nil {
			return fmt.Errorf("canceling order %s: %w", id, err)
		}
	}
	return nil
}

func (w *WallexExchange) OrderStatus(ctx context.Context, orderID string) (order.Order, error) {
	select {
	case <-ctx.Done():
		return order.Order{}, ctx.Err()
	default:
	}

	resp, err := w.client.Order(orderID)
	if err != nil {
		return order.Order{}, fmt.Errorf("fetching order %s: %w", orderID, err)
	}

	pair := splitWallexSymbol(resp.Symbol)
	return order.Order{
		OrderID:          resp.ClientOrderID,
		Pair:             pair,
		Price:            numberToDecimal(&resp.Price),
		OriginalQuantity: numberToDecimal(&resp.OrigQty),
		ExecutedQuantity: numberToDecimal(resp.ExecutedQty),
		Side:             order.ParseSide(resp.Side),
		Type:             order.ParseType(resp.Type),
		Status:           order.ParseStatus(resp.Status),
		CreatedAt:        resp.CreatedAt.UTC(),
		UpdatedAt:        resp.CreatedAt.UTC(),
	}, nil
}

func (w *WallexExchange) Balances(ctx context.Context) (map[string]market.Balance, error) {
	var wallexBalances map[string]*wallex.Balance
	err := retry(ctx, w.log, 3, 2*time.Second, func() error {
		var err error
		wallexBalances, err = w.client.Balances()
		if err != nil {
			return fmt.Errorf("fetching balances: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("Balances failed: %w", err)
	}

	out := make(map[string]market.Balance, len(wallexBalances))
	for asset, b := range wallexBalances {
		out[asset] = market.Balance{
			Asset:     asset,
			Available: numberToDecimal(&b.Value),
			Locked:    numberToDecimal(&b.Locked),
		}
	}
	return out, nil
}

// splitWallexSymbol recovers a TradePair from the joined symbol form using
// the known quote suffixes.
func splitWallexSymbol(symbol string) market.TradePair {
	for _, quote := range []string{"USDT", "TMN", "IRT", "BTC"} {
		if len(symbol) > len(quote) && symbol[len(symbol)-len(quote):] == quote {
			return market.NewTradePair(symbol[:len(symbol)-len(quote)], quote)
		}
	}
	return market.TradePair{}
}

func numberToDecimal(n *wallex.Number) decimal.Decimal {
	if n == nil {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(string(*n))
	if err != nil {
		return decimal.Zero
	}
	return d
}
