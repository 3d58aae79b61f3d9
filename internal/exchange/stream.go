package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/amirphl/grid-trader/internal/event"
	"github.com/amirphl/grid-trader/internal/market"
)

// TickSink receives normalized tick events from a stream. The bot inbox
// implements this.
type TickSink interface {
	Enqueue(ctx context.Context, ev event.Event) error
}

// wallexTrade is the wire shape of a trade message on the SYMBOL@trade
// channel.
type wallexTrade struct {
	IsBuyOrder bool      `json:"isBuyOrder"`
	Quantity   string    `json:"quantity"`
	Price      string    `json:"price"`
	Timestamp  time.Time `json:"timestamp"`
}

type subscribeMessage struct {
	Channel string `json:"channel"`
}

// TickStream maintains a websocket subscription to a pair's trade channel
// and forwards each trade as a TickEvent. It reconnects with exponential
// backoff capped at one minute and answers socket.io pings itself.
type TickStream struct {
	pair market.TradePair
	sink TickSink
	log  zerolog.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

func NewTickStream(pair market.TradePair, sink TickSink, log zerolog.Logger) *TickStream {
	return &TickStream{
		pair: pair,
		sink: sink,
		log:  log.With().Str("stream", pair.String()).Logger(),
	}
}

// Run blocks until ctx is canceled, reconnecting on every transport error.
func (s *TickStream) Run(ctx context.Context) {
	retryDelay := time.Second
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		err := s.connectAndStream(ctx)
		if err == nil || ctx.Err() != nil {
			return
		}

		s.log.Warn().Err(err).Dur("retry_in", retryDelay).Msg("stream disconnected")
		select {
		case <-ctx.Done():
			return
		case <-time.After(retryDelay):
		}
		if retryDelay < time.Minute {
			retryDelay *= 2
		} else {
			retryDelay = time.Minute
		}
	}
}

func (s *TickStream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.conn != nil {
		s.conn.Close()
	}
}

func (s *TickStream) channel() string {
	return s.pair.Base + s.pair.Quote + "@trade"
}

func (s *TickStream) connectAndStream(ctx context.Context) error {
	u := url.URL{Scheme: "wss", Host: "api.wallex.ir", Path: "/socket.io/"}
	query := u.Query()
	query.Set("EIO", "4")
	query.Set("transport", "websocket")
	u.RawQuery = query.Encode()

	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", u.Host, err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		c.Close()
		return nil
	}
	s.conn = c
	s.mu.Unlock()

	defer func() {
		c.Close()
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
	}()

	// socket.io connect frame, then subscribe once the server acks with
	// its own "40".
	if err := c.WriteMessage(websocket.TextMessage, []byte("40")); err != nil {
		return err
	}
	if err := s.subscribe(c); err != nil {
		return err
	}
	s.log.Info().Msg("subscribed to trade channel")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		c.SetReadDeadline(time.Now().Add(30 * time.Second))
		_, message, err := c.ReadMessage()
		if err != nil {
			return err
		}
		msg := string(message)
		switch {
		case msg == "2":
			// socket.io ping
			c.WriteMessage(websocket.TextMessage, []byte("3"))
		case msg == "40":
			if err := s.subscribe(c); err != nil {
				return err
			}
		case len(msg) >= 2 && msg[:2] == "42":
			if err := s.handleEvent(ctx, msg[2:]); err != nil {
				return err
			}
		}
	}
}

func (s *TickStream) subscribe(c *websocket.Conn) error {
	payload, err := json.Marshal(subscribeMessage{Channel: s.channel()})
	if err != nil {
		return err
	}
	frame := fmt.Sprintf(`42["subscribe",%s]`, payload)
	return c.WriteMessage(websocket.TextMessage, []byte(frame))
}

func (s *TickStream) handleEvent(ctx context.Context, jsonPart string) error {
	var eventArray []json.RawMessage
	if err := json.Unmarshal([]byte(jsonPart), &eventArray); err != nil {
		return nil
	}
	if len(eventArray) < 3 {
		return nil
	}
	var eventName, channel string
	if json.Unmarshal(eventArray[0], &eventName) != nil || eventName != "Broadcaster" {
		return nil
	}
	if json.Unmarshal(eventArray[1], &channel) != nil || channel != s.channel() {
		return nil
	}

	var trade wallexTrade
	if err := json.Unmarshal(eventArray[2], &trade); err != nil {
		s.log.Warn().Err(err).Msg("malformed trade message")
		return nil
	}

	price, err := decimal.NewFromString(trade.Price)
	if err != nil {
		s.log.Warn().Str("price", trade.Price).Msg("unparsable trade price")
		return nil
	}
	quantity, err := decimal.NewFromString(trade.Quantity)
	if err != nil {
		quantity = decimal.Zero
	}

	tick := market.Tick{
		Pair:      s.pair,
		Price:     price,
		Quantity:  quantity,
		Timestamp: trade.Timestamp,
	}
	if err := tick.Validate(); err != nil {
		return nil
	}
	return s.sink.Enqueue(ctx, event.TickEvent{Tick: tick})
}
