// Package bot wires one decision engine to its event feed. Each bot owns a
// bounded inbox and a single consumer goroutine, so the engine never needs
// locking: producers block on Enqueue when the consumer falls behind rather
// than dropping or reordering events.
package bot

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/amirphl/grid-trader/internal/db"
	"github.com/amirphl/grid-trader/internal/event"
	"github.com/amirphl/grid-trader/internal/notifier"
	"github.com/amirphl/grid-trader/internal/strategy"
)

const defaultInboxSize = 1024

// Bot drives one engine from one inbox. A fatal engine error stops the bot;
// it never trades on a state it cannot trust.
type Bot struct {
	name    string
	engine  strategy.Engine
	inbox   chan event.Event
	storage db.Storage
	tasks   *Pool
	notify  notifier.Notifier
	log     zerolog.Logger
}

type Options struct {
	Name      string
	Engine    strategy.Engine
	Storage   db.Storage
	Tasks     *Pool
	Notifier  notifier.Notifier
	InboxSize int
	Log       zerolog.Logger
}

func New(opts Options) *Bot {
	size := opts.InboxSize
	if size <= 0 {
		size = defaultInboxSize
	}
	n := opts.Notifier
	if n == nil {
		n = notifier.Noop{}
	}
	return &Bot{
		name:    opts.Name,
		engine:  opts.Engine,
		inbox:   make(chan event.Event, size),
		storage: opts.Storage,
		tasks:   opts.Tasks,
		notify:  n,
		log:     opts.Log.With().Str("bot", opts.Name).Logger(),
	}
}

// Enqueue submits an event to the bot's inbox, blocking while the inbox is
// full. Blocking is the backpressure mechanism; events are never dropped.
func (b *Bot) Enqueue(ctx context.Context, ev event.Event) error {
	select {
	case b.inbox <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run sets up the engine and consumes the inbox until ctx is canceled or
// the engine reports a fatal error. It is the only goroutine that touches
// the engine.
func (b *Bot) Run(ctx context.Context) error {
	if err := b.engine.Setup(ctx); err != nil {
		b.alert(fmt.Sprintf("bot %s: setup failed: %v", b.name, err))
		return fmt.Errorf("engine setup: %w", err)
	}
	b.log.Info().Str("state", b.engine.State().String()).Msg("bot started")

	for {
		select {
		case <-ctx.Done():
			b.shutdown()
			return ctx.Err()
		case ev := <-b.inbox:
			if err := b.handle(ctx, ev); err != nil {
				b.shutdown()
				b.alert(fmt.Sprintf("bot %s: stopped on fatal error: %v", b.name, err))
				return err
			}
		}
	}
}

func (b *Bot) handle(ctx context.Context, ev event.Event) error {
	err := b.engine.Handle(ctx, ev)
	if err != nil {
		if errors.Is(err, strategy.ErrEngineStopped) {
			return err
		}
		return fmt.Errorf("handling %s event: %w", ev.Kind(), err)
	}

	if oe, ok := ev.(event.OrderEvent); ok {
		b.journalOrder(oe)
	}
	return nil
}

// journalOrder persists the updated order off the hot path.
func (b *Bot) journalOrder(oe event.OrderEvent) {
	if b.storage == nil || b.tasks == nil {
		return
	}
	b.tasks.Submit(JournalTask{
		Storage: b.storage,
		Order:   oe.Order,
		Event: db.JournalEvent{
			Time:        oe.Timestamp,
			Type:        "order",
			Description: fmt.Sprintf("order %s %s", oe.Order.OrderID, oe.Order.Status),
			Data: map[string]any{
				"order_id": oe.Order.OrderID,
				"pair":     oe.Order.Pair.String(),
				"side":     string(oe.Order.Side),
				"status":   string(oe.Order.Status),
				"price":    oe.Order.Price.String(),
			},
		},
		Log: b.log,
	})
}

func (b *Bot) shutdown() {
	b.engine.Stop()
	b.log.Info().Msg("bot stopped")
}

func (b *Bot) alert(msg string) {
	if b.tasks == nil {
		_ = b.notify.SendWithRetry(msg)
		return
	}
	b.tasks.Submit(NotifyTask{Notifier: b.notify, Message: msg, Log: b.log})
}
