package bot

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/amirphl/grid-trader/internal/db"
	"github.com/amirphl/grid-trader/internal/notifier"
	"github.com/amirphl/grid-trader/internal/order"
)

// Task is a unit of background work that must never block the consumer
// loop: journaling, notifications, anything with network or disk latency.
type Task interface {
	Execute(ctx context.Context)
}

// JournalTask persists an order update and the matching journal record.
type JournalTask struct {
	Storage db.Storage
	Order   order.Order
	Event   db.JournalEvent
	Log     zerolog.Logger
}

func (t JournalTask) Execute(ctx context.Context) {
	if err := t.Storage.SaveOrder(ctx, t.Order); err != nil {
		t.Log.Error().Err(err).Str("order_id", t.Order.OrderID).Msg("saving order failed")
	}
	if err := t.Storage.LogEvent(ctx, t.Event); err != nil {
		t.Log.Error().Err(err).Msg("journaling event failed")
	}
}

// NotifyTask delivers an operator alert.
type NotifyTask struct {
	Notifier notifier.Notifier
	Message  string
	Log      zerolog.Logger
}

func (t NotifyTask) Execute(ctx context.Context) {
	if err := t.Notifier.SendWithRetry(t.Message); err != nil {
		t.Log.Error().Err(err).Msg("notification failed")
	}
}

// Pool runs tasks on a fixed set of workers. Submit blocks when the queue
// is full, the same backpressure rule as the bot inbox.
type Pool struct {
	mu     sync.Mutex
	tasks  chan Task
	closed bool
	wg     sync.WaitGroup

	cancel context.CancelFunc
	once   sync.Once
}

func NewPool(workers, queueSize int) *Pool {
	if workers <= 0 {
		workers = 2
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		tasks:  make(chan Task, queueSize),
		cancel: cancel,
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	return p
}

func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-p.tasks:
			if !ok {
				return
			}
			t.Execute(ctx)
		}
	}
}

// Submit blocks while the queue is full. A submit after Close is dropped:
// a bot draining its last journal write during shutdown must not crash.
func (p *Pool) Submit(t Task) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.tasks <- t
}

// Close stops accepting tasks, lets queued work finish, then releases the
// workers.
func (p *Pool) Close() {
	p.once.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.tasks)
		p.mu.Unlock()
		p.wg.Wait()
		p.cancel()
	})
}
