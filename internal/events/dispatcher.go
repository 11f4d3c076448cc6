package events

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type Option func(*Dispatcher)

func WithBuffer(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.buffer = n
		}
	}
}

func WithWorkers(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

func WithPublishTimeout(t time.Duration) Option {
	return func(d *Dispatcher) { d.timeout = t }
}

// WithDropHook is called for every event dropped on a full buffer or a failed publish.
func WithDropHook(fn func(ev BalanceChanged, reason string)) Option {
	return func(d *Dispatcher) { d.onDrop = fn }
}

// Dispatcher fans events out to publishers from a bounded queue.
type Dispatcher struct {
	publishers []Publisher
	buffer     int
	workers    int
	timeout    time.Duration
	logger     *slog.Logger
	onDrop     func(BalanceChanged, string)

	ch     chan BalanceChanged
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

func NewDispatcher(publishers []Publisher, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		publishers: publishers,
		buffer:     1024,
		workers:    2,
		timeout:    5 * time.Second,
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(d)
	}
	d.ch = make(chan BalanceChanged, d.buffer)
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.run()
	}
	return d
}

// Emit queues ev. It never blocks; a full queue drops the event.
func (d *Dispatcher) Emit(ev BalanceChanged) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.drop(ev, "closed")
		return false
	}
	select {
	case d.ch <- ev:
		return true
	default:
		d.drop(ev, "buffer_full")
		return false
	}
}

// Close stops accepting events and waits until queued ones are published.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.ch)
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for ev := range d.ch {
		for _, p := range d.publishers {
			ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
			err := p.Publish(ctx, ev)
			cancel()
			if err != nil {
				d.logger.Warn("publish balance event", "account_id", ev.AccountID, "entry_id", ev.EntryID, "error", err)
				d.drop(ev, "publish_failed")
			}
		}
	}
}

func (d *Dispatcher) drop(ev BalanceChanged, reason string) {
	if d.onDrop != nil {
		d.onDrop(ev, reason)
	}
}
