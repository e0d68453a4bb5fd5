// Package dispatch delivers committed mutation events to workflows.
//
// The Dispatcher is an in-process outbox: MemoryStore publishes after a
// transaction commits, and a single Run goroutine hands events to the
// handler in publish order. Publish never blocks the writer; when the
// bounded queue is full the event is rejected with ErrQueueFull.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/roach88/mnemo/internal/ir"
)

// DefaultCapacity is the queue bound used when WithCapacity is not given.
const DefaultCapacity = 256

var (
	// ErrQueueFull is returned by Publish when the queue is at capacity.
	ErrQueueFull = errors.New("dispatch queue full")

	// ErrClosed is returned by Publish after Close.
	ErrClosed = errors.New("dispatcher closed")
)

// Handler processes one event. A returned error is logged and delivery
// continues with the next event.
type Handler func(ctx context.Context, ev ir.Event) error

// Dispatcher queues events and delivers them to a Handler.
type Dispatcher struct {
	queue   *eventQueue
	handler Handler
	logger  *slog.Logger

	delivered atomic.Int64
	dropped   atomic.Int64
}

type options struct {
	capacity int
	logger   *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*options)

// WithCapacity bounds the queue. Values <= 0 are ignored.
func WithCapacity(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.capacity = n
		}
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// New creates a Dispatcher. Call Run to start delivery.
func New(handler Handler, opts ...Option) *Dispatcher {
	o := options{capacity: DefaultCapacity, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Dispatcher{
		queue:   newEventQueue(o.capacity),
		handler: handler,
		logger:  o.logger,
	}
}

// Publish enqueues ev without blocking.
func (d *Dispatcher) Publish(ctx context.Context, ev ir.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := d.queue.Enqueue(ev); err != nil {
		d.dropped.Add(1)
		return fmt.Errorf("publish event %s: %w", ev.ID, err)
	}
	return nil
}

// Run delivers events until ctx is cancelled or Close is called.
// After Close, events already queued are delivered before Run returns nil.
// Cancellation closes the queue and returns ctx.Err().
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("dispatcher starting")

	for {
		if ev, ok := d.queue.TryDequeue(); ok {
			d.deliver(ctx, ev)
			continue
		}

		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher stopping: context cancelled", "pending", d.queue.Len())
			d.queue.Close()
			return ctx.Err()

		case <-d.queue.Wait():
			// The signal channel closes with the queue, so this fires
			// immediately once closed.
			if d.isDrained() {
				d.logger.Info("dispatcher stopping: queue closed")
				return nil
			}
		}
	}
}

func (d *Dispatcher) isDrained() bool {
	d.queue.mu.Lock()
	defer d.queue.mu.Unlock()
	return d.queue.closed && len(d.queue.events) == 0
}

// deliver calls the handler, containing both errors and panics.
func (d *Dispatcher) deliver(ctx context.Context, ev ir.Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("event handler panicked",
				"event_id", ev.ID,
				"panic", fmt.Sprint(r))
		}
	}()

	if err := d.handler(ctx, ev); err != nil {
		d.logger.Error("event handler failed",
			"event_id", ev.ID,
			"payloads", len(ev.Payload),
			"error", err)
	}
	d.delivered.Add(1)
}

// Len returns the number of queued events.
func (d *Dispatcher) Len() int { return d.queue.Len() }

// Delivered returns how many events reached the handler.
func (d *Dispatcher) Delivered() int64 { return d.delivered.Load() }

// Dropped returns how many events Publish rejected.
func (d *Dispatcher) Dropped() int64 { return d.dropped.Load() }

// Close stops accepting events. Run delivers what is queued and returns.
func (d *Dispatcher) Close() { d.queue.Close() }
