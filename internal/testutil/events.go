package testutil

import (
	"context"
	"sync"

	"github.com/roach88/mnemo/internal/ir"
)

// EventRecorder is a publisher that keeps every event in memory.
// Set Err to make Publish fail after recording.
type EventRecorder struct {
	mu     sync.Mutex
	events []ir.Event
	Err    error
}

// Publish records ev.
func (r *EventRecorder) Publish(_ context.Context, ev ir.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.Err
}

// Events returns a copy of the recorded events in publish order.
func (r *EventRecorder) Events() []ir.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ir.Event(nil), r.events...)
}

// Payloads flattens the payloads of every recorded event.
func (r *EventRecorder) Payloads() []ir.MutationPayload {
	var out []ir.MutationPayload
	for _, ev := range r.Events() {
		out = append(out, ev.Payload...)
	}
	return out
}

// Reset discards recorded events.
func (r *EventRecorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
