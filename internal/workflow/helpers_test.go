package workflow

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/roach88/mnemo/internal/embed"
	"github.com/roach88/mnemo/internal/ir"
	"github.com/roach88/mnemo/internal/memory"
	"github.com/roach88/mnemo/internal/testutil"
)

var quietLogger = slog.New(slog.DiscardHandler)

func newTestMemory(t *testing.T) *memory.Memory {
	t.Helper()
	return memory.New(testutil.OpenStore(t),
		memory.WithPublisher(&testutil.EventRecorder{}),
		memory.WithClock(testutil.NewStepClock(time.Second)),
		memory.WithIDGenerator(ir.NewSequenceGenerator("id")),
		memory.WithEmbedder(embed.NewHashEmbedder(32)),
		memory.WithLogger(quietLogger),
	)
}

// newTestEngine returns an engine with deterministic run ids and clock.
// The executor uses a recording notifier.
func newTestEngine(t *testing.T, opts ...Option) (*Engine, *memory.Memory, *recordingNotifier) {
	t.Helper()
	mem := newTestMemory(t)
	notes := &recordingNotifier{}
	exec := NewExecutor(mem, WithExecutorLogger(quietLogger), WithNotifier(notes))
	base := []Option{
		WithExecutor(exec),
		WithLogger(quietLogger),
		WithClock(testutil.NewStepClock(time.Second)),
		WithIDGenerator(ir.NewSequenceGenerator("run")),
	}
	return NewEngine(mem, append(base, opts...)...), mem, notes
}

func entityEvent(id string, op ir.MutationOp, entities ...ir.Entity) ir.Event {
	ev := ir.Event{ID: id, CreatedAt: testutil.Epoch}
	for _, e := range entities {
		ev.Payload = append(ev.Payload, ir.EntityMutation(op, e))
	}
	return ev
}

func mustRegister(t *testing.T, e *Engine, wf ir.Workflow) ir.Workflow {
	t.Helper()
	got, err := e.Register(context.Background(), wf)
	if err != nil {
		t.Fatalf("Register(%s) failed: %v", wf.ID, err)
	}
	return got
}

type notification struct {
	Channel string
	Message string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notification
}

func (n *recordingNotifier) Notify(_ context.Context, channel, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification{Channel: channel, Message: message})
	return nil
}

func (n *recordingNotifier) Sent() []notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notification(nil), n.sent...)
}
