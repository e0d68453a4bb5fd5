package memory

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/roach88/mnemo/internal/embed"
	"github.com/roach88/mnemo/internal/ir"
	"github.com/roach88/mnemo/internal/testutil"
)

// newTestMemory opens a temp store with deterministic ids and clock.
func newTestMemory(t *testing.T, opts ...Option) (*Memory, *testutil.EventRecorder) {
	t.Helper()
	rec := &testutil.EventRecorder{}
	base := []Option{
		WithPublisher(rec),
		WithClock(testutil.NewStepClock(time.Second)),
		WithIDGenerator(ir.NewSequenceGenerator("id")),
		WithEmbedder(embed.NewHashEmbedder(64)),
	}
	return New(testutil.OpenStore(t), append(base, opts...)...), rec
}

func mustSaveEntity(t *testing.T, m *Memory, typ ir.EntityType, name, content string) ir.Entity {
	t.Helper()
	e, err := m.SaveEntity(context.Background(), ir.Entity{Type: typ, Name: name, Content: content})
	if err != nil {
		t.Fatalf("SaveEntity(%q) failed: %v", name, err)
	}
	return e
}

// countingEmbedder wraps an embedder and counts calls. Texts containing
// failOn return an error.
type countingEmbedder struct {
	mu     sync.Mutex
	inner  embed.Embedder
	calls  int
	failOn string
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	if c.failOn != "" && strings.Contains(text, c.failOn) {
		return nil, errors.New("embedding backend unavailable")
	}
	return c.inner.Embed(ctx, text)
}

func (c *countingEmbedder) Dimensions() int { return c.inner.Dimensions() }
func (c *countingEmbedder) Name() string    { return c.inner.Name() }

func (c *countingEmbedder) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// stubExtractor returns a canned result and counts calls.
type stubExtractor struct {
	mu     sync.Mutex
	result ExtractionResult
	err    error
	calls  int
}

func (s *stubExtractor) Extract(_ context.Context, _ string) (ExtractionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.result, s.err
}

func (s *stubExtractor) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
