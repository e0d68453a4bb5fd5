package memory

import (
	"context"
	"log/slog"
	"time"

	"github.com/roach88/mnemo/internal/embed"
	"github.com/roach88/mnemo/internal/ir"
	"github.com/roach88/mnemo/internal/store"
)

// Publisher receives committed mutations.
// dispatch.Dispatcher is the production implementation.
type Publisher interface {
	Publish(ctx context.Context, ev ir.Event) error
}

// Memory is the MemoryStore. Safe for concurrent use; every call checks out
// its own connection from the store pool.
type Memory struct {
	db         *store.Store
	embedder   embed.Embedder
	extractor  Extractor
	publisher  Publisher
	logger     *slog.Logger
	clock      ir.Clock
	ids        ir.IDGenerator
	lexicalCap float64
}

// Option configures a Memory.
type Option func(*Memory)

// WithEmbedder enables vector indexing and the vector half of hybrid search.
// A nil embedder leaves search lexical-only.
func WithEmbedder(e embed.Embedder) Option {
	return func(m *Memory) { m.embedder = e }
}

// WithExtractor enables extraction on SaveContext.
func WithExtractor(x Extractor) Option {
	return func(m *Memory) { m.extractor = x }
}

// WithPublisher sets the receiver of committed mutations.
func WithPublisher(p Publisher) Option {
	return func(m *Memory) { m.publisher = p }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(m *Memory) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithClock overrides the clock used for timestamps.
func WithClock(c ir.Clock) Option {
	return func(m *Memory) {
		if c != nil {
			m.clock = c
		}
	}
}

// WithIDGenerator overrides the id generator for new records and events.
func WithIDGenerator(g ir.IDGenerator) Option {
	return func(m *Memory) {
		if g != nil {
			m.ids = g
		}
	}
}

// WithLexicalCap sets the lexical relevance at which the lexical half of the
// hybrid score saturates. Values <= 0 are ignored.
func WithLexicalCap(c float64) Option {
	return func(m *Memory) {
		if c > 0 {
			m.lexicalCap = c
		}
	}
}

// New creates a Memory over an open store.
func New(db *store.Store, opts ...Option) *Memory {
	m := &Memory{
		db:         db,
		logger:     slog.Default(),
		clock:      ir.SystemClock{},
		ids:        ir.UUIDv7Generator{},
		lexicalCap: LexicalCap,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Store returns the underlying store.
func (m *Memory) Store() *store.Store { return m.db }

// NewID returns a fresh id from the configured generator.
func (m *Memory) NewID() string { return m.ids.Generate() }

// Now returns the configured clock's time.
func (m *Memory) Now() time.Time { return m.clock.Now().UTC() }

// publish hands payloads to the publisher after commit. Failures are logged;
// the write has already succeeded.
func (m *Memory) publish(ctx context.Context, payloads ...ir.MutationPayload) {
	if m.publisher == nil || len(payloads) == 0 {
		return
	}
	ev := ir.Event{
		ID:        m.ids.Generate(),
		Payload:   payloads,
		CreatedAt: m.Now(),
	}
	if err := m.publisher.Publish(ctx, ev); err != nil {
		m.logger.Warn("failed to publish mutation event",
			"event_id", ev.ID,
			"payload_id", payloads[0].ID(),
			"error", err)
	}
}

// embedText returns the embedding for text, or nil when no embedder is set or
// embedding fails. Failures are logged; the write proceeds without a vector.
func (m *Memory) embedText(ctx context.Context, kind, id, text string) []float32 {
	if m.embedder == nil || text == "" {
		return nil
	}
	vec, err := m.embedder.Embed(ctx, text)
	if err != nil {
		m.logger.Warn("embedding failed, record saved without vector",
			"kind", kind,
			"id", id,
			"embedder", m.embedder.Name(),
			"error", err)
		return nil
	}
	return vec
}
