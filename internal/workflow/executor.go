package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/roach88/mnemo/internal/ir"
	"github.com/roach88/mnemo/internal/memory"
)

// Default action timeouts.
const (
	DefaultShellTimeout = 30 * time.Second
	DefaultHTTPTimeout  = 30 * time.Second
)

// ActionFunc runs one action with template-resolved params. rc is the run
// context. The returned value is exposed to later actions as
// results.<index>.
type ActionFunc func(ctx context.Context, params map[string]any, rc map[string]any) (any, error)

// Notifier delivers notify messages for a channel.
type Notifier interface {
	Notify(ctx context.Context, channel, message string) error
}

// Executor runs workflow actions. Built-in actions are registered by
// NewExecutor; Register adds or replaces handlers.
type Executor struct {
	mem          *memory.Memory
	logger       *slog.Logger
	resolver     *Resolver
	notifier     Notifier
	httpClient   *http.Client
	shellTimeout time.Duration
	httpTimeout  time.Duration

	mu       sync.RWMutex
	handlers map[string]ActionFunc
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithExecutorLogger sets the logger. Default: slog.Default().
func WithExecutorLogger(l *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithNotifier replaces the log-based notifier.
func WithNotifier(n Notifier) ExecutorOption {
	return func(e *Executor) {
		if n != nil {
			e.notifier = n
		}
	}
}

// WithHTTPClient sets the client for http_request.
func WithHTTPClient(c *http.Client) ExecutorOption {
	return func(e *Executor) {
		if c != nil {
			e.httpClient = c
		}
	}
}

// WithShellTimeout sets the default run_shell timeout.
func WithShellTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		if d > 0 {
			e.shellTimeout = d
		}
	}
}

// WithHTTPTimeout sets the default http_request timeout.
func WithHTTPTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		if d > 0 {
			e.httpTimeout = d
		}
	}
}

// NewExecutor creates an Executor with the built-in actions.
func NewExecutor(mem *memory.Memory, opts ...ExecutorOption) *Executor {
	e := &Executor{
		mem:          mem,
		logger:       slog.Default(),
		httpClient:   &http.Client{},
		shellTimeout: DefaultShellTimeout,
		httpTimeout:  DefaultHTTPTimeout,
		handlers:     map[string]ActionFunc{},
	}
	for _, opt := range opts {
		opt(e)
	}
	e.resolver = NewResolver(e.logger)
	if e.notifier == nil {
		e.notifier = logNotifier{logger: e.logger}
	}

	e.handlers[ir.ActionCreateTask] = e.createTask
	e.handlers[ir.ActionUpdateEntity] = e.updateEntity
	e.handlers[ir.ActionSaveRelation] = e.saveRelation
	e.handlers[ir.ActionNotify] = e.notify
	e.handlers[ir.ActionRunShell] = e.runShell
	e.handlers[ir.ActionHTTPRequest] = e.httpRequest
	return e
}

// Register adds or replaces the handler for an action type.
func (e *Executor) Register(actionType string, fn ActionFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[actionType] = fn
}

// Types returns the registered action types, sorted.
func (e *Executor) Types() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	types := make([]string, 0, len(e.handlers))
	for t := range e.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Resolver returns the template resolver used for params and conditions.
func (e *Executor) Resolver() *Resolver { return e.resolver }

// Execute resolves the action's params against rc and runs its handler.
func (e *Executor) Execute(ctx context.Context, action ir.Action, rc map[string]any) (any, error) {
	e.mu.RLock()
	fn, ok := e.handlers[action.Type]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAction, action.Type)
	}
	params := e.resolver.ResolveParams(action.Params, rc)
	return fn(ctx, params, rc)
}

// actionTimeout reads an optional "timeout" param: a Go duration string
// ("5s") or a number of seconds.
func actionTimeout(params map[string]any, def time.Duration) (time.Duration, error) {
	raw, ok := params["timeout"]
	if !ok || raw == nil || raw == "" {
		return def, nil
	}
	switch v := normalize(raw).(type) {
	case float64:
		if v <= 0 {
			return 0, fmt.Errorf("timeout must be positive")
		}
		return time.Duration(v * float64(time.Second)), nil
	case string:
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d, nil
		}
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			return time.Duration(f * float64(time.Second)), nil
		}
		return 0, fmt.Errorf("invalid timeout %q", v)
	default:
		return 0, fmt.Errorf("invalid timeout %v", raw)
	}
}

func paramString(params map[string]any, key string) string {
	v, ok := params[key]
	if !ok {
		return ""
	}
	return Stringify(v)
}

func paramMap(params map[string]any, key string) map[string]any {
	m, _ := params[key].(map[string]any)
	return m
}

func paramStrings(v any) []string {
	switch x := normalize(v).(type) {
	case []any:
		out := make([]string, 0, len(x))
		for _, item := range x {
			out = append(out, Stringify(item))
		}
		return out
	case string:
		if x == "" {
			return nil
		}
		return []string{x}
	default:
		return nil
	}
}

func paramFloat(params map[string]any, key string, def float64) (float64, error) {
	raw, ok := params[key]
	if !ok || raw == nil || raw == "" {
		return def, nil
	}
	switch v := normalize(raw).(type) {
	case float64:
		return v, nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("%s: invalid number %q", key, v)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("%s: invalid number %v", key, raw)
	}
}
