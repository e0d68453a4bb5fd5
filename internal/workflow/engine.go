package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/roach88/mnemo/internal/ir"
	"github.com/roach88/mnemo/internal/memory"
)

// DefaultWorkers bounds concurrent runs across workflows.
const DefaultWorkers = 4

// Engine matches committed mutations against registered workflows and runs
// the matching ones.
//
// A workflow id runs at most once at a time: an event matching a workflow
// that is already running is dropped, not queued. Different workflows run
// concurrently, bounded by the worker count. Every run ends in a persisted
// WorkflowRun record, completed or failed.
type Engine struct {
	mem    *memory.Memory
	exec   *Executor
	logger *slog.Logger
	clock  ir.Clock
	ids    ir.IDGenerator
	sem    *semaphore.Weighted

	mu        sync.Mutex
	workflows map[string]ir.Workflow
	running   map[string]struct{}

	wg sync.WaitGroup
}

type engineOptions struct {
	workers int
	exec    *Executor
	logger  *slog.Logger
	clock   ir.Clock
	ids     ir.IDGenerator
}

// Option configures an Engine.
type Option func(*engineOptions)

// WithWorkers bounds concurrent runs. Values <= 0 are ignored.
func WithWorkers(n int) Option {
	return func(o *engineOptions) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithExecutor replaces the default Executor.
func WithExecutor(e *Executor) Option {
	return func(o *engineOptions) { o.exec = e }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *engineOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithClock overrides the clock used for run and workflow timestamps.
func WithClock(c ir.Clock) Option {
	return func(o *engineOptions) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithIDGenerator overrides the run id generator.
func WithIDGenerator(g ir.IDGenerator) Option {
	return func(o *engineOptions) {
		if g != nil {
			o.ids = g
		}
	}
}

// NewEngine creates an Engine that persists through mem.
func NewEngine(mem *memory.Memory, opts ...Option) *Engine {
	o := engineOptions{
		workers: DefaultWorkers,
		logger:  slog.Default(),
		clock:   ir.SystemClock{},
		ids:     ir.UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.exec == nil {
		o.exec = NewExecutor(mem, WithExecutorLogger(o.logger))
	}
	return &Engine{
		mem:       mem,
		exec:      o.exec,
		logger:    o.logger,
		clock:     o.clock,
		ids:       o.ids,
		sem:       semaphore.NewWeighted(int64(o.workers)),
		workflows: map[string]ir.Workflow{},
		running:   map[string]struct{}{},
	}
}

// Executor returns the engine's action executor.
func (e *Engine) Executor() *Executor { return e.exec }

// Register validates and persists wf, then makes it visible to matching.
// Registering an existing id replaces it in place and keeps its created_at.
// If persisting fails the active set is unchanged.
func (e *Engine) Register(ctx context.Context, wf ir.Workflow) (ir.Workflow, error) {
	if err := wf.Validate(); err != nil {
		return ir.Workflow{}, fmt.Errorf("%w %q: %w", ErrInvalid, wf.ID, err)
	}

	now := e.clock.Now().UTC()
	e.mu.Lock()
	prior, exists := e.workflows[wf.ID]
	e.mu.Unlock()
	switch {
	case exists:
		wf.CreatedAt = prior.CreatedAt
	case wf.CreatedAt.IsZero():
		wf.CreatedAt = now
	}
	wf.UpdatedAt = now

	if err := e.persistWorkflow(ctx, wf); err != nil {
		return ir.Workflow{}, fmt.Errorf("register workflow %s: %w", wf.ID, err)
	}

	e.mu.Lock()
	e.workflows[wf.ID] = wf
	e.mu.Unlock()

	e.logger.Info("registered workflow", "workflow_id", wf.ID, "name", wf.Name, "enabled", wf.Enabled)
	return wf, nil
}

// Get returns a registered workflow.
func (e *Engine) Get(id string) (ir.Workflow, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	wf, ok := e.workflows[id]
	return wf, ok
}

// List returns registered workflows sorted by id.
func (e *Engine) List() []ir.Workflow {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sortedLocked()
}

func (e *Engine) sortedLocked() []ir.Workflow {
	out := make([]ir.Workflow, 0, len(e.workflows))
	for _, wf := range e.workflows {
		out = append(out, wf)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Delete unregisters a workflow and removes its persisted definition.
// Past runs are kept.
func (e *Engine) Delete(ctx context.Context, id string) error {
	if _, ok := e.Get(id); !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if _, err := e.mem.DeleteEntity(ctx, workflowEntityID(id)); err != nil {
		return fmt.Errorf("delete workflow %s: %w", id, err)
	}
	e.mu.Lock()
	delete(e.workflows, id)
	e.mu.Unlock()
	e.logger.Info("deleted workflow", "workflow_id", id)
	return nil
}

// Pause disables a workflow. Runs already in progress finish.
func (e *Engine) Pause(ctx context.Context, id string) (ir.Workflow, error) {
	return e.setEnabled(ctx, id, false)
}

// Resume enables a paused workflow.
func (e *Engine) Resume(ctx context.Context, id string) (ir.Workflow, error) {
	return e.setEnabled(ctx, id, true)
}

func (e *Engine) setEnabled(ctx context.Context, id string, enabled bool) (ir.Workflow, error) {
	wf, ok := e.Get(id)
	if !ok {
		return ir.Workflow{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	wf.Enabled = enabled
	return e.Register(ctx, wf)
}

// LoadPersisted registers every stored workflow definition. Definitions
// that fail to decode are logged and skipped. Returns the number loaded.
func (e *Engine) LoadPersisted(ctx context.Context) (int, error) {
	stored, err := e.loadWorkflows(ctx)
	if err != nil {
		return 0, err
	}
	e.mu.Lock()
	for _, wf := range stored {
		e.workflows[wf.ID] = wf
	}
	e.mu.Unlock()
	e.logger.Info("loaded persisted workflows", "count", len(stored))
	return len(stored), nil
}

// HandleEvent starts a run for every enabled workflow whose trigger matches
// a payload of ev. Each workflow fires at most once per event, for the
// first matching payload. It blocks only while waiting for a free worker.
func (e *Engine) HandleEvent(ctx context.Context, ev ir.Event) error {
	e.mu.Lock()
	candidates := e.sortedLocked()
	e.mu.Unlock()

	for _, wf := range candidates {
		if !wf.Enabled {
			continue
		}
		matched, ok := FirstMatch(wf.Trigger, filterRunPayloads(ev))
		if !ok {
			continue
		}
		if !e.admit(wf.ID) {
			e.logger.Info("skipping already running workflow",
				"workflow_id", wf.ID,
				"event_id", ev.ID)
			continue
		}
		if err := e.sem.Acquire(ctx, 1); err != nil {
			e.release(wf.ID)
			return fmt.Errorf("schedule workflow %s: %w", wf.ID, err)
		}

		e.wg.Add(1)
		go func(wf ir.Workflow, matched ir.MutationPayload) {
			defer e.wg.Done()
			defer e.sem.Release(1)
			defer e.release(wf.ID)
			e.run(ctx, wf, ev, matched)
		}(wf, matched)
	}
	return nil
}

// admit adds id to the running set unless it is already there.
func (e *Engine) admit(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.running[id]; busy {
		return false
	}
	e.running[id] = struct{}{}
	return true
}

func (e *Engine) release(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.running, id)
}

// Running reports whether a run of id is in progress.
func (e *Engine) Running(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.running[id]
	return ok
}

// Wait blocks until every started run has finished.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// filterRunPayloads drops run records so a run's own persistence cannot
// trigger workflows.
func filterRunPayloads(ev ir.Event) ir.Event {
	kept := ev.Payload[:0:0]
	for _, p := range ev.Payload {
		if p.Kind == ir.KindEntity && p.Entity != nil && p.Entity.Type == ir.EntityWorkflowRun {
			continue
		}
		kept = append(kept, p)
	}
	ev.Payload = kept
	return ev
}

// run executes wf's actions in order for one event. The first failing action
// ends the run; the run record is persisted whatever the outcome.
func (e *Engine) run(ctx context.Context, wf ir.Workflow, ev ir.Event, matched ir.MutationPayload) {
	run := ir.WorkflowRun{
		ID:         e.ids.Generate(),
		WorkflowID: wf.ID,
		EventID:    ev.ID,
		Status:     ir.RunRunning,
		StartedAt:  e.clock.Now().UTC(),
		Logs:       []string{},
	}
	logger := e.logger.With("workflow_id", wf.ID, "run_id", run.ID, "event_id", ev.ID)
	logger.Info("starting workflow run")

	defer func() {
		if r := recover(); r != nil {
			e.finish(&run, fmt.Errorf("panic: %v", r))
		}
		persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := e.persistRun(persistCtx, run); err != nil {
			logger.Error("failed to persist workflow run", "error", err)
		}
		logger.Info("workflow run finished", "status", run.Status, "error", run.Error)
	}()

	run.Logs = append(run.Logs, fmt.Sprintf("Starting workflow execution for event %s", ev.ID))
	rc := buildRunContext(wf, ev, matched)
	results := []any{}

	for i, action := range wf.Actions {
		idx := i + 1
		rc["results"] = results

		if action.Condition != "" {
			ok, err := EvaluateCondition(action.Condition, rc, e.exec.Resolver())
			if err != nil {
				aerr := &ActionError{Index: idx, Type: action.Type, Err: err}
				run.Logs = append(run.Logs, fmt.Sprintf("Action %d failed: %v", idx, err))
				e.finish(&run, aerr)
				return
			}
			if !ok {
				run.Logs = append(run.Logs, fmt.Sprintf("Skipping action %d: condition false", idx))
				logger.Info("skipping action: condition false", "action", idx, "type", action.Type)
				results = append(results, nil)
				continue
			}
		}

		run.Logs = append(run.Logs, fmt.Sprintf("Executing action %d: %s", idx, action.Type))
		out, err := e.exec.Execute(ctx, action, rc)
		if err != nil {
			aerr := &ActionError{Index: idx, Type: action.Type, Err: err}
			line := fmt.Sprintf("Action %d failed: %v", idx, err)
			if summary := summarizeOutput(out); summary != "" {
				line += " (output: " + summary + ")"
			}
			run.Logs = append(run.Logs, line)
			logger.Warn("action failed", "action", idx, "type", action.Type, "error", err, "output", summarizeOutput(out))
			e.finish(&run, aerr)
			return
		}
		results = append(results, out)
		run.Logs = append(run.Logs, fmt.Sprintf("Action %d completed successfully", idx))
	}

	e.finish(&run, nil)
}

// finish moves run to its terminal state once.
func (e *Engine) finish(run *ir.WorkflowRun, err error) {
	if run.Status.Terminal() {
		return
	}
	completed := e.clock.Now().UTC()
	run.CompletedAt = &completed
	if err != nil {
		run.Status = ir.RunFailed
		run.Error = err.Error()
		run.Logs = append(run.Logs, fmt.Sprintf("Workflow execution failed: %v", err))
		return
	}
	run.Status = ir.RunCompleted
	run.Logs = append(run.Logs, "Workflow execution completed successfully")
}

// buildRunContext is the data templates and conditions resolve against:
// event, workflow, entities (every payload), entity (the matching payload),
// timestamp, and results of earlier actions.
func buildRunContext(wf ir.Workflow, ev ir.Event, matched ir.MutationPayload) map[string]any {
	entities := make([]any, len(ev.Payload))
	for i, p := range ev.Payload {
		entities[i] = p.Fields()
	}
	ts := ir.FormatTime(ev.CreatedAt)
	return map[string]any{
		"event": map[string]any{
			"id":         ev.ID,
			"created_at": ts,
			"payload":    entities,
		},
		"workflow": map[string]any{
			"id":          wf.ID,
			"name":        wf.Name,
			"description": wf.Description,
			"enabled":     wf.Enabled,
		},
		"entities":  entities,
		"entity":    matched.Fields(),
		"timestamp": ts,
	}
}

// maxSummaryValue caps each value in a failed action's output summary.
const maxSummaryValue = 200

// summarizeOutput renders what a failed action returned as sorted key=value
// pairs on one line. Empty values are omitted.
func summarizeOutput(out any) string {
	if out == nil {
		return ""
	}
	m, ok := out.(map[string]any)
	if !ok {
		return clip(strings.Join(strings.Fields(Stringify(out)), " "), maxSummaryValue)
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v := strings.Join(strings.Fields(Stringify(m[k])), " ")
		if v == "" {
			continue
		}
		parts = append(parts, k+"="+clip(v, maxSummaryValue))
	}
	return strings.Join(parts, " ")
}
