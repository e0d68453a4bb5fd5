package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/mnemo/internal/compiler"
	"github.com/roach88/mnemo/internal/embed"
	"github.com/roach88/mnemo/internal/ir"
	"github.com/roach88/mnemo/internal/memory"
	"github.com/roach88/mnemo/internal/store"
	"github.com/roach88/mnemo/internal/testutil"
	"github.com/roach88/mnemo/internal/workflow"
)

// maxEvents bounds the events one step may cause, so a workflow that keeps
// re-triggering itself fails the scenario instead of hanging it.
const maxEvents = 1000

// Harness executes one scenario against its own in-memory store.
type Harness struct {
	mem     *memory.Memory
	engine  *workflow.Engine
	events  *testutil.EventRecorder
	result  *Result
	tracing bool
}

// Run executes a scenario and returns its result.
//
// Execution flow:
//  1. Open a fresh in-memory store and wire memory and engine to it
//  2. Register the scenario's workflows
//  3. Apply setup steps, delivering their events untraced
//  4. Apply flow steps, tracing each step and the events it causes
//  5. Collect runs and evaluate assertions
//
// The returned error covers broken scenarios (bad workflows, failing setup).
// Failed expectations and assertions are reported in Result.Errors.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h := newHarness(st)

	if err := h.registerWorkflows(ctx, scenario); err != nil {
		return nil, err
	}
	// Registration events describe workflow records, not scenario activity.
	h.events.Reset()

	for i, step := range scenario.Setup {
		if _, err := h.apply(ctx, step); err != nil {
			return nil, fmt.Errorf("setup[%d] %s: %w", i, step.Op, err)
		}
		h.drain(ctx)
	}

	h.tracing = true
	for i, step := range scenario.Flow {
		id, err := h.apply(ctx, step)
		class := errorClass(err)
		if err != nil {
			id = ""
		}
		h.result.addOp(step.Op, step.Args, id, class)
		h.checkExpect(i, step, err, class)
		h.drain(ctx)
	}

	runs, err := h.engine.Runs(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to read runs: %w", err)
	}
	for i := len(runs) - 1; i >= 0; i-- {
		r := runs[i]
		h.result.Runs = append(h.result.Runs, RunSummary{
			ID:         r.ID,
			WorkflowID: r.WorkflowID,
			EventID:    r.EventID,
			Status:     string(r.Status),
			Error:      r.Error,
		})
	}

	actx := &AssertionContext{Ctx: ctx, Memory: h.mem}
	for _, msg := range EvaluateAssertions(h.result, scenario.Assertions, actx) {
		h.result.AddError(msg)
	}
	return h.result, nil
}

func newHarness(st *store.Store) *Harness {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	events := &testutil.EventRecorder{}
	mem := memory.New(st,
		memory.WithPublisher(events),
		memory.WithEmbedder(embed.NewHashEmbedder(embed.DefaultHashDimensions)),
		memory.WithClock(testutil.NewStepClock(time.Second)),
		memory.WithIDGenerator(ir.NewSequenceGenerator("id")),
		memory.WithLogger(logger),
	)
	eng := workflow.NewEngine(mem,
		workflow.WithWorkers(1),
		workflow.WithClock(testutil.NewStepClock(time.Second)),
		workflow.WithIDGenerator(ir.NewSequenceGenerator("run")),
		workflow.WithLogger(logger),
	)
	return &Harness{
		mem:    mem,
		engine: eng,
		events: events,
		result: NewResult(),
	}
}

func (h *Harness) registerWorkflows(ctx context.Context, scenario *Scenario) error {
	var wfs []ir.Workflow
	for i, doc := range scenario.Workflows {
		wf, err := doc.Workflow()
		if err != nil {
			return fmt.Errorf("workflows[%d]: %w", i, err)
		}
		wfs = append(wfs, wf)
	}
	for _, path := range scenario.WorkflowFiles {
		loaded, err := compiler.LoadFile(path)
		if err != nil {
			return err
		}
		wfs = append(wfs, loaded...)
	}
	for _, wf := range wfs {
		if _, err := h.engine.Register(ctx, wf); err != nil {
			return fmt.Errorf("failed to register workflow: %w", err)
		}
	}
	return nil
}

// drain delivers queued events to the engine one at a time, waiting for the
// runs each event starts. Events published by those runs are delivered in
// the same way until the queue is empty.
func (h *Harness) drain(ctx context.Context) {
	delivered := 0
	for {
		events := h.events.Events()
		if len(events) == 0 {
			return
		}
		h.events.Reset()
		for _, ev := range events {
			if delivered == maxEvents {
				h.result.AddError(fmt.Sprintf("event limit of %d reached; a workflow may be re-triggering itself", maxEvents))
				return
			}
			delivered++
			if h.tracing {
				h.result.addEvent(ev)
			}
			if err := h.engine.HandleEvent(ctx, ev); err != nil {
				h.result.AddError(fmt.Sprintf("event %s: %v", ev.ID, err))
			}
			h.engine.Wait()
		}
	}
}

func (h *Harness) checkExpect(index int, step Step, err error, class string) {
	switch {
	case step.Expect == nil && err != nil:
		h.result.AddError(fmt.Sprintf("flow[%d] %s: unexpected error: %v", index, step.Op, err))
	case step.Expect != nil && err == nil:
		h.result.AddError(fmt.Sprintf("flow[%d] %s: expected %s error, got success", index, step.Op, step.Expect.Error))
	case step.Expect != nil && class != step.Expect.Error:
		h.result.AddError(fmt.Sprintf("flow[%d] %s: expected %s error, got %s: %v", index, step.Op, step.Expect.Error, class, err))
	}
}

// apply performs one step and returns the id of the record it wrote.
func (h *Harness) apply(ctx context.Context, step Step) (string, error) {
	switch step.Op {
	case OpSaveEntity:
		var e ir.Entity
		if err := decodeArgs(step.Args, &e); err != nil {
			return "", err
		}
		saved, err := h.mem.SaveEntity(ctx, e)
		return saved.ID, err

	case OpUpdateEntity:
		e, err := h.mem.GetEntity(ctx, argString(step.Args, "id"))
		if err != nil {
			return "", err
		}
		if err := decodeArgs(step.Args, &e); err != nil {
			return "", err
		}
		updated, err := h.mem.UpdateEntity(ctx, e)
		return updated.ID, err

	case OpDeleteEntity:
		id := argString(step.Args, "id")
		deleted, err := h.mem.DeleteEntity(ctx, id)
		if !deleted {
			id = ""
		}
		return id, err

	case OpSaveRelation:
		var r ir.Relation
		if err := decodeArgs(step.Args, &r); err != nil {
			return "", err
		}
		if _, ok := step.Args["strength"]; !ok {
			r.Strength = 1
		}
		saved, err := h.mem.SaveRelation(ctx, r)
		return saved.ID, err

	case OpDeleteRelation:
		id := argString(step.Args, "id")
		return id, h.mem.DeleteRelation(ctx, id)

	case OpSaveContext:
		var c ir.Context
		if err := decodeArgs(step.Args, &c); err != nil {
			return "", err
		}
		saved, err := h.mem.SaveContext(ctx, c)
		return saved.ID, err

	case OpUpdateContext:
		c, err := h.mem.GetContext(ctx, argString(step.Args, "id"))
		if err != nil {
			return "", err
		}
		if err := decodeArgs(step.Args, &c); err != nil {
			return "", err
		}
		updated, err := h.mem.UpdateContext(ctx, c)
		return updated.ID, err

	default:
		return "", fmt.Errorf("unknown op %q", step.Op)
	}
}

// decodeArgs overlays args onto v using the record's JSON field names.
// Existing metadata maps are merged key by key.
func decodeArgs(args map[string]any, v any) error {
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode args: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode args: %w", err)
	}
	return nil
}

func argString(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func errorClass(err error) string {
	switch {
	case err == nil:
		return ""
	case memory.IsNotFound(err):
		return ErrClassNotFound
	case memory.IsValidation(err):
		return ErrClassValidation
	case memory.IsPersistence(err):
		return ErrClassPersistence
	default:
		return ErrClassOther
	}
}
