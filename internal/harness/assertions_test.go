package harness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/mnemo/internal/ir"
	"github.com/roach88/mnemo/internal/memory"
	"github.com/roach88/mnemo/internal/testutil"
)

func sampleTrace() []TraceEntry {
	r := NewResult()
	r.addOp(OpSaveEntity, map[string]any{"type": "note", "name": "n"}, "note-1", "")
	r.addEvent(ir.Event{ID: "id-2", Payload: []ir.MutationPayload{
		ir.EntityMutation(ir.OpCreated, ir.Entity{ID: "note-1", Type: ir.EntityNote, Name: "n"}),
	}})
	r.addEvent(ir.Event{ID: "id-4", Payload: []ir.MutationPayload{
		ir.EntityMutation(ir.OpCreated, ir.Entity{ID: "id-3", Type: ir.EntityTask, Name: "t"}),
	}})
	r.addOp(OpSaveRelation, map[string]any{"source_id": "a"}, "", ErrClassNotFound)
	return r.Trace
}

func TestAssertTraceContains(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertTraceContains(trace, Assertion{Label: OpSaveEntity}))
	assert.NoError(t, assertTraceContains(trace, Assertion{Label: OpSaveEntity, Args: map[string]any{"type": "note"}}))
	assert.NoError(t, assertTraceContains(trace, Assertion{Label: "entity.created.task"}))

	err := assertTraceContains(trace, Assertion{Label: OpSaveEntity, Args: map[string]any{"type": "person"}})
	require.Error(t, err)
	var aerr *AssertionError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, AssertTraceContains, aerr.Type)
	assert.Equal(t, "not found in trace", aerr.Actual)
	assert.Contains(t, err.Error(), "Full trace:")
	assert.Contains(t, err.Error(), "2 event id-2 entity.created.note note-1")
}

func TestAssertTraceOrder(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertTraceOrder(trace, Assertion{Labels: []string{
		OpSaveEntity, "entity.created.note", "entity.created.task", OpSaveRelation,
	}}))

	err := assertTraceOrder(trace, Assertion{Labels: []string{"entity.created.task", "entity.created.note"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "entity.created.task (pos 3) should be before entity.created.note (pos 2)")

	err = assertTraceOrder(trace, Assertion{Labels: []string{OpSaveEntity, OpDeleteEntity}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing label: delete_entity")
}

func TestAssertTraceCount(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertTraceCount(trace, Assertion{Label: OpSaveEntity, Count: 1}))
	assert.NoError(t, assertTraceCount(trace, Assertion{Label: "relation.created.mentions", Count: 0}))

	err := assertTraceCount(trace, Assertion{Label: "entity.created.task", Count: 2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 occurrences of entity.created.task")
	assert.Contains(t, err.Error(), "Actual: 1 occurrences")
}

func TestAssertRunCount(t *testing.T) {
	runs := []RunSummary{
		{ID: "run-1", WorkflowID: "a", Status: "completed"},
		{ID: "run-2", WorkflowID: "a", Status: "failed"},
		{ID: "run-3", WorkflowID: "b", Status: "completed"},
	}

	assert.NoError(t, assertRunCount(runs, Assertion{Count: 3}))
	assert.NoError(t, assertRunCount(runs, Assertion{Workflow: "a", Count: 2}))
	assert.NoError(t, assertRunCount(runs, Assertion{Status: "completed", Count: 2}))
	assert.NoError(t, assertRunCount(runs, Assertion{Workflow: "b", Status: "failed", Count: 0}))

	err := assertRunCount(runs, Assertion{Workflow: "a", Status: "failed", Count: 2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 runs of a with status failed")
}

func TestAssertFinalState(t *testing.T) {
	ctx := context.Background()
	mem := memory.New(testutil.OpenStore(t))

	_, err := mem.SaveEntity(ctx, ir.Entity{
		ID: "task-1", Type: ir.EntityTask, Name: "Ship it",
		Tags:     []string{"release"},
		Metadata: map[string]any{"priority": "high", "estimate": 3, "owner": map[string]any{"name": "Ada"}},
	})
	require.NoError(t, err)
	_, err = mem.SaveEntity(ctx, ir.Entity{ID: "task-2", Type: ir.EntityTask, Name: "Test it"})
	require.NoError(t, err)
	_, err = mem.SaveRelation(ctx, ir.Relation{ID: "rel-1", SourceID: "task-2", TargetID: "task-1", RelationType: ir.RelDependsOn, Strength: 0.25})
	require.NoError(t, err)

	tests := []struct {
		name      string
		assertion Assertion
		errMsg    string
	}{
		{
			name: "match",
			assertion: Assertion{Table: TableEntities, Where: map[string]any{"id": "task-1"}, Expect: map[string]any{
				"name":                "Ship it",
				"tags":                []any{"release"},
				"metadata.priority":   "high",
				"metadata.estimate":   3,
				"metadata.owner.name": "Ada",
			}},
		},
		{
			name: "nested map subset",
			assertion: Assertion{Table: TableEntities, Where: map[string]any{"id": "task-1"}, Expect: map[string]any{
				"metadata": map[string]any{"priority": "high"},
			}},
		},
		{
			name: "relations",
			assertion: Assertion{Table: TableRelations, Where: map[string]any{"source_id": "task-2"}, Expect: map[string]any{
				"relation_type": "depends_on",
				"strength":      0.25,
			}},
		},
		{
			name:      "no row",
			assertion: Assertion{Table: TableEntities, Where: map[string]any{"id": "task-9"}, Expect: map[string]any{"name": "x"}},
			errMsg:    "row not found",
		},
		{
			name:      "ambiguous",
			assertion: Assertion{Table: TableEntities, Where: map[string]any{"type": "task"}, Expect: map[string]any{"name": "x"}},
			errMsg:    "2 rows matched (assertion is ambiguous)",
		},
		{
			name:      "missing field",
			assertion: Assertion{Table: TableEntities, Where: map[string]any{"id": "task-2"}, Expect: map[string]any{"metadata.priority": "high"}},
			errMsg:    `field "metadata.priority" not present`,
		},
		{
			name:      "wrong value",
			assertion: Assertion{Table: TableEntities, Where: map[string]any{"id": "task-1"}, Expect: map[string]any{"metadata.estimate": 5}},
			errMsg:    `field "metadata.estimate" = 5 (type int)`,
		},
		{
			name:      "empty contexts",
			assertion: Assertion{Table: TableContexts, Expect: map[string]any{"content": "x"}},
			errMsg:    "row not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := assertFinalState(ctx, mem, tt.assertion)
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestStateValuesEqual(t *testing.T) {
	assert.True(t, stateValuesEqual(nil, nil))
	assert.False(t, stateValuesEqual(nil, "x"))
	assert.True(t, stateValuesEqual(1, 1.0))
	assert.True(t, stateValuesEqual(int64(2), 2))
	assert.False(t, stateValuesEqual(1, "1"))
	assert.True(t, stateValuesEqual([]any{"a", 1}, []any{"a", 1.0}))
	assert.False(t, stateValuesEqual([]any{"a"}, []any{"a", "b"}))
	assert.True(t, stateValuesEqual(map[string]any{"a": 1}, map[string]any{"a": 1.0, "b": 2.0}))
	assert.False(t, stateValuesEqual(map[string]any{"c": 1}, map[string]any{"a": 1.0}))
	assert.True(t, stateValuesEqual(true, true))
}

func TestEvaluateAssertions_UnknownType(t *testing.T) {
	errs := EvaluateAssertions(NewResult(), []Assertion{{Type: "trace_magic"}}, nil)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], `unknown assertion type "trace_magic"`)
}
