package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/mnemo/internal/ir"
	"github.com/roach88/mnemo/internal/store"
)

func meetingWorkflow(id string, actions ...ir.Action) ir.Workflow {
	return ir.Workflow{
		ID:      id,
		Name:    "Meeting follow-up",
		Trigger: ir.TriggerSpec{Type: string(ir.EntityMeeting)},
		Actions: actions,
		Enabled: true,
	}
}

func standup() ir.Entity {
	return ir.Entity{ID: "m1", Type: ir.EntityMeeting, Name: "Standup", Content: "daily sync"}
}

func TestEngine_RunCreatesTask(t *testing.T) {
	ctx := context.Background()
	e, mem, _ := newTestEngine(t)
	mustRegister(t, e, meetingWorkflow("follow-up", ir.Action{
		Type:   ir.ActionCreateTask,
		Params: map[string]any{"title": "Follow up: {{ entity.name }}", "tags": []any{"meeting"}},
	}))

	require.NoError(t, e.HandleEvent(ctx, entityEvent("ev-1", ir.OpCreated, standup())))
	e.Wait()

	runs, err := e.Runs(ctx, "follow-up")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, ir.RunCompleted, runs[0].Status)
	assert.Equal(t, "ev-1", runs[0].EventID)
	assert.NotNil(t, runs[0].CompletedAt)
	assert.Empty(t, runs[0].Error)

	tasks, err := mem.ListEntities(ctx, store.Filter{Type: string(ir.EntityTask)}, 0)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "Follow up: Standup", tasks[0].Name)
	assert.Equal(t, []string{"meeting"}, tasks[0].Tags)
	assert.Equal(t, "follow-up", tasks[0].Metadata["created_by_workflow"])
	assert.Equal(t, "todo", tasks[0].Metadata["status"])
	assert.Equal(t, "medium", tasks[0].Metadata["priority"])
}

func TestEngine_RunIsPersistedAsEntity(t *testing.T) {
	ctx := context.Background()
	e, mem, _ := newTestEngine(t)
	mustRegister(t, e, meetingWorkflow("wf", ir.Action{Type: ir.ActionNotify, Params: map[string]any{"message": "hi"}}))

	require.NoError(t, e.HandleEvent(ctx, entityEvent("ev-1", ir.OpCreated, standup())))
	e.Wait()

	ent, err := mem.GetEntity(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, ir.EntityWorkflowRun, ent.Type)
	assert.Equal(t, "Workflow Run run-1", ent.Name)
	assert.Equal(t, "wf", ent.Metadata["workflow_id"])
	assert.Equal(t, "ev-1", ent.Metadata["event_id"])
	assert.Equal(t, "completed", ent.Metadata["status"])
	assert.NotEmpty(t, ent.Metadata["completed_at"])
}

func TestEngine_RunLogsGolden(t *testing.T) {
	ctx := context.Background()
	e, _, notes := newTestEngine(t)
	mustRegister(t, e, meetingWorkflow("partial",
		ir.Action{Type: ir.ActionCreateTask, Params: map[string]any{"title": "Follow up: {{ entity.name }}"}},
		ir.Action{
			Type:      ir.ActionNotify,
			Condition: "entity.metadata.urgent == true",
			Params:    map[string]any{"message": "urgent"},
		},
		ir.Action{Type: ir.ActionRunShell, Params: map[string]any{"command": "exit 3"}},
		ir.Action{Type: ir.ActionNotify, Params: map[string]any{"message": "never sent"}},
	))

	require.NoError(t, e.HandleEvent(ctx, entityEvent("ev-1", ir.OpCreated, standup())))
	e.Wait()

	runs, err := e.Runs(ctx, "partial")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	run := runs[0]
	assert.Equal(t, ir.RunFailed, run.Status)
	assert.Empty(t, notes.Sent(), "skipped and unreached actions do not notify")

	var b strings.Builder
	fmt.Fprintf(&b, "status: %s\n", run.Status)
	fmt.Fprintf(&b, "error: %s\n", run.Error)
	for _, line := range run.Logs {
		b.WriteString(line)
		b.WriteByte('\n')
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "run_partial_failure", []byte(b.String()))
}

func TestEngine_RegisterUpsert(t *testing.T) {
	ctx := context.Background()
	e, mem, _ := newTestEngine(t)
	wf := meetingWorkflow("wf", ir.Action{Type: ir.ActionNotify, Params: map[string]any{"message": "v1"}})

	first := mustRegister(t, e, wf)
	wf.Name = "Renamed"
	second := mustRegister(t, e, wf)

	assert.Len(t, e.List(), 1)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.True(t, second.UpdatedAt.After(first.UpdatedAt))

	got, ok := e.Get("wf")
	require.True(t, ok)
	assert.Equal(t, "Renamed", got.Name)

	stored, err := mem.GetEntity(ctx, "workflow:wf")
	require.NoError(t, err)
	assert.Equal(t, ir.EntityWorkflow, stored.Type)
	assert.Equal(t, "Renamed", stored.Name)
}

func TestEngine_RegisterInvalid(t *testing.T) {
	e, _, _ := newTestEngine(t)
	_, err := e.Register(context.Background(), ir.Workflow{
		ID:      "bad",
		Name:    "Bad",
		Actions: []ir.Action{{Type: ir.ActionRunShell}},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalid))
	assert.Contains(t, err.Error(), "actions[0].params.command")
	assert.Empty(t, e.List())
}

func TestEngine_EmptyTriggerNeverMatches(t *testing.T) {
	ctx := context.Background()
	e, _, notes := newTestEngine(t)
	mustRegister(t, e, ir.Workflow{
		ID:      "catch-all",
		Name:    "Catch all",
		Actions: []ir.Action{{Type: ir.ActionNotify, Params: map[string]any{"message": "hi"}}},
		Enabled: true,
	})

	require.NoError(t, e.HandleEvent(ctx, entityEvent("ev-1", ir.OpCreated, standup())))
	e.Wait()

	runs, err := e.Runs(ctx, "catch-all")
	require.NoError(t, err)
	assert.Empty(t, runs)
	assert.Empty(t, notes.Sent())
}

func TestEngine_DisabledWorkflowDoesNotRun(t *testing.T) {
	ctx := context.Background()
	e, _, notes := newTestEngine(t)
	wf := meetingWorkflow("off", ir.Action{Type: ir.ActionNotify, Params: map[string]any{"message": "hi"}})
	wf.Enabled = false
	mustRegister(t, e, wf)

	require.NoError(t, e.HandleEvent(ctx, entityEvent("ev-1", ir.OpCreated, standup())))
	e.Wait()
	assert.Empty(t, notes.Sent())
}

func TestEngine_DropsEventsWhileRunning(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newTestEngine(t)

	started := make(chan string, 4)
	release := make(chan struct{})
	e.Executor().Register("block", func(ctx context.Context, _, rc map[string]any) (any, error) {
		id, _ := Lookup(rc, "event.id")
		started <- id.(string)
		<-release
		return nil, nil
	})
	mustRegister(t, e, meetingWorkflow("slow", ir.Action{Type: "block"}))

	require.NoError(t, e.HandleEvent(ctx, entityEvent("ev-1", ir.OpCreated, standup())))
	assert.Equal(t, "ev-1", <-started)
	assert.True(t, e.Running("slow"))

	require.NoError(t, e.HandleEvent(ctx, entityEvent("ev-2", ir.OpUpdated, standup())))
	close(release)
	e.Wait()

	assert.False(t, e.Running("slow"))
	assert.Empty(t, started, "second event must not start a run")

	runs, err := e.Runs(ctx, "slow")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "ev-1", runs[0].EventID)

	// Once idle the workflow fires again.
	release = make(chan struct{})
	close(release)
	require.NoError(t, e.HandleEvent(ctx, entityEvent("ev-3", ir.OpUpdated, standup())))
	e.Wait()
	assert.Equal(t, "ev-3", <-started)
}

func TestEngine_DifferentWorkflowsRunConcurrently(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newTestEngine(t, WithWorkers(2))

	started := make(chan string, 2)
	release := make(chan struct{})
	e.Executor().Register("block", func(ctx context.Context, _, rc map[string]any) (any, error) {
		id, _ := Lookup(rc, "workflow.id")
		started <- id.(string)
		<-release
		return nil, nil
	})
	mustRegister(t, e, meetingWorkflow("a", ir.Action{Type: "block"}))
	mustRegister(t, e, meetingWorkflow("b", ir.Action{Type: "block"}))

	require.NoError(t, e.HandleEvent(ctx, entityEvent("ev-1", ir.OpCreated, standup())))

	got := []string{<-started, <-started}
	assert.ElementsMatch(t, []string{"a", "b"}, got)
	close(release)
	e.Wait()
}

func TestEngine_ResultsFlowToLaterActions(t *testing.T) {
	ctx := context.Background()
	e, _, notes := newTestEngine(t)
	e.Executor().Register("lookup_owner", func(context.Context, map[string]any, map[string]any) (any, error) {
		return map[string]any{"owner": "ada"}, nil
	})
	mustRegister(t, e, meetingWorkflow("chain",
		ir.Action{Type: "lookup_owner"},
		ir.Action{
			Type:      ir.ActionNotify,
			Condition: "results.0.owner == 'ada'",
			Params:    map[string]any{"channel": "slack", "message": "{{ entity.name }} owned by {{ results.0.owner }}"},
		},
	))

	require.NoError(t, e.HandleEvent(ctx, entityEvent("ev-1", ir.OpCreated, standup())))
	e.Wait()

	assert.Equal(t, []notification{{Channel: "slack", Message: "Standup owned by ada"}}, notes.Sent())
}

func TestEngine_FailedRuns(t *testing.T) {
	tests := []struct {
		name    string
		action  ir.Action
		wantErr string
	}{
		{
			name:    "unknown action",
			action:  ir.Action{Type: "teleport"},
			wantErr: "action 1 (teleport): unknown action type: teleport",
		},
		{
			name:    "bad condition",
			action:  ir.Action{Type: ir.ActionNotify, Condition: "entity.name ==", Params: map[string]any{"message": "x"}},
			wantErr: "action 1 (notify): condition",
		},
		{
			name:    "shell failure",
			action:  ir.Action{Type: ir.ActionRunShell, Params: map[string]any{"command": "echo broken >&2; false"}},
			wantErr: "command failed: exit status 1: broken",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			e, _, _ := newTestEngine(t)
			mustRegister(t, e, meetingWorkflow("wf", tt.action))

			require.NoError(t, e.HandleEvent(ctx, entityEvent("ev-1", ir.OpCreated, standup())))
			e.Wait()

			runs, err := e.Runs(ctx, "wf")
			require.NoError(t, err)
			require.Len(t, runs, 1)
			assert.Equal(t, ir.RunFailed, runs[0].Status)
			assert.Contains(t, runs[0].Error, tt.wantErr)
			assert.Contains(t, runs[0].Logs[len(runs[0].Logs)-1], "Workflow execution failed")
		})
	}
}

func TestEngine_FailedActionOutputIsLogged(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newTestEngine(t)
	mustRegister(t, e, meetingWorkflow("wf", ir.Action{
		Type:   ir.ActionRunShell,
		Params: map[string]any{"command": "echo partial; echo 'disk  full' >&2; exit 2"},
	}))

	require.NoError(t, e.HandleEvent(ctx, entityEvent("ev-1", ir.OpCreated, standup())))
	e.Wait()

	runs, err := e.Runs(ctx, "wf")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	logs := runs[0].Logs
	require.GreaterOrEqual(t, len(logs), 2)
	assert.Equal(t,
		"Action 1 failed: command failed: exit status 2: disk  full (output: exit_code=2 stderr=disk full stdout=partial)",
		logs[len(logs)-2])
}

func TestSummarizeOutput(t *testing.T) {
	assert.Empty(t, summarizeOutput(nil))
	assert.Equal(t, "body=not found status=404", summarizeOutput(map[string]any{
		"status": 404, "body": "not\nfound", "headers": "",
	}))
	assert.Equal(t, "plain text", summarizeOutput("plain   text"))

	long := summarizeOutput(map[string]any{"stdout": strings.Repeat("x", maxSummaryValue+50)})
	assert.Equal(t, "stdout="+strings.Repeat("x", maxSummaryValue)+"...(truncated)", long)
}

func TestEngine_PanickingActionFailsRun(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newTestEngine(t)
	e.Executor().Register("explode", func(context.Context, map[string]any, map[string]any) (any, error) {
		panic("boom")
	})
	mustRegister(t, e, meetingWorkflow("wf", ir.Action{Type: "explode"}))

	require.NoError(t, e.HandleEvent(ctx, entityEvent("ev-1", ir.OpCreated, standup())))
	e.Wait()

	runs, err := e.Runs(ctx, "wf")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, ir.RunFailed, runs[0].Status)
	assert.Contains(t, runs[0].Error, "panic: boom")
	assert.False(t, e.Running("wf"))
}

func TestEngine_IgnoresRunPayloads(t *testing.T) {
	ctx := context.Background()
	e, _, notes := newTestEngine(t)
	mustRegister(t, e, ir.Workflow{
		ID:      "on-runs",
		Name:    "On runs",
		Trigger: ir.TriggerSpec{Type: string(ir.EntityWorkflowRun)},
		Actions: []ir.Action{{Type: ir.ActionNotify, Params: map[string]any{"message": "loop"}}},
		Enabled: true,
	})

	runEntity := ir.Entity{ID: "run-x", Type: ir.EntityWorkflowRun, Name: "Workflow Run run-x"}
	require.NoError(t, e.HandleEvent(ctx, entityEvent("ev-1", ir.OpCreated, runEntity)))
	e.Wait()
	assert.Empty(t, notes.Sent())
}

func TestEngine_FiresOncePerEvent(t *testing.T) {
	ctx := context.Background()
	e, _, notes := newTestEngine(t)
	mustRegister(t, e, meetingWorkflow("wf", ir.Action{
		Type:   ir.ActionNotify,
		Params: map[string]any{"message": "{{ entity.id }}"},
	}))

	second := standup()
	second.ID = "m2"
	require.NoError(t, e.HandleEvent(ctx, entityEvent("ev-1", ir.OpCreated, standup(), second)))
	e.Wait()

	assert.Equal(t, []notification{{Channel: "console", Message: "m1"}}, notes.Sent())
}

func TestEngine_PauseResumeDelete(t *testing.T) {
	ctx := context.Background()
	e, mem, notes := newTestEngine(t)
	mustRegister(t, e, meetingWorkflow("wf", ir.Action{Type: ir.ActionNotify, Params: map[string]any{"message": "hi"}}))

	paused, err := e.Pause(ctx, "wf")
	require.NoError(t, err)
	assert.False(t, paused.Enabled)
	require.NoError(t, e.HandleEvent(ctx, entityEvent("ev-1", ir.OpCreated, standup())))
	e.Wait()
	assert.Empty(t, notes.Sent())

	resumed, err := e.Resume(ctx, "wf")
	require.NoError(t, err)
	assert.True(t, resumed.Enabled)
	require.NoError(t, e.HandleEvent(ctx, entityEvent("ev-2", ir.OpCreated, standup())))
	e.Wait()
	assert.Len(t, notes.Sent(), 1)

	require.NoError(t, e.Delete(ctx, "wf"))
	_, ok := e.Get("wf")
	assert.False(t, ok)
	_, err = mem.GetEntity(ctx, "workflow:wf")
	assert.Error(t, err)

	// Runs outlive their workflow.
	runs, err := e.Runs(ctx, "wf")
	require.NoError(t, err)
	assert.Len(t, runs, 1)

	assert.ErrorIs(t, e.Delete(ctx, "wf"), ErrNotFound)
	_, err = e.Pause(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEngine_LoadPersisted(t *testing.T) {
	ctx := context.Background()
	e, mem, _ := newTestEngine(t)
	registered := mustRegister(t, e, meetingWorkflow("wf", ir.Action{
		Type:      ir.ActionNotify,
		Condition: "entity.type == 'meeting'",
		Params:    map[string]any{"channel": "log", "message": "hi"},
	}))

	fresh := NewEngine(mem, WithLogger(quietLogger))
	n, err := fresh.LoadPersisted(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, ok := fresh.Get("wf")
	require.True(t, ok)
	assert.Equal(t, registered.Actions, got.Actions)
	assert.True(t, got.CreatedAt.Equal(registered.CreatedAt))
}

func TestEngine_RunsNewestFirst(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newTestEngine(t)
	mustRegister(t, e, meetingWorkflow("wf", ir.Action{Type: ir.ActionNotify, Params: map[string]any{"message": "hi"}}))

	for i := 1; i <= 3; i++ {
		require.NoError(t, e.HandleEvent(ctx, entityEvent(fmt.Sprintf("ev-%d", i), ir.OpCreated, standup())))
		e.Wait()
	}

	runs, err := e.Runs(ctx, "wf")
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, []string{"ev-3", "ev-2", "ev-1"}, []string{runs[0].EventID, runs[1].EventID, runs[2].EventID})

	all, err := e.Runs(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestEngine_HandleEventCancelledWhileWaitingForWorker(t *testing.T) {
	e, _, _ := newTestEngine(t, WithWorkers(1))
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	e.Executor().Register("block", func(context.Context, map[string]any, map[string]any) (any, error) {
		started <- struct{}{}
		<-release
		return nil, nil
	})
	mustRegister(t, e, meetingWorkflow("a", ir.Action{Type: "block"}))
	mustRegister(t, e, meetingWorkflow("b", ir.Action{Type: "block"}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := e.HandleEvent(ctx, entityEvent("ev-1", ir.OpCreated, standup()))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	<-started
	assert.False(t, e.Running("b"), "workflow that never got a worker is released")

	close(release)
	e.Wait()
}
