package workflow

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/mnemo/internal/ir"
	"github.com/roach88/mnemo/internal/memory"
)

func newTestExecutor(t *testing.T, opts ...ExecutorOption) (*Executor, *memory.Memory, *recordingNotifier) {
	t.Helper()
	mem := newTestMemory(t)
	notes := &recordingNotifier{}
	base := []ExecutorOption{WithExecutorLogger(quietLogger), WithNotifier(notes)}
	return NewExecutor(mem, append(base, opts...)...), mem, notes
}

func TestExecutor_Types(t *testing.T) {
	e, _, _ := newTestExecutor(t)
	e.Register("custom", func(context.Context, map[string]any, map[string]any) (any, error) { return nil, nil })
	assert.Equal(t, []string{
		"create_task", "custom", "http_request", "notify", "run_shell", "save_relation", "update_entity",
	}, e.Types())
}

func TestExecutor_UnknownAction(t *testing.T) {
	e, _, _ := newTestExecutor(t)
	_, err := e.Execute(context.Background(), ir.Action{Type: "teleport"}, nil)
	assert.ErrorIs(t, err, ErrUnknownAction)
}

func TestCreateTask(t *testing.T) {
	ctx := context.Background()
	e, mem, _ := newTestExecutor(t)

	out, err := e.Execute(ctx, ir.Action{Type: ir.ActionCreateTask, Params: map[string]any{
		"title":    "Ship {{ entity.name }}",
		"content":  "details",
		"priority": "high",
		"tags":     "release",
	}}, runContext())
	require.NoError(t, err)

	res := out.(map[string]any)
	task, err := mem.GetEntity(ctx, res["id"].(string))
	require.NoError(t, err)
	assert.Equal(t, ir.EntityTask, task.Type)
	assert.Equal(t, "Ship Standup", task.Name)
	assert.Equal(t, "details", task.Content)
	assert.Equal(t, []string{"release"}, task.Tags)
	assert.Equal(t, map[string]any{"priority": "high", "status": "todo", "created_by_workflow": "wf"}, task.Metadata)

	_, err = e.Execute(ctx, ir.Action{Type: ir.ActionCreateTask, Params: map[string]any{"title": "  "}}, nil)
	assert.Error(t, err)
}

func TestUpdateEntity(t *testing.T) {
	ctx := context.Background()
	e, mem, _ := newTestExecutor(t)
	orig, err := mem.SaveEntity(ctx, ir.Entity{
		Type: ir.EntityTask, Name: "Draft", Content: "v1",
		Metadata: map[string]any{"status": "todo", "owner": "ada"},
	})
	require.NoError(t, err)

	out, err := e.Execute(ctx, ir.Action{Type: ir.ActionUpdateEntity, Params: map[string]any{
		"entity_id": orig.ID,
		"updates": map[string]any{
			"name":     "Final",
			"tags":     []any{"done"},
			"metadata": map[string]any{"status": "done"},
			"reviewer": "{{ entity.metadata.owner.name }}",
		},
	}}, runContext())
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"updated": true, "id": orig.ID}, out)

	got, err := mem.GetEntity(ctx, orig.ID)
	require.NoError(t, err)
	assert.Equal(t, "Final", got.Name)
	assert.Equal(t, "v1", got.Content)
	assert.Equal(t, []string{"done"}, got.Tags)
	assert.Equal(t, map[string]any{"status": "done", "owner": "ada", "reviewer": "ada"}, got.Metadata)
	assert.True(t, got.CreatedAt.Equal(orig.CreatedAt))
}

func TestUpdateEntity_MissingIsNoop(t *testing.T) {
	e, _, _ := newTestExecutor(t)
	out, err := e.Execute(context.Background(), ir.Action{Type: ir.ActionUpdateEntity, Params: map[string]any{
		"entity_id": "ghost",
		"updates":   map[string]any{"name": "x"},
	}}, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"updated": false}, out)
}

func TestSaveRelation(t *testing.T) {
	ctx := context.Background()
	e, mem, _ := newTestExecutor(t)
	a, err := mem.SaveEntity(ctx, ir.Entity{Type: ir.EntityTask, Name: "a"})
	require.NoError(t, err)
	b, err := mem.SaveEntity(ctx, ir.Entity{Type: ir.EntityProject, Name: "b"})
	require.NoError(t, err)

	_, err = e.Execute(ctx, ir.Action{Type: ir.ActionSaveRelation, Params: map[string]any{
		"source_id":     a.ID,
		"target_id":     b.ID,
		"relation_type": "part_of",
	}}, nil)
	require.NoError(t, err)

	related, err := mem.GetRelated(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, related, 1)
	assert.Equal(t, 1.0, related[0].Relation.Strength)
	assert.Equal(t, ir.RelPartOf, related[0].Relation.RelationType)

	_, err = e.Execute(ctx, ir.Action{Type: ir.ActionSaveRelation, Params: map[string]any{
		"source_id": a.ID, "target_id": "ghost", "relation_type": "part_of",
	}}, nil)
	assert.True(t, memory.IsNotFound(err))

	_, err = e.Execute(ctx, ir.Action{Type: ir.ActionSaveRelation, Params: map[string]any{
		"source_id": a.ID, "target_id": b.ID, "relation_type": "part_of", "strength": "strong",
	}}, nil)
	assert.Error(t, err)
}

func TestNotify(t *testing.T) {
	ctx := context.Background()
	e, _, notes := newTestExecutor(t)

	_, err := e.Execute(ctx, ir.Action{Type: ir.ActionNotify, Params: map[string]any{
		"message": "{{ entity.name }} changed",
	}}, runContext())
	require.NoError(t, err)

	out, err := e.Execute(ctx, ir.Action{Type: ir.ActionNotify, Params: map[string]any{
		"channel": "pager", "message": "x",
	}}, nil)
	require.NoError(t, err, "unknown channels do not fail the action")
	assert.Equal(t, map[string]any{"delivered": false}, out)

	assert.Equal(t, []notification{{Channel: "console", Message: "Standup changed"}}, notes.Sent())
}

func TestRunShell(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newTestExecutor(t)

	out, err := e.Execute(ctx, ir.Action{Type: ir.ActionRunShell, Params: map[string]any{
		"command": "echo {{ entity.id }}",
	}}, runContext())
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"stdout": "e1\n", "stderr": "", "exit_code": 0}, out)

	out, err = e.Execute(ctx, ir.Action{Type: ir.ActionRunShell, Params: map[string]any{
		"command": "echo oops >&2; exit 4",
	}}, nil)
	require.Error(t, err)
	assert.Equal(t, "command failed: exit status 4: oops", err.Error())
	assert.Equal(t, 4, out.(map[string]any)["exit_code"])
}

func TestRunShell_Timeout(t *testing.T) {
	e, _, _ := newTestExecutor(t, WithShellTimeout(time.Minute))

	start := time.Now()
	_, err := e.Execute(context.Background(), ir.Action{Type: ir.ActionRunShell, Params: map[string]any{
		"command": "sleep 5",
		"timeout": "100ms",
	}}, nil)
	require.Error(t, err)
	assert.Equal(t, "command timed out after 100ms", err.Error())
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestHTTPRequest(t *testing.T) {
	var gotMethod, gotBody, gotType, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotMethod, gotBody = r.Method, string(body)
		gotType, gotAuth = r.Header.Get("Content-Type"), r.Header.Get("Authorization")
		if r.URL.Path == "/fail" {
			http.Error(w, "nope", http.StatusBadGateway)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	e, _, _ := newTestExecutor(t, WithHTTPClient(srv.Client()))
	ctx := context.Background()

	out, err := e.Execute(ctx, ir.Action{Type: ir.ActionHTTPRequest, Params: map[string]any{
		"url":     srv.URL + "/hook",
		"method":  "post",
		"headers": map[string]any{"Authorization": "Bearer {{ workflow.id }}"},
		"body":    map[string]any{"name": "{{ entity.name }}"},
	}}, runContext())
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"status": 200, "body": "ok"}, out)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "application/json", gotType)
	assert.Equal(t, "Bearer wf", gotAuth)
	var sent map[string]any
	require.NoError(t, json.Unmarshal([]byte(gotBody), &sent))
	assert.Equal(t, map[string]any{"name": "Standup"}, sent)

	_, err = e.Execute(ctx, ir.Action{Type: ir.ActionHTTPRequest, Params: map[string]any{
		"url": srv.URL + "/fail",
	}}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "returned status 502")
	assert.Equal(t, http.MethodGet, gotMethod)

	_, err = e.Execute(ctx, ir.Action{Type: ir.ActionHTTPRequest, Params: map[string]any{
		"url": srv.URL + "/raw", "method": "PUT", "body": "plain",
	}}, nil)
	require.NoError(t, err)
	assert.Equal(t, "plain", gotBody)
	assert.Empty(t, gotType)
}

func TestActionTimeout(t *testing.T) {
	def := 30 * time.Second
	cases := map[any]time.Duration{
		"5s":       5 * time.Second,
		"2":        2 * time.Second,
		float64(1): time.Second,
		3:          3 * time.Second,
	}
	for raw, want := range cases {
		got, err := actionTimeout(map[string]any{"timeout": raw}, def)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	got, err := actionTimeout(map[string]any{}, def)
	require.NoError(t, err)
	assert.Equal(t, def, got)

	for _, bad := range []any{"soon", -1, true} {
		_, err := actionTimeout(map[string]any{"timeout": bad}, def)
		assert.Error(t, err)
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short"))

	exact := strings.Repeat("a", maxCapturedOutput)
	assert.Equal(t, exact, truncate(exact))

	ascii := truncate(strings.Repeat("a", maxCapturedOutput+10))
	assert.Equal(t, strings.Repeat("a", maxCapturedOutput)+"...(truncated)", ascii)

	// "é" straddles the cap: two bytes starting one byte before it.
	multi := strings.Repeat("a", maxCapturedOutput-1) + strings.Repeat("é", 8)
	got := truncate(multi)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, strings.Repeat("a", maxCapturedOutput-1)+"...(truncated)", got)
}
