package workflow

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func runContext() map[string]any {
	return map[string]any{
		"entity": map[string]any{
			"id":       "e1",
			"name":     "Standup",
			"tags":     []any{"work", "daily"},
			"metadata": map[string]any{"priority": "high", "points": float64(3), "owner": map[string]any{"name": "ada"}},
		},
		"workflow": map[string]any{"id": "wf"},
		"results":  []any{map[string]any{"id": "t1"}, nil},
		"count":    2,
		"ratio":    0.25,
		"when":     time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC),
	}
}

func TestResolve(t *testing.T) {
	r := NewResolver(quietLogger)
	data := runContext()

	tests := []struct {
		in   string
		want string
	}{
		{"plain text", "plain text"},
		{"{{entity.name}}", "Standup"},
		{"Follow up: {{ entity.name }} ({{ entity.metadata.priority }})", "Follow up: Standup (high)"},
		{"owner={{ entity.metadata.owner.name }}", "owner=ada"},
		{"points={{ entity.metadata.points }}", "points=3"},
		{"ratio={{ ratio }} count={{ count }}", "ratio=0.25 count=2"},
		{"first tag {{ entity.tags.0 }}", "first tag work"},
		{"task {{ results.0.id }} then [{{ results.1 }}]", "task t1 then []"},
		{"tags {{ entity.tags }}", `tags ["work","daily"]`},
		{"at {{ when }}", "at 2026-01-15T10:00:00.000000Z"},
		{"missing {{ entity.nope }} stays", "missing {{ entity.nope }} stays"},
		{"out of range {{ entity.tags.9 }}", "out of range {{ entity.tags.9 }}"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Resolve(tt.in, data))
		})
	}
}

func TestResolveParams(t *testing.T) {
	r := NewResolver(quietLogger)
	params := map[string]any{
		"title":  "Review {{ entity.name }}",
		"tags":   "{{ entity.tags }}",
		"points": "{{ entity.metadata.points }}",
		"nested": map[string]any{
			"list":  []any{"{{ workflow.id }}", 7, "x-{{ entity.id }}"},
			"names": []string{"{{ entity.name }}"},
		},
		"unknown": "{{ nope }}",
		"flag":    true,
	}

	got := r.ResolveParams(params, runContext())
	want := map[string]any{
		"title":  "Review Standup",
		"tags":   []any{"work", "daily"},
		"points": float64(3),
		"nested": map[string]any{
			"list":  []any{"wf", 7, "x-e1"},
			"names": []any{"Standup"},
		},
		"unknown": "{{ nope }}",
		"flag":    true,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ResolveParams mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, "Review {{ entity.name }}", params["title"], "input params are not modified")
	assert.Equal(t, map[string]any{}, r.ResolveParams(nil, runContext()))
}

func TestLookup(t *testing.T) {
	data := runContext()

	v, ok := Lookup(data, "entity.metadata.owner.name")
	assert.True(t, ok)
	assert.Equal(t, "ada", v)

	v, ok = Lookup(data, " results.0 ")
	assert.True(t, ok)
	assert.Equal(t, map[string]any{"id": "t1"}, v)

	v, ok = Lookup(data, "results.1")
	assert.True(t, ok, "present nil values resolve")
	assert.Nil(t, v)

	for _, path := range []string{"", "entity.name.first", "results.x", "results.-1", "nope"} {
		_, ok := Lookup(data, path)
		assert.False(t, ok, path)
	}
}

func TestStringify(t *testing.T) {
	assert.Equal(t, "", Stringify(nil))
	assert.Equal(t, "true", Stringify(true))
	assert.Equal(t, "42", Stringify(int64(42)))
	assert.Equal(t, "1.5", Stringify(1.5))
	assert.Equal(t, "1e+20", Stringify(1e20))
	assert.Equal(t, `{"a":1,"b":"x"}`, Stringify(map[string]any{"b": "x", "a": 1}))
}
