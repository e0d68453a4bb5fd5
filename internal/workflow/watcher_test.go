package workflow

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeDoc(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestWatcher_LoadAll(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, filepath.Join(dir, "a.yaml"), "id: a\nname: A\ntrigger: {type: note}\nactions: [{type: notify, params: {message: a}}]\n")
	writeDoc(t, filepath.Join(dir, "b.cue"), `id: "b", name: "B", trigger: type: "task", actions: [{type: "notify", params: message: "b"}]`)
	writeDoc(t, filepath.Join(dir, "broken.yml"), "id: [\n")
	writeDoc(t, filepath.Join(dir, "notes.md"), "# not a workflow")

	e, _, _ := newTestEngine(t)
	w := NewWatcher(e, dir, 0, quietLogger)

	n, err := w.LoadAll(context.Background())
	assert.Equal(t, 2, n)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken.yml")

	ids := []string{}
	for _, wf := range e.List() {
		ids = append(ids, wf.ID)
	}
	assert.Equal(t, []string{"a", "b"}, ids)
}

func TestWatcher_ReloadDropsRemovedWorkflows(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "pair.yaml")
	writeDoc(t, path, "id: one\nname: One\ntrigger: {type: note}\nactions: [{type: notify, params: {message: x}}]\n"+
		"---\nid: two\nname: Two\ntrigger: {type: note}\nactions: [{type: notify, params: {message: y}}]\n")

	e, _, _ := newTestEngine(t)
	w := NewWatcher(e, dir, 0, quietLogger)
	_, err := w.LoadAll(ctx)
	require.NoError(t, err)
	assert.Len(t, e.List(), 2)

	writeDoc(t, path, "id: one\nname: One v2\ntrigger: {type: note}\nactions: [{type: notify, params: {message: x}}]\n")
	n, err := w.reload(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	one, ok := e.Get("one")
	require.True(t, ok)
	assert.Equal(t, "One v2", one.Name)
	_, ok = e.Get("two")
	assert.False(t, ok)

	w.forget(ctx, path)
	assert.Empty(t, e.List())
}

func TestWatcher_Run(t *testing.T) {
	dir := t.TempDir()
	e, _, _ := newTestEngine(t)
	w := NewWatcher(e, dir, 20*time.Millisecond, quietLogger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Give the watcher time to subscribe before writing.
	time.Sleep(100 * time.Millisecond)
	path := filepath.Join(dir, "live.yaml")
	writeDoc(t, path, "id: live\nname: Live\ntrigger: {type: note}\nactions: [{type: notify, params: {message: hi}}]\n")

	require.Eventually(t, func() bool {
		_, ok := e.Get("live")
		return ok
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, os.Remove(path))
	require.Eventually(t, func() bool {
		_, ok := e.Get("live")
		return !ok
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
