package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/exec"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/roach88/mnemo/internal/ir"
	"github.com/roach88/mnemo/internal/memory"
)

// Notification channels understood by notify.
var notifyChannels = map[string]bool{
	"console": true,
	"log":     true,
	"slack":   true,
	"email":   true,
}

const maxCapturedOutput = 4096

func (e *Executor) createTask(ctx context.Context, params, rc map[string]any) (any, error) {
	title := strings.TrimSpace(paramString(params, "title"))
	if title == "" {
		return nil, errors.New("title is empty")
	}
	priority := paramString(params, "priority")
	if priority == "" {
		priority = "medium"
	}
	meta := map[string]any{
		"priority": priority,
		"status":   "todo",
	}
	if wfID, ok := Lookup(rc, "workflow.id"); ok {
		meta["created_by_workflow"] = wfID
	}

	task, err := e.mem.SaveEntity(ctx, ir.Entity{
		Type:     ir.EntityTask,
		Name:     title,
		Content:  paramString(params, "content"),
		Metadata: meta,
		Tags:     paramStrings(params["tags"]),
	})
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	e.logger.Info("created task", "id", task.ID, "title", task.Name)
	return map[string]any{"id": task.ID, "name": task.Name}, nil
}

// updateEntity applies params.updates to an entity. name, content, type and
// tags replace fields; metadata merges; any other key is set in metadata.
// A missing entity is logged and skipped.
func (e *Executor) updateEntity(ctx context.Context, params, _ map[string]any) (any, error) {
	id := paramString(params, "entity_id")
	entity, err := e.mem.GetEntity(ctx, id)
	if memory.IsNotFound(err) {
		e.logger.Warn("update_entity: entity not found, skipping", "entity_id", id)
		return map[string]any{"updated": false}, nil
	}
	if err != nil {
		return nil, err
	}

	entity.Metadata = ir.CloneMetadata(entity.Metadata)
	if entity.Metadata == nil {
		entity.Metadata = map[string]any{}
	}
	for key, v := range paramMap(params, "updates") {
		switch key {
		case "name":
			entity.Name = Stringify(v)
		case "content":
			entity.Content = Stringify(v)
		case "type":
			entity.Type = ir.EntityType(Stringify(v))
		case "tags":
			entity.Tags = paramStrings(v)
		case "metadata":
			if m, ok := v.(map[string]any); ok {
				for mk, mv := range m {
					entity.Metadata[mk] = mv
				}
			}
		default:
			entity.Metadata[key] = v
		}
	}

	if _, err := e.mem.UpdateEntity(ctx, entity); err != nil {
		return nil, fmt.Errorf("update entity %s: %w", id, err)
	}
	e.logger.Info("updated entity", "id", id)
	return map[string]any{"updated": true, "id": id}, nil
}

func (e *Executor) saveRelation(ctx context.Context, params, _ map[string]any) (any, error) {
	strength, err := paramFloat(params, "strength", 1.0)
	if err != nil {
		return nil, err
	}
	rel, err := e.mem.SaveRelation(ctx, ir.Relation{
		SourceID:     paramString(params, "source_id"),
		TargetID:     paramString(params, "target_id"),
		RelationType: ir.RelationType(paramString(params, "relation_type")),
		Strength:     strength,
		Metadata:     paramMap(params, "metadata"),
	})
	if err != nil {
		return nil, fmt.Errorf("save relation: %w", err)
	}
	e.logger.Info("created relation",
		"id", rel.ID,
		"source_id", rel.SourceID,
		"target_id", rel.TargetID,
		"relation_type", rel.RelationType)
	return map[string]any{"id": rel.ID}, nil
}

func (e *Executor) notify(ctx context.Context, params, _ map[string]any) (any, error) {
	channel := paramString(params, "channel")
	if channel == "" {
		channel = "console"
	}
	message := paramString(params, "message")
	if !notifyChannels[channel] {
		e.logger.Warn("unknown notification channel", "channel", channel, "message", message)
		return map[string]any{"delivered": false}, nil
	}
	if err := e.notifier.Notify(ctx, channel, message); err != nil {
		return nil, fmt.Errorf("notify %s: %w", channel, err)
	}
	return map[string]any{"delivered": true, "channel": channel}, nil
}

// logNotifier writes notifications to the log. slack and email have no
// transport and are logged under their channel name.
type logNotifier struct {
	logger *slog.Logger
}

func (n logNotifier) Notify(_ context.Context, channel, message string) error {
	n.logger.Info("notification", "channel", channel, "message", message)
	return nil
}

// runShell runs params.command with sh -c. A non-zero exit or timeout fails
// the action; captured output is returned and included in the error.
func (e *Executor) runShell(ctx context.Context, params, _ map[string]any) (any, error) {
	command := paramString(params, "command")
	if strings.TrimSpace(command) == "" {
		return nil, errors.New("command is empty")
	}
	timeout, err := actionTimeout(params, e.shellTimeout)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// Children of sh may hold the output pipes after sh is killed.
	cmd.WaitDelay = time.Second
	if dir := paramString(params, "dir"); dir != "" {
		cmd.Dir = dir
	}
	runErr := cmd.Run()

	result := map[string]any{
		"stdout":    truncate(stdout.String()),
		"stderr":    truncate(stderr.String()),
		"exit_code": exitCode(cmd),
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return result, fmt.Errorf("command timed out after %s", timeout)
	}
	if runErr != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = strings.TrimSpace(stdout.String())
		}
		if msg != "" {
			return result, fmt.Errorf("command failed: %w: %s", runErr, truncate(msg))
		}
		return result, fmt.Errorf("command failed: %w", runErr)
	}
	e.logger.Info("shell command executed", "command", command)
	return result, nil
}

func exitCode(cmd *exec.Cmd) int {
	if cmd.ProcessState == nil {
		return -1
	}
	return cmd.ProcessState.ExitCode()
}

// httpRequest sends params.method (default GET) to params.url. String
// bodies are sent as-is; other bodies are sent as JSON. A status >= 400
// fails the action.
func (e *Executor) httpRequest(ctx context.Context, params, _ map[string]any) (any, error) {
	url := paramString(params, "url")
	method := strings.ToUpper(paramString(params, "method"))
	if method == "" {
		method = http.MethodGet
	}
	timeout, err := actionTimeout(params, e.httpTimeout)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	contentType := ""
	switch b := params["body"].(type) {
	case nil:
	case string:
		body = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("encode body: %w", err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range paramMap(params, "headers") {
		req.Header.Set(k, Stringify(v))
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s %s timed out after %s", method, url, timeout)
		}
		return nil, fmt.Errorf("%s %s: %w", method, url, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxCapturedOutput))
	result := map[string]any{
		"status": resp.StatusCode,
		"body":   string(respBody),
	}
	if resp.StatusCode >= 400 {
		return result, fmt.Errorf("%s %s returned status %d", method, url, resp.StatusCode)
	}
	e.logger.Info("http request completed", "method", method, "url", url, "status", resp.StatusCode)
	return result, nil
}

func truncate(s string) string {
	return clip(s, maxCapturedOutput)
}

// clip caps s at n bytes without splitting a rune.
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "...(truncated)"
}
