package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/roach88/mnemo/internal/ir"
	"github.com/roach88/mnemo/internal/store"
)

// Workflows and runs are stored as entities: the JSON document in content,
// lookup keys in metadata.

func workflowEntityID(id string) string { return "workflow:" + id }

func (e *Engine) persistWorkflow(ctx context.Context, wf ir.Workflow) error {
	doc, err := json.Marshal(wf)
	if err != nil {
		return fmt.Errorf("encode workflow: %w", err)
	}
	hash, err := ir.WorkflowHash(wf)
	if err != nil {
		return fmt.Errorf("hash workflow: %w", err)
	}
	_, err = e.mem.SaveEntity(ctx, ir.Entity{
		ID:      workflowEntityID(wf.ID),
		Type:    ir.EntityWorkflow,
		Name:    wf.Name,
		Content: string(doc),
		Metadata: map[string]any{
			"workflow_id": wf.ID,
			"enabled":     wf.Enabled,
			"hash":        hash,
			"created_at":  ir.FormatTime(wf.CreatedAt),
			"updated_at":  ir.FormatTime(wf.UpdatedAt),
		},
		CreatedAt: wf.CreatedAt,
	})
	return err
}

func (e *Engine) loadWorkflows(ctx context.Context) ([]ir.Workflow, error) {
	entities, err := e.mem.ListEntities(ctx, store.Filter{Type: string(ir.EntityWorkflow)}, 0)
	if err != nil {
		return nil, fmt.Errorf("load workflows: %w", err)
	}
	out := make([]ir.Workflow, 0, len(entities))
	for _, ent := range entities {
		var wf ir.Workflow
		if err := json.Unmarshal([]byte(ent.Content), &wf); err != nil {
			e.logger.Error("failed to decode stored workflow", "entity_id", ent.ID, "error", err)
			continue
		}
		if err := wf.Validate(); err != nil {
			e.logger.Error("stored workflow is invalid", "entity_id", ent.ID, "error", err)
			continue
		}
		out = append(out, wf)
	}
	return out, nil
}

func (e *Engine) persistRun(ctx context.Context, run ir.WorkflowRun) error {
	doc, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("encode run: %w", err)
	}
	meta := map[string]any{
		"workflow_id":  run.WorkflowID,
		"event_id":     run.EventID,
		"status":       string(run.Status),
		"started_at":   ir.FormatTime(run.StartedAt),
		"completed_at": nil,
	}
	if run.CompletedAt != nil {
		meta["completed_at"] = ir.FormatTime(*run.CompletedAt)
	}
	_, err = e.mem.SaveEntity(ctx, ir.Entity{
		ID:        run.ID,
		Type:      ir.EntityWorkflowRun,
		Name:      "Workflow Run " + run.ID,
		Content:   string(doc),
		Metadata:  meta,
		CreatedAt: run.StartedAt,
	})
	return err
}

// Runs returns the persisted runs of a workflow, newest first. An empty
// workflowID returns runs of every workflow.
func (e *Engine) Runs(ctx context.Context, workflowID string) ([]ir.WorkflowRun, error) {
	filter := store.Filter{Type: string(ir.EntityWorkflowRun)}
	if workflowID != "" {
		filter.Metadata = map[string]any{"workflow_id": workflowID}
	}
	entities, err := e.mem.ListEntities(ctx, filter, 0)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	runs := make([]ir.WorkflowRun, 0, len(entities))
	for _, ent := range entities {
		var run ir.WorkflowRun
		if err := json.Unmarshal([]byte(ent.Content), &run); err != nil {
			e.logger.Warn("failed to decode stored run", "entity_id", ent.ID, "error", err)
			continue
		}
		runs = append(runs, run)
	}
	sort.SliceStable(runs, func(i, j int) bool {
		if !runs[i].StartedAt.Equal(runs[j].StartedAt) {
			return runs[i].StartedAt.After(runs[j].StartedAt)
		}
		return runs[i].ID > runs[j].ID
	})
	return runs, nil
}
