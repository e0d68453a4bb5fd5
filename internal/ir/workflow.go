package ir

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Built-in action type names.
const (
	ActionCreateTask   = "create_task"
	ActionUpdateEntity = "update_entity"
	ActionSaveRelation = "save_relation"
	ActionNotify       = "notify"
	ActionRunShell     = "run_shell"
	ActionHTTPRequest  = "http_request"
)

// RequiredParams lists the parameters each built-in action must carry.
// Action types outside this table are accepted at registration and fail at
// run time if no executor handles them.
var RequiredParams = map[string][]string{
	ActionCreateTask:   {"title"},
	ActionUpdateEntity: {"entity_id"},
	ActionSaveRelation: {"source_id", "target_id", "relation_type"},
	ActionNotify:       {"message"},
	ActionRunShell:     {"command"},
	ActionHTTPRequest:  {"url"},
}

// TriggerSpec is a predicate over mutation payloads. Every set field must be
// satisfied; a spec with no field set never matches.
type TriggerSpec struct {
	Type             string         `json:"type,omitempty" yaml:"type,omitempty"`
	ContentSubstring string         `json:"content,omitempty" yaml:"content,omitempty"`
	NameSubstring    string         `json:"name,omitempty" yaml:"name,omitempty"`
	Tags             []string       `json:"tags,omitempty" yaml:"tags,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// IsEmpty reports whether no field of the spec is set.
func (s TriggerSpec) IsEmpty() bool {
	return s.Type == "" && s.ContentSubstring == "" && s.NameSubstring == "" &&
		len(s.Tags) == 0 && len(s.Metadata) == 0
}

// Action is one step of a workflow.
type Action struct {
	Type      string         `json:"type" yaml:"type"`
	Params    map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
	Condition string         `json:"condition,omitempty" yaml:"condition,omitempty"`
}

// Workflow is a trigger plus an ordered list of actions.
type Workflow struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Trigger     TriggerSpec `json:"trigger"`
	Actions     []Action    `json:"actions"`
	Enabled     bool        `json:"enabled"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Validate checks required fields and the parameters of built-in actions.
// All problems are reported together.
func (w Workflow) Validate() error {
	var errs []error
	if strings.TrimSpace(w.ID) == "" {
		errs = append(errs, &FieldError{Field: "id", Message: "required"})
	}
	if strings.TrimSpace(w.Name) == "" {
		errs = append(errs, &FieldError{Field: "name", Message: "required"})
	}
	if len(w.Actions) == 0 {
		errs = append(errs, &FieldError{Field: "actions", Message: "at least one action is required"})
	}
	for i, a := range w.Actions {
		field := fmt.Sprintf("actions[%d]", i)
		if strings.TrimSpace(a.Type) == "" {
			errs = append(errs, &FieldError{Field: field + ".type", Message: "required"})
			continue
		}
		for _, p := range RequiredParams[a.Type] {
			if v, ok := a.Params[p]; !ok || v == nil || v == "" {
				errs = append(errs, &FieldError{
					Field:   fmt.Sprintf("%s.params.%s", field, p),
					Message: fmt.Sprintf("required by %s", a.Type),
				})
			}
		}
	}
	return errors.Join(errs...)
}

// RunStatus is the lifecycle state of a WorkflowRun.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Terminal reports whether s is absorbing.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed
}

// WorkflowRun records one execution of a workflow for one event.
type WorkflowRun struct {
	ID          string     `json:"id"`
	WorkflowID  string     `json:"workflow_id"`
	EventID     string     `json:"event_id"`
	Status      RunStatus  `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Logs        []string   `json:"logs"`
	Error       string     `json:"error,omitempty"`
}
