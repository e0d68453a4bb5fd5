package ir

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// TimeLayout is the on-disk timestamp format. Fixed width (microseconds, Z
// suffix) so that string comparison in SQL matches chronological order.
const TimeLayout = "2006-01-02T15:04:05.000000Z07:00"

// FormatTime renders t in UTC with TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime parses a timestamp written by FormatTime. RFC 3339 input is
// accepted as well so that CLI flags can use the shorter form.
func ParseTime(s string) (time.Time, error) {
	if t, err := time.Parse(TimeLayout, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t.UTC(), nil
}

// EntityType is the closed set of entity kinds.
type EntityType string

const (
	EntityTask         EntityType = "task"
	EntityPerson       EntityType = "person"
	EntityProject      EntityType = "project"
	EntityFile         EntityType = "file"
	EntityHandoff      EntityType = "handoff"
	EntityArea         EntityType = "area"
	EntityMeeting      EntityType = "meeting"
	EntityTechnology   EntityType = "technology"
	EntityConversation EntityType = "conversation"
	EntityNote         EntityType = "note"
	EntityWorkflow     EntityType = "workflow"
	EntityWorkflowRun  EntityType = "workflow_run"
)

var entityTypes = []EntityType{
	EntityTask, EntityPerson, EntityProject, EntityFile, EntityHandoff, EntityArea,
	EntityMeeting, EntityTechnology, EntityConversation, EntityNote, EntityWorkflow,
	EntityWorkflowRun,
}

// Valid reports whether t is a member of the closed set.
func (t EntityType) Valid() bool {
	for _, v := range entityTypes {
		if v == t {
			return true
		}
	}
	return false
}

// EntityTypes returns every valid entity type in declaration order.
func EntityTypes() []EntityType {
	return append([]EntityType(nil), entityTypes...)
}

// RelationType is the closed set of edge kinds.
type RelationType string

const (
	RelRelatesTo   RelationType = "relates_to"
	RelContains    RelationType = "contains"
	RelFollowsFrom RelationType = "follows_from"
	RelDependsOn   RelationType = "depends_on"
	RelMentions    RelationType = "mentions"
	RelImplements  RelationType = "implements"
	RelReferences  RelationType = "references"
	RelAssignedTo  RelationType = "assigned_to"
	RelCreatedBy   RelationType = "created_by"
	RelPartOf      RelationType = "part_of"
	RelSimilarTo   RelationType = "similar_to"
)

var relationTypes = []RelationType{
	RelRelatesTo, RelContains, RelFollowsFrom, RelDependsOn, RelMentions, RelImplements,
	RelReferences, RelAssignedTo, RelCreatedBy, RelPartOf, RelSimilarTo,
}

// Valid reports whether t is a member of the closed set.
func (t RelationType) Valid() bool {
	for _, v := range relationTypes {
		if v == t {
			return true
		}
	}
	return false
}

// RelationTypes returns every valid relation type in declaration order.
func RelationTypes() []RelationType {
	return append([]RelationType(nil), relationTypes...)
}

// ContextType is the closed set of context kinds.
type ContextType string

const (
	ContextHandoff         ContextType = "handoff"
	ContextMeeting         ContextType = "meeting"
	ContextDebugSession    ContextType = "debug_session"
	ContextConversation    ContextType = "conversation"
	ContextCodeReview      ContextType = "code_review"
	ContextPlanningSession ContextType = "planning_session"
	ContextRetrospective   ContextType = "retrospective"
)

var contextTypes = []ContextType{
	ContextHandoff, ContextMeeting, ContextDebugSession, ContextConversation,
	ContextCodeReview, ContextPlanningSession, ContextRetrospective,
}

// Valid reports whether t is a member of the closed set.
func (t ContextType) Valid() bool {
	for _, v := range contextTypes {
		if v == t {
			return true
		}
	}
	return false
}

// ContextTypes returns every valid context type in declaration order.
func ContextTypes() []ContextType {
	return append([]ContextType(nil), contextTypes...)
}

// FieldError describes one invalid field of a record.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Entity is a typed, named record.
type Entity struct {
	ID        string         `json:"id"`
	Type      EntityType     `json:"type"`
	Name      string         `json:"name"`
	Content   string         `json:"content,omitempty"`
	Metadata  map[string]any `json:"metadata"`
	Tags      []string       `json:"tags"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Validate checks the closed enum and required fields.
// The ID is not required; the memory layer assigns one when absent.
func (e Entity) Validate() error {
	var errs []error
	if !e.Type.Valid() {
		errs = append(errs, &FieldError{Field: "type", Message: fmt.Sprintf("invalid entity type %q", e.Type)})
	}
	if strings.TrimSpace(e.Name) == "" {
		errs = append(errs, &FieldError{Field: "name", Message: "required"})
	}
	return errors.Join(errs...)
}

// Relation is a directed edge between two entities or contexts.
type Relation struct {
	ID           string         `json:"id"`
	SourceID     string         `json:"source_id"`
	TargetID     string         `json:"target_id"`
	RelationType RelationType   `json:"relation_type"`
	Strength     float64        `json:"strength"`
	Metadata     map[string]any `json:"metadata"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Validate checks endpoints, the closed enum and the strength range.
func (r Relation) Validate() error {
	var errs []error
	if r.SourceID == "" {
		errs = append(errs, &FieldError{Field: "source_id", Message: "required"})
	}
	if r.TargetID == "" {
		errs = append(errs, &FieldError{Field: "target_id", Message: "required"})
	}
	if !r.RelationType.Valid() {
		errs = append(errs, &FieldError{Field: "relation_type", Message: fmt.Sprintf("invalid relation type %q", r.RelationType)})
	}
	if math.IsNaN(r.Strength) || r.Strength < 0 || r.Strength > 1 {
		errs = append(errs, &FieldError{Field: "strength", Message: fmt.Sprintf("%v out of range [0,1]", r.Strength)})
	}
	return errors.Join(errs...)
}

// Context is free-form content with derived summary and topics.
// EntityIDs is an informal back-reference list; it is not enforced.
type Context struct {
	ID        string         `json:"id"`
	Type      ContextType    `json:"type"`
	Content   string         `json:"content"`
	Summary   string         `json:"summary,omitempty"`
	Topics    []string       `json:"topics"`
	EntityIDs []string       `json:"entity_ids"`
	Metadata  map[string]any `json:"metadata"`
	CreatedAt time.Time      `json:"created_at"`
}

// Validate checks the closed enum and that content is present.
func (c Context) Validate() error {
	var errs []error
	if !c.Type.Valid() {
		errs = append(errs, &FieldError{Field: "type", Message: fmt.Sprintf("invalid context type %q", c.Type)})
	}
	if strings.TrimSpace(c.Content) == "" {
		errs = append(errs, &FieldError{Field: "content", Message: "required"})
	}
	return errors.Join(errs...)
}

// NormalizeTags trims, de-duplicates and sorts a tag set.
// Always returns a non-nil slice.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// CloneMetadata returns a shallow copy of m, never nil.
func CloneMetadata(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
