package ir

import "time"

// MutationKind discriminates the MutationPayload union.
type MutationKind string

const (
	KindEntity   MutationKind = "entity"
	KindRelation MutationKind = "relation"
	KindContext  MutationKind = "context"
)

// MutationOp names the write that produced a payload.
type MutationOp string

const (
	OpCreated MutationOp = "created"
	OpUpdated MutationOp = "updated"
	OpDeleted MutationOp = "deleted"
)

// MutationPayload is a snapshot of one committed write.
//
// Exactly one of Entity, Relation or Context is set, selected by Kind.
// Use the constructors to build payloads; they copy the record so later
// mutation by the writer cannot leak into workflow runs.
type MutationPayload struct {
	Kind     MutationKind `json:"kind"`
	Op       MutationOp   `json:"op"`
	Entity   *Entity      `json:"entity,omitempty"`
	Relation *Relation    `json:"relation,omitempty"`
	Context  *Context     `json:"context,omitempty"`
}

// EntityMutation wraps an entity snapshot.
func EntityMutation(op MutationOp, e Entity) MutationPayload {
	e.Metadata = CloneMetadata(e.Metadata)
	e.Tags = append([]string(nil), e.Tags...)
	return MutationPayload{Kind: KindEntity, Op: op, Entity: &e}
}

// RelationMutation wraps a relation snapshot.
func RelationMutation(op MutationOp, r Relation) MutationPayload {
	r.Metadata = CloneMetadata(r.Metadata)
	return MutationPayload{Kind: KindRelation, Op: op, Relation: &r}
}

// ContextMutation wraps a context snapshot.
func ContextMutation(op MutationOp, c Context) MutationPayload {
	c.Metadata = CloneMetadata(c.Metadata)
	c.Topics = append([]string(nil), c.Topics...)
	c.EntityIDs = append([]string(nil), c.EntityIDs...)
	return MutationPayload{Kind: KindContext, Op: op, Context: &c}
}

// ID returns the id of the wrapped record, or "" for a malformed payload.
func (p MutationPayload) ID() string {
	switch p.Kind {
	case KindEntity:
		if p.Entity != nil {
			return p.Entity.ID
		}
	case KindRelation:
		if p.Relation != nil {
			return p.Relation.ID
		}
	case KindContext:
		if p.Context != nil {
			return p.Context.ID
		}
	}
	return ""
}

// Fields returns a flat map view of the payload used by trigger matching and
// template resolution. Keys mirror the record's JSON names; "type" is the
// record's own type (relation_type for relations) and "kind"/"op" are added.
// Slices are exposed as []any so path lookups and membership tests treat
// every payload uniformly.
func (p MutationPayload) Fields() map[string]any {
	f := map[string]any{"kind": string(p.Kind), "op": string(p.Op)}
	switch p.Kind {
	case KindEntity:
		if e := p.Entity; e != nil {
			f["id"] = e.ID
			f["type"] = string(e.Type)
			f["name"] = e.Name
			f["content"] = e.Content
			f["metadata"] = CloneMetadata(e.Metadata)
			f["tags"] = stringsToAny(e.Tags)
			f["created_at"] = formatOptional(e.CreatedAt)
			f["updated_at"] = formatOptional(e.UpdatedAt)
		}
	case KindRelation:
		if r := p.Relation; r != nil {
			f["id"] = r.ID
			f["type"] = string(r.RelationType)
			f["relation_type"] = string(r.RelationType)
			f["source_id"] = r.SourceID
			f["target_id"] = r.TargetID
			f["strength"] = r.Strength
			f["metadata"] = CloneMetadata(r.Metadata)
			f["created_at"] = formatOptional(r.CreatedAt)
		}
	case KindContext:
		if c := p.Context; c != nil {
			f["id"] = c.ID
			f["type"] = string(c.Type)
			f["content"] = c.Content
			f["summary"] = c.Summary
			f["topics"] = stringsToAny(c.Topics)
			f["entity_ids"] = stringsToAny(c.EntityIDs)
			f["metadata"] = CloneMetadata(c.Metadata)
			f["created_at"] = formatOptional(c.CreatedAt)
		}
	}
	return f
}

// Event is one delivery unit from the memory layer to the workflow engine.
type Event struct {
	ID        string            `json:"id"`
	Payload   []MutationPayload `json:"payload"`
	CreatedAt time.Time         `json:"created_at"`
}

func stringsToAny(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

func formatOptional(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return FormatTime(t)
}
