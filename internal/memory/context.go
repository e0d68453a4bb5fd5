package memory

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/mnemo/internal/ir"
	"github.com/roach88/mnemo/internal/store"
)

// SaveContext creates or replaces a context. When an Extractor is configured
// and the content changed since the last extraction, extracted entities are
// linked to similar existing entities or created, and the context records
// their ids in EntityIDs.
func (m *Memory) SaveContext(ctx context.Context, c ir.Context) (ir.Context, error) {
	return m.writeContext(ctx, "save context", c, false)
}

// UpdateContext replaces an existing context and regenerates its embedding.
// Returns NotFound when id is absent.
func (m *Memory) UpdateContext(ctx context.Context, c ir.Context) (ir.Context, error) {
	if c.ID == "" {
		return ir.Context{}, validationError("update context", "",
			&ir.FieldError{Field: "id", Message: "required"})
	}
	return m.writeContext(ctx, "update context", c, true)
}

func (m *Memory) writeContext(ctx context.Context, op string, c ir.Context, mustExist bool) (ir.Context, error) {
	if err := c.Validate(); err != nil {
		return ir.Context{}, validationError(op, c.ID, err)
	}
	if c.ID == "" {
		c.ID = m.ids.Generate()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = m.Now()
	}
	c.Metadata = ir.CloneMetadata(c.Metadata)
	if c.Metadata == nil {
		c.Metadata = map[string]any{}
	}
	c.Topics = append([]string{}, c.Topics...)
	c.EntityIDs = append([]string{}, c.EntityIDs...)

	var prior *ir.Context
	existing, err := m.db.GetContext(ctx, c.ID)
	switch {
	case err == nil:
		prior = &existing
	case errors.Is(err, store.ErrNotFound):
		if mustExist {
			return ir.Context{}, notFoundError(op, c.ID, err)
		}
	default:
		return ir.Context{}, persistenceError(op, c.ID, err)
	}
	if prior != nil {
		carryExtraction(&c, *prior)
	}

	x := m.extract(ctx, c, prior)
	var relations []ir.Relation
	if x != nil {
		relations = x.apply(&c)
	}
	vec := m.embedText(ctx, "context", c.ID, c.Content)

	mutation := ir.OpCreated
	err = m.db.WithTx(ctx, func(tx *store.Tx) error {
		stored, err := tx.GetContext(ctx, c.ID)
		switch {
		case err == nil:
			c.CreatedAt = stored.CreatedAt
			mutation = ir.OpUpdated
		case errors.Is(err, store.ErrNotFound):
			if mustExist {
				return notFoundError(op, c.ID, err)
			}
		default:
			return err
		}

		if x != nil {
			for _, p := range x.created {
				if err := m.putEntity(ctx, tx, p.entity, p.vec); err != nil {
					return err
				}
			}
		}
		if err := tx.PutContext(ctx, c); err != nil {
			return err
		}
		if vec != nil {
			if err := tx.PutContextEmbedding(ctx, c.ID, m.embedder.Name(), vec, m.Now()); err != nil {
				return err
			}
		}
		for i := range relations {
			relations[i].ID = m.ids.Generate()
			relations[i].CreatedAt = m.Now()
			if err := putRelation(ctx, tx, relations[i]); err != nil {
				return fmt.Errorf("link extracted entity %s: %w", relations[i].TargetID, err)
			}
		}
		return nil
	})
	if err != nil {
		return ir.Context{}, persistenceError(op, c.ID, err)
	}

	payloads := []ir.MutationPayload{ir.ContextMutation(mutation, c)}
	if x != nil {
		for _, p := range x.created {
			payloads = append(payloads, ir.EntityMutation(ir.OpCreated, p.entity))
		}
	}
	for _, r := range relations {
		payloads = append(payloads, ir.RelationMutation(ir.OpCreated, r))
	}
	m.logger.Debug("saved context",
		"id", c.ID,
		"type", c.Type,
		"op", mutation,
		"entity_ids", len(c.EntityIDs))
	m.publish(ctx, payloads...)
	return c, nil
}

// carryExtraction keeps the previous extraction output for unchanged content
// when the caller did not supply its own.
func carryExtraction(c *ir.Context, prior ir.Context) {
	if prior.Content != c.Content {
		return
	}
	for _, key := range []string{MetaExtractHash, MetaActionItems} {
		if _, ok := c.Metadata[key]; ok {
			continue
		}
		if v, ok := prior.Metadata[key]; ok {
			c.Metadata[key] = v
		}
	}
}

// GetContext returns the context with id, or a NotFound error.
func (m *Memory) GetContext(ctx context.Context, id string) (ir.Context, error) {
	c, err := m.db.GetContext(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return ir.Context{}, notFoundError("get context", id, err)
	}
	if err != nil {
		return ir.Context{}, persistenceError("get context", id, err)
	}
	return c, nil
}

// SearchContexts returns contexts whose content contains query, newest first.
func (m *Memory) SearchContexts(ctx context.Context, query string, filter store.Filter, limit int) ([]ir.Context, error) {
	contexts, err := m.db.SearchContexts(ctx, query, filter, limit)
	if err != nil {
		return nil, fmt.Errorf("search contexts: %w", err)
	}
	return contexts, nil
}

// GetRelatedContexts returns contexts connected to entityID by a relation in
// either direction.
func (m *Memory) GetRelatedContexts(ctx context.Context, entityID string, types ...ir.RelationType) ([]store.RelatedContext, error) {
	related, err := m.db.RelatedContexts(ctx, entityID, types)
	if err != nil {
		return nil, persistenceError("get related contexts", entityID, err)
	}
	return related, nil
}
