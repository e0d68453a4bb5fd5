package memory

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/mnemo/internal/ir"
	"github.com/roach88/mnemo/internal/store"
)

// SaveEntity creates or replaces an entity. An empty ID is assigned.
// Saving an existing id keeps its original created_at.
func (m *Memory) SaveEntity(ctx context.Context, e ir.Entity) (ir.Entity, error) {
	const op = "save entity"
	if err := e.Validate(); err != nil {
		return ir.Entity{}, validationError(op, e.ID, err)
	}
	if e.ID == "" {
		e.ID = m.ids.Generate()
	}
	now := m.Now()
	e.UpdatedAt = now
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.Tags = ir.NormalizeTags(e.Tags)
	if e.Metadata == nil {
		e.Metadata = map[string]any{}
	}

	vec := m.embedText(ctx, "entity", e.ID, entityEmbeddingText(e))

	mutation := ir.OpCreated
	err := m.db.WithTx(ctx, func(tx *store.Tx) error {
		prior, err := tx.GetEntity(ctx, e.ID)
		switch {
		case err == nil:
			e.CreatedAt = prior.CreatedAt
			mutation = ir.OpUpdated
		case !errors.Is(err, store.ErrNotFound):
			return err
		}
		return m.putEntity(ctx, tx, e, vec)
	})
	if err != nil {
		return ir.Entity{}, persistenceError(op, e.ID, err)
	}

	m.logger.Debug("saved entity", "id", e.ID, "type", e.Type, "op", mutation)
	m.publish(ctx, ir.EntityMutation(mutation, e))
	return e, nil
}

// putEntity writes the entity row and its embedding inside tx.
// A nil vector removes any stale embedding.
func (m *Memory) putEntity(ctx context.Context, tx *store.Tx, e ir.Entity, vec []float32) error {
	if err := tx.PutEntity(ctx, e); err != nil {
		return err
	}
	if vec == nil {
		return tx.DeleteEntityEmbedding(ctx, e.ID)
	}
	return tx.PutEntityEmbedding(ctx, e.ID, m.embedder.Name(), vec, e.UpdatedAt)
}

// GetEntity returns the entity with id, or a NotFound error.
func (m *Memory) GetEntity(ctx context.Context, id string) (ir.Entity, error) {
	e, err := m.db.GetEntity(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return ir.Entity{}, notFoundError("get entity", id, err)
	}
	if err != nil {
		return ir.Entity{}, persistenceError("get entity", id, err)
	}
	return e, nil
}

// UpdateEntity replaces an existing entity. The embedding is regenerated only
// when name or content changed. Returns NotFound when id is absent.
func (m *Memory) UpdateEntity(ctx context.Context, e ir.Entity) (ir.Entity, error) {
	const op = "update entity"
	if e.ID == "" {
		return ir.Entity{}, validationError(op, "", &ir.FieldError{Field: "id", Message: "required"})
	}
	if err := e.Validate(); err != nil {
		return ir.Entity{}, validationError(op, e.ID, err)
	}
	existing, err := m.db.GetEntity(ctx, e.ID)
	if errors.Is(err, store.ErrNotFound) {
		return ir.Entity{}, notFoundError(op, e.ID, err)
	}
	if err != nil {
		return ir.Entity{}, persistenceError(op, e.ID, err)
	}

	e.CreatedAt = existing.CreatedAt
	e.UpdatedAt = m.Now()
	e.Tags = ir.NormalizeTags(e.Tags)
	if e.Metadata == nil {
		e.Metadata = map[string]any{}
	}

	reembed := existing.Name != e.Name || existing.Content != e.Content
	var vec []float32
	if reembed {
		vec = m.embedText(ctx, "entity", e.ID, entityEmbeddingText(e))
	}

	err = m.db.WithTx(ctx, func(tx *store.Tx) error {
		// Re-check inside the transaction so a concurrent delete is not resurrected.
		if _, err := tx.GetEntity(ctx, e.ID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return notFoundError(op, e.ID, err)
			}
			return err
		}
		if !reembed {
			return tx.PutEntity(ctx, e)
		}
		return m.putEntity(ctx, tx, e, vec)
	})
	if err != nil {
		return ir.Entity{}, persistenceError(op, e.ID, err)
	}

	m.logger.Debug("updated entity", "id", e.ID, "reembedded", reembed)
	m.publish(ctx, ir.EntityMutation(ir.OpUpdated, e))
	return e, nil
}

// DeleteEntity removes an entity, every relation touching it, and its index
// rows. It reports false, with no error, when id is absent. Deletes are not
// published.
func (m *Memory) DeleteEntity(ctx context.Context, id string) (bool, error) {
	const op = "delete entity"
	var deleted bool
	err := m.db.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		deleted, err = tx.DeleteEntity(ctx, id)
		return err
	})
	if err != nil {
		return false, persistenceError(op, id, err)
	}
	if !deleted {
		m.logger.Debug("entity to delete not found", "id", id)
		return false, nil
	}
	m.logger.Debug("deleted entity", "id", id)
	return true, nil
}

// ListEntities returns entities matching filter, most recently updated first.
// limit <= 0 means no limit.
func (m *Memory) ListEntities(ctx context.Context, filter store.Filter, limit int) ([]ir.Entity, error) {
	entities, err := m.db.ListEntities(ctx, filter, limit)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	return entities, nil
}

func entityEmbeddingText(e ir.Entity) string {
	if e.Content == "" {
		return e.Name
	}
	return e.Name + " " + e.Content
}
