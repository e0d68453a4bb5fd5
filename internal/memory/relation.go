package memory

import (
	"context"
	"fmt"

	"github.com/roach88/mnemo/internal/ir"
	"github.com/roach88/mnemo/internal/store"
)

// SaveRelation creates or replaces a relation. Both endpoints must name an
// existing entity or context; a missing endpoint is a NotFound error and
// nothing is written.
func (m *Memory) SaveRelation(ctx context.Context, r ir.Relation) (ir.Relation, error) {
	const op = "save relation"
	if err := r.Validate(); err != nil {
		return ir.Relation{}, validationError(op, r.ID, err)
	}
	if r.ID == "" {
		r.ID = m.ids.Generate()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = m.Now()
	}
	if r.Metadata == nil {
		r.Metadata = map[string]any{}
	}

	err := m.db.WithTx(ctx, func(tx *store.Tx) error {
		return putRelation(ctx, tx, r)
	})
	if err != nil {
		return ir.Relation{}, persistenceError(op, r.ID, err)
	}

	m.logger.Debug("saved relation",
		"id", r.ID,
		"source_id", r.SourceID,
		"target_id", r.TargetID,
		"relation_type", r.RelationType)
	m.publish(ctx, ir.RelationMutation(ir.OpCreated, r))
	return r, nil
}

// putRelation checks both endpoints and writes r inside tx.
func putRelation(ctx context.Context, tx *store.Tx, r ir.Relation) error {
	for _, endpoint := range []string{r.SourceID, r.TargetID} {
		ok, err := tx.Exists(ctx, endpoint)
		if err != nil {
			return err
		}
		if !ok {
			return notFoundError("save relation", r.ID,
				fmt.Errorf("endpoint %s: %w", endpoint, store.ErrNotFound))
		}
	}
	return tx.PutRelation(ctx, r)
}

// GetRelated returns entities connected to entityID in either direction,
// optionally restricted to relation types.
func (m *Memory) GetRelated(ctx context.Context, entityID string, types ...ir.RelationType) ([]store.RelatedEntity, error) {
	related, err := m.db.RelatedEntities(ctx, entityID, types)
	if err != nil {
		return nil, persistenceError("get related", entityID, err)
	}
	return related, nil
}

// DeleteRelation removes a relation by id. Returns NotFound when absent.
func (m *Memory) DeleteRelation(ctx context.Context, id string) error {
	const op = "delete relation"
	err := m.db.WithTx(ctx, func(tx *store.Tx) error {
		deleted, err := tx.DeleteRelation(ctx, id)
		if err != nil {
			return err
		}
		if !deleted {
			return notFoundError(op, id, store.ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return persistenceError(op, id, err)
	}
	return nil
}
