package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/mnemo/internal/ir"
)

// PutEntity upserts the primary row and the lexical index row.
// created_at is written only on first insert; later upserts keep it.
func (t *Tx) PutEntity(ctx context.Context, e ir.Entity) error {
	metaJSON, err := marshalMetadata(e.Metadata)
	if err != nil {
		return fmt.Errorf("put entity: %w", err)
	}
	tagsJSON, err := marshalStrings("tags", ir.NormalizeTags(e.Tags))
	if err != nil {
		return fmt.Errorf("put entity: %w", err)
	}
	created := ir.FormatTime(e.CreatedAt)

	if _, err := t.tx.ExecContext(ctx, `
		INSERT INTO entities (id, created_at) VALUES (?, ?)
		ON CONFLICT(id) DO NOTHING
	`, e.ID, created); err != nil {
		return fmt.Errorf("put entity %s: %w", e.ID, err)
	}

	if _, err := t.tx.ExecContext(ctx, `
		INSERT INTO entity_data
		(entity_id, type, name, content, metadata, tags, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(entity_id) DO UPDATE SET
			type = excluded.type,
			name = excluded.name,
			content = excluded.content,
			metadata = excluded.metadata,
			tags = excluded.tags,
			updated_at = excluded.updated_at
	`,
		e.ID,
		string(e.Type),
		e.Name,
		e.Content,
		metaJSON,
		tagsJSON,
		created,
		ir.FormatTime(e.UpdatedAt),
	); err != nil {
		return fmt.Errorf("put entity data %s: %w", e.ID, err)
	}

	if t.s.lexical {
		if _, err := t.tx.ExecContext(ctx, `DELETE FROM entity_fts WHERE entity_id = ?`, e.ID); err != nil {
			return fmt.Errorf("put entity index %s: %w", e.ID, err)
		}
		if _, err := t.tx.ExecContext(ctx, `
			INSERT INTO entity_fts (entity_id, name, content, tags) VALUES (?, ?, ?, ?)
		`, e.ID, e.Name, e.Content, strings.Join(e.Tags, " ")); err != nil {
			return fmt.Errorf("put entity index %s: %w", e.ID, err)
		}
	}

	return nil
}

// DeleteEntity removes an entity, every relation where it is source or
// target, and its index rows. Returns false if the entity did not exist.
func (t *Tx) DeleteEntity(ctx context.Context, id string) (bool, error) {
	exists, err := entityExists(ctx, t.tx, id)
	if err != nil {
		return false, fmt.Errorf("delete entity %s: %w", id, err)
	}
	if !exists {
		return false, nil
	}

	stmts := []string{
		`DELETE FROM entity_relations WHERE source_id = ? OR target_id = ?`,
		`DELETE FROM entity_embeddings WHERE entity_id = ?`,
		`DELETE FROM entity_data WHERE entity_id = ?`,
		`DELETE FROM entities WHERE id = ?`,
	}
	if t.s.lexical {
		stmts = append([]string{`DELETE FROM entity_fts WHERE entity_id = ?`}, stmts...)
	}
	for _, stmt := range stmts {
		args := []any{id}
		if strings.Count(stmt, "?") == 2 {
			args = append(args, id)
		}
		if _, err := t.tx.ExecContext(ctx, stmt, args...); err != nil {
			return false, fmt.Errorf("delete entity %s: %w", id, err)
		}
	}
	return true, nil
}

// PutEntityEmbedding upserts the vector for an entity.
func (t *Tx) PutEntityEmbedding(ctx context.Context, id, model string, vec []float32, at time.Time) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO entity_embeddings (entity_id, model, dims, embedding, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(entity_id) DO UPDATE SET
			model = excluded.model,
			dims = excluded.dims,
			embedding = excluded.embedding,
			updated_at = excluded.updated_at
	`, id, model, len(vec), EncodeVector(vec), ir.FormatTime(at))
	if err != nil {
		return fmt.Errorf("put entity embedding %s: %w", id, err)
	}
	return nil
}

// DeleteEntityEmbedding removes an entity's vector, if any.
func (t *Tx) DeleteEntityEmbedding(ctx context.Context, id string) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM entity_embeddings WHERE entity_id = ?`, id); err != nil {
		return fmt.Errorf("delete entity embedding %s: %w", id, err)
	}
	return nil
}

// PutRelation inserts or replaces a relation by id.
func (t *Tx) PutRelation(ctx context.Context, r ir.Relation) error {
	metaJSON, err := marshalMetadata(r.Metadata)
	if err != nil {
		return fmt.Errorf("put relation: %w", err)
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO entity_relations
		(id, source_id, target_id, relation_type, strength, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			source_id = excluded.source_id,
			target_id = excluded.target_id,
			relation_type = excluded.relation_type,
			strength = excluded.strength,
			metadata = excluded.metadata
	`,
		r.ID,
		r.SourceID,
		r.TargetID,
		string(r.RelationType),
		r.Strength,
		metaJSON,
		ir.FormatTime(r.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("put relation %s: %w", r.ID, err)
	}
	return nil
}

// DeleteRelation removes a relation. Returns false if it did not exist.
func (t *Tx) DeleteRelation(ctx context.Context, id string) (bool, error) {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM entity_relations WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete relation %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete relation %s: %w", id, err)
	}
	return n > 0, nil
}

// PutContext inserts or replaces a context. created_at is kept on update.
func (t *Tx) PutContext(ctx context.Context, c ir.Context) error {
	metaJSON, err := marshalMetadata(c.Metadata)
	if err != nil {
		return fmt.Errorf("put context: %w", err)
	}
	topicsJSON, err := marshalStrings("topics", c.Topics)
	if err != nil {
		return fmt.Errorf("put context: %w", err)
	}
	entityIDsJSON, err := marshalStrings("entity_ids", c.EntityIDs)
	if err != nil {
		return fmt.Errorf("put context: %w", err)
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO contexts
		(id, type, content, summary, topics, entity_ids, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			type = excluded.type,
			content = excluded.content,
			summary = excluded.summary,
			topics = excluded.topics,
			entity_ids = excluded.entity_ids,
			metadata = excluded.metadata
	`,
		c.ID,
		string(c.Type),
		c.Content,
		c.Summary,
		topicsJSON,
		entityIDsJSON,
		metaJSON,
		ir.FormatTime(c.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("put context %s: %w", c.ID, err)
	}
	return nil
}

// PutContextEmbedding upserts the vector for a context.
func (t *Tx) PutContextEmbedding(ctx context.Context, id, model string, vec []float32, at time.Time) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO context_embeddings (context_id, model, dims, embedding, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(context_id) DO UPDATE SET
			model = excluded.model,
			dims = excluded.dims,
			embedding = excluded.embedding,
			updated_at = excluded.updated_at
	`, id, model, len(vec), EncodeVector(vec), ir.FormatTime(at))
	if err != nil {
		return fmt.Errorf("put context embedding %s: %w", id, err)
	}
	return nil
}

// GetEntity reads an entity inside the transaction.
func (t *Tx) GetEntity(ctx context.Context, id string) (ir.Entity, error) {
	return getEntity(ctx, t.tx, id)
}

// GetContext reads a context inside the transaction.
func (t *Tx) GetContext(ctx context.Context, id string) (ir.Context, error) {
	return getContext(ctx, t.tx, id)
}

// Exists reports whether id names an entity or a context.
func (t *Tx) Exists(ctx context.Context, id string) (bool, error) {
	return recordExists(ctx, t.tx, id)
}
