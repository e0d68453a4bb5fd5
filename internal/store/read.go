package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/mnemo/internal/ir"
)

// RelatedEntity pairs an entity with the relation that connects it.
type RelatedEntity struct {
	Relation ir.Relation `json:"relation"`
	Entity   ir.Entity   `json:"entity"`
}

// RelatedContext pairs a context with the relation that connects it.
type RelatedContext struct {
	Relation ir.Relation `json:"relation"`
	Context  ir.Context  `json:"context"`
}

const entitySelect = `
	SELECT ed.entity_id, ed.type, ed.name, ed.content, ed.metadata, ed.tags, ed.created_at, ed.updated_at
	FROM entity_data ed`

const relationColumns = `er.id, er.source_id, er.target_id, er.relation_type, er.strength, er.metadata, er.created_at`

const contextSelect = `
	SELECT c.id, c.type, c.content, c.summary, c.topics, c.entity_ids, c.metadata, c.created_at
	FROM contexts c`

// GetEntity returns the entity with the given id.
// Returns an error wrapping ErrNotFound if it does not exist.
func (s *Store) GetEntity(ctx context.Context, id string) (ir.Entity, error) {
	return getEntity(ctx, s.db, id)
}

// ListEntities returns entities matching filter, most recently updated first.
// A limit <= 0 means no limit. Returns an empty slice (not nil) if none match.
func (s *Store) ListEntities(ctx context.Context, filter Filter, limit int) ([]ir.Entity, error) {
	return listEntities(ctx, s.db, filter, limit)
}

// GetEntities loads several entities by id. Missing ids are skipped.
func (s *Store) GetEntities(ctx context.Context, ids []string) (map[string]ir.Entity, error) {
	out := make(map[string]ir.Entity, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		entitySelect+" WHERE ed.entity_id IN ("+placeholders(len(ids))+")", args...)
	if err != nil {
		return nil, fmt.Errorf("query entities: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out[e.ID] = e
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entities: %w", err)
	}
	return out, nil
}

// Exists reports whether id names an entity or a context.
func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	return recordExists(ctx, s.db, id)
}

// GetRelation returns the relation with the given id.
func (s *Store) GetRelation(ctx context.Context, id string) (ir.Relation, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+relationColumns+" FROM entity_relations er WHERE er.id = ?", id)
	r, err := scanRelation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Relation{}, fmt.Errorf("relation %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return ir.Relation{}, fmt.Errorf("read relation %s: %w", id, err)
	}
	return r, nil
}

// ListRelations returns every relation ordered by creation time.
func (s *Store) ListRelations(ctx context.Context) ([]ir.Relation, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+relationColumns+" FROM entity_relations er ORDER BY er.created_at ASC, er.id ASC")
	if err != nil {
		return nil, fmt.Errorf("list relations: %w", err)
	}
	defer rows.Close()

	relations := []ir.Relation{}
	for rows.Next() {
		r, err := scanRelation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan relation: %w", err)
		}
		relations = append(relations, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate relations: %w", err)
	}
	return relations, nil
}

// CountRelations returns the number of stored relations.
func (s *Store) CountRelations(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM entity_relations").Scan(&n); err != nil {
		return 0, fmt.Errorf("count relations: %w", err)
	}
	return n, nil
}

// RelatedEntities returns entities connected to id in either direction,
// optionally restricted to the given relation types. Ordered by relation
// creation time.
func (s *Store) RelatedEntities(ctx context.Context, id string, types []ir.RelationType) ([]RelatedEntity, error) {
	query := "SELECT " + relationColumns + `,
			ed.entity_id, ed.type, ed.name, ed.content, ed.metadata, ed.tags, ed.created_at, ed.updated_at
		FROM entity_relations er
		JOIN entity_data ed ON (er.target_id = ed.entity_id AND er.source_id = ?)
			OR (er.source_id = ed.entity_id AND er.target_id = ?)
		WHERE 1 = 1`
	args := []any{id, id}
	query, args = appendRelationTypes(query, args, types)
	query += " ORDER BY er.created_at ASC, er.id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query related entities: %w", err)
	}
	defer rows.Close()

	related := []RelatedEntity{}
	for rows.Next() {
		var r ir.Relation
		var e ir.Entity
		var relType, relMeta, relCreated string
		var typ, meta, tags, created, updated string
		if err := rows.Scan(
			&r.ID, &r.SourceID, &r.TargetID, &relType, &r.Strength, &relMeta, &relCreated,
			&e.ID, &typ, &e.Name, &e.Content, &meta, &tags, &created, &updated,
		); err != nil {
			return nil, fmt.Errorf("scan related entity: %w", err)
		}
		if err := fillRelation(&r, relType, relMeta, relCreated); err != nil {
			return nil, err
		}
		if err := fillEntity(&e, typ, meta, tags, created, updated); err != nil {
			return nil, err
		}
		related = append(related, RelatedEntity{Relation: r, Entity: e})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate related entities: %w", err)
	}
	return related, nil
}

// RelatedContexts returns contexts connected to id in either direction.
func (s *Store) RelatedContexts(ctx context.Context, id string, types []ir.RelationType) ([]RelatedContext, error) {
	query := "SELECT " + relationColumns + `,
			c.id, c.type, c.content, c.summary, c.topics, c.entity_ids, c.metadata, c.created_at
		FROM entity_relations er
		JOIN contexts c ON (er.target_id = c.id AND er.source_id = ?)
			OR (er.source_id = c.id AND er.target_id = ?)
		WHERE 1 = 1`
	args := []any{id, id}
	query, args = appendRelationTypes(query, args, types)
	query += " ORDER BY er.created_at ASC, er.id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query related contexts: %w", err)
	}
	defer rows.Close()

	related := []RelatedContext{}
	for rows.Next() {
		var r ir.Relation
		var c ir.Context
		var relType, relMeta, relCreated string
		var typ, topics, eids, meta, created string
		if err := rows.Scan(
			&r.ID, &r.SourceID, &r.TargetID, &relType, &r.Strength, &relMeta, &relCreated,
			&c.ID, &typ, &c.Content, &c.Summary, &topics, &eids, &meta, &created,
		); err != nil {
			return nil, fmt.Errorf("scan related context: %w", err)
		}
		if err := fillRelation(&r, relType, relMeta, relCreated); err != nil {
			return nil, err
		}
		if err := fillContext(&c, typ, topics, eids, meta, created); err != nil {
			return nil, err
		}
		related = append(related, RelatedContext{Relation: r, Context: c})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate related contexts: %w", err)
	}
	return related, nil
}

// GetContext returns the context with the given id.
func (s *Store) GetContext(ctx context.Context, id string) (ir.Context, error) {
	return getContext(ctx, s.db, id)
}

// SearchContexts returns contexts whose content contains query (case
// insensitive for ASCII), newest first. An empty query matches every context.
func (s *Store) SearchContexts(ctx context.Context, query string, filter Filter, limit int) ([]ir.Context, error) {
	where, args, err := filter.where(contextColumns)
	if err != nil {
		return nil, fmt.Errorf("search contexts: %w", err)
	}
	sqlText := contextSelect + " WHERE c.content LIKE ? ESCAPE '\\'" + where + " ORDER BY c.created_at DESC, c.id ASC"
	args = append([]any{"%" + escapeLike(query) + "%"}, args...)
	if limit > 0 {
		sqlText += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, fmt.Errorf("search contexts: %w", err)
	}
	defer rows.Close()
	return collectContexts(rows)
}

func getEntity(ctx context.Context, q querier, id string) (ir.Entity, error) {
	row := q.QueryRowContext(ctx, entitySelect+" WHERE ed.entity_id = ?", id)
	e, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Entity{}, fmt.Errorf("entity %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return ir.Entity{}, fmt.Errorf("read entity %s: %w", id, err)
	}
	return e, nil
}

func listEntities(ctx context.Context, q querier, filter Filter, limit int) ([]ir.Entity, error) {
	where, args, err := filter.where(entityColumns)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	query := entitySelect + " WHERE 1 = 1" + where + " ORDER BY ed.updated_at DESC, ed.entity_id ASC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	defer rows.Close()

	entities := []ir.Entity{}
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		entities = append(entities, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entities: %w", err)
	}
	return entities, nil
}

func getContext(ctx context.Context, q querier, id string) (ir.Context, error) {
	row := q.QueryRowContext(ctx, contextSelect+" WHERE c.id = ?", id)
	c, err := scanContext(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Context{}, fmt.Errorf("context %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return ir.Context{}, fmt.Errorf("read context %s: %w", id, err)
	}
	return c, nil
}

func entityExists(ctx context.Context, q querier, id string) (bool, error) {
	var n int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM entities WHERE id = ?`, id).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func recordExists(ctx context.Context, q querier, id string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx, `
		SELECT (SELECT COUNT(*) FROM entity_data WHERE entity_id = ?)
		     + (SELECT COUNT(*) FROM contexts WHERE id = ?)
	`, id, id).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check %s exists: %w", id, err)
	}
	return n > 0, nil
}

func appendRelationTypes(query string, args []any, types []ir.RelationType) (string, []any) {
	if len(types) == 0 {
		return query, args
	}
	query += " AND er.relation_type IN (" + placeholders(len(types)) + ")"
	for _, t := range types {
		args = append(args, string(t))
	}
	return query, args
}

func collectContexts(rows *sql.Rows) ([]ir.Context, error) {
	contexts := []ir.Context{}
	for rows.Next() {
		c, err := scanContext(rows)
		if err != nil {
			return nil, err
		}
		contexts = append(contexts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contexts: %w", err)
	}
	return contexts, nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanEntity(row scanner) (ir.Entity, error) {
	var e ir.Entity
	var typ, meta, tags, created, updated string
	if err := row.Scan(&e.ID, &typ, &e.Name, &e.Content, &meta, &tags, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ir.Entity{}, err
		}
		return ir.Entity{}, fmt.Errorf("scan entity: %w", err)
	}
	if err := fillEntity(&e, typ, meta, tags, created, updated); err != nil {
		return ir.Entity{}, err
	}
	return e, nil
}

func fillEntity(e *ir.Entity, typ, meta, tags, created, updated string) error {
	var err error
	e.Type = ir.EntityType(typ)
	if e.Metadata, err = unmarshalMetadata(meta); err != nil {
		return err
	}
	if e.Tags, err = unmarshalStrings("tags", tags); err != nil {
		return err
	}
	if e.CreatedAt, err = parseTime("created_at", created); err != nil {
		return err
	}
	if e.UpdatedAt, err = parseTime("updated_at", updated); err != nil {
		return err
	}
	return nil
}

func scanRelation(row scanner) (ir.Relation, error) {
	var r ir.Relation
	var typ, meta, created string
	if err := row.Scan(&r.ID, &r.SourceID, &r.TargetID, &typ, &r.Strength, &meta, &created); err != nil {
		return ir.Relation{}, err
	}
	if err := fillRelation(&r, typ, meta, created); err != nil {
		return ir.Relation{}, err
	}
	return r, nil
}

func fillRelation(r *ir.Relation, typ, meta, created string) error {
	var err error
	r.RelationType = ir.RelationType(typ)
	if r.Metadata, err = unmarshalMetadata(meta); err != nil {
		return err
	}
	if r.CreatedAt, err = parseTime("created_at", created); err != nil {
		return err
	}
	return nil
}

func scanContext(row scanner) (ir.Context, error) {
	var c ir.Context
	var typ, topics, eids, meta, created string
	if err := row.Scan(&c.ID, &typ, &c.Content, &c.Summary, &topics, &eids, &meta, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ir.Context{}, err
		}
		return ir.Context{}, fmt.Errorf("scan context: %w", err)
	}
	if err := fillContext(&c, typ, topics, eids, meta, created); err != nil {
		return ir.Context{}, err
	}
	return c, nil
}

func fillContext(c *ir.Context, typ, topics, eids, meta, created string) error {
	var err error
	c.Type = ir.ContextType(typ)
	if c.Topics, err = unmarshalStrings("topics", topics); err != nil {
		return err
	}
	if c.EntityIDs, err = unmarshalStrings("entity_ids", eids); err != nil {
		return err
	}
	if c.Metadata, err = unmarshalMetadata(meta); err != nil {
		return err
	}
	if c.CreatedAt, err = parseTime("created_at", created); err != nil {
		return err
	}
	return nil
}
