package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// LexicalHit is one lexical search result. Higher relevance ranks first.
type LexicalHit struct {
	ID        string
	Relevance float64
}

// VectorHit is one nearest-neighbour result. Lower distance ranks first.
type VectorHit struct {
	ID       string
	Distance float64
}

// ftsSpecial are characters with meaning in FTS5 query syntax.
const ftsSpecial = `"()*^:{}+-[]`

// LexicalTerms splits a free-text query into lower-cased search terms with
// FTS5 operators removed.
func LexicalTerms(query string) []string {
	cleaned := strings.Map(func(r rune) rune {
		if strings.ContainsRune(ftsSpecial, r) {
			return ' '
		}
		return r
	}, strings.ToLower(query))
	var terms []string
	for _, f := range strings.Fields(cleaned) {
		switch f {
		case "and", "or", "not", "near":
			continue
		}
		terms = append(terms, f)
	}
	return terms
}

// ftsMatchExpression quotes each term and ORs them together.
func ftsMatchExpression(terms []string) string {
	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = `"` + t + `"`
	}
	return strings.Join(quoted, " OR ")
}

// LexicalSearch ranks entities against query, restricted by filter.
//
// With FTS5 the relevance is -bm25 (name weighted above content and tags).
// Without it a LIKE scan scores each term: 2 for a name hit, 1 for content
// and 1 for tags. Returns an empty slice when the query has no terms.
func (s *Store) LexicalSearch(ctx context.Context, query string, filter Filter, limit int) ([]LexicalHit, error) {
	terms := LexicalTerms(query)
	if len(terms) == 0 {
		return []LexicalHit{}, nil
	}
	if limit <= 0 {
		limit = 10
	}

	where, filterArgs, err := filter.where(entityColumns)
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}

	var (
		sqlText string
		args    []any
	)
	if s.lexical {
		sqlText = `
			SELECT ed.entity_id, -bm25(entity_fts, 0.0, 10.0, 1.0, 2.0) AS relevance
			FROM entity_fts
			JOIN entity_data ed ON ed.entity_id = entity_fts.entity_id
			WHERE entity_fts MATCH ?` + where + `
			ORDER BY relevance DESC, ed.entity_id ASC
			LIMIT ?`
		args = append(args, ftsMatchExpression(terms))
		args = append(args, filterArgs...)
		args = append(args, limit)
	} else {
		scores := make([]string, 0, len(terms))
		for _, t := range terms {
			scores = append(scores,
				"(CASE WHEN instr(lower(ed.name), ?) > 0 THEN 2 ELSE 0 END)",
				"(CASE WHEN instr(lower(ed.content), ?) > 0 THEN 1 ELSE 0 END)",
				"(CASE WHEN instr(lower(ed.tags), ?) > 0 THEN 1 ELSE 0 END)",
			)
			args = append(args, t, t, t)
		}
		sqlText = `
			SELECT id, relevance FROM (
				SELECT ed.entity_id AS id, (` + strings.Join(scores, " + ") + `) AS relevance
				FROM entity_data ed
				WHERE 1 = 1` + where + `
			)
			WHERE relevance > 0
			ORDER BY relevance DESC, id ASC
			LIMIT ?`
		args = append(args, filterArgs...)
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}
	defer rows.Close()

	hits := []LexicalHit{}
	for rows.Next() {
		var h LexicalHit
		if err := rows.Scan(&h.ID, &h.Relevance); err != nil {
			return nil, fmt.Errorf("scan lexical hit: %w", err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate lexical hits: %w", err)
	}
	return hits, nil
}

// VectorSearch returns up to limit entities nearest to vec by cosine
// distance, restricted by filter. Only embeddings with the same
// dimensionality as vec are considered.
//
// When sqlite-vec is loaded the distance is computed in SQL with
// vec_distance_cosine; otherwise candidates are scanned and ranked in Go.
func (s *Store) VectorSearch(ctx context.Context, vec []float32, filter Filter, limit int) ([]VectorHit, error) {
	if len(vec) == 0 {
		return []VectorHit{}, nil
	}
	if limit <= 0 {
		limit = 10
	}
	where, filterArgs, err := filter.where(entityColumns)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	if s.vector {
		return s.vectorSearchSQL(ctx, vec, where, filterArgs, limit)
	}
	return s.vectorSearchScan(ctx, vec, where, filterArgs, limit)
}

func (s *Store) vectorSearchSQL(ctx context.Context, vec []float32, where string, filterArgs []any, limit int) ([]VectorHit, error) {
	args := []any{EncodeVector(vec), len(vec)}
	args = append(args, filterArgs...)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, `
		SELECT ee.entity_id, vec_distance_cosine(ee.embedding, ?) AS distance
		FROM entity_embeddings ee
		JOIN entity_data ed ON ed.entity_id = ee.entity_id
		WHERE ee.dims = ?`+where+`
		ORDER BY distance ASC, ee.entity_id ASC
		LIMIT ?
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	hits := []VectorHit{}
	for rows.Next() {
		var h VectorHit
		if err := rows.Scan(&h.ID, &h.Distance); err != nil {
			return nil, fmt.Errorf("scan vector hit: %w", err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate vector hits: %w", err)
	}
	return hits, nil
}

func (s *Store) vectorSearchScan(ctx context.Context, vec []float32, where string, filterArgs []any, limit int) ([]VectorHit, error) {
	args := append([]any{len(vec)}, filterArgs...)
	rows, err := s.db.QueryContext(ctx, `
		SELECT ee.entity_id, ee.embedding
		FROM entity_embeddings ee
		JOIN entity_data ed ON ed.entity_id = ee.entity_id
		WHERE ee.dims = ?`+where, args...)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	hits := []VectorHit{}
	for rows.Next() {
		var (
			id   string
			blob []byte
		)
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("scan embedding: %w", err)
		}
		stored, err := DecodeVector(blob)
		if err != nil {
			return nil, fmt.Errorf("decode embedding %s: %w", id, err)
		}
		hits = append(hits, VectorHit{ID: id, Distance: CosineDistance(vec, stored)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate embeddings: %w", err)
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// escapeLike escapes LIKE wildcards so query text matches literally.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
