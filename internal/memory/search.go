package memory

import (
	"context"
	"sort"
	"strings"

	"github.com/roach88/mnemo/internal/ir"
	"github.com/roach88/mnemo/internal/store"
)

// Hybrid score weights.
const (
	VectorWeight  = 0.6
	LexicalWeight = 0.4

	// LexicalCap is the lexical relevance at which the lexical contribution
	// saturates. FTS5 bm25 scores for short personal notes rarely exceed it.
	LexicalCap = 10.0

	// DefaultSearchLimit applies when Search is called with limit <= 0.
	DefaultSearchLimit = 10
)

// SearchResult is one ranked entity.
type SearchResult struct {
	Entity       ir.Entity `json:"entity"`
	Score        float64   `json:"score"`
	VectorScore  float64   `json:"vector_score,omitempty"`
	LexicalScore float64   `json:"lexical_score,omitempty"`
}

// candidate is a merged hit before entities are loaded.
type candidate struct {
	id      string
	score   float64
	vector  float64
	lexical float64
}

// Search ranks entities against query by blending vector similarity and
// lexical relevance.
//
// An empty query with an empty filter returns no results. An empty query with
// a filter lists matching entities with score 0. When the embedder or the
// vector index fails, the failure is logged and lexical results are returned.
func (m *Memory) Search(ctx context.Context, query string, filter store.Filter, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	query = strings.TrimSpace(query)
	if query == "" {
		if filter.IsZero() {
			return []SearchResult{}, nil
		}
		entities, err := m.db.ListEntities(ctx, filter, limit)
		if err != nil {
			return nil, persistenceError("search", "", err)
		}
		results := make([]SearchResult, len(entities))
		for i, e := range entities {
			results[i] = SearchResult{Entity: e}
		}
		return results, nil
	}

	pool := 2 * limit
	vectorHits := m.vectorHits(ctx, query, filter, pool)

	lexicalHits, err := m.db.LexicalSearch(ctx, query, filter, pool)
	if err != nil {
		return nil, persistenceError("search", "", err)
	}

	merged := mergeHits(vectorHits, lexicalHits, m.lexicalCap)
	if len(merged) > limit {
		merged = merged[:limit]
	}

	ids := make([]string, len(merged))
	for i, c := range merged {
		ids[i] = c.id
	}
	entities, err := m.db.GetEntities(ctx, ids)
	if err != nil {
		return nil, persistenceError("search", "", err)
	}

	results := make([]SearchResult, 0, len(merged))
	for _, c := range merged {
		e, ok := entities[c.id]
		if !ok {
			continue
		}
		results = append(results, SearchResult{
			Entity:       e,
			Score:        c.score,
			VectorScore:  c.vector,
			LexicalScore: c.lexical,
		})
	}
	return results, nil
}

func (m *Memory) vectorHits(ctx context.Context, query string, filter store.Filter, limit int) []store.VectorHit {
	if m.embedder == nil {
		return nil
	}
	vec, err := m.embedder.Embed(ctx, query)
	if err != nil {
		m.logger.Warn("query embedding failed, using lexical search only",
			"embedder", m.embedder.Name(),
			"error", err)
		return nil
	}
	hits, err := m.db.VectorSearch(ctx, vec, filter, limit)
	if err != nil {
		m.logger.Warn("vector search failed, using lexical search only", "error", err)
		return nil
	}
	return hits
}

// mergeHits combines both hit lists by id. A candidate found by one method
// gets only that method's contribution. Sorted by descending score, then id.
func mergeHits(vector []store.VectorHit, lexical []store.LexicalHit, lexicalCap float64) []candidate {
	byID := map[string]*candidate{}
	get := func(id string) *candidate {
		c, ok := byID[id]
		if !ok {
			c = &candidate{id: id}
			byID[id] = c
		}
		return c
	}

	for _, h := range vector {
		c := get(h.ID)
		c.vector = 1 - h.Distance
		c.score += VectorWeight * c.vector
	}
	for _, h := range lexical {
		c := get(h.ID)
		c.lexical = max(0, min(h.Relevance, lexicalCap)) / lexicalCap
		c.score += LexicalWeight * c.lexical
	}

	out := make([]candidate, 0, len(byID))
	for _, c := range byID {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		return out[i].id < out[j].id
	})
	return out
}
