package memory

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/text/cases"

	"github.com/roach88/mnemo/internal/ir"
	"github.com/roach88/mnemo/internal/store"
)

// Metadata keys written by extraction.
const (
	MetaExtractHash = "extract_hash"
	MetaActionItems = "action_items"
	MetaAutoGen     = "auto_generated"
	MetaConfidence  = "confidence"
)

// LinkThreshold is the name similarity above which an extracted entity is
// linked to an existing one instead of being created.
const LinkThreshold = 0.8

const defaultConfidence = 0.5

// Extractor pulls structure out of free text. Implementations are external;
// tests use a stub.
type Extractor interface {
	Extract(ctx context.Context, text string) (ExtractionResult, error)
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(ctx context.Context, text string) (ExtractionResult, error)

// Extract calls f.
func (f ExtractorFunc) Extract(ctx context.Context, text string) (ExtractionResult, error) {
	return f(ctx, text)
}

// ExtractionResult is what an Extractor found in one text.
type ExtractionResult struct {
	Entities    []ExtractedEntity `json:"entities"`
	Topics      []string          `json:"topics"`
	Summary     string            `json:"summary,omitempty"`
	ActionItems []string          `json:"action_items"`
}

// ExtractedEntity is one entity mention.
type ExtractedEntity struct {
	Type       string  `json:"type"`
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// extraction is the resolved outcome of running the Extractor for a context,
// computed before the write transaction opens.
type extraction struct {
	hash    string
	result  ExtractionResult
	created []plannedEntity
	linked  []linkedEntity
}

type plannedEntity struct {
	entity ir.Entity
	vec    []float32
}

type linkedEntity struct {
	id         string
	typ        ir.EntityType
	confidence float64
	similarity float64
}

// foldName case-folds a name for comparison. Casers are stateful, so each
// call gets its own.
func foldName(s string) string {
	return cases.Fold().String(s)
}

// extract runs the Extractor for c unless extraction is disabled or the
// content hash matches a previous run. Extractor failures are logged and
// yield nil.
func (m *Memory) extract(ctx context.Context, c ir.Context, prior *ir.Context) *extraction {
	if m.extractor == nil {
		return nil
	}
	hash := ir.ContentHash(c.Content)
	if c.Metadata[MetaExtractHash] == hash {
		return nil
	}
	if prior != nil && prior.Metadata[MetaExtractHash] == hash {
		m.logger.Debug("using cached extraction", "context_id", c.ID)
		return nil
	}

	result, err := m.extractor.Extract(ctx, c.Content)
	if err != nil {
		m.logger.Warn("extraction failed, context saved without it",
			"context_id", c.ID,
			"error", err)
		return nil
	}

	x := &extraction{hash: hash, result: result}
	seen := map[string]bool{}
	for _, cand := range result.Entities {
		typ := ir.EntityType(cand.Type)
		name := strings.TrimSpace(cand.Name)
		if !typ.Valid() || name == "" {
			m.logger.Debug("skipping extracted entity", "type", cand.Type, "name", cand.Name)
			continue
		}
		key := string(typ) + "\x00" + foldName(name)
		if seen[key] {
			continue
		}
		seen[key] = true

		confidence := cand.Confidence
		if confidence <= 0 || confidence > 1 {
			confidence = defaultConfidence
		}

		match, similarity, err := m.bestMatch(ctx, typ, name)
		if err != nil {
			m.logger.Warn("entity matching failed", "name", name, "error", err)
		}
		if match != "" && similarity > LinkThreshold {
			x.linked = append(x.linked, linkedEntity{id: match, typ: typ, confidence: confidence, similarity: similarity})
			continue
		}

		e := ir.Entity{
			ID:      m.ids.Generate(),
			Type:    typ,
			Name:    name,
			Content: fmt.Sprintf("Auto-extracted from context: %s", c.ID),
			Metadata: map[string]any{
				MetaAutoGen:    true,
				MetaConfidence: confidence,
			},
			Tags:      []string{},
			CreatedAt: m.Now(),
			UpdatedAt: m.Now(),
		}
		x.created = append(x.created, plannedEntity{
			entity: e,
			vec:    m.embedText(ctx, "entity", e.ID, entityEmbeddingText(e)),
		})
	}
	return x
}

// bestMatch finds the stored entity of typ whose name is most similar to
// name among the top lexical hits.
func (m *Memory) bestMatch(ctx context.Context, typ ir.EntityType, name string) (string, float64, error) {
	hits, err := m.db.LexicalSearch(ctx, name, store.Filter{Type: string(typ)}, 5)
	if err != nil {
		return "", 0, err
	}
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	entities, err := m.db.GetEntities(ctx, ids)
	if err != nil {
		return "", 0, err
	}

	var best string
	var bestScore float64
	for _, id := range ids {
		e, ok := entities[id]
		if !ok {
			continue
		}
		if s := NameSimilarity(name, e.Name); s > bestScore {
			best, bestScore = id, s
		}
	}
	return best, bestScore, nil
}

// apply folds the extraction into c and returns the relations to write from
// c to every linked entity.
func (x *extraction) apply(c *ir.Context) []ir.Relation {
	c.Metadata[MetaExtractHash] = x.hash
	if len(x.result.ActionItems) > 0 {
		c.Metadata[MetaActionItems] = stringsToAny(x.result.ActionItems)
	}
	if len(c.Topics) == 0 && len(x.result.Topics) > 0 {
		c.Topics = append([]string(nil), x.result.Topics...)
	}
	if c.Summary == "" {
		c.Summary = x.result.Summary
	}

	for _, p := range x.created {
		c.EntityIDs = appendUnique(c.EntityIDs, p.entity.ID)
	}
	var relations []ir.Relation
	for _, l := range x.linked {
		c.EntityIDs = appendUnique(c.EntityIDs, l.id)
		relations = append(relations, ir.Relation{
			SourceID:     c.ID,
			TargetID:     l.id,
			RelationType: relationFor(l.typ),
			Strength:     l.confidence,
			Metadata: map[string]any{
				MetaAutoGen:             true,
				"extraction_confidence": l.confidence,
				"similarity":            l.similarity,
			},
		})
	}
	return relations
}

// relationFor picks the relation type from a context to an extracted entity.
func relationFor(t ir.EntityType) ir.RelationType {
	switch t {
	case ir.EntityPerson:
		return ir.RelMentions
	case ir.EntityTechnology, ir.EntityFile:
		return ir.RelReferences
	default:
		return ir.RelRelatesTo
	}
}

// NameSimilarity scores two entity names in [0, 1] after case folding.
// Identical names score 1. Otherwise the score is the Ratcliff/Obershelp
// ratio, raised to 0.7 when a word of one name occurs in the other.
func NameSimilarity(a, b string) float64 {
	a = foldName(strings.TrimSpace(a))
	b = foldName(strings.TrimSpace(b))
	if a == b {
		return 1
	}
	ra, rb := []rune(a), []rune(b)
	total := len(ra) + len(rb)
	if total == 0 {
		return 1
	}
	score := 2 * float64(matchingRunes(ra, rb)) / float64(total)

	if sharesWord(a, b) || sharesWord(b, a) {
		score = max(score, 0.7)
	}
	return score
}

func sharesWord(a, b string) bool {
	for _, w := range strings.Fields(a) {
		if strings.Contains(b, w) {
			return true
		}
	}
	return false
}

// matchingRunes counts the runes covered by recursively taking the longest
// common block and matching to its left and right.
func matchingRunes(a, b []rune) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	i, j, n := longestBlock(a, b)
	if n == 0 {
		return 0
	}
	return n + matchingRunes(a[:i], b[:j]) + matchingRunes(a[i+n:], b[j+n:])
}

func longestBlock(a, b []rune) (int, int, int) {
	var bi, bj, bn int
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				cur[j] = prev[j-1] + 1
				if cur[j] > bn {
					bi, bj, bn = i-cur[j], j-cur[j], cur[j]
				}
			} else {
				cur[j] = 0
			}
		}
		prev, cur = cur, prev
	}
	return bi, bj, bn
}

func appendUnique(list []string, v string) []string {
	for _, s := range list {
		if s == v {
			return list
		}
	}
	return append(list, v)
}

func stringsToAny(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
