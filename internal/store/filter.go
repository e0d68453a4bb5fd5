package store

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/roach88/mnemo/internal/ir"
)

// Filter narrows entity and context queries. Every set field is an
// AND-combined predicate. The zero Filter matches everything.
type Filter struct {
	// Type requires an exact type match.
	Type string
	// Types requires the type to be one of the listed values.
	Types []string
	// Tags requires at least one shared tag. For contexts it matches topics.
	Tags []string
	// Metadata maps dotted paths ("owner.team") to required values.
	// Values compare with SQL equality on json_extract; nil matches a missing
	// or null value.
	Metadata map[string]any
	// CreatedAfter and CreatedBefore are exclusive bounds.
	CreatedAfter  time.Time
	CreatedBefore time.Time
}

// IsZero reports whether the filter has no predicates.
func (f Filter) IsZero() bool {
	return f.Type == "" && len(f.Types) == 0 && len(f.Tags) == 0 && len(f.Metadata) == 0 &&
		f.CreatedAfter.IsZero() && f.CreatedBefore.IsZero()
}

// filterColumns names the columns a filter compiles against.
type filterColumns struct {
	typ      string
	tags     string
	metadata string
	created  string
}

var (
	entityColumns = filterColumns{
		typ:      "ed.type",
		tags:     "ed.tags",
		metadata: "ed.metadata",
		created:  "ed.created_at",
	}
	contextColumns = filterColumns{
		typ:      "c.type",
		tags:     "c.topics",
		metadata: "c.metadata",
		created:  "c.created_at",
	}
)

var pathSegment = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// where compiles the filter into a parameterized SQL fragment beginning with
// " AND " (or the empty string) plus its arguments. Predicates are emitted in
// a fixed order so the same filter always yields the same SQL.
func (f Filter) where(cols filterColumns) (string, []any, error) {
	var (
		clauses []string
		args    []any
	)

	if f.Type != "" {
		clauses = append(clauses, cols.typ+" = ?")
		args = append(args, f.Type)
	}

	if len(f.Types) > 0 {
		clauses = append(clauses, fmt.Sprintf("%s IN (%s)", cols.typ, placeholders(len(f.Types))))
		for _, t := range f.Types {
			args = append(args, t)
		}
	}

	if len(f.Tags) > 0 {
		clauses = append(clauses, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM json_each(%s) WHERE json_each.value IN (%s))",
			cols.tags, placeholders(len(f.Tags))))
		for _, t := range f.Tags {
			args = append(args, t)
		}
	}

	if len(f.Metadata) > 0 {
		keys := make([]string, 0, len(f.Metadata))
		for k := range f.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			path, err := jsonPath(k)
			if err != nil {
				return "", nil, err
			}
			v := f.Metadata[k]
			if v == nil {
				clauses = append(clauses, fmt.Sprintf("json_extract(%s, ?) IS NULL", cols.metadata))
				args = append(args, path)
				continue
			}
			sqlValue, err := metadataValue(v)
			if err != nil {
				return "", nil, fmt.Errorf("metadata filter %q: %w", k, err)
			}
			clauses = append(clauses, fmt.Sprintf("json_extract(%s, ?) = ?", cols.metadata))
			args = append(args, path, sqlValue)
		}
	}

	if !f.CreatedAfter.IsZero() {
		clauses = append(clauses, cols.created+" > ?")
		args = append(args, ir.FormatTime(f.CreatedAfter))
	}
	if !f.CreatedBefore.IsZero() {
		clauses = append(clauses, cols.created+" < ?")
		args = append(args, ir.FormatTime(f.CreatedBefore))
	}

	if len(clauses) == 0 {
		return "", nil, nil
	}
	return " AND " + strings.Join(clauses, " AND "), args, nil
}

// jsonPath converts "a.b.c" to the JSON path "$.a.b.c".
func jsonPath(dotted string) (string, error) {
	segments := strings.Split(dotted, ".")
	for _, s := range segments {
		if !pathSegment.MatchString(s) {
			return "", fmt.Errorf("invalid metadata path %q", dotted)
		}
	}
	return "$." + dotted, nil
}

// metadataValue maps a Go value to what json_extract returns for it.
func metadataValue(v any) (any, error) {
	switch val := v.(type) {
	case string, int, int32, int64, float32, float64:
		return val, nil
	case bool:
		if val {
			return 1, nil
		}
		return 0, nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
