package workflow

import (
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/mnemo/internal/ir"
)

// placeholder matches {{ dotted.path }} with optional inner whitespace.
var placeholder = regexp.MustCompile(`\{\{\s*([^}]+?)\s*\}\}`)

// Resolver substitutes {{ path }} placeholders with values looked up in a
// run context. Resolution never fails: unresolved placeholders are left
// verbatim and logged.
type Resolver struct {
	logger *slog.Logger
}

// NewResolver returns a Resolver that logs unresolved placeholders to logger
// (slog.Default() when nil).
func NewResolver(logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{logger: logger}
}

// Resolve replaces every placeholder in s with the string form of its value.
func (r *Resolver) Resolve(s string, data map[string]any) string {
	return placeholder.ReplaceAllStringFunc(s, func(m string) string {
		path := placeholder.FindStringSubmatch(m)[1]
		v, ok := Lookup(data, path)
		if !ok {
			r.logger.Warn("unresolved template placeholder", "path", path)
			return m
		}
		return Stringify(v)
	})
}

// ResolveValue resolves strings nested anywhere inside v. A string that is
// exactly one placeholder resolves to the raw value, keeping its type, so
// lists and numbers survive substitution.
func (r *Resolver) ResolveValue(v any, data map[string]any) any {
	switch x := v.(type) {
	case string:
		if m := placeholder.FindStringSubmatchIndex(x); m != nil && m[0] == 0 && m[1] == len(x) {
			path := x[m[2]:m[3]]
			if val, ok := Lookup(data, path); ok {
				return val
			}
			r.logger.Warn("unresolved template placeholder", "path", path)
			return x
		}
		return r.Resolve(x, data)
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			out[k] = r.ResolveValue(item, data)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = r.ResolveValue(item, data)
		}
		return out
	case []string:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = r.ResolveValue(item, data)
		}
		return out
	default:
		return v
	}
}

// ResolveParams resolves a copy of params.
func (r *Resolver) ResolveParams(params map[string]any, data map[string]any) map[string]any {
	if params == nil {
		return map[string]any{}
	}
	return r.ResolveValue(params, data).(map[string]any)
}

// Lookup walks a dotted path through maps and slices. Numeric segments
// index into slices.
func Lookup(data map[string]any, path string) (any, bool) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, false
	}
	var cur any = data
	for _, seg := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		case []string:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

// Stringify renders a context value for substitution into text.
// Integral floats print without a fraction; composites print as canonical
// JSON.
func Stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1e15 {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'g', -1, 64)
	case time.Time:
		return ir.FormatTime(x)
	case fmt.Stringer:
		return x.String()
	default:
		if b, err := ir.MarshalCanonical(v); err == nil {
			return string(b)
		}
		return fmt.Sprint(v)
	}
}
