package workflow

import (
	"strings"

	"golang.org/x/text/cases"

	"github.com/roach88/mnemo/internal/ir"
)

// Matches reports whether payload satisfies every field set in spec.
//
//   - Type matches the record's own type exactly.
//   - Content and Name are case-insensitive substring matches.
//   - Tags match when any spec tag is among the record's tags (topics for
//     contexts), compared case-insensitively.
//   - Metadata matches when every listed key (dotted paths allowed) equals the
//     record's value.
//
// A spec with no field set never matches.
func Matches(spec ir.TriggerSpec, payload ir.MutationPayload) bool {
	if spec.IsEmpty() {
		return false
	}
	fields := payload.Fields()

	if spec.Type != "" && fieldString(fields, "type") != spec.Type {
		return false
	}
	if spec.ContentSubstring != "" && !containsFold(fieldString(fields, "content"), spec.ContentSubstring) {
		return false
	}
	if spec.NameSubstring != "" && !containsFold(fieldString(fields, "name"), spec.NameSubstring) {
		return false
	}
	if len(spec.Tags) > 0 && !tagsIntersect(payloadTags(payload, fields), spec.Tags) {
		return false
	}
	if len(spec.Metadata) > 0 {
		meta, _ := fields["metadata"].(map[string]any)
		for key, want := range spec.Metadata {
			got, ok := Lookup(meta, key)
			if !ok || !valuesEqual(got, want) {
				return false
			}
		}
	}
	return true
}

// FirstMatch returns the first payload of ev matching spec.
func FirstMatch(spec ir.TriggerSpec, ev ir.Event) (ir.MutationPayload, bool) {
	for _, p := range ev.Payload {
		if Matches(spec, p) {
			return p, true
		}
	}
	return ir.MutationPayload{}, false
}

func fieldString(fields map[string]any, key string) string {
	s, _ := fields[key].(string)
	return s
}

func payloadTags(p ir.MutationPayload, fields map[string]any) []any {
	key := "tags"
	if p.Kind == ir.KindContext {
		key = "topics"
	}
	tags, _ := fields[key].([]any)
	return tags
}

func containsFold(s, substr string) bool {
	fold := cases.Fold()
	return strings.Contains(fold.String(s), fold.String(substr))
}

func tagsIntersect(have []any, want []string) bool {
	fold := cases.Fold()
	set := make(map[string]bool, len(have))
	for _, t := range have {
		if s, ok := t.(string); ok {
			set[fold.String(s)] = true
		}
	}
	for _, t := range want {
		if set[fold.String(t)] {
			return true
		}
	}
	return false
}
