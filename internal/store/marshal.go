package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/mnemo/internal/ir"
)

// marshalJSON converts a column value to JSON TEXT with HTML escaping
// disabled. nil maps and slices are stored as their empty form.
func marshalJSON(v any) (string, error) {
	switch val := v.(type) {
	case map[string]any:
		if val == nil {
			return "{}", nil
		}
	case []string:
		if val == nil {
			return "[]", nil
		}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}

func marshalMetadata(m map[string]any) (string, error) {
	s, err := marshalJSON(m)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}
	return s, nil
}

func marshalStrings(field string, list []string) (string, error) {
	s, err := marshalJSON(list)
	if err != nil {
		return "", fmt.Errorf("marshal %s: %w", field, err)
	}
	return s, nil
}

// unmarshalMetadata parses a metadata column. Always returns a non-nil map.
func unmarshalMetadata(data string) (map[string]any, error) {
	m := map[string]any{}
	if data == "" || data == "{}" {
		return m, nil
	}
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return m, nil
}

// unmarshalStrings parses a JSON string list column. Always returns a non-nil slice.
func unmarshalStrings(field, data string) ([]string, error) {
	list := []string{}
	if data == "" || data == "[]" {
		return list, nil
	}
	if err := json.Unmarshal([]byte(data), &list); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", field, err)
	}
	return list, nil
}

func parseTime(field, s string) (time.Time, error) {
	t, err := ir.ParseTime(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: %w", field, err)
	}
	return t, nil
}
