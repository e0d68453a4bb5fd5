package harness

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/roach88/mnemo/internal/ir"
	"github.com/roach88/mnemo/internal/memory"
	"github.com/roach88/mnemo/internal/store"
	"github.com/roach88/mnemo/internal/workflow"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEntry // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, entry := range e.Trace {
			fmt.Fprintf(&buf, "  %s\n", entry)
		}
	}
	return buf.String()
}

// assertTraceContains checks for an entry carrying the label. For
// operations, args must match as a subset.
func assertTraceContains(trace []TraceEntry, assertion Assertion) error {
	for _, entry := range trace {
		if !entry.HasLabel(assertion.Label) {
			continue
		}
		if entry.Type == TraceOp && !subsetMatch(entry.Args, assertion.Args) {
			continue
		}
		return nil
	}

	expected := assertion.Label
	if len(assertion.Args) > 0 {
		expected = fmt.Sprintf("%s with args %v", assertion.Label, assertion.Args)
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: expected,
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that the labels first appear in the given order.
// Other entries may come in between.
func assertTraceOrder(trace []TraceEntry, assertion Assertion) error {
	positions := make(map[string]int)
	for i, entry := range trace {
		for _, label := range assertion.Labels {
			if positions[label] == 0 && entry.HasLabel(label) {
				positions[label] = i + 1
			}
		}
	}

	for _, label := range assertion.Labels {
		if positions[label] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all labels present: %v", assertion.Labels),
				Actual:   fmt.Sprintf("missing label: %s", label),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(assertion.Labels); i++ {
		prev, curr := assertion.Labels[i-1], assertion.Labels[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("labels in order: %v", assertion.Labels),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}
	return nil
}

// assertTraceCount checks that the label appears exactly Count times.
func assertTraceCount(trace []TraceEntry, assertion Assertion) error {
	count := 0
	for _, entry := range trace {
		if entry.HasLabel(assertion.Label) {
			count++
		}
	}
	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", assertion.Count, assertion.Label),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertRunCount counts runs of a workflow, optionally with a status.
func assertRunCount(runs []RunSummary, assertion Assertion) error {
	count := 0
	for _, r := range runs {
		if assertion.Workflow != "" && r.WorkflowID != assertion.Workflow {
			continue
		}
		if assertion.Status != "" && r.Status != assertion.Status {
			continue
		}
		count++
	}
	if count != assertion.Count {
		desc := "runs"
		if assertion.Workflow != "" {
			desc += " of " + assertion.Workflow
		}
		if assertion.Status != "" {
			desc += " with status " + assertion.Status
		}
		return &AssertionError{
			Type:     AssertRunCount,
			Expected: fmt.Sprintf("%d %s", assertion.Count, desc),
			Actual:   fmt.Sprintf("%d runs: %v", count, runs),
		}
	}
	return nil
}

// assertFinalState reads a table, selects the one record matching Where and
// checks the Expect fields. Keys of Where and Expect are dotted paths into
// the record's fields, so metadata.priority reaches into metadata.
func assertFinalState(ctx context.Context, mem *memory.Memory, assertion Assertion) error {
	rows, err := tableRows(ctx, mem, assertion.Table)
	if err != nil {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("read table %s", assertion.Table),
			Actual:   fmt.Sprintf("read error: %v", err),
		}
	}

	var matched []map[string]any
	for _, row := range rows {
		if rowMatches(row, assertion.Where) {
			matched = append(matched, row)
		}
	}

	whereDesc := formatWhereClause(assertion.Where)
	switch len(matched) {
	case 0:
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("row in %s where %s", assertion.Table, whereDesc),
			Actual:   "row not found",
		}
	case 1:
	default:
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("exactly one row in %s where %s", assertion.Table, whereDesc),
			Actual:   fmt.Sprintf("%d rows matched (assertion is ambiguous)", len(matched)),
		}
	}

	row := matched[0]
	for _, key := range sortedKeys(assertion.Expect) {
		want := assertion.Expect[key]
		got, ok := workflow.Lookup(row, key)
		if !ok {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q to exist", key),
				Actual:   fmt.Sprintf("field %q not present in %s row", key, assertion.Table),
			}
		}
		if !stateValuesEqual(want, got) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q = %v (type %T)", key, want, want),
				Actual:   fmt.Sprintf("field %q = %v (type %T)", key, got, got),
			}
		}
	}
	return nil
}

// tableRows returns every record of a table in the flat field form used by
// trigger matching.
func tableRows(ctx context.Context, mem *memory.Memory, table string) ([]map[string]any, error) {
	var rows []map[string]any
	switch table {
	case TableEntities:
		entities, err := mem.ListEntities(ctx, store.Filter{}, 0)
		if err != nil {
			return nil, err
		}
		for _, e := range entities {
			rows = append(rows, ir.EntityMutation(ir.OpCreated, e).Fields())
		}
	case TableContexts:
		contexts, err := mem.SearchContexts(ctx, "", store.Filter{}, 0)
		if err != nil {
			return nil, err
		}
		for _, c := range contexts {
			rows = append(rows, ir.ContextMutation(ir.OpCreated, c).Fields())
		}
	case TableRelations:
		relations, err := mem.Store().ListRelations(ctx)
		if err != nil {
			return nil, err
		}
		for _, r := range relations {
			rows = append(rows, ir.RelationMutation(ir.OpCreated, r).Fields())
		}
	default:
		return nil, fmt.Errorf("unknown table %q", table)
	}
	return rows, nil
}

func rowMatches(row, where map[string]any) bool {
	for key, want := range where {
		got, ok := workflow.Lookup(row, key)
		if !ok || !stateValuesEqual(want, got) {
			return false
		}
	}
	return true
}

// formatWhereClause creates a human-readable description of where conditions.
func formatWhereClause(where map[string]any) string {
	if len(where) == 0 {
		return "(no conditions)"
	}
	keys := sortedKeys(where)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, where[k]))
	}
	return strings.Join(parts, " AND ")
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// stateValuesEqual compares a scenario value with a stored one. Numbers
// compare by value whatever their Go type; lists compare element-wise and
// maps as a subset of the stored map.
func stateValuesEqual(expected, actual any) bool {
	if expected == nil || actual == nil {
		return expected == nil && actual == nil
	}
	if ef, ok := toFloat(expected); ok {
		af, ok := toFloat(actual)
		return ok && ef == af
	}
	switch exp := expected.(type) {
	case []any:
		act, ok := actual.([]any)
		if !ok || len(act) != len(exp) {
			return false
		}
		for i := range exp {
			if !stateValuesEqual(exp[i], act[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		act, ok := actual.(map[string]any)
		return ok && subsetMatch(act, exp)
	}
	return reflect.DeepEqual(expected, actual)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	return 0, false
}

// subsetMatch reports whether every key of expected is in actual with an
// equal value. Extra keys in actual are ignored.
func subsetMatch(actual, expected map[string]any) bool {
	for key, want := range expected {
		got, ok := actual[key]
		if !ok || !stateValuesEqual(want, got) {
			return false
		}
	}
	return true
}

// AssertionContext provides what assertions need beyond the result.
type AssertionContext struct {
	Memory *memory.Memory
	Ctx    context.Context
}

// EvaluateAssertions evaluates every assertion against the result and
// returns one message per failure.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertRunCount:
			err = assertRunCount(result.Runs, assertion)
		case AssertFinalState:
			if actx == nil || actx.Memory == nil {
				err = fmt.Errorf("assertion[%d]: final_state requires a memory store", i)
			} else {
				err = assertFinalState(actx.Ctx, actx.Memory, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
