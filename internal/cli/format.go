package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/roach88/mnemo/internal/ir"
	"github.com/roach88/mnemo/internal/memory"
	"github.com/roach88/mnemo/internal/store"
)

// parseObject decodes a --metadata style flag. Empty input is nil.
func parseObject(flag, raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("--%s must be a JSON object: %w", flag, err)
	}
	return m, nil
}

// readContent returns inline content, or the contents of path ("-" reads
// stdin) when path is set.
func readContent(inline, path string, stdin io.Reader) (string, error) {
	if path == "" {
		return inline, nil
	}
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("read content: %w", err)
	}
	return string(data), nil
}

// whereFilter turns --where path=value pairs into metadata predicates.
func whereFilter(where map[string]string) map[string]any {
	if len(where) == 0 {
		return nil
	}
	out := make(map[string]any, len(where))
	for k, v := range where {
		out[k] = v
	}
	return out
}

func compactJSON(v any) string {
	if v == nil {
		return "{}"
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

func timestamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func printEntity(w io.Writer, e ir.Entity) {
	tw := newTable(w)
	fmt.Fprintf(tw, "ID:\t%s\n", e.ID)
	fmt.Fprintf(tw, "Type:\t%s\n", e.Type)
	fmt.Fprintf(tw, "Name:\t%s\n", e.Name)
	if len(e.Tags) > 0 {
		fmt.Fprintf(tw, "Tags:\t%s\n", strings.Join(e.Tags, ", "))
	}
	if len(e.Metadata) > 0 {
		fmt.Fprintf(tw, "Metadata:\t%s\n", compactJSON(e.Metadata))
	}
	fmt.Fprintf(tw, "Created:\t%s\n", timestamp(e.CreatedAt))
	fmt.Fprintf(tw, "Updated:\t%s\n", timestamp(e.UpdatedAt))
	tw.Flush()
	if e.Content != "" {
		fmt.Fprintf(w, "\n%s\n", e.Content)
	}
}

func printEntities(w io.Writer, entities []ir.Entity) {
	if len(entities) == 0 {
		fmt.Fprintln(w, "No entities found")
		return
	}
	tw := newTable(w)
	fmt.Fprintln(tw, "ID\tTYPE\tNAME\tTAGS")
	for _, e := range entities {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.ID, e.Type, e.Name, strings.Join(e.Tags, ","))
	}
	tw.Flush()
}

func printSearchResults(w io.Writer, results []memory.SearchResult) {
	if len(results) == 0 {
		fmt.Fprintln(w, "No matches")
		return
	}
	tw := newTable(w)
	fmt.Fprintln(tw, "SCORE\tID\tTYPE\tNAME")
	for _, r := range results {
		fmt.Fprintf(tw, "%.3f\t%s\t%s\t%s\n", r.Score, r.Entity.ID, r.Entity.Type, r.Entity.Name)
	}
	tw.Flush()
}

func printRelated(w io.Writer, related []store.RelatedEntity) {
	if len(related) == 0 {
		fmt.Fprintln(w, "No relations found")
		return
	}
	tw := newTable(w)
	fmt.Fprintln(tw, "RELATION\tTYPE\tSTRENGTH\tENTITY\tNAME")
	for _, r := range related {
		fmt.Fprintf(tw, "%s\t%s\t%.2f\t%s\t%s\n",
			r.Relation.ID, r.Relation.RelationType, r.Relation.Strength, r.Entity.ID, r.Entity.Name)
	}
	tw.Flush()
}

func printContext(w io.Writer, c ir.Context) {
	tw := newTable(w)
	fmt.Fprintf(tw, "ID:\t%s\n", c.ID)
	fmt.Fprintf(tw, "Type:\t%s\n", c.Type)
	if c.Summary != "" {
		fmt.Fprintf(tw, "Summary:\t%s\n", c.Summary)
	}
	if len(c.Topics) > 0 {
		fmt.Fprintf(tw, "Topics:\t%s\n", strings.Join(c.Topics, ", "))
	}
	if len(c.EntityIDs) > 0 {
		fmt.Fprintf(tw, "Entities:\t%s\n", strings.Join(c.EntityIDs, ", "))
	}
	fmt.Fprintf(tw, "Created:\t%s\n", timestamp(c.CreatedAt))
	tw.Flush()
	fmt.Fprintf(w, "\n%s\n", c.Content)
}

func printContexts(w io.Writer, contexts []ir.Context) {
	if len(contexts) == 0 {
		fmt.Fprintln(w, "No contexts found")
		return
	}
	tw := newTable(w)
	fmt.Fprintln(tw, "ID\tTYPE\tCREATED\tSUMMARY")
	for _, c := range contexts {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", c.ID, c.Type, timestamp(c.CreatedAt), headline(c))
	}
	tw.Flush()
}

func printRelatedContexts(w io.Writer, related []store.RelatedContext) {
	if len(related) == 0 {
		fmt.Fprintln(w, "No contexts found")
		return
	}
	tw := newTable(w)
	fmt.Fprintln(tw, "RELATION\tTYPE\tCONTEXT\tSUMMARY")
	for _, r := range related {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Relation.ID, r.Relation.RelationType, r.Context.ID, headline(r.Context))
	}
	tw.Flush()
}

// headline is the summary, or the first line of content cut to 60 runes.
func headline(c ir.Context) string {
	if c.Summary != "" {
		return c.Summary
	}
	line, _, _ := strings.Cut(c.Content, "\n")
	if r := []rune(line); len(r) > 60 {
		return string(r[:60]) + "..."
	}
	return line
}

func printWorkflows(w io.Writer, workflows []ir.Workflow) {
	if len(workflows) == 0 {
		fmt.Fprintln(w, "No workflows registered")
		return
	}
	tw := newTable(w)
	fmt.Fprintln(tw, "ID\tNAME\tENABLED\tACTIONS")
	for _, wf := range workflows {
		fmt.Fprintf(tw, "%s\t%s\t%t\t%d\n", wf.ID, wf.Name, wf.Enabled, len(wf.Actions))
	}
	tw.Flush()
}

func printWorkflow(w io.Writer, wf ir.Workflow) {
	tw := newTable(w)
	fmt.Fprintf(tw, "ID:\t%s\n", wf.ID)
	fmt.Fprintf(tw, "Name:\t%s\n", wf.Name)
	if wf.Description != "" {
		fmt.Fprintf(tw, "Description:\t%s\n", wf.Description)
	}
	fmt.Fprintf(tw, "Enabled:\t%t\n", wf.Enabled)
	fmt.Fprintf(tw, "Trigger:\t%s\n", compactJSON(wf.Trigger))
	tw.Flush()
	for i, a := range wf.Actions {
		fmt.Fprintf(w, "  %d. %s", i+1, a.Type)
		if a.Condition != "" {
			fmt.Fprintf(w, " if %s", a.Condition)
		}
		fmt.Fprintln(w)
	}
}

func printRuns(w io.Writer, runs []ir.WorkflowRun) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded")
		return
	}
	tw := newTable(w)
	fmt.Fprintln(tw, "RUN\tWORKFLOW\tSTATUS\tSTARTED\tERROR")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.WorkflowID, r.Status, timestamp(r.StartedAt), r.Error)
	}
	tw.Flush()
}
