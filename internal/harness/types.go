package harness

import (
	"strconv"
	"strings"

	"github.com/roach88/mnemo/internal/ir"
)

// Trace entry types.
const (
	TraceOp    = "op"
	TraceEvent = "event"
)

// TraceEntry is one line of a scenario trace: a flow operation or an event
// delivered to the workflow engine.
type TraceEntry struct {
	Seq  int    `json:"seq"`
	Type string `json:"type"`

	// Op, Args and Error describe operations. ID is the id of the record
	// the operation wrote, or the event id.
	Op    string         `json:"op,omitempty"`
	Args  map[string]any `json:"args,omitempty"`
	ID    string         `json:"id,omitempty"`
	Error string         `json:"error,omitempty"`

	Payloads []PayloadSummary `json:"payloads,omitempty"`
}

// PayloadSummary is the part of a mutation payload a trace records.
type PayloadSummary struct {
	Kind   string `json:"kind"`
	Op     string `json:"op"`
	Type   string `json:"type"`
	ID     string `json:"id"`
	Status string `json:"status,omitempty"`
}

// Label is kind.op.type.
func (p PayloadSummary) Label() string {
	return p.Kind + "." + p.Op + "." + p.Type
}

func summarize(p ir.MutationPayload) PayloadSummary {
	fields := p.Fields()
	s := PayloadSummary{
		Kind: string(p.Kind),
		Op:   string(p.Op),
		ID:   p.ID(),
	}
	s.Type, _ = fields["type"].(string)
	if p.Kind == ir.KindEntity && p.Entity != nil && p.Entity.Type == ir.EntityWorkflowRun {
		s.Status, _ = p.Entity.Metadata["status"].(string)
	}
	return s
}

// HasLabel reports whether the entry carries label: the op name for
// operations, any payload label for events.
func (e TraceEntry) HasLabel(label string) bool {
	if e.Type == TraceOp {
		return e.Op == label
	}
	for _, p := range e.Payloads {
		if p.Label() == label {
			return true
		}
	}
	return false
}

// String renders the entry as one trace line.
func (e TraceEntry) String() string {
	var b strings.Builder
	switch e.Type {
	case TraceOp:
		id := e.ID
		if id == "" {
			id = "-"
		}
		outcome := "ok"
		if e.Error != "" {
			outcome = "error=" + e.Error
		}
		b.WriteString(strconv.Itoa(e.Seq) + " op " + e.Op + " " + id + " " + outcome)
	default:
		b.WriteString(strconv.Itoa(e.Seq) + " event " + e.ID)
		for i, p := range e.Payloads {
			if i == 0 {
				b.WriteString(" ")
			} else {
				b.WriteString(", ")
			}
			b.WriteString(p.Label() + " " + p.ID)
			if p.Status != "" {
				b.WriteString(" " + p.Status)
			}
		}
	}
	return b.String()
}

// RunSummary is a finished workflow run.
type RunSummary struct {
	ID         string `json:"id"`
	WorkflowID string `json:"workflow_id"`
	EventID    string `json:"event_id"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
}

// String renders the run as one line. The error text is left out so that
// golden files do not depend on wrapped error wording.
func (r RunSummary) String() string {
	return r.ID + " " + r.WorkflowID + " event=" + r.EventID + " " + r.Status
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every flow expectation and assertion held.
	Pass bool `json:"pass"`

	Trace []TraceEntry `json:"trace"`

	// Runs lists workflow runs oldest first.
	Runs []RunSummary `json:"runs"`

	// Errors holds expectation and assertion failures.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEntry{},
		Runs:   []RunSummary{},
		Errors: []string{},
	}
}

// AddError records a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) addOp(op string, args map[string]any, id, errClass string) {
	r.Trace = append(r.Trace, TraceEntry{
		Seq:   len(r.Trace) + 1,
		Type:  TraceOp,
		Op:    op,
		Args:  args,
		ID:    id,
		Error: errClass,
	})
}

func (r *Result) addEvent(ev ir.Event) {
	payloads := make([]PayloadSummary, len(ev.Payload))
	for i, p := range ev.Payload {
		payloads[i] = summarize(p)
	}
	r.Trace = append(r.Trace, TraceEntry{
		Seq:      len(r.Trace) + 1,
		Type:     TraceEvent,
		ID:       ev.ID,
		Payloads: payloads,
	})
}
