package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/mnemo/internal/compiler"
)

// Scenario is a scripted sequence of memory operations with expectations
// about the events, workflow runs and stored records they produce.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	// Workflows are registered before setup runs.
	Workflows []compiler.Document `yaml:"workflows,omitempty"`

	// WorkflowFiles are YAML or CUE workflow files, relative to the
	// scenario file when loaded with LoadScenario.
	WorkflowFiles []string `yaml:"workflow_files,omitempty"`

	// Setup steps establish initial state. They must succeed and are not
	// traced, although workflows still react to them.
	Setup []Step `yaml:"setup,omitempty"`

	Flow       []Step      `yaml:"flow"`
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one memory operation.
type Step struct {
	Op   string         `yaml:"op"`
	Args map[string]any `yaml:"args"`

	// Expect, when set, names the error class the step must fail with.
	// Without it the step must succeed.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect is the expected outcome of a flow step.
type Expect struct {
	// Error is one of not_found, validation, persistence or error.
	Error string `yaml:"error"`
}

// Operation names.
const (
	OpSaveEntity     = "save_entity"
	OpUpdateEntity   = "update_entity"
	OpDeleteEntity   = "delete_entity"
	OpSaveRelation   = "save_relation"
	OpDeleteRelation = "delete_relation"
	OpSaveContext    = "save_context"
	OpUpdateContext  = "update_context"
)

var knownOps = map[string]bool{
	OpSaveEntity: true, OpUpdateEntity: true, OpDeleteEntity: true,
	OpSaveRelation: true, OpDeleteRelation: true,
	OpSaveContext: true, OpUpdateContext: true,
}

// Error classes reported for failed operations.
const (
	ErrClassNotFound    = "not_found"
	ErrClassValidation  = "validation"
	ErrClassPersistence = "persistence"
	ErrClassOther       = "error"
)

var knownErrClasses = map[string]bool{
	ErrClassNotFound: true, ErrClassValidation: true, ErrClassPersistence: true, ErrClassOther: true,
}

// Assertion checks the trace, the stored records or the runs.
type Assertion struct {
	Type string `yaml:"type"`

	// Label and Args are used by trace_contains and trace_count. Args is a
	// subset match against an operation's args.
	Label string         `yaml:"label,omitempty"`
	Args  map[string]any `yaml:"args,omitempty"`

	// Labels is the expected order for trace_order.
	Labels []string `yaml:"labels,omitempty"`

	// Table, Where and Expect are used by final_state. Table is entities,
	// contexts or relations.
	Table  string         `yaml:"table,omitempty"`
	Where  map[string]any `yaml:"where,omitempty"`
	Expect map[string]any `yaml:"expect,omitempty"`

	// Workflow and Status filter runs for run_count.
	Workflow string `yaml:"workflow,omitempty"`
	Status   string `yaml:"status,omitempty"`

	// Count is used by trace_count and run_count.
	Count int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
	AssertRunCount      = "run_count"
)

// Tables readable by final_state.
const (
	TableEntities  = "entities"
	TableContexts  = "contexts"
	TableRelations = "relations"
)

// LoadScenario reads and validates a scenario file. Unknown fields are
// rejected and workflow_files are resolved against the file's directory.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	base := filepath.Dir(path)
	for i, p := range scenario.WorkflowFiles {
		if !filepath.IsAbs(p) {
			scenario.WorkflowFiles[i] = filepath.Join(base, p)
		}
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for _, p := range s.WorkflowFiles {
		if _, err := os.Stat(p); os.IsNotExist(err) {
			return fmt.Errorf("workflow file not found: %s", p)
		}
	}
	for i, step := range s.Setup {
		if err := validateStep(fmt.Sprintf("setup[%d]", i), step); err != nil {
			return err
		}
		if step.Expect != nil {
			return fmt.Errorf("setup[%d]: expect is not allowed in setup", i)
		}
	}
	for i, step := range s.Flow {
		if err := validateStep(fmt.Sprintf("flow[%d]", i), step); err != nil {
			return err
		}
	}
	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(where string, step Step) error {
	if step.Op == "" {
		return fmt.Errorf("%s: op is required", where)
	}
	if !knownOps[step.Op] {
		return fmt.Errorf("%s: unknown op %q", where, step.Op)
	}
	if step.Args == nil {
		return fmt.Errorf("%s: args is required", where)
	}
	if step.Expect != nil && !knownErrClasses[step.Expect.Error] {
		return fmt.Errorf("%s.expect: unknown error class %q", where, step.Expect.Error)
	}
	return nil
}

func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Label == "" {
			return fmt.Errorf("assertions[%d]: label is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Labels) == 0 {
			return fmt.Errorf("assertions[%d]: labels list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Label == "" {
			return fmt.Errorf("assertions[%d]: label is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		switch a.Table {
		case TableEntities, TableContexts, TableRelations:
		case "":
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		default:
			return fmt.Errorf("assertions[%d]: unknown table %q", index, a.Table)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	case AssertRunCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for run_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
