package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScenario(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadScenario_ValidFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "workflows"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "workflows", "wf.yaml"), []byte("id: x\n"), 0o644))

	path := writeScenario(t, dir, `
name: test_scenario
description: "Test scenario for validation"
workflows:
  - id: tag-notes
    name: Tag notes
    trigger: {type: note}
    actions:
      - type: notify
        params: {message: hi}
workflow_files:
  - workflows/wf.yaml
flow:
  - op: save_entity
    args:
      type: note
      name: Planning
assertions:
  - type: trace_contains
    label: save_entity
`)

	scenario, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "test_scenario", scenario.Name)
	assert.Equal(t, "Test scenario for validation", scenario.Description)
	require.Len(t, scenario.Workflows, 1)
	assert.Equal(t, "tag-notes", scenario.Workflows[0].ID)
	assert.Equal(t, "note", scenario.Workflows[0].Trigger.Type)
	assert.Equal(t, []string{filepath.Join(dir, "workflows", "wf.yaml")}, scenario.WorkflowFiles)
	require.Len(t, scenario.Flow, 1)
	assert.Equal(t, OpSaveEntity, scenario.Flow[0].Op)
	assert.Equal(t, "Planning", scenario.Flow[0].Args["name"])
	assert.Nil(t, scenario.Flow[0].Expect)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario("/nonexistent/scenario.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_UnknownField(t *testing.T) {
	path := writeScenario(t, t.TempDir(), `
name: typo
description: "misspelled assertions key"
flow:
  - op: save_entity
    args: {type: note, name: x}
assertion:
  - type: trace_contains
    label: save_entity
`)
	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestLoadScenario_MissingWorkflowFile(t *testing.T) {
	path := writeScenario(t, t.TempDir(), `
name: missing
description: "points at a file that does not exist"
workflow_files: [nope.yaml]
flow:
  - op: save_entity
    args: {type: note, name: x}
assertions:
  - type: trace_contains
    label: save_entity
`)
	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "workflow file not found")
}

func TestLoadScenario_Testdata(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			_, err := LoadScenario(path)
			require.NoError(t, err)
		})
	}
}

func TestValidateScenario(t *testing.T) {
	valid := func() Scenario {
		return Scenario{
			Name:        "s",
			Description: "d",
			Flow:        []Step{{Op: OpSaveEntity, Args: map[string]any{}}},
			Assertions:  []Assertion{{Type: AssertTraceContains, Label: OpSaveEntity}},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Scenario)
		errMsg string
	}{
		{"valid", func(*Scenario) {}, ""},
		{"no name", func(s *Scenario) { s.Name = "" }, "name is required"},
		{"no description", func(s *Scenario) { s.Description = "" }, "description is required"},
		{"no flow", func(s *Scenario) { s.Flow = nil }, "flow list is required"},
		{"no assertions", func(s *Scenario) { s.Assertions = nil }, "assertions list is required"},
		{"missing op", func(s *Scenario) { s.Flow[0].Op = "" }, "flow[0]: op is required"},
		{"unknown op", func(s *Scenario) { s.Flow[0].Op = "invoke" }, `flow[0]: unknown op "invoke"`},
		{"nil args", func(s *Scenario) { s.Flow[0].Args = nil }, "flow[0]: args is required"},
		{"unknown error class", func(s *Scenario) { s.Flow[0].Expect = &Expect{Error: "boom"} }, `unknown error class "boom"`},
		{"expect in setup", func(s *Scenario) {
			s.Setup = []Step{{Op: OpSaveEntity, Args: map[string]any{}, Expect: &Expect{Error: ErrClassNotFound}}}
		}, "setup[0]: expect is not allowed"},
		{"missing type", func(s *Scenario) { s.Assertions[0].Type = "" }, "assertions[0]: type is required"},
		{"unknown type", func(s *Scenario) { s.Assertions[0].Type = "trace_magic" }, `unknown assertion type "trace_magic"`},
		{"contains without label", func(s *Scenario) { s.Assertions[0].Label = "" }, "label is required for trace_contains"},
		{"order without labels", func(s *Scenario) {
			s.Assertions[0] = Assertion{Type: AssertTraceOrder}
		}, "labels list is required"},
		{"negative trace count", func(s *Scenario) {
			s.Assertions[0] = Assertion{Type: AssertTraceCount, Label: "x", Count: -1}
		}, "count must be non-negative for trace_count"},
		{"final state without table", func(s *Scenario) {
			s.Assertions[0] = Assertion{Type: AssertFinalState, Expect: map[string]any{"a": 1}}
		}, "table is required"},
		{"final state unknown table", func(s *Scenario) {
			s.Assertions[0] = Assertion{Type: AssertFinalState, Table: "invocations", Expect: map[string]any{"a": 1}}
		}, `unknown table "invocations"`},
		{"final state without expect", func(s *Scenario) {
			s.Assertions[0] = Assertion{Type: AssertFinalState, Table: TableEntities}
		}, "expect is required"},
		{"negative run count", func(s *Scenario) {
			s.Assertions[0] = Assertion{Type: AssertRunCount, Count: -1}
		}, "count must be non-negative for run_count"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid()
			tt.mutate(&s)
			err := validateScenario(&s)
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}
