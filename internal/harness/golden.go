package harness

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// Snapshot renders the trace and runs of a result as text for golden
// comparison. Timestamps and error wording are left out; everything else
// in it is deterministic.
func Snapshot(scenarioName string, result *Result) []byte {
	var b strings.Builder
	b.WriteString("scenario: " + scenarioName + "\n")
	b.WriteString("\ntrace:\n")
	for _, entry := range result.Trace {
		b.WriteString("  " + entry.String() + "\n")
	}
	b.WriteString("\nruns:\n")
	for _, run := range result.Runs {
		b.WriteString("  " + run.String() + "\n")
	}
	return []byte(b.String())
}

// RunWithGolden executes a scenario and compares its snapshot with
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		return nil, err
	}
	AssertGolden(t, scenario.Name, result)
	return result, nil
}

// AssertGolden compares an existing result with its golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) {
	t.Helper()

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, Snapshot(scenarioName, result))
}

// GoldenPath returns the golden file of a scenario file: testdata-style
// layout with scenarios/ and golden/ side by side.
func GoldenPath(scenarioFile string) string {
	dir := filepath.Dir(filepath.Dir(scenarioFile))
	base := filepath.Base(scenarioFile)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(dir, "golden", name+".golden")
}

// WriteGolden stores the snapshot of result at path.
func WriteGolden(path, scenarioName string, result *Result) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create golden directory: %w", err)
	}
	if err := os.WriteFile(path, Snapshot(scenarioName, result), 0o644); err != nil {
		return fmt.Errorf("failed to write golden file: %w", err)
	}
	return nil
}

// CompareGolden reports whether the snapshot of result equals the file at
// path.
func CompareGolden(path, scenarioName string, result *Result) (bool, error) {
	want, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("failed to read golden file: %w", err)
	}
	return bytes.Equal(want, Snapshot(scenarioName, result)), nil
}
