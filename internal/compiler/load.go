package compiler

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/roach88/mnemo/internal/ir"
)

// Supported reports whether path has a workflow document extension.
func Supported(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".cue":
		return true
	}
	return false
}

// LoadFile reads one workflow document, choosing the decoder by extension.
func LoadFile(path string) ([]ir.Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow file: %w", err)
	}

	var wfs []ir.Workflow
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		wfs, err = DecodeYAML(bytes.NewReader(data))
	case ".cue":
		wfs, err = CompileCUE(path, data)
	default:
		return nil, fmt.Errorf("unsupported workflow file %s", path)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return wfs, nil
}

// LoadDir loads every supported file directly inside dir in name order.
// Files that fail are reported together; the workflows from the other files
// are still returned. A workflow id defined twice is an error for the second
// file.
func LoadDir(dir string) ([]ir.Workflow, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read workflow dir: %w", err)
	}

	var (
		out  []ir.Workflow
		errs []error
		seen = make(map[string]string)
	)
	for _, e := range entries {
		if e.IsDir() || !Supported(e.Name()) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		wfs, err := LoadFile(path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, wf := range wfs {
			if prev, ok := seen[wf.ID]; ok {
				errs = append(errs, fmt.Errorf("%s: workflow %q already defined in %s", path, wf.ID, prev))
				continue
			}
			seen[wf.ID] = path
			out = append(out, wf)
		}
	}
	return out, errors.Join(errs...)
}
