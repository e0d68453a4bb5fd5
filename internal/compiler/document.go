// Package compiler turns workflow documents into validated ir.Workflow values.
//
// Documents are written in YAML or CUE and share one shape:
//
//	id: tag-meetings
//	name: Tag meeting notes
//	trigger:
//	  type: context
//	  content: meeting
//	actions:
//	  - type: create_task
//	    params: {title: "Follow up on {{ entity.title }}"}
//
// enabled defaults to true when omitted.
package compiler

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/mnemo/internal/ir"
)

// Document is the on-disk form of a workflow.
type Document struct {
	ID          string         `yaml:"id" json:"id"`
	Name        string         `yaml:"name" json:"name"`
	Description string         `yaml:"description,omitempty" json:"description,omitempty"`
	Trigger     ir.TriggerSpec `yaml:"trigger" json:"trigger"`
	Actions     []ir.Action    `yaml:"actions" json:"actions"`
	Enabled     *bool          `yaml:"enabled,omitempty" json:"enabled,omitempty"`
}

func (d Document) empty() bool {
	return d.ID == "" && d.Name == "" && d.Description == "" &&
		d.Trigger.IsEmpty() && len(d.Actions) == 0 && d.Enabled == nil
}

// ErrInvalid wraps definition errors found after decoding.
var ErrInvalid = errors.New("invalid workflow")

// Workflow converts the document and validates the result.
func (d Document) Workflow() (ir.Workflow, error) {
	wf := ir.Workflow{
		ID:          strings.TrimSpace(d.ID),
		Name:        d.Name,
		Description: d.Description,
		Trigger:     d.Trigger,
		Actions:     d.Actions,
		Enabled:     d.Enabled == nil || *d.Enabled,
	}
	if err := wf.Validate(); err != nil {
		if wf.ID == "" {
			return ir.Workflow{}, fmt.Errorf("%w: %w", ErrInvalid, err)
		}
		return ir.Workflow{}, fmt.Errorf("%w %q: %w", ErrInvalid, wf.ID, err)
	}
	return wf, nil
}

// DecodeYAML reads every document of a YAML stream. Unknown fields are
// rejected so typos such as "action:" fail loudly.
func DecodeYAML(r io.Reader) ([]ir.Workflow, error) {
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)

	var out []ir.Workflow
	for i := 0; ; i++ {
		var doc Document
		err := decoder.Decode(&doc)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &CompileError{
				Field:   fmt.Sprintf("document[%d]", i),
				Message: err.Error(),
			}
		}
		if doc.empty() {
			continue
		}
		wf, err := doc.Workflow()
		if err != nil {
			return nil, err
		}
		out = append(out, wf)
	}
	if len(out) == 0 {
		return nil, &CompileError{Field: "document", Message: "no workflows found"}
	}
	return out, nil
}
