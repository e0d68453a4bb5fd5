package compiler

import (
	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/roach88/mnemo/internal/ir"
)

// workflowSchema closes the document shape so misspelled fields are
// reported with their CUE position.
const workflowSchema = `
#Trigger: {
	type?:     string
	content?:  string
	name?:     string
	tags?:     [...string]
	metadata?: {...}
}

#Action: {
	type:       string & !=""
	params?:    {...}
	condition?: string
}

#Workflow: {
	id?:          string
	name:         string
	description?: string
	trigger:      #Trigger
	actions:      [...#Action]
	enabled?:     bool
}
`

// CompileCUE compiles a CUE workflow source. Three layouts are accepted: a
// single workflow at the top level, a "workflows" list, or a "workflow"
// struct keyed by id:
//
//	workflow: "tag-meetings": {
//		name: "Tag meeting notes"
//		trigger: type: "context"
//		actions: [{type: "notify", params: message: "new meeting"}]
//	}
func CompileCUE(filename string, src []byte) ([]ir.Workflow, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	schema := ctx.CompileString(workflowSchema).LookupPath(cue.ParsePath("#Workflow"))
	if err := schema.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	var docs []Document
	switch {
	case v.LookupPath(cue.ParsePath("workflow")).Exists():
		iter, err := v.LookupPath(cue.ParsePath("workflow")).Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			doc, err := decodeCUE(schema, iter.Value())
			if err != nil {
				return nil, err
			}
			if doc.ID == "" {
				doc.ID = iter.Label()
			}
			docs = append(docs, doc)
		}
	case v.LookupPath(cue.ParsePath("workflows")).Exists():
		list, err := v.LookupPath(cue.ParsePath("workflows")).List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for list.Next() {
			doc, err := decodeCUE(schema, list.Value())
			if err != nil {
				return nil, err
			}
			docs = append(docs, doc)
		}
	default:
		doc, err := decodeCUE(schema, v)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}

	if len(docs) == 0 {
		return nil, &CompileError{Field: "document", Message: "no workflows found", Pos: v.Pos()}
	}
	out := make([]ir.Workflow, 0, len(docs))
	for _, doc := range docs {
		wf, err := doc.Workflow()
		if err != nil {
			return nil, err
		}
		out = append(out, wf)
	}
	return out, nil
}

func decodeCUE(schema, v cue.Value) (Document, error) {
	u := schema.Unify(v)
	if err := u.Validate(cue.Concrete(true)); err != nil {
		return Document{}, formatCUEError(err)
	}
	var doc Document
	if err := u.Decode(&doc); err != nil {
		return Document{}, formatCUEError(err)
	}
	return doc, nil
}
