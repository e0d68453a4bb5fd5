// Package harness runs YAML scenarios against a real memory store and
// workflow engine.
//
// A scenario registers workflows, applies memory operations, lets every
// resulting event reach the engine, and then checks the trace, the stored
// records and the workflow runs.
//
// # Scenario Format
//
//	name: follow_up_task
//	description: "Saving a note creates a follow-up task"
//	workflows:
//	  - id: note-follow-up
//	    name: Note follow-up
//	    trigger: {type: note}
//	    actions:
//	      - type: create_task
//	        params: {title: "Follow up: {{ entity.name }}"}
//	workflow_files:
//	  - ../workflows/other.yaml
//	setup:
//	  - op: save_entity
//	    args: {id: person-1, type: person, name: Ada}
//	flow:
//	  - op: save_entity
//	    args: {id: note-1, type: note, name: Planning}
//	  - op: save_relation
//	    args: {source_id: note-1, target_id: missing, relation_type: mentions}
//	    expect: {error: not_found}
//	assertions:
//	  - type: trace_contains
//	    label: entity.created.task
//	  - type: final_state
//	    table: entities
//	    where: {type: task}
//	    expect: {name: "Follow up: Planning", metadata.priority: medium}
//	  - type: run_count
//	    workflow: note-follow-up
//	    status: completed
//	    count: 1
//
// workflow_files are resolved relative to the scenario file.
//
// # Operations
//
// save_entity, update_entity, delete_entity, save_relation, delete_relation,
// save_context and update_context. Args use the records' JSON field names.
// The update operations overlay args onto the stored record. delete_entity of
// a missing id succeeds and is traced without an id.
//
// # Trace Labels
//
// Operations are labelled by their name ("save_entity"). Events are labelled
// per payload as kind.op.type, for example "entity.created.task" or
// "relation.created.references". Assertions refer to these labels.
//
// # Assertion Types
//
//   - trace_contains: a trace entry carries the label (and args, for ops)
//   - trace_order: labels first appear in the given order
//   - trace_count: a label appears exactly count times
//   - final_state: exactly one record of a table matches where, and it has
//     the expected fields (dotted paths allowed)
//   - run_count: the number of runs of a workflow, optionally by status
//
// # Determinism
//
// Each run uses an in-memory database, step clocks, sequential ids
// ("id-N" for records and events, "run-N" for runs), the hash embedder and a
// single engine worker. Events are delivered one at a time and every run
// finishes before the next event is delivered, so traces can be compared
// against golden files.
package harness
