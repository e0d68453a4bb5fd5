// Package workflow runs user-defined automations over memory mutations.
//
// An Engine holds registered workflows. For each event it receives, every
// enabled workflow whose trigger matches one of the event's payloads gets a
// run, unless a run of that workflow is already in progress, in which case
// the event is dropped for that workflow. A run executes its actions in
// order through an Executor; a failing action ends the run, and the run is
// persisted as a workflow_run entity either way.
//
// Action params and conditions are resolved against a run context:
//
//	event.id, event.created_at, event.payload
//	workflow.id, workflow.name
//	entity      the payload that matched the trigger
//	entities    every payload of the event
//	results.N   the output of action N+1 (nil when skipped)
//	timestamp
//
// A Watcher keeps the engine in sync with a directory of workflow documents.
package workflow
