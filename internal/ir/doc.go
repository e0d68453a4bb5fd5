// Package ir defines the records shared by every layer of mnemo.
//
// The memory layer persists three record kinds:
//   - Entity: a typed, named record (task, person, project, file, ...)
//   - Relation: a directed, typed, weighted edge between two entities or contexts
//   - Context: free-form content (conversation, meeting, review) with a summary and topics
//
// Every successful write is announced as a MutationPayload, a tagged union over
// those three kinds. Workflows (trigger + ordered actions) consume the payloads
// and record their executions as WorkflowRuns.
//
// # Closed enums
//
// EntityType, RelationType and ContextType are closed sets. Validate rejects any
// value outside the set before a write is attempted.
//
// # Time
//
// Timestamps are UTC and serialized with TimeLayout, a fixed-width layout so
// stored values order lexicographically.
//
// # Content hashes
//
// ContentHash and WorkflowHash use SHA-256 with domain separation over
// NFC-normalized canonical JSON (see canonical.go and hash.go).
package ir
