// Package store provides SQLite-backed persistence for mnemo.
//
// Tables (see schema.sql):
//   - entities / entity_data: entity identity and body, one row each per entity
//   - entity_relations: directed edges; endpoints may be entities or contexts
//   - contexts: free-form content with summary, topics and entity back-references
//   - entity_embeddings / context_embeddings: float32 vectors per record
//   - entity_fts: FTS5 lexical index (only when the driver has FTS5)
//
// # Writes
//
// All writes go through WithTx. The callback receives a Tx whose methods share
// one SQLite transaction; any error rolls the whole transaction back, so an
// entity is never visible without its index rows.
//
// # Search
//
// LexicalSearch uses FTS5 bm25 ranking when available and a LIKE term scan
// otherwise. VectorSearch uses sqlite-vec's vec_distance_cosine when the
// extension is compiled in (-tags sqlite_vec) and a Go cosine scan otherwise.
// Both accept the same Filter, compiled to parameterized predicates.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//   - _txlock=immediate: Writers take the write lock at BEGIN
//
// Reads return empty slices (not nil) when nothing matches. Lookups of a
// missing record return an error wrapping ErrNotFound.
package store
