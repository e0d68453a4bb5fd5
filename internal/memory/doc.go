// Package memory is the MemoryStore: typed entities, relations and contexts
// over the SQLite store, with hybrid vector + lexical search.
//
// Every write runs in one store transaction. Referential checks happen inside
// the transaction before any row is written, so a failed write leaves no
// trace. After commit, a MutationPayload describing the write is handed to the
// configured Publisher; publishing never fails the write.
//
// Context saves optionally call an Extractor to pull entities, topics and a
// summary out of free text. The content hash of the last extraction is kept
// in the context metadata under "extract_hash" and unchanged content is not
// re-extracted.
package memory
