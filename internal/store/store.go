package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

//go:embed fts.sql
var ftsSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added index on entity_relations.relation_type
const currentSchemaVersion = 1

// DefaultMaxOpenConns bounds the connection pool. Each concurrent caller
// checks out its own connection; WAL lets readers proceed during a write.
const DefaultMaxOpenConns = 4

// ErrNotFound is returned (wrapped) when a record does not exist.
var ErrNotFound = errors.New("not found")

// Store provides durable storage for entities, relations and contexts.
// Uses SQLite with WAL mode for concurrent read access.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	// lexical is true when the driver was built with FTS5.
	lexical bool
	// vector is true when the sqlite-vec extension is registered.
	vector bool
}

type options struct {
	maxOpenConns int
	logger       *slog.Logger
}

// Option configures Open.
type Option func(*options)

// WithMaxOpenConns sets the connection pool size (default DefaultMaxOpenConns).
func WithMaxOpenConns(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxOpenConns = n
		}
	}
}

// WithLogger sets the logger used for capability warnings.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas, schema and migrations automatically.
//
// Every pooled connection is configured through the DSN with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
//   - BEGIN IMMEDIATE so writers queue on the busy timeout instead of failing on upgrade
//
// This function is idempotent - safe to call multiple times.
func Open(path string, opts ...Option) (*Store, error) {
	o := options{maxOpenConns: DefaultMaxOpenConns, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	db, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// An in-memory database exists per connection, so it cannot be pooled.
	if path == ":memory:" {
		o.maxOpenConns = 1
	}
	db.SetMaxOpenConns(o.maxOpenConns)
	db.SetMaxIdleConns(o.maxOpenConns)

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	s := &Store{db: db, logger: o.logger}

	if _, err := db.Exec(ftsSQL); err != nil {
		o.logger.Warn("FTS5 not available, lexical search falls back to LIKE", "error", err.Error())
	} else {
		s.lexical = true
		if err := s.rebuildLexicalIndex(context.Background()); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to rebuild lexical index: %w", err)
		}
	}

	var vecVersion string
	if err := db.QueryRow("SELECT vec_version()").Scan(&vecVersion); err != nil {
		o.logger.Debug("sqlite-vec not available, vector search uses brute force")
	} else {
		s.vector = true
		o.logger.Debug("sqlite-vec available", "version", vecVersion)
	}

	return s, nil
}

func dsn(path string) string {
	params := "_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on&_txlock=immediate"
	if path == ":memory:" {
		return "file::memory:?" + params
	}
	if strings.Contains(path, "?") {
		return path + "&" + params
	}
	return "file:" + path + "?" + params
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
// Use with caution - prefer using Store methods when available.
func (s *Store) DB() *sql.DB {
	return s.db
}

// LexicalIndex reports whether FTS5 ranking is in use.
func (s *Store) LexicalIndex() bool { return s.lexical }

// VectorIndex reports whether vector distance is computed inside SQLite.
func (s *Store) VectorIndex() bool { return s.vector }

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Tx is a write transaction. All methods run inside the same SQLite
// transaction; nothing is visible to readers until WithTx commits.
type Tx struct {
	tx *sql.Tx
	s  *Store
}

// WithTx runs fn in a single transaction. The transaction commits when fn
// returns nil and rolls back on any error or panic.
func (s *Store) WithTx(ctx context.Context, fn func(*Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&Tx{tx: tx, s: s}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// migrateToV1 indexes relation_type for GetRelated type filters.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_entity_relations_type
		ON entity_relations(relation_type)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// rebuildLexicalIndex repopulates entity_fts when it is empty but entities
// exist, which happens when a database written by a build without FTS5 is
// opened by one with it.
func (s *Store) rebuildLexicalIndex(ctx context.Context) error {
	var indexed, total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM entity_fts").Scan(&indexed); err != nil {
		return err
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM entity_data").Scan(&total); err != nil {
		return err
	}
	if indexed > 0 || total == 0 {
		return nil
	}
	s.logger.Info("rebuilding lexical index", "entities", total)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entity_fts (entity_id, name, content, tags)
		SELECT entity_id, name, content, tags FROM entity_data
	`)
	return err
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	if err := s.db.QueryRow(fmt.Sprintf("PRAGMA %s", name)).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
