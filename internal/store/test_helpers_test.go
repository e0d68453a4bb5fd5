package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/mnemo/internal/ir"
)

var testTime = time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)

// createTestStore creates a new file-backed store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestEntity creates an entity with minimal required fields.
func createTestEntity(id string, typ ir.EntityType, name, content string) ir.Entity {
	return ir.Entity{
		ID:        id,
		Type:      typ,
		Name:      name,
		Content:   content,
		Metadata:  map[string]any{},
		Tags:      []string{},
		CreatedAt: testTime,
		UpdatedAt: testTime,
	}
}

// mustPut writes entities in one transaction or fails the test.
func mustPut(t *testing.T, s *Store, entities ...ir.Entity) {
	t.Helper()
	err := s.WithTx(context.Background(), func(tx *Tx) error {
		for _, e := range entities {
			if err := tx.PutEntity(context.Background(), e); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("PutEntity failed: %v", err)
	}
}
