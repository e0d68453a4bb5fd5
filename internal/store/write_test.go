package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/mnemo/internal/ir"
)

func TestPutEntity_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	e := createTestEntity("e1", ir.EntityProject, "Apollo", "moon program")
	e.Metadata = map[string]any{"owner": "nasa", "budget": 25.5, "active": true, "nested": map[string]any{"k": "v"}}
	e.Tags = []string{"space", "history"}
	mustPut(t, s, e)

	got, err := s.GetEntity(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, e.ID, got.ID)
	assert.Equal(t, e.Type, got.Type)
	assert.Equal(t, e.Name, got.Name)
	assert.Equal(t, e.Content, got.Content)
	assert.Equal(t, e.Metadata, got.Metadata)
	assert.Equal(t, []string{"history", "space"}, got.Tags)
	assert.True(t, got.CreatedAt.Equal(testTime))
}

func TestPutEntity_UpsertKeepsCreatedAt(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	e := createTestEntity("e1", ir.EntityNote, "draft", "v1")
	mustPut(t, s, e)

	later := testTime.Add(time.Hour)
	e.Content = "v2"
	e.CreatedAt = later
	e.UpdatedAt = later
	mustPut(t, s, e)

	got, err := s.GetEntity(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "v2", got.Content)
	assert.True(t, got.CreatedAt.Equal(testTime), "created_at must not move")
	assert.True(t, got.UpdatedAt.Equal(later))
}

func TestGetEntity_NotFound(t *testing.T) {
	s := createTestStore(t)
	_, err := s.GetEntity(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx *Tx) error {
		if err := tx.PutEntity(ctx, createTestEntity("e1", ir.EntityNote, "n", "")); err != nil {
			return err
		}
		if err := tx.PutEntityEmbedding(ctx, "e1", "hash", []float32{1, 0}, testTime); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.GetEntity(ctx, "e1")
	assert.ErrorIs(t, err, ErrNotFound)

	hits, err := s.VectorSearch(ctx, []float32{1, 0}, Filter{}, 5)
	require.NoError(t, err)
	assert.Empty(t, hits, "embedding must be rolled back with the entity")
}

func TestDeleteEntity_CascadesRelations(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	mustPut(t, s,
		createTestEntity("a", ir.EntityPerson, "Ada", ""),
		createTestEntity("b", ir.EntityProject, "Engine", ""),
		createTestEntity("c", ir.EntityTask, "Notes", ""),
	)
	require.NoError(t, s.WithTx(ctx, func(tx *Tx) error {
		for _, r := range []ir.Relation{
			{ID: "r1", SourceID: "a", TargetID: "b", RelationType: ir.RelPartOf, Strength: 1, CreatedAt: testTime},
			{ID: "r2", SourceID: "c", TargetID: "a", RelationType: ir.RelAssignedTo, Strength: 1, CreatedAt: testTime},
			{ID: "r3", SourceID: "b", TargetID: "c", RelationType: ir.RelContains, Strength: 1, CreatedAt: testTime},
		} {
			if err := tx.PutRelation(ctx, r); err != nil {
				return err
			}
		}
		return tx.PutEntityEmbedding(ctx, "a", "hash", []float32{1, 2}, testTime)
	}))

	var deleted bool
	require.NoError(t, s.WithTx(ctx, func(tx *Tx) error {
		var err error
		deleted, err = tx.DeleteEntity(ctx, "a")
		return err
	}))
	assert.True(t, deleted)

	_, err := s.GetRelation(ctx, "r1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetRelation(ctx, "r2")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetRelation(ctx, "r3")
	assert.NoError(t, err, "unrelated relation survives")

	n, err := s.CountRelations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	hits, err := s.LexicalSearch(ctx, "Ada", Filter{}, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestDeleteEntity_Missing(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.WithTx(ctx, func(tx *Tx) error {
		deleted, err := tx.DeleteEntity(ctx, "ghost")
		assert.False(t, deleted)
		return err
	}))
}

func TestExists_EntityOrContext(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	mustPut(t, s, createTestEntity("e1", ir.EntityNote, "n", ""))
	require.NoError(t, s.WithTx(ctx, func(tx *Tx) error {
		return tx.PutContext(ctx, ir.Context{ID: "c1", Type: ir.ContextMeeting, Content: "standup", CreatedAt: testTime})
	}))

	for id, want := range map[string]bool{"e1": true, "c1": true, "nope": false} {
		got, err := s.Exists(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, got, id)
	}
}

func TestPutContext_RoundTripAndUpdate(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	c := ir.Context{
		ID: "c1", Type: ir.ContextCodeReview, Content: "review of parser",
		Topics: []string{"parser", "tests"}, EntityIDs: []string{"e1"},
		Metadata: map[string]any{"pr": "42"}, CreatedAt: testTime,
	}
	require.NoError(t, s.WithTx(ctx, func(tx *Tx) error { return tx.PutContext(ctx, c) }))

	got, err := s.GetContext(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, c.Topics, got.Topics)
	assert.Equal(t, c.EntityIDs, got.EntityIDs)
	assert.Equal(t, c.Metadata, got.Metadata)

	c.Summary = "parser looks good"
	c.CreatedAt = testTime.Add(time.Hour)
	require.NoError(t, s.WithTx(ctx, func(tx *Tx) error { return tx.PutContext(ctx, c) }))

	got, err = s.GetContext(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "parser looks good", got.Summary)
	assert.True(t, got.CreatedAt.Equal(testTime))
}

func TestRelated(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	mustPut(t, s,
		createTestEntity("a", ir.EntityPerson, "Ada", ""),
		createTestEntity("b", ir.EntityProject, "Engine", ""),
	)
	require.NoError(t, s.WithTx(ctx, func(tx *Tx) error {
		if err := tx.PutContext(ctx, ir.Context{ID: "c1", Type: ir.ContextMeeting, Content: "sync", CreatedAt: testTime}); err != nil {
			return err
		}
		if err := tx.PutRelation(ctx, ir.Relation{ID: "r1", SourceID: "a", TargetID: "b", RelationType: ir.RelPartOf, Strength: 0.7, CreatedAt: testTime}); err != nil {
			return err
		}
		return tx.PutRelation(ctx, ir.Relation{ID: "r2", SourceID: "c1", TargetID: "a", RelationType: ir.RelMentions, Strength: 0.9, CreatedAt: testTime.Add(time.Second)})
	}))

	related, err := s.RelatedEntities(ctx, "a", nil)
	require.NoError(t, err)
	require.Len(t, related, 1)
	assert.Equal(t, "b", related[0].Entity.ID)
	assert.Equal(t, 0.7, related[0].Relation.Strength)

	related, err = s.RelatedEntities(ctx, "b", []ir.RelationType{ir.RelMentions})
	require.NoError(t, err)
	assert.Empty(t, related)

	contexts, err := s.RelatedContexts(ctx, "a", nil)
	require.NoError(t, err)
	require.Len(t, contexts, 1)
	assert.Equal(t, "c1", contexts[0].Context.ID)
	assert.Equal(t, ir.RelMentions, contexts[0].Relation.RelationType)
}

func TestDeleteRelation(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	mustPut(t, s, createTestEntity("a", ir.EntityNote, "a", ""), createTestEntity("b", ir.EntityNote, "b", ""))
	require.NoError(t, s.WithTx(ctx, func(tx *Tx) error {
		return tx.PutRelation(ctx, ir.Relation{ID: "r1", SourceID: "a", TargetID: "b", RelationType: ir.RelRelatesTo, Strength: 1, CreatedAt: testTime})
	}))

	for _, want := range []bool{true, false} {
		require.NoError(t, s.WithTx(ctx, func(tx *Tx) error {
			deleted, err := tx.DeleteRelation(ctx, "r1")
			assert.Equal(t, want, deleted)
			return err
		}))
	}
}

func TestListRelations(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	relations, err := s.ListRelations(ctx)
	require.NoError(t, err)
	assert.Empty(t, relations)

	mustPut(t, s, createTestEntity("a", ir.EntityNote, "a", ""), createTestEntity("b", ir.EntityNote, "b", ""))
	require.NoError(t, s.WithTx(ctx, func(tx *Tx) error {
		if err := tx.PutRelation(ctx, ir.Relation{ID: "r2", SourceID: "b", TargetID: "a", RelationType: ir.RelDependsOn, Strength: 0.5, CreatedAt: testTime.Add(time.Second)}); err != nil {
			return err
		}
		return tx.PutRelation(ctx, ir.Relation{ID: "r1", SourceID: "a", TargetID: "b", RelationType: ir.RelRelatesTo, Strength: 1, CreatedAt: testTime})
	}))

	relations, err = s.ListRelations(ctx)
	require.NoError(t, err)
	require.Len(t, relations, 2)
	assert.Equal(t, "r1", relations[0].ID)
	assert.Equal(t, "r2", relations[1].ID)
	assert.Equal(t, ir.RelDependsOn, relations[1].RelationType)
}
