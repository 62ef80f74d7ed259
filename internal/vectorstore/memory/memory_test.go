package memory

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studybuddy/internal/domain"
	"studybuddy/internal/vectorstore"
)

func record(id, doc string, vec ...float32) vectorstore.Record {
	meta := domain.PassageMetadata{}
	meta.DocumentID = doc
	return vectorstore.Record{ID: id, Text: "text " + id, Vector: vec, Metadata: meta}
}

func TestStorage_SearchOrdersByDistance(t *testing.T) {
	ctx := context.Background()
	s, err := NewStorage(ctx, "")
	require.NoError(t, err)
	require.NoError(t, s.CreateCollection(ctx, "c", 2))
	require.NoError(t, s.Upsert(ctx, "c", []vectorstore.Record{
		record("far", "d1", 0, 1),
		record("near", "d1", 1, 0),
		record("mid", "d2", 1, 1),
	}))

	got, err := s.Search(ctx, "c", []float32{1, 0}, 2, domain.Filter{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "near", got[0].ID)
	assert.InDelta(t, 0, got[0].Distance, 1e-6)
	assert.Equal(t, "mid", got[1].ID)

	got, err = s.Search(ctx, "c", []float32{1, 0}, 10, domain.Filter{DocumentID: "d2"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "mid", got[0].ID)
}

func TestStorage_UpsertReplacesByID(t *testing.T) {
	ctx := context.Background()
	s, err := NewStorage(ctx, "")
	require.NoError(t, err)
	require.NoError(t, s.CreateCollection(ctx, "c", 2))
	require.NoError(t, s.Upsert(ctx, "c", []vectorstore.Record{record("a", "d", 1, 0)}))
	require.NoError(t, s.Upsert(ctx, "c", []vectorstore.Record{record("a", "d", 0, 1)}))

	n, err := s.Count(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	err = s.Upsert(ctx, "c", []vectorstore.Record{record("b", "d", 1, 0, 0)})
	assert.Error(t, err)
}

func TestStorage_DeleteByFilter(t *testing.T) {
	ctx := context.Background()
	s, err := NewStorage(ctx, "")
	require.NoError(t, err)
	require.NoError(t, s.CreateCollection(ctx, "c", 2))
	require.NoError(t, s.Upsert(ctx, "c", []vectorstore.Record{
		record("a", "d1", 1, 0),
		record("b", "d2", 0, 1),
	}))

	require.NoError(t, s.Delete(ctx, "c", domain.Filter{DocumentID: "d1"}))
	n, err := s.Count(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestStorage_MissingCollection(t *testing.T) {
	ctx := context.Background()
	s, err := NewStorage(ctx, "")
	require.NoError(t, err)

	_, err = s.Search(ctx, "nope", []float32{1}, 1, domain.Filter{})
	assert.ErrorIs(t, err, vectorstore.ErrCollectionNotFound)
	_, err = s.Count(ctx, "nope")
	assert.ErrorIs(t, err, vectorstore.ErrCollectionNotFound)
	assert.ErrorIs(t, s.Delete(ctx, "nope", domain.Filter{}), vectorstore.ErrCollectionNotFound)
}

func TestStorage_SnapshotReload(t *testing.T) {
	ctx := context.Background()
	snapshot := filepath.Join(t.TempDir(), "index.json")

	s, err := NewStorage(ctx, snapshot)
	require.NoError(t, err)
	require.NoError(t, s.CreateCollection(ctx, "c", 2))
	require.NoError(t, s.Upsert(ctx, "c", []vectorstore.Record{record("a", "d1", 1, 0)}))

	reloaded, err := NewStorage(ctx, snapshot)
	require.NoError(t, err)
	ok, err := reloaded.CollectionExists(ctx, "c")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := reloaded.Search(ctx, "c", []float32{1, 0}, 1, domain.Filter{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "text a", got[0].Text)
	assert.Equal(t, "d1", got[0].Metadata.DocumentID)
}

func TestStorage_FailedSnapshotWriteKeepsState(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := NewStorage(ctx, filepath.Join(dir, "index.json"))
	require.NoError(t, err)
	require.NoError(t, s.CreateCollection(ctx, "c", 2))
	require.NoError(t, s.Upsert(ctx, "c", []vectorstore.Record{record("a", "d1", 1, 0)}))

	// a regular file where the snapshot's parent directory should be
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))
	s.snapshotURL = filepath.Join(blocker, "index.json")

	assert.Error(t, s.Upsert(ctx, "c", []vectorstore.Record{record("b", "d2", 0, 1)}))
	n, err := s.Count(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	got, err := s.Search(ctx, "c", []float32{0, 1}, 10, domain.Filter{DocumentID: "d2"})
	require.NoError(t, err)
	assert.Empty(t, got)

	assert.Error(t, s.Delete(ctx, "c", domain.Filter{DocumentID: "d1"}))
	n, err = s.Count(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Error(t, s.DeleteCollection(ctx, "c"))
	ok, err := s.CollectionExists(ctx, "c")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCosineDistance_ZeroVector(t *testing.T) {
	assert.Equal(t, 1.0, cosineDistance([]float32{0, 0}, []float32{1, 0}))
	assert.InDelta(t, 2.0, cosineDistance([]float32{-1, 0}, []float32{1, 0}), 1e-9)
}
