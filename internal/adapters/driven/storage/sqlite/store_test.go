package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/policyqa/internal/core/domain"
)

// setupTestStore creates a temporary SQLite store for testing.
func setupTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	require.NotNil(t, store)

	t.Cleanup(func() {
		assert.NoError(t, store.Close())
	})
	return store
}

func record(id, policy string, vec ...float32) domain.EmbeddingRecord {
	return domain.EmbeddingRecord{
		ChunkID: id,
		Vector:  vec,
		Payload: domain.ChunkPayload{
			DocumentID: "doc-" + policy,
			PolicyID:   policy,
			Text:       "text of " + id,
			Section:    "COVERAGE",
		},
	}
}

// ==================== Store ====================

func TestNewStore_CreatesDatabase(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")

	store, err := NewStore(dir)
	require.NoError(t, err)
	defer store.Close()

	assert.Equal(t, filepath.Join(dir, "index.db"), store.Path())
	_, err = os.Stat(store.Path())
	assert.NoError(t, err)
}

func TestNewStore_MigrationsRecorded(t *testing.T) {
	store := setupTestStore(t)

	var version int
	err := store.db.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&version)
	require.NoError(t, err)
	assert.Equal(t, 1, version)

	for _, table := range []string{"collections", "embeddings", "manifests"} {
		var name string
		err := store.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		assert.NoError(t, err, "table %s should exist", table)
	}
}

func TestNewStore_ReopenKeepsData(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := NewStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.ManifestStore().Save(ctx, &domain.DocumentManifest{
		DocumentID: "auto-policy",
		Checksum:   "abc",
	}))
	require.NoError(t, store.Close())

	reopened, err := NewStore(dir)
	require.NoError(t, err)
	defer reopened.Close()

	var count int
	require.NoError(t, reopened.db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	assert.Equal(t, 1, count)

	got, err := reopened.ManifestStore().Get(ctx, "auto-policy")
	require.NoError(t, err)
	assert.Equal(t, "abc", got.Checksum)
}

func TestNewStore_ForeignKeysEnabled(t *testing.T) {
	store := setupTestStore(t)

	var enabled int
	require.NoError(t, store.db.QueryRow("PRAGMA foreign_keys").Scan(&enabled))
	assert.Equal(t, 1, enabled)
}

// ==================== Manifest Store ====================

func TestManifestStore_SaveAndGet(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	manifests := store.ManifestStore()

	indexed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	want := &domain.DocumentManifest{
		DocumentID:     "auto-policy",
		PolicyID:       "POL-AUTO-001",
		URI:            "/docs/auto.md",
		Checksum:       "sum-1",
		EmbeddingModel: "nomic-embed-text",
		Chunks: []domain.ChunkFingerprint{
			{ID: "c1", Checksum: "x"},
			{ID: "c2", Checksum: "y"},
		},
		IndexedAt: indexed,
	}
	require.NoError(t, manifests.Save(ctx, want))

	got, err := manifests.Get(ctx, "auto-policy")
	require.NoError(t, err)
	assert.Equal(t, want.PolicyID, got.PolicyID)
	assert.Equal(t, want.URI, got.URI)
	assert.Equal(t, want.Checksum, got.Checksum)
	assert.Equal(t, want.EmbeddingModel, got.EmbeddingModel)
	assert.Equal(t, want.Chunks, got.Chunks)
	assert.True(t, indexed.Equal(got.IndexedAt))
	assert.Equal(t, []string{"c1", "c2"}, got.ChunkIDs())
}

func TestManifestStore_SaveReplaces(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	manifests := store.ManifestStore()

	require.NoError(t, manifests.Save(ctx, &domain.DocumentManifest{DocumentID: "d", Checksum: "old"}))
	require.NoError(t, manifests.Save(ctx, &domain.DocumentManifest{
		DocumentID: "d",
		Checksum:   "new",
		Chunks:     []domain.ChunkFingerprint{{ID: "c", Checksum: "z"}},
	}))

	got, err := manifests.Get(ctx, "d")
	require.NoError(t, err)
	assert.Equal(t, "new", got.Checksum)
	assert.Len(t, got.Chunks, 1)
}

func TestManifestStore_GetNotFound(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.ManifestStore().Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestManifestStore_ListAndDelete(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	manifests := store.ManifestStore()

	for _, m := range []domain.DocumentManifest{
		{DocumentID: "home-b", PolicyID: "POL-HOME-001", Checksum: "1"},
		{DocumentID: "auto", PolicyID: "POL-AUTO-001", Checksum: "2"},
		{DocumentID: "home-a", PolicyID: "POL-HOME-001", Checksum: "3"},
	} {
		require.NoError(t, manifests.Save(ctx, &m))
	}

	all, err := manifests.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "auto", all[0].DocumentID)

	home, err := manifests.List(ctx, "POL-HOME-001")
	require.NoError(t, err)
	require.Len(t, home, 2)
	assert.Equal(t, "home-a", home[0].DocumentID)
	assert.Equal(t, "home-b", home[1].DocumentID)

	require.NoError(t, manifests.Delete(ctx, "home-a"))
	require.NoError(t, manifests.Delete(ctx, "never-existed"))

	home, err = manifests.List(ctx, "POL-HOME-001")
	require.NoError(t, err)
	assert.Len(t, home, 1)
}

// ==================== Vector Index ====================

func TestVectorIndex_EnsureCollection(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	index := store.VectorIndex("insurance_docs")

	assert.Equal(t, "insurance_docs", index.Collection())
	require.NoError(t, index.EnsureCollection(ctx, 3))
	require.NoError(t, index.EnsureCollection(ctx, 3))

	err := index.EnsureCollection(ctx, 4)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	require.NoError(t, store.VectorIndex("other").EnsureCollection(ctx, 8))
	names, err := index.ListCollections(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"insurance_docs", "other"}, names)
}

func TestVectorIndex_UpsertAndSearch(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	index := store.VectorIndex("insurance_docs")
	require.NoError(t, index.EnsureCollection(ctx, 3))

	require.NoError(t, index.Upsert(ctx, []domain.EmbeddingRecord{
		record("a", "POL-AUTO-001", 1, 0, 0),
		record("b", "POL-AUTO-001", 0, 1, 0),
		record("c", "POL-HOME-001", 0.9, 0.1, 0),
	}))

	hits, err := index.Search(ctx, []float32{1, 0, 0}, 2, nil)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "a", hits[0].ChunkID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
	assert.Equal(t, "c", hits[1].ChunkID)
	assert.Equal(t, "text of a", hits[0].Payload.Text)
	assert.Equal(t, "COVERAGE", hits[0].Payload.Section)
}

func TestVectorIndex_SearchFilterAppliesBeforeRanking(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	index := store.VectorIndex("insurance_docs")
	require.NoError(t, index.EnsureCollection(ctx, 2))

	require.NoError(t, index.Upsert(ctx, []domain.EmbeddingRecord{
		record("near", "POL-AUTO-001", 1, 0),
		record("far", "POL-HOME-001", 0, 1),
	}))

	hits, err := index.Search(ctx, []float32{1, 0}, 1, &domain.SearchFilter{PolicyID: "POL-HOME-001"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "far", hits[0].ChunkID)
}

func TestVectorIndex_UpsertOverwrites(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	index := store.VectorIndex("insurance_docs")
	require.NoError(t, index.EnsureCollection(ctx, 2))

	require.NoError(t, index.Upsert(ctx, []domain.EmbeddingRecord{record("a", "P", 1, 0)}))
	updated := record("a", "P", 0, 1)
	updated.Payload.Text = "rewritten"
	require.NoError(t, index.Upsert(ctx, []domain.EmbeddingRecord{updated}))

	hits, err := index.Search(ctx, []float32{0, 1}, 5, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "rewritten", hits[0].Payload.Text)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
}

func TestVectorIndex_Delete(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	index := store.VectorIndex("insurance_docs")
	require.NoError(t, index.EnsureCollection(ctx, 2))

	require.NoError(t, index.Upsert(ctx, []domain.EmbeddingRecord{
		record("a", "P", 1, 0),
		record("b", "P", 0, 1),
	}))
	require.NoError(t, index.Delete(ctx, []string{"a", "unknown"}))
	require.NoError(t, index.Delete(ctx, nil))

	hits, err := index.Search(ctx, []float32{1, 0}, 5, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "b", hits[0].ChunkID)
}

func TestVectorIndex_CollectionsAreIsolated(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	first := store.VectorIndex("first")
	second := store.VectorIndex("second")
	require.NoError(t, first.EnsureCollection(ctx, 2))
	require.NoError(t, second.EnsureCollection(ctx, 2))

	require.NoError(t, first.Upsert(ctx, []domain.EmbeddingRecord{record("a", "P", 1, 0)}))

	hits, err := second.Search(ctx, []float32{1, 0}, 5, nil)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestVectorIndex_UnavailableAfterClose(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	index := store.VectorIndex("insurance_docs")
	require.NoError(t, store.Close())

	_, err = index.Search(context.Background(), []float32{1}, 1, nil)
	assert.ErrorIs(t, err, domain.ErrIndexUnavailable)
}

func TestFloat32BytesRoundTrip(t *testing.T) {
	in := []float32{0.25, -1.5, 3.125, 0}
	assert.Equal(t, in, bytesToFloat32Slice(float32SliceToBytes(in)))
	assert.Nil(t, float32SliceToBytes(nil))
	assert.Nil(t, bytesToFloat32Slice(nil))
}
