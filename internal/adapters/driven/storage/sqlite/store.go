package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/custodia-labs/policyqa/internal/adapters/driven/storage"
	"github.com/custodia-labs/policyqa/internal/adapters/driven/storage/sqlite/migrations"
	"github.com/custodia-labs/policyqa/internal/core/domain"
	"github.com/custodia-labs/policyqa/internal/core/ports/driven"
)

// Store is a SQLite database holding manifests and chunk vectors.
// It hands out the port implementations through wrapper types.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore creates a new SQLite store in the specified data directory.
// If dataDir is empty, defaults to ~/.policyqa/data/index.db.
func NewStore(dataDir string) (*Store, error) {
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		dataDir = filepath.Join(home, ".policyqa", "data")
	}

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "index.db")

	// WAL mode lets searches run while ingestion writes
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &Store{
		db:   db,
		path: dbPath,
	}

	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// ManifestStore returns a ManifestStore backed by this store.
func (s *Store) ManifestStore() driven.ManifestStore {
	return &manifestStore{store: s}
}

// VectorIndex returns a VectorIndex over the named collection.
func (s *Store) VectorIndex(collection string) driven.VectorIndex {
	return &vectorIndex{store: s, collection: collection}
}

// migrate runs all pending migrations and records their versions.
func (s *Store) migrate(fsys embed.FS) error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var currentVersion int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	var upFiles []string
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasSuffix(name, ".up.sql") {
			upFiles = append(upFiles, name)
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		// "001_initial.up.sql" -> 1
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= currentVersion {
			continue
		}

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
	}

	return nil
}

// ==================== Manifest Store ====================

// manifestStore implements driven.ManifestStore.
type manifestStore struct {
	store *Store
}

var _ driven.ManifestStore = (*manifestStore)(nil)

// Get retrieves the manifest for a document.
func (m *manifestStore) Get(ctx context.Context, documentID string) (*domain.DocumentManifest, error) {
	row := m.store.db.QueryRowContext(ctx, `
		SELECT document_id, policy_id, uri, checksum, embedding_model, chunks, indexed_at
		FROM manifests WHERE document_id = ?
	`, documentID)

	manifest, err := scanManifest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return manifest, nil
}

// Save stores or replaces a manifest.
func (m *manifestStore) Save(ctx context.Context, manifest *domain.DocumentManifest) error {
	chunksJSON, err := json.Marshal(manifest.Chunks)
	if err != nil {
		return fmt.Errorf("marshalling chunk fingerprints: %w", err)
	}

	indexedAt := manifest.IndexedAt
	if indexedAt.IsZero() {
		indexedAt = time.Now()
	}

	_, err = m.store.db.ExecContext(ctx, `
		INSERT INTO manifests (document_id, policy_id, uri, checksum, embedding_model, chunks, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(document_id) DO UPDATE SET
			policy_id = excluded.policy_id,
			uri = excluded.uri,
			checksum = excluded.checksum,
			embedding_model = excluded.embedding_model,
			chunks = excluded.chunks,
			indexed_at = excluded.indexed_at
	`, manifest.DocumentID, manifest.PolicyID, manifest.URI, manifest.Checksum,
		manifest.EmbeddingModel, string(chunksJSON), indexedAt.UTC())
	if err != nil {
		return fmt.Errorf("saving manifest: %w", err)
	}
	return nil
}

// Delete removes a manifest.
func (m *manifestStore) Delete(ctx context.Context, documentID string) error {
	_, err := m.store.db.ExecContext(ctx, "DELETE FROM manifests WHERE document_id = ?", documentID)
	if err != nil {
		return fmt.Errorf("deleting manifest: %w", err)
	}
	return nil
}

// List returns manifests ordered by document id, optionally for one policy.
func (m *manifestStore) List(ctx context.Context, policyID string) ([]domain.DocumentManifest, error) {
	query := `
		SELECT document_id, policy_id, uri, checksum, embedding_model, chunks, indexed_at
		FROM manifests`
	var args []any
	if policyID != "" {
		query += " WHERE policy_id = ?"
		args = append(args, policyID)
	}
	query += " ORDER BY document_id"

	rows, err := m.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying manifests: %w", err)
	}
	defer rows.Close()

	var manifests []domain.DocumentManifest //nolint:prealloc // size unknown from query
	for rows.Next() {
		manifest, err := scanManifest(rows)
		if err != nil {
			return nil, err
		}
		manifests = append(manifests, *manifest)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating manifests: %w", err)
	}
	return manifests, nil
}

// ==================== Vector Index ====================

// vectorIndex implements driven.VectorIndex with brute-force cosine search.
// The policy filter is applied in SQL before ranking.
type vectorIndex struct {
	store      *Store
	collection string
}

var _ driven.VectorIndex = (*vectorIndex)(nil)

// Collection returns the collection name.
func (v *vectorIndex) Collection() string {
	return v.collection
}

// EnsureCollection creates the collection, or checks its dimensions if it exists.
func (v *vectorIndex) EnsureCollection(ctx context.Context, dimensions int) error {
	_, err := v.store.db.ExecContext(ctx, `
		INSERT INTO collections (name, dimensions) VALUES (?, ?)
		ON CONFLICT(name) DO NOTHING
	`, v.collection, dimensions)
	if err != nil {
		return unavailable("creating collection", err)
	}

	var existing int
	row := v.store.db.QueryRowContext(ctx, "SELECT dimensions FROM collections WHERE name = ?", v.collection)
	if err := row.Scan(&existing); err != nil {
		return unavailable("reading collection", err)
	}
	if existing != dimensions {
		return fmt.Errorf("%w: collection %s has %d dimensions, not %d",
			domain.ErrInvalidInput, v.collection, existing, dimensions)
	}
	return nil
}

// ListCollections returns the existing collection names.
func (v *vectorIndex) ListCollections(ctx context.Context) ([]string, error) {
	rows, err := v.store.db.QueryContext(ctx, "SELECT name FROM collections ORDER BY name")
	if err != nil {
		return nil, unavailable("listing collections", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, unavailable("scanning collection", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterating collections", err)
	}
	return names, nil
}

// Upsert inserts or overwrites records in one transaction.
func (v *vectorIndex) Upsert(ctx context.Context, records []domain.EmbeddingRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := v.store.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("beginning transaction", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO embeddings (collection, chunk_id, policy_id, vector, payload)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(collection, chunk_id) DO UPDATE SET
			policy_id = excluded.policy_id,
			vector = excluded.vector,
			payload = excluded.payload
	`)
	if err != nil {
		return unavailable("preparing statement", err)
	}
	defer stmt.Close()

	for _, r := range records {
		payloadJSON, err := json.Marshal(r.Payload)
		if err != nil {
			return fmt.Errorf("marshalling payload: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, v.collection, r.ChunkID, r.Payload.PolicyID,
			float32SliceToBytes(r.Vector), string(payloadJSON)); err != nil {
			return unavailable("saving embedding", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return unavailable("committing transaction", err)
	}
	return nil
}

// Delete removes records by chunk id.
func (v *vectorIndex) Delete(ctx context.Context, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}

	tx, err := v.store.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("beginning transaction", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, "DELETE FROM embeddings WHERE collection = ? AND chunk_id = ?")
	if err != nil {
		return unavailable("preparing statement", err)
	}
	defer stmt.Close()

	for _, id := range chunkIDs {
		if _, err := stmt.ExecContext(ctx, v.collection, id); err != nil {
			return unavailable("deleting embedding", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return unavailable("committing transaction", err)
	}
	return nil
}

// Search scores every record passing the filter and returns the k nearest.
func (v *vectorIndex) Search(
	ctx context.Context,
	query []float32,
	k int,
	filter *domain.SearchFilter,
) ([]driven.VectorHit, error) {
	sqlQuery := "SELECT chunk_id, vector, payload FROM embeddings WHERE collection = ?"
	args := []any{v.collection}
	if filter != nil && filter.PolicyID != "" {
		sqlQuery += " AND policy_id = ?"
		args = append(args, filter.PolicyID)
	}

	rows, err := v.store.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, unavailable("querying embeddings", err)
	}
	defer rows.Close()

	var hits []driven.VectorHit //nolint:prealloc // size unknown from query
	for rows.Next() {
		var (
			id          string
			blob        []byte
			payloadJSON string
		)
		if err := rows.Scan(&id, &blob, &payloadJSON); err != nil {
			return nil, unavailable("scanning embedding", err)
		}
		var payload domain.ChunkPayload
		if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
			return nil, fmt.Errorf("unmarshalling payload for %s: %w", id, err)
		}
		hits = append(hits, driven.VectorHit{
			ChunkID: id,
			Payload: payload,
			Score:   storage.Cosine(query, bytesToFloat32Slice(blob)),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterating embeddings", err)
	}

	return storage.TopK(hits, k), nil
}

// Close is a no-op; the Store owns the connection.
func (v *vectorIndex) Close() error {
	return nil
}

// ==================== Helper Functions ====================

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanManifest(row rowScanner) (*domain.DocumentManifest, error) {
	var m domain.DocumentManifest
	var chunksJSON string
	var indexedAt sql.NullTime
	if err := row.Scan(&m.DocumentID, &m.PolicyID, &m.URI, &m.Checksum,
		&m.EmbeddingModel, &chunksJSON, &indexedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning manifest: %w", err)
	}
	if indexedAt.Valid {
		m.IndexedAt = indexedAt.Time
	}
	if err := json.Unmarshal([]byte(chunksJSON), &m.Chunks); err != nil {
		return nil, fmt.Errorf("unmarshalling chunk fingerprints: %w", err)
	}
	return &m, nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", domain.ErrIndexUnavailable, op, err)
}

// float32SliceToBytes converts a []float32 to a byte slice for storage.
func float32SliceToBytes(floats []float32) []byte {
	if len(floats) == 0 {
		return nil
	}
	buf := make([]byte, len(floats)*4)
	for i, f := range floats {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// bytesToFloat32Slice converts a byte slice back to []float32.
func bytesToFloat32Slice(data []byte) []float32 {
	if len(data) == 0 {
		return nil
	}
	floats := make([]float32, len(data)/4)
	for i := range floats {
		floats[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return floats
}
