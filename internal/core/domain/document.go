package domain

import "time"

// Document represents a policy document ready for chunking.
// It is the canonical representation after normalisation and is
// treated as immutable once chunked.
type Document struct {
	// ID is the unique identifier for the document.
	ID string

	// PolicyID identifies the policy this document belongs to.
	// It scopes retrieval filters and cache invalidation.
	PolicyID string

	// URI is the original location (file path, URL, etc).
	URI string

	// Title is the human-readable title.
	Title string

	// Content is the full text content after normalisation.
	Content string

	// Sections lists section labels detected by the loader, in order.
	Sections []string

	// Metadata contains arbitrary key-value pairs.
	Metadata map[string]any

	// CreatedAt is when the document was loaded.
	CreatedAt time.Time
}

// Chunk represents an ordered substring of a document.
// Chunks are the unit of embedding and citation.
type Chunk struct {
	// ID is derived from (DocumentID, Start) and is stable across runs.
	ID string

	// DocumentID links to the parent Document.
	DocumentID string

	// PolicyID is copied from the parent Document.
	PolicyID string

	// Content is the text content of this chunk.
	Content string

	// Start is the byte offset of the chunk in the document content.
	Start int

	// End is the exclusive end byte offset.
	End int

	// Section is the section label inherited from surrounding structure.
	Section string

	// Position is the ordinal position within the document.
	Position int

	// Embedding is the vector representation for semantic search.
	Embedding []float32

	// Metadata contains chunk-specific key-value pairs.
	Metadata map[string]any
}

// ChunkPayload is the metadata stored next to a vector in the index.
type ChunkPayload struct {
	DocumentID     string `json:"document_id"`
	PolicyID       string `json:"policy_id"`
	URI            string `json:"uri"`
	Title          string `json:"title"`
	Section        string `json:"section"`
	Text           string `json:"text"`
	Position       int    `json:"position"`
	Start          int    `json:"start"`
	End            int    `json:"end"`
	EmbeddingModel string `json:"embedding_model"`
	Checksum       string `json:"checksum"`
}

// EmbeddingRecord is one (chunk id, vector, payload) entry in the vector index.
// There is exactly one record per chunk id.
type EmbeddingRecord struct {
	ChunkID string
	Vector  []float32
	Payload ChunkPayload
}

// ChunkFingerprint pairs a chunk id with a checksum of its content.
type ChunkFingerprint struct {
	ID       string `json:"id"`
	Checksum string `json:"checksum"`
}

// DocumentManifest records what was last indexed for a document.
// Ingestion compares against it to skip or diff work.
type DocumentManifest struct {
	// DocumentID is the manifest key.
	DocumentID string

	// PolicyID is the document's policy at index time.
	PolicyID string

	// URI is the document location at index time.
	URI string

	// Checksum gates whole-document skips.
	Checksum string

	// EmbeddingModel is the model used for the stored vectors.
	EmbeddingModel string

	// Chunks lists the indexed chunks in position order.
	Chunks []ChunkFingerprint

	// IndexedAt is when the manifest was written.
	IndexedAt time.Time
}

// ChunkIDs returns the ids of the manifest's chunks.
func (m *DocumentManifest) ChunkIDs() []string {
	ids := make([]string, len(m.Chunks))
	for i, c := range m.Chunks {
		ids[i] = c.ID
	}
	return ids
}
