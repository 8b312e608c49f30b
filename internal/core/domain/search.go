package domain

// SearchFilter restricts a vector search.
// A nil filter or empty PolicyID matches every record.
type SearchFilter struct {
	PolicyID string
}

// Matches reports whether a payload passes the filter.
func (f *SearchFilter) Matches(p ChunkPayload) bool {
	if f == nil || f.PolicyID == "" {
		return true
	}
	return p.PolicyID == f.PolicyID
}

// RetrievedChunk is a chunk returned by the retriever with its similarity.
type RetrievedChunk struct {
	Chunk Chunk

	// URI and Title describe the parent document.
	URI   string
	Title string

	// Score is the similarity to the question.
	Score float64
}
