package domain

import "time"

// PolicySummary describes what is indexed for one policy.
type PolicySummary struct {
	PolicyID  string    `json:"policy_id"`
	Documents int       `json:"documents"`
	Chunks    int       `json:"chunks"`
	IndexedAt time.Time `json:"indexed_at"`
}

// IndexedDocument describes one indexed document.
type IndexedDocument struct {
	DocumentID     string    `json:"document_id"`
	PolicyID       string    `json:"policy_id"`
	URI            string    `json:"uri"`
	Chunks         int       `json:"chunks"`
	EmbeddingModel string    `json:"embedding_model"`
	IndexedAt      time.Time `json:"indexed_at"`
}
