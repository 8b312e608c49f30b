package domain

// IngestionReport summarises one ingestion run.
// Document counters: Added + Updated + Skipped + Failed equals the input size.
type IngestionReport struct {
	Added   int `json:"added"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`

	// Removed counts documents deleted from the index by Remove.
	Removed int `json:"removed,omitempty"`

	ChunksAdded     int `json:"chunks_added"`
	ChunksReplaced  int `json:"chunks_replaced"`
	ChunksDeleted   int `json:"chunks_deleted"`
	ChunksUnchanged int `json:"chunks_unchanged"`

	// Failures lists the per-document errors behind Failed.
	Failures []IngestionFailure `json:"failures,omitempty"`

	// InvalidatedPolicies lists policies whose cached answers were dropped.
	InvalidatedPolicies []string `json:"invalidated_policies,omitempty"`
}

// IngestionFailure records why one document was not indexed.
type IngestionFailure struct {
	DocumentID string `json:"document_id"`
	URI        string `json:"uri"`
	Error      string `json:"error"`
}

// IngestionStatus reports progress of a running ingestion.
type IngestionStatus struct {
	Running            bool
	DocumentsTotal     int
	DocumentsProcessed int
	ErrorCount         int
}
