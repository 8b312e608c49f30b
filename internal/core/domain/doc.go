// Package domain defines the core business entities for policyqa.
//
// This package is part of the hexagonal architecture's innermost layer.
// It has NO external dependencies and defines the fundamental types:
//
//   - Document: A policy document loaded for ingestion
//   - Chunk: The unit of embedding and citation within a document
//   - EmbeddingRecord: A chunk vector plus payload as stored in the vector index
//   - CacheEntry: A previously synthesised answer keyed by question fingerprint
//   - AnswerResult: The outcome of a single question
//
// # Architectural Position
//
// Domain is at the centre of the hexagon. It may only import
// the Go standard library. All other packages depend on domain,
// never the reverse.
//
// # Import Rules
//
//   - Can Import: Standard library only
//   - Cannot Import: Any internal/ package, any external dependency
package domain
