// Package driven defines the interfaces that core calls OUT to infrastructure.
//
// These are the "driven" or "secondary" ports in hexagonal architecture.
// Core services depend on these interfaces, and infrastructure adapters
// implement them.
//
// # Required Interfaces
//
//   - EmbeddingService: Maps text to vectors (OpenAI, Ollama, Gemini)
//   - VectorIndex: Stores chunk vectors and answers nearest-neighbour queries
//   - LLMService: Generates grounded answers (Anthropic, OpenAI, Ollama, Gemini)
//   - CacheBackend: Key-value store with TTL for synthesised answers
//   - ManifestStore: Per-document record of what was last indexed
//   - Chunker: Splits documents into deterministic chunks
//   - ConfigStore: Application configuration
//
// # Ingestion Inputs
//
//   - DocumentSource: Lists and watches raw policy files
//   - Normaliser, NormaliserRegistry: Turn raw bytes into documents
//
// # Import Rules
//
//   - Can Import: domain package only
//   - Cannot Import: Any adapter, connector, or normaliser package
package driven
