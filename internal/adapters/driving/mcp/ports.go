package mcp

import (
	"github.com/custodia-labs/policyqa/internal/core/ports/driving"
)

// Ports aggregates all driving port interfaces required by the MCP server.
// This provides a single injection point for dependency injection.
type Ports struct {
	// Query answers questions.
	Query driving.QueryService

	// Cache administers the answer cache.
	Cache driving.CacheService

	// Catalog lists indexed policies and documents.
	Catalog driving.CatalogService

	// Sync re-reads the document directory.
	Sync driving.SyncService
}

// Validate ensures all required ports are set.
// Returns an error if any required port is nil.
func (p *Ports) Validate() error {
	if p.Query == nil {
		return ErrMissingQueryService
	}
	// Cache, Catalog and Sync are optional; their tools and resources are
	// registered only when present.
	return nil
}
