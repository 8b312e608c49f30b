package mcp

import (
	"context"

	"github.com/custodia-labs/policyqa/internal/core/domain"
	"github.com/custodia-labs/policyqa/internal/core/ports/driving"
)

// mockQueryService is a mock implementation of driving.QueryService.
type mockQueryService struct {
	result  *domain.AnswerResult
	stats   *domain.QueryStats
	err     error
	lastReq driving.AskRequest
}

func (m *mockQueryService) Ask(_ context.Context, req driving.AskRequest) (*domain.AnswerResult, error) {
	m.lastReq = req
	return m.result, m.err
}

func (m *mockQueryService) Stats(_ context.Context) (*domain.QueryStats, error) {
	return m.stats, m.err
}

// mockCatalogService is a mock implementation of driving.CatalogService.
type mockCatalogService struct {
	policies  []domain.PolicySummary
	documents map[string][]domain.IndexedDocument
	err       error
}

func (m *mockCatalogService) Policies(_ context.Context) ([]domain.PolicySummary, error) {
	return m.policies, m.err
}

func (m *mockCatalogService) Documents(_ context.Context, policyID string) ([]domain.IndexedDocument, error) {
	return m.documents[policyID], m.err
}

// mockSyncService is a mock implementation of driving.SyncService.
type mockSyncService struct {
	report *domain.IngestionReport
	err    error
	opts   driving.SyncOptions
}

func (m *mockSyncService) Sync(_ context.Context, opts driving.SyncOptions) (*domain.IngestionReport, error) {
	m.opts = opts
	return m.report, m.err
}

func (m *mockSyncService) EnsureIndexed(_ context.Context) (*domain.IngestionReport, error) {
	return m.report, m.err
}

func (m *mockSyncService) Watch(_ context.Context, _ func(driving.WatchEvent)) error {
	return m.err
}

// mockCacheService is a mock implementation of driving.CacheService.
type mockCacheService struct {
	invalidated string
	cleared     bool
	removed     int
	err         error
}

func (m *mockCacheService) InvalidatePolicy(_ context.Context, policyID string) (int, error) {
	m.invalidated = policyID
	return m.removed, m.err
}

func (m *mockCacheService) Clear(_ context.Context) (int, error) {
	m.cleared = true
	return m.removed, m.err
}

func (m *mockCacheService) Stats(_ context.Context) (domain.CacheStats, error) {
	return domain.CacheStats{Items: m.removed}, m.err
}
