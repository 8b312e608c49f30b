package cli

import (
	"context"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/custodia-labs/policyqa/internal/core/domain"
	"github.com/custodia-labs/policyqa/internal/core/ports/driving"
)

// mockQueryService records the last request.
type mockQueryService struct {
	result  *domain.AnswerResult
	stats   *domain.QueryStats
	err     error
	lastReq driving.AskRequest
	calls   int
}

func (m *mockQueryService) Ask(_ context.Context, req driving.AskRequest) (*domain.AnswerResult, error) {
	m.calls++
	m.lastReq = req
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

func (m *mockQueryService) Stats(_ context.Context) (*domain.QueryStats, error) {
	if m.stats == nil {
		return &domain.QueryStats{}, nil
	}
	return m.stats, nil
}

type mockCacheService struct {
	stats       domain.CacheStats
	removed     int
	cleared     bool
	invalidated string
}

func (m *mockCacheService) InvalidatePolicy(_ context.Context, policyID string) (int, error) {
	m.invalidated = policyID
	return m.removed, nil
}

func (m *mockCacheService) Clear(_ context.Context) (int, error) {
	m.cleared = true
	return m.removed, nil
}

func (m *mockCacheService) Stats(_ context.Context) (domain.CacheStats, error) {
	return m.stats, nil
}

type mockCatalogService struct {
	policies []domain.PolicySummary
}

func (m *mockCatalogService) Policies(_ context.Context) ([]domain.PolicySummary, error) {
	return m.policies, nil
}

func (m *mockCatalogService) Documents(_ context.Context, policyID string) ([]domain.IndexedDocument, error) {
	var docs []domain.IndexedDocument
	for _, p := range m.policies {
		if p.PolicyID == policyID {
			docs = append(docs, domain.IndexedDocument{PolicyID: policyID})
		}
	}
	return docs, nil
}

type mockSyncService struct {
	report      *domain.IngestionReport
	err         error
	lastOpts    driving.SyncOptions
	syncCalls   int
	ensureCalls int
}

func (m *mockSyncService) Sync(_ context.Context, opts driving.SyncOptions) (*domain.IngestionReport, error) {
	m.syncCalls++
	m.lastOpts = opts
	return m.report, m.err
}

func (m *mockSyncService) EnsureIndexed(_ context.Context) (*domain.IngestionReport, error) {
	m.ensureCalls++
	return nil, m.err
}

func (m *mockSyncService) Watch(ctx context.Context, _ func(driving.WatchEvent)) error {
	<-ctx.Done()
	return nil
}

// useApp makes every command receive app and returns the options
// the factory was last called with.
func useApp(t *testing.T, app *App) *AppOptions {
	t.Helper()
	var got AppOptions
	original := appFactory
	appFactory = func(_ context.Context, opts AppOptions) (*App, error) {
		got = opts
		return app, nil
	}
	t.Cleanup(func() { appFactory = original })
	return &got
}

// resetFlags restores flag defaults so one test's flags do not leak into
// the next Execute.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if f.Value.Type() == "stringSlice" {
			return
		}
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}
