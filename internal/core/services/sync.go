package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/custodia-labs/policyqa/internal/core/domain"
	"github.com/custodia-labs/policyqa/internal/core/ports/driven"
	"github.com/custodia-labs/policyqa/internal/core/ports/driving"
	"github.com/custodia-labs/policyqa/internal/logger"
)

// Ensure SyncOrchestrator implements the interface.
var _ driving.SyncService = (*SyncOrchestrator)(nil)

// SyncOrchestrator feeds documents from a source through normalisation
// into the ingestion pipeline.
type SyncOrchestrator struct {
	source    driven.DocumentSource
	registry  driven.NormaliserRegistry
	ingestion driving.IngestionService
	manifests driven.ManifestStore
}

// NewSyncOrchestrator creates a new sync orchestrator.
func NewSyncOrchestrator(
	source driven.DocumentSource,
	registry driven.NormaliserRegistry,
	ingestion driving.IngestionService,
	manifests driven.ManifestStore,
) *SyncOrchestrator {
	return &SyncOrchestrator{
		source:    source,
		registry:  registry,
		ingestion: ingestion,
		manifests: manifests,
	}
}

// loaded is the outcome of walking the source once.
type loaded struct {
	docs     []domain.Document
	failures []domain.IngestionFailure
	uris     map[string]bool
}

// Load lists and normalises every document in the source. Documents that
// fail to normalise are logged and left out. It satisfies driving.DocumentLoader.
func (o *SyncOrchestrator) Load(ctx context.Context) ([]domain.Document, error) {
	l, err := o.load(ctx)
	if err != nil {
		return nil, err
	}
	return l.docs, nil
}

func (o *SyncOrchestrator) load(ctx context.Context) (*loaded, error) {
	docs, errs := o.source.List(ctx)
	l := &loaded{uris: make(map[string]bool)}

	for docs != nil || errs != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case raw, ok := <-docs:
			if !ok {
				docs = nil
				continue
			}
			l.uris[raw.URI] = true

			doc, err := o.registry.Normalise(ctx, &raw)
			if err != nil {
				logger.Warn("Skipping %s: %v", raw.URI, err)
				l.failures = append(l.failures, domain.IngestionFailure{URI: raw.URI, Error: err.Error()})
				continue
			}
			l.docs = append(l.docs, *doc)

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("list %s: %w", o.source.Root(), err)
			}
		}
	}

	logger.Debug("Loaded %d documents from %s (%d skipped)", len(l.docs), o.source.Root(), len(l.failures))
	return l, nil
}

// Sync ingests every document in the source. With Prune set, indexed
// documents whose files are gone are removed afterwards.
func (o *SyncOrchestrator) Sync(ctx context.Context, opts driving.SyncOptions) (*domain.IngestionReport, error) {
	l, err := o.load(ctx)
	if err != nil {
		return nil, err
	}

	report, err := o.ingestion.Ingest(ctx, l.docs)
	if report != nil {
		report.Failed += len(l.failures)
		report.Failures = append(report.Failures, l.failures...)
	}
	if err != nil {
		return report, err
	}

	if !opts.Prune {
		return report, nil
	}

	removed, err := o.prune(ctx, l.uris)
	if removed != nil {
		report.Removed += removed.Removed
		report.ChunksDeleted += removed.ChunksDeleted
		report.Failed += removed.Failed
		report.Failures = append(report.Failures, removed.Failures...)
		report.InvalidatedPolicies = mergePolicies(report.InvalidatedPolicies, removed.InvalidatedPolicies)
	}
	return report, err
}

// prune removes manifests whose URI was not listed.
func (o *SyncOrchestrator) prune(ctx context.Context, listed map[string]bool) (*domain.IngestionReport, error) {
	manifests, err := o.manifests.List(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("list manifests: %w", err)
	}

	var stale []string
	for _, m := range manifests {
		if !listed[m.URI] {
			stale = append(stale, m.DocumentID)
		}
	}
	if len(stale) == 0 {
		return nil, nil
	}

	logger.Info("Pruning %d documents no longer in %s", len(stale), o.source.Root())
	return o.ingestion.Remove(ctx, stale)
}

// EnsureIndexed syncs only when the index has no collection yet.
func (o *SyncOrchestrator) EnsureIndexed(ctx context.Context) (*domain.IngestionReport, error) {
	return o.ingestion.EnsureIndexed(ctx, o.Load)
}

// Watch applies changes from the source until ctx is cancelled.
func (o *SyncOrchestrator) Watch(ctx context.Context, onEvent func(driving.WatchEvent)) error {
	changes, err := o.source.Watch(ctx)
	if err != nil {
		return fmt.Errorf("watch %s: %w", o.source.Root(), err)
	}

	logger.Info("Watching %s for changes", o.source.Root())

	for {
		select {
		case <-ctx.Done():
			return nil
		case change, ok := <-changes:
			if !ok {
				return nil
			}
			event := o.apply(ctx, change)
			if event.Err != nil {
				logger.Warn("Failed to apply %s %s: %v", change.Type, change.Document.URI, event.Err)
			} else {
				logger.Info("Applied %s %s", change.Type, change.Document.URI)
			}
			if onEvent != nil {
				onEvent(event)
			}
		}
	}
}

// apply handles one change event.
func (o *SyncOrchestrator) apply(ctx context.Context, change domain.RawDocumentChange) driving.WatchEvent {
	event := driving.WatchEvent{Change: change.Type, URI: change.Document.URI}

	switch change.Type {
	case domain.ChangeCreated, domain.ChangeUpdated:
		raw := change.Document
		doc, err := o.registry.Normalise(ctx, &raw)
		if err != nil {
			event.Err = err
			return event
		}
		event.Report, event.Err = o.ingestion.Ingest(ctx, []domain.Document{*doc})
		if event.Err == nil && event.Report.Failed > 0 {
			event.Err = errors.New(event.Report.Failures[0].Error)
		}

	case domain.ChangeDeleted:
		event.Report, event.Err = o.removeByURI(ctx, change.Document.URI)

	default:
		event.Err = fmt.Errorf("%w: change type %d", domain.ErrInvalidInput, change.Type)
	}
	return event
}

// removeByURI removes every indexed document recorded under uri.
func (o *SyncOrchestrator) removeByURI(ctx context.Context, uri string) (*domain.IngestionReport, error) {
	manifests, err := o.manifests.List(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("list manifests: %w", err)
	}

	var ids []string
	for _, m := range manifests {
		if m.URI == uri {
			ids = append(ids, m.DocumentID)
		}
	}
	if len(ids) == 0 {
		return &domain.IngestionReport{}, nil
	}
	return o.ingestion.Remove(ctx, ids)
}

// mergePolicies appends policies from b not already in a.
func mergePolicies(a, b []string) []string {
	seen := make(map[string]bool, len(a))
	for _, p := range a {
		seen[p] = true
	}
	for _, p := range b {
		if !seen[p] {
			seen[p] = true
			a = append(a, p)
		}
	}
	return a
}
