package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/custodia-labs/policyqa/internal/core/domain"
	"github.com/custodia-labs/policyqa/internal/core/ports/driven"
	"github.com/custodia-labs/policyqa/internal/core/ports/driving"
	"github.com/custodia-labs/policyqa/internal/logger"
	"github.com/custodia-labs/policyqa/internal/telemetry"
)

// Ensure IngestionPipeline implements the interface.
var _ driving.IngestionService = (*IngestionPipeline)(nil)

// IngestionConfig holds chunking and embedding batch parameters.
type IngestionConfig struct {
	MaxTokens     int
	OverlapTokens int

	// BatchTokens caps the estimated tokens per embedding request.
	BatchTokens int

	// BatchSize caps the texts per embedding request.
	BatchSize int

	EmbedTimeout time.Duration
}

// ProgressFunc is called after each document with the run's status.
type ProgressFunc func(status domain.IngestionStatus)

// IngestionPipeline chunks, embeds and indexes documents idempotently.
// Unchanged documents are skipped by checksum and changed documents only
// re-embed the chunks whose content changed.
type IngestionPipeline struct {
	chunker   driven.Chunker
	embedder  driven.EmbeddingService
	index     driven.VectorIndex
	manifests driven.ManifestStore
	cache     driving.CacheService
	cfg       IngestionConfig
	metrics   *telemetry.Metrics
	now       func() time.Time
	progress  ProgressFunc

	// run serialises ingestion runs.
	run sync.Mutex

	mu     sync.RWMutex
	status domain.IngestionStatus
}

// IngestionOption configures an IngestionPipeline.
type IngestionOption func(*IngestionPipeline)

// WithProgress registers a per-document progress callback.
func WithProgress(fn ProgressFunc) IngestionOption {
	return func(p *IngestionPipeline) {
		p.progress = fn
	}
}

// WithIngestionMetrics records per-document results.
func WithIngestionMetrics(m *telemetry.Metrics) IngestionOption {
	return func(p *IngestionPipeline) {
		p.metrics = m
	}
}

// WithIngestionClock sets the clock used for manifest timestamps.
func WithIngestionClock(now func() time.Time) IngestionOption {
	return func(p *IngestionPipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// NewIngestionPipeline creates an ingestion pipeline. cache may be nil when
// no answer cache needs invalidating.
func NewIngestionPipeline(
	chunker driven.Chunker,
	embedder driven.EmbeddingService,
	index driven.VectorIndex,
	manifests driven.ManifestStore,
	cache driving.CacheService,
	cfg IngestionConfig,
	opts ...IngestionOption,
) *IngestionPipeline {
	defaults := domain.DefaultAppSettings()
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaults.Chunking.MaxTokens
	}
	if cfg.OverlapTokens < 0 {
		cfg.OverlapTokens = defaults.Chunking.OverlapTokens
	}
	if cfg.BatchTokens <= 0 {
		cfg.BatchTokens = defaults.Resilience.EmbedBatchTokens
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.Resilience.EmbedBatchSize
	}
	if cfg.EmbedTimeout <= 0 {
		cfg.EmbedTimeout = defaults.Timeouts.Embed
	}

	p := &IngestionPipeline{
		chunker:   chunker,
		embedder:  embedder,
		index:     index,
		manifests: manifests,
		cache:     cache,
		cfg:       cfg,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// docResult is the outcome of ingesting one document.
type docResult int

const (
	docSkipped docResult = iota
	docAdded
	docUpdated
)

func (r docResult) String() string {
	switch r {
	case docAdded:
		return "added"
	case docUpdated:
		return "updated"
	default:
		return "skipped"
	}
}

// Ingest indexes docs. Per-document failures are recorded in the report and
// the run continues; an unreachable index aborts the run.
func (p *IngestionPipeline) Ingest(ctx context.Context, docs []domain.Document) (*domain.IngestionReport, error) {
	if !p.run.TryLock() {
		return nil, domain.ErrIngestionInProgress
	}
	defer p.run.Unlock()

	ctx, span := telemetry.Tracer().Start(ctx, "ingestion.ingest")
	defer span.End()
	span.SetAttributes(attribute.Int("ingest.documents", len(docs)))

	p.beginRun(len(docs))
	defer p.endRun()

	logger.Section("Ingestion")
	logger.Info("Ingesting %d documents into %s", len(docs), p.index.Collection())

	if err := p.index.EnsureCollection(ctx, p.embedder.Dimensions()); err != nil {
		return nil, fmt.Errorf("ensure collection: %w", err)
	}

	report := &domain.IngestionReport{}
	changed := make(map[string]bool)

	var runErr error
	for i := range docs {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}

		doc := &docs[i]
		result, policies, err := p.ingestOne(ctx, doc, report)
		for _, policy := range policies {
			changed[policy] = true
		}

		if err != nil {
			if errors.Is(err, domain.ErrIndexUnavailable) {
				runErr = fmt.Errorf("ingest %s: %w", doc.ID, err)
				break
			}
			report.Failed++
			report.Failures = append(report.Failures, domain.IngestionFailure{
				DocumentID: doc.ID,
				URI:        doc.URI,
				Error:      err.Error(),
			})
			logger.Warn("Failed to ingest %s: %v", doc.URI, err)
			p.metrics.RecordIngested(ctx, "failed")
			p.advanceStatus(true)
			continue
		}

		switch result {
		case docAdded:
			report.Added++
		case docUpdated:
			report.Updated++
		default:
			report.Skipped++
		}
		p.metrics.RecordIngested(ctx, result.String())
		logger.Debug("%s: %s", doc.URI, result)
		p.advanceStatus(false)
	}

	report.InvalidatedPolicies = p.invalidate(ctx, changed)

	logger.Info("Ingestion complete: %d added, %d updated, %d skipped, %d failed",
		report.Added, report.Updated, report.Skipped, report.Failed)

	if runErr != nil {
		span.RecordError(runErr)
		return report, runErr
	}
	return report, nil
}

// ingestOne indexes a single document. It returns the policies whose
// indexed content changed, even when a later step fails.
func (p *IngestionPipeline) ingestOne(
	ctx context.Context,
	doc *domain.Document,
	report *domain.IngestionReport,
) (docResult, []string, error) {
	if doc.ID == "" {
		return docSkipped, nil, fmt.Errorf("%w: document has no id", domain.ErrInvalidDocument)
	}

	model := p.embedder.ModelName()
	checksum := p.documentChecksum(doc, model)

	// 1. CHECKSUM GATE
	prev, err := p.manifests.Get(ctx, doc.ID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		prev = nil
	case err != nil:
		return docSkipped, nil, fmt.Errorf("get manifest: %w", err)
	}
	if prev != nil && prev.Checksum == checksum {
		return docSkipped, nil, nil
	}

	// 2. CHUNK
	chunks, err := p.chunker.Chunk(doc, p.cfg.MaxTokens, p.cfg.OverlapTokens)
	if err != nil {
		return docSkipped, nil, fmt.Errorf("chunk: %w", err)
	}

	// 3. DIFF against the previous manifest
	records := make([]domain.EmbeddingRecord, len(chunks))
	fingerprints := make([]domain.ChunkFingerprint, len(chunks))
	for i := range chunks {
		records[i] = domain.EmbeddingRecord{
			ChunkID: chunks[i].ID,
			Payload: payloadFor(doc, &chunks[i], model),
		}
		records[i].Payload.Checksum = chunkChecksum(records[i].Payload)
		fingerprints[i] = domain.ChunkFingerprint{ID: chunks[i].ID, Checksum: records[i].Payload.Checksum}
	}

	// Chunk checksums include the embedding model, so a model change
	// replaces every chunk.
	previous := make(map[string]string)
	if prev != nil {
		for _, fp := range prev.Chunks {
			previous[fp.ID] = fp.Checksum
		}
	}

	var pending []int
	var added, replaced, unchanged int
	current := make(map[string]bool, len(fingerprints))
	for i, fp := range fingerprints {
		current[fp.ID] = true
		old, seen := previous[fp.ID]
		switch {
		case !seen:
			added++
			pending = append(pending, i)
		case old != fp.Checksum:
			replaced++
			pending = append(pending, i)
		default:
			unchanged++
		}
	}

	var removed []string
	if prev != nil {
		for _, id := range prev.ChunkIDs() {
			if !current[id] {
				removed = append(removed, id)
			}
		}
	}

	// 4. EMBED new and changed chunks
	if err := p.embed(ctx, records, pending); err != nil {
		return docSkipped, nil, err
	}

	upserts := make([]domain.EmbeddingRecord, len(pending))
	for j, i := range pending {
		upserts[j] = records[i]
	}

	policies := []string{doc.PolicyID}
	if prev != nil && prev.PolicyID != doc.PolicyID {
		policies = append(policies, prev.PolicyID)
	}

	// 5. UPSERT then DELETE removed chunks
	if len(upserts) > 0 {
		if err := p.index.Upsert(ctx, upserts); err != nil {
			return docSkipped, nil, fmt.Errorf("upsert: %w", err)
		}
	}
	if len(removed) > 0 {
		if err := p.index.Delete(ctx, removed); err != nil {
			return docSkipped, policies, fmt.Errorf("delete stale chunks: %w", err)
		}
	}

	// 6. SAVE MANIFEST
	manifest := &domain.DocumentManifest{
		DocumentID:     doc.ID,
		PolicyID:       doc.PolicyID,
		URI:            doc.URI,
		Checksum:       checksum,
		EmbeddingModel: model,
		Chunks:         fingerprints,
		IndexedAt:      p.now(),
	}
	if err := p.manifests.Save(ctx, manifest); err != nil {
		return docSkipped, policies, fmt.Errorf("save manifest: %w", err)
	}

	report.ChunksAdded += added
	report.ChunksReplaced += replaced
	report.ChunksDeleted += len(removed)
	report.ChunksUnchanged += unchanged

	if prev == nil {
		return docAdded, policies, nil
	}
	if len(upserts) == 0 && len(removed) == 0 {
		// Only document-level metadata changed.
		return docUpdated, nil, nil
	}
	return docUpdated, policies, nil
}

// embed fills in vectors for records[pending] in token-budget batches.
func (p *IngestionPipeline) embed(ctx context.Context, records []domain.EmbeddingRecord, pending []int) error {
	texts := make([]string, len(pending))
	for j, i := range pending {
		texts[j] = records[i].Payload.Text
	}

	for _, b := range batchTexts(texts, p.cfg.BatchTokens, p.cfg.BatchSize) {
		embedCtx, cancel := context.WithTimeout(ctx, p.cfg.EmbedTimeout)
		vectors, err := p.embedder.EmbedBatch(embedCtx, texts[b.start:b.end])
		cancel()
		if err != nil {
			return fmt.Errorf("%w: %w", domain.ErrEmbeddingFailure, err)
		}
		if len(vectors) != b.end-b.start {
			return fmt.Errorf("%w: got %d vectors for %d texts",
				domain.ErrEmbeddingFailure, len(vectors), b.end-b.start)
		}
		for k, v := range vectors {
			records[pending[b.start+k]].Vector = v
		}
	}
	return nil
}

// Remove deletes documents and their chunks from the index.
func (p *IngestionPipeline) Remove(ctx context.Context, documentIDs []string) (*domain.IngestionReport, error) {
	if !p.run.TryLock() {
		return nil, domain.ErrIngestionInProgress
	}
	defer p.run.Unlock()

	report := &domain.IngestionReport{}
	changed := make(map[string]bool)

	var runErr error
	for _, id := range documentIDs {
		manifest, err := p.manifests.Get(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			report.Skipped++
			continue
		}
		if err != nil {
			report.Failed++
			report.Failures = append(report.Failures, domain.IngestionFailure{DocumentID: id, Error: err.Error()})
			continue
		}

		if err := p.index.Delete(ctx, manifest.ChunkIDs()); err != nil {
			if errors.Is(err, domain.ErrIndexUnavailable) {
				runErr = fmt.Errorf("remove %s: %w", id, err)
				break
			}
			report.Failed++
			report.Failures = append(report.Failures, domain.IngestionFailure{
				DocumentID: id, URI: manifest.URI, Error: err.Error(),
			})
			continue
		}
		changed[manifest.PolicyID] = true

		if err := p.manifests.Delete(ctx, id); err != nil {
			report.Failed++
			report.Failures = append(report.Failures, domain.IngestionFailure{
				DocumentID: id, URI: manifest.URI, Error: err.Error(),
			})
			continue
		}
		report.Removed++
		report.ChunksDeleted += len(manifest.Chunks)
		logger.Debug("Removed %s (%d chunks)", manifest.URI, len(manifest.Chunks))
	}

	report.InvalidatedPolicies = p.invalidate(ctx, changed)
	return report, runErr
}

// EnsureIndexed runs load and Ingest only when the collection is missing.
// Manifests left from a previous collection are dropped first so every
// document is indexed again.
func (p *IngestionPipeline) EnsureIndexed(ctx context.Context, load driving.DocumentLoader) (*domain.IngestionReport, error) {
	collections, err := p.index.ListCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	if slices.Contains(collections, p.index.Collection()) {
		logger.Debug("Collection %s exists, skipping startup ingestion", p.index.Collection())
		return nil, nil
	}

	if err := p.dropManifests(ctx); err != nil {
		return nil, err
	}

	docs, err := load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load documents: %w", err)
	}
	return p.Ingest(ctx, docs)
}

// dropManifests forgets every indexed document.
func (p *IngestionPipeline) dropManifests(ctx context.Context) error {
	if !p.run.TryLock() {
		return domain.ErrIngestionInProgress
	}
	defer p.run.Unlock()

	manifests, err := p.manifests.List(ctx, "")
	if err != nil {
		return fmt.Errorf("list manifests: %w", err)
	}
	for _, m := range manifests {
		if err := p.manifests.Delete(ctx, m.DocumentID); err != nil {
			return fmt.Errorf("delete manifest %s: %w", m.DocumentID, err)
		}
	}
	if len(manifests) > 0 {
		logger.Info("Collection %s is missing, dropped %d stale manifests", p.index.Collection(), len(manifests))
	}
	return nil
}

// Status returns progress of the current run.
func (p *IngestionPipeline) Status() domain.IngestionStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

func (p *IngestionPipeline) beginRun(total int) {
	p.mu.Lock()
	p.status = domain.IngestionStatus{Running: true, DocumentsTotal: total}
	p.mu.Unlock()
}

func (p *IngestionPipeline) endRun() {
	p.mu.Lock()
	p.status.Running = false
	p.mu.Unlock()
}

func (p *IngestionPipeline) advanceStatus(failed bool) {
	p.mu.Lock()
	p.status.DocumentsProcessed++
	if failed {
		p.status.ErrorCount++
	}
	snapshot := p.status
	p.mu.Unlock()

	if p.progress != nil {
		p.progress(snapshot)
	}
}

// invalidate drops cached answers for changed policies and returns them sorted.
func (p *IngestionPipeline) invalidate(ctx context.Context, changed map[string]bool) []string {
	if len(changed) == 0 {
		return nil
	}
	policies := make([]string, 0, len(changed))
	for policy := range changed {
		policies = append(policies, policy)
	}
	sort.Strings(policies)

	if p.cache == nil {
		return policies
	}
	for _, policy := range policies {
		n, err := p.cache.InvalidatePolicy(context.WithoutCancel(ctx), policy)
		if err != nil {
			logger.Warn("Cache invalidation for policy %s failed: %v", policy, err)
			continue
		}
		logger.Debug("Invalidated %d cached answers for policy %s", n, policy)
	}
	return policies
}

// documentChecksum covers everything that changes indexed output.
func (p *IngestionPipeline) documentChecksum(doc *domain.Document, model string) string {
	h := sha256.New()
	for _, part := range []string{
		doc.Content,
		doc.PolicyID,
		doc.URI,
		doc.Title,
		p.chunker.Name(),
		strconv.Itoa(p.cfg.MaxTokens),
		strconv.Itoa(p.cfg.OverlapTokens),
		model,
	} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// chunkChecksum covers the stored payload of a chunk.
func chunkChecksum(p domain.ChunkPayload) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%s\x00%s\x00%s\x00%d\x00%d\x00%d",
		p.Text, p.Section, p.PolicyID, p.URI, p.Title, p.EmbeddingModel, p.Position, p.Start, p.End)
	return hex.EncodeToString(h.Sum(nil))
}

func payloadFor(doc *domain.Document, c *domain.Chunk, model string) domain.ChunkPayload {
	return domain.ChunkPayload{
		DocumentID:     doc.ID,
		PolicyID:       doc.PolicyID,
		URI:            doc.URI,
		Title:          doc.Title,
		Section:        c.Section,
		Text:           c.Content,
		Position:       c.Position,
		Start:          c.Start,
		End:            c.End,
		EmbeddingModel: model,
	}
}

type batch struct {
	start, end int
}

// batchTexts groups texts so each batch stays under maxTokens estimated
// tokens and maxItems texts. A single oversized text gets its own batch.
func batchTexts(texts []string, maxTokens, maxItems int) []batch {
	var batches []batch
	start, tokens := 0, 0
	for i, t := range texts {
		n := EstimateTokens(t)
		if i > start && (tokens+n > maxTokens || i-start >= maxItems) {
			batches = append(batches, batch{start, i})
			start, tokens = i, 0
		}
		tokens += n
	}
	if start < len(texts) {
		batches = append(batches, batch{start, len(texts)})
	}
	return batches
}

// EstimateTokens approximates model tokens as four bytes per token.
func EstimateTokens(text string) int {
	return len(text)/4 + 1
}
