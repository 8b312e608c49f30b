package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	cachemem "github.com/custodia-labs/policyqa/internal/adapters/driven/cache/memory"
	"github.com/custodia-labs/policyqa/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/policyqa/internal/core/domain"
	"github.com/custodia-labs/policyqa/internal/core/ports/driven"
	"github.com/custodia-labs/policyqa/internal/postprocessors/chunker"
)

func init() {
	strictTransitions = true
}

// --- Mock implementations ---

// topicVocabulary gives the mock embedder one dimension per keyword, so
// texts sharing keywords land close together.
var topicVocabulary = []string{
	"collision", "deductible", "liability", "comprehensive", "flood",
	"water", "dwelling", "premium", "roof", "rental", "medical", "theft",
}

// mockEmbeddingService implements driven.EmbeddingService with keyword vectors.
type mockEmbeddingService struct {
	model    string
	embedErr error

	mu         sync.Mutex
	batchCalls int
	embedded   int
}

func newMockEmbedder() *mockEmbeddingService {
	return &mockEmbeddingService{model: "mock-embed"}
}

func keywordVector(text string) []float32 {
	v := make([]float32, len(topicVocabulary))
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,;:?!$()\"'")
		for i, topic := range topicVocabulary {
			if word == topic {
				v[i]++
			}
		}
	}
	return v
}

func (m *mockEmbeddingService) Embed(_ context.Context, text string) ([]float32, error) {
	if m.embedErr != nil {
		return nil, m.embedErr
	}
	return keywordVector(text), nil
}

func (m *mockEmbeddingService) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	if m.embedErr != nil {
		return nil, m.embedErr
	}
	m.mu.Lock()
	m.batchCalls++
	m.embedded += len(texts)
	m.mu.Unlock()

	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = keywordVector(t)
	}
	return out, nil
}

func (m *mockEmbeddingService) Dimensions() int              { return len(topicVocabulary) }
func (m *mockEmbeddingService) ModelName() string            { return m.model }
func (m *mockEmbeddingService) Ping(_ context.Context) error { return nil }
func (m *mockEmbeddingService) Close() error                 { return nil }

func (m *mockEmbeddingService) embeddedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.embedded
}

var promptChunkID = regexp.MustCompile(`\[chunk:([^\]]+)\]`)

// mockLLMService implements driven.LLMService. By default it answers with
// the reply text and cites the first chunk in the prompt.
type mockLLMService struct {
	reply    string
	response string
	err      error

	// gate, when set, blocks Generate until closed.
	gate chan struct{}

	calls      atomic.Int32
	lastPrompt atomic.Value
}

func newMockLLM(reply string) *mockLLMService {
	return &mockLLMService{reply: reply}
}

func (m *mockLLMService) Generate(ctx context.Context, prompt string, _ driven.GenerateOptions) (*driven.Generation, error) {
	m.calls.Add(1)
	m.lastPrompt.Store(prompt)

	if m.gate != nil {
		select {
		case <-m.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.err != nil {
		return nil, m.err
	}

	text := m.response
	if text == "" {
		text = fmt.Sprintf("%s\nCITATIONS: %s", m.reply, firstExcerptID(prompt))
	}
	return &driven.Generation{Text: text, InputTokens: 1000, OutputTokens: 100}, nil
}

// firstExcerptID returns the id of the first excerpt in a synthesis prompt,
// skipping the tag format shown in the instructions.
func firstExcerptID(prompt string) string {
	if i := strings.Index(prompt, "Policy excerpts:"); i >= 0 {
		prompt = prompt[i:]
	}
	if match := promptChunkID.FindStringSubmatch(prompt); match != nil {
		return match[1]
	}
	return "none"
}

func (m *mockLLMService) ModelName() string            { return "claude-sonnet-4-test" }
func (m *mockLLMService) Ping(_ context.Context) error { return nil }
func (m *mockLLMService) Close() error                 { return nil }

func (m *mockLLMService) prompt() string {
	p, _ := m.lastPrompt.Load().(string)
	return p
}

// failingCacheBackend implements driven.CacheBackend and fails every call.
type failingCacheBackend struct{}

var errBackendDown = errors.New("backend down")

func (failingCacheBackend) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errBackendDown
}

func (failingCacheBackend) Set(context.Context, string, []byte, time.Duration) error {
	return errBackendDown
}

func (failingCacheBackend) Delete(context.Context, ...string) (int, error) {
	return 0, errBackendDown
}

func (failingCacheBackend) DeleteByPattern(context.Context, string) (int, error) {
	return 0, errBackendDown
}

func (failingCacheBackend) Keys(context.Context, string) ([]string, error) {
	return nil, errBackendDown
}

func (failingCacheBackend) Close() error { return nil }

// fakeClock is a manually advanced clock shared by cache layers.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// --- Fixtures ---

const (
	autoPolicy = "POL-AUTO-001"
	homePolicy = "POL-HOME-001"
)

func autoPolicyDoc() domain.Document {
	return domain.Document{
		ID:       "auto-policy",
		PolicyID: autoPolicy,
		URI:      "/docs/auto/policy.txt",
		Title:    "Auto Insurance Policy",
		Content: "COLLISION COVERAGE\n\n" +
			"Collision coverage pays for damage to your vehicle. Your collision deductible is $500 per claim.\n\n" +
			"LIABILITY COVERAGE\n\n" +
			"Bodily injury liability is covered up to $100,000 per person.",
	}
}

func homePolicyDoc() domain.Document {
	return domain.Document{
		ID:       "home-policy",
		PolicyID: homePolicy,
		URI:      "/docs/home/policy.txt",
		Title:    "Homeowners Policy",
		Content: "DWELLING COVERAGE\n\n" +
			"Dwelling coverage protects the structure and roof of your home.\n\n" +
			"EXCLUSIONS\n\n" +
			"Flood and surface water damage are not covered.",
	}
}

// testStack wires the services over in-memory adapters.
type testStack struct {
	clock     *fakeClock
	embedder  *mockEmbeddingService
	llm       *mockLLMService
	index     *memory.VectorIndex
	manifests *memory.ManifestStore
	backend   *cachemem.Cache
	cache     *AnswerCache
	costs     *CostTracker
	ingestion *IngestionPipeline
	query     *QueryOrchestrator
}

func newTestStack(t *testing.T, reply string, opts ...OrchestratorOption) *testStack {
	t.Helper()

	s := &testStack{
		clock:     newFakeClock(),
		embedder:  newMockEmbedder(),
		llm:       newMockLLM(reply),
		index:     memory.NewVectorIndex(domain.DefaultCollection),
		manifests: memory.NewManifestStore(),
	}
	s.backend = cachemem.New(cachemem.WithClock(s.clock.Now))
	s.cache = NewAnswerCache(s.backend, domain.CacheSettings{
		TTL:       300 * time.Second,
		KeyPrefix: "test:",
	}, WithCacheClock(s.clock.Now))
	s.costs = NewCostTracker(s.llm.ModelName())

	s.ingestion = NewIngestionPipeline(
		chunker.New(),
		s.embedder,
		s.index,
		s.manifests,
		s.cache,
		IngestionConfig{MaxTokens: 20, OverlapTokens: 5},
		WithIngestionClock(s.clock.Now),
	)

	retriever := NewRetriever(s.embedder, s.index, "", domain.TimeoutSettings{})
	synthesizer := NewSynthesizer(s.llm, SynthesizerConfig{}, nil)
	s.query = NewQueryOrchestrator(s.cache, retriever, synthesizer, s.costs,
		append([]OrchestratorOption{WithOrchestratorClock(s.clock.Now)}, opts...)...)
	return s
}

func (s *testStack) ingest(t *testing.T, docs ...domain.Document) *domain.IngestionReport {
	t.Helper()
	report, err := s.ingestion.Ingest(context.Background(), docs)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	return report
}
