package domain

import "time"

// Query is a single question owned by the orchestrator for one request.
type Query struct {
	// Question is the raw question text.
	Question string

	// PolicyID optionally restricts retrieval to one policy.
	PolicyID string

	// ReceivedAt is the arrival timestamp.
	ReceivedAt time.Time
}

// Citation references a chunk the answer relied on.
type Citation struct {
	ChunkID    string `json:"chunk_id"`
	DocumentID string `json:"document_id"`
	Section    string `json:"section,omitempty"`
}

// Source describes a retrieved chunk shown alongside the answer.
type Source struct {
	Document   string  `json:"document"`
	ChunkID    string  `json:"chunk_id"`
	PolicyID   string  `json:"policy_id,omitempty"`
	Similarity float64 `json:"similarity"`
	Text       string  `json:"text"`
}

// SourcePreviewLength bounds Source.Text.
const SourcePreviewLength = 200

// TokenUsage counts LLM tokens spent producing an answer.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// AnswerResult is produced once per query, either freshly synthesised
// or copied from a cache entry.
type AnswerResult struct {
	Answer     string        `json:"answer"`
	Confidence float64       `json:"confidence"`
	Citations  []Citation    `json:"citations"`
	Sources    []Source      `json:"sources"`
	Abstained  bool          `json:"abstained"`
	Cached     bool          `json:"cached"`
	Latency    time.Duration `json:"-"`
	Timestamp  time.Time     `json:"timestamp"`
}

// ResponseTimeMS returns the latency in milliseconds.
func (r *AnswerResult) ResponseTimeMS() int64 {
	return r.Latency.Milliseconds()
}

// CacheEntry is a stored answer for a question fingerprint.
type CacheEntry struct {
	Key         string        `json:"key"`
	PolicyID    string        `json:"policy_id,omitempty"`
	Question    string        `json:"question"`
	Answer      string        `json:"answer"`
	Confidence  float64       `json:"confidence"`
	Citations   []Citation    `json:"citations"`
	Sources     []Source      `json:"sources"`
	Abstained   bool          `json:"abstained"`
	Usage       TokenUsage    `json:"usage"`
	GeneratedAt time.Time     `json:"generated_at"`
	TTL         time.Duration `json:"ttl"`
}

// ExpiresAt returns when the entry stops being served.
func (e *CacheEntry) ExpiresAt() time.Time {
	return e.GeneratedAt.Add(e.TTL)
}

// CacheKey is a parsed answer-cache key.
type CacheKey struct {
	// Raw is the full backend key.
	Raw string

	// PolicyID is the policy filter the entry was produced under.
	// Empty means the question was asked across all policies.
	PolicyID string

	// Hash is the hex fingerprint of the normalised question and filter.
	Hash string
}

// QueryState is a step in the per-query state machine.
type QueryState int

// Query states.
const (
	QueryReceived QueryState = iota
	QueryCacheCheck
	QueryCacheHit
	QueryCacheMiss
	QueryRetrieve
	QuerySynthesize
	QueryCacheWrite
	QueryDone
	QueryFailed
)

var queryStateNames = map[QueryState]string{
	QueryReceived:   "RECEIVED",
	QueryCacheCheck: "CACHE_CHECK",
	QueryCacheHit:   "CACHE_HIT",
	QueryCacheMiss:  "CACHE_MISS",
	QueryRetrieve:   "RETRIEVE",
	QuerySynthesize: "SYNTHESIZE",
	QueryCacheWrite: "CACHE_WRITE",
	QueryDone:       "DONE",
	QueryFailed:     "FAILED",
}

// String returns the state name.
func (s QueryState) String() string {
	if name, ok := queryStateNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// CanTransition reports whether the state machine allows s -> next.
// Any non-terminal state may move to QueryFailed.
func (s QueryState) CanTransition(next QueryState) bool {
	if next == QueryFailed {
		return s != QueryDone && s != QueryFailed
	}
	switch s {
	case QueryReceived:
		return next == QueryCacheCheck
	case QueryCacheCheck:
		return next == QueryCacheHit || next == QueryCacheMiss
	case QueryCacheHit:
		return next == QueryDone
	case QueryCacheMiss:
		return next == QueryRetrieve
	case QueryRetrieve:
		return next == QuerySynthesize
	case QuerySynthesize:
		return next == QueryCacheWrite
	case QueryCacheWrite:
		return next == QueryDone
	default:
		return false
	}
}
