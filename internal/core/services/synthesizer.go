package services

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/custodia-labs/policyqa/internal/core/domain"
	"github.com/custodia-labs/policyqa/internal/core/ports/driven"
	"github.com/custodia-labs/policyqa/internal/logger"
	"github.com/custodia-labs/policyqa/internal/telemetry"
)

// AbstentionAnswer is returned when the documents do not support an answer.
const AbstentionAnswer = "I don't have that information in the provided documents."

// citationsLabel starts the trailing citation line of a model response.
const citationsLabel = "CITATIONS:"

const systemInstruction = "You are an insurance policy assistant. " +
	"Answer strictly from the supplied policy excerpts and never from general knowledge."

var citationID = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:-]*$`)

// ParseStatus classifies a model response.
type ParseStatus string

// Parse outcomes.
const (
	// ParseOK means a well-formed citation line was found.
	ParseOK ParseStatus = "ok"

	// ParseNoCitations means the response has no citation line.
	ParseNoCitations ParseStatus = "no_citations"

	// ParseMalformed means a citation line was present but unusable.
	// Malformed responses carry no citations.
	ParseMalformed ParseStatus = "malformed"
)

// ParsedResponse is a model response split into answer and citations.
type ParsedResponse struct {
	Raw       string
	Answer    string
	Citations []string
	Status    ParseStatus
}

// Synthesis is the grounded answer for one question.
type Synthesis struct {
	Answer     string
	Confidence float64
	Citations  []domain.Citation
	Abstained  bool
	Usage      domain.TokenUsage

	// Context lists the chunks that were supplied to the model.
	Context []domain.RetrievedChunk

	// Parsed is nil when the model was not called.
	Parsed *ParsedResponse
}

// SynthesizerConfig holds generation parameters.
type SynthesizerConfig struct {
	MinRelevance float64
	MaxTokens    int
	Temperature  float64
	Timeout      time.Duration
}

// Synthesizer turns retrieved chunks and a question into a cited answer.
type Synthesizer struct {
	llm     driven.LLMService
	cfg     SynthesizerConfig
	metrics *telemetry.Metrics
}

// NewSynthesizer creates a synthesizer. Zero config values take defaults.
func NewSynthesizer(llm driven.LLMService, cfg SynthesizerConfig, metrics *telemetry.Metrics) *Synthesizer {
	defaults := domain.DefaultAppSettings()
	if cfg.MinRelevance <= 0 {
		cfg.MinRelevance = defaults.Retrieval.MinRelevance
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaults.Synthesis.MaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeouts.Generate
	}
	return &Synthesizer{llm: llm, cfg: cfg, metrics: metrics}
}

// Synthesize answers question from chunks. Chunks below the relevance floor
// are ignored; when none remain the model is not called and the answer abstains.
func (s *Synthesizer) Synthesize(
	ctx context.Context,
	question string,
	chunks []domain.RetrievedChunk,
) (*Synthesis, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "synthesizer.synthesize")
	defer span.End()

	relevant := make([]domain.RetrievedChunk, 0, len(chunks))
	for _, c := range chunks {
		if c.Score >= s.cfg.MinRelevance {
			relevant = append(relevant, c)
		}
	}
	span.SetAttributes(attribute.Int("synthesis.context_chunks", len(relevant)))

	if len(relevant) == 0 {
		logger.Debug("No chunks above relevance floor %.2f, abstaining", s.cfg.MinRelevance)
		return &Synthesis{Answer: AbstentionAnswer, Abstained: true}, nil
	}

	genCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	gen, err := s.llm.Generate(genCtx, BuildPrompt(question, relevant), driven.GenerateOptions{
		MaxTokens:   s.cfg.MaxTokens,
		Temperature: s.cfg.Temperature,
		System:      systemInstruction,
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: %w", domain.ErrSynthesisUnavailable, err)
	}
	s.metrics.RecordSynthesis(ctx, s.llm.ModelName(), gen.InputTokens, gen.OutputTokens)

	parsed := ParseResponse(gen.Text)
	if parsed.Answer == "" {
		return nil, fmt.Errorf("%w: empty response", domain.ErrSynthesisUnavailable)
	}
	if parsed.Status != ParseOK {
		logger.Warn("Model response citations %s", parsed.Status)
	}

	out := &Synthesis{
		Answer:  parsed.Answer,
		Context: relevant,
		Parsed:  &parsed,
		Usage: domain.TokenUsage{
			InputTokens:  gen.InputTokens,
			OutputTokens: gen.OutputTokens,
		},
	}

	if isAbstention(parsed.Answer) {
		out.Answer = AbstentionAnswer
		out.Abstained = true
		return out, nil
	}

	var violations int
	out.Citations, violations = groundCitations(parsed.Citations, relevant)
	s.metrics.RecordGroundingViolations(ctx, violations)

	out.Confidence = Confidence(topScore(relevant), len(out.Citations) > 0, false)

	span.SetAttributes(
		attribute.Int("synthesis.citations", len(out.Citations)),
		attribute.Float64("synthesis.confidence", out.Confidence),
	)
	return out, nil
}

// Confidence scores an answer from the best retrieval score.
// Cited answers land in [0.5, 1], uncited answers in [0, 0.3] and
// abstentions are 0. The score is monotonic in topScore.
func Confidence(topScore float64, cited, abstained bool) float64 {
	if abstained {
		return 0
	}
	s := clamp01(topScore)
	if cited {
		return 0.5 + 0.5*s
	}
	return 0.3 * s
}

func topScore(chunks []domain.RetrievedChunk) float64 {
	top := chunks[0].Score
	for _, c := range chunks[1:] {
		if c.Score > top {
			top = c.Score
		}
	}
	return top
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// BuildPrompt lays out the question and tagged context chunks.
func BuildPrompt(question string, chunks []domain.RetrievedChunk) string {
	var b strings.Builder

	b.WriteString("Answer the question using ONLY the policy excerpts below.\n")
	b.WriteString("Each excerpt is tagged with its id as [chunk:<id>].\n\n")
	b.WriteString("Rules:\n")
	b.WriteString("- Quote amounts, limits and deductibles exactly as written.\n")
	b.WriteString("- If the excerpts do not contain the answer, reply exactly: \"")
	b.WriteString(AbstentionAnswer)
	b.WriteString("\" and then the line CITATIONS: none\n")
	b.WriteString("- End your reply with one line of the form CITATIONS: <id>, <id> listing the excerpts you used.\n\n")

	b.WriteString("Policy excerpts:\n\n")
	for _, c := range chunks {
		fmt.Fprintf(&b, "[chunk:%s]", c.Chunk.ID)
		if c.Chunk.Section != "" {
			fmt.Fprintf(&b, " (section: %s)", c.Chunk.Section)
		}
		b.WriteString("\n")
		b.WriteString(strings.TrimSpace(c.Chunk.Content))
		b.WriteString("\n\n")
	}

	b.WriteString("Question: ")
	b.WriteString(strings.TrimSpace(question))
	b.WriteString("\n\nAnswer:")
	return b.String()
}

// ParseResponse splits a model response into answer text and cited chunk ids.
// The citation line must be the last non-empty line and appear once.
// Anything else about it that is off makes the response malformed and
// yields no citations.
func ParseResponse(raw string) ParsedResponse {
	out := ParsedResponse{Raw: raw}
	lines := strings.Split(strings.TrimSpace(raw), "\n")

	labelAt := -1
	labels := 0
	for i, line := range lines {
		if hasCitationsLabel(line) {
			labels++
			if labelAt < 0 {
				labelAt = i
			}
		}
	}

	if labels == 0 {
		out.Answer = strings.TrimSpace(raw)
		out.Status = ParseNoCitations
		return out
	}

	out.Answer = strings.TrimSpace(strings.Join(lines[:labelAt], "\n"))
	if labels > 1 || labelAt != len(lines)-1 {
		out.Status = ParseMalformed
		return out
	}

	ids, ok := parseCitationList(strings.TrimSpace(lines[labelAt])[len(citationsLabel):])
	if !ok {
		out.Status = ParseMalformed
		return out
	}
	out.Citations = ids
	out.Status = ParseOK
	return out
}

func hasCitationsLabel(line string) bool {
	line = strings.TrimSpace(line)
	return len(line) >= len(citationsLabel) && strings.EqualFold(line[:len(citationsLabel)], citationsLabel)
}

// parseCitationList parses "id, id" or "none". Ids may carry a chunk: prefix
// or surrounding brackets.
func parseCitationList(list string) ([]string, bool) {
	list = strings.TrimSpace(list)
	if list == "" {
		return nil, false
	}
	if strings.EqualFold(list, "none") {
		return nil, true
	}

	var ids []string
	seen := make(map[string]bool)
	for _, part := range strings.Split(list, ",") {
		id := strings.TrimSpace(part)
		id = strings.TrimSuffix(strings.TrimPrefix(id, "["), "]")
		id = strings.TrimPrefix(id, "chunk:")
		if !citationID.MatchString(id) {
			return nil, false
		}
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids, true
}

// groundCitations keeps citations of supplied chunks, in cited order, and
// counts the rest as grounding violations.
func groundCitations(ids []string, supplied []domain.RetrievedChunk) ([]domain.Citation, int) {
	byID := make(map[string]domain.Chunk, len(supplied))
	for _, c := range supplied {
		byID[c.Chunk.ID] = c.Chunk
	}

	var citations []domain.Citation
	violations := 0
	for _, id := range ids {
		chunk, ok := byID[id]
		if !ok {
			violations++
			logger.Warn("Dropping citation %s: %v", id, domain.ErrGroundingViolation)
			continue
		}
		citations = append(citations, domain.Citation{
			ChunkID:    chunk.ID,
			DocumentID: chunk.DocumentID,
			Section:    chunk.Section,
		})
	}
	return citations, violations
}

func isAbstention(answer string) bool {
	return strings.Contains(NormalizeQuestion(answer), NormalizeQuestion(AbstentionAnswer))
}
