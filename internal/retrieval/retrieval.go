// Package retrieval answers queries from the knowledge base: it embeds
// the question, finds similar chunks, filters them by relevance and
// feeds the survivors to the assistant as grounding context.
//
// The engine abstains rather than fails: when the question cannot be
// answered from the knowledge base (embedding failed, nothing relevant
// stored, generation failed) ProcessQuery reports a non-answer so the
// caller can fall back to plain conversation.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/velikanov/kbase/internal/assistant"
	"github.com/velikanov/kbase/internal/log"
	"github.com/velikanov/kbase/internal/store"
)

// Searcher is the store surface the engine consumes.
type Searcher interface {
	Search(ctx context.Context, queryVector []float32, limit int) ([]store.ChunkMatch, error)
	LogUsage(ctx context.Context, userID int64, query string, chunksUsed int, responseTimeMS int64) error
	DocumentStats(ctx context.Context) (store.DocumentStats, error)
	UsageStats(ctx context.Context) (store.UsageStats, error)
}

// Embedder turns a query into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Generator produces the final answer from the context-bearing prompt.
type Generator interface {
	Respond(ctx context.Context, userMessage string, history []assistant.Message, withContext bool) (string, error)
}

// Config tunes relevance filtering and context assembly.
type Config struct {
	// SimilarityThreshold is the minimum cosine similarity a chunk
	// needs to be used as context.
	SimilarityThreshold float64

	// TopK caps how many nearest chunks are fetched from the store.
	TopK int

	// SnippetMaxChars caps each chunk's contribution to the context.
	SnippetMaxChars int
}

// Outcome is the result of one query. Answered reports whether the
// knowledge base produced the response; when false the other fields
// are zero and the caller should fall back to plain conversation.
type Outcome struct {
	Answered       bool
	Response       string
	ChunksUsed     int
	ResponseTimeMS int64
}

// Stats aggregates knowledge base and usage counters.
type Stats struct {
	Documents    int64
	Chunks       int64
	QueriesToday int64
	QueriesTotal int64
}

// Engine orchestrates the answer pipeline. Safe for concurrent use.
type Engine struct {
	store      Searcher
	embedder   Embedder
	generator  Generator
	threshold  float64
	topK       int
	snippetMax int
	logger     log.Logger
}

// New creates an Engine.
func New(s Searcher, e Embedder, g Generator, cfg Config, logger log.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 4
	}
	if cfg.SnippetMaxChars <= 0 {
		cfg.SnippetMaxChars = 500
	}
	return &Engine{
		store:      s,
		embedder:   e,
		generator:  g,
		threshold:  cfg.SimilarityThreshold,
		topK:       cfg.TopK,
		snippetMax: cfg.SnippetMaxChars,
		logger:     logger,
	}
}

// ProcessQuery answers query from the knowledge base. A failed stage
// yields Outcome{Answered: false}, never an error: abstaining is the
// engine's way of saying "answer without me".
func (e *Engine) ProcessQuery(ctx context.Context, query string, userID int64, history []assistant.Message) Outcome {
	start := time.Now()

	queryVector, err := e.embedder.Embed(ctx, query)
	if err != nil {
		e.logger.Warn("query embedding failed, abstaining", "user_id", userID, "error", err)
		return Outcome{}
	}

	matches, err := e.store.Search(ctx, queryVector, e.topK)
	if err != nil {
		e.logger.Warn("chunk search failed, abstaining", "user_id", userID, "error", err)
		return Outcome{}
	}

	relevant := matches[:0:0]
	for _, m := range matches {
		if m.Similarity >= e.threshold {
			relevant = append(relevant, m)
		}
	}
	// From here on search has run, so every exit writes a usage record,
	// answered or not.
	if len(relevant) == 0 {
		e.logger.Debug("no chunks above threshold, abstaining",
			"user_id", userID, "candidates", len(matches), "threshold", e.threshold)
		e.logUsage(ctx, userID, query, 0, time.Since(start).Milliseconds())
		return Outcome{}
	}

	prompt := buildPrompt(query, e.buildContext(relevant))

	response, err := e.generator.Respond(ctx, prompt, history, true)
	if err != nil {
		e.logger.Warn("context-grounded generation failed, abstaining", "user_id", userID, "error", err)
		e.logUsage(ctx, userID, query, len(relevant), time.Since(start).Milliseconds())
		return Outcome{}
	}

	elapsed := time.Since(start).Milliseconds()
	e.logUsage(ctx, userID, query, len(relevant), elapsed)

	e.logger.Info("query answered from knowledge base",
		"user_id", userID, "chunks_used", len(relevant), "response_time_ms", elapsed)

	return Outcome{
		Answered:       true,
		Response:       cleanResponse(response),
		ChunksUsed:     len(relevant),
		ResponseTimeMS: elapsed,
	}
}

// logUsage writes one usage record. Best-effort: the caller's outcome
// is already decided, so a lost record is logged, never surfaced.
func (e *Engine) logUsage(ctx context.Context, userID int64, query string, chunksUsed int, elapsedMS int64) {
	if err := e.store.LogUsage(ctx, userID, query, chunksUsed, elapsedMS); err != nil {
		e.logger.Warn("usage logging failed", "user_id", userID, "error", err)
	}
}

// Stats returns knowledge base size and usage counters.
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	docs, err := e.store.DocumentStats(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("fetching document stats: %w", err)
	}
	usage, err := e.store.UsageStats(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("fetching usage stats: %w", err)
	}
	return Stats{
		Documents:    docs.Documents,
		Chunks:       docs.Chunks,
		QueriesToday: usage.QueriesToday,
		QueriesTotal: usage.QueriesTotal,
	}, nil
}

// buildContext renders relevant chunks as annotated snippets, capping
// each at snippetMax characters.
func (e *Engine) buildContext(matches []store.ChunkMatch) string {
	parts := make([]string, 0, len(matches))
	for i, m := range matches {
		content := m.Content
		if runes := []rune(content); len(runes) > e.snippetMax {
			content = string(runes[:e.snippetMax]) + "..."
		}

		source := m.Filename
		if source == "" {
			source = fmt.Sprintf("document %d", i+1)
		}

		parts = append(parts, fmt.Sprintf("[source: %s, relevance: %.2f]:\n%s", source, m.Similarity, content))
	}
	return strings.Join(parts, "\n\n")
}

func buildPrompt(query, context string) string {
	return fmt.Sprintf(`Use this information from the knowledge base to answer the question:

INFORMATION FROM THE KNOWLEDGE BASE:
%s

USER QUESTION:
%s
`, context, query)
}

// sourceTag matches a whole context annotation, e.g.
// "[source: a.txt, relevance: 0.91]:".
var sourceTag = regexp.MustCompile(`\[source:[^\]]*\]:?`)

// cleanResponse strips source annotations the model sometimes echoes
// back from the context block. Whole tags go first so no filename or
// score residue is left behind; the literal tokens catch partial
// echoes.
func cleanResponse(s string) string {
	s = sourceTag.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "[source:", "")
	s = strings.ReplaceAll(s, "relevance:", "")
	return strings.TrimSpace(s)
}
