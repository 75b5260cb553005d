// Package embed turns text into fixed-dimension vectors through the
// OpenAI embeddings API.
//
// The adapter is stateless request/response. A failed embedding is
// reported as an explicit error — never as a placeholder zero-vector —
// so callers can tell "nothing relevant found" from "search skipped
// because embedding failed".
package embed

import (
	"context"
	"fmt"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/velikanov/kbase/internal/log"
)

// MaxInputChars caps the text submitted per request. Longer inputs are
// truncated before submission; callers must not assume the full input
// was represented.
const MaxInputChars = 8000

// client is the part of the OpenAI API surface the adapter consumes.
// *openai.Client satisfies it; tests substitute a mock.
type client interface {
	CreateEmbeddings(ctx context.Context, conv openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error)
}

// Service creates embeddings with a configured model, pacing requests
// through an optional rate limiter. Safe for concurrent use.
type Service struct {
	client  client
	model   openai.EmbeddingModel
	limiter *rate.Limiter
	logger  log.Logger
}

// Config configures the embedding service.
type Config struct {
	APIKey string
	Model  string

	// RequestsPerSecond throttles API calls; 0 disables throttling.
	RequestsPerSecond float64
}

// New creates a Service talking to the OpenAI API.
func New(cfg Config, logger log.Logger) *Service {
	return newWithClient(openai.NewClient(cfg.APIKey), cfg, logger)
}

func newWithClient(c client, cfg Config, logger log.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &Service{
		client:  c,
		model:   openai.EmbeddingModel(cfg.Model),
		limiter: limiter,
		logger:  logger,
	}
}

// Embed returns the embedding vector for text.
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	text = truncate(text, MaxInputChars)

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("waiting for rate limiter: %w", err)
		}
	}

	resp, err := s.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: s.model,
	})
	if err != nil {
		return nil, fmt.Errorf("creating embedding: %w", err)
	}

	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("empty embedding returned")
	}

	return resp.Data[0].Embedding, nil
}

// BatchResult is the outcome for one position of EmbedBatch. Exactly
// one of Vector and Err is set.
type BatchResult struct {
	Vector []float32
	Err    error
}

// EmbedBatch embeds every text, resolving each position independently:
// one item's failure never aborts the batch, and input order is
// preserved in the output.
func (s *Service) EmbedBatch(ctx context.Context, texts []string) []BatchResult {
	results := make([]BatchResult, len(texts))
	for i, text := range texts {
		vector, err := s.Embed(ctx, text)
		if err != nil {
			s.logger.Warn("batch embedding item failed", "index", i, "error", err)
			results[i] = BatchResult{Err: err}
			continue
		}
		results[i] = BatchResult{Vector: vector}
	}
	return results
}

// truncate cuts s to at most limit runes.
func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
