// Package assistant generates chat responses through the OpenAI chat
// completions API, with bounded conversation history and a hard
// per-request deadline.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/velikanov/kbase/internal/log"
)

// ErrTimeout indicates generation exceeded the configured deadline.
// Distinct from provider errors so callers can show a "try again"
// message instead of a generic failure.
var ErrTimeout = errors.New("generation timed out")

// DefaultSystemPrompt is used for plain conversation when no custom
// prompt is configured.
const DefaultSystemPrompt = `You are a helpful assistant for a document knowledge base.
Answer clearly and concisely. If you do not know the answer, say so.`

// DefaultContextSystemPrompt is used when the user message carries
// retrieved knowledge base context.
const DefaultContextSystemPrompt = `You are a helpful assistant for a document knowledge base.
Answer using ONLY the information from the knowledge base provided in the message.
If the provided information does not contain the answer, say that the knowledge base
does not cover this topic. Do not repeat source annotations in your answer.`

// Message is one prior conversation turn.
type Message struct {
	Role    string
	Content string
}

// chatClient is the part of the OpenAI API surface the assistant
// consumes. *openai.Client satisfies it; tests substitute a mock.
type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Config configures the assistant.
type Config struct {
	APIKey      string
	Model       string
	Temperature float32
	MaxTokens   int

	// Timeout bounds a single generation request.
	Timeout time.Duration

	// HistoryPairs caps how many of the most recent question/answer
	// pairs are forwarded to the model.
	HistoryPairs int

	// SystemPrompt and ContextSystemPrompt override the defaults when
	// non-empty.
	SystemPrompt        string
	ContextSystemPrompt string
}

// Assistant produces model responses. Safe for concurrent use.
type Assistant struct {
	client        chatClient
	model         string
	temperature   float32
	maxTokens     int
	timeout       time.Duration
	historyPairs  int
	plainPrompt   string
	contextPrompt string
	logger        log.Logger
}

// New creates an Assistant talking to the OpenAI API.
func New(cfg Config, logger log.Logger) *Assistant {
	return newWithClient(openai.NewClient(cfg.APIKey), cfg, logger)
}

func newWithClient(c chatClient, cfg Config, logger log.Logger) *Assistant {
	if logger == nil {
		logger = slog.Default()
	}

	plain := cfg.SystemPrompt
	if plain == "" {
		plain = DefaultSystemPrompt
	}
	contextual := cfg.ContextSystemPrompt
	if contextual == "" {
		contextual = DefaultContextSystemPrompt
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	pairs := cfg.HistoryPairs
	if pairs <= 0 {
		pairs = 3
	}

	return &Assistant{
		client:        c,
		model:         cfg.Model,
		temperature:   cfg.Temperature,
		maxTokens:     cfg.MaxTokens,
		timeout:       timeout,
		historyPairs:  pairs,
		plainPrompt:   plain,
		contextPrompt: contextual,
		logger:        logger,
	}
}

// Respond generates a reply to userMessage. When withContext is true
// the context system prompt is used, for messages that embed retrieved
// knowledge base content. History beyond the configured pair budget is
// dropped oldest-first.
func (a *Assistant) Respond(ctx context.Context, userMessage string, history []Message, withContext bool) (string, error) {
	system := a.plainPrompt
	if withContext {
		system = a.contextPrompt
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: system,
	})
	for _, m := range boundHistory(history, a.historyPairs) {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: userMessage,
	})

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       a.model,
		Messages:    messages,
		Temperature: a.temperature,
		MaxTokens:   a.maxTokens,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w after %s", ErrTimeout, a.timeout)
		}
		return "", fmt.Errorf("creating chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty completion returned")
	}

	a.logger.Debug("chat completion generated",
		"model", a.model, "total_tokens", resp.Usage.TotalTokens)

	return cleanResponse(resp.Choices[0].Message.Content), nil
}

// boundHistory keeps the most recent pairs*2 messages.
func boundHistory(history []Message, pairs int) []Message {
	max := pairs * 2
	if len(history) > max {
		return history[len(history)-max:]
	}
	return history
}

// cleanResponse strips stray code fences the model sometimes wraps
// plain answers in.
func cleanResponse(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "```", ""))
}
