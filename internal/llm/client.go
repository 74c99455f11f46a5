package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// ErrNotConfigured marks the absence of a completion client. Pipelines
// running without one degrade to rule-based responses instead of failing.
var ErrNotConfigured = errors.New("completion client not configured")

// Client is the completion-service collaborator: a single system/user
// prompt pair in, generated text out.
type Client interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Embedder turns texts into vectors for the semantic-search index.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// OpenAIClient implements Client and Embedder against the OpenAI API.
type OpenAIClient struct {
	client         *openai.Client
	model          string
	embeddingModel string
	maxTokens      int
	temperature    float32
	timeout        time.Duration
	logger         *zap.Logger
}

func NewOpenAIClient(apiKey, model string, maxTokens int, temperature float64, timeout time.Duration, logger *zap.Logger) *OpenAIClient {
	return &OpenAIClient{
		client:         openai.NewClient(apiKey),
		model:          model,
		embeddingModel: string(openai.SmallEmbedding3),
		maxTokens:      maxTokens,
		temperature:    float32(temperature),
		timeout:        timeout,
		logger:         logger,
	}
}

func (c *OpenAIClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model: c.model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
				{Role: openai.ChatMessageRoleUser, Content: userPrompt},
			},
			MaxTokens:   c.maxTokens,
			Temperature: c.temperature,
		},
	)
	if err != nil {
		c.logger.Error("completion request failed", zap.Error(err))
		return "", fmt.Errorf("completion request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("completion returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func (c *OpenAIClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(c.embeddingModel),
		Input: texts,
	})
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}

	vectors := make([][]float32, len(resp.Data))
	for i, item := range resp.Data {
		vectors[i] = item.Embedding
	}
	return vectors, nil
}

// FailureCause inspects a completion error and names the likely cause when
// it is detectable from the error text.
func FailureCause(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "401") || strings.Contains(msg, "auth") || strings.Contains(msg, "api key"):
		return "authentication"
	case strings.Contains(msg, "quota") || strings.Contains(msg, "insufficient"):
		return "quota"
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate limit"):
		return "rate limit"
	case strings.Contains(msg, "deadline") || strings.Contains(msg, "timeout"):
		return "timeout"
	default:
		return ""
	}
}

// DegradedMessage produces the user-visible text for a completion failure.
func DegradedMessage(err error) string {
	if errors.Is(err, ErrNotConfigured) {
		return "No language model is configured. I matched your query against the available data, but cannot generate an analysis."
	}
	cause := FailureCause(err)
	if cause == "" {
		return "I encountered an error while processing your request. Please try again."
	}
	return fmt.Sprintf("I couldn't reach the language model (%s issue). Please try again shortly.", cause)
}
