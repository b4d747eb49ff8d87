// openai.go wraps the OpenAI embeddings and chat completion APIs.
package search

import (
	"context"
	"net/http"
	"os"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/skyhub/skyhub-go/internal/conf"
	"github.com/skyhub/skyhub-go/internal/errors"
	"github.com/skyhub/skyhub-go/internal/observability/metrics"
)

const (
	openaiTimeout      = 60 * time.Second
	summaryMaxTokens   = 256
	summaryTemperature = 0.2
)

const summarySystemPrompt = "You are an assistant on an astronomical " +
	"follow-up platform. Write a short prose summary of the source described " +
	"by the user. Mention the coordinates, redshift and classifications when " +
	"they are given and do not invent measurements. Keep it under 120 words."

// openAIClient implements embedder and summarizer on the OpenAI API.
type openAIClient struct {
	api            *openai.Client
	http           *http.Client
	embeddingModel openai.EmbeddingModel
	summaryModel   string
	metrics        *metrics.SearchMetrics
}

// newOpenAIClient validates the API key and applies the model defaults. The
// key may come from the settings or from the OPENAI_API_KEY environment
// variable.
func newOpenAIClient(settings conf.OpenAISettings, m *metrics.SearchMetrics) (*openAIClient, error) {
	key := settings.APIKey
	if key == "" {
		key = os.Getenv("OPENAI_API_KEY")
	}
	if key == "" {
		return nil, errors.Newf("search requires an OpenAI API key").
			Component(componentName).
			Category(errors.CategoryConfiguration).
			Build()
	}

	config := openai.DefaultConfig(key)
	if settings.BaseURL != "" {
		config.BaseURL = strings.TrimSuffix(settings.BaseURL, "/")
	}
	httpClient := &http.Client{Timeout: openaiTimeout}
	config.HTTPClient = httpClient

	embeddingModel := openai.EmbeddingModel(settings.EmbeddingModel)
	if embeddingModel == "" {
		embeddingModel = openai.AdaEmbeddingV2
	}
	summaryModel := settings.SummaryModel
	if summaryModel == "" {
		summaryModel = openai.GPT4oMini
	}

	return &openAIClient{
		api:            openai.NewClientWithConfig(config),
		http:           httpClient,
		embeddingModel: embeddingModel,
		summaryModel:   summaryModel,
		metrics:        m,
	}, nil
}

// Embed returns the embedding vector for one text.
func (c *openAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: c.embeddingModel,
	})
	if err != nil {
		return nil, errors.New(err).
			Component(componentName).
			Category(errors.CategoryEmbedding).
			Context("operation", "embed").
			Context("model", string(c.embeddingModel)).
			Build()
	}
	if len(resp.Data) == 0 {
		return nil, errors.Newf("embedding API returned no vectors").
			Component(componentName).
			Category(errors.CategoryEmbedding).
			Context("operation", "embed").
			Build()
	}

	if c.metrics != nil {
		c.metrics.AddEmbeddingTokens(resp.Usage.TotalTokens)
	}
	return resp.Data[0].Embedding, nil
}

// Summarize drafts a prose source summary from a factual description.
func (c *openAIClient) Summarize(ctx context.Context, facts string) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.summaryModel,
		Temperature: summaryTemperature,
		MaxTokens:   summaryMaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: summarySystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: facts},
		},
	})
	if err != nil {
		return "", errors.New(err).
			Component(componentName).
			Category(errors.CategorySearch).
			Context("operation", "summarize").
			Context("model", c.summaryModel).
			Build()
	}
	if len(resp.Choices) == 0 {
		return "", errors.Newf("chat API returned no choices").
			Component(componentName).
			Category(errors.CategorySearch).
			Context("operation", "summarize").
			Build()
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
