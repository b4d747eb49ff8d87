package search

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skyhub/skyhub-go/internal/conf"
	"github.com/skyhub/skyhub-go/internal/errors"
)

// The openai tests share httpmock's process-global transport registry and
// must not run in parallel.

const embeddingResponseJSON = `{
  "object": "list",
  "data": [{"object": "embedding", "index": 0, "embedding": [0.125, -0.5]}],
  "model": "text-embedding-ada-002",
  "usage": {"prompt_tokens": 4, "total_tokens": 4}
}`

const chatResponseJSON = `{
  "id": "chatcmpl-1",
  "object": "chat.completion",
  "created": 1740000000,
  "model": "gpt-4o-mini",
  "choices": [
    {
      "index": 0,
      "message": {"role": "assistant", "content": "  A compact prose summary.\n"},
      "finish_reason": "stop"
    }
  ],
  "usage": {"prompt_tokens": 80, "completion_tokens": 20, "total_tokens": 100}
}`

func newTestOpenAI(t *testing.T, settings conf.OpenAISettings) *openAIClient {
	t.Helper()
	client, err := newOpenAIClient(settings, nil)
	require.NoError(t, err)
	httpmock.ActivateNonDefault(client.http)
	t.Cleanup(httpmock.DeactivateAndReset)
	return client
}

func testOpenAISettings() conf.OpenAISettings {
	return conf.OpenAISettings{APIKey: "sk-unit", BaseURL: "http://openai.test/v1"}
}

func TestEmbedRequestShape(t *testing.T) {
	client := newTestOpenAI(t, testOpenAISettings())

	var captured []byte
	var authorization string
	httpmock.RegisterResponder("POST", "http://openai.test/v1/embeddings",
		func(req *http.Request) (*http.Response, error) {
			var err error
			captured, err = io.ReadAll(req.Body)
			require.NoError(t, err)
			authorization = req.Header.Get("Authorization")
			return httpmock.NewStringResponse(http.StatusOK, embeddingResponseJSON), nil
		})

	vector, err := client.Embed(context.Background(), "a fast blue transient")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.125, -0.5}, vector)
	assert.Equal(t, "Bearer sk-unit", authorization)

	var payload struct {
		Input []string `json:"input"`
		Model string   `json:"model"`
	}
	require.NoError(t, json.Unmarshal(captured, &payload))
	assert.Equal(t, []string{"a fast blue transient"}, payload.Input)
	assert.Equal(t, "text-embedding-ada-002", payload.Model)
}

func TestEmbedAPIError(t *testing.T) {
	client := newTestOpenAI(t, testOpenAISettings())

	httpmock.RegisterResponder("POST", "http://openai.test/v1/embeddings",
		httpmock.NewStringResponder(http.StatusUnauthorized,
			`{"error": {"message": "Incorrect API key provided", "type": "invalid_request_error"}}`))

	_, err := client.Embed(context.Background(), "anything")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryEmbedding), "got %v", err)
	assert.ErrorContains(t, err, "Incorrect API key provided")
}

func TestEmbedNoVectors(t *testing.T) {
	client := newTestOpenAI(t, testOpenAISettings())

	httpmock.RegisterResponder("POST", "http://openai.test/v1/embeddings",
		httpmock.NewStringResponder(http.StatusOK,
			`{"object": "list", "data": [], "model": "text-embedding-ada-002", "usage": {"total_tokens": 0}}`))

	_, err := client.Embed(context.Background(), "anything")
	require.Error(t, err)
	assert.ErrorContains(t, err, "no vectors")
}

func TestSummarizeRequestShape(t *testing.T) {
	client := newTestOpenAI(t, testOpenAISettings())

	var captured []byte
	httpmock.RegisterResponder("POST", "http://openai.test/v1/chat/completions",
		func(req *http.Request) (*http.Response, error) {
			var err error
			captured, err = io.ReadAll(req.Body)
			require.NoError(t, err)
			return httpmock.NewStringResponse(http.StatusOK, chatResponseJSON), nil
		})

	facts := "Source ZTF25draft at RA 187.500000 deg, Dec -5.500000 deg."
	summary, err := client.Summarize(context.Background(), facts)
	require.NoError(t, err)
	assert.Equal(t, "A compact prose summary.", summary, "summaries come back whitespace trimmed")

	var payload struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
		MaxTokens int `json:"max_tokens"`
	}
	require.NoError(t, json.Unmarshal(captured, &payload))
	assert.Equal(t, "gpt-4o-mini", payload.Model)
	assert.Equal(t, summaryMaxTokens, payload.MaxTokens)
	require.Len(t, payload.Messages, 2)
	assert.Equal(t, "system", payload.Messages[0].Role)
	assert.Equal(t, summarySystemPrompt, payload.Messages[0].Content)
	assert.Equal(t, "user", payload.Messages[1].Role)
	assert.Equal(t, facts, payload.Messages[1].Content)
}

func TestSummarizeNoChoices(t *testing.T) {
	client := newTestOpenAI(t, testOpenAISettings())

	httpmock.RegisterResponder("POST", "http://openai.test/v1/chat/completions",
		httpmock.NewStringResponder(http.StatusOK,
			`{"id": "chatcmpl-2", "object": "chat.completion", "model": "gpt-4o-mini", "choices": []}`))

	_, err := client.Summarize(context.Background(), "facts")
	require.Error(t, err)
	assert.ErrorContains(t, err, "no choices")
	assert.True(t, errors.IsCategory(err, errors.CategorySearch), "got %v", err)
}

func TestBaseURLTrailingSlashTrimmed(t *testing.T) {
	settings := testOpenAISettings()
	settings.BaseURL = "http://openai.test/v1/"
	client := newTestOpenAI(t, settings)

	httpmock.RegisterResponder("POST", "http://openai.test/v1/embeddings",
		httpmock.NewStringResponder(http.StatusOK, embeddingResponseJSON))

	_, err := client.Embed(context.Background(), "anything")
	require.NoError(t, err, "trailing slash in the base URL must not break endpoint paths")
}

func TestNewOpenAIClientModelDefaults(t *testing.T) {
	client, err := newOpenAIClient(conf.OpenAISettings{APIKey: "sk-unit"}, nil)
	require.NoError(t, err)
	assert.Equal(t, openai.AdaEmbeddingV2, client.embeddingModel)
	assert.Equal(t, openai.GPT4oMini, client.summaryModel)

	client, err = newOpenAIClient(conf.OpenAISettings{
		APIKey:         "sk-unit",
		EmbeddingModel: "text-embedding-3-small",
		SummaryModel:   "gpt-4.1-mini",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, openai.EmbeddingModel("text-embedding-3-small"), client.embeddingModel)
	assert.Equal(t, "gpt-4.1-mini", client.summaryModel)
}

func TestNewOpenAIClientKeySources(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	_, err := newOpenAIClient(conf.OpenAISettings{}, nil)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
	assert.ErrorContains(t, err, "OpenAI API key")

	t.Setenv("OPENAI_API_KEY", "sk-from-env")
	client, err := newOpenAIClient(conf.OpenAISettings{}, nil)
	require.NoError(t, err)
	assert.NotNil(t, client.api)
}
