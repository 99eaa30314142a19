package embedding

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
)

// OpenAIEmbedder calls an OpenAI-compatible embeddings endpoint. It works with
// OpenAI, LocalAI, Hugging Face TEI and similar services.
type OpenAIEmbedder struct {
	client *openai.Client
	model  string
}

// NewOpenAI creates an OpenAIEmbedder. An empty apiKey is allowed for local
// services that do not authenticate.
func NewOpenAI(baseURL, apiKey, model string, timeout time.Duration) (*OpenAIEmbedder, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("embedding url is required")
	}
	if model == "" {
		return nil, fmt.Errorf("embedding model is required")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if apiKey == "" {
		apiKey = "unused"
	}

	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL
	cfg.HTTPClient = &http.Client{Timeout: timeout}

	return &OpenAIEmbedder{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}, nil
}

// Embed implements cache.Embedder.
func (o *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(o.model),
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding: %w", err)
	}
	if len(resp.Data) != 1 {
		return nil, fmt.Errorf("create embedding: got %d vectors for 1 input", len(resp.Data))
	}

	src := resp.Data[0].Embedding
	vec := make([]float64, len(src))
	for i, v := range src {
		vec[i] = float64(v)
	}
	return vec, nil
}
