package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"

	"github.com/pario-ai/recall/pkg/config"
	"github.com/pario-ai/recall/pkg/models"
	"github.com/pario-ai/recall/pkg/router"
)

// ErrAllProvidersFailed is returned when every route in the fallback chain failed.
var ErrAllProvidersFailed = errors.New("all upstream providers failed")

// Upstream answers queries with an OpenAI-compatible chat completion,
// falling back along the router's provider chain.
type Upstream struct {
	router    *router.Router
	clients   map[string]*openai.Client
	model     string
	system    string
	maxTokens int
	log       zerolog.Logger
}

// NewUpstream creates an Upstream backend from cfg.
func NewUpstream(cfg config.BackendConfig, log zerolog.Logger) (*Upstream, error) {
	if len(cfg.Providers) == 0 {
		return nil, fmt.Errorf("upstream backend: no providers configured")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("upstream backend: model is required")
	}

	clients := make(map[string]*openai.Client, len(cfg.Providers))
	for _, p := range cfg.Providers {
		oc := openai.DefaultConfig(p.APIKey)
		if p.URL != "" {
			oc.BaseURL = p.URL
		}
		oc.HTTPClient = &http.Client{Timeout: 2 * time.Minute}
		clients[p.Name] = openai.NewClientWithConfig(oc)
	}

	rt := router.New(cfg)
	if _, err := rt.Resolve(cfg.Model); err != nil {
		return nil, fmt.Errorf("upstream backend: %w", err)
	}
	log.Debug().Str("model", cfg.Model).Strs("aliases", rt.Aliases()).Msg("upstream routes compiled")

	return &Upstream{
		router:    rt,
		clients:   clients,
		model:     cfg.Model,
		system:    cfg.System,
		maxTokens: cfg.MaxTokens,
		log:       log,
	}, nil
}

// Synthesize implements cache.Synthesizer.
func (u *Upstream) Synthesize(ctx context.Context, query string) (models.Completion, error) {
	routes, err := u.router.Resolve(u.model)
	if err != nil {
		return models.Completion{}, fmt.Errorf("resolve route: %w", err)
	}

	var lastErr error
	for _, route := range routes {
		resp, err := u.clients[route.Provider.Name].CreateChatCompletion(ctx, u.request(route.Model, query))
		if err != nil {
			if !isRetryable(err) || ctx.Err() != nil {
				return models.Completion{}, fmt.Errorf("upstream %s: %w", route.Provider.Name, err)
			}
			u.log.Warn().Err(err).Str("provider", route.Provider.Name).Msg("upstream failed, trying next")
			lastErr = err
			continue
		}
		if len(resp.Choices) == 0 {
			lastErr = fmt.Errorf("upstream %s: empty choices", route.Provider.Name)
			continue
		}
		return models.Completion{
			Text:   resp.Choices[0].Message.Content,
			Tokens: resp.Usage.TotalTokens,
		}, nil
	}
	return models.Completion{}, fmt.Errorf("%w: %v", ErrAllProvidersFailed, lastErr)
}

func (u *Upstream) request(model, query string) openai.ChatCompletionRequest {
	var msgs []openai.ChatCompletionMessage
	if u.system != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: u.system})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: query})
	return openai.ChatCompletionRequest{
		Model:     model,
		Messages:  msgs,
		MaxTokens: u.maxTokens,
	}
}

// isRetryable reports whether the next route should be tried: transport
// failures and 5xx responses are, client errors are not.
func isRetryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode >= 500
	}
	return true
}
