package llm

import (
	"context"
	"strings"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

const openRouterBaseURL = "https://openrouter.ai/api/v1"

// openRouterProvider reaches OpenRouter through its OpenAI-compatible API.
type openRouterProvider struct {
	client      openai.Client
	model       string
	temperature float64
	maxTokens   int
}

func newOpenRouterProvider(cfg Config) *openRouterProvider {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = openRouterBaseURL
	}

	return &openRouterProvider{
		client: openai.NewClient(
			option.WithAPIKey(cfg.APIKey),
			option.WithBaseURL(base),
			option.WithHeader("X-Title", "documentstore"),
			// The gateway owns retries.
			option.WithMaxRetries(0),
			option.WithHTTPClient(cfg.httpClient()),
		),
		model:       cfg.modelOr("openai/gpt-4o-mini"),
		temperature: cfg.temperature(),
		maxTokens:   cfg.maxTokens(),
	}
}

func (p *openRouterProvider) Name() string  { return "openrouter" }
func (p *openRouterProvider) Model() string { return p.model }

// Complete sends a chat completion request. OpenRouter reads max_tokens
// rather than max_completion_tokens.
func (p *openRouterProvider) Complete(ctx context.Context, prompt string) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(p.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemInstruction),
			openai.UserMessage(prompt),
		},
		Temperature: openai.Float(p.temperature),
	}
	if p.maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(p.maxTokens))
	}
	return chatCompletion(ctx, &p.client, p.Name(), params)
}
