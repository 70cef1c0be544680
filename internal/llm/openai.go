package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/deknijf/documentstore/internal/common"
	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

// openAIProvider talks to the OpenAI chat completions API through the official SDK.
type openAIProvider struct {
	client      openai.Client
	model       string
	temperature float64
	maxTokens   int
}

func newOpenAIProvider(cfg Config) *openAIProvider {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		// The gateway owns retries.
		option.WithMaxRetries(0),
		option.WithHTTPClient(cfg.httpClient()),
	}
	if base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}

	return &openAIProvider{
		client:      openai.NewClient(opts...),
		model:       cfg.modelOr("gpt-4o-mini"),
		temperature: cfg.temperature(),
		maxTokens:   cfg.maxTokens(),
	}
}

func (p *openAIProvider) Name() string  { return "openai" }
func (p *openAIProvider) Model() string { return p.model }

// Complete sends one chat completion request.
func (p *openAIProvider) Complete(ctx context.Context, prompt string) (string, error) {
	return chatCompletion(ctx, &p.client, p.Name(), openai.ChatCompletionNewParams{
		Model: openai.ChatModel(p.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemInstruction),
			openai.UserMessage(prompt),
		},
		Temperature:         openai.Float(p.temperature),
		MaxCompletionTokens: openai.Int(int64(p.maxTokens)),
	})
}

// chatCompletion runs params against an OpenAI-compatible endpoint and
// returns the first choice. API errors carry their HTTP status.
func chatCompletion(ctx context.Context, client *openai.Client, provider string, params openai.ChatCompletionNewParams) (string, error) {
	resp, err := client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return "", &common.StatusError{Provider: provider, StatusCode: apiErr.StatusCode, Body: apiErr.Error()}
		}
		return "", fmt.Errorf("%s request failed: %w", provider, err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no completion choices returned", common.ErrMalformedOutput)
	}
	return resp.Choices[0].Message.Content, nil
}
