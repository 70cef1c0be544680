package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/deknijf/documentstore/internal/common"
	"google.golang.org/genai"
)

// googleProvider talks to the Gemini API.
type googleProvider struct {
	client      *genai.Client
	model       string
	temperature float32
	maxTokens   int32
}

func newGoogleProvider(ctx context.Context, cfg Config) (*googleProvider, error) {
	clientCfg := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.httpClient(),
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: base}
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &googleProvider{
		client:      client,
		model:       cfg.modelOr("gemini-1.5-flash"),
		temperature: float32(cfg.temperature()),
		maxTokens:   int32(cfg.maxTokens()),
	}, nil
}

func (p *googleProvider) Name() string  { return "google" }
func (p *googleProvider) Model() string { return p.model }

// Complete generates content for a single text prompt.
func (p *googleProvider) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := p.client.Models.GenerateContent(ctx, p.model, genai.Text(prompt), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemInstruction, genai.RoleUser),
		Temperature:       genai.Ptr(p.temperature),
		MaxOutputTokens:   p.maxTokens,
		ResponseMIMEType:  "application/json",
	})
	if err != nil {
		if code, ok := genaiStatus(err); ok {
			return "", &common.StatusError{Provider: p.Name(), StatusCode: code, Body: err.Error()}
		}
		return "", fmt.Errorf("gemini request failed: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("%w: empty response from model", common.ErrMalformedOutput)
	}
	return text, nil
}

func genaiStatus(err error) (int, bool) {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code, true
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return apiErrPtr.Code, true
	}
	return 0, false
}
