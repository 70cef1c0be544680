package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/deknijf/documentstore/internal/common"
)

// systemInstruction is sent with every request; callers embed the response
// schema in the prompt itself.
const systemInstruction = "You are a precise financial assistant. Respond with JSON only."

const (
	defaultTemperature = 0.1
	defaultTimeout     = 120 * time.Second
	defaultMaxTokens   = 4096
)

// Provider is a single model backend.
type Provider interface {
	Name() string
	Model() string
	Complete(ctx context.Context, prompt string) (string, error)
}

// Config holds configuration for the LLM gateway and its provider.
type Config struct {
	Provider      string
	APIKey        string
	Model         string
	BaseURL       string
	MaxRetries    int
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
	Timeout       time.Duration
	CacheTTL      time.Duration
	RateLimit     int
	Temperature   float64
	MaxTokens     int
}

func (c Config) temperature() float64 {
	if c.Temperature <= 0 {
		return defaultTemperature
	}
	return c.Temperature
}

func (c Config) timeout() time.Duration {
	if c.Timeout <= 0 {
		return defaultTimeout
	}
	return c.Timeout
}

func (c Config) maxTokens() int {
	if c.MaxTokens <= 0 {
		return defaultMaxTokens
	}
	return c.MaxTokens
}

func (c Config) modelOr(fallback string) string {
	if m := strings.TrimSpace(c.Model); m != "" {
		return m
	}
	return fallback
}

func (c Config) httpClient() *http.Client {
	return &http.Client{
		Timeout: c.timeout(),
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// NewProvider creates the provider named by cfg.Provider.
func NewProvider(ctx context.Context, cfg Config) (Provider, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if name == "" {
		return nil, common.ErrNoProvider
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("%w: %s API key is required", common.ErrMissingConfig, name)
	}

	switch name {
	case "openai":
		return newOpenAIProvider(cfg), nil
	case "openrouter":
		return newOpenRouterProvider(cfg), nil
	case "google", "gemini":
		return newGoogleProvider(ctx, cfg)
	case "anthropic":
		return newAnthropicProvider(cfg), nil
	default:
		return nil, fmt.Errorf("%w: unsupported LLM provider: %s", common.ErrInvalidConfig, cfg.Provider)
	}
}
