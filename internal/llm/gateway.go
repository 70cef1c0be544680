package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/deknijf/documentstore/internal/common"
	"github.com/deknijf/documentstore/internal/service"
)

// Gateway wraps a Provider with rate limiting, bounded retry and response caching.
type Gateway struct {
	provider    Provider
	cache       *responseCache
	logger      *slog.Logger
	rateLimiter *rateLimiter
	retryOpts   service.RetryOptions
}

// New creates the provider named in cfg and wraps it in a Gateway.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Gateway, error) {
	provider, err := NewProvider(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM provider: %w", err)
	}
	return NewGateway(provider, cfg, logger), nil
}

// NewGateway wraps an existing provider.
func NewGateway(provider Provider, cfg Config, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = common.ComponentLogger("llm")
	}

	retryOpts := service.RetryOptions{
		MaxAttempts:  cfg.MaxRetries,
		InitialDelay: cfg.RetryDelay,
		MaxDelay:     cfg.MaxRetryDelay,
		Multiplier:   2.0,
		ShouldRetry:  common.IsRetryable,
	}
	if retryOpts.MaxAttempts <= 0 {
		retryOpts.MaxAttempts = 3
	}
	if retryOpts.InitialDelay <= 0 {
		retryOpts.InitialDelay = 800 * time.Millisecond
	}
	if retryOpts.MaxDelay <= 0 {
		retryOpts.MaxDelay = 6 * time.Second
	}

	return &Gateway{
		provider:    provider,
		cache:       newResponseCache(cfg.CacheTTL),
		logger:      logger,
		retryOpts:   retryOpts,
		rateLimiter: newRateLimiter(cfg.RateLimit),
	}
}

// Name returns the provider name.
func (g *Gateway) Name() string { return g.provider.Name() }

// Model returns the model identifier.
func (g *Gateway) Model() string { return g.provider.Model() }

// Complete returns the raw model output for prompt. Only retryable failures
// (HTTP 408/409/429/5xx and timeouts) are retried.
func (g *Gateway) Complete(ctx context.Context, prompt string) (string, error) {
	key := cacheKey(g.provider.Name(), g.provider.Model(), prompt)
	if cached, found := g.cache.get(key); found {
		g.logger.Debug("llm cache hit", "provider", g.provider.Name(), "model", g.provider.Model())
		return cached, nil
	}

	var output string
	start := time.Now()
	err := common.WithRetry(ctx, func() error {
		if err := g.rateLimiter.wait(ctx); err != nil {
			return &common.RetryableError{Err: err, Retryable: false}
		}
		var callErr error
		output, callErr = g.provider.Complete(ctx, prompt)
		return callErr
	}, g.retryOpts)
	if err != nil {
		g.logger.Warn("llm call failed",
			"provider", g.provider.Name(),
			"model", g.provider.Model(),
			"duration", time.Since(start),
			"error", err)
		return "", err
	}

	g.cache.set(key, output)
	g.logger.Debug("llm call succeeded",
		"provider", g.provider.Name(),
		"model", g.provider.Model(),
		"duration", time.Since(start))
	return output, nil
}

// CompleteJSON returns the JSON object embedded in the model output.
// Output without a parseable object fails with common.ErrMalformedOutput.
func (g *Gateway) CompleteJSON(ctx context.Context, prompt string) (json.RawMessage, error) {
	output, err := g.Complete(ctx, prompt)
	if err != nil {
		return nil, err
	}

	extracted := ExtractJSON(output)
	if !json.Valid([]byte(extracted)) {
		g.cache.remove(cacheKey(g.provider.Name(), g.provider.Model(), prompt))
		return nil, fmt.Errorf("%w: %.200s", common.ErrMalformedOutput, output)
	}
	return json.RawMessage(extracted), nil
}

// Close stops background goroutines.
func (g *Gateway) Close() error {
	if g.cache != nil {
		g.cache.Close()
	}
	if g.rateLimiter != nil {
		g.rateLimiter.Close()
	}
	return nil
}
