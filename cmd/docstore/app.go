package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/deknijf/documentstore/internal/budget"
	"github.com/deknijf/documentstore/internal/common"
	"github.com/deknijf/documentstore/internal/config"
	"github.com/deknijf/documentstore/internal/dedupe"
	"github.com/deknijf/documentstore/internal/importer"
	"github.com/deknijf/documentstore/internal/jobs"
	"github.com/deknijf/documentstore/internal/llm"
	"github.com/deknijf/documentstore/internal/matcher"
	"github.com/deknijf/documentstore/internal/reconcile"
	"github.com/deknijf/documentstore/internal/storage"
	"github.com/spf13/viper"
)

// app holds the services a command needs. Everything hangs off one SQLite
// connection.
type app struct {
	cfg         config.Config
	store       *storage.SQLiteStorage
	gateway     *llm.Gateway
	categorizer *budget.Categorizer
	supervisor  *jobs.Supervisor
	service     *reconcile.Service
	importer    *importer.Importer
	guard       *dedupe.Guard
	logger      *slog.Logger
}

// openStorage opens and migrates the configured database.
func openStorage(ctx context.Context, cfg config.Config) (*storage.SQLiteStorage, error) {
	if dir := filepath.Dir(cfg.Database.Path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	store, err := storage.NewSQLiteStorage(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return store, nil
}

// newApp wires storage, the LLM gateway and the services. A missing LLM
// provider is not fatal: matching runs heuristics only and categorization
// falls back to mappings and rules.
func newApp(ctx context.Context) (*app, error) {
	cfg := config.Load(viper.GetViper())
	logger := common.ComponentLogger("docstore")

	store, err := openStorage(ctx, cfg)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, store: store, logger: logger}

	gateway, err := llm.New(ctx, llmConfig(cfg.LLM), nil)
	switch {
	case err == nil:
		a.gateway = gateway
	case errors.Is(err, common.ErrNoProvider), errors.Is(err, common.ErrMissingConfig):
		logger.Debug("LLM provider not configured", "provider", cfg.LLM.Provider, "reason", err)
	default:
		_ = store.Close()
		return nil, err
	}

	var (
		matchLLM  matcher.LLM
		budgetLLM budget.LLM
	)
	if a.gateway != nil {
		matchLLM = a.gateway
		budgetLLM = a.gateway
	}

	linker := reconcile.NewLinker(store)
	a.categorizer, err = budget.New(store, budgetLLM, budget.Options{
		Linker:              linker,
		PromptTemplate:      cfg.Budget.PromptTemplate,
		PreferredCategories: cfg.Budget.PreferredCategories,
		ChunkSize:           cfg.Budget.ChunkSize,
		LearnCategories:     cfg.Budget.LearnCategories,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create categorizer: %w", err)
	}

	a.supervisor = jobs.New(store, jobs.Options{
		MirrorInterval:    cfg.Jobs.MirrorInterval,
		HeartbeatInterval: cfg.Jobs.HeartbeatInterval,
		StaleAfter:        cfg.Jobs.StaleAfter,
	})
	if _, err := a.supervisor.RecoverInterrupted(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to recover interrupted jobs: %w", err)
	}

	m := matcher.New(matcher.PolicyFromConfig(cfg.Matcher), matchLLM, nil)
	a.service = reconcile.New(store, m, a.categorizer, a.supervisor, reconcile.Options{})
	a.importer = importer.New(store, nil)
	a.guard = dedupe.New(store, nil)
	return a, nil
}

// Close waits for background jobs and releases the database.
func (a *app) Close() {
	if a.supervisor != nil {
		if err := a.supervisor.Shutdown(context.Background()); err != nil {
			a.logger.Warn("Background jobs did not stop cleanly", "error", err)
		}
	}
	if a.gateway != nil {
		if err := a.gateway.Close(); err != nil {
			a.logger.Warn("Failed to close LLM gateway", "error", err)
		}
	}
	if err := a.store.Close(); err != nil {
		common.LogError(err, "Failed to close database", common.Fields{"path": a.cfg.Database.Path})
	}
}

func llmConfig(c config.LLMConfig) llm.Config {
	return llm.Config{
		Provider:      c.Provider,
		APIKey:        c.APIKey,
		Model:         c.Model,
		BaseURL:       c.BaseURL,
		MaxRetries:    c.MaxRetries,
		RetryDelay:    c.RetryDelay,
		MaxRetryDelay: c.MaxRetryDelay,
		Timeout:       c.Timeout,
		CacheTTL:      c.CacheTTL,
		RateLimit:     c.RateLimit,
		Temperature:   c.Temperature,
		MaxTokens:     c.MaxTokens,
	}
}

// providerName is what reports show when no model is configured.
func (a *app) providerName() string {
	if a.gateway == nil {
		return "none"
	}
	return a.gateway.Name() + "/" + a.gateway.Model()
}
