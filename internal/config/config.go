// Package config provides configuration utilities for the application.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the typed view over the viper configuration tree.
type Config struct {
	Tenant   string
	Database DatabaseConfig
	Logging  LoggingConfig
	LLM      LLMConfig
	Matcher  MatcherConfig
	Budget   BudgetConfig
	Jobs     JobsConfig
	Plaid    PlaidConfig
	Sheets   SheetsConfig
}

// DatabaseConfig locates the SQLite database.
type DatabaseConfig struct {
	Path string
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	Level  string
	Format string
}

// LLMConfig selects and tunes the model provider.
type LLMConfig struct {
	Provider      string
	Model         string
	APIKey        string
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

// MatcherConfig overrides the reconciliation policy constants.
type MatcherConfig struct {
	ReceiptCategories     []string
	PayableCategories     []string
	AmountTolerance       float64
	AcceptThreshold       int
	StrictScore           int
	FallbackScore         int
	NameScore             int
	MaxDaysBeforeDocument int
	MaxDaysAfterDue       int
	FallbackWindowDays    int
	LLMFallback           bool
}

// BudgetConfig tunes the categorizer.
type BudgetConfig struct {
	PromptTemplate      string
	PreferredCategories []string
	ChunkSize           int
	LearnCategories     bool
}

// JobsConfig tunes the async job supervisor.
type JobsConfig struct {
	MirrorInterval    time.Duration
	HeartbeatInterval time.Duration
	StaleAfter        time.Duration
}

// PlaidConfig holds bank sync credentials.
type PlaidConfig struct {
	ClientID     string
	Secret       string
	Environment  string
	AccessToken  string
	CountryCodes []string
	SyncDays     int
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("tenant", "default")
	v.SetDefault("database.path", "$HOME/.local/share/docstore/docstore.db")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.max_retries", 3)
	v.SetDefault("llm.retry_delay", 800*time.Millisecond)
	v.SetDefault("llm.max_retry_delay", 6*time.Second)
	v.SetDefault("llm.timeout", 120*time.Second)
	v.SetDefault("llm.cache_ttl", 15*time.Minute)
	v.SetDefault("llm.rate_limit", 60)
	v.SetDefault("llm.temperature", 0.1)

	v.SetDefault("matcher.amount_tolerance", 0.02)
	v.SetDefault("matcher.accept_threshold", 60)
	v.SetDefault("matcher.strict_score", 120)
	v.SetDefault("matcher.fallback_score", 80)
	v.SetDefault("matcher.name_score", 65)
	v.SetDefault("matcher.max_days_before_document", 14)
	v.SetDefault("matcher.max_days_after_due", 365)
	v.SetDefault("matcher.fallback_window_days", 93)
	v.SetDefault("matcher.llm_fallback", true)

	v.SetDefault("budget.chunk_size", 80)
	v.SetDefault("budget.learn_categories", true)

	v.SetDefault("jobs.mirror_interval", 700*time.Millisecond)
	v.SetDefault("jobs.heartbeat_interval", 5*time.Second)
	v.SetDefault("jobs.stale_after", 30*time.Second)

	v.SetDefault("plaid.environment", "sandbox")
	v.SetDefault("plaid.country_codes", []string{"BE", "NL"})
	v.SetDefault("plaid.sync_days", 90)

	setSheetsDefaults(v)
}

// Load reads the configuration from v. SetDefaults should have been called first.
func Load(v *viper.Viper) Config {
	provider := strings.ToLower(v.GetString("llm.provider"))
	return Config{
		Tenant: v.GetString("tenant"),
		Database: DatabaseConfig{
			Path: ExpandPath(v.GetString("database.path")),
		},
		Logging: LoggingConfig{
			Level:  v.GetString("logging.level"),
			Format: v.GetString("logging.format"),
		},
		LLM: LLMConfig{
			Provider:      provider,
			Model:         v.GetString("llm.model"),
			APIKey:        apiKeyFor(v, provider),
			BaseURL:       v.GetString("llm.base_url"),
			MaxRetries:    v.GetInt("llm.max_retries"),
			RetryDelay:    v.GetDuration("llm.retry_delay"),
			MaxRetryDelay: v.GetDuration("llm.max_retry_delay"),
			Timeout:       v.GetDuration("llm.timeout"),
			CacheTTL:      v.GetDuration("llm.cache_ttl"),
			RateLimit:     v.GetInt("llm.rate_limit"),
			Temperature:   v.GetFloat64("llm.temperature"),
			MaxTokens:     v.GetInt("llm.max_tokens"),
		},
		Matcher: MatcherConfig{
			ReceiptCategories:     v.GetStringSlice("matcher.receipt_categories"),
			PayableCategories:     v.GetStringSlice("matcher.payable_categories"),
			AmountTolerance:       v.GetFloat64("matcher.amount_tolerance"),
			AcceptThreshold:       v.GetInt("matcher.accept_threshold"),
			StrictScore:           v.GetInt("matcher.strict_score"),
			FallbackScore:         v.GetInt("matcher.fallback_score"),
			NameScore:             v.GetInt("matcher.name_score"),
			MaxDaysBeforeDocument: v.GetInt("matcher.max_days_before_document"),
			MaxDaysAfterDue:       v.GetInt("matcher.max_days_after_due"),
			FallbackWindowDays:    v.GetInt("matcher.fallback_window_days"),
			LLMFallback:           v.GetBool("matcher.llm_fallback"),
		},
		Budget: BudgetConfig{
			PromptTemplate:      v.GetString("budget.prompt_template"),
			PreferredCategories: v.GetStringSlice("budget.preferred_categories"),
			ChunkSize:           v.GetInt("budget.chunk_size"),
			LearnCategories:     v.GetBool("budget.learn_categories"),
		},
		Jobs: JobsConfig{
			MirrorInterval:    v.GetDuration("jobs.mirror_interval"),
			HeartbeatInterval: v.GetDuration("jobs.heartbeat_interval"),
			StaleAfter:        v.GetDuration("jobs.stale_after"),
		},
		Plaid: PlaidConfig{
			ClientID:     v.GetString("plaid.client_id"),
			Secret:       v.GetString("plaid.secret"),
			Environment:  v.GetString("plaid.environment"),
			AccessToken:  v.GetString("plaid.access_token"),
			CountryCodes: v.GetStringSlice("plaid.country_codes"),
			SyncDays:     v.GetInt("plaid.sync_days"),
		},
		Sheets: loadSheets(v),
	}
}

// apiKeyFor prefers a provider specific key (llm.openai_api_key) over llm.api_key.
func apiKeyFor(v *viper.Viper, provider string) string {
	if provider == "gemini" {
		provider = "google"
	}
	if key := v.GetString("llm." + provider + "_api_key"); key != "" {
		return key
	}
	return v.GetString("llm.api_key")
}

// ExpandPath expands ~ and environment variables in a file path.
func ExpandPath(path string) string {
	if path == "" {
		return path
	}

	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[2:])
		}
	} else if path == "~" {
		home, err := os.UserHomeDir()
		if err == nil {
			path = home
		}
	}

	return os.ExpandEnv(path)
}
