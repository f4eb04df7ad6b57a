package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrNoDefault is returned when no default value exists for a config key.
var ErrNoDefault = errors.New("no default exists")

// DefaultEntries returns the default configuration entries.
// These are seeded into Postgres on first run.
func DefaultEntries() []Entry {
	return []Entry{
		// ===================
		// LLM Providers
		// ===================

		// LLM Providers - OpenRouter
		{
			Key:         "providers.llm.openrouter.type",
			Value:       "openrouter",
			Description: "LLM provider type for OpenRouter",
		},
		{
			Key:         "providers.llm.openrouter.model",
			Value:       "anthropic/claude-opus-4.6",
			Description: "Default model for OpenRouter",
		},
		{
			Key:         "providers.llm.openrouter.api_key",
			Value:       "${OPENROUTER_API_KEY}",
			Description: "OpenRouter API key (uses environment variable)",
		},
		{
			Key:         "providers.llm.openrouter.rate_limit",
			Value:       150.0,
			Description: "Rate limit in requests per second for OpenRouter",
		},
		{
			Key:         "providers.llm.openrouter.enabled",
			Value:       true,
			Description: "Whether OpenRouter LLM provider is enabled",
		},
		{
			Key:         "providers.llm.openrouter.timeout_seconds",
			Value:       500,
			Description: "HTTP timeout in seconds for OpenRouter requests",
		},
		{
			Key:         "providers.llm.openrouter.max_retries",
			Value:       7,
			Description: "Maximum retry attempts for failed OpenRouter requests",
		},
		{
			Key:         "providers.llm.openrouter.max_concurrency",
			Value:       30,
			Description: "Maximum concurrent requests to OpenRouter",
		},

		// LLM Providers - OpenAI
		{
			Key:         "providers.llm.openai.type",
			Value:       "openai",
			Description: "LLM provider type for OpenAI",
		},
		{
			Key:         "providers.llm.openai.model",
			Value:       "gpt-4o",
			Description: "Default model for OpenAI",
		},
		{
			Key:         "providers.llm.openai.api_key",
			Value:       "${OPENAI_API_KEY}",
			Description: "OpenAI API key (uses environment variable)",
		},
		{
			Key:         "providers.llm.openai.rate_limit",
			Value:       60.0,
			Description: "Rate limit in requests per second for OpenAI",
		},
		{
			Key:         "providers.llm.openai.enabled",
			Value:       false,
			Description: "Whether OpenAI LLM provider is enabled",
		},
		{
			Key:         "providers.llm.openai.max_retries",
			Value:       5,
			Description: "Maximum retry attempts for failed OpenAI requests",
		},
		{
			Key:         "providers.llm.openai.max_concurrency",
			Value:       20,
			Description: "Maximum concurrent requests to OpenAI",
		},

		// ===================
		// Pipeline Defaults
		// ===================
		{
			Key:         "defaults.llm_provider",
			Value:       "openrouter",
			Description: "Default LLM provider used for chapter writing and gate evaluation",
		},
		{
			Key:         "defaults.max_concurrent_projects",
			Value:       20,
			Description: "Maximum number of projects the scheduler advances concurrently",
		},
		{
			Key:         "defaults.chapters_per_tick",
			Value:       1,
			Description: "Chapters scheduled per project per scheduler tick",
		},
		{
			Key:         "defaults.max_rewrite_attempts",
			Value:       3,
			Description: "Maximum auto-rewrite attempts before a chapter is flagged for review",
		},
		{
			Key:         "defaults.debug_agents",
			Value:       false,
			Description: "Enable verbose debug logging for agent executions",
		},
	}
}

// SeedDefaults seeds default configuration entries into the store.
// This is idempotent - existing entries are not overwritten.
func SeedDefaults(ctx context.Context, store Store, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	defaults := DefaultEntries()
	seeded := 0
	skipped := 0

	for _, entry := range defaults {
		// Check if key already exists
		existing, err := store.Get(ctx, entry.Key)
		if err != nil {
			return fmt.Errorf("failed to check key %q: %w", entry.Key, err)
		}

		if existing != nil {
			skipped++
			continue
		}

		// Create the entry
		if err := store.Set(ctx, entry.Key, entry.Value, entry.Description); err != nil {
			return fmt.Errorf("failed to seed key %q: %w", entry.Key, err)
		}
		seeded++
	}

	if seeded > 0 {
		logger.Info("seeded default config entries", "seeded", seeded, "skipped", skipped)
	}
	return nil
}

// GetDefault returns the default value for a config key.
// Returns nil if no default exists for the key.
func GetDefault(key string) *Entry {
	for _, entry := range DefaultEntries() {
		if entry.Key == key {
			return &entry
		}
	}
	return nil
}

// ResetToDefault resets a config key to its default value.
// Returns ErrNoDefault if no default exists for the key.
func ResetToDefault(ctx context.Context, store Store, key string) error {
	def := GetDefault(key)
	if def == nil {
		return fmt.Errorf("%w for key %q", ErrNoDefault, key)
	}
	return store.Set(ctx, key, def.Value, def.Description)
}
