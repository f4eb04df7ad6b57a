package config

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
)

// setupPostgresStoreTest connects to a real Postgres database for integration
// testing. It skips the test unless STORYFORGE_TEST_DATABASE_URL is set, and
// always skips in short mode.
func setupPostgresStoreTest(t *testing.T) *PostgresStore {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}
	dsn := os.Getenv("STORYFORGE_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("STORYFORGE_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pgxpool.New() error = %v", err)
	}
	t.Cleanup(pool.Close)

	if _, err := pool.Exec(ctx, `TRUNCATE config_entries`); err != nil {
		t.Fatalf("failed to clean config_entries: %v", err)
	}

	return NewStore(pool)
}

func TestPostgresStore_Get(t *testing.T) {
	store := setupPostgresStoreTest(t)
	ctx := t.Context()

	t.Run("existing_key", func(t *testing.T) {
		if err := store.Set(ctx, "providers.llm.openrouter.type", "openrouter", "LLM provider type"); err != nil {
			t.Fatalf("Set() error = %v", err)
		}

		entry, err := store.Get(ctx, "providers.llm.openrouter.type")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if entry == nil {
			t.Fatal("Get() returned nil for existing key")
		}
		if entry.Value != "openrouter" {
			t.Errorf("Value = %v, want %q", entry.Value, "openrouter")
		}
	})

	t.Run("non_existent_key", func(t *testing.T) {
		entry, err := store.Get(ctx, "does.not.exist")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if entry != nil {
			t.Errorf("Get() = %v, want nil for non-existent key", entry)
		}
	})

	t.Run("set overwrites existing", func(t *testing.T) {
		if err := store.Set(ctx, "defaults.llm_provider", "openrouter", "desc"); err != nil {
			t.Fatalf("Set() error = %v", err)
		}
		if err := store.Set(ctx, "defaults.llm_provider", "openai", "desc2"); err != nil {
			t.Fatalf("Set() error = %v", err)
		}

		entry, err := store.Get(ctx, "defaults.llm_provider")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if entry.Value != "openai" {
			t.Errorf("Value = %v, want %q", entry.Value, "openai")
		}
	})
}

func TestPostgresStore_GetAll(t *testing.T) {
	store := setupPostgresStoreTest(t)
	ctx := t.Context()

	if err := store.Set(ctx, "providers.llm.openrouter.type", "openrouter", ""); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := store.Set(ctx, "providers.llm.openai.model", "gpt-4o", ""); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	entries, err := store.GetAll(ctx)
	if err != nil {
		t.Fatalf("GetAll() error = %v", err)
	}

	if len(entries) != 2 {
		t.Errorf("GetAll() returned %d entries, want 2", len(entries))
	}
	if _, ok := entries["providers.llm.openrouter.type"]; !ok {
		t.Error("GetAll() missing key 'providers.llm.openrouter.type'")
	}
	if _, ok := entries["providers.llm.openai.model"]; !ok {
		t.Error("GetAll() missing key 'providers.llm.openai.model'")
	}
}

func TestPostgresStore_GetByPrefix(t *testing.T) {
	store := setupPostgresStoreTest(t)
	ctx := t.Context()

	if err := store.Set(ctx, "providers.llm.openrouter.type", "openrouter", ""); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := store.Set(ctx, "providers.llm.openai.type", "openai", ""); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := store.Set(ctx, "defaults.llm_provider", "openrouter", ""); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	entries, err := store.GetByPrefix(ctx, "providers.llm.")
	if err != nil {
		t.Fatalf("GetByPrefix() error = %v", err)
	}

	if len(entries) != 2 {
		t.Errorf("GetByPrefix('providers.llm.') returned %d entries, want 2", len(entries))
	}
	if _, ok := entries["defaults.llm_provider"]; ok {
		t.Error("GetByPrefix() should not include non-matching prefix")
	}
}

func TestPostgresStore_Delete(t *testing.T) {
	store := setupPostgresStoreTest(t)
	ctx := t.Context()

	if err := store.Set(ctx, "defaults.debug_agents", false, ""); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := store.Delete(ctx, "defaults.debug_agents"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	entry, err := store.Get(ctx, "defaults.debug_agents")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if entry != nil {
		t.Error("Get() after Delete() should return nil")
	}
}

func TestExtractProviders(t *testing.T) {
	entries := map[string]Entry{
		"providers.llm.openrouter.type":       {Key: "providers.llm.openrouter.type", Value: "openrouter"},
		"providers.llm.openrouter.api_key":    {Key: "providers.llm.openrouter.api_key", Value: "${OPENROUTER_API_KEY}"},
		"providers.llm.openrouter.rate_limit": {Key: "providers.llm.openrouter.rate_limit", Value: float64(150)},
		"providers.llm.openrouter.enabled":    {Key: "providers.llm.openrouter.enabled", Value: true},
		"providers.llm.openai.type":           {Key: "providers.llm.openai.type", Value: "openai"},
		"defaults.max_concurrent_projects":    {Key: "defaults.max_concurrent_projects", Value: float64(20)},
	}

	t.Run("extract_llm_providers", func(t *testing.T) {
		result := extractProviders(entries, "providers.llm.")

		if len(result) != 2 {
			t.Errorf("extractProviders() returned %d providers, want 2", len(result))
		}

		openrouter, ok := result["openrouter"]
		if !ok {
			t.Fatal("extractProviders() missing 'openrouter' provider")
		}
		if openrouter["type"] != "openrouter" {
			t.Errorf("openrouter.type = %v, want %q", openrouter["type"], "openrouter")
		}
		if openrouter["enabled"] != true {
			t.Errorf("openrouter.enabled = %v, want true", openrouter["enabled"])
		}
	})

	t.Run("extract_openai", func(t *testing.T) {
		result := extractProviders(entries, "providers.llm.")

		openai, ok := result["openai"]
		if !ok {
			t.Fatal("extractProviders() missing 'openai' provider")
		}
		if openai["type"] != "openai" {
			t.Errorf("openai.type = %v, want %q", openai["type"], "openai")
		}
	})

	t.Run("no_matching_prefix", func(t *testing.T) {
		result := extractProviders(entries, "nonexistent.")
		if len(result) != 0 {
			t.Errorf("extractProviders() with non-matching prefix should return empty map")
		}
	})
}

func TestGetHelpers(t *testing.T) {
	m := map[string]any{
		"string_val": "hello",
		"float_val":  3.14,
		"int_val":    42,
		"bool_val":   true,
	}

	if got := getString(m, "string_val"); got != "hello" {
		t.Errorf("getString() = %q, want %q", got, "hello")
	}
	if got := getString(m, "missing"); got != "" {
		t.Errorf("getString() for missing = %q, want empty", got)
	}

	if got := getFloat(m, "float_val"); got != 3.14 {
		t.Errorf("getFloat() = %v, want %v", got, 3.14)
	}
	if got := getFloat(m, "int_val"); got != 42 {
		t.Errorf("getFloat() for int = %v, want %v", got, 42)
	}

	if got := getBool(m, "bool_val"); got != true {
		t.Errorf("getBool() = %v, want true", got)
	}
	if got := getBool(m, "missing"); got != false {
		t.Errorf("getBool() for missing = %v, want false", got)
	}
}

func TestValidateKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{"valid simple key", "foo", false},
		{"valid dotted key", "providers.llm.openrouter.type", false},
		{"valid with underscore", "defaults.max_concurrent_projects", false},
		{"valid with hyphen", "my-setting", false},
		{"valid with numbers", "provider1.config2", false},
		{"empty key", "", true},
		{"starts with dot", ".foo", true},
		{"ends with dot", "foo.", true},
		{"contains space", "foo bar", true},
		{"contains special char", "foo@bar", true},
		{"contains slash", "foo/bar", true},
		{"contains colon", "foo:bar", true},
		{"contains quote", "foo\"bar", true},
		{"contains curly brace", "foo{bar}", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateKey(tt.key)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateKey(%q) error = %v, wantErr %v", tt.key, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidKey) {
				t.Errorf("ValidateKey(%q) error should wrap ErrInvalidKey, got %v", tt.key, err)
			}
		})
	}
}
