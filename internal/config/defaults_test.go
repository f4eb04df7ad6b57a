package config

import (
	"context"
	"errors"
	"testing"
)

func TestDefaultEntries(t *testing.T) {
	entries := DefaultEntries()

	if len(entries) == 0 {
		t.Fatal("DefaultEntries() returned empty slice")
	}

	// Verify required keys exist
	requiredKeys := []string{
		"providers.llm.openrouter.type",
		"providers.llm.openrouter.api_key",
		"providers.llm.openrouter.rate_limit",
		"providers.llm.openrouter.enabled",
		"providers.llm.openai.type",
		"providers.llm.openai.api_key",
		"defaults.llm_provider",
		"defaults.max_concurrent_projects",
		"defaults.max_rewrite_attempts",
	}

	keys := make(map[string]bool)
	for _, e := range entries {
		keys[e.Key] = true
	}

	for _, key := range requiredKeys {
		if !keys[key] {
			t.Errorf("DefaultEntries() missing required key: %s", key)
		}
	}
}

func TestGetDefault(t *testing.T) {
	t.Run("existing_key", func(t *testing.T) {
		entry := GetDefault("providers.llm.openrouter.type")
		if entry == nil {
			t.Fatal("GetDefault() returned nil for existing key")
		}
		if entry.Value != "openrouter" {
			t.Errorf("GetDefault() Value = %v, want %q", entry.Value, "openrouter")
		}
	})

	t.Run("non_existent_key", func(t *testing.T) {
		entry := GetDefault("does.not.exist")
		if entry != nil {
			t.Errorf("GetDefault() = %v, want nil for non-existent key", entry)
		}
	})
}

// mockStore implements Store interface for testing.
type mockStore struct {
	data map[string]Entry
}

func newMockStore() *mockStore {
	return &mockStore{data: make(map[string]Entry)}
}

func (m *mockStore) Get(_ context.Context, key string) (*Entry, error) {
	if e, ok := m.data[key]; ok {
		return &e, nil
	}
	return nil, nil
}

func (m *mockStore) Set(_ context.Context, key string, value any, description string) error {
	m.data[key] = Entry{Key: key, Value: value, Description: description}
	return nil
}

func (m *mockStore) GetAll(_ context.Context) (map[string]Entry, error) {
	return m.data, nil
}

func (m *mockStore) GetByPrefix(_ context.Context, prefix string) (map[string]Entry, error) {
	result := make(map[string]Entry)
	for k, v := range m.data {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			result[k] = v
		}
	}
	return result, nil
}

func (m *mockStore) Delete(_ context.Context, key string) error {
	delete(m.data, key)
	return nil
}

func TestSeedDefaults(t *testing.T) {
	t.Run("seeds_all_defaults", func(t *testing.T) {
		store := newMockStore()
		ctx := context.Background()

		err := SeedDefaults(ctx, store, nil)
		if err != nil {
			t.Fatalf("SeedDefaults() error = %v", err)
		}

		defaults := DefaultEntries()
		if len(store.data) != len(defaults) {
			t.Errorf("SeedDefaults() seeded %d entries, want %d", len(store.data), len(defaults))
		}
	})

	t.Run("idempotent", func(t *testing.T) {
		store := newMockStore()
		ctx := context.Background()

		// Seed once
		err := SeedDefaults(ctx, store, nil)
		if err != nil {
			t.Fatalf("SeedDefaults() first call error = %v", err)
		}
		firstCount := len(store.data)

		// Modify a value
		store.data["providers.llm.openrouter.type"] = Entry{
			Key:   "providers.llm.openrouter.type",
			Value: "custom-type",
		}

		// Seed again
		err = SeedDefaults(ctx, store, nil)
		if err != nil {
			t.Fatalf("SeedDefaults() second call error = %v", err)
		}

		// Count should be the same
		if len(store.data) != firstCount {
			t.Errorf("SeedDefaults() changed entry count from %d to %d", firstCount, len(store.data))
		}

		// Custom value should be preserved
		entry, _ := store.Get(ctx, "providers.llm.openrouter.type")
		if entry.Value != "custom-type" {
			t.Error("SeedDefaults() overwrote existing value")
		}
	})
}

func TestResetToDefault(t *testing.T) {
	t.Run("resets_to_default", func(t *testing.T) {
		store := newMockStore()
		ctx := context.Background()

		// Set a custom value
		store.Set(ctx, "providers.llm.openrouter.type", "custom-value", "")

		// Reset to default
		err := ResetToDefault(ctx, store, "providers.llm.openrouter.type")
		if err != nil {
			t.Fatalf("ResetToDefault() error = %v", err)
		}

		entry, _ := store.Get(ctx, "providers.llm.openrouter.type")
		if entry.Value != "openrouter" {
			t.Errorf("ResetToDefault() Value = %v, want %q", entry.Value, "openrouter")
		}
	})

	t.Run("error_for_unknown_key", func(t *testing.T) {
		store := newMockStore()
		ctx := context.Background()

		err := ResetToDefault(ctx, store, "does.not.exist")
		if err == nil {
			t.Error("ResetToDefault() should error for unknown key")
		}
		if !errors.Is(err, ErrNoDefault) {
			t.Errorf("ResetToDefault() error should wrap ErrNoDefault, got %v", err)
		}
	})
}
