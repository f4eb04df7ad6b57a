package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taibuivan/storyforge/internal/providers"
)

// ErrAlreadyExists is returned when trying to create a document that already exists.
var ErrAlreadyExists = errors.New("document already exists")

// ErrInvalidKey is returned when a config key contains invalid characters.
var ErrInvalidKey = errors.New("invalid config key")

// ValidateKey checks if a config key contains only allowed characters.
// Valid keys contain: letters, digits, dots, underscores, and hyphens.
// This protects against typos and malformed keys.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: key cannot be empty", ErrInvalidKey)
	}
	for i, r := range key {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '.' && r != '_' && r != '-' {
			return fmt.Errorf("%w: invalid character %q at position %d", ErrInvalidKey, r, i)
		}
	}
	// Don't allow keys starting or ending with dots
	if key[0] == '.' || key[len(key)-1] == '.' {
		return fmt.Errorf("%w: key cannot start or end with a dot", ErrInvalidKey)
	}
	return nil
}

// Store provides access to runtime-reloadable configuration backed by Postgres.
// No caching - reads fresh from the database each time.
type Store interface {
	// Get returns a single config entry by key.
	Get(ctx context.Context, key string) (*Entry, error)

	// Set creates or updates a config entry.
	Set(ctx context.Context, key string, value any, description string) error

	// GetAll returns all config entries.
	GetAll(ctx context.Context) (map[string]Entry, error)

	// GetByPrefix returns config entries matching the prefix.
	GetByPrefix(ctx context.Context, prefix string) (map[string]Entry, error)

	// Delete removes a config entry.
	Delete(ctx context.Context, key string) error
}

// Entry represents a single configuration entry.
type Entry struct {
	Key         string `json:"key"`
	Value       any    `json:"value"`
	Description string `json:"description"`
}

// PostgresStore implements Store against the config_entries table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Postgres-backed config store.
func NewStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Get returns a single config entry by key.
func (s *PostgresStore) Get(ctx context.Context, key string) (*Entry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT key, value, description FROM config_entries WHERE key = $1`, key)
	entry, err := scanEntry(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Set creates or updates a config entry.
func (s *PostgresStore) Set(ctx context.Context, key string, value any, description string) error {
	valueJSON, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO config_entries (key, value, description, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value, description = EXCLUDED.description, updated_at = now()
	`, key, valueJSON, description)
	if err != nil {
		return fmt.Errorf("set failed: %w", err)
	}
	return nil
}

// GetAll returns all config entries.
func (s *PostgresStore) GetAll(ctx context.Context) (map[string]Entry, error) {
	rows, err := s.pool.Query(ctx, `SELECT key, value, description FROM config_entries`)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	result := make(map[string]Entry)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		result[entry.Key] = *entry
	}
	return result, rows.Err()
}

// GetByPrefix returns config entries matching the prefix.
func (s *PostgresStore) GetByPrefix(ctx context.Context, prefix string) (map[string]Entry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT key, value, description FROM config_entries WHERE key LIKE $1`,
		escapeLike(prefix)+"%")
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	result := make(map[string]Entry)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		result[entry.Key] = *entry
	}
	return result, rows.Err()
}

// Delete removes a config entry by key.
func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM config_entries WHERE key = $1`, key)
	if err != nil {
		return fmt.Errorf("delete failed: %w", err)
	}
	return nil
}

// escapeLike escapes LIKE wildcard characters in a prefix so it matches literally.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var e Entry
	var raw []byte
	if err := row.Scan(&e.Key, &raw, &e.Description); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &e.Value); err != nil {
		return nil, fmt.Errorf("failed to unmarshal value for key %q: %w", e.Key, err)
	}
	return &e, nil
}

// StoreToProviderRegistryConfig builds a ProviderRegistryConfig from the Store.
// It reads all config entries and constructs the provider configuration,
// resolving ${ENV_VAR} references in API keys.
func StoreToProviderRegistryConfig(ctx context.Context, store Store) (providers.RegistryConfig, error) {
	cfg := providers.RegistryConfig{
		LLMProviders: make(map[string]providers.LLMProviderConfig),
	}

	all, err := store.GetAll(ctx)
	if err != nil {
		return cfg, fmt.Errorf("failed to get config: %w", err)
	}

	// Parse LLM providers: providers.llm.<name>.<field>
	llmProviders := extractProviders(all, "providers.llm.")
	for name, fields := range llmProviders {
		cfg.LLMProviders[name] = providers.LLMProviderConfig{
			Type:      getString(fields, "type"),
			Model:     getString(fields, "model"),
			APIKey:    ResolveEnvVars(getString(fields, "api_key")),
			RateLimit: getFloat(fields, "rate_limit"),
			Enabled:   getBool(fields, "enabled"),
		}
	}

	return cfg, nil
}

// extractProviders groups config entries by provider name.
// For example, "providers.llm.openrouter.type" becomes openrouter -> {type: value}
func extractProviders(entries map[string]Entry, prefix string) map[string]map[string]any {
	result := make(map[string]map[string]any)

	for key, entry := range entries {
		if !strings.HasPrefix(key, prefix) {
			continue
		}

		// Remove prefix and split: "openrouter.type" -> ["openrouter", "type"]
		remainder := strings.TrimPrefix(key, prefix)
		parts := strings.SplitN(remainder, ".", 2)
		if len(parts) != 2 {
			continue
		}

		providerName := parts[0]
		fieldName := parts[1]

		if result[providerName] == nil {
			result[providerName] = make(map[string]any)
		}
		result[providerName][fieldName] = entry.Value
	}

	return result
}

// Helper functions to extract typed values from a map
func getString(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func getFloat(m map[string]any, key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

func getBool(m map[string]any, key string) bool {
	if v, ok := m[key].(bool); ok {
		return v
	}
	return false
}
