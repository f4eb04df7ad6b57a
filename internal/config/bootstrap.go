package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Bootstrap holds the process-level knobs cmd/storyforge needs before a
// Manager can even be constructed: which config file to load, where the
// home directory lives, and how to connect to Redis. These precede the
// YAML+viper layer entirely, so they're parsed straight from the
// environment with caarlos0/env rather than routed through viper's
// STORYFORGE_ AutomaticEnv binding, which only applies once a Config
// struct already exists.
type Bootstrap struct {
	ConfigFile string `env:"STORYFORGE_CONFIG_FILE"`
	HomeDir    string `env:"STORYFORGE_HOME"`
	RedisURL   string `env:"STORYFORGE_REDIS_URL"`
	LogLevel   string `env:"STORYFORGE_LOG_LEVEL" envDefault:"info"`
}

// LoadBootstrap parses the environment into a Bootstrap. It never fails on
// missing values; every field is optional and falls back to whatever the
// caller's own flag defaults are.
func LoadBootstrap() (*Bootstrap, error) {
	b := &Bootstrap{}
	if err := env.Parse(b); err != nil {
		return nil, fmt.Errorf("config: parse bootstrap environment: %w", err)
	}
	return b, nil
}
