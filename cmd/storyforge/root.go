package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/taibuivan/storyforge/internal/config"
	"github.com/taibuivan/storyforge/internal/home"
	"github.com/taibuivan/storyforge/version"
)

var (
	cfgFile  string
	homeDir  string
	redisURL string
	logLevel string

	bootstrap *config.Bootstrap
)

// ParseLogLevel converts a string log level to slog.Level. Supports
// debug, info, warn, error (case-insensitive).
func ParseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q: must be debug, info, warn, or error", level)
	}
}

// GetLogLevel returns the configured log level, checking the --log-level
// flag, then STORYFORGE_LOG_LEVEL (via the bootstrap environment), then
// defaulting to info.
func GetLogLevel() slog.Level {
	level := logLevel
	if level == "" && bootstrap != nil {
		level = bootstrap.LogLevel
	}
	if level == "" {
		level = "info"
	}
	parsed, err := ParseLogLevel(level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v, using info\n", err)
		return slog.LevelInfo
	}
	return parsed
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: GetLogLevel()}))
}

var rootCmd = &cobra.Command{
	Use:   "storyforge",
	Short: "Autonomous web-novel production pipeline",
	Long: `storyforge drafts, gates, rewrites, schedules, and publishes serialized
web-novel chapters end to end.

The pipeline includes:
  - Context assembly from canon facts, beat ledger, and power-system state
  - LLM-drafted chapters evaluated against six quality gates
  - Automatic rewrite-on-failure with a bounded attempt budget
  - A scheduler that drives single-project runs or a cross-project fleet
  - A publisher that releases chapters on their scheduled slot`,
	Version: version.GitRelease,
}

func init() {
	var err error
	bootstrap, err = config.LoadBootstrap()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v, ignoring bootstrap environment\n", err)
		bootstrap = &config.Bootstrap{LogLevel: "info"}
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", bootstrap.ConfigFile, "config file (default: ./config.yaml or ~/.storyforge/config.yaml, env: STORYFORGE_CONFIG_FILE)")
	rootCmd.PersistentFlags().StringVar(&homeDir, "home", bootstrap.HomeDir, "storyforge home directory (default: ~/.storyforge, env: STORYFORGE_HOME)")
	rootCmd.PersistentFlags().StringVar(&redisURL, "redis", bootstrap.RedisURL, "redis URL for the fleet heartbeat lease (optional, env: STORYFORGE_REDIS_URL)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (default: info, env: STORYFORGE_LOG_LEVEL)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(tickCmd)
	rootCmd.AddCommand(fleetCmd)
}

// resolveConfigFile applies the teacher's --config flag > ./config.yaml >
// home/config.yaml precedence, writing a default config into the home
// directory's slot if nothing exists yet.
func resolveConfigFile(logger *slog.Logger) (string, error) {
	h, err := resolveHome()
	if err != nil {
		return "", err
	}
	if err := h.EnsureExists(); err != nil {
		return "", err
	}

	configFile := cfgFile
	if configFile == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			configFile = "config.yaml"
		} else {
			configFile = h.ConfigPath()
		}
	}

	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		logger.Info("creating default config", "path", configFile)
		if err := config.WriteDefault(configFile); err != nil {
			logger.Warn("failed to write default config", "error", err)
		}
	}
	return configFile, nil
}

func resolveHome() (*home.Dir, error) {
	return home.New(homeDir)
}
