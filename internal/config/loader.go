package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/ROCTUP/1c-mcp-toolkit/internal/port/inbound"
)

// envKeys are the config keys that can be overridden from the environment.
// Example: MCP_BRIDGE_BRIDGE_MAX_CONCURRENT overrides bridge.max_concurrent.
var envKeys = []string{
	"server.http_addr",
	"server.log_level",
	"bridge.request_timeout",
	"bridge.max_concurrent",
	"bridge.keepalive_interval",
	"bridge.max_event_body",
	"bridge.max_legacy_body",
	"control.http_addr",
	"control.poll_timeout",
	"notify.mode",
	"notify.queue_depth",
	"notify.webhook_url",
	"notify.webhook_timeout",
	"telemetry.tracing",
	"telemetry.metrics",
	"telemetry.metric_interval",
}

// InitViper initializes Viper with the configuration file and environment variables.
// If configFile is empty, it searches for mcp-bridge.yaml/.yml in standard locations.
// The search requires an explicit YAML extension so the binary itself, which
// has the same base name, is never picked up.
func InitViper(configFile string) {
	initViper(viper.GetViper(), configFile)
}

func initViper(v *viper.Viper, configFile string) {
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		v.SetConfigFile(found)
	} else {
		// ReadInConfig returns ConfigFileNotFoundError, which callers tolerate.
		v.SetConfigName("mcp-bridge")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("MCP_BRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}
}

// findConfigFile searches the standard locations for mcp-bridge.yaml or .yml.
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".mcp-bridge"),
	}
	if runtime.GOOS == "windows" {
		if pd := os.Getenv("ProgramData"); pd != "" {
			paths = append(paths, filepath.Join(pd, "mcp-bridge"))
		}
	} else {
		paths = append(paths, "/etc/mcp-bridge")
	}
	return findConfigFileInPaths(paths)
}

// findConfigFileInPaths returns the first mcp-bridge.yaml or .yml found in
// paths, or "".
func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "mcp-bridge"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// LoadConfig reads the configuration file, applies environment overrides,
// sets defaults and validates the result.
func LoadConfig() (*Config, error) {
	return load(viper.GetViper())
}

func load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// no file: run on defaults and environment only
	}
	return decode(v)
}

// decode unmarshals what v has already read.
func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// ConfigFileUsed returns the path to the configuration file that was loaded.
// Returns an empty string if no config file was found (env vars only mode).
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}

// Watch re-reads the config file whenever it changes and applies
// bridge.request_timeout and bridge.max_concurrent to target. Changes to
// other keys need a restart; they are logged and ignored. An invalid file
// is rejected as a whole.
func Watch(current *Config, target inbound.Tunables, logger *slog.Logger) {
	watch(viper.GetViper(), current, target, logger)
}

func watch(v *viper.Viper, current *Config, target inbound.Tunables, logger *slog.Logger) {
	if v.ConfigFileUsed() == "" {
		return
	}

	var mu sync.Mutex
	applied := *current
	v.OnConfigChange(func(e fsnotify.Event) {
		mu.Lock()
		defer mu.Unlock()

		next, err := decode(v)
		if err != nil {
			logger.Warn("config reload rejected", "file", e.Name, "error", err)
			return
		}
		applied = applyReload(applied, *next, target, logger)
	})
	v.WatchConfig()
	logger.Debug("watching config file", "file", v.ConfigFileUsed())
}

// applyReload pushes the live keys of next into target and returns the
// config now in effect.
func applyReload(prev, next Config, target inbound.Tunables, logger *slog.Logger) Config {
	if next.Bridge.RequestTimeout != prev.Bridge.RequestTimeout {
		target.SetRequestTimeout(next.Bridge.RequestTimeoutDuration())
		logger.Info("request timeout reloaded", "timeout", next.Bridge.RequestTimeoutDuration())
	}
	if next.Bridge.MaxConcurrent != prev.Bridge.MaxConcurrent {
		target.SetMaxConcurrent(next.Bridge.MaxConcurrent)
		logger.Info("max concurrent reloaded", "limit", next.Bridge.MaxConcurrent)
	}

	effective := prev
	effective.Bridge.RequestTimeout = next.Bridge.RequestTimeout
	effective.Bridge.MaxConcurrent = next.Bridge.MaxConcurrent
	if effective != next {
		logger.Warn("config changes other than bridge.request_timeout and bridge.max_concurrent require a restart")
	}
	return effective
}
