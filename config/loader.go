// Package config provides configuration loading and parsing functionality
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigFormat represents the configuration file format
type ConfigFormat string

const (
	FormatYAML ConfigFormat = "yaml"
	FormatJSON ConfigFormat = "json"
)

// Loader handles configuration loading from various sources
type Loader struct {
	// Configuration search paths
	searchPaths []string

	// Environment variable prefix
	envPrefix string

	// Default configuration
	defaultConfig *Config
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		searchPaths: []string{
			".",
			"./config",
			"/etc/yakr",
			os.Getenv("HOME") + "/.yakr",
		},
		envPrefix:     "YAKR",
		defaultConfig: DefaultConfig(),
	}
}

// SetSearchPaths sets the configuration file search paths
func (l *Loader) SetSearchPaths(paths []string) *Loader {
	l.searchPaths = paths
	return l
}

// SetEnvPrefix sets the environment variable prefix
func (l *Loader) SetEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// SetDefaultConfig sets the default configuration
func (l *Loader) SetDefaultConfig(config *Config) *Loader {
	l.defaultConfig = config
	return l
}

// Load loads configuration from the specified file, or auto-discovers one
// when filename is empty.
func (l *Loader) Load(filename string) (*Config, error) {
	if filename == "" {
		return l.AutoLoad()
	}
	config, err := l.loadFromFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to load config from file %s: %w", filename, err)
	}
	return config, nil
}

// LoadFromFile loads configuration from a specific file
func (l *Loader) LoadFromFile(filename string) (*Config, error) {
	return l.loadFromFile(filename)
}

// LoadFromReader loads configuration from an io.Reader
func (l *Loader) LoadFromReader(reader io.Reader, format ConfigFormat) (*Config, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration data: %w", err)
	}

	config, err := l.parseConfig(data, format)
	if err != nil {
		return nil, err
	}
	return l.finish(config)
}

// AutoLoad automatically discovers and loads configuration
func (l *Loader) AutoLoad() (*Config, error) {
	configFile, _, err := l.findConfigFile()
	if errors.Is(err, ErrConfigFileNotFound) {
		// No config file: defaults plus environment
		return l.finish(l.defaults())
	}
	if err != nil {
		return nil, err
	}
	return l.loadFromFile(configFile)
}

// FindConfigFile returns the file AutoLoad would use, or
// ErrConfigFileNotFound.
func (l *Loader) FindConfigFile() (string, error) {
	path, _, err := l.findConfigFile()
	return path, err
}

// findConfigFile searches for configuration files in search paths
func (l *Loader) findConfigFile() (string, ConfigFormat, error) {
	filenames := []string{
		"yakr.yaml", "yakr.yml",
		"config.yaml", "config.yml",
		"yakr.json", "config.json",
	}

	for _, searchPath := range l.searchPaths {
		for _, filename := range filenames {
			fullPath := filepath.Join(searchPath, filename)
			if _, err := os.Stat(fullPath); err == nil {
				format, err := formatFor(fullPath)
				if err != nil {
					continue
				}
				return fullPath, format, nil
			}
		}
	}

	return "", "", ErrConfigFileNotFound
}

func formatFor(filename string) (ConfigFormat, error) {
	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unsupported config file format: %s", ext)
	}
}

// loadFromFile loads configuration from a file
func (l *Loader) loadFromFile(filename string) (*Config, error) {
	format, err := formatFor(filename)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrConfigFileNotFound, filename)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config, err := l.parseConfig(data, format)
	if err != nil {
		return nil, err
	}
	return l.finish(config)
}

// finish merges defaults, applies environment overrides and validates.
func (l *Loader) finish(config *Config) (*Config, error) {
	config = l.mergeConfig(l.defaults(), config)

	if err := l.loadFromEnv(config); err != nil {
		return nil, fmt.Errorf("failed to load environment overrides: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

func (l *Loader) defaults() *Config {
	if l.defaultConfig == nil {
		return DefaultConfig()
	}
	copied := *l.defaultConfig
	return &copied
}

// parseConfig parses configuration data based on format
func (l *Loader) parseConfig(data []byte, format ConfigFormat) (*Config, error) {
	config := &Config{}

	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("%w: YAML: %v", ErrConfigParseError, err)
		}
	case FormatJSON:
		if err := json.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("%w: JSON: %v", ErrConfigParseError, err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format: %s", format)
	}

	return config, nil
}

// loadFromEnv loads configuration overrides from environment variables
func (l *Loader) loadFromEnv(config *Config) error {
	if val := os.Getenv(l.envPrefix + "_APP_ENVIRONMENT"); val != "" {
		config.App.Environment = Environment(val)
	}
	if val := os.Getenv(l.envPrefix + "_APP_DEBUG"); val != "" {
		config.App.Debug = strings.ToLower(val) == "true"
	}

	// Log configuration
	if val := os.Getenv(l.envPrefix + "_LOG_LEVEL"); val != "" {
		config.Log.Level = LogLevel(val)
	}
	if val := os.Getenv(l.envPrefix + "_LOG_FORMAT"); val != "" {
		config.Log.Format = val
	}
	if val := os.Getenv(l.envPrefix + "_LOG_OUTPUT"); val != "" {
		config.Log.Output = val
	}

	// Network configuration
	if val := os.Getenv(l.envPrefix + "_NETWORK_HOST"); val != "" {
		config.Network.TCP.Host = val
	}
	if val := os.Getenv(l.envPrefix + "_NETWORK_PORT"); val != "" {
		port, err := parsePort(val)
		if err != nil {
			return fmt.Errorf("%s_NETWORK_PORT: %w", l.envPrefix, err)
		}
		config.Network.TCP.Port = port
	}

	// Bot configuration
	if val := os.Getenv(l.envPrefix + "_BOT_NICK"); val != "" {
		config.Bot.Nick = val
	}
	if val := os.Getenv(l.envPrefix + "_BOT_PLUGINS"); val != "" {
		config.Bot.Plugins = splitList(val)
	}
	if val := os.Getenv(l.envPrefix + "_BOT_PLUGIN_DIR"); val != "" {
		config.Bot.PluginDir = val
	}

	// Session configuration
	if val := os.Getenv(l.envPrefix + "_SESSION_RECORD"); val != "" {
		config.Session.Record = val
	}
	if val := os.Getenv(l.envPrefix + "_SESSION_REPLAY"); val != "" {
		config.Session.Replay = val
	}

	return nil
}

func splitList(val string) []string {
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Helper function to parse port number
func parsePort(val string) (int, error) {
	var port int
	_, err := fmt.Sscanf(val, "%d", &port)
	if err != nil {
		return 0, err
	}
	if port <= 0 || port > 65535 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidPort, port)
	}
	return port, nil
}

// mergeConfig merges user config with default config
func (l *Loader) mergeConfig(defaultConfig, userConfig *Config) *Config {
	merged := *defaultConfig

	// App config
	if userConfig.App.Name != "" {
		merged.App.Name = userConfig.App.Name
	}
	if userConfig.App.Version != "" {
		merged.App.Version = userConfig.App.Version
	}
	if userConfig.App.Environment != "" {
		merged.App.Environment = userConfig.App.Environment
	}
	merged.App.Debug = merged.App.Debug || userConfig.App.Debug

	// Log config
	if userConfig.Log.Level != "" {
		merged.Log.Level = userConfig.Log.Level
	}
	if userConfig.Log.Format != "" {
		merged.Log.Format = userConfig.Log.Format
	}
	if userConfig.Log.Output != "" {
		merged.Log.Output = userConfig.Log.Output
	}

	// Network config
	if userConfig.Network.TCP.Host != "" {
		merged.Network.TCP.Host = userConfig.Network.TCP.Host
	}
	if userConfig.Network.TCP.Port != 0 {
		merged.Network.TCP.Port = userConfig.Network.TCP.Port
	}
	if userConfig.Network.TCP.KeepAlive != nil {
		merged.Network.TCP.KeepAlive = boolPtr(*userConfig.Network.TCP.KeepAlive)
	}
	if userConfig.Network.TCP.KeepAliveInterval != 0 {
		merged.Network.TCP.KeepAliveInterval = userConfig.Network.TCP.KeepAliveInterval
	}
	if userConfig.Network.TCP.BufferSize != 0 {
		merged.Network.TCP.BufferSize = userConfig.Network.TCP.BufferSize
	}
	if userConfig.Network.Delimiter != "" {
		merged.Network.Delimiter = userConfig.Network.Delimiter
	}
	if userConfig.Network.ChannelCapacity != 0 {
		merged.Network.ChannelCapacity = userConfig.Network.ChannelCapacity
	}
	if userConfig.Network.Timeouts.Dial != 0 {
		merged.Network.Timeouts.Dial = userConfig.Network.Timeouts.Dial
	}
	if userConfig.Network.Timeouts.Write != 0 {
		merged.Network.Timeouts.Write = userConfig.Network.Timeouts.Write
	}

	// Bot config
	if userConfig.Bot.Nick != "" {
		merged.Bot.Nick = userConfig.Bot.Nick
	}
	if userConfig.Bot.RealName != "" {
		merged.Bot.RealName = userConfig.Bot.RealName
	}
	if userConfig.Bot.Plugins != nil {
		merged.Bot.Plugins = append([]string(nil), userConfig.Bot.Plugins...)
	}
	if userConfig.Bot.PluginDir != "" {
		merged.Bot.PluginDir = userConfig.Bot.PluginDir
	}
	if userConfig.Bot.Channels != nil {
		merged.Bot.Channels = append([]string(nil), userConfig.Bot.Channels...)
	}

	// Session config
	if userConfig.Session.Record != "" {
		merged.Session.Record = userConfig.Session.Record
	}
	if userConfig.Session.Replay != "" {
		merged.Session.Replay = userConfig.Session.Replay
	}
	if userConfig.Session.ReplayTimeout != 0 {
		merged.Session.ReplayTimeout = userConfig.Session.ReplayTimeout
	}

	return &merged
}
