// Package config provides configuration management for the yakr bot
package config

import (
	"fmt"
	"strings"
	"time"
)

// Environment represents the deployment environment
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvProduction  Environment = "production"
)

// String returns the string representation of Environment
func (e Environment) String() string {
	return string(e)
}

// IsValid checks if the environment is valid
func (e Environment) IsValid() bool {
	switch e {
	case EnvDevelopment, EnvTesting, EnvProduction:
		return true
	default:
		return false
	}
}

// LogLevel represents the logging level
type LogLevel string

const (
	LogLevelTrace LogLevel = "trace"
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
	LogLevelFatal LogLevel = "fatal"
)

// String returns the string representation of LogLevel
func (l LogLevel) String() string {
	return string(l)
}

// IsValid checks if the log level is valid
func (l LogLevel) IsValid() bool {
	switch l {
	case LogLevelTrace, LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError, LogLevelFatal:
		return true
	default:
		return false
	}
}

// Config represents the complete bot configuration
type Config struct {
	App     AppConfig     `yaml:"app" json:"app"`
	Log     LogConfig     `yaml:"log" json:"log"`
	Network NetworkConfig `yaml:"network" json:"network"`
	Bot     BotConfig     `yaml:"bot" json:"bot"`
	Session SessionConfig `yaml:"session" json:"session"`
}

// AppConfig contains application-level configuration
type AppConfig struct {
	Name        string      `yaml:"name" json:"name"`
	Version     string      `yaml:"version" json:"version"`
	Environment Environment `yaml:"environment" json:"environment"`
	Debug       bool        `yaml:"debug" json:"debug"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	// Log level
	Level LogLevel `yaml:"level" json:"level"`

	// Log format (json, text)
	Format string `yaml:"format" json:"format"`

	// Output destination (stdout, stderr, file path)
	Output string `yaml:"output" json:"output"`
}

// NetworkConfig describes the single upstream chat server connection.
type NetworkConfig struct {
	TCP TCPConfig `yaml:"tcp" json:"tcp"`

	// Delimiter separates lines on the wire. It must not be empty.
	Delimiter string `yaml:"delimiter" json:"delimiter"`

	// ChannelCapacity bounds every queue between workers.
	ChannelCapacity int `yaml:"channel_capacity" json:"channel_capacity"`

	Timeouts TimeoutConfig `yaml:"timeouts" json:"timeouts"`
}

// TCPConfig contains TCP-specific configuration
type TCPConfig struct {
	// Remote host
	Host string `yaml:"host" json:"host"`

	// Remote port
	Port int `yaml:"port" json:"port"`

	// Enable TCP keep-alive. Unset means enabled.
	KeepAlive *bool `yaml:"keep_alive,omitempty" json:"keep_alive,omitempty"`

	// Keep-alive interval
	KeepAliveInterval time.Duration `yaml:"keep_alive_interval" json:"keep_alive_interval"`

	// Size of a single socket read
	BufferSize int `yaml:"buffer_size" json:"buffer_size"`
}

// KeepAliveEnabled reports whether TCP keep-alive is on.
func (c TCPConfig) KeepAliveEnabled() bool {
	return c.KeepAlive == nil || *c.KeepAlive
}

func boolPtr(v bool) *bool {
	return &v
}

// Address returns host:port.
func (c TCPConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// TimeoutConfig contains timeout settings. Zero disables a timeout.
type TimeoutConfig struct {
	Dial  time.Duration `yaml:"dial" json:"dial"`
	Write time.Duration `yaml:"write" json:"write"`
}

// BotConfig contains the bot identity and its plugin set.
type BotConfig struct {
	Nick     string `yaml:"nick" json:"nick"`
	RealName string `yaml:"real_name" json:"real_name"`

	// Plugins are loaded in order once the router is created.
	Plugins []string `yaml:"plugins" json:"plugins"`

	// PluginDir holds executables for subprocess plugins.
	PluginDir string `yaml:"plugin_dir" json:"plugin_dir"`

	// Channels are joined by the autojoin plugin once the bot is ready.
	Channels []string `yaml:"channels,omitempty" json:"channels,omitempty"`
}

// SessionConfig selects the record/replay harness.
type SessionConfig struct {
	// Record tees live traffic into this file.
	Record string `yaml:"record,omitempty" json:"record,omitempty"`

	// Replay substitutes the network with this recorded session.
	Replay string `yaml:"replay,omitempty" json:"replay,omitempty"`

	// ReplayTimeout bounds the wait for each recorded reply. Zero waits
	// until the router stops.
	ReplayTimeout time.Duration `yaml:"replay_timeout,omitempty" json:"replay_timeout,omitempty"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:        "yakr",
			Version:     "1.0.0",
			Environment: EnvProduction,
		},
		Log: LogConfig{
			Level:  LogLevelInfo,
			Format: "text",
			Output: "stderr",
		},
		Network: NetworkConfig{
			TCP: TCPConfig{
				Host:              "localhost",
				Port:              6667,
				KeepAlive:         boolPtr(true),
				KeepAliveInterval: 60 * time.Second,
				BufferSize:        1024,
			},
			Delimiter:       "\r\n",
			ChannelCapacity: 100,
			Timeouts: TimeoutConfig{
				Dial:  30 * time.Second,
				Write: 30 * time.Second,
			},
		},
		Bot: BotConfig{
			Nick:      "Dot",
			RealName:  "Dot the bot",
			PluginDir: "./plugins",
		},
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.App.Name == "" {
		return ErrInvalidAppName
	}
	if !c.App.Environment.IsValid() {
		return ErrInvalidEnvironment
	}

	if !c.Log.Level.IsValid() {
		return ErrInvalidLogLevel
	}

	if c.Network.TCP.Host == "" {
		return ErrInvalidHost
	}
	if c.Network.TCP.Port <= 0 || c.Network.TCP.Port > 65535 {
		return ErrInvalidPort
	}
	if c.Network.TCP.BufferSize <= 0 {
		return ErrInvalidBufferSize
	}
	if c.Network.Delimiter == "" {
		return ErrInvalidDelimiter
	}
	if c.Network.ChannelCapacity <= 0 {
		return ErrInvalidChannelCapacity
	}

	if c.Bot.Nick == "" || strings.ContainsAny(c.Bot.Nick, " \r\n") {
		return ErrInvalidNick
	}
	seen := make(map[string]bool, len(c.Bot.Plugins))
	for _, name := range c.Bot.Plugins {
		if name == "" || seen[name] {
			return fmt.Errorf("%w: %q", ErrInvalidPluginName, name)
		}
		seen[name] = true
	}

	if c.Session.Record != "" && c.Session.Replay != "" {
		return ErrConflictingSession
	}
	if c.Session.ReplayTimeout < 0 {
		return ErrInvalidReplayTimeout
	}

	return nil
}

// IsDebugEnabled returns true if debug mode is enabled
func (c *Config) IsDebugEnabled() bool {
	return c.App.Debug || c.App.Environment == EnvDevelopment
}
