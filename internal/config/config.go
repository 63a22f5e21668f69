// Package config handles Cradle configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/cradle/config.yaml, /etc/cradle/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "cradle", "config.yaml"))
	}

	paths = append(paths, "/etc/cradle/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Cradle configuration.
type Config struct {
	Listen          ListenConfig      `yaml:"listen"`
	Anthropic       AnthropicConfig   `yaml:"anthropic"`
	Huckleberry     HuckleberryConfig `yaml:"huckleberry"`
	Session         SessionConfig     `yaml:"session"`
	Agent           AgentConfig       `yaml:"agent"`
	ConversationLog ConvLogConfig     `yaml:"conversation_log"`
	LogLevel        string            `yaml:"log_level"`
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// AnthropicConfig defines Anthropic API settings.
type AnthropicConfig struct {
	APIKey string `yaml:"api_key"`
	// Model answers conversation turns and drives tool use.
	Model string `yaml:"model"`
	// ClassifierModel runs the cheap end-of-conversation check.
	// Defaults to Model when empty.
	ClassifierModel string `yaml:"classifier_model"`
}

// HuckleberryConfig defines the upstream tracking service connection.
type HuckleberryConfig struct {
	URL      string `yaml:"url"`
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
	// Timezone names the IANA zone used when formatting times for the
	// caller (e.g. "America/Chicago"). Defaults to the host zone.
	Timezone string `yaml:"timezone"`
}

// SessionConfig controls conversation session lifetimes.
type SessionConfig struct {
	// TTLSec is how long an idle session survives before eviction
	// (default 1800).
	TTLSec int `yaml:"ttl_sec"`
	// BusyWaitSec is how long a second message for the same session
	// waits for the in-flight turn before being rejected (default 5).
	BusyWaitSec int `yaml:"busy_wait_sec"`
}

// TTL returns the session idle lifetime as a duration.
func (s SessionConfig) TTL() time.Duration {
	return time.Duration(s.TTLSec) * time.Second
}

// BusyWait returns the busy-session wait as a duration.
func (s SessionConfig) BusyWait() time.Duration {
	return time.Duration(s.BusyWaitSec) * time.Second
}

// AgentConfig controls the conversation loop.
type AgentConfig struct {
	// MaxToolRounds caps tool-execution rounds per message (default 10).
	MaxToolRounds int `yaml:"max_tool_rounds"`
	// MessageTimeoutSec bounds end-to-end handling of one message
	// (default 60).
	MessageTimeoutSec int `yaml:"message_timeout_sec"`
}

// MessageTimeout returns the per-message deadline as a duration.
func (a AgentConfig) MessageTimeout() time.Duration {
	return time.Duration(a.MessageTimeoutSec) * time.Second
}

// ConvLogConfig controls the durable conversation log.
type ConvLogConfig struct {
	// Path is the sqlite database file. Empty disables logging.
	Path string `yaml:"path"`
	// RetentionHours is how long records are kept before pruning
	// (default 168, one week).
	RetentionHours int `yaml:"retention_hours"`
}

// Retention returns the log retention window as a duration.
func (c ConvLogConfig) Retention() time.Duration {
	return time.Duration(c.RetentionHours) * time.Hour
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults fills values the config file left unset.
func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 8094
	}
	if c.Anthropic.Model == "" {
		c.Anthropic.Model = "claude-sonnet-4-20250514"
	}
	if c.Anthropic.ClassifierModel == "" {
		c.Anthropic.ClassifierModel = "claude-3-5-haiku-20241022"
	}
	if c.Session.TTLSec == 0 {
		c.Session.TTLSec = 1800
	}
	if c.Session.BusyWaitSec == 0 {
		c.Session.BusyWaitSec = 5
	}
	if c.Agent.MaxToolRounds == 0 {
		c.Agent.MaxToolRounds = 10
	}
	if c.Agent.MessageTimeoutSec == 0 {
		c.Agent.MessageTimeoutSec = 60
	}
	if c.ConversationLog.RetentionHours == 0 {
		c.ConversationLog.RetentionHours = 168
	}
}
