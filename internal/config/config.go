// Package config handles smart-assistant configuration loading.
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
// Then: ./config.yaml, ~/.config/smart-assistant/config.yaml,
// /etc/smart-assistant/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "smart-assistant", "config.yaml"))
	}

	paths = append(paths, "/etc/smart-assistant/config.yaml")
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

// Config holds all smart-assistant configuration.
type Config struct {
	Listen   ListenConfig  `yaml:"listen"`
	LLM      LLMConfig     `yaml:"llm"`
	SMTP     SMTPConfig    `yaml:"smtp"`
	MQTT     MQTTConfig    `yaml:"mqtt"`
	Chat     ChatConfig    `yaml:"chat"`
	Triggers TriggerConfig `yaml:"triggers"`
	DataDir  string        `yaml:"data_dir"`
	LogLevel string        `yaml:"log_level"`
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// LLMConfig defines the model-calling client settings. The endpoint is
// expected to speak the OpenAI chat completions wire format.
type LLMConfig struct {
	BaseURL    string `yaml:"base_url"`
	APIKey     string `yaml:"api_key"`
	Model      string `yaml:"model"`
	TimeoutSec int    `yaml:"timeout_sec"` // Default: 120
}

// SMTPConfig defines outbound mail delivery settings.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// StartTLS selects plain-then-upgrade (port 587). When false the
	// connection is implicit TLS from the first byte (port 465).
	StartTLS bool `yaml:"starttls"`
	// From is the sender address for all assistant mail
	// (e.g., "Assistant <assistant@example.com>").
	From string `yaml:"from"`
}

// MQTTConfig defines the optional notification broker connection.
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"` // e.g., mqtt://broker.local:1883
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"` // Default: smart-assistant
	DeviceName  string `yaml:"device_name"`  // Default: assistant
}

// ChatConfig defines the chat endpoint behavior.
type ChatConfig struct {
	// PersonaFile is an optional markdown file prepended to the system prompt.
	PersonaFile string `yaml:"persona_file"`
	// HistoryLimit caps the number of prior turns sent to the model.
	HistoryLimit int `yaml:"history_limit"` // Default: 20
	// HistoryTTLMinutes is how long idle session history is retained.
	HistoryTTLMinutes int `yaml:"history_ttl_minutes"` // Default: 60
	// ContextItems caps the number of content items added to the prompt.
	ContextItems int `yaml:"context_items"` // Default: 5
	// RateWindowSec and RateMax bound chat requests per session.
	RateWindowSec int `yaml:"rate_window_sec"` // Default: 60
	RateMax       int `yaml:"rate_max"`        // Default: 10
}

// TriggerConfig defines dispatch engine limits.
type TriggerConfig struct {
	// AuditCapacity is the maximum retained audit entries.
	AuditCapacity int `yaml:"audit_capacity"` // Default: 50
	// AuditTTLHours is the audit log retention window.
	AuditTTLHours int `yaml:"audit_ttl_hours"` // Default: 24
}

// Load reads and parses the config file at path, applying defaults for
// unset fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// applyDefaults fills zero-valued fields with working defaults.
func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 8180
	}
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = "http://localhost:11434/v1"
	}
	if c.LLM.TimeoutSec == 0 {
		c.LLM.TimeoutSec = 120
	}
	if c.SMTP.Port == 0 {
		c.SMTP.Port = 587
		c.SMTP.StartTLS = true
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "smart-assistant"
	}
	if c.MQTT.DeviceName == "" {
		c.MQTT.DeviceName = "assistant"
	}
	if c.Chat.HistoryLimit == 0 {
		c.Chat.HistoryLimit = 20
	}
	if c.Chat.HistoryTTLMinutes == 0 {
		c.Chat.HistoryTTLMinutes = 60
	}
	if c.Chat.ContextItems == 0 {
		c.Chat.ContextItems = 5
	}
	if c.Chat.RateWindowSec == 0 {
		c.Chat.RateWindowSec = 60
	}
	if c.Chat.RateMax == 0 {
		c.Chat.RateMax = 10
	}
	if c.Triggers.AuditCapacity == 0 {
		c.Triggers.AuditCapacity = 50
	}
	if c.Triggers.AuditTTLHours == 0 {
		c.Triggers.AuditTTLHours = 24
	}
	if c.DataDir == "" {
		c.DataDir = "."
	}
}

// HistoryTTL returns the session history retention as a duration.
func (c *ChatConfig) HistoryTTL() time.Duration {
	return time.Duration(c.HistoryTTLMinutes) * time.Minute
}

// RateWindow returns the chat rate-limit window as a duration.
func (c *ChatConfig) RateWindow() time.Duration {
	return time.Duration(c.RateWindowSec) * time.Second
}

// AuditTTL returns the audit retention as a duration.
func (c *TriggerConfig) AuditTTL() time.Duration {
	return time.Duration(c.AuditTTLHours) * time.Hour
}
