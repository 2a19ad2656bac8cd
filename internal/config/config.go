// Package config loads the YAML runtime configuration and watches it for
// changes.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Account is the per-account section of the config file.
type Account struct {
	StorePath       string   `yaml:"store_path,omitempty"`
	DefaultModel    string   `yaml:"default_model,omitempty"`
	DMPolicy        string   `yaml:"dm_policy,omitempty"`
	GroupPolicy     string   `yaml:"group_policy,omitempty"`
	Allowlist       []string `yaml:"allowlist,omitempty"`
	GroupAllowlist  []string `yaml:"group_allowlist,omitempty"`
	OtpSelfApproval *bool    `yaml:"otp_self_approval,omitempty"`
	OtpCooldownSecs int64    `yaml:"otp_cooldown_secs,omitempty"`
}

// WhatsappConfig is the whatsapp channel section.
type WhatsappConfig struct {
	Enabled  bool               `yaml:"enabled"`
	Accounts map[string]Account `yaml:"accounts,omitempty"`
}

// Config is the root of the config file.
type Config struct {
	DataDir        string         `yaml:"data_dir,omitempty"`
	LogLevel       string         `yaml:"log_level,omitempty"`
	MessageLogPath string         `yaml:"message_log_path,omitempty"`
	Whatsapp       WhatsappConfig `yaml:"whatsapp,omitempty"`
}

// DefaultDataDir is used when data_dir is not set.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".waclaw"
	}
	return filepath.Join(home, ".waclaw")
}

// Load reads and parses the config file, applying defaults and
// normalizing account ids.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir()
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.MessageLogPath == "" {
		c.MessageLogPath = filepath.Join(c.DataDir, "messages.db")
	}

	if len(c.Whatsapp.Accounts) == 0 {
		return
	}
	normalized := make(map[string]Account, len(c.Whatsapp.Accounts))
	for id, acct := range c.Whatsapp.Accounts {
		normalized[NormalizeAccountID(id)] = acct
	}
	c.Whatsapp.Accounts = normalized
}
