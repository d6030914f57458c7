// Copyright 2024-2026 Aiku AI

// Package config loads the YAML configuration of the REST API, upgrading
// it against the embedded example and applying environment overrides.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"text/template"
	"time"

	"go.mau.fi/zeroconfig"
	"gopkg.in/yaml.v3"
)

//go:embed example-config.yaml
var ExampleConfig string

// Config is the root configuration.
type Config struct {
	Mattermost MattermostConfig  `yaml:"mattermost"`
	API        APIConfig         `yaml:"api"`
	Webhook    WebhookConfig     `yaml:"webhook"`
	Logging    zeroconfig.Config `yaml:"logging"`
}

// MattermostConfig describes the wrapped Mattermost session.
type MattermostConfig struct {
	ServerURL string `yaml:"server_url"`
	Token     string `yaml:"token"`
	LoginID   string `yaml:"login_id"`
	Password  string `yaml:"password"`
	// IgnorePrefix suppresses events for posts whose sender username starts
	// with it. Empty disables the check.
	IgnorePrefix        string `yaml:"ignore_prefix"`
	DisplaynameTemplate string `yaml:"displayname_template"`

	displaynameTemplate *template.Template `yaml:"-"`
}

// APIConfig holds the HTTP server settings.
type APIConfig struct {
	ListenAddr           string        `yaml:"listen_addr"`
	Key                  string        `yaml:"key"`
	MaxBodySize          int64         `yaml:"max_body_size"`
	ReadTimeout          time.Duration `yaml:"read_timeout"`
	WriteTimeout         time.Duration `yaml:"write_timeout"`
	IdleTimeout          time.Duration `yaml:"idle_timeout"`
	MessagesDefaultLimit int           `yaml:"messages_default_limit"`
}

// WebhookConfig holds the event callback settings.
type WebhookConfig struct {
	URL            string        `yaml:"url"`
	DisabledEvents []string      `yaml:"disabled_events"`
	Timeout        time.Duration `yaml:"timeout"`
	BufferSize     int           `yaml:"buffer_size"`
}

// DisplaynameParams holds the parameters for rendering the displayname template.
type DisplaynameParams struct {
	Username  string
	Nickname  string
	FirstName string
	LastName  string
}

// MaxMessagesLimit caps the limit query parameter of message listings.
const MaxMessagesLimit = 200

// Load reads the config at path, fills in keys missing from the embedded
// example and applies environment overrides. When save is true the upgraded
// file is written back, and a missing file is created from the example.
func Load(path string, save bool) (*Config, error) {
	_, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist) && !save:
		return Parse([]byte(ExampleConfig))
	case errors.Is(err, fs.ErrNotExist):
		if err = os.WriteFile(path, []byte(ExampleConfig), 0o600); err != nil {
			return nil, fmt.Errorf("failed to write example config: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to stat config: %w", err)
	}

	data, err := upgrade(path, save)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML config data, applies environment overrides and
// validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.PostProcess(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// PostProcess compiles templates, fills zero values with defaults and
// checks the values that would otherwise fail later at runtime.
func (c *Config) PostProcess() error {
	if err := c.Mattermost.PostProcess(); err != nil {
		return fmt.Errorf("invalid displayname_template: %w", err)
	}
	c.Mattermost.ServerURL = strings.TrimRight(c.Mattermost.ServerURL, "/")
	if c.API.ListenAddr == "" {
		c.API.ListenAddr = ":3000"
	}
	if c.API.MaxBodySize <= 0 {
		c.API.MaxBodySize = 50 << 20
	}
	if c.API.MessagesDefaultLimit <= 0 || c.API.MessagesDefaultLimit > MaxMessagesLimit {
		c.API.MessagesDefaultLimit = 30
	}
	if c.Webhook.Timeout <= 0 {
		c.Webhook.Timeout = 10 * time.Second
	}
	if c.Webhook.BufferSize <= 0 {
		c.Webhook.BufferSize = 256
	}
	return nil
}

func (mc *MattermostConfig) PostProcess() error {
	if mc.DisplaynameTemplate == "" {
		mc.displaynameTemplate = nil
		return nil
	}
	var err error
	mc.displaynameTemplate, err = template.New("displayname").Parse(mc.DisplaynameTemplate)
	return err
}

// FormatDisplayname renders the displayname template, falling back to the
// username when no template is set or rendering fails.
func (mc *MattermostConfig) FormatDisplayname(params DisplaynameParams) string {
	if mc.displaynameTemplate == nil {
		return params.Username
	}
	var buf strings.Builder
	if err := mc.displaynameTemplate.Execute(&buf, params); err != nil {
		return params.Username
	}
	if name := strings.TrimSpace(buf.String()); name != "" {
		return name
	}
	return params.Username
}

// HasCredentials reports whether the config carries enough to log in at startup.
func (mc *MattermostConfig) HasCredentials() bool {
	return mc.ServerURL != "" && (mc.Token != "" || (mc.LoginID != "" && mc.Password != ""))
}
