// Copyright 2024-2026 Aiku AI

package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// envOverrides lists the environment variables that take precedence over
// the config file. Unset variables leave the file value alone.
type envOverrides struct {
	ServerURL  string `envconfig:"MATTERMOST_SERVER_URL"`
	Token      string `envconfig:"MATTERMOST_TOKEN"`
	LoginID    string `envconfig:"MATTERMOST_LOGIN_ID"`
	Password   string `envconfig:"MATTERMOST_PASSWORD"`
	ListenAddr string `envconfig:"API_LISTEN_ADDR"`
	APIKey     string `envconfig:"API_KEY"`
	WebhookURL string `envconfig:"WEBHOOK_URL"`
}

func (c *Config) applyEnv() error {
	var env envOverrides
	if err := envconfig.Process("", &env); err != nil {
		return fmt.Errorf("failed to read environment: %w", err)
	}
	override(&c.Mattermost.ServerURL, env.ServerURL)
	override(&c.Mattermost.Token, env.Token)
	override(&c.Mattermost.LoginID, env.LoginID)
	override(&c.Mattermost.Password, env.Password)
	override(&c.API.ListenAddr, env.ListenAddr)
	override(&c.API.Key, env.APIKey)
	override(&c.Webhook.URL, env.WebhookURL)
	return nil
}

func override(dst *string, val string) {
	if val != "" {
		*dst = val
	}
}
