// Copyright 2024-2026 Aiku AI

package config

import (
	"fmt"

	up "go.mau.fi/util/configupgrade"
)

func upgradeConfig(helper up.Helper) {
	helper.Copy(up.Str, "mattermost", "server_url")
	helper.Copy(up.Str|up.Null, "mattermost", "token")
	helper.Copy(up.Str|up.Null, "mattermost", "login_id")
	helper.Copy(up.Str|up.Null, "mattermost", "password")
	helper.Copy(up.Str|up.Null, "mattermost", "ignore_prefix")
	helper.Copy(up.Str, "mattermost", "displayname_template")

	helper.Copy(up.Str, "api", "listen_addr")
	helper.Copy(up.Str|up.Null, "api", "key")
	helper.Copy(up.Int, "api", "max_body_size")
	helper.Copy(up.Str, "api", "read_timeout")
	helper.Copy(up.Str, "api", "write_timeout")
	helper.Copy(up.Str, "api", "idle_timeout")
	helper.Copy(up.Int, "api", "messages_default_limit")

	helper.Copy(up.Str|up.Null, "webhook", "url")
	helper.Copy(up.List, "webhook", "disabled_events")
	helper.Copy(up.Str, "webhook", "timeout")
	helper.Copy(up.Int, "webhook", "buffer_size")

	helper.Copy(up.Map, "logging")
}

// Upgrader merges a user config into the embedded example config.
var Upgrader = &up.StructUpgrader{
	SimpleUpgrader: up.SimpleUpgrader(upgradeConfig),
	Blocks: [][]string{
		{"api"},
		{"webhook"},
		{"logging"},
	},
	Base: ExampleConfig,
}

func upgrade(path string, save bool) ([]byte, error) {
	data, _, err := up.Do(path, save, Upgrader)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade config: %w", err)
	}
	return data, nil
}
