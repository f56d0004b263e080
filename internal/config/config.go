// Package config loads GridMii's TOML configuration file.
//
// Configuration loading is treated as an external collaborator: GridMii
// only depends on the shape of the decoded struct, not on how the TOML
// file reaches disk. The loader here is the concrete boundary
// implementation used by cmd/gridmii.
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the decoded form of data/config.toml.
type Config struct {
	Token       string   `toml:"token"`
	Guild       string   `toml:"guild"`
	Channel     string   `toml:"channel"`
	AdminRoles  []string `toml:"admin_roles"`
	BannedUsers []string `toml:"banned_users"`

	MQTTBroker   string `toml:"mqtt_broker"`
	MQTTPort     int    `toml:"mqtt_port"`
	MQTTTLS      bool   `toml:"mqtt_tls"`
	MQTTUsername string `toml:"mqtt_username"`
	MQTTPassword string `toml:"mqtt_password"`

	TargetNode string `toml:"target_node"`

	NotifyThresholdSeconds int `toml:"notify_threshold_seconds"`
	MinReportSeconds       int `toml:"min_report_seconds"`

	RelayConfigPath string `toml:"relay_config_path"`

	MetricsPort int `toml:"metrics_port"`
}

// Defaults applied to optional fields left unset in the file.
const (
	DefaultMQTTPort               = 1883
	DefaultNotifyThresholdSeconds = 300
	DefaultMinReportSeconds       = 5
	DefaultMetricsPort            = 0 // disabled unless set
)

// NotifyThreshold returns the notify delay as a time.Duration, applying
// the default when unset.
func (c *Config) NotifyThreshold() time.Duration {
	if c.NotifyThresholdSeconds <= 0 {
		return DefaultNotifyThresholdSeconds * time.Second
	}
	return time.Duration(c.NotifyThresholdSeconds) * time.Second
}

// MinReportDuration returns the minimum elapsed-time-worth-reporting
// duration, applying the default when unset.
func (c *Config) MinReportDuration() time.Duration {
	if c.MinReportSeconds <= 0 {
		return DefaultMinReportSeconds * time.Second
	}
	return time.Duration(c.MinReportSeconds) * time.Second
}

// Load reads and decodes the TOML config file at path, applying the
// mqtt_port default; the notify and min-report defaults are applied by
// NotifyThreshold and MinReportDuration.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("config: %s: missing required field 'token'", path)
	}
	if cfg.Guild == "" {
		return nil, fmt.Errorf("config: %s: missing required field 'guild'", path)
	}
	if cfg.MQTTBroker == "" {
		return nil, fmt.Errorf("config: %s: missing required field 'mqtt_broker'", path)
	}
	if cfg.MQTTPort == 0 {
		cfg.MQTTPort = DefaultMQTTPort
	}
	return &cfg, nil
}

// IsAdmin reports whether any of the given Discord role IDs is in the
// configured admin-role set.
func (c *Config) IsAdmin(roleIDs []string) bool {
	if len(c.AdminRoles) == 0 {
		return false
	}
	admin := make(map[string]struct{}, len(c.AdminRoles))
	for _, r := range c.AdminRoles {
		admin[r] = struct{}{}
	}
	for _, r := range roleIDs {
		if _, ok := admin[r]; ok {
			return true
		}
	}
	return false
}

// IsBanned reports whether the given user ID is on the banned-user list.
func (c *Config) IsBanned(userID string) bool {
	for _, u := range c.BannedUsers {
		if u == userID {
			return true
		}
	}
	return false
}

// ChannelAllowed reports whether commands may run in the given channel.
// An unset Channel means every channel is allowed.
func (c *Config) ChannelAllowed(channelID string) bool {
	return c.Channel == "" || c.Channel == channelID
}
