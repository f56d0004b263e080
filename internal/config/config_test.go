package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
token = "abc"
guild = "123"
mqtt_broker = "broker.local"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultMQTTPort, cfg.MQTTPort)
	assert.Equal(t, DefaultNotifyThresholdSeconds, int(cfg.NotifyThreshold().Seconds()))
	assert.Equal(t, DefaultMinReportSeconds, int(cfg.MinReportDuration().Seconds()))
}

func TestLoadMissingRequiredFields(t *testing.T) {
	path := writeConfig(t, `mqtt_broker = "broker.local"`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestIsAdminAndBanned(t *testing.T) {
	cfg := &Config{AdminRoles: []string{"r1", "r2"}, BannedUsers: []string{"u1"}}
	assert.True(t, cfg.IsAdmin([]string{"r9", "r2"}))
	assert.False(t, cfg.IsAdmin([]string{"r9"}))
	assert.True(t, cfg.IsBanned("u1"))
	assert.False(t, cfg.IsBanned("u2"))
}

func TestChannelAllowed(t *testing.T) {
	open := &Config{}
	assert.True(t, open.ChannelAllowed("anything"))

	gated := &Config{Channel: "42"}
	assert.True(t, gated.ChannelAllowed("42"))
	assert.False(t, gated.ChannelAllowed("99"))
}
