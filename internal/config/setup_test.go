package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunSetupWizard_SavesLoadableConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "fadmin.yaml")
	answers := strings.Join([]string{
		"factorio.local",    // host
		"",                  // port: keep default
		"secret",            // password
		"",                  // discord token: disabled
		"",                  // metrics: keep enabled
		"9200",              // metrics port
		"/run/factorio.pid", // pidfile
		"no",                // mqtt
	}, "\n") + "\n"

	var out bytes.Buffer
	require.NoError(t, RunSetupWizard(strings.NewReader(answers), &out, DefaultConfig(), path))
	assert.Contains(t, out.String(), "Configuration saved to "+path)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	cfg, err := Load(Options{File: path})
	require.NoError(t, err)
	assert.Equal(t, "factorio.local", cfg.RCON.Host)
	assert.Equal(t, DefaultRCONPort, cfg.RCON.Port)
	assert.Equal(t, "secret", cfg.RCON.Password)
	assert.Equal(t, 9200, cfg.Metrics.Port)
	assert.Equal(t, "/run/factorio.pid", cfg.Metrics.PidFile)
	assert.Equal(t, DefaultConfig().RCON.RetryDelay, cfg.RCON.RetryDelay)
	assert.False(t, cfg.Discord.Enabled())
}

func TestRunSetupWizard_InvalidAnswersAbort(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fadmin.yaml")
	// No password, then decline to retry.
	answers := "\n\n\n\n\n\n\n\nno\n"

	var out bytes.Buffer
	err := RunSetupWizard(strings.NewReader(answers), &out, DefaultConfig(), path)
	require.Error(t, err)
	assert.Contains(t, out.String(), "rcon.password")

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestRunSetupWizard_StopsAtEndOfInput(t *testing.T) {
	err := RunSetupWizard(strings.NewReader(""), &bytes.Buffer{}, DefaultConfig(), filepath.Join(t.TempDir(), "x.yaml"))
	assert.Error(t, err)
}

func TestSave_RoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RCON.Password = "pw"
	cfg.RCON.CommandTimeout = 0
	cfg.MQTT.TopicPrefix = "factorio/prod"

	path := filepath.Join(t.TempDir(), "fadmin.yaml")
	require.NoError(t, cfg.Save(path))
	assert.Equal(t, path, cfg.Path())

	loaded, err := Load(Options{File: path})
	require.NoError(t, err)
	assert.Equal(t, cfg.RCON, loaded.RCON)
	assert.Equal(t, cfg.Metrics, loaded.Metrics)
	assert.Equal(t, "factorio/prod", loaded.MQTT.TopicPrefix)
}
