package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fadmin-project/fadmin/internal/errutil"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(Options{})
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.RCON.Host)
	assert.Equal(t, DefaultRCONPort, cfg.RCON.Port)
	assert.Equal(t, 2*time.Second, cfg.RCON.RetryDelay)
	assert.Equal(t, 500*time.Millisecond, cfg.RCON.PollInterval)
	assert.Zero(t, cfg.RCON.CommandTimeout)
	assert.Equal(t, DefaultMetricsPort, cfg.Metrics.Port)
	assert.Equal(t, 10*time.Second, cfg.Metrics.ScrapeTimeout)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.MQTT.Enabled)
}

func TestLoad_LegacyEnvironment(t *testing.T) {
	t.Setenv("RCON_HOST", "factorio.example")
	t.Setenv("RCON_PORT", "34198")
	t.Setenv("RCON_PWD", "secret")
	t.Setenv("DISCORD_CHANNEL", "123456789012345678")
	t.Setenv("DISCORD_TOKEN", "bot-token")
	t.Setenv("STATUS_FREQUENCY", "25")
	t.Setenv("METRICS_HOST", "127.0.0.1")
	t.Setenv("METRICS_PORT", "9200")
	t.Setenv("PIDFILE", "/run/factorio.pid")

	cfg, err := Load(Options{})
	require.NoError(t, err)

	assert.Equal(t, "factorio.example:34198", cfg.RCON.Address())
	assert.Equal(t, "secret", cfg.RCON.Password)
	assert.Equal(t, "123456789012345678", cfg.Discord.ChannelID)
	assert.Equal(t, "bot-token", cfg.Discord.Token)
	assert.Equal(t, 25, cfg.Bridge.StatusFrequency)
	assert.Equal(t, "127.0.0.1:9200", cfg.Metrics.Address())
	assert.Equal(t, "/run/factorio.pid", cfg.Metrics.PidFile)
	assert.True(t, Validate(cfg).IsValid())
}

func TestLoad_LayeringOrder(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fadmin.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
rcon:
  host: from-file
  port: 1000
  command_timeout: 15s
bridge:
  status_frequency: 10
`), 0644))

	t.Setenv("RCON_PORT", "2000")
	t.Setenv("FADMIN_BRIDGE__STATUS_FREQUENCY", "20")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(fs)
	require.NoError(t, fs.Parse([]string{"--rcon-port", "3000", "--log-level", "debug"}))

	cfg, err := Load(Options{File: path, Flags: fs})
	require.NoError(t, err)

	assert.Equal(t, "from-file", cfg.RCON.Host)
	assert.Equal(t, 3000, cfg.RCON.Port)
	assert.Equal(t, 15*time.Second, cfg.RCON.CommandTimeout)
	assert.Equal(t, 20, cfg.Bridge.StatusFrequency)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, path, cfg.Path())
}

func TestLoad_UnchangedFlagsKeepLowerLayers(t *testing.T) {
	t.Setenv("RCON_HOST", "from-env")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(fs)
	require.NoError(t, fs.Parse(nil))

	cfg, err := Load(Options{Flags: fs})
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.RCON.Host)
	assert.Equal(t, DefaultRCONPort, cfg.RCON.Port)
}

func TestLoad_EnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("FADMIN_RCON__PASSWORD=from-dotenv\n"), 0644))
	t.Cleanup(func() { os.Unsetenv("FADMIN_RCON__PASSWORD") })

	cfg, err := Load(Options{EnvFile: path})
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.RCON.Password)
}

func TestLoad_MissingEnvFileIsIgnored(t *testing.T) {
	_, err := Load(Options{EnvFile: filepath.Join(t.TempDir(), "absent.env")})
	assert.NoError(t, err)
}

func TestLoad_MissingConfigFile(t *testing.T) {
	_, err := Load(Options{File: filepath.Join(t.TempDir(), "absent.yaml")})
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, errutil.CodeConfig)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := DefaultConfig()
		cfg.RCON.Password = "secret"
		cfg.Metrics.PidFile = "/run/factorio.pid"
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"missing password", func(c *Config) { c.RCON.Password = "" }, "rcon.password"},
		{"missing host", func(c *Config) { c.RCON.Host = " " }, "rcon.host"},
		{"bad port", func(c *Config) { c.RCON.Port = 70000 }, "rcon.port"},
		{"token without channel", func(c *Config) { c.Discord.Token = "t" }, "discord.channel"},
		{"negative status frequency", func(c *Config) { c.Bridge.StatusFrequency = -1 }, "bridge.status_frequency"},
		{"negative timeout", func(c *Config) { c.RCON.CommandTimeout = -time.Second }, "rcon.command_timeout"},
		{"mqtt without broker", func(c *Config) { c.MQTT.Enabled = true }, "mqtt.broker_url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			result := Validate(cfg)
			require.False(t, result.IsValid())
			assert.Equal(t, tt.field, result.Errors[0].Field)

			err := result.Err()
			require.Error(t, err)
			errutil.AssertErrorCode(t, err, errutil.CodeConfig)
		})
	}

	t.Run("valid", func(t *testing.T) {
		result := Validate(valid())
		assert.True(t, result.IsValid())
		assert.NoError(t, result.Err())
		// Discord is off by default and only warned about.
		require.Len(t, result.Warnings, 1)
		assert.Equal(t, "discord.token", result.Warnings[0].Field)
	})
}
