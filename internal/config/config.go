// Package config handles configuration loading and validation for fadmin.
//
// Values are layered, later sources winning: built-in defaults, an
// optional YAML file, the environment (including a .env file), then
// command-line flags.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog/log"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/fadmin-project/fadmin/internal/errutil"
	"github.com/fadmin-project/fadmin/internal/util"
)

const (
	DefaultRCONPort    = 27015
	DefaultMetricsPort = 9102
	DefaultEnvFile     = ".env"

	// EnvPrefix namespaces environment overrides for every key, e.g.
	// FADMIN_RCON__COMMAND_TIMEOUT=5s sets rcon.command_timeout.
	EnvPrefix = "FADMIN_"
)

// Config is the root configuration structure for fadmin.
type Config struct {
	RCON    RCONConfig     `koanf:"rcon"`
	Discord DiscordConfig  `koanf:"discord"`
	Bridge  BridgeConfig   `koanf:"bridge"`
	Metrics MetricsConfig  `koanf:"metrics"`
	MQTT    MQTTConfig     `koanf:"mqtt"`
	Logging util.LogConfig `koanf:"logging"`

	path string
}

// RCONConfig holds the game server connection settings.
type RCONConfig struct {
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	Password string `koanf:"password"`

	RetryDelay time.Duration `koanf:"retry_delay"`
	// CommandTimeout bounds one command round trip. Zero waits forever.
	CommandTimeout time.Duration `koanf:"command_timeout"`
	PollInterval   time.Duration `koanf:"poll_interval"`
}

// Address returns host:port.
func (c RCONConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DiscordConfig holds chat platform settings.
type DiscordConfig struct {
	Token           string        `koanf:"token"`
	ChannelID       string        `koanf:"channel"`
	APIBase         string        `koanf:"api_base"`
	InboundInterval time.Duration `koanf:"inbound_interval"`
}

// Enabled reports whether a bot token is configured.
func (c DiscordConfig) Enabled() bool {
	return c.Token != ""
}

// BridgeConfig holds relay behaviour settings.
type BridgeConfig struct {
	// StatusFrequency posts the online player list after this many relayed
	// chat lines. Zero disables it.
	StatusFrequency int `koanf:"status_frequency"`
}

// MetricsConfig holds the HTTP observability endpoint settings.
type MetricsConfig struct {
	Enabled       bool          `koanf:"enabled"`
	Host          string        `koanf:"host"`
	Port          int           `koanf:"port"`
	PidFile       string        `koanf:"pidfile"`
	ScrapeTimeout time.Duration `koanf:"scrape_timeout"`
}

// Address returns host:port.
func (c MetricsConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// MQTTConfig holds the event mirror settings.
type MQTTConfig struct {
	Enabled     bool   `koanf:"enabled"`
	BrokerURL   string `koanf:"broker_url"`
	Port        int    `koanf:"port"`
	UseTLS      bool   `koanf:"use_tls"`
	CertFile    string `koanf:"cert_file"`
	KeyFile     string `koanf:"key_file"`
	CAFile      string `koanf:"ca_file"`
	ClientID    string `koanf:"client_id"`
	Username    string `koanf:"username"`
	Password    string `koanf:"password"`
	TopicPrefix string `koanf:"topic_prefix"`
}

// legacyEnv maps the environment names used by existing deployments to
// config keys.
var legacyEnv = map[string]string{
	"RCON_HOST":        "rcon.host",
	"RCON_PORT":        "rcon.port",
	"RCON_PWD":         "rcon.password",
	"DISCORD_CHANNEL":  "discord.channel",
	"DISCORD_TOKEN":    "discord.token",
	"STATUS_FREQUENCY": "bridge.status_frequency",
	"METRICS_HOST":     "metrics.host",
	"METRICS_PORT":     "metrics.port",
	"PIDFILE":          "metrics.pidfile",
	"LOG_LEVEL":        "logging.level",
	"MQTT_BROKER":      "mqtt.broker_url",
	"MQTT_PORT":        "mqtt.port",
	"MQTT_USERNAME":    "mqtt.username",
	"MQTT_PASSWORD":    "mqtt.password",
}

// flagKeys maps command-line flag names to config keys.
var flagKeys = map[string]string{
	"log-level":    "logging.level",
	"rcon-host":    "rcon.host",
	"rcon-port":    "rcon.port",
	"metrics-port": "metrics.port",
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		RCON: RCONConfig{
			Host:         "127.0.0.1",
			Port:         DefaultRCONPort,
			RetryDelay:   2 * time.Second,
			PollInterval: 500 * time.Millisecond,
		},
		Discord: DiscordConfig{
			APIBase:         "https://discord.com/api/v10",
			InboundInterval: 2 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled:       true,
			Host:          "0.0.0.0",
			Port:          DefaultMetricsPort,
			ScrapeTimeout: 10 * time.Second,
		},
		MQTT: MQTTConfig{
			Port:        8883,
			UseTLS:      true,
			ClientID:    "fadmin",
			TopicPrefix: "fadmin",
		},
		Logging: util.DefaultLogConfig(),
	}
}

// defaults flattens DefaultConfig into koanf keys.
func defaults() map[string]any {
	return DefaultConfig().flatten()
}

// flatten returns every setting keyed by its dotted koanf path.
// Durations are rendered as strings so that saved files stay readable.
func (c *Config) flatten() map[string]any {
	return map[string]any{
		"rcon.host":                c.RCON.Host,
		"rcon.port":                c.RCON.Port,
		"rcon.password":            c.RCON.Password,
		"rcon.retry_delay":         c.RCON.RetryDelay.String(),
		"rcon.command_timeout":     c.RCON.CommandTimeout.String(),
		"rcon.poll_interval":       c.RCON.PollInterval.String(),
		"discord.token":            c.Discord.Token,
		"discord.channel":          c.Discord.ChannelID,
		"discord.api_base":         c.Discord.APIBase,
		"discord.inbound_interval": c.Discord.InboundInterval.String(),
		"bridge.status_frequency":  c.Bridge.StatusFrequency,
		"metrics.enabled":          c.Metrics.Enabled,
		"metrics.host":             c.Metrics.Host,
		"metrics.port":             c.Metrics.Port,
		"metrics.pidfile":          c.Metrics.PidFile,
		"metrics.scrape_timeout":   c.Metrics.ScrapeTimeout.String(),
		"mqtt.enabled":             c.MQTT.Enabled,
		"mqtt.broker_url":          c.MQTT.BrokerURL,
		"mqtt.port":                c.MQTT.Port,
		"mqtt.use_tls":             c.MQTT.UseTLS,
		"mqtt.cert_file":           c.MQTT.CertFile,
		"mqtt.key_file":            c.MQTT.KeyFile,
		"mqtt.ca_file":             c.MQTT.CAFile,
		"mqtt.client_id":           c.MQTT.ClientID,
		"mqtt.username":            c.MQTT.Username,
		"mqtt.password":            c.MQTT.Password,
		"mqtt.topic_prefix":        c.MQTT.TopicPrefix,
		"logging.level":            c.Logging.Level,
		"logging.directory":        c.Logging.Directory,
		"logging.max_backups":      c.Logging.MaxBackups,
		"logging.console":          c.Logging.Console,
		"logging.json":             c.Logging.JSON,
	}
}

// Save writes the configuration as YAML. The file holds secrets and is
// created owner-readable only.
func (c *Config) Save(path string) error {
	k := koanf.New(".")
	if err := k.Load(confmap.Provider(c.flatten(), "."), nil); err != nil {
		return fmt.Errorf("failed to build config tree: %w", err)
	}

	data, err := k.Marshal(yaml.Parser())
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	c.path = path
	log.Debug().Str("path", path).Msg("configuration saved")
	return nil
}

// Options selects the sources Load reads.
type Options struct {
	// File is an optional YAML config file.
	File string
	// EnvFile is loaded into the process environment first. Missing files
	// are ignored.
	EnvFile string
	// Flags contributes command-line overrides. May be nil.
	Flags *pflag.FlagSet
}

// Load builds the configuration from defaults, file, environment and flags.
func Load(opts Options) (*Config, error) {
	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, oops.In("config").
				Code(errutil.CodeConfig).
				With("path", opts.EnvFile).
				Wrapf(err, "failed to load env file")
		}
	}

	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, oops.In("config").Code(errutil.CodeConfig).Wrapf(err, "failed to load defaults")
	}

	if opts.File != "" {
		if err := k.Load(file.Provider(opts.File), yaml.Parser()); err != nil {
			return nil, oops.In("config").
				Code(errutil.CodeConfig).
				With("path", opts.File).
				Wrapf(err, "failed to read config file")
		}
		log.Info().Str("path", opts.File).Msg("configuration file loaded")
	}

	if err := k.Load(env.ProviderWithValue("", ".", envKey), nil); err != nil {
		return nil, oops.In("config").Code(errutil.CodeConfig).Wrapf(err, "failed to read environment")
	}

	if opts.Flags != nil {
		provider := posflag.ProviderWithFlag(opts.Flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(opts.Flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.In("config").Code(errutil.CodeConfig).Wrapf(err, "failed to read flags")
		}
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, oops.In("config").Code(errutil.CodeConfig).Wrapf(err, "failed to decode configuration")
	}
	cfg.path = opts.File

	return cfg, nil
}

// envKey maps an environment variable to a config key. Unrelated
// variables map to "" and are skipped.
func envKey(name, value string) (string, interface{}) {
	if key, ok := legacyEnv[name]; ok {
		return key, value
	}
	if strings.HasPrefix(name, EnvPrefix) {
		key := strings.TrimPrefix(name, EnvPrefix)
		return strings.ToLower(strings.ReplaceAll(key, "__", ".")), value
	}
	return "", nil
}

// Path returns the config file path, if one was loaded.
func (c *Config) Path() string {
	return c.path
}

// BindFlags registers the flags Load understands on fs.
func BindFlags(fs *pflag.FlagSet) {
	fs.String("log-level", "", "log level (trace, debug, info, warn, error)")
	fs.String("rcon-host", "", "RCON host")
	fs.Int("rcon-port", 0, "RCON port")
	fs.Int("metrics-port", 0, "metrics HTTP port")
}
