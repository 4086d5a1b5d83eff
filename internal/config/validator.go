package config

import (
	"fmt"
	"strings"

	"github.com/samber/oops"

	"github.com/fadmin-project/fadmin/internal/errutil"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// Err returns nil for a valid result, otherwise a CONFIG_INVALID error
// listing every failed field.
func (r *ValidationResult) Err() error {
	if r.IsValid() {
		return nil
	}

	fields := make([]string, 0, len(r.Errors))
	msgs := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		fields = append(fields, e.Field)
		msgs = append(msgs, e.Field+": "+e.Message)
	}
	return oops.In("config").
		Code(errutil.CodeConfig).
		With("fields", fields).
		Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
}

// Validate checks the settings needed to run the bridge.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	validateRCON(&cfg.RCON, result)
	validateDiscord(&cfg.Discord, result)
	validateMetrics(&cfg.Metrics, result)
	validateMQTT(&cfg.MQTT, result)

	if cfg.Bridge.StatusFrequency < 0 {
		result.AddError("bridge.status_frequency", "must be 0 (disabled) or a positive message count")
	}

	return result
}

// ValidateRCON checks only the connection settings, for the one-shot
// commands that do not start the bridge.
func ValidateRCON(cfg *Config) *ValidationResult {
	result := &ValidationResult{}
	validateRCON(&cfg.RCON, result)
	return result
}

func validateRCON(c *RCONConfig, result *ValidationResult) {
	if strings.TrimSpace(c.Host) == "" {
		result.AddError("rcon.host", "RCON host is required (RCON_HOST)")
	}
	validatePort(c.Port, "rcon.port", result)
	if c.Password == "" {
		result.AddError("rcon.password", "RCON password is required (RCON_PWD)")
	}
	if c.RetryDelay <= 0 {
		result.AddError("rcon.retry_delay", "retry delay must be positive")
	}
	if c.PollInterval <= 0 {
		result.AddError("rcon.poll_interval", "poll interval must be positive")
	}
	if c.CommandTimeout < 0 {
		result.AddError("rcon.command_timeout", "command timeout cannot be negative")
	}
}

func validateDiscord(c *DiscordConfig, result *ValidationResult) {
	if !c.Enabled() {
		result.AddWarning("discord.token", "no bot token configured, chat relay is disabled")
		return
	}
	if strings.TrimSpace(c.ChannelID) == "" {
		result.AddError("discord.channel", "channel id is required when a bot token is set (DISCORD_CHANNEL)")
	} else if len(c.ChannelID) < 17 || len(c.ChannelID) > 20 {
		result.AddWarning("discord.channel",
			"Discord channel ID appears invalid (expected 17-20 digit snowflake)")
	}
	if c.InboundInterval <= 0 {
		result.AddError("discord.inbound_interval", "inbound interval must be positive")
	}
}

func validateMetrics(c *MetricsConfig, result *ValidationResult) {
	if !c.Enabled {
		return
	}
	validatePort(c.Port, "metrics.port", result)
	if c.PidFile == "" {
		result.AddWarning("metrics.pidfile", "no pidfile configured, game process metrics are disabled")
	}
	if c.ScrapeTimeout <= 0 {
		result.AddError("metrics.scrape_timeout", "scrape timeout must be positive")
	}
}

func validateMQTT(c *MQTTConfig, result *ValidationResult) {
	if !c.Enabled {
		return
	}
	if strings.TrimSpace(c.BrokerURL) == "" {
		result.AddError("mqtt.broker_url", "MQTT broker URL is required when enabled")
	}
	if c.Port < 1 || c.Port > 65535 {
		result.AddError("mqtt.port", "invalid MQTT port")
	}
	if c.UseTLS && (c.CertFile == "") != (c.KeyFile == "") {
		result.AddError("mqtt.cert_file", "client certificate and key must be set together")
	}
}

func validatePort(port int, field string, result *ValidationResult) {
	if port < 1 || port > 65535 {
		result.AddError(field, fmt.Sprintf("invalid port number: %d (must be 1-65535)", port))
		return
	}
	if port < 1024 {
		result.AddWarning(field,
			fmt.Sprintf("port %d is a privileged port, may require elevated permissions", port))
	}
}
