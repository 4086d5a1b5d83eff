package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// wizard reads answers line by line. Once input is exhausted every prompt
// takes its default.
type wizard struct {
	in  *bufio.Reader
	out io.Writer
	eof bool
}

// RunSetupWizard guides the user through first-time configuration, starting
// from cfg, and saves the result to path.
func RunSetupWizard(in io.Reader, out io.Writer, cfg *Config, path string) error {
	w := &wizard{in: bufio.NewReader(in), out: out}

	fmt.Fprintln(out, "╔══════════════════════════════════════════════╗")
	fmt.Fprintln(out, "║            fadmin - First Run Setup          ║")
	fmt.Fprintln(out, "╠══════════════════════════════════════════════╣")
	fmt.Fprintln(out, "║  Let's connect your Factorio server.         ║")
	fmt.Fprintln(out, "╚══════════════════════════════════════════════╝")

	for {
		w.ask(cfg)

		result := Validate(cfg)
		if result.IsValid() {
			for _, warn := range result.Warnings {
				log.Warn().Str("field", warn.Field).Msg(warn.Message)
			}
			break
		}

		fmt.Fprintln(out, "\n⚠ Configuration has errors:")
		for _, e := range result.Errors {
			fmt.Fprintf(out, "  - [%s] %s\n", e.Field, e.Message)
		}
		if w.eof || !w.promptBool("Would you like to try again?", true) {
			return errors.New("configuration validation failed")
		}
	}

	if err := cfg.Save(path); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "✓ Configuration saved to %s\n", path)
	fmt.Fprintln(out, "  Start the bridge with: fadmin run --config", path)

	return nil
}

func (w *wizard) ask(cfg *Config) {
	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, "── RCON ──")

	cfg.RCON.Host = w.promptString("Game server host", cfg.RCON.Host)
	cfg.RCON.Port = w.promptInt("RCON port", cfg.RCON.Port)
	if pw := w.promptPassword("RCON password"); pw != "" {
		cfg.RCON.Password = pw
	}

	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, "── Discord ──")

	cfg.Discord.Token = w.promptString("Bot token (blank disables chat relay)", cfg.Discord.Token)
	if cfg.Discord.Enabled() {
		cfg.Discord.ChannelID = w.promptString("Channel ID", cfg.Discord.ChannelID)
		cfg.Bridge.StatusFrequency = w.promptInt("Post player list every N chat lines (0 disables)",
			cfg.Bridge.StatusFrequency)
	}

	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, "── Metrics ──")

	cfg.Metrics.Enabled = w.promptBool("Serve Prometheus metrics", cfg.Metrics.Enabled)
	if cfg.Metrics.Enabled {
		cfg.Metrics.Port = w.promptInt("Metrics port", cfg.Metrics.Port)
		cfg.Metrics.PidFile = w.promptString("Factorio pidfile", cfg.Metrics.PidFile)
	}

	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, "── MQTT Mirror ──")

	cfg.MQTT.Enabled = w.promptBool("Mirror events to MQTT", cfg.MQTT.Enabled)
	if cfg.MQTT.Enabled {
		cfg.MQTT.BrokerURL = w.promptString("Broker host", cfg.MQTT.BrokerURL)
		cfg.MQTT.Port = w.promptInt("Broker port", cfg.MQTT.Port)
	}
}

func (w *wizard) readLine() string {
	if w.eof {
		return ""
	}
	input, err := w.in.ReadString('\n')
	if err != nil {
		w.eof = true
	}
	return strings.TrimSpace(input)
}

func (w *wizard) promptString(prompt string, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(w.out, "  %s [%s]: ", prompt, defaultVal)
	} else {
		fmt.Fprintf(w.out, "  %s: ", prompt)
	}

	if input := w.readLine(); input != "" {
		return input
	}
	return defaultVal
}

func (w *wizard) promptPassword(prompt string) string {
	fmt.Fprintf(w.out, "  %s: ", prompt)
	return w.readLine()
}

func (w *wizard) promptInt(prompt string, defaultVal int) int {
	fmt.Fprintf(w.out, "  %s [%d]: ", prompt, defaultVal)

	input := w.readLine()
	if input == "" {
		return defaultVal
	}

	val, err := strconv.Atoi(input)
	if err != nil {
		fmt.Fprintf(w.out, "    Invalid number, using default: %d\n", defaultVal)
		return defaultVal
	}
	return val
}

func (w *wizard) promptBool(prompt string, defaultVal bool) bool {
	defaultStr := "no"
	if defaultVal {
		defaultStr = "yes"
	}

	fmt.Fprintf(w.out, "  %s [%s]: ", prompt, defaultStr)

	input := strings.ToLower(w.readLine())
	if input == "" {
		return defaultVal
	}

	return input == "yes" || input == "y" || input == "true" || input == "1"
}
