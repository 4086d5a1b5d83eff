package main

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fadmin-project/fadmin/internal/config"
	"github.com/fadmin-project/fadmin/internal/util"
)

// Global flags available to all subcommands.
var (
	configFile string
	envFile    string
)

// NewRootCmd creates the root command for the fadmin CLI. Without a
// subcommand it runs the bridge.
func NewRootCmd() *cobra.Command {
	run := NewRunCmd()

	cmd := &cobra.Command{
		Use:   "fadmin",
		Short: "fadmin - Factorio RCON to Discord bridge",
		Long: `fadmin keeps an RCON session to a Factorio server, relays game events
and chat to a Discord channel, and serves game statistics to Prometheus.`,
		SilenceUsage: true,
		RunE:         run.RunE,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (YAML)")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", config.DefaultEnvFile, "dotenv file loaded before the environment")
	config.BindFlags(cmd.PersistentFlags())

	cmd.AddCommand(run)
	cmd.AddCommand(NewExecCmd())
	cmd.AddCommand(NewStatsCmd())
	cmd.AddCommand(NewConsoleCmd())
	cmd.AddCommand(NewInitCmd())

	return cmd
}

// loadConfig reads the layered configuration for cmd, with file as the
// optional YAML layer, and reconfigures the global logger from it.
func loadConfig(cmd *cobra.Command, file string) (*config.Config, error) {
	cfg, err := config.Load(config.Options{
		File:    file,
		EnvFile: envFile,
		Flags:   cmd.Flags(),
	})
	if err != nil {
		return nil, err
	}

	if err := util.InitLogger(cfg.Logging); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}
	return cfg, nil
}

// checkConfig logs every validation finding and returns an error when
// the result is not usable.
func checkConfig(result *config.ValidationResult) error {
	for _, w := range result.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	for _, e := range result.Errors {
		log.Error().Str("field", e.Field).Msg(e.Message)
	}
	return result.Err()
}
