package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fadmin-project/fadmin/internal/cli"
	"github.com/fadmin-project/fadmin/internal/config"
	"github.com/fadmin-project/fadmin/internal/events"
	"github.com/fadmin-project/fadmin/internal/metrics"
	"github.com/fadmin-project/fadmin/internal/rcon"
)

// DefaultConfigFile is where init writes when --config is not given.
const DefaultConfigFile = "fadmin.yaml"

const defaultOneShotTimeout = 10 * time.Second

// NewExecCmd creates the exec subcommand.
func NewExecCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "exec <command...>",
		Short: "Run one RCON command and print the response",
		Example: `  fadmin exec /players online
  fadmin exec /time`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := oneShot(cmd, timeout, strings.Join(args, " "))
			if err != nil {
				return err
			}
			if body != "" {
				fmt.Fprintln(cmd.OutOrStdout(), strings.TrimRight(body, "\n"))
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", defaultOneShotTimeout, "connect and command timeout")
	return cmd
}

// NewStatsCmd creates the stats subcommand.
func NewStatsCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Fetch production statistics and print them as a table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			body, err := oneShot(cmd, timeout, metrics.StatsCommand)
			if err != nil {
				return err
			}
			snap, err := metrics.ParseSnapshot(body)
			if err != nil {
				return err
			}
			cli.RenderStats(cmd.OutOrStdout(), snap)
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", defaultOneShotTimeout, "connect and command timeout")
	return cmd
}

// oneShot logs in, runs a single command and disconnects. There is no
// retry: a failure is reported to the operator.
func oneShot(cmd *cobra.Command, timeout time.Duration, command string) (string, error) {
	cfg, err := loadConfig(cmd, configFile)
	if err != nil {
		return "", err
	}
	if err := checkConfig(config.ValidateRCON(cfg)); err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	client, err := rcon.Dial(ctx, nil, cfg.RCON.Address(), cfg.RCON.Password, rcon.ClientConfig{
		CommandTimeout: timeout,
	})
	if err != nil {
		return "", err
	}
	defer client.Close()

	return client.Exec(ctx, command)
}

// NewConsoleCmd creates the console subcommand.
func NewConsoleCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "console",
		Short: "Open an interactive RCON console",
		Long: `Open an interactive console over a reconnecting RCON session. Lines
starting with / run as server commands, other text is said in game chat.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, configFile)
			if err != nil {
				return err
			}
			if err := checkConfig(config.ValidateRCON(cfg)); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return runConsole(ctx, cmd, cfg, timeout)
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", defaultOneShotTimeout, "how long to wait for the first connection")
	return cmd
}

func runConsole(parent context.Context, cmd *cobra.Command, cfg *config.Config, timeout time.Duration) error {
	ctx, cancel := context.WithCancel(parent)

	connected := make(chan struct{})
	var once sync.Once
	observer := events.ObserverFunc(func(_ context.Context, ev events.Event) {
		switch ev.(type) {
		case events.Connected:
			once.Do(func() { close(connected) })
		case events.Disconnected:
			log.Warn().Msg("connection lost, reconnecting")
		}
	})

	session := rcon.NewSession(rcon.SessionConfig{
		Address:        cfg.RCON.Address(),
		Password:       cfg.RCON.Password,
		RetryDelay:     cfg.RCON.RetryDelay,
		CommandTimeout: cfg.RCON.CommandTimeout,
	}, observer)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = session.Run(ctx)
	}()
	defer wg.Wait()
	defer cancel()

	select {
	case <-connected:
		fmt.Fprintf(cmd.OutOrStdout(), "Connected to %s (Factorio %s)\n", cfg.RCON.Address(), session.Version())
	case <-time.After(timeout):
		log.Warn().Str("addr", cfg.RCON.Address()).Msg("not connected yet, commands will fail until the server is reachable")
	case <-ctx.Done():
		return nil
	}

	return cli.NewConsole(session, cmd.InOrStdin(), cmd.OutOrStdout()).Run(ctx)
}

// NewInitCmd creates the init subcommand.
func NewInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create a configuration file interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := configFile
			if path == "" {
				path = DefaultConfigFile
			}

			// An existing file is the starting point for the answers.
			existing := path
			if _, err := os.Stat(path); err != nil {
				existing = ""
			}

			cfg, err := loadConfig(cmd, existing)
			if err != nil {
				return err
			}
			return config.RunSetupWizard(cmd.InOrStdin(), cmd.OutOrStdout(), cfg, path)
		},
	}
}
