package main

import (
	"context"
	"fmt"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fadmin-project/fadmin/internal/api"
	"github.com/fadmin-project/fadmin/internal/bridge"
	"github.com/fadmin-project/fadmin/internal/config"
	"github.com/fadmin-project/fadmin/internal/connector"
	"github.com/fadmin-project/fadmin/internal/errutil"
	"github.com/fadmin-project/fadmin/internal/events"
	"github.com/fadmin-project/fadmin/internal/metrics"
	"github.com/fadmin-project/fadmin/internal/poller"
	"github.com/fadmin-project/fadmin/internal/rcon"
	"github.com/fadmin-project/fadmin/internal/telemetry"
	"github.com/fadmin-project/fadmin/internal/util"
)

const shutdownTimeout = 30 * time.Second

// NewRunCmd creates the run subcommand.
func NewRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the bridge (default)",
		Long: `Connect to the game server over RCON, poll it for events, relay them
to Discord and serve metrics until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), banner, version)
			fmt.Fprintln(cmd.OutOrStdout())

			cfg, err := loadConfig(cmd, configFile)
			if err != nil {
				return err
			}
			if err := checkConfig(config.Validate(cfg)); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return runBridge(ctx, cfg)
		},
	}
}

// runBridge starts every component and blocks until ctx is cancelled or
// a critical component fails.
func runBridge(parent context.Context, cfg *config.Config) error {
	log.Info().
		Str("version", version).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Str("rcon", cfg.RCON.Address()).
		Msg("starting fadmin")

	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Str("cpu", sysInfo.CPUModel).
		Int("cores", sysInfo.CPUCores).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Msg("system information")

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	dispatcher := events.NewDispatcher()

	session := rcon.NewSession(rcon.SessionConfig{
		Address:        cfg.RCON.Address(),
		Password:       cfg.RCON.Password,
		RetryDelay:     cfg.RCON.RetryDelay,
		CommandTimeout: cfg.RCON.CommandTimeout,
	}, dispatcher)

	// Without Discord the relayed lines still show up in the log.
	var sink bridge.Sink = bridge.SinkFunc(func(_ context.Context, text string) error {
		log.Info().Str("component", "bridge").Str("text", text).Msg("chat")
		return nil
	})
	var discord *connector.DiscordConnector
	if cfg.Discord.Enabled() {
		discord = connector.NewDiscordConnector(cfg.Discord)
		sink = discord
	}

	relay := bridge.New(session, sink, bridge.Options{StatusFrequency: cfg.Bridge.StatusFrequency})
	dispatcher.Subscribe("bridge", relay)

	var apiServer *api.Server
	if cfg.Metrics.Enabled {
		m := metrics.NewRegistry(session, metrics.Options{
			PidFile:       cfg.Metrics.PidFile,
			ScrapeTimeout: cfg.Metrics.ScrapeTimeout,
		})
		dispatcher.Subscribe("metrics", m.Events)
		apiServer = api.NewServer(cfg.Metrics, session, m.Registry)
	}

	var mqttHandler *telemetry.MQTTHandler
	if cfg.MQTT.Enabled {
		h, err := telemetry.NewMQTTHandler(cfg.MQTT)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, event mirror disabled")
		} else {
			mqttHandler = h
			dispatcher.Subscribe("mqtt", h)
		}
	}

	dispatcher.Start(ctx)
	poll := poller.New(session, dispatcher, cfg.RCON.PollInterval)

	var wg sync.WaitGroup
	errCh := make(chan error, 4)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := session.Run(ctx); err != nil {
			errCh <- fmt.Errorf("rcon session: %w", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Dur("interval", cfg.RCON.PollInterval).Msg("starting event poller")
		poll.Run(ctx)
	}()

	if apiServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Str("addr", cfg.Metrics.Address()).Msg("starting metrics server")
			if err := apiServer.Start(ctx); err != nil {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	if discord != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Str("channel", cfg.Discord.ChannelID).Msg("starting Discord listener")
			err := discord.Listen(ctx, func(ctx context.Context, msg connector.InboundMessage) {
				relay.Relay(ctx, msg.Author, msg.Content)
			})
			switch {
			case err == nil || ctx.Err() != nil:
			case errutil.HasCode(err, errutil.CodeConfig):
				errCh <- fmt.Errorf("discord listener: %w", err)
			default:
				errutil.LogError(log.Logger, "Discord listener stopped, inbound chat disabled", err)
			}
		}()
	}

	if mqttHandler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Str("broker", cfg.MQTT.BrokerURL).Msg("starting MQTT mirror")
			if err := mqttHandler.Start(ctx, relay.Relay); err != nil {
				log.Warn().Err(err).Msg("MQTT mirror failed")
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("received shutdown signal")
	case runErr = <-errCh:
		log.Error().Err(runErr).Msg("critical error, initiating shutdown")
	}

	log.Info().Msg("initiating graceful shutdown...")
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(shutdownTimeout):
		log.Warn().Dur("timeout", shutdownTimeout).Msg("shutdown timed out, forcing exit")
	}

	dispatcher.Stop()

	log.Info().Msg("fadmin stopped")
	return runErr
}
