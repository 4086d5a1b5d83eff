// Package metrics exposes game and bridge state to Prometheus.
package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/fadmin-project/fadmin/internal/errutil"
	"github.com/fadmin-project/fadmin/internal/rcon"
	"github.com/fadmin-project/fadmin/internal/util"
)

const (
	// StatsCommand returns a JSON Snapshot.
	StatsCommand = "/fadmin stats"

	DefaultScrapeTimeout = 10 * time.Second
)

// Commander is the part of rcon.Session the collector needs.
type Commander interface {
	State() rcon.State
	Version() string
	Send(ctx context.Context, command string) (string, error)
}

var (
	gameTickDesc = prometheus.NewDesc(
		"factorio_game_tick",
		"Current game tick",
		nil, nil,
	)
	playerCountDesc = prometheus.NewDesc(
		"factorio_player_count",
		"Number of connected players",
		nil, nil,
	)
	forceFlowDesc = prometheus.NewDesc(
		"factorio_force_flow_statistics",
		"Per-force production and consumption totals",
		[]string{"force", "statistic", "direction", "item"}, nil,
	)
	gameFlowDesc = prometheus.NewDesc(
		"factorio_game_flow_statistics",
		"Game-wide flow totals such as pollution",
		[]string{"statistic", "direction", "item"}, nil,
	)
	serverInfoDesc = prometheus.NewDesc(
		"factorio_server_info",
		"Game server version, always 1",
		[]string{"version", "major", "minor"}, nil,
	)
)

// StatsCollector pulls a fresh snapshot through the session on every
// scrape. It reports nothing while the session is down or the snapshot
// cannot be read, so no stale values are ever exported.
type StatsCollector struct {
	session Commander
	timeout time.Duration
	logger  zerolog.Logger
}

// NewStatsCollector creates a collector. timeout bounds how long a scrape
// waits for the stats command.
func NewStatsCollector(session Commander, timeout time.Duration) *StatsCollector {
	if timeout <= 0 {
		timeout = DefaultScrapeTimeout
	}
	return &StatsCollector{
		session: session,
		timeout: timeout,
		logger:  util.ComponentLogger("metrics"),
	}
}

// Describe implements prometheus.Collector.
func (c *StatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- gameTickDesc
	ch <- playerCountDesc
	ch <- forceFlowDesc
	ch <- gameFlowDesc
	ch <- serverInfoDesc
}

// Collect implements prometheus.Collector.
func (c *StatsCollector) Collect(ch chan<- prometheus.Metric) {
	if c.session.State() != rcon.StateConnected {
		c.logger.Debug().Msg("session not connected, skipping scrape")
		return
	}

	snap, err := c.fetch()
	if err != nil {
		errutil.LogWarn(c.logger, "stats scrape failed", err)
		return
	}

	ch <- prometheus.MustNewConstMetric(gameTickDesc, prometheus.GaugeValue, float64(snap.GameTick))
	ch <- prometheus.MustNewConstMetric(playerCountDesc, prometheus.GaugeValue, float64(snap.PlayerCount))

	for _, row := range snap.ForceFlows() {
		ch <- prometheus.MustNewConstMetric(forceFlowDesc, prometheus.CounterValue, row.Value,
			row.Force, row.Statistic, row.Direction, row.Item)
	}
	for _, row := range snap.GameFlows() {
		ch <- prometheus.MustNewConstMetric(gameFlowDesc, prometheus.CounterValue, row.Value,
			row.Statistic, row.Direction, row.Item)
	}

	if v, err := semver.NewVersion(c.session.Version()); err == nil {
		ch <- prometheus.MustNewConstMetric(serverInfoDesc, prometheus.GaugeValue, 1,
			v.String(), strconv.FormatUint(v.Major(), 10), strconv.FormatUint(v.Minor(), 10))
	}
}

func (c *StatsCollector) fetch() (*Snapshot, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	body, err := c.session.Send(ctx, StatsCommand)
	if err != nil {
		return nil, err
	}
	return ParseSnapshot(body)
}
