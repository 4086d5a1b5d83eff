package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/fadmin-project/fadmin/internal/events"
	"github.com/fadmin-project/fadmin/internal/rcon"
	"github.com/fadmin-project/fadmin/internal/util"
)

// Options configures NewRegistry.
type Options struct {
	// PidFile locates the game server process. Empty disables game
	// process metrics.
	PidFile string
	// ScrapeTimeout bounds the stats command per scrape.
	ScrapeTimeout time.Duration
}

// Metrics bundles the private registry and the instruments the rest of
// the bridge records into.
type Metrics struct {
	Registry *prometheus.Registry
	Events   *EventCounter
}

// NewRegistry builds a registry with the game collectors, the bridge's
// own metrics and the Go runtime collectors.
func NewRegistry(session Commander, opts Options) *Metrics {
	registry := prometheus.NewRegistry()

	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	registry.MustRegister(NewStatsCollector(session, opts.ScrapeTimeout))

	if opts.PidFile != "" {
		pidfile := opts.PidFile
		registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{
			Namespace: "factorio",
			PidFn: func() (int, error) {
				return util.ReadPidFile(pidfile)
			},
		}))
	}

	registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "fadmin_rcon_connected",
			Help: "Whether the RCON session is connected (1) or not (0)",
		},
		func() float64 {
			if session.State() == rcon.StateConnected {
				return 1
			}
			return 0
		},
	))

	counter := NewEventCounter()
	registry.MustRegister(counter.total)

	return &Metrics{
		Registry: registry,
		Events:   counter,
	}
}

// EventCounter counts polled events by kind. It is an events.Observer.
type EventCounter struct {
	total *prometheus.CounterVec
}

// NewEventCounter creates an unregistered EventCounter.
func NewEventCounter() *EventCounter {
	return &EventCounter{
		total: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fadmin_events_total",
				Help: "Total number of game events by type",
			},
			[]string{"type"},
		),
	}
}

// OnEvent implements events.Observer.
func (c *EventCounter) OnEvent(_ context.Context, ev events.Event) {
	c.total.WithLabelValues(string(ev.Kind())).Inc()
}
