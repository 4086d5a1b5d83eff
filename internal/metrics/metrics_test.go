package metrics

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fadmin-project/fadmin/internal/errutil"
	"github.com/fadmin-project/fadmin/internal/events"
	"github.com/fadmin-project/fadmin/internal/rcon"
)

type fakeSession struct {
	state   rcon.State
	version string
	body    string
	err     error
	delay   time.Duration
	sends   atomic.Int32
}

func (f *fakeSession) State() rcon.State { return f.state }
func (f *fakeSession) Version() string   { return f.version }

func (f *fakeSession) Send(ctx context.Context, command string) (string, error) {
	f.sends.Add(1)
	if command != StatsCommand {
		return "", errors.New("unexpected command " + command)
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.body, f.err
}

const ironOnlyInput = `{
  "game_tick": 123456,
  "player_count": 2,
  "force_flow_statistics": {
    "player": {
      "item_production_statistics": {
        "input": {"iron-plate": 40}
      },
      "kill_count_statistics": {
        "input": {"small-biter": 3}
      }
    }
  },
  "game_flow_statistics": {
    "pollution_statistics": {
      "input": {"boiler": 12.5},
      "output": {"tree": 1.5}
    }
  }
}`

func TestParseSnapshot_SynthesizesMissingDirection(t *testing.T) {
	snap, err := ParseSnapshot(ironOnlyInput)
	require.NoError(t, err)

	production := snap.ForceFlowStatistics["player"]["item_production_statistics"]
	assert.Equal(t, 40.0, production[DirectionInput]["iron-plate"])
	v, ok := production[DirectionOutput]["iron-plate"]
	assert.True(t, ok)
	assert.Zero(t, v)

	// Only production statistics are balanced.
	_, ok = snap.ForceFlowStatistics["player"]["kill_count_statistics"][DirectionOutput]
	assert.False(t, ok)
}

func TestParseSnapshot_FluidBothWays(t *testing.T) {
	snap, err := ParseSnapshot(`{"force_flow_statistics":{"player":{"fluid_production_statistics":{
		"input":{"water":10},"output":{"steam":5}}}}}`)
	require.NoError(t, err)

	fluids := snap.ForceFlowStatistics["player"]["fluid_production_statistics"]
	assert.Equal(t, map[string]float64{"water": 10, "steam": 0}, fluids[DirectionInput])
	assert.Equal(t, map[string]float64{"water": 0, "steam": 5}, fluids[DirectionOutput])
}

const nullStatistics = `{"game_tick":60,"player_count":0,"force_flow_statistics":{
	"player":{"item_production_statistics":null,"fluid_production_statistics":{"input":null,"output":{"water":2}}},
	"enemy":null},"game_flow_statistics":null}`

func TestParseSnapshot_NullStatistics(t *testing.T) {
	snap, err := ParseSnapshot(nullStatistics)
	require.NoError(t, err)

	items := snap.ForceFlowStatistics["player"]["item_production_statistics"]
	assert.Empty(t, items[DirectionInput])
	assert.Empty(t, items[DirectionOutput])

	fluids := snap.ForceFlowStatistics["player"]["fluid_production_statistics"]
	assert.Equal(t, map[string]float64{"water": 0}, fluids[DirectionInput])

	assert.Equal(t, []FlowRow{
		{Force: "player", Statistic: "fluid_production_statistics", Direction: "input", Item: "water", Value: 0},
		{Force: "player", Statistic: "fluid_production_statistics", Direction: "output", Item: "water", Value: 2},
	}, snap.ForceFlows())
	assert.Empty(t, snap.GameFlows())
}

func TestStatsCollector_NullStatistics(t *testing.T) {
	session := &fakeSession{state: rcon.StateConnected, body: nullStatistics}

	reg := prometheus.NewPedanticRegistry()
	reg.MustRegister(NewStatsCollector(session, time.Second))

	_, err := reg.Gather()
	require.NoError(t, err)
	assert.Equal(t, 2, testutil.CollectAndCount(NewStatsCollector(session, time.Second),
		"factorio_force_flow_statistics"))
}

func TestParseSnapshot_Invalid(t *testing.T) {
	_, err := ParseSnapshot(`Unknown command "fadmin".`)
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, errutil.CodeCommand)
}

func TestSnapshot_RowsAreSorted(t *testing.T) {
	snap, err := ParseSnapshot(ironOnlyInput)
	require.NoError(t, err)

	assert.Equal(t, []FlowRow{
		{Force: "player", Statistic: "item_production_statistics", Direction: "input", Item: "iron-plate", Value: 40},
		{Force: "player", Statistic: "item_production_statistics", Direction: "output", Item: "iron-plate", Value: 0},
		{Force: "player", Statistic: "kill_count_statistics", Direction: "input", Item: "small-biter", Value: 3},
	}, snap.ForceFlows())
	assert.Len(t, snap.GameFlows(), 2)
}

func TestStatsCollector_DisconnectedYieldsNothing(t *testing.T) {
	session := &fakeSession{state: rcon.StateDisconnected, body: ironOnlyInput}

	reg := prometheus.NewPedanticRegistry()
	reg.MustRegister(NewStatsCollector(session, time.Second))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.Empty(t, families)
	assert.Zero(t, session.sends.Load())
}

func TestStatsCollector_Connected(t *testing.T) {
	session := &fakeSession{state: rcon.StateConnected, version: "1.1.100", body: ironOnlyInput}
	c := NewStatsCollector(session, time.Second)

	expected := `
# HELP factorio_force_flow_statistics Per-force production and consumption totals
# TYPE factorio_force_flow_statistics counter
factorio_force_flow_statistics{direction="input",force="player",item="iron-plate",statistic="item_production_statistics"} 40
factorio_force_flow_statistics{direction="input",force="player",item="small-biter",statistic="kill_count_statistics"} 3
factorio_force_flow_statistics{direction="output",force="player",item="iron-plate",statistic="item_production_statistics"} 0
# HELP factorio_game_tick Current game tick
# TYPE factorio_game_tick gauge
factorio_game_tick 123456
# HELP factorio_player_count Number of connected players
# TYPE factorio_player_count gauge
factorio_player_count 2
# HELP factorio_server_info Game server version, always 1
# TYPE factorio_server_info gauge
factorio_server_info{major="1",minor="1",version="1.1.100"} 1
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected),
		"factorio_force_flow_statistics", "factorio_game_tick", "factorio_player_count", "factorio_server_info"))

	assert.Equal(t, 2, testutil.CollectAndCount(c, "factorio_game_flow_statistics"))
}

func TestStatsCollector_FailuresYieldNothing(t *testing.T) {
	tests := []struct {
		name    string
		session *fakeSession
	}{
		{"command error", &fakeSession{state: rcon.StateConnected, err: errors.New("connection reset")}},
		{"bad json", &fakeSession{state: rcon.StateConnected, body: "not json"}},
		{"timeout", &fakeSession{state: rcon.StateConnected, body: ironOnlyInput, delay: time.Second}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewStatsCollector(tt.session, 20*time.Millisecond)
			assert.Zero(t, testutil.CollectAndCount(c))
		})
	}
}

func TestStatsCollector_UnparseableVersionIsOmitted(t *testing.T) {
	session := &fakeSession{state: rcon.StateConnected, version: "unknown", body: `{"game_tick":1}`}
	c := NewStatsCollector(session, time.Second)

	assert.Zero(t, testutil.CollectAndCount(c, "factorio_server_info"))
	assert.Equal(t, 1, testutil.CollectAndCount(c, "factorio_game_tick"))
}

func TestNewRegistry_SelfMetrics(t *testing.T) {
	session := &fakeSession{state: rcon.StateConnected, body: `{"game_tick":1}`}
	m := NewRegistry(session, Options{ScrapeTimeout: time.Second})

	m.Events.OnEvent(context.Background(), events.Chat{Name: "a", Message: "b"})
	m.Events.OnEvent(context.Background(), events.Chat{Name: "a", Message: "c"})
	m.Events.OnEvent(context.Background(), events.Joined{Name: "a"})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Events.total.WithLabelValues("chat")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Events.total.WithLabelValues("joined")))

	families, err := m.Registry.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["fadmin_rcon_connected"])
	assert.True(t, names["fadmin_events_total"])
	assert.True(t, names["factorio_game_tick"])
	assert.True(t, names["go_goroutines"])
}
