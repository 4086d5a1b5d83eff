package metrics

import (
	"encoding/json"
	"sort"

	"github.com/samber/oops"

	"github.com/fadmin-project/fadmin/internal/errutil"
)

// Flow direction keys used by the game's flow statistics.
const (
	DirectionInput  = "input"
	DirectionOutput = "output"
)

// FlowStatistics maps statistic -> direction -> item -> count.
type FlowStatistics map[string]map[string]map[string]float64

// Snapshot is the body of the stats command.
type Snapshot struct {
	GameTick            int64                     `json:"game_tick"`
	PlayerCount         int                       `json:"player_count"`
	ForceFlowStatistics map[string]FlowStatistics `json:"force_flow_statistics"`
	GameFlowStatistics  FlowStatistics            `json:"game_flow_statistics"`
}

// symmetricStatistics always report both directions for every item.
var symmetricStatistics = map[string]bool{
	"item_production_statistics":  true,
	"fluid_production_statistics": true,
}

// ParseSnapshot decodes a stats response and fills in missing flow
// directions for production statistics with zero.
func ParseSnapshot(body string) (*Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal([]byte(body), &snap); err != nil {
		return nil, oops.In("metrics").
			Code(errutil.CodeCommand).
			With("body_len", len(body)).
			Wrapf(err, "stats response is not valid JSON")
	}

	for _, stats := range snap.ForceFlowStatistics {
		for name, directions := range stats {
			if !symmetricStatistics[name] {
				continue
			}
			if directions == nil {
				directions = map[string]map[string]float64{}
				stats[name] = directions
			}
			balance(directions)
		}
	}
	return &snap, nil
}

// balance adds a zero entry for each item present in only one of the
// input and output directions.
func balance(directions map[string]map[string]float64) {
	in := directions[DirectionInput]
	out := directions[DirectionOutput]
	if in == nil {
		in = map[string]float64{}
		directions[DirectionInput] = in
	}
	if out == nil {
		out = map[string]float64{}
		directions[DirectionOutput] = out
	}

	for item := range in {
		if _, ok := out[item]; !ok {
			out[item] = 0
		}
	}
	for item := range out {
		if _, ok := in[item]; !ok {
			in[item] = 0
		}
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// FlowRow is one flattened flow statistic. Force is empty for game-wide
// statistics.
type FlowRow struct {
	Force     string
	Statistic string
	Direction string
	Item      string
	Value     float64
}

// ForceFlows returns the per-force statistics in a stable order.
func (s *Snapshot) ForceFlows() []FlowRow {
	var rows []FlowRow
	for _, force := range sortedKeys(s.ForceFlowStatistics) {
		rows = append(rows, flatten(force, s.ForceFlowStatistics[force])...)
	}
	return rows
}

// GameFlows returns the game-wide statistics in a stable order.
func (s *Snapshot) GameFlows() []FlowRow {
	return flatten("", s.GameFlowStatistics)
}

func flatten(force string, stats FlowStatistics) []FlowRow {
	var rows []FlowRow
	for _, statistic := range sortedKeys(stats) {
		directions := stats[statistic]
		for _, direction := range sortedKeys(directions) {
			items := directions[direction]
			for _, item := range sortedKeys(items) {
				rows = append(rows, FlowRow{
					Force:     force,
					Statistic: statistic,
					Direction: direction,
					Item:      item,
					Value:     items[item],
				})
			}
		}
	}
	return rows
}
