// Package telemetry records what happened during a run as an ordered,
// deterministic event stream.
//
// Events carry a logical sequence number and the simulation step, never a
// wall-clock time, so two runs with equal inputs produce byte-identical
// streams.
package telemetry

import "github.com/roach88/morphogen/internal/signal"

// Kind names an event type.
type Kind string

const (
	KindScenario           Kind = "scenario"
	KindStimulusInjected   Kind = "stimulus_injected"
	KindSpikeEmitted       Kind = "spike_emitted"
	KindCellReplicated     Kind = "cell_replicated"
	KindReplicationRefused Kind = "replication_refused"
	KindLineageShift       Kind = "lineage_shift"
	KindSignalEmitted      Kind = "signal_emitted"
	KindCellDied           Kind = "cell_died"
	KindLinkAdded          Kind = "link_added"
	KindLinkRemoved        Kind = "link_removed"
	KindPeerQuarantined    Kind = "peer_quarantined"
	KindAnomalyDetected    Kind = "anomaly_detected"
	KindVoteCast           Kind = "vote_cast"
	KindTrustUpdated       Kind = "trust_updated"
	KindStepSummary        Kind = "step_summary"
)

// Event is one telemetry record. Which optional fields are set depends on
// Kind:
//
//   - stimulus_injected: Cell=target, Peer=source, Topic, Value
//   - spike_emitted:     Topic, Value, Prior=threat that crossed the threshold
//   - cell_replicated:   Cell=parent, Peer=child, Lineage=child lineage
//   - replication_refused: Cell=parent, Reason, Value=cost
//   - lineage_shift:     Cell=child, Reason=parent lineage, Lineage=new lineage
//   - cell_died:         Cell, Reason, Lineage
//   - link_*:            Cell, Peer = the two endpoints
//   - peer_quarantined:  Cell=isolating cell, Peer=blocked peer, Reason=why
//   - anomaly_detected:  Cell=reporter, Peer=suspect, Value=confidence, Prior=magnitude
//   - trust_updated:     Cell=observer, Peer=source, Value=new score, Prior=old
//   - vote_cast:         Cell=voter, Peer=suspect, Topic, Value=weight
type Event struct {
	Seq      int64         `json:"seq"`
	Step     int64         `json:"step"`
	Kind     Kind          `json:"kind"`
	Cell     string        `json:"cell,omitempty"`
	Peer     string        `json:"peer,omitempty"`
	Topic    string        `json:"topic,omitempty"`
	Value    float64       `json:"value,omitempty"`
	Prior    float64       `json:"prior,omitempty"`
	Reason   string        `json:"reason,omitempty"`
	Lineage  string        `json:"lineage,omitempty"`
	Scenario *ScenarioInfo `json:"scenario,omitempty"`
	Summary  *StepSummary  `json:"summary,omitempty"`
}

// ScenarioInfo opens every stream.
type ScenarioInfo struct {
	Name          string `json:"name"`
	Seed          int64  `json:"seed"`
	Steps         int    `json:"steps"`
	InitialCells  int    `json:"initial_cells"`
	Topology      string `json:"topology"`
	PopulationCap int    `json:"population_cap"`
}

// PopulationStats summarizes live cells after a step.
type PopulationStats struct {
	AvgEnergy float64        `json:"avg_energy"`
	AvgStress float64        `json:"avg_stress"`
	Lineages  map[string]int `json:"lineages"`
}

// StepSummary closes every step.
type StepSummary struct {
	Threat     float64         `json:"threat"`
	CellCount  int             `json:"cell_count"`
	Population PopulationStats `json:"population"`
	Topology   signal.Stats    `json:"topology"`
}
