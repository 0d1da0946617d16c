// Package signal carries messages between cells: the per-step bus, the
// adjacency/blacklist topology, and the routing strategies that decide who
// sees what.
package signal

import (
	"strings"

	"github.com/roach88/morphogen/internal/attest"
)

// Well-known topics.
const (
	TopicActivator     = "activator"
	TopicInhibitor     = "inhibitor"
	TopicCooperative   = "cooperative"
	TopicReportAnomaly = "report_anomaly"

	// ConsensusPrefix starts every vote topic, e.g. "consensus:anomaly".
	ConsensusPrefix = "consensus:"

	// TopicAnomalyVote is the vote a ReportAnomaly action turns into.
	TopicAnomalyVote = ConsensusPrefix + "anomaly"
)

// Signal is a transient message living for one aggregation window.
//
// Source is empty for externally injected signals. For consensus-class
// topics Target names the subject of the vote; for everything else it
// names the only cell that should receive the signal.
type Signal struct {
	Topic       string              `json:"topic"`
	Value       float64             `json:"value"`
	Source      string              `json:"source,omitempty"`
	Target      string              `json:"target,omitempty"`
	Step        int64               `json:"step"`
	Attestation *attest.Attestation `json:"attestation,omitempty"`
}

// IsConsensusClass reports whether topic carries votes or anomaly reports,
// whose attestation status drives trust.
func IsConsensusClass(topic string) bool {
	return topic == TopicReportAnomaly || strings.HasPrefix(topic, ConsensusPrefix)
}

// IsVote reports whether topic is a consensus vote.
func IsVote(topic string) bool {
	return strings.HasPrefix(topic, ConsensusPrefix) && len(topic) > len(ConsensusPrefix)
}

// Payload returns the attested part of the signal.
func (s Signal) Payload() attest.Payload {
	return attest.Payload{Topic: s.Topic, Value: s.Value, Target: s.Target, Step: s.Step}
}

// External reports whether the signal was injected from outside the
// population.
func (s Signal) External() bool {
	return s.Source == ""
}
