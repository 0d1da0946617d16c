package cell

import (
	"github.com/roach88/morphogen/internal/genome"
)

// ThreatEvent is one entry of a cell's immune memory.
type ThreatEvent struct {
	Step       int64   `json:"step"`
	Topic      string  `json:"topic"`
	Magnitude  float64 `json:"magnitude"`
	Confidence float64 `json:"confidence"`
}

// State is a single cell's mutable record.
//
// Internal fields (energy, stress, memory, trust drift, report cooldown) are
// changed only by Tick. Population and topology effects, and trust updates
// from received votes, are applied by the orchestrator.
type State struct {
	ID      string         `json:"id"`
	Genome  genome.Genome  `json:"genome"`
	Lineage genome.Lineage `json:"lineage"`
	Energy  float64        `json:"energy"`
	Stress  float64        `json:"stress"`

	// Memory is ordered oldest first and bounded by Limits.MemoryCapacity.
	Memory []ThreatEvent `json:"memory,omitempty"`

	// Trust maps neighbor id to a score in [0, 1].
	Trust map[string]float64 `json:"trust,omitempty"`

	// LastReport is the step of the last anomaly report, -1 if none.
	LastReport int64 `json:"last_report"`

	Dead bool `json:"dead,omitempty"`
}

// InitialEnergy is the energy a seed cell starts with.
const InitialEnergy = 1.0

// NewState creates a seed cell.
func NewState(id string, g genome.Genome, lineage genome.Lineage) State {
	return State{
		ID:         id,
		Genome:     g,
		Lineage:    lineage,
		Energy:     InitialEnergy,
		Trust:      make(map[string]float64),
		LastReport: -1,
	}
}

// Clone returns a deep copy so a tick can never alias its input.
func (s State) Clone() State {
	out := s
	if s.Memory != nil {
		out.Memory = make([]ThreatEvent, len(s.Memory))
		copy(out.Memory, s.Memory)
	}
	out.Trust = make(map[string]float64, len(s.Trust))
	for k, v := range s.Trust {
		out.Trust[k] = v
	}
	return out
}

// TrustIn returns the score s holds for peer, or def for a stranger.
func (s State) TrustIn(peer string, def float64) float64 {
	if v, ok := s.Trust[peer]; ok {
		return v
	}
	return def
}

// Remember appends ev, dropping the oldest entries past capacity.
func (s *State) Remember(ev ThreatEvent, capacity int) {
	s.Memory = append(s.Memory, ev)
	if capacity > 0 && len(s.Memory) > capacity {
		s.Memory = append([]ThreatEvent(nil), s.Memory[len(s.Memory)-capacity:]...)
	}
}
