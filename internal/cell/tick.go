package cell

import (
	"math"
	"sort"

	"github.com/roach88/morphogen/internal/genome"
	"github.com/roach88/morphogen/internal/signal"
)

// Environment is the read-only snapshot a cell decides on.
type Environment struct {
	Step int64

	// Totals sums delivered signal values by topic.
	Totals map[string]float64

	// EffectiveThreat is background + spikes + activators − inhibitors,
	// clamped at zero.
	EffectiveThreat float64

	// Neighbors are the peers the cell currently detects, ascending.
	Neighbors []string

	// Links is the number of physical links the cell pays upkeep for. It is
	// zero in global routing, where reachability is logical.
	Links int

	// ActivatorBySource sums activator values per sending cell.
	ActivatorBySource map[string]float64

	// Quarantined are the peers this cell has blacklisted, ascending.
	Quarantined []string
}

// Limits are the physiology constants shared by every cell of a run.
type Limits struct {
	ReplicationCeiling float64 `json:"replication_ceiling" yaml:"replication_ceiling"`
	LethalStress       float64 `json:"lethal_stress" yaml:"lethal_stress"`
	StressDecay        float64 `json:"stress_decay" yaml:"stress_decay"`
	ReportCooldown     int64   `json:"report_cooldown" yaml:"report_cooldown"`
	TrustDrift         float64 `json:"trust_drift" yaml:"trust_drift"`
	DefaultTrust       float64 `json:"default_trust" yaml:"default_trust"`
	ReconnectMargin    float64 `json:"reconnect_margin" yaml:"reconnect_margin"`
	MemoryCapacity     int     `json:"memory_capacity" yaml:"memory_capacity"`
	CooperativeShare   float64 `json:"cooperative_share" yaml:"cooperative_share"`
}

// DefaultLimits returns the standard physiology.
func DefaultLimits() Limits {
	return Limits{
		ReplicationCeiling: 1.5,
		LethalStress:       5.0,
		StressDecay:        0.1,
		ReportCooldown:     3,
		TrustDrift:         0.02,
		DefaultTrust:       0.5,
		ReconnectMargin:    0.1,
		MemoryCapacity:     32,
		CooperativeShare:   0.5,
	}
}

// Homeostatic signal strengths.
const (
	cooperativePulse = 0.1
	inhibitorDamping = 0.5
	memoryConfidence = 0.1
)

// Tick is the cell decision engine. It is a pure function: s is never
// modified and the result depends only on its arguments, so every live
// cell may be ticked concurrently before any action is applied.
//
// Actions are returned in fixed priority order:
// Replicate, panic Disconnect, ReportAnomaly, trust Disconnect, Die, and
// finally a homeostatic Emit or Connect only when nothing else fired.
// Disconnects for several neighbors are ordered by ascending neighbor id.
func Tick(s State, env Environment, lim Limits) (State, []Action) {
	next := s.Clone()
	g := s.Genome

	threat := env.EffectiveThreat
	inhibitor := env.Totals[signal.TopicInhibitor]
	cooperative := env.Totals[signal.TopicCooperative]

	stress := math.Max(0, s.Stress+threat*g.StressSensitivity-inhibitor*g.ThreatInhibitorFactor)

	next.Energy = math.Max(0, s.Energy+g.EnergyRecharge+cooperative*lim.CooperativeShare-g.ConnectionCost*float64(env.Links))
	next.Stress = stress * (1 - lim.StressDecay)
	for peer, score := range next.Trust {
		next.Trust[peer] = score + (lim.DefaultTrust-score)*lim.TrustDrift
	}

	aroused := threat > g.AnomalySensitivity
	confidence := 0.0
	if aroused {
		confidence = math.Min(1, (threat-g.AnomalySensitivity)/g.AnomalySensitivity+memoryConfidence*float64(len(s.Memory)))
		next.Remember(ThreatEvent{
			Step:       env.Step,
			Topic:      signal.TopicActivator,
			Magnitude:  threat,
			Confidence: confidence,
		}, lim.MemoryCapacity)
	}

	var actions []Action

	// A resting cell (no stress at all) does not proliferate.
	if next.Energy >= g.ReproductionThreshold && stress > 0 && stress < lim.ReplicationCeiling {
		cost := g.ReproductionThreshold / 2
		next.Energy -= cost
		actions = append(actions, Replicate{Cost: cost})
	}

	cut := make(map[string]struct{})
	if stress > g.IsolationThreshold {
		for _, n := range env.Neighbors {
			if env.ActivatorBySource[n] > 0 {
				cut[n] = struct{}{}
				actions = append(actions, Disconnect{Peer: n, Reason: ReasonPanic})
			}
		}
	}

	if s.Lineage == genome.LineageIntrusionDetection && aroused && cooledDown(s.LastReport, env.Step, lim.ReportCooldown) {
		next.LastReport = env.Step
		actions = append(actions, ReportAnomaly{
			Suspect:    topSource(env.ActivatorBySource),
			Magnitude:  threat,
			Confidence: confidence,
		})
	}

	for _, n := range env.Neighbors {
		if _, done := cut[n]; done {
			continue
		}
		if next.TrustIn(n, lim.DefaultTrust) < g.MinTrustThreshold {
			actions = append(actions, Disconnect{Peer: n, Reason: ReasonTrust})
		}
	}

	switch {
	case next.Energy <= 0:
		actions = append(actions, Die{Reason: DeathStarvation})
	case next.Stress > lim.LethalStress:
		actions = append(actions, Die{Reason: DeathStress})
	}

	if len(actions) == 0 {
		if a := homeostasis(next, env, lim, stress); a != nil {
			actions = append(actions, a)
		}
	}

	return next, actions
}

// homeostasis picks the regulating action of a cell with nothing urgent
// to do. Healers mend quarantines and feed neighbors; others damp stress.
func homeostasis(s State, env Environment, lim Limits, stress float64) Action {
	g := s.Genome
	if s.Lineage == genome.LineageHealer {
		for _, q := range env.Quarantined {
			if s.TrustIn(q, lim.DefaultTrust) >= g.MinTrustThreshold+lim.ReconnectMargin {
				return Connect{Peer: q}
			}
		}
		return Emit{Topic: signal.TopicCooperative, Value: cooperativePulse}
	}
	if v := stress * g.ThreatInhibitorFactor * inhibitorDamping; v > 0 {
		return Emit{Topic: signal.TopicInhibitor, Value: v}
	}
	return nil
}

func cooledDown(last, step, cooldown int64) bool {
	return last < 0 || step-last > cooldown
}

// topSource returns the source with the largest contribution, lowest id on
// ties, or "" if there is none.
func topSource(bySource map[string]float64) string {
	ids := make([]string, 0, len(bySource))
	for id := range bySource {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	best, bestVal := "", 0.0
	for _, id := range ids {
		if v := bySource[id]; v > bestVal {
			best, bestVal = id, v
		}
	}
	return best
}
