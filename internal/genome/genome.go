package genome

import (
	"fmt"
	"math"
	"math/rand"
)

// Genome is the parameter vector that governs a cell's thresholds and
// sensitivities. A genome never changes during a cell's lifetime; only
// replication produces a new (mutated) genome for the child.
type Genome struct {
	StressSensitivity     float64 `json:"stress_sensitivity" yaml:"stress_sensitivity"`
	ThreatInhibitorFactor float64 `json:"threat_inhibitor_factor" yaml:"threat_inhibitor_factor"`
	ReproductionThreshold float64 `json:"reproduction_threshold" yaml:"reproduction_threshold"`
	EnergyRecharge        float64 `json:"energy_recharge" yaml:"energy_recharge"`
	ConnectionCost        float64 `json:"connection_cost" yaml:"connection_cost"`
	IsolationThreshold    float64 `json:"isolation_threshold" yaml:"isolation_threshold"`
	MinTrustThreshold     float64 `json:"min_trust_threshold" yaml:"min_trust_threshold"`
	AnomalySensitivity    float64 `json:"anomaly_sensitivity" yaml:"anomaly_sensitivity"`
}

// DefaultMutationRate is the fraction of each field's range a single
// replication may move it by.
const DefaultMutationRate = 0.05

// Bound is the closed interval a genome field must stay within.
type Bound struct {
	Min float64
	Max float64
}

// field pairs a genome field name with its accessor so validation and
// mutation walk the fields in one fixed order.
type field struct {
	name  string
	bound Bound
	ptr   func(*Genome) *float64
}

var fields = []field{
	{"stress_sensitivity", Bound{0.05, 2.0}, func(g *Genome) *float64 { return &g.StressSensitivity }},
	{"threat_inhibitor_factor", Bound{0.0, 2.0}, func(g *Genome) *float64 { return &g.ThreatInhibitorFactor }},
	{"reproduction_threshold", Bound{0.1, 5.0}, func(g *Genome) *float64 { return &g.ReproductionThreshold }},
	{"energy_recharge", Bound{0.0, 0.5}, func(g *Genome) *float64 { return &g.EnergyRecharge }},
	{"connection_cost", Bound{0.0, 0.2}, func(g *Genome) *float64 { return &g.ConnectionCost }},
	{"isolation_threshold", Bound{0.1, 5.0}, func(g *Genome) *float64 { return &g.IsolationThreshold }},
	{"min_trust_threshold", Bound{0.0, 1.0}, func(g *Genome) *float64 { return &g.MinTrustThreshold }},
	{"anomaly_sensitivity", Bound{0.05, 2.0}, func(g *Genome) *float64 { return &g.AnomalySensitivity }},
}

// Default returns the seed genome used when a scenario does not override it.
func Default() Genome {
	return Genome{
		StressSensitivity:     0.5,
		ThreatInhibitorFactor: 0.5,
		ReproductionThreshold: 0.75,
		EnergyRecharge:        0.05,
		ConnectionCost:        0.01,
		IsolationThreshold:    0.9,
		MinTrustThreshold:     0.3,
		AnomalySensitivity:    0.6,
	}
}

// Bounds returns the bound for every field keyed by its YAML/JSON name.
func Bounds() map[string]Bound {
	out := make(map[string]Bound, len(fields))
	for _, f := range fields {
		out[f.name] = f.bound
	}
	return out
}

// BoundsError reports a genome field outside its allowed interval.
type BoundsError struct {
	Field string
	Value float64
	Bound Bound
}

func (e *BoundsError) Error() string {
	return fmt.Sprintf("genome field %s=%g outside [%g, %g]", e.Field, e.Value, e.Bound.Min, e.Bound.Max)
}

// Validate checks every field against its bounds and reports the first
// violation in declaration order.
func (g Genome) Validate() error {
	for _, f := range fields {
		v := *f.ptr(&g)
		if v < f.bound.Min || v > f.bound.Max || math.IsNaN(v) {
			return &BoundsError{Field: f.name, Value: v, Bound: f.bound}
		}
	}
	return nil
}

// Mutate returns a copy of g with every field perturbed by at most
// rate*(max-min) and clamped back into bounds.
//
// CRITICAL: rng is the run's seeded source and must only be used from the
// orchestrator's sequential apply phase, otherwise runs stop being
// reproducible.
func (g Genome) Mutate(rng *rand.Rand, rate float64) Genome {
	child := g
	for _, f := range fields {
		p := f.ptr(&child)
		span := f.bound.Max - f.bound.Min
		*p = clamp(*p+(rng.Float64()*2-1)*rate*span, f.bound)
	}
	return child
}

func clamp(v float64, b Bound) float64 {
	if v < b.Min {
		return b.Min
	}
	if v > b.Max {
		return b.Max
	}
	return v
}
