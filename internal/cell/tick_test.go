package cell

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/morphogen/internal/genome"
	"github.com/roach88/morphogen/internal/signal"
)

func seed() State {
	return NewState("cell-00000", genome.Default(), genome.LineageBase)
}

func kinds(actions []Action) []string {
	out := make([]string, len(actions))
	for i, a := range actions {
		out[i] = a.Kind()
	}
	return out
}

func TestTick_RestIsQuiet(t *testing.T) {
	s := seed()
	next, actions := Tick(s, Environment{Step: 0}, DefaultLimits())

	assert.Empty(t, actions)
	assert.InDelta(t, 1.05, next.Energy, 1e-9)
	assert.Zero(t, next.Stress)
}

func TestTick_Pure(t *testing.T) {
	s := seed()
	s.Trust["cell-00001"] = 0.9
	s.Memory = []ThreatEvent{{Step: 1, Topic: "activator", Magnitude: 1}}
	before := s.Clone()

	env := Environment{Step: 3, EffectiveThreat: 2, Neighbors: []string{"cell-00001"}}
	a1, acts1 := Tick(s, env, DefaultLimits())
	a2, acts2 := Tick(s, env, DefaultLimits())

	assert.Equal(t, before, s, "input state untouched")
	assert.Equal(t, a1, a2)
	assert.Equal(t, acts1, acts2)
}

func TestTick_ReplicatesUnderModerateStress(t *testing.T) {
	s := seed()
	next, actions := Tick(s, Environment{EffectiveThreat: 1.0}, DefaultLimits())

	require.Equal(t, []string{"replicate"}, kinds(actions))
	rep := actions[0].(Replicate)
	assert.InDelta(t, 0.375, rep.Cost, 1e-9)
	assert.InDelta(t, 1.05-0.375, next.Energy, 1e-9)
	assert.InDelta(t, 0.45, next.Stress, 1e-9)
}

func TestTick_NoReplicationAboveCeiling(t *testing.T) {
	s := seed()
	s.Stress = 2.0
	_, actions := Tick(s, Environment{EffectiveThreat: 0.1}, DefaultLimits())
	assert.NotContains(t, kinds(actions), "replicate")
}

func TestTick_PanicDisconnectsActivatorSources(t *testing.T) {
	s := seed()
	s.Stress = 1.0
	env := Environment{
		EffectiveThreat:   0.5,
		Neighbors:         []string{"cell-00001", "cell-00002", "cell-00003"},
		ActivatorBySource: map[string]float64{"cell-00002": 0.4, "cell-00001": 0.1},
	}

	_, actions := Tick(s, env, DefaultLimits())

	var panics []string
	for _, a := range actions {
		if d, ok := a.(Disconnect); ok && d.Reason == ReasonPanic {
			panics = append(panics, d.Peer)
		}
	}
	assert.Equal(t, []string{"cell-00001", "cell-00002"}, panics)
}

func TestTick_TrustDisconnectAscending(t *testing.T) {
	s := seed()
	s.Trust = map[string]float64{"cell-00009": 0.1, "cell-00002": 0.05, "cell-00005": 0.9}

	_, actions := Tick(s, Environment{Neighbors: []string{"cell-00002", "cell-00005", "cell-00009"}}, DefaultLimits())

	require.Len(t, actions, 2)
	assert.Equal(t, Disconnect{Peer: "cell-00002", Reason: ReasonTrust}, actions[0])
	assert.Equal(t, Disconnect{Peer: "cell-00009", Reason: ReasonTrust}, actions[1])
}

func TestTick_TrustDisconnectBeforeSignal(t *testing.T) {
	s := seed()
	s.Energy = 0.1
	s.Trust = map[string]float64{"cell-00001": 0.0}

	// Stress alone would produce an inhibitor signal; the trust cut wins.
	_, actions := Tick(s, Environment{EffectiveThreat: 0.2, Neighbors: []string{"cell-00001"}}, DefaultLimits())
	assert.NotContains(t, kinds(actions), "signal")
	assert.Contains(t, kinds(actions), "disconnect")
}

func TestTick_IntrusionDetectionReports(t *testing.T) {
	s := seed()
	s.Lineage = genome.LineageIntrusionDetection
	env := Environment{
		Step:              4,
		EffectiveThreat:   1.2,
		ActivatorBySource: map[string]float64{"cell-00007": 0.5, "cell-00003": 0.5},
	}

	next, actions := Tick(s, env, DefaultLimits())

	var report *ReportAnomaly
	for _, a := range actions {
		if r, ok := a.(ReportAnomaly); ok {
			report = &r
		}
	}
	require.NotNil(t, report)
	assert.Equal(t, "cell-00003", report.Suspect, "ties go to the lowest id")
	assert.InDelta(t, 1.0, report.Confidence, 1e-9)
	assert.Equal(t, int64(4), next.LastReport)
	require.Len(t, next.Memory, 1)

	// Inside the cooldown window the same threat is not reported again.
	env.Step = 6
	_, actions = Tick(next, env, DefaultLimits())
	assert.NotContains(t, kinds(actions), "report_anomaly")
}

func TestTick_BaseLineageNeverReports(t *testing.T) {
	_, actions := Tick(seed(), Environment{EffectiveThreat: 3}, DefaultLimits())
	assert.NotContains(t, kinds(actions), "report_anomaly")
}

func TestTick_LethalStress(t *testing.T) {
	s := seed()
	s.Stress = 5.5
	_, actions := Tick(s, Environment{EffectiveThreat: 0.5}, DefaultLimits())
	assert.Equal(t, []Action{Die{Reason: DeathStress}}, actions)
}

func TestTick_Starvation(t *testing.T) {
	s := seed()
	s.Energy = 0
	s.Genome.EnergyRecharge = 0
	s.Genome.ConnectionCost = 0.1
	_, actions := Tick(s, Environment{Links: 2, Neighbors: []string{"a", "b"}}, DefaultLimits())

	require.NotEmpty(t, actions)
	assert.Equal(t, Die{Reason: DeathStarvation}, actions[len(actions)-1])
}

func TestTick_PriorityOrder(t *testing.T) {
	s := seed()
	s.Lineage = genome.LineageIntrusionDetection
	s.Stress = 0.5
	s.Trust = map[string]float64{"cell-00002": 0.0}
	s.Genome.IsolationThreshold = 0.5
	env := Environment{
		Step:              10,
		EffectiveThreat:   0.8,
		Neighbors:         []string{"cell-00001", "cell-00002"},
		ActivatorBySource: map[string]float64{"cell-00001": 0.3},
	}

	_, actions := Tick(s, env, DefaultLimits())
	assert.Equal(t, []string{"replicate", "disconnect", "report_anomaly", "disconnect"}, kinds(actions))
	assert.Equal(t, ReasonPanic, actions[1].(Disconnect).Reason)
	assert.Equal(t, ReasonTrust, actions[3].(Disconnect).Reason)
}

func TestTick_HealerReconnects(t *testing.T) {
	s := seed()
	s.Lineage = genome.LineageHealer
	s.Trust = map[string]float64{"cell-00004": 0.2, "cell-00006": 0.5}

	_, actions := Tick(s, Environment{Quarantined: []string{"cell-00004", "cell-00006"}}, DefaultLimits())
	assert.Equal(t, []Action{Connect{Peer: "cell-00006"}}, actions)

	_, actions = Tick(s, Environment{}, DefaultLimits())
	assert.Equal(t, []Action{Emit{Topic: signal.TopicCooperative, Value: cooperativePulse}}, actions)
}

func TestTick_InhibitorFeedback(t *testing.T) {
	s := seed()
	s.Energy = 0.1

	_, actions := Tick(s, Environment{EffectiveThreat: 0.4}, DefaultLimits())
	require.Len(t, actions, 1)
	emit := actions[0].(Emit)
	assert.Equal(t, signal.TopicInhibitor, emit.Topic)
	assert.InDelta(t, 0.2*0.5*0.5, emit.Value, 1e-9)
}

func TestTick_TrustDriftsTowardDefault(t *testing.T) {
	s := seed()
	s.Trust = map[string]float64{"low": 0.0, "high": 1.0}
	next, _ := Tick(s, Environment{}, DefaultLimits())

	assert.InDelta(t, 0.01, next.Trust["low"], 1e-9)
	assert.InDelta(t, 0.99, next.Trust["high"], 1e-9)
}

func TestRemember_Capacity(t *testing.T) {
	s := seed()
	for i := 0; i < 5; i++ {
		s.Remember(ThreatEvent{Step: int64(i)}, 3)
	}
	require.Len(t, s.Memory, 3)
	assert.Equal(t, int64(2), s.Memory[0].Step)
}
