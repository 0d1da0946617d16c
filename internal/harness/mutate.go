package harness

import (
	"sort"

	"github.com/roach88/morphogen/internal/scenario"
	"github.com/roach88/morphogen/internal/signal"
)

// Mutation names a deterministic rewrite of a stimulus schedule.
type Mutation string

const (
	MutationNone               Mutation = ""
	MutationAmplifyActivator   Mutation = "amplify_activator"
	MutationCooperativeDecoys  Mutation = "cooperative_decoys"
	MutationExtendBreach       Mutation = "extend_breach"
	MutationTightenCadence     Mutation = "tighten_cadence"
	MutationPreemptReplication Mutation = "preempt_replication"
	MutationRebalance          Mutation = "rebalance"
)

var mutationDescriptions = map[Mutation]string{
	MutationAmplifyActivator:   "increase activator spike amplitude and damp inhibitor recovery",
	MutationCooperativeDecoys:  "inject cooperative decoys ahead of activator bursts to overwhelm defences",
	MutationExtendBreach:       "extend breach window with sustained activator pulses post-impact",
	MutationTightenCadence:     "tighten attack cadence: alternate activator and inhibitor surges faster",
	MutationPreemptReplication: "slow defensive replication by scheduling inhibitor spikes before activator peaks",
	MutationRebalance:          "rebalance stimuli by boosting activator intensity relative to inhibitor damping",
}

// Description returns the operator-facing guidance for m.
func (m Mutation) Description() string {
	return mutationDescriptions[m]
}

// Mutation parameters.
const (
	amplifyGain      = 1.25
	inhibitorDamp    = 0.75
	rebalanceGain    = 1.5
	decoyShare       = 0.5
	seedPulseValue   = 0.5
	cadenceInhibitor = 0.5
)

// MutateStimulus applies m to records for a run of steps steps and
// returns a new schedule ordered by step. records is not modified.
//
// Records are never moved outside [0, steps). A schedule without any
// activator gets a seed pulse in the middle of the run so that every
// mutation has something to work on.
func MutateStimulus(records []scenario.Record, m Mutation, steps int) []scenario.Record {
	out := append([]scenario.Record(nil), records...)
	if m == MutationNone {
		return out
	}
	last := int64(max(steps, 1) - 1)

	if !hasTopic(out, signal.TopicActivator) {
		out = append(out, scenario.Record{Step: last / 2, Topic: signal.TopicActivator, Value: seedPulseValue})
	}

	var added []scenario.Record
	for i := range out {
		r := &out[i]
		isActivator := r.Topic == signal.TopicActivator && r.Source == ""

		switch m {
		case MutationAmplifyActivator:
			if isActivator {
				r.Value *= amplifyGain
			} else if r.Topic == signal.TopicInhibitor {
				r.Value *= inhibitorDamp
			}
		case MutationRebalance:
			if isActivator {
				r.Value *= rebalanceGain
			}
		case MutationCooperativeDecoys:
			if isActivator {
				added = append(added, scenario.Record{
					Step:  max(r.Step-1, 0),
					Topic: signal.TopicCooperative,
					Value: r.Value * decoyShare,
				})
			}
		case MutationExtendBreach:
			if isActivator {
				r.Duration = max(r.Duration, 1) * 2
			}
		case MutationTightenCadence:
			r.Step /= 2
			if isActivator {
				added = append(added, scenario.Record{
					Step:  min(r.Step+1, last),
					Topic: signal.TopicInhibitor,
					Value: r.Value * cadenceInhibitor,
				})
			}
		case MutationPreemptReplication:
			if isActivator && r.Step > 0 {
				added = append(added, scenario.Record{
					Step:  r.Step - 1,
					Topic: signal.TopicInhibitor,
					Value: r.Value,
				})
			}
		}
	}
	out = append(out, added...)

	for i := range out {
		out[i].Step = min(out[i].Step, last)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Step < out[j].Step })
	return out
}

func hasTopic(records []scenario.Record, topic string) bool {
	for _, r := range records {
		if r.Topic == topic {
			return true
		}
	}
	return false
}
