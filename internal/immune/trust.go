// Package immune implements the swarm's collective defenses: per-neighbor
// trust scoring and weighted consensus quarantine.
package immune

// TrustParams configures trust scoring. The penalty is deliberately much
// larger than the reward.
type TrustParams struct {
	Reward  float64 `json:"reward" yaml:"reward"`
	Penalty float64 `json:"penalty" yaml:"penalty"`
	Default float64 `json:"default" yaml:"default"`
	Min     float64 `json:"min" yaml:"min"`
	Max     float64 `json:"max" yaml:"max"`
}

// DefaultTrustParams returns the standard asymmetric scoring.
func DefaultTrustParams() TrustParams {
	return TrustParams{
		Reward:  0.05,
		Penalty: 0.3,
		Default: 0.5,
		Min:     0.0,
		Max:     1.0,
	}
}

// UpdateTrust adjusts table[source] for one consensus-class signal the
// observer received. Unknown sources start at p.Default.
// Returns the score before and after the update.
func UpdateTrust(table map[string]float64, source string, attested bool, p TrustParams) (before, after float64) {
	before, ok := table[source]
	if !ok {
		before = p.Default
	}

	if attested {
		after = before + p.Reward
	} else {
		after = before - p.Penalty
	}
	if after > p.Max {
		after = p.Max
	}
	if after < p.Min {
		after = p.Min
	}

	table[source] = after
	return before, after
}
