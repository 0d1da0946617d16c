package genome

// Lineage is the named specialization a genome has drifted into.
type Lineage string

const (
	LineageBase               Lineage = "base"
	LineageFirewall           Lineage = "firewall"
	LineageIntrusionDetection Lineage = "intrusion_detection"
	LineageHealer             Lineage = "healer"
)

// Lineages lists every lineage in reporting order.
var Lineages = []Lineage{LineageBase, LineageFirewall, LineageIntrusionDetection, LineageHealer}

// LineageThresholds are the genome cut-offs that define a lineage.
type LineageThresholds struct {
	IntrusionMaxAnomaly  float64 `json:"intrusion_max_anomaly" yaml:"intrusion_max_anomaly"`
	FirewallMaxIsolation float64 `json:"firewall_max_isolation" yaml:"firewall_max_isolation"`
	HealerMinRecharge    float64 `json:"healer_min_recharge" yaml:"healer_min_recharge"`
}

// DefaultLineageThresholds returns thresholds under which the default seed
// genome classifies as LineageBase.
func DefaultLineageThresholds() LineageThresholds {
	return LineageThresholds{
		IntrusionMaxAnomaly:  0.5,
		FirewallMaxIsolation: 0.6,
		HealerMinRecharge:    0.08,
	}
}

// Classify maps a genome to its lineage. Intrusion detection wins over
// firewall, which wins over healer.
func Classify(g Genome, t LineageThresholds) Lineage {
	switch {
	case g.AnomalySensitivity < t.IntrusionMaxAnomaly:
		return LineageIntrusionDetection
	case g.IsolationThreshold < t.FirewallMaxIsolation:
		return LineageFirewall
	case g.EnergyRecharge > t.HealerMinRecharge:
		return LineageHealer
	default:
		return LineageBase
	}
}
