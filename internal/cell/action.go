package cell

// Action is something a tick asks the orchestrator to do. The set is
// closed: only the types in this file implement it, and the orchestrator
// switches over all of them.
//
// An empty action list is the "None" action.
type Action interface {
	action()
	Kind() string
}

// DisconnectReason records why a link was cut.
type DisconnectReason string

const (
	ReasonPanic     DisconnectReason = "panic"
	ReasonTrust     DisconnectReason = "trust"
	ReasonConsensus DisconnectReason = "consensus"
)

// Replicate asks for a child. The tick has already deducted Cost from the
// parent's energy; the orchestrator refunds it if replication is refused.
type Replicate struct {
	Cost float64
}

// Disconnect cuts the link to Peer and blacklists it.
type Disconnect struct {
	Peer   string
	Reason DisconnectReason
}

// Connect links to Peer and lifts any blacklist entry.
type Connect struct {
	Peer string
}

// ReportAnomaly becomes a signed vote against Suspect. Suspect may be empty
// when the threat has no attributable source.
type ReportAnomaly struct {
	Suspect    string
	Magnitude  float64
	Confidence float64
}

// Die marks the cell dead.
type Die struct {
	Reason string
}

// Emit publishes a signal from the cell.
type Emit struct {
	Topic string
	Value float64
}

func (Replicate) action()     {}
func (Disconnect) action()    {}
func (Connect) action()       {}
func (ReportAnomaly) action() {}
func (Die) action()           {}
func (Emit) action()          {}

func (Replicate) Kind() string     { return "replicate" }
func (Disconnect) Kind() string    { return "disconnect" }
func (Connect) Kind() string       { return "connect" }
func (ReportAnomaly) Kind() string { return "report_anomaly" }
func (Die) Kind() string           { return "die" }
func (Emit) Kind() string          { return "signal" }

// Death reasons.
const (
	DeathStarvation = "starvation"
	DeathStress     = "stress"
	DeathCap        = "population_cap"
)
