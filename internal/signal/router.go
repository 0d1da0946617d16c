package signal

import "fmt"

// Strategy selects how signals reach cells. It is fixed for a whole run.
type Strategy string

const (
	// StrategyGlobal makes every signal visible to every live cell, except
	// across blacklisted pairs.
	StrategyGlobal Strategy = "global"

	// StrategyGraph makes a signal visible only to the source's neighbors.
	StrategyGraph Strategy = "graph"
)

// ExternalDelivery decides where source-less signals go.
type ExternalDelivery string

const (
	DeliverBroadcast ExternalDelivery = "broadcast"
	DeliverTargeted  ExternalDelivery = "targeted"
)

// ParseStrategy validates a strategy name.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyGlobal, StrategyGraph:
		return Strategy(s), nil
	default:
		return "", fmt.Errorf("invalid topology strategy %q: must be %q or %q", s, StrategyGlobal, StrategyGraph)
	}
}

// ParseExternalDelivery validates an external delivery mode name.
func ParseExternalDelivery(s string) (ExternalDelivery, error) {
	switch ExternalDelivery(s) {
	case DeliverBroadcast, DeliverTargeted:
		return ExternalDelivery(s), nil
	default:
		return "", fmt.Errorf("invalid external delivery %q: must be %q or %q", s, DeliverBroadcast, DeliverTargeted)
	}
}

// Delivery is one signal as seen by one recipient. Index points back into
// the drained slice so per-signal work (such as attestation checks) runs once.
type Delivery struct {
	Index  int
	Signal Signal
}

// Router resolves the recipients of drained signals.
type Router struct {
	Strategy Strategy
	External ExternalDelivery
	Topology *Topology
}

// Route fans signals out to live recipients. live must be sorted; each
// recipient's deliveries keep publish order.
//
// Signals from dead sources, or addressed to dead cells, are dropped.
// A cell never receives its own signal.
func (r *Router) Route(signals []Signal, live []string) map[string][]Delivery {
	alive := make(map[string]struct{}, len(live))
	for _, id := range live {
		alive[id] = struct{}{}
	}

	out := make(map[string][]Delivery, len(live))
	for i, s := range signals {
		for _, to := range r.recipients(s, live, alive) {
			out[to] = append(out[to], Delivery{Index: i, Signal: s})
		}
	}
	return out
}

// Stats summarizes the topology as this router sees it. Isolated counts
// cells that no peer can reach under the router's strategy.
func (r *Router) Stats() Stats {
	s := r.Topology.Stats()
	if r.Strategy == StrategyGlobal {
		s.Isolated = r.Topology.Unreachable()
	}
	return s
}

func (r *Router) recipients(s Signal, live []string, alive map[string]struct{}) []string {
	if !s.External() {
		if _, ok := alive[s.Source]; !ok {
			return nil
		}
	}

	addressee := ""
	if s.Target != "" && !IsConsensusClass(s.Topic) {
		if _, ok := alive[s.Target]; !ok {
			return nil
		}
		addressee = s.Target
	}

	if s.External() {
		switch {
		case addressee != "":
			return []string{addressee}
		case r.External == DeliverTargeted:
			return nil
		default:
			return live
		}
	}

	var candidates []string
	if r.Strategy == StrategyGraph {
		for _, n := range r.Topology.Neighbors(s.Source) {
			if _, ok := alive[n]; ok {
				candidates = append(candidates, n)
			}
		}
	} else {
		candidates = live
	}

	var out []string
	for _, id := range candidates {
		if id == s.Source || r.Topology.Blocked(s.Source, id) {
			continue
		}
		if addressee != "" && id != addressee {
			continue
		}
		out = append(out, id)
	}
	return out
}
