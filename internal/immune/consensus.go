package immune

import "sort"

// Vote is one accepted consensus vote. Step is the step the vote was
// accepted into the ledger, not the step it was cast.
type Vote struct {
	Voter  string
	Target string
	Topic  string
	Weight float64
	Step   int64
}

// Quarantine is a target whose accumulated vote weight reached quorum,
// together with the voters that must now cut it off.
type Quarantine struct {
	Target string
	Topic  string
	Weight float64
	Voters []string
}

// Ledger accumulates votes per target inside a sliding window of steps.
// Each voter counts once per target; a newer vote replaces an older one.
//
// The ledger is owned by the orchestrator and is not safe for concurrent use.
type Ledger struct {
	window int64
	votes  map[string]map[string]Vote // target -> voter -> vote
}

// NewLedger creates a ledger. A vote recorded at step r counts in every
// Tally for steps r through r+window-1. A window below 1 is treated as 1,
// so votes count only in the step they were recorded.
func NewLedger(window int64) *Ledger {
	if window < 1 {
		window = 1
	}
	return &Ledger{
		window: window,
		votes:  make(map[string]map[string]Vote),
	}
}

// Record stores v. Self-votes and votes without a target are ignored and
// reported as false.
func (l *Ledger) Record(v Vote) bool {
	if v.Target == "" || v.Voter == v.Target {
		return false
	}
	byVoter, ok := l.votes[v.Target]
	if !ok {
		byVoter = make(map[string]Vote)
		l.votes[v.Target] = byVoter
	}
	byVoter[v.Voter] = v
	return true
}

// Tally expires votes older than the window and returns every target whose
// total weight is at least quorum, sorted by target with voters ascending.
func (l *Ledger) Tally(step int64, quorum float64) []Quarantine {
	var out []Quarantine
	for _, target := range l.targets() {
		byVoter := l.votes[target]
		for voter, v := range byVoter {
			if step-v.Step >= l.window {
				delete(byVoter, voter)
			}
		}
		if len(byVoter) == 0 {
			delete(l.votes, target)
			continue
		}

		q := Quarantine{Target: target, Voters: voters(byVoter)}
		for _, voter := range q.Voters {
			q.Weight += byVoter[voter].Weight
		}
		q.Topic = byVoter[q.Voters[0]].Topic

		if q.Weight >= quorum {
			out = append(out, q)
		}
	}
	return out
}

// Weight returns the current total weight against target.
func (l *Ledger) Weight(target string) float64 {
	byVoter := l.votes[target]
	total := 0.0
	for _, voter := range voters(byVoter) {
		total += byVoter[voter].Weight
	}
	return total
}

// Clear drops every vote against target, typically after it was
// quarantined.
func (l *Ledger) Clear(target string) {
	delete(l.votes, target)
}

// Forget drops every vote cast by or against id.
func (l *Ledger) Forget(id string) {
	delete(l.votes, id)
	for target, byVoter := range l.votes {
		delete(byVoter, id)
		if len(byVoter) == 0 {
			delete(l.votes, target)
		}
	}
}

// Len returns the number of targets with live votes.
func (l *Ledger) Len() int {
	return len(l.votes)
}

func (l *Ledger) targets() []string {
	out := make([]string, 0, len(l.votes))
	for t := range l.votes {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// voters returns the voter ids in ascending order so weights are always
// summed in the same order.
func voters(byVoter map[string]Vote) []string {
	out := make([]string, 0, len(byVoter))
	for v := range byVoter {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
