package attest

import "github.com/bits-and-blooms/bloom/v3"

// Sizing for one replay guard generation. A generation only holds the
// signatures of a single attestation step, so its fill level is bounded by
// one step's worth of votes no matter how long the run is.
const (
	replayGuardStepCapacity = 10000
	replayGuardFPRate       = 0.001
)

// replayGenerations covers every step an attestation can be fresh in:
// the verifier accepts att.Step within one step of its own.
const replayGenerations = 3

// ReplayGuard remembers attestation signatures that were already accepted.
// A signature seen twice is a replay even while it is still inside the
// freshness window.
//
// Signatures are bucketed by attestation step into a ring of bloom filters.
// A bucket is cleared when a newer step claims it; by then its old
// signatures are stale and Verify rejects them anyway.
//
// False positives make an honest vote count as unattested; false negatives
// cannot happen while an attestation is fresh.
type ReplayGuard struct {
	gens  [replayGenerations]*bloom.BloomFilter
	steps [replayGenerations]int64
}

// NewReplayGuard creates an empty guard.
func NewReplayGuard() *ReplayGuard {
	g := &ReplayGuard{}
	for i := range g.gens {
		g.gens[i] = bloom.NewWithEstimates(replayGuardStepCapacity, replayGuardFPRate)
		g.steps[i] = -1
	}
	return g
}

// Admit records att and reports whether it was new. Nil or unsigned
// attestations are never admitted, nor are attestations older than the
// step their bucket already moved on to.
func (g *ReplayGuard) Admit(att *Attestation) bool {
	if att == nil || len(att.Signature) == 0 {
		return false
	}
	i := bucket(att.Step)
	switch {
	case att.Step < g.steps[i]:
		return false
	case att.Step > g.steps[i]:
		g.gens[i].ClearAll()
		g.steps[i] = att.Step
	}
	return !g.gens[i].TestAndAdd(att.Signature)
}

func bucket(step int64) int {
	return int(((step % replayGenerations) + replayGenerations) % replayGenerations)
}
