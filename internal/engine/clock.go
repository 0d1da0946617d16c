package engine

import "github.com/roach88/morphogen/internal/telemetry"

// Clock is the run's logical time: the current simulation step and the
// sequence number of the last emitted event.
//
// No wall-clock value ever reaches the event stream, which is what makes
// equal inputs produce byte-identical telemetry. Only the sequential phases
// of a step touch the clock, so it needs no locking.
type Clock struct {
	step int64
	seq  int64
}

// NewClock creates a clock at step 0. The first stamped event gets seq 1.
func NewClock() *Clock {
	return &Clock{}
}

// Step returns the step in progress, or the next one between steps.
func (c *Clock) Step() int64 {
	return c.step
}

// Seq returns the last issued sequence number.
func (c *Clock) Seq() int64 {
	return c.seq
}

// Advance closes the current step.
func (c *Clock) Advance() {
	c.step++
}

// Stamp assigns ev the next sequence number and the current step.
func (c *Clock) Stamp(ev *telemetry.Event) {
	c.seq++
	ev.Seq = c.seq
	ev.Step = c.step
}
