package engine

import (
	"errors"
	"fmt"
)

// PopulationCap enforces the maximum population during one step's apply
// phase.
//
// Births are counted against the live population at the start of the
// step, so a replication is refused once live + births would reach the
// cap. Reset is called at the start of every step.
type PopulationCap struct {
	limit  int
	births int
}

// NewPopulationCap creates a cap with the given limit.
func NewPopulationCap(limit int) *PopulationCap {
	return &PopulationCap{limit: limit}
}

// Check admits one birth for parentID given the live population, or
// returns a CapExceededError.
func (p *PopulationCap) Check(parentID string, live int) error {
	if live+p.births >= p.limit {
		return &CapExceededError{
			ParentID: parentID,
			Live:     live,
			Births:   p.births,
			Limit:    p.limit,
		}
	}
	p.births++
	return nil
}

// Reset clears the birth counter.
func (p *PopulationCap) Reset() {
	p.births = 0
}

// Births returns the births admitted since the last Reset.
func (p *PopulationCap) Births() int {
	return p.births
}

// Limit returns the population limit.
func (p *PopulationCap) Limit() int {
	return p.limit
}

// Exceeded reports whether a population is over the limit.
func (p *PopulationCap) Exceeded(population int) bool {
	return population > p.limit
}

// CapExceededError is returned when a birth would break the population cap.
// It never stops a run: the engine turns it into replication_refused.
type CapExceededError struct {
	ParentID string
	Live     int
	Births   int
	Limit    int
}

// Error implements the error interface.
func (e *CapExceededError) Error() string {
	return fmt.Sprintf("replication by %s refused: %d live + %d births >= cap %d",
		e.ParentID, e.Live, e.Births, e.Limit)
}

// IsCapExceededError returns true if the error is a CapExceededError.
// Uses errors.As to handle wrapped errors.
func IsCapExceededError(err error) bool {
	var ce *CapExceededError
	return errors.As(err, &ce)
}
