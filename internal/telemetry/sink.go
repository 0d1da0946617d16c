package telemetry

import (
	"errors"
	"sync"
)

// Sink consumes events in order. Record must not fail the run: sinks that
// can fail remember the error and report it from Close or Err.
type Sink interface {
	Record(ev Event)
}

// Closer is implemented by sinks holding resources.
type Closer interface {
	Close() error
}

// Memory keeps every event in memory.
//
// Thread-safety: safe for concurrent use.
type Memory struct {
	mu     sync.Mutex
	events []Event
}

// NewMemory creates an empty in-memory sink.
func NewMemory() *Memory {
	return &Memory{}
}

// Record appends ev.
func (m *Memory) Record(ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
}

// Events returns a copy of everything recorded so far.
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// OfKind returns the recorded events of kind k.
func (m *Memory) OfKind(k Kind) []Event {
	var out []Event
	for _, ev := range m.Events() {
		if ev.Kind == k {
			out = append(out, ev)
		}
	}
	return out
}

// Pipeline fans every event out to several sinks in order.
type Pipeline struct {
	sinks []Sink
}

// NewPipeline creates a fan-out over sinks. Nil sinks are skipped.
func NewPipeline(sinks ...Sink) *Pipeline {
	p := &Pipeline{}
	for _, s := range sinks {
		if s != nil {
			p.sinks = append(p.sinks, s)
		}
	}
	return p
}

// Record forwards ev to every sink.
func (p *Pipeline) Record(ev Event) {
	for _, s := range p.sinks {
		s.Record(ev)
	}
}

// Close closes every sink that holds resources and joins their errors.
func (p *Pipeline) Close() error {
	var errs []error
	for _, s := range p.sinks {
		if c, ok := s.(Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Discard drops every event.
type Discard struct{}

// Record does nothing.
func (Discard) Record(Event) {}
