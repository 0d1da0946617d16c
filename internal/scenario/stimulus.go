package scenario

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
)

// Record is one scheduled external stimulus.
//
// Source is normally empty. Setting it replays traffic as if a cell had
// sent it, unattested, which is how spoofing attacks are scripted.
type Record struct {
	Step     int64   `json:"step"`
	Topic    string  `json:"topic"`
	Value    float64 `json:"value"`
	Target   string  `json:"target,omitempty"`
	Duration int64   `json:"duration,omitempty"`
	Source   string  `json:"source,omitempty"`
}

// ActiveAt reports whether r applies at step. A zero duration lasts one step.
func (r Record) ActiveAt(step int64) bool {
	d := r.Duration
	if d < 1 {
		d = 1
	}
	return step >= r.Step && step < r.Step+d
}

// Schedule hands out stimulus records step by step.
type Schedule struct {
	pending map[int64][]Record
	active  []Record
}

// NewSchedule groups records by start step, keeping input order.
func NewSchedule(records []Record) *Schedule {
	s := &Schedule{pending: make(map[int64][]Record)}
	for _, r := range records {
		s.pending[r.Step] = append(s.pending[r.Step], r)
	}
	return s
}

// LoadSchedule reads a JSONL stimulus file. Blank lines are ignored.
func LoadSchedule(path string) (*Schedule, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open stimulus file: %w", err)
	}
	defer f.Close()

	records, err := DecodeRecords(f)
	if err != nil {
		return nil, err
	}
	return NewSchedule(records), nil
}

// DecodeRecords parses and validates a JSONL stimulus stream.
func DecodeRecords(r io.Reader) ([]Record, error) {
	var records []Record
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			return nil, &ConfigError{Field: fmt.Sprintf("stimulus line %d", line), Message: err.Error()}
		}
		if err := rec.validate(); err != nil {
			return nil, &ConfigError{Field: fmt.Sprintf("stimulus line %d", line), Message: err.Error()}
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read stimulus file: %w", err)
	}
	return records, nil
}

func (r Record) validate() error {
	switch {
	case r.Topic == "":
		return fmt.Errorf("topic is required")
	case r.Step < 0:
		return fmt.Errorf("step must be >= 0, got %d", r.Step)
	case r.Duration < 0:
		return fmt.Errorf("duration must be >= 0, got %d", r.Duration)
	case math.IsNaN(r.Value) || math.IsInf(r.Value, 0):
		return fmt.Errorf("value must be finite")
	}
	return nil
}

// Take returns every record applying at step: those starting now plus
// those still running from earlier steps. Steps must be taken in
// increasing order.
func (s *Schedule) Take(step int64) []Record {
	s.active = append(s.active, s.pending[step]...)
	delete(s.pending, step)

	var out []Record
	kept := s.active[:0]
	for _, r := range s.active {
		if r.ActiveAt(step) {
			out = append(out, r)
			kept = append(kept, r)
		}
	}
	s.active = kept
	return out
}

// Records returns every record not yet taken, ordered by step.
func (s *Schedule) Records() []Record {
	steps := make([]int64, 0, len(s.pending))
	for st := range s.pending {
		steps = append(steps, st)
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i] < steps[j] })

	var out []Record
	for _, st := range steps {
		out = append(out, s.pending[st]...)
	}
	return out
}

// AppendRecord appends rec as one JSON line, creating the file if needed.
func AppendRecord(path string, rec Record) error {
	if err := rec.validate(); err != nil {
		return &ConfigError{Field: "stimulus", Message: err.Error()}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open stimulus file: %w", err)
	}
	if err := WriteRecords(f, []Record{rec}); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// WriteRecords writes records as JSONL.
func WriteRecords(w io.Writer, records []Record) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("write stimulus record step=%d: %w", r.Step, err)
		}
	}
	return nil
}
