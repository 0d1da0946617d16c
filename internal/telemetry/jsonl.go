package telemetry

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/andybalholm/brotli"
)

// CompressedSuffix marks telemetry files written with brotli compression.
const CompressedSuffix = ".br"

// JSONL writes one JSON event per line.
//
// Write errors are logged once, remembered, and returned by Close; later
// events are dropped so a full disk never aborts a run.
type JSONL struct {
	buf     *bufio.Writer
	enc     *json.Encoder
	closers []io.Closer
	err     error
	logger  *slog.Logger
}

// NewJSONL wraps w. Closing the sink flushes but does not close w.
func NewJSONL(w io.Writer) *JSONL {
	buf := bufio.NewWriter(w)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	return &JSONL{buf: buf, enc: enc, logger: slog.Default().With("component", "telemetry")}
}

// CreateJSONL creates (truncating) a telemetry file at path. Paths ending
// in ".br" are brotli compressed.
func CreateJSONL(path string) (*JSONL, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create telemetry file: %w", err)
	}

	if !strings.HasSuffix(path, CompressedSuffix) {
		s := NewJSONL(f)
		s.closers = []io.Closer{f}
		return s, nil
	}

	bw := brotli.NewWriterLevel(f, brotli.DefaultCompression)
	s := NewJSONL(bw)
	s.closers = []io.Closer{bw, f}
	return s, nil
}

// Record writes ev as one line.
func (s *JSONL) Record(ev Event) {
	if s.err != nil {
		return
	}
	if err := s.enc.Encode(ev); err != nil {
		s.err = fmt.Errorf("write telemetry event seq=%d: %w", ev.Seq, err)
		s.logger.Error("telemetry write failed, dropping further events", "error", err)
	}
}

// Err returns the first write error.
func (s *JSONL) Err() error {
	return s.err
}

// Close flushes buffered events and closes owned files.
func (s *JSONL) Close() error {
	if err := s.buf.Flush(); err != nil && s.err == nil {
		s.err = fmt.Errorf("flush telemetry: %w", err)
	}
	for _, c := range s.closers {
		if err := c.Close(); err != nil && s.err == nil {
			s.err = fmt.Errorf("close telemetry: %w", err)
		}
	}
	s.closers = nil
	return s.err
}

// ReadJSONL loads every event from a telemetry file, decompressing ".br"
// files.
func ReadJSONL(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open telemetry file: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, CompressedSuffix) {
		r = brotli.NewReader(f)
	}
	return DecodeJSONL(r)
}

// DecodeJSONL parses a JSONL event stream. Blank lines are skipped.
func DecodeJSONL(r io.Reader) ([]Event, error) {
	var events []Event
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, fmt.Errorf("telemetry line %d: %w", line, err)
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read telemetry: %w", err)
	}
	return events, nil
}
