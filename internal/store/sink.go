package store

import (
	"context"
	"log/slog"

	"github.com/roach88/morphogen/internal/telemetry"
)

const defaultSinkBatch = 256

// EventSink persists telemetry for one run as it is produced.
// Events are buffered and flushed in transactions of up to batch events.
//
// Like every telemetry sink it never fails the run: the first error is
// logged, remembered, and returned from Close.
type EventSink struct {
	store  *Store
	runID  string
	batch  int
	buf    []telemetry.Event
	err    error
	logger *slog.Logger
}

// NewEventSink creates a sink writing into runID. The run row must exist.
func (s *Store) NewEventSink(runID string) *EventSink {
	return &EventSink{
		store:  s,
		runID:  runID,
		batch:  defaultSinkBatch,
		logger: slog.Default().With("component", "store", "run_id", runID),
	}
}

// Record buffers ev and flushes when the batch is full.
func (k *EventSink) Record(ev telemetry.Event) {
	if k.err != nil {
		return
	}
	k.buf = append(k.buf, ev)
	if len(k.buf) >= k.batch {
		k.flush()
	}
}

func (k *EventSink) flush() {
	if len(k.buf) == 0 || k.err != nil {
		return
	}
	if err := k.store.WriteEvents(context.Background(), k.runID, k.buf); err != nil {
		k.err = err
		k.logger.Error("event persistence failed, dropping further events", "error", err)
	}
	k.buf = k.buf[:0]
}

// Err returns the first persistence error.
func (k *EventSink) Err() error {
	return k.err
}

// Close flushes pending events. It does not close the store.
func (k *EventSink) Close() error {
	k.flush()
	return k.err
}
