package telemetry

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
)

// ErrEmptyMetrics is returned when a metrics source has no rows.
var ErrEmptyMetrics = errors.New("no rows found in telemetry metrics")

// MetricsRow aggregates one step of a run for dashboards and the
// adversarial harness.
type MetricsRow struct {
	Step                   int64              `json:"step"`
	Threat                 float64            `json:"threat_score"`
	CellCount              int                `json:"cell_count"`
	Replications           int                `json:"replications"`
	SignalsTotal           int                `json:"signals_total"`
	LineageShiftsTotal     int                `json:"lineage_shifts_total"`
	StimulusTotal          float64            `json:"stimulus_total"`
	SignalsByTopic         map[string]int     `json:"signals_by_topic"`
	LineageShiftsByLineage map[string]int     `json:"lineage_shifts_by_lineage"`
	StimulusByTopic        map[string]float64 `json:"stimulus_by_topic"`
}

var metricsHeader = []string{
	"step", "threat_score", "cell_count", "replications", "signals_total",
	"lineage_shifts_total", "stimulus_total", "signals_by_topic",
	"lineage_shifts_by_lineage", "stimulus_by_topic",
}

// Metrics folds an event stream into one row per summarized step.
// Events before the first step summary of a step are attributed to it.
func Metrics(events []Event) []MetricsRow {
	var rows []MetricsRow
	cur := newRow(0)
	for _, ev := range events {
		switch ev.Kind {
		case KindCellReplicated:
			cur.Replications++
		case KindSignalEmitted, KindVoteCast:
			cur.SignalsTotal++
			cur.SignalsByTopic[ev.Topic]++
		case KindLineageShift:
			cur.LineageShiftsTotal++
			cur.LineageShiftsByLineage[ev.Lineage]++
		case KindStimulusInjected:
			cur.StimulusTotal += ev.Value
			cur.StimulusByTopic[ev.Topic] += ev.Value
		case KindStepSummary:
			cur.Step = ev.Step
			if ev.Summary != nil {
				cur.Threat = ev.Summary.Threat
				cur.CellCount = ev.Summary.CellCount
			}
			rows = append(rows, cur)
			cur = newRow(ev.Step + 1)
		}
	}
	return rows
}

func newRow(step int64) MetricsRow {
	return MetricsRow{
		Step:                   step,
		SignalsByTopic:         map[string]int{},
		LineageShiftsByLineage: map[string]int{},
		StimulusByTopic:        map[string]float64{},
	}
}

// WriteMetricsCSV writes rows with a header. Map columns hold JSON objects.
func WriteMetricsCSV(w io.Writer, rows []MetricsRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(metricsHeader); err != nil {
		return fmt.Errorf("write metrics header: %w", err)
	}
	for _, r := range rows {
		signals, err := json.Marshal(r.SignalsByTopic)
		if err != nil {
			return err
		}
		lineages, err := json.Marshal(r.LineageShiftsByLineage)
		if err != nil {
			return err
		}
		stimuli, err := json.Marshal(r.StimulusByTopic)
		if err != nil {
			return err
		}
		record := []string{
			strconv.FormatInt(r.Step, 10),
			formatFloat(r.Threat),
			strconv.Itoa(r.CellCount),
			strconv.Itoa(r.Replications),
			strconv.Itoa(r.SignalsTotal),
			strconv.Itoa(r.LineageShiftsTotal),
			formatFloat(r.StimulusTotal),
			string(signals),
			string(lineages),
			string(stimuli),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write metrics row step=%d: %w", r.Step, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadMetricsCSV parses a metrics CSV written by WriteMetricsCSV.
func ReadMetricsCSV(r io.Reader) ([]MetricsRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(metricsHeader)

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("CSV parse error: %w", err)
	}
	if len(records) <= 1 {
		return nil, ErrEmptyMetrics
	}

	rows := make([]MetricsRow, 0, len(records)-1)
	for i, rec := range records[1:] {
		row, err := parseMetricsRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("metrics row %d: %w", i+1, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func parseMetricsRecord(rec []string) (MetricsRow, error) {
	row := newRow(0)
	var err error
	if row.Step, err = strconv.ParseInt(rec[0], 10, 64); err != nil {
		return row, fmt.Errorf("step: %w", err)
	}
	if row.Threat, err = strconv.ParseFloat(rec[1], 64); err != nil {
		return row, fmt.Errorf("threat_score: %w", err)
	}
	ints := []*int{&row.CellCount, &row.Replications, &row.SignalsTotal, &row.LineageShiftsTotal}
	for i, p := range ints {
		if *p, err = strconv.Atoi(rec[2+i]); err != nil {
			return row, fmt.Errorf("%s: %w", metricsHeader[2+i], err)
		}
	}
	if row.StimulusTotal, err = strconv.ParseFloat(rec[6], 64); err != nil {
		return row, fmt.Errorf("stimulus_total: %w", err)
	}
	if err := unmarshalMap(rec[7], &row.SignalsByTopic); err != nil {
		return row, fmt.Errorf("signals_by_topic: %w", err)
	}
	if err := unmarshalMap(rec[8], &row.LineageShiftsByLineage); err != nil {
		return row, fmt.Errorf("lineage_shifts_by_lineage: %w", err)
	}
	if err := unmarshalMap(rec[9], &row.StimulusByTopic); err != nil {
		return row, fmt.Errorf("stimulus_by_topic: %w", err)
	}
	return row, nil
}

func unmarshalMap[T any](raw string, dst *map[string]T) error {
	if raw == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw), dst)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
