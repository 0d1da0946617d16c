package telemetry

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/morphogen/internal/signal"
)

func sampleEvents() []Event {
	return []Event{
		{Seq: 1, Step: 0, Kind: KindScenario, Scenario: &ScenarioInfo{Name: "baseline", Seed: 1, Steps: 2, InitialCells: 1, Topology: "global", PopulationCap: 8}},
		{Seq: 2, Step: 0, Kind: KindStimulusInjected, Topic: signal.TopicActivator, Value: 0.5},
		{Seq: 3, Step: 0, Kind: KindCellReplicated, Cell: "cell-00000", Peer: "cell-00001", Lineage: "base"},
		{Seq: 4, Step: 0, Kind: KindLineageShift, Cell: "cell-00001", Reason: "base", Lineage: "healer"},
		{Seq: 5, Step: 0, Kind: KindStepSummary, Summary: &StepSummary{Threat: 0.6, CellCount: 2, Population: PopulationStats{Lineages: map[string]int{"base": 1, "healer": 1}}}},
		{Seq: 6, Step: 1, Kind: KindSignalEmitted, Cell: "cell-00001", Topic: signal.TopicCooperative, Value: 0.1},
		{Seq: 7, Step: 1, Kind: KindVoteCast, Cell: "cell-00000", Topic: signal.TopicAnomalyVote, Value: 1},
		{Seq: 8, Step: 1, Kind: KindStepSummary, Summary: &StepSummary{Threat: 0.1, CellCount: 2}},
	}
}

func TestJSONL_RoundTrip(t *testing.T) {
	for _, name := range []string{"run.jsonl", "run.jsonl.br"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			sink, err := CreateJSONL(path)
			require.NoError(t, err)

			for _, ev := range sampleEvents() {
				sink.Record(ev)
			}
			require.NoError(t, sink.Close())

			got, err := ReadJSONL(path)
			require.NoError(t, err)
			assert.Equal(t, sampleEvents(), got)
		})
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestJSONL_WriteErrorIsReportedNotFatal(t *testing.T) {
	sink := NewJSONL(failingWriter{})
	for i := 0; i < 2000; i++ {
		sink.Record(Event{Seq: int64(i), Kind: KindStepSummary})
	}
	err := sink.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestDecodeJSONL_SkipsBlankAndReportsLine(t *testing.T) {
	events, err := DecodeJSONL(bytes.NewBufferString("{\"seq\":1,\"step\":0,\"kind\":\"scenario\"}\n\n"))
	require.NoError(t, err)
	assert.Len(t, events, 1)

	_, err = DecodeJSONL(bytes.NewBufferString("{\"seq\":1}\nnot json\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestPipeline_FansOut(t *testing.T) {
	a, b := NewMemory(), NewMemory()
	p := NewPipeline(a, nil, b, Discard{})
	p.Record(Event{Seq: 1, Kind: KindScenario})

	assert.Len(t, a.Events(), 1)
	assert.Len(t, b.Events(), 1)
	assert.NoError(t, p.Close())
}

func TestMemory_OfKind(t *testing.T) {
	m := NewMemory()
	for _, ev := range sampleEvents() {
		m.Record(ev)
	}
	assert.Len(t, m.OfKind(KindStepSummary), 2)
	assert.Empty(t, m.OfKind(KindCellDied))
}

func TestDigest_StableAndSensitive(t *testing.T) {
	d1, err := Digest(sampleEvents())
	require.NoError(t, err)
	d2, err := Digest(sampleEvents())
	require.NoError(t, err)
	assert.Equal(t, d1, d2)

	changed := sampleEvents()
	changed[5].Value = 0.2
	d3, err := Digest(changed)
	require.NoError(t, err)
	assert.NotEqual(t, d1, d3)
}

func TestMarshalCanonical(t *testing.T) {
	out, err := MarshalCanonical(map[string]any{"b": 1, "a": []any{"x<y", true}})
	require.NoError(t, err)
	assert.Equal(t, `{"a":["x<y",true],"b":1}`, string(out))

	_, err = MarshalCanonical(map[string]any{"f": 0.5})
	require.Error(t, err)
	_, err = MarshalCanonical(nil)
	require.Error(t, err)
}

func TestCanonicalTrace(t *testing.T) {
	out, err := CanonicalTrace(sampleEvents()[:3])
	require.NoError(t, err)
	assert.Equal(t,
		`[{"kind":"scenario","scenario":"baseline","seq":1,"step":0},`+
			`{"kind":"stimulus_injected","seq":2,"step":0,"topic":"activator"},`+
			`{"cell":"cell-00000","kind":"cell_replicated","lineage":"base","peer":"cell-00001","seq":3,"step":0}]`,
		string(out))
}

func TestMetrics_FoldsPerStep(t *testing.T) {
	rows := Metrics(sampleEvents())
	require.Len(t, rows, 2)

	assert.Equal(t, int64(0), rows[0].Step)
	assert.Equal(t, 1, rows[0].Replications)
	assert.Equal(t, 1, rows[0].LineageShiftsTotal)
	assert.Equal(t, map[string]int{"healer": 1}, rows[0].LineageShiftsByLineage)
	assert.InDelta(t, 0.5, rows[0].StimulusTotal, 1e-9)
	assert.Equal(t, 2, rows[0].CellCount)

	assert.Equal(t, 2, rows[1].SignalsTotal)
	assert.Equal(t, map[string]int{"cooperative": 1, "consensus:anomaly": 1}, rows[1].SignalsByTopic)
}

func TestMetricsCSV_RoundTrip(t *testing.T) {
	rows := Metrics(sampleEvents())

	var buf bytes.Buffer
	require.NoError(t, WriteMetricsCSV(&buf, rows))

	got, err := ReadMetricsCSV(&buf)
	require.NoError(t, err)
	assert.Equal(t, rows, got)
}

func TestReadMetricsCSV_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMetricsCSV(&buf, nil))

	_, err := ReadMetricsCSV(&buf)
	assert.ErrorIs(t, err, ErrEmptyMetrics)
}
