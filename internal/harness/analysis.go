package harness

import (
	"fmt"
	"math"

	"github.com/roach88/morphogen/internal/signal"
	"github.com/roach88/morphogen/internal/telemetry"
)

// Fitness weights. Higher fitness means stronger adversarial pressure.
const (
	weightThreat      = 0.45
	weightSuppression = 0.25
	weightCellLoss    = 0.2
	weightStimulus    = 0.1

	// threatScale maps average threat onto [0, 1].
	threatScale = 1.5
)

// Breach thresholds.
const (
	breachFitness   = 0.7
	breachMaxThreat = 1.1
	breachCellLoss  = 0.4
)

// RunStatistics aggregates the per-step metrics of one run.
type RunStatistics struct {
	StepCount          int                `json:"step_count"`
	AvgThreat          float64            `json:"avg_threat"`
	MaxThreat          float64            `json:"max_threat"`
	AvgCellCount       float64            `json:"avg_cell_count"`
	MinCellCount       int                `json:"min_cell_count"`
	MaxCellCount       int                `json:"max_cell_count"`
	TotalReplications  int                `json:"total_replications"`
	TotalSignals       int                `json:"total_signals"`
	TotalLineageShifts int                `json:"total_lineage_shifts"`
	TotalStimulus      float64            `json:"total_stimulus"`
	SignalsByTopic     map[string]int     `json:"signals_by_topic"`
	LineageByType      map[string]int     `json:"lineage_by_type"`
	StimuliByTopic     map[string]float64 `json:"stimuli_by_topic"`
}

// ReproductionRate is replications per step.
func (s RunStatistics) ReproductionRate() float64 {
	if s.StepCount == 0 {
		return 0
	}
	return float64(s.TotalReplications) / float64(s.StepCount)
}

// CellLoss is the fraction of the peak population lost at the low point.
func (s RunStatistics) CellLoss() float64 {
	if s.MaxCellCount <= 0 {
		return 0
	}
	return clamp01(float64(s.MaxCellCount-s.MinCellCount) / float64(s.MaxCellCount))
}

// Analysis combines statistics, fitness and the suggested next mutation.
type Analysis struct {
	Statistics RunStatistics `json:"statistics"`
	Fitness    float64       `json:"fitness"`
	Breach     bool          `json:"breach"`

	// Mutation is empty when nothing is recommended.
	Mutation Mutation `json:"mutation,omitempty"`
}

// Analyze folds metrics rows into statistics and scores them.
// Returns telemetry.ErrEmptyMetrics if rows is empty.
func Analyze(rows []telemetry.MetricsRow) (Analysis, error) {
	if len(rows) == 0 {
		return Analysis{}, telemetry.ErrEmptyMetrics
	}

	stats := RunStatistics{
		StepCount:      len(rows),
		MaxThreat:      math.Inf(-1),
		MinCellCount:   math.MaxInt,
		SignalsByTopic: map[string]int{},
		LineageByType:  map[string]int{},
		StimuliByTopic: map[string]float64{},
	}
	var threatSum, cellSum float64
	for _, r := range rows {
		threatSum += r.Threat
		stats.MaxThreat = math.Max(stats.MaxThreat, r.Threat)
		cellSum += float64(r.CellCount)
		stats.MinCellCount = min(stats.MinCellCount, r.CellCount)
		stats.MaxCellCount = max(stats.MaxCellCount, r.CellCount)
		stats.TotalReplications += r.Replications
		stats.TotalSignals += r.SignalsTotal
		stats.TotalLineageShifts += r.LineageShiftsTotal
		stats.TotalStimulus += r.StimulusTotal

		for k, v := range r.SignalsByTopic {
			if v > 0 {
				stats.SignalsByTopic[k] += v
			}
		}
		for k, v := range r.LineageShiftsByLineage {
			if v > 0 {
				stats.LineageByType[k] += v
			}
		}
		for k, v := range r.StimulusByTopic {
			if v != 0 {
				stats.StimuliByTopic[k] += v
			}
		}
	}
	n := float64(stats.StepCount)
	stats.AvgThreat = threatSum / n
	stats.AvgCellCount = cellSum / n

	fitness, breach := score(stats)
	return Analysis{
		Statistics: stats,
		Fitness:    fitness,
		Breach:     breach,
		Mutation:   recommend(stats, fitness, breach),
	}, nil
}

func score(s RunStatistics) (fitness float64, breach bool) {
	threat := clamp01(s.AvgThreat / threatScale)
	suppression := math.Max(0, 1-math.Min(1, s.ReproductionRate()))
	cellLoss := s.CellLoss()
	stimulus := clamp01(s.TotalStimulus / (math.Max(float64(s.StepCount), 1) * threatScale))

	fitness = weightThreat*threat +
		weightSuppression*suppression +
		weightCellLoss*cellLoss +
		weightStimulus*stimulus
	breach = fitness > breachFitness || s.MaxThreat > breachMaxThreat || cellLoss > breachCellLoss
	return fitness, breach
}

// recommend picks the mutation most likely to raise pressure next time.
func recommend(s RunStatistics, fitness float64, breach bool) Mutation {
	activator := s.StimuliByTopic[signal.TopicActivator]
	inhibitor := s.StimuliByTopic[signal.TopicInhibitor]

	switch {
	case fitness < 0.4:
		if activator <= inhibitor {
			return MutationAmplifyActivator
		}
		return MutationCooperativeDecoys
	case breach:
		if s.TotalSignals < s.StepCount {
			return MutationExtendBreach
		}
		return MutationTightenCadence
	case s.ReproductionRate() > 0.6:
		return MutationPreemptReplication
	case inhibitor > activator && activator > 0:
		return MutationRebalance
	default:
		return MutationNone
	}
}

// Note summarizes an analysis for the outcome archive.
func (a Analysis) Note() string {
	s := a.Statistics
	note := fmt.Sprintf("avg_threat=%.2f, replications_total=%d, signals_total=%d",
		s.AvgThreat, s.TotalReplications, s.TotalSignals)
	if a.Mutation != MutationNone {
		note += "; next_mutation=" + a.Mutation.Description()
	}
	return note
}

func clamp01(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}
