// Package scenario loads run configuration: the YAML scenario file, its
// threat profile, and the JSONL stimulus schedule.
package scenario

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"

	"github.com/roach88/morphogen/internal/cell"
	"github.com/roach88/morphogen/internal/genome"
	"github.com/roach88/morphogen/internal/immune"
	"github.com/roach88/morphogen/internal/signal"
)

//go:embed schema.cue
var schemaCUE string

// Scenario is one run's configuration. Topology and ExternalDelivery hold
// signal.Strategy and signal.ExternalDelivery names.
type Scenario struct {
	Name             string   `yaml:"name" json:"name"`
	Seed             int64    `yaml:"seed" json:"seed"`
	InitialCells     int      `yaml:"initial_cells" json:"initial_cells"`
	Steps            int      `yaml:"steps" json:"steps"`
	PopulationCap    int      `yaml:"population_cap" json:"population_cap"`
	Topology         string   `yaml:"topology" json:"topology"`
	ExternalDelivery string   `yaml:"external_delivery" json:"external_delivery"`
	Quorum           float64  `yaml:"quorum" json:"quorum"`
	ConsensusWindow  int      `yaml:"consensus_window" json:"consensus_window"`
	MutationRate     float64  `yaml:"mutation_rate" json:"mutation_rate"`
	Compromised      []string `yaml:"compromised" json:"compromised"`

	Threat     ThreatProfile            `yaml:"threat" json:"threat"`
	Genome     genome.Genome            `yaml:"genome" json:"genome"`
	Lineage    genome.LineageThresholds `yaml:"lineage" json:"lineage"`
	Physiology cell.Limits              `yaml:"physiology" json:"physiology"`
	Trust      immune.TrustParams       `yaml:"trust" json:"trust"`
}

// ThreatProfile is the environmental threat curve.
type ThreatProfile struct {
	Background     float64 `yaml:"background" json:"background"`
	SpikeThreshold float64 `yaml:"spike_threshold" json:"spike_threshold"`
	Spikes         []Spike `yaml:"spikes" json:"spikes"`
}

// Spike raises the threat by Intensity for Duration steps starting at Step.
// A zero duration lasts one step.
type Spike struct {
	Step      int64   `yaml:"step" json:"step"`
	Intensity float64 `yaml:"intensity" json:"intensity"`
	Duration  int64   `yaml:"duration" json:"duration"`
}

// Default returns a scenario with every field at its default.
func Default() Scenario {
	return Scenario{
		Name:             "baseline",
		Seed:             1,
		InitialCells:     1,
		Steps:            1,
		PopulationCap:    128,
		Topology:         string(signal.StrategyGlobal),
		ExternalDelivery: string(signal.DeliverBroadcast),
		Quorum:           1.5,
		ConsensusWindow:  3,
		MutationRate:     genome.DefaultMutationRate,
		Compromised:      []string{},
		Threat: ThreatProfile{
			Background:     0.1,
			SpikeThreshold: 0.8,
			Spikes:         []Spike{},
		},
		Genome:     genome.Default(),
		Lineage:    genome.DefaultLineageThresholds(),
		Physiology: cell.DefaultLimits(),
		Trust:      immune.DefaultTrustParams(),
	}
}

// ThreatAt returns the environmental threat for step, never negative.
func (s *Scenario) ThreatAt(step int64) float64 {
	threat := s.Threat.Background
	for _, sp := range s.Threat.Spikes {
		d := sp.Duration
		if d < 1 {
			d = 1
		}
		if step >= sp.Step && step < sp.Step+d {
			threat += sp.Intensity
		}
	}
	if threat < 0 {
		return 0
	}
	return threat
}

// ConfigError reports an invalid scenario. It is always fatal and always
// raised before the first step.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// IsConfigError reports whether err is or wraps a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// Load reads and validates a scenario YAML file.
// Unknown fields are rejected so typos never silently fall back to defaults.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates scenario YAML.
func Parse(data []byte) (*Scenario, error) {
	sc := Default()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&sc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse YAML: %w", &ConfigError{Message: err.Error()})
	}

	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &sc, nil
}

// Validate checks the scenario against the embedded CUE schema, the
// genome bounds, and settings that must agree across sections.
func (s *Scenario) Validate() error {
	if s.Compromised == nil {
		s.Compromised = []string{}
	}
	if s.Threat.Spikes == nil {
		s.Threat.Spikes = []Spike{}
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE).LookupPath(cue.ParsePath("#Scenario"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile scenario schema: %w", err)
	}

	value := ctx.Encode(s)
	if err := value.Err(); err != nil {
		return &ConfigError{Message: err.Error()}
	}
	if err := schema.Unify(value).Validate(cue.Concrete(true)); err != nil {
		return formatCUEError(err)
	}

	// Tick and the trust phase must agree on what a stranger is worth.
	if s.Physiology.DefaultTrust != s.Trust.Default {
		return &ConfigError{
			Field:   "physiology.default_trust",
			Message: fmt.Sprintf("must equal trust.default (%g), got %g", s.Trust.Default, s.Physiology.DefaultTrust),
		}
	}

	if err := s.Genome.Validate(); err != nil {
		var be *genome.BoundsError
		if errors.As(err, &be) {
			return &ConfigError{Field: "genome." + be.Field, Message: err.Error()}
		}
		return &ConfigError{Field: "genome", Message: err.Error()}
	}
	return nil
}

// formatCUEError reduces a CUE error list to its first entry.
func formatCUEError(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &ConfigError{Message: err.Error()}
	}
	first := errs[0]
	return &ConfigError{Field: strings.Join(first.Path(), "."), Message: first.Error()}
}
