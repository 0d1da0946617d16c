package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/morphogen/internal/attest"
	"github.com/roach88/morphogen/internal/cell"
	"github.com/roach88/morphogen/internal/genome"
	"github.com/roach88/morphogen/internal/immune"
	"github.com/roach88/morphogen/internal/scenario"
	"github.com/roach88/morphogen/internal/signal"
	"github.com/roach88/morphogen/internal/telemetry"
)

// Replication refusal reasons.
const (
	RefusedDying     = "dying"
	RefusedCap       = "population_cap"
	RefusedProvision = "provision_failed"
)

// Link event reasons.
const (
	linkSeed        = "seed"
	linkReplication = "replication"
	linkReconnect   = "reconnect"
	linkDeath       = "death"
)

// Engine is the population orchestrator.
//
// Thread-safety model:
//   - Step(), Run(), Publish() and AddCell() must be called from one goroutine
//   - Tick evaluation inside Step() fans out to worker goroutines, which
//     only read the snapshot they are handed
//
// INVARIANTS:
//   - No edge, blacklist row, bus signal, ledger vote, trust entry or key
//     refers to a dead cell once Step() returns
//   - The live population never exceeds the cap after Step() returns
//   - Equal scenario, stimulus and seed give an identical event stream
type Engine struct {
	sc       *scenario.Scenario
	schedule *scenario.Schedule
	logger   *slog.Logger
	sink     telemetry.Sink
	clock    *Clock
	runIDs   RunIDGenerator
	runID    string
	workers  int

	rng         *rand.Rand
	authority   *attest.Authority
	guard       *attest.ReplayGuard
	tpms        map[string]*attest.TPM
	compromised map[string]bool

	cells    map[string]*cell.State
	bus      *signal.Bus
	topology *signal.Topology
	router   *signal.Router
	ledger   *immune.Ledger
	cap      *PopulationCap

	nextID int
}

// EngineOption allows configuration of engine parameters.
type EngineOption func(*Engine)

// WithWorkers bounds the number of goroutines evaluating ticks.
// Values below 1 are ignored. Default: GOMAXPROCS.
func WithWorkers(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithSink sets where telemetry goes. Default: discarded.
func WithSink(s telemetry.Sink) EngineOption {
	return func(e *Engine) {
		if s != nil {
			e.sink = s
		}
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithRunID fixes the run id instead of generating one.
func WithRunID(id string) EngineOption {
	return func(e *Engine) {
		e.runID = id
	}
}

// WithRunIDGenerator sets how the run id is generated when WithRunID is
// not used. Default: UUIDv7Generator.
func WithRunIDGenerator(g RunIDGenerator) EngineOption {
	return func(e *Engine) {
		e.runIDs = g
	}
}

// New validates sc, seeds the initial population and records the
// scenario event. schedule may be nil.
func New(sc *scenario.Scenario, schedule *scenario.Schedule, opts ...EngineOption) (*Engine, error) {
	if err := sc.Validate(); err != nil {
		return nil, newInvalidScenario(err)
	}
	strategy, err := signal.ParseStrategy(sc.Topology)
	if err != nil {
		return nil, newInvalidScenario(err)
	}
	external, err := signal.ParseExternalDelivery(sc.ExternalDelivery)
	if err != nil {
		return nil, newInvalidScenario(err)
	}
	if schedule == nil {
		schedule = scenario.NewSchedule(nil)
	}

	topology := signal.NewTopology()
	e := &Engine{
		sc:          sc,
		schedule:    schedule,
		logger:      slog.Default(),
		sink:        telemetry.Discard{},
		clock:       NewClock(),
		runIDs:      UUIDv7Generator{},
		workers:     runtime.GOMAXPROCS(0),
		rng:         rand.New(rand.NewSource(sc.Seed)),
		authority:   attest.NewAuthority(sc.Seed),
		guard:       attest.NewReplayGuard(),
		tpms:        make(map[string]*attest.TPM),
		compromised: make(map[string]bool, len(sc.Compromised)),
		cells:       make(map[string]*cell.State),
		bus:         signal.NewBus(),
		topology:    topology,
		router:      &signal.Router{Strategy: strategy, External: external, Topology: topology},
		ledger:      immune.NewLedger(int64(sc.ConsensusWindow)),
		cap:         NewPopulationCap(sc.PopulationCap),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.runID == "" {
		e.runID = e.runIDs.Generate()
	}
	e.logger = e.logger.With("component", "engine", "run_id", e.runID)
	for _, id := range sc.Compromised {
		e.compromised[id] = true
	}

	e.emit(telemetry.Event{
		Kind: telemetry.KindScenario,
		Scenario: &telemetry.ScenarioInfo{
			Name:          sc.Name,
			Seed:          sc.Seed,
			Steps:         sc.Steps,
			InitialCells:  sc.InitialCells,
			Topology:      sc.Topology,
			PopulationCap: sc.PopulationCap,
		},
	})

	seeds := make([]string, 0, sc.InitialCells)
	for i := 0; i < sc.InitialCells; i++ {
		id, err := e.AddCell(sc.Genome)
		if err != nil {
			return nil, err
		}
		seeds = append(seeds, id)
	}
	if strategy == signal.StrategyGraph {
		for _, edge := range e.topology.Chain(seeds) {
			e.emit(telemetry.Event{Kind: telemetry.KindLinkAdded, Cell: edge.A, Peer: edge.B, Reason: linkSeed})
		}
	}

	e.logger.Debug("population seeded", "cells", len(seeds), "topology", sc.Topology)
	return e, nil
}

// RunID returns the run identifier.
func (e *Engine) RunID() string {
	return e.runID
}

// CurrentStep returns the index of the next step to run.
func (e *Engine) CurrentStep() int64 {
	return e.clock.Step()
}

// Done reports whether every scenario step has run.
func (e *Engine) Done() bool {
	return e.clock.Step() >= int64(e.sc.Steps)
}

// Cells returns copies of the live cells in creation order.
func (e *Engine) Cells() []cell.State {
	ids := e.liveIDs()
	out := make([]cell.State, len(ids))
	for i, id := range ids {
		out[i] = e.cells[id].Clone()
	}
	return out
}

// Edges returns the current links in canonical order.
func (e *Engine) Edges() []signal.Edge {
	return e.topology.Edges()
}

// Blocked reports whether either cell blacklisted the other.
func (e *Engine) Blocked(a, b string) bool {
	return e.topology.Blocked(a, b)
}

// Publish puts s on the bus for the current step. It is how tests and
// embedding code inject traffic outside the stimulus schedule.
func (e *Engine) Publish(s signal.Signal) {
	s.Step = e.clock.Step()
	e.bus.Publish(s)
}

// AddCell seeds a new cell with genome g outside of replication. It
// ignores the population cap; the next Step() enforces it.
func (e *Engine) AddCell(g genome.Genome) (string, error) {
	lineage := genome.Classify(g, e.sc.Lineage)
	st := cell.NewState(e.newCellID(), g, lineage)
	if err := e.admit(&st); err != nil {
		return "", err
	}
	return st.ID, nil
}

// Run executes the remaining scenario steps. Cancellation is checked only
// between steps; a started step always completes.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("run starting", "scenario", e.sc.Name, "steps", e.sc.Steps, "cells", len(e.cells))
	for !e.Done() {
		if err := ctx.Err(); err != nil {
			e.logger.Warn("run cancelled", "step", e.clock.Step())
			return newCancelledError(e.clock.Step(), err)
		}
		e.Step()
	}
	e.logger.Info("run finished", "steps", e.clock.Step(), "cells", len(e.cells))
	return nil
}

// tickInput is one cell's snapshot for the parallel phase.
type tickInput struct {
	state cell.State
	env   cell.Environment
}

// tickOutput is stored by input index.
type tickOutput struct {
	state   cell.State
	actions []cell.Action
}

// Step advances the population by one step.
func (e *Engine) Step() {
	step := e.clock.Step()
	threat := e.sc.ThreatAt(step)
	e.cap.Reset()

	e.collect(step, threat)

	drained := e.bus.Drain()
	live := e.liveIDs()
	deliveries := e.router.Route(drained, live)
	attested := e.verify(drained, step)

	inputs := make([]tickInput, len(live))
	for i, id := range live {
		inputs[i] = tickInput{
			state: *e.cells[id],
			env:   e.environment(id, step, threat, deliveries[id], live),
		}
	}
	outputs := e.evaluate(inputs)

	for i, id := range live {
		e.apply(id, step, outputs[i], len(live))
	}

	e.consensus(step, live, deliveries, attested)
	e.purge(step)
	e.enforceCap(step)
	e.summarize(step, threat)

	e.clock.Advance()
}

// collect publishes this step's scheduled stimuli and threat spike.
func (e *Engine) collect(step int64, threat float64) {
	for _, rec := range e.schedule.Take(step) {
		e.bus.Publish(signal.Signal{
			Topic:  rec.Topic,
			Value:  rec.Value,
			Source: rec.Source,
			Target: rec.Target,
			Step:   step,
		})
		e.emit(telemetry.Event{
			Kind:  telemetry.KindStimulusInjected,
			Cell:  rec.Target,
			Peer:  rec.Source,
			Topic: rec.Topic,
			Value: rec.Value,
		})
	}

	if threat >= e.sc.Threat.SpikeThreshold {
		value := threat - e.sc.Threat.SpikeThreshold
		e.bus.Publish(signal.Signal{Topic: signal.TopicActivator, Value: value, Step: step})
		e.emit(telemetry.Event{Kind: telemetry.KindSpikeEmitted, Topic: signal.TopicActivator, Value: value, Prior: threat})
	}
}

// verify checks every consensus-class signal once. A signal counts as
// attested only if its attestation verifies, belongs to its source, and
// was not seen before.
func (e *Engine) verify(drained []signal.Signal, step int64) []bool {
	attested := make([]bool, len(drained))
	for i, s := range drained {
		if !signal.IsConsensusClass(s.Topic) || s.External() || s.Attestation == nil {
			continue
		}
		ok := s.Attestation.CellID == s.Source &&
			e.authority.Verify(s.Attestation, s.Payload(), step) &&
			e.guard.Admit(s.Attestation)
		if !ok {
			e.logger.Debug("attestation rejected", "step", step, "source", s.Source, "topic", s.Topic)
		}
		attested[i] = ok
	}
	return attested
}

// environment builds the read-only snapshot cell id decides on.
func (e *Engine) environment(id string, step int64, threat float64, delivered []signal.Delivery, live []string) cell.Environment {
	env := cell.Environment{
		Step:              step,
		Totals:            make(map[string]float64),
		ActivatorBySource: make(map[string]float64),
		Quarantined:       e.topology.Quarantined(id),
	}
	for _, d := range delivered {
		env.Totals[d.Signal.Topic] += d.Signal.Value
		if d.Signal.Topic == signal.TopicActivator && !d.Signal.External() {
			env.ActivatorBySource[d.Signal.Source] += d.Signal.Value
		}
	}
	env.EffectiveThreat = math.Max(0, threat+env.Totals[signal.TopicActivator]-env.Totals[signal.TopicInhibitor])

	if e.router.Strategy == signal.StrategyGraph {
		env.Neighbors = e.topology.Neighbors(id)
		env.Links = len(env.Neighbors)
		return env
	}
	for _, other := range live {
		if other != id && !e.topology.Blocked(id, other) {
			env.Neighbors = append(env.Neighbors, other)
		}
	}
	return env
}

// evaluate runs every tick concurrently and returns results in input order.
func (e *Engine) evaluate(inputs []tickInput) []tickOutput {
	outputs := make([]tickOutput, len(inputs))
	var g errgroup.Group
	g.SetLimit(e.workers)
	for i := range inputs {
		i := i
		g.Go(func() error {
			st, actions := cell.Tick(inputs[i].state, inputs[i].env, e.sc.Physiology)
			outputs[i] = tickOutput{state: st, actions: actions}
			return nil
		})
	}
	_ = g.Wait() // ticks never fail
	return outputs
}

// apply commits one cell's tick result.
func (e *Engine) apply(id string, step int64, out tickOutput, liveAtStart int) {
	st := out.state
	e.cells[id] = &st

	dying := false
	for _, a := range out.actions {
		if _, ok := a.(cell.Die); ok {
			dying = true
		}
	}

	for _, a := range out.actions {
		switch act := a.(type) {
		case cell.Replicate:
			e.replicate(&st, step, act, dying, liveAtStart)
		case cell.Disconnect:
			e.disconnect(id, act.Peer, string(act.Reason))
		case cell.Connect:
			e.connect(id, act.Peer)
		case cell.ReportAnomaly:
			e.report(&st, step, act)
		case cell.Emit:
			e.publishFrom(id, step, act.Topic, act.Value, "")
		case cell.Die:
			st.Dead = true
			e.emit(telemetry.Event{Kind: telemetry.KindCellDied, Cell: id, Reason: act.Reason, Lineage: string(st.Lineage)})
		default:
			panic(fmt.Sprintf("engine: unhandled action %T", a))
		}
	}
}

func (e *Engine) replicate(parent *cell.State, step int64, act cell.Replicate, dying bool, liveAtStart int) {
	refuse := func(reason string) {
		parent.Energy += act.Cost
		e.emit(telemetry.Event{Kind: telemetry.KindReplicationRefused, Cell: parent.ID, Reason: reason, Value: act.Cost})
	}
	if dying {
		refuse(RefusedDying)
		return
	}
	if err := e.cap.Check(parent.ID, liveAtStart); err != nil {
		e.logger.Debug("replication refused", "step", step, "error", err)
		refuse(RefusedCap)
		return
	}

	g := parent.Genome.Mutate(e.rng, e.sc.MutationRate)
	lineage := genome.Classify(g, e.sc.Lineage)
	child := cell.NewState(e.newCellID(), g, lineage)
	child.Energy = act.Cost
	if parent.Memory != nil {
		child.Memory = append([]cell.ThreatEvent(nil), parent.Memory...)
	}
	if err := e.admit(&child); err != nil {
		// Child ids come from a counter; a clash means the authority is
		// out of sync with the arena.
		e.logger.Error("child provisioning failed", "step", step, "error", err)
		refuse(RefusedProvision)
		return
	}

	e.emit(telemetry.Event{Kind: telemetry.KindCellReplicated, Cell: parent.ID, Peer: child.ID, Lineage: string(lineage), Value: act.Cost})
	if lineage != parent.Lineage {
		e.emit(telemetry.Event{Kind: telemetry.KindLineageShift, Cell: child.ID, Reason: string(parent.Lineage), Lineage: string(lineage)})
	}
	if e.router.Strategy == signal.StrategyGraph {
		if added, _ := e.topology.Connect(parent.ID, child.ID); added {
			e.emit(telemetry.Event{Kind: telemetry.KindLinkAdded, Cell: parent.ID, Peer: child.ID, Reason: linkReplication})
		}
	}
}

func (e *Engine) disconnect(id, peer, reason string) {
	if !e.alive(peer) || id == peer {
		return
	}
	removed, blacklisted := e.topology.Disconnect(id, peer)
	if removed {
		e.emit(telemetry.Event{Kind: telemetry.KindLinkRemoved, Cell: id, Peer: peer, Reason: reason})
	}
	if blacklisted {
		e.emit(telemetry.Event{Kind: telemetry.KindPeerQuarantined, Cell: id, Peer: peer, Reason: reason})
	}
}

func (e *Engine) connect(id, peer string) {
	if !e.alive(peer) || id == peer {
		return
	}
	var changed bool
	if e.router.Strategy == signal.StrategyGraph {
		added, unblocked := e.topology.Connect(id, peer)
		changed = added || unblocked
	} else {
		changed = e.topology.Unblock(id, peer)
	}
	if changed {
		e.emit(telemetry.Event{Kind: telemetry.KindLinkAdded, Cell: id, Peer: peer, Reason: linkReconnect})
	}
}

// report turns an anomaly report into a signed vote for the next step.
func (e *Engine) report(st *cell.State, step int64, act cell.ReportAnomaly) {
	e.emit(telemetry.Event{
		Kind:  telemetry.KindAnomalyDetected,
		Cell:  st.ID,
		Peer:  act.Suspect,
		Value: act.Confidence,
		Prior: act.Magnitude,
	})
	if act.Suspect == "" {
		return
	}
	weight := math.Min(1, math.Max(0, act.Confidence))
	e.publishFrom(st.ID, step, signal.TopicAnomalyVote, weight, act.Suspect)
}

// publishFrom puts a cell's signal on the bus, signing consensus-class
// topics. A compromised TPM refuses, and the signal goes out unattested.
func (e *Engine) publishFrom(id string, step int64, topic string, value float64, target string) {
	s := signal.Signal{Topic: topic, Value: value, Source: id, Target: target, Step: step}
	if signal.IsConsensusClass(topic) {
		att, err := e.tpms[id].Sign(s.Payload())
		if err != nil {
			e.logger.Debug("tpm refused to sign", "step", step, "cell", id, "error", err)
		} else {
			s.Attestation = att
		}
	}
	e.bus.Publish(s)

	kind := telemetry.KindSignalEmitted
	if signal.IsVote(topic) {
		kind = telemetry.KindVoteCast
	}
	e.emit(telemetry.Event{Kind: kind, Cell: id, Peer: target, Topic: topic, Value: value})
}

// consensus runs the trust phase over the deliveries of this step, then
// tallies votes and quarantines targets that reached quorum.
func (e *Engine) consensus(step int64, live []string, deliveries map[string][]signal.Delivery, attested []bool) {
	for _, observer := range live {
		obs := e.cells[observer]
		if obs.Dead {
			continue
		}
		for _, d := range deliveries[observer] {
			s := d.Signal
			if !signal.IsConsensusClass(s.Topic) || s.External() || !e.alive(s.Source) {
				continue
			}
			ok := attested[d.Index]
			before, after := immune.UpdateTrust(obs.Trust, s.Source, ok, e.sc.Trust)
			e.emit(telemetry.Event{Kind: telemetry.KindTrustUpdated, Cell: observer, Peer: s.Source, Topic: s.Topic, Value: after, Prior: before})

			if !ok || !signal.IsVote(s.Topic) || after < obs.Genome.MinTrustThreshold || !e.alive(s.Target) {
				continue
			}
			e.ledger.Record(immune.Vote{
				Voter:  s.Source,
				Target: s.Target,
				Topic:  s.Topic,
				Weight: math.Min(1, math.Max(0, s.Value)),
				Step:   step,
			})
		}
	}

	for _, q := range e.ledger.Tally(step, e.sc.Quorum) {
		e.logger.Debug("quarantine reached quorum", "step", step, "target", q.Target, "weight", q.Weight, "voters", len(q.Voters))
		for _, voter := range q.Voters {
			if e.alive(voter) {
				e.disconnect(voter, q.Target, string(cell.ReasonConsensus))
			}
		}
		e.ledger.Clear(q.Target)
	}
}

// purge removes every dead cell from every structure.
func (e *Engine) purge(step int64) {
	var dead []string
	for id, st := range e.cells {
		if st.Dead {
			dead = append(dead, id)
		}
	}
	sort.Slice(dead, func(i, j int) bool { return cellIDLess(dead[i], dead[j]) })

	for _, id := range dead {
		for _, edge := range e.topology.RemoveCell(id) {
			e.emit(telemetry.Event{Kind: telemetry.KindLinkRemoved, Cell: edge.A, Peer: edge.B, Reason: linkDeath})
		}
		purged := e.bus.PurgeFrom(id) + e.bus.PurgeTo(id)
		e.ledger.Forget(id)
		e.authority.Revoke(id)
		delete(e.tpms, id)
		delete(e.cells, id)
		for _, st := range e.cells {
			delete(st.Trust, id)
		}
		e.logger.Debug("cell purged", "step", step, "cell", id, "signals_dropped", purged)
	}
}

// enforceCap kills the newest cells while the population is over the cap.
func (e *Engine) enforceCap(step int64) {
	ids := e.liveIDs()
	if !e.cap.Exceeded(len(ids)) {
		return
	}
	for i := len(ids) - 1; i >= e.cap.Limit(); i-- {
		st := e.cells[ids[i]]
		st.Dead = true
		e.emit(telemetry.Event{Kind: telemetry.KindCellDied, Cell: st.ID, Reason: cell.DeathCap, Lineage: string(st.Lineage)})
	}
	e.purge(step)
}

func (e *Engine) summarize(step int64, threat float64) {
	ids := e.liveIDs()
	pop := telemetry.PopulationStats{Lineages: make(map[string]int)}
	for _, id := range ids {
		st := e.cells[id]
		pop.AvgEnergy += st.Energy
		pop.AvgStress += st.Stress
		pop.Lineages[string(st.Lineage)]++
	}
	if n := float64(len(ids)); n > 0 {
		pop.AvgEnergy /= n
		pop.AvgStress /= n
	}

	e.emit(telemetry.Event{
		Kind: telemetry.KindStepSummary,
		Summary: &telemetry.StepSummary{
			Threat:     threat,
			CellCount:  len(ids),
			Population: pop,
			Topology:   e.router.Stats(),
		},
	})
	e.logger.Debug("step complete", "step", step, "cells", len(ids), "threat", threat)
}

// admit registers a new cell with the arena, topology and authority.
func (e *Engine) admit(st *cell.State) error {
	tpm, err := e.authority.Provision(st.ID, e.compromised[st.ID])
	if err != nil {
		return newProvisionError(st.ID, err)
	}
	e.tpms[st.ID] = tpm
	e.cells[st.ID] = st
	e.topology.AddCell(st.ID)
	return nil
}

func (e *Engine) newCellID() string {
	id := fmt.Sprintf("cell-%05d", e.nextID)
	e.nextID++
	return id
}

func (e *Engine) alive(id string) bool {
	st, ok := e.cells[id]
	return ok && !st.Dead
}

// liveIDs returns the ids of cells not marked dead in creation order.
func (e *Engine) liveIDs() []string {
	ids := make([]string, 0, len(e.cells))
	for id, st := range e.cells {
		if !st.Dead {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return cellIDLess(ids[i], ids[j]) })
	return ids
}

// cellIDLess orders ids by their counter. The counter is zero-padded to five
// digits and grows wider past 99999, so a longer id is always newer.
func cellIDLess(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}

func (e *Engine) emit(ev telemetry.Event) {
	e.clock.Stamp(&ev)
	e.sink.Record(ev)
}
