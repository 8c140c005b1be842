package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/Readm/wb_sim/bus"
	"github.com/Readm/wb_sim/device"
	"github.com/Readm/wb_sim/fabric"
	"github.com/Readm/wb_sim/hooks"
	"github.com/Readm/wb_sim/initiator"
	"github.com/Readm/wb_sim/logger"
	"github.com/Readm/wb_sim/plugins/checker"
	"github.com/Readm/wb_sim/plugins/tracer"
	"github.com/Readm/wb_sim/visual"
)

// scriptStepLimit bounds how long a blocking script access may run.
const scriptStepLimit = 1 << 20

// Simulator owns the ports, devices and issuers around one Interconnect and
// steps them in lockstep. It is driven either by Run or, one access at a
// time, by a script through Read/Write/Step.
type Simulator struct {
	mu sync.Mutex

	cfg        *Config
	initPorts  []*bus.Port
	issuers    []*initiator.Issuer
	targets    []device.Target
	fabric     *fabric.Interconnect
	broker     *hooks.Broker
	checker    *checker.Checker
	tracer     *tracer.Recorder
	generator  RequestGenerator
	visualizer visual.Visualizer
	log        *logger.Logger

	reserved    map[int]bool
	completions []CompletionRecord
	current     uint64

	isPaused  bool
	isRunning bool
}

// NewSimulator validates cfg and builds the fabric it describes.
func NewSimulator(cfg *Config) (*Simulator, error) {
	s := &Simulator{
		visualizer: visual.NullVisualizer{},
		log:        logger.Get(),
		reserved:   make(map[int]bool),
	}
	if err := s.build(cfg); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Simulator) build(cfg *Config) error {
	if err := ValidateConfig(cfg); err != nil {
		return errors.Wrap(err, "invalid config")
	}

	initPorts := make([]*bus.Port, cfg.NumInitiators)
	for i := range initPorts {
		initPorts[i] = bus.NewPort(initiatorName(i))
	}
	slots := make([]fabric.Slot, len(cfg.Targets))
	targets := make([]device.Target, len(cfg.Targets))
	entries := cfg.MapEntries()
	for i, tc := range cfg.Targets {
		port := bus.NewPort(tc.Name)
		fault, _ := device.ParseFaultMode(tc.Fault)
		dev, err := device.New(device.Params{
			Name:       tc.Name,
			Kind:       device.Kind(tc.Kind),
			WaitStates: tc.WaitStates,
			Words:      tc.Words,
			Fault:      fault,
		}, port)
		if err != nil {
			return errors.Wrapf(err, "target %s", tc.Name)
		}
		targets[i] = dev
		slots[i] = fabric.Slot{Entry: entries[i], Port: port}
	}

	broker := hooks.NewBroker()
	chk := checker.New(checker.Options{Initiators: cfg.NumInitiators, Targets: len(cfg.Targets)})
	if err := checker.Register(broker, chk); err != nil {
		return err
	}
	rec := tracer.New(cfg.TraceDepth)
	if err := tracer.Register(broker, rec); err != nil {
		return err
	}

	opts := []fabric.Option{
		fabric.WithOffset(cfg.Offset),
		fabric.WithRegistered(cfg.Registered),
		fabric.WithSwitchPolicy(cfg.Policy()),
		fabric.WithBroker(broker),
		fabric.WithLogger(s.log),
	}
	if cfg.AddressWidth != 0 {
		opts = append(opts, fabric.WithAddressWidth(cfg.AddressWidth))
	}
	ic, err := fabric.NewInterconnect(initPorts, slots, opts...)
	if err != nil {
		return errors.Wrap(err, "build interconnect")
	}

	issuers := make([]*initiator.Issuer, cfg.NumInitiators)
	for i, p := range initPorts {
		issuers[i] = initiator.New(i, p, initiator.Options{
			QueueDepth: cfg.QueueDepth,
			MaxWait:    cfg.MaxWait,
			Logger:     s.log,
			OnComplete: s.onComplete,
		})
	}

	s.cfg = cfg
	s.initPorts = initPorts
	s.issuers = issuers
	s.targets = targets
	s.fabric = ic
	s.broker = broker
	s.checker = chk
	s.tracer = rec
	s.generator = NewRequestGenerator(cfg, ic.AddressMap())
	s.completions = nil
	s.current = 0
	s.isPaused = false
	return nil
}

func initiatorName(i int) string {
	return fmt.Sprintf("m%d", i)
}

func (s *Simulator) onComplete(ini int, txn *initiator.Txn) {
	s.completions = append(s.completions, CompletionRecord{Initiator: ini, Txn: *txn})
	metrics.RecordCompletion(txn.Status == initiator.StatusOK)
	s.log.Debugf("cycle %d: m%d completed %v", txn.Finished, ini, txn)
}

// SetVisualizer attaches a front end. Nil restores the headless default.
func (s *Simulator) SetVisualizer(v visual.Visualizer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v == nil {
		v = visual.NullVisualizer{}
	}
	s.visualizer = v
}

// SetLogger replaces the logger used by the simulator and the fabric it
// builds next.
func (s *Simulator) SetLogger(l *logger.Logger) {
	if l != nil {
		s.log = l
	}
}

// ReserveInitiator stops random or scheduled traffic on initiator i so a
// script can own it.
func (s *Simulator) ReserveInitiator(i int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reserved[i] = true
}

// Config returns the running configuration.
func (s *Simulator) Config() *Config { return s.cfg }

// Fabric exposes the interconnect.
func (s *Simulator) Fabric() *fabric.Interconnect {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fabric
}

// Tracer exposes the event history.
func (s *Simulator) Tracer() *tracer.Recorder {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracer
}

// TraceEvents returns the history of the current fabric, surviving resets.
func (s *Simulator) TraceEvents() []tracer.Event {
	return s.Tracer().Events()
}

// Issuer returns initiator i's issuer.
func (s *Simulator) Issuer(i int) *initiator.Issuer { return s.issuers[i] }

// Target returns target i's device.
func (s *Simulator) Target(i int) device.Target { return s.targets[i] }

// StepCycle evaluates one bus cycle: traffic generation, initiator drive,
// fabric forward, target response, fabric response, initiator observe, target
// clock, fabric commit.
func (s *Simulator) StepCycle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stepLocked()
}

func (s *Simulator) stepLocked() {
	cycle := s.current
	s.completions = s.completions[:0]

	for i, is := range s.issuers {
		if s.reserved[i] {
			continue
		}
		for _, txn := range s.generator.Generate(cycle, i) {
			is.Submit(txn, cycle)
		}
	}
	for _, is := range s.issuers {
		is.Drive(cycle)
	}
	s.fabric.Forward()
	for _, t := range s.targets {
		t.Respond(cycle)
	}
	s.fabric.Respond()
	for _, is := range s.issuers {
		is.Observe(cycle)
	}
	for _, t := range s.targets {
		t.Clock(cycle)
	}
	busy := s.fabric.Grant() != fabric.NoGrant
	s.fabric.Commit()
	s.current++
	metrics.RecordCycle(busy)
}

// Cycle returns the number of completed cycles.
func (s *Simulator) Cycle() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Run steps until TotalCycles, honouring pause/resume/step/reset commands
// from the visualizer, and returns ctx.Err() if cancelled.
func (s *Simulator) Run(ctx context.Context) error {
	s.mu.Lock()
	s.isRunning = true
	s.isPaused = false
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.mu.Lock()
		viz := s.visualizer
		done := s.current >= s.cfg.TotalCycles
		paused := s.isPaused
		s.mu.Unlock()
		if done {
			s.publish()
			return nil
		}

		steps := 1
		if paused {
			steps = 0
		}
		if cmd, ok := viz.NextCommand(); ok {
			steps = s.apply(cmd)
		}
		if steps == 0 {
			s.mu.Lock()
			paused = s.isPaused
			s.mu.Unlock()
			if paused {
				if cmd, ok := viz.WaitCommand(ctx); ok {
					s.runSteps(ctx, s.apply(cmd))
				}
			}
			continue
		}
		s.runSteps(ctx, steps)
	}
}

func (s *Simulator) apply(cmd visual.ControlCommand) int {
	steps, err := s.handleCommand(cmd)
	if err != nil {
		s.log.Errorf("control command %s rejected: %v", cmd.Type, err)
		return 0
	}
	return steps
}

func (s *Simulator) runSteps(ctx context.Context, n int) {
	for i := 0; i < n; i++ {
		s.mu.Lock()
		if s.current >= s.cfg.TotalCycles {
			s.mu.Unlock()
			return
		}
		s.stepLocked()
		viz := s.visualizer
		delay := time.Duration(s.cfg.FrameDelay) * time.Millisecond
		s.mu.Unlock()

		if !viz.IsHeadless() {
			s.publish()
			if delay > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(delay):
				}
			}
		}
	}
}

// handleCommand applies cmd and returns how many cycles to run next.
func (s *Simulator) handleCommand(cmd visual.ControlCommand) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch cmd.Type {
	case visual.CommandPause:
		s.isPaused = true
		return 0, nil
	case visual.CommandResume:
		s.isPaused = false
		return 1, nil
	case visual.CommandStep:
		if !s.isPaused {
			return 1, nil
		}
		if cmd.Cycles <= 0 {
			return 1, nil
		}
		return cmd.Cycles, nil
	case visual.CommandReset:
		cfg := s.cfg.Clone()
		if override, ok := cmd.ConfigOverride.(*Config); ok && override != nil {
			cfg = override.Clone()
		}
		paused := s.isPaused
		if err := s.build(cfg); err != nil {
			return 0, err
		}
		s.isPaused = paused
		return 0, nil
	}
	if s.isPaused {
		return 0, nil
	}
	return 1, nil
}

// Reset rebuilds the fabric from cfg, or from the running configuration
// when cfg is nil.
func (s *Simulator) Reset(cfg *Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg == nil {
		cfg = s.cfg.Clone()
	}
	return s.build(cfg)
}

func (s *Simulator) publish() {
	frame := s.BuildFrame()
	s.mu.Lock()
	viz := s.visualizer
	s.mu.Unlock()
	viz.PublishFrame(frame)
}

// BuildFrame snapshots the state left by the last completed cycle.
func (s *Simulator) BuildFrame() *SimulationFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	ic := s.fabric
	frame := &SimulationFrame{
		Cycle:            s.current,
		Requests:         ic.Requests().Format(ic.NumInitiators()),
		Grant:            int(ic.Grant()),
		Select:           ic.Select().Index(),
		SelectRegistered: ic.SelectRegistered().Index(),
		Shared:           ic.Shared().Map(),
		Violations:       ic.Violations(),
		AddressMap:       ic.AddressMap(),
		Completions:      append([]CompletionRecord(nil), s.completions...),
		Stats:            s.collectStatsLocked(),
	}
	for i, p := range s.initPorts {
		snap := snapshotPort(i, p)
		is := s.issuers[i]
		snap.Pending = is.Pending()
		if cur := is.Current(); cur != nil {
			c := *cur
			snap.Current = &c
		}
		frame.Initiators = append(frame.Initiators, snap)
	}
	for i, t := range s.targets {
		snap := snapshotPort(i, t.Port())
		snap.Kind = s.cfg.Targets[i].Kind
		frame.Targets = append(frame.Targets, snap)
	}
	return frame
}

// CollectStats aggregates issuer, checker and fabric counters.
func (s *Simulator) CollectStats() *SimulationStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.collectStatsLocked()
}

func (s *Simulator) collectStatsLocked() *SimulationStats {
	counters := s.checker.Snapshot()
	g := &GlobalStats{
		Cycles:        s.current,
		DecodeMisses:  counters.DecodeMisses,
		Violations:    s.fabric.Violations(),
		CheckFailures: len(counters.Failures),
	}
	var sumLatency uint64
	first := true
	per := make([]*InitiatorStats, len(s.issuers))
	for i, is := range s.issuers {
		st := is.Stats()
		finished := st.Completed + st.Errors + st.Timeouts
		row := &InitiatorStats{
			Name:       s.initPorts[i].Name(),
			Submitted:  st.Submitted,
			Rejected:   st.Rejected,
			Completed:  st.Completed,
			Errors:     st.Errors,
			Timeouts:   st.Timeouts,
			Grants:     counters.Grants[i],
			AvgLatency: st.AvgLatency(),
			MaxLatency: st.MaxLatency,
			MinLatency: st.MinLatency,
			QueuePeak:  st.QueuePeak,
		}
		if finished > 0 {
			row.AvgWait = float64(st.SumWait) / float64(finished)
			if first || st.MinLatency < g.MinLatency {
				g.MinLatency = st.MinLatency
				first = false
			}
			if st.MaxLatency > g.MaxLatency {
				g.MaxLatency = st.MaxLatency
			}
		}
		per[i] = row
		g.Submitted += st.Submitted
		g.Completed += st.Completed
		g.Errors += st.Errors
		g.Timeouts += st.Timeouts
		sumLatency += st.SumLatency
	}
	finished := g.Completed + g.Errors + g.Timeouts
	if finished > 0 {
		g.AvgLatency = float64(sumLatency) / float64(finished)
	}
	g.CompletionRate = percent(g.Completed, g.Submitted)
	g.BusUtilization = percent(counters.BusyCycles, counters.Cycles)

	amap := s.fabric.AddressMap()
	targets := make([]*TargetStats, len(s.targets))
	for i := range s.targets {
		targets[i] = &TargetStats{
			Name:       amap[i].Target,
			Kind:       s.cfg.Targets[i].Kind,
			Range:      amap[i].Range.String(),
			Selected:   counters.Selects[i],
			Violations: counters.Violations[i],
		}
	}
	return &SimulationStats{Global: g, PerInitiator: per, PerTarget: targets}
}

// Read performs a blocking read on the first reserved initiator (initiator 0
// if none is reserved).
func (s *Simulator) Read(addr uint32) (uint32, error) {
	txn, err := s.access(initiator.NewRead(addr))
	if err != nil {
		return 0, err
	}
	return txn.Data, nil
}

// Write performs a blocking full-word write.
func (s *Simulator) Write(addr, value uint32) error {
	_, err := s.access(initiator.NewWrite(addr, value))
	return err
}

// Step advances n cycles.
func (s *Simulator) Step(n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < n; i++ {
		s.stepLocked()
	}
	return nil
}

func (s *Simulator) scriptInitiator() int {
	best := -1
	for i := range s.reserved {
		if best < 0 || i < best {
			best = i
		}
	}
	if best < 0 || best >= len(s.issuers) {
		return 0
	}
	return best
}

func (s *Simulator) access(txn *initiator.Txn) (*initiator.Txn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	is := s.issuers[s.scriptInitiator()]
	if !is.Submit(txn, s.current) {
		return nil, errors.Errorf("initiator %s queue full", is.Port().Name())
	}
	for i := 0; txn.Status == initiator.StatusPending; i++ {
		if i >= scriptStepLimit {
			return nil, errors.Errorf("access 0x%08x still pending after %d cycles", txn.Address, i)
		}
		s.stepLocked()
	}
	switch txn.Status {
	case initiator.StatusError:
		return txn, errors.Errorf("bus error at 0x%08x (cycle %d)", txn.Address, txn.Finished)
	case initiator.StatusTimeout:
		return txn, errors.Errorf("no response from 0x%08x within %d cycles", txn.Address, s.cfg.MaxWait)
	}
	return txn, nil
}
