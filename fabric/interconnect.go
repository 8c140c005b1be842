package fabric

import (
	"github.com/pkg/errors"

	"github.com/Readm/wb_sim/bus"
	"github.com/Readm/wb_sim/hooks"
	"github.com/Readm/wb_sim/logger"
)

// Slot binds one decode table entry to the target port it selects.
type Slot struct {
	Entry MapEntry
	Port  *bus.Port
}

// ResolvedEntry is one row of the resolved address map.
type ResolvedEntry struct {
	Index   int          `json:"index"`
	Target  string       `json:"target"`
	Pattern uint32       `json:"pattern"`
	Width   uint         `json:"width"`
	Range   AddressRange `json:"range"`
}

// Option customizes an Interconnect.
type Option func(*options)

type options struct {
	addressWidth uint
	offset       uint
	registered   bool
	policy       SwitchPolicy
	broker       *hooks.Broker
	log          *logger.Logger
}

// WithOffset excludes the top offset address bits from decoding.
func WithOffset(offset uint) Option {
	return func(o *options) { o.offset = offset }
}

// WithRegistered enables the one-cycle registered response select.
func WithRegistered(registered bool) Option {
	return func(o *options) { o.registered = registered }
}

// WithSwitchPolicy sets the arbiter switch policy.
func WithSwitchPolicy(p SwitchPolicy) Option {
	return func(o *options) { o.policy = p }
}

// WithAddressWidth narrows the decoded address (default 32 bits).
func WithAddressWidth(w uint) Option {
	return func(o *options) { o.addressWidth = w }
}

// WithBroker routes fabric events to the broker's hooks.
func WithBroker(b *hooks.Broker) Option {
	return func(o *options) { o.broker = b }
}

// WithLogger overrides the package default logger.
func WithLogger(l *logger.Logger) Option {
	return func(o *options) { o.log = l }
}

// forwardFields are the initiator-driven fields copied from the grantee to
// every target; cycle_valid is fanned out separately.
var forwardFields = func() []bus.Field {
	var out []bus.Field
	for _, f := range bus.FieldsByDirection(bus.InitiatorToTarget) {
		if f != bus.CycleValid {
			out = append(out, f)
		}
	}
	return out
}()

// Interconnect is the shared-bus fabric: N initiator sockets arbitrated onto a
// single trunk that is decoded to one of M target sockets. A step runs
// Forward, then the targets respond on their ports, then Respond, then Commit.
type Interconnect struct {
	initiators []*bus.Port
	targets    []*bus.Port
	shared     *bus.Port

	arbiter *Arbiter
	decoder *Decoder

	broker *hooks.Broker
	log    *logger.Logger

	cycle      uint64
	grant      Grant
	sel        Select
	selR       Select
	violations uint64
	lastErr    *ProtocolViolation
}

// NewInterconnect builds the fabric. The ports stay owned by the caller; the
// fabric only reads and writes their fields during a step.
func NewInterconnect(initiators []*bus.Port, targets []Slot, opts ...Option) (*Interconnect, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if len(initiators) == 0 {
		return nil, configErrorf(nil, "interconnect needs at least one initiator")
	}
	if len(targets) == 0 {
		return nil, configErrorf(nil, "interconnect needs at least one target")
	}
	for i, p := range initiators {
		if p == nil {
			return nil, configErrorf(nil, "initiator %d has no port", i)
		}
	}
	entries := make([]MapEntry, len(targets))
	ports := make([]*bus.Port, len(targets))
	for i, s := range targets {
		if s.Port == nil {
			return nil, configErrorf(nil, "target %d has no port", i)
		}
		entries[i] = s.Entry
		ports[i] = s.Port
	}

	arb, err := NewArbiter(len(initiators), WithPolicy(o.policy))
	if err != nil {
		return nil, errors.Wrap(err, "build arbiter")
	}
	dec, err := NewDecoder(entries, DecoderOptions{
		AddressWidth: o.addressWidth,
		Offset:       o.offset,
		Registered:   o.registered,
	})
	if err != nil {
		return nil, errors.Wrap(err, "build decoder")
	}

	log := o.log
	if log == nil {
		log = logger.Get()
	}
	ins := make([]*bus.Port, len(initiators))
	copy(ins, initiators)

	return &Interconnect{
		initiators: ins,
		targets:    ports,
		shared:     bus.NewPort("shared"),
		arbiter:    arb,
		decoder:    dec,
		broker:     o.broker,
		log:        log,
		grant:      NoGrant,
	}, nil
}

// Forward runs the initiator-to-target half of a step: request aggregation,
// arbitration, the forward mux onto the trunk and every target, address decode
// and the cycle_valid fan-out to the selected target only.
func (ic *Interconnect) Forward() {
	var req RequestVector
	for i, p := range ic.initiators {
		if p.Asserted(bus.CycleValid) {
			req = req.With(i)
		}
	}
	ic.grant = ic.arbiter.Evaluate(req)
	if ic.grant == NoGrant {
		ic.shared.Clear(bus.InitiatorToTarget)
	} else {
		ic.shared.CopyFrom(ic.initiators[ic.grant], bus.InitiatorToTarget)
	}

	addr := ic.shared.Get(bus.Address)
	ic.sel, ic.selR = ic.decoder.Evaluate(addr)

	cyc := ic.shared.Asserted(bus.CycleValid)
	for t, tp := range ic.targets {
		for _, f := range forwardFields {
			tp.Set(f, ic.shared.Get(f))
		}
		tp.Drive(bus.CycleValid, cyc && ic.sel.Has(t))
	}

	if ic.broker.HasGrantHooks() {
		ic.emit(ic.broker.EmitGrant(&hooks.GrantContext{
			Cycle:    ic.cycle,
			Requests: uint64(req),
			Grant:    int(ic.grant),
		}))
	}
	if cyc && ic.broker.HasDecodeHooks() {
		ic.emit(ic.broker.EmitDecode(&hooks.DecodeContext{
			Cycle:   ic.cycle,
			Address: addr,
			Select:  uint64(ic.sel),
			Target:  ic.sel.Index(),
		}))
	}
	if cyc && ic.sel == 0 {
		ic.log.Debugf("cycle %d: address 0x%08x from initiator %s matches no target", ic.cycle, addr, ic.grant)
	}
}

// Respond runs the target-to-initiator half of a step: ack/err OR-reduction,
// the one-hot read data mux, and back-routing in which only the grantee sees
// ack and err. Targets asserting a response without cycle_valid are reported
// and still take part in the OR-reduction.
func (ic *Interconnect) Respond() {
	var ack, fail bool
	var data uint32
	for t, tp := range ic.targets {
		a := tp.Asserted(bus.Acknowledge)
		e := tp.Asserted(bus.Error)
		if !tp.Asserted(bus.CycleValid) {
			if a {
				ic.reportViolation(t, AckWithoutCycle)
			}
			if e {
				ic.reportViolation(t, ErrWithoutCycle)
			}
		}
		ack = ack || a
		fail = fail || e
		if ic.selR.Has(t) {
			data |= tp.Get(bus.ReadData)
		}
	}

	ic.shared.Set(bus.ReadData, data)
	ic.shared.Drive(bus.Acknowledge, ack)
	ic.shared.Drive(bus.Error, fail)

	for i, ip := range ic.initiators {
		owner := Grant(i) == ic.grant
		ip.Set(bus.ReadData, data)
		ip.Drive(bus.Acknowledge, ack && owner)
		ip.Drive(bus.Error, fail && owner)
	}

	if ic.grant != NoGrant && (ack || fail) {
		ic.emit(ic.broker.EmitCompletion(&hooks.CompletionContext{
			Cycle:     ic.cycle,
			Initiator: int(ic.grant),
			Target:    ic.sel.Index(),
			Ack:       ack,
			Err:       fail,
			ReadData:  data,
		}))
	}
}

// Commit is the clock edge: it latches the arbiter pointer and, in registered
// mode, the delayed select, then advances the cycle counter.
func (ic *Interconnect) Commit() {
	ic.arbiter.Commit()
	ic.decoder.Commit()
	ic.cycle++
}

// Step evaluates a full cycle against the target responses already present
// on the target ports.
func (ic *Interconnect) Step() {
	ic.Forward()
	ic.Respond()
	ic.Commit()
}

// Reset returns the fabric to its power-on state. Port values are untouched.
func (ic *Interconnect) Reset() {
	ic.arbiter.Reset()
	ic.decoder.Reset()
	ic.shared.Clear(bus.InitiatorToTarget)
	ic.shared.Clear(bus.TargetToInitiator)
	ic.cycle = 0
	ic.grant = NoGrant
	ic.sel = 0
	ic.selR = 0
	ic.violations = 0
	ic.lastErr = nil
}

func (ic *Interconnect) reportViolation(target int, kind ViolationKind) {
	v := ProtocolViolation{
		Cycle:      ic.cycle,
		Target:     target,
		TargetName: ic.targets[target].Name(),
		Kind:       kind,
	}
	ic.violations++
	ic.lastErr = &v
	ic.log.Warnf("%v", v)
	ic.emit(ic.broker.EmitViolation(&hooks.ViolationContext{
		Cycle:      v.Cycle,
		Target:     v.Target,
		TargetName: v.TargetName,
		Kind:       string(v.Kind),
	}))
}

func (ic *Interconnect) emit(err error) {
	if err != nil {
		ic.log.Errorf("cycle %d: hook failed: %v", ic.cycle, err)
	}
}

// Cycle returns the number of committed cycles.
func (ic *Interconnect) Cycle() uint64 { return ic.cycle }

// Grant returns the initiator owning the trunk in the current cycle.
func (ic *Interconnect) Grant() Grant { return ic.grant }

// Requests returns the request vector of the current cycle.
func (ic *Interconnect) Requests() RequestVector { return ic.arbiter.Request() }

// Select returns the combinational target select.
func (ic *Interconnect) Select() Select { return ic.sel }

// SelectRegistered returns the select gating the response data mux.
func (ic *Interconnect) SelectRegistered() Select { return ic.selR }

// Shared returns a snapshot of the trunk.
func (ic *Interconnect) Shared() bus.PortState { return ic.shared.Snapshot() }

// Violations returns the number of protocol violations seen since reset.
func (ic *Interconnect) Violations() uint64 { return ic.violations }

// LastViolation returns the most recent protocol violation, if any.
func (ic *Interconnect) LastViolation() (ProtocolViolation, bool) {
	if ic.lastErr == nil {
		return ProtocolViolation{}, false
	}
	return *ic.lastErr, true
}

// NumInitiators returns N.
func (ic *Interconnect) NumInitiators() int { return len(ic.initiators) }

// NumTargets returns M.
func (ic *Interconnect) NumTargets() int { return len(ic.targets) }

// Registered reports whether the response select is registered.
func (ic *Interconnect) Registered() bool { return ic.decoder.Registered() }

// Policy returns the arbiter switch policy.
func (ic *Interconnect) Policy() SwitchPolicy { return ic.arbiter.Policy() }

// AddressMap returns the resolved address map, one row per target.
func (ic *Interconnect) AddressMap() []ResolvedEntry {
	entries := ic.decoder.Entries()
	ranges := ic.decoder.Ranges()
	out := make([]ResolvedEntry, len(entries))
	for i, e := range entries {
		out[i] = ResolvedEntry{
			Index:   i,
			Target:  ic.targets[i].Name(),
			Pattern: e.Pattern,
			Width:   e.Width,
			Range:   ranges[i],
		}
	}
	return out
}
