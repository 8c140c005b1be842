package fabric

import (
	"bytes"
	"math/rand"
	"strings"
	"testing"

	"github.com/pkg/errors"

	"github.com/Readm/wb_sim/bus"
	"github.com/Readm/wb_sim/hooks"
	"github.com/Readm/wb_sim/logger"
)

type testBench struct {
	initiators []*bus.Port
	targets    []*bus.Port
	ic         *Interconnect
	logBuf     *bytes.Buffer
}

func newBench(t *testing.T, n int, entries []MapEntry, opts ...Option) *testBench {
	t.Helper()
	b := &testBench{logBuf: &bytes.Buffer{}}
	for i := 0; i < n; i++ {
		b.initiators = append(b.initiators, bus.NewPort("m"+string(rune('0'+i))))
	}
	slots := make([]Slot, len(entries))
	for i, e := range entries {
		p := bus.NewPort("s" + string(rune('A'+i)))
		b.targets = append(b.targets, p)
		slots[i] = Slot{Entry: e, Port: p}
	}
	opts = append(opts, WithLogger(logger.NewWithWriter(b.logBuf, logger.LevelWarn, "")))
	ic, err := NewInterconnect(b.initiators, slots, opts...)
	if err != nil {
		t.Fatalf("NewInterconnect: %v", err)
	}
	b.ic = ic
	return b
}

func (b *testBench) request(i int, addr uint32) {
	p := b.initiators[i]
	p.Drive(bus.CycleValid, true)
	p.Drive(bus.Strobe, true)
	p.Set(bus.Address, addr)
}

func (b *testBench) idle(i int) {
	b.initiators[i].Clear(bus.InitiatorToTarget)
}

// zeroWaitTargets acks every selected strobe in the same cycle and returns
// data on its read port.
func (b *testBench) zeroWaitTargets(data ...uint32) {
	for t, p := range b.targets {
		on := p.Asserted(bus.CycleValid) && p.Asserted(bus.Strobe)
		p.Drive(bus.Acknowledge, on)
		if t < len(data) {
			p.Set(bus.ReadData, data[t])
		}
	}
}

func (b *testBench) cycle(data ...uint32) {
	b.ic.Forward()
	b.zeroWaitTargets(data...)
	b.ic.Respond()
	b.ic.Commit()
}

func TestConcreteScenario(t *testing.T) {
	b := newBench(t, 3, UniformPatterns(0, 1))

	// cycle 1: initiators 0 and 2 request, 1 idle
	b.request(0, 0x00000010)
	b.request(2, 0x80000000)
	b.ic.Forward()
	if g := b.ic.Grant(); g != 0 {
		t.Fatalf("cycle 1: expected grant 0, got %v", g)
	}
	if !b.targets[0].Asserted(bus.CycleValid) {
		t.Fatalf("cycle 1: target A cycle_valid should be asserted")
	}
	if b.targets[1].Asserted(bus.CycleValid) {
		t.Fatalf("cycle 1: target B cycle_valid should be deasserted")
	}
	if b.targets[1].Get(bus.Address) != 0x00000010 {
		t.Fatalf("forwarded address should reach every target")
	}
	b.zeroWaitTargets()
	b.ic.Respond()
	b.ic.Commit()

	// cycle 2: initiator 0 drops, 2 still requests
	b.idle(0)
	b.ic.Forward()
	if g := b.ic.Grant(); g != 2 {
		t.Fatalf("cycle 2: expected grant 2, got %v", g)
	}
	if b.targets[0].Asserted(bus.CycleValid) || !b.targets[1].Asserted(bus.CycleValid) {
		t.Fatalf("cycle 2: expected only target B enabled")
	}
}

func TestMutualExclusionRandomTraffic(t *testing.T) {
	for _, registered := range []bool{false, true} {
		b := newBench(t, 4, []MapEntry{Pattern(0, 1), Pattern(0b10, 2), Pattern(0b110, 3)},
			WithRegistered(registered))
		rng := rand.New(rand.NewSource(7))
		for c := 0; c < 500; c++ {
			for i := range b.initiators {
				if rng.Intn(2) == 0 {
					b.request(i, rng.Uint32())
				} else {
					b.idle(i)
				}
			}
			b.ic.Forward()
			enabled := 0
			for _, tp := range b.targets {
				if tp.Asserted(bus.CycleValid) {
					enabled++
				}
			}
			if enabled > 1 {
				t.Fatalf("cycle %d: %d targets enabled", c, enabled)
			}
			if b.ic.Select().Count() > 1 || b.ic.SelectRegistered().Count() > 1 {
				t.Fatalf("cycle %d: select not one-hot", c)
			}
			b.zeroWaitTargets(1, 2, 3)
			b.ic.Respond()
			acks := 0
			for i, ip := range b.initiators {
				if ip.Asserted(bus.Acknowledge) {
					acks++
					if Grant(i) != b.ic.Grant() {
						t.Fatalf("cycle %d: ungranted initiator %d saw ack", c, i)
					}
				}
			}
			if acks > 1 {
				t.Fatalf("cycle %d: %d initiators acknowledged", c, acks)
			}
			b.ic.Commit()
		}
	}
}

func TestFairnessThroughFabric(t *testing.T) {
	const n = 4
	b := newBench(t, n, UniformPatterns(0, 1))
	for i := 0; i < n; i++ {
		b.request(i, uint32(i)<<4)
	}
	granted := make([]int, n)
	for c := 0; c < 4*n; c++ {
		b.ic.Forward()
		// no target ever acknowledges: the requests stay pending
		b.ic.Respond()
		granted[b.ic.Grant()]++
		b.ic.Commit()
		if (c+1)%n == 0 {
			for i, g := range granted {
				if g != (c+1)/n {
					t.Fatalf("after %d cycles initiator %d granted %d times", c+1, i, g)
				}
			}
		}
	}
}

func TestNewRequestPromptness(t *testing.T) {
	b := newBench(t, 3, UniformPatterns(0, 1))
	b.request(1, 0)
	b.cycle()
	b.idle(1)
	b.cycle()
	b.cycle()

	b.request(0, 0)
	b.ic.Forward()
	if b.ic.Grant() != 0 {
		t.Fatalf("lone request from 0 should be granted at once, got %v", b.ic.Grant())
	}
}

func TestDecodeCorrectness(t *testing.T) {
	b := newBench(t, 2, []MapEntry{Pattern(0x0, 4), Pattern(0x1, 4)})
	cases := []struct {
		addr   uint32
		cyc    bool
		target int
	}{
		{0x00001000, true, 0},
		{0x10000000, true, 1},
		{0x20000000, true, -1},
		{0x10000000, false, -1},
	}
	for _, tc := range cases {
		if tc.cyc {
			b.request(1, tc.addr)
		} else {
			b.idle(1)
			b.initiators[1].Set(bus.Address, tc.addr)
		}
		b.ic.Forward()
		for t2, tp := range b.targets {
			want := t2 == tc.target
			if tp.Asserted(bus.CycleValid) != want {
				t.Fatalf("addr 0x%08x cyc=%v: target %d cycle_valid=%v want %v",
					tc.addr, tc.cyc, t2, tp.Asserted(bus.CycleValid), want)
			}
		}
		b.ic.Respond()
		b.ic.Commit()
	}
}

func TestUnmappedAddressNeverAcks(t *testing.T) {
	b := newBench(t, 1, []MapEntry{Pattern(0, 2)})
	b.request(0, 0xf0000000)
	for c := 0; c < 5; c++ {
		b.cycle(0xdead)
		if b.initiators[0].Asserted(bus.Acknowledge) || b.initiators[0].Asserted(bus.Error) {
			t.Fatalf("unmapped access must see no response")
		}
	}
	if b.ic.Violations() != 0 {
		t.Fatalf("decode miss is not a violation")
	}
}

func TestResponseIsolation(t *testing.T) {
	b := newBench(t, 3, UniformPatterns(0, 1))
	b.request(0, 0x10)
	b.request(1, 0x80000010)
	b.ic.Forward()
	g := b.ic.Grant()
	// selected target answers with both ack and err
	for _, tp := range b.targets {
		on := tp.Asserted(bus.CycleValid)
		tp.Drive(bus.Acknowledge, on)
		tp.Drive(bus.Error, on)
		tp.Set(bus.ReadData, 0x1234)
	}
	b.ic.Respond()
	for i, ip := range b.initiators {
		mine := Grant(i) == g
		if ip.Asserted(bus.Acknowledge) != mine || ip.Asserted(bus.Error) != mine {
			t.Fatalf("initiator %d (granted=%v) ack=%v err=%v", i, mine,
				ip.Asserted(bus.Acknowledge), ip.Asserted(bus.Error))
		}
		if ip.Get(bus.ReadData) != 0x1234 {
			t.Fatalf("read data should be copied to every initiator")
		}
	}
	shared := b.ic.Shared()
	if shared.Get(bus.Acknowledge) != 1 || shared.Get(bus.Error) != 1 {
		t.Fatalf("trunk should carry the OR-reduced response")
	}
}

func TestRoundTripCombinational(t *testing.T) {
	b := newBench(t, 2, UniformPatterns(0, 1))
	b.request(1, 0x80000040)
	b.ic.Forward()
	b.zeroWaitTargets(0x11111111, 0xcafef00d)
	b.ic.Respond()
	ip := b.initiators[1]
	if !ip.Asserted(bus.Acknowledge) || ip.Get(bus.ReadData) != 0xcafef00d {
		t.Fatalf("expected same-cycle data 0xcafef00d, got ack=%v data=%#x",
			ip.Asserted(bus.Acknowledge), ip.Get(bus.ReadData))
	}
}

func TestRoundTripRegistered(t *testing.T) {
	b := newBench(t, 1, UniformPatterns(0, 1), WithRegistered(true), WithSwitchPolicy(SwitchOnWithdraw))
	b.request(0, 0x80000000)

	// cycle N: target B selected and presenting X; registered select not yet set
	b.ic.Forward()
	b.targets[1].Set(bus.ReadData, 0xabad1dea)
	b.ic.Respond()
	if got := b.initiators[0].Get(bus.ReadData); got != 0 {
		t.Fatalf("registered mode must not deliver data in the select cycle, got %#x", got)
	}
	b.ic.Commit()

	// cycle N+1: same access held, data arrives
	b.ic.Forward()
	b.targets[1].Drive(bus.Acknowledge, true)
	b.ic.Respond()
	if got := b.initiators[0].Get(bus.ReadData); got != 0xabad1dea {
		t.Fatalf("expected data one cycle later, got %#x", got)
	}
	if !b.initiators[0].Asserted(bus.Acknowledge) {
		t.Fatalf("expected ack in cycle N+1")
	}
	b.ic.Commit()
	if !b.ic.Registered() || b.ic.Policy() != SwitchOnWithdraw {
		t.Fatalf("options not applied")
	}
}

func TestProtocolViolationReported(t *testing.T) {
	broker := hooks.NewBroker()
	var seen []string
	broker.RegisterViolation(func(ctx *hooks.ViolationContext) error {
		seen = append(seen, ctx.TargetName+":"+ctx.Kind)
		return nil
	})
	b := newBench(t, 2, UniformPatterns(0, 1), WithBroker(broker))
	b.request(0, 0x10) // selects A

	b.ic.Forward()
	b.zeroWaitTargets()
	b.targets[1].Drive(bus.Acknowledge, true) // B answers unselected
	b.targets[1].Drive(bus.Error, true)
	b.ic.Respond()
	b.ic.Commit()

	if b.ic.Violations() != 2 {
		t.Fatalf("expected 2 violations, got %d", b.ic.Violations())
	}
	if len(seen) != 2 || seen[0] != "sB:ack-without-cycle" || seen[1] != "sB:err-without-cycle" {
		t.Fatalf("unexpected violation hooks: %v", seen)
	}
	v, ok := b.ic.LastViolation()
	if !ok || v.Target != 1 || v.Kind != ErrWithoutCycle || v.Cycle != 0 {
		t.Fatalf("unexpected last violation %+v", v)
	}
	if !strings.Contains(b.logBuf.String(), "protocol violation") {
		t.Fatalf("violation should be logged, got %q", b.logBuf.String())
	}
	// the step still produced a well-defined output for the grantee
	if !b.initiators[0].Asserted(bus.Acknowledge) {
		t.Fatalf("grantee should still observe the OR-reduced ack")
	}
	if b.initiators[1].Asserted(bus.Acknowledge) {
		t.Fatalf("ungranted initiator must stay isolated")
	}
}

func TestHooksObserveFabric(t *testing.T) {
	broker := hooks.NewBroker()
	var grants []int
	var decodes []int
	var done []uint32
	broker.RegisterGrant(func(ctx *hooks.GrantContext) error {
		grants = append(grants, ctx.Grant)
		return nil
	})
	broker.RegisterDecode(func(ctx *hooks.DecodeContext) error {
		decodes = append(decodes, ctx.Target)
		return nil
	})
	broker.RegisterCompletion(func(ctx *hooks.CompletionContext) error {
		done = append(done, ctx.ReadData)
		return errors.New("ignored")
	})
	b := newBench(t, 2, UniformPatterns(0, 1), WithBroker(broker))
	b.request(1, 0x80000000)
	b.cycle(0, 42)
	b.idle(1)
	b.cycle()

	if len(grants) != 2 || grants[0] != 1 || grants[1] != -1 {
		t.Fatalf("unexpected grants %v", grants)
	}
	if len(decodes) != 1 || decodes[0] != 1 {
		t.Fatalf("unexpected decodes %v", decodes)
	}
	if len(done) != 1 || done[0] != 42 {
		t.Fatalf("unexpected completions %v", done)
	}
	if !strings.Contains(b.logBuf.String(), "hook failed") {
		t.Fatalf("hook error should be logged")
	}
}

func TestNoGrantClearsTrunk(t *testing.T) {
	b := newBench(t, 2, UniformPatterns(0, 1))
	b.request(0, 0x10)
	b.initiators[0].Set(bus.WriteData, 0x77)
	b.cycle()
	b.idle(0)
	b.ic.Forward()
	if b.ic.Grant() != NoGrant {
		t.Fatalf("expected no grant")
	}
	shared := b.ic.Shared()
	if shared.Get(bus.WriteData) != 0 || shared.Get(bus.CycleValid) != 0 {
		t.Fatalf("idle trunk should carry zeros: %+v", shared.Map())
	}
	for _, tp := range b.targets {
		if tp.Asserted(bus.CycleValid) {
			t.Fatalf("no target may be enabled without a grant")
		}
	}
}

func TestForwardMuxCopiesAllFields(t *testing.T) {
	b := newBench(t, 2, UniformPatterns(0, 1))
	p := b.initiators[1]
	b.request(1, 0x80000008)
	p.Set(bus.WriteData, 0x01020304)
	p.Set(bus.ByteSelect, 0b0110)
	p.Drive(bus.WriteEnable, true)
	p.Set(bus.CycleType, bus.CycleIncrBurst)
	p.Set(bus.BurstTypeExt, bus.BurstWrap8)
	// the other initiator drives junk that must not leak
	b.initiators[0].Set(bus.WriteData, 0xffffffff)

	b.ic.Forward()
	tp := b.targets[1]
	if tp.Get(bus.WriteData) != 0x01020304 || tp.Get(bus.ByteSelect) != 0b0110 ||
		!tp.Asserted(bus.WriteEnable) || tp.Get(bus.CycleType) != bus.CycleIncrBurst ||
		tp.Get(bus.BurstTypeExt) != bus.BurstWrap8 || !tp.Asserted(bus.Strobe) {
		t.Fatalf("forwarded fields mismatch: %+v", tp.Snapshot().Map())
	}
}

func TestInterconnectConstruction(t *testing.T) {
	p := bus.NewPort("m")
	s := bus.NewPort("s")
	cases := []struct {
		name       string
		initiators []*bus.Port
		targets    []Slot
	}{
		{"no initiators", nil, []Slot{{Entry: Pattern(0, 1), Port: s}}},
		{"no targets", []*bus.Port{p}, nil},
		{"nil initiator", []*bus.Port{nil}, []Slot{{Entry: Pattern(0, 1), Port: s}}},
		{"nil target", []*bus.Port{p}, []Slot{{Entry: Pattern(0, 1)}}},
		{"overlap", []*bus.Port{p}, []Slot{{Entry: Pattern(0, 1), Port: s}, {Entry: Pattern(0, 1), Port: bus.NewPort("t")}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ic, err := NewInterconnect(tc.initiators, tc.targets)
			if ic != nil || !errors.Is(err, ErrConfiguration) {
				t.Fatalf("expected configuration error, got %v", err)
			}
		})
	}
}

func TestAddressMapAndReset(t *testing.T) {
	b := newBench(t, 2, []MapEntry{Pattern(0x0, 4), Pattern(0x1, 4)}, WithOffset(0))
	m := b.ic.AddressMap()
	if len(m) != 2 || m[1].Target != "sB" || m[1].Range.Lo != 0x10000000 || m[1].Range.Hi != 0x1fffffff {
		t.Fatalf("unexpected address map %+v", m)
	}
	// mutating the copy does not touch the fabric
	m[0].Target = "x"
	if b.ic.AddressMap()[0].Target != "sA" {
		t.Fatalf("address map is not read-only")
	}

	b.request(0, 0)
	b.cycle()
	b.cycle()
	if b.ic.Cycle() != 2 {
		t.Fatalf("expected 2 committed cycles, got %d", b.ic.Cycle())
	}
	b.ic.Reset()
	if b.ic.Cycle() != 0 || b.ic.Grant() != NoGrant || b.ic.Select() != 0 {
		t.Fatalf("reset left state behind")
	}
	if b.ic.NumInitiators() != 2 || b.ic.NumTargets() != 2 {
		t.Fatalf("unexpected port counts")
	}
}
