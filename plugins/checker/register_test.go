package checker

import (
	"testing"

	"github.com/Readm/wb_sim/hooks"
)

func TestRegisterAndCount(t *testing.T) {
	b := hooks.NewBroker()
	c := New(Options{Initiators: 2, Targets: 2, Strict: true})
	if err := Register(b, c); err != nil {
		t.Fatalf("register returned error: %v", err)
	}
	if got := b.ListPlugins(hooks.PluginCategoryChecker); len(got) != 1 || got[0].Name != PluginName {
		t.Fatalf("expected checker in catalogue, got %v", got)
	}

	if err := b.EmitGrant(&hooks.GrantContext{Cycle: 0, Requests: 0b11, Grant: 1}); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if err := b.EmitDecode(&hooks.DecodeContext{Cycle: 0, Select: 0b10, Target: 1}); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if err := b.EmitCompletion(&hooks.CompletionContext{Cycle: 0, Initiator: 1, Target: 1, Ack: true}); err != nil {
		t.Fatalf("completion: %v", err)
	}
	b.EmitGrant(&hooks.GrantContext{Cycle: 1, Grant: -1})
	b.EmitDecode(&hooks.DecodeContext{Cycle: 1, Target: -1})
	b.EmitViolation(&hooks.ViolationContext{Cycle: 1, Target: 0})

	s := c.Snapshot()
	if s.Cycles != 2 || s.BusyCycles != 1 || s.Grants[1] != 1 || s.Selects[1] != 1 {
		t.Fatalf("unexpected counters %+v", s)
	}
	if s.DecodeMisses != 1 || s.Violations[0] != 1 || s.Completions[1] != 1 {
		t.Fatalf("unexpected counters %+v", s)
	}
	if len(s.Failures) != 0 {
		t.Fatalf("unexpected failures %v", s.Failures)
	}
}

func TestCheckerFlagsBrokenInvariants(t *testing.T) {
	b := hooks.NewBroker()
	c := New(Options{Initiators: 2, Targets: 2, Strict: true})
	Register(b, c)

	if err := b.EmitGrant(&hooks.GrantContext{Cycle: 0, Requests: 0b01, Grant: 1}); err == nil {
		t.Fatalf("grant without request should fail")
	}
	if err := b.EmitDecode(&hooks.DecodeContext{Cycle: 0, Select: 0b11, Target: 0}); err == nil {
		t.Fatalf("multi-hot select should fail")
	}
	if err := b.EmitCompletion(&hooks.CompletionContext{Cycle: 0, Initiator: 0}); err == nil {
		t.Fatalf("response to a non-grantee should fail")
	}
	if got := len(c.Snapshot().Failures); got != 3 {
		t.Fatalf("expected 3 failures, got %d", got)
	}
}

func TestRegisterRejectsNil(t *testing.T) {
	if err := Register(nil, New(Options{})); err == nil {
		t.Fatalf("expected error for nil broker")
	}
	if err := Register(hooks.NewBroker(), nil); err == nil {
		t.Fatalf("expected error for nil checker")
	}
}
