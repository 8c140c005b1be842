package main

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/Readm/wb_sim/initiator"
	"github.com/Readm/wb_sim/script"
	"github.com/Readm/wb_sim/visual"
)

func newTestSimulator(t *testing.T, name string) *Simulator {
	t.Helper()
	cfg := GetConfigByName(name)
	if cfg == nil {
		t.Fatalf("predefined config %q missing", name)
	}
	cfg.Headless = true
	sim, err := NewSimulator(cfg)
	if err != nil {
		t.Fatalf("NewSimulator(%s): %v", name, err)
	}
	return sim
}

// TestBasicFlow runs a short simulation and verifies basic invariants.
func TestBasicFlow(t *testing.T) {
	cfg := GetConfigByName("shared_bus")
	cfg.TotalCycles = 300
	cfg.Headless = true
	sim, err := NewSimulator(cfg)
	if err != nil {
		t.Fatalf("NewSimulator: %v", err)
	}
	if err := sim.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sim.Cycle() != 300 {
		t.Fatalf("expected 300 cycles, got %d", sim.Cycle())
	}

	stats := sim.CollectStats()
	if stats == nil || stats.Global == nil {
		t.Fatalf("stats should not be nil")
	}
	g := stats.Global
	t.Logf("Submitted=%d Completed=%d Rate=%.2f%% AvgLatency=%.2f Util=%.2f%%",
		g.Submitted, g.Completed, g.CompletionRate, g.AvgLatency, g.BusUtilization)

	if g.Completed == 0 {
		t.Fatalf("expected some completed requests, got 0 (submitted=%d)", g.Submitted)
	}
	if g.Completed > g.Submitted {
		t.Fatalf("completed out of range: %d of %d", g.Completed, g.Submitted)
	}
	if g.CompletionRate < 0 || g.CompletionRate > 100 {
		t.Fatalf("completion rate out of range: %.2f", g.CompletionRate)
	}
	if g.Errors != 0 || g.Timeouts != 0 || g.Violations != 0 {
		t.Fatalf("unexpected failures: errors=%d timeouts=%d violations=%d", g.Errors, g.Timeouts, g.Violations)
	}
	if g.CheckFailures != 0 {
		t.Fatalf("checker reported %d failures", g.CheckFailures)
	}
	if len(stats.PerInitiator) != cfg.NumInitiators {
		t.Fatalf("expected %d initiator stats, got %d", cfg.NumInitiators, len(stats.PerInitiator))
	}
	if len(stats.PerTarget) != len(cfg.Targets) {
		t.Fatalf("expected %d target stats, got %d", len(cfg.Targets), len(stats.PerTarget))
	}
	for i, st := range stats.PerInitiator {
		if st.Grants == 0 {
			t.Fatalf("initiator %d was never granted", i)
		}
	}
}

func TestArbitrationScheduleGrants(t *testing.T) {
	sim := newTestSimulator(t, "arbitration_demo")
	wantGrant := []int{0, 2, -1, 1}
	var completions []CompletionRecord
	for cycle, want := range wantGrant {
		sim.StepCycle()
		if got := int(sim.Fabric().Grant()); got != want {
			t.Fatalf("cycle %d: grant %d, want %d", cycle, got, want)
		}
		completions = append(completions, sim.BuildFrame().Completions...)
	}
	if len(completions) != 3 {
		t.Fatalf("expected 3 completions, got %d", len(completions))
	}
	order := []int{0, 2, 1}
	for i, c := range completions {
		if c.Initiator != order[i] {
			t.Fatalf("completion %d from m%d, want m%d", i, c.Initiator, order[i])
		}
		if c.Txn.Status != initiator.StatusOK {
			t.Fatalf("completion %d status %v", i, c.Txn.Status)
		}
	}
	// m1 reads back what m2 wrote to target B
	if completions[2].Txn.Data != 0xcafe {
		t.Fatalf("read back 0x%x, want 0xcafe", completions[2].Txn.Data)
	}
	if completions[0].Txn.Latency() != 1 {
		t.Fatalf("zero-wait read latency %d, want 1", completions[0].Txn.Latency())
	}
}

func TestRegisteredSelectRun(t *testing.T) {
	sim := newTestSimulator(t, "registered_select")
	if err := sim.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	g := sim.CollectStats().Global
	if g.Completed == 0 {
		t.Fatalf("expected completions in registered mode")
	}
	if g.Timeouts != 0 || g.Violations != 0 || g.CheckFailures != 0 {
		t.Fatalf("timeouts=%d violations=%d checkFailures=%d", g.Timeouts, g.Violations, g.CheckFailures)
	}
	if !sim.Fabric().Registered() {
		t.Fatalf("fabric should be registered")
	}
}

func TestWaitStatesHeterogeneousMap(t *testing.T) {
	sim := newTestSimulator(t, "wait_states")
	for i := 0; i < 500; i++ {
		sim.StepCycle()
	}
	stats := sim.CollectStats()
	g := stats.Global
	if g.Completed == 0 || g.CheckFailures != 0 || g.Violations != 0 {
		t.Fatalf("completed=%d checkFailures=%d violations=%d", g.Completed, g.CheckFailures, g.Violations)
	}
	if g.MaxLatency < 3 {
		t.Fatalf("two wait states should give latency 3, max seen %d", g.MaxLatency)
	}
	for i, st := range stats.PerTarget {
		if st.Selected == 0 {
			t.Fatalf("target %d (%s) never selected", i, st.Name)
		}
	}
}

func TestFaultInjectionReportsViolations(t *testing.T) {
	sim := newTestSimulator(t, "fault_injection")
	if err := sim.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	stats := sim.CollectStats()
	if stats.Global.Violations == 0 {
		t.Fatalf("stray acks should be reported as violations")
	}
	if stats.PerTarget[2].Violations == 0 {
		t.Fatalf("violations should be attributed to the stray target")
	}
	if stats.PerTarget[0].Violations != 0 {
		t.Fatalf("well-behaved RAM charged with %d violations", stats.PerTarget[0].Violations)
	}
}

func TestScriptAccessRegisterBank(t *testing.T) {
	sim := newTestSimulator(t, "bist_diagnostic")
	sim.ReserveInitiator(0)

	const bist = 0x01000000
	if err := sim.Write(0x00000100, 0x12345678); err != nil {
		t.Fatalf("ram write: %v", err)
	}
	v, err := sim.Read(0x00000100)
	if err != nil || v != 0x12345678 {
		t.Fatalf("ram read = 0x%x, %v", v, err)
	}

	for _, w := range []struct{ reg, val uint32 }{
		{1, 4},
		{5, 2},
		{0, 1},
	} {
		if err := sim.Write(bist+w.reg*4, w.val); err != nil {
			t.Fatalf("write reg %d: %v", w.reg, err)
		}
	}
	done := false
	for i := 0; i < 100 && !done; i++ {
		v, err := sim.Read(bist + 2*4)
		if err != nil {
			t.Fatalf("poll done: %v", err)
		}
		done = v == 1
	}
	if !done {
		t.Fatalf("register engine never finished")
	}
	if v, _ := sim.Read(bist + 3*4); v != 4 {
		t.Fatalf("cycles register = %d, want 4", v)
	}
	if v, _ := sim.Read(bist + 4*4); v != 2 {
		t.Fatalf("errors register = %d, want 2", v)
	}

	if _, err := sim.Read(bist + 8*4); err == nil || !strings.Contains(err.Error(), "bus error") {
		t.Fatalf("unknown register should raise a bus error, got %v", err)
	}
}

func TestLuaScriptDrivesSimulator(t *testing.T) {
	sim := newTestSimulator(t, "bist_diagnostic")
	sim.ReserveInitiator(0)
	rt := script.New(sim, nil)
	defer rt.Close()

	src := `
local bist = 0x01000000
write(bist + 4, 6)
write(bist, 1)
poll(bist + 8, 1, 1, 200)
local n = read(bist + 12)
if n ~= 6 then error("cycles " .. n) end
write(0x40, 77)
if read(0x40) ~= 77 then error("ram readback") end
`
	if err := rt.Run(context.Background(), src); err != nil {
		t.Fatalf("script failed: %v", err)
	}
	reads, writes := rt.Accesses()
	if writes != 3 || reads < 3 {
		t.Fatalf("unexpected access counts: reads=%d writes=%d", reads, writes)
	}
	if sim.Cycle() == 0 {
		t.Fatalf("script accesses should advance the clock")
	}
}

func TestHandleCommand(t *testing.T) {
	sim := newTestSimulator(t, "arbitration_demo")

	if n, err := sim.handleCommand(visual.ControlCommand{Type: visual.CommandPause}); err != nil || n != 0 {
		t.Fatalf("pause = %d, %v", n, err)
	}
	if !sim.isPaused {
		t.Fatalf("simulator should be paused")
	}
	if n, _ := sim.handleCommand(visual.ControlCommand{Type: visual.CommandStep, Cycles: 3}); n != 3 {
		t.Fatalf("step while paused should run 3 cycles, got %d", n)
	}
	if n, _ := sim.handleCommand(visual.ControlCommand{Type: visual.CommandStep}); n != 1 {
		t.Fatalf("step without count should run 1 cycle, got %d", n)
	}

	sim.StepCycle()
	sim.StepCycle()
	override := GetConfigByName("shared_bus")
	if n, err := sim.handleCommand(visual.ControlCommand{Type: visual.CommandReset, ConfigOverride: override}); err != nil || n != 0 {
		t.Fatalf("reset = %d, %v", n, err)
	}
	if sim.Cycle() != 0 {
		t.Fatalf("reset should rewind the clock, cycle %d", sim.Cycle())
	}
	if sim.Config().Name != "shared_bus" || sim.Fabric().NumTargets() != 2 {
		t.Fatalf("reset did not apply override")
	}
	if !sim.isPaused {
		t.Fatalf("reset should keep the paused state")
	}

	bad := GetConfigByName("shared_bus")
	bad.NumInitiators = 0
	if _, err := sim.handleCommand(visual.ControlCommand{Type: visual.CommandReset, ConfigOverride: bad}); err == nil {
		t.Fatalf("invalid override should be rejected")
	}
	if sim.Config().NumInitiators != 3 {
		t.Fatalf("failed reset must keep the running fabric")
	}

	if n, _ := sim.handleCommand(visual.ControlCommand{Type: visual.CommandResume}); n != 1 || sim.isPaused {
		t.Fatalf("resume should clear pause and run")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := GetConfigByName("shared_bus")
	cfg.TotalCycles = 1 << 40
	sim, err := NewSimulator(cfg)
	if err != nil {
		t.Fatalf("NewSimulator: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := sim.Run(ctx); err == nil {
		t.Fatalf("expected context error")
	}
	if sim.Cycle() == 0 {
		t.Fatalf("simulation made no progress before cancel")
	}
}

func TestBuildFrame(t *testing.T) {
	sim := newTestSimulator(t, "wait_states")
	sim.StepCycle()
	frame := sim.BuildFrame()
	if frame.Cycle != 1 {
		t.Fatalf("frame cycle %d, want 1", frame.Cycle)
	}
	if len(frame.Initiators) != 4 || len(frame.Targets) != 3 || len(frame.AddressMap) != 3 {
		t.Fatalf("unexpected frame shape: %d initiators, %d targets, %d map rows",
			len(frame.Initiators), len(frame.Targets), len(frame.AddressMap))
	}
	if len(frame.Requests) != 4 {
		t.Fatalf("request vector %q should be 4 bits", frame.Requests)
	}
	if frame.AddressMap[2].Range.Lo != 0xc0000000 || frame.AddressMap[2].Range.Hi != 0xdfffffff {
		t.Fatalf("unexpected bist range %v", frame.AddressMap[2].Range)
	}
	if frame.Targets[2].Kind != "registers" {
		t.Fatalf("target kind %q", frame.Targets[2].Kind)
	}
	if frame.Stats == nil || frame.Stats.Global.Cycles != 1 {
		t.Fatalf("frame should carry stats")
	}
}
