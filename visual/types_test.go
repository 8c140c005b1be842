package visual

import (
	"context"
	"testing"
)

func TestParseCommandType(t *testing.T) {
	for _, name := range []string{"pause", "resume", "reset", "step"} {
		if ct, ok := ParseCommandType(name); !ok || string(ct) != name {
			t.Fatalf("command %q not parsed", name)
		}
	}
	if _, ok := ParseCommandType("none"); ok {
		t.Fatalf("none is not a wire command")
	}
}

func TestNullVisualizer(t *testing.T) {
	var v Visualizer = NullVisualizer{}
	if !v.IsHeadless() {
		t.Fatalf("null visualizer should be headless")
	}
	if _, ok := v.NextCommand(); ok {
		t.Fatalf("null visualizer issued a command")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if cmd, ok := v.WaitCommand(ctx); ok || cmd.Type != CommandNone {
		t.Fatalf("cancelled wait should return no command")
	}
}
