// Package visual defines the control channel between the simulator loop and
// an attached front end.
package visual

import "context"

// ControlCommandType names a control instruction from a front end.
type ControlCommandType string

const (
	CommandNone   ControlCommandType = "none"
	CommandPause  ControlCommandType = "pause"
	CommandResume ControlCommandType = "resume"
	CommandReset  ControlCommandType = "reset"
	// CommandStep runs Cycles cycles (at least one) while paused.
	CommandStep ControlCommandType = "step"
)

// ParseCommandType maps a wire name to a command type.
func ParseCommandType(s string) (ControlCommandType, bool) {
	switch ControlCommandType(s) {
	case CommandPause, CommandResume, CommandReset, CommandStep:
		return ControlCommandType(s), true
	}
	return CommandNone, false
}

// ControlCommand is one control instruction.
type ControlCommand struct {
	Type   ControlCommandType
	Cycles int
	// ConfigOverride replaces the running configuration on reset.
	ConfigOverride any
}

// Visualizer receives frames and produces control commands.
type Visualizer interface {
	IsHeadless() bool
	PublishFrame(frame any)
	NextCommand() (ControlCommand, bool)
	WaitCommand(ctx context.Context) (ControlCommand, bool)
}

// NullVisualizer discards frames and never issues commands.
type NullVisualizer struct{}

func (NullVisualizer) IsHeadless() bool { return true }
func (NullVisualizer) PublishFrame(any) {}
func (NullVisualizer) NextCommand() (ControlCommand, bool) {
	return ControlCommand{Type: CommandNone}, false
}

// WaitCommand blocks until ctx is done.
func (NullVisualizer) WaitCommand(ctx context.Context) (ControlCommand, bool) {
	<-ctx.Done()
	return ControlCommand{Type: CommandNone}, false
}
