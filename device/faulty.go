package device

import (
	"fmt"
	"strings"

	"github.com/Readm/wb_sim/bus"
)

// FaultMode selects how a Faulty target misbehaves.
type FaultMode int

const (
	// FaultError answers every selected cycle with err.
	FaultError FaultMode = iota
	// FaultStrayAck asserts ack on every cycle, selected or not.
	FaultStrayAck
)

func (m FaultMode) String() string {
	switch m {
	case FaultError:
		return "error"
	case FaultStrayAck:
		return "stray-ack"
	}
	return fmt.Sprintf("fault(%d)", int(m))
}

// ParseFaultMode accepts the String forms.
func ParseFaultMode(s string) (FaultMode, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "error":
		return FaultError, true
	case "stray-ack", "stray":
		return FaultStrayAck, true
	}
	return FaultError, false
}

// Faulty is a target that never completes a cycle normally.
type Faulty struct {
	port *bus.Port
	mode FaultMode
	hits uint64
}

// NewFaulty builds a faulty target.
func NewFaulty(port *bus.Port, mode FaultMode) *Faulty {
	return &Faulty{port: port, mode: mode}
}

func (f *Faulty) Name() string    { return f.port.Name() }
func (f *Faulty) Port() *bus.Port { return f.port }

func (f *Faulty) Respond(cycle uint64) {
	selected := sample(f.port).selected
	f.port.Set(bus.ReadData, 0)
	switch f.mode {
	case FaultStrayAck:
		f.port.Drive(bus.Acknowledge, true)
		f.port.Drive(bus.Error, false)
	default:
		f.port.Drive(bus.Acknowledge, false)
		f.port.Drive(bus.Error, selected)
	}
	if selected {
		f.hits++
	}
}

func (f *Faulty) Clock(cycle uint64) {}

func (f *Faulty) Reset() {
	f.hits = 0
	f.port.Clear(bus.TargetToInitiator)
}

// Hits returns the number of selected cycles seen.
func (f *Faulty) Hits() uint64 { return f.hits }
