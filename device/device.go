// Package device holds example bus targets that sit behind the fabric's
// target ports. A target reads its port after the fabric's Forward, drives its
// response in Respond, and updates internal state at the clock edge in Clock.
package device

import (
	"github.com/pkg/errors"

	"github.com/Readm/wb_sim/bus"
)

// Target is a bus slave attached to one target port.
type Target interface {
	Name() string
	Port() *bus.Port
	// Respond drives ack/err/read_data for the current cycle.
	Respond(cycle uint64)
	// Clock is the rising edge following Respond.
	Clock(cycle uint64)
	Reset()
}

// Kind names a target implementation in configuration.
type Kind string

const (
	KindMemory   Kind = "memory"
	KindRegister Kind = "registers"
	KindFaulty   Kind = "faulty"
)

// Params carries the construction parameters shared by every kind.
type Params struct {
	Name       string
	Kind       Kind
	WaitStates int
	Words      int
	Fault      FaultMode
}

// New builds the target described by p on port.
func New(p Params, port *bus.Port) (Target, error) {
	switch p.Kind {
	case KindMemory, "":
		return NewMemory(port, p.Words, p.WaitStates), nil
	case KindRegister:
		return NewRegisterBank(port, p.WaitStates), nil
	case KindFaulty:
		return NewFaulty(port, p.Fault), nil
	default:
		return nil, errors.Errorf("unknown target kind %q", p.Kind)
	}
}

// access is the decoded view of a selected cycle on a target port.
type access struct {
	selected bool
	write    bool
	addr     uint32
	data     uint32
	sel      uint32
}

func sample(p *bus.Port) access {
	return access{
		selected: p.Asserted(bus.CycleValid) && p.Asserted(bus.Strobe),
		write:    p.Asserted(bus.WriteEnable),
		addr:     p.Get(bus.Address),
		data:     p.Get(bus.WriteData),
		sel:      p.Get(bus.ByteSelect),
	}
}

// laneMask expands a byte-select nibble into a 32-bit lane mask.
func laneMask(sel uint32) uint32 {
	var m uint32
	for i := 0; i < 4; i++ {
		if sel&(1<<i) != 0 {
			m |= 0xff << (8 * i)
		}
	}
	return m
}

// waiter counts wait states for the access currently holding the port.
type waiter struct {
	states int
	waited int
	ready  bool
}

func (w *waiter) respond(selected bool) bool {
	w.ready = selected && w.waited >= w.states
	return w.ready
}

func (w *waiter) clock(selected bool) {
	switch {
	case !selected, w.ready:
		w.waited = 0
	default:
		w.waited++
	}
}
