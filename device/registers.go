package device

import "github.com/Readm/wb_sim/bus"

// Register word offsets of a RegisterBank.
const (
	RegStart  = 0 // write 1 to launch a run
	RegLength = 1 // number of words the engine walks
	RegDone   = 2 // 1 once the run finished
	RegCycles = 3 // cycles taken by the last run
	RegErrors = 4 // errors counted by the last run
	// RegFaultEvery injects one error per that many words (0 disables).
	RegFaultEvery = 5
	numRegisters  = 6
)

// RegisterBank is a control/status block fronting a self-test engine. Writing
// RegStart starts a walk over RegLength words, one per cycle; software polls
// RegDone and then reads RegCycles and RegErrors. Reads or writes beyond the
// last register are answered with err.
type RegisterBank struct {
	port  *bus.Port
	wait  waiter
	cur   access
	acked bool

	length     uint32
	faultEvery uint32
	running    bool
	done       bool
	remaining  uint32
	walked     uint32
	cycles     uint32
	errors     uint32
	runs       uint64
}

// NewRegisterBank builds an idle bank.
func NewRegisterBank(port *bus.Port, waitStates int) *RegisterBank {
	if waitStates < 0 {
		waitStates = 0
	}
	return &RegisterBank{port: port, wait: waiter{states: waitStates}}
}

func (r *RegisterBank) Name() string    { return r.port.Name() }
func (r *RegisterBank) Port() *bus.Port { return r.port }

func regIndex(addr uint32) uint32 { return (addr >> 2) & 0x3ff }

func (r *RegisterBank) read(idx uint32) uint32 {
	switch idx {
	case RegStart:
		if r.running {
			return 1
		}
		return 0
	case RegLength:
		return r.length
	case RegDone:
		if r.done {
			return 1
		}
		return 0
	case RegCycles:
		return r.cycles
	case RegErrors:
		return r.errors
	case RegFaultEvery:
		return r.faultEvery
	}
	return 0
}

func (r *RegisterBank) Respond(cycle uint64) {
	r.cur = sample(r.port)
	ready := r.wait.respond(r.cur.selected)
	valid := regIndex(r.cur.addr) < numRegisters
	r.acked = ready && valid
	r.port.Drive(bus.Acknowledge, r.acked)
	r.port.Drive(bus.Error, ready && !valid)
	if r.cur.selected && valid {
		r.port.Set(bus.ReadData, r.read(regIndex(r.cur.addr)))
	} else {
		r.port.Set(bus.ReadData, 0)
	}
}

func (r *RegisterBank) Clock(cycle uint64) {
	if r.running {
		r.cycles++
		if r.remaining > 0 {
			r.walked++
			r.remaining--
			if r.faultEvery > 0 && r.walked%r.faultEvery == 0 {
				r.errors++
			}
		}
		if r.remaining == 0 {
			r.running = false
			r.done = true
		}
	}
	if r.acked && r.cur.write {
		r.write(regIndex(r.cur.addr), r.cur.data&laneMask(r.cur.sel))
	}
	r.wait.clock(r.cur.selected)
}

func (r *RegisterBank) write(idx, v uint32) {
	switch idx {
	case RegStart:
		if v&1 == 0 || r.running {
			return
		}
		r.running = true
		r.done = false
		r.remaining = r.length
		r.walked = 0
		r.cycles = 0
		r.errors = 0
		r.runs++
	case RegLength:
		r.length = v
	case RegFaultEvery:
		r.faultEvery = v
	}
}

func (r *RegisterBank) Reset() {
	*r = RegisterBank{port: r.port, wait: waiter{states: r.wait.states}}
	r.port.Clear(bus.TargetToInitiator)
}

// Running reports whether the engine is walking.
func (r *RegisterBank) Running() bool { return r.running }

// Runs returns how many runs were started.
func (r *RegisterBank) Runs() uint64 { return r.runs }
