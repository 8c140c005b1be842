package device

import "github.com/Readm/wb_sim/bus"

// DefaultWords is the memory size used when none is configured.
const DefaultWords = 1024

// Memory is a word-addressed RAM with byte-select writes and a fixed number
// of wait states before each acknowledge.
type Memory struct {
	port  *bus.Port
	words []uint32
	wait  waiter
	cur   access
	acked bool

	reads, writes uint64
}

// NewMemory allocates a RAM of the given size. Addresses wrap modulo its size.
func NewMemory(port *bus.Port, words, waitStates int) *Memory {
	if words <= 0 {
		words = DefaultWords
	}
	if waitStates < 0 {
		waitStates = 0
	}
	return &Memory{
		port:  port,
		words: make([]uint32, words),
		wait:  waiter{states: waitStates},
	}
}

func (m *Memory) Name() string    { return m.port.Name() }
func (m *Memory) Port() *bus.Port { return m.port }

// WaitStates returns the configured wait states.
func (m *Memory) WaitStates() int { return m.wait.states }

func (m *Memory) index(addr uint32) int {
	return int((addr >> 2) % uint32(len(m.words)))
}

func (m *Memory) Respond(cycle uint64) {
	m.cur = sample(m.port)
	m.acked = m.wait.respond(m.cur.selected)
	m.port.Drive(bus.Acknowledge, m.acked)
	m.port.Drive(bus.Error, false)
	if m.cur.selected {
		m.port.Set(bus.ReadData, m.words[m.index(m.cur.addr)])
	} else {
		m.port.Set(bus.ReadData, 0)
	}
}

func (m *Memory) Clock(cycle uint64) {
	if m.acked {
		if m.cur.write {
			i := m.index(m.cur.addr)
			mask := laneMask(m.cur.sel)
			m.words[i] = m.words[i]&^mask | m.cur.data&mask
			m.writes++
		} else {
			m.reads++
		}
	}
	m.wait.clock(m.cur.selected)
}

func (m *Memory) Reset() {
	for i := range m.words {
		m.words[i] = 0
	}
	m.wait = waiter{states: m.wait.states}
	m.cur = access{}
	m.acked = false
	m.reads, m.writes = 0, 0
	m.port.Clear(bus.TargetToInitiator)
}

// Peek returns the word holding addr without a bus cycle.
func (m *Memory) Peek(addr uint32) uint32 { return m.words[m.index(addr)] }

// Poke stores a word without a bus cycle.
func (m *Memory) Poke(addr, value uint32) { m.words[m.index(addr)] = value }

// Accesses returns the completed read and write counts.
func (m *Memory) Accesses() (reads, writes uint64) { return m.reads, m.writes }
