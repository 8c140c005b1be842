// Package initiator drives bus transactions onto an initiator port, one at a
// time, and completes them from the routed ack/err response.
package initiator

import (
	"github.com/Readm/wb_sim/bus"
	"github.com/Readm/wb_sim/logger"
	"github.com/Readm/wb_sim/queue"
)

// CompletionFunc observes every finished transaction.
type CompletionFunc func(initiator int, txn *Txn)

// Options configures an Issuer.
type Options struct {
	// QueueDepth bounds pending transactions; zero or less means unbounded.
	QueueDepth int
	// MaxWait completes a transaction with StatusTimeout after that many bus
	// cycles without a response. Zero disables the watchdog.
	MaxWait uint64
	// NoGap keeps cycle_valid asserted between back-to-back transactions.
	// By default the issuer idles for one cycle after each completion so a
	// hold-while-requesting arbiter can rotate.
	NoGap      bool
	OnComplete CompletionFunc
	Logger     *logger.Logger
}

// Stats counts issuer activity.
type Stats struct {
	Submitted  uint64 `json:"submitted"`
	Rejected   uint64 `json:"rejected"`
	Completed  uint64 `json:"completed"`
	Errors     uint64 `json:"errors"`
	Timeouts   uint64 `json:"timeouts"`
	MinLatency uint64 `json:"minLatency"`
	MaxLatency uint64 `json:"maxLatency"`
	SumLatency uint64 `json:"sumLatency"`
	SumWait    uint64 `json:"sumWait"`
	BusyCycles uint64 `json:"busyCycles"`
	QueuePeak  int    `json:"queuePeak"`
}

// AvgLatency returns the mean bus latency of finished transactions.
func (s Stats) AvgLatency() float64 {
	n := s.Completed + s.Errors + s.Timeouts
	if n == 0 {
		return 0
	}
	return float64(s.SumLatency) / float64(n)
}

// Issuer owns one initiator port.
type Issuer struct {
	id      int
	port    *bus.Port
	pending *queue.FIFO[*Txn]
	current *Txn
	opts    Options
	log     *logger.Logger

	nextID uint64
	gap    bool
	stats  Stats
}

// New binds an issuer to port.
func New(id int, port *bus.Port, opts Options) *Issuer {
	depth := opts.QueueDepth
	if depth <= 0 {
		depth = queue.Unbounded
	}
	log := opts.Logger
	if log == nil {
		log = logger.Get()
	}
	is := &Issuer{id: id, port: port, opts: opts, log: log}
	is.pending = is.newQueue(depth)
	return is
}

func (is *Issuer) newQueue(depth int) *queue.FIFO[*Txn] {
	return queue.New[*Txn](is.port.Name(), depth, nil, queue.Hooks[*Txn]{
		OnReject: func(txn *Txn, cycle uint64) {
			is.stats.Rejected++
			is.log.Debugf("cycle %d: %s queue full, dropped %v", cycle, is.port.Name(), txn)
		},
	})
}

// ID returns the initiator index.
func (is *Issuer) ID() int { return is.id }

// Port returns the bound port.
func (is *Issuer) Port() *bus.Port { return is.port }

// Submit queues txn. It returns false if the queue is full.
func (is *Issuer) Submit(txn *Txn, cycle uint64) bool {
	if is == nil || txn == nil {
		return false
	}
	if txn.ByteSelect == 0 {
		txn.ByteSelect = AllBytes
	}
	txn.Status = StatusPending
	txn.Submitted = cycle
	if !is.pending.Push(txn, cycle) {
		return false
	}
	is.nextID++
	txn.ID = is.nextID
	is.stats.Submitted++
	return true
}

// Busy reports whether a transaction is on the bus or queued.
func (is *Issuer) Busy() bool {
	return is.current != nil || is.pending.Len() > 0
}

// Pending returns the queue depth excluding the active transaction.
func (is *Issuer) Pending() int { return is.pending.Len() }

// Current returns the transaction on the bus, or nil.
func (is *Issuer) Current() *Txn { return is.current }

// Drive places the active transaction on the port. Call before the fabric's
// Forward.
func (is *Issuer) Drive(cycle uint64) {
	if is.gap {
		is.gap = false
		is.port.Clear(bus.InitiatorToTarget)
		return
	}
	if is.current == nil {
		txn, ok := is.pending.Pop(cycle)
		if !ok {
			is.port.Clear(bus.InitiatorToTarget)
			return
		}
		txn.Started = cycle
		is.current = txn
	}
	t := is.current
	is.port.Drive(bus.CycleValid, true)
	is.port.Drive(bus.Strobe, true)
	is.port.Drive(bus.WriteEnable, t.Write)
	is.port.Set(bus.Address, t.Address)
	is.port.Set(bus.ByteSelect, t.ByteSelect)
	is.port.Set(bus.CycleType, t.CycleType)
	is.port.Set(bus.BurstTypeExt, t.BurstType)
	if t.Write {
		is.port.Set(bus.WriteData, t.Data)
	} else {
		is.port.Set(bus.WriteData, 0)
	}
	is.stats.BusyCycles++
}

// Observe samples the routed response after the fabric's Respond and returns
// the transaction that finished this cycle, if any.
func (is *Issuer) Observe(cycle uint64) *Txn {
	t := is.current
	if t == nil {
		return nil
	}
	switch {
	case is.port.Asserted(bus.Acknowledge):
		t.Status = StatusOK
		if !t.Write {
			t.Data = is.port.Get(bus.ReadData)
		}
	case is.port.Asserted(bus.Error):
		t.Status = StatusError
	case is.opts.MaxWait > 0 && cycle-t.Started+1 >= is.opts.MaxWait:
		t.Status = StatusTimeout
		is.log.Warnf("cycle %d: %s timed out %v after %d cycles", cycle, is.port.Name(), t, is.opts.MaxWait)
	default:
		return nil
	}
	t.Finished = cycle
	is.finish(t)
	return t
}

func (is *Issuer) finish(t *Txn) {
	is.current = nil
	is.gap = !is.opts.NoGap

	switch t.Status {
	case StatusOK:
		is.stats.Completed++
	case StatusError:
		is.stats.Errors++
	case StatusTimeout:
		is.stats.Timeouts++
	}
	lat := t.Latency()
	if is.stats.MinLatency == 0 || lat < is.stats.MinLatency {
		is.stats.MinLatency = lat
	}
	if lat > is.stats.MaxLatency {
		is.stats.MaxLatency = lat
	}
	is.stats.SumLatency += lat
	is.stats.SumWait += t.Wait()

	if is.opts.OnComplete != nil {
		is.opts.OnComplete(is.id, t)
	}
}

// Stats returns a copy of the counters.
func (is *Issuer) Stats() Stats {
	s := is.stats
	s.QueuePeak = is.pending.Stats().Peak
	return s
}

// Reset drops queued and active transactions, clears the port and zeroes the
// counters.
func (is *Issuer) Reset() {
	is.pending = is.newQueue(is.pending.Capacity())
	is.current = nil
	is.gap = false
	is.nextID = 0
	is.stats = Stats{}
	is.port.Clear(bus.InitiatorToTarget)
}
