// Package queue provides the bounded FIFO used to hold pending bus
// transactions in front of an initiator socket.
package queue

// Unbounded disables the capacity check.
const Unbounded = -1

// ChangeFunc is invoked after the queue depth changes.
type ChangeFunc func(depth int, capacity int)

// Hooks observes items entering and leaving the queue.
type Hooks[T any] struct {
	OnPush func(item T, cycle uint64)
	OnPop  func(item T, cycle uint64)
	// OnReject fires when Push finds the queue full.
	OnReject func(item T, cycle uint64)
}

// FIFO is a first-in first-out queue with capacity bookkeeping. The zero
// value is not usable; call New.
type FIFO[T any] struct {
	name     string
	capacity int
	items    []T
	hooks    Hooks[T]
	change   ChangeFunc

	pushed   uint64
	popped   uint64
	rejected uint64
	peak     int
}

// New builds a FIFO. A negative capacity means unbounded.
func New[T any](name string, capacity int, change ChangeFunc, hooks Hooks[T]) *FIFO[T] {
	q := &FIFO[T]{
		name:     name,
		capacity: capacity,
		hooks:    hooks,
		change:   change,
	}
	q.notify()
	return q
}

// Name returns the queue name.
func (q *FIFO[T]) Name() string {
	if q == nil {
		return ""
	}
	return q.name
}

// Capacity returns the capacity, Unbounded for none.
func (q *FIFO[T]) Capacity() int {
	if q == nil {
		return 0
	}
	return q.capacity
}

// Len returns the current depth.
func (q *FIFO[T]) Len() int {
	if q == nil {
		return 0
	}
	return len(q.items)
}

// Full reports whether Push would be rejected.
func (q *FIFO[T]) Full() bool {
	if q == nil {
		return true
	}
	return q.capacity >= 0 && len(q.items) >= q.capacity
}

// Push appends item, returning false when the queue is full.
func (q *FIFO[T]) Push(item T, cycle uint64) bool {
	if q == nil {
		return false
	}
	if q.Full() {
		q.rejected++
		if q.hooks.OnReject != nil {
			q.hooks.OnReject(item, cycle)
		}
		return false
	}
	q.items = append(q.items, item)
	q.pushed++
	if len(q.items) > q.peak {
		q.peak = len(q.items)
	}
	if q.hooks.OnPush != nil {
		q.hooks.OnPush(item, cycle)
	}
	q.notify()
	return true
}

// Peek returns the head without removing it.
func (q *FIFO[T]) Peek() (T, bool) {
	var zero T
	if q == nil || len(q.items) == 0 {
		return zero, false
	}
	return q.items[0], true
}

// Pop removes and returns the head.
func (q *FIFO[T]) Pop(cycle uint64) (T, bool) {
	var zero T
	if q == nil || len(q.items) == 0 {
		return zero, false
	}
	item := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	q.popped++
	if q.hooks.OnPop != nil {
		q.hooks.OnPop(item, cycle)
	}
	q.notify()
	return item, true
}

// Clear drops every pending item without running OnPop.
func (q *FIFO[T]) Clear() {
	if q == nil {
		return
	}
	q.items = nil
	q.notify()
}

// Items returns a copy of the pending items, head first.
func (q *FIFO[T]) Items() []T {
	if q == nil {
		return nil
	}
	out := make([]T, len(q.items))
	copy(out, q.items)
	return out
}

// Stats summarizes queue traffic since construction.
type Stats struct {
	Pushed   uint64 `json:"pushed"`
	Popped   uint64 `json:"popped"`
	Rejected uint64 `json:"rejected"`
	Peak     int    `json:"peak"`
}

// Stats returns the traffic counters.
func (q *FIFO[T]) Stats() Stats {
	if q == nil {
		return Stats{}
	}
	return Stats{Pushed: q.pushed, Popped: q.popped, Rejected: q.rejected, Peak: q.peak}
}

func (q *FIFO[T]) notify() {
	if q == nil || q.change == nil {
		return
	}
	q.change(len(q.items), q.capacity)
}
