// Package tracer records a bounded per-cycle history of fabric events for
// the CLI trace table and the web API.
package tracer

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/Readm/wb_sim/hooks"
	"github.com/Readm/wb_sim/queue"
)

// PluginName identifies the tracer in the broker's catalogue.
const PluginName = "instrumentation/tracer"

// DefaultDepth is the number of cycles kept when none is configured.
const DefaultDepth = 256

// Event is the fabric activity of one cycle.
type Event struct {
	Cycle     uint64 `json:"cycle"`
	Requests  uint64 `json:"requests"`
	Grant     int    `json:"grant"`
	Decoded   bool   `json:"decoded"`
	Address   uint32 `json:"address"`
	Target    int    `json:"target"`
	Ack       bool   `json:"ack"`
	Err       bool   `json:"err"`
	ReadData  uint32 `json:"readData"`
	Violation string `json:"violation,omitempty"`
}

// Recorder keeps the most recent events, oldest first.
type Recorder struct {
	mu      sync.Mutex
	events  *queue.FIFO[Event]
	current *Event
	dropped uint64
}

// New builds a recorder holding depth cycles.
func New(depth int) *Recorder {
	if depth <= 0 {
		depth = DefaultDepth
	}
	return &Recorder{events: queue.New[Event]("trace", depth, nil, queue.Hooks[Event]{})}
}

// Register installs the recorder's hooks and catalogue entry on b.
func Register(b *hooks.Broker, r *Recorder) error {
	if b == nil {
		return errors.New("broker is nil")
	}
	if r == nil {
		return errors.New("recorder is nil")
	}
	b.RegisterBundle(hooks.PluginDescriptor{
		Name:        PluginName,
		Category:    hooks.PluginCategoryInstrumentation,
		Description: "per-cycle grant/decode/response history",
	}, hooks.HookBundle{
		Grant:      []hooks.GrantHook{r.onGrant},
		Decode:     []hooks.DecodeHook{r.onDecode},
		Violation:  []hooks.ViolationHook{r.onViolation},
		Completion: []hooks.CompletionHook{r.onCompletion},
	})
	return nil
}

// onGrant opens a new cycle; it runs first in every step.
func (r *Recorder) onGrant(ctx *hooks.GrantContext) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flush()
	r.current = &Event{Cycle: ctx.Cycle, Requests: ctx.Requests, Grant: ctx.Grant, Target: -1}
	return nil
}

func (r *Recorder) onDecode(ctx *hooks.DecodeContext) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ev := r.event(ctx.Cycle); ev != nil {
		ev.Decoded = true
		ev.Address = ctx.Address
		ev.Target = ctx.Target
	}
	return nil
}

func (r *Recorder) onViolation(ctx *hooks.ViolationContext) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ev := r.event(ctx.Cycle); ev != nil {
		if ev.Violation != "" {
			ev.Violation += ","
		}
		ev.Violation += ctx.TargetName + ":" + ctx.Kind
	}
	return nil
}

func (r *Recorder) onCompletion(ctx *hooks.CompletionContext) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ev := r.event(ctx.Cycle); ev != nil {
		ev.Ack = ctx.Ack
		ev.Err = ctx.Err
		ev.ReadData = ctx.ReadData
	}
	return nil
}

func (r *Recorder) event(cycle uint64) *Event {
	if r.current == nil || r.current.Cycle != cycle {
		return nil
	}
	return r.current
}

func (r *Recorder) flush() {
	if r.current == nil {
		return
	}
	if r.events.Full() {
		r.events.Pop(r.current.Cycle)
		r.dropped++
	}
	r.events.Push(*r.current, r.current.Cycle)
	r.current = nil
}

// Events returns the recorded history including the cycle in flight.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.events.Items()
	if r.current != nil {
		out = append(out, *r.current)
	}
	return out
}

// Tail returns at most n of the most recent events.
func (r *Recorder) Tail(n int) []Event {
	all := r.Events()
	if n <= 0 || n >= len(all) {
		return all
	}
	return all[len(all)-n:]
}

// Dropped returns how many cycles fell out of the history.
func (r *Recorder) Dropped() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Reset clears the history.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events.Clear()
	r.current = nil
	r.dropped = 0
}
