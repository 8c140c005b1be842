// Package checker is an instrumentation plugin that counts fabric activity
// and cross-checks the invariants the fabric must hold on every cycle.
package checker

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"

	"github.com/Readm/wb_sim/hooks"
)

// PluginName identifies the checker in the broker's catalogue.
const PluginName = "checker/fabric"

// Counters is a snapshot of what the checker saw.
type Counters struct {
	Cycles       uint64   `json:"cycles"`
	BusyCycles   uint64   `json:"busyCycles"`
	Grants       []uint64 `json:"grants"`
	Selects      []uint64 `json:"selects"`
	DecodeMisses uint64   `json:"decodeMisses"`
	Violations   []uint64 `json:"violations"`
	Completions  []uint64 `json:"completions"`
	Failures     []string `json:"failures,omitempty"`
}

// Checker accumulates counters per initiator and per target.
type Checker struct {
	mu        sync.Mutex
	counters  Counters
	lastGrant map[uint64]int
	strict    bool
}

// Options configure a Checker.
type Options struct {
	Initiators int
	Targets    int
	// Strict makes a failed check return an error from the hook, which the
	// fabric logs.
	Strict bool
}

// New builds a checker sized for the fabric.
func New(opts Options) *Checker {
	return &Checker{
		counters: Counters{
			Grants:      make([]uint64, opts.Initiators),
			Selects:     make([]uint64, opts.Targets),
			Violations:  make([]uint64, opts.Targets),
			Completions: make([]uint64, opts.Initiators),
		},
		lastGrant: make(map[uint64]int),
		strict:    opts.Strict,
	}
}

// Register installs the checker's hooks and catalogue entry on b.
func Register(b *hooks.Broker, c *Checker) error {
	if b == nil {
		return errors.New("broker is nil")
	}
	if c == nil {
		return errors.New("checker is nil")
	}
	b.RegisterBundle(hooks.PluginDescriptor{
		Name:        PluginName,
		Category:    hooks.PluginCategoryChecker,
		Description: "grant/decode counters and one-hot checks",
	}, hooks.HookBundle{
		Grant:      []hooks.GrantHook{c.onGrant},
		Decode:     []hooks.DecodeHook{c.onDecode},
		Violation:  []hooks.ViolationHook{c.onViolation},
		Completion: []hooks.CompletionHook{c.onCompletion},
	})
	return nil
}

func (c *Checker) fail(format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	c.counters.Failures = append(c.counters.Failures, msg)
	if c.strict {
		return errors.New(msg)
	}
	return nil
}

func (c *Checker) onGrant(ctx *hooks.GrantContext) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters.Cycles++
	// the grant table only needs the cycle in flight
	for k := range c.lastGrant {
		delete(c.lastGrant, k)
	}
	c.lastGrant[ctx.Cycle] = ctx.Grant
	if ctx.Grant < 0 {
		if ctx.Requests != 0 {
			return c.fail("cycle %d: requests %b pending without a grant", ctx.Cycle, ctx.Requests)
		}
		return nil
	}
	if ctx.Grant >= len(c.counters.Grants) {
		return c.fail("cycle %d: grant %d out of range", ctx.Cycle, ctx.Grant)
	}
	if ctx.Requests&(1<<uint(ctx.Grant)) == 0 {
		return c.fail("cycle %d: grant %d without a request", ctx.Cycle, ctx.Grant)
	}
	c.counters.Grants[ctx.Grant]++
	c.counters.BusyCycles++
	return nil
}

func (c *Checker) onDecode(ctx *hooks.DecodeContext) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ctx.Select&(ctx.Select-1) != 0 {
		return c.fail("cycle %d: select %b is not one-hot", ctx.Cycle, ctx.Select)
	}
	if ctx.Target < 0 {
		c.counters.DecodeMisses++
		return nil
	}
	if ctx.Target < len(c.counters.Selects) {
		c.counters.Selects[ctx.Target]++
	}
	return nil
}

func (c *Checker) onViolation(ctx *hooks.ViolationContext) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ctx.Target >= 0 && ctx.Target < len(c.counters.Violations) {
		c.counters.Violations[ctx.Target]++
	}
	return nil
}

func (c *Checker) onCompletion(ctx *hooks.CompletionContext) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if g, ok := c.lastGrant[ctx.Cycle]; !ok || g != ctx.Initiator {
		return c.fail("cycle %d: response routed to initiator %d, grant was %d", ctx.Cycle, ctx.Initiator, g)
	}
	if ctx.Initiator < len(c.counters.Completions) {
		c.counters.Completions[ctx.Initiator]++
	}
	return nil
}

// Snapshot returns a copy of the counters.
func (c *Checker) Snapshot() Counters {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.counters
	out.Grants = append([]uint64(nil), c.counters.Grants...)
	out.Selects = append([]uint64(nil), c.counters.Selects...)
	out.Violations = append([]uint64(nil), c.counters.Violations...)
	out.Completions = append([]uint64(nil), c.counters.Completions...)
	out.Failures = append([]string(nil), c.counters.Failures...)
	return out
}
