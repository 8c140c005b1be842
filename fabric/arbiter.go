package fabric

import (
	"fmt"
	"math/bits"
	"strings"
)

// MaxPorts bounds initiator and target counts; request and select vectors are
// held in one machine word.
const MaxPorts = 64

// BitVector is an N-bit request or select vector, bit i for port i.
type BitVector uint64

// RequestVector holds one request bit per initiator.
type RequestVector = BitVector

// Select is a one-hot (or all-zero) target enable vector.
type Select = BitVector

// Has reports whether bit i is set.
func (v BitVector) Has(i int) bool {
	if i < 0 || i >= MaxPorts {
		return false
	}
	return v&(1<<uint(i)) != 0
}

// With returns v with bit i set.
func (v BitVector) With(i int) BitVector {
	if i < 0 || i >= MaxPorts {
		return v
	}
	return v | 1<<uint(i)
}

// Count returns the number of set bits.
func (v BitVector) Count() int {
	return bits.OnesCount64(uint64(v))
}

// Index returns the lowest set bit, or -1 when v is zero.
func (v BitVector) Index() int {
	if v == 0 {
		return -1
	}
	return bits.TrailingZeros64(uint64(v))
}

// Format renders the low n bits, bit 0 first.
func (v BitVector) Format(n int) string {
	var sb strings.Builder
	for i := 0; i < n; i++ {
		if v.Has(i) {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
	}
	return sb.String()
}

func lowMask(n int) BitVector {
	if n >= MaxPorts {
		return ^BitVector(0)
	}
	return (1 << uint(n)) - 1
}

// Grant is the index of the initiator owning the trunk, or NoGrant.
type Grant int

// NoGrant means no initiator requested the trunk this cycle.
const NoGrant Grant = -1

func (g Grant) String() string {
	if g == NoGrant {
		return "none"
	}
	return fmt.Sprintf("%d", int(g))
}

// SwitchPolicy selects when the arbiter may move the grant.
type SwitchPolicy int

const (
	// SwitchEveryCycle re-arbitrates on every evaluation. Any initiator with a
	// held request is granted at least once in N cycles.
	SwitchEveryCycle SwitchPolicy = iota
	// SwitchOnWithdraw keeps the grantee on the trunk while its request stays
	// asserted and rotates only once it drops. Targets with wait states need it.
	SwitchOnWithdraw
)

func (p SwitchPolicy) String() string {
	switch p {
	case SwitchEveryCycle:
		return "every-cycle"
	case SwitchOnWithdraw:
		return "on-withdraw"
	default:
		return fmt.Sprintf("SwitchPolicy(%d)", int(p))
	}
}

// ParseSwitchPolicy maps a policy name to a SwitchPolicy.
func ParseSwitchPolicy(name string) (SwitchPolicy, bool) {
	switch name {
	case "every-cycle", "":
		return SwitchEveryCycle, true
	case "on-withdraw", "withdraw":
		return SwitchOnWithdraw, true
	}
	return SwitchEveryCycle, false
}

// NextGrant is the round-robin selection function. The scan starts right after
// prev (at 0 when prev is NoGrant) and wraps; the first requesting index wins.
func NextGrant(req RequestVector, prev Grant, n int, policy SwitchPolicy) Grant {
	if n <= 0 {
		return NoGrant
	}
	req &= lowMask(n)
	if req == 0 {
		return NoGrant
	}
	if prev < 0 || int(prev) >= n {
		prev = NoGrant
	}
	if policy == SwitchOnWithdraw && prev != NoGrant && req.Has(int(prev)) {
		return prev
	}
	start := int(prev) + 1
	for i := 0; i < n; i++ {
		idx := (start + i) % n
		if req.Has(idx) {
			return Grant(idx)
		}
	}
	return NoGrant
}

// Arbiter grants the shared trunk to one of N initiators. Its only memory is
// the rotation pointer: the last index that received a grant.
type Arbiter struct {
	n       int
	policy  SwitchPolicy
	last    Grant
	grant   Grant
	request RequestVector
}

// ArbiterOption customizes an Arbiter.
type ArbiterOption func(*Arbiter)

// WithPolicy sets the switch policy (default SwitchEveryCycle).
func WithPolicy(p SwitchPolicy) ArbiterOption {
	return func(a *Arbiter) {
		a.policy = p
	}
}

// NewArbiter creates an arbiter for n initiators.
func NewArbiter(n int, opts ...ArbiterOption) (*Arbiter, error) {
	if n < 1 {
		return nil, configErrorf(nil, "arbiter needs at least one initiator, got %d", n)
	}
	if n > MaxPorts {
		return nil, configErrorf(nil, "arbiter supports at most %d initiators, got %d", MaxPorts, n)
	}
	a := &Arbiter{
		n:     n,
		last:  NoGrant,
		grant: NoGrant,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Evaluate computes this cycle's grant from req and the committed pointer.
// Calling it again within the same cycle recomputes from the same pointer.
func (a *Arbiter) Evaluate(req RequestVector) Grant {
	a.request = req & lowMask(a.n)
	a.grant = NextGrant(a.request, a.last, a.n, a.policy)
	return a.grant
}

// Commit latches the current grant into the rotation pointer. A cycle without
// a grant leaves the pointer where it was.
func (a *Arbiter) Commit() {
	if a.grant != NoGrant {
		a.last = a.grant
	}
}

// Reset returns the arbiter to its power-on state.
func (a *Arbiter) Reset() {
	a.last = NoGrant
	a.grant = NoGrant
	a.request = 0
}

// Size returns the initiator count.
func (a *Arbiter) Size() int { return a.n }

// Policy returns the configured switch policy.
func (a *Arbiter) Policy() SwitchPolicy { return a.policy }

// Grant returns the grant computed by the latest Evaluate.
func (a *Arbiter) Grant() Grant { return a.grant }

// Request returns the request vector seen by the latest Evaluate.
func (a *Arbiter) Request() RequestVector { return a.request }

// Last returns the rotation pointer.
func (a *Arbiter) Last() Grant { return a.last }

// GrantWidth is the bit width of an encoded grant index, ceil(log2 N).
func (a *Arbiter) GrantWidth() int {
	w := bits.Len(uint(a.n - 1))
	if w == 0 {
		return 1
	}
	return w
}
