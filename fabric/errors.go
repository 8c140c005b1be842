package fabric

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ErrConfiguration is matched (errors.Is) by every construction failure.
var ErrConfiguration = errors.New("fabric configuration error")

// AddressRange is an inclusive span of trunk addresses claimed by one map
// entry, with the undecoded high offset bits shown as zero.
type AddressRange struct {
	Lo uint32 `json:"lo"`
	Hi uint32 `json:"hi"`
}

func (r AddressRange) String() string {
	return fmt.Sprintf("0x%08x-0x%08x", r.Lo, r.Hi)
}

// Contains reports whether addr falls inside the range.
func (r AddressRange) Contains(addr uint32) bool {
	return addr >= r.Lo && addr <= r.Hi
}

// ConfigurationError rejects a fabric at construction time.
type ConfigurationError struct {
	Reason string
	Ranges []AddressRange
}

func (e *ConfigurationError) Error() string {
	if len(e.Ranges) == 0 {
		return "configuration error: " + e.Reason
	}
	parts := make([]string, len(e.Ranges))
	for i, r := range e.Ranges {
		parts[i] = r.String()
	}
	return fmt.Sprintf("configuration error: %s [%s]", e.Reason, strings.Join(parts, ", "))
}

// Is makes every ConfigurationError match ErrConfiguration.
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

func configErrorf(ranges []AddressRange, format string, args ...any) error {
	return errors.WithStack(&ConfigurationError{
		Reason: fmt.Sprintf(format, args...),
		Ranges: ranges,
	})
}

// ViolationKind classifies protocol violations observed during evaluation.
type ViolationKind string

const (
	// AckWithoutCycle: a target asserted acknowledge while its cycle_valid was low.
	AckWithoutCycle ViolationKind = "ack-without-cycle"
	// ErrWithoutCycle: a target asserted error while its cycle_valid was low.
	ErrWithoutCycle ViolationKind = "err-without-cycle"
)

// ProtocolViolation reports caller misuse detected during a step. It never
// aborts evaluation.
type ProtocolViolation struct {
	Cycle      uint64
	Target     int
	TargetName string
	Kind       ViolationKind
}

func (v ProtocolViolation) Error() string {
	return fmt.Sprintf("protocol violation at cycle %d: target %d (%s) %s",
		v.Cycle, v.Target, v.TargetName, v.Kind)
}
