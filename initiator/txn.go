package initiator

import "fmt"

// Status is the outcome of a bus transaction.
type Status int

const (
	StatusPending Status = iota
	StatusOK
	StatusError
	StatusTimeout
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusOK:
		return "ok"
	case StatusError:
		return "error"
	case StatusTimeout:
		return "timeout"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// AllBytes selects every byte lane of a 32-bit word.
const AllBytes uint32 = 0xf

// Txn is one classic-cycle access issued by an initiator.
type Txn struct {
	ID         uint64 `json:"id"`
	Write      bool   `json:"write"`
	Address    uint32 `json:"address"`
	Data       uint32 `json:"data"` // write data, or read data once completed
	ByteSelect uint32 `json:"byteSelect"`
	CycleType  uint32 `json:"cycleType"`
	BurstType  uint32 `json:"burstType"`

	Submitted uint64 `json:"submitted"`
	Started   uint64 `json:"started"`
	Finished  uint64 `json:"finished"`
	Status    Status `json:"status"`
}

// NewRead builds a full-word read.
func NewRead(addr uint32) *Txn {
	return &Txn{Address: addr, ByteSelect: AllBytes}
}

// NewWrite builds a full-word write.
func NewWrite(addr, data uint32) *Txn {
	return &Txn{Write: true, Address: addr, Data: data, ByteSelect: AllBytes}
}

// Latency is the number of cycles the transaction held the bus.
func (t *Txn) Latency() uint64 {
	if t == nil || t.Status == StatusPending {
		return 0
	}
	return t.Finished - t.Started + 1
}

// Wait is the number of cycles spent queued before the first bus cycle.
func (t *Txn) Wait() uint64 {
	if t == nil || t.Started < t.Submitted {
		return 0
	}
	return t.Started - t.Submitted
}

func (t *Txn) String() string {
	if t == nil {
		return "<nil>"
	}
	op := "rd"
	if t.Write {
		op = "wr"
	}
	return fmt.Sprintf("#%d %s 0x%08x data=0x%08x %s", t.ID, op, t.Address, t.Data, t.Status)
}
