package bus

import "fmt"

// Direction tells which side of the bus drives a field.
type Direction int

const (
	// InitiatorToTarget fields are driven by the initiator (master) side.
	InitiatorToTarget Direction = iota
	// TargetToInitiator fields are driven by the target (slave) side.
	TargetToInitiator
)

func (d Direction) String() string {
	switch d {
	case InitiatorToTarget:
		return "initiator->target"
	case TargetToInitiator:
		return "target->initiator"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

// Field indexes one entry of the canonical schema.
type Field int

const (
	Address Field = iota
	WriteData
	ReadData
	ByteSelect
	CycleValid
	Strobe
	Acknowledge
	WriteEnable
	CycleType
	BurstTypeExt
	Error

	fieldCount
)

// NumFields is the number of fields in the canonical schema.
const NumFields = int(fieldCount)

// FieldSpec describes one bus field.
type FieldSpec struct {
	Name      string    `json:"name"`
	Direction Direction `json:"direction"`
	Width     uint      `json:"width"`
}

// Mask returns the value mask for the field width.
func (s FieldSpec) Mask() uint32 {
	if s.Width >= 32 {
		return ^uint32(0)
	}
	return (uint32(1) << s.Width) - 1
}

var schema = [fieldCount]FieldSpec{
	Address:      {Name: "address", Direction: InitiatorToTarget, Width: 32},
	WriteData:    {Name: "write_data", Direction: InitiatorToTarget, Width: 32},
	ReadData:     {Name: "read_data", Direction: TargetToInitiator, Width: 32},
	ByteSelect:   {Name: "byte_select", Direction: InitiatorToTarget, Width: 4},
	CycleValid:   {Name: "cycle_valid", Direction: InitiatorToTarget, Width: 1},
	Strobe:       {Name: "strobe", Direction: InitiatorToTarget, Width: 1},
	Acknowledge:  {Name: "acknowledge", Direction: TargetToInitiator, Width: 1},
	WriteEnable:  {Name: "write_enable", Direction: InitiatorToTarget, Width: 1},
	CycleType:    {Name: "cycle_type", Direction: InitiatorToTarget, Width: 3},
	BurstTypeExt: {Name: "burst_type_ext", Direction: InitiatorToTarget, Width: 2},
	Error:        {Name: "error", Direction: TargetToInitiator, Width: 1},
}

var (
	fieldsByName = func() map[string]Field {
		m := make(map[string]Field, len(schema))
		for i, s := range schema {
			m[s.Name] = Field(i)
		}
		return m
	}()
	initiatorFields = collect(InitiatorToTarget)
	targetFields    = collect(TargetToInitiator)
)

func collect(dir Direction) []Field {
	out := make([]Field, 0, len(schema))
	for i, s := range schema {
		if s.Direction == dir {
			out = append(out, Field(i))
		}
	}
	return out
}

// Schema returns a copy of the canonical ordered field table.
func Schema() []FieldSpec {
	out := make([]FieldSpec, len(schema))
	copy(out, schema[:])
	return out
}

// Spec returns the description of f. It panics on an out of range field.
func Spec(f Field) FieldSpec {
	return schema[f]
}

// LookupField resolves a field by its schema name.
func LookupField(name string) (Field, bool) {
	f, ok := fieldsByName[name]
	return f, ok
}

// FieldsByDirection lists the fields driven from dir, in schema order.
func FieldsByDirection(dir Direction) []Field {
	var src []Field
	switch dir {
	case InitiatorToTarget:
		src = initiatorFields
	case TargetToInitiator:
		src = targetFields
	default:
		return nil
	}
	out := make([]Field, len(src))
	copy(out, src)
	return out
}

func (f Field) String() string {
	if f < 0 || f >= fieldCount {
		return fmt.Sprintf("Field(%d)", int(f))
	}
	return schema[f].Name
}

// Valid reports whether f names a schema field.
func (f Field) Valid() bool {
	return f >= 0 && f < fieldCount
}

// Cycle type identifiers carried on CycleType.
const (
	CycleClassic        uint32 = 0b000
	CycleConstAddrBurst uint32 = 0b001
	CycleIncrBurst      uint32 = 0b010
	CycleEndOfBurst     uint32 = 0b111
)

// Burst type extensions carried on BurstTypeExt.
const (
	BurstLinear uint32 = 0b00
	BurstWrap4  uint32 = 0b01
	BurstWrap8  uint32 = 0b10
	BurstWrap16 uint32 = 0b11
)
