package bus

// Port binds the schema for one initiator or target and holds the values of
// the present cycle. Values are written by the fabric's update step and by the
// component that owns the port, each on its own direction.
type Port struct {
	name   string
	values [fieldCount]uint32
}

// NewPort creates a port with every field deasserted.
func NewPort(name string) *Port {
	return &Port{name: name}
}

// Name returns the port label.
func (p *Port) Name() string {
	if p == nil {
		return ""
	}
	return p.name
}

// Get returns the current value of f.
func (p *Port) Get(f Field) uint32 {
	if p == nil || !f.Valid() {
		return 0
	}
	return p.values[f]
}

// Set stores v into f, truncated to the field width.
func (p *Port) Set(f Field, v uint32) {
	if p == nil || !f.Valid() {
		return
	}
	p.values[f] = v & schema[f].Mask()
}

// Asserted reports whether a field carries a non-zero value.
func (p *Port) Asserted(f Field) bool {
	return p.Get(f) != 0
}

// Drive sets a 1-bit field high or low.
func (p *Port) Drive(f Field, on bool) {
	if on {
		p.Set(f, 1)
		return
	}
	p.Set(f, 0)
}

// Clear zeroes every field driven from dir.
func (p *Port) Clear(dir Direction) {
	if p == nil {
		return
	}
	for i := range schema {
		if schema[i].Direction == dir {
			p.values[i] = 0
		}
	}
}

// CopyFrom copies the fields driven from dir out of src.
func (p *Port) CopyFrom(src *Port, dir Direction) {
	if p == nil {
		return
	}
	for i := range schema {
		if schema[i].Direction == dir {
			p.values[i] = src.Get(Field(i))
		}
	}
}

// Snapshot captures the port values.
func (p *Port) Snapshot() PortState {
	st := PortState{Name: p.Name()}
	if p != nil {
		st.Values = p.values
	}
	return st
}

// PortState is an immutable copy of a port for tracing and reporting.
type PortState struct {
	Name   string
	Values [fieldCount]uint32
}

// Get returns the captured value of f.
func (s PortState) Get(f Field) uint32 {
	if !f.Valid() {
		return 0
	}
	return s.Values[f]
}

// Map renders the state keyed by schema field names.
func (s PortState) Map() map[string]uint32 {
	out := make(map[string]uint32, len(schema))
	for i, spec := range schema {
		out[spec.Name] = s.Values[i]
	}
	return out
}
