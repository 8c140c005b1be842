package fabric

import "math/bits"

// DefaultAddressWidth is the width of the schema address field.
const DefaultAddressWidth = 32

// MapEntry is one row of a decode table: a Width-bit pattern compared against
// the high-order window of the trunk address.
type MapEntry struct {
	Pattern uint32 `json:"pattern"`
	Width   uint   `json:"width"`
}

// Pattern builds a map entry.
func Pattern(value uint32, width uint) MapEntry {
	return MapEntry{Pattern: value, Width: width}
}

// UniformPatterns gives every value the width of the widest one, so that bare
// integers like 0 and 1 become the 1-bit patterns "0" and "1".
func UniformPatterns(values ...uint32) []MapEntry {
	width := uint(1)
	for _, v := range values {
		if w := uint(bits.Len32(v)); w > width {
			width = w
		}
	}
	out := make([]MapEntry, len(values))
	for i, v := range values {
		out[i] = MapEntry{Pattern: v, Width: width}
	}
	return out
}

// DecoderOptions configures a Decoder. Zero values mean a 32-bit address, no
// offset and combinational select.
type DecoderOptions struct {
	AddressWidth uint
	// Offset excludes that many high address bits from decoding; patterns are
	// matched immediately below them.
	Offset uint
	// Registered delays the select used by the response data mux by one cycle.
	Registered bool
}

// Decoder maps trunk addresses to a one-hot target select.
type Decoder struct {
	entries    []MapEntry
	ranges     []AddressRange
	addrWidth  uint
	offset     uint
	registered bool

	sel  Select
	selR Select
	// latched holds the registered copy across the clock edge
	latched Select
}

// NewDecoder validates the table and builds a decoder. Entry i drives bit i of
// the select vector.
func NewDecoder(entries []MapEntry, opts DecoderOptions) (*Decoder, error) {
	addrWidth := opts.AddressWidth
	if addrWidth == 0 {
		addrWidth = DefaultAddressWidth
	}
	if addrWidth > DefaultAddressWidth {
		return nil, configErrorf(nil, "address width %d exceeds %d bits", addrWidth, DefaultAddressWidth)
	}
	if len(entries) == 0 {
		return nil, configErrorf(nil, "decoder needs at least one target")
	}
	if len(entries) > MaxPorts {
		return nil, configErrorf(nil, "decoder supports at most %d targets, got %d", MaxPorts, len(entries))
	}
	if opts.Offset >= addrWidth {
		return nil, configErrorf(nil, "offset %d leaves no decodable bits in a %d-bit address", opts.Offset, addrWidth)
	}
	window := addrWidth - opts.Offset

	d := &Decoder{
		entries:    make([]MapEntry, len(entries)),
		ranges:     make([]AddressRange, len(entries)),
		addrWidth:  addrWidth,
		offset:     opts.Offset,
		registered: opts.Registered,
	}
	copy(d.entries, entries)

	for i, e := range d.entries {
		if e.Width == 0 {
			return nil, configErrorf(nil, "entry %d has a zero-width pattern", i)
		}
		if e.Width > window {
			return nil, configErrorf(nil, "entry %d pattern is %d bits wide but only %d address bits are decodable (offset %d)",
				i, e.Width, window, opts.Offset)
		}
		if e.Pattern&^widthMask(e.Width) != 0 {
			return nil, configErrorf(nil, "entry %d pattern %#x does not fit in %d bits", i, e.Pattern, e.Width)
		}
		d.ranges[i] = d.rangeOf(e)
	}

	for i := 0; i < len(d.entries); i++ {
		for j := i + 1; j < len(d.entries); j++ {
			if overlaps(d.entries[i], d.entries[j]) {
				return nil, configErrorf([]AddressRange{d.ranges[i], d.ranges[j]},
					"entries %d and %d overlap", i, j)
			}
		}
	}
	return d, nil
}

func widthMask(w uint) uint32 {
	if w >= 32 {
		return ^uint32(0)
	}
	return (uint32(1) << w) - 1
}

// overlaps compares two patterns on their common high-order prefix: they
// claim a shared address exactly when the shorter pattern is a prefix of the
// longer one.
func overlaps(a, b MapEntry) bool {
	common := a.Width
	if b.Width < common {
		common = b.Width
	}
	return a.Pattern>>(a.Width-common) == b.Pattern>>(b.Width-common)
}

func (d *Decoder) rangeOf(e MapEntry) AddressRange {
	shift := d.addrWidth - d.offset - e.Width
	lo := uint64(e.Pattern) << shift
	hi := lo | (uint64(1)<<shift - 1)
	return AddressRange{Lo: uint32(lo), Hi: uint32(hi)}
}

// Match is the combinational decode of addr. At most one bit is set; a miss
// returns zero.
func (d *Decoder) Match(addr uint32) Select {
	addr &= widthMask(d.addrWidth)
	hi := d.addrWidth - d.offset
	var sel Select
	for i, e := range d.entries {
		if (addr>>(hi-e.Width))&widthMask(e.Width) == e.Pattern {
			sel = sel.With(i)
		}
	}
	return sel
}

// Evaluate decodes addr for the current cycle and returns the combinational
// select plus the select seen by the response data mux.
func (d *Decoder) Evaluate(addr uint32) (Select, Select) {
	d.sel = d.Match(addr)
	if d.registered {
		d.selR = d.latched
	} else {
		d.selR = d.sel
	}
	return d.sel, d.selR
}

// Commit is the clock edge: in registered mode the current select becomes
// next cycle's registered select.
func (d *Decoder) Commit() {
	if d.registered {
		d.latched = d.sel
	}
}

// Reset clears both select vectors.
func (d *Decoder) Reset() {
	d.sel = 0
	d.selR = 0
	d.latched = 0
}

// Select returns the combinational select from the latest Evaluate.
func (d *Decoder) Select() Select { return d.sel }

// SelectRegistered returns the select gating the response data mux.
func (d *Decoder) SelectRegistered() Select { return d.selR }

// Registered reports whether the decoder runs in registered mode.
func (d *Decoder) Registered() bool { return d.registered }

// Offset returns the number of undecoded high address bits.
func (d *Decoder) Offset() uint { return d.offset }

// Len returns the number of entries.
func (d *Decoder) Len() int { return len(d.entries) }

// Entries returns a copy of the decode table.
func (d *Decoder) Entries() []MapEntry {
	out := make([]MapEntry, len(d.entries))
	copy(out, d.entries)
	return out
}

// Ranges returns the address range claimed by each entry.
func (d *Decoder) Ranges() []AddressRange {
	out := make([]AddressRange, len(d.ranges))
	copy(out, d.ranges)
	return out
}
