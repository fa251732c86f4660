package bytecode

import "encoding/binary"

// Encode serialises a Module back into the binary wire format Load reads.
// The loader has no compiler front end of its own (bytecode loading
// consumes already-compiled modules per the component design) so Encode is
// the only producer of well-formed modules in this repository; it exists to
// let tests and any embedder that already has a Proto tree in hand (for
// instance, a front end living outside this module) hand the loader real
// input instead of a golden binary fixture.
type encoder struct {
	buf     []byte
	strings map[string]uint32 // 1-based index into the string table
	strList []string
}

func newEncoder() *encoder {
	return &encoder{strings: map[string]uint32{}}
}

func (e *encoder) wByte(b byte)  { e.buf = append(e.buf, b) }
func (e *encoder) wBool(b bool)  { e.wByte(boolByte(b)) }
func (e *encoder) wUint16(v uint16) {
	e.buf = binary.LittleEndian.AppendUint16(e.buf, v)
}
func (e *encoder) wInt64(v int64) {
	e.buf = binary.LittleEndian.AppendUint64(e.buf, uint64(v))
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func (e *encoder) wVarInt(v uint32) {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			e.buf = append(e.buf, b|0x80)
		} else {
			e.buf = append(e.buf, b)
			return
		}
	}
}

func (e *encoder) wSVarInt(v int32) { e.wVarInt(zigzagEncode(v)) }

// internString interns s and returns its 1-based string-table index, or 0
// for the empty string (used as a "no name"/"no source" sentinel).
func (e *encoder) internString(s string) uint32 {
	if s == "" {
		return 0
	}
	if idx, ok := e.strings[s]; ok {
		return idx
	}
	e.strList = append(e.strList, s)
	idx := uint32(len(e.strList))
	e.strings[s] = idx
	return idx
}

func (e *encoder) wString(idx uint32) { e.wVarInt(idx) }

// Encode serialises a module to its binary form.
func Encode(m *Module) []byte {
	e := newEncoder()

	// Prototypes must be flattened depth-first so nested-prototype indices
	// can be written positionally; Module.AllProtos is already in that
	// shape if it came from Load, but Encode rebuilds it from Main so
	// callers can hand in a freshly built tree without maintaining the
	// flat list themselves.
	flat, idxOf := flatten(m.Main)

	var protoBufs [][]byte
	for _, p := range flat {
		protoBufs = append(protoBufs, e.encodeProto(p, idxOf))
	}

	var out []byte
	out = append(out, Signature[:]...)
	out = append(out, Version, sizeInt, sizeInteger, sizeNumber)

	hdr := newEncoder()
	hdr.wVarInt(uint32(len(e.strList)))
	for _, s := range e.strList {
		hdr.wVarInt(uint32(len(s)))
		hdr.buf = append(hdr.buf, []byte(s)...)
	}
	hdr.wVarInt(uint32(len(flat)))
	for _, pb := range protoBufs {
		hdr.buf = append(hdr.buf, pb...)
	}
	hdr.wVarInt(idxOf[m.Main])

	return append(out, hdr.buf...)
}

func flatten(root *Proto) (flat []*Proto, idxOf map[*Proto]uint32) {
	idxOf = map[*Proto]uint32{}
	var visit func(p *Proto)
	visit = func(p *Proto) {
		if _, seen := idxOf[p]; seen {
			return
		}
		idxOf[p] = 0 // reserve, fixed up after children so indices stay stable in post-order below
		for _, c := range p.Protos {
			visit(c)
		}
		idxOf[p] = uint32(len(flat))
		flat = append(flat, p)
	}
	visit(root)
	return
}

// encodeProto appends one prototype's encoding to a fresh buffer and
// returns it. String interning goes through the shared encoder e so every
// prototype's names land in the same module-wide string table.
func (e *encoder) encodeProto(p *Proto, idxOf map[*Proto]uint32) []byte {
	saved := e.buf
	e.buf = nil
	defer func() { e.buf = saved }()

	e.wString(e.internString(p.Source))
	e.wString(e.internString(p.Dbgname))
	e.wVarInt(p.LineDefined)
	e.wByte(p.NumParams)
	e.wBool(p.IsVararg)
	e.wByte(p.MaxStackSize)

	e.wVarInt(uint32(len(p.Code)))
	for _, inst := range p.Code {
		e.wByte(byte(inst.Op))
		e.wSVarInt(inst.A)
		e.wUint16(inst.B)
		e.wUint16(inst.C)
		e.wVarInt(inst.Bx)
		e.wSVarInt(inst.SBx)
		e.wVarInt(inst.Line)
	}

	e.wVarInt(uint32(len(p.Constants)))
	for _, c := range p.Constants {
		e.wByte(byte(c.Kind))
		switch c.Kind {
		case ConstNil:
		case ConstBool:
			e.wBool(c.Bool)
		case ConstInt, ConstNumber:
			e.wInt64(c.Int)
		case ConstString:
			e.wString(e.internString(c.Str))
		}
	}

	e.wVarInt(uint32(len(p.Upvalues)))
	for _, uv := range p.Upvalues {
		e.wString(e.internString(uv.Name))
		e.wByte(byte(uv.Source))
		e.wByte(uv.Index)
	}

	e.wVarInt(uint32(len(p.Protos)))
	for _, c := range p.Protos {
		e.wVarInt(idxOf[c])
	}

	e.wVarInt(uint32(len(p.Locals)))
	for _, l := range p.Locals {
		e.wString(e.internString(l.Name))
		e.wVarInt(l.StartPC)
		e.wVarInt(l.EndPC)
		e.wByte(l.Register)
	}

	return e.buf
}
