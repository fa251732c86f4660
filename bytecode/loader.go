package bytecode

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Signature is the four-byte magic prefix every binary module must start
// with. Version is the single supported format version; the format is
// declared stable in the external interface and any change to wire layout
// must bump this.
var Signature = [4]byte{'U', 'V', 'M', '1'}

const Version = 1

// sizeInt/sizeInteger/sizeNumber record the width, in bytes, of the header's
// self-description fields. The loader refuses any module that declares a
// different width than it was built for, rather than silently reinterpret
// bytes -- cross-width interpretation is exactly the kind of nondeterminism
// this format exists to avoid.
const (
	sizeInt     = 4 // varint-length fields
	sizeInteger = 8 // Integer values
	sizeNumber  = 8 // Number scaled mantissas
)

// CompileError is returned by Load when the input fails a structural check
// before any instruction ever executes. No partial module survives a
// CompileError: Load returns either a fully validated Module or none at
// all.
type CompileError struct {
	Reason string
}

func (e *CompileError) Error() string { return "compile error: " + e.Reason }

func compileErrorf(format string, args ...any) error {
	return &CompileError{Reason: fmt.Sprintf(format, args...)}
}

// stream is a bounds-checked binary cursor. Every read either succeeds or
// returns an error; it never panics on truncated input, since a truncated
// or adversarial module is exactly what Load has to reject cleanly.
type stream struct {
	data []byte
	pos  uint32
}

func (s *stream) remaining() uint32 { return uint32(len(s.data)) - s.pos }

func (s *stream) need(n uint32) error {
	if s.remaining() < n {
		return compileErrorf("unexpected end of module at offset %d (need %d more bytes)", s.pos, n)
	}
	return nil
}

func (s *stream) rByte() (b byte, err error) {
	if err = s.need(1); err != nil {
		return
	}
	b = s.data[s.pos]
	s.pos++
	return
}

func (s *stream) rBool() (bool, error) {
	b, err := s.rByte()
	return b != 0, err
}

func (s *stream) rUint16() (w uint16, err error) {
	if err = s.need(2); err != nil {
		return
	}
	w = binary.LittleEndian.Uint16(s.data[s.pos:])
	s.pos += 2
	return
}

func (s *stream) rUint32() (w uint32, err error) {
	if err = s.need(4); err != nil {
		return
	}
	w = binary.LittleEndian.Uint32(s.data[s.pos:])
	s.pos += 4
	return
}

func (s *stream) rInt64() (w int64, err error) {
	if err = s.need(8); err != nil {
		return
	}
	w = int64(binary.LittleEndian.Uint64(s.data[s.pos:]))
	s.pos += 8
	return
}

// rVarInt reads a LEB128-style unsigned varint, capped at 5 bytes (enough
// for 32 bits), matching the header's declared sizeInt.
func (s *stream) rVarInt() (r uint32, err error) {
	for i := range 5 {
		b, e := s.rByte()
		if e != nil {
			return 0, e
		}
		r |= uint32(b&0x7f) << (i * 7)
		if b&0x80 == 0 {
			return r, nil
		}
	}
	return 0, compileErrorf("varint too long at offset %d", s.pos)
}

func zigzagDecode(u uint32) int32 {
	return int32(u>>1) ^ -int32(u&1)
}

func zigzagEncode(i int32) uint32 {
	return uint32((i << 1) ^ (i >> 31))
}

func (s *stream) rSVarInt() (int32, error) {
	u, err := s.rVarInt()
	return zigzagDecode(u), err
}

func (s *stream) rString() (str string, err error) {
	n, err := s.rVarInt()
	if err != nil {
		return
	}
	if err = s.need(n); err != nil {
		return
	}
	str = string(s.data[s.pos:][:n])
	s.pos += n
	return
}

func (s *stream) checkEnd() error {
	if s.pos != uint32(len(s.data)) {
		return compileErrorf("trailing data after module (%d unread bytes)", s.remaining())
	}
	return nil
}

// Load parses a binary module into a validated Proto tree. Validation
// happens in two passes: structural decoding (bounds, header, counts) and
// then a dedicated Validate pass per prototype, so a module that decodes
// cleanly but references an out-of-range register or jump target is still
// rejected before any instruction runs.
func Load(data []byte) (*Module, error) {
	s := &stream{data: data}

	var sig [4]byte
	for i := range sig {
		b, err := s.rByte()
		if err != nil {
			return nil, compileErrorf("truncated signature")
		}
		sig[i] = b
	}
	if sig != Signature {
		return nil, compileErrorf("bad signature")
	}

	version, err := s.rByte()
	if err != nil {
		return nil, err
	}
	if version != Version {
		return nil, compileErrorf("unsupported module version %d", version)
	}

	szInt, err := s.rByte()
	if err != nil {
		return nil, err
	}
	szInteger, err := s.rByte()
	if err != nil {
		return nil, err
	}
	szNumber, err := s.rByte()
	if err != nil {
		return nil, err
	}
	if szInt != sizeInt || szInteger != sizeInteger || szNumber != sizeNumber {
		return nil, compileErrorf("module header declares incompatible sizes (int=%d integer=%d number=%d)", szInt, szInteger, szNumber)
	}

	stringCount, err := s.rVarInt()
	if err != nil {
		return nil, err
	}
	strings := make([]string, stringCount)
	for i := range strings {
		if strings[i], err = s.rString(); err != nil {
			return nil, err
		}
	}

	protoCount, err := s.rVarInt()
	if err != nil {
		return nil, err
	}
	protos := make([]*Proto, protoCount)
	for i := range protos {
		if protos[i], err = readProto(s, strings); err != nil {
			return nil, err
		}
	}

	mainIdx, err := s.rVarInt()
	if err != nil {
		return nil, err
	}
	if mainIdx >= protoCount {
		return nil, compileErrorf("main prototype index %d out of range", mainIdx)
	}

	if err := s.checkEnd(); err != nil {
		return nil, err
	}

	// resolve nested-prototype indices into pointers now that the full list
	// exists, and run the validation pass before handing anything to a
	// caller.
	for i, p := range protos {
		if err := resolveProtos(p, protos); err != nil {
			return nil, err
		}
		if err := Validate(p); err != nil {
			return nil, fmt.Errorf("prototype %d (%s): %w", i, p.Dbgname, err)
		}
	}

	// The main chunk has no enclosing closure, so any UpvalFromUpvalue
	// descriptor on it (unlike on a nested prototype, whose parent checks
	// this above) can never resolve to anything.
	for i, uv := range protos[mainIdx].Upvalues {
		if uv.Source == UpvalFromUpvalue {
			return nil, compileErrorf("main prototype upvalue %d: upvalue source has no enclosing closure", i)
		}
	}

	return &Module{Main: protos[mainIdx], AllProtos: protos}, nil
}

func readProto(s *stream, strTab []string) (p *Proto, err error) {
	p = &Proto{}

	srcIdx, err := s.rVarInt()
	if err != nil {
		return nil, err
	}
	if srcIdx > 0 {
		if int(srcIdx) > len(strTab) {
			return nil, compileErrorf("source string index out of range")
		}
		p.Source = strTab[srcIdx-1]
	}

	nameIdx, err := s.rVarInt()
	if err != nil {
		return nil, err
	}
	if nameIdx > 0 {
		if int(nameIdx) > len(strTab) {
			return nil, compileErrorf("debug-name string index out of range")
		}
		p.Dbgname = strTab[nameIdx-1]
	} else {
		p.Dbgname = "(anonymous)"
	}

	if p.LineDefined, err = s.rVarInt(); err != nil {
		return nil, err
	}
	if p.NumParams, err = s.rByte(); err != nil {
		return nil, err
	}
	if p.IsVararg, err = s.rBool(); err != nil {
		return nil, err
	}
	if p.MaxStackSize, err = s.rByte(); err != nil {
		return nil, err
	}

	sizecode, err := s.rVarInt()
	if err != nil {
		return nil, err
	}
	p.Code = make([]Inst, sizecode)
	p.LineInfo = make([]uint32, sizecode)
	for i := range p.Code {
		inst, err := readInst(s)
		if err != nil {
			return nil, err
		}
		p.Code[i] = inst
		p.LineInfo[i] = inst.Line
	}

	sizek, err := s.rVarInt()
	if err != nil {
		return nil, err
	}
	p.Constants = make([]Const, sizek)
	for i := range p.Constants {
		kind, err := s.rByte()
		if err != nil {
			return nil, err
		}
		c := Const{Kind: ConstKind(kind)}
		switch c.Kind {
		case ConstNil:
		case ConstBool:
			if c.Bool, err = s.rBool(); err != nil {
				return nil, err
			}
		case ConstInt, ConstNumber:
			if c.Int, err = s.rInt64(); err != nil {
				return nil, err
			}
		case ConstString:
			idx, err := s.rVarInt()
			if err != nil {
				return nil, err
			}
			if idx == 0 || int(idx) > len(strTab) {
				return nil, compileErrorf("constant string index out of range")
			}
			c.Str = strTab[idx-1]
		default:
			return nil, compileErrorf("unknown constant kind %d", kind)
		}
		p.Constants[i] = c
	}

	sizeUp, err := s.rVarInt()
	if err != nil {
		return nil, err
	}
	p.Upvalues = make([]UpvalDesc, sizeUp)
	for i := range p.Upvalues {
		nIdx, err := s.rVarInt()
		if err != nil {
			return nil, err
		}
		if nIdx > 0 {
			if int(nIdx) > len(strTab) {
				return nil, compileErrorf("upvalue name index out of range")
			}
			p.Upvalues[i].Name = strTab[nIdx-1]
		}
		src, err := s.rByte()
		if err != nil {
			return nil, err
		}
		p.Upvalues[i].Source = UpvalSource(src)
		if p.Upvalues[i].Index, err = s.rByte(); err != nil {
			return nil, err
		}
	}

	sizep, err := s.rVarInt()
	if err != nil {
		return nil, err
	}
	// Protos is stored as raw indices until resolveProtos links pointers;
	// stash the indices in a side table via a synthetic local slice.
	rawIdx := make([]uint32, sizep)
	for i := range rawIdx {
		if rawIdx[i], err = s.rVarInt(); err != nil {
			return nil, err
		}
	}
	p.protoIdx = rawIdx

	sizeLocals, err := s.rVarInt()
	if err != nil {
		return nil, err
	}
	p.Locals = make([]LocalVar, sizeLocals)
	for i := range p.Locals {
		nIdx, err := s.rVarInt()
		if err != nil {
			return nil, err
		}
		if nIdx > 0 {
			if int(nIdx) > len(strTab) {
				return nil, compileErrorf("local name index out of range")
			}
			p.Locals[i].Name = strTab[nIdx-1]
		}
		if p.Locals[i].StartPC, err = s.rVarInt(); err != nil {
			return nil, err
		}
		if p.Locals[i].EndPC, err = s.rVarInt(); err != nil {
			return nil, err
		}
		reg, err := s.rByte()
		if err != nil {
			return nil, err
		}
		p.Locals[i].Register = reg
	}

	return p, nil
}

func readInst(s *stream) (i Inst, err error) {
	opb, err := s.rByte()
	if err != nil {
		return
	}
	if opb >= byte(opCount) {
		return Inst{}, compileErrorf("unknown opcode %d", opb)
	}
	i.Op = Op(opb)

	a, err := s.rSVarInt()
	if err != nil {
		return
	}
	i.A = a

	if i.B, err = s.rUint16(); err != nil {
		return
	}
	if i.C, err = s.rUint16(); err != nil {
		return
	}
	if i.Bx, err = s.rVarInt(); err != nil {
		return
	}
	sbx, err := s.rSVarInt()
	if err != nil {
		return
	}
	i.SBx = sbx
	i.Line, err = s.rVarInt()
	return
}

func resolveProtos(p *Proto, all []*Proto) error {
	p.Protos = make([]*Proto, len(p.protoIdx))
	for i, idx := range p.protoIdx {
		if int(idx) >= len(all) {
			return compileErrorf("nested prototype index %d out of range in %q", idx, p.Dbgname)
		}
		p.Protos[i] = all[idx]
	}
	p.protoIdx = nil
	return nil
}

// Validate enforces every structural invariant the component design
// requires before a prototype may execute: opcodes and operand ranges,
// constant-pool indices, jump targets, register bounds, upvalue-descriptor
// sources (checked against each nested prototype's real parent, so a
// malformed UpvalFromUpvalue index is rejected here rather than deferred
// to CLOSURE-instantiation time), CLOSURE prototype references and
// vararg-only instructions.
func Validate(p *Proto) error {
	nk := uint16(len(p.Constants))
	maxReg := uint16(p.MaxStackSize)

	checkRK := func(v uint16, isRK bool) error {
		if isRK && IsConst(v) {
			if ConstIndex(v) >= nk {
				return errors.New("constant index out of range")
			}
			return nil
		}
		if EncodeReg(v) > maxReg {
			return errors.New("register index out of range")
		}
		return nil
	}

	for pc, inst := range p.Code {
		if inst.Op >= opCount {
			return compileErrorf("pc %d: invalid opcode", pc)
		}
		info := inst.Op.Info()

		if info.BIsRK {
			if err := checkRK(inst.B, true); err != nil {
				return compileErrorf("pc %d: B operand: %v", pc, err)
			}
		} else if info.Mode == ModeAB || info.Mode == ModeABC {
			if inst.B > maxReg {
				return compileErrorf("pc %d: B register out of range", pc)
			}
		}
		if info.CIsRK {
			if err := checkRK(inst.C, true); err != nil {
				return compileErrorf("pc %d: C operand: %v", pc, err)
			}
		} else if info.Mode == ModeABC {
			if inst.C > maxReg {
				return compileErrorf("pc %d: C register out of range", pc)
			}
		}
		if inst.A < 0 || uint16(inst.A) > maxReg {
			// RETURN/CALL etc. use A as a base register too; all current
			// opcodes treat negative A as invalid.
			if info.Mode != ModeNone {
				return compileErrorf("pc %d: A register out of range", pc)
			}
		}

		switch inst.Op {
		case OpLoadK:
			if inst.Bx >= uint32(nk) {
				return compileErrorf("pc %d: LOADK constant index out of range", pc)
			}
		case OpLoadKX:
			if pc+1 >= len(p.Code) || p.Code[pc+1].Op != OpExtraArg || p.Code[pc+1].Bx >= uint32(nk) {
				return compileErrorf("pc %d: LOADKX needs a following EXTRAARG with an in-range constant index", pc)
			}
		case OpClosure:
			if inst.Bx >= uint32(len(p.Protos)) {
				return compileErrorf("pc %d: CLOSURE prototype index out of range", pc)
			}
		case OpJmp, OpForPrep, OpForLoop, OpTForLoop:
			target := pc + 1 + int(inst.SBx)
			if target < 0 || target >= len(p.Code) {
				return compileErrorf("pc %d: jump target %d out of range", pc, target)
			}
		case OpVararg, OpExtraArg:
			if !p.IsVararg && inst.Op == OpVararg {
				return compileErrorf("pc %d: VARARG in non-vararg function", pc)
			}
		}
	}

	for i, uv := range p.Upvalues {
		switch uv.Source {
		case UpvalFromLocal:
			if uint16(uv.Index) > maxReg {
				return compileErrorf("upvalue %d: local source register out of range", i)
			}
		case UpvalFromUpvalue:
			// Bounds-checked below, from the enclosing prototype's side of
			// the edge: p is the one structure that actually knows which
			// protos are its own nested children and how many upvalues it
			// itself carries, so each nested proto's UpvalFromUpvalue
			// descriptors are checked here against len(p.Upvalues) rather
			// than inside the nested proto's own pass.
		default:
			return compileErrorf("upvalue %d: unknown source kind", i)
		}
	}

	for _, nested := range p.Protos {
		for i, uv := range nested.Upvalues {
			if uv.Source == UpvalFromUpvalue && int(uv.Index) >= len(p.Upvalues) {
				return compileErrorf("prototype %q upvalue %d: upvalue index %d out of range in enclosing prototype %q", nested.Dbgname, i, uv.Index, p.Dbgname)
			}
		}
		if err := Validate(nested); err != nil {
			return err
		}
	}

	return nil
}
