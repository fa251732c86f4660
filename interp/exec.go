package interp

import (
	"github.com/rockercheng/uvm/bytecode"
	"github.com/rockercheng/uvm/errs"
	"github.com/rockercheng/uvm/value"
)

// constValue converts a loaded constant-pool entry into a runtime Value.
// ConstNumber stores the scaled mantissa as a raw int64 so package bytecode
// never has to import package value; this is the one place that seam gets
// crossed back.
func constValue(c bytecode.Const) value.Value {
	switch c.Kind {
	case bytecode.ConstNil:
		return nil
	case bytecode.ConstBool:
		return c.Bool
	case bytecode.ConstInt:
		return c.Int
	case bytecode.ConstNumber:
		return value.NewNumber(c.Int)
	case bytecode.ConstString:
		return c.Str
	default:
		return nil
	}
}

func (f *Frame) getR(th *Thread, r int) value.Value   { return th.getReg(f.Base, r) }
func (f *Frame) setR(th *Thread, r int, v value.Value) { th.setReg(f.Base, r, v) }

// rk resolves an RK(n)-encoded operand: a constant-pool reference or a
// plain register, depending on the reserved high bit.
func (f *Frame) rk(th *Thread, raw uint16) value.Value {
	if bytecode.IsConst(raw) {
		return constValue(f.Proto.Constants[bytecode.ConstIndex(raw)])
	}
	return f.getR(th, int(raw))
}

// openUpvalFor returns the (possibly newly created) open upvalue aliasing
// register reg in this frame, reusing an existing one so multiple closures
// capturing the same local share one cell.
func (f *Frame) openUpvalFor(th *Thread, reg int) *value.Upvalue {
	idx := f.Base + reg
	for _, uv := range f.openUpvals {
		if uv.Stack == &th.Stack && uv.Index == idx {
			return uv
		}
	}
	uv := &value.Upvalue{Stack: &th.Stack, Index: idx}
	f.openUpvals = append(f.openUpvals, uv)
	return uv
}

func (f *Frame) closeUpvalsFrom(reg int) {
	threshold := f.Base + reg
	kept := f.openUpvals[:0]
	for _, uv := range f.openUpvals {
		if uv.Index >= threshold {
			uv.Close()
			continue
		}
		kept = append(kept, uv)
	}
	f.openUpvals = kept
}

func (f *Frame) closeAllUpvals() { f.closeUpvalsFrom(0) }

// Call invokes a closure with the given arguments, pushing a new frame for
// a bytecode closure or calling straight through for a native one. It is
// the single entry point every call path -- CALL, TAILCALL, pcall, a
// metamethod, the engine's own top-level dispatch -- ultimately funnels
// through.
func (in *Interp) Call(th *Thread, cl *value.Closure, args []value.Value) ([]value.Value, error) {
	if err := in.checkStop(); err != nil {
		return nil, err
	}
	if th.Depth >= in.MaxCallDepth {
		return nil, errs.StackOverflow("call depth %d exceeded", in.MaxCallDepth)
	}

	if cl.IsNative() {
		th.Depth++
		defer func() { th.Depth-- }()
		return cl.Run(th, args)
	}

	proto, ok := cl.Proto.(*bytecode.Proto)
	if !ok {
		return nil, errs.Runtime("closure has no executable prototype")
	}

	base := th.TopBase
	th.TopBase = base + int(proto.MaxStackSize)
	defer func() { th.TopBase = base }()

	th.ensure(base + int(proto.MaxStackSize))
	for i := range int(proto.MaxStackSize) {
		th.Stack[base+i] = nil
	}

	frame := &Frame{Closure: cl, Proto: proto, Base: base, PC: 0, Top: -1, Caller: th.Top}
	th.Top = frame
	defer func() { th.Top = frame.Caller }()

	n := int(proto.NumParams)
	for i := 0; i < n && i < len(args); i++ {
		th.Stack[base+i] = args[i]
	}
	if proto.IsVararg && len(args) > n {
		frame.Varargs = append([]value.Value(nil), args[n:]...)
	}

	th.Depth++
	defer func() { th.Depth-- }()

	if in.Hooks.Call != nil {
		in.Hooks.Call(th, frame)
	}
	results, err := in.execute(th, frame)
	frame.closeAllUpvals()
	if in.Hooks.Return != nil {
		in.Hooks.Return(th, frame)
	}
	return results, err
}

// execute runs one frame's instruction stream to completion: either a
// RETURN, a forwarded call's results (TAILCALL to a native function), or an
// error. TAILCALL to a bytecode closure reuses this same frame in place and
// loops, so a tail-recursive function never grows the Go call stack.
func (in *Interp) execute(th *Thread, frame *Frame) ([]value.Value, error) {
	for {
		if err := in.checkStop(); err != nil {
			return nil, err
		}
		if frame.PC < 0 || frame.PC >= len(frame.Proto.Code) {
			return nil, errs.Runtime("program counter %d out of range", frame.PC)
		}
		inst := frame.Proto.Code[frame.PC]
		if in.Hooks.Instruction != nil {
			in.Hooks.Instruction(th, frame)
		}
		if in.Hooks.Line != nil && int(inst.Line) > 0 {
			in.Hooks.Line(th, frame, inst.Line)
		}

		nextPC := frame.PC + 1

		switch inst.Op {
		case bytecode.OpMove:
			frame.setR(th, int(inst.A), frame.getR(th, int(inst.B)))
		case bytecode.OpLoadK:
			frame.setR(th, int(inst.A), constValue(frame.Proto.Constants[inst.Bx]))
		case bytecode.OpLoadKX:
			extra := frame.Proto.Code[frame.PC+1]
			frame.setR(th, int(inst.A), constValue(frame.Proto.Constants[extra.Bx]))
			nextPC = frame.PC + 2
		case bytecode.OpLoadBool:
			frame.setR(th, int(inst.A), inst.B != 0)
			if inst.C != 0 {
				nextPC++
			}
		case bytecode.OpLoadNil:
			for r := int(inst.A); r <= int(inst.A)+int(inst.B); r++ {
				frame.setR(th, r, nil)
			}

		case bytecode.OpGetUpval:
			frame.setR(th, int(inst.A), frame.Closure.Upvals[inst.B].Get())
		case bytecode.OpSetUpval:
			frame.Closure.Upvals[inst.B].Set(frame.getR(th, int(inst.A)))
		case bytecode.OpGetTabUp:
			tbl := frame.Closure.Upvals[inst.B].Get()
			v, err := in.Index(th, tbl, frame.rk(th, inst.C))
			if err != nil {
				return nil, err
			}
			frame.setR(th, int(inst.A), v)
		case bytecode.OpSetTabUp:
			tbl := frame.Closure.Upvals[inst.A].Get()
			if err := in.NewIndex(th, tbl, frame.rk(th, inst.B), frame.rk(th, inst.C)); err != nil {
				return nil, err
			}

		case bytecode.OpNewTable:
			frame.setR(th, int(inst.A), value.NewTable())
		case bytecode.OpGetTable:
			v, err := in.Index(th, frame.getR(th, int(inst.B)), frame.rk(th, inst.C))
			if err != nil {
				return nil, err
			}
			frame.setR(th, int(inst.A), v)
		case bytecode.OpSetTable:
			if err := in.NewIndex(th, frame.getR(th, int(inst.A)), frame.rk(th, inst.B), frame.rk(th, inst.C)); err != nil {
				return nil, err
			}
		case bytecode.OpSelf:
			obj := frame.getR(th, int(inst.B))
			frame.setR(th, int(inst.A)+1, obj)
			v, err := in.Index(th, obj, frame.rk(th, inst.C))
			if err != nil {
				return nil, err
			}
			frame.setR(th, int(inst.A), v)
		case bytecode.OpSetList:
			tbl, ok := frame.getR(th, int(inst.A)).(*value.Table)
			if !ok {
				return nil, errs.Runtime("attempt to bulk-fill a non-table value")
			}
			count := int(inst.B)
			if count == 0 {
				count = frame.Top - (int(inst.A) + 1)
			}
			startIdx := int(inst.C)
			for i := 0; i < count; i++ {
				if err := tbl.Set(int64(startIdx+i), frame.getR(th, int(inst.A)+1+i)); err != nil {
					return nil, errs.Policy("%s", err.Error())
				}
			}

		case bytecode.OpAdd, bytecode.OpSub, bytecode.OpMul, bytecode.OpDiv, bytecode.OpMod,
			bytecode.OpPow, bytecode.OpIDiv, bytecode.OpBAnd, bytecode.OpBOr, bytecode.OpBXor,
			bytecode.OpShl, bytecode.OpShr:
			a, b := frame.rk(th, inst.B), frame.rk(th, inst.C)
			v, err := in.binOp(th, inst.Op, a, b)
			if err != nil {
				return nil, err
			}
			frame.setR(th, int(inst.A), v)
		case bytecode.OpUnm:
			v, err := in.Unm(th, frame.getR(th, int(inst.B)))
			if err != nil {
				return nil, err
			}
			frame.setR(th, int(inst.A), v)
		case bytecode.OpBNot:
			v, err := in.BNot(th, frame.getR(th, int(inst.B)))
			if err != nil {
				return nil, err
			}
			frame.setR(th, int(inst.A), v)
		case bytecode.OpLen:
			v, err := in.Length(th, frame.getR(th, int(inst.B)))
			if err != nil {
				return nil, err
			}
			frame.setR(th, int(inst.A), v)
		case bytecode.OpConcat:
			var acc value.Value = frame.getR(th, int(inst.C))
			for r := int(inst.C) - 1; r >= int(inst.B); r-- {
				v, err := in.Concat(th, frame.getR(th, r), acc)
				if err != nil {
					return nil, err
				}
				acc = v
			}
			frame.setR(th, int(inst.A), acc)

		case bytecode.OpEq:
			cond, err := in.EqualValues(th, frame.rk(th, inst.B), frame.rk(th, inst.C))
			if err != nil {
				return nil, err
			}
			if cond != (inst.A != 0) {
				nextPC++
			}
		case bytecode.OpLt:
			cond, err := in.LessThan(th, frame.rk(th, inst.B), frame.rk(th, inst.C))
			if err != nil {
				return nil, err
			}
			if cond != (inst.A != 0) {
				nextPC++
			}
		case bytecode.OpLe:
			cond, err := in.LessEqual(th, frame.rk(th, inst.B), frame.rk(th, inst.C))
			if err != nil {
				return nil, err
			}
			if cond != (inst.A != 0) {
				nextPC++
			}
		case bytecode.OpTest:
			cond := value.Truthy(frame.getR(th, int(inst.A)))
			if cond != (inst.C != 0) {
				nextPC++
			}
		case bytecode.OpTestSet:
			b := frame.getR(th, int(inst.B))
			if value.Truthy(b) == (inst.C != 0) {
				frame.setR(th, int(inst.A), b)
			} else {
				nextPC++
			}
		case bytecode.OpJmp:
			nextPC = frame.PC + 1 + int(inst.SBx)
			if inst.A != 0 {
				frame.closeUpvalsFrom(int(inst.A))
			}

		case bytecode.OpCall:
			args := frame.callArgs(th, int(inst.A), int(inst.B))
			results, err := in.CallValue(th, frame.getR(th, int(inst.A)), args)
			if err != nil {
				return nil, err
			}
			frame.storeResults(th, int(inst.A), int(inst.C), results)
		case bytecode.OpTailCall:
			args := frame.callArgs(th, int(inst.A), int(inst.B))
			fn := frame.getR(th, int(inst.A))
			results, err, reused := in.tailCall(th, frame, fn, args)
			if !reused {
				return results, err
			}
			continue
		case bytecode.OpReturn:
			return frame.returnValues(th, int(inst.A), int(inst.B)), nil

		case bytecode.OpForPrep:
			if err := frame.forPrep(th, inst); err != nil {
				return nil, err
			}
			nextPC = frame.PC + 1 + int(inst.SBx)
		case bytecode.OpForLoop:
			if frame.forLoop(th, inst) {
				nextPC = frame.PC + 1 + int(inst.SBx)
			}
		case bytecode.OpTForCall:
			state := frame.getR(th, int(inst.A)+1)
			control := frame.getR(th, int(inst.A)+2)
			results, err := in.CallValue(th, frame.getR(th, int(inst.A)), []value.Value{state, control})
			if err != nil {
				return nil, err
			}
			for i := 0; i < int(inst.C); i++ {
				var v value.Value
				if i < len(results) {
					v = results[i]
				}
				frame.setR(th, int(inst.A)+3+i, v)
			}
		case bytecode.OpTForLoop:
			if frame.getR(th, int(inst.A)+3) != nil {
				frame.setR(th, int(inst.A)+2, frame.getR(th, int(inst.A)+3))
				nextPC = frame.PC + 1 + int(inst.SBx)
			}

		case bytecode.OpVararg:
			if inst.B != 0 {
				n := int(inst.B) - 1
				for i := 0; i < n; i++ {
					var v value.Value
					if i < len(frame.Varargs) {
						v = frame.Varargs[i]
					}
					frame.setR(th, int(inst.A)+i, v)
				}
			} else {
				for i, v := range frame.Varargs {
					frame.setR(th, int(inst.A)+i, v)
				}
				frame.Top = int(inst.A) + len(frame.Varargs)
			}
		case bytecode.OpClosure:
			cl, err := in.instantiateClosure(th, frame, frame.Proto.Protos[inst.Bx])
			if err != nil {
				return nil, err
			}
			frame.setR(th, int(inst.A), cl)

		case bytecode.OpExtraArg:
			// consumed inline by the preceding LOADKX; an EXTRAARG that no
			// LOADKX skipped over is reported as a runtime error.
			return nil, errs.Runtime("stray EXTRAARG at pc %d", frame.PC)

		default:
			return nil, errs.Runtime("unimplemented opcode %s", inst.Op)
		}

		frame.PC = nextPC
	}
}

func (in *Interp) binOp(th *Thread, op bytecode.Op, a, b value.Value) (value.Value, error) {
	switch op {
	case bytecode.OpAdd:
		return in.Add(th, a, b)
	case bytecode.OpSub:
		return in.Sub(th, a, b)
	case bytecode.OpMul:
		return in.Mul(th, a, b)
	case bytecode.OpDiv:
		return in.Div(th, a, b)
	case bytecode.OpMod:
		return in.Mod(th, a, b)
	case bytecode.OpPow:
		return in.Pow(th, a, b)
	case bytecode.OpIDiv:
		return in.IDiv(th, a, b)
	case bytecode.OpBAnd:
		return in.BAnd(th, a, b)
	case bytecode.OpBOr:
		return in.BOr(th, a, b)
	case bytecode.OpBXor:
		return in.BXor(th, a, b)
	case bytecode.OpShl:
		return in.Shl(th, a, b)
	case bytecode.OpShr:
		return in.Shr(th, a, b)
	default:
		return nil, errs.Runtime("not a binary arithmetic opcode: %s", op)
	}
}

// callArgs resolves a CALL/TAILCALL's argument list: a fixed count from B,
// or everything up to the frame's current Top when B is zero.
func (f *Frame) callArgs(th *Thread, a, b int) []value.Value {
	if b > 0 {
		args := make([]value.Value, b-1)
		for i := range args {
			args[i] = f.getR(th, a+1+i)
		}
		return args
	}
	n := f.Top - (a + 1)
	if n < 0 {
		n = 0
	}
	args := make([]value.Value, n)
	for i := range args {
		args[i] = f.getR(th, a+1+i)
	}
	return args
}

// storeResults writes a call's results starting at register a: a fixed
// count from c, padded with nil, or everything (updating Top) when c is
// zero.
func (f *Frame) storeResults(th *Thread, a, c int, results []value.Value) {
	if c > 0 {
		want := c - 1
		for i := 0; i < want; i++ {
			var v value.Value
			if i < len(results) {
				v = results[i]
			}
			f.setR(th, a+i, v)
		}
		return
	}
	for i, v := range results {
		f.setR(th, a+i, v)
	}
	f.Top = a + len(results)
}

// returnValues resolves a RETURN's value list the same way callArgs does.
func (f *Frame) returnValues(th *Thread, a, b int) []value.Value {
	if b > 0 {
		res := make([]value.Value, b-1)
		for i := range res {
			res[i] = f.getR(th, a+i)
		}
		return res
	}
	n := f.Top - a
	if n < 0 {
		n = 0
	}
	res := make([]value.Value, n)
	for i := range res {
		res[i] = f.getR(th, a+i)
	}
	return res
}

// tailCall implements the TAILCALL frame-reuse rule: a bytecode callee
// overwrites this frame in place and execution loops without growing the
// Go call stack or the logical call depth; anything else (a native
// function, or a table dispatched through __call) is simply invoked and
// its results forwarded as this frame's own return. reused is true when
// the frame was reset for a bytecode callee; the caller then continues its
// loop at the frame's new PC 0 instead of returning results.
func (in *Interp) tailCall(th *Thread, frame *Frame, fn value.Value, args []value.Value) ([]value.Value, error, bool) {
	frame.closeAllUpvals()

	cl, ok := fn.(*value.Closure)
	if !ok || cl.IsNative() {
		results, err := in.CallValue(th, fn, args)
		return results, err, false
	}
	proto, ok := cl.Proto.(*bytecode.Proto)
	if !ok {
		results, err := in.CallValue(th, fn, args)
		return results, err, false
	}

	base := frame.Base
	th.ensure(base + int(proto.MaxStackSize))
	for i := range int(proto.MaxStackSize) {
		th.Stack[base+i] = nil
	}
	n := int(proto.NumParams)
	for i := 0; i < n && i < len(args); i++ {
		th.Stack[base+i] = args[i]
	}
	frame.Varargs = nil
	if proto.IsVararg && len(args) > n {
		frame.Varargs = append([]value.Value(nil), args[n:]...)
	}
	frame.Closure = cl
	frame.Proto = proto
	frame.PC = 0
	frame.Top = -1
	th.TopBase = base + int(proto.MaxStackSize)

	return nil, nil, true
}

// instantiateClosure builds a closure over proto, resolving each upvalue
// descriptor against either an open upvalue in the enclosing frame or an
// upvalue already bound to the enclosing closure.
func (in *Interp) instantiateClosure(th *Thread, frame *Frame, proto *bytecode.Proto) (*value.Closure, error) {
	upvals := make([]*value.Upvalue, len(proto.Upvalues))
	for i, desc := range proto.Upvalues {
		switch desc.Source {
		case bytecode.UpvalFromLocal:
			upvals[i] = frame.openUpvalFor(th, int(desc.Index))
		case bytecode.UpvalFromUpvalue:
			if int(desc.Index) >= len(frame.Closure.Upvals) {
				return nil, errs.Runtime("upvalue index out of range in closure of %s", proto.Dbgname)
			}
			upvals[i] = frame.Closure.Upvals[desc.Index]
		default:
			return nil, errs.Runtime("unknown upvalue source in closure of %s", proto.Dbgname)
		}
	}
	return &value.Closure{Proto: proto, Upvals: upvals, Name: proto.Dbgname}, nil
}

func (f *Frame) forPrep(th *Thread, inst bytecode.Inst) error {
	a := int(inst.A)
	init, limit, step, isInt, err := forOperands(f.getR(th, a), f.getR(th, a+1), f.getR(th, a+2))
	if err != nil {
		return err
	}
	if isInt {
		ii, si := init.(int64), step.(int64)
		start, err := value.IntSub(ii, si)
		if err != nil {
			return errs.Runtime("%s", err.Error())
		}
		f.setR(th, a, start)
	} else {
		start, err := value.NumSub(init.(value.Number), step.(value.Number))
		if err != nil {
			return errs.Runtime("%s", err.Error())
		}
		f.setR(th, a, start)
	}
	f.setR(th, a+1, limit)
	f.setR(th, a+2, step)
	return nil
}

// forLoop advances the loop variable and reports whether the loop body
// should run again.
func (f *Frame) forLoop(th *Thread, inst bytecode.Inst) bool {
	a := int(inst.A)
	if iv, ok := f.getR(th, a).(int64); ok {
		limit := f.getR(th, a+1).(int64)
		step := f.getR(th, a+2).(int64)
		nv, err := value.IntAdd(iv, step)
		if err != nil {
			return false
		}
		cont := (step > 0 && nv <= limit) || (step < 0 && nv >= limit)
		if cont {
			f.setR(th, a, nv)
			f.setR(th, a+3, nv)
		}
		return cont
	}
	iv := f.getR(th, a).(value.Number)
	limit := f.getR(th, a+1).(value.Number)
	step := f.getR(th, a+2).(value.Number)
	nv, err := value.NumAdd(iv, step)
	if err != nil {
		return false
	}
	positive := value.NumCompare(step, value.NewNumber(0)) > 0
	cont := (positive && value.NumCompare(nv, limit) <= 0) || (!positive && value.NumCompare(nv, limit) >= 0)
	if cont {
		f.setR(th, a, nv)
		f.setR(th, a+3, nv)
	}
	return cont
}

func forOperands(init, limit, step value.Value) (iv, lv, sv value.Value, isInt bool, err error) {
	ii, iInt := init.(int64)
	li, lInt := limit.(int64)
	si, sInt := step.(int64)
	if iInt && lInt && sInt {
		return ii, li, si, true, nil
	}
	inum, ok1 := toForNumber(init)
	lnum, ok2 := toForNumber(limit)
	snum, ok3 := toForNumber(step)
	if !ok1 || !ok2 || !ok3 {
		return nil, nil, nil, false, errs.Runtime("'for' initial value, limit and step must be numbers")
	}
	return inum, lnum, snum, false, nil
}

func toForNumber(v value.Value) (value.Number, bool) {
	switch t := v.(type) {
	case value.Number:
		return t, true
	case int64:
		return value.FromInteger(t)
	default:
		return value.Number{}, false
	}
}
