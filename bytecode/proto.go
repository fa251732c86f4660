package bytecode

// Const is a constant-pool entry. Only the variants the data model allows
// in a constant pool are representable: nil, bool, int64, Number-as-raw
// scaled mantissa (kept as int64 to avoid importing package value here --
// package interp turns it into a value.Number each time the constant is read),
// and string.
type Const struct {
	Kind ConstKind
	Bool bool
	Int  int64
	Str  string
}

// ConstKind tags the variant held by a Const.
type ConstKind uint8

const (
	ConstNil ConstKind = iota
	ConstBool
	ConstInt     // exact integer
	ConstNumber  // scaled decimal mantissa, see value.Number
	ConstString
)

// Inst is one decoded instruction. Not every field is meaningful for every
// opcode; which ones are is determined by Op.Info().Mode.
type Inst struct {
	Op      Op
	A       int32
	B       uint16 // RK-encoded when Info().BIsRK
	C       uint16 // RK-encoded when Info().CIsRK
	Bx      uint32 // unsigned operand: constant index, upvalue count, etc.
	SBx     int32  // signed operand: jump/loop offset
	Line    uint32
}

// UpvalSource distinguishes where a closure's upvalue descriptor pulls its
// binding from when the closure is instantiated.
type UpvalSource uint8

const (
	UpvalFromLocal   UpvalSource = iota // capture an enclosing local register
	UpvalFromUpvalue                    // capture an enclosing closure's upvalue
)

// UpvalDesc describes one upvalue a closure captures, resolved once at
// CLOSURE-instantiation time against either the enclosing frame's open
// upvalue list or the enclosing closure's own upvalues.
type UpvalDesc struct {
	Name   string
	Source UpvalSource
	Index  uint8
}

// LocalVar is debug information about one declared local: its name and the
// instruction range over which the name is valid. Not consulted by the
// interpreter; only by error reporting.
type LocalVar struct {
	Name      string
	StartPC   uint32
	EndPC     uint32
	Register  uint8
}

// Proto is the immutable, load-time descriptor of a function body. Many
// closures may share one Proto; only their upvalue bindings differ.
type Proto struct {
	Source       string // chunk/module name, for error locations
	LineDefined  uint32
	Dbgname      string

	NumParams    uint8
	IsVararg     bool
	MaxStackSize uint8

	Code      []Inst
	Constants []Const
	Protos    []*Proto // nested function prototypes, referenced by CLOSURE's Bx
	Upvalues  []UpvalDesc
	Locals    []LocalVar

	// LineInfo[pc] is the source line for Code[pc]; empty if the module was
	// compiled without line info.
	LineInfo []uint32

	// protoIdx holds raw nested-prototype indices between decoding and
	// resolveProtos linking them into Protos; always nil once Load returns.
	protoIdx []uint32
}

// DebugName implements value.Proto so closures can report their name
// without package value importing package bytecode.
func (p *Proto) DebugName() string {
	if p == nil {
		return "?"
	}
	return p.Dbgname
}

// Module is the top-level result of loading one binary module: its main
// (top-level chunk) prototype, plus the full flattened list of prototypes
// for diagnostics.
type Module struct {
	Main      *Proto
	AllProtos []*Proto
}
