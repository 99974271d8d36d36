package vm

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/chazu/xvm/module"
)

// ---------------------------------------------------------------------------
// Result codes
// ---------------------------------------------------------------------------

// Process returns either an absolute ip (>= 0) to continue at, or one of
// these control codes.
const (
	RNext      = -1 // advance to ip+1
	RCall      = -2 // run the frame pushed by the op
	RReturn    = -3 // the frame completed
	RException = -4 // the frame's Exception is pending
	RRepeat    = -5 // re-execute the same op
)

// resultName renders a result code for diagnostics.
func resultName(r int) string {
	switch r {
	case RNext:
		return "R_NEXT"
	case RCall:
		return "R_CALL"
	case RReturn:
		return "R_RETURN"
	case RException:
		return "R_EXCEPTION"
	case RRepeat:
		return "R_REPEAT"
	}
	if r >= 0 {
		return "ip " + strconv.Itoa(r)
	}
	return "R(" + strconv.Itoa(r) + ")"
}

// ---------------------------------------------------------------------------
// Operands
// ---------------------------------------------------------------------------

// Pseudo registers. Operands >= 0 are registers; operands at or below
// ConstantOffset reference the constant pool.
const (
	AStack   = -1
	AIgnore  = -2
	AThis    = -3
	ASuper   = -4
	ADefault = -5

	ConstantOffset = -17
)

// IsConstant reports whether arg references the constant pool.
func IsConstant(arg int) bool { return arg <= ConstantOffset }

// ConstIndex returns the pool index referenced by arg.
func ConstIndex(arg int) int { return ConstantOffset - arg }

// ConstArg returns the operand referencing pool index idx.
func ConstArg(idx int) int { return ConstantOffset - idx }

// OperandString renders an operand as the assembler spells it.
func OperandString(arg int) string {
	switch {
	case arg >= 0:
		return "r" + strconv.Itoa(arg)
	case arg == AStack:
		return "@stack"
	case arg == AIgnore:
		return "@ignore"
	case arg == AThis:
		return "@this"
	case arg == ASuper:
		return "@super"
	case arg == ADefault:
		return "@default"
	case IsConstant(arg):
		return "#" + strconv.Itoa(ConstIndex(arg))
	}
	return "?" + strconv.Itoa(arg)
}

func operandList(args []int) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = OperandString(a)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func offsetList(offs []int) string {
	parts := make([]string, len(offs))
	for i, o := range offs {
		parts[i] = fmt.Sprintf("%+d", o)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// ---------------------------------------------------------------------------
// Op interface and opcodes
// ---------------------------------------------------------------------------

// Op is one instruction. Ops are immutable after decoding apart from caches
// they build on first execution, and may be shared by fibers in different
// services.
type Op interface {
	// Process executes the op at ip in f.
	Process(f *Frame, ip int) int
	Opcode() Opcode
	// Encode writes the operands (not the opcode).
	Encode(w *module.PackedWriter)
	String() string
}

// Opcode identifies an op in the packed stream.
type Opcode byte

const (
	OpNop       Opcode = 0x00
	OpMove      Opcode = 0x01
	OpVar       Opcode = 0x02
	OpVarAtomic Opcode = 0x03
	OpVarFuture Opcode = 0x04
	OpVarProp   Opcode = 0x05

	OpAdd Opcode = 0x10
	OpSub Opcode = 0x11
	OpMul Opcode = 0x12
	OpDiv Opcode = 0x13
	OpMod Opcode = 0x14
	OpNeg Opcode = 0x15

	OpIsEq    Opcode = 0x18
	OpIsNotEq Opcode = 0x19
	OpIsLt    Opcode = 0x1A
	OpIsLe    Opcode = 0x1B
	OpIsGt    Opcode = 0x1C
	OpIsGe    Opcode = 0x1D
	OpIsType  Opcode = 0x1E

	OpJump      Opcode = 0x20
	OpJumpTrue  Opcode = 0x21
	OpJumpFalse Opcode = 0x22
	OpJumpNull  Opcode = 0x23
	OpJumpVal   Opcode = 0x24
	OpJumpValN  Opcode = 0x25

	OpCall    Opcode = 0x30
	OpCallN   Opcode = 0x31
	OpCallT   Opcode = 0x32
	OpInvoke  Opcode = 0x34
	OpInvokeN Opcode = 0x35
	OpInvokeT Opcode = 0x36
	OpNew     Opcode = 0x38

	OpPGet Opcode = 0x40
	OpPSet Opcode = 0x41

	OpReturn0 Opcode = 0x48
	OpReturn1 Opcode = 0x49
	OpReturnN Opcode = 0x4A
	OpReturnT Opcode = 0x4B

	OpThrow      Opcode = 0x50
	OpGuardStart Opcode = 0x51
	OpGuardEnd   Opcode = 0x52

	OpFreeze Opcode = 0x58
	OpAssert Opcode = 0x59
	OpFBind  Opcode = 0x5A
	OpTuple  Opcode = 0x5B

	// opAwait is only used by synthetic wait frames and never encoded.
	opAwait Opcode = 0xFF
)

var opcodeNames = map[Opcode]string{
	OpNop: "Nop", OpMove: "Move", OpVar: "Var", OpVarAtomic: "VarAtomic",
	OpVarFuture: "VarFuture", OpVarProp: "VarProp",
	OpAdd: "Add", OpSub: "Sub", OpMul: "Mul", OpDiv: "Div", OpMod: "Mod", OpNeg: "Neg",
	OpIsEq: "IsEq", OpIsNotEq: "IsNotEq", OpIsLt: "IsLt", OpIsLe: "IsLe",
	OpIsGt: "IsGt", OpIsGe: "IsGe", OpIsType: "IsType",
	OpJump: "Jump", OpJumpTrue: "JumpTrue", OpJumpFalse: "JumpFalse",
	OpJumpNull: "JumpNull", OpJumpVal: "JumpVal", OpJumpValN: "JumpValN",
	OpCall: "Call", OpCallN: "CallN", OpCallT: "CallT",
	OpInvoke: "Invoke", OpInvokeN: "InvokeN", OpInvokeT: "InvokeT", OpNew: "New",
	OpPGet: "PGet", OpPSet: "PSet",
	OpReturn0: "Return0", OpReturn1: "Return1", OpReturnN: "ReturnN", OpReturnT: "ReturnT",
	OpThrow: "Throw", OpGuardStart: "GuardStart", OpGuardEnd: "GuardEnd",
	OpFreeze: "Freeze", OpAssert: "Assert", OpFBind: "FBind", OpTuple: "Tuple",
	opAwait: "Await",
}

func (o Opcode) String() string {
	if n, ok := opcodeNames[o]; ok {
		return n
	}
	return fmt.Sprintf("Op(0x%02x)", byte(o))
}

// OpcodeByName looks up an opcode by mnemonic.
func OpcodeByName(name string) (Opcode, bool) {
	for op, n := range opcodeNames {
		if n == name && op != opAwait {
			return op, true
		}
	}
	return 0, false
}

// ---------------------------------------------------------------------------
// Packed encoding
// ---------------------------------------------------------------------------

// ErrUnknownOpcode is returned when a packed stream holds an undefined opcode.
var ErrUnknownOpcode = errors.New("unknown opcode")

type decodeFunc func(op Opcode, r *module.PackedReader) Op

var decoders = map[Opcode]decodeFunc{}

func registerDecoder(fn decodeFunc, ops ...Opcode) {
	for _, op := range ops {
		decoders[op] = fn
	}
}

// EncodeOps packs ops into a byte stream.
func EncodeOps(ops []Op) []byte {
	w := &module.PackedWriter{}
	for _, op := range ops {
		_ = w.WriteByte(byte(op.Opcode()))
		op.Encode(w)
	}
	return w.Bytes()
}

// DecodeOps unpacks a byte stream produced by EncodeOps.
func DecodeOps(code []byte) ([]Op, error) {
	r := module.NewPackedReader(code)
	var ops []Op
	for r.More() {
		pos := r.Pos()
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		dec, ok := decoders[Opcode(b)]
		if !ok {
			return nil, fmt.Errorf("%w 0x%02x at offset %d", ErrUnknownOpcode, b, pos)
		}
		op := dec(Opcode(b), r)
		if err := r.Err(); err != nil {
			return nil, fmt.Errorf("decoding %s at offset %d: %w", Opcode(b), pos, err)
		}
		ops = append(ops, op)
	}
	return ops, nil
}
