package vm

import (
	"fmt"
	"math"
	"math/big"

	"github.com/chazu/xvm/module"
)

// ---------------------------------------------------------------------------
// Arithmetic and comparison ops
// ---------------------------------------------------------------------------

func init() {
	registerDecoder(func(code Opcode, r *module.PackedReader) Op {
		return &BinOp{Code: code, A: r.ReadInt(), B: r.ReadInt(), Ret: r.ReadInt()}
	}, OpAdd, OpSub, OpMul, OpDiv, OpMod, OpIsEq, OpIsNotEq, OpIsLt, OpIsLe, OpIsGt, OpIsGe)
	registerDecoder(func(_ Opcode, r *module.PackedReader) Op {
		return &Neg{A: r.ReadInt(), Ret: r.ReadInt()}
	}, OpNeg)
	registerDecoder(func(_ Opcode, r *module.PackedReader) Op {
		return &IsType{A: r.ReadInt(), Type: r.ReadInt(), Ret: r.ReadInt()}
	}, OpIsType)
}

// naturalOps names the methods used when an operand is not a native number.
var naturalOps = map[Opcode]string{
	OpAdd: "add/1",
	OpSub: "sub/1",
	OpMul: "mul/1",
	OpDiv: "div/1",
	OpMod: "mod/1",
	OpNeg: "neg/0",
}

// BinOp is a binary arithmetic or comparison op: Ret = A <Code> B.
type BinOp struct {
	Code Opcode
	A, B int
	Ret  int
}

func (op *BinOp) Opcode() Opcode { return op.Code }

func (op *BinOp) Encode(w *module.PackedWriter) {
	w.WriteInt(op.A)
	w.WriteInt(op.B)
	w.WriteInt(op.Ret)
}

func (op *BinOp) String() string {
	return fmt.Sprintf("%s %s, %s, %s", op.Code, OperandString(op.A), OperandString(op.B), OperandString(op.Ret))
}

func (op *BinOp) Process(f *Frame, ip int) int {
	args, ex := f.Args([]int{op.A, op.B})
	if ex != nil {
		return f.Raise(ex)
	}
	return ResolveArgs(f, args, func(f *Frame, args []Handle) int {
		return op.apply(f, args[0], args[1])
	})
}

func (op *BinOp) apply(f *Frame, a, b Handle) int {
	if a == nil || b == nil {
		return f.Throw(ExTypeMismatch, "%s on an unassigned operand", op.Code)
	}
	switch op.Code {
	case OpIsEq, OpIsNotEq:
		return Equals(f, a, b, func(f *Frame, eq bool) int {
			if op.Code == OpIsNotEq {
				eq = !eq
			}
			return f.Assign(op.Ret, Bool(eq))
		})
	case OpIsLt, OpIsLe, OpIsGt, OpIsGe:
		return Compare(f, a, b, func(f *Frame, c int, ok bool) int {
			if !ok {
				reg := f.Registry()
				return f.Throw(ExTypeMismatch, "cannot order %s and %s", reg.ClassOf(a).Name, reg.ClassOf(b).Name)
			}
			var res bool
			switch op.Code {
			case OpIsLt:
				res = c < 0
			case OpIsLe:
				res = c <= 0
			case OpIsGt:
				res = c > 0
			default:
				res = c >= 0
			}
			return f.Assign(op.Ret, Bool(res))
		})
	}
	return arithmetic(f, op.Code, a, b, op.Ret)
}

func arithmetic(f *Frame, code Opcode, a, b Handle, ret int) int {
	if x, ok := a.(Int); ok {
		if y, ok := b.(Int); ok {
			v, exName, msg := intOp(code, int64(x), int64(y))
			if exName != "" {
				return f.Throw(exName, "%s", msg)
			}
			return f.Assign(ret, Int(v))
		}
	}
	if x, ok := bigOf(a); ok {
		if y, ok := bigOf(b); ok {
			v, exName, msg := bigOp(code, x, y)
			if exName != "" {
				return f.Throw(exName, "%s", msg)
			}
			return f.Assign(ret, NewLongLong(v))
		}
	}
	if s, ok := a.(String); ok && code == OpAdd {
		return f.Assign(ret, s+String(b.String()))
	}
	if obj, ok := a.(*ObjectHandle); ok {
		if m, chain := userMethod(f, obj.Class(), naturalOps[code]); m != nil {
			return f.Invoke(m, a, []Handle{b}, ReturnTo(ret), chain, 0)
		}
	}
	reg := f.Registry()
	return f.Throw(ExTypeMismatch, "cannot %s %s and %s", code, reg.ClassOf(a).Name, reg.ClassOf(b).Name)
}

func intOp(code Opcode, x, y int64) (int64, string, string) {
	switch code {
	case OpAdd:
		s := x + y
		if (x > 0 && y > 0 && s < 0) || (x < 0 && y < 0 && s >= 0) {
			return 0, ExOutOfBounds, "integer overflow"
		}
		return s, "", ""
	case OpSub:
		d := x - y
		if (x >= 0 && y < 0 && d < 0) || (x < 0 && y > 0 && d >= 0) {
			return 0, ExOutOfBounds, "integer overflow"
		}
		return d, "", ""
	case OpMul:
		if x == 0 || y == 0 {
			return 0, "", ""
		}
		p := x * y
		if p/y != x || (x == -1 && y == math.MinInt64) || (y == -1 && x == math.MinInt64) {
			return 0, ExOutOfBounds, "integer overflow"
		}
		return p, "", ""
	case OpDiv:
		if y == 0 {
			return 0, ExDivisionByZero, "division by zero"
		}
		if x == math.MinInt64 && y == -1 {
			return 0, ExOutOfBounds, "integer overflow"
		}
		return x / y, "", ""
	case OpMod:
		if y == 0 {
			return 0, ExDivisionByZero, "division by zero"
		}
		if y == -1 {
			return 0, "", ""
		}
		return x % y, "", ""
	}
	internalf("%s is not arithmetic", code)
	return 0, "", ""
}

func bigOp(code Opcode, x, y *big.Int) (*big.Int, string, string) {
	z := new(big.Int)
	switch code {
	case OpAdd:
		return z.Add(x, y), "", ""
	case OpSub:
		return z.Sub(x, y), "", ""
	case OpMul:
		return z.Mul(x, y), "", ""
	case OpDiv, OpMod:
		if y.Sign() == 0 {
			return nil, ExDivisionByZero, "division by zero"
		}
		if code == OpDiv {
			return z.Quo(x, y), "", ""
		}
		return z.Rem(x, y), "", ""
	}
	internalf("%s is not arithmetic", code)
	return nil, "", ""
}

// Neg negates A into Ret.
type Neg struct {
	A, Ret int
}

func (*Neg) Opcode() Opcode { return OpNeg }

func (op *Neg) Encode(w *module.PackedWriter) {
	w.WriteInt(op.A)
	w.WriteInt(op.Ret)
}

func (op *Neg) String() string {
	return fmt.Sprintf("Neg %s, %s", OperandString(op.A), OperandString(op.Ret))
}

func (op *Neg) Process(f *Frame, ip int) int {
	v, ex := f.Arg(op.A)
	if ex != nil {
		return f.Raise(ex)
	}
	return ResolveArg(f, v, func(f *Frame, v Handle) int {
		switch x := v.(type) {
		case Int:
			if x == math.MinInt64 {
				return f.Throw(ExOutOfBounds, "integer overflow")
			}
			return f.Assign(op.Ret, -x)
		case LongLong:
			return f.Assign(op.Ret, NewLongLong(new(big.Int).Neg(x.v)))
		case *ObjectHandle:
			if m, chain := userMethod(f, x.Class(), naturalOps[OpNeg]); m != nil {
				return f.Invoke(m, v, nil, ReturnTo(op.Ret), chain, 0)
			}
		}
		return f.Throw(ExTypeMismatch, "cannot Neg %s", f.Registry().ClassOf(v).Name)
	})
}

// IsType stores whether A is an instance of the type constant Type.
type IsType struct {
	A, Type, Ret int
}

func (*IsType) Opcode() Opcode { return OpIsType }

func (op *IsType) Encode(w *module.PackedWriter) {
	w.WriteInt(op.A)
	w.WriteInt(op.Type)
	w.WriteInt(op.Ret)
}

func (op *IsType) String() string {
	return fmt.Sprintf("IsType %s, %s, %s", OperandString(op.A), OperandString(op.Type), OperandString(op.Ret))
}

func (op *IsType) Process(f *Frame, ip int) int {
	t := f.Pool.Type(ConstIndex(op.Type))
	v, ex := f.Arg(op.A)
	if ex != nil {
		return f.Raise(ex)
	}
	return ResolveArg(f, v, func(f *Frame, v Handle) int {
		reg := f.Registry()
		return f.Assign(op.Ret, Bool(reg.IsA(reg.ClassOf(v), t.Class)))
	})
}
