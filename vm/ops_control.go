package vm

import (
	"fmt"

	"github.com/chazu/xvm/module"
)

// ---------------------------------------------------------------------------
// Branches, guards and exceptions
// ---------------------------------------------------------------------------

func init() {
	registerDecoder(func(_ Opcode, r *module.PackedReader) Op {
		return &Jump{Off: r.ReadInt()}
	}, OpJump)
	registerDecoder(func(code Opcode, r *module.PackedReader) Op {
		return &JumpCond{Code: code, A: r.ReadInt(), Off: r.ReadInt()}
	}, OpJumpTrue, OpJumpFalse, OpJumpNull)
	registerDecoder(func(_ Opcode, r *module.PackedReader) Op {
		return &GuardStart{End: r.ReadInt(), Types: r.ReadInts(), Regs: r.ReadInts(), Handlers: r.ReadInts()}
	}, OpGuardStart)
	registerDecoder(func(_ Opcode, r *module.PackedReader) Op {
		return &GuardEnd{Off: r.ReadInt()}
	}, OpGuardEnd)
	registerDecoder(func(_ Opcode, r *module.PackedReader) Op {
		return &Throw{A: r.ReadInt()}
	}, OpThrow)
	registerDecoder(func(_ Opcode, r *module.PackedReader) Op {
		return &Assert{A: r.ReadInt(), Msg: r.ReadInt()}
	}, OpAssert)
}

// Jump continues at ip+Off.
type Jump struct {
	Off int
}

func (*Jump) Opcode() Opcode { return OpJump }

func (op *Jump) Encode(w *module.PackedWriter) { w.WriteInt(op.Off) }

func (op *Jump) String() string { return fmt.Sprintf("Jump %+d", op.Off) }

func (op *Jump) Process(f *Frame, ip int) int { return ip + op.Off }

// JumpCond branches on A: JumpTrue, JumpFalse or JumpNull.
type JumpCond struct {
	Code Opcode
	A    int
	Off  int
}

func (op *JumpCond) Opcode() Opcode { return op.Code }

func (op *JumpCond) Encode(w *module.PackedWriter) {
	w.WriteInt(op.A)
	w.WriteInt(op.Off)
}

func (op *JumpCond) String() string {
	return fmt.Sprintf("%s %s, %+d", op.Code, OperandString(op.A), op.Off)
}

func (op *JumpCond) Process(f *Frame, ip int) int {
	v, ex := f.Arg(op.A)
	if ex != nil {
		return f.Raise(ex)
	}
	return ResolveArg(f, v, func(f *Frame, v Handle) int {
		var taken bool
		switch op.Code {
		case OpJumpNull:
			taken = IsNull(v)
		case OpJumpTrue, OpJumpFalse:
			b, ok := v.(Bool)
			if !ok {
				return f.Throw(ExTypeMismatch, "%s expects a Bool, got %s", op.Code, f.Registry().ClassOf(v).Name)
			}
			taken = bool(b) == (op.Code == OpJumpTrue)
		}
		if taken {
			return ip + op.Off
		}
		return RNext
	})
}

// GuardStart installs a guard over the ops up to ip+End. Types, Regs and
// Handlers are parallel: exceptions of Types[i] are stored in Regs[i] and
// handled at ip+Handlers[i]. A Types entry of @default catches everything.
type GuardStart struct {
	End      int
	Types    []int
	Regs     []int
	Handlers []int
}

func (*GuardStart) Opcode() Opcode { return OpGuardStart }

func (op *GuardStart) Encode(w *module.PackedWriter) {
	w.WriteInt(op.End)
	w.WriteInts(op.Types)
	w.WriteInts(op.Regs)
	w.WriteInts(op.Handlers)
}

func (op *GuardStart) String() string {
	return fmt.Sprintf("GuardStart %+d, %s, %s, %s", op.End, operandList(op.Types), operandList(op.Regs), offsetList(op.Handlers))
}

func (op *GuardStart) Process(f *Frame, ip int) int {
	if len(op.Types) != len(op.Regs) || len(op.Types) != len(op.Handlers) {
		internalf("GuardStart with %d types, %d registers, %d handlers", len(op.Types), len(op.Regs), len(op.Handlers))
	}
	f.trimGuards(ip)
	g := &Guard{Start: ip + 1, End: ip + op.End, Catches: make([]Catch, len(op.Types))}
	for i, t := range op.Types {
		var c *Class
		if t != ADefault {
			c = f.Pool.Type(ConstIndex(t)).Class
		}
		g.Catches[i] = Catch{Class: c, Reg: op.Regs[i], Handler: ip + op.Handlers[i]}
	}
	f.PushGuard(g)
	return RNext
}

// GuardEnd removes the innermost guard and continues at ip+Off.
type GuardEnd struct {
	Off int
}

func (*GuardEnd) Opcode() Opcode { return OpGuardEnd }

func (op *GuardEnd) Encode(w *module.PackedWriter) { w.WriteInt(op.Off) }

func (op *GuardEnd) String() string { return fmt.Sprintf("GuardEnd %+d", op.Off) }

func (op *GuardEnd) Process(f *Frame, ip int) int {
	f.trimGuards(ip)
	f.PopGuard()
	return ip + op.Off
}

// Throw raises the exception in A.
type Throw struct {
	A int
}

func (*Throw) Opcode() Opcode { return OpThrow }

func (op *Throw) Encode(w *module.PackedWriter) { w.WriteInt(op.A) }

func (op *Throw) String() string { return "Throw " + OperandString(op.A) }

func (op *Throw) Process(f *Frame, ip int) int {
	v, ex := f.Arg(op.A)
	if ex != nil {
		return f.Raise(ex)
	}
	return ResolveArg(f, v, func(f *Frame, v Handle) int {
		thrown, ok := v.(*ExceptionHandle)
		if !ok {
			return f.Throw(ExTypeMismatch, "cannot throw %s", f.Registry().ClassOf(v).Name)
		}
		// Rethrowing keeps the class and message but starts a new trace.
		if len(thrown.Trace) > 0 {
			thrown = &ExceptionHandle{Class: thrown.Class, Message: thrown.Message, Cause: thrown.Cause}
		}
		return f.Raise(thrown)
	})
}

// Assert raises AssertionFailed unless A is true. Msg is an optional
// message constant.
type Assert struct {
	A, Msg int
}

func (*Assert) Opcode() Opcode { return OpAssert }

func (op *Assert) Encode(w *module.PackedWriter) {
	w.WriteInt(op.A)
	w.WriteInt(op.Msg)
}

func (op *Assert) String() string {
	return fmt.Sprintf("Assert %s, %s", OperandString(op.A), OperandString(op.Msg))
}

func (op *Assert) Process(f *Frame, ip int) int {
	v, ex := f.Arg(op.A)
	if ex != nil {
		return f.Raise(ex)
	}
	return ResolveArg(f, v, func(f *Frame, v Handle) int {
		if IsTrue(v) {
			return RNext
		}
		msg := "assertion failed"
		if op.Msg != ADefault {
			if s, ok := f.Pool.Get(ConstIndex(op.Msg)).(String); ok {
				msg = string(s)
			}
		}
		return f.Throw(ExAssertionFailed, "%s", msg)
	})
}
