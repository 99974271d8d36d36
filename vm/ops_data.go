package vm

import (
	"fmt"

	"github.com/chazu/xvm/module"
)

// ---------------------------------------------------------------------------
// Data movement and variable ops
// ---------------------------------------------------------------------------

func init() {
	registerDecoder(func(Opcode, *module.PackedReader) Op { return &Nop{} }, OpNop)
	registerDecoder(func(_ Opcode, r *module.PackedReader) Op {
		return &Move{From: r.ReadInt(), To: r.ReadInt()}
	}, OpMove)
	registerDecoder(func(_ Opcode, r *module.PackedReader) Op {
		return &Var{Reg: r.ReadInt(), Value: r.ReadInt()}
	}, OpVar)
	registerDecoder(func(_ Opcode, r *module.PackedReader) Op {
		return &VarAtomic{Reg: r.ReadInt(), Value: r.ReadInt()}
	}, OpVarAtomic)
	registerDecoder(func(_ Opcode, r *module.PackedReader) Op {
		return &VarFuture{Reg: r.ReadInt()}
	}, OpVarFuture)
	registerDecoder(func(_ Opcode, r *module.PackedReader) Op {
		return &VarProp{Reg: r.ReadInt(), Target: r.ReadInt(), Prop: r.ReadInt()}
	}, OpVarProp)
	registerDecoder(func(_ Opcode, r *module.PackedReader) Op {
		return &MakeTuple{Args: r.ReadInts(), Ret: r.ReadInt()}
	}, OpTuple)
	registerDecoder(func(_ Opcode, r *module.PackedReader) Op {
		return &Freeze{A: r.ReadInt()}
	}, OpFreeze)
	registerDecoder(func(_ Opcode, r *module.PackedReader) Op {
		return &FBind{Fn: r.ReadInt(), Positions: r.ReadInts(), Args: r.ReadInts(), Ret: r.ReadInt()}
	}, OpFBind)
}

// Nop does nothing.
type Nop struct{}

func (*Nop) Opcode() Opcode { return OpNop }
func (*Nop) Encode(*module.PackedWriter) {}
func (*Nop) String() string               { return "Nop" }
func (*Nop) Process(f *Frame, ip int) int { return RNext }

// Move copies From into To, resolving deferred values.
type Move struct {
	From, To int
}

func (*Move) Opcode() Opcode { return OpMove }

func (op *Move) Encode(w *module.PackedWriter) {
	w.WriteInt(op.From)
	w.WriteInt(op.To)
}

func (op *Move) String() string {
	return fmt.Sprintf("Move %s, %s", OperandString(op.From), OperandString(op.To))
}

func (op *Move) Process(f *Frame, ip int) int {
	v, ex := f.Arg(op.From)
	if ex != nil {
		return f.Raise(ex)
	}
	if v == nil {
		internalf("Move from @default")
	}
	return f.Assign(op.To, v)
}

// initialValue reads and resolves an optional initializer operand.
func initialValue(f *Frame, arg int, cont ValueContinuation) int {
	if arg == ADefault {
		return cont(f, nil)
	}
	v, ex := f.Arg(arg)
	if ex != nil {
		return f.Raise(ex)
	}
	return ResolveArg(f, v, func(f *Frame, v Handle) int {
		if fut, ok := v.(*FutureHandle); ok {
			return ResolveArg(f, &futureDeferred{fut: fut}, cont)
		}
		return cont(f, v)
	})
}

// Var turns Reg into a dynamic variable, optionally initialized from Value.
type Var struct {
	Reg, Value int
}

func (*Var) Opcode() Opcode { return OpVar }

func (op *Var) Encode(w *module.PackedWriter) {
	w.WriteInt(op.Reg)
	w.WriteInt(op.Value)
}

func (op *Var) String() string {
	return fmt.Sprintf("Var %s, %s", OperandString(op.Reg), OperandString(op.Value))
}

func (op *Var) Process(f *Frame, ip int) int {
	return initialValue(f, op.Value, func(f *Frame, v Handle) int {
		f.SetDynamic(op.Reg, NewVar(v))
		return RNext
	})
}

// VarAtomic turns Reg into an atomic variable, optionally initialized.
type VarAtomic struct {
	Reg, Value int
}

func (*VarAtomic) Opcode() Opcode { return OpVarAtomic }

func (op *VarAtomic) Encode(w *module.PackedWriter) {
	w.WriteInt(op.Reg)
	w.WriteInt(op.Value)
}

func (op *VarAtomic) String() string {
	return fmt.Sprintf("VarAtomic %s, %s", OperandString(op.Reg), OperandString(op.Value))
}

func (op *VarAtomic) Process(f *Frame, ip int) int {
	return initialValue(f, op.Value, func(f *Frame, v Handle) int {
		if v != nil && !Shareable(v) {
			return f.Throw(ExNotShareable, "%s cannot be stored in an atomic", f.Registry().ClassOf(v).Name)
		}
		f.SetDynamic(op.Reg, NewAtomic(v))
		return RNext
	})
}

// VarFuture declares Reg as a future variable.
type VarFuture struct {
	Reg int
}

func (*VarFuture) Opcode() Opcode { return OpVarFuture }

func (op *VarFuture) Encode(w *module.PackedWriter) {
	w.WriteInt(op.Reg)
}

func (op *VarFuture) String() string {
	return "VarFuture " + OperandString(op.Reg)
}

func (op *VarFuture) Process(f *Frame, ip int) int {
	f.SetDynamic(op.Reg, &FutureVar{})
	return RNext
}

// VarProp binds Reg to the property Prop of Target.
type VarProp struct {
	Reg, Target, Prop int
}

func (*VarProp) Opcode() Opcode { return OpVarProp }

func (op *VarProp) Encode(w *module.PackedWriter) {
	w.WriteInt(op.Reg)
	w.WriteInt(op.Target)
	w.WriteInt(op.Prop)
}

func (op *VarProp) String() string {
	return fmt.Sprintf("VarProp %s, %s, %s", OperandString(op.Reg), OperandString(op.Target), OperandString(op.Prop))
}

func (op *VarProp) Process(f *Frame, ip int) int {
	prop := f.Pool.Property(ConstIndex(op.Prop))
	target, ex := f.Arg(op.Target)
	if ex != nil {
		return f.Raise(ex)
	}
	return ResolveArg(f, target, func(f *Frame, target Handle) int {
		f.SetDynamic(op.Reg, NewPropertyRef(target, prop))
		return RNext
	})
}

// MakeTuple packs Args into a tuple.
type MakeTuple struct {
	Args []int
	Ret  int
}

func (*MakeTuple) Opcode() Opcode { return OpTuple }

func (op *MakeTuple) Encode(w *module.PackedWriter) {
	w.WriteInts(op.Args)
	w.WriteInt(op.Ret)
}

func (op *MakeTuple) String() string {
	return fmt.Sprintf("Tuple %s, %s", operandList(op.Args), OperandString(op.Ret))
}

func (op *MakeTuple) Process(f *Frame, ip int) int {
	args, ex := f.Args(op.Args)
	if ex != nil {
		return f.Raise(ex)
	}
	return ResolveArgs(f, args, func(f *Frame, args []Handle) int {
		return f.Assign(op.Ret, NewTuple(args...))
	})
}

// Freeze makes the value in A immutable.
type Freeze struct {
	A int
}

func (*Freeze) Opcode() Opcode { return OpFreeze }

func (op *Freeze) Encode(w *module.PackedWriter) {
	w.WriteInt(op.A)
}

func (op *Freeze) String() string { return "Freeze " + OperandString(op.A) }

func (op *Freeze) Process(f *Frame, ip int) int {
	v, ex := f.Arg(op.A)
	if ex != nil {
		return f.Raise(ex)
	}
	return ResolveArg(f, v, func(f *Frame, v Handle) int {
		freeze(v)
		return RNext
	})
}

// FBind binds arguments of the function in Fn at Positions.
type FBind struct {
	Fn        int
	Positions []int
	Args      []int
	Ret       int
}

func (*FBind) Opcode() Opcode { return OpFBind }

func (op *FBind) Encode(w *module.PackedWriter) {
	w.WriteInt(op.Fn)
	w.WriteInts(op.Positions)
	w.WriteInts(op.Args)
	w.WriteInt(op.Ret)
}

func (op *FBind) String() string {
	return fmt.Sprintf("FBind %s, %v, %s, %s", OperandString(op.Fn), op.Positions, operandList(op.Args), OperandString(op.Ret))
}

func (op *FBind) Process(f *Frame, ip int) int {
	args, ex := f.Args(append([]int{op.Fn}, op.Args...))
	if ex != nil {
		return f.Raise(ex)
	}
	return ResolveArgs(f, args, func(f *Frame, args []Handle) int {
		fn, ok := args[0].(*FunctionHandle)
		if !ok {
			return f.Throw(ExTypeMismatch, "FBind expects a Function, got %s", f.Registry().ClassOf(args[0]).Name)
		}
		bound, err := fn.Bind(op.Positions, args[1:])
		if err != nil {
			return f.Throw(ExIllegalArgument, "%s", err.Error())
		}
		return f.Assign(op.Ret, bound)
	})
}
