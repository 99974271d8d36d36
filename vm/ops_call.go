package vm

import (
	"fmt"
	"strings"

	"github.com/chazu/xvm/module"
)

// ---------------------------------------------------------------------------
// Calls, construction and returns
// ---------------------------------------------------------------------------

func init() {
	registerDecoder(func(code Opcode, r *module.PackedReader) Op {
		return &Call{Code: code, Fn: r.ReadInt(), Args: r.ReadInts(), Rets: r.ReadInts()}
	}, OpCall, OpCallN, OpCallT)
	registerDecoder(func(code Opcode, r *module.PackedReader) Op {
		return &Invoke{Code: code, Target: r.ReadInt(), Sig: r.ReadInt(), Args: r.ReadInts(), Rets: r.ReadInts()}
	}, OpInvoke, OpInvokeN, OpInvokeT)
	registerDecoder(func(_ Opcode, r *module.PackedReader) Op {
		return &New{Type: r.ReadInt(), TypeArgs: r.ReadInts(), Args: r.ReadInts(), Ret: r.ReadInt()}
	}, OpNew)
	registerDecoder(func(code Opcode, r *module.PackedReader) Op {
		return &Return{Code: code, Args: r.ReadInts()}
	}, OpReturn0, OpReturn1, OpReturnN, OpReturnT)
}

// returnsFor maps the return operands of a call op to destinations.
func returnsFor(code Opcode, rets []int) Returns {
	switch code {
	case OpCall, OpInvoke:
		if len(rets) == 0 {
			return ReturnNone
		}
		return ReturnTo(rets[0])
	case OpCallT, OpInvokeT:
		if len(rets) != 1 {
			internalf("%s needs one tuple destination, got %d", code, len(rets))
		}
		return ReturnAsTuple(rets[0])
	}
	return ReturnAll(rets...)
}

// Call calls the function in Fn, or the next implementation in the current
// call chain when Fn is @super.
type Call struct {
	Code Opcode
	Fn   int
	Args []int
	Rets []int
}

func (op *Call) Opcode() Opcode { return op.Code }

func (op *Call) Encode(w *module.PackedWriter) {
	w.WriteInt(op.Fn)
	w.WriteInts(op.Args)
	w.WriteInts(op.Rets)
}

func (op *Call) String() string {
	return fmt.Sprintf("%s %s, %s, %s", op.Code, OperandString(op.Fn), operandList(op.Args), operandList(op.Rets))
}

func (op *Call) Process(f *Frame, ip int) int {
	ret := returnsFor(op.Code, op.Rets)
	if op.Fn == ASuper {
		if f.Chain == nil {
			internalf("super call without a call chain in %s", f.Method)
		}
		m := f.Chain.Super(f.Depth)
		if m == nil {
			internalf("super call past the end of the %s chain", f.Chain.Signature)
		}
		chain, depth := f.Chain, f.Depth+1
		args, ex := f.Args(op.Args)
		if ex != nil {
			return f.Raise(ex)
		}
		return ResolveArgs(f, args, func(f *Frame, args []Handle) int {
			return f.Invoke(m, f.This, args, ret, chain, depth)
		})
	}
	args, ex := f.Args(append([]int{op.Fn}, op.Args...))
	if ex != nil {
		return f.Raise(ex)
	}
	return ResolveArgs(f, args, func(f *Frame, args []Handle) int {
		return f.CallFunction(args[0], args[1:], ret)
	})
}

// CallFunction calls a function handle with args.
func (f *Frame) CallFunction(v Handle, args []Handle, ret Returns) int {
	fn, ok := v.(*FunctionHandle)
	if !ok {
		return f.Throw(ExTypeMismatch, "cannot call %s", f.Registry().ClassOf(v).Name)
	}
	m := fn.method
	full := fn.Args(args)
	this := fn.this
	if !m.Static && this == nil {
		if len(full) == 0 {
			return f.Throw(ExArityMismatch, "%s needs a target", m)
		}
		this, full = full[0], full[1:]
	}
	if svc, ok := this.(*ServiceHandle); ok && svc.svc != f.Service() {
		return f.sendAsync(svc, m, full, ret)
	}
	var chain *CallChain
	if m.Class != nil && !m.Static {
		chain = f.Registry().Chain(m.Class, m.Signature())
	}
	return f.Invoke(m, this, full, ret, chain, 0)
}

// Invoke sends the signature Sig to Target.
type Invoke struct {
	Code   Opcode
	Target int
	Sig    int
	Args   []int
	Rets   []int
}

func (op *Invoke) Opcode() Opcode { return op.Code }

func (op *Invoke) Encode(w *module.PackedWriter) {
	w.WriteInt(op.Target)
	w.WriteInt(op.Sig)
	w.WriteInts(op.Args)
	w.WriteInts(op.Rets)
}

func (op *Invoke) String() string {
	return fmt.Sprintf("%s %s, %s, %s, %s", op.Code, OperandString(op.Target), OperandString(op.Sig), operandList(op.Args), operandList(op.Rets))
}

func (op *Invoke) Process(f *Frame, ip int) int {
	sig := f.Pool.Signature(ConstIndex(op.Sig))
	ret := returnsFor(op.Code, op.Rets)
	args, ex := f.Args(append([]int{op.Target}, op.Args...))
	if ex != nil {
		return f.Raise(ex)
	}
	return ResolveArgs(f, args, func(f *Frame, args []Handle) int {
		return f.Send(args[0], sig, args[1:], ret)
	})
}

// Send dispatches sig on target. Calls on a service owned by another
// service become asynchronous messages.
func (f *Frame) Send(target Handle, sig string, args []Handle, ret Returns) int {
	if target == nil || IsNull(target) {
		return f.Throw(ExIllegalState, "%s invoked on Null", sig)
	}
	reg := f.Registry()
	class := reg.ClassOf(target)
	chain := reg.Chain(class, sig)
	if chain == nil {
		if fn, ok := target.(*FunctionHandle); ok && strings.HasPrefix(sig, "call/") {
			return f.CallFunction(fn, args, ret)
		}
		return f.Throw(ExIllegalState, "%s has no method %s", class.Name, sig)
	}
	if svc, ok := target.(*ServiceHandle); ok && svc.svc != f.Service() {
		return f.sendAsync(svc, chain.Top(), args, ret)
	}
	return f.Invoke(chain.Top(), target, args, ret, chain, 0)
}

// sendAsync posts a call of m to the service behind target. The result is a
// future delivered to ret: stored as-is into a future variable, otherwise
// waited for.
func (f *Frame) sendAsync(target *ServiceHandle, m *Method, args []Handle, ret Returns) int {
	if len(args) != m.Params {
		return f.Throw(ExArityMismatch, "%s expects %d arguments, got %d", m, m.Params, len(args))
	}
	if !ret.Accepts(m.Returns) {
		return f.Throw(ExArityMismatch, "%s returns %d values, %d expected", m, m.Returns, ret.Count())
	}
	for i, a := range args {
		if !Shareable(a) {
			return f.Throw(ExNotShareable, "argument %d of %s is a mutable %s", i, m, f.Registry().ClassOf(a).Name)
		}
	}
	fut := NewFuture()
	f.fresh = false
	chain := f.Registry().Chain(target.obj.Class(), m.Signature())
	if !target.svc.post(callMessage{method: m, this: target, args: args, chain: chain, future: fut}) {
		return f.Throw(ExIllegalState, "service %s has terminated", target.svc.Name)
	}
	if ret.Kind == ReturnSingle {
		if ret.Regs[0] == AIgnore {
			return RNext
		}
		return f.Assign(ret.Regs[0], fut)
	}
	return awaitFuture(f, fut, ret)
}

// New creates an instance of the type constant Type, parameterized by
// TypeArgs, passing Args to its constructor.
type New struct {
	Type     int
	TypeArgs []int
	Args     []int
	Ret      int
}

func (*New) Opcode() Opcode { return OpNew }

func (op *New) Encode(w *module.PackedWriter) {
	w.WriteInt(op.Type)
	w.WriteInts(op.TypeArgs)
	w.WriteInts(op.Args)
	w.WriteInt(op.Ret)
}

func (op *New) String() string {
	return fmt.Sprintf("New %s, %s, %s, %s", OperandString(op.Type), operandList(op.TypeArgs), operandList(op.Args), OperandString(op.Ret))
}

func (op *New) Process(f *Frame, ip int) int {
	comp := f.Pool.Type(ConstIndex(op.Type))
	if len(op.TypeArgs) > 0 {
		actual := make([]*Class, len(op.TypeArgs))
		for i, t := range op.TypeArgs {
			actual[i] = f.Pool.Type(ConstIndex(t)).Class
		}
		comp = f.Registry().Compose(comp.Class, actual...)
	}
	args, ex := f.Args(op.Args)
	if ex != nil {
		return f.Raise(ex)
	}
	return ResolveArgs(f, args, func(f *Frame, args []Handle) int {
		return f.Construct(comp, args, op.Ret)
	})
}

// Construct creates an instance of comp, runs its constructor and assigns
// the result to reg. Instances of const and enum classes are frozen once
// constructed; service classes start a new service.
func (f *Frame) Construct(comp *Composition, args []Handle, reg int) int {
	c := comp.Class
	registry := f.Registry()
	if registry.Exception != nil && c.Kind != InterfaceClass && registry.IsA(c, registry.Exception) {
		return f.Assign(reg, newUserException(c, args))
	}
	if c.IsAbstract() {
		return f.Throw(ExIllegalState, "cannot instantiate %s class %s", c.Kind, c.Name)
	}
	obj := NewObject(comp)
	chain := registry.Chain(c, module.SignatureOf("construct", len(args)))
	if chain == nil && len(args) > 0 {
		return f.Throw(ExArityMismatch, "%s has no constructor taking %d arguments", c.Name, len(args))
	}
	if c.Kind == ServiceClass {
		return f.startService(obj, chain, args, reg)
	}
	finish := func(f *Frame) int {
		if c.Kind == ConstClass || c.Kind == EnumClass {
			obj.Freeze()
		}
		return f.Assign(reg, obj)
	}
	if chain == nil {
		return finish(f)
	}
	return f.Then(f.Invoke(chain.Top(), obj, args, ReturnNone, chain, 0), finish)
}

func newUserException(c *Class, args []Handle) *ExceptionHandle {
	ex := &ExceptionHandle{Class: c}
	if len(args) > 0 && args[0] != nil && !IsNull(args[0]) {
		ex.Message = args[0].String()
	}
	if len(args) > 1 {
		if cause, ok := args[1].(*ExceptionHandle); ok {
			ex.Cause = cause
		}
	}
	return ex
}

func (f *Frame) startService(obj *ObjectHandle, ctor *CallChain, args []Handle, reg int) int {
	for i, a := range args {
		if !Shareable(a) {
			return f.Throw(ExNotShareable, "argument %d of %s constructor is a mutable %s", i, obj.Class().Name, f.Registry().ClassOf(a).Name)
		}
	}
	svc, err := f.Runtime().spawn(obj.Class().Name)
	if err != nil {
		return f.Throw(ExIllegalState, "%s", err.Error())
	}
	h := &ServiceHandle{svc: svc, obj: obj}
	if ctor != nil {
		fut := NewFuture()
		svc.post(callMessage{method: ctor.Top(), this: h, args: args, chain: ctor, future: fut})
		fut.OnComplete(func() {
			if _, ex := fut.Result(); ex != nil {
				svc.log.Warningf("constructor of %s failed: %s", svc.Name, ex)
			}
		})
	}
	f.fresh = false
	return f.Assign(reg, h)
}

// Return completes the frame: Return0 with no values, Return1 and ReturnN
// with Args, ReturnT with the elements of the tuple in Args[0].
type Return struct {
	Code Opcode
	Args []int
}

func (op *Return) Opcode() Opcode { return op.Code }

func (op *Return) Encode(w *module.PackedWriter) { w.WriteInts(op.Args) }

func (op *Return) String() string {
	if op.Code == OpReturn0 {
		return "Return0"
	}
	return fmt.Sprintf("%s %s", op.Code, operandList(op.Args))
}

func (op *Return) Process(f *Frame, ip int) int {
	if op.Code == OpReturn0 {
		return f.ReturnValues()
	}
	args, ex := f.Args(op.Args)
	if ex != nil {
		return f.Raise(ex)
	}
	return ResolveArgs(f, args, func(f *Frame, args []Handle) int {
		if op.Code == OpReturnT {
			t, ok := args[0].(*TupleHandle)
			if !ok {
				return f.Throw(ExTypeMismatch, "ReturnT expects a Tuple, got %s", f.Registry().ClassOf(args[0]).Name)
			}
			args = t.values
		}
		if len(args) != f.Method.Returns {
			internalf("%s returns %d values, declared %d", f.Method, len(args), f.Method.Returns)
		}
		return f.ReturnValues(args...)
	})
}
