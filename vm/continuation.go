package vm

import "github.com/chazu/xvm/module"

// ---------------------------------------------------------------------------
// Deferred values
// ---------------------------------------------------------------------------

// Deferred is a value that is not available yet. Proceed starts producing it
// and invokes cont with the value. It returns cont's result when the value
// is immediately available, RCall after pushing a frame that will resume
// through cont, RRepeat when the fiber parked before anything happened, or
// RException.
type Deferred interface {
	Handle
	Proceed(f *Frame, cont ValueContinuation) int
}

// DeferredCall produces its value by calling a method and taking its first
// result.
type DeferredCall struct {
	Method *Method
	This   Handle
	Args   []Handle
	Chain  *CallChain
	// Settle may replace the produced value before it is handed on, such as
	// by a cache keeping the first value stored.
	Settle func(v Handle) Handle
}

func (*DeferredCall) Kind() Kind      { return KindDeferred }
func (*DeferredCall) IsMutable() bool { return false }
func (d *DeferredCall) String() string {
	return "Deferred(" + d.Method.String() + ")"
}

func (d *DeferredCall) Proceed(f *Frame, cont ValueContinuation) int {
	deliver := func(f *Frame) int {
		v := f.Pop()
		if d.Settle != nil {
			v = d.Settle(v)
		}
		return cont(f, v)
	}
	ret := ReturnTo(AStack)
	if d.Method.Returns == 0 {
		ret = ReturnNone
		deliver = func(f *Frame) int { return cont(f, Null) }
	}
	return f.Then(f.Invoke(d.Method, d.This, d.Args, ret, d.Chain, 0), deliver)
}

// callForValue calls m and passes its first result to cont.
func callForValue(f *Frame, m *Method, this Handle, args []Handle, chain *CallChain, cont ValueContinuation) int {
	d := &DeferredCall{Method: m, This: this, Args: args, Chain: chain}
	return d.Proceed(f, cont)
}

// ---------------------------------------------------------------------------
// Waiting on futures
// ---------------------------------------------------------------------------

// futureDeferred is the value of a future that may still be pending.
type futureDeferred struct {
	fut *FutureHandle
}

func (*futureDeferred) Kind() Kind      { return KindDeferred }
func (*futureDeferred) IsMutable() bool { return false }
func (d *futureDeferred) String() string {
	return "Deferred(" + d.fut.String() + ")"
}

func (d *futureDeferred) Proceed(f *Frame, cont ValueContinuation) int {
	if d.fut.Done() {
		values, ex := futureResult(d.fut)
		if ex != nil {
			return f.Raise(ex)
		}
		var v Handle = Null
		if len(values) > 0 {
			v = values[0]
		}
		return cont(f, v)
	}
	if f.fresh {
		f.Fiber.park(d.fut)
		return RRepeat
	}
	w := newWaitFrame(f, d.fut, ReturnTo(AStack))
	w.AddContinuation(func(f *Frame) int { return cont(f, f.Pop()) })
	return f.Call(w)
}

// awaitFuture delivers fut's values to ret once it completes. When nothing
// has happened yet in the current op the fiber parks and the op repeats;
// otherwise a wait frame holds the fiber until completion so the work done
// so far is not repeated.
func awaitFuture(f *Frame, fut *FutureHandle, ret Returns) int {
	if fut.Done() {
		values, ex := futureResult(fut)
		if ex != nil {
			return f.Raise(ex)
		}
		return f.AssignReturns(ret, values...)
	}
	if f.fresh {
		f.Fiber.park(fut)
		return RRepeat
	}
	return f.Call(newWaitFrame(f, fut, ret))
}

func futureResult(fut *FutureHandle) ([]Handle, *ExceptionHandle) {
	if err := fut.Err(); err != nil {
		panic(&InternalError{Msg: "awaited future failed: " + err.Error()})
	}
	return fut.Result()
}

// awaitMethod is the synthetic method run by wait frames.
var awaitMethod = &Method{Name: "await", Params: 1, MaxVars: 1, Ops: []Op{awaitOp{}}}

func newWaitFrame(f *Frame, fut *FutureHandle, ret Returns) *Frame {
	return f.NewFrame(awaitMethod, nil, []Handle{fut}, ret)
}

// awaitOp keeps its frame parked until the future in register 0 completes,
// then returns the future's values.
type awaitOp struct{}

func (awaitOp) Opcode() Opcode { return opAwait }

func (awaitOp) Encode(*module.PackedWriter) {}

func (awaitOp) String() string { return "Await" }

func (awaitOp) Process(f *Frame, ip int) int {
	fut := f.Registers[0].(*FutureHandle)
	if !fut.Done() {
		f.Fiber.park(fut)
		return RRepeat
	}
	values, ex := futureResult(fut)
	if ex != nil {
		return f.Raise(ex)
	}
	return f.ReturnValues(values...)
}

// ---------------------------------------------------------------------------
// Argument resolution
// ---------------------------------------------------------------------------

// ResolveArgs replaces every Deferred in args with its value, left to right,
// then calls cont exactly once with the concrete arguments. Resolution may
// span callee frames; an exception abandons it.
func ResolveArgs(f *Frame, args []Handle, cont func(f *Frame, args []Handle) int) int {
	r := &argResolver{args: args, cont: cont}
	return r.next(f)
}

type argResolver struct {
	args  []Handle
	index int
	cont  func(f *Frame, args []Handle) int
	done  bool
}

func (r *argResolver) next(f *Frame) int {
	for r.index < len(r.args) {
		d, ok := r.args[r.index].(Deferred)
		if !ok {
			r.index++
			continue
		}
		i := r.index
		return d.Proceed(f, func(f *Frame, v Handle) int {
			// v may itself be deferred; the loop inspects slot i again.
			r.args[i] = v
			return r.next(f)
		})
	}
	if r.done {
		internalf("argument continuation resumed twice")
	}
	r.done = true
	return r.cont(f, r.args)
}

// ResolveArg resolves a single value.
func ResolveArg(f *Frame, v Handle, cont ValueContinuation) int {
	d, ok := v.(Deferred)
	if !ok {
		return cont(f, v)
	}
	return d.Proceed(f, func(f *Frame, v Handle) int {
		return ResolveArg(f, v, cont)
	})
}
