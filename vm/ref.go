package vm

import "sync/atomic"

// ---------------------------------------------------------------------------
// References backing dynamic registers
// ---------------------------------------------------------------------------

// Ref is a reference stored in a dynamic register. Reads and writes of the
// register go through the reference.
type Ref interface {
	Handle
	// Read returns the referent. The result may be a Deferred.
	Read(f *Frame) (Handle, *ExceptionHandle)
	// Write replaces the referent and returns a result code.
	Write(f *Frame, v Handle) int
}

// VarHandle is a plain mutable variable.
type VarHandle struct {
	value Handle
}

// NewVar creates a variable holding v; nil leaves it unassigned.
func NewVar(v Handle) *VarHandle { return &VarHandle{value: v} }

func (*VarHandle) Kind() Kind      { return KindVar }
func (*VarHandle) IsMutable() bool { return true }
func (r *VarHandle) String() string {
	if r.value == nil {
		return "Var(<unassigned>)"
	}
	return "Var(" + r.value.String() + ")"
}

// Get returns the value, or nil when unassigned.
func (r *VarHandle) Get() Handle { return r.value }

func (r *VarHandle) Read(f *Frame) (Handle, *ExceptionHandle) {
	if r.value == nil {
		return nil, f.NewException(ExUnassignedReference, "Unassigned reference")
	}
	return r.value, nil
}

func (r *VarHandle) Write(f *Frame, v Handle) int {
	r.value = v
	return RNext
}

// ---------------------------------------------------------------------------
// AtomicHandle
// ---------------------------------------------------------------------------

type atomicCell struct {
	v Handle
}

// AtomicHandle is a variable updated with compare-and-swap. It may be shared
// between services; stored values must be shareable.
type AtomicHandle struct {
	cell atomic.Pointer[atomicCell]
}

// NewAtomic creates an atomic holding v; nil leaves it unassigned.
func NewAtomic(v Handle) *AtomicHandle {
	a := &AtomicHandle{}
	if v != nil {
		a.cell.Store(&atomicCell{v: v})
	}
	return a
}

func (*AtomicHandle) Kind() Kind      { return KindAtomic }
func (*AtomicHandle) IsMutable() bool { return true }
func (a *AtomicHandle) String() string {
	if v, ok := a.Get(); ok {
		return "Atomic(" + v.String() + ")"
	}
	return "Atomic(<unassigned>)"
}

// Get returns the current value; ok is false when unassigned.
func (a *AtomicHandle) Get() (Handle, bool) {
	c := a.cell.Load()
	if c == nil {
		return nil, false
	}
	return c.v, true
}

// Set stores v.
func (a *AtomicHandle) Set(v Handle) {
	a.cell.Store(&atomicCell{v: v})
}

// Exchange stores v and returns the previous value.
func (a *AtomicHandle) Exchange(v Handle) (Handle, bool) {
	old := a.cell.Swap(&atomicCell{v: v})
	if old == nil {
		return nil, false
	}
	return old.v, true
}

// CompareAndSwap stores v if the current value is natively equal to expect.
func (a *AtomicHandle) CompareAndSwap(expect, v Handle) bool {
	for {
		c := a.cell.Load()
		if c == nil || !nativeEqual(c.v, expect) {
			return false
		}
		if a.cell.CompareAndSwap(c, &atomicCell{v: v}) {
			return true
		}
	}
}

// Replace stores v if the current value equals expect under natural
// equality. Equality may run user code; if the cell changed meanwhile the
// comparison is repeated against the new value. cont receives the outcome.
func (a *AtomicHandle) Replace(f *Frame, expect, v Handle, cont func(f *Frame, ok bool) int) int {
	c := a.cell.Load()
	if c == nil {
		return cont(f, false)
	}
	if nativeEqual(c.v, expect) {
		if a.cell.CompareAndSwap(c, &atomicCell{v: v}) {
			return cont(f, true)
		}
		return a.Replace(f, expect, v, cont)
	}
	return Equals(f, c.v, expect, func(f *Frame, eq bool) int {
		if !eq {
			return cont(f, false)
		}
		if a.cell.CompareAndSwap(c, &atomicCell{v: v}) {
			return cont(f, true)
		}
		return a.Replace(f, expect, v, cont)
	})
}

func (a *AtomicHandle) Read(f *Frame) (Handle, *ExceptionHandle) {
	v, ok := a.Get()
	if !ok {
		return nil, f.NewException(ExUnassignedReference, "Unassigned reference")
	}
	return v, nil
}

func (a *AtomicHandle) Write(f *Frame, v Handle) int {
	if !Shareable(v) {
		return f.Throw(ExNotShareable, "%s cannot be stored in an atomic", f.Registry().ClassOf(v).Name)
	}
	a.Set(v)
	return RNext
}

// ---------------------------------------------------------------------------
// FutureVar
// ---------------------------------------------------------------------------

// FutureVar is a register declared to hold a future. Assigning a future
// stores it without waiting; reading waits for the value.
type FutureVar struct {
	fut *FutureHandle
}

func (*FutureVar) Kind() Kind      { return KindFuture }
func (*FutureVar) IsMutable() bool { return true }
func (r *FutureVar) String() string {
	if r.fut == nil {
		return "FutureVar(<unassigned>)"
	}
	return "FutureVar(" + r.fut.String() + ")"
}

// Future returns the stored future, or nil.
func (r *FutureVar) Future() *FutureHandle { return r.fut }

func (r *FutureVar) Read(f *Frame) (Handle, *ExceptionHandle) {
	if r.fut == nil {
		return nil, f.NewException(ExUnassignedReference, "Unassigned reference")
	}
	return &futureDeferred{fut: r.fut}, nil
}

func (r *FutureVar) Write(f *Frame, v Handle) int {
	if fut, ok := v.(*FutureHandle); ok {
		r.fut = fut
		return RNext
	}
	// A pending future is completed; a completed one is replaced.
	if r.fut == nil || r.fut.Done() {
		r.fut = NewFuture()
	}
	r.fut.Complete(v)
	return RNext
}

// ---------------------------------------------------------------------------
// PropertyRef
// ---------------------------------------------------------------------------

// PropertyRef binds a register to a property of a target.
type PropertyRef struct {
	target Handle
	prop   string
}

// NewPropertyRef creates a reference to target.prop.
func NewPropertyRef(target Handle, prop string) *PropertyRef {
	return &PropertyRef{target: target, prop: prop}
}

func (*PropertyRef) Kind() Kind       { return KindProperty }
func (*PropertyRef) IsMutable() bool  { return true }
func (r *PropertyRef) String() string { return "&" + r.target.String() + "." + r.prop }

func (r *PropertyRef) Read(f *Frame) (Handle, *ExceptionHandle) {
	return f.propertyValue(r.target, r.prop)
}

func (r *PropertyRef) Write(f *Frame, v Handle) int {
	return f.setProperty(r.target, r.prop, v)
}
