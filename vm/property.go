package vm

import (
	"fmt"

	"github.com/chazu/xvm/module"
)

// ---------------------------------------------------------------------------
// Property access
// ---------------------------------------------------------------------------

func init() {
	registerDecoder(func(_ Opcode, r *module.PackedReader) Op {
		return &PGet{Target: r.ReadInt(), Prop: r.ReadInt(), Ret: r.ReadInt()}
	}, OpPGet)
	registerDecoder(func(_ Opcode, r *module.PackedReader) Op {
		return &PSet{Target: r.ReadInt(), Prop: r.ReadInt(), Value: r.ReadInt()}
	}, OpPSet)
}

// PGet reads the property Prop of Target into Ret.
type PGet struct {
	Target, Prop, Ret int
}

func (*PGet) Opcode() Opcode { return OpPGet }

func (op *PGet) Encode(w *module.PackedWriter) {
	w.WriteInt(op.Target)
	w.WriteInt(op.Prop)
	w.WriteInt(op.Ret)
}

func (op *PGet) String() string {
	return fmt.Sprintf("PGet %s, %s, %s", OperandString(op.Target), OperandString(op.Prop), OperandString(op.Ret))
}

func (op *PGet) Process(f *Frame, ip int) int {
	prop := f.Pool.Property(ConstIndex(op.Prop))
	target, ex := f.Arg(op.Target)
	if ex != nil {
		return f.Raise(ex)
	}
	return ResolveArg(f, target, func(f *Frame, target Handle) int {
		v, ex := f.propertyValue(target, prop)
		if ex != nil {
			return f.Raise(ex)
		}
		return f.Assign(op.Ret, v)
	})
}

// PSet writes Value into the property Prop of Target.
type PSet struct {
	Target, Prop, Value int
}

func (*PSet) Opcode() Opcode { return OpPSet }

func (op *PSet) Encode(w *module.PackedWriter) {
	w.WriteInt(op.Target)
	w.WriteInt(op.Prop)
	w.WriteInt(op.Value)
}

func (op *PSet) String() string {
	return fmt.Sprintf("PSet %s, %s, %s", OperandString(op.Target), OperandString(op.Prop), OperandString(op.Value))
}

func (op *PSet) Process(f *Frame, ip int) int {
	prop := f.Pool.Property(ConstIndex(op.Prop))
	args, ex := f.Args([]int{op.Target, op.Value})
	if ex != nil {
		return f.Raise(ex)
	}
	return ResolveArgs(f, args, func(f *Frame, args []Handle) int {
		return f.setProperty(args[0], prop, args[1])
	})
}

// propertyValue returns target.prop. Properties with a natural getter yield
// a Deferred that runs the getter when resolved.
func (f *Frame) propertyValue(target Handle, prop string) (Handle, *ExceptionHandle) {
	switch t := target.(type) {
	case *ServiceHandle:
		if t.svc != f.Service() {
			return &remoteCall{target: t, method: f.Runtime().accessor(prop, AccessGet)}, nil
		}
		return f.objectProperty(t, t.obj, prop)
	case *ObjectHandle:
		return f.objectProperty(t, t, prop)
	case *ExceptionHandle:
		switch prop {
		case "message":
			return String(t.Message), nil
		case "name":
			return String(t.Class.Name), nil
		case "cause":
			if t.Cause == nil {
				return Null, nil
			}
			return t.Cause, nil
		}
	case *TupleHandle:
		if prop == "size" {
			return Int(t.Len()), nil
		}
	case *ArrayHandle:
		if prop == "size" {
			return Int(t.Len()), nil
		}
	case String:
		if prop == "size" {
			return Int(len([]rune(string(t)))), nil
		}
	case *ClassHandle:
		if prop == "name" {
			return String(t.Type.String()), nil
		}
	}
	return nil, f.NewException(ExIllegalState, "%s has no property %s", f.Registry().ClassOf(target).Name, prop)
}

func (f *Frame) objectProperty(this Handle, obj *ObjectHandle, prop string) (Handle, *ExceptionHandle) {
	chain := f.Registry().PropertyChain(obj.Class(), prop, AccessGet)
	if chain == nil {
		return nil, f.NewException(ExIllegalState, "%s has no property %s", obj.Class().Name, prop)
	}
	if m := chain.Top(); m != nil {
		return &DeferredCall{Method: m, This: this, Chain: chain}, nil
	}
	v, ok := obj.Field(prop)
	if !ok {
		return nil, f.NewException(ExUnassignedReference, "Unassigned property %s", prop)
	}
	return v, nil
}

// setProperty assigns target.prop, running a natural setter when declared.
func (f *Frame) setProperty(target Handle, prop string, v Handle) int {
	var obj *ObjectHandle
	switch t := target.(type) {
	case *ServiceHandle:
		if t.svc != f.Service() {
			if !Shareable(v) {
				return f.Throw(ExNotShareable, "cannot store a mutable %s in service %s", f.Registry().ClassOf(v).Name, t.svc.Name)
			}
			m := f.Runtime().accessor(prop, AccessSet)
			f.fresh = false
			if !t.svc.post(callMessage{method: m, this: t, args: []Handle{v}, future: NewFuture()}) {
				return f.Throw(ExIllegalState, "service %s has terminated", t.svc.Name)
			}
			return RNext
		}
		obj = t.obj
	case *ObjectHandle:
		obj = t
	default:
		return f.Throw(ExIllegalState, "%s has no property %s", f.Registry().ClassOf(target).Name, prop)
	}
	if !obj.IsMutable() {
		return f.Throw(ExImmutableObject, "Immutable object")
	}
	chain := f.Registry().PropertyChain(obj.Class(), prop, AccessSet)
	if chain == nil {
		return f.Throw(ExIllegalState, "%s has no property %s", obj.Class().Name, prop)
	}
	if m := chain.Top(); m != nil {
		return f.Invoke(m, target, []Handle{v}, ReturnNone, chain, 0)
	}
	if err := obj.SetField(prop, v); err != nil {
		if err == ErrImmutable {
			return f.Throw(ExImmutableObject, "Immutable object")
		}
		return f.Throw(ExIllegalState, "%s", err.Error())
	}
	return RNext
}

// remoteCall is a value held by another service: resolving it posts the
// call and waits for the reply.
type remoteCall struct {
	target *ServiceHandle
	method *Method
	args   []Handle
}

func (*remoteCall) Kind() Kind      { return KindDeferred }
func (*remoteCall) IsMutable() bool { return false }
func (d *remoteCall) String() string {
	return "Deferred(" + d.target.String() + "." + d.method.Name + ")"
}

func (d *remoteCall) Proceed(f *Frame, cont ValueContinuation) int {
	fut := NewFuture()
	f.fresh = false
	if !d.target.svc.post(callMessage{method: d.method, this: d.target, args: d.args, future: fut}) {
		return f.Throw(ExIllegalState, "service %s has terminated", d.target.svc.Name)
	}
	return (&futureDeferred{fut: fut}).Proceed(f, cont)
}

// accessor returns a native method reading or writing prop on its target,
// used to access properties of services from other services.
func (rt *Runtime) accessor(prop string, access PropertyAccess) *Method {
	key := accessorKey{prop: prop, access: access}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if m, ok := rt.accessors[key]; ok {
		return m
	}
	var m *Method
	if access == AccessGet {
		m = &Method{Name: "get:" + prop, Returns: 1, Native: func(f *Frame, this Handle, args []Handle, ret Returns) int {
			v, ex := f.propertyValue(this, prop)
			if ex != nil {
				return f.Raise(ex)
			}
			if !Shareable(v) {
				if _, deferred := v.(Deferred); !deferred {
					return f.Throw(ExNotShareable, "property %s holds a mutable %s", prop, f.Registry().ClassOf(v).Name)
				}
			}
			return f.AssignReturns(ret, v)
		}}
	} else {
		m = &Method{Name: "set:" + prop, Params: 1, Native: func(f *Frame, this Handle, args []Handle, ret Returns) int {
			return f.setProperty(this, prop, args[0])
		}}
	}
	rt.accessors[key] = m
	return m
}

type accessorKey struct {
	prop   string
	access PropertyAccess
}
