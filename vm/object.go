package vm

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
)

// Errors reported by handle mutation. Ops translate them into the matching
// user-visible exceptions.
var (
	ErrImmutable    = errors.New("immutable object")
	ErrNoSuchField  = errors.New("no such field")
	ErrOutOfBounds  = errors.New("index out of bounds")
	ErrBindPosition = errors.New("invalid bind position")
)

// ---------------------------------------------------------------------------
// ObjectHandle: instances of user classes
// ---------------------------------------------------------------------------

// ObjectHandle is an instance of a user class. Its immutable flag is
// monotonic: once frozen an object never becomes mutable again.
type ObjectHandle struct {
	comp   *Composition
	fields map[string]Handle
	frozen atomic.Bool
}

// NewObject creates an instance with every field unassigned.
func NewObject(comp *Composition) *ObjectHandle {
	return &ObjectHandle{comp: comp, fields: make(map[string]Handle)}
}

func (*ObjectHandle) Kind() Kind { return KindObject }

func (o *ObjectHandle) IsMutable() bool { return !o.frozen.Load() }

// Class returns the object's class.
func (o *ObjectHandle) Class() *Class { return o.comp.Class }

// Type returns the object's type composition.
func (o *ObjectHandle) Type() *Composition { return o.comp }

// Field returns the named field value; ok is false when unassigned.
func (o *ObjectHandle) Field(name string) (Handle, bool) {
	v, ok := o.fields[name]
	return v, ok
}

// SetField assigns a field.
func (o *ObjectHandle) SetField(name string, v Handle) error {
	if o.frozen.Load() {
		return ErrImmutable
	}
	if !o.comp.Class.HasField(name) {
		return fmt.Errorf("%w: %s.%s", ErrNoSuchField, o.comp.Class.Name, name)
	}
	o.fields[name] = v
	return nil
}

// Freeze makes the object and every mutable value reachable from its
// fields immutable.
func (o *ObjectHandle) Freeze() {
	if o.frozen.Swap(true) {
		return
	}
	for _, v := range o.fields {
		freeze(v)
	}
}

func (o *ObjectHandle) String() string {
	var b strings.Builder
	b.WriteString(o.comp.String())
	b.WriteByte('{')
	for i, name := range o.comp.Class.AllFields() {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(name)
		b.WriteByte('=')
		if v, ok := o.fields[name]; ok {
			b.WriteString(v.String())
		} else {
			b.WriteString("<unassigned>")
		}
	}
	b.WriteByte('}')
	return b.String()
}

// freeze freezes h if it is a freezable container.
func freeze(h Handle) {
	switch v := h.(type) {
	case *ObjectHandle:
		v.Freeze()
	case *ArrayHandle:
		v.Freeze()
	case *TupleHandle:
		for _, e := range v.values {
			freeze(e)
		}
	}
}

// ---------------------------------------------------------------------------
// TupleHandle
// ---------------------------------------------------------------------------

// TupleHandle is a fixed sequence of values.
type TupleHandle struct {
	values []Handle
}

// NewTuple creates a tuple holding a copy of values.
func NewTuple(values ...Handle) *TupleHandle {
	return &TupleHandle{values: append([]Handle(nil), values...)}
}

func (*TupleHandle) Kind() Kind { return KindTuple }

func (t *TupleHandle) IsMutable() bool {
	for _, v := range t.values {
		if v != nil && v.IsMutable() {
			return true
		}
	}
	return false
}

// Len returns the number of elements.
func (t *TupleHandle) Len() int { return len(t.values) }

// At returns element i.
func (t *TupleHandle) At(i int) Handle { return t.values[i] }

// Values returns the elements. The slice must not be modified.
func (t *TupleHandle) Values() []Handle { return t.values }

func (t *TupleHandle) String() string {
	parts := make([]string, len(t.values))
	for i, v := range t.values {
		parts[i] = v.String()
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// ---------------------------------------------------------------------------
// ArrayHandle
// ---------------------------------------------------------------------------

// ArrayHandle is a growable array of values.
type ArrayHandle struct {
	elems  []Handle
	frozen atomic.Bool
}

// NewArray creates an array of size elements, each set to fill.
func NewArray(size int, fill Handle) *ArrayHandle {
	a := &ArrayHandle{elems: make([]Handle, size)}
	for i := range a.elems {
		a.elems[i] = fill
	}
	return a
}

// ArrayOf creates an array holding a copy of values.
func ArrayOf(values ...Handle) *ArrayHandle {
	return &ArrayHandle{elems: append([]Handle(nil), values...)}
}

func (*ArrayHandle) Kind() Kind { return KindArray }

func (a *ArrayHandle) IsMutable() bool { return !a.frozen.Load() }

// Len returns the number of elements.
func (a *ArrayHandle) Len() int { return len(a.elems) }

// Get returns element i.
func (a *ArrayHandle) Get(i int) (Handle, error) {
	if i < 0 || i >= len(a.elems) {
		return nil, fmt.Errorf("%w: %d not in [0, %d)", ErrOutOfBounds, i, len(a.elems))
	}
	return a.elems[i], nil
}

// Set replaces element i.
func (a *ArrayHandle) Set(i int, v Handle) error {
	if a.frozen.Load() {
		return ErrImmutable
	}
	if i < 0 || i >= len(a.elems) {
		return fmt.Errorf("%w: %d not in [0, %d)", ErrOutOfBounds, i, len(a.elems))
	}
	a.elems[i] = v
	return nil
}

// Append adds v to the end of the array.
func (a *ArrayHandle) Append(v Handle) error {
	if a.frozen.Load() {
		return ErrImmutable
	}
	a.elems = append(a.elems, v)
	return nil
}

// Freeze makes the array and its elements immutable.
func (a *ArrayHandle) Freeze() {
	if a.frozen.Swap(true) {
		return
	}
	for _, e := range a.elems {
		freeze(e)
	}
}

func (a *ArrayHandle) String() string {
	parts := make([]string, len(a.elems))
	for i, v := range a.elems {
		parts[i] = v.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// ---------------------------------------------------------------------------
// FunctionHandle
// ---------------------------------------------------------------------------

type boundArg struct {
	pos   int
	value Handle
}

// FunctionHandle is a callable method reference, optionally bound to a
// target and to some of its arguments.
type FunctionHandle struct {
	method *Method
	this   Handle
	bound  []boundArg // sorted by original parameter position
}

// NewFunction creates a function for m. this is nil for static methods.
func NewFunction(m *Method, this Handle) *FunctionHandle {
	return &FunctionHandle{method: m, this: this}
}

func (*FunctionHandle) Kind() Kind { return KindFunction }

func (fn *FunctionHandle) IsMutable() bool { return false }

// Method returns the underlying method.
func (fn *FunctionHandle) Method() *Method { return fn.method }

// This returns the bound target, or nil.
func (fn *FunctionHandle) This() Handle { return fn.this }

// Arity returns the number of arguments still expected.
func (fn *FunctionHandle) Arity() int { return fn.method.Params - len(fn.bound) }

// Bind returns a new function with the given remaining-parameter positions
// bound to values.
func (fn *FunctionHandle) Bind(positions []int, values []Handle) (*FunctionHandle, error) {
	if len(positions) != len(values) {
		return nil, fmt.Errorf("%w: %d positions for %d values", ErrBindPosition, len(positions), len(values))
	}
	free := fn.freePositions()
	used := make(map[int]bool, len(positions))
	out := &FunctionHandle{method: fn.method, this: fn.this, bound: append([]boundArg(nil), fn.bound...)}
	for i, p := range positions {
		if p < 0 || p >= len(free) || used[p] {
			return nil, fmt.Errorf("%w: %d", ErrBindPosition, p)
		}
		used[p] = true
		out.bound = append(out.bound, boundArg{pos: free[p], value: values[i]})
	}
	sort.Slice(out.bound, func(i, j int) bool { return out.bound[i].pos < out.bound[j].pos })
	return out, nil
}

func (fn *FunctionHandle) freePositions() []int {
	free := make([]int, 0, fn.Arity())
	b := 0
	for p := 0; p < fn.method.Params; p++ {
		if b < len(fn.bound) && fn.bound[b].pos == p {
			b++
			continue
		}
		free = append(free, p)
	}
	return free
}

// Args merges the bound arguments with the supplied ones into the full
// argument list of the method.
func (fn *FunctionHandle) Args(supplied []Handle) []Handle {
	if len(fn.bound) == 0 {
		return supplied
	}
	full := make([]Handle, 0, fn.method.Params)
	b, s := 0, 0
	for p := 0; p < fn.method.Params; p++ {
		if b < len(fn.bound) && fn.bound[b].pos == p {
			full = append(full, fn.bound[b].value)
			b++
			continue
		}
		if s < len(supplied) {
			full = append(full, supplied[s])
			s++
		}
	}
	return full
}

func (fn *FunctionHandle) String() string {
	return "Function(" + fn.method.String() + ")"
}

// ---------------------------------------------------------------------------
// ClassHandle
// ---------------------------------------------------------------------------

// ClassHandle is a type used as a value.
type ClassHandle struct {
	Type *Composition
}

func (*ClassHandle) Kind() Kind       { return KindClass }
func (*ClassHandle) IsMutable() bool  { return false }
func (c *ClassHandle) String() string { return c.Type.String() }
func (c *ClassHandle) Key() any       { return c.Type }
func (c *ClassHandle) CompareTo(other Handle) (int, bool) {
	o, ok := other.(*ClassHandle)
	if !ok || o.Type != c.Type {
		return 0, false
	}
	return 0, true
}
