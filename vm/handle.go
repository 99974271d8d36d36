package vm

import (
	"fmt"
	"math/big"
	"strconv"
)

// ---------------------------------------------------------------------------
// Handle: the value representation
// ---------------------------------------------------------------------------

// Kind tags the concrete variant behind a Handle.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindLongLong
	KindChar
	KindString
	KindTuple
	KindArray
	KindObject
	KindFunction
	KindVar
	KindAtomic
	KindFuture
	KindProperty
	KindDeferred
	KindException
	KindClass
	KindService
	KindInterval
	KindWildcard
)

var kindNames = [...]string{
	KindNull:      "Null",
	KindBool:      "Bool",
	KindInt:       "Int",
	KindLongLong:  "LongLong",
	KindChar:      "Char",
	KindString:    "String",
	KindTuple:     "Tuple",
	KindArray:     "Array",
	KindObject:    "Object",
	KindFunction:  "Function",
	KindVar:       "Var",
	KindAtomic:    "Atomic",
	KindFuture:    "Future",
	KindProperty:  "Property",
	KindDeferred:  "Deferred",
	KindException: "Exception",
	KindClass:     "Type",
	KindService:   "Service",
	KindInterval:  "Interval",
	KindWildcard:  "Wildcard",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "Kind(" + strconv.Itoa(int(k)) + ")"
}

// Handle is a runtime value. Registers hold Handles; an unassigned register
// holds a nil Handle.
type Handle interface {
	Kind() Kind
	// IsMutable reports whether the value (or anything it owns) may still change.
	IsMutable() bool
	String() string
}

// NativeValue is implemented by handles whose equality and ordering are
// decided without running any user code.
type NativeValue interface {
	Handle
	// Key returns a comparable value usable as a Go map key. Two native
	// handles are equal iff their keys are equal.
	Key() any
	// CompareTo orders the receiver against other. ok is false when the two
	// values are not mutually ordered.
	CompareTo(other Handle) (cmp int, ok bool)
}

// ---------------------------------------------------------------------------
// Scalars
// ---------------------------------------------------------------------------

type nullHandle struct{}

// Null is the single null value.
var Null Handle = nullHandle{}

func (nullHandle) Kind() Kind      { return KindNull }
func (nullHandle) IsMutable() bool { return false }
func (nullHandle) String() string  { return "Null" }
func (nullHandle) Key() any        { return nullHandle{} }
func (nullHandle) CompareTo(other Handle) (int, bool) {
	_, ok := other.(nullHandle)
	return 0, ok
}

// IsNull reports whether h is the null value.
func IsNull(h Handle) bool {
	_, ok := h.(nullHandle)
	return ok
}

// Bool is a boolean handle.
type Bool bool

func (Bool) Kind() Kind      { return KindBool }
func (Bool) IsMutable() bool { return false }
func (b Bool) String() string {
	if b {
		return "True"
	}
	return "False"
}
func (b Bool) Key() any { return b }
func (b Bool) CompareTo(other Handle) (int, bool) {
	o, ok := other.(Bool)
	if !ok {
		return 0, false
	}
	switch {
	case b == o:
		return 0, true
	case !bool(b):
		return -1, true
	default:
		return 1, true
	}
}

// Int is a 64-bit signed integer handle.
type Int int64

func (Int) Kind() Kind       { return KindInt }
func (Int) IsMutable() bool  { return false }
func (i Int) String() string { return strconv.FormatInt(int64(i), 10) }
func (i Int) Key() any       { return i }
func (i Int) CompareTo(other Handle) (int, bool) {
	o, ok := other.(Int)
	if !ok {
		return 0, false
	}
	return cmp3(int64(i), int64(o)), true
}

// Char is a Unicode code point handle.
type Char rune

func (Char) Kind() Kind       { return KindChar }
func (Char) IsMutable() bool  { return false }
func (c Char) String() string { return string(rune(c)) }
func (c Char) Key() any       { return c }
func (c Char) CompareTo(other Handle) (int, bool) {
	o, ok := other.(Char)
	if !ok {
		return 0, false
	}
	return cmp3(int64(c), int64(o)), true
}

// String is an immutable string handle.
type String string

func (String) Kind() Kind       { return KindString }
func (String) IsMutable() bool  { return false }
func (s String) String() string { return string(s) }
func (s String) Key() any       { return s }
func (s String) CompareTo(other Handle) (int, bool) {
	o, ok := other.(String)
	if !ok {
		return 0, false
	}
	switch {
	case s < o:
		return -1, true
	case s > o:
		return 1, true
	}
	return 0, true
}

// LongLong is an arbitrary precision integer handle. The wrapped value is
// never modified after construction.
type LongLong struct {
	v *big.Int
}

type longKey string

// NewLongLong wraps v. The caller must not modify v afterwards.
func NewLongLong(v *big.Int) LongLong { return LongLong{v: v} }

// ParseLongLong parses a base-10 literal.
func ParseLongLong(s string) (LongLong, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return LongLong{}, fmt.Errorf("invalid LongLong literal %q", s)
	}
	return LongLong{v: v}, nil
}

func (LongLong) Kind() Kind       { return KindLongLong }
func (LongLong) IsMutable() bool  { return false }
func (l LongLong) String() string { return l.v.String() }
func (l LongLong) Big() *big.Int  { return l.v }
func (l LongLong) Key() any       { return longKey(l.v.String()) }
func (l LongLong) CompareTo(other Handle) (int, bool) {
	o, ok := other.(LongLong)
	if !ok {
		return 0, false
	}
	return l.v.Cmp(o.v), true
}

func cmp3(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// ---------------------------------------------------------------------------
// Switch markers
// ---------------------------------------------------------------------------

type wildcardHandle struct{}

// Wildcard matches any value in a switch row.
var Wildcard Handle = wildcardHandle{}

func (wildcardHandle) Kind() Kind      { return KindWildcard }
func (wildcardHandle) IsMutable() bool { return false }
func (wildcardHandle) String() string  { return "_" }

// Interval is an inclusive range [Low, High] used as a switch case.
type Interval struct {
	Low, High Handle
}

func (*Interval) Kind() Kind { return KindInterval }
func (iv *Interval) IsMutable() bool {
	return iv.Low.IsMutable() || iv.High.IsMutable()
}
func (iv *Interval) String() string { return iv.Low.String() + ".." + iv.High.String() }

// ---------------------------------------------------------------------------
// Truthiness and shareability
// ---------------------------------------------------------------------------

// IsTrue reports whether h is the boolean true.
func IsTrue(h Handle) bool {
	b, ok := h.(Bool)
	return ok && bool(b)
}

// Shareable reports whether h may be passed across a service boundary.
// Immutable values, services, futures and atomics are shareable.
func Shareable(h Handle) bool {
	switch v := h.(type) {
	case nil:
		return true
	case *ServiceHandle, *FutureHandle, *AtomicHandle:
		return true
	case *FunctionHandle:
		for _, b := range v.bound {
			if !Shareable(b.value) {
				return false
			}
		}
		return v.this == nil || Shareable(v.this)
	}
	return !h.IsMutable()
}
