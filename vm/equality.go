package vm

import "math/big"

// ---------------------------------------------------------------------------
// Native and natural equality
// ---------------------------------------------------------------------------

// nativeEqual compares without running user code: identity, or key equality
// for native values.
func nativeEqual(a, b Handle) bool {
	if a == b {
		return true
	}
	na, ok := a.(NativeValue)
	if !ok {
		return false
	}
	nb, ok := b.(NativeValue)
	return ok && na.Key() == nb.Key()
}

// Equals decides natural equality of a and b and passes the outcome to
// cont. Native values compare directly. Objects use their class's equals/1
// method when one is declared; immutable objects of the same type otherwise
// compare field by field, mutable ones by identity. The comparison may run
// user code.
func Equals(f *Frame, a, b Handle, cont func(f *Frame, eq bool) int) int {
	if a == b {
		return cont(f, true)
	}
	if _, ok := a.(NativeValue); ok {
		return cont(f, nativeEqual(a, b))
	}
	switch av := a.(type) {
	case *ObjectHandle:
		if m, chain := userMethod(f, av.Class(), "equals/1"); m != nil {
			return callForValue(f, m, a, []Handle{b}, chain, func(f *Frame, v Handle) int {
				return cont(f, IsTrue(v))
			})
		}
		bv, ok := b.(*ObjectHandle)
		if !ok || av.comp != bv.comp || av.IsMutable() || bv.IsMutable() {
			return cont(f, false)
		}
		fields := av.Class().AllFields()
		xs := make([]Handle, len(fields))
		ys := make([]Handle, len(fields))
		for i, name := range fields {
			xs[i], _ = av.Field(name)
			ys[i], _ = bv.Field(name)
		}
		return equalSeq(f, xs, ys, cont)
	case *TupleHandle:
		bv, ok := b.(*TupleHandle)
		if !ok || av.Len() != bv.Len() {
			return cont(f, false)
		}
		return equalSeq(f, av.values, bv.values, cont)
	case *ServiceHandle:
		bv, ok := b.(*ServiceHandle)
		return cont(f, ok && av.svc == bv.svc)
	}
	return cont(f, false)
}

func equalSeq(f *Frame, xs, ys []Handle, cont func(f *Frame, eq bool) int) int {
	for i := range xs {
		x, y := xs[i], ys[i]
		if x == nil || y == nil {
			if x != y {
				return cont(f, false)
			}
			continue
		}
		if nativeEqual(x, y) {
			continue
		}
		rest := i + 1
		return Equals(f, x, y, func(f *Frame, eq bool) int {
			if !eq {
				return cont(f, false)
			}
			return equalSeq(f, xs[rest:], ys[rest:], cont)
		})
	}
	return cont(f, true)
}

// Compare orders a against b and passes the outcome to cont. ok is false
// when the two values are not ordered. Objects use their class's compare/1
// method, which returns a negative, zero or positive Int.
func Compare(f *Frame, a, b Handle, cont func(f *Frame, cmp int, ok bool) int) int {
	if na, ok := a.(NativeValue); ok {
		c, ok := na.CompareTo(b)
		return cont(f, c, ok)
	}
	if av, ok := a.(*ObjectHandle); ok {
		if m, chain := userMethod(f, av.Class(), "compare/1"); m != nil {
			return callForValue(f, m, a, []Handle{b}, chain, func(f *Frame, v Handle) int {
				c, ok := v.(Int)
				if !ok {
					return cont(f, 0, false)
				}
				return cont(f, cmp3(int64(c), 0), true)
			})
		}
	}
	return cont(f, 0, false)
}

// userMethod returns the most derived implementation of sig on c unless it
// is the root Object's native default.
func userMethod(f *Frame, c *Class, sig string) (*Method, *CallChain) {
	reg := f.Registry()
	chain := reg.Chain(c, sig)
	m := chain.Top()
	if m == nil || m.Class == reg.Object {
		return nil, nil
	}
	return m, chain
}

// inInterval reports whether v lies within the native interval iv.
func inInterval(v NativeValue, iv *Interval) bool {
	lo, ok := v.CompareTo(iv.Low)
	if !ok || lo < 0 {
		return false
	}
	hi, ok := v.CompareTo(iv.High)
	return ok && hi <= 0
}

// bigOf widens integer handles for LongLong arithmetic.
func bigOf(h Handle) (*big.Int, bool) {
	switch v := h.(type) {
	case Int:
		return big.NewInt(int64(v)), true
	case LongLong:
		return v.v, true
	}
	return nil, false
}
