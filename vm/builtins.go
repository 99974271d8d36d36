package vm

import (
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"time"
	"unicode/utf8"
)

// ---------------------------------------------------------------------------
// Built-in classes
// ---------------------------------------------------------------------------

// Names of built-in classes other than exceptions.
const (
	ClassObject   = "Object"
	ClassNull     = "Null"
	ClassBool     = "Bool"
	ClassInt      = "Int"
	ClassLongLong = "LongLong"
	ClassChar     = "Char"
	ClassString   = "String"
	ClassTuple    = "Tuple"
	ClassArray    = "Array"
	ClassFunction = "Function"
	ClassVar      = "Var"
	ClassAtomic   = "Atomic"
	ClassFuture   = "Future"
	ClassType     = "Type"
	ClassInterval = "Interval"
	ClassConsole  = "Console"
	ClassTimer    = "Timer"
)

func bootstrap(rt *Runtime) {
	reg := rt.Registry
	kindClass := func(name string, kinds ...Kind) *Class {
		c := reg.mustDefine(NewClass(name, NativeClass, nil))
		for _, k := range kinds {
			reg.bindKind(k, c)
		}
		return c
	}
	kindClass(ClassNull, KindNull)
	kindClass(ClassBool, KindBool)
	intClass := kindClass(ClassInt, KindInt)
	kindClass(ClassLongLong, KindLongLong)
	kindClass(ClassChar, KindChar)
	stringClass := kindClass(ClassString, KindString)
	tupleClass := kindClass(ClassTuple, KindTuple)
	arrayClass := kindClass(ClassArray, KindArray)
	kindClass(ClassFunction, KindFunction)
	kindClass(ClassVar, KindVar, KindProperty)
	atomicClass := kindClass(ClassAtomic, KindAtomic)
	kindClass(ClassFuture, KindFuture)
	typeClass := kindClass(ClassType, KindClass)
	kindClass(ClassInterval, KindInterval, KindWildcard)
	console := kindClass(ClassConsole)
	timer := kindClass(ClassTimer)

	reg.Exception = reg.mustDefine(NewClass(ExException, ObjectClass, nil))
	for _, name := range builtinExceptions {
		reg.mustDefine(NewClass(name, ObjectClass, reg.Exception))
	}

	defineObjectNatives(rt, reg.Object)
	defineScalarNatives(rt, intClass, stringClass)
	defineTupleNatives(rt, tupleClass)
	defineArrayNatives(rt, arrayClass)
	defineAtomicNatives(rt, atomicClass)
	defineTypeNatives(rt, typeClass)

	rt.defineNative(console, "print", 1, 0, true, func(f *Frame, _ Handle, args []Handle, ret Returns) int {
		f.Runtime().print(args[0].String())
		return RNext
	})
	rt.defineNative(timer, "delay", 1, 1, true, nativeDelay)
}

func defineObjectNatives(rt *Runtime, c *Class) {
	rt.defineNative(c, "equals", 1, 1, false, func(f *Frame, this Handle, args []Handle, ret Returns) int {
		return f.AssignReturns(ret, Bool(nativeEqual(this, args[0])))
	})
	rt.defineNative(c, "toString", 0, 1, false, func(f *Frame, this Handle, args []Handle, ret Returns) int {
		return f.AssignReturns(ret, String(this.String()))
	})
	rt.defineNative(c, "hashCode", 0, 1, false, func(f *Frame, this Handle, args []Handle, ret Returns) int {
		return f.AssignReturns(ret, Int(nativeHash(this)))
	})
}

// nativeHash agrees with nativeEqual: native values hash their key, other
// handles their identity.
func nativeHash(v Handle) int64 {
	h := fnv.New64a()
	if nv, ok := v.(NativeValue); ok {
		fmt.Fprintf(h, "%T:%v", nv.Key(), nv.Key())
	} else {
		fmt.Fprintf(h, "%p", v)
	}
	return int64(h.Sum64())
}

func defineScalarNatives(rt *Runtime, intClass, stringClass *Class) {
	rt.defineNative(intClass, "abs", 0, 1, false, func(f *Frame, this Handle, args []Handle, ret Returns) int {
		i := this.(Int)
		if i == math.MinInt64 {
			return f.Throw(ExOutOfBounds, "integer overflow")
		}
		if i < 0 {
			i = -i
		}
		return f.AssignReturns(ret, i)
	})
	rt.defineNative(stringClass, "size", 0, 1, false, func(f *Frame, this Handle, args []Handle, ret Returns) int {
		return f.AssignReturns(ret, Int(utf8.RuneCountInString(string(this.(String)))))
	})
	rt.defineNative(stringClass, "concat", 1, 1, false, func(f *Frame, this Handle, args []Handle, ret Returns) int {
		return f.AssignReturns(ret, this.(String)+String(args[0].String()))
	})
	rt.defineNative(stringClass, "charAt", 1, 1, false, func(f *Frame, this Handle, args []Handle, ret Returns) int {
		i, ok := argInt(args, 0)
		if !ok {
			return f.typeMismatch("an Int index", args[0])
		}
		runes := []rune(string(this.(String)))
		if i < 0 || i >= int64(len(runes)) {
			return f.Throw(ExOutOfBounds, "index %d not in [0, %d)", i, len(runes))
		}
		return f.AssignReturns(ret, Char(runes[i]))
	})
}

func defineTupleNatives(rt *Runtime, c *Class) {
	rt.defineNative(c, "size", 0, 1, false, func(f *Frame, this Handle, args []Handle, ret Returns) int {
		return f.AssignReturns(ret, Int(this.(*TupleHandle).Len()))
	})
	rt.defineNative(c, "get", 1, 1, false, func(f *Frame, this Handle, args []Handle, ret Returns) int {
		t := this.(*TupleHandle)
		i, ok := argInt(args, 0)
		if !ok {
			return f.typeMismatch("an Int index", args[0])
		}
		if i < 0 || i >= int64(t.Len()) {
			return f.Throw(ExOutOfBounds, "index %d not in [0, %d)", i, t.Len())
		}
		return f.AssignReturns(ret, t.At(int(i)))
	})
}

// MaxArraySize bounds the size passed to Array.new.
const MaxArraySize = math.MaxInt32

func defineArrayNatives(rt *Runtime, c *Class) {
	newArray := func(f *Frame, args []Handle, fill Handle, ret Returns) int {
		n, ok := argInt(args, 0)
		if !ok {
			return f.typeMismatch("an Int size", args[0])
		}
		if n < 0 || n > MaxArraySize {
			return f.Throw(ExIllegalArgument, "invalid array size %d", n)
		}
		return f.AssignReturns(ret, NewArray(int(n), fill))
	}
	rt.defineNative(c, "new", 1, 1, true, func(f *Frame, _ Handle, args []Handle, ret Returns) int {
		return newArray(f, args, Null, ret)
	})
	rt.defineNative(c, "new", 2, 1, true, func(f *Frame, _ Handle, args []Handle, ret Returns) int {
		return newArray(f, args, args[1], ret)
	})
	rt.defineNative(c, "of", 1, 1, true, func(f *Frame, _ Handle, args []Handle, ret Returns) int {
		t, ok := args[0].(*TupleHandle)
		if !ok {
			return f.typeMismatch("a Tuple", args[0])
		}
		return f.AssignReturns(ret, ArrayOf(t.values...))
	})
	rt.defineNative(c, "size", 0, 1, false, func(f *Frame, this Handle, args []Handle, ret Returns) int {
		return f.AssignReturns(ret, Int(this.(*ArrayHandle).Len()))
	})
	rt.defineNative(c, "get", 1, 1, false, func(f *Frame, this Handle, args []Handle, ret Returns) int {
		i, ok := argInt(args, 0)
		if !ok {
			return f.typeMismatch("an Int index", args[0])
		}
		v, err := this.(*ArrayHandle).Get(int(i))
		if err != nil {
			return f.arrayError(err)
		}
		return f.AssignReturns(ret, v)
	})
	rt.defineNative(c, "set", 2, 0, false, func(f *Frame, this Handle, args []Handle, ret Returns) int {
		i, ok := argInt(args, 0)
		if !ok {
			return f.typeMismatch("an Int index", args[0])
		}
		if err := this.(*ArrayHandle).Set(int(i), args[1]); err != nil {
			return f.arrayError(err)
		}
		return RNext
	})
	rt.defineNative(c, "add", 1, 0, false, func(f *Frame, this Handle, args []Handle, ret Returns) int {
		if err := this.(*ArrayHandle).Append(args[0]); err != nil {
			return f.arrayError(err)
		}
		return RNext
	})
	rt.defineNative(c, "freeze", 0, 1, false, func(f *Frame, this Handle, args []Handle, ret Returns) int {
		this.(*ArrayHandle).Freeze()
		return f.AssignReturns(ret, this)
	})
}

func (f *Frame) arrayError(err error) int {
	switch {
	case errors.Is(err, ErrImmutable):
		return f.Throw(ExImmutableObject, "Immutable object")
	case errors.Is(err, ErrOutOfBounds):
		return f.Throw(ExOutOfBounds, "%s", err.Error())
	}
	return f.Throw(ExIllegalState, "%s", err.Error())
}

func defineAtomicNatives(rt *Runtime, c *Class) {
	rt.defineNative(c, "of", 1, 1, true, func(f *Frame, _ Handle, args []Handle, ret Returns) int {
		if !Shareable(args[0]) {
			return f.Throw(ExNotShareable, "%s cannot be stored in an atomic", f.Registry().ClassOf(args[0]).Name)
		}
		return f.AssignReturns(ret, NewAtomic(args[0]))
	})
	rt.defineNative(c, "empty", 0, 1, true, func(f *Frame, _ Handle, args []Handle, ret Returns) int {
		return f.AssignReturns(ret, NewAtomic(nil))
	})
	rt.defineNative(c, "get", 0, 1, false, func(f *Frame, this Handle, args []Handle, ret Returns) int {
		v, ex := this.(*AtomicHandle).Read(f)
		if ex != nil {
			return f.Raise(ex)
		}
		return f.AssignReturns(ret, v)
	})
	rt.defineNative(c, "set", 1, 0, false, func(f *Frame, this Handle, args []Handle, ret Returns) int {
		return this.(*AtomicHandle).Write(f, args[0])
	})
	rt.defineNative(c, "exchange", 1, 1, false, func(f *Frame, this Handle, args []Handle, ret Returns) int {
		if !Shareable(args[0]) {
			return f.Throw(ExNotShareable, "%s cannot be stored in an atomic", f.Registry().ClassOf(args[0]).Name)
		}
		old, ok := this.(*AtomicHandle).Exchange(args[0])
		if !ok {
			old = Null
		}
		return f.AssignReturns(ret, old)
	})
	rt.defineNative(c, "replace", 2, 1, false, func(f *Frame, this Handle, args []Handle, ret Returns) int {
		if !Shareable(args[1]) {
			return f.Throw(ExNotShareable, "%s cannot be stored in an atomic", f.Registry().ClassOf(args[1]).Name)
		}
		return this.(*AtomicHandle).Replace(f, args[0], args[1], func(f *Frame, ok bool) int {
			return f.AssignReturns(ret, Bool(ok))
		})
	})
}

func defineTypeNatives(rt *Runtime, c *Class) {
	rt.defineNative(c, "actualType", 1, 1, false, func(f *Frame, this Handle, args []Handle, ret Returns) int {
		name, ok := args[0].(String)
		if !ok {
			return f.typeMismatch("a String", args[0])
		}
		t := this.(*ClassHandle).Type.ActualType(string(name))
		if t == nil {
			return f.AssignReturns(ret, Null)
		}
		return f.AssignReturns(ret, &ClassHandle{Type: f.Registry().Compose(t)})
	})
	rt.defineNative(c, "name", 0, 1, false, func(f *Frame, this Handle, args []Handle, ret Returns) int {
		return f.AssignReturns(ret, String(this.(*ClassHandle).Type.String()))
	})
}

// nativeDelay returns a future completed with the elapsed milliseconds once
// the delay has passed.
func nativeDelay(f *Frame, _ Handle, args []Handle, ret Returns) int {
	ms, ok := argInt(args, 0)
	if !ok {
		return f.typeMismatch("an Int delay", args[0])
	}
	if ms < 0 {
		return f.Throw(ExIllegalArgument, "negative delay %d", ms)
	}
	fut := NewFuture()
	start := time.Now()
	f.Service().Schedule(time.Duration(ms)*time.Millisecond, func() {
		fut.Complete(Int(time.Since(start).Milliseconds()))
	})
	return f.AssignReturns(ret, fut)
}
