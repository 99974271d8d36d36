package vm

import (
	"github.com/chazu/xvm/module"
)

// ---------------------------------------------------------------------------
// Native methods
// ---------------------------------------------------------------------------

// NativeFunc implements a method in Go. It runs on the calling frame
// without a frame of its own, delivers results with f.AssignReturns and
// returns a result code like an op.
type NativeFunc func(f *Frame, this Handle, args []Handle, ret Returns) int

type nativeKey struct {
	class string
	sig   string
}

// RegisterNative makes fn available to module methods declared native on
// class with signature sig. Bindings are resolved when a module is loaded.
func (rt *Runtime) RegisterNative(class, sig string, fn NativeFunc) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.natives[nativeKey{class: class, sig: sig}] = fn
}

// Native returns the registered binding for class and sig, or nil.
func (rt *Runtime) Native(class, sig string) NativeFunc {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.natives[nativeKey{class: class, sig: sig}]
}

// defineNative attaches a native method to a built-in class.
func (rt *Runtime) defineNative(c *Class, name string, params, returns int, static bool, fn NativeFunc) {
	m := &Method{Name: name, Params: params, Returns: returns, MaxVars: params, Static: static, Native: fn}
	c.AddMethod(m)
	rt.natives[nativeKey{class: c.Name, sig: module.SignatureOf(name, params)}] = fn
}

// argInt extracts an Int argument.
func argInt(args []Handle, i int) (int64, bool) {
	v, ok := args[i].(Int)
	return int64(v), ok
}

func (f *Frame) typeMismatch(what string, got Handle) int {
	return f.Throw(ExTypeMismatch, "%s expects %s, got %s", f.Method, what, f.Registry().ClassOf(got).Name)
}
