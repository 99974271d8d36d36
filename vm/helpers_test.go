package vm

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chazu/xvm/module"
)

// k converts a constant index to an operand.
func k(idx int) int { return ConstArg(idx) }

func newTestRuntime(t *testing.T, opts ...Option) (*Runtime, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	return NewRuntime(append([]Option{WithOutput(&out)}, opts...)...), &out
}

// testFrame returns a frame for m on a service whose loop is not running,
// so ops can be driven one at a time.
func testFrame(rt *Runtime, m *Method) *Frame {
	svc := newService(rt, "test")
	fb := newFiber(svc, m, nil, nil, nil, NewFuture())
	f := fb.frame.NewFrame(m, nil, nil, ReturnAsTuple(0))
	fb.frame = f
	f.fresh = true
	return f
}

func poolMethod(rt *Runtime, vars int, consts ...module.Constant) *Method {
	return &Method{Name: "test", Static: true, MaxVars: vars, Pool: NewConstantPool(rt.Registry, consts)}
}

// loadModule loads m into rt, failing the test on error.
func loadModule(t *testing.T, rt *Runtime, m *module.Module) *Image {
	t.Helper()
	img, err := rt.Load(m)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return img
}

// runEntry loads m and runs ref, failing the test on host errors.
func runEntry(t *testing.T, rt *Runtime, m *module.Module, ref string, args ...Handle) *Result {
	t.Helper()
	res, err := runEntryErr(t, rt, m, ref, args...)
	if err != nil {
		t.Fatalf("Run %s: %v", ref, err)
	}
	return res
}

func runEntryErr(t *testing.T, rt *Runtime, m *module.Module, ref string, args ...Handle) (*Result, error) {
	t.Helper()
	img := loadModule(t, rt, m)
	entry, err := img.Lookup(ref)
	if err != nil {
		t.Fatalf("Lookup %s: %v", ref, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return rt.Run(ctx, entry, args...)
}

func mainModule(consts []module.Constant, methods ...module.Method) *module.Module {
	return &module.Module{
		Name:      "test",
		Constants: consts,
		Classes:   []module.Class{{Name: "Main", Kind: module.KindObject, Methods: methods}},
	}
}

func static(name string, params, returns, vars int, ops ...Op) module.Method {
	return module.Method{Name: name, Params: params, Returns: returns, Static: true, MaxVars: vars, Code: EncodeOps(ops)}
}

func method(name string, params, returns, vars int, ops ...Op) module.Method {
	return module.Method{Name: name, Params: params, Returns: returns, MaxVars: vars, Code: EncodeOps(ops)}
}

func intConst(v int64) module.Constant { return module.Constant{Kind: module.ConstInt, Int: v} }
func strConst(s string) module.Constant {
	return module.Constant{Kind: module.ConstString, Str: s}
}
func classConst(name string) module.Constant {
	return module.Constant{Kind: module.ConstClass, Str: name}
}
func propConst(name string) module.Constant {
	return module.Constant{Kind: module.ConstProperty, Str: name}
}
func sigConst(name string, params int) module.Constant {
	return module.Constant{Kind: module.ConstSignature, Str: name, Params: params}
}
func methodConst(class, name string, params int) module.Constant {
	return module.Constant{Kind: module.ConstMethod, Class: class, Method: name, Params: params}
}

func wantValues(t *testing.T, res *Result, want ...Handle) {
	t.Helper()
	if res.Exception != nil {
		t.Fatalf("unexpected exception %s", res.Exception.Report())
	}
	if len(res.Values) != len(want) {
		t.Fatalf("got %d values %v, want %v", len(res.Values), res.Values, want)
	}
	for i := range want {
		if !nativeEqual(res.Values[i], want[i]) {
			t.Errorf("value %d = %v, want %v", i, res.Values[i], want[i])
		}
	}
}

func wantException(t *testing.T, res *Result, class string) *ExceptionHandle {
	t.Helper()
	if res.Exception == nil {
		t.Fatalf("expected %s, got values %v", class, res.Values)
	}
	if res.Exception.Class.Name != class {
		t.Fatalf("exception = %s, want %s", res.Exception, class)
	}
	return res.Exception
}

func wantInternal(t *testing.T, fn func()) *InternalError {
	t.Helper()
	var ie *InternalError
	func() {
		defer func() {
			if r := recover(); r != nil {
				err, ok := r.(error)
				if !ok || !errors.As(err, &ie) {
					panic(r)
				}
			}
		}()
		fn()
	}()
	if ie == nil {
		t.Fatal("expected an internal error")
	}
	return ie
}
