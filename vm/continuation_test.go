package vm

import "testing"

// ready is a deferred value that is available immediately.
type ready struct{ v Handle }

func (*ready) Kind() Kind      { return KindDeferred }
func (*ready) IsMutable() bool { return false }
func (*ready) String() string  { return "ready" }
func (d *ready) Proceed(f *Frame, cont ValueContinuation) int {
	return cont(f, d.v)
}

// failing raises when resolved.
type failing struct{}

func (failing) Kind() Kind      { return KindDeferred }
func (failing) IsMutable() bool { return false }
func (failing) String() string  { return "failing" }
func (failing) Proceed(f *Frame, cont ValueContinuation) int {
	return f.Throw(ExIllegalState, "boom")
}

// echoTwice resumes its continuation twice.
type echoTwice struct{ v Handle }

func (*echoTwice) Kind() Kind      { return KindDeferred }
func (*echoTwice) IsMutable() bool { return false }
func (*echoTwice) String() string  { return "twice" }
func (d *echoTwice) Proceed(f *Frame, cont ValueContinuation) int {
	cont(f, d.v)
	return cont(f, d.v)
}

func TestResolveArgs(t *testing.T) {
	rt, _ := newTestRuntime(t)
	f := testFrame(rt, poolMethod(rt, 1))

	calls := 0
	args := []Handle{Int(1), &ready{v: Int(2)}, &ready{v: &ready{v: Int(3)}}}
	r := ResolveArgs(f, args, func(f *Frame, vs []Handle) int {
		calls++
		for i, want := range []Handle{Int(1), Int(2), Int(3)} {
			if vs[i] != want {
				t.Errorf("arg %d = %v, want %v", i, vs[i], want)
			}
		}
		return RNext
	})
	if r != RNext || calls != 1 {
		t.Fatalf("result %s after %d calls", resultName(r), calls)
	}
}

func TestResolveArgsException(t *testing.T) {
	rt, _ := newTestRuntime(t)
	f := testFrame(rt, poolMethod(rt, 1))

	r := ResolveArgs(f, []Handle{Int(1), failing{}}, func(f *Frame, vs []Handle) int {
		t.Error("continuation must not run after an exception")
		return RNext
	})
	if r != RException || f.Exception == nil || f.Exception.Message != "boom" {
		t.Fatalf("result %s, exception %v", resultName(r), f.Exception)
	}
}

func TestResolveArgsRunsOnce(t *testing.T) {
	rt, _ := newTestRuntime(t)
	f := testFrame(rt, poolMethod(rt, 1))
	calls := 0
	wantInternal(t, func() {
		ResolveArgs(f, []Handle{&echoTwice{v: Int(1)}}, func(f *Frame, vs []Handle) int {
			calls++
			return RNext
		})
	})
	if calls != 1 {
		t.Errorf("continuation ran %d times", calls)
	}
}

func TestPendingFutureRepeatsWithoutSideEffects(t *testing.T) {
	rt, _ := newTestRuntime(t)
	f := testFrame(rt, poolMethod(rt, 2))
	fut := NewFuture()
	fv := &FutureVar{}
	if r := fv.Write(f, fut); r != RNext {
		t.Fatalf("storing a future: %s", resultName(r))
	}
	f.SetDynamic(0, fv)

	move := &Move{From: 0, To: 1}
	for i := 0; i < 2; i++ {
		f.fresh = true
		if r := move.Process(f, 0); r != RRepeat {
			t.Fatalf("pass %d: result %s, want R_REPEAT", i, resultName(r))
		}
		if f.Registers[1] != nil || len(f.Stack) != 0 || f.next != nil {
			t.Fatalf("pass %d: op had side effects", i)
		}
	}
	if !f.Fiber.Parked() {
		t.Fatal("fiber should be parked on the future")
	}

	fut.Complete(Int(9))
	f.fresh = true
	if r := move.Process(f, 0); r != RNext {
		t.Fatalf("after completion: result %s", resultName(r))
	}
	if f.Registers[1] != Int(9) {
		t.Errorf("r1 = %v, want 9", f.Registers[1])
	}
}

func TestPendingFutureAfterSideEffectUsesWaitFrame(t *testing.T) {
	rt, _ := newTestRuntime(t)
	f := testFrame(rt, poolMethod(rt, 2))
	fut := NewFuture()

	f.fresh = false
	if r := awaitFuture(f, fut, ReturnTo(1)); r != RCall {
		t.Fatalf("result %s, want R_CALL", resultName(r))
	}
	if f.next == nil || f.next.Method != awaitMethod {
		t.Fatal("expected a wait frame")
	}
	if f.Fiber.Parked() {
		t.Error("the caller frame should not park itself")
	}
}

func TestFutureCompletesOnce(t *testing.T) {
	fut := NewFuture()
	woken := 0
	fut.OnComplete(func() { woken++ })
	if !fut.Complete(Int(1)) {
		t.Fatal("first completion should win")
	}
	if fut.Complete(Int(2)) || fut.Fail(&ExceptionHandle{}) {
		t.Error("later completions must be rejected")
	}
	fut.OnComplete(func() { woken++ })
	if woken != 2 {
		t.Errorf("waiters ran %d times, want 2", woken)
	}
	if vs, ex := fut.Result(); ex != nil || vs[0] != Int(1) {
		t.Errorf("result = %v, %v", vs, ex)
	}
}
