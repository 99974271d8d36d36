package vm

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestAtomicReplaceHasOneWinner(t *testing.T) {
	rt, _ := newTestRuntime(t)
	a := NewAtomic(Int(0))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			f := testFrame(rt, poolMethod(rt, 1))
			a.Replace(f, Int(0), Int(i+1), func(f *Frame, ok bool) int {
				if ok {
					wins.Add(1)
				}
				return RNext
			})
		}(i)
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Fatalf("%d replacements succeeded, want 1", wins.Load())
	}
	if v, _ := a.Get(); v == Int(0) {
		t.Error("atomic should hold the winner's value")
	}
}

func TestAtomicCompareAndSwap(t *testing.T) {
	a := NewAtomic(String("a"))
	if a.CompareAndSwap(String("b"), String("c")) {
		t.Error("CAS with a stale expectation should fail")
	}
	if !a.CompareAndSwap(String("a"), String("c")) {
		t.Error("CAS with the current value should succeed")
	}
	if old, ok := a.Exchange(String("d")); !ok || old != String("c") {
		t.Errorf("Exchange returned %v, %t", old, ok)
	}
	empty := NewAtomic(nil)
	if empty.CompareAndSwap(Null, Int(1)) {
		t.Error("an unassigned atomic never matches")
	}
}

func TestAtomicRejectsMutableValues(t *testing.T) {
	rt, _ := newTestRuntime(t)
	f := testFrame(rt, poolMethod(rt, 1))
	a := NewAtomic(nil)
	if r := a.Write(f, ArrayOf()); r != RException || f.Exception.Class.Name != ExNotShareable {
		t.Fatalf("result %s, exception %v", resultName(r), f.Exception)
	}
	if _, ok := a.Get(); ok {
		t.Error("a rejected write must leave the atomic unassigned")
	}
}

func TestVarReadUnassigned(t *testing.T) {
	rt, _ := newTestRuntime(t)
	f := testFrame(rt, poolMethod(rt, 1))
	f.SetDynamic(0, NewVar(nil))
	if _, ex := f.Arg(0); ex == nil || ex.Class.Name != ExUnassignedReference {
		t.Fatalf("exception = %v", ex)
	}
	if r := f.Assign(0, Int(4)); r != RNext {
		t.Fatal(resultName(r))
	}
	if v, _ := f.Arg(0); v != Int(4) {
		t.Errorf("read %v, want 4", v)
	}
}

func TestAlarmCancelRace(t *testing.T) {
	rt, _ := newTestRuntime(t)
	svc := newService(rt, "alarms")

	fired := 0
	for i := 0; i < 200; i++ {
		a := svc.Schedule(time.Duration(i%3)*time.Microsecond, func() {})
		if i%2 == 0 {
			time.Sleep(time.Duration(i%5) * time.Microsecond)
		}
		cancelled := a.Cancel()
		if cancelled == a.Fired() {
			t.Fatalf("alarm %d: cancelled=%t fired=%t", i, cancelled, a.Fired())
		}
		if !cancelled {
			fired++
		}
		if a.Cancel() {
			t.Fatalf("alarm %d cancelled twice", i)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		svc.mu.Lock()
		n := len(svc.mailbox)
		svc.mu.Unlock()
		if n == fired {
			break
		}
		if n > fired || time.Now().After(deadline) {
			t.Fatalf("%d alarm messages for %d fired alarms", n, fired)
		}
		time.Sleep(time.Millisecond)
	}
}
