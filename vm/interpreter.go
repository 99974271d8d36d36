package vm

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/chazu/xvm/module"
)

// ---------------------------------------------------------------------------
// Fiber: a cooperative thread of execution inside a service
// ---------------------------------------------------------------------------

// Fiber runs one call to completion on its service. Fibers of a service
// interleave only where one parks on a future or exhausts its op budget.
type Fiber struct {
	ID      uuid.UUID
	Service *Service

	frame    *Frame
	parkedOn *FutureHandle
	future   *FutureHandle
	shared   bool // results leave the service and must be shareable
	repeats  int
	failure  *InternalError

	entry     *Method
	entryThis Handle
	entryArgs []Handle
	chain     *CallChain
}

// enterMethod is the bottom frame of every fiber. It calls the entry method
// with its results packed into register 0 and returns them unpacked.
var enterMethod = &Method{Name: "enter", MaxVars: 1, Returns: -1, Ops: []Op{enterOp{}, leaveOp{}}}

func newFiber(svc *Service, m *Method, this Handle, args []Handle, chain *CallChain, fut *FutureHandle) *Fiber {
	fb := &Fiber{
		ID:        uuid.New(),
		Service:   svc,
		future:    fut,
		entry:     m,
		entryThis: this,
		entryArgs: args,
		chain:     chain,
	}
	fb.frame = &Frame{
		Fiber:     fb,
		Method:    enterMethod,
		Ops:       enterMethod.Ops,
		Registers: make([]Handle, 1),
		level:     0,
	}
	return fb
}

type enterOp struct{}

func (enterOp) Opcode() Opcode { return opAwait }
func (enterOp) Encode(w *module.PackedWriter) {}
func (enterOp) String() string { return "Enter" }
func (enterOp) Process(f *Frame, ip int) int {
	fb := f.Fiber
	return f.Invoke(fb.entry, fb.entryThis, fb.entryArgs, ReturnAsTuple(0), fb.chain, 0)
}

type leaveOp struct{}

func (leaveOp) Opcode() Opcode { return opAwait }
func (leaveOp) Encode(w *module.PackedWriter) {}
func (leaveOp) String() string { return "Leave" }
func (leaveOp) Process(f *Frame, ip int) int {
	// Void entries leave the result register unassigned.
	t, ok := f.Registers[0].(*TupleHandle)
	if !ok {
		return f.ReturnValues()
	}
	return f.ReturnValues(t.values...)
}

// park suspends the fiber until fut completes.
func (fb *Fiber) park(fut *FutureHandle) {
	if fb.parkedOn == fut {
		return
	}
	fb.parkedOn = fut
	svc := fb.Service
	fut.OnComplete(func() { svc.post(wakeMessage{fiber: fb}) })
}

// Parked reports whether the fiber waits on a future.
func (fb *Fiber) Parked() bool { return fb.parkedOn != nil }

// Done reports whether the fiber has finished.
func (fb *Fiber) Done() bool { return fb.frame == nil }

// run executes up to budget ops. It returns when the fiber finishes, parks
// or exhausts the budget; budget <= 0 means no limit.
func (fb *Fiber) run(budget int) {
	defer func() {
		if r := recover(); r != nil {
			ie, ok := r.(*InternalError)
			if !ok {
				ie = &InternalError{Msg: fmt.Sprint(r)}
			}
			if f := fb.frame; f != nil && ie.Method == "" {
				ie.Method = f.Method.String()
				ie.IP = f.IP
			}
			fb.fail(ie)
		}
	}()
	for n := 0; fb.frame != nil && fb.parkedOn == nil; n++ {
		if budget > 0 && n >= budget {
			return
		}
		f := fb.frame
		if f.IP < 0 || f.IP >= len(f.Ops) {
			internalf("ip %d outside %s (%d ops)", f.IP, f.Method, len(f.Ops))
		}
		f.fresh = true
		fb.step(f, f.Ops[f.IP].Process(f, f.IP))
	}
}

// step applies the result code r produced in frame f.
func (fb *Fiber) step(f *Frame, r int) {
	for {
		switch {
		case r >= 0:
			f.IP = r
			fb.repeats = 0
			return
		case r == RNext:
			f.IP++
			fb.repeats = 0
			return
		case r == RRepeat:
			if fb.parkedOn != nil {
				return
			}
			fb.repeats++
			if limit := fb.Service.rt.maxRepeat; limit > 0 && fb.repeats > limit {
				internalf("%s repeated %d times without progress", f.Ops[f.IP], fb.repeats)
			}
			return
		case r == RCall:
			child := f.next
			f.next = nil
			if child == nil {
				internalf("%s returned R_CALL without a callee", f.Method)
			}
			fb.frame = child
			fb.repeats = 0
			return
		case r == RReturn:
			caller := f.Caller
			fb.frame = caller
			if caller == nil {
				fb.finish(f.results, nil)
				return
			}
			r = caller.resume(f)
			f = caller
		case r == RException:
			if f.Exception == nil {
				internalf("%s raised without an exception", f.Method)
			}
			if f.handleException() {
				return
			}
			ex := f.Exception
			f.Exception = nil
			if f.Method != awaitMethod && f.Method != enterMethod {
				ex.Trace = append(ex.Trace, fmt.Sprintf("%s@%d", f.Method, f.IP))
			}
			caller := f.Caller
			fb.frame = caller
			if caller == nil {
				fb.finish(nil, ex)
				return
			}
			caller.Exception = ex
			f = caller
		default:
			internalf("invalid result code %s", resultName(r))
		}
	}
}

func (fb *Fiber) finish(values []Handle, ex *ExceptionHandle) {
	fb.frame = nil
	if ex != nil {
		fb.Service.log.Debugf("fiber %s ended with %s", fb.ID, ex)
		fb.future.Fail(ex)
		return
	}
	if fb.shared {
		for _, v := range values {
			if !Shareable(v) {
				c := fb.Service.rt.Registry.Lookup(ExNotShareable)
				fb.future.Fail(NewException(c, fmt.Sprintf("%s returned a mutable %s", fb.entry, fb.Service.rt.Registry.ClassOf(v).Name)))
				return
			}
		}
	}
	fb.future.Complete(values...)
}

func (fb *Fiber) fail(ie *InternalError) {
	fb.frame = nil
	fb.failure = ie
	fb.Service.log.Errorf("fiber %s: %s", fb.ID, ie)
	fb.future.Abort(ie)
}
