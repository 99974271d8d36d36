package vm

import (
	"context"
	"sync"
)

// ---------------------------------------------------------------------------
// FutureHandle: a value produced asynchronously
// ---------------------------------------------------------------------------

// FutureHandle completes once with values, an exception, or an internal
// error. Futures are shareable across services.
type FutureHandle struct {
	mu      sync.Mutex
	done    bool
	values  []Handle
	ex      *ExceptionHandle
	err     error
	waiters []func()
}

// NewFuture creates a pending future.
func NewFuture() *FutureHandle { return &FutureHandle{} }

func (*FutureHandle) Kind() Kind      { return KindFuture }
func (*FutureHandle) IsMutable() bool { return false }
func (fut *FutureHandle) String() string {
	if fut.Done() {
		return "Future(done)"
	}
	return "Future(pending)"
}

// Done reports whether the future has completed.
func (fut *FutureHandle) Done() bool {
	fut.mu.Lock()
	defer fut.mu.Unlock()
	return fut.done
}

// Result returns the completed values or exception.
func (fut *FutureHandle) Result() ([]Handle, *ExceptionHandle) {
	fut.mu.Lock()
	defer fut.mu.Unlock()
	return fut.values, fut.ex
}

// Err returns the internal error the future was aborted with, if any.
func (fut *FutureHandle) Err() error {
	fut.mu.Lock()
	defer fut.mu.Unlock()
	return fut.err
}

// Complete resolves the future with values. It reports false if the future
// had already completed.
func (fut *FutureHandle) Complete(values ...Handle) bool {
	return fut.settle(func() { fut.values = values })
}

// Fail resolves the future with an exception.
func (fut *FutureHandle) Fail(ex *ExceptionHandle) bool {
	return fut.settle(func() { fut.ex = ex })
}

// Abort resolves the future with an internal error.
func (fut *FutureHandle) Abort(err error) bool {
	return fut.settle(func() { fut.err = err })
}

func (fut *FutureHandle) settle(set func()) bool {
	fut.mu.Lock()
	if fut.done {
		fut.mu.Unlock()
		return false
	}
	set()
	fut.done = true
	waiters := fut.waiters
	fut.waiters = nil
	fut.mu.Unlock()
	for _, w := range waiters {
		w()
	}
	return true
}

// OnComplete registers fn to run once the future completes; fn runs
// immediately if it already has. fn must not block.
func (fut *FutureHandle) OnComplete(fn func()) {
	fut.mu.Lock()
	if !fut.done {
		fut.waiters = append(fut.waiters, fn)
		fut.mu.Unlock()
		return
	}
	fut.mu.Unlock()
	fn()
}

// Wait blocks the calling goroutine until the future completes or ctx is
// done. It is meant for host code, never for fibers.
func (fut *FutureHandle) Wait(ctx context.Context) ([]Handle, *ExceptionHandle, error) {
	ch := make(chan struct{})
	fut.OnComplete(func() { close(ch) })
	select {
	case <-ch:
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
	values, ex := fut.Result()
	return values, ex, fut.Err()
}
