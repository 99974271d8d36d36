package vm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// ---------------------------------------------------------------------------
// Runtime: registry, natives and the services executing code
// ---------------------------------------------------------------------------

// Defaults for runtime limits.
const (
	DefaultMaxDepth  = 10000
	DefaultQueueSize = 64
	DefaultMaxRepeat = 1000
	DefaultBudget    = 10000
)

// ErrRunning is returned by Run while another Run is in progress.
var ErrRunning = errors.New("runtime is already running")

// Option configures a Runtime.
type Option func(*Runtime)

// WithMaxDepth limits the frame depth of a fiber.
func WithMaxDepth(n int) Option { return func(rt *Runtime) { rt.maxDepth = n } }

// WithQueueSize sets the initial mailbox capacity of services.
func WithQueueSize(n int) Option { return func(rt *Runtime) { rt.queueSize = n } }

// WithMaxRepeat limits how often an op may repeat without progress before
// it is treated as an internal error.
func WithMaxRepeat(n int) Option { return func(rt *Runtime) { rt.maxRepeat = n } }

// WithBudget sets how many ops a fiber runs before yielding to others.
func WithBudget(n int) Option { return func(rt *Runtime) { rt.budget = n } }

// WithOutput redirects Console output.
func WithOutput(w io.Writer) Option { return func(rt *Runtime) { rt.out = w } }

// Runtime holds everything shared by the services of one program.
type Runtime struct {
	Registry *Registry

	maxDepth  int
	queueSize int
	maxRepeat int
	budget    int

	outMu sync.Mutex
	out   io.Writer

	natives map[nativeKey]NativeFunc

	mu        sync.Mutex
	services  map[uuid.UUID]*Service
	accessors map[accessorKey]*Method
	group     *errgroup.Group
	gctx      context.Context
	stopping  bool
}

// NewRuntime creates a runtime with the built-in classes registered.
func NewRuntime(opts ...Option) *Runtime {
	rt := &Runtime{
		Registry:  NewRegistry(),
		maxDepth:  DefaultMaxDepth,
		queueSize: DefaultQueueSize,
		maxRepeat: DefaultMaxRepeat,
		budget:    DefaultBudget,
		out:       os.Stdout,
		natives:   make(map[nativeKey]NativeFunc),
		services:  make(map[uuid.UUID]*Service),
		accessors: make(map[accessorKey]*Method),
	}
	for _, opt := range opts {
		opt(rt)
	}
	bootstrap(rt)
	return rt
}

// Result is the outcome of Run: the entry method's values, or the exception
// that escaped it.
type Result struct {
	Values    []Handle
	Exception *ExceptionHandle
}

// Run executes entry on a fresh main service and returns once it completes.
// Every service started meanwhile is stopped before Run returns. Internal
// errors and context cancellation are returned as errors.
func (rt *Runtime) Run(ctx context.Context, entry *Method, args ...Handle) (*Result, error) {
	if !entry.Static {
		return nil, fmt.Errorf("entry %s is not static", entry)
	}
	g, gctx := errgroup.WithContext(ctx)
	rt.mu.Lock()
	if rt.group != nil {
		rt.mu.Unlock()
		return nil, ErrRunning
	}
	rt.group, rt.gctx, rt.stopping = g, gctx, false
	rt.mu.Unlock()

	main, err := rt.spawn("main")
	if err != nil {
		return nil, err
	}
	fut := NewFuture()
	done := make(chan struct{})
	fut.OnComplete(func() { close(done) })
	main.post(callMessage{method: entry, args: args, future: fut, local: true})

	select {
	case <-done:
	case <-gctx.Done():
	}
	rt.shutdown()
	werr := g.Wait()

	rt.mu.Lock()
	rt.group, rt.gctx = nil, nil
	rt.mu.Unlock()

	if werr != nil {
		return nil, werr
	}
	if !fut.Done() {
		return nil, ctx.Err()
	}
	if err := fut.Err(); err != nil {
		return nil, err
	}
	values, ex := fut.Result()
	return &Result{Values: values, Exception: ex}, nil
}

// spawn starts a new service while a Run is in progress.
func (rt *Runtime) spawn(name string) (*Service, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.group == nil || rt.stopping {
		return nil, fmt.Errorf("cannot start service %s: runtime is not running", name)
	}
	svc := newService(rt, name)
	rt.services[svc.ID] = svc
	ctx := rt.gctx
	rt.group.Go(func() error {
		return svc.loop(ctx)
	})
	return svc, nil
}

func (rt *Runtime) shutdown() {
	rt.mu.Lock()
	rt.stopping = true
	services := make([]*Service, 0, len(rt.services))
	for id, svc := range rt.services {
		services = append(services, svc)
		delete(rt.services, id)
	}
	rt.mu.Unlock()
	for _, svc := range services {
		svc.stop()
	}
}

// Services returns the number of services currently running.
func (rt *Runtime) Services() int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return len(rt.services)
}

// print writes a line of Console output.
func (rt *Runtime) print(s string) {
	rt.outMu.Lock()
	defer rt.outMu.Unlock()
	fmt.Fprintln(rt.out, s)
}
