package vm

import "fmt"

// ---------------------------------------------------------------------------
// Returns: where a callee's results land in the caller
// ---------------------------------------------------------------------------

// ReturnKind selects how results are assigned in the caller.
type ReturnKind uint8

const (
	// ReturnSingle assigns the first result to one register.
	ReturnSingle ReturnKind = iota
	// ReturnMulti assigns results to registers positionally.
	ReturnMulti
	// ReturnTuple packs every result into one tuple.
	ReturnTuple
)

// Returns describes the return destinations of a call.
type Returns struct {
	Kind ReturnKind
	Regs []int
}

// ReturnTo delivers a single result to reg.
func ReturnTo(reg int) Returns { return Returns{Kind: ReturnSingle, Regs: []int{reg}} }

// ReturnAll delivers results to regs.
func ReturnAll(regs ...int) Returns { return Returns{Kind: ReturnMulti, Regs: regs} }

// ReturnAsTuple delivers all results packed into a tuple in reg.
func ReturnAsTuple(reg int) Returns { return Returns{Kind: ReturnTuple, Regs: []int{reg}} }

// ReturnNone discards every result.
var ReturnNone = ReturnTo(AIgnore)

// Count returns the number of results the destination consumes.
func (r Returns) Count() int {
	switch r.Kind {
	case ReturnSingle:
		if r.Regs[0] == AIgnore {
			return 0
		}
		return 1
	case ReturnMulti:
		return len(r.Regs)
	}
	return 0
}

// Accepts reports whether a callee declaring n results can serve r.
func (r Returns) Accepts(n int) bool { return r.Count() <= n }

// ---------------------------------------------------------------------------
// Guards
// ---------------------------------------------------------------------------

// Catch is one handler of a guard. A nil Class catches every exception.
type Catch struct {
	Class   *Class
	Reg     int
	Handler int
}

// Guard protects the ops in [Start, End).
type Guard struct {
	Start   int
	End     int
	Catches []Catch
}

// ---------------------------------------------------------------------------
// Frame: execution state of one method invocation
// ---------------------------------------------------------------------------

// Continuation resumes work in a frame after a callee returned.
type Continuation func(f *Frame) int

// ValueContinuation receives a resolved value.
type ValueContinuation func(f *Frame, v Handle) int

// Frame is the execution state of a single method invocation.
type Frame struct {
	Fiber     *Fiber
	Method    *Method
	Ops       []Op
	Pool      *ConstantPool
	This      Handle
	Registers []Handle
	Stack     []Handle
	IP        int
	Chain     *CallChain
	Depth     int // position of Method in Chain
	Guards    []*Guard
	Exception *ExceptionHandle
	Caller    *Frame

	dynamic []bool
	ret     Returns // destinations in Caller
	results []Handle
	cont    Continuation // runs in Caller after results are delivered
	next    *Frame       // callee pushed by the current op
	level   int
	fresh   bool // no side effect yet in the current op execution
}

// NewFrame creates a callee frame for m. Registers start with args; missing
// and A_DEFAULT arguments stay unassigned.
func (f *Frame) NewFrame(m *Method, this Handle, args []Handle, ret Returns) *Frame {
	n := m.MaxVars
	if n < len(args) {
		n = len(args)
	}
	child := &Frame{
		Fiber:     f.Fiber,
		Method:    m,
		Ops:       m.Ops,
		Pool:      m.Pool,
		This:      this,
		Registers: make([]Handle, n),
		Caller:    f,
		ret:       ret,
		level:     f.level + 1,
	}
	copy(child.Registers, args)
	return child
}

// Runtime returns the runtime executing the frame.
func (f *Frame) Runtime() *Runtime { return f.Fiber.Service.rt }

// Registry returns the runtime's class registry.
func (f *Frame) Registry() *Registry { return f.Fiber.Service.rt.Registry }

// Service returns the service executing the frame.
func (f *Frame) Service() *Service { return f.Fiber.Service }

// Level returns the call depth of the frame, 1 for the fiber's bottom frame.
func (f *Frame) Level() int { return f.level }

// Call schedules child to run next. The current op is resumed through the
// child's continuations once it returns.
func (f *Frame) Call(child *Frame) int {
	f.fresh = false
	if limit := f.Runtime().maxDepth; limit > 0 && child.level > limit {
		return f.Throw(ExStackOverflow, "call depth exceeds %d", limit)
	}
	f.next = child
	return RCall
}

// Invoke calls m with an explicit target, chain position and destinations.
// Native methods run immediately without a frame.
func (f *Frame) Invoke(m *Method, this Handle, args []Handle, ret Returns, chain *CallChain, depth int) int {
	if len(args) != m.Params {
		return f.Throw(ExArityMismatch, "%s expects %d arguments, got %d", m, m.Params, len(args))
	}
	if !ret.Accepts(m.Returns) {
		return f.Throw(ExArityMismatch, "%s returns %d values, %d expected", m, m.Returns, ret.Count())
	}
	if m.IsAbstract() {
		return f.Throw(ExIllegalState, "%s is abstract", m)
	}
	f.fresh = false
	if m.Native != nil {
		return m.Native(f, this, args, ret)
	}
	child := f.NewFrame(m, this, args, ret)
	child.Chain = chain
	child.Depth = depth
	return f.Call(child)
}

// Then runs cont after an operation that produced r completes normally,
// either immediately or once the callee it pushed has returned.
func (f *Frame) Then(r int, cont Continuation) int {
	switch r {
	case RNext:
		return cont(f)
	case RCall:
		f.next.AddContinuation(cont)
		return RCall
	}
	return r
}

// AddContinuation appends c to the work run in the caller when f returns.
func (f *Frame) AddContinuation(c Continuation) {
	if f.cont == nil {
		f.cont = c
		return
	}
	first := f.cont
	f.cont = func(caller *Frame) int {
		return caller.Then(first(caller), c)
	}
}

// resume delivers child's results and runs its continuations.
func (f *Frame) resume(child *Frame) int {
	f.fresh = false
	r := f.AssignReturns(child.ret, child.results...)
	if child.cont == nil {
		return r
	}
	return f.Then(r, child.cont)
}

// ReturnValues completes the frame with values.
func (f *Frame) ReturnValues(values ...Handle) int {
	f.results = values
	return RReturn
}

// ---------------------------------------------------------------------------
// Operand access
// ---------------------------------------------------------------------------

// Arg reads one operand. The result may be a Deferred; A_DEFAULT reads as nil.
func (f *Frame) Arg(arg int) (Handle, *ExceptionHandle) {
	switch {
	case arg >= 0:
		if arg >= len(f.Registers) {
			internalf("register %d out of range in %s", arg, f.Method)
		}
		v := f.Registers[arg]
		if f.isDynamic(arg) {
			return v.(Ref).Read(f)
		}
		if v == nil {
			return nil, f.NewException(ExUnassignedReference, "Unassigned reference")
		}
		return v, nil
	case arg == AStack:
		return f.Pop(), nil
	case arg == AThis:
		if f.This == nil {
			internalf("no target in %s", f.Method)
		}
		return f.This, nil
	case arg == ADefault:
		return nil, nil
	case IsConstant(arg):
		return f.Pool.Get(ConstIndex(arg)), nil
	}
	internalf("invalid operand %d", arg)
	return nil, nil
}

// Args reads operands left to right.
func (f *Frame) Args(args []int) ([]Handle, *ExceptionHandle) {
	out := make([]Handle, len(args))
	for i, a := range args {
		v, ex := f.Arg(a)
		if ex != nil {
			return nil, ex
		}
		out[i] = v
	}
	return out, nil
}

// Assign stores v into the destination operand, resolving deferred values
// and waiting on futures first.
func (f *Frame) Assign(reg int, v Handle) int {
	if d, ok := v.(Deferred); ok {
		return d.Proceed(f, func(f *Frame, v Handle) int {
			return f.Assign(reg, v)
		})
	}
	if reg >= 0 && f.isDynamic(reg) {
		ref := f.Registers[reg].(Ref)
		if _, isFuture := ref.(*FutureVar); !isFuture {
			if fut, ok := v.(*FutureHandle); ok {
				return awaitFuture(f, fut, ReturnTo(reg))
			}
		}
		return ref.Write(f, v)
	}
	if fut, ok := v.(*FutureHandle); ok {
		return awaitFuture(f, fut, ReturnTo(reg))
	}
	switch {
	case reg >= 0:
		if reg >= len(f.Registers) {
			internalf("register %d out of range in %s", reg, f.Method)
		}
		f.Registers[reg] = v
	case reg == AStack:
		f.Push(v)
	case reg == AIgnore:
	default:
		internalf("invalid destination %d", reg)
	}
	return RNext
}

// AssignValues assigns values to regs in order.
func (f *Frame) AssignValues(regs []int, values []Handle) int {
	for i, reg := range regs {
		var v Handle = Null
		if i < len(values) {
			v = values[i]
		}
		switch r := f.Assign(reg, v); r {
		case RNext:
		case RCall:
			rest := i + 1
			f.next.AddContinuation(func(f *Frame) int {
				return f.AssignValues(regs[rest:], values[rest:])
			})
			return RCall
		default:
			return r
		}
	}
	return RNext
}

// AssignReturns delivers values to the destinations described by ret.
func (f *Frame) AssignReturns(ret Returns, values ...Handle) int {
	switch ret.Kind {
	case ReturnSingle:
		if ret.Regs[0] == AIgnore || len(values) == 0 {
			return RNext
		}
		return f.Assign(ret.Regs[0], values[0])
	case ReturnMulti:
		return f.AssignValues(ret.Regs, values)
	case ReturnTuple:
		return ResolveArgs(f, values, func(f *Frame, values []Handle) int {
			return f.Assign(ret.Regs[0], NewTuple(values...))
		})
	}
	internalf("invalid return kind %d", ret.Kind)
	return RNext
}

// SetDynamic binds reg to a reference; reads and writes of reg go through it.
func (f *Frame) SetDynamic(reg int, ref Ref) {
	if reg < 0 || reg >= len(f.Registers) {
		internalf("dynamic register %d out of range in %s", reg, f.Method)
	}
	if f.dynamic == nil {
		f.dynamic = make([]bool, len(f.Registers))
	}
	f.Registers[reg] = ref
	f.dynamic[reg] = true
}

// SetRegister stores v directly, dropping any dynamic binding.
func (f *Frame) SetRegister(reg int, v Handle) {
	if f.dynamic != nil {
		f.dynamic[reg] = false
	}
	f.Registers[reg] = v
}

func (f *Frame) isDynamic(reg int) bool {
	return f.dynamic != nil && f.dynamic[reg]
}

// Push pushes v on the operand stack.
func (f *Frame) Push(v Handle) {
	f.Stack = append(f.Stack, v)
}

// Pop pops the operand stack.
func (f *Frame) Pop() Handle {
	n := len(f.Stack)
	if n == 0 {
		internalf("operand stack underflow in %s", f.Method)
	}
	f.fresh = false
	v := f.Stack[n-1]
	f.Stack[n-1] = nil
	f.Stack = f.Stack[:n-1]
	return v
}

// ---------------------------------------------------------------------------
// Exceptions
// ---------------------------------------------------------------------------

// NewException creates an exception of the named built-in class.
func (f *Frame) NewException(class, format string, args ...any) *ExceptionHandle {
	c := f.Registry().Lookup(class)
	if c == nil {
		internalf("unknown exception class %s", class)
	}
	return NewException(c, fmt.Sprintf(format, args...))
}

// Raise sets the frame's pending exception.
func (f *Frame) Raise(ex *ExceptionHandle) int {
	f.Exception = ex
	return RException
}

// Throw raises a new exception of the named built-in class.
func (f *Frame) Throw(class, format string, args ...any) int {
	return f.Raise(f.NewException(class, format, args...))
}

// PushGuard installs a guard.
func (f *Frame) PushGuard(g *Guard) {
	f.Guards = append(f.Guards, g)
}

// PopGuard removes the innermost guard.
func (f *Frame) PopGuard() {
	if len(f.Guards) == 0 {
		internalf("guard stack underflow in %s", f.Method)
	}
	f.Guards = f.Guards[:len(f.Guards)-1]
}

// trimGuards drops guards left behind by a jump out of their range. Every
// guard still enclosing ip covers it, counting the op just past its end
// where GuardEnd may sit.
func (f *Frame) trimGuards(ip int) {
	for n := len(f.Guards); n > 0; n-- {
		if g := f.Guards[n-1]; ip >= g.Start && ip <= g.End {
			return
		}
		f.Guards = f.Guards[:n-1]
	}
}

// handleException looks for a guard covering the current ip whose catch
// matches the pending exception, innermost first. On a match the guard and
// all guards inside it are removed and the ip moves to the handler.
func (f *Frame) handleException() bool {
	ex := f.Exception
	reg := f.Registry()
	for i := len(f.Guards) - 1; i >= 0; i-- {
		g := f.Guards[i]
		if f.IP < g.Start || f.IP >= g.End {
			continue
		}
		for _, c := range g.Catches {
			if c.Class != nil && !reg.IsA(ex.Class, c.Class) {
				continue
			}
			f.Guards = f.Guards[:i]
			f.Exception = nil
			if c.Reg >= 0 {
				f.SetRegister(c.Reg, ex)
			}
			f.IP = c.Handler
			return true
		}
	}
	return false
}
