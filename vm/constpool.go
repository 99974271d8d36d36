package vm

import (
	"sync"

	"github.com/chazu/xvm/module"
)

// ---------------------------------------------------------------------------
// ConstantPool: realized module constants
// ---------------------------------------------------------------------------

// ConstantPool realizes module constants on first use and caches them per
// index. Lazy constants run their initializer the first time they are
// resolved; until then Get returns a Deferred.
type ConstantPool struct {
	reg    *Registry
	consts []module.Constant

	mu     sync.Mutex
	values []Handle
}

// NewConstantPool creates a pool over consts resolving names through reg.
func NewConstantPool(reg *Registry, consts []module.Constant) *ConstantPool {
	return &ConstantPool{reg: reg, consts: consts, values: make([]Handle, len(consts))}
}

// Len returns the number of constants.
func (p *ConstantPool) Len() int { return len(p.consts) }

// Constant returns the raw constant at idx.
func (p *ConstantPool) Constant(idx int) module.Constant {
	if idx < 0 || idx >= len(p.consts) {
		internalf("constant %d out of range (pool size %d)", idx, len(p.consts))
	}
	return p.consts[idx]
}

func (p *ConstantPool) expect(idx int, kind module.ConstKind) module.Constant {
	c := p.Constant(idx)
	if c.Kind != kind {
		internalf("constant %d is %s, expected %s", idx, c.Kind, kind)
	}
	return c
}

// Signature returns the dispatch signature held by a signature constant.
func (p *ConstantPool) Signature(idx int) string {
	c := p.expect(idx, module.ConstSignature)
	return module.SignatureOf(c.Str, c.Params)
}

// Property returns the name held by a property constant.
func (p *ConstantPool) Property(idx int) string {
	return p.expect(idx, module.ConstProperty).Str
}

// Type returns the composition named by a class constant.
func (p *ConstantPool) Type(idx int) *Composition {
	h, ok := p.Get(idx).(*ClassHandle)
	if !ok {
		internalf("constant %d is not a class", idx)
	}
	return h.Type
}

// Get returns the value of constant idx, or a Deferred while it is still
// being produced.
func (p *ConstantPool) Get(idx int) Handle {
	c := p.Constant(idx)
	p.mu.Lock()
	v := p.values[idx]
	p.mu.Unlock()
	if v != nil {
		return v
	}
	v = p.realize(idx, c)
	if _, deferred := v.(Deferred); deferred {
		if c.Kind != module.ConstLazy {
			return v
		}
	}
	return p.settle(idx, v)
}

// settle caches v for idx unless a concrete value is already cached, and
// returns the cached value.
func (p *ConstantPool) settle(idx int, v Handle) Handle {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cur := p.values[idx]; cur != nil {
		if _, deferred := cur.(Deferred); !deferred {
			return cur
		}
		if _, deferred := v.(Deferred); deferred {
			return cur
		}
	}
	p.values[idx] = v
	return v
}

func (p *ConstantPool) realize(idx int, c module.Constant) Handle {
	switch c.Kind {
	case module.ConstNull:
		return Null
	case module.ConstBool:
		return Bool(c.Bool)
	case module.ConstInt:
		return Int(c.Int)
	case module.ConstChar:
		return Char(c.Char)
	case module.ConstString, module.ConstSignature, module.ConstProperty:
		return String(c.Str)
	case module.ConstLongLong:
		l, err := ParseLongLong(c.Str)
		if err != nil {
			internalf("constant %d: %v", idx, err)
		}
		return l
	case module.ConstWildcard:
		return Wildcard
	case module.ConstClass:
		cls := p.reg.Lookup(c.Str)
		if cls == nil {
			internalf("constant %d names unknown class %s", idx, c.Str)
		}
		return &ClassHandle{Type: p.reg.Compose(cls)}
	case module.ConstMethod:
		return NewFunction(p.method(idx, c.Class, module.SignatureOf(c.Method, c.Params)), nil)
	case module.ConstLazy:
		m := p.method(idx, c.Class, module.SignatureOf(c.Method, 0))
		return &DeferredCall{Method: m, Settle: func(v Handle) Handle { return p.settle(idx, v) }}
	case module.ConstRange:
		return p.composite(idx, []int{c.Low, c.High}, func(vs []Handle) Handle {
			return &Interval{Low: vs[0], High: vs[1]}
		})
	case module.ConstTuple:
		return p.composite(idx, c.Elems, func(vs []Handle) Handle { return NewTuple(vs...) })
	case module.ConstArray:
		return p.composite(idx, c.Elems, func(vs []Handle) Handle {
			a := ArrayOf(vs...)
			a.Freeze()
			return a
		})
	}
	internalf("constant %d has unknown kind %s", idx, c.Kind)
	return nil
}

func (p *ConstantPool) method(idx int, class, sig string) *Method {
	cls := p.reg.Lookup(class)
	if cls == nil {
		internalf("constant %d names unknown class %s", idx, class)
	}
	m := cls.Method(sig)
	if m == nil {
		internalf("constant %d names unknown method %s.%s", idx, class, sig)
	}
	return m
}

// composite builds a constant from member constants. When a member is
// still deferred the result is deferred too.
func (p *ConstantPool) composite(idx int, elems []int, build func([]Handle) Handle) Handle {
	vs := make([]Handle, len(elems))
	pending := false
	for i, e := range elems {
		vs[i] = p.Get(e)
		if _, ok := vs[i].(Deferred); ok {
			pending = true
		}
	}
	if !pending {
		return build(vs)
	}
	return &deferredConstant{pool: p, idx: idx, elems: vs, build: build}
}

// deferredConstant is a composite constant waiting on deferred members.
type deferredConstant struct {
	pool  *ConstantPool
	idx   int
	elems []Handle
	build func([]Handle) Handle
}

func (*deferredConstant) Kind() Kind      { return KindDeferred }
func (*deferredConstant) IsMutable() bool { return false }
func (d *deferredConstant) String() string {
	return "Deferred(" + d.pool.consts[d.idx].String() + ")"
}

func (d *deferredConstant) Proceed(f *Frame, cont ValueContinuation) int {
	elems := append([]Handle(nil), d.elems...)
	return ResolveArgs(f, elems, func(f *Frame, vs []Handle) int {
		return cont(f, d.pool.settle(d.idx, d.build(vs)))
	})
}
