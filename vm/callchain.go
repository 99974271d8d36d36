package vm

import "github.com/chazu/xvm/module"

// ---------------------------------------------------------------------------
// CallChain: ordered method sequence for a (class, signature) pair
// ---------------------------------------------------------------------------

// PropertyAccess selects the getter or setter chain of a property.
type PropertyAccess uint8

const (
	AccessGet PropertyAccess = iota
	AccessSet
)

// CallChain lists the implementations of one signature for a class, most
// derived first. Chains are built once per (class, signature) and shared
// read-only afterwards.
type CallChain struct {
	Signature string
	Methods   []*Method

	// Property chains carry the property and access direction. A property
	// chain without methods is a native field access.
	Property *Property
	Access   PropertyAccess
}

// Top returns the most derived implementation, or nil.
func (c *CallChain) Top() *Method {
	if c == nil || len(c.Methods) == 0 {
		return nil
	}
	return c.Methods[0]
}

// Super returns the implementation following depth, or nil at the end of
// the chain.
func (c *CallChain) Super(depth int) *Method {
	if c == nil || depth+1 >= len(c.Methods) {
		return nil
	}
	return c.Methods[depth+1]
}

// IsNative reports whether the chain resolves without running user code.
func (c *CallChain) IsNative() bool {
	if len(c.Methods) == 0 {
		return true
	}
	return c.Methods[0].IsNative()
}

// Chain returns the call chain for sig on class c, or nil when no concrete
// implementation exists anywhere in the hierarchy.
func (r *Registry) Chain(c *Class, sig string) *CallChain {
	key := chainKey{class: c.id, sig: sig}
	r.mu.RLock()
	chain, ok := r.chains[key]
	r.mu.RUnlock()
	if ok {
		return chain
	}

	var methods []*Method
	seen := make(map[*Class]bool)
	var visitIface func(i *Class)
	visitIface = func(i *Class) {
		if seen[i] {
			return
		}
		seen[i] = true
		if m := i.Methods[sig]; m != nil && !m.IsAbstract() {
			methods = append(methods, m)
		}
		for _, s := range i.Interfaces {
			visitIface(s)
		}
	}
	for k := c; k != nil; k = k.Super {
		seen[k] = true
		if m := k.Methods[sig]; m != nil && !m.IsAbstract() {
			methods = append(methods, m)
		}
	}
	// Interface default methods come after every class implementation.
	for k := c; k != nil; k = k.Super {
		for _, i := range k.Interfaces {
			visitIface(i)
		}
	}
	if len(methods) > 0 {
		chain = &CallChain{Signature: sig, Methods: methods}
	}

	r.mu.Lock()
	r.chains[key] = chain
	r.mu.Unlock()
	return chain
}

// PropertyChain returns the accessor chain for prop on class c. A declared
// property without accessors, or a plain field, yields a chain with no
// methods. nil means c has no such property.
func (r *Registry) PropertyChain(c *Class, prop string, access PropertyAccess) *CallChain {
	key := chainKey{class: c.id, sig: prop, access: access, prop: true}
	r.mu.RLock()
	chain, ok := r.chains[key]
	r.mu.RUnlock()
	if ok {
		return chain
	}

	var decl *Property
	var methods []*Method
	for k := c; k != nil; k = k.Super {
		p := k.Properties[prop]
		if p == nil {
			continue
		}
		if decl == nil {
			decl = p
		}
		name, params := p.Getter, 0
		if access == AccessSet {
			name, params = p.Setter, 1
		}
		if name == "" {
			continue
		}
		if m := k.Methods[module.SignatureOf(name, params)]; m != nil && !m.IsAbstract() {
			methods = append(methods, m)
		}
	}
	switch {
	case decl != nil:
		chain = &CallChain{Signature: prop, Methods: methods, Property: decl, Access: access}
	case c.HasField(prop):
		chain = &CallChain{Signature: prop, Property: &Property{Name: prop}, Access: access}
	}

	r.mu.Lock()
	r.chains[key] = chain
	r.mu.Unlock()
	return chain
}
