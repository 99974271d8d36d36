package vm

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/chazu/xvm/module"
	"github.com/tliron/commonlog"
)

// ---------------------------------------------------------------------------
// Loader: module data to runnable classes
// ---------------------------------------------------------------------------

var log = commonlog.GetLogger("xvm.vm")

// ErrNoSuchMethod is returned by Image.Lookup for unknown methods.
var ErrNoSuchMethod = errors.New("no such method")

// Image is a module loaded into a runtime.
type Image struct {
	Module  *module.Module
	Pool    *ConstantPool
	Classes []*Class

	rt *Runtime
}

// Load validates m, defines its classes in the runtime registry and decodes
// every method. Nothing is registered unless the whole module loads.
func (rt *Runtime) Load(m *module.Module) (*Image, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	reg := rt.Registry
	for _, mc := range m.Classes {
		if reg.Lookup(mc.Name) != nil {
			return nil, fmt.Errorf("module %s: %w: %s", m.Name, ErrDuplicateClass, mc.Name)
		}
	}

	img := &Image{Module: m, Pool: NewConstantPool(reg, m.Constants), rt: rt}
	byName := make(map[string]*Class, len(m.Classes))
	for _, mc := range m.Classes {
		kind, err := ClassKindOf(mc.Kind)
		if err != nil {
			return nil, fmt.Errorf("module %s: class %s: %w", m.Name, mc.Name, err)
		}
		c := NewClass(mc.Name, kind, nil)
		c.TypeParams = mc.TypeParams
		c.Fields = mc.Fields
		for _, p := range mc.Properties {
			c.Properties[p.Name] = &Property{Name: p.Name, Getter: p.Getter, Setter: p.Setter}
		}
		byName[mc.Name] = c
		img.Classes = append(img.Classes, c)
	}
	resolve := func(name string) *Class {
		if c, ok := byName[name]; ok {
			return c
		}
		return reg.Lookup(name)
	}

	for i, mc := range m.Classes {
		c := img.Classes[i]
		if mc.Extends != "" {
			super := resolve(mc.Extends)
			if super == nil {
				return nil, fmt.Errorf("module %s: class %s extends unknown class %s", m.Name, mc.Name, mc.Extends)
			}
			if super.Kind == InterfaceClass {
				return nil, fmt.Errorf("module %s: class %s cannot extend interface %s", m.Name, mc.Name, mc.Extends)
			}
			c.Super = super
		}
		for _, name := range mc.Implements {
			iface := resolve(name)
			if iface == nil {
				return nil, fmt.Errorf("module %s: class %s implements unknown class %s", m.Name, mc.Name, name)
			}
			if iface.Kind != InterfaceClass {
				return nil, fmt.Errorf("module %s: class %s implements %s, which is not an interface", m.Name, mc.Name, name)
			}
			c.Interfaces = append(c.Interfaces, iface)
		}
		for _, mm := range mc.Methods {
			meth, err := rt.loadMethod(img, mc.Name, mm)
			if err != nil {
				return nil, fmt.Errorf("module %s: %w", m.Name, err)
			}
			c.AddMethod(meth)
		}
	}
	if err := checkCycles(img.Classes); err != nil {
		return nil, fmt.Errorf("module %s: %w", m.Name, err)
	}

	for _, c := range img.Classes {
		if err := reg.Define(c); err != nil {
			return nil, fmt.Errorf("module %s: %w", m.Name, err)
		}
	}
	log.Infof("loaded module %s: %d classes, %d constants", m.Name, len(img.Classes), len(m.Constants))
	return img, nil
}

func (rt *Runtime) loadMethod(img *Image, class string, mm module.Method) (*Method, error) {
	meth := &Method{
		Name:    mm.Name,
		Params:  mm.Params,
		Returns: mm.Returns,
		MaxVars: mm.MaxVars,
		Static:  mm.Static,
		Pool:    img.Pool,
	}
	if mm.Native {
		meth.Native = rt.Native(class, mm.Signature())
		if meth.Native == nil {
			return nil, fmt.Errorf("no native binding for %s.%s", class, mm.Signature())
		}
		return meth, nil
	}
	ops, err := DecodeOps(mm.Code)
	if err != nil {
		return nil, fmt.Errorf("%s.%s: %w", class, mm.Signature(), err)
	}
	if err := checkOps(ops, mm, img.Pool.Len()); err != nil {
		return nil, fmt.Errorf("%s.%s: %w", class, mm.Signature(), err)
	}
	meth.Ops = ops
	return meth, nil
}

// checkOps verifies that the code ends in a terminator and that constant
// operands stay inside the pool.
func checkOps(ops []Op, mm module.Method, pool int) error {
	if len(ops) == 0 {
		return nil
	}
	switch ops[len(ops)-1].(type) {
	case *Return, *Throw, *Jump:
	default:
		return fmt.Errorf("code falls off the end after %s", ops[len(ops)-1])
	}
	for ip, op := range ops {
		for _, arg := range nameOperands(op) {
			if !IsConstant(arg) {
				return fmt.Errorf("op %d (%s) needs a constant operand, got %s", ip, op, OperandString(arg))
			}
		}
		for _, arg := range constOperands(op) {
			if IsConstant(arg) && ConstIndex(arg) >= pool {
				return fmt.Errorf("op %d (%s) references constant %d outside pool of %d", ip, op, ConstIndex(arg), pool)
			}
		}
	}
	return nil
}

// constOperands returns the operands of op that index the constant pool
// directly.
func constOperands(op Op) []int {
	switch op := op.(type) {
	case *Move:
		return []int{op.From}
	case *Var:
		return []int{op.Value}
	case *VarAtomic:
		return []int{op.Value}
	case *VarProp:
		return []int{op.Target, op.Prop}
	case *BinOp:
		return []int{op.A, op.B}
	case *Neg:
		return []int{op.A}
	case *IsType:
		return []int{op.A, op.Type}
	case *JumpCond:
		return []int{op.A}
	case *JumpVal:
		return append([]int{op.A}, op.Cases...)
	case *JumpValN:
		return append(append([]int(nil), op.Args...), op.Cases...)
	case *Call:
		return append([]int{op.Fn}, op.Args...)
	case *Invoke:
		return append([]int{op.Target, op.Sig}, op.Args...)
	case *New:
		return append(append([]int{op.Type}, op.TypeArgs...), op.Args...)
	case *PGet:
		return []int{op.Target, op.Prop}
	case *PSet:
		return []int{op.Target, op.Prop, op.Value}
	case *Return:
		return op.Args
	case *Throw:
		return []int{op.A}
	case *Assert:
		return []int{op.A, op.Msg}
	case *MakeTuple:
		return op.Args
	case *FBind:
		return append([]int{op.Fn}, op.Args...)
	case *GuardStart:
		return op.Types
	}
	return nil
}

// nameOperands returns operands of op that must name a constant.
func nameOperands(op Op) []int {
	switch op := op.(type) {
	case *VarProp:
		return []int{op.Prop}
	case *IsType:
		return []int{op.Type}
	case *Invoke:
		return []int{op.Sig}
	case *New:
		return append([]int{op.Type}, op.TypeArgs...)
	case *PGet:
		return []int{op.Prop}
	case *PSet:
		return []int{op.Prop}
	case *JumpVal:
		return op.Cases
	case *JumpValN:
		return op.Cases
	}
	return nil
}

func checkCycles(classes []*Class) error {
	for _, c := range classes {
		seen := map[*Class]bool{}
		for k := c; k != nil; k = k.Super {
			if seen[k] {
				return fmt.Errorf("class %s has a cyclic superclass chain", c.Name)
			}
			seen[k] = true
		}
	}
	return nil
}

// Class returns a class of the image by name, or nil.
func (img *Image) Class(name string) *Class {
	for _, c := range img.Classes {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// Lookup finds a method by "Class.name" or "Class.name/params". Without a
// parameter count the name must be unambiguous.
func (img *Image) Lookup(ref string) (*Method, error) {
	className, member, ok := strings.Cut(ref, ".")
	if !ok {
		return nil, fmt.Errorf("%w: %q is not Class.method", ErrNoSuchMethod, ref)
	}
	c := img.Class(className)
	if c == nil {
		c = img.rt.Registry.Lookup(className)
	}
	if c == nil {
		return nil, fmt.Errorf("%w: unknown class %s", ErrNoSuchMethod, className)
	}
	if name, params, ok := strings.Cut(member, "/"); ok {
		n, err := strconv.Atoi(params)
		if err != nil {
			return nil, fmt.Errorf("%w: bad parameter count in %q", ErrNoSuchMethod, ref)
		}
		if m := c.Method(module.SignatureOf(name, n)); m != nil {
			return m, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrNoSuchMethod, ref)
	}
	var found *Method
	for _, m := range c.Methods {
		if m.Name != member {
			continue
		}
		if found != nil {
			return nil, fmt.Errorf("%w: %s is overloaded, give a parameter count", ErrNoSuchMethod, ref)
		}
		found = m
	}
	if found == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchMethod, ref)
	}
	return found, nil
}
