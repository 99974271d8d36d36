package vm

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/chazu/xvm/module"
)

// ---------------------------------------------------------------------------
// Class: loaded class representation
// ---------------------------------------------------------------------------

// ClassKind is the closed set of class categories.
type ClassKind uint8

const (
	ObjectClass ClassKind = iota
	ConstClass
	ServiceClass
	EnumClass
	NativeClass
	InterfaceClass
)

var classKindNames = [...]string{"object", "const", "service", "enum", "native", "interface"}

func (k ClassKind) String() string {
	if int(k) < len(classKindNames) {
		return classKindNames[k]
	}
	return fmt.Sprintf("ClassKind(%d)", k)
}

// ClassKindOf converts a module class kind.
func ClassKindOf(k module.ClassKind) (ClassKind, error) {
	for i, n := range classKindNames {
		if n == string(k) {
			return ClassKind(i), nil
		}
	}
	return 0, fmt.Errorf("unknown class kind %q", k)
}

// Property is a named property. Getter and Setter name the natural accessor
// methods; empty means the property is backed by the field of the same name.
type Property struct {
	Name   string
	Getter string
	Setter string
}

// Class is a loaded class.
type Class struct {
	Name       string
	Kind       ClassKind
	Super      *Class
	Interfaces []*Class
	TypeParams []string
	Fields     []string
	Properties map[string]*Property
	Methods    map[string]*Method

	id int
}

// NewClass creates an empty class of the given kind.
func NewClass(name string, kind ClassKind, super *Class) *Class {
	return &Class{
		Name:       name,
		Kind:       kind,
		Super:      super,
		Properties: make(map[string]*Property),
		Methods:    make(map[string]*Method),
	}
}

// AddMethod attaches m to the class under its signature.
func (c *Class) AddMethod(m *Method) {
	m.Class = c
	c.Methods[m.Signature()] = m
}

// Method returns the method declared by this class (not inherited) for sig.
func (c *Class) Method(sig string) *Method {
	return c.Methods[sig]
}

// HasField reports whether c or a superclass declares the field.
func (c *Class) HasField(name string) bool {
	for k := c; k != nil; k = k.Super {
		for _, f := range k.Fields {
			if f == name {
				return true
			}
		}
	}
	return false
}

// AllFields returns declared fields, inherited first.
func (c *Class) AllFields() []string {
	if c.Super == nil {
		return c.Fields
	}
	inherited := c.Super.AllFields()
	out := make([]string, 0, len(inherited)+len(c.Fields))
	out = append(out, inherited...)
	return append(out, c.Fields...)
}

// IsAbstract reports whether instances of c cannot be created with New.
func (c *Class) IsAbstract() bool {
	return c.Kind == InterfaceClass || c.Kind == NativeClass
}

func (c *Class) String() string { return c.Name }

// ---------------------------------------------------------------------------
// Type composition
// ---------------------------------------------------------------------------

// Composition is a class together with the actual types of its type
// parameters.
type Composition struct {
	Class *Class
	Args  []*Class
}

// ActualType returns the actual type bound to the named type parameter, or
// nil when the parameter is unknown.
func (t *Composition) ActualType(name string) *Class {
	for i, p := range t.Class.TypeParams {
		if p == name {
			if i < len(t.Args) && t.Args[i] != nil {
				return t.Args[i]
			}
			return nil
		}
	}
	return nil
}

func (t *Composition) String() string {
	if len(t.Args) == 0 {
		return t.Class.Name
	}
	names := make([]string, len(t.Args))
	for i, a := range t.Args {
		names[i] = a.Name
	}
	return t.Class.Name + "<" + strings.Join(names, ", ") + ">"
}

// ---------------------------------------------------------------------------
// Registry: classes, relations and call chains for one runtime
// ---------------------------------------------------------------------------

// Relation describes how one type relates to another.
type Relation uint8

const (
	Incompatible Relation = iota
	Extends
	Implements
)

func (r Relation) String() string {
	switch r {
	case Extends:
		return "extends"
	case Implements:
		return "implements"
	}
	return "incompatible"
}

// ErrDuplicateClass is returned when a class name is already registered.
var ErrDuplicateClass = errors.New("duplicate class")

type relationKey struct{ from, to int }

type chainKey struct {
	class  int
	sig    string
	access PropertyAccess
	prop   bool
}

// Registry owns every class known to a runtime along with the memoized
// relation and call chain tables derived from them.
type Registry struct {
	mu        sync.RWMutex
	classes   map[string]*Class
	nextID    int
	relations map[relationKey]Relation
	chains    map[chainKey]*CallChain
	comps     map[string]*Composition
	kinds     map[Kind]*Class

	// Well-known roots.
	Object    *Class
	Exception *Class
}

// NewRegistry creates a registry holding only the root Object class.
func NewRegistry() *Registry {
	r := &Registry{
		classes:   make(map[string]*Class),
		relations: make(map[relationKey]Relation),
		chains:    make(map[chainKey]*CallChain),
		comps:     make(map[string]*Composition),
		kinds:     make(map[Kind]*Class),
	}
	r.Object = NewClass("Object", ObjectClass, nil)
	r.mustDefine(r.Object)
	return r
}

// Define registers c. Classes default to extending Object.
func (r *Registry) Define(c *Class) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.classes[c.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateClass, c.Name)
	}
	if c.Super == nil && r.Object != nil && c != r.Object && c.Kind != InterfaceClass {
		c.Super = r.Object
	}
	r.nextID++
	c.id = r.nextID
	r.classes[c.Name] = c
	return nil
}

func (r *Registry) mustDefine(c *Class) *Class {
	if err := r.Define(c); err != nil {
		panic(err)
	}
	return c
}

// Lookup returns the class named name, or nil.
func (r *Registry) Lookup(name string) *Class {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.classes[name]
}

// Classes returns every registered class sorted by name.
func (r *Registry) Classes() []*Class {
	r.mu.RLock()
	out := make([]*Class, 0, len(r.classes))
	for _, c := range r.classes {
		out = append(out, c)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// bindKind records the class used for handles of kind k.
func (r *Registry) bindKind(k Kind, c *Class) {
	r.mu.Lock()
	r.kinds[k] = c
	r.mu.Unlock()
}

// ClassOf returns the class of a handle.
func (r *Registry) ClassOf(h Handle) *Class {
	switch v := h.(type) {
	case *ObjectHandle:
		return v.comp.Class
	case *ServiceHandle:
		return v.obj.comp.Class
	case *ExceptionHandle:
		return v.Class
	case nil:
		return r.Object
	}
	r.mu.RLock()
	c := r.kinds[h.Kind()]
	r.mu.RUnlock()
	if c == nil {
		return r.Object
	}
	return c
}

// Compose returns the canonical composition of c with the given actual types.
func (r *Registry) Compose(c *Class, args ...*Class) *Composition {
	key := c.Name
	if len(args) > 0 {
		names := make([]string, len(args))
		for i, a := range args {
			names[i] = a.Name
		}
		key += "<" + strings.Join(names, ",") + ">"
	}
	r.mu.RLock()
	t, ok := r.comps[key]
	r.mu.RUnlock()
	if ok {
		return t
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.comps[key]; ok {
		return t
	}
	t = &Composition{Class: c, Args: args}
	r.comps[key] = t
	return t
}

// Relation returns how from relates to to. Results are memoized.
func (r *Registry) Relation(from, to *Class) Relation {
	if from == to {
		return Extends
	}
	key := relationKey{from.id, to.id}
	r.mu.RLock()
	rel, ok := r.relations[key]
	r.mu.RUnlock()
	if ok {
		return rel
	}
	rel = computeRelation(from, to)
	r.mu.Lock()
	r.relations[key] = rel
	r.mu.Unlock()
	return rel
}

// IsA reports whether a value of class from may be used where to is expected.
func (r *Registry) IsA(from, to *Class) bool {
	return to == r.Object || r.Relation(from, to) != Incompatible
}

func computeRelation(from, to *Class) Relation {
	for c := from; c != nil; c = c.Super {
		if c == to {
			return Extends
		}
	}
	if to.Kind != InterfaceClass {
		return Incompatible
	}
	for c := from; c != nil; c = c.Super {
		for _, i := range c.Interfaces {
			if declaresInterface(i, to) {
				return Implements
			}
		}
	}
	// Duck typing: a class implements an interface when it provides every
	// method the interface declares.
	if len(to.Methods) == 0 {
		return Incompatible
	}
	for sig := range to.Methods {
		found := false
		for c := from; c != nil && !found; c = c.Super {
			found = c.Methods[sig] != nil
		}
		if !found {
			return Incompatible
		}
	}
	return Implements
}

func declaresInterface(i, target *Class) bool {
	if i == target {
		return true
	}
	for _, s := range i.Interfaces {
		if declaresInterface(s, target) {
			return true
		}
	}
	return false
}
