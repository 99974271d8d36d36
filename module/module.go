// Package module describes an assembled xvm module in a form that can be
// serialized, stored and later loaded into the virtual machine.
//
// A Module is inert data: constants, class declarations and methods whose
// code is a packed op stream. The vm package decodes it into runnable form.
package module

import "fmt"

// ---------------------------------------------------------------------------
// Constants
// ---------------------------------------------------------------------------

// ConstKind identifies the variant stored in a Constant.
type ConstKind uint8

const (
	ConstNull ConstKind = iota
	ConstBool
	ConstInt
	ConstLongLong
	ConstChar
	ConstString
	ConstTuple
	ConstRange
	ConstWildcard
	ConstClass
	ConstMethod
	ConstSignature
	ConstProperty
	ConstLazy
	ConstArray
)

var constKindNames = [...]string{
	ConstNull:      "null",
	ConstBool:      "bool",
	ConstInt:       "int",
	ConstLongLong:  "longlong",
	ConstChar:      "char",
	ConstString:    "string",
	ConstTuple:     "tuple",
	ConstRange:     "range",
	ConstWildcard:  "wildcard",
	ConstClass:     "class",
	ConstMethod:    "method",
	ConstSignature: "signature",
	ConstProperty:  "property",
	ConstLazy:      "lazy",
	ConstArray:     "array",
}

func (k ConstKind) String() string {
	if int(k) < len(constKindNames) {
		return constKindNames[k]
	}
	return fmt.Sprintf("ConstKind(%d)", k)
}

// Constant is one entry of a module constant pool.
//
// Only the fields relevant to Kind are populated:
//   - Bool, Int, Char, Str hold scalar payloads (Str also carries the decimal
//     text of a long-long and the name of a class, signature or property)
//   - Elems lists member constant indices for tuples and arrays
//   - Low and High are constant indices of interval bounds
//   - Class and Method name the owner and member for method and lazy constants
//   - Params and Returns describe a signature
type Constant struct {
	Kind    ConstKind `cbor:"k"`
	Bool    bool      `cbor:"b,omitempty"`
	Int     int64     `cbor:"i,omitempty"`
	Char    rune      `cbor:"c,omitempty"`
	Str     string    `cbor:"s,omitempty"`
	Elems   []int     `cbor:"e,omitempty"`
	Low     int       `cbor:"lo,omitempty"`
	High    int       `cbor:"hi,omitempty"`
	Class   string    `cbor:"cl,omitempty"`
	Method  string    `cbor:"m,omitempty"`
	Params  int       `cbor:"p,omitempty"`
	Returns int       `cbor:"r,omitempty"`
}

// String renders the constant for disassembly listings.
func (c Constant) String() string {
	switch c.Kind {
	case ConstNull:
		return "null"
	case ConstWildcard:
		return "_"
	case ConstBool:
		return fmt.Sprintf("%t", c.Bool)
	case ConstInt:
		return fmt.Sprintf("%d", c.Int)
	case ConstLongLong:
		return "big:" + c.Str
	case ConstChar:
		return fmt.Sprintf("%q", c.Char)
	case ConstString:
		return fmt.Sprintf("%q", c.Str)
	case ConstTuple:
		return fmt.Sprintf("tuple%v", c.Elems)
	case ConstArray:
		return fmt.Sprintf("array%v", c.Elems)
	case ConstRange:
		return fmt.Sprintf("#%d..#%d", c.Low, c.High)
	case ConstClass:
		return "class:" + c.Str
	case ConstMethod:
		return fmt.Sprintf("method:%s.%s/%d", c.Class, c.Method, c.Params)
	case ConstSignature:
		return fmt.Sprintf("sig:%s/%d", c.Str, c.Params)
	case ConstProperty:
		return "prop:" + c.Str
	case ConstLazy:
		return fmt.Sprintf("lazy:%s.%s", c.Class, c.Method)
	}
	return c.Kind.String()
}

// ---------------------------------------------------------------------------
// Classes and methods
// ---------------------------------------------------------------------------

// ClassKind is the closed set of class categories.
type ClassKind string

const (
	KindObject    ClassKind = "object"
	KindConst     ClassKind = "const"
	KindService   ClassKind = "service"
	KindEnum      ClassKind = "enum"
	KindNative    ClassKind = "native"
	KindInterface ClassKind = "interface"
)

// Valid reports whether k is one of the known class kinds.
func (k ClassKind) Valid() bool {
	switch k {
	case KindObject, KindConst, KindService, KindEnum, KindNative, KindInterface:
		return true
	}
	return false
}

// Property declares a named property. Empty Getter/Setter names mean the
// property is backed by a field of the same name and accessed natively.
type Property struct {
	Name   string `cbor:"n"`
	Getter string `cbor:"g,omitempty"`
	Setter string `cbor:"s,omitempty"`
}

// Method is a compiled method. Code holds the packed op stream; native
// methods carry no code and are bound by the loader.
type Method struct {
	Name    string `cbor:"n"`
	Params  int    `cbor:"p,omitempty"`
	Returns int    `cbor:"r,omitempty"`
	Static  bool   `cbor:"st,omitempty"`
	Native  bool   `cbor:"nat,omitempty"`
	MaxVars int    `cbor:"v,omitempty"`
	Code    []byte `cbor:"c,omitempty"`
}

// Signature returns the method's dispatch signature.
func (m *Method) Signature() string {
	return SignatureOf(m.Name, m.Params)
}

// SignatureOf formats a dispatch signature from a name and parameter count.
func SignatureOf(name string, params int) string {
	return fmt.Sprintf("%s/%d", name, params)
}

// Class declares a class and its members.
type Class struct {
	Name       string     `cbor:"n"`
	Kind       ClassKind  `cbor:"k"`
	Extends    string     `cbor:"x,omitempty"`
	Implements []string   `cbor:"i,omitempty"`
	TypeParams []string   `cbor:"tp,omitempty"`
	Fields     []string   `cbor:"f,omitempty"`
	Properties []Property `cbor:"pr,omitempty"`
	Methods    []Method   `cbor:"m,omitempty"`
}

// Module is a complete unit of loading.
type Module struct {
	Name      string     `cbor:"n"`
	Constants []Constant `cbor:"c,omitempty"`
	Classes   []Class    `cbor:"cl,omitempty"`
}

// Class returns the class with the given name, or nil.
func (m *Module) Class(name string) *Class {
	for i := range m.Classes {
		if m.Classes[i].Name == name {
			return &m.Classes[i]
		}
	}
	return nil
}

// Validate checks structural consistency that does not require decoding code.
func (m *Module) Validate() error {
	if m.Name == "" {
		return fmt.Errorf("module: missing name")
	}
	seen := make(map[string]bool)
	for _, c := range m.Classes {
		if c.Name == "" {
			return fmt.Errorf("module %s: class without name", m.Name)
		}
		if seen[c.Name] {
			return fmt.Errorf("module %s: duplicate class %s", m.Name, c.Name)
		}
		seen[c.Name] = true
		if !c.Kind.Valid() {
			return fmt.Errorf("module %s: class %s has invalid kind %q", m.Name, c.Name, c.Kind)
		}
		sigs := make(map[string]bool)
		for _, meth := range c.Methods {
			sig := meth.Signature()
			if sigs[sig] {
				return fmt.Errorf("module %s: class %s declares %s twice", m.Name, c.Name, sig)
			}
			sigs[sig] = true
			if meth.Native && len(meth.Code) > 0 {
				return fmt.Errorf("module %s: native method %s.%s has code", m.Name, c.Name, sig)
			}
			if meth.MaxVars < meth.Params {
				return fmt.Errorf("module %s: method %s.%s has %d vars for %d params",
					m.Name, c.Name, sig, meth.MaxVars, meth.Params)
			}
		}
	}
	for i, k := range m.Constants {
		for _, e := range k.Elems {
			if e < 0 || e >= len(m.Constants) {
				return fmt.Errorf("module %s: constant #%d references #%d out of range", m.Name, i, e)
			}
		}
		if k.Kind == ConstRange {
			if k.Low < 0 || k.Low >= len(m.Constants) || k.High < 0 || k.High >= len(m.Constants) {
				return fmt.Errorf("module %s: range constant #%d has bounds out of range", m.Name, i)
			}
		}
	}
	return nil
}
