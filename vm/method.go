package vm

import "github.com/chazu/xvm/module"

// ---------------------------------------------------------------------------
// Method: an executable member of a class
// ---------------------------------------------------------------------------

// Method is a loaded method. Exactly one of Ops or Native is set for
// concrete methods; abstract methods have neither.
type Method struct {
	Name    string
	Class   *Class
	Params  int
	Returns int
	MaxVars int
	Static  bool
	Ops     []Op
	Pool    *ConstantPool
	Native  NativeFunc
}

// Signature returns the dispatch signature, "name/params".
func (m *Method) Signature() string {
	return module.SignatureOf(m.Name, m.Params)
}

// IsAbstract reports whether the method has no body.
func (m *Method) IsAbstract() bool {
	return m.Native == nil && len(m.Ops) == 0
}

// IsNative reports whether the method is implemented in Go.
func (m *Method) IsNative() bool {
	return m.Native != nil
}

func (m *Method) String() string {
	if m.Class == nil {
		return m.Signature()
	}
	return m.Class.Name + "." + m.Signature()
}
