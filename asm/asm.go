// Package asm reads the YAML assembly format and produces module.Module
// values ready for the loader.
//
// A source file names the module and lists its classes. Method bodies are
// sequences of instruction strings in the syntax printed by vm.Disassemble,
// label entries ("loop:"), and structured switch and guard entries that the
// assembler lowers to JumpVal, JumpValN, GuardStart and GuardEnd.
package asm

import (
	"fmt"
	"os"

	"github.com/chazu/xvm/module"
	"gopkg.in/yaml.v3"
)

// Source is the top-level YAML document.
type Source struct {
	Module  string  `yaml:"module"`
	Classes []Class `yaml:"classes"`
}

// Class declares one class.
type Class struct {
	Name       string     `yaml:"name"`
	Kind       string     `yaml:"kind,omitempty"`
	Extends    string     `yaml:"extends,omitempty"`
	Implements []string   `yaml:"implements,omitempty"`
	TypeParams []string   `yaml:"type-params,omitempty"`
	Fields     []string   `yaml:"fields,omitempty"`
	Properties []Property `yaml:"properties,omitempty"`
	Methods    []Method   `yaml:"methods,omitempty"`
}

// Property declares a property and its optional accessor methods.
type Property struct {
	Name string `yaml:"name"`
	Get  string `yaml:"get,omitempty"`
	Set  string `yaml:"set,omitempty"`
}

// Method declares one method. Vars defaults to the highest register used
// plus one.
type Method struct {
	Name    string      `yaml:"name"`
	Params  int         `yaml:"params,omitempty"`
	Returns int         `yaml:"returns,omitempty"`
	Static  bool        `yaml:"static,omitempty"`
	Native  bool        `yaml:"native,omitempty"`
	Vars    int         `yaml:"vars,omitempty"`
	Code    []yaml.Node `yaml:"code,omitempty"`
}

// Error is an assembly error with the source line it was found at.
type Error struct {
	Line int
	Msg  string
}

func (e *Error) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
	}
	return e.Msg
}

func errorf(line int, format string, args ...any) *Error {
	return &Error{Line: line, Msg: fmt.Sprintf(format, args...)}
}

// AssembleFile reads and assembles the file at path.
func AssembleFile(path string) (*module.Module, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	m, err := Assemble(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Assemble parses YAML assembly source into a module.
func Assemble(src []byte) (*module.Module, error) {
	var s Source
	if err := yaml.Unmarshal(src, &s); err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	if s.Module == "" {
		return nil, errorf(0, "missing module name")
	}

	pool := newPool()
	m := &module.Module{Name: s.Module}
	for _, c := range s.Classes {
		mc, err := assembleClass(pool, c)
		if err != nil {
			return nil, err
		}
		m.Classes = append(m.Classes, mc)
	}
	m.Constants = pool.consts
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func assembleClass(pool *constPool, c Class) (module.Class, error) {
	kind := module.ClassKind(c.Kind)
	if c.Kind == "" {
		kind = module.KindObject
	}
	if !kind.Valid() {
		return module.Class{}, errorf(0, "class %s: unknown kind %q", c.Name, c.Kind)
	}
	mc := module.Class{
		Name:       c.Name,
		Kind:       kind,
		Extends:    c.Extends,
		Implements: c.Implements,
		TypeParams: c.TypeParams,
		Fields:     c.Fields,
	}
	for _, p := range c.Properties {
		mc.Properties = append(mc.Properties, module.Property{Name: p.Name, Getter: p.Get, Setter: p.Set})
	}
	for _, meth := range c.Methods {
		mm, err := assembleMethod(pool, c.Name, meth)
		if err != nil {
			return module.Class{}, err
		}
		mc.Methods = append(mc.Methods, mm)
	}
	return mc, nil
}

func assembleMethod(pool *constPool, class string, meth Method) (module.Method, error) {
	mm := module.Method{
		Name:    meth.Name,
		Params:  meth.Params,
		Returns: meth.Returns,
		Static:  meth.Static,
		Native:  meth.Native,
		MaxVars: meth.Vars,
	}
	if meth.Native {
		if len(meth.Code) > 0 {
			return mm, errorf(meth.Code[0].Line, "%s.%s: native method with code", class, meth.Name)
		}
		if mm.MaxVars < mm.Params {
			mm.MaxVars = mm.Params
		}
		return mm, nil
	}
	a := newAssembler(pool)
	if err := a.emitAll(meth.Code); err != nil {
		return mm, fmt.Errorf("%s.%s: %w", class, meth.Name, err)
	}
	ops, err := a.finish()
	if err != nil {
		return mm, fmt.Errorf("%s.%s: %w", class, meth.Name, err)
	}
	switch {
	case mm.MaxVars == 0:
		mm.MaxVars = max(a.maxReg+1, mm.Params)
	case a.maxReg >= mm.MaxVars:
		return mm, errorf(meth.Code[0].Line, "%s.%s: register r%d outside %d vars", class, meth.Name, a.maxReg, mm.MaxVars)
	}
	mm.Code = ops
	return mm, nil
}
