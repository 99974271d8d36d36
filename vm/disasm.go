package vm

import (
	"fmt"
	"io"
	"strings"

	"github.com/chazu/xvm/module"
)

// Disassemble writes a readable listing of m: its constant pool followed by
// every class with the decoded code of its methods.
func Disassemble(w io.Writer, m *module.Module) error {
	p := &printer{w: w}
	p.printf("module %s\n", m.Name)
	if len(m.Constants) > 0 {
		p.printf("\nconstants:\n")
		for i, c := range m.Constants {
			p.printf("  %4s  %s\n", OperandString(ConstArg(i)), c)
		}
	}
	for _, c := range m.Classes {
		p.printf("\n%s %s", c.Kind, c.Name)
		if len(c.TypeParams) > 0 {
			p.printf("<%s>", strings.Join(c.TypeParams, ", "))
		}
		if c.Extends != "" {
			p.printf(" extends %s", c.Extends)
		}
		if len(c.Implements) > 0 {
			p.printf(" implements %s", strings.Join(c.Implements, ", "))
		}
		p.printf("\n")
		for _, f := range c.Fields {
			p.printf("  field %s\n", f)
		}
		for _, prop := range c.Properties {
			p.printf("  property %s", prop.Name)
			if prop.Getter != "" {
				p.printf(" get=%s", prop.Getter)
			}
			if prop.Setter != "" {
				p.printf(" set=%s", prop.Setter)
			}
			p.printf("\n")
		}
		for _, meth := range c.Methods {
			p.printf("  ")
			if meth.Static {
				p.printf("static ")
			}
			if meth.Native {
				p.printf("native ")
			}
			p.printf("%s -> %d (vars %d)\n", meth.Signature(), meth.Returns, meth.MaxVars)
			if meth.Native {
				continue
			}
			ops, err := DecodeOps(meth.Code)
			if err != nil {
				return fmt.Errorf("%s.%s: %w", c.Name, meth.Signature(), err)
			}
			for ip, op := range ops {
				p.printf("    %4d  %s\n", ip, op)
			}
		}
	}
	return p.err
}

type printer struct {
	w   io.Writer
	err error
}

func (p *printer) printf(format string, args ...any) {
	if p.err == nil {
		_, p.err = fmt.Fprintf(p.w, format, args...)
	}
}
