package asm

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/chazu/xvm/vm"
	"gopkg.in/yaml.v3"
)

// assembler lowers one method body. Ops are built once every label is
// known, so forward references resolve.
type assembler struct {
	pool      *constPool
	items     []item
	labels    map[string]int
	maxReg    int
	nextLabel int
}

type item struct {
	line  int
	build func(ip int) (vm.Op, error)
}

func newAssembler(pool *constPool) *assembler {
	return &assembler{pool: pool, labels: make(map[string]int), maxReg: -1}
}

func (a *assembler) emit(line int, op vm.Op) {
	a.items = append(a.items, item{line: line, build: func(int) (vm.Op, error) { return op, nil }})
}

func (a *assembler) emitLate(line int, build func(ip int) (vm.Op, error)) {
	a.items = append(a.items, item{line: line, build: build})
}

func (a *assembler) define(line int, name string) error {
	if _, ok := a.labels[name]; ok {
		return errorf(line, "label %s defined twice", name)
	}
	a.labels[name] = len(a.items)
	return nil
}

// internal returns a fresh label name that cannot clash with source labels.
func (a *assembler) internal() string {
	a.nextLabel++
	return "." + strconv.Itoa(a.nextLabel)
}

// offset returns the distance from ip to label.
func (a *assembler) offset(label string, ip int) (int, error) {
	target, ok := a.labels[label]
	if !ok {
		return 0, fmt.Errorf("undefined label %s", label)
	}
	return target - ip, nil
}

func (a *assembler) finish() ([]byte, error) {
	ops := make([]vm.Op, len(a.items))
	for ip, it := range a.items {
		op, err := it.build(ip)
		if err != nil {
			return nil, errorf(it.line, "%v", err)
		}
		ops[ip] = op
	}
	return vm.EncodeOps(ops), nil
}

// emitAll lowers a code sequence: instruction strings, labels and
// structured entries.
func (a *assembler) emitAll(nodes []yaml.Node) error {
	for i := range nodes {
		n := &nodes[i]
		switch n.Kind {
		case yaml.ScalarNode:
			text := strings.TrimSpace(n.Value)
			if name, ok := strings.CutSuffix(text, ":"); ok && !strings.ContainsAny(name, " ,") {
				if err := a.sourceLabel(n.Line, name); err != nil {
					return err
				}
				continue
			}
			if err := a.instruction(n.Line, text); err != nil {
				return err
			}
		case yaml.MappingNode:
			if len(n.Content) != 2 {
				return errorf(n.Line, "code entry must have exactly one key")
			}
			key, val := n.Content[0], n.Content[1]
			var err error
			switch {
			case isNull(val):
				err = a.sourceLabel(key.Line, key.Value)
			case key.Value == "switch":
				err = a.switchEntry(val)
			case key.Value == "guard":
				err = a.guardEntry(val)
			default:
				err = errorf(key.Line, "unknown code entry %q", key.Value)
			}
			if err != nil {
				return err
			}
		default:
			return errorf(n.Line, "unexpected code entry")
		}
	}
	return nil
}

func isNull(n *yaml.Node) bool {
	return n.Kind == yaml.ScalarNode && (n.Tag == "!!null" || n.Value == "")
}

func (a *assembler) sourceLabel(line int, name string) error {
	if name == "" || strings.HasPrefix(name, ".") {
		return errorf(line, "invalid label %q", name)
	}
	return a.define(line, name)
}

// ---------------------------------------------------------------------------
// Instructions
// ---------------------------------------------------------------------------

// operands consumes instruction arguments in order; the first error sticks.
type operands struct {
	a    *assembler
	args []string
	err  error
}

func (p *operands) next() (string, bool) {
	if p.err != nil {
		return "", false
	}
	if len(p.args) == 0 {
		p.err = fmt.Errorf("missing operand")
		return "", false
	}
	s := p.args[0]
	p.args = p.args[1:]
	return s, true
}

func (p *operands) value() int {
	s, ok := p.next()
	if !ok {
		return 0
	}
	n, err := p.a.operand(s)
	if err != nil {
		p.err = err
	}
	return n
}

// name parses an operand that must be a constant.
func (p *operands) name() int {
	s, ok := p.next()
	if !ok {
		return 0
	}
	idx, err := p.a.constant(s)
	if err != nil {
		p.err = err
	}
	return vm.ConstArg(idx)
}

func (p *operands) dest() int {
	s, ok := p.next()
	if !ok {
		return 0
	}
	n, err := p.a.destination(s)
	if err != nil {
		p.err = err
	}
	return n
}

func (p *operands) values() []int {
	return p.listOf(p.a.operand)
}

func (p *operands) dests() []int {
	return p.listOf(p.a.destination)
}

func (p *operands) names() []int {
	return p.listOf(func(s string) (int, error) {
		idx, err := p.a.constant(s)
		return vm.ConstArg(idx), err
	})
}

// optional lists may be omitted when they trail the instruction.
func (p *operands) listOf(parse func(string) (int, error)) []int {
	if p.err != nil || len(p.args) == 0 {
		return nil
	}
	s, _ := p.next()
	if s == "[]" {
		return nil
	}
	out, err := p.a.list(s, parse)
	if err != nil {
		p.err = err
	}
	return out
}

func (p *operands) ints() []int {
	return p.listOf(func(s string) (int, error) { return strconv.Atoi(s) })
}

func (p *operands) label() string {
	s, ok := p.next()
	if !ok {
		return ""
	}
	name, found := strings.CutPrefix(s, ":")
	if !found || name == "" {
		p.err = fmt.Errorf("%q is not a label reference", s)
	}
	return name
}

func (p *operands) done() error {
	if p.err == nil && len(p.args) > 0 {
		p.err = fmt.Errorf("unexpected operand %q", p.args[0])
	}
	return p.err
}

func (a *assembler) instruction(line int, text string) error {
	mnemonic, rest, _ := strings.Cut(text, " ")
	code, ok := vm.OpcodeByName(mnemonic)
	if !ok {
		return errorf(line, "unknown instruction %q", mnemonic)
	}
	args, err := splitTop(rest)
	if err != nil {
		return errorf(line, "%s: %v", mnemonic, err)
	}
	p := &operands{a: a, args: args}

	var op vm.Op
	switch code {
	case vm.OpNop:
		op = &vm.Nop{}
	case vm.OpMove:
		op = &vm.Move{From: p.value(), To: p.dest()}
	case vm.OpVar:
		op = &vm.Var{Reg: p.dest(), Value: p.value()}
	case vm.OpVarAtomic:
		op = &vm.VarAtomic{Reg: p.dest(), Value: p.value()}
	case vm.OpVarFuture:
		op = &vm.VarFuture{Reg: p.dest()}
	case vm.OpVarProp:
		op = &vm.VarProp{Reg: p.dest(), Target: p.value(), Prop: p.name()}
	case vm.OpAdd, vm.OpSub, vm.OpMul, vm.OpDiv, vm.OpMod,
		vm.OpIsEq, vm.OpIsNotEq, vm.OpIsLt, vm.OpIsLe, vm.OpIsGt, vm.OpIsGe:
		op = &vm.BinOp{Code: code, A: p.value(), B: p.value(), Ret: p.dest()}
	case vm.OpNeg:
		op = &vm.Neg{A: p.value(), Ret: p.dest()}
	case vm.OpIsType:
		op = &vm.IsType{A: p.value(), Type: p.name(), Ret: p.dest()}
	case vm.OpCall, vm.OpCallN, vm.OpCallT:
		op = &vm.Call{Code: code, Fn: p.value(), Args: p.values(), Rets: p.dests()}
	case vm.OpInvoke, vm.OpInvokeN, vm.OpInvokeT:
		op = &vm.Invoke{Code: code, Target: p.value(), Sig: p.name(), Args: p.values(), Rets: p.dests()}
	case vm.OpNew:
		op = &vm.New{Type: p.name(), TypeArgs: p.names(), Args: p.values(), Ret: p.dest()}
	case vm.OpPGet:
		op = &vm.PGet{Target: p.value(), Prop: p.name(), Ret: p.dest()}
	case vm.OpPSet:
		op = &vm.PSet{Target: p.value(), Prop: p.name(), Value: p.value()}
	case vm.OpReturn0:
		op = &vm.Return{Code: code}
	case vm.OpReturn1, vm.OpReturnT:
		r := &vm.Return{Code: code, Args: p.values()}
		if p.err == nil && len(r.Args) != 1 {
			p.err = fmt.Errorf("needs one operand")
		}
		op = r
	case vm.OpReturnN:
		op = &vm.Return{Code: code, Args: p.values()}
	case vm.OpThrow:
		op = &vm.Throw{A: p.value()}
	case vm.OpFreeze:
		op = &vm.Freeze{A: p.value()}
	case vm.OpAssert:
		op = &vm.Assert{A: p.value(), Msg: p.value()}
	case vm.OpFBind:
		op = &vm.FBind{Fn: p.value(), Positions: p.ints(), Args: p.values(), Ret: p.dest()}
	case vm.OpTuple:
		op = &vm.MakeTuple{Args: p.values(), Ret: p.dest()}
	case vm.OpJump:
		target := p.label()
		if err := p.done(); err != nil {
			return errorf(line, "%s: %v", mnemonic, err)
		}
		a.emitLate(line, func(ip int) (vm.Op, error) {
			off, err := a.offset(target, ip)
			return &vm.Jump{Off: off}, err
		})
		return nil
	case vm.OpJumpTrue, vm.OpJumpFalse, vm.OpJumpNull:
		cond, target := p.value(), p.label()
		if err := p.done(); err != nil {
			return errorf(line, "%s: %v", mnemonic, err)
		}
		a.emitLate(line, func(ip int) (vm.Op, error) {
			off, err := a.offset(target, ip)
			return &vm.JumpCond{Code: code, A: cond, Off: off}, err
		})
		return nil
	case vm.OpJumpVal, vm.OpJumpValN:
		return errorf(line, "%s is written as a switch entry", mnemonic)
	case vm.OpGuardStart, vm.OpGuardEnd:
		return errorf(line, "%s is written as a guard entry", mnemonic)
	default:
		return errorf(line, "instruction %s cannot be assembled", mnemonic)
	}
	if err := p.done(); err != nil {
		return errorf(line, "%s: %v", mnemonic, err)
	}
	a.emit(line, op)
	return nil
}

// ---------------------------------------------------------------------------
// Structured entries
// ---------------------------------------------------------------------------

type switchSource struct {
	On      yaml.Node    `yaml:"on"`
	Cases   []caseSource `yaml:"cases"`
	Default string       `yaml:"default"`
}

type caseSource struct {
	Match yaml.Node `yaml:"match"`
	To    string    `yaml:"to"`
}

// switchEntry lowers a switch to JumpVal (one column) or JumpValN. Without
// a default, unmatched values continue at the next op.
func (a *assembler) switchEntry(n *yaml.Node) error {
	var sw switchSource
	if err := n.Decode(&sw); err != nil {
		return errorf(n.Line, "switch: %v", err)
	}
	var columns []int
	switch sw.On.Kind {
	case yaml.ScalarNode:
		v, err := a.operand(sw.On.Value)
		if err != nil {
			return errorf(sw.On.Line, "switch: %v", err)
		}
		columns = []int{v}
	case yaml.SequenceNode:
		for _, c := range sw.On.Content {
			v, err := a.operand(c.Value)
			if err != nil {
				return errorf(c.Line, "switch: %v", err)
			}
			columns = append(columns, v)
		}
	default:
		return errorf(n.Line, "switch needs on")
	}
	if len(sw.Cases) == 0 {
		return errorf(n.Line, "switch without cases")
	}

	cases := make([]int, len(sw.Cases))
	targets := make([]string, len(sw.Cases))
	for i, c := range sw.Cases {
		idx, err := a.match(&c.Match, len(columns))
		if err != nil {
			return errorf(c.Match.Line, "switch case %d: %v", i, err)
		}
		if c.To == "" {
			return errorf(c.Match.Line, "switch case %d has no target", i)
		}
		cases[i] = vm.ConstArg(idx)
		targets[i] = c.To
	}

	a.emitLate(n.Line, func(ip int) (vm.Op, error) {
		offsets := make([]int, len(targets))
		for i, t := range targets {
			off, err := a.offset(t, ip)
			if err != nil {
				return nil, err
			}
			offsets[i] = off
		}
		def := 1
		if sw.Default != "" {
			off, err := a.offset(sw.Default, ip)
			if err != nil {
				return nil, err
			}
			def = off
		}
		if len(columns) == 1 && sw.On.Kind == yaml.ScalarNode {
			return &vm.JumpVal{A: columns[0], Cases: cases, Offsets: offsets, Default: def}, nil
		}
		return &vm.JumpValN{Args: columns, Cases: cases, Offsets: offsets, Default: def}, nil
	})
	return nil
}

// match interns a case value. Quoted scalars are strings, plain scalars use
// the literal syntax and sequences are tuples.
func (a *assembler) match(n *yaml.Node, columns int) (int, error) {
	switch n.Kind {
	case yaml.ScalarNode:
		if n.Style&(yaml.DoubleQuotedStyle|yaml.SingleQuotedStyle) != 0 {
			return a.constant(strconv.Quote(n.Value))
		}
		idx, err := a.constant(n.Value)
		if err != nil {
			return 0, err
		}
		if columns > 1 && len(a.pool.consts[idx].Elems) != columns {
			return 0, fmt.Errorf("needs a tuple of %d values", columns)
		}
		return idx, nil
	case yaml.SequenceNode:
		if columns > 1 && len(n.Content) != columns {
			return 0, fmt.Errorf("needs %d values, has %d", columns, len(n.Content))
		}
		parts := make([]string, len(n.Content))
		for i, c := range n.Content {
			parts[i] = c.Value
			if c.Style&(yaml.DoubleQuotedStyle|yaml.SingleQuotedStyle) != 0 {
				parts[i] = strconv.Quote(c.Value)
			}
		}
		return a.constant("(" + strings.Join(parts, ", ") + ")")
	}
	return 0, fmt.Errorf("missing match")
}

type guardSource struct {
	Body  []yaml.Node   `yaml:"body"`
	Catch []catchSource `yaml:"catch"`
}

type catchSource struct {
	Type string      `yaml:"type"`
	Into string      `yaml:"into"`
	Code []yaml.Node `yaml:"code"`
}

// guardEntry lowers a guard to
//
//	GuardStart  body-end, types, regs, handlers
//	body
//	GuardEnd    end
//	handler 0 ... Jump end
//	handler n
//	end:
func (a *assembler) guardEntry(n *yaml.Node) error {
	var g guardSource
	if err := n.Decode(&g); err != nil {
		return errorf(n.Line, "guard: %v", err)
	}
	if len(g.Catch) == 0 {
		return errorf(n.Line, "guard without catch")
	}
	types := make([]int, len(g.Catch))
	regs := make([]int, len(g.Catch))
	handlers := make([]string, len(g.Catch))
	for i, c := range g.Catch {
		types[i] = vm.ADefault
		if c.Type != "" {
			types[i] = vm.ConstArg(a.pool.intern(classConstant(c.Type)))
		}
		regs[i] = vm.AIgnore
		if c.Into != "" {
			r, err := a.destination(c.Into)
			if err != nil {
				return errorf(n.Line, "guard catch %d: %v", i, err)
			}
			regs[i] = r
		}
		handlers[i] = a.internal()
	}
	bodyEnd, end := a.internal(), a.internal()

	a.emitLate(n.Line, func(ip int) (vm.Op, error) {
		span, err := a.offset(bodyEnd, ip)
		if err != nil {
			return nil, err
		}
		offs := make([]int, len(handlers))
		for i, h := range handlers {
			if offs[i], err = a.offset(h, ip); err != nil {
				return nil, err
			}
		}
		return &vm.GuardStart{End: span, Types: types, Regs: regs, Handlers: offs}, nil
	})
	if err := a.emitAll(g.Body); err != nil {
		return err
	}
	if err := a.define(n.Line, bodyEnd); err != nil {
		return err
	}
	a.emitLate(n.Line, func(ip int) (vm.Op, error) {
		off, err := a.offset(end, ip)
		return &vm.GuardEnd{Off: off}, err
	})
	for i, c := range g.Catch {
		if err := a.define(n.Line, handlers[i]); err != nil {
			return err
		}
		if err := a.emitAll(c.Code); err != nil {
			return err
		}
		if i < len(g.Catch)-1 {
			a.emitLate(n.Line, func(ip int) (vm.Op, error) {
				off, err := a.offset(end, ip)
				return &vm.Jump{Off: off}, err
			})
		}
	}
	return a.define(n.Line, end)
}
