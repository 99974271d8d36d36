package asm

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/chazu/xvm/module"
	"github.com/chazu/xvm/vm"
)

// ---------------------------------------------------------------------------
// Constant pool
// ---------------------------------------------------------------------------

// constPool interns constants so identical literals share one index.
type constPool struct {
	consts []module.Constant
	index  map[string]int
}

func newPool() *constPool {
	return &constPool{index: make(map[string]int)}
}

func (p *constPool) intern(c module.Constant) int {
	key := fmt.Sprintf("%#v", c)
	if idx, ok := p.index[key]; ok {
		return idx
	}
	idx := len(p.consts)
	p.consts = append(p.consts, c)
	p.index[key] = idx
	return idx
}

// ---------------------------------------------------------------------------
// Operand syntax
// ---------------------------------------------------------------------------

var pseudoRegisters = map[string]int{
	"@stack":   vm.AStack,
	"@ignore":  vm.AIgnore,
	"@this":    vm.AThis,
	"@super":   vm.ASuper,
	"@default": vm.ADefault,
}

// splitTop splits s at commas that are not nested inside quotes, brackets
// or parentheses.
func splitTop(s string) ([]string, error) {
	var parts []string
	depth := 0
	var quote rune
	escaped := false
	start := 0
	for i, r := range s {
		switch {
		case escaped:
			escaped = false
		case quote != 0:
			if r == '\\' {
				escaped = true
			} else if r == quote {
				quote = 0
			}
		case r == '"' || r == '\'':
			quote = r
		case r == '[' || r == '(':
			depth++
		case r == ']' || r == ')':
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("unbalanced %q", r)
			}
		case r == ',' && depth == 0:
			parts = append(parts, strings.TrimSpace(s[start:i]))
			start = i + 1
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated quote")
	}
	if depth != 0 {
		return nil, fmt.Errorf("unbalanced brackets")
	}
	if rest := strings.TrimSpace(s[start:]); rest != "" || len(parts) > 0 {
		parts = append(parts, rest)
	}
	return parts, nil
}

// register parses "rN".
func register(s string) (int, bool) {
	if len(s) < 2 || s[0] != 'r' {
		return 0, false
	}
	n, err := strconv.Atoi(s[1:])
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// operand parses a register, pseudo register or literal; literals are
// interned into the pool.
func (a *assembler) operand(s string) (int, error) {
	if n, ok := register(s); ok {
		a.maxReg = max(a.maxReg, n)
		return n, nil
	}
	if n, ok := pseudoRegisters[s]; ok {
		return n, nil
	}
	idx, err := a.constant(s)
	if err != nil {
		return 0, err
	}
	return vm.ConstArg(idx), nil
}

// destination parses an operand that receives a value.
func (a *assembler) destination(s string) (int, error) {
	if n, ok := register(s); ok {
		a.maxReg = max(a.maxReg, n)
		return n, nil
	}
	switch s {
	case "@stack":
		return vm.AStack, nil
	case "@ignore":
		return vm.AIgnore, nil
	}
	return 0, fmt.Errorf("%q is not a destination", s)
}

// list parses "[a, b]"; a bare operand is a one-element list.
func (a *assembler) list(s string, parse func(string) (int, error)) ([]int, error) {
	if !strings.HasPrefix(s, "[") {
		n, err := parse(s)
		if err != nil {
			return nil, err
		}
		return []int{n}, nil
	}
	if !strings.HasSuffix(s, "]") {
		return nil, fmt.Errorf("unterminated list %q", s)
	}
	parts, err := splitTop(s[1 : len(s)-1])
	if err != nil {
		return nil, err
	}
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := parse(p)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// constant parses a literal and returns its pool index.
func (a *assembler) constant(s string) (int, error) {
	c, err := a.literal(s)
	if err != nil {
		return 0, err
	}
	return a.pool.intern(c), nil
}

func (a *assembler) literal(s string) (module.Constant, error) {
	switch s {
	case "":
		return module.Constant{}, fmt.Errorf("missing operand")
	case "null":
		return module.Constant{Kind: module.ConstNull}, nil
	case "true", "false":
		return module.Constant{Kind: module.ConstBool, Bool: s == "true"}, nil
	case "_":
		return module.Constant{Kind: module.ConstWildcard}, nil
	}

	switch s[0] {
	case '"':
		str, err := strconv.Unquote(s)
		if err != nil {
			return module.Constant{}, fmt.Errorf("bad string literal %s", s)
		}
		return module.Constant{Kind: module.ConstString, Str: str}, nil
	case '\'':
		str, err := strconv.Unquote(s)
		if err != nil || utf8.RuneCountInString(str) != 1 {
			return module.Constant{}, fmt.Errorf("bad char literal %s", s)
		}
		r, _ := utf8.DecodeRuneInString(str)
		return module.Constant{Kind: module.ConstChar, Char: r}, nil
	case '(':
		if !strings.HasSuffix(s, ")") {
			return module.Constant{}, fmt.Errorf("unterminated tuple %q", s)
		}
		elems, err := a.elements(s[1 : len(s)-1])
		if err != nil {
			return module.Constant{}, err
		}
		return module.Constant{Kind: module.ConstTuple, Elems: elems}, nil
	}

	if prefix, rest, ok := strings.Cut(s, ":"); ok {
		return a.tagged(prefix, rest)
	}
	if lo, hi, ok := strings.Cut(s, ".."); ok {
		low, err := a.constant(strings.TrimSpace(lo))
		if err != nil {
			return module.Constant{}, err
		}
		high, err := a.constant(strings.TrimSpace(hi))
		if err != nil {
			return module.Constant{}, err
		}
		return module.Constant{Kind: module.ConstRange, Low: low, High: high}, nil
	}
	if n, err := strconv.ParseInt(s, 0, 64); err == nil {
		return module.Constant{Kind: module.ConstInt, Int: n}, nil
	}
	if _, ok := new(big.Int).SetString(s, 0); ok {
		return module.Constant{}, fmt.Errorf("%s overflows Int, write big:%s", s, s)
	}
	return module.Constant{}, fmt.Errorf("unknown operand %q", s)
}

func (a *assembler) elements(s string) ([]int, error) {
	parts, err := splitTop(s)
	if err != nil {
		return nil, err
	}
	elems := make([]int, 0, len(parts))
	for _, p := range parts {
		idx, err := a.constant(p)
		if err != nil {
			return nil, err
		}
		elems = append(elems, idx)
	}
	return elems, nil
}

// tagged parses prefix:rest literals.
func (a *assembler) tagged(prefix, rest string) (module.Constant, error) {
	switch prefix {
	case "big":
		if _, ok := new(big.Int).SetString(rest, 10); !ok {
			return module.Constant{}, fmt.Errorf("bad big literal %q", rest)
		}
		return module.Constant{Kind: module.ConstLongLong, Str: rest}, nil
	case "class":
		return module.Constant{Kind: module.ConstClass, Str: rest}, nil
	case "prop":
		return module.Constant{Kind: module.ConstProperty, Str: rest}, nil
	case "sig":
		name, params, err := signature(rest)
		if err != nil {
			return module.Constant{}, err
		}
		return module.Constant{Kind: module.ConstSignature, Str: name, Params: params}, nil
	case "method":
		class, member, ok := strings.Cut(rest, ".")
		if !ok {
			return module.Constant{}, fmt.Errorf("method literal %q needs Class.name/params", rest)
		}
		name, params, err := signature(member)
		if err != nil {
			return module.Constant{}, err
		}
		return module.Constant{Kind: module.ConstMethod, Class: class, Method: name, Params: params}, nil
	case "lazy":
		class, name, ok := strings.Cut(rest, ".")
		if !ok {
			return module.Constant{}, fmt.Errorf("lazy literal %q needs Class.name", rest)
		}
		return module.Constant{Kind: module.ConstLazy, Class: class, Method: name}, nil
	case "array":
		if !strings.HasPrefix(rest, "[") || !strings.HasSuffix(rest, "]") {
			return module.Constant{}, fmt.Errorf("array literal %q needs [elements]", rest)
		}
		elems, err := a.elements(rest[1 : len(rest)-1])
		if err != nil {
			return module.Constant{}, err
		}
		return module.Constant{Kind: module.ConstArray, Elems: elems}, nil
	}
	return module.Constant{}, fmt.Errorf("unknown literal prefix %q", prefix)
}

// signature parses "name/params"; a missing count means zero.
func signature(s string) (string, int, error) {
	name, params, ok := strings.Cut(s, "/")
	if !ok {
		return s, 0, nil
	}
	n, err := strconv.Atoi(params)
	if err != nil || n < 0 {
		return "", 0, fmt.Errorf("bad parameter count in %q", s)
	}
	return name, n, nil
}

func classConstant(name string) module.Constant {
	return module.Constant{Kind: module.ConstClass, Str: strings.TrimPrefix(name, "class:")}
}
