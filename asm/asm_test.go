package asm

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/chazu/xvm/module"
	"github.com/chazu/xvm/vm"
)

const demo = `
module: demo
classes:
  - name: Main
    methods:
      - name: sum
        params: 1
        returns: 1
        static: true
        code:
          - Move 0, r1
          - Move 1, r2
          - loop:
          - IsGt r2, r0, r3
          - JumpTrue r3, :done
          - Add r1, r2, r1
          - Add r2, 1, r2
          - Jump :loop
          - done:
          - Return1 r1

      - name: main
        returns: 1
        static: true
        code:
          - Call method:Console.print/1, ["hello, world"]
          - Call method:Main.sum/1, [10], [r0]
          - Return1 [r0]

      - name: classify
        params: 1
        returns: 1
        static: true
        code:
          - switch:
              on: r0
              cases:
                - {match: 1, to: one}
                - {match: 2..5, to: few}
              default: many
          - one:
          - Return1 "one"
          - few:
          - Return1 "few"
          - many:
          - Return1 "many"

      - name: pair
        params: 2
        returns: 1
        static: true
        code:
          - switch:
              on: [r0, r1]
              cases:
                - {match: [1, 2], to: a}
                - {match: [_, 5], to: b}
          - Return1 0
          - a:
          - Return1 10
          - b:
          - Return1 20

      - name: safediv
        params: 2
        returns: 1
        static: true
        code:
          - guard:
              body:
                - Div r0, r1, r2
              catch:
                - type: DivisionByZero
                  into: r3
                  code:
                    - PGet r3, prop:message, r2
          - Return1 r2
`

func run(t *testing.T, m *module.Module, ref string, args ...vm.Handle) (*vm.Result, string) {
	t.Helper()
	var out bytes.Buffer
	rt := vm.NewRuntime(vm.WithOutput(&out))
	img, err := rt.Load(m)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	entry, err := img.Lookup(ref)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := rt.Run(ctx, entry, args...)
	if err != nil {
		t.Fatalf("Run %s: %v", ref, err)
	}
	if res.Exception != nil {
		t.Fatalf("Run %s: %s", ref, res.Exception.Report())
	}
	return res, out.String()
}

func single(t *testing.T, res *vm.Result) vm.Handle {
	t.Helper()
	if len(res.Values) != 1 {
		t.Fatalf("got %d values, want 1", len(res.Values))
	}
	return res.Values[0]
}

func TestAssembleAndRun(t *testing.T) {
	m, err := Assemble([]byte(demo))
	if err != nil {
		t.Fatal(err)
	}
	if m.Name != "demo" || m.Class("Main") == nil {
		t.Fatalf("unexpected module %+v", m)
	}
	res, out := run(t, m, "Main.main")
	if got := single(t, res); got != vm.Int(55) {
		t.Errorf("main = %v, want 55", got)
	}
	if out != "hello, world\n" {
		t.Errorf("output = %q", out)
	}
}

func TestVarsInferred(t *testing.T) {
	m, err := Assemble([]byte(demo))
	if err != nil {
		t.Fatal(err)
	}
	vars := map[string]int{}
	for _, meth := range m.Class("Main").Methods {
		vars[meth.Name] = meth.MaxVars
	}
	want := map[string]int{"sum": 4, "main": 1, "classify": 1, "pair": 2, "safediv": 4}
	for name, n := range want {
		if vars[name] != n {
			t.Errorf("%s vars = %d, want %d", name, vars[name], n)
		}
	}
}

func TestSwitch(t *testing.T) {
	m, err := Assemble([]byte(demo))
	if err != nil {
		t.Fatal(err)
	}
	for in, want := range map[vm.Int]vm.String{1: "one", 2: "few", 5: "few", 6: "many", -3: "many"} {
		res, _ := run(t, m, "Main.classify", in)
		if got := single(t, res); got != want {
			t.Errorf("classify(%d) = %v, want %s", in, got, want)
		}
	}
	tests := []struct {
		a, b vm.Int
		want vm.Int
	}{
		{1, 2, 10},
		{1, 5, 20},
		{9, 5, 20},
		{2, 2, 0},
	}
	for _, tc := range tests {
		res, _ := run(t, m, "Main.pair", tc.a, tc.b)
		if got := single(t, res); got != tc.want {
			t.Errorf("pair(%d, %d) = %v, want %d", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestGuard(t *testing.T) {
	m, err := Assemble([]byte(demo))
	if err != nil {
		t.Fatal(err)
	}
	res, _ := run(t, m, "Main.safediv", vm.Int(7), vm.Int(2))
	if got := single(t, res); got != vm.Int(3) {
		t.Errorf("safediv(7, 2) = %v", got)
	}
	res, _ = run(t, m, "Main.safediv", vm.Int(1), vm.Int(0))
	if got := single(t, res); got != vm.String("division by zero") {
		t.Errorf("safediv(1, 0) = %v", got)
	}
}

func TestGuardLayout(t *testing.T) {
	src := `
module: g
classes:
  - name: G
    methods:
      - name: f
        static: true
        vars: 1
        code:
          - guard:
              body:
                - Nop
              catch:
                - type: IllegalState
                  code: [Nop]
                - code: [Nop]
          - Return0
`
	m, err := Assemble([]byte(src))
	if err != nil {
		t.Fatal(err)
	}
	ops, err := vm.DecodeOps(m.Classes[0].Methods[0].Code)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{
		"GuardStart +2, [#0, @default], [@ignore, @ignore], [+3, +5]",
		"Nop",
		"GuardEnd +4",
		"Nop",
		"Jump +2",
		"Nop",
		"Return0",
	}
	if len(ops) != len(want) {
		t.Fatalf("got %d ops: %v", len(ops), ops)
	}
	for i, op := range ops {
		if op.String() != want[i] {
			t.Errorf("op %d = %q, want %q", i, op, want[i])
		}
	}
}

func TestConstantsInterned(t *testing.T) {
	src := `
module: k
classes:
  - name: K
    methods:
      - name: f
        static: true
        returns: 1
        code:
          - Add 41, 1, r0
          - Add r0, 1, r0
          - Move "s", r1
          - Move "s", r1
          - Move (1, "s"), r1
          - Return1 r0
`
	m, err := Assemble([]byte(src))
	if err != nil {
		t.Fatal(err)
	}
	want := []module.Constant{
		{Kind: module.ConstInt, Int: 41},
		{Kind: module.ConstInt, Int: 1},
		{Kind: module.ConstString, Str: "s"},
		{Kind: module.ConstTuple, Elems: []int{1, 2}},
	}
	if len(m.Constants) != len(want) {
		t.Fatalf("constants = %v", m.Constants)
	}
	for i := range want {
		if m.Constants[i].String() != want[i].String() || m.Constants[i].Kind != want[i].Kind {
			t.Errorf("constant %d = %v, want %v", i, m.Constants[i], want[i])
		}
	}
}

func TestLiterals(t *testing.T) {
	a := newAssembler(newPool())
	tests := []struct {
		in   string
		want string
	}{
		{"null", "null"},
		{"true", "true"},
		{"-12", "-12"},
		{"0x10", "16"},
		{"'x'", "'x'"},
		{`"a,b"`, `"a,b"`},
		{"big:123456789012345678901234567890", "big:123456789012345678901234567890"},
		{"class:Point", "class:Point"},
		{"method:Main.sum/1", "method:Main.sum/1"},
		{"sig:get/0", "sig:get/0"},
		{"prop:x", "prop:x"},
		{"lazy:Main.init", "lazy:Main.init"},
		{"_", "_"},
	}
	for _, tc := range tests {
		c, err := a.literal(tc.in)
		if err != nil {
			t.Errorf("literal(%s): %v", tc.in, err)
			continue
		}
		if c.String() != tc.want {
			t.Errorf("literal(%s) = %s, want %s", tc.in, c, tc.want)
		}
	}
	for _, bad := range []string{"", "99999999999999999999", "'ab'", "big:x", "nope:1", "sig:f/x", "frob"} {
		if _, err := a.literal(bad); err == nil {
			t.Errorf("literal(%q) should fail", bad)
		}
	}
}

func TestSplitTop(t *testing.T) {
	got, err := splitTop(`r0, [1, (2, 3)], "a, \"b\"", 'c'`)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"r0", "[1, (2, 3)]", `"a, \"b\""`, "'c'"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("splitTop = %q", got)
	}
	for _, bad := range []string{`"open`, "[1, 2", "1)"} {
		if _, err := splitTop(bad); err == nil {
			t.Errorf("splitTop(%q) should fail", bad)
		}
	}
}

func TestAssembleErrors(t *testing.T) {
	method := func(code string) string {
		return "module: e\nclasses:\n  - name: E\n    methods:\n      - name: f\n        static: true\n        code:\n" + code
	}
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"missing module", "classes: []\n", "missing module name"},
		{"bad kind", "module: e\nclasses:\n  - name: E\n    kind: widget\n", "unknown kind"},
		{"unknown instruction", method("          - Frob r0\n"), "line 8: unknown instruction"},
		{"undefined label", method("          - Jump :nowhere\n"), "undefined label nowhere"},
		{"duplicate label", method("          - a:\n          - a:\n          - Return0\n"), "defined twice"},
		{"extra operand", method("          - Return0 r1\n"), "unexpected operand"},
		{"missing operand", method("          - Move r0\n"), "missing operand"},
		{"bad destination", method("          - Move r0, 5\n"), "not a destination"},
		{"raw switch", method("          - JumpVal r0, [], [], +1\n"), "switch entry"},
		{"raw guard", method("          - GuardEnd +1\n"), "guard entry"},
		{"switch tuple width", method("          - switch:\n              on: [r0, r1]\n              cases:\n                - {match: [1], to: x}\n"), "needs 2 values"},
		{"register beyond vars", method("          - Move 1, r3\n          - Return0\n") + "        vars: 2\n", "outside 2 vars"},
		{"native with code", "module: e\nclasses:\n  - name: E\n    methods:\n      - name: f\n        native: true\n        code: [Return0]\n", "native method with code"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Assemble([]byte(tc.src))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v, want %q", err, tc.want)
			}
		})
	}
}

func TestErrorCarriesLine(t *testing.T) {
	_, err := Assemble([]byte("module: e\nclasses:\n  - name: E\n    methods:\n      - name: f\n        code:\n          - Nop\n          - Bogus\n"))
	var ae *Error
	if !errors.As(err, &ae) {
		t.Fatalf("err = %v, want *Error", err)
	}
	if ae.Line != 8 {
		t.Errorf("line = %d, want 8", ae.Line)
	}
}

func TestListingUsesSourceSyntax(t *testing.T) {
	m, err := Assemble([]byte(demo))
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := vm.Disassemble(&buf, m); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"static sum/1 -> 1 (vars 4)", "IsGt r2, r0, r3", "JumpTrue r3, +4", "Jump -4"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("listing lacks %q:\n%s", want, buf.String())
		}
	}
}
