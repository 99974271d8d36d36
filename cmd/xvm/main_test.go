package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chazu/xvm/vm"
)

const program = `
module: calc
classes:
  - name: Main
    methods:
      - name: main
        returns: 1
        static: true
        code:
          - Call method:Console.print/1, ["hello"]
          - Return1 42
      - name: add
        params: 2
        returns: 1
        static: true
        code:
          - Add r0, r1, r2
          - Return1 r2
      - name: boom
        static: true
        code:
          - Div 1, 0, r0
          - Return0
      - name: deep
        static: true
        code:
          - Call method:Main.deep/0
          - Return0
`

// testEnv is a temporary directory holding the program and an empty
// xvm.toml, so no configuration outside the test is picked up.
type testEnv struct {
	dir    string
	source string
	config string
}

func newTestEnv(t *testing.T, toml string) *testEnv {
	t.Helper()
	dir := t.TempDir()
	env := &testEnv{dir: dir, source: filepath.Join(dir, "calc.yaml"), config: dir}
	if err := os.WriteFile(env.source, []byte(program), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "xvm.toml"), []byte(toml), 0644); err != nil {
		t.Fatal(err)
	}
	return env
}

func (e *testEnv) exec(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	c := &cli{stdout: &stdout, stderr: &stderr}
	code := c.main(args)
	return code, stdout.String(), stderr.String()
}

func TestRunYAML(t *testing.T) {
	env := newTestEnv(t, "")
	code, out, errOut := env.exec("run", "-config", env.config, env.source)
	if code != exitOK {
		t.Fatalf("exit = %d, stderr: %s", code, errOut)
	}
	if out != "hello\n42\n" {
		t.Errorf("stdout = %q", out)
	}
}

func TestRunEntryWithArgs(t *testing.T) {
	env := newTestEnv(t, "")
	code, out, errOut := env.exec("run", "-config", env.config, "-entry", "Main.add", env.source, "2", "40")
	if code != exitOK {
		t.Fatalf("exit = %d, stderr: %s", code, errOut)
	}
	if out != "42\n" {
		t.Errorf("stdout = %q", out)
	}
}

func TestRunException(t *testing.T) {
	env := newTestEnv(t, "")
	code, _, errOut := env.exec("run", "-config", env.config, "-entry", "Main.boom", env.source)
	if code != exitException {
		t.Fatalf("exit = %d, want %d", code, exitException)
	}
	if !strings.Contains(errOut, "Unhandled exception: DivisionByZero") {
		t.Errorf("stderr = %q", errOut)
	}
	if strings.Contains(errOut, colorRed) {
		t.Error("report should not be coloured when not on a terminal")
	}
}

func TestRunUsesConfig(t *testing.T) {
	env := newTestEnv(t, "[runtime]\nmax-depth = 20\n\n[module]\npath = \"calc.yaml\"\nentry = \"Main.deep\"\n")
	code, _, errOut := env.exec("run", "-config", env.config)
	if code != exitException {
		t.Fatalf("exit = %d, stderr: %s", code, errOut)
	}
	if !strings.Contains(errOut, vm.ExStackOverflow) {
		t.Errorf("stderr = %q, want %s", errOut, vm.ExStackOverflow)
	}
}

func TestRunErrors(t *testing.T) {
	env := newTestEnv(t, "")
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no target", []string{"run", "-config", env.config}, "Usage: xvm run"},
		{"unknown entry", []string{"run", "-config", env.config, "-entry", "Main.nope", env.source}, "no such method"},
		{"missing file", []string{"run", "-config", env.config, filepath.Join(env.dir, "missing.yaml")}, "cannot read"},
		{"bad config", []string{"run", "-config", filepath.Join(env.dir, "nowhere"), env.source}, "cannot read"},
		{"unknown command", []string{"frobnicate"}, "Unknown command"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			code, _, errOut := env.exec(tc.args...)
			if code != exitError {
				t.Errorf("exit = %d, want %d", code, exitError)
			}
			if !strings.Contains(errOut, tc.want) {
				t.Errorf("stderr = %q, want %q", errOut, tc.want)
			}
		})
	}
}

func TestAssembleAndDisassemble(t *testing.T) {
	env := newTestEnv(t, "")
	out := filepath.Join(env.dir, "calc.xvmod")
	code, stdout, errOut := env.exec("asm", "-config", env.config, "-o", out, env.source)
	if code != exitOK {
		t.Fatalf("asm exit = %d, stderr: %s", code, errOut)
	}
	if !strings.Contains(stdout, "Wrote "+out) {
		t.Errorf("asm stdout = %q", stdout)
	}

	code, stdout, errOut = env.exec("run", "-config", env.config, out)
	if code != exitOK || stdout != "hello\n42\n" {
		t.Fatalf("run module file: exit %d, stdout %q, stderr %s", code, stdout, errOut)
	}

	code, stdout, errOut = env.exec("dis", "-config", env.config, out)
	if code != exitOK {
		t.Fatalf("dis exit = %d, stderr: %s", code, errOut)
	}
	for _, want := range []string{"module calc", "static add/2 -> 1 (vars 3)", "Add r0, r1, r2"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("listing lacks %q:\n%s", want, stdout)
		}
	}
}

func TestStoreCommands(t *testing.T) {
	env := newTestEnv(t, "")
	db := filepath.Join(env.dir, "modules.db")
	store := func(args ...string) (int, string, string) {
		return env.exec(append([]string{"store", "-config", env.config, "-store", db}, args...)...)
	}

	if code, out, errOut := store("put", env.source); code != exitOK || out != "Stored calc\n" {
		t.Fatalf("put: exit %d, stdout %q, stderr %s", code, out, errOut)
	}
	code, out, _ := store("list")
	if code != exitOK || !strings.Contains(out, "NAME") || !strings.Contains(out, "calc") {
		t.Fatalf("list: exit %d, stdout %q", code, out)
	}

	code, out, errOut := env.exec("run", "-config", env.config, "-store", db, "calc")
	if code != exitOK || out != "hello\n42\n" {
		t.Fatalf("run stored: exit %d, stdout %q, stderr %s", code, out, errOut)
	}

	file := filepath.Join(env.dir, "copy.xvmod")
	if code, _, errOut := store("-o", file, "get", "calc"); code != exitOK {
		t.Fatalf("get: exit %d, stderr %s", code, errOut)
	}
	if _, err := os.Stat(file); err != nil {
		t.Errorf("get did not write %s: %v", file, err)
	}

	if code, _, errOut := store("rm", "calc"); code != exitOK {
		t.Fatalf("rm: exit %d, stderr %s", code, errOut)
	}
	if code, _, errOut := store("rm", "calc"); code != exitError || !strings.Contains(errOut, "module not found") {
		t.Errorf("second rm: exit %d, stderr %q", code, errOut)
	}
	if code, _, _ := store("frob"); code != exitError {
		t.Errorf("unknown subcommand exit = %d", code)
	}
}

func TestEntryArgs(t *testing.T) {
	got := entryArgs([]string{"12", "-3", "x", "1.5"})
	want := []vm.Handle{vm.Int(12), vm.Int(-3), vm.String("x"), vm.String("1.5")}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("arg %d = %#v, want %#v", i, got[i], want[i])
		}
	}
}
