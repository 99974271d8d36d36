package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chazu/xvm/vm"
)

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
[runtime]
max-depth = 500
queue-size = 16
max-repeat = 20
budget = 100

[log]
verbosity = 3
file = "logs/xvm.log"

[module]
path = "app.yaml"
entry = "Main.main/0"
store = "/var/lib/xvm/modules.db"
`)

	c, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if c.Runtime.MaxDepth != 500 {
		t.Errorf("max-depth = %d, want 500", c.Runtime.MaxDepth)
	}
	if c.Runtime.QueueSize != 16 || c.Runtime.MaxRepeat != 20 || c.Runtime.Budget != 100 {
		t.Errorf("runtime = %+v", c.Runtime)
	}
	if c.Log.Verbosity != 3 {
		t.Errorf("verbosity = %d, want 3", c.Log.Verbosity)
	}
	if c.Module.Entry != "Main.main/0" {
		t.Errorf("entry = %q", c.Module.Entry)
	}
	if got, want := c.ModulePath(), filepath.Join(c.Dir, "app.yaml"); got != want {
		t.Errorf("module path = %q, want %q", got, want)
	}
	if got := c.StorePath(); got != "/var/lib/xvm/modules.db" {
		t.Errorf("store path = %q", got)
	}
	if got := c.LogFile(); got == nil || *got != filepath.Join(c.Dir, "logs", "xvm.log") {
		t.Errorf("log file = %v", got)
	}
	if len(c.Options()) != 4 {
		t.Errorf("options = %d, want 4", len(c.Options()))
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
[module]
path = "main.yaml"
`)

	c, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if c.Runtime.MaxDepth != vm.DefaultMaxDepth {
		t.Errorf("default max-depth = %d, want %d", c.Runtime.MaxDepth, vm.DefaultMaxDepth)
	}
	if c.Runtime.QueueSize != vm.DefaultQueueSize || c.Runtime.MaxRepeat != vm.DefaultMaxRepeat || c.Runtime.Budget != vm.DefaultBudget {
		t.Errorf("default runtime = %+v", c.Runtime)
	}
	if c.LogFile() != nil {
		t.Errorf("log file = %v, want nil", *c.LogFile())
	}
	if d := Default(); d.Runtime != c.Runtime {
		t.Errorf("Default() runtime = %+v, want %+v", d.Runtime, c.Runtime)
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"negative depth", "[runtime]\nmax-depth = -3\n", "invalid configuration"},
		{"verbosity too high", "[log]\nverbosity = 9\n", "invalid configuration"},
		{"bad entry", "[module]\nentry = \"main\"\n", "invalid configuration"},
		{"unknown key", "[runtime]\nspeed = 11\n", "unknown key runtime.speed"},
		{"unknown section", "[network]\nport = 1\n", "unknown key"},
		{"wrong type", "[runtime]\nbudget = \"lots\"\n", "parse error"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.content))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v, want %q", err, tc.want)
			}
		})
	}
}

func TestFindAndLoad(t *testing.T) {
	dir := t.TempDir()
	subDir := filepath.Join(dir, "a", "b", "c")
	if err := os.MkdirAll(subDir, 0755); err != nil {
		t.Fatal(err)
	}
	writeConfig(t, dir, "[module]\nentry = \"App.start\"\n")

	c, err := FindAndLoad(subDir)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if c == nil {
		t.Fatal("FindAndLoad returned nil")
	}
	if c.Module.Entry != "App.start" {
		t.Errorf("entry = %q, want App.start", c.Module.Entry)
	}
}

func TestFindAndLoadNotFound(t *testing.T) {
	dir := t.TempDir()
	c, err := FindAndLoad(dir)
	if err != nil {
		t.Fatalf("FindAndLoad error: %v", err)
	}
	if c != nil {
		t.Error("expected nil config when no xvm.toml exists")
	}
}

func TestLoadReportsPath(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "[runtime\n")
	_, err := Load(dir)
	if err == nil || !strings.Contains(err.Error(), FileName) {
		t.Fatalf("err = %v, want mention of %s", err, FileName)
	}
}
