// Package config handles xvm.toml runtime configuration.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/BurntSushi/toml"
	"github.com/chazu/xvm/vm"
)

// FileName is the configuration file looked up by Load and FindAndLoad.
const FileName = "xvm.toml"

//go:embed schema.cue
var schemaSrc string

// Config represents an xvm.toml file.
type Config struct {
	Runtime Runtime `toml:"runtime" json:"runtime"`
	Log     Log     `toml:"log" json:"log"`
	Module  Module  `toml:"module" json:"module"`

	// Dir is the directory containing the xvm.toml file (set at load time).
	Dir string `toml:"-" json:"-"`
}

// Runtime configures runtime limits.
type Runtime struct {
	MaxDepth  int `toml:"max-depth" json:"max-depth"`
	QueueSize int `toml:"queue-size" json:"queue-size"`
	MaxRepeat int `toml:"max-repeat" json:"max-repeat"`
	Budget    int `toml:"budget" json:"budget"`
}

// Log configures logging. Verbosity follows commonlog: -1 critical only,
// 0 errors, up to 5 for debug output.
type Log struct {
	Verbosity int    `toml:"verbosity" json:"verbosity"`
	File      string `toml:"file" json:"file"`
}

// Module names the program to run.
type Module struct {
	Path  string `toml:"path" json:"path"`
	Entry string `toml:"entry" json:"entry"`
	Store string `toml:"store" json:"store"`
}

// Default returns the configuration used when no xvm.toml exists.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Load parses the xvm.toml file in dir.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	c.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	return c, nil
}

// Parse decodes and validates xvm.toml content.
func Parse(data []byte) (*Config, error) {
	var c Config
	md, err := toml.Decode(string(data), &c)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown key %s", undecoded[0])
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// FindAndLoad walks up from startDir to find an xvm.toml file, then loads
// it. Returns nil if no file is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

func (c *Config) applyDefaults() {
	if c.Runtime.MaxDepth == 0 {
		c.Runtime.MaxDepth = vm.DefaultMaxDepth
	}
	if c.Runtime.QueueSize == 0 {
		c.Runtime.QueueSize = vm.DefaultQueueSize
	}
	if c.Runtime.MaxRepeat == 0 {
		c.Runtime.MaxRepeat = vm.DefaultMaxRepeat
	}
	if c.Runtime.Budget == 0 {
		c.Runtime.Budget = vm.DefaultBudget
	}
}

// Validate checks c against the embedded CUE schema.
func (c *Config) Validate() error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSrc, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	value := ctx.Encode(c)
	if err := value.Err(); err != nil {
		return err
	}
	if err := schema.Unify(value).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Options converts the runtime section to vm options.
func (c *Config) Options() []vm.Option {
	return []vm.Option{
		vm.WithMaxDepth(c.Runtime.MaxDepth),
		vm.WithQueueSize(c.Runtime.QueueSize),
		vm.WithMaxRepeat(c.Runtime.MaxRepeat),
		vm.WithBudget(c.Runtime.Budget),
	}
}

// ModulePath returns the configured module path resolved against Dir.
func (c *Config) ModulePath() string {
	return c.resolve(c.Module.Path)
}

// StorePath returns the configured module store path resolved against Dir.
func (c *Config) StorePath() string {
	return c.resolve(c.Module.Store)
}

// LogFile returns the configured log file resolved against Dir, or nil.
func (c *Config) LogFile() *string {
	if c.Log.File == "" {
		return nil
	}
	path := c.resolve(c.Log.File)
	return &path
}

func (c *Config) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || c.Dir == "" {
		return p
	}
	return filepath.Join(c.Dir, p)
}
