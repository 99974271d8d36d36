// xvm CLI - assembles, stores, lists and runs xvm modules
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chazu/xvm/asm"
	"github.com/chazu/xvm/config"
	"github.com/chazu/xvm/module"
	"github.com/mattn/go-isatty"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
)

var log = commonlog.GetLogger("xvm.cmd")

// Exit codes.
const (
	exitOK        = 0
	exitException = 1
	exitError     = 2
)

// cli carries the process streams so commands can be run from tests.
type cli struct {
	stdout io.Writer
	stderr io.Writer
	color  bool
}

func main() {
	c := &cli{
		stdout: os.Stdout,
		stderr: os.Stderr,
		color:  isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()),
	}
	os.Exit(c.main(os.Args[1:]))
}

func (c *cli) usage() {
	fmt.Fprintf(c.stderr, "Usage: xvm <command> [options] [arguments]\n\n")
	fmt.Fprintf(c.stderr, "Commands:\n")
	fmt.Fprintf(c.stderr, "  run    Run a module entry method\n")
	fmt.Fprintf(c.stderr, "  asm    Assemble a YAML source file into a module file\n")
	fmt.Fprintf(c.stderr, "  dis    Print a module listing\n")
	fmt.Fprintf(c.stderr, "  store  Manage the module store (put, get, list, rm)\n")
	fmt.Fprintf(c.stderr, "\nExamples:\n")
	fmt.Fprintf(c.stderr, "  xvm run app.yaml                    # Run Main.main\n")
	fmt.Fprintf(c.stderr, "  xvm run -entry Calc.sum app.yaml 10 # Pass arguments to the entry\n")
	fmt.Fprintf(c.stderr, "  xvm asm -o app.xvmod app.yaml\n")
	fmt.Fprintf(c.stderr, "  xvm store put app.xvmod && xvm run app\n")
}

func (c *cli) main(args []string) int {
	if len(args) == 0 {
		c.usage()
		return exitError
	}
	switch args[0] {
	case "run":
		return c.run(args[1:])
	case "asm":
		return c.assemble(args[1:])
	case "dis":
		return c.dis(args[1:])
	case "store":
		return c.store(args[1:])
	case "help", "-h", "--help":
		c.usage()
		return exitOK
	}
	fmt.Fprintf(c.stderr, "Unknown command: %s\n", args[0])
	c.usage()
	return exitError
}

func (c *cli) fail(err error) int {
	fmt.Fprintf(c.stderr, "Error: %v\n", err)
	return exitError
}

// ---------------------------------------------------------------------------
// Shared options
// ---------------------------------------------------------------------------

// common holds the flags every command accepts.
type common struct {
	configDir string
	verbosity int
	logFile   string
	storePath string

	cfg *config.Config
}

func (o *common) register(fs *flag.FlagSet) {
	fs.StringVar(&o.configDir, "config", "", "Directory containing xvm.toml (default: search upwards from .)")
	fs.IntVar(&o.verbosity, "v", 0, "Log verbosity (-1 critical only ... 5 debug)")
	fs.StringVar(&o.logFile, "log", "", "Log file (default: stderr)")
	fs.StringVar(&o.storePath, "store", "", "Module store database")
}

// setup loads the configuration and configures logging. Flags given on the
// command line override the file.
func (o *common) setup(fs *flag.FlagSet) error {
	var err error
	if o.configDir != "" {
		o.cfg, err = config.Load(o.configDir)
	} else {
		o.cfg, err = config.FindAndLoad(".")
	}
	if err != nil {
		return err
	}
	if o.cfg == nil {
		o.cfg = config.Default()
	}

	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if !set["v"] {
		o.verbosity = o.cfg.Log.Verbosity
	}
	logFile := o.cfg.LogFile()
	if set["log"] {
		logFile = &o.logFile
	}
	if !set["store"] {
		o.storePath = o.cfg.StorePath()
	}
	commonlog.Configure(o.verbosity, logFile)
	return nil
}

func (o *common) openStore() (*module.Store, error) {
	path := o.storePath
	if path == "" {
		path = "xvm.db"
	}
	return module.OpenStore(path)
}

// loadModule reads a module from a YAML source, an encoded module file or,
// for a bare name, the module store.
func (o *common) loadModule(ctx context.Context, target string) (*module.Module, error) {
	switch strings.ToLower(filepath.Ext(target)) {
	case ".yaml", ".yml":
		return asm.AssembleFile(target)
	case ".xvmod":
		return module.ReadFile(target)
	}
	if _, err := os.Stat(target); err == nil {
		return nil, fmt.Errorf("%s: unknown module file type", target)
	}
	st, err := o.openStore()
	if err != nil {
		return nil, err
	}
	defer st.Close()
	return st.Get(ctx, target)
}
