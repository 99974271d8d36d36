package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"

	"github.com/chazu/xvm/vm"
)

const (
	colorRed   = "\x1b[31m"
	colorReset = "\x1b[0m"
)

// run handles `xvm run [options] target [args...]`.
func (c *cli) run(args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	var o common
	o.register(fs)
	entryRef := fs.String("entry", "", "Entry method as Class.method[/params] (default: [module].entry or Main.main)")
	if err := fs.Parse(args); err != nil {
		return exitError
	}
	if err := o.setup(fs); err != nil {
		return c.fail(err)
	}

	rest := fs.Args()
	target := o.cfg.ModulePath()
	if len(rest) > 0 {
		target, rest = rest[0], rest[1:]
	}
	if target == "" {
		fmt.Fprintln(c.stderr, "Usage: xvm run [options] <file.yaml|file.xvmod|stored-name> [args...]")
		return exitError
	}
	ref := *entryRef
	if ref == "" {
		ref = o.cfg.Module.Entry
	}
	if ref == "" {
		ref = "Main.main"
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	m, err := o.loadModule(ctx, target)
	if err != nil {
		return c.fail(err)
	}
	rt := vm.NewRuntime(append(o.cfg.Options(), vm.WithOutput(c.stdout))...)
	img, err := rt.Load(m)
	if err != nil {
		return c.fail(err)
	}
	entry, err := img.Lookup(ref)
	if err != nil {
		return c.fail(err)
	}

	log.Infof("running %s from module %s", ref, m.Name)
	res, err := rt.Run(ctx, entry, entryArgs(rest)...)
	if err != nil {
		return c.fail(err)
	}
	if res.Exception != nil {
		c.report(res.Exception)
		return exitException
	}
	for _, v := range res.Values {
		fmt.Fprintln(c.stdout, v)
	}
	return exitOK
}

// entryArgs converts command line arguments to Int where they parse as
// integers and to String otherwise.
func entryArgs(args []string) []vm.Handle {
	out := make([]vm.Handle, len(args))
	for i, a := range args {
		if n, err := strconv.ParseInt(a, 10, 64); err == nil {
			out[i] = vm.Int(n)
		} else {
			out[i] = vm.String(a)
		}
	}
	return out
}

func (c *cli) report(ex *vm.ExceptionHandle) {
	if c.color {
		fmt.Fprint(c.stderr, colorRed, "Unhandled exception: ", ex.Report(), colorReset)
		return
	}
	fmt.Fprint(c.stderr, "Unhandled exception: ", ex.Report())
}
