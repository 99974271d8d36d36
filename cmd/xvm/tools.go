package main

import (
	"context"
	"flag"
	"fmt"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/chazu/xvm/asm"
	"github.com/chazu/xvm/module"
	"github.com/chazu/xvm/vm"
)

// assemble handles `xvm asm [-o out.xvmod] in.yaml`.
func (c *cli) assemble(args []string) int {
	fs := flag.NewFlagSet("asm", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	var o common
	o.register(fs)
	out := fs.String("o", "", "Output file (default: input name with .xvmod)")
	if err := fs.Parse(args); err != nil {
		return exitError
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(c.stderr, "Usage: xvm asm [-o out.xvmod] <file.yaml>")
		return exitError
	}
	if err := o.setup(fs); err != nil {
		return c.fail(err)
	}

	in := fs.Arg(0)
	m, err := asm.AssembleFile(in)
	if err != nil {
		return c.fail(err)
	}
	path := *out
	if path == "" {
		path = strings.TrimSuffix(in, filepath.Ext(in)) + ".xvmod"
	}
	if err := module.WriteFile(path, m); err != nil {
		return c.fail(err)
	}
	log.Infof("assembled %s to %s", in, path)
	fmt.Fprintf(c.stdout, "Wrote %s (%d classes, %d constants)\n", path, len(m.Classes), len(m.Constants))
	return exitOK
}

// dis handles `xvm dis target`.
func (c *cli) dis(args []string) int {
	fs := flag.NewFlagSet("dis", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	var o common
	o.register(fs)
	if err := fs.Parse(args); err != nil {
		return exitError
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(c.stderr, "Usage: xvm dis <file.yaml|file.xvmod|stored-name>")
		return exitError
	}
	if err := o.setup(fs); err != nil {
		return c.fail(err)
	}
	m, err := o.loadModule(context.Background(), fs.Arg(0))
	if err != nil {
		return c.fail(err)
	}
	if err := vm.Disassemble(c.stdout, m); err != nil {
		return c.fail(err)
	}
	return exitOK
}

// store handles the `xvm store` subcommands.
//
//	xvm store put <file>...        Store modules under their names
//	xvm store [-o out] get <name>  Write a stored module to a file
//	xvm store list                 List stored modules
//	xvm store rm <name>            Delete a stored module
func (c *cli) store(args []string) int {
	fs := flag.NewFlagSet("store", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	var o common
	o.register(fs)
	out := fs.String("o", "", "Output file for get (default: <name>.xvmod)")
	if err := fs.Parse(args); err != nil {
		return exitError
	}
	rest := fs.Args()
	if len(rest) == 0 {
		fmt.Fprintln(c.stderr, "Usage: xvm store [put|get|list|rm] ...")
		return exitError
	}
	if err := o.setup(fs); err != nil {
		return c.fail(err)
	}

	ctx := context.Background()
	st, err := o.openStore()
	if err != nil {
		return c.fail(err)
	}
	defer st.Close()

	switch rest[0] {
	case "put":
		if len(rest) < 2 {
			fmt.Fprintln(c.stderr, "Usage: xvm store put <file>...")
			return exitError
		}
		for _, path := range rest[1:] {
			m, err := o.loadModule(ctx, path)
			if err != nil {
				return c.fail(err)
			}
			if err := st.Put(ctx, m); err != nil {
				return c.fail(err)
			}
			fmt.Fprintf(c.stdout, "Stored %s\n", m.Name)
		}
	case "get":
		if len(rest) != 2 {
			fmt.Fprintln(c.stderr, "Usage: xvm store [-o out] get <name>")
			return exitError
		}
		m, err := st.Get(ctx, rest[1])
		if err != nil {
			return c.fail(err)
		}
		path := *out
		if path == "" {
			path = m.Name + ".xvmod"
		}
		if err := module.WriteFile(path, m); err != nil {
			return c.fail(err)
		}
		fmt.Fprintf(c.stdout, "Wrote %s\n", path)
	case "list":
		entries, err := st.List(ctx)
		if err != nil {
			return c.fail(err)
		}
		tw := tabwriter.NewWriter(c.stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tSIZE\tUPDATED")
		for _, e := range entries {
			fmt.Fprintf(tw, "%s\t%d\t%s\n", e.Name, e.Size, e.Updated.Format("2006-01-02 15:04:05"))
		}
		tw.Flush()
	case "rm":
		if len(rest) != 2 {
			fmt.Fprintln(c.stderr, "Usage: xvm store rm <name>")
			return exitError
		}
		if err := st.Delete(ctx, rest[1]); err != nil {
			return c.fail(err)
		}
		fmt.Fprintf(c.stdout, "Removed %s\n", rest[1])
	default:
		fmt.Fprintf(c.stderr, "Unknown store subcommand: %s\n", rest[0])
		return exitError
	}
	return exitOK
}
