// Command smog drives the compiler and VM end to end: read source text,
// lex and parse it into a Value AST, compile that AST to a FuncDef, and
// either run it, disassemble it, or stress-run it under a forced GC
// interval. The REPL and a standalone lexer/parser binary are explicitly
// out of scope (spec.md §1); this driver exists to exercise the
// compiler/VM/GC core, not to implement a language front end.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/kristofer/smog/internal/diag"
	"github.com/kristofer/smog/pkg/bytecode"
	"github.com/kristofer/smog/pkg/compiler"
	"github.com/kristofer/smog/pkg/gc"
	"github.com/kristofer/smog/pkg/parser"
	"github.com/kristofer/smog/pkg/value"
	"github.com/kristofer/smog/pkg/vm"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "smog",
		Short: "smog compiles and runs register-VM bytecode for a small Lisp-family language",
	}
	root.AddCommand(newRunCmd(), newDisasmCmd(), newBenchCmd())
	return root
}

func newRunCmd() *cobra.Command {
	var memInterval uint64
	var verbose bool
	var debug bool
	cmd := &cobra.Command{
		Use:   "run <file>",
		Short: "compile and execute a source file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			alloc := gc.NewAllocator(uintptr(memInterval))
			if verbose {
				diag.WireGC(alloc, func(format string, a ...any) {
					fmt.Fprintf(cmd.ErrOrStderr(), format+"\n", a...)
				})
			}
			globals := vm.NewGlobals(alloc)
			def, err := compileSource(alloc, globals, string(src))
			if err != nil {
				return err
			}
			machine := vm.New(vm.Config{Alloc: alloc, RootEnv: globals})
			if debug {
				machine.Debugger = vm.NewDebugger(machine)
				machine.Debugger.Enable()
				machine.Debugger.SetStepMode(true)
			}
			result, err := machine.Run(def)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), vm.FormatValue(result))
			return nil
		},
	}
	cmd.Flags().Uint64Var(&memInterval, "memory-interval", 1<<16, "bytes allocated between GC cycles")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "print GC diagnostic lines to stderr")
	cmd.Flags().BoolVar(&debug, "debug", false, "pause before every instruction in an interactive debugger")
	return cmd
}

func newDisasmCmd() *cobra.Command {
	var tree bool
	cmd := &cobra.Command{
		Use:   "disasm <file>",
		Short: "compile a source file and print its bytecode listing, without executing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			alloc := gc.NewAllocator(1 << 20)
			def, err := compileSource(alloc, vm.NewGlobals(alloc), string(src))
			if err != nil {
				return err
			}
			if tree {
				fmt.Fprintln(cmd.OutOrStdout(), bytecode.DisassembleTree(def, "main"))
				return nil
			}
			bytecode.Disassemble(cmd.OutOrStdout(), def, "main")
			return nil
		},
	}
	cmd.Flags().BoolVar(&tree, "tree", false, "print nested function literals as a tree instead of a flat listing")
	return cmd
}

func newBenchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bench <file>",
		Short: "run a source file with memory-interval forced to 0, stress-testing the collector",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			alloc := gc.NewAllocator(0)
			globals := vm.NewGlobals(alloc)
			def, err := compileSource(alloc, globals, string(src))
			if err != nil {
				return err
			}
			machine := vm.New(vm.Config{Alloc: alloc, RootEnv: globals})
			start := time.Now()
			result, err := machine.Run(def)
			elapsed := time.Since(start)
			if err != nil {
				return err
			}
			stats := alloc.Stats()
			fmt.Fprintf(cmd.OutOrStdout(), "result: %s\nelapsed: %s\ngc cycles: %d, freed: %s, live: %s\n",
				vm.FormatValue(result), elapsed, stats.Cycles,
				humanize.Bytes(uint64(stats.FreedBytes)), humanize.Bytes(uint64(stats.LiveBytes)))
			return nil
		},
	}
	return cmd
}

// compileSource runs the lexer/parser/compiler pipeline over src,
// allocating through alloc so the result's literals stay attached to
// the same heap the caller's VM will later trace. rootEnv is the global
// table the compiler resolves bare native names against; pass the same
// table to the VM that will run the result.
func compileSource(alloc *gc.Allocator, rootEnv *value.Table, src string) (*value.FuncDef, error) {
	p := parser.New(alloc, src)
	ast, err := p.ParseProgram()
	if err != nil {
		return nil, err
	}
	c := compiler.New(alloc, rootEnv)
	return c.CompileTopLevel(ast)
}
