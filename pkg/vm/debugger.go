// Package vm - debugger support
package vm

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/kristofer/smog/pkg/bytecode"
)

// Debugger provides interactive pause/step/breakpoint support over the
// dispatch loop: the VM calls beforeStep before executing each decoded
// instruction, which is where breakpoints and step mode take effect.
type Debugger struct {
	vm          *VM
	breakpoints map[int]bool
	stepMode    bool
	enabled     bool
}

// NewDebugger creates a debugger instance bound to vm.
func NewDebugger(vm *VM) *Debugger {
	return &Debugger{vm: vm, breakpoints: make(map[int]bool)}
}

func (d *Debugger) Enable()                    { d.enabled = true }
func (d *Debugger) Disable()                   { d.enabled = false }
func (d *Debugger) SetStepMode(enabled bool)    { d.stepMode = enabled }
func (d *Debugger) AddBreakpoint(pc int)        { d.breakpoints[pc] = true }
func (d *Debugger) RemoveBreakpoint(pc int)     { delete(d.breakpoints, pc) }
func (d *Debugger) ClearBreakpoints()           { d.breakpoints = make(map[int]bool) }

// beforeStep is invoked by the dispatch loop immediately before
// executing ins at frame fi. It blocks on an interactive prompt when
// either step mode is on or pc has a registered breakpoint.
func (d *Debugger) beforeStep(vm *VM, fi int, ins bytecode.Instr) {
	frame := vm.thread.Frames[fi]
	if !d.stepMode && !d.breakpoints[frame.PC] {
		return
	}
	fmt.Printf("\n=== paused: frame %d pc=%d ===\n", fi, frame.PC)
	d.showInstruction(fi, ins)
	d.prompt(fi)
}

func (d *Debugger) showInstruction(fi int, ins bytecode.Instr) {
	frame := d.vm.thread.Frames[fi]
	fmt.Printf("  %4d: %s", frame.PC, ins.Op)
	for _, o := range ins.Operands {
		fmt.Printf(" %d", o)
	}
	if len(ins.Args) > 0 {
		fmt.Printf(" args=%v", ins.Args)
	}
	fmt.Println()
}

func (d *Debugger) showRegs(fi int) {
	frame := d.vm.thread.Frames[fi]
	fmt.Println("Registers:")
	for i := 0; i < frame.Size; i++ {
		fmt.Printf("  r%d = %v\n", i, d.vm.thread.Regs[frame.Base+i])
	}
}

func (d *Debugger) showCallStack() {
	fmt.Println("Call stack (innermost first):")
	frames := d.vm.thread.Frames
	for i := len(frames) - 1; i >= 0; i-- {
		f := frames[i]
		name := f.Callee.Def.Name
		if name == "" {
			name = "<anonymous>"
		}
		fmt.Printf("  %s [pc=%d base=%d size=%d]\n", name, f.PC, f.Base, f.Size)
	}
}

func (d *Debugger) listInstructions(fi int) {
	frame := d.vm.thread.Frames[fi]
	code := frame.Callee.Def.Code
	fmt.Println("Instructions:")
	for _, ins := range bytecode.DecodeAll(code) {
		fmt.Printf("  %s\n", ins.Op)
	}
}

// prompt runs the interactive debugger REPL until a command resumes
// execution (continue/step/next) or quit aborts the run.
func (d *Debugger) prompt(fi int) {
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("debug> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		parts := strings.Fields(line)
		switch parts[0] {
		case "help", "h", "?":
			d.printHelp()
		case "continue", "c":
			d.SetStepMode(false)
			return
		case "step", "s", "next", "n":
			d.SetStepMode(true)
			return
		case "regs", "r":
			d.showRegs(fi)
		case "callstack", "cs":
			d.showCallStack()
		case "list", "ls":
			d.listInstructions(fi)
		case "break", "b":
			if len(parts) < 2 {
				fmt.Println("usage: break <pc>")
				continue
			}
			pc, err := strconv.Atoi(parts[1])
			if err != nil {
				fmt.Println("invalid pc")
				continue
			}
			d.AddBreakpoint(pc)
		case "delete", "d":
			if len(parts) < 2 {
				fmt.Println("usage: delete <pc>")
				continue
			}
			pc, err := strconv.Atoi(parts[1])
			if err != nil {
				fmt.Println("invalid pc")
				continue
			}
			d.RemoveBreakpoint(pc)
		case "quit", "q":
			d.Disable()
			return
		default:
			fmt.Printf("unknown command: %s (type 'help')\n", parts[0])
		}
	}
}

func (d *Debugger) printHelp() {
	fmt.Println("Debugger commands:")
	fmt.Println("  help, h, ?        show this help")
	fmt.Println("  continue, c       resume until next breakpoint")
	fmt.Println("  step, s, next, n  pause again after the next instruction")
	fmt.Println("  regs, r           show the active frame's registers")
	fmt.Println("  callstack, cs     show the frame stack")
	fmt.Println("  list, ls          list the active frame's instructions")
	fmt.Println("  break <pc>, b     set a breakpoint")
	fmt.Println("  delete <pc>, d    remove a breakpoint")
	fmt.Println("  quit, q           disable the debugger and run to completion")
}
