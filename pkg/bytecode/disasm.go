package bytecode

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/xlab/treeprint"

	"github.com/kristofer/smog/pkg/value"
)

// Disassemble renders a FuncDef's bytecode as a human-readable listing,
// one instruction per line with its word offset, mnemonic, operands, and
// — for jumps — the resolved target offset. Output is colorized via
// fatih/color when w is a terminal (color auto-detects this); otherwise
// it degrades to plain text, the direct descendant of the teacher
// repo's plain-text instruction dump.
func Disassemble(w io.Writer, def *value.FuncDef, name string) {
	if name == "" {
		name = def.Name
	}
	if name == "" {
		name = "<anonymous>"
	}
	header := color.New(color.Bold)
	header.Fprintf(w, "function %s (arity=%d locals=%d)\n", name, def.Arity, def.Locals)

	mnem := color.New(color.FgCyan)
	lit := color.New(color.FgGreen)
	jmp := color.New(color.FgYellow)

	for pc := 0; pc < len(def.Code); {
		ins, next := Decode(def.Code, pc)
		fmt.Fprintf(w, "  %4d  ", pc)
		mnem.Fprintf(w, "%-14s", ins.Op.String())

		switch ins.Op {
		case JIF, JMP:
			off := UnpackInt32(ins.Operands[len(ins.Operands)-2], ins.Operands[len(ins.Operands)-1])
			target := next + int(off)
			if ins.Op == JIF {
				fmt.Fprintf(w, "r%d ", ins.Operands[0])
			}
			jmp.Fprintf(w, "-> %d", target)
		case LOAD_CONST, MAKE_CLOSURE, LOAD_GLOBAL:
			idx := ins.Operands[len(ins.Operands)-1]
			fmt.Fprintf(w, "r%d ", ins.Operands[0])
			if int(idx) < len(def.Literals) {
				lit.Fprintf(w, "#%d (%s)", idx, describeLiteral(def.Literals[idx]))
			} else {
				lit.Fprintf(w, "#%d", idx)
			}
		default:
			fmt.Fprint(w, formatOperands(ins))
		}
		fmt.Fprintln(w)
		pc = next
	}

	for i, lit := range def.Literals {
		if sub := subFuncDef(lit); sub != nil {
			fmt.Fprintf(w, "\nconst #%d:\n", i)
			Disassemble(w, sub, "")
		}
	}
}

func subFuncDef(v value.Value) *value.FuncDef {
	if v.Kind() == value.KindFuncDef {
		return v.AsFuncDef()
	}
	return nil
}

func describeLiteral(v value.Value) string {
	switch v.Kind() {
	case value.KindNil:
		return "nil"
	case value.KindBool:
		return fmt.Sprintf("%v", v.AsBool())
	case value.KindNumber:
		return fmt.Sprintf("%g", v.AsNumber())
	case value.KindString:
		return fmt.Sprintf("%q", v.Text())
	case value.KindSymbol:
		return v.Text()
	case value.KindFuncDef:
		return "funcdef"
	default:
		return v.Kind().String()
	}
}

func formatOperands(ins Instr) string {
	var b strings.Builder
	for _, o := range ins.Operands {
		fmt.Fprintf(&b, "r%d ", o)
	}
	for _, a := range ins.Args {
		fmt.Fprintf(&b, "r%d ", a)
	}
	return strings.TrimRight(b.String(), " ")
}

// DisassembleString is a convenience wrapper returning the listing as a
// plain string (color codes included if color.NoColor is false).
func DisassembleString(def *value.FuncDef, name string) string {
	var b strings.Builder
	Disassemble(&b, def, name)
	return b.String()
}

// DisassembleTree renders def's nested FuncDef literal pool as an actual
// tree (github.com/xlab/treeprint), an alternative to Disassemble's flat
// "const #N:" listing for the genuinely tree-shaped nesting a closure's
// literal pool produces (spec.md §3, §6: every `fn` literal the compiler
// emits lives as a FuncDef in its enclosing function's literal pool, and
// that pool can itself hold further nested FuncDefs).
func DisassembleTree(def *value.FuncDef, name string) string {
	root := treeprint.New()
	addFuncNode(root, def, name)
	return root.String()
}

func addFuncNode(parent treeprint.Tree, def *value.FuncDef, name string) {
	if name == "" {
		name = def.Name
	}
	if name == "" {
		name = "<anonymous>"
	}
	label := fmt.Sprintf("%s (arity=%d locals=%d instrs=%d)", name, def.Arity, def.Locals, len(DecodeAll(def.Code)))
	branch := parent.AddBranch(label)
	for i, lit := range def.Literals {
		if sub := subFuncDef(lit); sub != nil {
			addFuncNode(branch, sub, fmt.Sprintf("const #%d", i))
		}
	}
}
