// Package lift implements the x86->C lifter of §4.I: operand and
// condition synthesis, basic-block construction with EFLAGS modeled as
// forward dataflow, per-instruction translation, and whole-function and
// whole-program C emission.
package lift

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/sp00nznet/burnout3/internal/abi"
	"github.com/sp00nznet/burnout3/internal/disasm"
	"github.com/sp00nznet/burnout3/internal/functions"
)

// Function is one function's complete C translation.
type Function struct {
	Start    uint32
	Name     string
	Source   string // full C function definition, including signature
	Failed   bool   // true if translation fell back to a stub
	Category string // classification category (§4.F); set by the caller after lifting
}

// LiftFunction translates one detected function into a C function
// definition. On any panic recovered from a malformed instruction
// stream, it degrades to a stub per §5's failure-isolation rule rather
// than aborting the whole program's translation.
func LiftFunction(ctx *Context, e *disasm.Engine, fn *functions.Function, sig abi.Signature) (out Function) {
	out = Function{Start: fn.Start, Name: fn.Name}
	defer func() {
		if r := recover(); r != nil {
			out.Failed = true
			out.Source = fmt.Sprintf("/* FAILED: %s (%v) */\nvoid %s(void) { RECOMP_UNTRANSLATED(0x%08X); }\n", fn.Name, r, fn.Name, fn.Start)
		}
	}()

	insns := e.InstructionsInRange(fn.Start, fn.End)
	if len(insns) == 0 {
		out.Failed = true
		out.Source = fmt.Sprintf("/* FAILED: %s - no instructions recovered */\nvoid %s(void) { RECOMP_UNTRANSLATED(0x%08X); }\n", fn.Name, fn.Name, fn.Start)
		return out
	}

	blocks := buildBlocks(insns)
	usedRegs := findUsedRegisters(insns)
	if sig.ParamCount > 0 {
		usedRegs["esp"] = true
		usedRegs["ebp"] = true
	}
	usedXMM := findUsedXMM(insns)
	needsFlags, needsCF, needsFPU := findFlagsFPUNeed(insns)

	var b strings.Builder
	writeSignature(&b, fn, sig)
	b.WriteString(" {\n")
	writeDeclarations(&b, usedRegs, usedXMM, needsFlags, needsCF, needsFPU)
	writeParamBindings(&b, sig)

	labelTargets := collectLabelTargets(insns)

	for _, blk := range blocks {
		if labelTargets[blk.Start] {
			fmt.Fprintf(&b, "loc_%08X:\n", blk.Start)
		}
		flagState := blk.InFlags
		for i, in := range blk.Instructions {
			var lookahead *disasm.Instruction
			if i+1 < len(blk.Instructions) {
				lookahead = blk.Instructions[i+1]
			}
			for _, line := range liftInstruction(ctx, in, flagState, lookahead, fn.Start, fn.End) {
				b.WriteString("    ")
				b.WriteString(line)
				b.WriteString("\n")
			}
			flagState = nextFlagState(in, flagState)
		}
		if blk.HasFallThrough && !labelTargets[blk.FallsThrough] {
			// Fall-through to a block with no incoming branch edge needs
			// no explicit goto; the C control flow already lands there.
			continue
		}
		if blk.HasFallThrough {
			fmt.Fprintf(&b, "    goto loc_%08X;\n", blk.FallsThrough)
		}
	}

	b.WriteString("}\n")
	out.Source = rewriteDeadGotos(b.String())
	return out
}

func writeSignature(b *strings.Builder, fn *functions.Function, sig abi.Signature) {
	ret := "void"
	switch sig.Return {
	case abi.ReturnInt, abi.ReturnIntZero, abi.ReturnIntOrVoid:
		ret = "uint32_t"
	case abi.ReturnFloat, abi.ReturnFloatSSE:
		ret = "float"
	case abi.ReturnDouble:
		ret = "double"
	}
	params := make([]string, 0, sig.ParamCount)
	for i := 0; i < sig.ParamCount; i++ {
		params = append(params, fmt.Sprintf("uint32_t a%d", i))
	}
	fmt.Fprintf(b, "%s %s(%s)", ret, fn.Name, strings.Join(params, ", "))
}

// writeParamBindings seeds the simulated stack with the incoming
// arguments at the displacement the callee's own [ebp+N] reads expect:
// esp+4 holds the first stack argument at entry (esp+0 is the return
// address slot the caller's call instruction would have pushed), so
// after the prologue's `push ebp; mov ebp, esp` that same value sits at
// [ebp+8].
func writeParamBindings(b *strings.Builder, sig abi.Signature) {
	if sig.ParamCount == 0 {
		return
	}
	for i := 0; i < sig.ParamCount; i++ {
		fmt.Fprintf(b, "    MEM32(esp + 4 + %d) = a%d;\n", i*4, i)
	}
}

// writeDeclarations emits the register locals a function actually
// touches, plus scratch locals chosen by a scan of the whole body:
// _flags when it has any conditional jump, _cf when it has an adc or
// sbb, and the x87 stack locals when any mnemonic starts with "f",
// rather than a fixed set for every function. esp is special-cased to a
// fresh host-backed stack region rather than zero: the simulated
// address space is the whole guest VA range, so a zero-initialized
// stack pointer would alias real global data at low addresses.
func writeDeclarations(b *strings.Builder, regs map[string]bool, xmm map[string]bool, needsFlags, needsCF, needsFPU bool) {
	order := []string{"eax", "ebx", "ecx", "edx", "esi", "edi", "ebp"}
	for _, r := range order {
		if regs[r] {
			fmt.Fprintf(b, "    uint32_t %s = 0;\n", r)
		}
	}
	if regs["esp"] {
		b.WriteString("    uint32_t esp = RECOMP_STACK_ALLOC(RECOMP_DEFAULT_FRAME_BYTES);\n")
	}
	for i := 0; i < 8; i++ {
		name := fmt.Sprintf("xmm_xmm%d", i)
		if xmm[fmt.Sprintf("xmm%d", i)] {
			fmt.Fprintf(b, "    float %s = 0.0f;\n", name)
		}
	}
	if needsFlags {
		b.WriteString("    uint32_t _flags = 0;\n")
	}
	if needsCF {
		b.WriteString("    uint32_t _cf = 0;\n")
	}
	if needsFPU {
		b.WriteString("    double _fp_stack[8] = {0};\n    int _fp_top = 0;\n    double _fpu_cmp = 0.0;\n")
	}
}

func findUsedRegisters(insns []*disasm.Instruction) map[string]bool {
	used := make(map[string]bool)
	mark := func(op disasm.Operand) {
		switch op.Kind {
		case disasm.OperandReg:
			used[baseRegOf(op.Reg.String())] = true
		case disasm.OperandMem:
			if op.MemBase != 0 {
				used[baseRegOf(op.MemBase.String())] = true
			}
			if op.MemIndex != 0 {
				used[baseRegOf(op.MemIndex.String())] = true
			}
		}
	}
	for _, in := range insns {
		for _, op := range in.Operands {
			mark(op)
		}
		switch in.Mnemonic {
		case "call", "ret", "push", "pop", "leave", "pushad", "popad":
			used["esp"] = true
		}
		if strings.HasPrefix(in.Mnemonic, "mul") || strings.HasPrefix(in.Mnemonic, "div") || in.Mnemonic == "imul" || in.Mnemonic == "cdq" || in.Mnemonic == "cwde" {
			used["eax"] = true
			used["edx"] = true
		}
	}
	return used
}

func baseRegOf(name string) string {
	n := regName(name)
	if m, ok := subRegBase[n]; ok {
		return m
	}
	return n
}

var subRegBase = map[string]string{
	"al": "eax", "ah": "eax", "ax": "eax",
	"bl": "ebx", "bh": "ebx", "bx": "ebx",
	"cl": "ecx", "ch": "ecx", "cx": "ecx",
	"dl": "edx", "dh": "edx", "dx": "edx",
	"si": "esi", "di": "edi", "bp": "ebp", "sp": "esp",
}

func findUsedXMM(insns []*disasm.Instruction) map[string]bool {
	used := make(map[string]bool)
	for _, in := range insns {
		if !strings.Contains(in.Mnemonic, "ss") && !strings.Contains(in.Mnemonic, "sd") && in.Mnemonic != "xorps" {
			continue
		}
		for _, op := range in.Operands {
			if op.Kind == disasm.OperandReg {
				name := regName(op.Reg.String())
				if strings.HasPrefix(name, "xmm") {
					used[name] = true
				}
			}
		}
	}
	return used
}

func findFlagsFPUNeed(insns []*disasm.Instruction) (flags, cf, fpu bool) {
	for _, in := range insns {
		if strings.HasPrefix(in.Mnemonic, "j") && len(in.Mnemonic) > 1 && in.Mnemonic != "jmp" {
			flags = true
		}
		if in.Mnemonic == "sbb" || in.Mnemonic == "adc" {
			cf = true
		}
		if strings.HasPrefix(in.Mnemonic, "f") {
			fpu = true
		}
	}
	return
}

func collectLabelTargets(insns []*disasm.Instruction) map[uint32]bool {
	out := make(map[uint32]bool)
	for _, in := range insns {
		if in.JumpTarget != nil {
			out[*in.JumpTarget] = true
		}
	}
	return out
}

var gotoLine = regexp.MustCompile(`^(\s*)goto (loc_[0-9A-Fa-f]{8});\s*$`)
var labelLine = regexp.MustCompile(`^(loc_[0-9A-Fa-f]{8}):\s*$`)

// rewriteDeadGotos comments out an unconditional `goto L;` that is
// immediately followed by `L:` — the label it jumps to is the very
// next line, so the jump is a no-op left over from block splitting.
func rewriteDeadGotos(src string) string {
	lines := strings.Split(src, "\n")
	for i := 0; i+1 < len(lines); i++ {
		gm := gotoLine.FindStringSubmatch(lines[i])
		if gm == nil {
			continue
		}
		lm := labelLine.FindStringSubmatch(lines[i+1])
		if lm == nil {
			continue
		}
		if gm[2] == lm[1] {
			lines[i] = gm[1] + "/* " + strings.TrimSpace(lines[i]) + " (falls through) */"
		}
	}
	return strings.Join(lines, "\n")
}

// sortedFunctionNames is a small helper the dispatch-table writer uses
// to produce deterministic VA-sorted output.
func sortedFunctionNames(fns []Function) []Function {
	out := append([]Function(nil), fns...)
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}
