package lift

import (
	"fmt"
	"strings"

	"github.com/sp00nznet/burnout3/internal/disasm"
)

// liftInstruction renders one decoded instruction as zero or more C
// statement lines. flags is the dataflow value carried in from
// everything lifted earlier in the same function (reset at branch
// edges by the caller per propagateFlags); lookahead is the next
// instruction in program order within the same block. No case reads
// lookahead: a `cmp/test; jcc` pair in one block is lowered through the
// flag state the cmp leaves for the jcc.
func liftInstruction(ctx *Context, in *disasm.Instruction, flags FlagState, lookahead *disasm.Instruction, fnStart, fnEnd uint32) []string {
	m := in.Mnemonic
	ops := in.Operands

	switch m {
	case "nop", "fnop":
		return nil
	case "mov":
		return []string{fmtOperandWrite(ops[0], fmtOperandRead(ops[1]))}
	case "movzx":
		return []string{fmtOperandWrite(ops[0], fmt.Sprintf("(uint32_t)%s", fmtOperandRead(ops[1])))}
	case "movsx":
		return []string{fmtOperandWrite(ops[0], fmt.Sprintf("(int32_t)(%s)%s", signedCastForSrc(ops[1]), fmtOperandRead(ops[1])))}
	case "lea":
		if ops[1].Kind != disasm.OperandMem {
			return []string{"/* lea: non-memory source */;"}
		}
		return []string{fmtOperandWrite(ops[0], fmtMemAddr(ops[1]))}
	case "xchg":
		return liftXchg(ops)
	case "push":
		return []string{fmt.Sprintf("esp -= 4; MEM32(esp) = %s;", fmtOperandRead(ops[0]))}
	case "pop":
		return []string{fmtOperandWrite(ops[0], "MEM32(esp)") + " esp += 4;"}
	case "pushad":
		return []string{"RECOMP_PUSHAD();"}
	case "popad":
		return []string{"RECOMP_POPAD();"}
	case "pushfd":
		return []string{"esp -= 4; MEM32(esp) = _flags;"}
	case "popfd":
		return []string{"_flags = MEM32(esp); esp += 4;"}

	case "add":
		return []string{fmtOperandWrite(ops[0], fmt.Sprintf("%s + %s", fmtOperandRead(ops[0]), fmtOperandRead(ops[1])))}
	case "sub":
		return []string{fmtOperandWrite(ops[0], fmt.Sprintf("%s - %s", fmtOperandRead(ops[0]), fmtOperandRead(ops[1])))}
	case "adc":
		return []string{fmtOperandWrite(ops[0], fmt.Sprintf("%s + %s + _cf", fmtOperandRead(ops[0]), fmtOperandRead(ops[1])))}
	case "sbb":
		if len(ops) == 2 && isRegNamed(ops[0], regName(ops[1].Reg.String())) {
			// `sbb reg, reg` is the MSVC carry-extension idiom: result is
			// 0 or -1 depending on carry, independent of the register's
			// own value.
			return []string{fmtOperandWrite(ops[0], "_cf ? 0xFFFFFFFFu : 0")}
		}
		return []string{fmtOperandWrite(ops[0], fmt.Sprintf("%s - (%s + _cf)", fmtOperandRead(ops[0]), fmtOperandRead(ops[1])))}
	case "and":
		return []string{fmtOperandWrite(ops[0], fmt.Sprintf("%s & %s", fmtOperandRead(ops[0]), fmtOperandRead(ops[1])))}
	case "or":
		return []string{fmtOperandWrite(ops[0], fmt.Sprintf("%s | %s", fmtOperandRead(ops[0]), fmtOperandRead(ops[1])))}
	case "xor":
		if len(ops) == 2 && ops[0].Kind == disasm.OperandReg && ops[1].Kind == disasm.OperandReg && ops[0].Reg == ops[1].Reg {
			return []string{fmtOperandWrite(ops[0], "0")}
		}
		return []string{fmtOperandWrite(ops[0], fmt.Sprintf("%s ^ %s", fmtOperandRead(ops[0]), fmtOperandRead(ops[1])))}
	case "not":
		return []string{fmtOperandWrite(ops[0], fmt.Sprintf("~%s", fmtOperandRead(ops[0])))}
	case "neg":
		return []string{fmtOperandWrite(ops[0], fmt.Sprintf("-(int32_t)%s", fmtOperandRead(ops[0])))}
	case "inc":
		return []string{fmtOperandWrite(ops[0], fmt.Sprintf("%s + 1", fmtOperandRead(ops[0])))}
	case "dec":
		return []string{fmtOperandWrite(ops[0], fmt.Sprintf("%s - 1", fmtOperandRead(ops[0])))}

	case "imul":
		return liftImul(ops)
	case "mul":
		return liftMul(ops, false)
	case "idiv":
		return liftDiv(ops, true)
	case "div":
		return liftDiv(ops, false)

	case "shl", "sal":
		return []string{fmtOperandWrite(ops[0], fmt.Sprintf("%s << (%s & 31)", fmtOperandRead(ops[0]), fmtOperandRead(ops[1])))}
	case "shr":
		return []string{fmtOperandWrite(ops[0], fmt.Sprintf("%s >> (%s & 31)", fmtOperandRead(ops[0]), fmtOperandRead(ops[1])))}
	case "sar":
		return []string{fmtOperandWrite(ops[0], fmt.Sprintf("(uint32_t)((int32_t)%s >> (%s & 31))", fmtOperandRead(ops[0]), fmtOperandRead(ops[1])))}
	case "rol":
		return []string{fmtOperandWrite(ops[0], fmt.Sprintf("ROL32(%s, %s)", fmtOperandRead(ops[0]), fmtOperandRead(ops[1])))}
	case "ror":
		return []string{fmtOperandWrite(ops[0], fmt.Sprintf("ROR32(%s, %s)", fmtOperandRead(ops[0]), fmtOperandRead(ops[1])))}
	case "shld":
		if len(ops) < 3 {
			return []string{"/* shld: unexpected operand count */;"}
		}
		return []string{fmtOperandWrite(ops[0], fmt.Sprintf("SHLD32(%s, %s, %s)", fmtOperandRead(ops[0]), fmtOperandRead(ops[1]), fmtOperandRead(ops[2])))}
	case "shrd":
		if len(ops) < 3 {
			return []string{"/* shrd: unexpected operand count */;"}
		}
		return []string{fmtOperandWrite(ops[0], fmt.Sprintf("SHRD32(%s, %s, %s)", fmtOperandRead(ops[0]), fmtOperandRead(ops[1]), fmtOperandRead(ops[2])))}

	case "cmp", "test":
		return []string{fmt.Sprintf("/* %s %s */", m, in.OpStr)}

	case "bsf":
		return []string{fmtOperandWrite(ops[0], fmt.Sprintf("BSF32(%s)", fmtOperandRead(ops[1])))}
	case "bsr":
		return []string{fmtOperandWrite(ops[0], fmt.Sprintf("BSR32(%s)", fmtOperandRead(ops[1])))}
	case "bt":
		return []string{fmt.Sprintf("/* bt %s */", in.OpStr)}
	case "bts":
		return []string{fmtOperandWrite(ops[0], fmt.Sprintf("%s | (1u << (%s & 31))", fmtOperandRead(ops[0]), fmtOperandRead(ops[1])))}
	case "btr":
		return []string{fmtOperandWrite(ops[0], fmt.Sprintf("%s & ~(1u << (%s & 31))", fmtOperandRead(ops[0]), fmtOperandRead(ops[1])))}
	case "btc":
		return []string{fmtOperandWrite(ops[0], fmt.Sprintf("%s ^ (1u << (%s & 31))", fmtOperandRead(ops[0]), fmtOperandRead(ops[1])))}
	case "cmpxchg":
		return []string{fmt.Sprintf("if (eax == %s) { %s } else { eax = %s; }",
			fmtOperandRead(ops[0]), fmtOperandWrite(ops[0], fmtOperandRead(ops[1])), fmtOperandRead(ops[0]))}
	case "xadd":
		return []string{fmt.Sprintf("{ uint32_t _t = %s; %s %s }",
			fmtOperandRead(ops[0]),
			fmtOperandWrite(ops[0], fmt.Sprintf("%s + %s", fmtOperandRead(ops[0]), fmtOperandRead(ops[1]))),
			fmtOperandWrite(ops[1], "_t"))}

	case "call":
		return liftCall(ctx, in)
	case "ret", "retf":
		return []string{"return RECOMP_RETURN;"}
	case "jmp":
		return liftJmp(ctx, in, fnStart, fnEnd)
	case "jecxz":
		return liftJcc(ctx, in, flags, lookahead, "ecx == 0")
	case "jcxz":
		return liftJcc(ctx, in, flags, lookahead, "(LO16(ecx)) == 0")

	case "leave":
		return []string{"esp = ebp; ebp = MEM32(esp); esp += 4;"}
	case "cdq":
		return []string{"edx = ((int32_t)eax < 0) ? 0xFFFFFFFFu : 0;"}
	case "cwde":
		return []string{"eax = (uint32_t)(int32_t)(int16_t)LO16(eax);"}
	case "cbw":
		return []string{"SET_LO16(eax, (uint16_t)(int16_t)(int8_t)LO8(eax));"}
	case "cwd":
		return []string{"SET_LO16(edx, (LO16(eax) & 0x8000) ? 0xFFFF : 0);"}
	case "bswap":
		return []string{fmtOperandWrite(ops[0], fmt.Sprintf("BSWAP32(%s)", fmtOperandRead(ops[0])))}
	case "lahf":
		return []string{"SET_HI8(eax, _flags & 0xFF);"}
	case "sahf":
		return []string{"_flags = (_flags & 0xFFFFFF00u) | HI8(eax);"}
	case "cld":
		return []string{"/* cld: direction flag assumed forward throughout */"}
	case "std":
		return []string{"/* std: direction flag assumed forward throughout */"}
	case "int3":
		return []string{"RECOMP_BREAKPOINT();"}
	case "hlt":
		return []string{"RECOMP_HALT();"}

	case "movsb", "movsw", "movsd":
		return liftStringOp(in, "movs")
	case "stosb", "stosw", "stosd":
		return liftStringOp(in, "stos")
	case "lodsb", "lodsw", "lodsd":
		return liftStringOp(in, "lods")
	case "scasb", "scasw", "scasd":
		return liftStringOp(in, "scas")
	case "cmpsb", "cmpsw", "cmpsd":
		return liftStringOp(in, "cmps")

	case "fld", "fld1", "fldz":
		return liftFpuLoad(in)
	case "fst", "fstp":
		return liftFpuStore(in, m == "fstp")
	case "fadd", "faddp", "fsub", "fsubp", "fsubr", "fsubrp",
		"fmul", "fmulp", "fdiv", "fdivp", "fdivr", "fdivrp":
		return liftFpuArith(in)
	case "fcomp", "fcompp", "fcom", "fucom", "fucomp", "fucompp":
		return liftFpuCompare(in)
	case "fcomi", "fcomip", "fucomi", "fucomip":
		return liftFpuCompare(in)
	case "fchs":
		return []string{"_fp_stack[_fp_top] = -_fp_stack[_fp_top];"}
	case "fabs":
		return []string{"_fp_stack[_fp_top] = fabs(_fp_stack[_fp_top]);"}
	case "fsqrt":
		return []string{"_fp_stack[_fp_top] = sqrt(_fp_stack[_fp_top]);"}
	case "fild":
		return liftFpuLoadInt(in)
	case "fistp", "fist":
		return liftFpuStoreInt(in, m == "fistp")
	case "fxch":
		return []string{"{ double _t = _fp_stack[_fp_top]; _fp_stack[_fp_top] = _fp_stack[(_fp_top + 1) & 7]; _fp_stack[(_fp_top + 1) & 7] = _t; }"}
	case "fldcw", "fnstcw", "fclex", "fnclex", "finit", "fninit", "fwait":
		return []string{fmt.Sprintf("/* %s: control word / exception state not modeled */", m)}

	case "movss", "movsd_xmm":
		return []string{fmtSSEWrite(ops[0], fmtSSERead(ops[1]))}
	case "movaps", "movups":
		return []string{fmt.Sprintf("/* %s %s - packed move not modeled, scalar lane only */", m, in.OpStr)}
	case "addss", "addsd":
		return []string{fmtSSEWrite(ops[0], fmt.Sprintf("%s + %s", fmtSSERead(ops[0]), fmtSSERead(ops[1])))}
	case "subss", "subsd":
		return []string{fmtSSEWrite(ops[0], fmt.Sprintf("%s - %s", fmtSSERead(ops[0]), fmtSSERead(ops[1])))}
	case "mulss", "mulsd":
		return []string{fmtSSEWrite(ops[0], fmt.Sprintf("%s * %s", fmtSSERead(ops[0]), fmtSSERead(ops[1])))}
	case "divss", "divsd":
		return []string{fmtSSEWrite(ops[0], fmt.Sprintf("%s / %s", fmtSSERead(ops[0]), fmtSSERead(ops[1])))}
	case "sqrtss", "sqrtsd":
		return []string{fmtSSEWrite(ops[0], fmt.Sprintf("sqrtf(%s)", fmtSSERead(ops[1])))}
	case "minss", "minsd":
		return []string{fmtSSEWrite(ops[0], fmt.Sprintf("(%s < %s ? %s : %s)", fmtSSERead(ops[0]), fmtSSERead(ops[1]), fmtSSERead(ops[0]), fmtSSERead(ops[1])))}
	case "maxss", "maxsd":
		return []string{fmtSSEWrite(ops[0], fmt.Sprintf("(%s > %s ? %s : %s)", fmtSSERead(ops[0]), fmtSSERead(ops[1]), fmtSSERead(ops[0]), fmtSSERead(ops[1])))}
	case "cvtsi2ss", "cvtsi2sd":
		return []string{fmtSSEWrite(ops[0], fmt.Sprintf("(float)(int32_t)%s", fmtOperandRead(ops[1])))}
	case "cvtss2si", "cvtsd2si", "cvttss2si", "cvttsd2si":
		return []string{fmtOperandWrite(ops[0], fmt.Sprintf("(uint32_t)(int32_t)%s", fmtSSERead(ops[1])))}
	case "cvtss2sd", "cvtsd2ss":
		return []string{fmtSSEWrite(ops[0], fmtSSERead(ops[1]))}
	case "comiss", "comisd", "ucomiss", "ucomisd":
		return []string{fmt.Sprintf("/* %s %s */", m, in.OpStr)}
	case "xorps":
		if len(ops) == 2 && ops[0].Kind == disasm.OperandReg && ops[1].Kind == disasm.OperandReg && ops[0].Reg == ops[1].Reg {
			return []string{fmtSSEWrite(ops[0], "0.0f")}
		}
		return []string{fmt.Sprintf("/* xorps %s - packed xor not modeled */", in.OpStr)}
	case "andps", "orps", "pxor", "movq", "movd", "paddd", "psubd", "pand", "por":
		return []string{fmt.Sprintf("/* %s %s - MMX/packed SSE not modeled */", m, in.OpStr)}

	case "rdtsc":
		return []string{"edx = 0; eax = RECOMP_RDTSC();"}
	case "cpuid":
		return []string{"RECOMP_CPUID(eax, &eax, &ebx, &ecx, &edx);"}
	case "wbinvd", "prefetchnta", "prefetcht0", "prefetcht1", "prefetcht2":
		return nil
	}

	if strings.HasPrefix(m, "j") && len(m) > 1 {
		return liftJcc(ctx, in, flags, lookahead, "")
	}

	return []string{fmt.Sprintf("/* unhandled: %s %s */", m, in.OpStr)}
}

func signedCastForSrc(op disasm.Operand) string {
	w := op.MemWidth
	if op.Kind == disasm.OperandReg {
		switch len(op.Reg.String()) {
		case 2:
			w = 1
		}
	}
	switch w {
	case 1:
		return "int8_t"
	case 2:
		return "int16_t"
	default:
		return "int8_t"
	}
}

func liftXchg(ops []disasm.Operand) []string {
	return []string{
		fmt.Sprintf("{ uint32_t _t = %s; %s %s }",
			fmtOperandRead(ops[0]),
			fmtOperandWrite(ops[0], fmtOperandRead(ops[1])),
			fmtOperandWrite(ops[1], "_t")),
	}
}

// liftImul covers all three encodings: one-operand (edx:eax = op *
// eax), two-operand (reg *= src), three-operand (reg = src * imm).
func liftImul(ops []disasm.Operand) []string {
	switch len(ops) {
	case 1:
		return []string{fmt.Sprintf("{ int64_t _p = (int64_t)(int32_t)eax * (int64_t)(int32_t)%s; eax = (uint32_t)_p; edx = (uint32_t)(_p >> 32); }", fmtOperandRead(ops[0]))}
	case 2:
		return []string{fmtOperandWrite(ops[0], fmt.Sprintf("(uint32_t)((int32_t)%s * (int32_t)%s)", fmtOperandRead(ops[0]), fmtOperandRead(ops[1])))}
	case 3:
		return []string{fmtOperandWrite(ops[0], fmt.Sprintf("(uint32_t)((int32_t)%s * (int32_t)%s)", fmtOperandRead(ops[1]), fmtOperandRead(ops[2])))}
	}
	return []string{"/* imul: unexpected operand count */;"}
}

func liftMul(ops []disasm.Operand, signed bool) []string {
	return []string{fmt.Sprintf("{ uint64_t _p = (uint64_t)eax * (uint64_t)%s; eax = (uint32_t)_p; edx = (uint32_t)(_p >> 32); }", fmtOperandRead(ops[0]))}
}

func liftDiv(ops []disasm.Operand, signed bool) []string {
	src := fmtOperandRead(ops[0])
	if signed {
		return []string{fmt.Sprintf("{ int64_t _n = ((int64_t)(int32_t)edx << 32) | (uint32_t)eax; int32_t _d = (int32_t)%s; eax = (uint32_t)(_n / _d); edx = (uint32_t)(_n %% _d); }", src)}
	}
	return []string{fmt.Sprintf("{ uint64_t _n = ((uint64_t)edx << 32) | eax; uint32_t _d = %s; eax = (uint32_t)(_n / _d); edx = (uint32_t)(_n %% _d); }", src)}
}

func liftCall(ctx *Context, in *disasm.Instruction) []string {
	op := in.Operands[0]
	if in.CallTarget != nil {
		name := ctx.callTargetExpr(*in.CallTarget)
		sig, _ := ctx.ABIOf(*in.CallTarget)
		return []string{fmt.Sprintf("%s(%s); /* call 0x%08X */", name, argList(sig), *in.CallTarget)}
	}
	switch op.Kind {
	case disasm.OperandReg:
		return []string{fmt.Sprintf("RECOMP_ICALL(%s);", fmtOperandRead(op))}
	case disasm.OperandMem:
		return []string{fmt.Sprintf("RECOMP_ICALL(%s);", fmtMemRead(op))}
	}
	return []string{"/* call: unresolved target */;"}
}

// liftJmp is §4.I's jump handling: an intra-function jump is a plain
// goto; a jump to an address outside the current function is a tail
// call, lifted as a direct call followed by return; an indirect jump
// uses the RECOMP_ICALL shim, also followed by return.
func liftJmp(ctx *Context, in *disasm.Instruction, fnStart, fnEnd uint32) []string {
	if in.JumpTarget != nil {
		target := *in.JumpTarget
		if target >= fnStart && target < fnEnd {
			return []string{fmt.Sprintf("goto loc_%08X;", target)}
		}
		name := ctx.callTargetExpr(target)
		sig, _ := ctx.ABIOf(target)
		return []string{fmt.Sprintf("%s(%s); /* tail call 0x%08X */ return;", name, argList(sig), target)}
	}
	op := in.Operands[0]
	switch op.Kind {
	case disasm.OperandReg:
		return []string{fmt.Sprintf("RECOMP_ICALL(%s); return;", fmtOperandRead(op))}
	case disasm.OperandMem:
		return []string{fmt.Sprintf("RECOMP_ICALL(%s); return;", fmtMemRead(op))}
	}
	return []string{"/* jmp: unresolved target */;"}
}

// liftJcc emits the branch for a conditional jump. override, when
// non-empty, is used verbatim (jecxz/jcxz, which aren't flag-derived).
// Otherwise the condition is synthesized from the carried flag state,
// falling back to the raw _flags-derived macro the dispatcher's
// unconditional-fallback path understands when no flag setter is known.
func liftJcc(ctx *Context, in *disasm.Instruction, flags FlagState, lookahead *disasm.Instruction, override string) []string {
	target := "0"
	if in.JumpTarget != nil {
		target = fmt.Sprintf("loc_%08X", *in.JumpTarget)
	}
	expr := override
	if expr == "" {
		if cond, ok := makeCondition(in.Mnemonic, flags); ok {
			expr = cond.Expr
		} else {
			expr = fmt.Sprintf("RAW_FLAG_COND_%s(_flags)", strings.ToUpper(strings.TrimPrefix(in.Mnemonic, "j")))
		}
	}
	return []string{fmt.Sprintf("if (%s) goto %s;", expr, target)}
}

func liftStringOp(in *disasm.Instruction, family string) []string {
	width := 4
	switch {
	case strings.HasSuffix(in.Mnemonic, "b"):
		width = 1
	case strings.HasSuffix(in.Mnemonic, "w"):
		width = 2
	}
	rep := "RECOMP_REP_"
	switch family {
	case "movs":
		return []string{fmt.Sprintf("%s%s(edi, esi, ecx); edi += ecx * %d; esi += ecx * %d; ecx = 0;", rep, "MOVS", width, width)}
	case "stos":
		return []string{fmt.Sprintf("%s%s(edi, eax, ecx); edi += ecx * %d; ecx = 0;", rep, "STOS", width)}
	case "lods":
		return []string{fmt.Sprintf("eax = MEM32(esi); esi += %d;", width)}
	case "scas":
		return []string{fmt.Sprintf("/* scas%d: compare-only, flags not modeled */ edi += %d;", width*8, width)}
	case "cmps":
		return []string{fmt.Sprintf("/* cmps%d: compare-only, flags not modeled */ esi += %d; edi += %d;", width*8, width, width)}
	}
	return nil
}

func fmtSSERead(op disasm.Operand) string {
	if op.Kind == disasm.OperandReg {
		return "xmm_" + regName(op.Reg.String())
	}
	if op.Kind == disasm.OperandMem {
		return fmtMemRead(op)
	}
	return fmtOperandRead(op)
}

func fmtSSEWrite(op disasm.Operand, expr string) string {
	if op.Kind == disasm.OperandReg {
		return fmt.Sprintf("xmm_%s = %s;", regName(op.Reg.String()), expr)
	}
	return fmtMemWrite(op, expr)
}

func liftFpuLoad(in *disasm.Instruction) []string {
	lines := []string{"_fp_top = (_fp_top - 1) & 7;"}
	switch in.Mnemonic {
	case "fld1":
		lines = append(lines, "_fp_stack[_fp_top] = 1.0;")
	case "fldz":
		lines = append(lines, "_fp_stack[_fp_top] = 0.0;")
	default:
		op := in.Operands[0]
		if op.Kind == disasm.OperandMem {
			accessor := "MEMF"
			if op.MemWidth == 8 {
				accessor = "MEMD"
			}
			lines = append(lines, fmt.Sprintf("_fp_stack[_fp_top] = %s(%s);", accessor, fmtMemAddr(op)))
		} else {
			lines = append(lines, "_fp_stack[_fp_top] = _fp_stack[(_fp_top + 1) & 7]; /* fld st(i) approximated as fld st(0) */")
		}
	}
	return lines
}

func liftFpuStore(in *disasm.Instruction, pop bool) []string {
	var lines []string
	if len(in.Operands) > 0 {
		op := in.Operands[0]
		if op.Kind == disasm.OperandMem {
			accessor := "MEMF"
			if op.MemWidth == 8 {
				accessor = "MEMD"
			}
			lines = append(lines, fmt.Sprintf("%s(%s) = (float)_fp_stack[_fp_top];", accessor, fmtMemAddr(op)))
		}
	}
	if pop {
		lines = append(lines, "_fp_top = (_fp_top + 1) & 7;")
	}
	return lines
}

func liftFpuArith(in *disasm.Instruction) []string {
	op := "+"
	switch {
	case strings.HasPrefix(in.Mnemonic, "fsub"):
		op = "-"
	case strings.HasPrefix(in.Mnemonic, "fmul"):
		op = "*"
	case strings.HasPrefix(in.Mnemonic, "fdiv"):
		op = "/"
	}
	if len(in.Operands) > 0 && in.Operands[0].Kind == disasm.OperandMem {
		accessor := "MEMF"
		if in.Operands[0].MemWidth == 8 {
			accessor = "MEMD"
		}
		return []string{fmt.Sprintf("_fp_stack[_fp_top] = _fp_stack[_fp_top] %s %s(%s);", op, accessor, fmtMemAddr(in.Operands[0]))}
	}
	pop := strings.HasSuffix(in.Mnemonic, "p")
	lines := []string{fmt.Sprintf("_fp_stack[(_fp_top + 1) & 7] = _fp_stack[_fp_top] %s _fp_stack[(_fp_top + 1) & 7];", op)}
	if pop {
		lines = append(lines, "_fp_top = (_fp_top + 1) & 7;")
	}
	return lines
}

func liftFpuCompare(in *disasm.Instruction) []string {
	if len(in.Operands) > 0 && in.Operands[0].Kind == disasm.OperandMem {
		accessor := "MEMF"
		if in.Operands[0].MemWidth == 8 {
			accessor = "MEMD"
		}
		return []string{fmt.Sprintf("_fpu_cmp = _fp_stack[_fp_top] - %s(%s);", accessor, fmtMemAddr(in.Operands[0]))}
	}
	lines := []string{"_fpu_cmp = _fp_stack[_fp_top] - _fp_stack[(_fp_top + 1) & 7];"}
	if strings.HasSuffix(in.Mnemonic, "p") && !strings.HasSuffix(in.Mnemonic, "pp") {
		lines = append(lines, "_fp_top = (_fp_top + 1) & 7;")
	} else if strings.HasSuffix(in.Mnemonic, "pp") {
		lines = append(lines, "_fp_top = (_fp_top + 2) & 7;")
	}
	return lines
}

func liftFpuLoadInt(in *disasm.Instruction) []string {
	op := in.Operands[0]
	lines := []string{"_fp_top = (_fp_top - 1) & 7;"}
	if op.Kind == disasm.OperandMem {
		accessor := smemAccessor(op.MemWidth)
		lines = append(lines, fmt.Sprintf("_fp_stack[_fp_top] = (double)%s(%s);", accessor, fmtMemAddr(op)))
	}
	return lines
}

func liftFpuStoreInt(in *disasm.Instruction, pop bool) []string {
	var lines []string
	op := in.Operands[0]
	if op.Kind == disasm.OperandMem {
		lines = append(lines, fmt.Sprintf("%s(%s) = (int32_t)_fp_stack[_fp_top];", memAccessor(op.MemWidth), fmtMemAddr(op)))
	}
	if pop {
		lines = append(lines, "_fp_top = (_fp_top + 1) & 7;")
	}
	return lines
}
