// Package abi infers each function's calling convention, frame layout,
// and parameter/return shape from its decoded instructions, per §4.G.
package abi

import (
	"github.com/sp00nznet/burnout3/internal/disasm"
	"github.com/sp00nznet/burnout3/internal/functions"
	"github.com/sp00nznet/burnout3/internal/xbe"
)

// FrameType classifies how a function establishes its stack frame.
type FrameType string

const (
	FrameEBP      FrameType = "ebp_frame"
	FrameFPOStack FrameType = "fpo_stack"
	FrameFPOLeaf  FrameType = "fpo_leaf"
)

// Convention is the inferred calling convention.
type Convention string

const (
	ConventionCdecl         Convention = "cdecl"
	ConventionStdcall       Convention = "stdcall"
	ConventionThiscall      Convention = "thiscall"
	ConventionThiscallCdecl Convention = "thiscall_cdecl"
	ConventionUnknown       Convention = "unknown"
)

// ReturnKind classifies what a function leaves as its result.
type ReturnKind string

const (
	ReturnVoid      ReturnKind = "void"
	ReturnInt       ReturnKind = "int"
	ReturnIntZero   ReturnKind = "int_zero"
	ReturnFloat     ReturnKind = "float"
	ReturnDouble    ReturnKind = "double"
	ReturnFloatSSE  ReturnKind = "float_sse"
	ReturnIntOrVoid ReturnKind = "int_or_void"
	ReturnUnknown   ReturnKind = "unknown"
)

// Signature is one function's inferred ABI.
type Signature struct {
	Start              uint32
	FrameType          FrameType
	StackFrameSize     uint32
	Convention         Convention
	ParamCount         int
	PreservedRegisters []string
	Return             ReturnKind
}

// Infer computes a Signature for every detected function.
func Infer(img *xbe.Image, e *disasm.Engine, funcs []*functions.Function) map[uint32]Signature {
	out := make(map[uint32]Signature, len(funcs))
	for _, f := range funcs {
		out[f.Start] = inferOne(e, f)
	}
	return out
}

func inferOne(e *disasm.Engine, f *functions.Function) Signature {
	insns := e.InstructionsInRange(f.Start, f.End)
	sig := Signature{Start: f.Start}

	sig.FrameType = frameType(insns)
	sig.StackFrameSize = frameSize(insns, sig.FrameType)
	sig.PreservedRegisters = preservedRegs(insns)
	sig.ParamCount = countParams(insns, sig.FrameType)
	sig.Convention, sig.ParamCount = inferConvention(insns, sig.ParamCount)
	sig.Return = inferReturn(insns)
	return sig
}

// frameType is §4.G's three-way prologue test: `push ebp; mov ebp, esp`
// is ebp_frame; a leading `sub esp, imm8` or `sub esp, imm32` with no
// ebp setup is fpo_stack; anything else is fpo_leaf.
func frameType(insns []*disasm.Instruction) FrameType {
	if len(insns) >= 2 && insns[0].Mnemonic == "push" && isRegOperand(insns[0], "ebp") &&
		insns[1].Mnemonic == "mov" && isRegOperand(insns[1], "ebp") &&
		len(insns[1].Operands) > 1 && isRegOperandAt(insns[1], 1, "esp") {
		return FrameEBP
	}
	if len(insns) >= 1 && insns[0].Mnemonic == "sub" && len(insns[0].Operands) >= 2 &&
		isRegOperand(insns[0], "esp") && insns[0].Operands[1].Kind == disasm.OperandImm {
		return FrameFPOStack
	}
	return FrameFPOLeaf
}

func isRegOperand(in *disasm.Instruction, name string) bool {
	return isRegOperandAt(in, 0, name)
}

func isRegOperandAt(in *disasm.Instruction, idx int, name string) bool {
	if len(in.Operands) <= idx || in.Operands[idx].Kind != disasm.OperandReg {
		return false
	}
	return regName(in.Operands[idx].Reg.String()) == name
}

// regName normalizes an x86asm register name ("EBP") to this package's
// lowercase convention ("ebp").
func regName(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// frameSize is §4.G's stack-frame-size rule: for an ebp_frame, the `sub
// esp, N` immediately following the `push ebp; mov ebp, esp` prologue;
// for fpo_stack, the leading `sub esp, N` itself; otherwise zero.
func frameSize(insns []*disasm.Instruction, ft FrameType) uint32 {
	switch ft {
	case FrameEBP:
		if len(insns) < 3 {
			return 0
		}
		third := insns[2]
		if third.Mnemonic != "sub" || len(third.Operands) < 2 || third.Operands[1].Kind != disasm.OperandImm {
			return 0
		}
		return uint32(third.Operands[1].Imm)
	case FrameFPOStack:
		if len(insns) < 1 {
			return 0
		}
		first := insns[0]
		if first.Mnemonic != "sub" || len(first.Operands) < 2 || first.Operands[1].Kind != disasm.OperandImm {
			return 0
		}
		return uint32(first.Operands[1].Imm)
	default:
		return 0
	}
}

// preservedRegs reports callee-saved GP registers pushed near function
// entry — ebx/esi/edi are the usual MSVC callee-saved set beyond ebp.
func preservedRegs(insns []*disasm.Instruction) []string {
	var out []string
	limit := len(insns)
	if limit > 6 {
		limit = 6
	}
	for _, in := range insns[:limit] {
		if in.Mnemonic != "push" || len(in.Operands) == 0 || in.Operands[0].Kind != disasm.OperandReg {
			continue
		}
		switch regName(in.Operands[0].Reg.String()) {
		case "ebx":
			out = append(out, "ebx")
		case "esi":
			out = append(out, "esi")
		case "edi":
			out = append(out, "edi")
		}
	}
	return out
}

// countParams estimates an ebp-framed function's parameter count from its
// [ebp+N] accesses with N >= 8 (the first slot past the saved ebp and
// return address) — the classic MSVC incoming-argument access pattern.
// The highest such N yields ((N-8)/4)+1 parameters.
func countParams(insns []*disasm.Instruction, ft FrameType) int {
	if ft != FrameEBP {
		return 0
	}
	seen := make(map[int64]bool)
	for _, in := range insns {
		for _, op := range in.Operands {
			if op.Kind != disasm.OperandMem {
				continue
			}
			if regName(op.MemBase.String()) != "ebp" {
				continue
			}
			if op.MemDisp >= 8 {
				seen[op.MemDisp] = true
			}
		}
	}
	// Each 4-byte argument slot contributes one displacement; collapse to
	// a count by dividing the span rather than the raw distinct-offset
	// count, since a struct argument is read at multiple offsets.
	if len(seen) == 0 {
		return 0
	}
	maxDisp := int64(8)
	for d := range seen {
		if d > maxDisp {
			maxDisp = d
		}
	}
	return int(((maxDisp - 8) / 4) + 1)
}

// inferConvention is §4.G's calling-convention mapping: the epilogue's
// `ret imm16` (opcode 0xC2) means the callee cleans its own stack;
// otherwise the caller cleans it. Combined with whether the prologue
// shows ecx used as an implicit `this` pointer, the mapping is:
//
//	this-pointer + callee-cleans  -> thiscall
//	this-pointer + caller-cleans  -> thiscall_cdecl
//	no this-pointer + callee-cleans -> stdcall
//	otherwise                      -> cdecl
func inferConvention(insns []*disasm.Instruction, paramCount int) (Convention, int) {
	calleeCleans := false
	popped := paramCount
	for i := len(insns) - 1; i >= 0; i-- {
		in := insns[i]
		if in.Mnemonic != "ret" {
			continue
		}
		if len(in.Operands) == 1 && in.Operands[0].Kind == disasm.OperandImm {
			calleeCleans = true
			popped = int(in.Operands[0].Imm) / 4
		}
		break
	}

	hasThis := usesECXAsThis(insns)
	switch {
	case hasThis && calleeCleans:
		return ConventionThiscall, popped
	case hasThis && !calleeCleans:
		return ConventionThiscallCdecl, paramCount
	case !hasThis && calleeCleans:
		return ConventionStdcall, popped
	default:
		return ConventionCdecl, paramCount
	}
}

// usesECXAsThis is §4.G's this-pointer heuristic: `mov reg, [ecx]`, `mov
// reg, [ecx+disp8]`, `mov [ecx+disp8], reg`, and `mov reg, ecx` all
// consume ecx as an incoming this pointer rather than a scratch
// register. Only the instructions before ecx is ever itself written are
// considered, since a later `mov ecx, ...` means any prior this-pointer
// semantics no longer hold for the rest of the body.
func usesECXAsThis(insns []*disasm.Instruction) bool {
	for _, in := range insns {
		for _, op := range in.Operands {
			if op.Kind == disasm.OperandMem && regName(op.MemBase.String()) == "ecx" {
				return true
			}
		}
		if in.Mnemonic == "mov" && len(in.Operands) == 2 && isRegOperandAt(in, 1, "ecx") {
			return true
		}
		if in.Mnemonic == "mov" && isRegOperand(in, "ecx") {
			return false
		}
	}
	return false
}

// inferReturn is §4.G's return-hint rule: walk the last 16 bytes'
// worth of instructions before each ret, nearest first; the first
// recognized instruction decides. An FPU load/store left on the
// stack at function exit means a float/double result, its width coming
// from the operand size; `xor eax, eax` in that window is the int_zero
// idiom; a scalar SSE move into an xmm register is float_sse; anything
// else observed is int_or_void.
func inferReturn(insns []*disasm.Instruction) ReturnKind {
	const lookback = 16
	for i, in := range insns {
		if in.Mnemonic != "ret" {
			continue
		}
		for j := i - 1; j >= 0 && insns[j].Address+lookback >= in.Address; j-- {
			prev := insns[j]
			switch prev.Mnemonic {
			case "fld", "fstp", "fst":
				if len(prev.Operands) > 0 && prev.Operands[0].Kind == disasm.OperandMem && prev.Operands[0].MemWidth == 8 {
					return ReturnDouble
				}
				return ReturnFloat
			case "movss", "movsd_xmm":
				if len(prev.Operands) > 0 && prev.Operands[0].Kind == disasm.OperandReg {
					return ReturnFloatSSE
				}
			case "xor":
				if len(prev.Operands) == 2 && isRegOperand(prev, "eax") && isRegOperandAt(prev, 1, "eax") {
					return ReturnIntZero
				}
			}
		}
	}
	return ReturnIntOrVoid
}
