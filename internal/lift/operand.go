package lift

import (
	"fmt"
	"strings"

	"github.com/sp00nznet/burnout3/internal/disasm"
)

// subRegReadMacro maps an x86 sub-register name (as reported by x86asm, e.g.
// "AL") to the C read expression over its containing 32-bit local, per
// §4.I's register-lifting rules.
var subRegReadMacro = map[string]string{
	"AL": "LO8(eax)", "AH": "HI8(eax)", "AX": "LO16(eax)",
	"BL": "LO8(ebx)", "BH": "HI8(ebx)", "BX": "LO16(ebx)",
	"CL": "LO8(ecx)", "CH": "HI8(ecx)", "CX": "LO16(ecx)",
	"DL": "LO8(edx)", "DH": "HI8(edx)", "DX": "LO16(edx)",
	"SI": "LO16(esi)", "DI": "LO16(edi)",
	"BP": "LO16(ebp)", "SP": "LO16(esp)",
}

var subRegWriteMacro = map[string]string{
	"AL": "SET_LO8(eax, %s)", "AH": "SET_HI8(eax, %s)", "AX": "SET_LO16(eax, %s)",
	"BL": "SET_LO8(ebx, %s)", "BH": "SET_HI8(ebx, %s)", "BX": "SET_LO16(ebx, %s)",
	"CL": "SET_LO8(ecx, %s)", "CH": "SET_HI8(ecx, %s)", "CX": "SET_LO16(ecx, %s)",
	"DL": "SET_LO8(edx, %s)", "DH": "SET_HI8(edx, %s)", "DX": "SET_LO16(edx, %s)",
	"SI": "SET_LO16(esi, %s)", "DI": "SET_LO16(edi, %s)",
	"BP": "SET_LO16(ebp, %s)", "SP": "SET_LO16(esp, %s)",
}

var segRegs = map[string]bool{"ES": true, "CS": true, "SS": true, "DS": true, "FS": true, "GS": true}

// regName lowercases an x86asm register name for use as a C local
// (EAX -> eax); 32-bit GP registers and xmm/mm registers already match
// the locals the function prologue declares.
func regName(s string) string {
	return strings.ToLower(s)
}

// fmtRegRead formats a register read as a C expression.
func fmtRegRead(name string) string {
	if segRegs[name] {
		return fmt.Sprintf("0 /* seg:%s */", regName(name))
	}
	if m, ok := subRegReadMacro[name]; ok {
		return m
	}
	return regName(name)
}

// fmtRegWrite formats a register write as a complete C statement.
func fmtRegWrite(name, valueExpr string) string {
	if segRegs[name] {
		return fmt.Sprintf("/* mov %s, %s - segment register */;", regName(name), valueExpr)
	}
	if m, ok := subRegWriteMacro[name]; ok {
		return fmt.Sprintf(m, valueExpr) + ";"
	}
	return fmt.Sprintf("%s = %s;", regName(name), valueExpr)
}

// fmtImm renders an immediate as a C literal, matching the small-decimal
// vs. hex convention the translator's output uses throughout.
func fmtImm(v int64) string {
	if v == 0 {
		return "0"
	}
	if v > 0 && v <= 9 {
		return fmt.Sprintf("%d", v)
	}
	if v < 0 {
		return fmt.Sprintf("-0x%X", -v)
	}
	if v > 0x7FFFFFFF {
		return fmt.Sprintf("0x%08Xu", uint32(v))
	}
	return fmt.Sprintf("0x%X", v)
}

func memAccessor(size int) string {
	switch size {
	case 1:
		return "MEM8"
	case 2:
		return "MEM16"
	default:
		return "MEM32"
	}
}

func smemAccessor(size int) string {
	switch size {
	case 1:
		return "SMEM8"
	case 2:
		return "SMEM16"
	default:
		return "SMEM32"
	}
}

// fmtMemAddr builds the address expression for a memory operand:
// base + index*scale + disp, dropping empty parts, rendering a negative
// displacement as "- N" per §4.I.
func fmtMemAddr(op disasm.Operand) string {
	var parts []string
	if op.MemBase != 0 {
		parts = append(parts, fmtRegRead(op.MemBase.String()))
	}
	if op.MemIndex != 0 {
		idx := fmtRegRead(op.MemIndex.String())
		if op.MemScale > 1 {
			parts = append(parts, fmt.Sprintf("%s * %d", idx, op.MemScale))
		} else {
			parts = append(parts, idx)
		}
	}
	neg := ""
	if op.MemDisp != 0 {
		if op.MemDisp < 0 {
			if len(parts) > 0 {
				neg = fmt.Sprintf(" - 0x%X", -op.MemDisp)
			} else {
				parts = append(parts, fmtImm(op.MemDisp))
			}
		} else {
			parts = append(parts, fmtImm(op.MemDisp))
		}
	}
	if len(parts) == 0 {
		return "0"
	}
	return strings.Join(parts, " + ") + neg
}

func fmtMemRead(op disasm.Operand) string {
	return fmt.Sprintf("%s(%s)", memAccessor(op.MemWidth), fmtMemAddr(op))
}

func fmtMemReadSigned(op disasm.Operand) string {
	return fmt.Sprintf("%s(%s)", smemAccessor(op.MemWidth), fmtMemAddr(op))
}

func fmtMemWrite(op disasm.Operand, valueExpr string) string {
	return fmt.Sprintf("%s(%s) = %s;", memAccessor(op.MemWidth), fmtMemAddr(op), valueExpr)
}

// fmtOperandRead formats any operand as a C read expression.
func fmtOperandRead(op disasm.Operand) string {
	switch op.Kind {
	case disasm.OperandReg:
		return fmtRegRead(op.Reg.String())
	case disasm.OperandImm:
		return fmtImm(op.Imm)
	case disasm.OperandMem:
		return fmtMemRead(op)
	default:
		return "/* unknown operand */"
	}
}

// fmtOperandWrite formats a write to any operand as a complete statement.
// Per §4.I, writing to an immediate is never valid and any other target
// degrades to a commented no-op.
func fmtOperandWrite(op disasm.Operand, valueExpr string) string {
	switch op.Kind {
	case disasm.OperandReg:
		return fmtRegWrite(op.Reg.String(), valueExpr)
	case disasm.OperandMem:
		return fmtMemWrite(op, valueExpr)
	default:
		return fmt.Sprintf("/* cannot write to operand: %s */;", valueExpr)
	}
}

func isRegNamed(op disasm.Operand, name string) bool {
	return op.Kind == disasm.OperandReg && regName(op.Reg.String()) == name
}
