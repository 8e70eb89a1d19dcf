package lift

import (
	"fmt"

	"github.com/sp00nznet/burnout3/internal/disasm"
)

// FlagState is the dataflow value the translator carries between basic
// blocks along fall-through edges: the mnemonic of the instruction that
// last set the flags, and the operands it set them from. A zero value
// means "unknown" — the synthesized condition falls back to the _flags
// local. This must be threaded as a plain value, never a shared
// variable, so that per-function lifting stays safe to parallelize
// (§9 "flag state as dataflow").
type FlagState struct {
	Setter   string
	Operands []disasm.Operand
	Valid    bool
}

// flagSetters overwrite the flag state with their own operands.
var flagSetters = map[string]bool{
	"cmp": true, "test": true, "sub": true, "add": true, "and": true, "or": true, "xor": true,
	"inc": true, "dec": true, "neg": true, "shl": true, "shr": true, "sar": true,
	"imul": true, "adc": true, "sbb": true,
	"shld": true, "shrd": true, "rol": true, "ror": true, "rcl": true, "rcr": true,
	"bsf": true, "bsr": true, "bt": true, "bts": true, "btr": true, "btc": true,
	"cmpxchg": true, "xadd": true,
	"comiss": true, "comisd": true, "ucomiss": true, "ucomisd": true,
}

// flagDestroyers clear the flag state: the result they leave in EFLAGS
// is unpredictable or not modeled.
var flagDestroyers = map[string]bool{
	"mul": true, "div": true, "idiv": true, "rdtsc": true, "cpuid": true,
}

// flagPreservers leave the existing flag state untouched: every data
// movement, stack op, lea, SSE data op, prefetch, and non-compare FPU
// instruction.
var flagPreservers = map[string]bool{
	"mov": true, "lea": true, "push": true, "pop": true, "nop": true, "leave": true, "ret": true,
	"movzx": true, "movsx": true, "xchg": true, "bswap": true,
	"cdq": true, "cwde": true, "cbw": true, "cwd": true, "lahf": true, "not": true, "call": true,
	"cld": true, "std": true, "cli": true, "sti": true,
	"movss": true, "movsd": true, "movsd_xmm": true,
	"fld": true, "fld1": true, "fldz": true, "fild": true, "fst": true, "fstp": true, "fist": true, "fistp": true,
	"fadd": true, "faddp": true, "fsub": true, "fsubp": true, "fsubr": true, "fsubrp": true,
	"fmul": true, "fmulp": true, "fdiv": true, "fdivp": true, "fdivr": true, "fdivrp": true,
	"fchs": true, "fabs": true, "fsqrt": true, "fxch": true, "fldcw": true, "fnstcw": true, "fnstsw": true, "fwait": true,
	"addss": true, "subss": true, "mulss": true, "divss": true,
	"minss": true, "maxss": true, "sqrtss": true, "rsqrtss": true, "rcpss": true,
	"addsd": true, "subsd": true, "mulsd": true, "divsd": true,
	"cvtsi2ss": true, "cvtss2si": true, "cvttss2si": true,
	"cvtsi2sd": true, "cvtsd2si": true, "cvttsd2si": true,
	"cvtss2sd": true, "cvtsd2ss": true,
	"movaps": true, "movups": true, "xorps": true, "andps": true, "orps": true,
	"stosb": true, "stosw": true, "stosd": true,
	"movsb": true, "movsw": true,
	"lodsb": true, "lodsw": true, "lodsd": true,
	"prefetchnta": true, "prefetcht0": true, "prefetcht1": true, "prefetcht2": true,
}

// fpuCompareSetters are the instructions whose result lives in _fpu_cmp
// rather than in operand-derived flags.
var fpuCompareSetters = map[string]bool{
	"fcompi": true, "fcomip": true, "fucomi": true, "fucompi": true,
	"fucomip": true, "fcomi": true, "sahf": true,
}

// nextFlagState computes the flag state after executing one instruction,
// given the state carried in from the previous instruction.
func nextFlagState(in *disasm.Instruction, prev FlagState) FlagState {
	m := in.Mnemonic
	if flagSetters[m] || fpuCompareSetters[m] {
		return FlagState{Setter: m, Operands: in.Operands, Valid: true}
	}
	if flagDestroyers[m] {
		return FlagState{}
	}
	if flagPreservers[m] {
		return prev
	}
	// Unknown mnemonic: conservatively clear, per §4.I.
	return FlagState{}
}

type condResult struct {
	Expr string
	Desc string
}

// fpuCondOps maps a jcc mnemonic to the comparison operator applied to
// _fpu_cmp when the flag setter was an fcomi family instruction or sahf.
var fpuCondOps = map[string]string{
	"ja": ">", "jnbe": ">",
	"jae": ">=", "jnb": ">=", "jnc": ">=",
	"jb": "<", "jnae": "<", "jc": "<",
	"jbe": "<=", "jna": "<=",
	"je": "==", "jz": "==",
	"jne": "!=", "jnz": "!=",
}

var condDesc = map[string]string{
	"je": "equal / zero", "jz": "zero", "jne": "not equal / not zero", "jnz": "not zero",
	"jb": "below (unsigned <)", "jnae": "below", "jae": "above or equal (unsigned >=)", "jnb": "above or equal",
	"jbe": "below or equal (unsigned <=)", "jna": "below or equal", "ja": "above (unsigned >)",
	"jl": "less (signed <)", "jge": "greater or equal (signed >=)", "jle": "less or equal (signed <=)",
	"jg": "greater (signed >)", "js": "sign (negative)", "jns": "not sign (positive)",
	"jo": "overflow", "jno": "not overflow", "jp": "parity", "jnp": "not parity",
	"jecxz": "ecx is zero", "jcxz": "cx is zero",
}

// makeCondition synthesizes a C boolean expression for a jcc/setcc/cmovcc
// condition code, given the flag state carried from the instruction(s)
// that last set the flags. Returns ok=false when the pattern isn't
// recognized or doesn't carry enough operands, in which case the caller
// falls back to the _flags local.
func makeCondition(jcc string, fs FlagState) (condResult, bool) {
	if !fs.Valid {
		return condResult{}, false
	}
	desc := condDesc[jcc]

	if fpuCompareSetters[fs.Setter] {
		if op, ok := fpuCondOps[jcc]; ok {
			return condResult{Expr: fmt.Sprintf("(_fpu_cmp %s 0) /* %s */", op, fs.Setter), Desc: desc}, true
		}
		if jcc == "jp" {
			return condResult{Expr: "0 /* fpu: unordered/NaN */", Desc: desc}, true
		}
		if jcc == "jnp" {
			return condResult{Expr: "1 /* fpu: ordered */", Desc: desc}, true
		}
		return condResult{}, false
	}

	var lhs, rhs string
	haveRHS := false
	if len(fs.Operands) >= 2 {
		lhs = fmtOperandRead(fs.Operands[0])
		rhs = fmtOperandRead(fs.Operands[1])
		haveRHS = true
	} else if len(fs.Operands) == 1 {
		lhs = fmtOperandRead(fs.Operands[0])
	} else {
		return condResult{}, false
	}

	if fs.Setter == "comiss" || fs.Setter == "comisd" || fs.Setter == "ucomiss" || fs.Setter == "ucomisd" {
		return sseCompareCondition(jcc, fs.Operands, desc)
	}

	switch fs.Setter {
	case "cmp":
		return cmpCondition(jcc, lhs, rhs, haveRHS, desc)
	case "test":
		return testCondition(jcc, lhs, rhs, haveRHS, desc)
	case "sub":
		return subCondition(jcc, lhs, rhs, haveRHS, desc)
	case "add":
		return addCondition(jcc, lhs, rhs, haveRHS, desc)
	case "adc", "sbb":
		return resultOnlyCondition(jcc, lhs, desc)
	case "and", "or", "xor":
		return bitwiseCondition(jcc, lhs, desc)
	case "inc", "dec":
		return incDecCondition(jcc, lhs, desc)
	case "neg":
		return negCondition(jcc, lhs, desc)
	case "shl", "shr", "sar", "shld", "shrd":
		return resultOnlyCondition(jcc, lhs, desc)
	case "rol", "ror", "rcl", "rcr":
		return condResult{}, false
	case "bsf", "bsr":
		if !haveRHS {
			return condResult{}, false
		}
		return bsfCondition(jcc, rhs, desc)
	case "bt", "bts", "btr", "btc":
		if !haveRHS {
			return condResult{}, false
		}
		return btCondition(jcc, lhs, rhs, desc)
	case "cmpxchg":
		return cmpxchgCondition(jcc, lhs, desc)
	case "xadd":
		return resultOnlyCondition(jcc, lhs, desc)
	}
	return condResult{}, false
}

func cmpCondition(jcc, lhs, rhs string, haveRHS bool, desc string) (condResult, bool) {
	if !haveRHS {
		return condResult{}, false
	}
	if m, ok := cmpMacro(jcc); ok {
		return condResult{Expr: fmt.Sprintf("%s(%s, %s)", m, lhs, rhs), Desc: desc}, true
	}
	switch jcc {
	case "js":
		return condResult{Expr: fmt.Sprintf("((int32_t)(%s - %s) < 0)", lhs, rhs), Desc: desc}, true
	case "jns":
		return condResult{Expr: fmt.Sprintf("((int32_t)(%s - %s) >= 0)", lhs, rhs), Desc: desc}, true
	case "jp", "jnp":
		return condResult{Expr: fmt.Sprintf("1 /* %s after cmp - parity */", jcc), Desc: desc}, true
	}
	return condResult{}, false
}

func testCondition(jcc, lhs, rhs string, haveRHS bool, desc string) (condResult, bool) {
	if !haveRHS {
		return condResult{}, false
	}
	switch jcc {
	case "je", "jz":
		return condResult{Expr: fmt.Sprintf("TEST_Z(%s, %s)", lhs, rhs), Desc: desc}, true
	case "jne", "jnz":
		return condResult{Expr: fmt.Sprintf("TEST_NZ(%s, %s)", lhs, rhs), Desc: desc}, true
	case "js":
		return condResult{Expr: fmt.Sprintf("TEST_S(%s, %s)", lhs, rhs), Desc: desc}, true
	case "jns":
		return condResult{Expr: fmt.Sprintf("((int32_t)(%s & %s) >= 0)", lhs, rhs), Desc: desc}, true
	case "jo":
		return condResult{Expr: "0", Desc: desc}, true
	case "jno":
		return condResult{Expr: "1", Desc: desc}, true
	case "jp", "jnp":
		return condResult{Expr: fmt.Sprintf("1 /* %s after test - parity */", jcc), Desc: desc}, true
	}
	return condResult{}, false
}

func subCondition(jcc, lhs, rhs string, haveRHS bool, desc string) (condResult, bool) {
	switch jcc {
	case "je", "jz":
		return condResult{Expr: fmt.Sprintf("(%s == 0)", lhs), Desc: desc}, true
	case "jne", "jnz":
		return condResult{Expr: fmt.Sprintf("(%s != 0)", lhs), Desc: desc}, true
	case "js":
		return condResult{Expr: fmt.Sprintf("((int32_t)%s < 0)", lhs), Desc: desc}, true
	case "jns":
		return condResult{Expr: fmt.Sprintf("((int32_t)%s >= 0)", lhs), Desc: desc}, true
	}
	if !haveRHS {
		return condResult{}, false
	}
	switch jcc {
	case "jb", "jnae":
		return condResult{Expr: fmt.Sprintf("((uint32_t)%s + (uint32_t)%s < (uint32_t)%s)", lhs, rhs, rhs), Desc: desc}, true
	case "jae", "jnb":
		return condResult{Expr: fmt.Sprintf("((uint32_t)%s + (uint32_t)%s >= (uint32_t)%s)", lhs, rhs, rhs), Desc: desc}, true
	case "jl", "jnge":
		return condResult{Expr: fmt.Sprintf("((int32_t)%s < 0)", lhs), Desc: desc}, true
	case "jge", "jnl":
		return condResult{Expr: fmt.Sprintf("((int32_t)%s >= 0)", lhs), Desc: desc}, true
	case "jle", "jng":
		return condResult{Expr: fmt.Sprintf("((int32_t)%s <= 0)", lhs), Desc: desc}, true
	case "jg", "jnle":
		return condResult{Expr: fmt.Sprintf("((int32_t)%s > 0)", lhs), Desc: desc}, true
	}
	return condResult{}, false
}

func addCondition(jcc, lhs, rhs string, haveRHS bool, desc string) (condResult, bool) {
	switch jcc {
	case "je", "jz":
		return condResult{Expr: fmt.Sprintf("(%s == 0)", lhs), Desc: desc}, true
	case "jne", "jnz":
		return condResult{Expr: fmt.Sprintf("(%s != 0)", lhs), Desc: desc}, true
	case "js":
		return condResult{Expr: fmt.Sprintf("((int32_t)%s < 0)", lhs), Desc: desc}, true
	case "jns":
		return condResult{Expr: fmt.Sprintf("((int32_t)%s >= 0)", lhs), Desc: desc}, true
	case "jl", "jnge":
		return condResult{Expr: fmt.Sprintf("((int32_t)%s < 0)", lhs), Desc: desc}, true
	case "jge", "jnl":
		return condResult{Expr: fmt.Sprintf("((int32_t)%s >= 0)", lhs), Desc: desc}, true
	case "jle", "jng":
		return condResult{Expr: fmt.Sprintf("((int32_t)%s <= 0)", lhs), Desc: desc}, true
	case "jg", "jnle":
		return condResult{Expr: fmt.Sprintf("((int32_t)%s > 0)", lhs), Desc: desc}, true
	}
	if !haveRHS {
		return condResult{}, false
	}
	switch jcc {
	case "jb", "jnae", "jc":
		return condResult{Expr: fmt.Sprintf("(%s < (uint32_t)%s)", lhs, rhs), Desc: desc}, true
	case "jae", "jnb", "jnc":
		return condResult{Expr: fmt.Sprintf("(%s >= (uint32_t)%s)", lhs, rhs), Desc: desc}, true
	}
	return condResult{}, false
}

func resultOnlyCondition(jcc, lhs, desc string) (condResult, bool) {
	switch jcc {
	case "je", "jz":
		return condResult{Expr: fmt.Sprintf("(%s == 0)", lhs), Desc: desc}, true
	case "jne", "jnz":
		return condResult{Expr: fmt.Sprintf("(%s != 0)", lhs), Desc: desc}, true
	case "js":
		return condResult{Expr: fmt.Sprintf("((int32_t)%s < 0)", lhs), Desc: desc}, true
	case "jns":
		return condResult{Expr: fmt.Sprintf("((int32_t)%s >= 0)", lhs), Desc: desc}, true
	}
	return condResult{}, false
}

func bitwiseCondition(jcc, lhs, desc string) (condResult, bool) {
	switch jcc {
	case "je", "jz":
		return condResult{Expr: fmt.Sprintf("(%s == 0)", lhs), Desc: desc}, true
	case "jne", "jnz":
		return condResult{Expr: fmt.Sprintf("(%s != 0)", lhs), Desc: desc}, true
	case "js", "jl":
		return condResult{Expr: fmt.Sprintf("((int32_t)%s < 0)", lhs), Desc: desc}, true
	case "jns", "jge":
		return condResult{Expr: fmt.Sprintf("((int32_t)%s >= 0)", lhs), Desc: desc}, true
	case "jle":
		return condResult{Expr: fmt.Sprintf("((int32_t)%s <= 0)", lhs), Desc: desc}, true
	case "jg":
		return condResult{Expr: fmt.Sprintf("((int32_t)%s > 0)", lhs), Desc: desc}, true
	case "jb", "jnae", "jbe", "jna":
		return condResult{Expr: "0", Desc: desc}, true
	case "jae", "jnb", "ja", "jnbe":
		return condResult{Expr: "1", Desc: desc}, true
	}
	return condResult{}, false
}

func incDecCondition(jcc, lhs, desc string) (condResult, bool) {
	switch jcc {
	case "je", "jz":
		return condResult{Expr: fmt.Sprintf("(%s == 0)", lhs), Desc: desc}, true
	case "jne", "jnz":
		return condResult{Expr: fmt.Sprintf("(%s != 0)", lhs), Desc: desc}, true
	case "js":
		return condResult{Expr: fmt.Sprintf("((int32_t)%s < 0)", lhs), Desc: desc}, true
	case "jns":
		return condResult{Expr: fmt.Sprintf("((int32_t)%s >= 0)", lhs), Desc: desc}, true
	case "jl":
		return condResult{Expr: fmt.Sprintf("((int32_t)%s < 0)", lhs), Desc: desc}, true
	case "jle":
		return condResult{Expr: fmt.Sprintf("((int32_t)%s <= 0)", lhs), Desc: desc}, true
	case "jg":
		return condResult{Expr: fmt.Sprintf("((int32_t)%s > 0)", lhs), Desc: desc}, true
	case "jge":
		return condResult{Expr: fmt.Sprintf("((int32_t)%s >= 0)", lhs), Desc: desc}, true
	}
	return condResult{}, false
}

func negCondition(jcc, lhs, desc string) (condResult, bool) {
	switch jcc {
	case "je", "jz":
		return condResult{Expr: fmt.Sprintf("(%s == 0)", lhs), Desc: desc}, true
	case "jne", "jnz":
		return condResult{Expr: fmt.Sprintf("(%s != 0)", lhs), Desc: desc}, true
	case "jb", "jnae", "jc":
		return condResult{Expr: fmt.Sprintf("(%s != 0)", lhs), Desc: desc}, true
	case "jae", "jnb", "jnc":
		return condResult{Expr: fmt.Sprintf("(%s == 0)", lhs), Desc: desc}, true
	case "js":
		return condResult{Expr: fmt.Sprintf("((int32_t)%s < 0)", lhs), Desc: desc}, true
	case "jns":
		return condResult{Expr: fmt.Sprintf("((int32_t)%s >= 0)", lhs), Desc: desc}, true
	case "jg", "jnle":
		return condResult{Expr: fmt.Sprintf("((int32_t)%s > 0)", lhs), Desc: desc}, true
	case "jge", "jnl":
		return condResult{Expr: fmt.Sprintf("((int32_t)%s >= 0)", lhs), Desc: desc}, true
	case "jl", "jnge":
		return condResult{Expr: fmt.Sprintf("((int32_t)%s < 0)", lhs), Desc: desc}, true
	case "jle", "jng":
		return condResult{Expr: fmt.Sprintf("((int32_t)%s <= 0)", lhs), Desc: desc}, true
	}
	return condResult{}, false
}

func bsfCondition(jcc, rhs, desc string) (condResult, bool) {
	switch jcc {
	case "je", "jz":
		return condResult{Expr: fmt.Sprintf("(%s == 0)", rhs), Desc: desc}, true
	case "jne", "jnz":
		return condResult{Expr: fmt.Sprintf("(%s != 0)", rhs), Desc: desc}, true
	}
	return condResult{}, false
}

func btCondition(jcc, lhs, rhs, desc string) (condResult, bool) {
	switch jcc {
	case "jb", "jnae", "jc":
		return condResult{Expr: fmt.Sprintf("((%s >> (%s & 31)) & 1)", lhs, rhs), Desc: desc}, true
	case "jae", "jnb", "jnc":
		return condResult{Expr: fmt.Sprintf("!((%s >> (%s & 31)) & 1)", lhs, rhs), Desc: desc}, true
	}
	return condResult{}, false
}

func cmpxchgCondition(jcc, lhs, desc string) (condResult, bool) {
	switch jcc {
	case "je", "jz":
		return condResult{Expr: fmt.Sprintf("(%s == eax)", lhs), Desc: desc}, true
	case "jne", "jnz":
		return condResult{Expr: fmt.Sprintf("(%s != eax)", lhs), Desc: desc}, true
	}
	return condResult{}, false
}

func sseCompareCondition(jcc string, ops []disasm.Operand, desc string) (condResult, bool) {
	sseOperand := func(op disasm.Operand) string {
		switch op.Kind {
		case disasm.OperandReg:
			return regName(op.Reg.String())
		case disasm.OperandMem:
			if op.MemWidth == 8 {
				return fmt.Sprintf("MEMD(%s)", fmtMemAddr(op))
			}
			return fmt.Sprintf("MEMF(%s)", fmtMemAddr(op))
		default:
			return fmtOperandRead(op)
		}
	}
	a, b := "0.0f", "0.0f"
	if len(ops) >= 1 {
		a = sseOperand(ops[0])
	}
	if len(ops) >= 2 {
		b = sseOperand(ops[1])
	}
	switch jcc {
	case "ja", "jnbe":
		return condResult{Expr: fmt.Sprintf("(%s > %s)", a, b), Desc: desc}, true
	case "jae", "jnb", "jnc":
		return condResult{Expr: fmt.Sprintf("(%s >= %s)", a, b), Desc: desc}, true
	case "jb", "jnae", "jc":
		return condResult{Expr: fmt.Sprintf("(%s < %s)", a, b), Desc: desc}, true
	case "jbe", "jna":
		return condResult{Expr: fmt.Sprintf("(%s <= %s)", a, b), Desc: desc}, true
	case "je", "jz":
		return condResult{Expr: fmt.Sprintf("(%s == %s)", a, b), Desc: desc}, true
	case "jne", "jnz":
		return condResult{Expr: fmt.Sprintf("(%s != %s)", a, b), Desc: desc}, true
	case "jp":
		return condResult{Expr: fmt.Sprintf("0 /* %s: unordered/NaN */", jcc), Desc: desc}, true
	case "jnp":
		return condResult{Expr: fmt.Sprintf("1 /* %s: ordered */", jcc), Desc: desc}, true
	}
	return condResult{}, false
}

func cmpMacro(jcc string) (string, bool) {
	switch jcc {
	case "je", "jz":
		return "CMP_EQ", true
	case "jne", "jnz":
		return "CMP_NE", true
	case "jb", "jnae":
		return "CMP_B", true
	case "jae", "jnb":
		return "CMP_AE", true
	case "jbe", "jna":
		return "CMP_BE", true
	case "ja", "jnbe":
		return "CMP_A", true
	case "jl", "jnge":
		return "CMP_L", true
	case "jge", "jnl":
		return "CMP_GE", true
	case "jle", "jng":
		return "CMP_LE", true
	case "jg", "jnle":
		return "CMP_G", true
	}
	return "", false
}
