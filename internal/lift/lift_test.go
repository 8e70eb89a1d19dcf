package lift

import (
	"encoding/binary"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sp00nznet/burnout3/internal/abi"
	"github.com/sp00nznet/burnout3/internal/disasm"
	"github.com/sp00nznet/burnout3/internal/functions"
	"github.com/sp00nznet/burnout3/internal/xbe"
)

func buildImage(t *testing.T, code []byte) *xbe.Image {
	t.Helper()
	const base = uint32(0x00010000)
	const textVA = base + 0x1000
	buf := make([]byte, 0x2000)
	copy(buf[0:4], []byte("XBEH"))
	binary.LittleEndian.PutUint32(buf[0x104:], base)
	binary.LittleEndian.PutUint32(buf[0x10C:], uint32(len(buf)))
	binary.LittleEndian.PutUint32(buf[0x118:], base+0x10)
	binary.LittleEndian.PutUint32(buf[0x120:], base+0x200)
	binary.LittleEndian.PutUint32(buf[0x128:], textVA^0xA8FC57AB)
	binary.LittleEndian.PutUint32(buf[0x158:], 0^0x5B6D40B6)

	so := uint32(0x200)
	binary.LittleEndian.PutUint32(buf[so+0:], 0x4)
	binary.LittleEndian.PutUint32(buf[so+4:], textVA)
	binary.LittleEndian.PutUint32(buf[so+8:], 0x1000)
	binary.LittleEndian.PutUint32(buf[so+12:], 0x1000)
	binary.LittleEndian.PutUint32(buf[so+16:], 0x1000)
	binary.LittleEndian.PutUint32(buf[so+20:], base+0x280)
	copy(buf[0x280:], []byte(".text\x00"))

	copy(buf[0x1000:], code)

	img, err := xbe.Load(buf)
	require.NoError(t, err)
	return img
}

func TestFmtImm(t *testing.T) {
	require.Equal(t, "0", fmtImm(0))
	require.Equal(t, "5", fmtImm(5))
	require.Equal(t, "0x10", fmtImm(0x10))
	require.Equal(t, "-0x4", fmtImm(-4))
}

func TestMakeConditionCmpEquality(t *testing.T) {
	fs := FlagState{Setter: "cmp", Valid: true, Operands: []disasm.Operand{
		{Kind: disasm.OperandReg, Reg: 0},
		{Kind: disasm.OperandImm, Imm: 5},
	}}
	// Operand formatting for Reg(0) will fall through to the stringer;
	// what matters here is that a macro-based comparison is produced.
	res, ok := makeCondition("je", fs)
	require.True(t, ok)
	require.Contains(t, res.Expr, "CMP_EQ")
}

func TestMakeConditionUnknownSetterFails(t *testing.T) {
	_, ok := makeCondition("je", FlagState{})
	require.False(t, ok)
}

func TestNextFlagStateClassification(t *testing.T) {
	cmpIn := &disasm.Instruction{Mnemonic: "cmp", Operands: []disasm.Operand{{Kind: disasm.OperandImm, Imm: 1}}}
	s := nextFlagState(cmpIn, FlagState{})
	require.True(t, s.Valid)
	require.Equal(t, "cmp", s.Setter)

	movIn := &disasm.Instruction{Mnemonic: "mov"}
	s2 := nextFlagState(movIn, s)
	require.Equal(t, s, s2)

	mulIn := &disasm.Instruction{Mnemonic: "mul"}
	s3 := nextFlagState(mulIn, s)
	require.False(t, s3.Valid)
}

func TestBuildBlocksSplitsOnBranchTargets(t *testing.T) {
	// xor eax,eax; jmp +2; inc eax; ret
	code := []byte{0x33, 0xC0, 0xEB, 0x02, 0x40, 0xC3}
	img := buildImage(t, code)
	e := disasm.NewEngine(img)
	e.Sweep(img.Sections[0])
	insns := e.InstructionsInRange(img.EntryPoint, img.EntryPoint+uint32(len(code)))
	require.Len(t, insns, 4)

	blocks := buildBlocks(insns)
	require.GreaterOrEqual(t, len(blocks), 2)
	require.Equal(t, insns[0].Address, blocks[0].Start)
}

func TestLiftFunctionProducesCompilableShape(t *testing.T) {
	// push ebp; mov ebp,esp; mov eax, [ebp+8]; pop ebp; ret
	code := []byte{0x55, 0x8B, 0xEC, 0x8B, 0x45, 0x08, 0x5D, 0xC3}
	img := buildImage(t, code)
	e := disasm.NewEngine(img)
	e.Sweep(img.Sections[0])

	fn := &functions.Function{Start: img.EntryPoint, End: img.EntryPoint + uint32(len(code)), Name: "sub_00011000"}
	sig := abi.Signature{Start: fn.Start, FrameType: abi.FrameEBP, Convention: abi.ConventionCdecl, ParamCount: 1, Return: abi.ReturnInt}

	ctx := &Context{
		NameOf: func(uint32) (string, bool) { return "", false },
		ABIOf:  func(uint32) (abi.Signature, bool) { return abi.Signature{}, false },
	}

	out := LiftFunction(ctx, e, fn, sig)
	require.False(t, out.Failed)
	require.Contains(t, out.Source, "sub_00011000")
	require.Contains(t, out.Source, "uint32_t ebp")
	require.Contains(t, out.Source, "a0")
	require.True(t, strings.Contains(out.Source, "return RECOMP_RETURN;"))
}

func TestLiftFunctionFailsGracefullyOnEmptyRange(t *testing.T) {
	code := []byte{0xC3}
	img := buildImage(t, code)
	e := disasm.NewEngine(img)
	e.Sweep(img.Sections[0])

	// The sweep also decodes the section's zero fill, so the range sits
	// past the end of .text, where nothing was decoded.
	fn := &functions.Function{Start: img.EntryPoint + 0x1050, End: img.EntryPoint + 0x1060, Name: "sub_dead"}
	ctx := &Context{NameOf: func(uint32) (string, bool) { return "", false }, ABIOf: func(uint32) (abi.Signature, bool) { return abi.Signature{}, false }}

	out := LiftFunction(ctx, e, fn, abi.Signature{})
	require.True(t, out.Failed)
	require.Contains(t, out.Source, "FAILED")
}

func TestLiftAllProducesOneEntryPerFunctionSortedByAddress(t *testing.T) {
	// Two tiny functions back to back: xor eax,eax; ret  /  inc eax; ret
	code := []byte{0x33, 0xC0, 0xC3, 0x40, 0xC3}
	img := buildImage(t, code)
	e := disasm.NewEngine(img)
	e.Sweep(img.Sections[0])

	base := img.EntryPoint
	funcs := []*functions.Function{
		{Start: base + 3, End: base + 5, Name: "sub_high"},
		{Start: base, End: base + 3, Name: "sub_low"},
	}
	sigs := map[uint32]abi.Signature{}
	ctx := &Context{NameOf: func(uint32) (string, bool) { return "", false }, ABIOf: func(uint32) (abi.Signature, bool) { return abi.Signature{}, false }}

	out := LiftAll(ctx, e, funcs, sigs)
	require.Len(t, out, 2)
	require.Equal(t, base, out[0].Start)
	require.Equal(t, base+3, out[1].Start)
}

func TestLiftCallSynthesizesThisPtrAndPlaceholderArgs(t *testing.T) {
	// call rel32 (target resolved via CallTarget, not actually disassembled)
	target := uint32(0x00012000)
	in := &disasm.Instruction{
		Mnemonic:   "call",
		Operands:   []disasm.Operand{{Kind: disasm.OperandRel}},
		CallTarget: &target,
	}
	ctx := &Context{
		NameOf: func(addr uint32) (string, bool) {
			if addr == target {
				return "sub_00012000", true
			}
			return "", false
		},
		ABIOf: func(addr uint32) (abi.Signature, bool) {
			return abi.Signature{Convention: abi.ConventionThiscall, ParamCount: 2}, true
		},
	}

	lines := liftInstruction(ctx, in, FlagState{}, nil, 0, 0)
	require.Len(t, lines, 1)
	require.Contains(t, lines[0], "sub_00012000((this_ptr)ecx, 0 /* a0 */, 0 /* a1 */)")
	require.Contains(t, lines[0], "/* call 0x00012000 */")
}

func TestLiftCallCdeclHasNoThisPtr(t *testing.T) {
	target := uint32(0x00012000)
	in := &disasm.Instruction{
		Mnemonic:   "call",
		Operands:   []disasm.Operand{{Kind: disasm.OperandRel}},
		CallTarget: &target,
	}
	ctx := &Context{
		NameOf: func(uint32) (string, bool) { return "sub_00012000", true },
		ABIOf:  func(uint32) (abi.Signature, bool) { return abi.Signature{Convention: abi.ConventionCdecl, ParamCount: 1}, true },
	}

	lines := liftInstruction(ctx, in, FlagState{}, nil, 0, 0)
	require.Contains(t, lines[0], "sub_00012000(0 /* a0 */)")
}

func TestLiftJmpTailCallOutsideFunctionRange(t *testing.T) {
	target := uint32(0x00013000)
	in := &disasm.Instruction{Mnemonic: "jmp", JumpTarget: &target}
	ctx := &Context{
		NameOf: func(uint32) (string, bool) { return "sub_00013000", true },
		ABIOf:  func(uint32) (abi.Signature, bool) { return abi.Signature{Convention: abi.ConventionCdecl, ParamCount: 0}, true },
	}

	lines := liftInstruction(ctx, in, FlagState{}, nil, 0x00011000, 0x00011010)
	require.Len(t, lines, 1)
	require.Contains(t, lines[0], "sub_00013000();")
	require.Contains(t, lines[0], "return;")
}

func TestLiftJmpIntraFunctionIsPlainGoto(t *testing.T) {
	target := uint32(0x00011008)
	in := &disasm.Instruction{Mnemonic: "jmp", JumpTarget: &target}
	ctx := &Context{NameOf: func(uint32) (string, bool) { return "", false }, ABIOf: func(uint32) (abi.Signature, bool) { return abi.Signature{}, false }}

	lines := liftInstruction(ctx, in, FlagState{}, nil, 0x00011000, 0x00011010)
	require.Equal(t, []string{"goto loc_00011008;"}, lines)
}

func TestLiftJmpIndirectUsesRecompICall(t *testing.T) {
	in := &disasm.Instruction{Mnemonic: "jmp", Operands: []disasm.Operand{{Kind: disasm.OperandReg, Reg: 0}}}
	ctx := &Context{NameOf: func(uint32) (string, bool) { return "", false }, ABIOf: func(uint32) (abi.Signature, bool) { return abi.Signature{}, false }}

	lines := liftInstruction(ctx, in, FlagState{}, nil, 0, 0)
	require.Len(t, lines, 1)
	require.Contains(t, lines[0], "RECOMP_ICALL(")
	require.Contains(t, lines[0], "return;")
}

func TestBuildProgramChunksAndDispatch(t *testing.T) {
	fns := []Function{
		{Start: 0x100, Name: "sub_00000100", Source: "void sub_00000100(void) {\n    return;\n}\n"},
		{Start: 0x200, Name: "sub_00000200", Source: "void sub_00000200(void) {\n    return;\n}\n"},
	}
	prog := BuildProgram(fns)
	require.Len(t, prog.Chunks, 1)
	require.Contains(t, prog.Header, "sub_00000100")
	require.Contains(t, prog.Dispatch, "g_recomp_table_size = 2")
	require.Contains(t, prog.Dispatch, "0x00000100u")
}

func TestBuildProgramByCategorySplitsOnePerCategory(t *testing.T) {
	fns := []Function{
		{Start: 0x100, Name: "sub_00000100", Category: "rw_plcore", Source: "void sub_00000100(void) {\n    return;\n}\n"},
		{Start: 0x200, Name: "sub_00000200", Category: "crt", Source: "void sub_00000200(void) {\n    return;\n}\n"},
		{Start: 0x300, Name: "sub_00000300", Category: "rw_plcore", Source: "void sub_00000300(void) {\n    return;\n}\n"},
		{Start: 0x400, Name: "sub_00000400", Source: "void sub_00000400(void) {\n    return;\n}\n"},
	}
	prog := BuildProgramByCategory(fns)

	// Three distinct categories (rw_plcore, crt, and the fallback
	// "unknown" for the function with no Category set) -> three files.
	require.Len(t, prog.Chunks, 3)
	names := make(map[string]bool)
	for _, c := range prog.Chunks {
		names[c.Name] = true
	}
	require.True(t, names["recomp_rw_plcore.c"])
	require.True(t, names["recomp_crt.c"])
	require.True(t, names["recomp_unknown.c"])

	// The dispatch table and header stay single and shared regardless of
	// how many category files exist.
	require.Contains(t, prog.Header, "sub_00000100")
	require.Contains(t, prog.Header, "sub_00000400")
	require.Contains(t, prog.Dispatch, "g_recomp_table_size = 4")
}
