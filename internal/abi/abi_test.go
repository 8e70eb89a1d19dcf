package abi

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/arch/x86/x86asm"

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

func TestInferEBPFrameWithOneParamAndCdeclReturn(t *testing.T) {
	// push ebp; mov ebp,esp; mov eax,[ebp+8]; pop ebp; ret
	code := []byte{0x55, 0x8B, 0xEC, 0x8B, 0x45, 0x08, 0x5D, 0xC3}
	img := buildImage(t, code)
	e := disasm.NewEngine(img)
	e.Sweep(img.Sections[0])

	fn := &functions.Function{Start: img.EntryPoint, End: img.EntryPoint + uint32(len(code))}
	sig := inferOne(e, fn)

	require.Equal(t, FrameEBP, sig.FrameType)
	require.Equal(t, ConventionCdecl, sig.Convention)
	require.Equal(t, 1, sig.ParamCount)
	require.Equal(t, ReturnIntOrVoid, sig.Return, "a plain mov into eax before ret is not one of the recognized idioms")
}

func TestInferFPOLeafIntZeroReturn(t *testing.T) {
	// xor eax,eax; ret
	code := []byte{0x33, 0xC0, 0xC3}
	img := buildImage(t, code)
	e := disasm.NewEngine(img)
	e.Sweep(img.Sections[0])

	fn := &functions.Function{Start: img.EntryPoint, End: img.EntryPoint + uint32(len(code))}
	sig := inferOne(e, fn)

	require.Equal(t, FrameFPOLeaf, sig.FrameType)
	require.Equal(t, ReturnIntZero, sig.Return, "xor eax,eax immediately before ret is the int_zero idiom")
}

func TestInferFPOStackFrameSize(t *testing.T) {
	// sub esp, 0x20; mov eax, ecx; add esp, 0x20; ret
	code := []byte{0x83, 0xEC, 0x20, 0x8B, 0xC1, 0x83, 0xC4, 0x20, 0xC3}
	img := buildImage(t, code)
	e := disasm.NewEngine(img)
	e.Sweep(img.Sections[0])

	fn := &functions.Function{Start: img.EntryPoint, End: img.EntryPoint + uint32(len(code))}
	sig := inferOne(e, fn)

	require.Equal(t, FrameFPOStack, sig.FrameType)
	require.Equal(t, uint32(0x20), sig.StackFrameSize)
}

func TestInferStdcallFromRetImmediate(t *testing.T) {
	// push ebp; mov ebp,esp; pop ebp; ret 8
	code := []byte{0x55, 0x8B, 0xEC, 0x5D, 0xC2, 0x08, 0x00}
	img := buildImage(t, code)
	e := disasm.NewEngine(img)
	e.Sweep(img.Sections[0])

	fn := &functions.Function{Start: img.EntryPoint, End: img.EntryPoint + uint32(len(code))}
	sig := inferOne(e, fn)

	require.Equal(t, ConventionStdcall, sig.Convention)
	require.Equal(t, 2, sig.ParamCount)
}

func TestInferThiscallFromECXThisAndCalleeCleans(t *testing.T) {
	// mov eax, [ecx+4]; ret 4
	code := []byte{0x8B, 0x41, 0x04, 0xC2, 0x04, 0x00}
	img := buildImage(t, code)
	e := disasm.NewEngine(img)
	e.Sweep(img.Sections[0])

	fn := &functions.Function{Start: img.EntryPoint, End: img.EntryPoint + uint32(len(code))}
	sig := inferOne(e, fn)

	require.Equal(t, ConventionThiscall, sig.Convention)
}

func TestInferThiscallCdeclFromECXThisAndCallerCleans(t *testing.T) {
	// mov eax, [ecx+4]; ret
	code := []byte{0x8B, 0x41, 0x04, 0xC3}
	img := buildImage(t, code)
	e := disasm.NewEngine(img)
	e.Sweep(img.Sections[0])

	fn := &functions.Function{Start: img.EntryPoint, End: img.EntryPoint + uint32(len(code))}
	sig := inferOne(e, fn)

	require.Equal(t, ConventionThiscallCdecl, sig.Convention)
}

func TestUsesECXAsThisStopsAtFirstWrite(t *testing.T) {
	// mov ecx, 0  -- ecx is written before it's ever read as a memory base
	insns := []*disasm.Instruction{
		{Mnemonic: "mov", Operands: []disasm.Operand{{Kind: disasm.OperandReg, Reg: x86asm.ECX}, {Kind: disasm.OperandImm, Imm: 0}}},
	}
	require.False(t, usesECXAsThis(insns))
}

func TestUsesECXAsThisDetectsMemoryBaseRead(t *testing.T) {
	// mov eax, [ecx+4]  -- ecx read as a base before any write to it
	insns := []*disasm.Instruction{
		{Mnemonic: "mov", Operands: []disasm.Operand{
			{Kind: disasm.OperandReg, Reg: x86asm.EAX},
			{Kind: disasm.OperandMem, MemBase: x86asm.ECX, MemDisp: 4},
		}},
	}
	require.True(t, usesECXAsThis(insns))
}
