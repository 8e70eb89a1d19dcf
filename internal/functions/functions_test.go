package functions

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sp00nznet/burnout3/internal/disasm"
	"github.com/sp00nznet/burnout3/internal/xbe"
)

func buildImage(t *testing.T, code []byte) *xbe.Image {
	t.Helper()
	const base = uint32(0x00010000)
	const textVA = base + 0x1000
	buf := make([]byte, 0x1000+0x1000)
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

func TestDetectFindsPrologueFunction(t *testing.T) {
	// entry: xor eax,eax; ret.  Then a second function with a real
	// prologue: push ebp; mov ebp,esp; pop ebp; ret.
	code := []byte{
		0x33, 0xC0, 0xC3, // entry point, 3 bytes
		0x55, 0x8B, 0xEC, 0x5D, 0xC3, // prologue func, 5 bytes
	}
	img := buildImage(t, code)
	e := disasm.NewEngine(img)
	e.Sweep(img.Sections[0])

	entryVA := img.EntryPoint
	funcs := Detect(img, e, entryVA)

	require.GreaterOrEqual(t, len(funcs), 2)
	require.Equal(t, entryVA, funcs[0].Start)
	require.Equal(t, MethodEntryPoint, funcs[0].Method)

	foundPrologue := false
	for _, f := range funcs {
		if f.Method == MethodPrologue {
			foundPrologue = true
			require.True(t, f.HasPrologue)
		}
	}
	require.True(t, foundPrologue)
}

func TestDetectNoOverlap(t *testing.T) {
	code := []byte{
		0x55, 0x8B, 0xEC, 0x5D, 0xC3,
		0x55, 0x8B, 0xEC, 0x5D, 0xC3,
	}
	img := buildImage(t, code)
	e := disasm.NewEngine(img)
	e.Sweep(img.Sections[0])
	funcs := Detect(img, e, img.EntryPoint)

	for i := 1; i < len(funcs); i++ {
		require.LessOrEqual(t, funcs[i-1].End, funcs[i].Start)
	}
}

func TestPopulateCallsFromEngine(t *testing.T) {
	// func A at +0: call +7 (to func B); ret
	// func B at +7 (push ebp prologue): pop ebp; ret
	code := []byte{
		0xE8, 0x02, 0x00, 0x00, 0x00, // call rel32 -> lands at +7 (5 + 2)
		0x90, 0x90,
		0x55, 0x8B, 0xEC, 0x5D, 0xC3,
	}
	img := buildImage(t, code)
	e := disasm.NewEngine(img)
	e.Sweep(img.Sections[0])
	funcs := Detect(img, e, img.EntryPoint)
	PopulateCallsFromEngine(funcs, e)

	var caller, callee *Function
	for _, f := range funcs {
		if f.Method == MethodEntryPoint {
			caller = f
		}
		if f.Method == MethodPrologue {
			callee = f
		}
	}
	require.NotNil(t, caller)
	require.NotNil(t, callee)
	require.Contains(t, caller.CallsTo, callee.Start)
	require.Contains(t, callee.CalledBy, caller.Start)
}
