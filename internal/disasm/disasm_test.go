package disasm

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sp00nznet/burnout3/internal/xbe"
)

// buildImage assembles a minimal valid XBE with one executable section
// whose raw bytes are code, so the engine exercises the same xbe.Image
// it would see in production.
func buildImage(t *testing.T, code []byte) (*xbe.Image, uint32) {
	t.Helper()

	const base = uint32(0x00010000)
	const headerAndTables = 0x1000
	const textVA = base + headerAndTables
	const textSize = 0x1000
	const imageSize = headerAndTables + textSize
	const magicOff, baseOff, sizeOff, certOff, sectionsOff, entryOff, thunkOff = 0, 0x104, 0x10C, 0x118, 0x120, 0x128, 0x158
	const entryKeyRetail = 0xA8FC57AB

	buf := make([]byte, headerAndTables+textSize)
	copy(buf[magicOff:], []byte("XBEH"))
	binary.LittleEndian.PutUint32(buf[baseOff:], base)
	binary.LittleEndian.PutUint32(buf[sizeOff:], imageSize)
	binary.LittleEndian.PutUint32(buf[certOff:], base+0x10)

	sectionsVA := base + 0x200
	binary.LittleEndian.PutUint32(buf[sectionsOff:], sectionsVA)
	binary.LittleEndian.PutUint32(buf[entryOff:], (textVA)^entryKeyRetail)
	binary.LittleEndian.PutUint32(buf[thunkOff:], 0^0x5B6D40B6)

	so := sectionsVA - base
	binary.LittleEndian.PutUint32(buf[so+0:], 0x4)
	binary.LittleEndian.PutUint32(buf[so+4:], textVA)
	binary.LittleEndian.PutUint32(buf[so+8:], textSize)
	binary.LittleEndian.PutUint32(buf[so+12:], headerAndTables)
	binary.LittleEndian.PutUint32(buf[so+16:], textSize)
	binary.LittleEndian.PutUint32(buf[so+20:], base+0x280)
	copy(buf[0x280:], []byte(".text\x00"))

	copy(buf[headerAndTables:], code)

	img, err := xbe.Load(buf)
	require.NoError(t, err)
	return img, textVA
}

func TestSweepDecodesLinearCode(t *testing.T) {
	// push ebp; mov ebp, esp; xor eax, eax; pop ebp; ret
	code := []byte{0x55, 0x8B, 0xEC, 0x33, 0xC0, 0x5D, 0xC3}
	img, _ := buildImage(t, code)

	e := NewEngine(img)
	n := e.Sweep(img.Sections[0])
	// The sweep covers the whole 0x1000-byte section: the 5 instructions
	// above, then 2044 two-byte `add [eax], al` from the zero fill; the
	// fill's last byte alone does not decode and is not counted.
	require.Equal(t, 2049, n)
}

func TestSweepRecoversFromDecodeFailure(t *testing.T) {
	// 0F C3 plus the first zero-fill byte decodes as movnti [eax], eax;
	// the zero fill after it decodes two bytes at a time, and the lone
	// 0x00 at the section's last byte fails to decode and is stepped over.
	code := []byte{0x0F, 0xC3}
	img, _ := buildImage(t, code)

	e := NewEngine(img)
	n := e.Sweep(img.Sections[0])
	require.GreaterOrEqual(t, n, 1)
}

func TestResolveCallTarget(t *testing.T) {
	// call +5 (relative, lands 5 bytes past the call's end); nop*5; ret
	code := []byte{0xE8, 0x05, 0x00, 0x00, 0x00, 0x90, 0x90, 0x90, 0x90, 0x90, 0xC3}
	img, va := buildImage(t, code)

	e := NewEngine(img)
	e.Sweep(img.Sections[0])

	in, ok := e.At(va)
	require.True(t, ok)
	require.True(t, in.Class.Has(ClassCall))
	require.NotNil(t, in.CallTarget)
	require.Equal(t, va+5+5, *in.CallTarget)
}

func TestInstructionsInRangeOrdered(t *testing.T) {
	code := []byte{0x90, 0x90, 0x90, 0xC3}
	img, va := buildImage(t, code)

	e := NewEngine(img)
	e.Sweep(img.Sections[0])

	got := e.InstructionsInRange(va, va+4)
	require.Len(t, got, 4)
	for i, in := range got {
		require.Equal(t, va+uint32(i), in.Address)
	}
}
