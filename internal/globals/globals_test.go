package globals

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sp00nznet/burnout3/internal/disasm"
	"github.com/sp00nznet/burnout3/internal/funcid"
	"github.com/sp00nznet/burnout3/internal/functions"
	"github.com/sp00nznet/burnout3/internal/labels"
	"github.com/sp00nznet/burnout3/internal/xbe"
	"github.com/sp00nznet/burnout3/internal/xrefs"
)

func buildImage(t *testing.T, code []byte, data []byte) *xbe.Image {
	t.Helper()
	const base = uint32(0x00010000)
	const textVA = base + 0x1000
	const dataVA = base + 0x3000
	buf := make([]byte, 0x4000)
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

	so2 := uint32(0x238)
	binary.LittleEndian.PutUint32(buf[so2+0:], 0x1)
	binary.LittleEndian.PutUint32(buf[so2+4:], dataVA)
	binary.LittleEndian.PutUint32(buf[so2+8:], 0x1000)
	binary.LittleEndian.PutUint32(buf[so2+12:], 0x3000)
	binary.LittleEndian.PutUint32(buf[so2+16:], 0x1000)
	binary.LittleEndian.PutUint32(buf[so2+20:], base+0x290)
	copy(buf[0x290:], []byte(".data\x00"))

	copy(buf[0x1000:], code)
	copy(buf[0x3000:], data)

	img, err := xbe.Load(buf)
	require.NoError(t, err)
	return img
}

func TestMapInfersSizeAndImportance(t *testing.T) {
	// mov eax, [0x00013000]; mov ebx, [0x00013000]; ret
	dataVA := uint32(0x00013000)
	code := []byte{
		0xA1, byte(dataVA), byte(dataVA >> 8), byte(dataVA >> 16), byte(dataVA >> 24),
		0x8B, 0x1D, byte(dataVA), byte(dataVA >> 8), byte(dataVA >> 16), byte(dataVA >> 24),
		0xC3,
	}
	img := buildImage(t, code, []byte{0x2A, 0, 0, 0})
	e := disasm.NewEngine(img)
	e.Sweep(img.Sections[0])
	funcs := functions.Detect(img, e, img.EntryPoint)
	tr := xrefs.Build(e, img)

	gs, structs := Map(img, tr, funcs, map[uint32]funcid.Record{}, nil)
	require.Empty(t, structs)
	require.Len(t, gs, 1)
	g := gs[0]
	require.Equal(t, dataVA, g.Address)
	require.Equal(t, "data", g.Section)
	require.Equal(t, 2, g.ReadCount)
	require.Equal(t, 4, g.InferredSize)
	require.Equal(t, ImportanceLow, g.Importance)
	require.NotNil(t, g.InitialValue)
	require.Equal(t, uint64(0x2A), *g.InitialValue)
}

func TestDetectStructuresGroupsContiguousFields(t *testing.T) {
	base := uint32(0x00013000)
	var code []byte
	for i := uint32(0); i < 4; i++ {
		addr := base + i*4
		code = append(code, 0x8B, 0x05, byte(addr), byte(addr>>8), byte(addr>>16), byte(addr>>24)) // mov eax,[addr]
	}
	code = append(code, 0xC3)
	img := buildImage(t, code, make([]byte, 32))
	e := disasm.NewEngine(img)
	e.Sweep(img.Sections[0])
	funcs := functions.Detect(img, e, img.EntryPoint)
	tr := xrefs.Build(e, img)

	_, structs := Map(img, tr, funcs, map[uint32]funcid.Record{}, nil)
	require.Len(t, structs, 1)
	require.Len(t, structs[0].Fields, 4)
	require.Equal(t, base, structs[0].BaseAddress)
}

func TestCrossReferenceStringsFindsOwnAndNearby(t *testing.T) {
	gm := map[uint32]*Global{
		0x1000: {Address: 0x1000},
		0x1010: {Address: 0x1010},
	}
	sorted := []uint32{0x1000, 0x1010}
	strs := []labels.StringRef{{Address: 0x1000, Value: "exact"}, {Address: 0x1014, Value: "near"}}
	crossReferenceStrings(gm, sorted, strs)
	require.Equal(t, "exact", gm[0x1000].StringRef)
	require.NotNil(t, gm[0x1010].NearbyString)
	// The window is scanned from -64 upward, so the string at 0x1000
	// (offset -16) is found before the one at 0x1014 (offset +4).
	require.Equal(t, "exact", gm[0x1010].NearbyString.Text)
}
