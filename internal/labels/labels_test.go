package labels

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sp00nznet/burnout3/internal/xbe"
)

func TestAddHigherConfidenceWins(t *testing.T) {
	m := NewManager()
	m.Add(Label{Address: 0x1000, Name: "sub_00001000", Kind: KindFunction, Confidence: 0.5})
	m.Add(Label{Address: 0x1000, Name: "DoThing", Kind: KindFunction, Confidence: 0.9})

	l, ok := m.Get(0x1000)
	require.True(t, ok)
	require.Equal(t, "DoThing", l.Name)
}

func TestAddTiePrefersNonAutoName(t *testing.T) {
	m := NewManager()
	m.Add(Label{Address: 0x2000, Name: "DoThing", Kind: KindFunction, Confidence: 0.9})
	m.Add(Label{Address: 0x2000, Name: "sub_00002000", Kind: KindFunction, Confidence: 0.9})

	l, ok := m.Get(0x2000)
	require.True(t, ok)
	require.Equal(t, "DoThing", l.Name)
}

func TestAddLowerConfidenceDropped(t *testing.T) {
	m := NewManager()
	m.Add(Label{Address: 0x3000, Name: "Strong", Confidence: 0.9})
	m.Add(Label{Address: 0x3000, Name: "Weak", Confidence: 0.2})

	l, _ := m.Get(0x3000)
	require.Equal(t, "Strong", l.Name)
}

func TestByNameReverseLookup(t *testing.T) {
	m := NewManager()
	m.Add(Label{Address: 0x4000, Name: "Entry", Confidence: 1.0})

	addr, ok := m.ByName("Entry")
	require.True(t, ok)
	require.Equal(t, uint32(0x4000), addr)
}

func TestExtractStringsRequiresMinLengthAndTerminator(t *testing.T) {
	const base = uint32(0x00010000)
	const rdataVA = base + 0x1000
	buf := make([]byte, 0x2000)
	copy(buf[0:4], []byte("XBEH"))
	binary.LittleEndian.PutUint32(buf[0x104:], base)
	binary.LittleEndian.PutUint32(buf[0x10C:], 0x2000)
	binary.LittleEndian.PutUint32(buf[0x118:], base+0x10)
	binary.LittleEndian.PutUint32(buf[0x120:], base+0x200)
	binary.LittleEndian.PutUint32(buf[0x128:], (base+0x1000)^0xA8FC57AB)
	binary.LittleEndian.PutUint32(buf[0x158:], 0^0x5B6D40B6)

	so := uint32(0x200)
	binary.LittleEndian.PutUint32(buf[so+0:], 0x2)
	binary.LittleEndian.PutUint32(buf[so+4:], rdataVA)
	binary.LittleEndian.PutUint32(buf[so+8:], 0x1000)
	binary.LittleEndian.PutUint32(buf[so+12:], 0x1000)
	binary.LittleEndian.PutUint32(buf[so+16:], 0x1000)
	binary.LittleEndian.PutUint32(buf[so+20:], base+0x280)
	copy(buf[0x280:], []byte(".rdata\x00"))

	copy(buf[0x1000:], []byte("ab\x00hello\x00xy\x00"))

	img, err := xbe.Load(buf)
	require.NoError(t, err)

	refs := ExtractStrings(img, img.Sections[0])
	require.Len(t, refs, 1)
	require.Equal(t, "hello", refs[0].Value)
	require.Equal(t, rdataVA+3, refs[0].Address)
}
