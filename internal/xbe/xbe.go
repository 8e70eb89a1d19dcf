// Package xbe loads an Xbox XBE executable image: header, section table,
// and kernel import thunks.
package xbe

import (
	"encoding/binary"
	"fmt"
)

const (
	headerSize  = 380
	sectionSize = 56

	offMagic        = 0x00
	offBaseAddress  = 0x104
	offImageSize    = 0x10C
	offCertAddr     = 0x118
	offSectionsAddr = 0x120
	offEntryPoint   = 0x128
	offKernelThunk  = 0x158

	entryKeyRetail = 0xA8FC57AB
	entryKeyDebug  = 0x94859D4B
	thunkKeyRetail = 0x5B6D40B6
	thunkKeyDebug  = 0xEFB1F152
)

var magic = [4]byte{'X', 'B', 'E', 'H'}

// Section describes one section of the image, addressed by both its
// virtual-memory range and its file-backed range.
type Section struct {
	Name         string
	VirtualAddr  uint32
	VirtualSize  uint32
	RawAddr      uint32
	RawSize      uint32
	Writable     bool
	Executable   bool
}

func (s Section) containsVA(va uint32) bool {
	return va >= s.VirtualAddr && va < s.VirtualAddr+s.VirtualSize
}

// KernelImport is one resolved entry of the kernel import thunk table.
type KernelImport struct {
	Ordinal   uint32
	Name      string
	ThunkAddr uint32
}

// Image is the fully parsed, read-only view of an XBE executable.
type Image struct {
	data []byte

	BaseAddress   uint32
	ImageSize     uint32
	EntryPoint    uint32
	KernelThunk   uint32
	Sections      []Section
	KernelImports []KernelImport

	importsByThunk map[uint32]KernelImport
}

// InvalidMagicError is returned when the first four bytes are not "XBEH".
type InvalidMagicError struct{ Got [4]byte }

func (e *InvalidMagicError) Error() string {
	return fmt.Sprintf("xbe: invalid magic %q, want %q", e.Got, magic)
}

// TruncatedError is returned when a declared offset exceeds the buffer length.
type TruncatedError struct{ Field string }

func (e *TruncatedError) Error() string { return fmt.Sprintf("xbe: truncated, missing %s", e.Field) }

// CorruptError is returned when declared structures overlap or are
// internally inconsistent.
type CorruptError struct{ Reason string }

func (e *CorruptError) Error() string { return fmt.Sprintf("xbe: corrupt: %s", e.Reason) }

// LoadFile memory-maps path and parses it as an XBE image. The mapping
// stays open for the lifetime of the returned closer so img.data can
// keep referencing it directly rather than copying the whole file;
// callers should defer close once they're done with the image.
func LoadFile(path string) (img *Image, close func() error, err error) {
	mapped, err := openMapped(path)
	if err != nil {
		return nil, nil, err
	}
	img, err = Load(mapped.Bytes())
	if err != nil {
		mapped.Close()
		return nil, nil, err
	}
	return img, mapped.Close, nil
}

// Load parses raw XBE file contents into an Image.
func Load(data []byte) (*Image, error) {
	if len(data) < headerSize {
		return nil, &TruncatedError{Field: "header"}
	}
	var got [4]byte
	copy(got[:], data[offMagic:offMagic+4])
	if got != magic {
		return nil, &InvalidMagicError{Got: got}
	}

	base := le32(data, offBaseAddress)
	imageSize := le32(data, offImageSize)
	sectionsAddr := le32(data, offSectionsAddr)
	certAddr := le32(data, offCertAddr)
	entryXored := le32(data, offEntryPoint)
	thunkXored := le32(data, offKernelThunk)

	if certAddr == 0 {
		return nil, &TruncatedError{Field: "certificate pointer"}
	}

	entry, err := resolveXOR(entryXored, entryKeyRetail, entryKeyDebug, base, imageSize)
	if err != nil {
		return nil, err
	}
	thunkVA := thunkXored ^ thunkKeyRetail
	if !inRange(thunkVA, base, imageSize) {
		alt := thunkXored ^ thunkKeyDebug
		if inRange(alt, base, imageSize) {
			thunkVA = alt
		}
	}

	img := &Image{
		data:        data,
		BaseAddress: base,
		ImageSize:   imageSize,
		EntryPoint:  entry,
		KernelThunk: thunkVA,
	}

	sections, err := loadSections(data, img, sectionsAddr)
	if err != nil {
		return nil, err
	}
	img.Sections = sections

	img.KernelImports = img.loadKernelImports()
	img.importsByThunk = make(map[uint32]KernelImport, len(img.KernelImports))
	for _, ki := range img.KernelImports {
		img.importsByThunk[ki.ThunkAddr] = ki
	}

	return img, nil
}

// resolveXOR XORs v against the retail key first; if the result doesn't
// land in [base, base+size), the debug key is tried instead, so retail
// wins when both would land. When neither lands, the retail result is
// returned together with a CorruptError.
func resolveXOR(v, retailKey, debugKey, base, size uint32) (uint32, error) {
	retail := v ^ retailKey
	if inRange(retail, base, size) {
		return retail, nil
	}
	debug := v ^ debugKey
	if inRange(debug, base, size) {
		return debug, nil
	}
	return retail, &CorruptError{Reason: "entry point does not resolve into image bounds under either XOR key"}
}

func inRange(va, base, size uint32) bool {
	return va >= base && va < base+size
}

func loadSections(data []byte, img *Image, sectionsVA uint32) ([]Section, error) {
	off, ok := vaToOffsetRaw(sectionsVA, img.BaseAddress, data)
	if !ok {
		return nil, &TruncatedError{Field: "section table"}
	}

	// The section count isn't in a fixed header field on every XBE
	// variant; walk entries until one has zero virtual address, virtual
	// size, raw address and raw size, or runs past the buffer.
	var sections []Section
	headerEnd := uint32(headerSize)
	for i := 0; ; i++ {
		entryOff := off + uint32(i*sectionSize)
		if int(entryOff)+sectionSize > len(data) {
			break
		}
		flags := le32(data, int(entryOff))
		vaddr := le32(data, int(entryOff)+4)
		vsize := le32(data, int(entryOff)+8)
		raddr := le32(data, int(entryOff)+12)
		rsize := le32(data, int(entryOff)+16)
		nameAddr := le32(data, int(entryOff)+20)

		if vaddr == 0 && vsize == 0 && raddr == 0 && rsize == 0 {
			break
		}
		if raddr < headerEnd && raddr != 0 && rsize != 0 {
			return nil, &CorruptError{Reason: fmt.Sprintf("section %d overlaps header", i)}
		}

		name := readCString(data, nameAddr, img.BaseAddress)
		sections = append(sections, Section{
			Name:        name,
			VirtualAddr: vaddr,
			VirtualSize: vsize,
			RawAddr:     raddr,
			RawSize:     rsize,
			Writable:    flags&0x1 != 0,
			Executable:  flags&0x4 != 0,
		})
	}
	return sections, nil
}

// loadKernelImports scans 32-bit words at the kernel thunk VA until a
// zero terminator. Words with the high bit set encode an ordinal in the
// low 31 bits, resolved via the static ordinal table. Words without the
// high bit are bound imports and are skipped (they don't occur in retail
// builds).
func (img *Image) loadKernelImports() []KernelImport {
	var imports []KernelImport
	addr := img.KernelThunk
	for {
		w, ok := img.ReadU32LE(addr)
		if !ok || w == 0 {
			break
		}
		if w&0x80000000 != 0 {
			ordinal := w &^ 0x80000000
			name := kernelOrdinalName(ordinal)
			imports = append(imports, KernelImport{
				Ordinal:   ordinal,
				Name:      name,
				ThunkAddr: addr,
			})
		}
		addr += 4
	}
	return imports
}

// ReadBytes returns len bytes starting at va, or ok=false if any part of
// the range falls outside a mapped section.
func (img *Image) ReadBytes(va uint32, length int) ([]byte, bool) {
	sec := img.SectionAt(va)
	if sec == nil {
		return nil, false
	}
	off, ok := img.VAToOffset(va)
	if !ok {
		return nil, false
	}
	end := off + uint32(length)
	if va+uint32(length) > sec.VirtualAddr+sec.VirtualSize {
		return nil, false
	}
	if int(end) > len(img.data) {
		return nil, false
	}
	return img.data[off:end], true
}

// ReadU32LE reads a little-endian 32-bit word at va.
func (img *Image) ReadU32LE(va uint32) (uint32, bool) {
	b, ok := img.ReadBytes(va, 4)
	if !ok {
		return 0, false
	}
	return binary.LittleEndian.Uint32(b), true
}

// SectionAt returns the section containing va, or nil.
func (img *Image) SectionAt(va uint32) *Section {
	for i := range img.Sections {
		if img.Sections[i].containsVA(va) {
			return &img.Sections[i]
		}
	}
	return nil
}

// VAToOffset converts a virtual address to a file offset via its
// containing section, or ok=false if va is unmapped.
func (img *Image) VAToOffset(va uint32) (uint32, bool) {
	sec := img.SectionAt(va)
	if sec == nil {
		return 0, false
	}
	return vaToOffsetRaw(va, sec.VirtualAddr-sec.RawAddr, img.data)
}

// KernelImportAtThunk looks up a kernel import by its thunk-table address.
func (img *Image) KernelImportAtThunk(thunkAddr uint32) (KernelImport, bool) {
	ki, ok := img.importsByThunk[thunkAddr]
	return ki, ok
}

func vaToOffsetRaw(va, baseDelta uint32, data []byte) (uint32, bool) {
	off := va - baseDelta
	if int(off) < 0 || int(off) >= len(data) {
		return 0, false
	}
	return off, true
}

func le32(data []byte, off int) uint32 {
	if off < 0 || off+4 > len(data) {
		return 0
	}
	return binary.LittleEndian.Uint32(data[off : off+4])
}

func readCString(data []byte, va, base uint32) string {
	if va == 0 {
		return ""
	}
	off, ok := vaToOffsetRaw(va, base, data)
	if !ok || int(off) >= len(data) {
		return ""
	}
	end := off
	for int(end) < len(data) && data[end] != 0 {
		end++
	}
	return string(data[off:end])
}
