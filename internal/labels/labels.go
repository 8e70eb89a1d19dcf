// Package labels implements the address-to-name table: string extraction
// from read-only data and confidence-based label merging.
package labels

import (
	"fmt"
	"strings"

	"github.com/sp00nznet/burnout3/internal/xbe"
)

// Kind classifies why a label exists.
type Kind string

const (
	KindKernelImport Kind = "kernel-import"
	KindEntryPoint   Kind = "entry-point"
	KindFunction     Kind = "function"
	KindStringRef    Kind = "string-ref"
	KindData         Kind = "data"
	KindThunk        Kind = "thunk"
)

// Label is one named address.
type Label struct {
	Address    uint32
	Name       string
	Kind       Kind
	Section    string
	Confidence float64
}

func isAutoName(name string) bool {
	return strings.HasPrefix(name, "sub_")
}

// Manager owns the address->label table and its name index, merging by
// confidence on conflict.
type Manager struct {
	byAddr map[uint32]Label
	byName map[string]uint32
}

// NewManager creates an empty label table.
func NewManager() *Manager {
	return &Manager{
		byAddr: make(map[uint32]Label),
		byName: make(map[string]uint32),
	}
}

// Add inserts or merges a label. On conflict at the same address, the
// higher-confidence label wins; on a tie, an explicitly named label wins
// over an auto-generated sub_XXXXXXXX name.
func (m *Manager) Add(l Label) {
	existing, ok := m.byAddr[l.Address]
	if ok {
		if l.Confidence < existing.Confidence {
			return
		}
		if l.Confidence == existing.Confidence {
			if isAutoName(l.Name) && !isAutoName(existing.Name) {
				return
			}
		}
		delete(m.byName, existing.Name)
	}
	m.byAddr[l.Address] = l
	m.byName[l.Name] = l.Address
}

// Get returns the label at addr, if any.
func (m *Manager) Get(addr uint32) (Label, bool) {
	l, ok := m.byAddr[addr]
	return l, ok
}

// ByName performs the reverse lookup.
func (m *Manager) ByName(name string) (uint32, bool) {
	addr, ok := m.byName[name]
	return addr, ok
}

// All returns every label, unordered.
func (m *Manager) All() []Label {
	out := make([]Label, 0, len(m.byAddr))
	for _, l := range m.byAddr {
		out = append(out, l)
	}
	return out
}

// Len returns the number of distinct labeled addresses.
func (m *Manager) Len() int { return len(m.byAddr) }

// PopulateKernelLabels names every resolved kernel import thunk.
func PopulateKernelLabels(m *Manager, img *xbe.Image) {
	for _, ki := range img.KernelImports {
		m.Add(Label{
			Address:    ki.ThunkAddr,
			Name:       ki.Name,
			Kind:       KindKernelImport,
			Section:    sectionName(img, ki.ThunkAddr),
			Confidence: 1.0,
		})
	}
}

// PopulateEntryPoint names the image's resolved entry point.
func PopulateEntryPoint(m *Manager, img *xbe.Image) {
	m.Add(Label{
		Address:    img.EntryPoint,
		Name:       "entry_point",
		Kind:       KindEntryPoint,
		Section:    sectionName(img, img.EntryPoint),
		Confidence: 1.0,
	})
}

// StringRef is one extracted printable-ASCII run.
type StringRef struct {
	Address uint32
	Value   string
}

func isStringByte(b byte) bool {
	if b >= 32 && b <= 126 {
		return true
	}
	return b == '\t' || b == '\n' || b == '\r'
}

// ExtractStrings scans a read-only data section for runs of printable
// ASCII (code points 32-126 plus tab/LF/CR) of length >= 4 terminated by
// a zero byte.
func ExtractStrings(img *xbe.Image, sec xbe.Section) []StringRef {
	data, ok := img.ReadBytes(sec.VirtualAddr, int(sec.VirtualSize))
	if !ok {
		return nil
	}

	var out []StringRef
	i := 0
	for i < len(data) {
		if !isStringByte(data[i]) {
			i++
			continue
		}
		start := i
		for i < len(data) && isStringByte(data[i]) {
			i++
		}
		if i < len(data) && data[i] == 0 && i-start >= 4 {
			out = append(out, StringRef{
				Address: sec.VirtualAddr + uint32(start),
				Value:   string(data[start:i]),
			})
		}
	}
	return out
}

// PopulateStringLabels registers every extracted string at its address.
func PopulateStringLabels(m *Manager, img *xbe.Image, refs []StringRef) {
	for _, r := range refs {
		name := fmt.Sprintf("aString_%08X", r.Address)
		m.Add(Label{
			Address:    r.Address,
			Name:       name,
			Kind:       KindStringRef,
			Section:    sectionName(img, r.Address),
			Confidence: 0.5,
		})
	}
}

// NameFunction assigns an auto-generated name to a function start unless
// a stronger label already exists there.
func NameFunction(m *Manager, addr uint32, section string, confidence float64) {
	name := fmt.Sprintf("sub_%08X", addr)
	m.Add(Label{Address: addr, Name: name, Kind: KindFunction, Section: section, Confidence: confidence})
}

func sectionName(img *xbe.Image, addr uint32) string {
	if sec := img.SectionAt(addr); sec != nil {
		return sec.Name
	}
	return ""
}
