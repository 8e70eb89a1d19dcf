package funcid

import (
	"encoding/binary"

	"github.com/sp00nznet/burnout3/internal/functions"
	"github.com/sp00nznet/burnout3/internal/xbe"
)

// Vtable is one candidate C++-style virtual function table found in
// read-only data: a run of consecutive words that all land on a known
// function start.
type Vtable struct {
	Address uint32
	Entries []uint32
}

const minVtableEntries = 3

// scanImmediateRefs indexes, for every function, the 32-bit little-endian
// words embedded anywhere in its raw bytes (at any alignment). A
// constructor typically writes its class's vtable address into a `this`
// pointer as a literal immediate, so this crude scan is enough to find
// the candidate call sites in classifyVtableCtors without a full operand
// walk.
func scanImmediateRefs(img *xbe.Image, funcs []*functions.Function) map[uint32][]uint32 {
	out := make(map[uint32][]uint32)
	for _, f := range funcs {
		size := int(f.End - f.Start)
		data, ok := img.ReadBytes(f.Start, size)
		if !ok || size < 4 {
			continue
		}
		seen := make(map[uint32]bool)
		for i := 0; i+4 <= len(data); i++ {
			v := binary.LittleEndian.Uint32(data[i:])
			if v != 0 && !seen[v] {
				seen[v] = true
				out[v] = append(out[v], f.Start)
			}
		}
	}
	return out
}

// scanVtables is §4.F.6: every read-only data section is scanned for runs
// of >= 3 consecutive words that all resolve to a known function start.
// Runs that are all-identical, whose consecutive entries all lie within
// 64 bytes of each other, or that form an arithmetic progression of any
// nonzero stride are rejected — those shapes are jump tables or
// counters, not virtual dispatch tables.
func scanVtables(img *xbe.Image, funcStarts []uint32, imm map[uint32][]uint32) []Vtable {
	known := make(map[uint32]bool, len(funcStarts))
	for _, a := range funcStarts {
		known[a] = true
	}

	var out []Vtable
	for _, sec := range img.Sections {
		if sec.Executable || sec.Writable {
			continue
		}
		data, ok := img.ReadBytes(sec.VirtualAddr, int(sec.VirtualSize))
		if !ok {
			continue
		}
		i := 0
		for i+4 <= len(data) {
			run := []uint32{}
			runStart := i
			j := i
			for j+4 <= len(data) {
				v := binary.LittleEndian.Uint32(data[j:])
				if !known[v] {
					break
				}
				run = append(run, v)
				j += 4
			}
			if len(run) >= minVtableEntries && !isDegenerate(run) {
				out = append(out, Vtable{
					Address: sec.VirtualAddr + uint32(runStart),
					Entries: run,
				})
			}
			if j > i {
				i = j
			} else {
				i++
			}
		}
	}
	return out
}

func isDegenerate(entries []uint32) bool {
	allSame := true
	for _, e := range entries {
		if e != entries[0] {
			allSame = false
			break
		}
	}
	if allSame {
		return true
	}

	sequential := true
	for k := 1; k < len(entries); k++ {
		diff := int64(entries[k]) - int64(entries[k-1])
		if diff < 0 {
			diff = -diff
		}
		if diff > 64 {
			sequential = false
			break
		}
	}
	if sequential {
		return true
	}

	if len(entries) >= 3 {
		stride := int64(entries[1]) - int64(entries[0])
		isArith := stride != 0
		for k := 2; k < len(entries) && isArith; k++ {
			if int64(entries[k])-int64(entries[k-1]) != stride {
				isArith = false
			}
		}
		if isArith {
			return true
		}
	}
	return false
}

// classifyVtables is the remainder of §4.F.6: every entry of a surviving
// vtable candidate is classified game_vtable. Constructors are
// classified separately by classifyVtableCtors.
func classifyVtables(img *xbe.Image, funcs []*functions.Function, vtables []Vtable, res *results) {
	for _, vt := range vtables {
		for idx, entry := range vt.Entries {
			res.set(entry, Record{
				Start:       entry,
				Category:    string(CategoryGameVtable),
				Method:      "vtable_scan",
				Confidence:  0.8,
				VtableAddr:  vt.Address,
				VtableIndex: idx,
				HasVtable:   true,
			})
		}
	}
}

// classifyVtableCtors must run after scanImmediateRefs; kept separate so
// funcid.go can call it with the imm index already built.
func classifyVtableCtors(vtables []Vtable, imm map[uint32][]uint32, res *results) {
	for _, vt := range vtables {
		for _, caller := range imm[vt.Address] {
			res.set(caller, Record{
				Start:      caller,
				Category:   string(CategoryGameVtable),
				Method:     "vtable_ctor",
				Confidence: 0.85,
				VtableAddr: vt.Address,
				HasVtable:  true,
			})
		}
	}
}
