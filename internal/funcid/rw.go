package funcid

import (
	"sort"
	"strings"

	"github.com/sp00nznet/burnout3/internal/disasm"
	"github.com/sp00nznet/burnout3/internal/functions"
	"github.com/sp00nznet/burnout3/internal/labels"
	"github.com/sp00nznet/burnout3/internal/xbe"
)

// idString is a debug/assert string whose source path names the engine
// module it came from, e.g. "d:\\rwsdk\\src\\world\\world.c".
type idString struct {
	Address uint32
	Module  string
}

var rwPathMarkers = []string{`\src\`, `\rwsdk\`, `/src/`}

// findIDStrings scans every read-only data section for printable strings
// that look like compiler-embedded source paths, and derives a module
// name from the path component following the first src/rwsdk marker
// found (markers are tried in rwPathMarkers order).
func findIDStrings(img *xbe.Image) []idString {
	var out []idString
	for _, sec := range img.Sections {
		if sec.Executable || sec.Writable {
			continue
		}
		for _, ref := range labels.ExtractStrings(img, sec) {
			mod, ok := moduleFromPath(ref.Value)
			if ok {
				out = append(out, idString{Address: ref.Address, Module: mod})
			}
		}
	}
	return out
}

func moduleFromPath(s string) (string, bool) {
	lower := strings.ToLower(s)
	for _, marker := range rwPathMarkers {
		idx := strings.Index(lower, marker)
		if idx < 0 {
			continue
		}
		rest := s[idx+len(marker):]
		rest = strings.ReplaceAll(rest, "\\", "/")
		parts := strings.SplitN(rest, "/", 2)
		if len(parts) == 0 || parts[0] == "" {
			continue
		}
		return strings.ToLower(parts[0]), true
	}
	return "", false
}

// classifyIDStringRefs is §4.F.1: a function that references a
// source-path string is classified into that path's module. Returns the
// set of function starts touched, plus a module->addresses index used to
// seed zone classification.
func classifyIDStringRefs(img *xbe.Image, e *disasm.Engine, funcs []*functions.Function, ids []idString, res *results) (map[uint32]bool, map[string][]uint32) {
	byAddr := make(map[uint32]string, len(ids))
	for _, s := range ids {
		byAddr[s.Address] = s.Module
	}

	touched := make(map[uint32]bool)
	zones := make(map[string][]uint32)

	fnFor := funcFinder(funcs)
	for _, in := range e.All() {
		if in.MemoryRef == nil {
			continue
		}
		mod, ok := byAddr[*in.MemoryRef]
		if !ok {
			continue
		}
		f := fnFor(in.Address)
		if f == nil {
			continue
		}
		res.set(f.Start, Record{
			Start:      f.Start,
			Category:   "rw_" + mod,
			Method:     "rw_id_string",
			Confidence: 0.9,
		})
		touched[f.Start] = true
		zones[mod] = append(zones[mod], f.Start)
	}
	return touched, zones
}

// classifyZones is §4.F.2: functions sandwiched between two id-stringed
// functions of the same module, within the same section and with no
// intervening different-module function, join that module's zone.
func classifyZones(img *xbe.Image, e *disasm.Engine, funcs []*functions.Function, zones map[string][]uint32, res *results) {
	sorted := append([]*functions.Function(nil), funcs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	moduleOf := make(map[uint32]string)
	for mod, addrs := range zones {
		for _, a := range addrs {
			moduleOf[a] = mod
		}
	}

	for i := 0; i < len(sorted); i++ {
		f := sorted[i]
		if _, ok := moduleOf[f.Start]; ok {
			continue
		}
		if rec, ok := res.get(f.Start); ok && rec.Method != "" {
			continue
		}
		// find nearest labeled neighbor before and after in the same section
		var before, after string
		for j := i - 1; j >= 0 && sorted[j].Section == f.Section; j-- {
			if mod, ok := moduleOf[sorted[j].Start]; ok {
				before = mod
				break
			}
		}
		for j := i + 1; j < len(sorted) && sorted[j].Section == f.Section; j++ {
			if mod, ok := moduleOf[sorted[j].Start]; ok {
				after = mod
				break
			}
		}
		if before != "" && before == after {
			res.set(f.Start, Record{
				Start:      f.Start,
				Category:   "rw_" + before,
				Method:     "rw_zone",
				Confidence: 0.7,
			})
		}
	}
}

// classifyLibraryRegion is §4.F.3: once a contiguous run of a section is
// dominated by a single rw_* module, the remaining unclassified functions
// in that run's address span are folded into the same module at a lower
// confidence — library code clusters contiguously.
func classifyLibraryRegion(img *xbe.Image, funcs []*functions.Function, res *results, seeded map[uint32]bool, zones map[string][]uint32) {
	for mod, addrs := range zones {
		if len(addrs) == 0 {
			continue
		}
		lo, hi := addrs[0], addrs[0]
		for _, a := range addrs {
			if a < lo {
				lo = a
			}
			if a > hi {
				hi = a
			}
		}
		for _, f := range funcs {
			if f.Start < lo || f.Start > hi {
				continue
			}
			if rec, ok := res.get(f.Start); ok && overwritePriority[rec.Method] >= overwritePriority["library_region"] {
				continue
			}
			res.set(f.Start, Record{
				Start:      f.Start,
				Category:   "rw_" + mod,
				Method:     "library_region",
				Confidence: 0.6,
			})
		}
	}
}

func funcFinder(funcs []*functions.Function) func(addr uint32) *functions.Function {
	sorted := append([]*functions.Function(nil), funcs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })
	return func(addr uint32) *functions.Function {
		i := sort.Search(len(sorted), func(i int) bool { return sorted[i].Start > addr }) - 1
		if i < 0 || i >= len(sorted) {
			return nil
		}
		f := sorted[i]
		if addr >= f.Start && addr < f.End {
			return f
		}
		return nil
	}
}
