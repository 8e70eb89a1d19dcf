// Package globals implements the global-variable mapper of §4.H:
// discovery from cross-reference data, size inference, string
// cross-referencing, structure grouping, and classification.
package globals

import (
	"sort"

	"github.com/sp00nznet/burnout3/internal/funcid"
	"github.com/sp00nznet/burnout3/internal/functions"
	"github.com/sp00nznet/burnout3/internal/labels"
	"github.com/sp00nznet/burnout3/internal/xbe"
	"github.com/sp00nznet/burnout3/internal/xrefs"
)

// Importance buckets a global's significance from its access pattern.
type Importance string

const (
	ImportanceLow    Importance = "low"
	ImportanceMedium Importance = "medium"
	ImportanceHigh   Importance = "high"
)

// Global is one discovered data-section address with its access history.
type Global struct {
	Address            uint32
	Section            string // "data" or "rdata"
	InferredSize       int    // 1, 2, 4, or 8
	ReadCount          int
	WriteCount         int
	AccessorFunctions  []uint32
	AccessorCategories map[string]int
	Classification     string
	Importance         Importance
	InitialValue       *uint64
	StringRef          string
	NearbyString       *NearbyString
}

// NearbyString records a string found within a small byte window of a
// global that is not itself a string.
type NearbyString struct {
	Address uint32
	Offset  int
	Text    string
}

// Field is one member of a candidate structure.
type Field struct {
	Offset    uint32
	Address   uint32
	Size      int
	ReadCount int
}

// Structure is a candidate aggregate: a contiguous run of globals shared
// by one dominant accessor function.
type Structure struct {
	BaseAddress      uint32
	TotalSize        uint32
	Fields           []Field
	PrimaryAccessor  uint32
}

const maxStructFieldGap = 0x100
const minStructFields = 3

// Map runs the full §4.H pipeline and returns globals (sorted by
// address) and candidate structures (sorted by descending size).
func Map(img *xbe.Image, tr *xrefs.Tracker, funcs []*functions.Function, ids map[uint32]funcid.Record, strs []labels.StringRef) ([]*Global, []*Structure) {
	byStart := make([]*functions.Function, len(funcs))
	copy(byStart, funcs)
	sort.Slice(byStart, func(i, j int) bool { return byStart[i].Start < byStart[j].Start })

	gm := make(map[uint32]*Global)

	for _, x := range tr.ToSortedList() {
		if x.Kind != xrefs.KindDataRead {
			continue
		}
		sec := img.SectionAt(x.To)
		if sec == nil || sec.Executable {
			continue
		}
		secName := "data"
		if !sec.Writable {
			secName = "rdata"
		}

		g, ok := gm[x.To]
		if !ok {
			g = &Global{
				Address:            x.To,
				Section:            secName,
				InferredSize:       4,
				AccessorCategories: make(map[string]int),
			}
			gm[x.To] = g
		}

		// The tracker doesn't distinguish read from write at this layer;
		// a data-read edge from an instruction that also writes (e.g. a
		// read-modify-write) is double counted deliberately to match the
		// per-xref accounting the rest of the pipeline performs.
		g.ReadCount++

		fn := containingFunction(byStart, x.From)
		if fn != nil {
			if !containsU32(g.AccessorFunctions, fn.Start) {
				g.AccessorFunctions = append(g.AccessorFunctions, fn.Start)
			}
			cat := "unknown"
			if rec, ok := ids[fn.Start]; ok && rec.Category != "" {
				cat = rec.Category
			}
			g.AccessorCategories[cat]++
		}
	}

	sortedAddrs := make([]uint32, 0, len(gm))
	for a := range gm {
		sortedAddrs = append(sortedAddrs, a)
	}
	sort.Slice(sortedAddrs, func(i, j int) bool { return sortedAddrs[i] < sortedAddrs[j] })

	inferSizes(gm, sortedAddrs)
	readInitialValues(img, gm, sortedAddrs)
	crossReferenceStrings(gm, sortedAddrs, strs)
	classify(gm, sortedAddrs)

	out := make([]*Global, len(sortedAddrs))
	for i, a := range sortedAddrs {
		out[i] = gm[a]
	}

	structs := detectStructures(gm, sortedAddrs)
	return out, structs
}

func containsU32(s []uint32, v uint32) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

func containingFunction(sorted []*functions.Function, addr uint32) *functions.Function {
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

// inferSizes is §4.H's size-inference rule: the gap to the next global
// by address bounds the nominal width, rounded to a power-of-two-ish
// size and then clamped by the address's own alignment.
func inferSizes(gm map[uint32]*Global, sorted []uint32) {
	for i, addr := range sorted {
		var gap uint32 = 256
		if i+1 < len(sorted) {
			gap = sorted[i+1] - addr
		}

		var size int
		switch {
		case gap <= 1:
			size = 1
		case gap <= 3:
			size = 2
		case gap <= 4:
			size = 4
		case gap <= 8:
			size = 4
		case gap <= 16:
			size = 8
		default:
			size = 4
		}

		if size > 1 && addr%uint32(size) != 0 {
			switch {
			case addr%4 == 0:
				size = 4
			case addr%2 == 0:
				size = 2
			default:
				size = 1
			}
		}
		gm[addr].InferredSize = size
	}
}

func readInitialValues(img *xbe.Image, gm map[uint32]*Global, sorted []uint32) {
	for _, addr := range sorted {
		g := gm[addr]
		data, ok := img.ReadBytes(addr, g.InferredSize)
		if !ok {
			continue
		}
		var v uint64
		for i := len(data) - 1; i >= 0; i-- {
			v = v<<8 | uint64(data[i])
		}
		g.InitialValue = &v
	}
}

// crossReferenceStrings marks a global as itself a string reference, or
// finds one within +/-64 bytes at 4-byte steps — the same coarse window
// the analyzer uses, since string addresses are rarely sub-word aligned
// to anything but 4.
func crossReferenceStrings(gm map[uint32]*Global, sorted []uint32, strs []labels.StringRef) {
	byAddr := make(map[uint32]string, len(strs))
	for _, s := range strs {
		byAddr[s.Address] = s.Value
	}

	for _, addr := range sorted {
		g := gm[addr]
		if v, ok := byAddr[addr]; ok {
			g.StringRef = v
			continue
		}
		for off := -64; off <= 64; off += 4 {
			nearby := addr + uint32(off)
			if v, ok := byAddr[nearby]; ok {
				g.NearbyString = &NearbyString{Address: nearby, Offset: off, Text: v}
				break
			}
		}
	}
}

var categoryMap = map[string]string{
	"data_init":   "game_parameter",
	"game_engine": "engine_state",
	"game_vtable": "object_data",
	"crt":         "crt_internal",
}

var gameAreaCategories = map[string]string{
	"game_vehicle": "vehicle_data",
	"game_audio":   "audio_data",
	"game_render":  "render_data",
	"game_physics": "physics_data",
	"game_ui":      "ui_data",
	"game_network": "network_data",
	"game_camera":  "camera_data",
	"game_io":      "io_data",
	"game_input":   "input_data",
	"game_video":   "video_data",
}

// classify is §4.H's classification and importance rule.
func classify(gm map[uint32]*Global, sorted []uint32) {
	for _, addr := range sorted {
		g := gm[addr]
		if len(g.AccessorCategories) == 0 {
			g.Classification = "unreferenced"
		} else {
			primary, count := "", -1
			for cat, n := range g.AccessorCategories {
				if n > count {
					primary, count = cat, n
				}
			}
			switch {
			case len(primary) > 3 && primary[:3] == "rw_":
				g.Classification = "rw_internal"
			case categoryMap[primary] != "":
				g.Classification = categoryMap[primary]
			case gameAreaCategories[primary] != "":
				g.Classification = gameAreaCategories[primary]
			case primary == "unknown":
				if g.ReadCount > 50 {
					g.Classification = "game_constant"
				} else {
					g.Classification = "game_data"
				}
			default:
				g.Classification = "game_data"
			}
		}

		if g.Section == "rdata" {
			g.Classification = replaceSuffix(g.Classification, "_data", "_const")
			if g.Classification == "game_parameter" {
				g.Classification = "game_const"
			}
		}

		switch {
		case g.ReadCount >= 100 && len(g.AccessorFunctions) >= 10:
			g.Importance = ImportanceHigh
		case g.ReadCount >= 20 || len(g.AccessorFunctions) >= 5:
			g.Importance = ImportanceMedium
		default:
			g.Importance = ImportanceLow
		}
	}
}

func replaceSuffix(s, old, new string) string {
	if len(s) >= len(old) && s[len(s)-len(old):] == old {
		return s[:len(s)-len(old)] + new
	}
	return s
}

// detectStructures is §4.H's structure-grouping rule: globals are
// grouped by their primary (most-referencing) accessor function, then
// split into contiguous runs with gaps no larger than maxStructFieldGap;
// runs of at least minStructFields become candidates, deduplicated by
// (base, field count) and reported largest-first.
func detectStructures(gm map[uint32]*Global, sorted []uint32) []*Structure {
	byAccessor := make(map[uint32][]uint32)
	for _, addr := range sorted {
		g := gm[addr]
		if g.Section != "data" {
			continue
		}
		if len(g.AccessorFunctions) == 0 {
			continue
		}
		// First accessor recorded stands in for "primary" here; with a
		// single read/write edge list there is no weighted ranking to
		// break ties on, so insertion order is the tiebreak.
		primary := g.AccessorFunctions[0]
		byAccessor[primary] = append(byAccessor[primary], addr)
	}

	type keyed struct {
		fn    uint32
		addrs []uint32
	}
	var fns []keyed
	for fn, addrs := range byAccessor {
		fns = append(fns, keyed{fn, addrs})
	}
	sort.Slice(fns, func(i, j int) bool { return len(fns[i].addrs) > len(fns[j].addrs) })

	seen := make(map[[2]uint32]bool)
	var out []*Structure
	for _, k := range fns {
		if len(k.addrs) < minStructFields {
			continue
		}
		addrs := append([]uint32(nil), k.addrs...)
		sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })

		var groups [][]uint32
		cur := []uint32{addrs[0]}
		for i := 1; i < len(addrs); i++ {
			if addrs[i]-addrs[i-1] <= maxStructFieldGap {
				cur = append(cur, addrs[i])
			} else {
				if len(cur) >= minStructFields {
					groups = append(groups, cur)
				}
				cur = []uint32{addrs[i]}
			}
		}
		if len(cur) >= minStructFields {
			groups = append(groups, cur)
		}

		for _, group := range groups {
			base := group[0]
			key := [2]uint32{base, uint32(len(group))}
			if seen[key] {
				continue
			}
			seen[key] = true

			var fields []Field
			for _, a := range group {
				fields = append(fields, Field{
					Offset:    a - base,
					Address:   a,
					Size:      gm[a].InferredSize,
					ReadCount: gm[a].ReadCount,
				})
			}
			last := group[len(group)-1]
			out = append(out, &Structure{
				BaseAddress:     base,
				TotalSize:       last - base + uint32(gm[last].InferredSize),
				Fields:          fields,
				PrimaryAccessor: k.fn,
			})
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].TotalSize > out[j].TotalSize })
	return out
}
