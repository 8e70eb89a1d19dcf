package funcid

import (
	"sort"
	"strings"

	"github.com/sp00nznet/burnout3/internal/disasm"
	"github.com/sp00nznet/burnout3/internal/functions"
	"github.com/sp00nznet/burnout3/internal/labels"
	"github.com/sp00nznet/burnout3/internal/xbe"
	"github.com/sp00nznet/burnout3/internal/xrefs"
)

const maxFloodRounds = 20

// propagate is §4.F.7: six neighbor-based passes that spread the
// high-confidence classifications from earlier phases onto everything
// they didn't directly touch, each at a lower confidence than what it
// propagates from.
func propagate(img *xbe.Image, e *disasm.Engine, funcs []*functions.Function, tr *xrefs.Tracker, res *results) {
	byStart := make(map[uint32]*functions.Function, len(funcs))
	for _, f := range funcs {
		byStart[f.Start] = f
	}

	majorityPropagate(funcs, byStart, res)
	floodLibraryRegions(funcs, byStart, res)
	proximityPropagate(funcs, res)
	libraryAPIConsumers(funcs, tr, res)
	platformCallers(funcs, tr, res)
	stringKeywordClassify(img, e, funcs, res)
}

var keywordCategories = []struct {
	Keyword  string
	Category string
}{
	{"vehicle", "game_vehicle"},
	{"camera", "game_camera"},
	{"render", "game_render"},
	{"sound", "game_audio"},
	{"audio", "game_audio"},
	{"network", "game_network"},
	{"physic", "game_physics"},
	{"collis", "game_physics"},
	{"hud", "game_ui"},
	{"menu", "game_ui"},
	{"ai_", "game_ai"},
}

// stringKeywordClassify is §4.F.7's lowest-priority pass: a function that
// references a debug/UI string containing one of a small set of
// gameplay-area keywords is tentatively assigned that area. This is the
// weakest signal in the pipeline and never overrides an existing call.
func stringKeywordClassify(img *xbe.Image, e *disasm.Engine, funcs []*functions.Function, res *results) {
	byAddr := make(map[uint32]string)
	for _, sec := range img.Sections {
		if sec.Executable || sec.Writable {
			continue
		}
		for _, ref := range labels.ExtractStrings(img, sec) {
			byAddr[ref.Address] = ref.Value
		}
	}
	if len(byAddr) == 0 {
		return
	}

	fnFor := funcFinder(funcs)
	for _, in := range e.All() {
		if in.MemoryRef == nil {
			continue
		}
		s, ok := byAddr[*in.MemoryRef]
		if !ok {
			continue
		}
		f := fnFor(in.Address)
		if f == nil {
			continue
		}
		if _, already := res.get(f.Start); already {
			continue
		}
		lower := strings.ToLower(s)
		for _, kc := range keywordCategories {
			if strings.Contains(lower, kc.Keyword) {
				res.set(f.Start, Record{Start: f.Start, Category: kc.Category, Method: "string_keyword", Confidence: 0.35})
				break
			}
		}
	}
}

// majorityPropagate assigns an unclassified function its callers'/callees'
// category when at least 2/3 of a neighbor set (minimum 2 neighbors) agree
// on one category. Runs forward (from callees) then backward (from
// callers), each a single pass — later propagation rounds pick up any
// newly-settled neighbors via floodLibraryRegions.
func majorityPropagate(funcs []*functions.Function, byStart map[uint32]*functions.Function, res *results) {
	vote := func(neighbors []uint32) (string, bool) {
		counts := make(map[string]int)
		total := 0
		for _, n := range neighbors {
			if rec, ok := res.get(n); ok && rec.Category != "" {
				counts[rec.Category]++
				total++
			}
		}
		if total < 2 {
			return "", false
		}
		for cat, c := range counts {
			if float64(c) >= (2.0/3.0)*float64(total) {
				return cat, true
			}
		}
		return "", false
	}

	for _, f := range funcs {
		if _, ok := res.get(f.Start); ok {
			continue
		}
		if cat, ok := vote(f.CallsTo); ok {
			res.set(f.Start, Record{Start: f.Start, Category: cat, Method: "forward_majority", Confidence: 0.55})
			continue
		}
		if cat, ok := vote(f.CalledBy); ok {
			res.set(f.Start, Record{Start: f.Start, Category: cat, Method: "backward_majority", Confidence: 0.5})
		}
	}
}

// floodLibraryRegions repeatedly extends any rw_* classification across
// direct call edges until no round adds a new function or maxFloodRounds
// is reached, so a library function called only from deep inside its own
// module (not directly string-referenced) still gets attributed.
func floodLibraryRegions(funcs []*functions.Function, byStart map[uint32]*functions.Function, res *results) {
	for round := 0; round < maxFloodRounds; round++ {
		changed := false
		for _, f := range funcs {
			rec, ok := res.get(f.Start)
			if !ok || !strings.HasPrefix(rec.Category, "rw_") {
				continue
			}
			for _, callee := range f.CallsTo {
				if _, has := res.get(callee); has {
					continue
				}
				res.set(callee, Record{Start: callee, Category: rec.Category, Method: "library_flood", Confidence: rec.Confidence * 0.9})
				changed = true
			}
		}
		if !changed {
			break
		}
	}
}

// proximityPropagate inherits the category of the immediately preceding
// function in the same section when the gap after it is small: up to 256
// bytes after an rw_* neighbor, up to 32 bytes after any other. Only the
// preceding neighbor is consulted; the following one is not.
func proximityPropagate(funcs []*functions.Function, res *results) {
	sorted := append([]*functions.Function(nil), funcs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	for i, f := range sorted {
		if _, ok := res.get(f.Start); ok {
			continue
		}
		if i == 0 {
			continue
		}
		prev := sorted[i-1]
		prevRec, ok := res.get(prev.Start)
		if !ok || prev.Section != f.Section {
			continue
		}
		gap := int64(f.Start) - int64(prev.End)
		threshold := int64(32)
		if strings.HasPrefix(prevRec.Category, "rw_") {
			threshold = 256
		}
		if gap >= 0 && gap <= threshold {
			res.set(f.Start, Record{Start: f.Start, Category: prevRec.Category, Method: "proximity", Confidence: prevRec.Confidence * 0.6})
		}
	}
}

// libraryAPIConsumers classifies a function as a game-side "library
// consumer" when most of its direct calls land on already-classified
// library functions: it isn't library code itself, but it's deeply
// coupled to one module.
func libraryAPIConsumers(funcs []*functions.Function, tr *xrefs.Tracker, res *results) {
	for _, f := range funcs {
		if _, ok := res.get(f.Start); ok {
			continue
		}
		counts := make(map[string]int)
		for _, callee := range f.CallsTo {
			if rec, ok := res.get(callee); ok && strings.HasPrefix(rec.Category, "rw_") {
				counts[rec.Category]++
			}
		}
		if len(f.CallsTo) == 0 {
			continue
		}
		best, bestN := "", 0
		for cat, n := range counts {
			if n > bestN {
				best, bestN = cat, n
			}
		}
		if bestN > 0 && float64(bestN) >= 0.5*float64(len(f.CallsTo)) {
			res.set(f.Start, Record{Start: f.Start, Category: "game_" + strings.TrimPrefix(best, "rw_") + "_consumer", Method: "library_api_consumer", Confidence: 0.45})
		}
	}
}

// platformCallers classifies a function dominated by kernel-import calls
// as a thin platform-abstraction shim rather than game logic.
func platformCallers(funcs []*functions.Function, tr *xrefs.Tracker, res *results) {
	fnFor := funcFinder(funcs)
	kernelCallsByFunc := make(map[uint32]int)
	totalCallsByFunc := make(map[uint32]int)

	for _, x := range tr.ToSortedList() {
		f := fnFor(x.From)
		if f == nil {
			continue
		}
		if x.Kind == xrefs.KindKernelCall {
			kernelCallsByFunc[f.Start]++
		}
		if x.Kind == xrefs.KindCall || x.Kind == xrefs.KindKernelCall {
			totalCallsByFunc[f.Start]++
		}
	}

	for _, f := range funcs {
		if _, ok := res.get(f.Start); ok {
			continue
		}
		total := totalCallsByFunc[f.Start]
		kernel := kernelCallsByFunc[f.Start]
		if total >= 2 && float64(kernel) >= 0.75*float64(total) {
			res.set(f.Start, Record{Start: f.Start, Category: "platform_shim", Method: "platform_caller", Confidence: 0.6})
		}
	}
}
