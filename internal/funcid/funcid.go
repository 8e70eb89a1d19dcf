// Package funcid classifies detected functions into library, runtime,
// data-init, vtable, and game-area categories, in the strict priority
// order §4.F defines.
package funcid

import (
	"github.com/sp00nznet/burnout3/internal/disasm"
	"github.com/sp00nznet/burnout3/internal/functions"
	"github.com/sp00nznet/burnout3/internal/xbe"
	"github.com/sp00nznet/burnout3/internal/xrefs"
)

// Category is the top-level classification bucket.
type Category string

const (
	CategoryUnknown    Category = "unknown"
	CategoryCRT        Category = "crt"
	CategoryDataInit   Category = "data_init"
	CategoryGameVtable Category = "game_vtable"
	// Library and game_<area> categories are formatted dynamically, e.g.
	// "rw_world" or "game_vehicle".
)

// Record is one function's classification, §3's Classification record.
type Record struct {
	Start        uint32
	Category     string
	Subcategory  string
	Module       string
	SourceFile   string
	Confidence   float64
	Method       string
	VtableAddr   uint32
	VtableIndex  int
	HasVtable    bool
}

// overwritePriority ranks methods so a higher-priority classification
// always wins a conflict, per §3: runtime-signature > library > propagation
// > string-keyword.
var overwritePriority = map[string]int{
	"crt_signature":  4,
	"rw_id_string":   3,
	"rw_zone":        3,
	"library_region": 3,
	"vtable_scan":    3,
	"vtable_ctor":    3,
	"data_init":      3,
	"forward_majority":    2,
	"backward_majority":   2,
	"library_flood":       2,
	"proximity":           2,
	"library_api_consumer": 2,
	"platform_caller":      2,
	"string_keyword":       1,
}

type results struct {
	byAddr map[uint32]Record
}

func newResults() *results { return &results{byAddr: make(map[uint32]Record)} }

func (r *results) set(addr uint32, rec Record) {
	existing, ok := r.byAddr[addr]
	if !ok || overwritePriority[rec.Method] >= overwritePriority[existing.Method] {
		r.byAddr[addr] = rec
	}
}

func (r *results) get(addr uint32) (Record, bool) {
	rec, ok := r.byAddr[addr]
	return rec, ok
}

// Identify runs all seven sub-phases in order and returns one Record per
// classified function. Functions untouched by any phase are absent from
// the result (callers should treat a missing entry as "unknown").
func Identify(img *xbe.Image, e *disasm.Engine, tr *xrefs.Tracker, funcs []*functions.Function) map[uint32]Record {
	res := newResults()
	funcStarts := make([]uint32, len(funcs))
	for i, f := range funcs {
		funcStarts[i] = f.Start
	}

	idStrings := findIDStrings(img)
	f1Funcs, zones := classifyIDStringRefs(img, e, funcs, idStrings, res)
	classifyZones(img, e, funcs, zones, res)
	classifyLibraryRegion(img, funcs, res, f1Funcs, zones)

	classifyCRTSignatures(img, funcs, res)
	classifyDataInitStubs(img, funcs, res)

	imm := scanImmediateRefs(img, funcs)
	vtables := scanVtables(img, funcStarts, imm)
	classifyVtables(img, funcs, vtables, res)
	classifyVtableCtors(vtables, imm, res)

	propagate(img, e, funcs, tr, res)

	out := make(map[uint32]Record, len(res.byAddr))
	for k, v := range res.byAddr {
		out[k] = v
	}
	return out
}
