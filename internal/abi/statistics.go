package abi

import (
	"sort"
	"strconv"
)

// stackSizeBracket is one bucket of the stack-frame-size histogram,
// directly mirroring analyzer.py's `_build_statistics` brackets.
type stackSizeBracket struct {
	label  string
	lo, hi uint32
}

var stackSizeBrackets = []stackSizeBracket{
	{"1-16", 1, 16},
	{"17-64", 17, 64},
	{"65-256", 65, 256},
	{"257-1024", 257, 1024},
	{"1025-65536", 1025, 65536},
}

// CategoryStats is the per-category breakdown within Statistics.
type CategoryStats struct {
	Total             int            `json:"total"`
	FrameType         map[string]int `json:"frame"`
	CallingConvention map[string]int `json:"cc"`
}

// Statistics is the §4.G ABI-inference summary report spec.md only
// requires per-function records for; SPEC_FULL.md's SUPPLEMENTED
// FEATURES adds this aggregate view for a human auditing inference
// quality, grounded on `original_source/tools/abi_analysis/analyzer.py`'s
// `_build_statistics`.
type Statistics struct {
	TotalAnalyzed         int                      `json:"total_analyzed"`
	FrameType             map[string]int           `json:"frame_type"`
	CallingConvention     map[string]int           `json:"calling_convention"`
	ReturnHint            map[string]int           `json:"return_hint"`
	EstimatedParams       map[string]int           `json:"estimated_params"`
	StackSizeDistribution map[string]int           `json:"stack_size_distribution"`
	ThiscallCount         int                       `json:"thiscall_count"`
	ByCategory            map[string]CategoryStats `json:"by_category"`
}

// Summarize builds a Statistics report from every function's inferred
// Signature and its classification category (from §4.F), as a value
// returned once at the end of the stage rather than printed mid-pipeline
// (§5 forbids stages from observing each other's partial state, and the
// report is a pure function of the completed signature map).
func Summarize(sigs map[uint32]Signature, categories map[uint32]string) Statistics {
	stats := Statistics{
		FrameType:             make(map[string]int),
		CallingConvention:     make(map[string]int),
		ReturnHint:            make(map[string]int),
		EstimatedParams:       make(map[string]int),
		StackSizeDistribution: make(map[string]int),
		ByCategory:            make(map[string]CategoryStats),
	}

	type categoryAccum struct {
		total int
		frame map[string]int
		cc    map[string]int
	}
	byCategory := make(map[string]*categoryAccum)

	for addr, sig := range sigs {
		stats.TotalAnalyzed++
		stats.FrameType[string(sig.FrameType)]++
		stats.CallingConvention[string(sig.Convention)]++
		stats.ReturnHint[string(sig.Return)]++
		stats.EstimatedParams[strconv.Itoa(sig.ParamCount)]++

		if sig.Convention == ConventionThiscall || sig.Convention == ConventionThiscallCdecl {
			stats.ThiscallCount++
		}

		if sig.StackFrameSize > 0 {
			for _, b := range stackSizeBrackets {
				if sig.StackFrameSize >= b.lo && sig.StackFrameSize <= b.hi {
					stats.StackSizeDistribution[b.label]++
					break
				}
			}
		}

		cat := categories[addr]
		if cat == "" {
			continue
		}
		acc, ok := byCategory[cat]
		if !ok {
			acc = &categoryAccum{frame: make(map[string]int), cc: make(map[string]int)}
			byCategory[cat] = acc
		}
		acc.total++
		acc.frame[string(sig.FrameType)]++
		acc.cc[string(sig.Convention)]++
	}

	// Only categories with at least 5 functions are reported, matching
	// analyzer.py's own threshold for the per-category breakdown.
	for cat, acc := range byCategory {
		if acc.total < 5 {
			continue
		}
		stats.ByCategory[cat] = CategoryStats{
			Total:             acc.total,
			FrameType:         acc.frame,
			CallingConvention: acc.cc,
		}
	}

	return stats
}

// TopCategories returns the category names in ByCategory ordered by
// descending function count, the same ranking analyzer.py's
// `_print_statistics` walks when printing its "top" category list.
func (s Statistics) TopCategories() []string {
	names := make([]string, 0, len(s.ByCategory))
	for cat := range s.ByCategory {
		names = append(names, cat)
	}
	sort.Slice(names, func(i, j int) bool {
		ti, tj := s.ByCategory[names[i]].Total, s.ByCategory[names[j]].Total
		if ti != tj {
			return ti > tj
		}
		return names[i] < names[j]
	})
	return names
}
