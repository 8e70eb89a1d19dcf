// Package xrefs tracks cross-references between code and data: calls,
// jumps, data reads, and kernel import call sites.
package xrefs

import (
	"sort"

	"github.com/sp00nznet/burnout3/internal/disasm"
	"github.com/sp00nznet/burnout3/internal/xbe"
)

// Kind classifies one cross-reference edge.
type Kind string

const (
	KindCall       Kind = "call"
	KindJump       Kind = "jump"
	KindCondJump   Kind = "cond_jump"
	KindDataRead   Kind = "data_read"
	KindKernelCall Kind = "kernel_call"
)

// XRef is a single directed edge between two addresses.
type XRef struct {
	From       uint32
	To         uint32
	Kind       Kind
	KernelName string
}

// Tracker indexes cross-references by both endpoints, plus a dedicated
// thunk-address index for kernel call sites.
type Tracker struct {
	from         map[uint32][]XRef
	to           map[uint32][]XRef
	kernelCalls  map[uint32][]uint32
}

// NewTracker creates an empty cross-reference index.
func NewTracker() *Tracker {
	return &Tracker{
		from:        make(map[uint32][]XRef),
		to:          make(map[uint32][]XRef),
		kernelCalls: make(map[uint32][]uint32),
	}
}

// Add inserts one cross-reference.
func (t *Tracker) Add(x XRef) {
	t.from[x.From] = append(t.from[x.From], x)
	t.to[x.To] = append(t.to[x.To], x)
	if x.Kind == KindKernelCall {
		t.kernelCalls[x.To] = append(t.kernelCalls[x.To], x.From)
	}
}

// RefsFrom returns every edge originating at addr.
func (t *Tracker) RefsFrom(addr uint32) []XRef { return t.from[addr] }

// RefsTo returns every edge pointing at addr.
func (t *Tracker) RefsTo(addr uint32) []XRef { return t.to[addr] }

// CallersOf returns the addresses of direct callers of funcAddr.
func (t *Tracker) CallersOf(funcAddr uint32) []uint32 {
	var out []uint32
	for _, x := range t.to[funcAddr] {
		if x.Kind == KindCall {
			out = append(out, x.From)
		}
	}
	return out
}

// CalleesOf returns the direct call targets from addr.
func (t *Tracker) CalleesOf(addr uint32) []uint32 {
	var out []uint32
	for _, x := range t.from[addr] {
		if x.Kind == KindCall {
			out = append(out, x.To)
		}
	}
	return out
}

// KernelCallersOf returns every call site for a kernel thunk address.
func (t *Tracker) KernelCallersOf(thunkAddr uint32) []uint32 {
	return t.kernelCalls[thunkAddr]
}

// Count returns the total number of indexed edges.
func (t *Tracker) Count() int {
	n := 0
	for _, edges := range t.from {
		n += len(edges)
	}
	return n
}

// ToSortedList exports every xref sorted by From address, for stable
// JSON output.
func (t *Tracker) ToSortedList() []XRef {
	addrs := make([]uint32, 0, len(t.from))
	for a := range t.from {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })

	var out []XRef
	for _, a := range addrs {
		out = append(out, t.from[a]...)
	}
	return out
}

// Build scans every decoded instruction and populates a Tracker per
// §4.D: direct calls, direct jumps, conditional jumps, kernel-thunk
// calls/jumps (by name), indirect calls to unresolved memory, and plain
// data references.
func Build(e *disasm.Engine, img *xbe.Image) *Tracker {
	t := NewTracker()

	for _, in := range e.All() {
		switch {
		case in.Class.Has(disasm.ClassCall) && in.CallTarget != nil:
			t.Add(XRef{From: in.Address, To: *in.CallTarget, Kind: KindCall})

		case in.Class.Has(disasm.ClassCall) && in.MemoryRef != nil:
			if ki, ok := img.KernelImportAtThunk(*in.MemoryRef); ok {
				t.Add(XRef{From: in.Address, To: *in.MemoryRef, Kind: KindKernelCall, KernelName: ki.Name})
			} else {
				t.Add(XRef{From: in.Address, To: *in.MemoryRef, Kind: KindCall})
			}

		case (in.Class.Has(disasm.ClassJump) || in.Class.Has(disasm.ClassCondJump)) && in.MemoryRef != nil:
			if ki, ok := img.KernelImportAtThunk(*in.MemoryRef); ok {
				t.Add(XRef{From: in.Address, To: *in.MemoryRef, Kind: KindKernelCall, KernelName: ki.Name})
			}

		case in.Class.Has(disasm.ClassJump) && in.JumpTarget != nil:
			t.Add(XRef{From: in.Address, To: *in.JumpTarget, Kind: KindJump})

		case in.Class.Has(disasm.ClassCondJump) && in.JumpTarget != nil:
			t.Add(XRef{From: in.Address, To: *in.JumpTarget, Kind: KindCondJump})
		}

		isBranch := in.Class.Has(disasm.ClassCall) || in.Class.Has(disasm.ClassJump) || in.Class.Has(disasm.ClassCondJump)
		if !isBranch && in.MemoryRef != nil {
			t.Add(XRef{From: in.Address, To: *in.MemoryRef, Kind: KindDataRead})
		}
	}

	return t
}
