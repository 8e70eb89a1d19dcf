// Package functions implements the five-pass function-boundary detector.
package functions

import (
	"sort"

	"github.com/sp00nznet/burnout3/internal/disasm"
	"github.com/sp00nznet/burnout3/internal/xbe"
)

// Method records which pass proposed a function's start address.
type Method string

const (
	MethodEntryPoint  Method = "entry-point"
	MethodPrologue    Method = "prologue"
	MethodPrologueAlt Method = "prologue-alt"
	MethodCCBoundary  Method = "cc-boundary"
	MethodCallTarget  Method = "call-target"
)

// Function is one detected function's boundary and metadata.
type Function struct {
	Start           uint32
	End             uint32 // exclusive
	Name            string
	Section         string
	Confidence      float64
	Method          Method
	CallsTo         []uint32
	CalledBy        []uint32
	NumInstructions int
	HasPrologue     bool
}

type candidate struct {
	addr       uint32
	confidence float64
	method     Method
}

// Detect runs all five passes and returns functions sorted by start
// address. img supplies section bounds; e supplies decoded instructions.
func Detect(img *xbe.Image, e *disasm.Engine, entryPoint uint32) []*Function {
	candidates := make(map[uint32]candidate)
	propose := func(addr uint32, conf float64, m Method) {
		if _, ok := e.At(addr); !ok {
			return
		}
		existing, ok := candidates[addr]
		if !ok || conf > existing.confidence {
			candidates[addr] = candidate{addr: addr, confidence: conf, method: m}
		}
	}

	// Pass 1: known seeds.
	propose(entryPoint, 1.00, MethodEntryPoint)

	// Pass 2: prologue scan.
	for _, sec := range img.Sections {
		if !sec.Executable {
			continue
		}
		data, ok := img.ReadBytes(sec.VirtualAddr, int(sec.VirtualSize))
		if !ok {
			continue
		}
		for i := 0; i+3 <= len(data); i++ {
			addr := sec.VirtualAddr + uint32(i)
			if data[i] == 0x55 && data[i+1] == 0x8B && data[i+2] == 0xEC {
				propose(addr, 0.95, MethodPrologue)
			} else if i+3 <= len(data) && data[i] == 0x55 && data[i+1] == 0x89 && data[i+2] == 0xE5 {
				propose(addr, 0.95, MethodPrologueAlt)
			}
		}
	}

	// Pass 3: padding boundary. Runs of 0xCC; if the instruction 1-3
	// bytes before the run is a ret, the next decoded instruction after
	// the run is a candidate.
	for _, sec := range img.Sections {
		if !sec.Executable {
			continue
		}
		data, ok := img.ReadBytes(sec.VirtualAddr, int(sec.VirtualSize))
		if !ok {
			continue
		}
		i := 0
		for i < len(data) {
			if data[i] != 0xCC {
				i++
				continue
			}
			runStart := i
			for i < len(data) && data[i] == 0xCC {
				i++
			}
			runEnd := i // exclusive, first byte after run
			if precededByRet(e, sec.VirtualAddr, data, runStart) {
				nextAddr := sec.VirtualAddr + uint32(runEnd)
				propose(nextAddr, 0.85, MethodCCBoundary)
			}
		}
	}

	// Pass 4: call targets.
	for _, in := range e.All() {
		if in.Class.Has(disasm.ClassCall) && in.CallTarget != nil {
			if sec := img.SectionAt(*in.CallTarget); sec != nil && sec.Executable {
				propose(*in.CallTarget, 0.90, MethodCallTarget)
			}
		}
	}

	// Pass 5: build & walk.
	sorted := make([]candidate, 0, len(candidates))
	for _, c := range candidates {
		sorted = append(sorted, c)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].addr < sorted[j].addr })

	var funcs []*Function
	for i, c := range sorted {
		sec := img.SectionAt(c.addr)
		if sec == nil {
			continue
		}
		var nextCandidate uint32 = sec.VirtualAddr + sec.VirtualSize
		if i+1 < len(sorted) {
			nextSec := img.SectionAt(sorted[i+1].addr)
			if nextSec != nil && nextSec.VirtualAddr == sec.VirtualAddr {
				nextCandidate = sorted[i+1].addr
			}
		}

		end := findFunctionEnd(e, c.addr, nextCandidate, sec.VirtualAddr+sec.VirtualSize)
		insns := e.InstructionsInRange(c.addr, end)
		if len(insns) == 0 {
			continue
		}

		f := &Function{
			Start:           c.addr,
			End:             end,
			Name:            "",
			Section:         sec.Name,
			Confidence:      c.confidence,
			Method:          c.method,
			NumInstructions: len(insns),
			HasPrologue:     c.method == MethodPrologue || c.method == MethodPrologueAlt,
		}
		funcs = append(funcs, f)
	}

	PopulateCallsFromEngine(funcs, e)
	return funcs
}

func precededByRet(e *disasm.Engine, secStart uint32, data []byte, runStart int) bool {
	for back := 1; back <= 3; back++ {
		pos := runStart - back
		if pos < 0 {
			break
		}
		addr := secStart + uint32(pos)
		in, ok := e.At(addr)
		if ok && in.Class.Has(disasm.ClassRet) && int(in.Address-secStart)+in.Size == runStart {
			return true
		}
	}
	return false
}

// findFunctionEnd walks forward from start, tracking max_reached:
// initialized to the first instruction's end, extended by the targets of
// internal forward conditional jumps that land before nextCandidate. On
// an unconditional terminator (ret/unconditional jump), the walk stops
// once next_insn_addr >= max_reached; otherwise it continues past the
// terminator (jump-over-data idiom). The end never crosses nextCandidate
// or the section end.
func findFunctionEnd(e *disasm.Engine, start, nextCandidate, sectionEnd uint32) uint32 {
	limit := nextCandidate
	if sectionEnd < limit {
		limit = sectionEnd
	}

	in, ok := e.At(start)
	if !ok {
		return start
	}
	maxReached := start + uint32(in.Size)
	addr := start

	for addr < limit {
		cur, ok := e.At(addr)
		if !ok {
			break
		}

		if cur.Class.Has(disasm.ClassCondJump) && cur.JumpTarget != nil {
			target := *cur.JumpTarget
			if target > addr && target < limit && target > maxReached {
				maxReached = target
			}
		}

		end := addr + uint32(cur.Size)
		isTerminator := cur.Class.Has(disasm.ClassRet) || cur.Class.Has(disasm.ClassJump)
		if isTerminator {
			if end >= maxReached {
				return clampEnd(end, limit)
			}
		}
		if end > maxReached {
			maxReached = end
		}
		addr = end
	}
	return clampEnd(addr, limit)
}

func clampEnd(end, limit uint32) uint32 {
	if end > limit {
		return limit
	}
	return end
}

// PopulateCallsFromEngine fills CallsTo (direct call targets that land
// on a known function start) and, by inversion, CalledBy.
func PopulateCallsFromEngine(funcs []*Function, e *disasm.Engine) {
	byStart := make(map[uint32]*Function, len(funcs))
	for _, f := range funcs {
		byStart[f.Start] = f
	}

	for _, f := range funcs {
		seen := make(map[uint32]bool)
		var calls []uint32
		for _, in := range e.InstructionsInRange(f.Start, f.End) {
			if in.Class.Has(disasm.ClassCall) && in.CallTarget != nil {
				if _, ok := byStart[*in.CallTarget]; ok && !seen[*in.CallTarget] {
					seen[*in.CallTarget] = true
					calls = append(calls, *in.CallTarget)
				}
			}
		}
		f.CallsTo = calls
		f.CalledBy = nil
	}

	for _, f := range funcs {
		for _, callee := range f.CallsTo {
			if target, ok := byStart[callee]; ok {
				target.CalledBy = append(target.CalledBy, f.Start)
			}
		}
	}
}
