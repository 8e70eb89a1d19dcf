// Package disasm decodes x86-32 instructions out of a mapped image and
// tracks reachability across the function graph. Decoding itself is
// delegated to golang.org/x/arch/x86/x86asm; this package layers the
// call/jump/branch classification and operand-resolution rules the
// pipeline needs on top of it.
package disasm

import (
	"sort"

	"golang.org/x/arch/x86/x86asm"

	"github.com/sp00nznet/burnout3/internal/xbe"
)

// Class is a bitset of instruction classifications.
type Class uint8

const (
	ClassCall Class = 1 << iota
	ClassRet
	ClassJump
	ClassCondJump
	ClassNop
)

func (c Class) Has(f Class) bool { return c&f != 0 }

// Operand is a tagged union over register, immediate, and memory operands.
type Operand struct {
	Kind OperandKind

	// register
	Reg         x86asm.Reg
	ImplicitLen int

	// immediate
	Imm int64

	// memory
	MemBase  x86asm.Reg
	MemIndex x86asm.Reg
	MemScale int
	MemDisp  int64
	MemWidth int
}

type OperandKind int

const (
	OperandNone OperandKind = iota
	OperandReg
	OperandImm
	OperandMem
	OperandRel
)

// Instruction is one decoded x86-32 instruction plus the pipeline's
// resolved cross-reference fields.
type Instruction struct {
	Address  uint32
	Size     int
	Mnemonic string
	OpStr    string
	Bytes    []byte
	Operands []Operand
	Class    Class
	Inst     x86asm.Inst

	// Resolved targets; at most one is set.
	CallTarget *uint32
	JumpTarget *uint32
	MemoryRef  *uint32
}

// Engine decodes and indexes instructions for one image.
type Engine struct {
	img          *xbe.Image
	instructions map[uint32]*Instruction
	sortedAddrs  []uint32
	dirty        bool
}

// NewEngine creates a decoding engine bound to an image.
func NewEngine(img *xbe.Image) *Engine {
	return &Engine{
		img:          img,
		instructions: make(map[uint32]*Instruction),
	}
}

// At returns the decoded instruction at addr, if any.
func (e *Engine) At(addr uint32) (*Instruction, bool) {
	in, ok := e.instructions[addr]
	return in, ok
}

// Count returns the number of decoded instructions.
func (e *Engine) Count() int { return len(e.instructions) }

// All returns every decoded instruction, keyed by address.
func (e *Engine) All() map[uint32]*Instruction { return e.instructions }

// Sweep performs a linear decode over one section: it advances a cursor
// byte by byte, decoding one instruction per step. On decode failure at
// position p, the cursor advances by a single byte and retries. Returns
// the number of instructions successfully decoded.
func (e *Engine) Sweep(sec xbe.Section) int {
	data, ok := e.img.ReadBytes(sec.VirtualAddr, int(sec.VirtualSize))
	if !ok {
		return 0
	}

	n := 0
	pos := 0
	for pos < len(data) {
		addr := sec.VirtualAddr + uint32(pos)
		inst, err := x86asm.Decode(data[pos:], 32)
		if err != nil || inst.Len == 0 {
			pos++
			continue
		}
		e.decodeAt(addr, data[pos:pos+inst.Len], inst)
		pos += inst.Len
		n++
	}
	e.dirty = true
	return n
}

// RecursiveDescent walks the reachable instruction set from a set of seed
// addresses: it follows fall-through for ordinary instructions, pushes
// call targets onto the worklist while continuing past the call, pushes
// conditional-jump targets while continuing fall-through, pushes
// unconditional-jump targets and stops the linear walk there, and stops
// at returns. Bounds come from sectionBounds (lo inclusive, hi exclusive).
func (e *Engine) RecursiveDescent(seeds []uint32, sectionBounds func(addr uint32) (lo, hi uint32, ok bool)) map[uint32]bool {
	visited := make(map[uint32]bool)
	worklist := append([]uint32(nil), seeds...)

	for len(worklist) > 0 {
		addr := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]

		for {
			if visited[addr] {
				break
			}
			lo, hi, ok := sectionBounds(addr)
			if !ok || addr < lo || addr >= hi {
				break
			}
			in, ok := e.At(addr)
			if !ok {
				break
			}
			visited[addr] = true

			if in.Class.Has(ClassCall) {
				if in.CallTarget != nil {
					worklist = append(worklist, *in.CallTarget)
				}
				addr += uint32(in.Size)
				continue
			}
			if in.Class.Has(ClassCondJump) {
				if in.JumpTarget != nil {
					worklist = append(worklist, *in.JumpTarget)
				}
				addr += uint32(in.Size)
				continue
			}
			if in.Class.Has(ClassJump) {
				if in.JumpTarget != nil {
					worklist = append(worklist, *in.JumpTarget)
				}
				break
			}
			if in.Class.Has(ClassRet) {
				break
			}
			addr += uint32(in.Size)
		}
	}
	return visited
}

// InstructionsInRange returns decoded instructions with lo <= address < hi
// in address order.
func (e *Engine) InstructionsInRange(lo, hi uint32) []*Instruction {
	e.ensureSorted()
	start := sort.Search(len(e.sortedAddrs), func(i int) bool { return e.sortedAddrs[i] >= lo })
	var out []*Instruction
	for i := start; i < len(e.sortedAddrs) && e.sortedAddrs[i] < hi; i++ {
		out = append(out, e.instructions[e.sortedAddrs[i]])
	}
	return out
}

func (e *Engine) ensureSorted() {
	if !e.dirty && e.sortedAddrs != nil {
		return
	}
	e.sortedAddrs = e.sortedAddrs[:0]
	for addr := range e.instructions {
		e.sortedAddrs = append(e.sortedAddrs, addr)
	}
	sort.Slice(e.sortedAddrs, func(i, j int) bool { return e.sortedAddrs[i] < e.sortedAddrs[j] })
	e.dirty = false
}

func (e *Engine) decodeAt(addr uint32, raw []byte, inst x86asm.Inst) {
	in := &Instruction{
		Address:  addr,
		Size:     inst.Len,
		Mnemonic: mnemonicOf(inst),
		OpStr:    x86asm.GNUSyntax(inst, uint64(addr), nil),
		Bytes:    append([]byte(nil), raw...),
		Inst:     inst,
	}
	in.Class = classify(inst)
	in.Operands = resolveOperands(inst)
	applyMemWidth(in.Operands, inst.MemBytes)
	resolveTargets(in, inst, addr, e.img)
	e.instructions[addr] = in
}

func mnemonicOf(inst x86asm.Inst) string {
	op := inst.Op.String()
	// x86asm spells ops in upper camel (e.g. "JE"); the rest of the
	// pipeline and the lifter's mnemonic tables use lowercase AT&T-ish
	// names, matching the python disassembler's Capstone output.
	return lowerASCII(op)
}

func lowerASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

var condJumpOps = map[x86asm.Op]bool{
	x86asm.JA: true, x86asm.JAE: true, x86asm.JB: true, x86asm.JBE: true,
	x86asm.JCXZ: true, x86asm.JE: true, x86asm.JECXZ: true, x86asm.JG: true,
	x86asm.JGE: true, x86asm.JL: true, x86asm.JLE: true, x86asm.JNE: true,
	x86asm.JNO: true, x86asm.JNP: true, x86asm.JNS: true, x86asm.JO: true,
	x86asm.JP: true, x86asm.JS: true,
}

func classify(inst x86asm.Inst) Class {
	var c Class
	switch inst.Op {
	case x86asm.CALL:
		c |= ClassCall
	case x86asm.RET, x86asm.RETF:
		c |= ClassRet
	case x86asm.JMP:
		c |= ClassJump
	case x86asm.NOP:
		c |= ClassNop
	}
	if condJumpOps[inst.Op] {
		c |= ClassCondJump
	}
	return c
}

func resolveOperands(inst x86asm.Inst) []Operand {
	var ops []Operand
	for _, a := range inst.Args {
		if a == nil {
			break
		}
		ops = append(ops, toOperand(a))
	}
	return ops
}

// applyMemWidth fills in the byte width x86asm reports for the
// instruction's memory operand; x86asm.Mem itself carries no width, so
// it has to be copied over from the decoded instruction afterward.
func applyMemWidth(ops []Operand, memBytes int) {
	if memBytes == 0 {
		return
	}
	for i := range ops {
		if ops[i].Kind == OperandMem {
			ops[i].MemWidth = memBytes
		}
	}
}

func toOperand(a x86asm.Arg) Operand {
	switch v := a.(type) {
	case x86asm.Reg:
		return Operand{Kind: OperandReg, Reg: v}
	case x86asm.Imm:
		return Operand{Kind: OperandImm, Imm: int64(v)}
	case x86asm.Mem:
		return Operand{
			Kind:     OperandMem,
			MemBase:  v.Base,
			MemIndex: v.Index,
			MemScale: int(v.Scale),
			MemDisp:  v.Disp,
		}
	case x86asm.Rel:
		return Operand{Kind: OperandRel, Imm: int64(v)}
	default:
		return Operand{Kind: OperandNone}
	}
}

// resolveTargets fills CallTarget/JumpTarget/MemoryRef per §4.B: for
// call/branch with an immediate first operand, the immediate is the
// target; for call/branch through an empty-base/empty-index memory
// operand, the displacement is a thunk address; for non-branch
// instructions, an empty-base/empty-index memory operand whose
// displacement falls inside the image is a data reference.
func resolveTargets(in *Instruction, inst x86asm.Inst, addr uint32, img *xbe.Image) {
	isBranch := in.Class.Has(ClassCall) || in.Class.Has(ClassJump) || in.Class.Has(ClassCondJump)
	if len(in.Operands) == 0 {
		return
	}
	first := in.Operands[0]

	if isBranch {
		switch first.Kind {
		case OperandRel, OperandImm:
			target := uint32(int64(addr) + int64(in.Size) + first.Imm)
			if inst.Op == x86asm.CALL {
				in.CallTarget = &target
			} else {
				in.JumpTarget = &target
			}
		case OperandMem:
			if first.MemBase == 0 && first.MemIndex == 0 {
				disp := uint32(first.MemDisp)
				in.MemoryRef = &disp
			}
		}
		return
	}

	for _, op := range in.Operands {
		if op.Kind == OperandMem && op.MemBase == 0 && op.MemIndex == 0 {
			disp := uint32(op.MemDisp)
			if img.SectionAt(disp) != nil {
				in.MemoryRef = &disp
				return
			}
		}
	}
}
