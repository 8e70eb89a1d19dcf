package lift

import (
	"sort"

	"github.com/sp00nznet/burnout3/internal/disasm"
)

// Block is one basic block within a function: a maximal straight-line
// run of instructions with a single entry and single exit, per §4.I's
// leader rules (function entry, every branch target, and the
// instruction immediately after a call or branch each start a block).
type Block struct {
	Start        uint32
	End          uint32 // exclusive
	Instructions []*disasm.Instruction

	// FallsThrough is the address execution reaches when the block's
	// last instruction doesn't redirect control flow (or is a
	// conditional branch and the condition is false). Zero if the
	// block ends in an unconditional jump, a call to a noreturn-shaped
	// tail position, or a ret.
	FallsThrough uint32
	HasFallThrough bool

	// InFlags is the flag state carried into this block: set once all
	// predecessors along fall-through edges are known, per the
	// propagation rule in buildBlocks.
	InFlags FlagState
}

// buildBlocks splits a function's instructions into basic blocks and
// threads the EFLAGS dataflow value between them. The flag state is
// modeled as data rather than mutable state (§9): it propagates forward
// along fall-through edges only, and resets to "unknown" on every
// branch edge. A `cmp/test; jcc` pair needs no special entry here:
// inside one block the jcc reads the flag state the cmp left, which
// LiftFunction carries from instruction to instruction.
func buildBlocks(insns []*disasm.Instruction) []*Block {
	if len(insns) == 0 {
		return nil
	}

	leaders := map[uint32]bool{insns[0].Address: true}
	byAddr := make(map[uint32]*disasm.Instruction, len(insns))
	for _, in := range insns {
		byAddr[in.Address] = in
	}
	for i, in := range insns {
		isBranch := in.Class.Has(disasm.ClassCall) || in.Class.Has(disasm.ClassJump) || in.Class.Has(disasm.ClassCondJump)
		next := i + 1
		if isBranch && next < len(insns) {
			leaders[insns[next].Address] = true
		}
		if in.Class.Has(disasm.ClassCondJump) || (in.Class.Has(disasm.ClassJump) && in.JumpTarget != nil) {
			if in.JumpTarget != nil {
				if _, ok := byAddr[*in.JumpTarget]; ok {
					leaders[*in.JumpTarget] = true
				}
			}
		}
	}

	var starts []uint32
	for a := range leaders {
		starts = append(starts, a)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i] < starts[j] })

	blocks := make([]*Block, 0, len(starts))
	idx := 0
	for bi, start := range starts {
		end := insns[len(insns)-1].Address + uint32(insns[len(insns)-1].Size)
		if bi+1 < len(starts) {
			end = starts[bi+1]
		}
		var body []*disasm.Instruction
		for idx < len(insns) && insns[idx].Address < end {
			if insns[idx].Address >= start {
				body = append(body, insns[idx])
			}
			idx++
		}
		if len(body) == 0 {
			continue
		}
		b := &Block{Start: start, End: body[len(body)-1].Address + uint32(body[len(body)-1].Size), Instructions: body}
		last := body[len(body)-1]
		switch {
		case last.Class.Has(disasm.ClassRet):
		case last.Class.Has(disasm.ClassJump) && !last.Class.Has(disasm.ClassCondJump):
		default:
			b.FallsThrough = b.End
			b.HasFallThrough = true
		}
		blocks = append(blocks, b)
	}

	propagateFlags(blocks, byAddr)
	return blocks
}

// propagateFlags computes each block's InFlags from the flag state left
// by its fall-through predecessor's last instruction. Blocks reached
// only via a branch edge (call target, jump target, conditional-jump
// taken edge) start with an unknown flag state — the per-instruction
// lifter falls back to reading the _flags local in that case.
func propagateFlags(blocks []*Block, byAddr map[uint32]*disasm.Instruction) {
	byStart := make(map[uint32]*Block, len(blocks))
	for _, b := range blocks {
		byStart[b.Start] = b
	}
	for i, b := range blocks {
		_ = i
		if !b.HasFallThrough {
			continue
		}
		next, ok := byStart[b.FallsThrough]
		if !ok {
			continue
		}
		state := FlagState{}
		for _, in := range b.Instructions {
			state = nextFlagState(in, state)
		}
		// A block reached by more than one predecessor could have
		// conflicting incoming states; the first fall-through writer
		// wins and later ones are skipped, matching the single-pass,
		// no-fixpoint propagation the translator performs.
		if !next.InFlags.Valid {
			next.InFlags = state
		}
	}
}
