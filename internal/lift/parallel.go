package lift

import (
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/sp00nznet/burnout3/internal/abi"
	"github.com/sp00nznet/burnout3/internal/disasm"
	"github.com/sp00nznet/burnout3/internal/functions"
)

// LiftAll translates every detected function to C, fanning the
// per-function work out across a bounded worker pool. Engine reads and
// the per-instruction translation tables are all read-only once
// decoding has finished, so functions lift independently of each
// other; SetLimit caps concurrency at GOMAXPROCS the way the teacher's
// coprocessor manager bounds its per-core workers, and the result is
// re-sorted by address afterward so chunking stays deterministic
// regardless of goroutine completion order.
func LiftAll(ctx *Context, e *disasm.Engine, funcs []*functions.Function, sigs map[uint32]abi.Signature) []Function {
	out := make([]Function, len(funcs))

	// The first InstructionsInRange call after a sweep sorts the
	// engine's address index; make it here, before any goroutine reads.
	e.InstructionsInRange(0, 0)

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))

	for i, f := range funcs {
		i, f := i, f
		g.Go(func() error {
			out[i] = LiftFunction(ctx, e, f, sigs[f.Start])
			return nil
		})
	}
	_ = g.Wait()

	return sortedFunctionNames(out)
}
