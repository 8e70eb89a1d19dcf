package lift

import (
	"fmt"
	"strings"

	"github.com/sp00nznet/burnout3/internal/abi"
)

// Context carries the per-program lookups an instruction-level lift
// needs that aren't local to the instruction itself: the function name
// a call/jump target resolves to, and that target's inferred ABI so the
// call site can build an accurate argument list.
type Context struct {
	NameOf func(addr uint32) (string, bool)
	ABIOf  func(addr uint32) (abi.Signature, bool)
}

// callTargetExpr renders a direct call/jmp target as a C function
// reference, falling back to a synthesized name for addresses with no
// recovered function (tail edges into the middle of another function,
// thunks, or import stubs the pipeline never classified).
func (c *Context) callTargetExpr(target uint32) string {
	if c.NameOf != nil {
		if name, ok := c.NameOf(target); ok {
			return name
		}
	}
	return fmt.Sprintf("sub_%08X", target)
}

// argList builds a direct call's §4.I arg_list from the callee's ABI
// record: a `this_ptr` cast of ecx leads for thiscall/thiscall_cdecl
// conventions, followed by a literal `0 /* aN */` placeholder per
// estimated parameter — the call site has no general way to recover a
// stack-passed argument's original expression, so the placeholder marks
// the slot for a human pass rather than guessing at it.
func argList(sig abi.Signature) string {
	var parts []string
	if sig.Convention == abi.ConventionThiscall || sig.Convention == abi.ConventionThiscallCdecl {
		parts = append(parts, "(this_ptr)ecx")
	}
	for i := 0; i < sig.ParamCount; i++ {
		parts = append(parts, fmt.Sprintf("0 /* a%d */", i))
	}
	return strings.Join(parts, ", ")
}
