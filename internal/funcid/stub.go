package funcid

import (
	"github.com/sp00nznet/burnout3/internal/functions"
	"github.com/sp00nznet/burnout3/internal/xbe"
)

// dataInitOpSize is one operation's encoding: an SSE scalar-float
// prefix, the two-byte opcode, a `05` ModRM byte selecting a flat
// [disp32] operand, and the 4-byte displacement itself.
const dataInitOpSize = 8

const (
	ssePrefixSingle = 0xF3 // movss/addss/... scalar single-precision
	ssePrefixDouble = 0xF2 // movsd/addsd/... scalar double-precision
	sseTwoByteEsc   = 0x0F
	sseFlatDisp32   = 0x05 // ModRM byte for [disp32], no base/index
)

// sseScalarFloatOpcodes is §4.F.5's opcode set: scalar-float load
// (movss/movsd, 0x10), store (0x11), and the arithmetic family
// (add/mul/sub/min/div/sqrt/max: 0x58, 0x59, 0x5C, 0x5E, 0x51, 0x5D, 0x5F).
var sseScalarFloatOpcodes = map[byte]bool{
	0x10: true, 0x11: true,
	0x58: true, 0x59: true, 0x5C: true, 0x5E: true,
	0x51: true, 0x5D: true, 0x5F: true,
}

// matchDataInitChain reports whether data is exactly a sequence of n
// (n >= 1) back-to-back dataInitOpSize-byte groups under the given SSE
// prefix, each of the form `prefix 0F <scalar-float-opcode> 05
// <disp32>`, terminated by exactly one 0xC3 ret byte with nothing
// following. A short length or a single byte out of place anywhere in
// the chain fails the match entirely.
func matchDataInitChain(data []byte, prefix byte) (ops int, ok bool) {
	if len(data) < dataInitOpSize+1 {
		return 0, false
	}
	n := (len(data) - 1) / dataInitOpSize
	if n*dataInitOpSize+1 != len(data) {
		return 0, false
	}
	if data[len(data)-1] != 0xC3 {
		return 0, false
	}
	for i := 0; i < n; i++ {
		g := data[i*dataInitOpSize : i*dataInitOpSize+dataInitOpSize]
		if g[0] != prefix || g[1] != sseTwoByteEsc || g[3] != sseFlatDisp32 {
			return 0, false
		}
		if !sseScalarFloatOpcodes[g[2]] {
			return 0, false
		}
	}
	return n, true
}

// stubSubcategory names a single-precision (0xF3) chain per §4.F.5: a
// two-operation chain (one load, one store) is a "float_copy" stub —
// exactly the stub_type spec.md §8 scenario 4 requires for its literal
// 17-byte example — and any longer chain is a "float_chain" stub.
func stubSubcategory(ops int) string {
	if ops == 2 {
		return "float_copy"
	}
	return "float_chain"
}

// classifyDataInitStubs is §4.F.5: a function whose entire body is a
// chain of at least two SSE scalar-float load/store/arithmetic
// operations on flat displacements, ending in a single ret, is a
// generated parameter initializer rather than game logic. The
// single-precision (0xF3) prefix is matched first at the spec's 0.99
// confidence; the parallel double-precision (0xF2) prefix identifies
// the same shape at lower confidence, per §4.F.5's "double-operation
// stubs at lower confidence."
func classifyDataInitStubs(img *xbe.Image, funcs []*functions.Function, res *results) {
	for _, f := range funcs {
		size := int(f.End - f.Start)
		data, ok := img.ReadBytes(f.Start, size)
		if !ok {
			continue
		}

		if n, matched := matchDataInitChain(data, ssePrefixSingle); matched && n >= 2 {
			res.set(f.Start, Record{
				Start:       f.Start,
				Category:    CategoryDataInit,
				Subcategory: stubSubcategory(n),
				Method:      "data_init",
				Confidence:  0.99,
			})
			continue
		}
		if n, matched := matchDataInitChain(data, ssePrefixDouble); matched && n >= 2 {
			res.set(f.Start, Record{
				Start:       f.Start,
				Category:    CategoryDataInit,
				Subcategory: "double_op",
				Method:      "data_init",
				Confidence:  0.90,
			})
		}
	}
}
