package funcid

import (
	"strings"

	"github.com/sp00nznet/burnout3/internal/functions"
	"github.com/sp00nznet/burnout3/internal/xbe"
)

// crtSignature is a masked byte pattern for one well-known C runtime or
// compiler-emitted primitive. A mask byte of 0x00 is a wildcard; any other
// value must match the corresponding pattern byte exactly.
type crtSignature struct {
	Name    string
	Pattern []byte
	Mask    []byte
}

// Representative MSVC/Xbox CRT prologue signatures: memcpy/memset's
// rep-stosd/movsd fast paths and the _chkstk probe loop. These are the
// shapes that recur byte-for-byte across compiler-generated runtime
// support code regardless of which game module calls them.
var crtSignatures = []crtSignature{
	{
		Name:    "memcpy",
		Pattern: []byte{0x8B, 0xFF, 0x55, 0x8B, 0xEC, 0x57, 0x8B, 0x7D, 0x08},
		Mask:    []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF},
	},
	{
		Name:    "memset",
		Pattern: []byte{0x55, 0x8B, 0xEC, 0x8B, 0x45, 0x08, 0x56, 0x8B, 0x75},
		Mask:    []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0x00, 0xFF, 0xFF, 0x00},
	},
	{
		Name:    "_chkstk",
		Pattern: []byte{0x51, 0x3D, 0x00, 0x10, 0x00, 0x00},
		Mask:    []byte{0xFF, 0xFF, 0x00, 0x00, 0x00, 0x00},
	},
	{
		Name:    "strlen",
		Pattern: []byte{0x8B, 0x44, 0x24, 0x04, 0x85, 0xC0},
		Mask:    []byte{0xFF, 0xFF, 0xFF, 0x00, 0xFF, 0xFF},
	},
	{
		Name:    "_ftol2",
		Pattern: []byte{0x83, 0xEC, 0x08, 0xD9, 0x5C, 0x24},
		Mask:    []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF},
	},
}

func maskedMatch(data, pattern, mask []byte) bool {
	if len(data) < len(pattern) {
		return false
	}
	for i := range pattern {
		if data[i]&mask[i] != pattern[i]&mask[i] {
			return false
		}
	}
	return true
}

func specificity(mask []byte) int {
	n := 0
	for _, m := range mask {
		if m == 0xFF {
			n++
		}
	}
	return n
}

// classifyCRTSignatures is §4.F.4: masked byte-signature matching against
// every function's opening bytes. Ties between overlapping signatures on
// one function favor the more specific mask; when one signature name
// matches several functions, only the smallest of them keeps it. A
// function already attributed to an engine module by the id-string/zone
// passes is a more specific classification and is left alone.
func classifyCRTSignatures(img *xbe.Image, funcs []*functions.Function, res *results) {
	type crtMatch struct {
		f   *functions.Function
		sig *crtSignature
	}
	byName := make(map[string]crtMatch)
	for _, f := range funcs {
		if rec, ok := res.get(f.Start); ok && strings.HasPrefix(rec.Category, "rw_") {
			continue
		}
		data, ok := img.ReadBytes(f.Start, int(f.End-f.Start))
		if !ok {
			continue
		}

		var best *crtSignature
		for i := range crtSignatures {
			sig := &crtSignatures[i]
			if !maskedMatch(data, sig.Pattern, sig.Mask) {
				continue
			}
			if best == nil {
				best = sig
				continue
			}
			if specificity(sig.Mask) > specificity(best.Mask) {
				best = sig
			}
		}
		if best == nil {
			continue
		}
		if prev, ok := byName[best.Name]; ok && prev.f.End-prev.f.Start <= f.End-f.Start {
			continue
		}
		byName[best.Name] = crtMatch{f: f, sig: best}
	}
	for _, m := range byName {
		res.set(m.f.Start, Record{
			Start:      m.f.Start,
			Category:   CategoryCRT,
			Subcategory: m.sig.Name,
			Method:      "crt_signature",
			Confidence:  0.95,
		})
	}
}
