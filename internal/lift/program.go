package lift

import (
	"fmt"
	"sort"
	"strings"
)

// chunkSize is the default number of functions per recomp_NNNN.c file,
// matching the original tool's translate_batch_split default.
const chunkSize = 1000

// Program is the complete whole-program output of §9: one C file per
// chunk, a shared forward-declaration header, and a VA-sorted dispatch
// table, plus the count of functions that failed translation.
type Program struct {
	Chunks      []Chunk
	Header      string
	Dispatch    string
	FailedCount int
}

// Chunk is one recomp_NNNN.c output file.
type Chunk struct {
	Name   string
	Source string
}

// BuildProgram assembles the chunked output from already-lifted
// functions: each chunk is built independently and appended to the
// returned Program, which holds every chunk's C text at once; nothing
// is written out here.
func BuildProgram(fns []Function) Program {
	sorted := sortedFunctionNames(fns)

	var prog Program
	failed := 0
	for start := 0; start < len(sorted); start += chunkSize {
		end := start + chunkSize
		if end > len(sorted) {
			end = len(sorted)
		}
		slice := sorted[start:end]
		chunkIdx := start / chunkSize
		prog.Chunks = append(prog.Chunks, buildChunk(chunkIdx, slice))
		for _, f := range slice {
			if f.Failed {
				failed++
			}
		}
	}
	prog.FailedCount = failed
	prog.Header = buildHeader(sorted)
	prog.Dispatch = buildDispatch(sorted)
	return prog
}

// BuildProgramByCategory is the `translate_by_category` alternative
// output layout: one C file per classification category instead of a
// fixed-size numeric chunk, named after the category rather than a
// sequence number. The dispatch table and header stay single and
// shared, exactly as they are for the numeric-chunk layout, since
// spec.md §6 requires exactly one lookup table regardless of how the
// definitions are split across files.
func BuildProgramByCategory(fns []Function) Program {
	sorted := sortedFunctionNames(fns)

	byCategory := make(map[string][]Function)
	for _, f := range sorted {
		cat := f.Category
		if cat == "" {
			cat = "unknown"
		}
		byCategory[cat] = append(byCategory[cat], f)
	}

	categories := make([]string, 0, len(byCategory))
	for cat := range byCategory {
		categories = append(categories, cat)
	}
	sort.Strings(categories)

	var prog Program
	failed := 0
	for _, cat := range categories {
		fns := byCategory[cat]
		prog.Chunks = append(prog.Chunks, buildCategoryChunk(cat, fns))
		for _, f := range fns {
			if f.Failed {
				failed++
			}
		}
	}
	prog.FailedCount = failed
	prog.Header = buildHeader(sorted)
	prog.Dispatch = buildDispatch(sorted)
	return prog
}

func buildCategoryChunk(category string, fns []Function) Chunk {
	var b strings.Builder
	fmt.Fprintf(&b, "/*\n * Mechanically translated Xbox x86 code, category %q.\n", category)
	fmt.Fprintf(&b, " * Functions: %d\n */\n\n", len(fns))
	b.WriteString("#include \"recomp_funcs.h\"\n#include <math.h>\n\n")
	for _, f := range fns {
		b.WriteString(f.Source)
		b.WriteString("\n")
	}
	return Chunk{Name: fmt.Sprintf("recomp_%s.c", sanitizeCategoryName(category)), Source: b.String()}
}

// sanitizeCategoryName maps a classification category (e.g. "rw_plcore",
// "game_vehicle") to a safe filename component; categories are already
// produced in §4.F as lower-case identifier-shaped strings, so this only
// guards against unexpected separators.
func sanitizeCategoryName(category string) string {
	var b strings.Builder
	for _, r := range category {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "unknown"
	}
	return b.String()
}

func buildChunk(index int, fns []Function) Chunk {
	var b strings.Builder
	fmt.Fprintf(&b, "/*\n * Mechanically translated Xbox x86 code, chunk %d.\n", index)
	fmt.Fprintf(&b, " * Functions: %d\n */\n\n", len(fns))
	b.WriteString("#include \"recomp_funcs.h\"\n#include <math.h>\n\n")
	for _, f := range fns {
		b.WriteString(f.Source)
		b.WriteString("\n")
	}
	return Chunk{Name: fmt.Sprintf("recomp_%04d.c", index), Source: b.String()}
}

func buildHeader(fns []Function) string {
	var b strings.Builder
	b.WriteString("#ifndef RECOMP_FUNCS_H\n#define RECOMP_FUNCS_H\n\n")
	b.WriteString("#include \"recomp_types.h\"\n\n")
	for _, f := range fns {
		sig := declarationFromSource(f.Source)
		fmt.Fprintf(&b, "%s;\n", sig)
	}
	b.WriteString("\n#endif /* RECOMP_FUNCS_H */\n")
	return b.String()
}

// declarationFromSource extracts a function's signature line (up to its
// opening brace) from its generated definition, so the header and the
// definition can never drift out of sync with each other.
func declarationFromSource(src string) string {
	if i := strings.Index(src, " {\n"); i >= 0 {
		return src[:i]
	}
	if i := strings.Index(src, ") {"); i >= 0 {
		return src[:i+1]
	}
	if i := strings.Index(src, "\n"); i >= 0 {
		return strings.TrimSuffix(src[:i], "\n")
	}
	return src
}

func buildDispatch(fns []Function) string {
	var b strings.Builder
	b.WriteString("#include \"recomp_funcs.h\"\n\n")
	b.WriteString("typedef void (*recomp_func_t)(void);\n\n")
	b.WriteString("typedef struct {\n    uint32_t xbox_va;\n    recomp_func_t func;\n} recomp_entry_t;\n\n")
	b.WriteString("static const recomp_entry_t g_recomp_table[] = {\n")
	for _, f := range fns {
		fmt.Fprintf(&b, "    { 0x%08Xu, (recomp_func_t)%s },\n", f.Start, f.Name)
	}
	b.WriteString("};\n\n")
	fmt.Fprintf(&b, "static const size_t g_recomp_table_size = %d;\n\n", len(fns))
	b.WriteString(`recomp_func_t recomp_lookup(uint32_t xbox_va)
{
    size_t lo = 0, hi = g_recomp_table_size;
    while (lo < hi) {
        size_t mid = lo + (hi - lo) / 2;
        if (g_recomp_table[mid].xbox_va < xbox_va) {
            lo = mid + 1;
        } else if (g_recomp_table[mid].xbox_va > xbox_va) {
            hi = mid;
        } else {
            return g_recomp_table[mid].func;
        }
    }
    return NULL;
}

size_t recomp_get_count(void)
{
    return g_recomp_table_size;
}
`)
	return b.String()
}
