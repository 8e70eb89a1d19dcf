// Command recomp runs the full Burnout 3 static-recompilation pipeline
// against an Xbox XBE executable: it loads the image, disassembles its
// code sections, recovers labels and strings, builds the cross-reference
// graph, detects function boundaries, classifies and names functions,
// infers their calling conventions, maps global variables, and finally
// lifts every function to C.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/sp00nznet/burnout3/internal/abi"
	"github.com/sp00nznet/burnout3/internal/disasm"
	"github.com/sp00nznet/burnout3/internal/funcid"
	"github.com/sp00nznet/burnout3/internal/functions"
	"github.com/sp00nznet/burnout3/internal/globals"
	"github.com/sp00nznet/burnout3/internal/labels"
	"github.com/sp00nznet/burnout3/internal/lift"
	"github.com/sp00nznet/burnout3/internal/xbe"
	"github.com/sp00nznet/burnout3/internal/xrefs"
)

func main() {
	outDir := flag.String("o", "out", "Output directory for JSON artifacts and C source")
	verbose := flag.Bool("v", false, "Log progress through each pipeline stage")
	skipLift := flag.Bool("no-lift", false, "Run analysis only; skip C code generation")
	byCategory := flag.Bool("by-category", false, "Split generated C source by classification category instead of fixed-size numeric chunks")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: recomp [options] input.xbe\n\nRecovers functions, globals, and C source from a Burnout 3 Xbox executable.\n\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  recomp -o build default.xbe\n")
		fmt.Fprintf(os.Stderr, "  recomp -v -no-lift default.xbe\n")
		fmt.Fprintf(os.Stderr, "  recomp -by-category default.xbe\n")
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}

	logger := log.New(os.Stderr, "recomp: ", 0)

	if err := run(flag.Arg(0), *outDir, *skipLift, *byCategory, logger, *verbose); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(inputPath, outDir string, skipLift, byCategory bool, logger *log.Logger, verbose bool) error {
	progress := newProgressLine()
	defer progress.done()
	logStage := func(format string, args ...interface{}) {
		msg := fmt.Sprintf(format, args...)
		progress.update(msg)
		if verbose {
			logger.Print(msg)
		}
	}

	if cacheHit(inputPath, outDir, skipLift, byCategory) {
		logStage("cache hit, reusing %s", outDir)
		return nil
	}

	logStage("loading image")
	img, closeImage, err := xbe.LoadFile(inputPath)
	if err != nil {
		return fmt.Errorf("loading xbe: %w", err)
	}
	defer closeImage()

	logStage("disassembling %d section(s)", len(img.Sections))
	e := disasm.NewEngine(img)
	for _, sec := range img.Sections {
		if sec.Executable {
			e.Sweep(sec)
		}
	}

	logStage("detecting functions")
	funcs := functions.Detect(img, e, img.EntryPoint)
	functions.PopulateCallsFromEngine(funcs, e)

	logStage("building cross-reference graph")
	tr := xrefs.Build(e, img)

	logStage("recovering labels and strings")
	lm := labels.NewManager()
	labels.PopulateKernelLabels(lm, img)
	labels.PopulateEntryPoint(lm, img)
	var strs []labels.StringRef
	for _, sec := range img.Sections {
		if sec.Executable {
			continue
		}
		strs = append(strs, labels.ExtractStrings(img, sec)...)
	}
	labels.PopulateStringLabels(lm, img, strs)
	for _, f := range funcs {
		labels.NameFunction(lm, f.Start, f.Section, f.Confidence)
	}
	for _, f := range funcs {
		if lbl, ok := lm.Get(f.Start); ok {
			f.Name = lbl.Name
		}
	}

	logStage("identifying functions (%d candidates)", len(funcs))
	ids := funcid.Identify(img, e, tr, funcs)

	logStage("inferring ABI signatures")
	sigs := abi.Infer(img, e, funcs)
	abiCategories := make(map[uint32]string, len(ids))
	for addr, rec := range ids {
		abiCategories[addr] = rec.Category
	}
	abiStats := abi.Summarize(sigs, abiCategories)

	logStage("mapping globals")
	gvars, structs := globals.Map(img, tr, funcs, ids, strs)

	if err := os.MkdirAll(outDir, 0755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	artifacts := map[string]interface{}{
		"functions.json":            funcs,
		"labels.json":               lm.All(),
		"xrefs.json":                tr.ToSortedList(),
		"strings.json":              strs,
		"identified_functions.json": ids,
		"abi_functions.json":        sigs,
		"abi_summary.json":          abiStats,
		"globals.json":              gvars,
		"structures.json":           structs,
		"summary.json": summary{
			InputFile:      inputPath,
			Functions:      len(funcs),
			Instructions:   e.Count(),
			Labels:         lm.Len(),
			Strings:        len(strs),
			Globals:        len(gvars),
			Structures:     len(structs),
			CrossRefs:      tr.Count(),
			EntryPoint:     img.EntryPoint,
		},
	}
	for name, v := range artifacts {
		if err := writeJSON(filepath.Join(outDir, name), v); err != nil {
			return err
		}
	}

	if skipLift {
		logStage("skipping code generation (-no-lift)")
		return writeRunCache(inputPath, outDir, skipLift, byCategory)
	}

	logStage("lifting %d function(s) to C", len(funcs))
	nameOf := func(addr uint32) (string, bool) {
		if l, ok := lm.Get(addr); ok {
			return l.Name, true
		}
		return "", false
	}
	abiOf := func(addr uint32) (abi.Signature, bool) {
		s, ok := sigs[addr]
		return s, ok
	}
	ctx := &lift.Context{NameOf: nameOf, ABIOf: abiOf}

	// Force the engine's address index to sort once up front: LiftAll
	// fans out across goroutines, and InstructionsInRange's lazy sort
	// isn't safe to race.
	e.InstructionsInRange(0, 0)
	lifted := lift.LiftAll(ctx, e, funcs, sigs)
	failed := 0
	for i, f := range lifted {
		if f.Failed {
			failed++
		}
		if rec, ok := ids[f.Start]; ok {
			lifted[i].Category = rec.Category
		}
	}
	logStage("lifted %d function(s), %d failed", len(lifted), failed)

	var prog lift.Program
	if byCategory {
		prog = lift.BuildProgramByCategory(lifted)
	} else {
		prog = lift.BuildProgram(lifted)
	}
	srcDir := filepath.Join(outDir, "src")
	if err := os.MkdirAll(srcDir, 0755); err != nil {
		return fmt.Errorf("creating source directory: %w", err)
	}
	for _, c := range prog.Chunks {
		if err := os.WriteFile(filepath.Join(srcDir, c.Name), []byte(c.Source), 0644); err != nil {
			return fmt.Errorf("writing %s: %w", c.Name, err)
		}
	}
	if err := os.WriteFile(filepath.Join(srcDir, "recomp_funcs.h"), []byte(prog.Header), 0644); err != nil {
		return fmt.Errorf("writing recomp_funcs.h: %w", err)
	}
	if err := os.WriteFile(filepath.Join(srcDir, "recomp_dispatch.c"), []byte(prog.Dispatch), 0644); err != nil {
		return fmt.Errorf("writing recomp_dispatch.c: %w", err)
	}

	return writeRunCache(inputPath, outDir, skipLift, byCategory)
}

func writeRunCache(inputPath, outDir string, skipLift, byCategory bool) error {
	hash, err := hashFile(inputPath)
	if err != nil {
		// Hashing failure here shouldn't invalidate an otherwise-successful
		// run; the next invocation simply won't get a cache hit.
		return nil
	}
	return writeCache(outDir, cacheEntry{
		SchemaVersion: cacheSchemaVersion,
		InputHash:     hash,
		SkipLift:      skipLift,
		ByCategory:    byCategory,
	})
}

type summary struct {
	InputFile    string `json:"input_file"`
	Functions    int    `json:"functions"`
	Instructions int    `json:"instructions"`
	Labels       int    `json:"labels"`
	Strings      int    `json:"strings"`
	Globals      int    `json:"globals"`
	Structures   int    `json:"structures"`
	CrossRefs    int    `json:"xrefs"`
	EntryPoint   uint32 `json:"entry_point"`
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
