package main

import (
	"encoding/binary"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func buildTestXBE(t *testing.T) string {
	t.Helper()
	const base = uint32(0x00010000)
	const textVA = base + 0x1000
	buf := make([]byte, 0x2000)
	copy(buf[0:4], []byte("XBEH"))
	binary.LittleEndian.PutUint32(buf[0x104:], base)
	binary.LittleEndian.PutUint32(buf[0x10C:], uint32(len(buf)))
	binary.LittleEndian.PutUint32(buf[0x118:], base+0x10)
	binary.LittleEndian.PutUint32(buf[0x120:], base+0x200)
	binary.LittleEndian.PutUint32(buf[0x128:], textVA^0xA8FC57AB)
	binary.LittleEndian.PutUint32(buf[0x158:], 0^0x5B6D40B6)

	so := uint32(0x200)
	binary.LittleEndian.PutUint32(buf[so+0:], 0x4)
	binary.LittleEndian.PutUint32(buf[so+4:], textVA)
	binary.LittleEndian.PutUint32(buf[so+8:], 0x1000)
	binary.LittleEndian.PutUint32(buf[so+12:], 0x1000)
	binary.LittleEndian.PutUint32(buf[so+16:], 0x1000)
	binary.LittleEndian.PutUint32(buf[so+20:], base+0x280)
	copy(buf[0x280:], []byte(".text\x00"))

	// xor eax,eax; ret
	copy(buf[0x1000:], []byte{0x33, 0xC0, 0xC3})

	path := filepath.Join(t.TempDir(), "test.xbe")
	require.NoError(t, os.WriteFile(path, buf, 0644))
	return path
}

func TestRunProducesArtifactsAndSource(t *testing.T) {
	xbePath := buildTestXBE(t)
	outDir := t.TempDir()
	logger := log.New(os.Stderr, "recomp-test: ", 0)

	err := run(xbePath, outDir, false, false, logger, false)
	require.NoError(t, err)

	for _, name := range []string{
		"functions.json", "labels.json", "xrefs.json", "strings.json",
		"identified_functions.json", "abi_functions.json", "abi_summary.json",
		"globals.json", "structures.json", "summary.json",
	} {
		_, statErr := os.Stat(filepath.Join(outDir, name))
		require.NoError(t, statErr, "expected artifact %s", name)
	}

	srcDir := filepath.Join(outDir, "src")
	_, err = os.Stat(filepath.Join(srcDir, "recomp_funcs.h"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(srcDir, "recomp_dispatch.c"))
	require.NoError(t, err)
}

func TestRunSkipsLiftWithFlag(t *testing.T) {
	xbePath := buildTestXBE(t)
	outDir := t.TempDir()
	logger := log.New(os.Stderr, "recomp-test: ", 0)

	err := run(xbePath, outDir, true, false, logger, false)
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(outDir, "src"))
	require.True(t, os.IsNotExist(err))
}

func TestRunByCategorySplitsSourceFiles(t *testing.T) {
	xbePath := buildTestXBE(t)
	outDir := t.TempDir()
	logger := log.New(os.Stderr, "recomp-test: ", 0)

	require.NoError(t, run(xbePath, outDir, false, true, logger, false))

	srcDir := filepath.Join(outDir, "src")
	entries, err := os.ReadDir(srcDir)
	require.NoError(t, err)

	var sawCategoryFile bool
	for _, e := range entries {
		if e.Name() != "recomp_funcs.h" && e.Name() != "recomp_dispatch.c" {
			sawCategoryFile = true
		}
	}
	require.True(t, sawCategoryFile, "expected at least one category-named source file")
}

func TestRunWritesCacheAndSkipsSecondAnalysis(t *testing.T) {
	xbePath := buildTestXBE(t)
	outDir := t.TempDir()
	logger := log.New(os.Stderr, "recomp-test: ", 0)

	require.NoError(t, run(xbePath, outDir, false, false, logger, false))

	cachePath := filepath.Join(outDir, cacheFileName)
	_, err := os.Stat(cachePath)
	require.NoError(t, err)
	require.True(t, cacheHit(xbePath, outDir, false, false))

	// Remove labels.json, keeping the cache file and functions.json;
	// a cache hit must short-circuit before regenerating it, so a
	// second run leaves it missing.
	require.NoError(t, os.Remove(filepath.Join(outDir, "labels.json")))

	require.NoError(t, run(xbePath, outDir, false, false, logger, false))

	_, err = os.Stat(filepath.Join(outDir, "labels.json"))
	require.True(t, os.IsNotExist(err), "cache hit should have skipped regenerating labels.json")

	// Changing the skip-lift flag must invalidate the cache even though
	// the input binary is unchanged.
	require.False(t, cacheHit(xbePath, outDir, true, false))
}
