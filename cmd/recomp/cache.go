package main

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// cacheSchemaVersion bumps whenever an analysis stage or output record
// shape changes in a way that would make a prior cache entry stale even
// though the input binary itself didn't change.
const cacheSchemaVersion = 1

const cacheFileName = ".recomp_cache.json"

// cacheEntry is the small sidecar file spec.md §6 calls for: a content
// hash of the input binary plus the flags that affect output shape, so
// a rerun with an unchanged input and unchanged flags can skip
// re-analysis entirely.
type cacheEntry struct {
	SchemaVersion int    `json:"schema_version"`
	InputHash     string `json:"input_hash"`
	SkipLift      bool   `json:"skip_lift"`
	ByCategory    bool   `json:"by_category"`
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("hashing input: %w", err)
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing input: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// loadCache reads a prior cacheEntry from outDir, if present. A missing
// or malformed cache file is not an error: it just means no cache hit.
func loadCache(outDir string) (cacheEntry, bool) {
	data, err := os.ReadFile(filepath.Join(outDir, cacheFileName))
	if err != nil {
		return cacheEntry{}, false
	}
	var e cacheEntry
	if err := json.Unmarshal(data, &e); err != nil {
		return cacheEntry{}, false
	}
	return e, true
}

func writeCache(outDir string, e cacheEntry) error {
	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling cache entry: %w", err)
	}
	return os.WriteFile(filepath.Join(outDir, cacheFileName), data, 0644)
}

// cacheHit reports whether outDir already holds a complete, current set
// of analysis artifacts for inputPath under the given flags. It also
// requires functions.json to still exist, since a hand-cleaned output
// directory with the cache file left behind should not be trusted.
func cacheHit(inputPath, outDir string, skipLift, byCategory bool) bool {
	hash, err := hashFile(inputPath)
	if err != nil {
		return false
	}
	prev, ok := loadCache(outDir)
	if !ok {
		return false
	}
	if prev.SchemaVersion != cacheSchemaVersion || prev.InputHash != hash ||
		prev.SkipLift != skipLift || prev.ByCategory != byCategory {
		return false
	}
	if _, err := os.Stat(filepath.Join(outDir, "functions.json")); err != nil {
		return false
	}
	return true
}
