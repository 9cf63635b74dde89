package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Derived-coordinate suffix taxonomy. Every preparation stage writes
// its output as <input stem> + suffix, so each derived file is
// traceable back to the authoritative input it came from.
const (
	SuffixSystem   = "_system.gro"
	SuffixBox      = "_box.gro"
	SuffixSolvated = "_solvated.gro"
	SuffixIonized  = "_ionized.gro"
)

var derivedSuffixes = []string{SuffixSystem, SuffixBox, SuffixSolvated, SuffixIonized}

// bareDerivedNames are legacy unprefixed outputs treated as derived.
var bareDerivedNames = map[string]bool{
	"system.gro": true, "box.gro": true, "solvated.gro": true, "ionized.gro": true,
}

var coordExts = map[string]bool{".gro": true, ".pdb": true}

// IsDerived reports whether name matches the derived-coordinate
// taxonomy produced by the preparation stages.
func IsDerived(name string) bool {
	n := strings.ToLower(filepath.Base(name))
	if bareDerivedNames[n] {
		return true
	}
	for _, suffix := range derivedSuffixes {
		if strings.HasSuffix(n, suffix) {
			return true
		}
	}
	return false
}

// SourceStem strips a known derived suffix from name and returns the
// authoritative input stem it was produced from.
func SourceStem(name string) (string, bool) {
	n := filepath.Base(name)
	lower := strings.ToLower(n)
	for _, suffix := range derivedSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return n[:len(n)-len(suffix)], true
		}
	}
	return "", false
}

// ResolveInput returns the original coordinate file the pipeline must
// start from. A preferred name recorded in configuration wins when it
// exists and is not itself a derived intermediate; a derived preferred
// name is mapped back to its source stem (PDB preferred over GRO when
// both exist). Otherwise the working directory is scanned for the
// first non-derived coordinate file.
func ResolveInput(workDir, preferred string) (string, error) {
	pref := filepath.Base(preferred)
	if preferred == "" {
		pref = ""
	}

	if pref != "" && !IsDerived(pref) {
		if fileExists(filepath.Join(workDir, pref)) {
			return pref, nil
		}
	}
	if pref != "" {
		if stem, ok := SourceStem(pref); ok {
			for _, ext := range []string{".pdb", ".gro"} {
				cand := stem + ext
				if !IsDerived(cand) && fileExists(filepath.Join(workDir, cand)) {
					return cand, nil
				}
			}
		}
	}

	entries, err := os.ReadDir(workDir)
	if err != nil {
		return "", fmt.Errorf("scanning %s: %w", workDir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		if !coordExts[strings.ToLower(filepath.Ext(name))] {
			continue
		}
		if IsDerived(name) {
			continue
		}
		return name, nil
	}
	return "", &ConfigError{Reason: "no coordinate file (.gro or .pdb) found in the working directory"}
}

// DerivedNames returns the full derived-file name set for an input stem.
func DerivedNames(stem string) (system, box, solvated, ionized string) {
	return stem + SuffixSystem, stem + SuffixBox, stem + SuffixSolvated, stem + SuffixIonized
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
