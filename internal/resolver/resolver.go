// Package resolver performs static structural analysis of generated code:
// which names a block defines and which import statements it requires.
// Nothing is ever executed.
//
// Import statements are normalized to one of two canonical forms,
// "import X" or "from M import N", so that differently-phrased equivalents
// deduplicate as plain strings.
package resolver

import (
	"regexp"
	"sort"
	"strings"
)

// Analysis is the result of analyzing one block of code.
type Analysis struct {
	DefinedNames    map[string]struct{}
	RequiredImports map[string]struct{}
}

// ImportGroup orders merged imports in assembled output.
type ImportGroup int

const (
	GroupStdlib ImportGroup = iota
	GroupThirdParty
	GroupLocal
)

var (
	defRe      = regexp.MustCompile(`^\s*(?:async\s+)?def\s+([A-Za-z_]\w*)`)
	classRe    = regexp.MustCompile(`^\s*class\s+([A-Za-z_]\w*)`)
	funcRe     = regexp.MustCompile(`^\s*func\s+(?:\([^)]*\)\s*)?([A-Za-z_]\w*)`)
	assignRe   = regexp.MustCompile(`^([A-Za-z_]\w*)\s*(?::[^=]+)?=[^=]`)
	declRe     = regexp.MustCompile(`^\s*(?:var|let|const|type)\s+([A-Za-z_]\w*)`)
	importRe   = regexp.MustCompile(`^\s*import\s+(.+)$`)
	fromRe     = regexp.MustCompile(`^\s*from\s+(\S+)\s+import\s+(.+)$`)
	goImportRe = regexp.MustCompile(`^\s*import\s+(?:[A-Za-z_.]\w*\s+)?"([^"]+)"`)
)

// pythonStdlib covers the standard-library module roots the assembler needs
// to order ahead of third-party imports. Not exhaustive; unknown modules
// sort as third-party, which only affects grouping, not correctness.
var pythonStdlib = map[string]struct{}{
	"abc": {}, "argparse": {}, "asyncio": {}, "base64": {}, "collections": {},
	"contextlib": {}, "copy": {}, "csv": {}, "dataclasses": {}, "datetime": {},
	"enum": {}, "functools": {}, "glob": {}, "hashlib": {}, "heapq": {},
	"io": {}, "itertools": {}, "json": {}, "logging": {}, "math": {},
	"os": {}, "pathlib": {}, "pickle": {}, "random": {}, "re": {},
	"shutil": {}, "socket": {}, "sqlite3": {}, "string": {}, "struct": {},
	"subprocess": {}, "sys": {}, "tempfile": {}, "threading": {}, "time": {},
	"typing": {}, "unittest": {}, "urllib": {}, "uuid": {}, "warnings": {},
}

// AnalyzeBlock extracts defined names and required imports from one block of
// code using line-level structural analysis.
func AnalyzeBlock(code string) Analysis {
	a := Analysis{
		DefinedNames:    make(map[string]struct{}),
		RequiredImports: make(map[string]struct{}),
	}

	for _, line := range strings.Split(code, "\n") {
		if m := defRe.FindStringSubmatch(line); m != nil {
			a.DefinedNames[m[1]] = struct{}{}
			continue
		}
		if m := classRe.FindStringSubmatch(line); m != nil {
			a.DefinedNames[m[1]] = struct{}{}
			continue
		}
		if m := funcRe.FindStringSubmatch(line); m != nil {
			a.DefinedNames[m[1]] = struct{}{}
			continue
		}
		if m := declRe.FindStringSubmatch(line); m != nil {
			a.DefinedNames[m[1]] = struct{}{}
			continue
		}
		for _, imp := range NormalizeImport(line) {
			a.RequiredImports[imp] = struct{}{}
		}
		// Top-level assignment defines a module-scope name.
		if m := assignRe.FindStringSubmatch(line); m != nil {
			a.DefinedNames[m[1]] = struct{}{}
		}
	}
	return a
}

// AnalyzeBlocks analyzes each block independently, preserving order.
func AnalyzeBlocks(blocks []string) []Analysis {
	out := make([]Analysis, len(blocks))
	for i, b := range blocks {
		out[i] = AnalyzeBlock(b)
	}
	return out
}

// NormalizeImport converts an import line into zero or more canonical import
// statements. Comma-separated lists split into individual statements,
// whitespace collapses, aliases are preserved, and Go-style quoted imports
// reduce to "import path". Non-import lines return nil.
func NormalizeImport(line string) []string {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return nil
	}

	if m := fromRe.FindStringSubmatch(trimmed); m != nil {
		module := m[1]
		var out []string
		for _, name := range strings.Split(m[2], ",") {
			name = collapseSpaces(strings.TrimSpace(name))
			if name == "" {
				continue
			}
			out = append(out, "from "+module+" import "+name)
		}
		return out
	}

	if m := goImportRe.FindStringSubmatch(trimmed); m != nil {
		return []string{"import " + m[1]}
	}

	if m := importRe.FindStringSubmatch(trimmed); m != nil {
		var out []string
		for _, mod := range strings.Split(m[1], ",") {
			mod = collapseSpaces(strings.TrimSpace(mod))
			if mod == "" || strings.HasPrefix(mod, "(") {
				continue
			}
			out = append(out, "import "+mod)
		}
		return out
	}

	return nil
}

// Classify returns the ordering group for a canonical import statement.
func Classify(canonical string) ImportGroup {
	module := moduleOf(canonical)
	if strings.HasPrefix(module, ".") {
		return GroupLocal
	}
	root := module
	if i := strings.IndexAny(root, "./"); i > 0 {
		root = root[:i]
	}
	if _, ok := pythonStdlib[root]; ok {
		return GroupStdlib
	}
	return GroupThirdParty
}

// MergeImports deduplicates canonical import statements and orders them:
// standard library first, then third-party, then local, alphabetical within
// each group.
func MergeImports(imports []string) []string {
	seen := make(map[string]struct{})
	var unique []string
	for _, imp := range imports {
		if _, ok := seen[imp]; ok {
			continue
		}
		seen[imp] = struct{}{}
		unique = append(unique, imp)
	}

	sort.SliceStable(unique, func(i, j int) bool {
		gi, gj := Classify(unique[i]), Classify(unique[j])
		if gi != gj {
			return gi < gj
		}
		return unique[i] < unique[j]
	})
	return unique
}

// moduleOf extracts the module part of a canonical import statement.
func moduleOf(canonical string) string {
	if strings.HasPrefix(canonical, "from ") {
		rest := strings.TrimPrefix(canonical, "from ")
		if i := strings.Index(rest, " "); i > 0 {
			return rest[:i]
		}
		return rest
	}
	rest := strings.TrimPrefix(canonical, "import ")
	// For "import numpy as np" the module is the first token.
	if i := strings.Index(rest, " "); i > 0 {
		return rest[:i]
	}
	return rest
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
