// Package codebase implements the codebase_query step: find_files,
// find_dependencies, find_functions, find_related, and analyze_impact
// over a Go source tree.
//
// Grounded directly on utils/codebaseindex/scan.go (directory walk and
// candidate selection) and utils/codebaseindex/extract.go's
// extractGoSymbols (go/parser-based import and function-declaration
// extraction, falling back to a regex scan on parse failure), wired
// into one step type instead of the teacher's dedicated
// codebase_index_handler.go command path.
package codebase

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// QueryKind names one of the closed set of codebase_query operations.
type QueryKind string

const (
	QueryFindFiles        QueryKind = "find_files"
	QueryFindDependencies QueryKind = "find_dependencies"
	QueryFindFunctions    QueryKind = "find_functions"
	QueryFindRelated      QueryKind = "find_related"
	QueryAnalyzeImpact    QueryKind = "analyze_impact"
)

// Query is one named query in the codebase_query step's query map.
type Query struct {
	Kind     QueryKind `yaml:"kind"`
	Criteria []string  `yaml:"criteria"` // glob patterns (find_files), symbol/path names (others)
}

// FileIndex is a scanned and symbol-extracted view of a source tree,
// built once per codebase_query step invocation.
type FileIndex struct {
	Root  string
	Files []*FileEntry
}

// FileEntry is one scanned source file.
type FileEntry struct {
	Path      string // relative to Root
	Package   string
	Imports   []string
	Functions []string
}

var skipDirNames = map[string]bool{
	".git": true, "node_modules": true, "vendor": true, "__pycache__": true,
}

// Scan walks root, extracting Go symbols from every .go file found.
// Non-Go files are recorded with no symbols so find_files still sees
// them.
func Scan(root string) (*FileIndex, error) {
	idx := &FileIndex{Root: root}
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			if skipDirNames[info.Name()] || strings.HasPrefix(info.Name(), ".") {
				if path != root {
					return filepath.SkipDir
				}
			}
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			rel = path
		}
		entry := &FileEntry{Path: rel}
		if strings.HasSuffix(path, ".go") {
			if pkg, imports, funcs, err := extractGoSymbols(path); err == nil {
				entry.Package = pkg
				entry.Imports = imports
				entry.Functions = funcs
			}
		}
		idx.Files = append(idx.Files, entry)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("codebase: scan %s: %w", root, err)
	}
	return idx, nil
}

func extractGoSymbols(path string) (pkg string, imports []string, funcs []string, err error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", nil, nil, err
	}

	fset := token.NewFileSet()
	file, perr := parser.ParseFile(fset, path, content, parser.ImportsOnly|parser.ParseComments)
	if perr != nil {
		return extractGoSymbolsRegex(content)
	}
	pkg = file.Name.Name
	for _, imp := range file.Imports {
		imports = append(imports, strings.Trim(imp.Path.Value, `"`))
	}

	// Re-parse with full declarations to collect function names — the
	// imports-only pass above is cheap but drops func bodies/decls.
	file, perr = parser.ParseFile(fset, path, content, parser.ParseComments)
	if perr != nil {
		return pkg, imports, nil, nil
	}
	for _, decl := range file.Decls {
		if fn, ok := decl.(*ast.FuncDecl); ok {
			funcs = append(funcs, fn.Name.Name)
		}
	}
	return pkg, imports, funcs, nil
}

var (
	goPackageRe = regexp.MustCompile(`package\s+(\w+)`)
	goFuncRe    = regexp.MustCompile(`func\s+(?:\([^)]+\)\s+)?(\w+)\s*\(`)
	goImportRe  = regexp.MustCompile(`"([^"]+)"`)
)

func extractGoSymbolsRegex(content []byte) (pkg string, imports []string, funcs []string, err error) {
	text := string(content)
	if m := goPackageRe.FindStringSubmatch(text); len(m) > 1 {
		pkg = m[1]
	}
	for _, m := range goFuncRe.FindAllStringSubmatch(text, -1) {
		funcs = append(funcs, m[1])
	}
	if start := strings.Index(text, "import"); start != -1 {
		block := text[start:]
		if end := strings.Index(block, ")"); end != -1 {
			block = block[:end]
		}
		for _, m := range goImportRe.FindAllStringSubmatch(block, -1) {
			imports = append(imports, m[1])
		}
	}
	return pkg, imports, funcs, nil
}

// Run executes every named query in queries against idx and returns a
// map from query name to its result value.
func Run(idx *FileIndex, queries map[string]Query) map[string]interface{} {
	out := make(map[string]interface{}, len(queries))
	for name, q := range queries {
		out[name] = runOne(idx, q)
	}
	return out
}

func runOne(idx *FileIndex, q Query) interface{} {
	switch q.Kind {
	case QueryFindFiles:
		return findFiles(idx, q.Criteria)
	case QueryFindDependencies:
		return findDependencies(idx, q.Criteria)
	case QueryFindFunctions:
		return findFunctions(idx, q.Criteria)
	case QueryFindRelated:
		return findRelated(idx, q.Criteria)
	case QueryAnalyzeImpact:
		return analyzeImpact(idx, q.Criteria)
	default:
		return nil
	}
}

func findFiles(idx *FileIndex, patterns []string) []string {
	var out []string
	for _, f := range idx.Files {
		for _, pat := range patterns {
			if ok, _ := filepath.Match(pat, filepath.Base(f.Path)); ok {
				out = append(out, f.Path)
				break
			}
		}
	}
	return out
}

// findDependencies returns, per requested import path substring, the
// files that import it.
func findDependencies(idx *FileIndex, names []string) map[string][]string {
	out := map[string][]string{}
	for _, name := range names {
		for _, f := range idx.Files {
			for _, imp := range f.Imports {
				if strings.Contains(imp, name) {
					out[name] = append(out[name], f.Path)
					break
				}
			}
		}
	}
	return out
}

// findFunctions returns, per requested function name (substring
// match), the files that declare it.
func findFunctions(idx *FileIndex, names []string) map[string][]string {
	out := map[string][]string{}
	for _, name := range names {
		for _, f := range idx.Files {
			for _, fn := range f.Functions {
				if strings.Contains(fn, name) {
					out[name] = append(out[name], f.Path)
					break
				}
			}
		}
	}
	return out
}

// findRelated returns files sharing a package name with any of the
// given seed paths.
func findRelated(idx *FileIndex, seedPaths []string) []string {
	packages := map[string]bool{}
	for _, seed := range seedPaths {
		for _, f := range idx.Files {
			if f.Path == seed && f.Package != "" {
				packages[f.Package] = true
			}
		}
	}
	seen := map[string]bool{}
	for _, s := range seedPaths {
		seen[s] = true
	}
	var out []string
	for _, f := range idx.Files {
		if packages[f.Package] && !seen[f.Path] {
			out = append(out, f.Path)
		}
	}
	return out
}

// analyzeImpact returns, per changed file, every other file that
// imports its package — a first-order blast-radius estimate.
func analyzeImpact(idx *FileIndex, changedPaths []string) map[string][]string {
	pkgOf := map[string]string{}
	for _, f := range idx.Files {
		pkgOf[f.Path] = f.Package
	}
	out := map[string][]string{}
	for _, changed := range changedPaths {
		pkg := pkgOf[changed]
		if pkg == "" {
			continue
		}
		for _, f := range idx.Files {
			if f.Path == changed {
				continue
			}
			for _, imp := range f.Imports {
				if strings.HasSuffix(imp, "/"+pkg) || imp == pkg {
					out[changed] = append(out[changed], f.Path)
					break
				}
			}
		}
	}
	return out
}
