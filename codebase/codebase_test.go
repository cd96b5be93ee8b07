package codebase

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, rel, content string) {
	t.Helper()
	path := filepath.Join(dir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func setupRepo(t *testing.T) string {
	dir := t.TempDir()
	writeFile(t, dir, "pkga/a.go", `package pkga

import "fmt"

func DoA() {
	fmt.Println("a")
}
`)
	writeFile(t, dir, "pkgb/b.go", `package pkgb

import "example.com/repo/pkga"

func DoB() {
	pkga.DoA()
}
`)
	writeFile(t, dir, "README.md", "# readme")
	writeFile(t, dir, ".git/HEAD", "ref: refs/heads/main")
	return dir
}

func TestScanSkipsHiddenDirs(t *testing.T) {
	dir := setupRepo(t)
	idx, err := Scan(dir)
	require.NoError(t, err)
	for _, f := range idx.Files {
		assert.NotContains(t, f.Path, ".git")
	}
}

func TestScanExtractsGoSymbols(t *testing.T) {
	dir := setupRepo(t)
	idx, err := Scan(dir)
	require.NoError(t, err)

	var a *FileEntry
	for _, f := range idx.Files {
		if f.Path == filepath.Join("pkga", "a.go") {
			a = f
		}
	}
	require.NotNil(t, a)
	assert.Equal(t, "pkga", a.Package)
	assert.Contains(t, a.Imports, "fmt")
	assert.Contains(t, a.Functions, "DoA")
}

func TestFindFilesByGlob(t *testing.T) {
	dir := setupRepo(t)
	idx, err := Scan(dir)
	require.NoError(t, err)
	out := Run(idx, map[string]Query{"go_files": {Kind: QueryFindFiles, Criteria: []string{"*.go"}}})
	files := out["go_files"].([]string)
	assert.Len(t, files, 2)
}

func TestFindFunctions(t *testing.T) {
	dir := setupRepo(t)
	idx, err := Scan(dir)
	require.NoError(t, err)
	out := Run(idx, map[string]Query{"fns": {Kind: QueryFindFunctions, Criteria: []string{"DoA"}}})
	result := out["fns"].(map[string][]string)
	assert.Contains(t, result["DoA"], filepath.Join("pkga", "a.go"))
}

func TestAnalyzeImpact(t *testing.T) {
	dir := setupRepo(t)
	idx, err := Scan(dir)
	require.NoError(t, err)
	out := Run(idx, map[string]Query{
		"impact": {Kind: QueryAnalyzeImpact, Criteria: []string{filepath.Join("pkga", "a.go")}},
	})
	result := out["impact"].(map[string][]string)
	assert.Contains(t, result[filepath.Join("pkga", "a.go")], filepath.Join("pkgb", "b.go"))
}
