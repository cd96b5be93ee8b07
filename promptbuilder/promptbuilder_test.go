package promptbuilder

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/marlowe-ops/flowcraft/session"
	"github.com/marlowe-ops/flowcraft/store"
	"github.com/marlowe-ops/flowcraft/tmpl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildConcatenatesInDeclaredOrder(t *testing.T) {
	s := store.New()
	require.NoError(t, s.Put("A", map[string]interface{}{"text": "WORLD"}))

	parts := []Part{
		{Kind: PartStatic, Content: "hello "},
		{Kind: PartPreviousResponse, Step: "A"},
		{Kind: PartStatic, Content: "!"},
	}
	out, err := Build(parts, s, tmpl.Context{Store: s}, session.NewManager(session.NewMemoryStore()))
	require.NoError(t, err)
	assert.Equal(t, "hello WORLD!", out)
}

func TestFilePartReadsContents(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "f.txt")
	require.NoError(t, os.WriteFile(p, []byte("contents"), 0644))

	s := store.New()
	parts := []Part{{Kind: PartFile, Path: p}}
	out, err := Build(parts, s, tmpl.Context{}, session.NewManager(session.NewMemoryStore()))
	require.NoError(t, err)
	assert.Equal(t, "contents", out)
}

func TestFilePartMissingFails(t *testing.T) {
	s := store.New()
	parts := []Part{{Kind: PartFile, Path: "/nonexistent/path.txt"}}
	_, err := Build(parts, s, tmpl.Context{}, session.NewManager(session.NewMemoryStore()))
	require.Error(t, err)
	_, ok := err.(*ErrFileNotFound)
	assert.True(t, ok)
}

func TestPreviousResponseMissingFieldRendersNilLiteral(t *testing.T) {
	s := store.New()
	require.NoError(t, s.Put("A", map[string]interface{}{"text": "hi"}))
	parts := []Part{{Kind: PartPreviousResponse, Step: "A", Extract: "nope"}}
	out, err := Build(parts, s, tmpl.Context{Store: s}, session.NewManager(session.NewMemoryStore()))
	require.NoError(t, err)
	assert.Equal(t, "nil", out)
}

func TestSessionContextRendersLastN(t *testing.T) {
	mgr := session.NewManager(session.NewMemoryStore())
	_, err := mgr.GetOrCreate("s1", 0, false, false)
	require.NoError(t, err)
	require.NoError(t, mgr.Append("s1", session.Interaction{Prompt: "p1", Response: "r1"}))
	require.NoError(t, mgr.Append("s1", session.Interaction{Prompt: "p2", Response: "r2"}))

	s := store.New()
	parts := []Part{{Kind: PartSessionContext, SessionID: "s1", IncludeLastN: 1}}
	out, err := Build(parts, s, tmpl.Context{}, mgr)
	require.NoError(t, err)
	assert.Contains(t, out, "p2")
	assert.NotContains(t, out, "p1")
}
