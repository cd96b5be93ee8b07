package variables

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetPrecedenceLoopThenSessionThenGlobal(t *testing.T) {
	s := New()
	s.Set(ScopeGlobal, "x", "global-val")
	v, ok := s.Get("x")
	assert.True(t, ok)
	assert.Equal(t, "global-val", v)

	s.Set(ScopeSession, "x", "session-val")
	v, ok = s.Get("x")
	assert.True(t, ok)
	assert.Equal(t, "session-val", v)

	s.Set(ScopeLoop, "x", "loop-val")
	v, ok = s.Get("x")
	assert.True(t, ok)
	assert.Equal(t, "loop-val", v)
}

func TestGetMissingReturnsFalse(t *testing.T) {
	s := New()
	_, ok := s.Get("absent")
	assert.False(t, ok)
}

func TestCloneForLoopIterationIsolatesLoopScopeOnly(t *testing.T) {
	s := New()
	s.Set(ScopeGlobal, "g", "1")
	s.Set(ScopeSession, "sess", "1")
	s.Set(ScopeLoop, "l", "outer")

	clone := s.CloneForLoopIteration()
	clone.Set(ScopeLoop, "l", "inner")

	v, ok := clone.Get("l")
	assert.True(t, ok)
	assert.Equal(t, "inner", v, "clone's loop scope is independent")

	v, ok = s.Get("l")
	assert.True(t, ok)
	assert.Equal(t, "outer", v, "parent's loop scope unaffected by clone's writes")

	clone.Set(ScopeGlobal, "g", "2")
	v, ok = s.Get("g")
	assert.True(t, ok)
	assert.Equal(t, "2", v, "global scope is shared between parent and clone")
}

func TestCloneForLoopIterationDoesNotLeakIntoSibling(t *testing.T) {
	s := New()
	s.Set(ScopeLoop, "l", "base")

	c1 := s.CloneForLoopIteration()
	c2 := s.CloneForLoopIteration()
	c1.Set(ScopeLoop, "l", "from-c1")

	v, ok := c2.Get("l")
	assert.False(t, ok, "c2's loop scope starts empty regardless of c1's writes")
	_ = v
}
