package state_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/epochkv/epoch/internal/oid"
	"github.com/epochkv/epoch/internal/state"
)

func TestGetMissingKey(t *testing.T) {
	s := state.New()
	_, ok := s.Get("x")
	assert.False(t, ok)
}

func TestPutThenGet(t *testing.T) {
	s := state.New()
	id := oid.New(0, 1)
	assert.Equal(t, "OK", s.Put(id, "x", 1, 100))

	v, ok := s.Get("x")
	assert.True(t, ok)
	assert.Equal(t, 1, v.Data)
	assert.Equal(t, int64(100), v.Ts)
}

func TestRollbackRestoresPreviousValue(t *testing.T) {
	s := state.New()
	first := oid.New(0, 1)
	second := oid.New(0, 2)

	s.Put(first, "x", 1, 100)
	s.Put(second, "x", 2, 101)

	s.Rollback(second)
	v, ok := s.Get("x")
	assert.True(t, ok)
	assert.Equal(t, 1, v.Data)

	s.Rollback(first)
	_, ok = s.Get("x")
	assert.False(t, ok, "rolling back the op that created the key removes it")
}

func TestRollbackUnknownIDIsNoop(t *testing.T) {
	s := state.New()
	s.Put(oid.New(0, 1), "x", 1, 100)
	s.Rollback(oid.New(9, 9))
	v, ok := s.Get("x")
	assert.True(t, ok)
	assert.Equal(t, 1, v.Data)
}

func TestSnapshot(t *testing.T) {
	s := state.New()
	s.Put(oid.New(0, 1), "x", 1, 100)
	snap := s.Snapshot()
	assert.Equal(t, map[string]any{"x": 1}, snap)
}
