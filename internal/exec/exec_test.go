package exec_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/epochkv/epoch/internal/exec"
	"github.com/epochkv/epoch/internal/oid"
	"github.com/epochkv/epoch/internal/request"
	"github.com/epochkv/epoch/internal/state"
)

func TestApplyGetMissingKey(t *testing.T) {
	store := state.New()
	r := request.New(1, oid.New(0, 1), request.NewGet("x"), false, oid.Set{})

	res, err := exec.Apply(r, store)
	require.NoError(t, err)
	assert.False(t, res.Found)
}

func TestApplyPutThenGet(t *testing.T) {
	store := state.New()
	put := request.New(1, oid.New(0, 1), request.NewPut("x", float64(2)), true, oid.Set{})

	res, err := exec.Apply(put, store)
	require.NoError(t, err)
	assert.Equal(t, "OK", res.Value)

	get := request.New(2, oid.New(0, 2), request.NewGet("x"), false, oid.Set{})
	res, err = exec.Apply(get, store)
	require.NoError(t, err)
	assert.True(t, res.Found)
	assert.Equal(t, float64(2), res.Value)
}

func TestRollbackRestoresPriorValue(t *testing.T) {
	store := state.New()
	first := request.New(1, oid.New(0, 1), request.NewPut("x", float64(1)), true, oid.Set{})
	second := request.New(2, oid.New(0, 2), request.NewPut("x", float64(2)), true, oid.Set{})

	_, err := exec.Apply(first, store)
	require.NoError(t, err)
	_, err = exec.Apply(second, store)
	require.NoError(t, err)

	exec.Rollback(second, store)

	v, ok := store.Get("x")
	require.True(t, ok)
	assert.Equal(t, float64(1), v.Data)
}

func TestRollbackOfGetIsNoop(t *testing.T) {
	store := state.New()
	put := request.New(1, oid.New(0, 1), request.NewPut("x", float64(1)), true, oid.Set{})
	_, err := exec.Apply(put, store)
	require.NoError(t, err)

	get := request.New(2, oid.New(0, 2), request.NewGet("x"), false, oid.Set{})
	_, err = exec.Apply(get, store)
	require.NoError(t, err)

	exec.Rollback(get, store)

	v, ok := store.Get("x")
	require.True(t, ok)
	assert.Equal(t, float64(1), v.Data)
}

func TestApplyUnknownKindErrors(t *testing.T) {
	store := state.New()
	r := request.New(1, oid.New(0, 1), request.Operation{Kind: "DELETE", Key: "x"}, false, oid.Set{})

	_, err := exec.Apply(r, store)
	assert.Error(t, err)
}
