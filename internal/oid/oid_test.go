package oid_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/epochkv/epoch/internal/oid"
)

func TestLess(t *testing.T) {
	a := oid.New(0, 1)
	b := oid.New(0, 2)
	c := oid.New(1, 1)

	assert.True(t, a.Less(b))
	assert.False(t, b.Less(a))
	assert.True(t, a.Less(c))
	assert.False(t, a.Less(a))
}

func TestJSONRoundtrip(t *testing.T) {
	id := oid.New(3, 42)

	data, err := json.Marshal(id)
	require.NoError(t, err)
	assert.Equal(t, "[3,42]", string(data))

	var out oid.OID
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, id, out)
}

func TestSetOperations(t *testing.T) {
	s := oid.NewSet(oid.New(0, 1), oid.New(0, 2))
	assert.True(t, s.Has(oid.New(0, 1)))
	assert.False(t, s.Has(oid.New(0, 3)))

	sub := oid.NewSet(oid.New(0, 1))
	assert.True(t, sub.Subset(s))

	s.Remove(oid.New(0, 1))
	assert.False(t, s.Has(oid.New(0, 1)))

	a := oid.NewSet(oid.New(0, 1), oid.New(0, 2))
	b := oid.NewSet(oid.New(0, 2), oid.New(0, 3))
	inter := oid.Intersect(a, b)
	assert.Equal(t, 1, len(inter))
	assert.True(t, inter.Has(oid.New(0, 2)))
}

func TestIntersectEmpty(t *testing.T) {
	assert.Empty(t, oid.Intersect())
}
