package causal_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/epochkv/epoch/internal/causal"
	"github.com/epochkv/epoch/internal/oid"
	"github.com/epochkv/epoch/internal/request"
)

func TestReadyWeakOpAlwaysReady(t *testing.T) {
	tr := causal.New()
	r := request.New(1, oid.New(0, 1), request.NewPut("x", 1), false, oid.NewSet(oid.New(5, 5)))
	assert.True(t, tr.Ready(r))
}

func TestReadyStrongOpRequiresSubset(t *testing.T) {
	tr := causal.New()
	dep := oid.New(0, 1)
	r := request.New(1, oid.New(1, 1), request.NewPut("x", 1), true, oid.NewSet(dep))

	assert.False(t, tr.Ready(r))
	tr.Add(dep)
	assert.True(t, tr.Ready(r))
}

func TestAbsorbReleasesTransitiveChain(t *testing.T) {
	tr := causal.New()

	first := request.New(1, oid.New(0, 1), request.NewPut("x", 1), false, nil)
	second := request.New(2, oid.New(0, 2), request.NewPut("x", 2), true, oid.NewSet(first.ID))
	third := request.New(3, oid.New(0, 3), request.NewPut("x", 3), true, oid.NewSet(second.ID))

	// second and third arrive before first: both get buffered.
	tr.Buffer(second)
	tr.Buffer(third)
	assert.Len(t, tr.Missing(), 2)

	ready := tr.Absorb(first)

	// first unlocks second, which in turn unlocks third: a single-shot
	// drain would only release second.
	ids := map[oid.OID]bool{}
	for _, r := range ready {
		ids[r.ID] = true
	}
	assert.True(t, ids[first.ID])
	assert.True(t, ids[second.ID])
	assert.True(t, ids[third.ID])
	assert.Empty(t, tr.Missing())
}

func TestAbsorbLeavesUnsatisfiedRequestsBuffered(t *testing.T) {
	tr := causal.New()
	blocker := oid.New(9, 9)
	stuck := request.New(2, oid.New(0, 2), request.NewPut("x", 2), true, oid.NewSet(blocker))
	tr.Buffer(stuck)

	unrelated := request.New(1, oid.New(1, 1), request.NewPut("y", 1), false, nil)
	tr.Absorb(unrelated)

	assert.Len(t, tr.Missing(), 1)
}
