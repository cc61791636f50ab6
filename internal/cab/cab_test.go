package cab_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/epochkv/epoch/internal/cab"
	"github.com/epochkv/epoch/internal/oid"
)

func alwaysKnownDeps(ctx oid.Set) cab.Dependencies {
	return cab.Dependencies{
		Known: func(id oid.OID) (oid.Set, bool) { return oid.Set{}, true },
		CausalCtx: ctx,
	}
}

func unknownDeps() cab.Dependencies {
	return cab.Dependencies{
		Known:     func(id oid.OID) (oid.Set, bool) { return nil, false },
		CausalCtx: oid.Set{},
	}
}

func TestMessageJSONRoundtrip(t *testing.T) {
	m := cab.NewMessage(oid.New(1, 2), cab.CheckDep)
	data, err := json.Marshal(m)
	require.NoError(t, err)
	assert.JSONEq(t, `{"m":[1,2],"q":"check_dep"}`, string(data))

	var out cab.Message
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, m, out)
}

func TestQuorumIsStrictMajority(t *testing.T) {
	assert.Equal(t, 2, cab.Quorum(3))
	assert.Equal(t, 3, cab.Quorum(4))
	assert.Equal(t, 3, cab.Quorum(5))
	assert.Equal(t, 1, cab.Quorum(1))
}

func TestUnknownPredicateNeverSatisfied(t *testing.T) {
	m := cab.NewMessage(oid.New(0, 1), cab.PredicateTag("nonsense"))
	assert.False(t, m.Satisfied(alwaysKnownDeps(oid.Set{})))
}

func TestProposeRequiresNonEmptyUnordered(t *testing.T) {
	p := cab.New()
	_, ok := p.TryPropose(0)
	assert.False(t, ok)
}

func TestFullRoundLifecycleThreeReplicas(t *testing.T) {
	p := cab.New()
	id := oid.New(0, 1)
	p.Deliver(cab.NewMessage(id, cab.CheckDep))

	prop, ok := p.TryPropose(0)
	require.True(t, ok)
	assert.Equal(t, uint64(1), prop.K)
	assert.True(t, p.RoundActive())

	// peer proposal arrives, completing a 2-of-3 quorum.
	p.ReceiveProposal(cab.Proposal{Server: 1, K: 1, Unordered: oid.NewSet(id)})

	deps := alwaysKnownDeps(oid.NewSet(id))
	dec, ok := p.TryDecide(0, cab.Quorum(3), deps)
	require.True(t, ok)
	assert.True(t, dec.Decided.Has(id))

	p.ReceiveDecision(cab.Decision{Server: 1, K: 1, Decided: oid.NewSet(id)})

	appended, ok := p.TryApply(cab.Quorum(3))
	require.True(t, ok)
	assert.Equal(t, []oid.OID{id}, appended)
	assert.False(t, p.RoundActive())
	assert.Equal(t, []oid.OID{id}, p.OrderedMessages())

	next, ok := p.NextDeliverable()
	require.True(t, ok)
	assert.Equal(t, id, next)
	assert.True(t, p.Satisfied(id, deps))
}

func TestPopDeliverableLeavesOrderedMessagesAppendOnly(t *testing.T) {
	p := cab.New()
	id := oid.New(0, 1)
	p.Deliver(cab.NewMessage(id, cab.CheckDep))

	_, ok := p.TryPropose(0)
	require.True(t, ok)
	p.ReceiveProposal(cab.Proposal{Server: 1, K: 1, Unordered: oid.NewSet(id)})

	deps := alwaysKnownDeps(oid.NewSet(id))
	_, ok = p.TryDecide(0, cab.Quorum(3), deps)
	require.True(t, ok)
	p.ReceiveDecision(cab.Decision{Server: 1, K: 1, Decided: oid.NewSet(id)})

	_, ok = p.TryApply(cab.Quorum(3))
	require.True(t, ok)

	popped, ok := p.PopDeliverable()
	require.True(t, ok)
	assert.Equal(t, id, popped)

	// OrderedMessages must still report the full, append-only history after
	// a pop, not a list shrunk by the cursor's advance.
	assert.Equal(t, []oid.OID{id}, p.OrderedMessages())

	_, ok = p.NextDeliverable()
	assert.False(t, ok, "no further undelivered ids after popping the only one")

	_, ok = p.PopDeliverable()
	assert.False(t, ok, "popping past the end is a no-op, not a panic")
}

func TestEmptyDecisionStillAdvancesRound(t *testing.T) {
	// S6: predicate fails at decide time (prerequisite not yet arrived).
	p := cab.New()
	id := oid.New(0, 1)
	p.Deliver(cab.NewMessage(id, cab.CheckDep))

	_, ok := p.TryPropose(0)
	require.True(t, ok)
	p.ReceiveProposal(cab.Proposal{Server: 1, K: 1, Unordered: oid.NewSet(id)})

	dec, ok := p.TryDecide(0, cab.Quorum(3), unknownDeps())
	require.True(t, ok)
	assert.Empty(t, dec.Decided)

	p.ReceiveDecision(cab.Decision{Server: 1, K: 1, Decided: oid.Set{}})

	appended, ok := p.TryApply(cab.Quorum(3))
	require.True(t, ok)
	assert.Empty(t, appended)
	assert.False(t, p.RoundActive())
	assert.Equal(t, uint64(1), p.ConsensusK())

	// the id is still unordered, so the next round can retry it once its
	// prerequisite becomes known.
	assert.True(t, p.UnorderedMessages().Has(id))
}

func TestDuplicateProposalIsIdempotent(t *testing.T) {
	p := cab.New()
	id := oid.New(0, 1)
	p.Deliver(cab.NewMessage(id, cab.CheckDep))
	p.TryPropose(0)

	p.ReceiveProposal(cab.Proposal{Server: 1, K: 1, Unordered: oid.NewSet(id)})
	p.ReceiveProposal(cab.Proposal{Server: 1, K: 1, Unordered: oid.Set{}}) // duplicate, different payload

	assert.Equal(t, 2, p.ProposalCount(1))
}

func TestDeliverIsIdempotent(t *testing.T) {
	p := cab.New()
	id := oid.New(0, 1)
	p.Deliver(cab.NewMessage(id, cab.CheckDep))
	p.Deliver(cab.NewMessage(id, cab.CheckDep))

	assert.True(t, p.Received(id))
	assert.Len(t, p.UnorderedMessages(), 1)
}
