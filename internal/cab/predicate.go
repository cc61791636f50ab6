package cab

import "github.com/epochkv/epoch/internal/oid"

// Predicate decides whether a CAB-cast identifier may be delivered at this
// replica. Dependencies is the minimal view a predicate needs of replica
// state: which ids are locally known (committed or tentative), and each
// known id's own causal context, plus the replica's current CAUSAL_CTX.
type Predicate func(id oid.OID, deps Dependencies) bool

// Dependencies is the read-only view of replica state a predicate
// evaluates against, passed in by internal/replica so this package never
// needs to import internal/oplog or internal/causal directly.
type Dependencies struct {
	// Known reports whether id is present in COMMITTED ∪ TENTATIVE, and
	// if so, its recorded causal context.
	Known func(id oid.OID) (causalCtx oid.Set, ok bool)

	// CausalCtx is the replica's current CAUSAL_CTX.
	CausalCtx oid.Set
}

// predicates is the closed registry of §9's design note: "a closed table
// of predicates ... rather than dynamic lookup". Extending the predicate
// set means adding a case here, not wiring a dynamic lookup mechanism.
var predicates = map[PredicateTag]Predicate{
	CheckDep: checkDep,
}

// checkDep implements §4.4's Q_m: the operation with id is present in
// COMMITTED ∪ TENTATIVE and its causal_ctx ⊆ CAUSAL_CTX.
func checkDep(id oid.OID, deps Dependencies) bool {
	ctx, ok := deps.Known(id)
	if !ok {
		return false
	}
	return ctx.Subset(deps.CausalCtx)
}

// neverSatisfied is returned for an unrecognized predicate tag, matching
// the source's get_predicate fallback (lambda x: False) rather than
// panicking on an unknown tag.
func neverSatisfied(oid.OID, Dependencies) bool { return false }

// Lookup resolves q to its Predicate, defaulting to neverSatisfied for an
// unrecognized tag.
func Lookup(q PredicateTag) Predicate {
	if p, ok := predicates[q]; ok {
		return p
	}
	return neverSatisfied
}

// Satisfied evaluates the predicate tagged on m against deps.
func (m Message) Satisfied(deps Dependencies) bool {
	return Lookup(m.Q)(m.M, deps)
}
