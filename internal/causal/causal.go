// Package causal tracks CAUSAL_CTX, the set of operation identifiers a
// replica has absorbed, and MISSING_CONTEXT_OPS, the buffer of requests
// whose causal prerequisites have not all arrived yet (§3, §4.2).
package causal

import (
	"github.com/epochkv/epoch/internal/oid"
	"github.com/epochkv/epoch/internal/request"
)

// Tracker owns CAUSAL_CTX and MISSING_CONTEXT_OPS. It is not safe for
// concurrent use on its own; callers (internal/replica) serialize access
// under the replica-wide lock per §5's serialization discipline.
type Tracker struct {
	ctx     oid.Set
	missing map[oid.OID]*request.Request
}

// New returns an empty Tracker.
func New() *Tracker {
	return &Tracker{
		ctx:     oid.Set{},
		missing: make(map[oid.OID]*request.Request),
	}
}

// Has reports whether id has been absorbed into CAUSAL_CTX.
func (t *Tracker) Has(id oid.OID) bool { return t.ctx.Has(id) }

// Add inserts id into CAUSAL_CTX.
func (t *Tracker) Add(id oid.OID) { t.ctx.Add(id) }

// Snapshot returns the current CAUSAL_CTX. The caller must not mutate the
// returned set.
func (t *Tracker) Snapshot() oid.Set { return t.ctx }

// Ready reports whether r's causal prerequisites are already satisfied:
// either it is a weak op, or its causal_ctx is a subset of CAUSAL_CTX.
func (t *Tracker) Ready(r *request.Request) bool {
	return !r.StrongOp || r.CausalCtx.Subset(t.ctx)
}

// Absorb implements the absorbing half of RB-deliver (§4.2 step 2): it adds
// r's id to CAUSAL_CTX and then drains MISSING_CONTEXT_OPS to a fixpoint,
// releasing every buffered request whose causal_ctx has become satisfied,
// including transitively through requests released in the same call ("a
// fixpoint loop is safe and likely intended" over a literal single-shot
// drain), and it never releases a request whose prerequisites are not yet
// satisfied.
//
// It returns the full set of newly-ready requests (including r itself) in
// no particular order; the caller is responsible for inserting them into
// TENTATIVE (internal/oplog).
func (t *Tracker) Absorb(r *request.Request) []*request.Request {
	t.ctx.Add(r.ID)
	ready := []*request.Request{r}

	for {
		releasedThisPass := false
		for id, x := range t.missing {
			if x.CausalCtx.Subset(t.ctx) {
				t.ctx.Add(id)
				ready = append(ready, x)
				delete(t.missing, id)
				releasedThisPass = true
			}
		}
		if !releasedThisPass {
			break
		}
	}
	return ready
}

// Buffer adds r to MISSING_CONTEXT_OPS: its causal prerequisites are not
// all present yet.
func (t *Tracker) Buffer(r *request.Request) {
	t.missing[r.ID] = r
}

// Missing returns the requests currently buffered in MISSING_CONTEXT_OPS,
// for status reporting and tests.
func (t *Tracker) Missing() []*request.Request {
	out := make([]*request.Request, 0, len(t.missing))
	for _, r := range t.missing {
		out = append(out, r)
	}
	return out
}
