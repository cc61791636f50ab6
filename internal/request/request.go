// Package request defines the Request value exchanged between replicas: a
// timestamped, causally-contextualized application operation plus its
// identifier, per §3.
package request

import (
	"encoding/json"
	"fmt"

	"github.com/epochkv/epoch/internal/oid"
)

// Request is a single client-submitted operation as it travels through the
// replica: intake, gossip, tentative/committed log.
type Request struct {
	Ts        int64
	ID        oid.OID
	Op        Operation
	StrongOp  bool
	CausalCtx oid.Set
}

// New builds a Request with the given fields. CausalCtx is cloned so the
// caller's set can keep evolving independently.
func New(ts int64, id oid.OID, op Operation, strong bool, causalCtx oid.Set) *Request {
	ctx := oid.Set{}
	for id := range causalCtx {
		ctx.Add(id)
	}
	return &Request{
		Ts:        ts,
		ID:        id,
		Op:        op,
		StrongOp:  strong,
		CausalCtx: ctx,
	}
}

// Less implements the Request ordering of §3: compare timestamps first,
// then id as tiebreak. This defines the TENTATIVE sort order.
func (r *Request) Less(other *Request) bool {
	if r.Ts != other.Ts {
		return r.Ts < other.Ts
	}
	return r.ID.Less(other.ID)
}

// Equal reports value equality on id, op, strong_op and causal_ctx (as a
// set), per the roundtrip property of §8.7. Timestamps are intentionally
// not part of equality for roundtrip comparisons across JSON since every
// field that matters for ordering beyond ts is already covered by ID.
func (r *Request) Equal(other *Request) bool {
	if r.ID != other.ID {
		return false
	}
	if r.Op.Kind != other.Op.Kind || r.Op.Key != other.Op.Key {
		return false
	}
	if fmt.Sprint(r.Op.Value) != fmt.Sprint(other.Op.Value) {
		return false
	}
	if r.StrongOp != other.StrongOp {
		return false
	}
	if len(r.CausalCtx) != len(other.CausalCtx) {
		return false
	}
	return r.CausalCtx.Subset(other.CausalCtx)
}

func (r *Request) String() string {
	return fmt.Sprintf("Request(id=%s, op=%s, strong_op=%v, causal_ctx=%v)", r.ID, r.Op, r.StrongOp, r.CausalCtx.Slice())
}

// wireRequest is the JSON shape of §6: {ts, id:[node,seq], op:[kind,key,value?],
// strong_op, causal_ctx:[[node,seq],…]}.
type wireRequest struct {
	Ts        int64     `json:"ts"`
	ID        oid.OID   `json:"id"`
	Op        []any     `json:"op"`
	StrongOp  bool      `json:"strong_op"`
	CausalCtx []oid.OID `json:"causal_ctx"`
}

// MarshalJSON encodes the request in the wire shape of §6.
func (r *Request) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireRequest{
		Ts:        r.Ts,
		ID:        r.ID,
		Op:        r.Op.toTriple(),
		StrongOp:  r.StrongOp,
		CausalCtx: r.CausalCtx.Slice(),
	})
}

// UnmarshalJSON decodes the wire shape produced by MarshalJSON.
func (r *Request) UnmarshalJSON(data []byte) error {
	var w wireRequest
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("request: %w", err)
	}
	op, err := operationFromTriple(w.Op)
	if err != nil {
		return err
	}
	r.Ts = w.Ts
	r.ID = w.ID
	r.Op = op
	r.StrongOp = w.StrongOp
	r.CausalCtx = oid.NewSet(w.CausalCtx...)
	return nil
}
