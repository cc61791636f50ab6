package cab

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/epochkv/epoch/internal/oid"
)

// Proposal is a replica's snapshot of UNORDERED_MESSAGES at the start of
// round k (§3, §4.4 step 1).
type Proposal struct {
	Server    uint32
	K         uint64
	Unordered oid.Set
}

type wireProposal struct {
	Server    uint32    `json:"server"`
	K         uint64    `json:"k"`
	Unordered []oid.OID `json:"unordered"`
}

// MarshalJSON encodes the proposal in the §6 /propose-cab wire shape.
func (p Proposal) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireProposal{Server: p.Server, K: p.K, Unordered: p.Unordered.Slice()})
}

// UnmarshalJSON decodes the §6 /propose-cab wire shape.
func (p *Proposal) UnmarshalJSON(data []byte) error {
	var w wireProposal
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("cab: proposal: %w", err)
	}
	p.Server = w.Server
	p.K = w.K
	p.Unordered = oid.NewSet(w.Unordered...)
	return nil
}

// Decision is a replica's filtered-by-predicate subset of a proposal's
// intersection, broadcast at the end of round k's decide phase (§3,
// §4.4 step 2).
type Decision struct {
	Server  uint32
	K       uint64
	Decided oid.Set
}

type wireDecision struct {
	Server  uint32    `json:"server"`
	K       uint64    `json:"k"`
	Decided []oid.OID `json:"decided"`
}

// MarshalJSON encodes the decision in the §6 /decide-cab wire shape.
func (d Decision) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireDecision{Server: d.Server, K: d.K, Decided: d.Decided.Slice()})
}

// UnmarshalJSON decodes the §6 /decide-cab wire shape.
func (d *Decision) UnmarshalJSON(data []byte) error {
	var w wireDecision
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("cab: decision: %w", err)
	}
	d.Server = w.Server
	d.K = w.K
	d.Decided = oid.NewSet(w.Decided...)
	return nil
}

// Quorum returns the number of replicas required for a propose or decide
// phase to proceed: a strict majority of n, computed as n/2 + 1 using
// integer division. The source's literal `len(...) >= N/2` can close a
// round with strictly less than a majority when N is even; n/2+1 never
// under-counts.
func Quorum(n int) int {
	return n/2 + 1
}

// sortedOIDs returns ids sorted lexicographically on (origin, seq), the
// deterministic replay order required by §4.4 step 3's apply phase.
func sortedOIDs(ids oid.Set) []oid.OID {
	out := ids.Slice()
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}
