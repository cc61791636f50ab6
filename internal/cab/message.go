// Package cab implements the Consistent Agreement Broadcast sub-protocol of
// §4.4: a total order over CAB-cast message identifiers, conditional on a
// per-message predicate, produced by indexed propose/decide/apply rounds.
//
// Grounded on src/consensus's locking and quorum-counting shape
// (Scope/Manager own their instance collections behind one lock and track a
// notion of "enough responses collected"), and on
// original_source/application/consensus.py for the propose/decide wire
// round-trip. The agreement algorithm itself — propose/decide/apply over
// set-intersection rather than EPaxos's ballots/preaccept/accept — differs
// from src/consensus's own.
package cab

import (
	"encoding/json"
	"fmt"

	"github.com/epochkv/epoch/internal/oid"
)

// PredicateTag names a predicate in the closed registry of §9's design
// note ("a closed table of predicates ... rather than dynamic lookup").
type PredicateTag string

// CheckDep is the only predicate tag defined by §4.4: the operation with
// the given id is locally known (committed or tentative) and its causal
// context is already satisfied.
const CheckDep PredicateTag = "check_dep"

// Message is the CAB payload of §3: an operation identifier tagged with
// the predicate that must hold before it may be delivered.
type Message struct {
	M oid.OID
	Q PredicateTag
}

// NewMessage builds a CAB message for id tagged with q.
func NewMessage(id oid.OID, q PredicateTag) Message {
	return Message{M: id, Q: q}
}

// wireMessage is the JSON shape of §6's /gossip-cab body: {m:[node,seq],
// q:"check_dep"}.
type wireMessage struct {
	M oid.OID      `json:"m"`
	Q PredicateTag `json:"q"`
}

// MarshalJSON encodes the message in the §6 wire shape.
func (m Message) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireMessage{M: m.M, Q: m.Q})
}

// UnmarshalJSON decodes the §6 wire shape.
func (m *Message) UnmarshalJSON(data []byte) error {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("cab: message: %w", err)
	}
	m.M = w.M
	m.Q = w.Q
	return nil
}
