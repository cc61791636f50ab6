// Package oid defines the operation identifier used throughout the replica
// as a dense, comparable value type: OID = (origin_node, seq).
package oid

import (
	"encoding/json"
	"fmt"
)

// OID uniquely fingerprints an operation: the replica that originated it and
// the per-origin sequence number assigned at intake. It is small enough to
// pass by value and is directly usable as a map key.
type OID struct {
	Origin uint32
	Seq    uint64
}

// New returns the identifier for the given origin replica and sequence
// number.
func New(origin uint32, seq uint64) OID {
	return OID{Origin: origin, Seq: seq}
}

// Less orders OIDs lexicographically by (origin, seq). This is the tiebreak
// ordering used once two requests carry equal timestamps (see request.Less).
func (id OID) Less(other OID) bool {
	if id.Origin != other.Origin {
		return id.Origin < other.Origin
	}
	return id.Seq < other.Seq
}

func (id OID) String() string {
	return fmt.Sprintf("(%d,%d)", id.Origin, id.Seq)
}

// MarshalJSON encodes the identifier as the two-element array [origin, seq],
// matching the wire shape used by every HTTP endpoint in §6 and the original
// Python service's req.to_json.
func (id OID) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]uint64{uint64(id.Origin), id.Seq})
}

// UnmarshalJSON decodes the two-element array form produced by MarshalJSON.
func (id *OID) UnmarshalJSON(data []byte) error {
	var pair [2]uint64
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("oid: decoding [origin,seq]: %w", err)
	}
	id.Origin = uint32(pair[0])
	id.Seq = pair[1]
	return nil
}

// Set is a plain set of identifiers, used for CAUSAL_CTX, DELIVERED,
// RECEIVED, UNORDERED_MESSAGES and similar §3 state.
type Set map[OID]struct{}

// NewSet builds a Set containing the given identifiers.
func NewSet(ids ...OID) Set {
	s := make(Set, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Add inserts id into the set.
func (s Set) Add(id OID) { s[id] = struct{}{} }

// Remove deletes id from the set, if present.
func (s Set) Remove(id OID) { delete(s, id) }

// Has reports whether id is a member of the set.
func (s Set) Has(id OID) bool {
	_, ok := s[id]
	return ok
}

// Subset reports whether every element of s is also present in other.
func (s Set) Subset(other Set) bool {
	for id := range s {
		if !other.Has(id) {
			return false
		}
	}
	return true
}

// Slice returns the set's members in unspecified order.
func (s Set) Slice() []OID {
	out := make([]OID, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	return out
}

// Clone returns a shallow copy of the set.
func (s Set) Clone() Set {
	out := make(Set, len(s))
	for id := range s {
		out[id] = struct{}{}
	}
	return out
}

// Intersect returns the intersection of all the given sets, or an empty set
// when none are given.
func Intersect(sets ...Set) Set {
	if len(sets) == 0 {
		return Set{}
	}
	out := sets[0].Clone()
	for _, s := range sets[1:] {
		for id := range out {
			if !s.Has(id) {
				delete(out, id)
			}
		}
	}
	return out
}
