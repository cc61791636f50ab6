package cab

import (
	"github.com/epochkv/epoch/internal/oid"
)

// Protocol owns the CAB state of §3: RECEIVED, ORDERED_MESSAGES,
// UNORDERED_MESSAGES, CONSENSUS_K, the per-round proposal/decision sets,
// and the DECIDING_CONSENSUS/APPLYING_CONSENSUS phase flags. It performs
// no locking of its own: internal/replica serializes every call under the
// replica-wide mutex per §5.
type Protocol struct {
	messages map[oid.OID]Message
	received oid.Set

	orderedList []oid.OID
	orderedSet  oid.Set
	unordered   oid.Set
	delivered   int

	consensusK uint64
	activeK    uint64
	deciding   bool
	applying   bool

	proposals map[uint64]map[uint32]Proposal
	decisions map[uint64]map[uint32]Decision
}

// New returns an empty Protocol.
func New() *Protocol {
	return &Protocol{
		messages:    make(map[oid.OID]Message),
		received:    oid.Set{},
		orderedSet:  oid.Set{},
		unordered:   oid.Set{},
		proposals:   make(map[uint64]map[uint32]Proposal),
		decisions:   make(map[uint64]map[uint32]Decision),
	}
}

// Received reports whether a CAB message for id has been RB-delivered.
func (p *Protocol) Received(id oid.OID) bool { return p.received.Has(id) }

// OrderedMessages returns ORDERED_MESSAGES, append-only.
func (p *Protocol) OrderedMessages() []oid.OID { return p.orderedList }

// UnorderedMessages returns a copy of UNORDERED_MESSAGES.
func (p *Protocol) UnorderedMessages() oid.Set { return p.unordered.Clone() }

// ConsensusK returns the current CONSENSUS_K value.
func (p *Protocol) ConsensusK() uint64 { return p.consensusK }

// RoundActive reports whether a propose/decide round is currently running.
func (p *Protocol) RoundActive() bool { return p.deciding || p.applying }

// Deliver implements RB-deliver-msg(msg): add msg.m to RECEIVED, and if
// it's not already ordered, add it to UNORDERED_MESSAGES. Re-delivery of an
// already-seen id is idempotent (invariant 3 of §8): the message body is
// retained from first delivery and the sets are unchanged by a repeat.
func (p *Protocol) Deliver(msg Message) {
	if _, ok := p.messages[msg.M]; !ok {
		p.messages[msg.M] = msg
	}
	p.received.Add(msg.M)
	if !p.orderedSet.Has(msg.M) {
		p.unordered.Add(msg.M)
	}
}

// messageFor returns the Message first delivered for id, if any, so its
// predicate tag can be evaluated by satisfiedLocally.
func (p *Protocol) messageFor(id oid.OID) (Message, bool) {
	m, ok := p.messages[id]
	return m, ok
}

// TryPropose implements §4.4 step 1: when UNORDERED_MESSAGES is non-empty
// and no round is active, snapshot it, advance to round k =
// CONSENSUS_K+1, record the self-proposal, and return it for broadcast.
// Returns ok=false if no round should start right now.
func (p *Protocol) TryPropose(self uint32) (Proposal, bool) {
	if p.deciding || len(p.unordered) == 0 {
		return Proposal{}, false
	}

	k := p.consensusK + 1
	snapshot := p.unordered.Clone()
	prop := Proposal{Server: self, K: k, Unordered: snapshot}

	p.consensusK = k
	p.activeK = k
	p.deciding = true
	p.recordProposal(prop)

	return prop, true
}

// ReceiveProposal records a peer's proposal for its round, enforcing
// at-most-one-per-server-per-k (§8 invariant 4). A duplicate proposal from
// the same (server, k) is ignored (idempotent).
func (p *Protocol) ReceiveProposal(prop Proposal) {
	p.recordProposal(prop)
}

func (p *Protocol) recordProposal(prop Proposal) {
	byServer, ok := p.proposals[prop.K]
	if !ok {
		byServer = make(map[uint32]Proposal)
		p.proposals[prop.K] = byServer
	}
	if _, exists := byServer[prop.Server]; exists {
		return
	}
	byServer[prop.Server] = prop
}

// ProposalCount returns the number of distinct servers that have proposed
// at round k.
func (p *Protocol) ProposalCount(k uint64) int {
	return len(p.proposals[k])
}

// TryDecide implements §4.4 step 2: once a quorum of proposals for the
// active round has been collected, compute the intersection of their
// unordered sets, filter it by predicate using deps, record and return the
// self-decision. Returns ok=false if the round isn't ready to decide yet.
func (p *Protocol) TryDecide(self uint32, quorum int, deps Dependencies) (Decision, bool) {
	if !p.deciding || p.applying {
		return Decision{}, false
	}
	k := p.activeK
	if p.ProposalCount(k) < quorum {
		return Decision{}, false
	}

	sets := make([]oid.Set, 0, len(p.proposals[k]))
	for _, prop := range p.proposals[k] {
		sets = append(sets, prop.Unordered)
	}
	intersection := oid.Intersect(sets...)

	decided := oid.Set{}
	for id := range intersection {
		if p.received.Has(id) && p.satisfiedLocally(id, deps) {
			decided.Add(id)
		}
	}

	dec := Decision{Server: self, K: k, Decided: decided}
	p.applying = true
	p.recordDecision(dec)

	return dec, true
}

func (p *Protocol) satisfiedLocally(id oid.OID, deps Dependencies) bool {
	msg, ok := p.messageFor(id)
	if !ok {
		return false
	}
	return msg.Satisfied(deps)
}

// ReceiveDecision records a peer's decision for its round, enforcing
// at-most-one-per-server-per-k.
func (p *Protocol) ReceiveDecision(dec Decision) {
	p.recordDecision(dec)
}

func (p *Protocol) recordDecision(dec Decision) {
	byServer, ok := p.decisions[dec.K]
	if !ok {
		byServer = make(map[uint32]Decision)
		p.decisions[dec.K] = byServer
	}
	if _, exists := byServer[dec.Server]; exists {
		return
	}
	byServer[dec.Server] = dec
}

// DecisionCount returns the number of distinct servers that have decided
// at round k.
func (p *Protocol) DecisionCount(k uint64) int {
	return len(p.decisions[k])
}

// TryApply implements §4.4 step 3: once a quorum of decisions for the
// active round has been collected, compute the intersection of their
// decided sets, sort it deterministically, and move every id that is both
// in the intersection and still unordered to the tail of ORDERED_MESSAGES.
// Clears both phase flags so the next round may start. Returns the ids
// appended to ORDERED_MESSAGES by this call (possibly empty — an empty
// decision still advances the round, per §4.4 step 2).
func (p *Protocol) TryApply(quorum int) ([]oid.OID, bool) {
	if !p.applying {
		return nil, false
	}
	k := p.activeK
	if p.DecisionCount(k) < quorum {
		return nil, false
	}

	sets := make([]oid.Set, 0, len(p.decisions[k]))
	for _, dec := range p.decisions[k] {
		sets = append(sets, dec.Decided)
	}
	intersection := oid.Intersect(sets...)

	sorted := sortedOIDs(intersection)
	var appended []oid.OID
	for _, id := range sorted {
		if !p.unordered.Has(id) {
			continue
		}
		p.unordered.Remove(id)
		p.orderedSet.Add(id)
		p.orderedList = append(p.orderedList, id)
		appended = append(appended, id)
	}

	p.deciding = false
	p.applying = false

	return appended, true
}

// NextDeliverable returns the identifier at the head of the not-yet-delivered
// portion of ORDERED_MESSAGES, for the CAB-deliver drainer loop of §4.4.
// Returns ok=false if every id appended to ORDERED_MESSAGES so far has
// already been delivered.
func (p *Protocol) NextDeliverable() (oid.OID, bool) {
	if p.delivered >= len(p.orderedList) {
		return oid.OID{}, false
	}
	return p.orderedList[p.delivered], true
}

// PopDeliverable advances past the head of the not-yet-delivered portion of
// ORDERED_MESSAGES and returns it, to be called once its predicate has been
// confirmed satisfied by the caller (CAB-deliver's commit(m) gate).
// ORDERED_MESSAGES itself is never shrunk or reordered: it stays append-only
// for the lifetime of the Protocol (§8 invariant 5), and delivery progress
// is tracked separately via the delivered cursor so two replicas that have
// applied the same rounds still report identical OrderedMessages results
// regardless of how far each has drained (§8 invariant 6).
func (p *Protocol) PopDeliverable() (oid.OID, bool) {
	if p.delivered >= len(p.orderedList) {
		return oid.OID{}, false
	}
	id := p.orderedList[p.delivered]
	p.delivered++
	return id, true
}

// Satisfied evaluates id's registered predicate against deps; used by the
// CAB-deliver drainer to gate PopDeliverable.
func (p *Protocol) Satisfied(id oid.OID, deps Dependencies) bool {
	return p.received.Has(id) && p.satisfiedLocally(id, deps)
}
