// Package replica wires together every per-node component — state, causal
// tracking, the operation log, reliable broadcast and CAB — behind a single
// mutex, matching §5's serialization discipline. Every exported method takes
// the lock, does its work against in-memory structures, and returns; peer
// HTTP I/O and queue draining live in internal/dispatch. Pushes onto the
// outbound queues (Invoke, Gossip, GossipCAB, TryProposeCAB, TryDecideCAB)
// are made while the lock is held, so with the Redis-backed queue each push
// is a Redis round trip under the lock.
//
// Grounded on src/cluster's Cluster, which plays the same role (the one
// object other packages reach into) without itself doing any networking —
// PeerServer and the RPC handlers own that.
package replica

import (
	"fmt"
	"sync"
	"time"

	"github.com/epochkv/epoch/internal/cab"
	"github.com/epochkv/epoch/internal/causal"
	"github.com/epochkv/epoch/internal/exec"
	"github.com/epochkv/epoch/internal/logging"
	"github.com/epochkv/epoch/internal/oid"
	"github.com/epochkv/epoch/internal/oplog"
	"github.com/epochkv/epoch/internal/queue"
	"github.com/epochkv/epoch/internal/rb"
	"github.com/epochkv/epoch/internal/request"
	"github.com/epochkv/epoch/internal/state"
)

// Error is a typed replica error, matching src/cluster/node.go's NodeError —
// a bare reason string rather than a wrapped stdlib error, since callers
// only ever need the message (surfaced verbatim in an HTTP response body).
type Error struct {
	reason string
}

// NewError builds an Error with the given reason.
func NewError(reason string) *Error { return &Error{reason: reason} }

func (e *Error) Error() string { return e.reason }

// InvokeResult is the §6 /invoke response body.
type InvokeResult struct {
	EventNo uint64
	NodeID  uint32
}

// Replica is one node's complete in-memory state.
type Replica struct {
	mu sync.Mutex

	id        uint32
	peerCount int
	seq       uint64
	now       func() int64

	store       *state.Store
	causal      *causal.Tracker
	log         *oplog.Log
	broadcaster *rb.Broadcaster
	cabProto    *cab.Protocol

	proposeQueue queue.Queue
	decideQueue  queue.Queue

	awaiting map[oid.OID]chan struct{}

	logger *logging.Logger
}

// New returns a Replica for node id in a cluster of peerCount nodes.
// opQueue/cabQueue disseminate RB-cast operations and CAB messages;
// proposeQueue/decideQueue disseminate CAB proposals and decisions.
func New(id uint32, peerCount int, opQueue, cabQueue, proposeQueue, decideQueue queue.Queue) *Replica {
	return &Replica{
		id:           id,
		peerCount:    peerCount,
		store:        state.New(),
		causal:       causal.New(),
		log:          oplog.New(),
		broadcaster:  rb.New(opQueue, cabQueue),
		cabProto:     cab.New(),
		proposeQueue: proposeQueue,
		decideQueue:  decideQueue,
		awaiting:     make(map[oid.OID]chan struct{}),
		now:          func() int64 { return time.Now().UnixNano() },
		logger:       logging.Get("replica"),
	}
}

// WithClock overrides the timestamp source, for deterministic tests.
func (r *Replica) WithClock(now func() int64) *Replica {
	r.now = now
	return r
}

// ID returns this replica's node id.
func (r *Replica) ID() uint32 { return r.id }

// Store exposes the underlying key/value store for read-only status
// reporting; internal/httpapi never writes through it directly.
func (r *Replica) Store() *state.Store { return r.store }

// Invoke implements §4.1's invoke(op, strong): mint the next (self, seq) id,
// compute causal_ctx for a strong op, CAB-cast its predicate message, RB-cast
// the request, open its REQUEST_AWAITING_RESP slot, and insert it into
// TENTATIVE.
func (r *Replica) Invoke(op request.Operation, strong bool) (InvokeResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	id := oid.New(r.id, r.seq)
	ts := r.now()

	causalCtx := oid.Set{}
	if strong {
		probe := request.New(ts, id, op, strong, oid.Set{})
		excluded := oid.Set{}
		for _, x := range r.log.Tentative() {
			if probe.Less(x) {
				excluded.Add(x.ID)
			}
		}
		for cid := range r.causal.Snapshot() {
			if !excluded.Has(cid) {
				causalCtx.Add(cid)
			}
		}
	}

	req := request.New(ts, id, op, strong, causalCtx)

	if strong {
		msg := cab.NewMessage(id, cab.CheckDep)
		if err := r.broadcaster.CastMessage(msg); err != nil {
			return InvokeResult{}, NewError(fmt.Sprintf("replica: invoke: CAB-cast: %v", err))
		}
		// The origin self-delivers its own CAB message rather than waiting
		// to receive it back over gossip (which never happens, since RB
		// only fans out to other nodes): this mirrors invoke()'s explicit
		// insert_into_tentative(r) for the operation side, which likewise
		// does not wait for r's own gossip round-trip.
		r.cabProto.Deliver(msg)
	}

	r.causal.Add(id)
	if err := r.broadcaster.Cast(req); err != nil {
		return InvokeResult{}, NewError(fmt.Sprintf("replica: invoke: RB-cast: %v", err))
	}

	r.awaiting[id] = make(chan struct{})

	before := len(r.log.Committed())
	r.log.InsertIntoTentative([]*request.Request{req})
	r.notifyCommitted(r.log.Committed()[before:])

	return InvokeResult{EventNo: r.seq, NodeID: r.id}, nil
}

// Gossip implements the §6 /gossip handler: dedup against DELIVERED, else
// re-enqueue for further epidemic forwarding and RB-deliver locally.
// Returns alreadyDelivered=true when req.ID had already been seen.
func (r *Replica) Gossip(req *request.Request) (alreadyDelivered bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.broadcaster.Delivered(req.ID) {
		return true, nil
	}
	if err := r.broadcaster.Cast(req); err != nil {
		return false, NewError(fmt.Sprintf("replica: gossip: %v", err))
	}
	r.rbDeliver(req)
	return false, nil
}

// rbDeliver implements RB-deliver(r) of §4.2: a self-originated echo is
// ignored; otherwise, if r's causal prerequisites are already satisfied, r
// and every transitively-released MISSING_CONTEXT_OPS entry are inserted
// into TENTATIVE, else r is buffered.
func (r *Replica) rbDeliver(req *request.Request) {
	if req.ID.Origin == r.id {
		return
	}
	if !r.causal.Ready(req) {
		r.causal.Buffer(req)
		return
	}
	ready := r.causal.Absorb(req)
	before := len(r.log.Committed())
	r.log.InsertIntoTentative(ready)
	r.notifyCommitted(r.log.Committed()[before:])
}

// GossipCAB implements the §6 /gossip-cab handler: dedup against
// DELIVERED_CAB, else re-enqueue and RB-deliver-msg locally.
func (r *Replica) GossipCAB(msg cab.Message) (alreadyDelivered bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.broadcaster.DeliveredCAB(msg.M) {
		return true, nil
	}
	if err := r.broadcaster.CastMessage(msg); err != nil {
		return false, NewError(fmt.Sprintf("replica: gossip-cab: %v", err))
	}
	r.cabProto.Deliver(msg)
	return false, nil
}

// TryProposeCAB attempts to start a propose round (§4.4 step 1) and, if
// one starts, disseminates the proposal on proposeQueue for
// internal/dispatch to broadcast to every other replica.
func (r *Replica) TryProposeCAB() (cab.Proposal, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prop, ok := r.cabProto.TryPropose(r.id)
	if !ok {
		return cab.Proposal{}, false, nil
	}
	if err := r.proposeQueue.Push(prop); err != nil {
		return prop, true, NewError(fmt.Sprintf("replica: propose-cab: %v", err))
	}
	return prop, true, nil
}

// ReceiveProposal records a peer's proposal (§8 invariant 4: at most one
// per server per round).
func (r *Replica) ReceiveProposal(prop cab.Proposal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cabProto.ReceiveProposal(prop)
}

// TryDecideCAB attempts to close the decide phase of the active round
// (§4.4 step 2) and disseminates the resulting decision on decideQueue.
func (r *Replica) TryDecideCAB() (cab.Decision, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	deps := r.dependenciesLocked()
	dec, ok := r.cabProto.TryDecide(r.id, cab.Quorum(r.peerCount), deps)
	if !ok {
		return cab.Decision{}, false, nil
	}
	if err := r.decideQueue.Push(dec); err != nil {
		return dec, true, NewError(fmt.Sprintf("replica: decide-cab: %v", err))
	}
	return dec, true, nil
}

// ReceiveDecision records a peer's decision.
func (r *Replica) ReceiveDecision(dec cab.Decision) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cabProto.ReceiveDecision(dec)
}

// TryApplyCAB attempts to close the apply phase of the active round (§4.4
// step 3) and, on success, drains every now-deliverable CAB message into
// commit(), mirroring the background CAB-deliver loop of §4.4.
func (r *Replica) TryApplyCAB() ([]oid.OID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	appended, ok := r.cabProto.TryApply(cab.Quorum(r.peerCount))
	if ok {
		r.drainDeliverable()
	}
	return appended, ok
}

// DrainDeliverable runs CAB-deliver independently of any particular apply
// phase closing: a predicate can flip from unsatisfied to satisfied purely
// because a missing prerequisite arrived later (e.g. its own RB-cast
// request finally landed in COMMITTED/TENTATIVE), with no new round ever
// applying. internal/dispatch ticks this on its own cadence, separately
// from the applier loop, so such messages don't wait on the next round's
// apply to be re-checked.
func (r *Replica) DrainDeliverable() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drainDeliverable()
}

// drainDeliverable implements CAB-deliver(m): while the head of
// ORDERED_MESSAGES is received and its predicate holds, pop it and commit
// the corresponding request.
func (r *Replica) drainDeliverable() {
	for {
		id, ok := r.cabProto.NextDeliverable()
		if !ok {
			return
		}
		deps := r.dependenciesLocked()
		if !r.cabProto.Satisfied(id, deps) {
			return
		}
		r.cabProto.PopDeliverable()

		req, ok := r.requestByID(id)
		if !ok {
			// Satisfied() confirmed Known(id), so this should not happen;
			// treat as a benign skip rather than a panic.
			continue
		}
		before := len(r.log.Committed())
		r.log.Commit(req)
		r.notifyCommitted(r.log.Committed()[before:])
	}
}

// dependenciesLocked builds the cab.Dependencies view of current replica
// state. Must be called with r.mu held.
func (r *Replica) dependenciesLocked() cab.Dependencies {
	return cab.Dependencies{
		Known: func(id oid.OID) (oid.Set, bool) {
			req, ok := r.requestByID(id)
			if !ok {
				return nil, false
			}
			return req.CausalCtx, true
		},
		CausalCtx: r.causal.Snapshot(),
	}
}

// requestByID scans COMMITTED then TENTATIVE for id with a linear scan
// rather than a second index kept in step with oplog.Log. COMMITTED is never
// trimmed, so the scan grows with the total history of committed requests.
func (r *Replica) requestByID(id oid.OID) (*request.Request, bool) {
	for _, req := range r.log.Committed() {
		if req.ID == id {
			return req, true
		}
	}
	for _, req := range r.log.Tentative() {
		if req.ID == id {
			return req, true
		}
	}
	return nil, false
}

// TickRollback pops and applies the next TO_BE_ROLLEDBACK entry, if any.
func (r *Replica) TickRollback() (*request.Request, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.log.PopRollback()
	if !ok {
		return nil, false
	}
	exec.Rollback(req, r.store)
	return req, true
}

// TickExecute applies the next TO_BE_EXECUTED entry, if any, provided
// TO_BE_ROLLEDBACK is empty (§5's execute-loop precondition). It does not
// touch REQUEST_AWAITING_RESP: the entry may still be tentative (executed
// speculatively), and awaiting slots are closed only by the commit paths.
func (r *Replica) TickExecute() (*request.Request, exec.Result, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.log.ToBeRolledBack()) > 0 {
		return nil, exec.Result{}, false
	}
	req, ok := r.log.PopExecute()
	if !ok {
		return nil, exec.Result{}, false
	}
	res, err := exec.Apply(req, r.store)
	if err != nil {
		r.logger.Errorf("exec: applying %s: %v", req.ID, err)
	}
	return req, res, true
}

// AwaitCommit returns a channel that closes once id is present in
// COMMITTED. If id is already committed, the returned channel is already
// closed. This is the in-process resolution of REQUEST_AWAITING_RESP: no
// long-poll or websocket contract for /invoke is defined, so fulfillment is
// only observable in-process; the tests are its only caller.
func (r *Replica) AwaitCommit(id oid.OID) <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.requestByIDIn(r.log.Committed(), id); ok {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	ch, ok := r.awaiting[id]
	if !ok {
		ch = make(chan struct{})
		r.awaiting[id] = ch
	}
	return ch
}

func (r *Replica) requestByIDIn(rs []*request.Request, id oid.OID) (*request.Request, bool) {
	for _, req := range rs {
		if req.ID == id {
			return req, true
		}
	}
	return nil, false
}

// notifyCommitted closes and clears the awaiting slot, if any, for every
// newly-committed request. COMMITTED only ever grows, so callers pass the
// suffix appended by the triggering call.
func (r *Replica) notifyCommitted(newlyCommitted []*request.Request) {
	for _, req := range newlyCommitted {
		if ch, ok := r.awaiting[req.ID]; ok {
			close(ch)
			delete(r.awaiting, req.ID)
		}
	}
}

// Status is a snapshot of every collection named in §3, for the §6 /status
// endpoint and the background status-printer loop of original_source's
// print_status.
type Status struct {
	NodeID            uint32         `json:"node_id"`
	Committed         int            `json:"committed"`
	Tentative         int            `json:"tentative"`
	Executed          int            `json:"executed"`
	ToBeExecuted      int            `json:"to_be_executed"`
	ToBeRolledBack    int            `json:"to_be_rolled_back"`
	CausalCtxSize     int            `json:"causal_ctx_size"`
	MissingContextOps int            `json:"missing_context_ops"`
	ConsensusK        uint64         `json:"consensus_k"`
	RoundActive       bool           `json:"round_active"`
	OrderedMessages   int            `json:"ordered_messages"`
	UnorderedMessages int            `json:"unordered_messages"`
	CommitCount       uint64         `json:"commit_count"`
	ExecuteCount      uint64         `json:"execute_count"`
	RollbackCount     uint64         `json:"rollback_count"`
	Store             map[string]any `json:"db"`
}

// Status returns a point-in-time snapshot of replica state.
func (r *Replica) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	commits, executes, rollbacks := r.log.Stats()
	return Status{
		NodeID:            r.id,
		Committed:         len(r.log.Committed()),
		Tentative:         len(r.log.Tentative()),
		Executed:          len(r.log.Executed()),
		ToBeExecuted:      len(r.log.ToBeExecuted()),
		ToBeRolledBack:    len(r.log.ToBeRolledBack()),
		CausalCtxSize:     len(r.causal.Snapshot()),
		MissingContextOps: len(r.causal.Missing()),
		ConsensusK:        r.cabProto.ConsensusK(),
		RoundActive:       r.cabProto.RoundActive(),
		OrderedMessages:   len(r.cabProto.OrderedMessages()),
		UnorderedMessages: len(r.cabProto.UnorderedMessages()),
		CommitCount:       commits,
		ExecuteCount:      executes,
		RollbackCount:     rollbacks,
		Store:             r.store.Snapshot(),
	}
}
