// Package oplog implements the operation log manager of §4.3/§4.4: the
// COMMITTED/TENTATIVE ordering, the EXECUTED/TO_BE_EXECUTED/TO_BE_ROLLEDBACK
// derivation against the live application state, and commit promotion.
//
// Grounded on src/consensus/scope.go, which owns an analogous set of
// per-scope instance collections (instances/inProgress/committed/executed)
// behind one sync.RWMutex plus stat counters; this package keeps that "one
// struct owns its collections and its lock" shape but replaces EPaxos's
// ballot-driven instance states with a tentative/committed scheduler.
package oplog

import (
	"github.com/epochkv/epoch/internal/oid"
	"github.com/epochkv/epoch/internal/request"
)

// Log owns COMMITTED, TENTATIVE, EXECUTED, TO_BE_EXECUTED and
// TO_BE_ROLLEDBACK. It performs no locking of its own: internal/replica
// serializes every call under the replica-wide mutex per §5.
type Log struct {
	committed []*request.Request
	tentative []*request.Request

	executed      []*request.Request
	toBeExecuted  []*request.Request
	toBeRolledBack []*request.Request

	// statCommitCount / statExecuteCount mirror Scope.statCommitCount /
	// Scope.statExecuteCount's running counters, used by the status
	// reporter.
	statCommitCount  uint64
	statExecuteCount uint64
	statRollbackCount uint64
}

// New returns an empty Log.
func New() *Log {
	return &Log{}
}

// Committed returns the current COMMITTED prefix. Callers must not mutate
// the returned slice.
func (l *Log) Committed() []*request.Request { return l.committed }

// Tentative returns the current TENTATIVE suffix. Callers must not mutate
// the returned slice.
func (l *Log) Tentative() []*request.Request { return l.tentative }

// Executed returns the current EXECUTED prefix.
func (l *Log) Executed() []*request.Request { return l.executed }

// ToBeExecuted returns the current TO_BE_EXECUTED queue.
func (l *Log) ToBeExecuted() []*request.Request { return l.toBeExecuted }

// ToBeRolledBack returns the current TO_BE_ROLLEDBACK stack (already in
// undo order: most-recently-executed first).
func (l *Log) ToBeRolledBack() []*request.Request { return l.toBeRolledBack }

// Stats returns the running commit/execute/rollback counters.
func (l *Log) Stats() (commits, executes, rollbacks uint64) {
	return l.statCommitCount, l.statExecuteCount, l.statRollbackCount
}

// newOrder is COMMITTED ++ TENTATIVE, the order adjust_execution compares
// EXECUTED against.
func (l *Log) newOrder() []*request.Request {
	out := make([]*request.Request, 0, len(l.committed)+len(l.tentative))
	out = append(out, l.committed...)
	out = append(out, l.tentative...)
	return out
}

// InsertIntoTentative implements §4.3's insert_into_tentative: each request
// in ready is inserted into TENTATIVE keeping the < sort order, then the
// EXECUTED/TO_BE_EXECUTED/TO_BE_ROLLEDBACK derivation is recomputed.
func (l *Log) InsertIntoTentative(ready []*request.Request) {
	for _, r := range ready {
		l.insertOne(r)
	}
	l.promoteReady()
	l.adjustExecution()
}

// insertOne splits TENTATIVE into {x | x < r} and {x | r < x}, re-forming
// as prev ++ [r] ++ next. Elements equal under < (same id; duplicates
// cannot occur per §3) are excluded from both sides and therefore retained
// in their original position, a stable tie-break.
func (l *Log) insertOne(r *request.Request) {
	prev := make([]*request.Request, 0, len(l.tentative))
	next := make([]*request.Request, 0, len(l.tentative))
	for _, x := range l.tentative {
		switch {
		case x.Less(r):
			prev = append(prev, x)
		case r.Less(x):
			next = append(next, x)
		default:
			// equal under <: same id, cannot legitimately occur twice;
			// keep it wherever it already was relative to the others by
			// leaving it out of this insertion (it is neither shifted
			// left nor right).
			if x.ID == r.ID {
				return
			}
			prev = append(prev, x)
		}
	}
	merged := make([]*request.Request, 0, len(prev)+1+len(next))
	merged = append(merged, prev...)
	merged = append(merged, r)
	merged = append(merged, next...)
	l.tentative = merged
}

// promoteReady commits the longest prefix of TENTATIVE that is already
// causally satisfied by what precedes it in newOrder() — the weak-op
// commit rule of SPEC_FULL.md §4.4: "a weak op commits as soon as it
// reaches the head of TENTATIVE and its causal_ctx is already a subset of
// the ids preceding it". Strong ops are never promoted here; they commit
// only via Commit (the CAB apply path).
func (l *Log) promoteReady() {
	for {
		if len(l.tentative) == 0 {
			return
		}
		head := l.tentative[0]
		if head.StrongOp {
			return
		}
		preceding := idsOf(l.committed)
		if !head.CausalCtx.Subset(preceding) {
			return
		}
		l.committed = append(l.committed, head)
		l.tentative = l.tentative[1:]
		l.statCommitCount++
	}
}

// Commit implements §4.4's commit(r): promotes r from TENTATIVE to
// COMMITTED together with every tentative op dominated by r's causal
// context (x.causal_ctx ⊆ r.causal_ctx), ordered by their current
// TENTATIVE position, followed by r itself.
func (l *Log) Commit(r *request.Request) {
	idx := indexOf(l.tentative, r.ID)
	if idx < 0 {
		// already committed (e.g. promoted as part of a dominated batch,
		// or a duplicate CAB-deliver); idempotent no-op.
		return
	}

	var dominated []*request.Request
	var remaining []*request.Request
	for i, x := range l.tentative {
		if i == idx {
			continue
		}
		if x.CausalCtx.Subset(r.CausalCtx) {
			dominated = append(dominated, x)
		} else {
			remaining = append(remaining, x)
		}
	}

	l.committed = append(l.committed, dominated...)
	l.committed = append(l.committed, r)
	l.tentative = remaining
	l.statCommitCount += uint64(1 + len(dominated))

	l.promoteReady()
	l.adjustExecution()
}

// adjustExecution recomputes EXECUTED/TO_BE_EXECUTED/TO_BE_ROLLEDBACK
// against newOrder() per §4.3: EXECUTED shrinks to the longest common
// prefix with newOrder(), anything beyond that is queued for rollback in
// reverse, and anything in newOrder() not in the (shrunk) EXECUTED is
// queued for execution.
func (l *Log) adjustExecution() {
	order := l.newOrder()

	commonLen := 0
	for commonLen < len(l.executed) && commonLen < len(order) {
		if l.executed[commonLen].ID != order[commonLen].ID {
			break
		}
		commonLen++
	}

	outOfOrder := l.executed[commonLen:]
	l.toBeRolledBack = reversed(outOfOrder)
	l.executed = l.executed[:commonLen]

	executedIDs := idsOf(l.executed)
	toExec := make([]*request.Request, 0, len(order)-commonLen)
	for _, r := range order {
		if !executedIDs.Has(r.ID) {
			toExec = append(toExec, r)
		}
	}
	l.toBeExecuted = toExec
}

// PopRollback removes and returns the next operation to undo, in the order
// the execute pipeline should apply rollbacks (reverse-of-execution order).
// Reports false when TO_BE_ROLLEDBACK is empty.
func (l *Log) PopRollback() (*request.Request, bool) {
	if len(l.toBeRolledBack) == 0 {
		return nil, false
	}
	r := l.toBeRolledBack[0]
	l.toBeRolledBack = l.toBeRolledBack[1:]
	l.statRollbackCount++
	return r, true
}

// PopExecute removes and returns the next operation to execute. It must
// only be called when ToBeRolledBack() is empty, per §5's execute-loop
// precondition.
func (l *Log) PopExecute() (*request.Request, bool) {
	if len(l.toBeExecuted) == 0 {
		return nil, false
	}
	r := l.toBeExecuted[0]
	l.toBeExecuted = l.toBeExecuted[1:]
	l.executed = append(l.executed, r)
	l.statExecuteCount++
	return r, true
}

func idsOf(rs []*request.Request) oid.Set {
	s := make(oid.Set, len(rs))
	for _, r := range rs {
		s.Add(r.ID)
	}
	return s
}

func indexOf(rs []*request.Request, id oid.OID) int {
	for i, r := range rs {
		if r.ID == id {
			return i
		}
	}
	return -1
}

func reversed(rs []*request.Request) []*request.Request {
	out := make([]*request.Request, len(rs))
	for i, r := range rs {
		out[len(rs)-1-i] = r
	}
	return out
}
