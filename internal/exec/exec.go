// Package exec implements the per-request steps of §5's execution pipeline:
// applying a request to the key/value state machine, reporting the result
// GET/PUT produces, and undoing a request. The ordering (TO_BE_ROLLEDBACK
// drained before TO_BE_EXECUTED) is enforced by internal/replica's
// TickExecute, not here.
//
// Grounded on src/store/redis.go's dispatch-by-command-name shape
// (Redis.Get/Set/…, looked up from a parsed command), generalized to the two
// operation kinds request.Operation carries.
package exec

import (
	"fmt"

	"github.com/epochkv/epoch/internal/request"
	"github.com/epochkv/epoch/internal/state"
)

// Result is what an applied request produced, returned to the caller by
// internal/replica's TickExecute.
type Result struct {
	Value any
	Found bool
}

// Apply executes r against store per §4.5's application semantics: GET reads
// without side effect, PUT writes and records an undo entry keyed by r.ID so
// a later reordering can call Rollback(r.ID). Returns an error only for an
// operation kind outside the closed {GET, PUT} set, which cannot arise from
// a request built through request.NewGet/NewPut or decoded off the wire.
func Apply(r *request.Request, store *state.Store) (Result, error) {
	switch r.Op.Kind {
	case request.KindGet:
		v, ok := store.Get(r.Op.Key)
		if !ok {
			return Result{}, nil
		}
		return Result{Value: v.Data, Found: true}, nil
	case request.KindPut:
		store.Put(r.ID, r.Op.Key, r.Op.Value, r.Ts)
		return Result{Value: "OK", Found: true}, nil
	default:
		return Result{}, fmt.Errorf("exec: unknown operation kind %q", r.Op.Kind)
	}
}

// Rollback undoes r's effect on store. A no-op for GET (and for any PUT that
// was never applied, e.g. one still sitting in TO_BE_EXECUTED), since
// state.Store.Rollback is itself a no-op for an id with no undo entry.
func Rollback(r *request.Request, store *state.Store) {
	store.Rollback(r.ID)
}
