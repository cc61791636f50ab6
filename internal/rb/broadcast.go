// Package rb implements the reliable-broadcast primitives of §4.2/§4.4: an
// idempotent, best-effort gossip of two payload kinds (operation and CAB
// message), deduplicated via DELIVERED/DELIVERED_CAB.
//
// Grounded on original_source/application/gossiping.py (RB_cast enqueues to
// a buffer, drained by an outbound dispatcher) and src/cluster's Cluster
// dissemination plumbing (a queue decouples the lock-holding handler from
// the network-facing worker).
package rb

import (
	"github.com/epochkv/epoch/internal/cab"
	"github.com/epochkv/epoch/internal/oid"
	"github.com/epochkv/epoch/internal/queue"
	"github.com/epochkv/epoch/internal/request"
)

// Broadcaster owns DELIVERED and DELIVERED_CAB and pushes payloads onto the
// outbound dissemination queues. It performs no locking of its own; callers
// serialize access under the replica-wide lock.
type Broadcaster struct {
	delivered    oid.Set
	deliveredCAB oid.Set

	opQueue  queue.Queue
	cabQueue queue.Queue
}

// New returns a Broadcaster that disseminates operations on opQueue and CAB
// messages on cabQueue.
func New(opQueue, cabQueue queue.Queue) *Broadcaster {
	return &Broadcaster{
		delivered:    oid.Set{},
		deliveredCAB: oid.Set{},
		opQueue:      opQueue,
		cabQueue:     cabQueue,
	}
}

// Delivered reports whether r.id has already been RB-cast or RB-delivered
// at this replica (operation channel).
func (b *Broadcaster) Delivered(id oid.OID) bool { return b.delivered.Has(id) }

// DeliveredCAB reports whether m has already been CAB-cast or delivered at
// this replica (CAB-message channel).
func (b *Broadcaster) DeliveredCAB(id oid.OID) bool { return b.deliveredCAB.Has(id) }

// Cast implements RB-cast(r): enqueue r on the operation dissemination
// queue and record r.id as delivered at origin.
func (b *Broadcaster) Cast(r *request.Request) error {
	b.delivered.Add(r.ID)
	return b.opQueue.Push(r)
}

// MarkDelivered records id as delivered without enqueuing anything. The
// /gossip path (replica.Gossip) does not use it: it calls Cast, which both
// records delivery and re-enqueues the request for further forwarding.
func (b *Broadcaster) MarkDelivered(id oid.OID) { b.delivered.Add(id) }

// MarkDeliveredCAB is MarkDelivered's counterpart for the CAB channel.
func (b *Broadcaster) MarkDeliveredCAB(id oid.OID) { b.deliveredCAB.Add(id) }

// CastMessage implements CAB-cast(m, q): disseminate the pair via the CAB
// gossip channel and record m as delivered at origin.
func (b *Broadcaster) CastMessage(m cab.Message) error {
	b.deliveredCAB.Add(m.M)
	return b.cabQueue.Push(m)
}
