// Package queue defines the queue substrate contract of §6: four
// persistent append/pop FIFOs (operation-out, cab-out, propose-out,
// decide-out) with push-left/pop-right semantics, decoupling the
// replica-lock-holding handlers from the outbound HTTP dispatchers of
// internal/dispatch.
//
// The core only depends on the Queue interface; Redis (go-redis/v9) is one
// concrete backend, wired in redis.go, and an in-memory channel-backed
// backend (mem.go) lets the core be exercised without a live Redis.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
)

// Names of the four queues the core needs, matching
// original_source/application/redis_helpers.py's BUFFER_QUEUE,
// CAB_BUFFER_QUEUE, CONSENSUS_PROPOSAL_QUEUE and CONSENSUS_DECISION_QUEUE.
const (
	OperationQueue = "buffer_queue"
	CABQueue       = "msg_buffer_queue"
	ProposeQueue   = "consensus_proposal_queue"
	DecideQueue    = "consensus_decision_queue"
)

// Queue is a single named FIFO with push-left/pop-right semantics: Push
// appends a new item; Pop removes and returns the oldest pending item.
type Queue interface {
	// Push enqueues value, marshaled to JSON, onto the tail of the queue.
	Push(value any) error

	// Pop blocks until an item is available or ctx is done, then removes
	// and returns its raw JSON bytes. Pop returns ctx.Err() on
	// cancellation.
	Pop(ctx context.Context) ([]byte, error)

	// Close releases any resources held by the queue.
	Close() error
}

func encode(value any) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("queue: encoding payload: %w", err)
	}
	return data, nil
}
