package dispatch

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"github.com/epochkv/epoch/internal/cab"
	"github.com/epochkv/epoch/internal/config"
	"github.com/epochkv/epoch/internal/logging"
	"github.com/epochkv/epoch/internal/queue"
	"github.com/epochkv/epoch/internal/replica"
	"github.com/epochkv/epoch/internal/request"
)

// idleDelay is how long the tight rollback/execute loops sleep when their
// queue is empty, matching original_source/application/main.py's
// `asyncio.sleep(0.001)` pacing between polls.
const idleDelay = time.Millisecond

// roundInterval paces the CAB propose/decide/apply tick loops: frequent
// enough that a round completes quickly once a quorum of inputs exists,
// infrequent enough not to spin the replica lock.
const roundInterval = 5 * time.Millisecond

// Dispatcher owns the outbound dissemination loops and the background
// drivers of the CAB round and the rollback/execute pipeline for one
// replica. Every loop is independently cancelled by ctx, matching the
// source's lifespan handler cancelling its four asyncio tasks together on
// shutdown.
type Dispatcher struct {
	rep *replica.Replica
	cfg config.Config

	client *Client

	opQueue      queue.Queue
	cabQueue     queue.Queue
	proposeQueue queue.Queue
	decideQueue  queue.Queue

	logger *logging.Logger
}

// New returns a Dispatcher for rep. The four queues must be the same
// instances passed to replica.New, so that pushes made under the replica
// lock are visible to the pop loops here.
func New(rep *replica.Replica, cfg config.Config, opQueue, cabQueue, proposeQueue, decideQueue queue.Queue) *Dispatcher {
	return &Dispatcher{
		rep:          rep,
		cfg:          cfg,
		client:       NewClient(),
		opQueue:      opQueue,
		cabQueue:     cabQueue,
		proposeQueue: proposeQueue,
		decideQueue:  decideQueue,
		logger:       logging.Get("dispatch"),
	}
}

// Run starts every background loop and blocks until ctx is cancelled, then
// waits for all loops to return.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	loops := []func(context.Context){
		d.gossipLoop,
		d.cabGossipLoop,
		d.proposeLoop,
		d.decideLoop,
		d.proposerLoop,
		d.deciderLoop,
		d.applierLoop,
		d.drainLoop,
		d.rollbackLoop,
		d.executeLoop,
	}
	for _, loop := range loops {
		wg.Add(1)
		go func(fn func(context.Context)) {
			defer wg.Done()
			fn(ctx)
		}(loop)
	}
	wg.Wait()
}

// gossipLoop drains the operation dissemination queue and fans each
// request out to GossipFanout randomly-selected peers (excluding self),
// matching gossiping()'s `random_sample_excluding(NO_NODES, K, node_id)`.
func (d *Dispatcher) gossipLoop(ctx context.Context) {
	for {
		raw, err := d.opQueue.Pop(ctx)
		if err != nil {
			return
		}
		var req request.Request
		if err := json.Unmarshal(raw, &req); err != nil {
			d.logger.Errorf("gossip: decoding queued request: %v", err)
			continue
		}
		for _, peer := range d.sampleFanoutPeers() {
			d.logger.Infof("sending gossip for %s to node %d", req.ID, peer)
			_ = d.client.Post(ctx, d.cfg.NodeAddress(peer), "/gossip", &req)
		}
	}
}

// cabGossipLoop is gossipLoop's counterpart for CAB messages.
func (d *Dispatcher) cabGossipLoop(ctx context.Context) {
	for {
		raw, err := d.cabQueue.Pop(ctx)
		if err != nil {
			return
		}
		var msg cab.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			d.logger.Errorf("gossip-cab: decoding queued message: %v", err)
			continue
		}
		for _, peer := range d.sampleFanoutPeers() {
			d.logger.Infof("sending gossip-cab for %s to node %d", msg.M, peer)
			_ = d.client.Post(ctx, d.cfg.NodeAddress(peer), "/gossip-cab", msg)
		}
	}
}

// proposeLoop drains the propose dissemination queue and broadcasts each
// proposal to every other replica in shuffled order, matching
// consensus.py's main loop over CONSENSUS_PROPOSAL_QUEUE.
func (d *Dispatcher) proposeLoop(ctx context.Context) {
	for {
		raw, err := d.proposeQueue.Pop(ctx)
		if err != nil {
			return
		}
		var prop cab.Proposal
		if err := json.Unmarshal(raw, &prop); err != nil {
			d.logger.Errorf("propose-cab: decoding queued proposal: %v", err)
			continue
		}
		for _, peer := range d.shuffledPeersExcludingSelf() {
			_ = d.client.Post(ctx, d.cfg.NodeAddress(peer), "/propose-cab", prop)
		}
	}
}

// decideLoop is proposeLoop's counterpart for decisions.
func (d *Dispatcher) decideLoop(ctx context.Context) {
	for {
		raw, err := d.decideQueue.Pop(ctx)
		if err != nil {
			return
		}
		var dec cab.Decision
		if err := json.Unmarshal(raw, &dec); err != nil {
			d.logger.Errorf("decide-cab: decoding queued decision: %v", err)
			continue
		}
		for _, peer := range d.shuffledPeersExcludingSelf() {
			_ = d.client.Post(ctx, d.cfg.NodeAddress(peer), "/decide-cab", dec)
		}
	}
}

// proposerLoop periodically attempts to start a CAB propose round.
func (d *Dispatcher) proposerLoop(ctx context.Context) {
	d.tick(ctx, func() {
		if _, ok, err := d.rep.TryProposeCAB(); err != nil {
			d.logger.Errorf("propose-cab: %v", err)
		} else if ok {
			d.logger.Debug("started a propose round")
		}
	})
}

// deciderLoop periodically attempts to close the decide phase.
func (d *Dispatcher) deciderLoop(ctx context.Context) {
	d.tick(ctx, func() {
		if _, ok, err := d.rep.TryDecideCAB(); err != nil {
			d.logger.Errorf("decide-cab: %v", err)
		} else if ok {
			d.logger.Debug("closed a decide phase")
		}
	})
}

// applierLoop periodically attempts to close the apply phase and drains
// CAB-deliver as an immediate side effect of a round just having applied.
func (d *Dispatcher) applierLoop(ctx context.Context) {
	d.tick(ctx, func() {
		d.rep.TryApplyCAB()
	})
}

// drainLoop periodically re-checks CAB-deliver on its own cadence,
// independently of whether an apply phase just closed: a predicate can
// become satisfied purely because a previously-missing dependency arrived,
// with no round applying at that moment, so this loop is the one that
// notices and commits it.
func (d *Dispatcher) drainLoop(ctx context.Context) {
	d.tick(ctx, func() {
		d.rep.DrainDeliverable()
	})
}

// rollbackLoop pops and undoes TO_BE_ROLLEDBACK entries as fast as they
// appear, matching the source's rollback() task.
func (d *Dispatcher) rollbackLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if _, ok := d.rep.TickRollback(); !ok {
			if !sleep(ctx, idleDelay) {
				return
			}
		}
	}
}

// executeLoop pops and applies TO_BE_EXECUTED entries, matching the
// source's execute() task. It runs at the same cadence as rollbackLoop so
// TO_BE_ROLLEDBACK is always drained first in practice, though TickExecute
// itself also enforces that ordering.
func (d *Dispatcher) executeLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if _, _, ok := d.rep.TickExecute(); !ok {
			if !sleep(ctx, idleDelay) {
				return
			}
		}
	}
}

func (d *Dispatcher) tick(ctx context.Context, fn func()) {
	ticker := time.NewTicker(roundInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

func (d *Dispatcher) sampleFanoutPeers() []uint32 {
	return randomSampleExcluding(d.cfg.NodeCount(), d.cfg.GossipFanout, d.cfg.NodeID)
}

func (d *Dispatcher) shuffledPeersExcludingSelf() []uint32 {
	peers := d.cfg.PeersExcludingSelf()
	rand.Shuffle(len(peers), func(i, j int) { peers[i], peers[j] = peers[j], peers[i] })
	return peers
}

// randomSampleExcluding returns k distinct indices drawn from [0,n)
// excluding exclude, matching server_helpers.py's random_sample_excluding.
// If k exceeds the number of eligible peers, every eligible peer is
// returned.
func randomSampleExcluding(n, k int, exclude uint32) []uint32 {
	population := make([]uint32, 0, n-1)
	for i := 0; i < n; i++ {
		if uint32(i) != exclude {
			population = append(population, uint32(i))
		}
	}
	rand.Shuffle(len(population), func(i, j int) { population[i], population[j] = population[j], population[i] })
	if k > len(population) {
		k = len(population)
	}
	return population[:k]
}

// sleep blocks for d or until ctx is cancelled, reporting false on
// cancellation so callers can exit their loop instead of looping once more.
func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
