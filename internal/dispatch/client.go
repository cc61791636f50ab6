// Package dispatch implements the outbound half of §6's wire contract: the
// HTTP client that disseminates gossip, CAB messages, proposals and
// decisions to peers, and the background loops that drain
// internal/queue.Queue and drive internal/replica's CAB round and
// execution ticks.
//
// Grounded on original_source/application/{gossiping,consensus}.py's
// send_gossip/send_message_gossip/send_proposal, widened per §5's explicit
// "retry twice, three attempts total" to one attempt beyond the source's own
// retry count: POST JSON, retry with no backoff, log and give up on
// exhaustion rather than erroring the caller — dissemination is best-effort,
// RB/CAB delivery is idempotent at the receiver.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/epochkv/epoch/internal/logging"
)

const (
	maxAttempts = 3
	// clientTimeout bounds a single POST attempt; the original's
	// `requests.post` call has no explicit timeout, but an unbounded HTTP
	// call would let one unreachable peer stall an entire gossip round.
	clientTimeout = 2 * time.Second
)

// Client POSTs JSON payloads to peer replicas, retrying transient failures.
type Client struct {
	http *http.Client
	log  *logging.Logger
}

// NewClient returns a Client with a bounded per-request timeout.
func NewClient() *Client {
	return &Client{
		http: &http.Client{Timeout: clientTimeout},
		log:  logging.Get("dispatch"),
	}
}

// Post sends value as a JSON body to path on baseURL, making up to
// maxAttempts attempts in total with no backoff between them. It logs and returns
// nil on exhaustion rather than propagating the error, matching the
// source's "log and move on" dissemination loop — a gossip round must not
// block on one unreachable peer.
func (c *Client) Post(ctx context.Context, baseURL, path string, value any) error {
	body, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("dispatch: encoding payload for %s: %w", path, err)
	}

	url := baseURL + path
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("dispatch: building request for %s: %w", url, err)
		}
		req.Header.Set("Content-Type", "application/json")

		c.log.Debugf("attempt %d sending to %s", attempt, url)
		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			c.log.Infof("attempt %d to %s failed: %v", attempt, url, err)
			continue
		}
		resp.Body.Close()
		if resp.StatusCode >= 300 {
			lastErr = fmt.Errorf("dispatch: %s replied %d", url, resp.StatusCode)
			c.log.Infof("attempt %d to %s failed: %v", attempt, url, lastErr)
			continue
		}
		return nil
	}

	c.log.Infof("gave up sending to %s after %d attempts: %v", url, maxAttempts, lastErr)
	return nil
}
