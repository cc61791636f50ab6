// Package config resolves process configuration from the environment,
// matching original_source/application/server_helpers.py's NODE_URLS/
// NODE_ID and redis_helpers.py's REDIS_HOST/REDIS_PORT, plus the handful of
// fields the Python original hardcoded (listen address, gossip fan-out,
// log level) that a deployable binary needs to expose.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config is the resolved process configuration for a single replica.
type Config struct {
	// NodeID is this replica's origin, the first element of every OID it
	// mints.
	NodeID uint32

	// PeerAddrs is indexed by node id: PeerAddrs[i] is the base URL other
	// replicas use to reach replica i, matching NODE_URLS.
	PeerAddrs []string

	// RedisHost / RedisPort address the shared queue backend.
	RedisHost string
	RedisPort int

	// HTTPAddr is the address the HTTP server listens on, e.g. ":8080".
	HTTPAddr string

	// GossipFanout is K in the source's random_sample_excluding(K, self):
	// the number of peers each gossip round pushes to. The source
	// hardcodes K=1; this is kept configurable since nothing about the
	// algorithm requires fan-out 1.
	GossipFanout int

	// LogLevel names the op/go-logging level (e.g. "INFO", "DEBUG").
	LogLevel string
}

// FromEnv resolves a Config from the process environment, matching the
// teacher's convention of failing fast on a missing required variable
// rather than silently defaulting NODE_ID.
func FromEnv() (Config, error) {
	urls := strings.Split(getEnv("NODE_URLS", "localhost:8080"), ",")

	nodeIDStr, ok := os.LookupEnv("NODE_ID")
	if !ok {
		return Config{}, fmt.Errorf("config: NODE_ID is required")
	}
	nodeID, err := strconv.ParseUint(nodeIDStr, 10, 32)
	if err != nil {
		return Config{}, fmt.Errorf("config: NODE_ID must be an unsigned integer: %w", err)
	}
	if int(nodeID) >= len(urls) {
		return Config{}, fmt.Errorf("config: NODE_ID %d out of range for %d NODE_URLS entries", nodeID, len(urls))
	}

	redisPort, err := strconv.Atoi(getEnv("REDIS_PORT", "6379"))
	if err != nil {
		return Config{}, fmt.Errorf("config: REDIS_PORT must be an integer: %w", err)
	}

	fanout, err := strconv.Atoi(getEnv("GOSSIP_FANOUT", "1"))
	if err != nil {
		return Config{}, fmt.Errorf("config: GOSSIP_FANOUT must be an integer: %w", err)
	}

	return Config{
		NodeID:       uint32(nodeID),
		PeerAddrs:    urls,
		RedisHost:    getEnv("REDIS_HOST", "localhost"),
		RedisPort:    redisPort,
		HTTPAddr:     getEnv("HTTP_ADDR", ":8080"),
		GossipFanout: fanout,
		LogLevel:     getEnv("LOG_LEVEL", "INFO"),
	}, nil
}

// NodeAddress returns the base URL for peer index, matching the source's
// get_node_address.
func (c Config) NodeAddress(index uint32) string {
	return fmt.Sprintf("http://%s", c.PeerAddrs[index])
}

// NodeCount returns the cluster size, NO_NODES in the source.
func (c Config) NodeCount() int {
	return len(c.PeerAddrs)
}

// PeersExcludingSelf returns every node index other than c.NodeID, matching
// get_node_ids_excluding.
func (c Config) PeersExcludingSelf() []uint32 {
	out := make([]uint32, 0, len(c.PeerAddrs)-1)
	for i := range c.PeerAddrs {
		if uint32(i) != c.NodeID {
			out = append(out, uint32(i))
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}
