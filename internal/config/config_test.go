package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/epochkv/epoch/internal/config"
)

func withEnv(t *testing.T, vars map[string]string, fn func()) {
	t.Helper()
	for k, v := range vars {
		t.Setenv(k, v)
	}
	fn()
}

func TestFromEnvRequiresNodeID(t *testing.T) {
	withEnv(t, map[string]string{"NODE_URLS": "a:1,b:1,c:1"}, func() {
		_, err := config.FromEnv()
		assert.Error(t, err)
	})
}

func TestFromEnvResolvesDefaults(t *testing.T) {
	withEnv(t, map[string]string{
		"NODE_URLS": "a:1,b:1,c:1",
		"NODE_ID":   "1",
	}, func() {
		cfg, err := config.FromEnv()
		require.NoError(t, err)
		assert.Equal(t, uint32(1), cfg.NodeID)
		assert.Equal(t, 3, cfg.NodeCount())
		assert.Equal(t, "localhost", cfg.RedisHost)
		assert.Equal(t, 6379, cfg.RedisPort)
		assert.Equal(t, 1, cfg.GossipFanout)
		assert.Equal(t, []uint32{0, 2}, cfg.PeersExcludingSelf())
		assert.Equal(t, "http://a:1", cfg.NodeAddress(0))
	})
}

func TestFromEnvRejectsOutOfRangeNodeID(t *testing.T) {
	withEnv(t, map[string]string{
		"NODE_URLS": "a:1,b:1",
		"NODE_ID":   "5",
	}, func() {
		_, err := config.FromEnv()
		assert.Error(t, err)
	})
}
