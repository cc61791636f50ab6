package dispatch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandomSampleExcludingNeverReturnsExcluded(t *testing.T) {
	for i := 0; i < 50; i++ {
		sample := randomSampleExcluding(5, 2, 3)
		assert.Len(t, sample, 2)
		for _, peer := range sample {
			assert.NotEqual(t, uint32(3), peer)
		}
	}
}

func TestRandomSampleExcludingClampsToPopulationSize(t *testing.T) {
	sample := randomSampleExcluding(2, 5, 0)
	assert.Len(t, sample, 1)
	assert.Equal(t, uint32(1), sample[0])
}

func TestClientPostSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient()
	err := c.Post(context.Background(), srv.URL, "/gossip", map[string]int{"a": 1})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestClientPostRetriesThenGivesUp(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient()
	err := c.Post(context.Background(), srv.URL, "/gossip", map[string]int{"a": 1})
	require.NoError(t, err) // best-effort: no error surfaces to the caller
	assert.Equal(t, maxAttempts, calls)
}

func TestClientPostRecoversOnSecondAttempt(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient()
	err := c.Post(context.Background(), srv.URL, "/gossip", map[string]int{"a": 1})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestSleepReturnsFalseOnCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, sleep(ctx, time.Second))
}
