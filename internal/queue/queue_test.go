package queue_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/epochkv/epoch/internal/oid"
	"github.com/epochkv/epoch/internal/queue"
	"github.com/epochkv/epoch/internal/request"
)

func TestMemQueuePushPopRoundtrip(t *testing.T) {
	q := queue.NewMemQueue(4)
	r := request.New(1, oid.New(0, 1), request.NewPut("x", float64(1)), false, nil)

	require.NoError(t, q.Push(r))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	data, err := q.Pop(ctx)
	require.NoError(t, err)

	want, err := json.Marshal(r)
	require.NoError(t, err)
	assert.JSONEq(t, string(want), string(data))
}

func TestMemQueuePopBlocksUntilCancelled(t *testing.T) {
	q := queue.NewMemQueue(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Pop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemQueueFIFOOrder(t *testing.T) {
	q := queue.NewMemQueue(4)
	require.NoError(t, q.Push("first"))
	require.NoError(t, q.Push("second"))

	ctx := context.Background()
	first, err := q.Pop(ctx)
	require.NoError(t, err)
	second, err := q.Pop(ctx)
	require.NoError(t, err)

	assert.JSONEq(t, `"first"`, string(first))
	assert.JSONEq(t, `"second"`, string(second))
}
