package queue

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisQueue implements Queue against a real Redis instance using
// LPUSH/BRPOP, matching original_source/application/redis_helpers.py's
// r.rpop(QUEUE) polling loop (BRPOP is the blocking equivalent, avoiding
// gossiping.py's busy-poll).
type RedisQueue struct {
	client *redis.Client
	name   string
}

// NewRedisQueue returns a Queue backed by the given client and list key.
func NewRedisQueue(client *redis.Client, name string) *RedisQueue {
	return &RedisQueue{client: client, name: name}
}

// Push appends value, JSON-encoded, to the head of the Redis list (LPUSH),
// matching the push-left half of the §6 push-left/pop-right contract.
func (q *RedisQueue) Push(value any) error {
	data, err := encode(value)
	if err != nil {
		return err
	}
	if err := q.client.LPush(context.Background(), q.name, data).Err(); err != nil {
		return fmt.Errorf("queue: LPUSH %s: %w", q.name, err)
	}
	return nil
}

// Pop blocks (BRPOP) until an item is available at the tail of the list or
// ctx is cancelled.
func (q *RedisQueue) Pop(ctx context.Context) ([]byte, error) {
	result, err := q.client.BRPop(ctx, 0, q.name).Result()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("queue: BRPOP %s: %w", q.name, err)
	}
	// BRPOP returns [key, value]; Result()[0] is the key name.
	if len(result) < 2 {
		return nil, fmt.Errorf("queue: unexpected BRPOP reply for %s: %v", q.name, result)
	}
	return []byte(result[1]), nil
}

// Close is a no-op: RedisQueue instances share one redis.Client across the
// four named queues (see NewClient), so the client's lifecycle is owned
// and closed once by whoever constructed it, not by each Queue.
func (q *RedisQueue) Close() error {
	return nil
}

// NewClient builds a go-redis client for the given host/port, matching
// original_source/application/redis_helpers.py's get_redis_client (db 0).
func NewClient(host string, port int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr: fmt.Sprintf("%s:%d", host, port),
		DB:   0,
	})
}
