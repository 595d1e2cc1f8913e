// Package bus moves pipeline events between stages over Redis. Each stage
// queue is a Redis list carrying a JSON envelope; every publish additionally
// fans out on a pub/sub channel named by the routing key so external
// consumers can pattern-subscribe to the topics they care about.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const popBlockInterval = 5 * time.Second

// Delivery is one message taken off a stage queue.
type Delivery struct {
	RoutingKey string          `json:"routing_key"`
	Body       json.RawMessage `json:"body"`
}

// Publisher delivers a message under a routing key.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, body []byte) error
}

// Consumer blocks until the next message of a stage queue arrives.
type Consumer interface {
	Receive(ctx context.Context) (Delivery, error)
}

// RedisQueue is one stage queue. It implements both ends so a stage can
// consume its inbound queue and publish to the next one.
type RedisQueue struct {
	client *redis.Client
	key    string
}

func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	return &RedisQueue{client: client, key: key}
}

func (q *RedisQueue) Publish(ctx context.Context, routingKey string, body []byte) error {
	envelope, err := json.Marshal(Delivery{RoutingKey: routingKey, Body: body})
	if err != nil {
		return fmt.Errorf("bus: marshal envelope: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.RPush(ctx, q.key, envelope)
	pipe.Publish(ctx, routingKey, body)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("bus: publish to %s: %w", q.key, err)
	}
	return nil
}

// Receive pops the next envelope, blocking until one arrives or ctx is done.
func (q *RedisQueue) Receive(ctx context.Context) (Delivery, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Delivery{}, err
		}

		res, err := q.client.BLPop(ctx, popBlockInterval, q.key).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return Delivery{}, fmt.Errorf("bus: pop from %s: %w", q.key, err)
		}
		if len(res) != 2 {
			continue
		}

		var delivery Delivery
		if err := json.Unmarshal([]byte(res[1]), &delivery); err != nil {
			return Delivery{}, fmt.Errorf("bus: decode envelope from %s: %w", q.key, err)
		}
		return delivery, nil
	}
}

// Depth reports how many messages are waiting on the queue.
func (q *RedisQueue) Depth(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}
