package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueue keeps tasks in a Redis Stream read through a consumer group.
// Messages stay pending until acked, so a crashed worker's tasks are
// picked up again on restart.
type RedisQueue struct {
	client   *redis.Client
	stream   string
	group    string
	consumer string
	block    time.Duration

	groupOnce sync.Once
	groupErr  error
}

func NewRedisClient(addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return client, nil
}

func NewRedisQueue(client *redis.Client, stream, group, consumer string) *RedisQueue {
	return &RedisQueue{
		client:   client,
		stream:   stream,
		group:    group,
		consumer: consumer,
		block:    2 * time.Second,
	}
}

func (q *RedisQueue) Enqueue(ctx context.Context, task Task) error {
	values, err := encodeTask(task)
	if err != nil {
		return err
	}
	if err := q.client.XAdd(ctx, &redis.XAddArgs{Stream: q.stream, Values: values}).Err(); err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	return nil
}

// Receive returns this consumer's unacked messages first, then blocks for new ones.
func (q *RedisQueue) Receive(ctx context.Context) ([]Task, error) {
	if err := q.ensureGroup(ctx); err != nil {
		return nil, err
	}

	for {
		msgs, err := q.readGroup(ctx, "0", -1)
		if err != nil {
			return nil, err
		}
		if len(msgs) == 0 {
			msgs, err = q.readGroup(ctx, ">", q.block)
			if err != nil {
				return nil, err
			}
		}
		if len(msgs) > 0 {
			return q.decode(ctx, msgs)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
}

func (q *RedisQueue) Ack(ctx context.Context, task Task) error {
	pipe := q.client.TxPipeline()
	pipe.XAck(ctx, q.stream, q.group, task.ID)
	pipe.XDel(ctx, q.stream, task.ID)
	_, err := pipe.Exec(ctx)
	return err
}

func (q *RedisQueue) ensureGroup(ctx context.Context) error {
	q.groupOnce.Do(func() {
		err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			q.groupErr = fmt.Errorf("failed to create consumer group: %w", err)
		}
	})
	return q.groupErr
}

// block < 0 means do not block.
func (q *RedisQueue) readGroup(ctx context.Context, id string, block time.Duration) ([]redis.XMessage, error) {
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: q.consumer,
		Streams:  []string{q.stream, id},
		Count:    16,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]redis.XMessage, 0, 16)
	for _, s := range streams {
		out = append(out, s.Messages...)
	}
	return out, nil
}

// decode drops malformed messages so they cannot block the stream.
func (q *RedisQueue) decode(ctx context.Context, msgs []redis.XMessage) ([]Task, error) {
	out := make([]Task, 0, len(msgs))
	for _, m := range msgs {
		task, err := decodeTask(m.ID, m.Values)
		if err != nil {
			if ackErr := q.Ack(ctx, Task{ID: m.ID}); ackErr != nil {
				return nil, fmt.Errorf("malformed task %s: %v, ack failed: %w", m.ID, err, ackErr)
			}
			continue
		}
		out = append(out, task)
	}
	return out, nil
}

func encodeTask(task Task) (map[string]interface{}, error) {
	payload, err := json.Marshal(task.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode task payload: %w", err)
	}
	enqueuedAt := task.EnqueuedAt
	if enqueuedAt.IsZero() {
		enqueuedAt = time.Now().UTC()
	}
	values := map[string]interface{}{
		"type":        task.Type,
		"key":         task.Key,
		"payload":     string(payload),
		"attempt":     strconv.Itoa(task.Attempt),
		"enqueued_at": enqueuedAt.Format(time.RFC3339Nano),
	}
	if !task.NotBefore.IsZero() {
		values["not_before"] = task.NotBefore.UTC().Format(time.RFC3339Nano)
	}
	return values, nil
}

func decodeTask(id string, values map[string]interface{}) (Task, error) {
	task := Task{ID: id}

	var err error
	if task.Type, err = streamString(values, "type"); err != nil {
		return Task{}, err
	}
	if task.Type == "" {
		return Task{}, fmt.Errorf("empty task type")
	}
	task.Key, _ = streamString(values, "key")

	if raw, err := streamString(values, "payload"); err == nil && raw != "" && raw != "null" {
		if err := json.Unmarshal([]byte(raw), &task.Payload); err != nil {
			return Task{}, fmt.Errorf("invalid payload: %w", err)
		}
	}
	if raw, err := streamString(values, "attempt"); err == nil && raw != "" {
		if task.Attempt, err = strconv.Atoi(raw); err != nil {
			return Task{}, fmt.Errorf("invalid attempt %q", raw)
		}
	}
	if raw, err := streamString(values, "enqueued_at"); err == nil && raw != "" {
		task.EnqueuedAt, _ = time.Parse(time.RFC3339Nano, raw)
	}
	if raw, err := streamString(values, "not_before"); err == nil && raw != "" {
		task.NotBefore, _ = time.Parse(time.RFC3339Nano, raw)
	}
	return task, nil
}

func streamString(values map[string]interface{}, key string) (string, error) {
	v, ok := values[key]
	if !ok {
		return "", fmt.Errorf("missing field %s", key)
	}
	switch x := v.(type) {
	case string:
		return x, nil
	case []byte:
		return string(x), nil
	default:
		return fmt.Sprint(x), nil
	}
}
