package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// field is the single Redis Streams field name each entry's JSON envelope
// is stored under.
const field = "envelope"

// RedisStreamClient implements StreamClient over go-redis/v9.
type RedisStreamClient struct {
	rdb *redis.Client
}

// NewRedisStreamClient dials redisURL (a redis:// connection string) and
// returns a StreamClient backed by it.
func NewRedisStreamClient(redisURL string) (*RedisStreamClient, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &RedisStreamClient{rdb: redis.NewClient(opts)}, nil
}

func (c *RedisStreamClient) EnsureGroup(ctx context.Context, streamKey, group string) error {
	err := c.rdb.XGroupCreateMkStream(ctx, streamKey, group, "0").Err()
	if err != nil && !isBusyGroup(err) {
		return fmt.Errorf("create consumer group %s on %s: %w", group, streamKey, err)
	}
	return nil
}

func (c *RedisStreamClient) Add(ctx context.Context, streamKey string, envelope map[string]interface{}) (string, error) {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return "", fmt.Errorf("marshal envelope: %w", err)
	}
	id, err := c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey,
		Values: map[string]interface{}{field: payload},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("XADD %s: %w", streamKey, err)
	}
	return id, nil
}

func (c *RedisStreamClient) ReadGroup(ctx context.Context, streamKey, group, consumer string, block time.Duration) ([]Entry, error) {
	res, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{streamKey, ">"},
		Count:    64,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("XREADGROUP %s: %w", streamKey, err)
	}

	var entries []Entry
	for _, stream := range res {
		for _, msg := range stream.Messages {
			raw, _ := msg.Values[field].(string)
			var envelope map[string]interface{}
			if err := json.Unmarshal([]byte(raw), &envelope); err != nil {
				continue
			}
			entries = append(entries, Entry{StreamKey: streamKey, ID: msg.ID, Envelope: envelope})
		}
	}
	return entries, nil
}

func (c *RedisStreamClient) Ack(ctx context.Context, streamKey, group, id string) error {
	if err := c.rdb.XAck(ctx, streamKey, group, id).Err(); err != nil {
		return fmt.Errorf("XACK %s %s: %w", streamKey, id, err)
	}
	return nil
}

func (c *RedisStreamClient) Close() error {
	return c.rdb.Close()
}

func isBusyGroup(err error) bool {
	return err != nil && strings.Contains(err.Error(), "BUSYGROUP")
}
