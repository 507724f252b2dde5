package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/agentwire-protocol/agentwire/internal/envelope"
)

// RedisHistory mirrors the in-memory envelope history into Redis so that the
// inspection log survives restarts. Entries live in a sorted set scored by
// timestamp and obey the same 24h retention window as the in-memory log.
type RedisHistory struct {
	client *redis.Client
	agent  string
}

// NewRedisHistory connects to Redis and scopes keys to the given agent
// address.
func NewRedisHistory(ctx context.Context, redisURL, agentAddress string) (*RedisHistory, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisHistory{client: client, agent: agentAddress}, nil
}

// Close closes the Redis connection.
func (h *RedisHistory) Close() error {
	return h.client.Close()
}

// key returns the sorted-set key for this agent's history.
func (h *RedisHistory) key() string {
	return fmt.Sprintf("agent:%s:history", h.agent)
}

// Add records entry and prunes everything outside the retention window.
func (h *RedisHistory) Add(ctx context.Context, entry envelope.HistoryEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	key := h.key()
	pipe := h.client.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(entry.Timestamp), Member: data})
	cutoff := time.Now().Add(-envelope.Retention).Unix()
	pipe.ZRemRangeByScore(ctx, key, "-inf", "("+strconv.FormatInt(cutoff, 10))
	pipe.Expire(ctx, key, envelope.Retention)
	_, err = pipe.Exec(ctx)
	return err
}

// Entries returns the retained entries in timestamp order.
func (h *RedisHistory) Entries(ctx context.Context) ([]envelope.HistoryEntry, error) {
	raw, err := h.client.ZRangeByScore(ctx, h.key(), &redis.ZRangeBy{Min: "-inf", Max: "+inf"}).Result()
	if err != nil {
		return nil, err
	}

	entries := make([]envelope.HistoryEntry, 0, len(raw))
	for _, member := range raw {
		var entry envelope.HistoryEntry
		if err := json.Unmarshal([]byte(member), &entry); err != nil {
			continue // skip corrupt members rather than failing the read
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
