package redisstore

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/idanlevi/captionflow/internal/idempotency"
)

// Lua keeps begin/complete atomic on the Redis side, which is what lets a
// multi-replica deployment share one idempotency namespace.
var beginScript = redis.NewScript(`
local key = KEYS[1]
local fingerprint = ARGV[1]
local ttl_ms = ARGV[2]
local now_ms = ARGV[3]

if redis.call("EXISTS", key) == 0 then
  redis.call("HSET", key, "fingerprint", fingerprint, "status", "pending", "updated_ms", now_ms)
  redis.call("PEXPIRE", key, ttl_ms)
  return {"new"}
end

local existing_fp = redis.call("HGET", key, "fingerprint")
if existing_fp ~= fingerprint then
  return {"conflict"}
end

local status = redis.call("HGET", key, "status")
if status == "completed" then
  return {"replay", redis.call("HGET", key, "result") or ""}
end
if status == "failed" then
  redis.call("HSET", key, "status", "pending", "updated_ms", now_ms)
  redis.call("PEXPIRE", key, ttl_ms)
  return {"new"}
end

return {"in_progress"}
`)

var completeScript = redis.NewScript(`
local key = KEYS[1]
local fingerprint = ARGV[1]
local ttl_ms = ARGV[2]
local result = ARGV[3]
local now_ms = ARGV[4]

if redis.call("EXISTS", key) == 0 then
  return 0
end
if redis.call("HGET", key, "fingerprint") ~= fingerprint then
  return -1
end

redis.call("HSET", key, "status", "completed", "result", result, "updated_ms", now_ms)
redis.call("PEXPIRE", key, ttl_ms)
return 1
`)

var failScript = redis.NewScript(`
local key = KEYS[1]
local fingerprint = ARGV[1]
local now_ms = ARGV[2]

if redis.call("EXISTS", key) == 0 then
  return 0
end
if redis.call("HGET", key, "fingerprint") ~= fingerprint then
  return -1
end

redis.call("HSET", key, "status", "failed", "updated_ms", now_ms)
return 1
`)

type Store struct {
	client redis.UniversalClient
	prefix string
}

func NewStore(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "idem"
	}
	return &Store{client: client, prefix: prefix}
}

func (s *Store) redisKey(key string) string {
	return fmt.Sprintf("%s:%s", s.prefix, key)
}

func (s *Store) Begin(ctx context.Context, key, fingerprint string, ttl time.Duration) (idempotency.BeginResult, error) {
	raw, err := beginScript.Run(
		ctx,
		s.client,
		[]string{s.redisKey(key)},
		fingerprint,
		int(ttl/time.Millisecond),
		time.Now().UnixMilli(),
	).Result()
	if err != nil {
		return idempotency.BeginResult{}, err
	}

	values, ok := raw.([]interface{})
	if !ok || len(values) == 0 {
		return idempotency.BeginResult{}, fmt.Errorf("unexpected redis begin result type")
	}

	switch state := asString(values[0]); state {
	case "new":
		return idempotency.BeginResult{State: idempotency.StateNew}, nil
	case "conflict":
		return idempotency.BeginResult{State: idempotency.StateConflict}, nil
	case "in_progress":
		return idempotency.BeginResult{State: idempotency.StateInProgress}, nil
	case "replay":
		if len(values) < 2 {
			return idempotency.BeginResult{}, fmt.Errorf("unexpected replay payload")
		}
		decoded, decodeErr := base64.StdEncoding.DecodeString(asString(values[1]))
		if decodeErr != nil {
			return idempotency.BeginResult{}, fmt.Errorf("decode replay result: %w", decodeErr)
		}
		return idempotency.BeginResult{State: idempotency.StateReplay, Result: decoded}, nil
	default:
		return idempotency.BeginResult{}, fmt.Errorf("unknown idempotency state %q", state)
	}
}

func (s *Store) Complete(ctx context.Context, key, fingerprint string, result []byte, ttl time.Duration) error {
	ret, err := completeScript.Run(
		ctx,
		s.client,
		[]string{s.redisKey(key)},
		fingerprint,
		int(ttl/time.Millisecond),
		base64.StdEncoding.EncodeToString(result),
		time.Now().UnixMilli(),
	).Int()
	if err != nil {
		return err
	}
	if ret != 1 {
		return fmt.Errorf("no idempotency record to complete for key %s", key)
	}
	return nil
}

func (s *Store) Fail(ctx context.Context, key, fingerprint string) error {
	ret, err := failScript.Run(
		ctx,
		s.client,
		[]string{s.redisKey(key)},
		fingerprint,
		time.Now().UnixMilli(),
	).Int()
	if err != nil {
		return err
	}
	if ret != 1 {
		return fmt.Errorf("no idempotency record to fail for key %s", key)
	}
	return nil
}

// CleanupExpired only has to handle stalled pending records; settled records
// expire through the key TTL that Begin and Complete refresh.
func (s *Store) CleanupExpired(ctx context.Context, pendingStall time.Duration) (int64, error) {
	var deleted int64
	cutoff := time.Now().Add(-pendingStall).UnixMilli()

	iter := s.client.Scan(ctx, 0, s.prefix+":*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		fields, err := s.client.HMGet(ctx, key, "status", "updated_ms").Result()
		if err != nil {
			return deleted, err
		}
		if len(fields) < 2 || asString(fields[0]) != "pending" {
			continue
		}
		updated, err := strconv.ParseInt(asString(fields[1]), 10, 64)
		if err != nil || updated >= cutoff {
			continue
		}
		if err := s.client.Del(ctx, key).Err(); err != nil {
			return deleted, err
		}
		deleted++
	}
	if err := iter.Err(); err != nil {
		return deleted, err
	}
	return deleted, nil
}

func asString(v interface{}) string {
	switch typed := v.(type) {
	case string:
		return typed
	case []byte:
		return string(typed)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}
