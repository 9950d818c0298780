package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const redisKeyPrefix = "coinguru:session:"

// setScript upserts a hash field and returns {existed, previous}.
var setScript = redis.NewScript(`
local prev = redis.call('HGET', KEYS[1], ARGV[1])
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
if prev then
  return {1, prev}
end
return {0, ''}
`)

// casScript writes ARGV[4] when the field is absent (ARGV[2] == '0') or equals ARGV[3].
var casScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], ARGV[1])
if ARGV[2] == '0' then
  if cur then
    return 0
  end
elseif cur ~= ARGV[3] then
  return 0
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[4])
return 1
`)

// RedisStore keeps each session in one Redis hash. Hashes carry no expiry:
// a credit balance lives as long as it does in the other backends.
type RedisStore struct {
	redis  *redis.Client
	tracer trace.Tracer
}

// NewRedisStore wraps a Redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	if client == nil {
		panic("session: redis client cannot be nil")
	}
	return &RedisStore{
		redis:  client,
		tracer: otel.Tracer("coinguru.internal.session.redis"),
	}
}

func sessionKey(sessionID string) string {
	return redisKeyPrefix + sessionID
}

func (s *RedisStore) startSpan(ctx context.Context, name, sessionID, key string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("session.id", sessionID),
		attribute.String("session.key", key),
	))
}

func (s *RedisStore) Get(ctx context.Context, sessionID, key string) (string, bool, error) {
	if err := validateKey(sessionID, key); err != nil {
		return "", false, err
	}
	ctx, span := s.startSpan(ctx, "session.redis.get", sessionID, key)
	defer span.End()

	v, err := s.redis.HGet(ctx, sessionKey(sessionID), key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		span.RecordError(err)
		return "", false, unavailable("redis get", err)
	}
	return v, true, nil
}

func (s *RedisStore) Set(ctx context.Context, sessionID, key, value string) (string, bool, error) {
	if err := validateKey(sessionID, key); err != nil {
		return "", false, err
	}
	ctx, span := s.startSpan(ctx, "session.redis.set", sessionID, key)
	defer span.End()

	res, err := setScript.Run(ctx, s.redis, []string{sessionKey(sessionID)}, key, value).Slice()
	if err != nil {
		span.RecordError(err)
		return "", false, unavailable("redis set", err)
	}
	if len(res) != 2 {
		err := fmt.Errorf("unexpected script reply %v", res)
		span.RecordError(err)
		return "", false, unavailable("redis set", err)
	}
	existed, _ := res[0].(int64)
	prev, _ := res[1].(string)
	return prev, existed == 1, nil
}

func (s *RedisStore) CompareAndSet(ctx context.Context, sessionID, key string, expected *string, value string) (bool, error) {
	if err := validateKey(sessionID, key); err != nil {
		return false, err
	}
	ctx, span := s.startSpan(ctx, "session.redis.compare_and_set", sessionID, key)
	defer span.End()

	hasExpected, want := "0", ""
	if expected != nil {
		hasExpected, want = "1", *expected
	}
	n, err := casScript.Run(ctx, s.redis, []string{sessionKey(sessionID)},
		key, hasExpected, want, value).Int64()
	if err != nil {
		span.RecordError(err)
		return false, unavailable("redis compare and set", err)
	}
	return n == 1, nil
}
