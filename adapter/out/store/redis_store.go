// Package store provides KVStore implementations: redis for production
// and an in-process map for tests and degraded startup.
package store

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chittycc/chittyrouter/core/port/out"
)

// Versioned entries live in a redis hash with "value" and "version"
// fields so CAS can compare versions server-side in one round trip.

var casScript = redis.NewScript(`
	local key = KEYS[1]
	local expected = tonumber(ARGV[1])
	local value = ARGV[2]
	local ttl_ms = tonumber(ARGV[3])

	local ver = redis.call('HGET', key, 'version')
	if (not ver and expected == 0) or (ver and tonumber(ver) == expected) then
		redis.call('HSET', key, 'value', value, 'version', expected + 1)
		redis.call('PEXPIRE', key, ttl_ms)
		return 1
	end
	return 0
`)

var putScript = redis.NewScript(`
	local key = KEYS[1]
	local value = ARGV[1]
	local ttl_ms = tonumber(ARGV[2])

	redis.call('HSET', key, 'value', value)
	redis.call('HINCRBY', key, 'version', 1)
	redis.call('PEXPIRE', key, ttl_ms)
	return 1
`)

var putNXScript = redis.NewScript(`
	local key = KEYS[1]
	local value = ARGV[1]
	local ttl_ms = tonumber(ARGV[2])

	if redis.call('EXISTS', key) == 1 then
		return 0
	end
	redis.call('HSET', key, 'value', value, 'version', 1)
	redis.call('PEXPIRE', key, ttl_ms)
	return 1
`)

// RedisStore implements out.KVStore over a redis client.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a redis-backed KV store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Get(ctx context.Context, key string) (*out.Versioned, bool, error) {
	vals, err := s.client.HMGet(ctx, key, "value", "version").Result()
	if err != nil {
		return nil, false, err
	}
	rawValue, okV := vals[0].(string)
	rawVersion, okN := vals[1].(string)
	if !okV || !okN {
		return nil, false, nil
	}

	version, err := strconv.ParseInt(rawVersion, 10, 64)
	if err != nil {
		return nil, false, nil
	}

	return &out.Versioned{Value: []byte(rawValue), Version: version}, true, nil
}

func (s *RedisStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return putScript.Run(ctx, s.client, []string{key}, value, ttl.Milliseconds()).Err()
}

func (s *RedisStore) CAS(ctx context.Context, key string, expected int64, value []byte, ttl time.Duration) (bool, error) {
	res, err := casScript.Run(ctx, s.client, []string{key}, expected, value, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

func (s *RedisStore) PutNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	res, err := putNXScript.Run(ctx, s.client, []string{key}, value, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

func (s *RedisStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	n, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if n == 1 {
		s.client.PExpire(ctx, key, ttl)
	}
	return n, nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}
