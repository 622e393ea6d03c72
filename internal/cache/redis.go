package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a Cache shared by every instance. Tag membership lives in sets
// named tag:{tag}.
type Redis struct {
	client redis.UniversalClient
	tagTTL time.Duration
}

// NewRedis wraps client. tagTTL bounds the lifetime of tag sets and must be at
// least the longest entry TTL.
func NewRedis(client redis.UniversalClient, tagTTL time.Duration) *Redis {
	return &Redis{client: client, tagTTL: tagTTL}
}

// Connect dials Redis and verifies it answers.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func tagKey(tag string) string {
	return "tag:" + tag
}

// genKey holds the invalidation counter of a tag. It has no TTL so a reset can
// never make an old stamp current again.
func genKey(tag string) string {
	return "gen:" + tag
}

func (r *Redis) Get(ctx context.Context, key string, dst any) (bool, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, json.Unmarshal(data, dst)
}

func (r *Redis) Set(ctx context.Context, key string, value any, ttl time.Duration, tags ...string) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, data, ttl)
		for _, tag := range tags {
			pipe.SAdd(ctx, tagKey(tag), key)
			pipe.Expire(ctx, tagKey(tag), r.tagTTL)
		}
		return nil
	})
	return err
}

func (r *Redis) Stamp(ctx context.Context, tags ...string) (Stamp, error) {
	stamp := make(Stamp, len(tags))
	if len(tags) == 0 {
		return stamp, nil
	}
	keys := make([]string, len(tags))
	for i, tag := range tags {
		keys[i] = genKey(tag)
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	for i, tag := range tags {
		stamp[tag] = 0
		if raw, ok := values[i].(string); ok {
			gen, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("parse generation of %s: %w", tag, err)
			}
			stamp[tag] = gen
		}
	}
	return stamp, nil
}

// KEYS: entry key, generation keys of the stamp, tag set keys.
// ARGV: payload, ttl ms, tag ttl s, stamp size, expected generations.
var setIfCurrentScript = redis.NewScript(`
local n = tonumber(ARGV[4])
for i = 1, n do
  local current = tonumber(redis.call('GET', KEYS[1 + i]) or '0')
  if current ~= tonumber(ARGV[4 + i]) then
    return 0
  end
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
for i = 2 + n, #KEYS do
  redis.call('SADD', KEYS[i], KEYS[1])
  redis.call('EXPIRE', KEYS[i], ARGV[3])
end
return 1
`)

func (r *Redis) SetIfCurrent(ctx context.Context, key string, value any, ttl time.Duration, stamp Stamp, tags ...string) (bool, error) {
	if ttl <= 0 {
		return false, nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return false, err
	}
	keys := []string{key}
	args := []any{data, ttl.Milliseconds(), int64(r.tagTTL / time.Second), len(stamp)}
	for tag, gen := range stamp {
		keys = append(keys, genKey(tag))
		args = append(args, gen)
	}
	for _, tag := range tags {
		keys = append(keys, tagKey(tag))
	}
	stored, err := setIfCurrentScript.Run(ctx, r.client, keys, args...).Int64()
	if err != nil {
		return false, err
	}
	return stored == 1, nil
}

// KEYS: tag set keys followed by their generation keys.
var invalidateScript = redis.NewScript(`
local n = #KEYS / 2
for i = 1, n do
  for _, key in ipairs(redis.call('SMEMBERS', KEYS[i])) do
    redis.call('DEL', key)
  end
  redis.call('DEL', KEYS[i])
  redis.call('INCR', KEYS[n + i])
end
return n
`)

// Invalidate drops tagged entries and bumps generations in one script, so a
// concurrent Set lands either before the drop or after it with its tag intact.
func (r *Redis) Invalidate(ctx context.Context, tags ...string) error {
	if len(tags) == 0 {
		return nil
	}
	keys := make([]string, 0, 2*len(tags))
	for _, tag := range tags {
		keys = append(keys, tagKey(tag))
	}
	for _, tag := range tags {
		keys = append(keys, genKey(tag))
	}
	return invalidateScript.Run(ctx, r.client, keys).Err()
}
