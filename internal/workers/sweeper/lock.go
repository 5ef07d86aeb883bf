package sweeper

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/juju/errors"
	"github.com/redis/go-redis/v9"
)

// acquireScript takes a free key or renews a lease this holder already owns.
var acquireScript = redis.NewScript(`
local current = redis.call("GET", KEYS[1])
if current == ARGV[1] then
	redis.call("PEXPIRE", KEYS[1], ARGV[2])
	return 1
end
if current then
	return 0
end
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
return 1
`)

// releaseScript deletes the key only while it still holds this holder's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLock is a single-key lease. The lease expires on its own if the holder dies.
type RedisLock struct {
	client redis.UniversalClient
	key    string
	token  string
}

// NewRedisLock builds a lock holder with a random token.
func NewRedisLock(client redis.UniversalClient, key string) (*RedisLock, error) {
	if client == nil {
		return nil, errors.NotValidf("missing redis client")
	}
	if key == "" {
		return nil, errors.NotValidf("empty lock key")
	}
	return &RedisLock{client: client, key: key, token: uuid.NewString()}, nil
}

// Acquire takes the lease for ttl if nobody else holds it, renewing it when this holder does.
func (l *RedisLock) Acquire(ctx context.Context, ttl time.Duration) (bool, error) {
	n, err := acquireScript.Run(ctx, l.client, []string{l.key}, l.token, ttl.Milliseconds()).Int()
	if err != nil {
		return false, errors.Annotatef(err, "acquire %s", l.key)
	}
	return n == 1, nil
}

// Release drops the lease if this holder still owns it.
func (l *RedisLock) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return errors.Annotatef(err, "release %s", l.key)
	}
	return nil
}
