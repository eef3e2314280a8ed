package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Lease guards a reconciliation cycle across processes. Acquire returns
// ok=false when another holder has it; release must be called once when ok.
type Lease interface {
	Acquire(ctx context.Context) (release func(), ok bool, err error)
}

// LocalLease always grants; use it for single-instance deployments.
type LocalLease struct{}

func (LocalLease) Acquire(context.Context) (func(), bool, error) {
	return func() {}, true, nil
}

// releaseScript deletes the key only if we still own it, so an expired lease
// picked up by another instance is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLease is a SET NX PX lock shared by every instance pointing at the
// same Redis.
type RedisLease struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
}

func NewRedisLease(client redis.UniversalClient, key string, ttl time.Duration) *RedisLease {
	if key == "" {
		key = "schoolpay:reconciler:lease"
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisLease{client: client, key: key, ttl: ttl}
}

func (l *RedisLease) Acquire(ctx context.Context) (func(), bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil || !ok {
		return nil, false, err
	}
	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		releaseScript.Run(ctx, l.client, []string{l.key}, token)
	}
	return release, true, nil
}
