package api

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	redis "github.com/redis/go-redis/v9"
)

// RunLocker serializes optimization runs per key. Lock blocks until the key
// is free or ctx ends; the returned func releases it. ttl bounds how long a
// holder that never releases keeps the key; lockers confined to one process
// may ignore it.
type RunLocker interface {
	Lock(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// LockError reports that a run lock could not be taken.
type LockError struct {
	Key string
	Err error
}

func (e *LockError) Error() string { return "run lock " + e.Key + ": " + e.Err.Error() }

func (e *LockError) Unwrap() error { return e.Err }

// MutexLocker serializes runs within one process.
type MutexLocker struct {
	mu   sync.Mutex
	keys map[string]chan struct{}
}

func NewMutexLocker() *MutexLocker {
	return &MutexLocker{keys: map[string]chan struct{}{}}
}

func (l *MutexLocker) Lock(ctx context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	ch, ok := l.keys[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.keys[key] = ch
	}
	l.mu.Unlock()
	select {
	case ch <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-ch }) }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)

// defaultLockTTL applies when a caller passes no ttl.
const defaultLockTTL = time.Minute

// RedisLocker serializes runs across replicas with SET NX PX. The per-call TTL
// bounds how long a crashed holder can block others, so it must outlast the
// run it guards.
type RedisLocker struct {
	rdb   *redis.Client
	retry time.Duration
}

func NewRedisLocker(rdb *redis.Client) *RedisLocker {
	return &RedisLocker{rdb: rdb, retry: 50 * time.Millisecond}
}

func (l *RedisLocker) Lock(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	k := "lock:" + key
	token := uuid.NewString()
	for {
		ok, err := l.rdb.SetNX(ctx, k, token, ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, errors.Wrap(err, "acquire run lock")
		}
		if ok {
			var once sync.Once
			return func() {
				once.Do(func() {
					rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
					defer cancel()
					_ = releaseScript.Run(rctx, l.rdb, []string{k}, token).Err()
				})
			}, nil
		}
		t := time.NewTimer(l.retry)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}
