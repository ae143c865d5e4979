package runlock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/storyforge-backend/internal/platform/logger"
)

// ErrBusy is returned when the lock could not be acquired before ctx ended
// or the wait budget ran out.
var ErrBusy = errors.New("runlock: lock busy")

// Locker serializes a short critical section per key across callers.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// Local is an in-process Locker.
type Local struct {
	mu    sync.Mutex
	held  map[string]chan struct{}
	limit time.Duration
}

func NewLocal() *Local {
	return &Local{held: map[string]chan struct{}{}, limit: 10 * time.Second}
}

func (l *Local) Lock(ctx context.Context, key string) (func(), error) {
	deadline := time.NewTimer(l.limit)
	defer deadline.Stop()
	for {
		l.mu.Lock()
		wait, busy := l.held[key]
		if !busy {
			done := make(chan struct{})
			l.held[key] = done
			l.mu.Unlock()
			var once sync.Once
			return func() {
				once.Do(func() {
					l.mu.Lock()
					delete(l.held, key)
					l.mu.Unlock()
					close(done)
				})
			}, nil
		}
		l.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ErrBusy
		case <-deadline.C:
			return nil, ErrBusy
		}
	}
}

// Redis locks with SET NX PX and releases only its own token.
type Redis struct {
	log    *logger.Logger
	rdb    *goredis.Client
	prefix string
	ttl    time.Duration
	retry  time.Duration
	limit  time.Duration
}

var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func NewRedis(log *logger.Logger, rdb *goredis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Redis{
		log:    log.With("service", "RunLock"),
		rdb:    rdb,
		prefix: "storyforge:runlock:",
		ttl:    ttl,
		retry:  50 * time.Millisecond,
		limit:  10 * time.Second,
	}
}

func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	full := r.prefix + key
	giveUp := time.Now().Add(r.limit)
	for {
		ok, err := r.rdb.SetNX(ctx, full, token, r.ttl).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			return func() {
				if err := releaseScript.Run(context.Background(), r.rdb, []string{full}, token).Err(); err != nil {
					r.log.Warn("Run lock release failed", "key", key, "error", err)
				}
			}, nil
		}
		if time.Now().After(giveUp) {
			return nil, ErrBusy
		}
		select {
		case <-ctx.Done():
			return nil, ErrBusy
		case <-time.After(r.retry):
		}
	}
}
