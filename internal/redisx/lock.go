package redisx

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Locker is a single-holder lease used so only one worker replica runs a
// periodic job per tick. Jobs guarded by it must still be safe to run twice.
type Locker struct {
	rdb cmdScripter
}

type cmdScripter interface {
	redis.Cmdable
	redis.Scripter
}

func NewLocker(rdb cmdScripter) *Locker { return &Locker{rdb: rdb} }

// TryLock returns a token when the lease was acquired.
func (l *Locker) TryLock(ctx context.Context, name string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, fmt.Sprintf(KeyLock, name), token, ttl).Result()
	if err != nil || !ok {
		return "", false, err
	}
	return token, true, nil
}

// Unlock releases the lease only if token still owns it.
func (l *Locker) Unlock(ctx context.Context, name, token string) error {
	return unlockScript.Run(ctx, l.rdb, []string{fmt.Sprintf(KeyLock, name)}, token).Err()
}
