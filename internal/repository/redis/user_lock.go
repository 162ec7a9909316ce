package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"auth-security/internal/client"
	"auth-security/internal/lockout"
	"auth-security/internal/util"
)

const loginLockPrefix = "login_lock:"

// releaseScript deletes the lock only if it still holds our token, so an
// expired lock re-acquired by another instance is never released by us.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

var ErrLockTimeout = errors.New("timed out waiting for login lock")

// UserLock serializes login attempts of one user across service instances
// using SET NX with a TTL. The TTL bounds how long a crashed holder can
// block the account.
type UserLock struct {
	client  *client.RedisClient
	ttl     time.Duration
	retry   time.Duration
	maxWait time.Duration
}

var _ lockout.Locker = (*UserLock)(nil)

func NewUserLock(client *client.RedisClient, ttl time.Duration) *UserLock {
	return &UserLock{
		client:  client,
		ttl:     ttl,
		retry:   25 * time.Millisecond,
		maxWait: ttl,
	}
}

func (l *UserLock) Lock(ctx context.Context, userID string) (func(), error) {
	key := loginLockPrefix + userID
	token := uuid.New().String()

	waitCtx, cancel := context.WithTimeout(ctx, l.maxWait)
	defer cancel()

	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(waitCtx, key, token, l.ttl)
		if err != nil {
			util.Error("Failed to set login lock", util.String("user_id", userID), util.ErrorField(err))
			return nil, fmt.Errorf("failed to set login lock: %w", err)
		}
		if ok {
			break
		}

		select {
		case <-ticker.C:
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: %s", ErrLockTimeout, userID)
		}
	}

	util.Debug("Login lock acquired", util.String("user_id", userID), util.Duration("ttl", l.ttl))

	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := l.client.Eval(releaseCtx, releaseScript, []string{key}, token); err != nil {
			util.Warn("Failed to release login lock", util.String("user_id", userID), util.ErrorField(err))
		}
	}, nil
}
