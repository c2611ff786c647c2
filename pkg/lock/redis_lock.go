package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/armory-ledger/pkg/errors"
	"github.com/angelmondragon/armory-ledger/pkg/logger"
)

const (
	defaultTTL  = 10 * time.Second
	defaultPoll = 25 * time.Millisecond
)

var errNotAcquired = errors.New("lock held by another owner")

// redisStore defines the operations used by RedisLocker.
type redisStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	ReleaseIfOwner(ctx context.Context, key, owner string) (bool, error)
	LockKey(parts ...string) string
}

// RedisLocker takes the local keyed mutex first, then a Redis key holding a random
// owner token. The Redis key expires after TTL so a crashed holder cannot wedge it.
type RedisLocker struct {
	local *KeyedMutex
	store redisStore
	ttl   time.Duration
	wait  time.Duration
	poll  time.Duration
	logg  *logger.Logger
}

// RedisOptions tunes a RedisLocker. Zero values pick defaults.
type RedisOptions struct {
	TTL    time.Duration
	Wait   time.Duration
	Poll   time.Duration
	Logger *logger.Logger
}

// NewRedisLocker constructs a Redis-backed locker.
func NewRedisLocker(store redisStore, opts RedisOptions) (*RedisLocker, error) {
	if store == nil {
		return nil, fmt.Errorf("redis client required for lock")
	}
	if opts.TTL <= 0 {
		opts.TTL = defaultTTL
	}
	if opts.Wait <= 0 {
		opts.Wait = defaultWait
	}
	if opts.Poll <= 0 {
		opts.Poll = defaultPoll
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	return &RedisLocker{
		local: NewKeyedMutex(opts.Wait),
		store: store,
		ttl:   opts.TTL,
		wait:  opts.Wait,
		poll:  opts.Poll,
		logg:  opts.Logger,
	}, nil
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (Unlock, error) {
	deadline := time.Now().Add(l.wait)
	unlockLocal, err := l.local.Lock(ctx, key)
	if err != nil {
		return nil, err
	}

	redisKey := l.store.LockKey(key)
	owner := uuid.NewString()
	if err := l.acquire(ctx, redisKey, owner, deadline); err != nil {
		unlockLocal()
		return nil, err
	}

	released := false
	return func() {
		if released {
			return
		}
		released = true
		// Release even when the request context is already canceled.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		if ok, err := l.store.ReleaseIfOwner(releaseCtx, redisKey, owner); err != nil {
			l.logg.Error(l.logg.WithField(ctx, "lock_key", redisKey), "lock.release_failed", err)
		} else if !ok {
			l.logg.Warn(l.logg.WithField(ctx, "lock_key", redisKey), "lock.expired_before_release")
		}
		unlockLocal()
	}, nil
}

func (l *RedisLocker) acquire(ctx context.Context, key, owner string, deadline time.Time) error {
	for {
		ok, err := l.store.SetNX(ctx, key, owner, l.ttl)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeStorageUnavailable, err, "acquire distributed lock")
		}
		if ok {
			return nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return pkgerrors.Wrap(pkgerrors.CodeConflict, errNotAcquired, "timed out waiting for exclusive section").
				WithDetails(map[string]any{"key": key})
		}
		wait := l.poll
		if wait > remaining {
			wait = remaining
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return pkgerrors.Wrap(pkgerrors.CodeConflict, ctx.Err(), "gave up waiting for exclusive section")
		case <-timer.C:
		}
	}
}
