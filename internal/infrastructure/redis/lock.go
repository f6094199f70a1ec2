package redis

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	pkgerrors "github.com/honeynil/ShopLedgerService/pkg/errors"
)

// Locker is a distributed lock over SET NX PX. Each acquisition writes a
// random token; release deletes the key only if the token still matches, so
// a lease that expired and was taken over is never released by its old owner.
type Locker struct {
	client RedisClient
	prefix string
	ttl    time.Duration
	poll   time.Duration
}

func NewLocker(client RedisClient, ttl time.Duration) *Locker {
	return &Locker{
		client: client,
		prefix: "lock:",
		ttl:    ttl,
		poll:   20 * time.Millisecond,
	}
}

func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := l.prefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()
	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl)
		if err != nil {
			slog.Error("failed to acquire lock", "key", key, "error", err)
			return nil, err
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, pkgerrors.ErrLockTimeout
		case <-ticker.C:
		}
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		released, err := l.client.CompareAndDelete(ctx, redisKey, token)
		if err != nil {
			slog.Error("failed to release lock", "key", key, "error", err)
			return
		}
		if !released {
			slog.Warn("lock lease expired before release", "key", key)
		}
	}, nil
}
