package locker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	pkgerrors "github.com/honeynil/ShopLedgerService/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyed_MutualExclusion(t *testing.T) {
	l := NewKeyed()
	ctx := context.Background()

	var (
		inside  int32
		maxSeen int32
		wg      sync.WaitGroup
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(ctx, "user:1")
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			if n > atomic.LoadInt32(&maxSeen) {
				atomic.StoreInt32(&maxSeen, n)
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxSeen)
	assert.Equal(t, 0, l.Len())
}

func TestKeyed_DistinctKeysDoNotBlock(t *testing.T) {
	l := NewKeyed()
	ctx := context.Background()

	unlockA, err := l.Lock(ctx, "order:a")
	require.NoError(t, err)
	defer unlockA()

	ctx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	unlockB, err := l.Lock(ctx, "order:b")
	require.NoError(t, err)
	unlockB()
}

func TestKeyed_ContextCancelled(t *testing.T) {
	l := NewKeyed()

	unlock, err := l.Lock(context.Background(), "recharge:1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "recharge:1")
	assert.ErrorIs(t, err, pkgerrors.ErrLockTimeout)

	unlock()
	unlock()
	assert.Equal(t, 0, l.Len())
}
