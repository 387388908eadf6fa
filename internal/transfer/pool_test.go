package transfer

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolRunsTasks(t *testing.T) {
	p := NewPool(context.Background(), 2)
	var ran atomic.Int32
	for i := 0; i < 5; i++ {
		require.NoError(t, p.Go("count", func(context.Context) error {
			ran.Add(1)
			return nil
		}))
	}
	require.NoError(t, p.Go("fails", func(context.Context) error {
		return errors.New("boom")
	}))

	require.NoError(t, p.Shutdown(time.Second))
	assert.Equal(t, int32(5), ran.Load())
	assert.ErrorIs(t, p.Go("late", func(context.Context) error { return nil }), ErrPoolClosed)
	assert.NoError(t, p.Shutdown(time.Second))
}

func TestPoolShutdownCancelsStragglers(t *testing.T) {
	p := NewPool(context.Background(), 1)
	cancelled := make(chan struct{})
	require.NoError(t, p.Go("blocked", func(ctx context.Context) error {
		<-ctx.Done()
		close(cancelled)
		return ctx.Err()
	}))

	require.NoError(t, p.Shutdown(20*time.Millisecond))
	select {
	case <-cancelled:
	default:
		t.Fatal("task was not cancelled")
	}
}

func TestPoolShutdownTimesOut(t *testing.T) {
	p := NewPool(context.Background(), 1)
	release := make(chan struct{})
	defer close(release)
	require.NoError(t, p.Go("stubborn", func(context.Context) error {
		<-release
		return nil
	}))

	assert.ErrorIs(t, p.Shutdown(10*time.Millisecond), ErrShutdownTimeout)
}

func TestTryGoRefusesWhenFull(t *testing.T) {
	p := NewPool(context.Background(), 1)
	release := make(chan struct{})
	require.NoError(t, p.TryGo("first", func(context.Context) error {
		<-release
		return nil
	}))
	assert.Equal(t, 1, p.Running())

	assert.ErrorIs(t, p.TryGo("second", func(context.Context) error { return nil }), ErrPoolBusy)

	close(release)
	require.Eventually(t, func() bool { return p.Running() == 0 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return p.TryGo("third", func(context.Context) error { return nil }) == nil
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, p.Shutdown(time.Second))
	assert.ErrorIs(t, p.TryGo("late", func(context.Context) error { return nil }), ErrPoolClosed)
}
