package executor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"app-alfen-go/internal/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPool_InvalidWorkers(t *testing.T) {
	_, err := NewPool(0, 10, time.Second, logger.NewNopClient())
	assert.Error(t, err)
}

func TestPool_RunsJobs(t *testing.T) {
	p, err := NewPool(4, 100, time.Second, logger.NewNopClient())
	require.NoError(t, err)
	p.Start(context.Background())
	defer p.Stop()

	var processed int32
	for i := 0; i < 50; i++ {
		ok := p.Submit("count", func(ctx context.Context) error {
			atomic.AddInt32(&processed, 1)
			return nil
		})
		assert.True(t, ok)
	}

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&processed) == 50
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPool_DropsWhenFull(t *testing.T) {
	p, err := NewPool(1, 1, time.Second, logger.NewNopClient())
	require.NoError(t, err)

	// 未启动 worker，第二个任务必然被丢弃
	assert.True(t, p.Submit("first", func(ctx context.Context) error { return nil }))
	assert.False(t, p.Submit("second", func(ctx context.Context) error { return nil }))
	p.Stop()
}

func TestPool_StopDrainsQueue(t *testing.T) {
	p, err := NewPool(1, 10, time.Second, logger.NewNopClient())
	require.NoError(t, err)

	var mu sync.Mutex
	var order []int
	for i := 0; i < 5; i++ {
		i := i
		p.Submit("ordered", func(ctx context.Context) error {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		})
	}
	p.Start(context.Background())
	p.Stop()

	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
	assert.False(t, p.Submit("late", func(ctx context.Context) error { return nil }))
}

func TestPool_JobErrorAndPanicDoNotKillWorker(t *testing.T) {
	p, err := NewPool(1, 10, time.Second, logger.NewNopClient())
	require.NoError(t, err)
	p.Start(context.Background())
	defer p.Stop()

	done := make(chan struct{})
	p.Submit("error", func(ctx context.Context) error { return errors.New("read failed") })
	p.Submit("panic", func(ctx context.Context) error { panic("boom") })
	p.Submit("after", func(ctx context.Context) error { close(done); return nil })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not survive failing jobs")
	}
}

func TestPool_JobTimeout(t *testing.T) {
	p, err := NewPool(1, 10, 20*time.Millisecond, logger.NewNopClient())
	require.NoError(t, err)
	p.Start(context.Background())
	defer p.Stop()

	result := make(chan error, 1)
	p.Submit("slow", func(ctx context.Context) error {
		<-ctx.Done()
		result <- ctx.Err()
		return ctx.Err()
	})

	select {
	case err := <-result:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(2 * time.Second):
		t.Fatal("job context was not cancelled")
	}
}
