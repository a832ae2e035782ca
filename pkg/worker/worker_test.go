package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerManager_ProcessesJobs(t *testing.T) {
	w := NewWorkerManager(16, 4)

	var sum atomic.Int64
	w.SetWorker(func(ctx context.Context, index int, job interface{}) {
		sum.Add(int64(job.(int)))
	})

	done := make(chan error, 1)
	go func() { done <- w.Start(context.Background()) }()

	ctx := context.Background()
	for i := 1; i <= 100; i++ {
		require.NoError(t, w.Enqueue(ctx, i))
	}

	assert.Eventually(t, func() bool { return sum.Load() == 5050 }, 2*time.Second, 5*time.Millisecond)

	w.Exit()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrStopped)
	case <-time.After(time.Second):
		t.Fatal("workers did not stop")
	}

	assert.ErrorIs(t, w.Enqueue(ctx, 1), ErrStopped)
	w.Exit()
}

func TestWorkerManager_StopsWithContext(t *testing.T) {
	w := NewWorkerManager(1, 2)
	w.SetWorker(func(ctx context.Context, index int, job interface{}) {})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("workers did not stop")
	}
}

func TestWorkerManager_EnqueueRespectsContext(t *testing.T) {
	w := NewWorkerManager(1, 1)
	require.NoError(t, w.Enqueue(context.Background(), "fills buffer"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, w.Enqueue(ctx, "blocked"), context.DeadlineExceeded)
	assert.Equal(t, int64(1), w.GetUnreadCount())
}

func TestWorkerManager_RequiresHandler(t *testing.T) {
	w := NewWorkerManager(1, 1)
	assert.Error(t, w.Start(context.Background()))
}
