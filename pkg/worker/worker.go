package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/nimasrn/points-ledger/pkg/logger"
)

var ErrStopped = errors.New("worker manager stopped")

type WorkerHandler = func(ctx context.Context, workerIndex int, job interface{})

type WorkerManager struct {
	jobChannel     chan interface{}
	numberOfWorker int
	do             WorkerHandler
	quit           chan struct{}
	quitOnce       sync.Once
	waiter         sync.WaitGroup
}

// NewWorkerManager builds a fixed pool of goroutines fed from one buffered
// channel. Jobs are handed out in arrival order to whichever worker is free.
func NewWorkerManager(bufferSize, numberOfWorkers int) *WorkerManager {
	if numberOfWorkers < 1 {
		numberOfWorkers = 1
	}
	return &WorkerManager{
		jobChannel:     make(chan interface{}, bufferSize),
		numberOfWorker: numberOfWorkers,
		quit:           make(chan struct{}),
	}
}

func (w *WorkerManager) GetUnreadCount() int64 {
	return int64(len(w.jobChannel))
}

func (w *WorkerManager) SetWorker(worker WorkerHandler) {
	w.do = worker
}

// Enqueue waits for buffer space, ctx cancellation or shutdown.
func (w *WorkerManager) Enqueue(ctx context.Context, job interface{}) error {
	select {
	case <-w.quit:
		return ErrStopped
	default:
	}

	select {
	case w.jobChannel <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-w.quit:
		return ErrStopped
	}
}

// Start runs the workers and blocks until ctx is done or Exit is called.
// Jobs still buffered at that point are dropped.
func (w *WorkerManager) Start(ctx context.Context) error {
	if w.do == nil {
		return errors.New("worker handler is not set")
	}

	w.waiter.Add(w.numberOfWorker)
	for i := 0; i < w.numberOfWorker; i++ {
		go func(index int) {
			defer w.waiter.Done()
			for {
				select {
				case job := <-w.jobChannel:
					w.do(ctx, index, job)
				case <-ctx.Done():
					return
				case <-w.quit:
					return
				}
			}
		}(i)
	}
	w.waiter.Wait()
	return ErrStopped
}

func (w *WorkerManager) Exit() {
	w.quitOnce.Do(func() {
		logger.Info("worker manager shutting down", "workers", w.numberOfWorker, "unread", len(w.jobChannel))
		close(w.quit)
	})
}
