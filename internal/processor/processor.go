package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nimasrn/points-ledger/internal/queue"
	"github.com/nimasrn/points-ledger/pkg/logger"
	"github.com/nimasrn/points-ledger/pkg/prom"
	"github.com/nimasrn/points-ledger/pkg/redis"
	"github.com/nimasrn/points-ledger/pkg/worker"
)

const (
	DefaultProcessingTimeout = 5 * time.Second
	HealthInterval           = 30 * time.Second
	MetricsInterval          = 30 * time.Second
	ShutdownTimeout          = time.Minute
	lagWarningThreshold      = 10_000
)

// Processor handles one decoded stream entry. A nil error acknowledges it.
type Processor interface {
	Process(ctx context.Context, message *queue.Message) error
	GetType() string
}

type ServiceConfig struct {
	Queue             queue.QueueConfig
	Consumers         int
	Workers           int
	BufferSize        int
	ProcessingTimeout time.Duration
}

// ProcessorService runs stream consumers that hand entries to a worker pool.
type ProcessorService struct {
	adapter   redis.RedisAdapter
	cfg       ServiceConfig
	processor Processor
	queues    []*queue.Queue
	metrics   *ServiceMetrics
	worker    *worker.WorkerManager
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
}

func NewProcessorService(adapter redis.RedisAdapter, processor Processor, cfg ServiceConfig) *ProcessorService {
	if cfg.Consumers < 1 {
		cfg.Consumers = 1
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.BufferSize < cfg.Workers {
		cfg.BufferSize = cfg.Workers
	}
	if cfg.ProcessingTimeout <= 0 {
		cfg.ProcessingTimeout = DefaultProcessingTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &ProcessorService{
		adapter:   adapter,
		cfg:       cfg,
		processor: processor,
		metrics:   NewServiceMetrics(),
		worker:    worker.NewWorkerManager(cfg.BufferSize, cfg.Workers),
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (s *ProcessorService) Metrics() MetricsSnapshot {
	snap := s.metrics.Snapshot()
	snap.Backlog = s.worker.GetUnreadCount()
	return snap
}

func (s *ProcessorService) Start() error {
	logger.Info("starting processor service", "processor", s.processor.GetType(), "consumers", s.cfg.Consumers, "workers", s.cfg.Workers)

	s.worker.SetWorker(s.workerHandler)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.worker.Start(s.ctx); err != nil {
			logger.Info("worker manager stopped", "reason", err)
		}
	}()

	for i := 0; i < s.cfg.Consumers; i++ {
		qc := s.cfg.Queue
		qc.ConsumerName = fmt.Sprintf("%s-%d", qc.ConsumerName, i)

		q, err := queue.NewQueue(s.ctx, s.adapter, qc)
		if err != nil {
			return fmt.Errorf("create consumer %d: %w", i, err)
		}
		if err := q.Consume(s.messageHandler); err != nil {
			return fmt.Errorf("start consumer %d: %w", i, err)
		}
		s.queues = append(s.queues, q)
		logger.Debug("consumer started", "stream", q.Config().Name, "group", q.Config().ConsumerGroup, "consumer", q.Config().ConsumerName)
	}

	s.wg.Add(2)
	go s.every(MetricsInterval, s.reportMetrics)
	go s.every(HealthInterval, s.performHealthCheck)
	return nil
}

func (s *ProcessorService) every(interval time.Duration, fn func()) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			fn()
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *ProcessorService) reportMetrics() {
	m := s.Metrics()
	logger.Info("processor metrics",
		"processed", m.Processed,
		"failed", m.Failed,
		"backlog", m.Backlog,
		"rate_per_second", m.RatePerSecond,
		"avg_duration_ms", m.AvgDuration.Milliseconds(),
		"uptime_seconds", m.Uptime.Seconds())

	for i, q := range s.queues {
		if qs, err := q.GetStats(s.ctx); err == nil {
			logger.Info("queue stats", "consumer", i, "total", qs.TotalMessages, "pending", qs.PendingMessages)
		}
	}
}

// Healthy reports whether the stream backend is reachable.
func (s *ProcessorService) Healthy(ctx context.Context) error {
	return s.adapter.Ping(ctx)
}

func (s *ProcessorService) performHealthCheck() {
	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()

	if err := s.Healthy(ctx); err != nil {
		logger.Error("health check failed: redis unreachable", "error", err)
		return
	}
	if len(s.queues) == 0 {
		return
	}
	// consumers share one group, so one stats call covers all of them
	qs, err := s.queues[0].GetStats(ctx)
	if err != nil {
		return
	}
	prom.SetStreamPending(qs.PendingMessages)
	if qs.PendingMessages > lagWarningThreshold {
		logger.Warn("audit stream lagging", "pending_messages", qs.PendingMessages)
	}
}

func (s *ProcessorService) Stop() {
	logger.Info("shutting down processor service")
	s.cancel()

	var wg sync.WaitGroup
	for i, q := range s.queues {
		wg.Add(1)
		go func(i int, q *queue.Queue) {
			defer wg.Done()
			if err := q.Stop(ShutdownTimeout); err != nil {
				logger.Error("consumer did not stop", "consumer", i, "error", err)
			}
		}(i, q)
	}
	wg.Wait()

	s.worker.Exit()
	s.wg.Wait()
	s.reportMetrics()
	logger.Info("processor service stopped")
}

type job struct {
	ctx    context.Context
	msg    *queue.Message
	result chan error
}

// messageHandler blocks the consumer until a worker has handled the entry
// and acknowledges it only after a successful outcome. An entry caught by
// shutdown is rejected and stays pending for the next consumer to claim.
func (s *ProcessorService) messageHandler(ctx context.Context, msg *queue.Message) error {
	jctx, cancel := context.WithTimeout(ctx, s.cfg.ProcessingTimeout)
	defer cancel()

	j := &job{ctx: jctx, msg: msg, result: make(chan error, 1)}
	if err := s.worker.Enqueue(jctx, j); err != nil {
		if errors.Is(err, worker.ErrStopped) || s.ctx.Err() != nil {
			logger.Debug("entry left pending for shutdown", "message_id", msg.ID)
			return msg.Nack()
		}
		return fmt.Errorf("enqueue %s: %w", msg.ID, err)
	}

	select {
	case err := <-j.result:
		if err != nil {
			return err
		}
		return msg.Ack(ctx)
	case <-jctx.Done():
		return fmt.Errorf("waiting for worker on %s: %w", msg.ID, jctx.Err())
	}
}

func (s *ProcessorService) workerHandler(_ context.Context, index int, payload interface{}) {
	j, ok := payload.(*job)
	if !ok {
		logger.Error("unexpected job type", "worker", index)
		return
	}
	if j.ctx.Err() != nil {
		return
	}

	start := time.Now()
	err := s.processor.Process(j.ctx, j.msg)
	if err != nil {
		s.metrics.RecordFailure()
		logger.Error("failed to process message", "worker", index, "message_id", j.msg.ID, "error", err)
	} else {
		s.metrics.RecordSuccess(time.Since(start))
	}
	j.result <- err
}
