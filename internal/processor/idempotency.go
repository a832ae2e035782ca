package processor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/nimasrn/points-ledger/pkg/logger"
	"github.com/nimasrn/points-ledger/pkg/redis"
)

var (
	ErrAlreadyProcessed   = errors.New("event already processed")
	ErrLockAcquireFailed  = errors.New("failed to acquire processing lock")
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")
)

type IdempotencyConfig struct {
	LockTTL            time.Duration
	ProcessedTTL       time.Duration
	MaxRetries         int
	RetryKeyPrefix     string
	LockKeyPrefix      string
	ProcessedKeyPrefix string
}

func DefaultIdempotencyConfig() IdempotencyConfig {
	return IdempotencyConfig{
		LockTTL:            30 * time.Second,
		ProcessedTTL:       24 * time.Hour,
		MaxRetries:         3,
		RetryKeyPrefix:     "audit:retry:",
		LockKeyPrefix:      "audit:lock:",
		ProcessedKeyPrefix: "audit:done:",
	}
}

// IdempotencyService makes at-least-once stream delivery behave as
// at-most-once handling per event key.
type IdempotencyService struct {
	redis  redis.RedisAdapter
	config IdempotencyConfig
}

func NewIdempotencyService(adapter redis.RedisAdapter, config IdempotencyConfig) *IdempotencyService {
	return &IdempotencyService{redis: adapter, config: config}
}

type ProcessingContext struct {
	Key          string
	RetryCount   int
	lockAcquired bool
}

func (pc *ProcessingContext) IsRetry() bool {
	return pc.RetryCount > 0
}

func (s *IdempotencyService) AcquireProcessingLock(ctx context.Context, key string) (*ProcessingContext, error) {
	done, err := s.IsProcessed(ctx, key)
	if err != nil {
		// a failed check risks a repeated audit, which is harmless
		logger.Warn("processed marker check failed", "event_key", key, "error", err)
	} else if done {
		return nil, ErrAlreadyProcessed
	}

	retries, err := s.GetRetryCount(ctx, key)
	if err != nil {
		logger.Warn("retry counter read failed", "event_key", key, "error", err)
	}
	if retries >= s.config.MaxRetries {
		return nil, fmt.Errorf("%w: event_key=%s, retries=%d", ErrMaxRetriesExceeded, key, retries)
	}

	token := []byte(strconv.FormatInt(time.Now().UnixNano(), 10))
	acquired, err := s.redis.SetNX(ctx, s.config.LockKeyPrefix+key, token, s.config.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLockAcquireFailed, err)
	}
	if !acquired {
		return nil, ErrLockAcquireFailed
	}

	logger.Debug("processing lock acquired", "event_key", key, "retry_count", retries)
	return &ProcessingContext{Key: key, RetryCount: retries, lockAcquired: true}, nil
}

func (s *IdempotencyService) MarkSuccess(ctx context.Context, pc *ProcessingContext) error {
	if err := s.redis.Set(ctx, s.config.ProcessedKeyPrefix+pc.Key, []byte("1"), s.config.ProcessedTTL); err != nil {
		return fmt.Errorf("mark %s processed: %w", pc.Key, err)
	}
	if err := s.redis.Del(ctx, s.config.LockKeyPrefix+pc.Key, s.config.RetryKeyPrefix+pc.Key); err != nil {
		logger.Warn("idempotency cleanup failed", "event_key", pc.Key, "error", err)
	}
	pc.lockAcquired = false
	return nil
}

func (s *IdempotencyService) MarkFailure(ctx context.Context, pc *ProcessingContext, reason error) error {
	count, err := s.redis.Incr(ctx, s.config.RetryKeyPrefix+pc.Key, s.config.ProcessedTTL)
	if err != nil {
		logger.Error("retry counter increment failed", "event_key", pc.Key, "error", err)
	}
	if err := s.ReleaseLock(ctx, pc); err != nil {
		return err
	}

	logger.Warn("event processing failed",
		"event_key", pc.Key,
		"retry_count", count,
		"max_retries", s.config.MaxRetries,
		"reason", reason)
	return nil
}

func (s *IdempotencyService) ReleaseLock(ctx context.Context, pc *ProcessingContext) error {
	if pc == nil || !pc.lockAcquired {
		return nil
	}
	if err := s.redis.Del(ctx, s.config.LockKeyPrefix+pc.Key); err != nil {
		return err
	}
	pc.lockAcquired = false
	return nil
}

func (s *IdempotencyService) GetRetryCount(ctx context.Context, key string) (int, error) {
	raw, err := s.redis.Get(ctx, s.config.RetryKeyPrefix+key)
	if errors.Is(err, redis.NilError) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(string(raw))
}

func (s *IdempotencyService) IsProcessed(ctx context.Context, key string) (bool, error) {
	n, err := s.redis.Exist(ctx, s.config.ProcessedKeyPrefix+key)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
