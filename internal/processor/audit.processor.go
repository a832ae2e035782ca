package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/nimasrn/points-ledger/internal/model"
	"github.com/nimasrn/points-ledger/internal/queue"
	"github.com/nimasrn/points-ledger/pkg/logger"
	"github.com/nimasrn/points-ledger/pkg/prom"
	"github.com/nimasrn/points-ledger/pkg/redis"
)

const (
	AuditConsistent = "consistent"
	AuditMismatch   = "mismatch"
	AuditCovered    = "covered"
	AuditSkipped    = "skipped"

	watermarkPrefix = "audit:verified:"
	watermarkTTL    = 24 * time.Hour
)

type Auditor interface {
	Verify(ctx context.Context, memberID string) (*model.AuditReport, error)
}

// AuditProcessor replays a member's log for every ledger event it receives.
// An event whose sequence is already covered by an earlier successful
// replay is acknowledged without another replay.
type AuditProcessor struct {
	auditor     Auditor
	idempotency *IdempotencyService
	redis       redis.RedisAdapter
	log         logger.Logger
	mismatches  atomic.Int64
}

func NewAuditProcessor(auditor Auditor, idempotency *IdempotencyService, adapter redis.RedisAdapter) *AuditProcessor {
	return &AuditProcessor{auditor: auditor, idempotency: idempotency, redis: adapter, log: logger.Named("audit")}
}

func (p *AuditProcessor) GetType() string {
	return "audit"
}

func (p *AuditProcessor) Mismatches() int64 {
	return p.mismatches.Load()
}

func (p *AuditProcessor) Process(ctx context.Context, msg *queue.Message) error {
	var evt model.LedgerEvent
	if err := json.Unmarshal(msg.Data, &evt); err != nil {
		p.log.Error("malformed ledger event", "message_id", msg.ID, "error", err)
		return fmt.Errorf("decode ledger event %s: %w", msg.ID, err)
	}
	if evt.MemberID == "" {
		p.log.Warn("ledger event without member", "message_id", msg.ID, "type", evt.Type)
		return nil
	}

	log := p.log.With("event_key", evt.Key())
	pc, err := p.idempotency.AcquireProcessingLock(ctx, evt.Key())
	switch {
	case errors.Is(err, ErrAlreadyProcessed):
		return nil
	case errors.Is(err, ErrMaxRetriesExceeded):
		log.Error("giving up on ledger event", "error", err)
		return nil
	case err != nil:
		return err
	}
	defer p.idempotency.ReleaseLock(ctx, pc)

	start := time.Now()
	result, err := p.audit(ctx, evt)
	if err != nil {
		if markErr := p.idempotency.MarkFailure(ctx, pc, err); markErr != nil {
			log.Error("failed to record audit failure", "error", markErr)
		}
		return err
	}

	prom.ObserveAudit(result, time.Since(start).Seconds())
	if err := p.idempotency.MarkSuccess(ctx, pc); err != nil {
		log.Error("failed to mark event processed", "error", err)
	}
	return nil
}

func (p *AuditProcessor) audit(ctx context.Context, evt model.LedgerEvent) (string, error) {
	if evt.Sequence > 0 && p.verifiedThrough(ctx, evt.MemberID) >= evt.Sequence {
		return AuditCovered, nil
	}

	report, err := p.auditor.Verify(ctx, evt.MemberID)
	var integrity *model.IntegrityError
	switch {
	case errors.As(err, &integrity):
		p.mismatches.Add(1)
		p.log.Error("ledger integrity violation",
			"member_id", integrity.MemberID,
			"sequence", integrity.Sequence,
			"expected", integrity.Expected,
			"actual", integrity.Actual,
			"detail", integrity.Detail)
		return AuditMismatch, nil
	case errors.Is(err, model.ErrNotFound):
		p.log.Warn("audited member not found", "member_id", evt.MemberID)
		return AuditSkipped, nil
	case err != nil:
		return "", err
	}

	p.markVerified(ctx, evt.MemberID, report.Entries)
	p.log.Debug("member ledger verified", "member_id", evt.MemberID, "entries", report.Entries, "balance", report.ReplayedBalance)
	return AuditConsistent, nil
}

func (p *AuditProcessor) verifiedThrough(ctx context.Context, memberID string) int64 {
	raw, err := p.redis.Get(ctx, watermarkPrefix+memberID)
	if err != nil {
		return 0
	}
	n, _ := strconv.ParseInt(string(raw), 10, 64)
	return n
}

// markVerified only ever raises the watermark.
func (p *AuditProcessor) markVerified(ctx context.Context, memberID string, entries int64) {
	if entries <= p.verifiedThrough(ctx, memberID) {
		return
	}
	if err := p.redis.Set(ctx, watermarkPrefix+memberID, []byte(strconv.FormatInt(entries, 10)), watermarkTTL); err != nil {
		p.log.Warn("audit watermark update failed", "member_id", memberID, "error", err)
	}
}
