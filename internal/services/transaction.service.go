package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nimasrn/points-ledger/internal/model"
	"github.com/nimasrn/points-ledger/pkg/logger"
	"github.com/nimasrn/points-ledger/pkg/prom"
)

const (
	maxTransactionIDLen   = 64
	defaultPurchaseReason = "purchase"
)

// TransactionProcessor takes a request from Received through Validated to
// Committed, or rejects it. It never retries on the caller's behalf.
type TransactionProcessor struct {
	store   TransactionStore
	ids     IDGenerator
	events  EventSink
	earning EarningPolicy
	now     Clock
}

type ProcessorOption func(*TransactionProcessor)

func WithEarningPolicy(p EarningPolicy) ProcessorOption {
	return func(tp *TransactionProcessor) { tp.earning = p }
}

func WithProcessorClock(c Clock) ProcessorOption {
	return func(tp *TransactionProcessor) { tp.now = c }
}

func NewTransactionProcessor(store TransactionStore, ids IDGenerator, events EventSink, opts ...ProcessorOption) *TransactionProcessor {
	if events == nil {
		events = NopSink{}
	}
	p := &TransactionProcessor{
		store:  store,
		ids:    ids,
		events: events,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *TransactionProcessor) Submit(ctx context.Context, req model.SubmitRequest) (*model.Transaction, error) {
	start := time.Now()
	tx, err := p.submit(ctx, req)

	kind := "unknown"
	if req.Kind.Valid() {
		kind = string(req.Kind)
	}
	prom.ObserveSubmit(kind, outcome(err), time.Since(start).Seconds())
	return tx, err
}

// SubmitPurchase earns points for a purchase amount under the earning policy.
func (p *TransactionProcessor) SubmitPurchase(ctx context.Context, req model.PurchaseRequest) (*model.Transaction, error) {
	points, err := p.earning.Points(req.Amount)
	if err != nil {
		return nil, err
	}
	if points == 0 {
		return nil, model.NewValidationError("amount", fmt.Sprintf("below the earning unit of %s", p.earning.SpendUnit))
	}

	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = defaultPurchaseReason
	}
	return p.Submit(ctx, model.SubmitRequest{
		TransactionID: req.TransactionID,
		MemberID:      req.MemberID,
		Kind:          model.KindEarn,
		Points:        points,
		Reason:        reason,
	})
}

func (p *TransactionProcessor) submit(ctx context.Context, req model.SubmitRequest) (*model.Transaction, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	txID := strings.TrimSpace(req.TransactionID)
	switch {
	case txID == "":
		generated, err := p.ids.NewTransactionID()
		if err != nil {
			return nil, err
		}
		txID = generated
	case len(txID) > maxTransactionIDLen:
		return nil, model.NewValidationError("transactionId", "is too long")
	}

	candidate := &model.Transaction{
		TransactionID: txID,
		MemberID:      req.MemberID,
		Kind:          req.Kind,
		Points:        req.Points,
		Delta:         req.Kind.Delta(req.Points),
		Reason:        req.Reason,
		CreatedAt:     stamp(p.now),
	}

	// A replay reports the original outcome even if the member has since
	// been suspended or its balance has dropped.
	existing, err := p.store.GetTransaction(ctx, txID)
	switch {
	case err == nil:
		if !existing.SameRequest(candidate) {
			return nil, fmt.Errorf("%w: transaction id %s already used for a different request", model.ErrConflict, txID)
		}
		logger.Debug("transaction replayed", "transaction_id", txID)
		return existing, nil
	case !errors.Is(err, model.ErrNotFound):
		return nil, err
	}

	member, err := p.store.GetMember(ctx, req.MemberID)
	if err != nil {
		return nil, err
	}
	if member.Status != model.MemberStatusActive {
		return nil, &model.ValidationError{
			Field:  "memberId",
			Reason: fmt.Sprintf("member is %s", member.Status),
			Err:    model.ErrMemberInactive,
		}
	}

	committed, err := p.store.AppendTransaction(ctx, candidate)
	switch {
	case errors.Is(err, model.ErrDuplicateTransaction):
		return committed, nil
	case errors.Is(err, model.ErrInsufficientBalance), errors.Is(err, model.ErrValidation):
		logger.Info("transaction rejected", "transaction_id", txID, "member_id", req.MemberID, "reason", err)
		return nil, err
	case err != nil:
		logger.Error("transaction append failed", "transaction_id", txID, "member_id", req.MemberID, "error", err)
		return nil, err
	}

	p.events.Emit(model.LedgerEvent{
		Type:          model.EventTransactionCommitted,
		MemberID:      committed.MemberID,
		TransactionID: committed.TransactionID,
		Sequence:      committed.Sequence,
		Balance:       committed.ResultingBalance,
		OccurredAt:    committed.CreatedAt,
	})
	return committed, nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "committed"
	case errors.Is(err, model.ErrValidation):
		return "invalid"
	case errors.Is(err, model.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, model.ErrNotFound):
		return "not_found"
	case errors.Is(err, model.ErrConflict):
		return "conflict"
	case errors.Is(err, model.ErrStoreUnavailable):
		return "unavailable"
	}
	return "error"
}
