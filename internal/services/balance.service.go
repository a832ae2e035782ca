package services

import (
	"context"
	"time"

	"github.com/nimasrn/points-ledger/internal/model"
	"github.com/nimasrn/points-ledger/internal/repository"
)

type BalanceProjector struct {
	store    BalanceStore
	pageSize int
	now      Clock
}

func NewBalanceProjector(store BalanceStore, pageSize int) *BalanceProjector {
	return &BalanceProjector{store: store, pageSize: pageSize, now: time.Now}
}

func (p *BalanceProjector) CurrentBalance(ctx context.Context, memberID string) (int64, error) {
	return p.store.LatestBalance(ctx, memberID)
}

// RecomputeFromLog replays the member's whole log. It reports the first
// inconsistent entry and never repairs anything.
func (p *BalanceProjector) RecomputeFromLog(ctx context.Context, memberID string) (int64, error) {
	balance, _, err := p.replay(ctx, memberID)
	return balance, err
}

// Verify replays the log and reports whether every stored balance follows from it.
func (p *BalanceProjector) Verify(ctx context.Context, memberID string) (*model.AuditReport, error) {
	stored, err := p.store.LatestBalance(ctx, memberID)
	if err != nil {
		return nil, err
	}

	replayed, entries, err := p.replay(ctx, memberID)
	report := &model.AuditReport{
		MemberID:        memberID,
		StoredBalance:   stored,
		ReplayedBalance: replayed,
		Entries:         entries,
		CheckedAt:       stamp(p.now),
	}
	if err != nil {
		return report, err
	}

	// appends that landed between the two reads only extend the log
	if entries > 0 && replayed != stored {
		if latest, err := p.store.LatestBalance(ctx, memberID); err == nil && latest == replayed {
			report.StoredBalance = latest
		}
	}
	if report.StoredBalance != replayed {
		return report, &model.IntegrityError{
			MemberID: memberID,
			Sequence: entries,
			Expected: replayed,
			Actual:   report.StoredBalance,
			Detail:   "latest balance differs from replay",
		}
	}
	report.Consistent = true
	return report, nil
}

func (p *BalanceProjector) replay(ctx context.Context, memberID string) (int64, int64, error) {
	var balance, seq int64
	for tx, err := range repository.Transactions(ctx, p.store, memberID, p.pageSize) {
		if err != nil {
			return balance, seq, err
		}
		seq++

		fail := func(detail string, expected, actual int64) error {
			return &model.IntegrityError{MemberID: memberID, Sequence: tx.Sequence, Expected: expected, Actual: actual, Detail: detail}
		}
		if tx.Sequence != seq {
			return balance, seq, fail("sequence gap", seq, tx.Sequence)
		}
		if tx.Delta != tx.Kind.Delta(tx.Points) {
			return balance, seq, fail("delta does not match kind and points", tx.Kind.Delta(tx.Points), tx.Delta)
		}
		balance += tx.Delta
		if balance < 0 {
			return balance, seq, fail("balance below zero", 0, balance)
		}
		if tx.ResultingBalance != balance {
			return balance, seq, fail("resulting balance mismatch", balance, tx.ResultingBalance)
		}
	}
	return balance, seq, nil
}
