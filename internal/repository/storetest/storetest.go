// Package storetest is the behavioural contract every LedgerStore must meet.
package storetest

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/nimasrn/points-ledger/internal/identifier"
	"github.com/nimasrn/points-ledger/internal/model"
	"github.com/nimasrn/points-ledger/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh store that has already been opened.
type Factory func(t *testing.T) repository.LedgerStore

var (
	ids  = identifier.NewGenerator()
	base = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
)

func Run(t *testing.T, newStore Factory) {
	t.Run("Members", func(t *testing.T) { testMembers(t, newStore) })
	t.Run("Status", func(t *testing.T) { testStatus(t, newStore) })
	t.Run("QRCodes", func(t *testing.T) { testQRCodes(t, newStore) })
	t.Run("Append", func(t *testing.T) { testAppend(t, newStore) })
	t.Run("AppendBalanceRange", func(t *testing.T) { testAppendBalanceRange(t, newStore) })
	t.Run("AppendConcurrent", func(t *testing.T) { testAppendConcurrent(t, newStore) })
	t.Run("List", func(t *testing.T) { testList(t, newStore) })
	t.Run("Stats", func(t *testing.T) { testStats(t, newStore) })
	t.Run("StatsSaturate", func(t *testing.T) { testStatsSaturate(t, newStore) })
	t.Run("Closed", func(t *testing.T) { testClosed(t, newStore) })
}

func NewMember(t *testing.T, contact string) *model.Member {
	t.Helper()
	memberID, err := ids.NewMembershipID()
	require.NoError(t, err)
	qr, err := ids.NewQRCode(memberID)
	require.NoError(t, err)
	return &model.Member{
		MemberID:    memberID,
		QRCode:      qr,
		DisplayName: "Member " + memberID[len(memberID)-4:],
		Contact:     contact,
		Status:      model.MemberStatusActive,
		CreatedAt:   base,
		UpdatedAt:   base,
	}
}

func NewTransaction(t *testing.T, memberID string, kind model.TransactionKind, points int64) *model.Transaction {
	t.Helper()
	txID, err := ids.NewTransactionID()
	require.NoError(t, err)
	return &model.Transaction{
		TransactionID: txID,
		MemberID:      memberID,
		Kind:          kind,
		Points:        points,
		Delta:         kind.Delta(points),
		CreatedAt:     base,
	}
}

func seedMember(t *testing.T, store repository.LedgerStore) *model.Member {
	t.Helper()
	m := NewMember(t, "+10000000000")
	require.NoError(t, store.CreateMember(context.Background(), m))
	return m
}

func testMembers(t *testing.T, newStore Factory) {
	store := newStore(t)
	ctx := context.Background()

	m := NewMember(t, "+15550001")
	require.NoError(t, store.CreateMember(ctx, m))

	got, err := store.GetMember(ctx, m.MemberID)
	require.NoError(t, err)
	assert.Equal(t, m.MemberID, got.MemberID)
	assert.Equal(t, m.QRCode, got.QRCode)
	assert.Equal(t, m.DisplayName, got.DisplayName)
	assert.Equal(t, model.MemberStatusActive, got.Status)

	byQR, err := store.GetMemberByQR(ctx, m.QRCode)
	require.NoError(t, err)
	assert.Equal(t, m.MemberID, byQR.MemberID)

	_, err = store.GetMember(ctx, "Mmissing")
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = store.GetMemberByQR(ctx, "MEMBER_missing")
	assert.ErrorIs(t, err, model.ErrNotFound)

	dupID := NewMember(t, "")
	dupID.MemberID = m.MemberID
	assert.ErrorIs(t, store.CreateMember(ctx, dupID), model.ErrConflict)

	dupQR := NewMember(t, "")
	dupQR.QRCode = m.QRCode
	assert.ErrorIs(t, store.CreateMember(ctx, dupQR), model.ErrConflict)

	sibling := NewMember(t, "+15550001")
	require.NoError(t, store.CreateMember(ctx, sibling))

	found, err := store.FindMembersByContact(ctx, "+15550001", 10)
	require.NoError(t, err)
	assert.Len(t, found, 2)

	none, err := store.FindMembersByContact(ctx, "+19999999", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testStatus(t *testing.T, newStore Factory) {
	store := newStore(t)
	ctx := context.Background()
	m := seedMember(t, store)
	later := base.Add(time.Hour)

	updated, err := store.UpdateMemberStatus(ctx, m.MemberID, model.MemberStatusActive, model.MemberStatusSuspended, later)
	require.NoError(t, err)
	assert.Equal(t, model.MemberStatusSuspended, updated.Status)

	_, err = store.UpdateMemberStatus(ctx, m.MemberID, model.MemberStatusActive, model.MemberStatusClosed, later)
	assert.ErrorIs(t, err, model.ErrConflict)

	got, err := store.GetMember(ctx, m.MemberID)
	require.NoError(t, err)
	assert.Equal(t, model.MemberStatusSuspended, got.Status)

	_, err = store.UpdateMemberStatus(ctx, "Mmissing", model.MemberStatusActive, model.MemberStatusSuspended, later)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func testQRCodes(t *testing.T, newStore Factory) {
	store := newStore(t)
	ctx := context.Background()
	m := seedMember(t, store)
	other := seedMember(t, store)

	newCode, err := ids.NewQRCode(m.MemberID)
	require.NoError(t, err)

	updated, err := store.ReplaceQRCode(ctx, m.MemberID, m.QRCode, newCode, base.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, newCode, updated.QRCode)

	_, err = store.GetMemberByQR(ctx, m.QRCode)
	assert.ErrorIs(t, err, model.ErrNotFound)

	resolved, err := store.GetMemberByQR(ctx, newCode)
	require.NoError(t, err)
	assert.Equal(t, m.MemberID, resolved.MemberID)

	history, err := store.QRHistory(ctx, m.MemberID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, m.QRCode, history[0].Code)
	assert.NotNil(t, history[0].RevokedAt)
	assert.Equal(t, newCode, history[1].Code)
	assert.Nil(t, history[1].RevokedAt)

	t.Run("stale expected code", func(t *testing.T) {
		another, err := ids.NewQRCode(m.MemberID)
		require.NoError(t, err)
		_, err = store.ReplaceQRCode(ctx, m.MemberID, m.QRCode, another, base.Add(2*time.Minute))
		assert.ErrorIs(t, err, model.ErrConflict)
	})

	t.Run("revoked code is never reissued", func(t *testing.T) {
		_, err := store.ReplaceQRCode(ctx, other.MemberID, other.QRCode, m.QRCode, base.Add(2*time.Minute))
		assert.ErrorIs(t, err, model.ErrConflict)

		still, err := store.GetMemberByQR(ctx, other.QRCode)
		require.NoError(t, err)
		assert.Equal(t, other.MemberID, still.MemberID)
	})

	t.Run("unknown member", func(t *testing.T) {
		code, err := ids.NewQRCode("Mmissing")
		require.NoError(t, err)
		_, err = store.ReplaceQRCode(ctx, "Mmissing", "MEMBER_x", code, base)
		assert.ErrorIs(t, err, model.ErrNotFound)
	})
}

func testAppend(t *testing.T, newStore Factory) {
	store := newStore(t)
	ctx := context.Background()
	m := seedMember(t, store)

	earn := NewTransaction(t, m.MemberID, model.KindEarn, 100)
	committed, err := store.AppendTransaction(ctx, earn)
	require.NoError(t, err)
	assert.Equal(t, int64(1), committed.Sequence)
	assert.Equal(t, int64(100), committed.ResultingBalance)

	over := NewTransaction(t, m.MemberID, model.KindRedeem, 150)
	_, err = store.AppendTransaction(ctx, over)
	assert.ErrorIs(t, err, model.ErrInsufficientBalance)

	negAdjust := NewTransaction(t, m.MemberID, model.KindAdjustment, -101)
	_, err = store.AppendTransaction(ctx, negAdjust)
	assert.ErrorIs(t, err, model.ErrInsufficientBalance)

	redeem := NewTransaction(t, m.MemberID, model.KindRedeem, 100)
	committed, err = store.AppendTransaction(ctx, redeem)
	require.NoError(t, err)
	assert.Equal(t, int64(2), committed.Sequence)
	assert.Equal(t, int64(0), committed.ResultingBalance)

	replay, err := store.AppendTransaction(ctx, earn)
	assert.ErrorIs(t, err, model.ErrDuplicateTransaction)
	require.NotNil(t, replay)
	assert.Equal(t, int64(1), replay.Sequence)
	assert.Equal(t, int64(100), replay.ResultingBalance)

	collision := earn.Clone()
	collision.Points = 5
	collision.Delta = 5
	_, err = store.AppendTransaction(ctx, collision)
	assert.ErrorIs(t, err, model.ErrConflict)

	balance, err := store.LatestBalance(ctx, m.MemberID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)

	got, err := store.GetTransaction(ctx, redeem.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, int64(-100), got.Delta)

	_, err = store.GetTransaction(ctx, "Tmissing")
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, err = store.AppendTransaction(ctx, NewTransaction(t, "Mmissing", model.KindEarn, 1))
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, err = store.LatestBalance(ctx, "Mmissing")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func testAppendBalanceRange(t *testing.T, newStore Factory) {
	store := newStore(t)
	ctx := context.Background()
	m := seedMember(t, store)

	top, err := store.AppendTransaction(ctx, NewTransaction(t, m.MemberID, model.KindEarn, math.MaxInt64))
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), top.ResultingBalance)

	_, err = store.AppendTransaction(ctx, NewTransaction(t, m.MemberID, model.KindEarn, 1))
	require.ErrorIs(t, err, model.ErrValidation)
	assert.NotErrorIs(t, err, model.ErrInsufficientBalance)
	var verr *model.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "points", verr.Field)

	_, err = store.AppendTransaction(ctx, NewTransaction(t, m.MemberID, model.KindAdjustment, math.MinInt64))
	assert.ErrorIs(t, err, model.ErrInsufficientBalance)

	balance, err := store.LatestBalance(ctx, m.MemberID)
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), balance)

	page, err := store.ListTransactions(ctx, m.MemberID, model.Page{Limit: 10})
	require.NoError(t, err)
	assert.Len(t, page.Items, 1)

	fresh := seedMember(t, store)
	_, err = store.AppendTransaction(ctx, NewTransaction(t, fresh.MemberID, model.KindAdjustment, math.MinInt64))
	assert.ErrorIs(t, err, model.ErrInsufficientBalance)
}

func testAppendConcurrent(t *testing.T, newStore Factory) {
	store := newStore(t)
	ctx := context.Background()
	m := seedMember(t, store)
	other := seedMember(t, store)

	const writers = 20
	const points = 7

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := store.AppendTransaction(ctx, NewTransaction(t, m.MemberID, model.KindEarn, points))
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := store.AppendTransaction(ctx, NewTransaction(t, other.MemberID, model.KindEarn, 1))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	balance, err := store.LatestBalance(ctx, m.MemberID)
	require.NoError(t, err)
	assert.Equal(t, int64(writers*points), balance)

	page, err := store.ListTransactions(ctx, m.MemberID, model.Page{Limit: writers})
	require.NoError(t, err)
	require.Len(t, page.Items, writers)
	for i, tx := range page.Items {
		assert.Equal(t, int64(i+1), tx.Sequence)
		assert.Equal(t, int64((i+1)*points), tx.ResultingBalance)
	}

	t.Run("same id submitted concurrently commits once", func(t *testing.T) {
		tx := NewTransaction(t, m.MemberID, model.KindEarn, 3)

		results := make([]*model.Transaction, 10)
		var wg sync.WaitGroup
		for i := range results {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				res, err := store.AppendTransaction(ctx, tx)
				if err != nil {
					assert.ErrorIs(t, err, model.ErrDuplicateTransaction)
				}
				results[i] = res
			}(i)
		}
		wg.Wait()

		for _, res := range results {
			require.NotNil(t, res)
			assert.Equal(t, results[0].Sequence, res.Sequence)
			assert.Equal(t, results[0].ResultingBalance, res.ResultingBalance)
		}

		balance, err := store.LatestBalance(ctx, m.MemberID)
		require.NoError(t, err)
		assert.Equal(t, int64(writers*points+3), balance)
	})
}

func testList(t *testing.T, newStore Factory) {
	store := newStore(t)
	ctx := context.Background()
	m := seedMember(t, store)
	empty := seedMember(t, store)

	for i := 1; i <= 25; i++ {
		_, err := store.AppendTransaction(ctx, NewTransaction(t, m.MemberID, model.KindEarn, int64(i)))
		require.NoError(t, err)
	}

	first, err := store.ListTransactions(ctx, m.MemberID, model.Page{Limit: 10})
	require.NoError(t, err)
	require.Len(t, first.Items, 10)
	assert.Equal(t, int64(10), first.NextCursor)

	second, err := store.ListTransactions(ctx, m.MemberID, model.Page{After: first.NextCursor, Limit: 10})
	require.NoError(t, err)
	require.Len(t, second.Items, 10)
	assert.Equal(t, int64(11), second.Items[0].Sequence)

	last, err := store.ListTransactions(ctx, m.MemberID, model.Page{After: second.NextCursor, Limit: 10})
	require.NoError(t, err)
	assert.Len(t, last.Items, 5)
	assert.Zero(t, last.NextCursor)

	var replayed, count int64
	for tx, err := range repository.Transactions(ctx, store, m.MemberID, 4) {
		require.NoError(t, err)
		count++
		assert.Equal(t, count, tx.Sequence)
		replayed += tx.Delta
		assert.Equal(t, replayed, tx.ResultingBalance)
	}
	assert.Equal(t, int64(25), count)

	balance, err := store.LatestBalance(ctx, m.MemberID)
	require.NoError(t, err)
	assert.Equal(t, replayed, balance)

	none, err := store.ListTransactions(ctx, empty.MemberID, model.Page{})
	require.NoError(t, err)
	assert.Empty(t, none.Items)
	assert.Zero(t, none.NextCursor)

	zero, err := store.LatestBalance(ctx, empty.MemberID)
	require.NoError(t, err)
	assert.Zero(t, zero)

	_, err = store.ListTransactions(ctx, "Mmissing", model.Page{})
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func testStats(t *testing.T, newStore Factory) {
	store := newStore(t)
	ctx := context.Background()

	a := seedMember(t, store)
	b := seedMember(t, store)
	_, err := store.UpdateMemberStatus(ctx, b.MemberID, model.MemberStatusActive, model.MemberStatusSuspended, base)
	require.NoError(t, err)

	for _, tx := range []*model.Transaction{
		NewTransaction(t, a.MemberID, model.KindEarn, 50),
		NewTransaction(t, a.MemberID, model.KindRedeem, 20),
		NewTransaction(t, a.MemberID, model.KindAdjustment, -5),
		NewTransaction(t, b.MemberID, model.KindEarn, 10),
	} {
		_, err := store.AppendTransaction(ctx, tx)
		require.NoError(t, err)
	}

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalMembers)
	assert.Equal(t, int64(1), stats.MembersByStatus[model.MemberStatusActive])
	assert.Equal(t, int64(1), stats.MembersByStatus[model.MemberStatusSuspended])
	assert.Equal(t, int64(4), stats.TransactionCount)
	assert.Equal(t, int64(60), stats.PointsEarned)
	assert.Equal(t, int64(20), stats.PointsRedeemed)
	assert.Equal(t, int64(-5), stats.PointsAdjusted)
}

func testStatsSaturate(t *testing.T, newStore Factory) {
	store := newStore(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		m := seedMember(t, store)
		_, err := store.AppendTransaction(ctx, NewTransaction(t, m.MemberID, model.KindEarn, math.MaxInt64))
		require.NoError(t, err)
		_, err = store.AppendTransaction(ctx, NewTransaction(t, m.MemberID, model.KindRedeem, math.MaxInt64))
		require.NoError(t, err)
	}

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), stats.TransactionCount)
	assert.Equal(t, int64(math.MaxInt64), stats.PointsEarned)
	assert.Equal(t, int64(math.MaxInt64), stats.PointsRedeemed)
	assert.Zero(t, stats.PointsAdjusted)
}

func testClosed(t *testing.T, newStore Factory) {
	store := newStore(t)
	ctx := context.Background()
	m := seedMember(t, store)

	assert.Equal(t, repository.StateReady, store.State())
	require.NoError(t, store.Close())
	assert.Equal(t, repository.StateClosed, store.State())

	_, err := store.GetMember(ctx, m.MemberID)
	assert.ErrorIs(t, err, model.ErrStoreUnavailable)
	_, err = store.AppendTransaction(ctx, NewTransaction(t, m.MemberID, model.KindEarn, 1))
	assert.ErrorIs(t, err, model.ErrStoreUnavailable)
	_, err = store.LatestBalance(ctx, m.MemberID)
	assert.ErrorIs(t, err, model.ErrStoreUnavailable)

	assert.ErrorIs(t, store.Open(ctx), model.ErrStoreUnavailable, fmt.Sprintf("state %s", store.State()))
}
