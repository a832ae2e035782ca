package services

import (
	"context"
	"testing"

	"github.com/nimasrn/points-ledger/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockBalanceStore struct {
	mock.Mock
}

func (m *MockBalanceStore) LatestBalance(ctx context.Context, memberID string) (int64, error) {
	args := m.Called(ctx, memberID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockBalanceStore) ListTransactions(ctx context.Context, memberID string, page model.Page) (*model.TransactionPage, error) {
	args := m.Called(ctx, memberID, page)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.TransactionPage), args.Error(1)
}

func entry(seq int64, kind model.TransactionKind, points, resulting int64) *model.Transaction {
	return &model.Transaction{
		TransactionID:    "T" + string(rune('a'+seq)),
		MemberID:         "M1",
		Kind:             kind,
		Points:           points,
		Delta:            kind.Delta(points),
		Sequence:         seq,
		ResultingBalance: resulting,
	}
}

func TestBalanceProjector_ReplayMatchesLatest(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	m := f.register(t)

	for _, req := range []model.SubmitRequest{
		{MemberID: m.MemberID, Kind: model.KindEarn, Points: 70},
		{MemberID: m.MemberID, Kind: model.KindRedeem, Points: 20},
		{MemberID: m.MemberID, Kind: model.KindAdjustment, Points: -5},
		{MemberID: m.MemberID, Kind: model.KindEarn, Points: 1},
		{MemberID: m.MemberID, Kind: model.KindAdjustment, Points: 4},
		{MemberID: m.MemberID, Kind: model.KindRedeem, Points: 50},
		{MemberID: m.MemberID, Kind: model.KindEarn, Points: 3},
	} {
		_, err := f.processor.Submit(ctx, req)
		require.NoError(t, err)
	}

	current, err := f.projector.CurrentBalance(ctx, m.MemberID)
	require.NoError(t, err)
	replayed, err := f.projector.RecomputeFromLog(ctx, m.MemberID)
	require.NoError(t, err)

	assert.Equal(t, int64(3), current)
	assert.Equal(t, current, replayed)

	report, err := f.projector.Verify(ctx, m.MemberID)
	require.NoError(t, err)
	assert.True(t, report.Consistent)
	assert.Equal(t, int64(7), report.Entries)
	assert.Equal(t, testNow.Year(), report.CheckedAt.Year())
}

func TestBalanceProjector_UnknownMember(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	_, err := f.projector.CurrentBalance(ctx, "Mnobody")
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, err = f.projector.RecomputeFromLog(ctx, "Mnobody")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestBalanceProjector_DetectsCorruption(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		name   string
		items  []*model.Transaction
		detail string
	}{
		{
			name:   "resulting balance drift",
			items:  []*model.Transaction{entry(1, model.KindEarn, 10, 10), entry(2, model.KindEarn, 5, 16)},
			detail: "resulting balance mismatch",
		},
		{
			name:   "sequence gap",
			items:  []*model.Transaction{entry(1, model.KindEarn, 10, 10), entry(3, model.KindEarn, 5, 15)},
			detail: "sequence gap",
		},
		{
			name:   "negative running balance",
			items:  []*model.Transaction{entry(1, model.KindRedeem, 10, -10)},
			detail: "balance below zero",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := new(MockBalanceStore)
			store.On("LatestBalance", ctx, "M1").Return(tc.items[len(tc.items)-1].ResultingBalance, nil)
			store.On("ListTransactions", ctx, "M1", mock.Anything).Return(&model.TransactionPage{Items: tc.items}, nil)

			projector := NewBalanceProjector(store, 10)

			_, err := projector.RecomputeFromLog(ctx, "M1")
			require.ErrorIs(t, err, model.ErrIntegrity)

			var ierr *model.IntegrityError
			require.ErrorAs(t, err, &ierr)
			assert.Equal(t, tc.detail, ierr.Detail)

			report, err := projector.Verify(ctx, "M1")
			assert.ErrorIs(t, err, model.ErrIntegrity)
			require.NotNil(t, report)
			assert.False(t, report.Consistent)
		})
	}
}

func TestBalanceProjector_LatestDisagreesWithLog(t *testing.T) {
	ctx := context.Background()
	store := new(MockBalanceStore)
	store.On("LatestBalance", ctx, "M1").Return(int64(999), nil)
	store.On("ListTransactions", ctx, "M1", mock.Anything).Return(&model.TransactionPage{
		Items: []*model.Transaction{entry(1, model.KindEarn, 10, 10)},
	}, nil)

	report, err := NewBalanceProjector(store, 10).Verify(ctx, "M1")
	assert.ErrorIs(t, err, model.ErrIntegrity)
	assert.Equal(t, int64(999), report.StoredBalance)
	assert.Equal(t, int64(10), report.ReplayedBalance)
}

func TestBalanceProjector_PagesThroughLog(t *testing.T) {
	ctx := context.Background()
	store := new(MockBalanceStore)

	store.On("ListTransactions", ctx, "M1", model.Page{After: 0, Limit: 2}).Return(&model.TransactionPage{
		Items:      []*model.Transaction{entry(1, model.KindEarn, 1, 1), entry(2, model.KindEarn, 2, 3)},
		NextCursor: 2,
	}, nil).Once()
	store.On("ListTransactions", ctx, "M1", model.Page{After: 2, Limit: 2}).Return(&model.TransactionPage{
		Items: []*model.Transaction{entry(3, model.KindRedeem, 3, 0)},
	}, nil).Once()

	balance, err := NewBalanceProjector(store, 2).RecomputeFromLog(ctx, "M1")
	require.NoError(t, err)
	assert.Zero(t, balance)
	store.AssertExpectations(t)
}
