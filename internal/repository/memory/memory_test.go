package memory

import (
	"context"
	"testing"

	"github.com/nimasrn/points-ledger/internal/model"
	"github.com/nimasrn/points-ledger/internal/repository"
	"github.com/nimasrn/points-ledger/internal/repository/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_Contract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) repository.LedgerStore {
		s := New()
		require.NoError(t, s.Open(context.Background()))
		return s
	})
}

func TestStore_Uninitialized(t *testing.T) {
	s := New()
	ctx := context.Background()

	assert.Equal(t, repository.StateUninitialized, s.State())
	_, err := s.LatestBalance(ctx, "M1")
	assert.ErrorIs(t, err, model.ErrStoreUnavailable)
	assert.ErrorIs(t, s.CreateMember(ctx, storetest.NewMember(t, "")), model.ErrStoreUnavailable)
}

func TestStore_ReturnsCopies(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Open(ctx))

	m := storetest.NewMember(t, "")
	require.NoError(t, s.CreateMember(ctx, m))
	m.DisplayName = "mutated after insert"

	got, err := s.GetMember(ctx, m.MemberID)
	require.NoError(t, err)
	assert.NotEqual(t, "mutated after insert", got.DisplayName)

	tx, err := s.AppendTransaction(ctx, storetest.NewTransaction(t, m.MemberID, model.KindEarn, 10))
	require.NoError(t, err)
	tx.ResultingBalance = 1_000_000

	balance, err := s.LatestBalance(ctx, m.MemberID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), balance)
}
