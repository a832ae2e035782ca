package model

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyDelta(t *testing.T) {
	cases := []struct {
		name    string
		balance int64
		delta   int64
		want    int64
		wantErr error
	}{
		{"earn", 10, 5, 15, nil},
		{"redeem to zero", 10, -10, 0, nil},
		{"redeem past zero", 10, -11, 0, ErrInsufficientBalance},
		{"earn up to max", math.MaxInt64 - 1, 1, math.MaxInt64, nil},
		{"earn past max", math.MaxInt64, 1, 0, ErrValidation},
		{"large earn past max", 1, math.MaxInt64, 0, ErrValidation},
		{"adjust by int64 floor", 0, math.MinInt64, 0, ErrInsufficientBalance},
		{"adjust by int64 floor from max", math.MaxInt64, math.MinInt64, 0, ErrInsufficientBalance},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ApplyDelta(tc.balance, tc.delta)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := ApplyDelta(math.MaxInt64, 1)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "points", verr.Field)
	assert.NotErrorIs(t, err, ErrInsufficientBalance)
}

func TestAddClamped(t *testing.T) {
	assert.Equal(t, int64(7), AddClamped(3, 4))
	assert.Equal(t, int64(math.MaxInt64), AddClamped(math.MaxInt64, 1))
	assert.Equal(t, int64(math.MaxInt64), AddClamped(math.MaxInt64-1, math.MaxInt64))
	assert.Equal(t, int64(math.MinInt64), AddClamped(math.MinInt64, -1))
	assert.Equal(t, int64(-1), AddClamped(math.MaxInt64, math.MinInt64))
}

func TestClampDecimal(t *testing.T) {
	assert.Equal(t, int64(42), ClampDecimal(decimal.NewFromInt(42)))
	assert.Equal(t, int64(math.MaxInt64), ClampDecimal(decimal.RequireFromString("18446744073709551614")))
	assert.Equal(t, int64(math.MinInt64), ClampDecimal(decimal.RequireFromString("-18446744073709551616")))
}

func TestSubmitRequestValidate_PointsBounds(t *testing.T) {
	ok := SubmitRequest{MemberID: "M1", Kind: KindEarn, Points: MaxPoints}
	assert.NoError(t, ok.Validate())

	for _, req := range []SubmitRequest{
		{MemberID: "M1", Kind: KindEarn, Points: MaxPoints + 1},
		{MemberID: "M1", Kind: KindRedeem, Points: math.MaxInt64},
		{MemberID: "M1", Kind: KindAdjustment, Points: -MaxPoints - 1},
		{MemberID: "M1", Kind: KindAdjustment, Points: math.MinInt64},
	} {
		assert.ErrorIs(t, req.Validate(), ErrValidation, "%+v", req)
	}
}
