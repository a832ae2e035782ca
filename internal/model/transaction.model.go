package model

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

type TransactionKind string

const (
	KindEarn       TransactionKind = "earn"
	KindRedeem     TransactionKind = "redeem"
	KindAdjustment TransactionKind = "adjustment"
)

func (k TransactionKind) Valid() bool {
	switch k {
	case KindEarn, KindRedeem, KindAdjustment:
		return true
	}
	return false
}

// Delta is the signed balance effect of points for this kind.
func (k TransactionKind) Delta(points int64) int64 {
	if k == KindRedeem {
		return -points
	}
	return points
}

// ApplyDelta returns balance moved by delta. A result past the int64 range
// is a validation failure; a negative result is ErrInsufficientBalance.
func ApplyDelta(balance, delta int64) (int64, error) {
	if delta > 0 && balance > math.MaxInt64-delta {
		return 0, &ValidationError{Field: "points", Reason: "balance would overflow"}
	}
	if delta < 0 && balance < math.MinInt64-delta {
		return 0, fmt.Errorf("%w: balance %d, delta %d", ErrInsufficientBalance, balance, delta)
	}
	next := balance + delta
	if next < 0 {
		return 0, fmt.Errorf("%w: balance %d, delta %d", ErrInsufficientBalance, balance, delta)
	}
	return next, nil
}

// AddClamped adds b to a, saturating at the int64 bounds.
func AddClamped(a, b int64) int64 {
	switch {
	case b > 0 && a > math.MaxInt64-b:
		return math.MaxInt64
	case b < 0 && a < math.MinInt64-b:
		return math.MinInt64
	}
	return a + b
}

// ClampDecimal converts an aggregate that may exceed int64 to the nearest
// representable value.
func ClampDecimal(d decimal.Decimal) int64 {
	switch {
	case d.GreaterThan(decimal.NewFromInt(math.MaxInt64)):
		return math.MaxInt64
	case d.LessThan(decimal.NewFromInt(math.MinInt64)):
		return math.MinInt64
	}
	return d.IntPart()
}

// Transaction is one committed, immutable entry of a member's log.
type Transaction struct {
	TransactionID    string          `json:"transactionId"`
	MemberID         string          `json:"memberId"`
	Kind             TransactionKind `json:"kind"`
	Points           int64           `json:"points"`
	Delta            int64           `json:"delta"`
	Reason           string          `json:"reason,omitempty"`
	Sequence         int64           `json:"sequence"`
	ResultingBalance int64           `json:"resultingBalance"`
	CreatedAt        time.Time       `json:"createdAt"`
}

func (t *Transaction) Clone() *Transaction {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// SameRequest reports whether other carries the same caller intent, which is
// what decides between an idempotent replay and an id collision.
func (t *Transaction) SameRequest(other *Transaction) bool {
	return t.MemberID == other.MemberID &&
		t.Kind == other.Kind &&
		t.Points == other.Points &&
		t.Reason == other.Reason
}

const (
	MaxReasonLen = 256
	// MaxPoints bounds a single request so that one transaction can never
	// carry a balance across the int64 range on its own.
	MaxPoints int64 = 1_000_000_000_000_000
)

type SubmitRequest struct {
	TransactionID string          `json:"transactionId"`
	MemberID      string          `json:"memberId"`
	Kind          TransactionKind `json:"kind"`
	Points        int64           `json:"points"`
	Reason        string          `json:"reason"`
}

func (r SubmitRequest) Validate() error {
	if r.MemberID == "" {
		return NewValidationError("memberId", "is required")
	}
	if !r.Kind.Valid() {
		return NewValidationError("kind", "must be one of earn, redeem, adjustment")
	}
	switch r.Kind {
	case KindEarn, KindRedeem:
		if r.Points <= 0 {
			return NewValidationError("points", "must be positive")
		}
	case KindAdjustment:
		if r.Points == 0 {
			return NewValidationError("points", "must not be zero")
		}
	}
	if r.Points > MaxPoints || r.Points < -MaxPoints {
		return NewValidationError("points", fmt.Sprintf("must be within %d", MaxPoints))
	}
	if len(r.Reason) > MaxReasonLen {
		return NewValidationError("reason", "is too long")
	}
	return nil
}

// Page selects a window of a member's log by sequence.
type Page struct {
	After int64
	Limit int
}

type TransactionPage struct {
	Items      []*Transaction `json:"items"`
	NextCursor int64          `json:"nextCursor"`
}

type LedgerStats struct {
	MembersByStatus  map[MemberStatus]int64 `json:"membersByStatus"`
	TotalMembers     int64                  `json:"totalMembers"`
	TransactionCount int64                  `json:"transactionCount"`
	PointsEarned     int64                  `json:"pointsEarned"`
	PointsRedeemed   int64                  `json:"pointsRedeemed"`
	PointsAdjusted   int64                  `json:"pointsAdjusted"`
}

// AddKindTotal folds the summed deltas of one kind into the stats. Redeemed
// points are reported as a positive amount. Totals saturate at the int64
// bounds instead of wrapping.
func (s *LedgerStats) AddKindTotal(kind TransactionKind, total decimal.Decimal) {
	switch kind {
	case KindEarn:
		s.PointsEarned = AddClamped(s.PointsEarned, ClampDecimal(total))
	case KindRedeem:
		s.PointsRedeemed = AddClamped(s.PointsRedeemed, ClampDecimal(total.Neg()))
	case KindAdjustment:
		s.PointsAdjusted = AddClamped(s.PointsAdjusted, ClampDecimal(total))
	}
}

type AuditReport struct {
	MemberID        string    `json:"memberId"`
	StoredBalance   int64     `json:"storedBalance"`
	ReplayedBalance int64     `json:"replayedBalance"`
	Entries         int64     `json:"entries"`
	Consistent      bool      `json:"consistent"`
	CheckedAt       time.Time `json:"checkedAt"`
}
