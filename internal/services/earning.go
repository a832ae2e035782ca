package services

import (
	"fmt"

	"github.com/nimasrn/points-ledger/internal/model"
	"github.com/shopspring/decimal"
)

// EarningPolicy converts a purchase amount into points: every full SpendUnit
// spent earns PointsPerUnit.
type EarningPolicy struct {
	SpendUnit     decimal.Decimal
	PointsPerUnit int64
}

func NewEarningPolicy(spendUnit string, pointsPerUnit int64) (EarningPolicy, error) {
	unit, err := decimal.NewFromString(spendUnit)
	if err != nil {
		return EarningPolicy{}, fmt.Errorf("invalid spend unit %q: %w", spendUnit, err)
	}
	if !unit.IsPositive() {
		return EarningPolicy{}, fmt.Errorf("spend unit must be positive, got %s", unit)
	}
	if pointsPerUnit <= 0 {
		return EarningPolicy{}, fmt.Errorf("points per unit must be positive, got %d", pointsPerUnit)
	}
	return EarningPolicy{SpendUnit: unit, PointsPerUnit: pointsPerUnit}, nil
}

func (p EarningPolicy) Points(amount decimal.Decimal) (int64, error) {
	if !amount.IsPositive() {
		return 0, model.NewValidationError("amount", "must be positive")
	}
	if !p.SpendUnit.IsPositive() {
		return 0, model.NewValidationError("amount", "earning policy is not configured")
	}

	units, _ := amount.QuoRem(p.SpendUnit, 0)
	if !units.IsInteger() || units.GreaterThan(decimal.NewFromInt(maxUnits(p.PointsPerUnit))) {
		return 0, model.NewValidationError("amount", "is too large")
	}
	return units.IntPart() * p.PointsPerUnit, nil
}

func maxUnits(pointsPerUnit int64) int64 {
	return model.MaxPoints / pointsPerUnit
}
