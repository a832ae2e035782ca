package model

import "github.com/shopspring/decimal"

// PurchaseRequest earns points for money spent; the amount is converted by
// the configured earning policy.
type PurchaseRequest struct {
	TransactionID string          `json:"transactionId"`
	MemberID      string          `json:"memberId"`
	Amount        decimal.Decimal `json:"amount"`
	Reason        string          `json:"reason"`
}
