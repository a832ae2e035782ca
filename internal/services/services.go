package services

import (
	"context"
	"time"

	"github.com/nimasrn/points-ledger/internal/model"
)

type Clock func() time.Time

type IDGenerator interface {
	NewMembershipID() (string, error)
	NewTransactionID() (string, error)
	NewQRCode(memberID string) (string, error)
}

type MemberStore interface {
	CreateMember(ctx context.Context, member *model.Member) error
	GetMember(ctx context.Context, memberID string) (*model.Member, error)
	GetMemberByQR(ctx context.Context, code string) (*model.Member, error)
	FindMembersByContact(ctx context.Context, contact string, limit int) ([]*model.Member, error)
	UpdateMemberStatus(ctx context.Context, memberID string, from, to model.MemberStatus, at time.Time) (*model.Member, error)
	ReplaceQRCode(ctx context.Context, memberID, oldCode, newCode string, at time.Time) (*model.Member, error)
	QRHistory(ctx context.Context, memberID string) ([]*model.QRCodeRecord, error)
}

type TransactionStore interface {
	GetMember(ctx context.Context, memberID string) (*model.Member, error)
	GetTransaction(ctx context.Context, transactionID string) (*model.Transaction, error)
	AppendTransaction(ctx context.Context, tx *model.Transaction) (*model.Transaction, error)
}

type BalanceStore interface {
	LatestBalance(ctx context.Context, memberID string) (int64, error)
	ListTransactions(ctx context.Context, memberID string, page model.Page) (*model.TransactionPage, error)
}

// timestamps are kept at millisecond precision so every store round-trips them unchanged
func stamp(now Clock) time.Time {
	return now().UTC().Truncate(time.Millisecond)
}
