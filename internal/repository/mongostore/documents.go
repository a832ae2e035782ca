package mongostore

import (
	"time"

	"github.com/nimasrn/points-ledger/internal/model"
)

type memberDocument struct {
	MemberID    string    `bson:"_id"`
	QRCode      string    `bson:"qrCode"`
	DisplayName string    `bson:"displayName"`
	Contact     string    `bson:"contact"`
	Status      string    `bson:"status"`
	CreatedAt   time.Time `bson:"createdAt"`
	UpdatedAt   time.Time `bson:"updatedAt"`
}

type qrCodeDocument struct {
	Code      string     `bson:"_id"`
	MemberID  string     `bson:"memberId"`
	IssuedAt  time.Time  `bson:"issuedAt"`
	RevokedAt *time.Time `bson:"revokedAt,omitempty"`
}

type transactionDocument struct {
	TransactionID    string    `bson:"_id"`
	MemberID         string    `bson:"memberId"`
	Sequence         int64     `bson:"sequence"`
	Kind             string    `bson:"kind"`
	Points           int64     `bson:"points"`
	Delta            int64     `bson:"delta"`
	Reason           string    `bson:"reason"`
	ResultingBalance int64     `bson:"resultingBalance"`
	CreatedAt        time.Time `bson:"createdAt"`
}

func toMemberDocument(m *model.Member) *memberDocument {
	return &memberDocument{
		MemberID:    m.MemberID,
		QRCode:      m.QRCode,
		DisplayName: m.DisplayName,
		Contact:     m.Contact,
		Status:      string(m.Status),
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func (d *memberDocument) toModel() *model.Member {
	return &model.Member{
		MemberID:    d.MemberID,
		QRCode:      d.QRCode,
		DisplayName: d.DisplayName,
		Contact:     d.Contact,
		Status:      model.MemberStatus(d.Status),
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

func (d *qrCodeDocument) toModel() *model.QRCodeRecord {
	return &model.QRCodeRecord{
		Code:      d.Code,
		MemberID:  d.MemberID,
		IssuedAt:  d.IssuedAt,
		RevokedAt: d.RevokedAt,
	}
}

func toTransactionDocument(t *model.Transaction) *transactionDocument {
	return &transactionDocument{
		TransactionID:    t.TransactionID,
		MemberID:         t.MemberID,
		Sequence:         t.Sequence,
		Kind:             string(t.Kind),
		Points:           t.Points,
		Delta:            t.Delta,
		Reason:           t.Reason,
		ResultingBalance: t.ResultingBalance,
		CreatedAt:        t.CreatedAt,
	}
}

func (d *transactionDocument) toModel() *model.Transaction {
	return &model.Transaction{
		TransactionID:    d.TransactionID,
		MemberID:         d.MemberID,
		Sequence:         d.Sequence,
		Kind:             model.TransactionKind(d.Kind),
		Points:           d.Points,
		Delta:            d.Delta,
		Reason:           d.Reason,
		ResultingBalance: d.ResultingBalance,
		CreatedAt:        d.CreatedAt,
	}
}
