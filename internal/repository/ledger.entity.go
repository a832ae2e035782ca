package repository

import (
	"time"

	"github.com/nimasrn/points-ledger/internal/model"
)

type MemberEntity struct {
	MemberID    string    `db:"member_id"    gorm:"primaryKey;column:member_id;size:40"`
	QRCode      string    `db:"qr_code"      gorm:"column:qr_code;not null;uniqueIndex:idx_members_qr_code;size:128"`
	DisplayName string    `db:"display_name" gorm:"column:display_name;not null"`
	Contact     string    `db:"contact"      gorm:"column:contact;not null;default:'';index:idx_members_contact"`
	Status      string    `db:"status"       gorm:"column:status;not null;index:idx_members_status"`
	CreatedAt   time.Time `db:"created_at"   gorm:"column:created_at;not null"`
	UpdatedAt   time.Time `db:"updated_at"   gorm:"column:updated_at;not null"`
}

func (MemberEntity) TableName() string {
	return "members"
}

type QRCodeEntity struct {
	Code      string     `db:"code"       gorm:"primaryKey;column:code;size:128"`
	MemberID  string     `db:"member_id"  gorm:"column:member_id;not null;index:idx_member_qr_codes_member"`
	IssuedAt  time.Time  `db:"issued_at"  gorm:"column:issued_at;not null"`
	RevokedAt *time.Time `db:"revoked_at" gorm:"column:revoked_at"`
}

func (QRCodeEntity) TableName() string {
	return "member_qr_codes"
}

type TransactionEntity struct {
	TransactionID    string    `db:"transaction_id"    gorm:"primaryKey;column:transaction_id;size:64"`
	MemberID         string    `db:"member_id"         gorm:"column:member_id;not null;uniqueIndex:idx_transactions_member_sequence,priority:1"`
	Sequence         int64     `db:"sequence"          gorm:"column:sequence;not null;uniqueIndex:idx_transactions_member_sequence,priority:2"`
	Kind             string    `db:"kind"              gorm:"column:kind;not null"`
	Points           int64     `db:"points"            gorm:"column:points;not null"`
	Delta            int64     `db:"delta"             gorm:"column:delta;not null"`
	Reason           string    `db:"reason"            gorm:"column:reason;not null;default:''"`
	ResultingBalance int64     `db:"resulting_balance" gorm:"column:resulting_balance;not null"`
	CreatedAt        time.Time `db:"created_at"        gorm:"column:created_at;not null"`
}

func (TransactionEntity) TableName() string {
	return "transactions"
}

func toMemberEntity(m *model.Member) *MemberEntity {
	if m == nil {
		return nil
	}
	return &MemberEntity{
		MemberID:    m.MemberID,
		QRCode:      m.QRCode,
		DisplayName: m.DisplayName,
		Contact:     m.Contact,
		Status:      string(m.Status),
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func toMemberModel(e *MemberEntity) *model.Member {
	if e == nil {
		return nil
	}
	return &model.Member{
		MemberID:    e.MemberID,
		QRCode:      e.QRCode,
		DisplayName: e.DisplayName,
		Contact:     e.Contact,
		Status:      model.MemberStatus(e.Status),
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
	}
}

func toMemberModels(entities []*MemberEntity) []*model.Member {
	models := make([]*model.Member, len(entities))
	for i, e := range entities {
		models[i] = toMemberModel(e)
	}
	return models
}

func toQRCodeModels(entities []*QRCodeEntity) []*model.QRCodeRecord {
	models := make([]*model.QRCodeRecord, len(entities))
	for i, e := range entities {
		models[i] = &model.QRCodeRecord{
			Code:      e.Code,
			MemberID:  e.MemberID,
			IssuedAt:  e.IssuedAt,
			RevokedAt: e.RevokedAt,
		}
	}
	return models
}

func toTransactionEntity(m *model.Transaction) *TransactionEntity {
	if m == nil {
		return nil
	}
	return &TransactionEntity{
		TransactionID:    m.TransactionID,
		MemberID:         m.MemberID,
		Sequence:         m.Sequence,
		Kind:             string(m.Kind),
		Points:           m.Points,
		Delta:            m.Delta,
		Reason:           m.Reason,
		ResultingBalance: m.ResultingBalance,
		CreatedAt:        m.CreatedAt,
	}
}

func toTransactionModel(e *TransactionEntity) *model.Transaction {
	if e == nil {
		return nil
	}
	return &model.Transaction{
		TransactionID:    e.TransactionID,
		MemberID:         e.MemberID,
		Sequence:         e.Sequence,
		Kind:             model.TransactionKind(e.Kind),
		Points:           e.Points,
		Delta:            e.Delta,
		Reason:           e.Reason,
		ResultingBalance: e.ResultingBalance,
		CreatedAt:        e.CreatedAt,
	}
}

func toTransactionModels(entities []*TransactionEntity) []*model.Transaction {
	models := make([]*model.Transaction, len(entities))
	for i, e := range entities {
		models[i] = toTransactionModel(e)
	}
	return models
}
