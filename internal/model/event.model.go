package model

import "time"

type EventType string

const (
	EventMemberRegistered     EventType = "member.registered"
	EventMemberStatusChanged  EventType = "member.status_changed"
	EventMemberQRReissued     EventType = "member.qr_reissued"
	EventTransactionCommitted EventType = "transaction.committed"
)

// LedgerEvent announces a change that has already been committed.
type LedgerEvent struct {
	Type          EventType    `json:"type"`
	MemberID      string       `json:"memberId"`
	TransactionID string       `json:"transactionId,omitempty"`
	Sequence      int64        `json:"sequence,omitempty"`
	Balance       int64        `json:"balance,omitempty"`
	Status        MemberStatus `json:"status,omitempty"`
	OccurredAt    time.Time    `json:"occurredAt"`
}

// Key identifies the event for consumer-side deduplication.
func (e LedgerEvent) Key() string {
	switch e.Type {
	case EventTransactionCommitted:
		return string(e.Type) + ":" + e.TransactionID
	default:
		return string(e.Type) + ":" + e.MemberID + ":" + e.OccurredAt.UTC().Format(time.RFC3339Nano)
	}
}
