package model

import (
	"strings"
	"time"
)

type MemberStatus string

const (
	MemberStatusActive    MemberStatus = "active"
	MemberStatusSuspended MemberStatus = "suspended"
	MemberStatusClosed    MemberStatus = "closed"
)

func (s MemberStatus) Valid() bool {
	switch s {
	case MemberStatusActive, MemberStatusSuspended, MemberStatusClosed:
		return true
	}
	return false
}

// CanTransitionTo reports whether a member may move from s to next.
// closed is terminal; a same-status move is always allowed.
func (s MemberStatus) CanTransitionTo(next MemberStatus) bool {
	if !next.Valid() {
		return false
	}
	if s == next {
		return true
	}
	return s != MemberStatusClosed
}

type Member struct {
	MemberID    string       `json:"memberId"`
	QRCode      string       `json:"qrCode"`
	DisplayName string       `json:"displayName"`
	Contact     string       `json:"contact"`
	Status      MemberStatus `json:"status"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

func (m *Member) Clone() *Member {
	if m == nil {
		return nil
	}
	c := *m
	return &c
}

type QRCodeRecord struct {
	Code      string     `json:"code"`
	MemberID  string     `json:"memberId"`
	IssuedAt  time.Time  `json:"issuedAt"`
	RevokedAt *time.Time `json:"revokedAt,omitempty"`
}

type RegisterRequest struct {
	DisplayName string `json:"displayName"`
	Contact     string `json:"contact"`
}

const (
	maxDisplayNameLen = 128
	maxContactLen     = 64
)

func (r RegisterRequest) Validate() error {
	name := strings.TrimSpace(r.DisplayName)
	if name == "" {
		return NewValidationError("displayName", "is required")
	}
	if len(name) > maxDisplayNameLen {
		return NewValidationError("displayName", "is too long")
	}
	if len(r.Contact) > maxContactLen {
		return NewValidationError("contact", "is too long")
	}
	return nil
}
