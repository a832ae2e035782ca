package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nimasrn/points-ledger/internal/identifier"
	"github.com/nimasrn/points-ledger/internal/model"
	"github.com/nimasrn/points-ledger/pkg/logger"
	"github.com/nimasrn/points-ledger/pkg/prom"
)

const (
	reissueAttempts    = 3
	contactSearchLimit = 50
)

type MembershipService struct {
	store  MemberStore
	ids    IDGenerator
	events EventSink
	now    Clock
}

type MembershipOption func(*MembershipService)

func WithMembershipClock(c Clock) MembershipOption {
	return func(s *MembershipService) { s.now = c }
}

func NewMembershipService(store MemberStore, ids IDGenerator, events EventSink, opts ...MembershipOption) *MembershipService {
	if events == nil {
		events = NopSink{}
	}
	s := &MembershipService{
		store:  store,
		ids:    ids,
		events: events,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MembershipService) Register(ctx context.Context, req model.RegisterRequest) (*model.Member, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	memberID, err := s.ids.NewMembershipID()
	if err != nil {
		return nil, err
	}
	code, err := s.ids.NewQRCode(memberID)
	if err != nil {
		return nil, err
	}

	now := stamp(s.now)
	member := &model.Member{
		MemberID:    memberID,
		QRCode:      code,
		DisplayName: strings.TrimSpace(req.DisplayName),
		Contact:     strings.TrimSpace(req.Contact),
		Status:      model.MemberStatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateMember(ctx, member); err != nil {
		logger.Error("failed to register member", "member_id", memberID, "error", err)
		return nil, err
	}

	prom.IncMemberOperation("register")
	logger.Info("member registered", "member_id", memberID)
	s.events.Emit(model.LedgerEvent{
		Type:       model.EventMemberRegistered,
		MemberID:   memberID,
		Status:     member.Status,
		OccurredAt: now,
	})
	return member, nil
}

// Lookup resolves either a membership id or a current QR code.
func (s *MembershipService) Lookup(ctx context.Context, key string) (*model.Member, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, model.NewValidationError("identifier", "is required")
	}

	primary, secondary := s.store.GetMember, s.store.GetMemberByQR
	if strings.HasPrefix(key, identifier.QRPrefix) {
		primary, secondary = secondary, primary
	}

	member, err := primary(ctx, key)
	if errors.Is(err, model.ErrNotFound) {
		member, err = secondary(ctx, key)
	}
	if err != nil {
		return nil, err
	}
	return member, nil
}

// ReissueQR replaces the member's code; the previous code stops resolving
// immediately. A concurrent reissue makes this call start over against the
// newer code.
func (s *MembershipService) ReissueQR(ctx context.Context, memberID string) (*model.Member, error) {
	member, err := s.store.GetMember(ctx, memberID)
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt < reissueAttempts; attempt++ {
		if member.Status == model.MemberStatusClosed {
			return nil, &model.ValidationError{Field: "memberId", Reason: "member is closed", Err: model.ErrMemberInactive}
		}

		code, err := s.ids.NewQRCode(memberID)
		if err != nil {
			return nil, err
		}
		if code == member.QRCode {
			continue
		}

		now := stamp(s.now)
		updated, err := s.store.ReplaceQRCode(ctx, memberID, member.QRCode, code, now)
		if err == nil {
			prom.IncMemberOperation("reissue_qr")
			logger.Info("member qr code reissued", "member_id", memberID)
			s.events.Emit(model.LedgerEvent{
				Type:       model.EventMemberQRReissued,
				MemberID:   memberID,
				Status:     updated.Status,
				OccurredAt: now,
			})
			return updated, nil
		}
		if !errors.Is(err, model.ErrConflict) {
			return nil, err
		}

		logger.Warn("qr reissue raced, reloading member", "member_id", memberID, "attempt", attempt+1)
		if member, err = s.store.GetMember(ctx, memberID); err != nil {
			return nil, err
		}
	}

	return nil, fmt.Errorf("%w: could not reissue qr code for member %s", model.ErrConflict, memberID)
}

// SetStatus moves between active and suspended freely; closed is terminal.
func (s *MembershipService) SetStatus(ctx context.Context, memberID string, status model.MemberStatus) (*model.Member, error) {
	if !status.Valid() {
		return nil, model.NewValidationError("status", "must be one of active, suspended, closed")
	}

	member, err := s.store.GetMember(ctx, memberID)
	if err != nil {
		return nil, err
	}
	if member.Status == status {
		return member, nil
	}
	if !member.Status.CanTransitionTo(status) {
		return nil, &model.ValidationError{
			Field:  "status",
			Reason: fmt.Sprintf("cannot change from %s to %s", member.Status, status),
			Err:    model.ErrInvalidTransition,
		}
	}

	now := stamp(s.now)
	updated, err := s.store.UpdateMemberStatus(ctx, memberID, member.Status, status, now)
	if err != nil {
		return nil, err
	}

	prom.IncMemberOperation("set_status")
	logger.Info("member status changed", "member_id", memberID, "from", member.Status, "to", status)
	s.events.Emit(model.LedgerEvent{
		Type:       model.EventMemberStatusChanged,
		MemberID:   memberID,
		Status:     status,
		OccurredAt: now,
	})
	return updated, nil
}

func (s *MembershipService) FindByContact(ctx context.Context, contact string) ([]*model.Member, error) {
	contact = strings.TrimSpace(contact)
	if contact == "" {
		return nil, model.NewValidationError("contact", "is required")
	}
	return s.store.FindMembersByContact(ctx, contact, contactSearchLimit)
}

func (s *MembershipService) QRHistory(ctx context.Context, memberID string) ([]*model.QRCodeRecord, error) {
	return s.store.QRHistory(ctx, memberID)
}
