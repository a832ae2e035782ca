// Package memory is an in-process LedgerStore for tests and single-node
// development. Appends for one member are serialized through a key lock;
// the maps sit behind one RWMutex that is never held across a blocking call.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nimasrn/points-ledger/internal/model"
	"github.com/nimasrn/points-ledger/internal/repository"
	"github.com/nimasrn/points-ledger/pkg/keylock"
	"github.com/shopspring/decimal"
)

type Store struct {
	lifecycle repository.Lifecycle
	locks     *keylock.Table

	mu           sync.RWMutex
	members      map[string]*model.Member
	qrIndex      map[string]string
	qrHistory    map[string][]*model.QRCodeRecord
	issuedCodes  map[string]struct{}
	transactions map[string]*model.Transaction
	logs         map[string][]*model.Transaction
}

var _ repository.LedgerStore = (*Store)(nil)

func New() *Store {
	return &Store{
		locks:        keylock.New(),
		members:      make(map[string]*model.Member),
		qrIndex:      make(map[string]string),
		qrHistory:    make(map[string][]*model.QRCodeRecord),
		issuedCodes:  make(map[string]struct{}),
		transactions: make(map[string]*model.Transaction),
		logs:         make(map[string][]*model.Transaction),
	}
}

func (s *Store) Open(context.Context) error {
	return s.lifecycle.MarkReady()
}

func (s *Store) Close() error {
	s.lifecycle.MarkClosed()
	return nil
}

func (s *Store) State() repository.State {
	return s.lifecycle.State()
}

func (s *Store) CreateMember(_ context.Context, member *model.Member) error {
	if err := s.lifecycle.Check(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.members[member.MemberID]; ok {
		return fmt.Errorf("%w: member %s exists", model.ErrConflict, member.MemberID)
	}
	if s.codeTaken(member.QRCode) {
		return fmt.Errorf("%w: qr code in use", model.ErrConflict)
	}

	s.members[member.MemberID] = member.Clone()
	s.qrIndex[member.QRCode] = member.MemberID
	s.issuedCodes[member.QRCode] = struct{}{}
	s.qrHistory[member.MemberID] = []*model.QRCodeRecord{{
		Code:     member.QRCode,
		MemberID: member.MemberID,
		IssuedAt: member.CreatedAt,
	}}
	return nil
}

// codeTaken also covers revoked codes, which are never handed out again.
func (s *Store) codeTaken(code string) bool {
	_, ok := s.issuedCodes[code]
	return ok
}

func (s *Store) GetMember(_ context.Context, memberID string) (*model.Member, error) {
	if err := s.lifecycle.Check(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.members[memberID]
	if !ok {
		return nil, model.ErrNotFound
	}
	return m.Clone(), nil
}

func (s *Store) GetMemberByQR(ctx context.Context, code string) (*model.Member, error) {
	if err := s.lifecycle.Check(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	memberID, ok := s.qrIndex[code]
	s.mu.RUnlock()
	if !ok {
		return nil, model.ErrNotFound
	}
	return s.GetMember(ctx, memberID)
}

func (s *Store) FindMembersByContact(_ context.Context, contact string, limit int) ([]*model.Member, error) {
	if err := s.lifecycle.Check(); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > repository.MaxPageSize {
		limit = repository.DefaultPageSize
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var found []*model.Member
	for _, m := range s.members {
		if m.Contact == contact {
			found = append(found, m.Clone())
		}
	}
	sort.Slice(found, func(i, j int) bool {
		if found[i].CreatedAt.Equal(found[j].CreatedAt) {
			return found[i].MemberID < found[j].MemberID
		}
		return found[i].CreatedAt.Before(found[j].CreatedAt)
	})
	if len(found) > limit {
		found = found[:limit]
	}
	return found, nil
}

func (s *Store) UpdateMemberStatus(_ context.Context, memberID string, from, to model.MemberStatus, at time.Time) (*model.Member, error) {
	if err := s.lifecycle.Check(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.members[memberID]
	if !ok {
		return nil, model.ErrNotFound
	}
	if m.Status == to {
		return m.Clone(), nil
	}
	if m.Status != from {
		return nil, fmt.Errorf("%w: member %s is %s, expected %s", model.ErrConflict, memberID, m.Status, from)
	}
	m.Status = to
	m.UpdatedAt = at
	return m.Clone(), nil
}

func (s *Store) ReplaceQRCode(_ context.Context, memberID, oldCode, newCode string, at time.Time) (*model.Member, error) {
	if err := s.lifecycle.Check(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.members[memberID]
	if !ok {
		return nil, model.ErrNotFound
	}
	if m.QRCode != oldCode {
		return nil, fmt.Errorf("%w: qr code of member %s changed concurrently", model.ErrConflict, memberID)
	}
	if s.codeTaken(newCode) {
		return nil, fmt.Errorf("%w: qr code in use", model.ErrConflict)
	}

	for _, r := range s.qrHistory[memberID] {
		if r.Code == oldCode && r.RevokedAt == nil {
			revoked := at
			r.RevokedAt = &revoked
		}
	}
	s.qrHistory[memberID] = append(s.qrHistory[memberID], &model.QRCodeRecord{
		Code:     newCode,
		MemberID: memberID,
		IssuedAt: at,
	})
	delete(s.qrIndex, oldCode)
	s.qrIndex[newCode] = memberID
	s.issuedCodes[newCode] = struct{}{}

	m.QRCode = newCode
	m.UpdatedAt = at
	return m.Clone(), nil
}

func (s *Store) QRHistory(_ context.Context, memberID string) ([]*model.QRCodeRecord, error) {
	if err := s.lifecycle.Check(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.members[memberID]; !ok {
		return nil, model.ErrNotFound
	}
	records := make([]*model.QRCodeRecord, 0, len(s.qrHistory[memberID]))
	for _, r := range s.qrHistory[memberID] {
		c := *r
		records = append(records, &c)
	}
	return records, nil
}

func (s *Store) AppendTransaction(ctx context.Context, tx *model.Transaction) (*model.Transaction, error) {
	if err := s.lifecycle.Check(); err != nil {
		return nil, err
	}

	unlock, err := s.locks.Lock(ctx, tx.MemberID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.transactions[tx.TransactionID]; ok {
		if !existing.SameRequest(tx) {
			return nil, fmt.Errorf("%w: transaction id %s already used for a different request", model.ErrConflict, tx.TransactionID)
		}
		return existing.Clone(), model.ErrDuplicateTransaction
	}
	if _, ok := s.members[tx.MemberID]; !ok {
		return nil, model.ErrNotFound
	}

	log := s.logs[tx.MemberID]
	var balance int64
	if n := len(log); n > 0 {
		balance = log[n-1].ResultingBalance
	}
	next, err := model.ApplyDelta(balance, tx.Delta)
	if err != nil {
		return nil, err
	}

	record := tx.Clone()
	record.Sequence = int64(len(log)) + 1
	record.ResultingBalance = next

	s.transactions[record.TransactionID] = record
	s.logs[record.MemberID] = append(log, record)
	return record.Clone(), nil
}

func (s *Store) GetTransaction(_ context.Context, transactionID string) (*model.Transaction, error) {
	if err := s.lifecycle.Check(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.transactions[transactionID]
	if !ok {
		return nil, model.ErrNotFound
	}
	return tx.Clone(), nil
}

func (s *Store) ListTransactions(_ context.Context, memberID string, page model.Page) (*model.TransactionPage, error) {
	if err := s.lifecycle.Check(); err != nil {
		return nil, err
	}
	page = repository.NormalizePage(page)

	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.members[memberID]; !ok {
		return nil, model.ErrNotFound
	}

	log := s.logs[memberID]
	// sequences are 1-based and dense, so After is also the slice offset
	start := page.After
	if start > int64(len(log)) {
		start = int64(len(log))
	}
	end := start + int64(page.Limit)
	result := &model.TransactionPage{}
	if end < int64(len(log)) {
		result.NextCursor = end
	} else {
		end = int64(len(log))
	}

	result.Items = make([]*model.Transaction, 0, end-start)
	for _, tx := range log[start:end] {
		result.Items = append(result.Items, tx.Clone())
	}
	return result, nil
}

func (s *Store) LatestBalance(_ context.Context, memberID string) (int64, error) {
	if err := s.lifecycle.Check(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.members[memberID]; !ok {
		return 0, model.ErrNotFound
	}
	log := s.logs[memberID]
	if len(log) == 0 {
		return 0, nil
	}
	return log[len(log)-1].ResultingBalance, nil
}

func (s *Store) Stats(context.Context) (*model.LedgerStats, error) {
	if err := s.lifecycle.Check(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &model.LedgerStats{MembersByStatus: make(map[model.MemberStatus]int64)}
	for _, m := range s.members {
		stats.MembersByStatus[m.Status]++
		stats.TotalMembers++
	}
	totals := make(map[model.TransactionKind]decimal.Decimal)
	for _, tx := range s.transactions {
		stats.TransactionCount++
		totals[tx.Kind] = totals[tx.Kind].Add(decimal.NewFromInt(tx.Delta))
	}
	for kind, total := range totals {
		stats.AddKindTotal(kind, total)
	}
	return stats, nil
}
