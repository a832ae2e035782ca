package processor

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nimasrn/points-ledger/internal/identifier"
	"github.com/nimasrn/points-ledger/internal/model"
	"github.com/nimasrn/points-ledger/internal/queue"
	"github.com/nimasrn/points-ledger/internal/repository/memory"
	"github.com/nimasrn/points-ledger/internal/services"
	"github.com/nimasrn/points-ledger/pkg/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockAuditor struct {
	mock.Mock
}

func (m *MockAuditor) Verify(ctx context.Context, memberID string) (*model.AuditReport, error) {
	args := m.Called(ctx, memberID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.AuditReport), args.Error(1)
}

func eventMessage(t *testing.T, evt model.LedgerEvent) *queue.Message {
	t.Helper()
	raw, err := json.Marshal(evt)
	require.NoError(t, err)
	return &queue.Message{ID: "1-0", Data: raw}
}

type auditFixture struct {
	adapter   redis.RedisAdapter
	members   *services.MembershipService
	processor *services.TransactionProcessor
	audit     *AuditProcessor
}

func newAuditFixture(t *testing.T) *auditFixture {
	_, adapter := newTestAdapter(t)
	store := memory.New()
	require.NoError(t, store.Open(context.Background()))

	ids := identifier.NewGenerator()
	projector := services.NewBalanceProjector(store, 10)
	return &auditFixture{
		adapter:   adapter,
		members:   services.NewMembershipService(store, ids, nil),
		processor: services.NewTransactionProcessor(store, ids, nil),
		audit:     NewAuditProcessor(projector, NewIdempotencyService(adapter, DefaultIdempotencyConfig()), adapter),
	}
}

func TestAuditProcessor_VerifiesCommittedTransactions(t *testing.T) {
	f := newAuditFixture(t)
	ctx := context.Background()

	m, err := f.members.Register(ctx, model.RegisterRequest{DisplayName: "Audit"})
	require.NoError(t, err)
	tx, err := f.processor.Submit(ctx, model.SubmitRequest{MemberID: m.MemberID, Kind: model.KindEarn, Points: 40})
	require.NoError(t, err)

	evt := model.LedgerEvent{
		Type:          model.EventTransactionCommitted,
		MemberID:      m.MemberID,
		TransactionID: tx.TransactionID,
		Sequence:      tx.Sequence,
		Balance:       tx.ResultingBalance,
	}
	require.NoError(t, f.audit.Process(ctx, eventMessage(t, evt)))
	assert.Zero(t, f.audit.Mismatches())
	assert.Equal(t, int64(1), f.audit.verifiedThrough(ctx, m.MemberID))

	done, err := f.audit.idempotency.IsProcessed(ctx, evt.Key())
	require.NoError(t, err)
	assert.True(t, done)

	// redelivery of the same entry is a no-op
	require.NoError(t, f.audit.Process(ctx, eventMessage(t, evt)))
}

func TestAuditProcessor_SkipsCoveredSequences(t *testing.T) {
	_, adapter := newTestAdapter(t)
	auditor := new(MockAuditor)
	p := NewAuditProcessor(auditor, NewIdempotencyService(adapter, DefaultIdempotencyConfig()), adapter)
	ctx := context.Background()

	auditor.On("Verify", mock.Anything, "M1").Return(&model.AuditReport{MemberID: "M1", Entries: 3, Consistent: true}, nil).Once()

	require.NoError(t, p.Process(ctx, eventMessage(t, model.LedgerEvent{Type: model.EventTransactionCommitted, MemberID: "M1", TransactionID: "T3", Sequence: 3})))
	require.NoError(t, p.Process(ctx, eventMessage(t, model.LedgerEvent{Type: model.EventTransactionCommitted, MemberID: "M1", TransactionID: "T2", Sequence: 2})))

	auditor.AssertExpectations(t)
}

func TestAuditProcessor_RecordsMismatch(t *testing.T) {
	_, adapter := newTestAdapter(t)
	auditor := new(MockAuditor)
	p := NewAuditProcessor(auditor, NewIdempotencyService(adapter, DefaultIdempotencyConfig()), adapter)
	ctx := context.Background()

	integrity := &model.IntegrityError{MemberID: "M1", Sequence: 2, Expected: 10, Actual: 15, Detail: "resulting balance mismatch"}
	auditor.On("Verify", mock.Anything, "M1").Return(&model.AuditReport{MemberID: "M1"}, integrity).Once()

	evt := model.LedgerEvent{Type: model.EventMemberStatusChanged, MemberID: "M1", Status: model.MemberStatusSuspended, OccurredAt: time.Now().UTC()}
	require.NoError(t, p.Process(ctx, eventMessage(t, evt)))
	assert.Equal(t, int64(1), p.Mismatches())
	assert.Zero(t, p.verifiedThrough(ctx, "M1"))
	auditor.AssertExpectations(t)
}

func TestAuditProcessor_StoreFailureIsRetried(t *testing.T) {
	_, adapter := newTestAdapter(t)
	auditor := new(MockAuditor)
	idem := NewIdempotencyService(adapter, DefaultIdempotencyConfig())
	p := NewAuditProcessor(auditor, idem, adapter)
	ctx := context.Background()

	auditor.On("Verify", mock.Anything, "M1").Return(nil, model.ErrStoreUnavailable).Once()
	auditor.On("Verify", mock.Anything, "M1").Return(&model.AuditReport{MemberID: "M1", Consistent: true}, nil).Once()

	evt := model.LedgerEvent{Type: model.EventMemberRegistered, MemberID: "M1", OccurredAt: time.Now().UTC()}
	err := p.Process(ctx, eventMessage(t, evt))
	assert.ErrorIs(t, err, model.ErrStoreUnavailable)

	retries, err := idem.GetRetryCount(ctx, evt.Key())
	require.NoError(t, err)
	assert.Equal(t, 1, retries)

	require.NoError(t, p.Process(ctx, eventMessage(t, evt)))
	auditor.AssertExpectations(t)
}

func TestAuditProcessor_UnknownMemberIsAcknowledged(t *testing.T) {
	_, adapter := newTestAdapter(t)
	auditor := new(MockAuditor)
	p := NewAuditProcessor(auditor, NewIdempotencyService(adapter, DefaultIdempotencyConfig()), adapter)

	auditor.On("Verify", mock.Anything, "Mgone").Return(nil, model.ErrNotFound).Once()
	evt := model.LedgerEvent{Type: model.EventMemberRegistered, MemberID: "Mgone"}
	assert.NoError(t, p.Process(context.Background(), eventMessage(t, evt)))
}

func TestAuditProcessor_MalformedEvent(t *testing.T) {
	_, adapter := newTestAdapter(t)
	p := NewAuditProcessor(new(MockAuditor), NewIdempotencyService(adapter, DefaultIdempotencyConfig()), adapter)

	err := p.Process(context.Background(), &queue.Message{ID: "1-0", Data: []byte("{not json")})
	assert.Error(t, err)

	err = p.Process(context.Background(), &queue.Message{ID: "2-0", Data: []byte(`{"type":"member.registered"}`)})
	assert.NoError(t, err)
}

func TestAuditProcessor_LockHeldElsewhere(t *testing.T) {
	_, adapter := newTestAdapter(t)
	idem := NewIdempotencyService(adapter, DefaultIdempotencyConfig())
	p := NewAuditProcessor(new(MockAuditor), idem, adapter)
	ctx := context.Background()

	evt := model.LedgerEvent{Type: model.EventTransactionCommitted, MemberID: "M1", TransactionID: "T9", Sequence: 9}
	_, err := idem.AcquireProcessingLock(ctx, evt.Key())
	require.NoError(t, err)

	err = p.Process(ctx, eventMessage(t, evt))
	assert.True(t, errors.Is(err, ErrLockAcquireFailed))
}
