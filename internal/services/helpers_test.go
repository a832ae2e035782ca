package services

import (
	"context"
	"testing"
	"time"

	"github.com/nimasrn/points-ledger/internal/identifier"
	"github.com/nimasrn/points-ledger/internal/model"
	"github.com/nimasrn/points-ledger/internal/repository/memory"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 5, 20, 10, 30, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

type ledgerFixture struct {
	store     *memory.Store
	sink      *ChannelSink
	members   *MembershipService
	processor *TransactionProcessor
	projector *BalanceProjector
	reporting *ReportingService
}

func newLedgerFixture(t *testing.T) *ledgerFixture {
	t.Helper()
	store := memory.New()
	require.NoError(t, store.Open(context.Background()))

	ids := identifier.NewGenerator()
	sink := NewChannelSink(4096)
	policy, err := NewEarningPolicy("10", 1)
	require.NoError(t, err)

	return &ledgerFixture{
		store:     store,
		sink:      sink,
		members:   NewMembershipService(store, ids, sink, WithMembershipClock(fixedClock)),
		processor: NewTransactionProcessor(store, ids, sink, WithProcessorClock(fixedClock), WithEarningPolicy(policy)),
		projector: NewBalanceProjector(store, 3),
		reporting: NewReportingService(store),
	}
}

func (f *ledgerFixture) register(t *testing.T) *model.Member {
	t.Helper()
	m, err := f.members.Register(context.Background(), model.RegisterRequest{DisplayName: "Dana", Contact: "+15550100"})
	require.NoError(t, err)
	return m
}

func (f *ledgerFixture) drain() []model.LedgerEvent {
	var events []model.LedgerEvent
	for {
		select {
		case evt := <-f.sink.Events():
			events = append(events, evt)
		default:
			return events
		}
	}
}
