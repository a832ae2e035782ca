package services

import (
	"testing"

	"github.com/nimasrn/points-ledger/internal/model"
	"github.com/stretchr/testify/assert"
)

func TestChannelSink_DropsWhenFull(t *testing.T) {
	sink := NewChannelSink(2)

	for i := 0; i < 5; i++ {
		sink.Emit(model.LedgerEvent{Type: model.EventTransactionCommitted, MemberID: "M1"})
	}

	assert.Len(t, sink.Events(), 2)
	assert.Equal(t, int64(3), sink.Dropped())
}

func TestChannelSink_CloseKeepsBufferedEvents(t *testing.T) {
	sink := NewChannelSink(4)
	sink.Emit(model.LedgerEvent{Type: model.EventMemberRegistered, MemberID: "M1"})
	sink.Close()
	sink.Close()

	sink.Emit(model.LedgerEvent{Type: model.EventMemberRegistered, MemberID: "M2"})
	assert.Equal(t, int64(1), sink.Dropped())

	var got []string
	for evt := range sink.Events() {
		got = append(got, evt.MemberID)
	}
	assert.Equal(t, []string{"M1"}, got)
}
