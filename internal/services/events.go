package services

import (
	"sync"
	"sync/atomic"

	"github.com/nimasrn/points-ledger/internal/model"
	"github.com/nimasrn/points-ledger/pkg/logger"
	"github.com/nimasrn/points-ledger/pkg/prom"
)

// EventSink receives notifications after a change is committed. Emit must not
// block the caller; losing an event never affects the committed state.
type EventSink interface {
	Emit(evt model.LedgerEvent)
}

type NopSink struct{}

func (NopSink) Emit(model.LedgerEvent) {}

// ChannelSink buffers events for an asynchronous consumer and drops them
// when the buffer is full.
type ChannelSink struct {
	mu      sync.RWMutex
	closed  bool
	ch      chan model.LedgerEvent
	dropped atomic.Int64
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1024
	}
	return &ChannelSink{ch: make(chan model.LedgerEvent, buffer)}
}

func (s *ChannelSink) Emit(evt model.LedgerEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		s.drop(evt, "sink closed")
		return
	}
	select {
	case s.ch <- evt:
	default:
		s.drop(evt, "buffer full")
	}
}

func (s *ChannelSink) drop(evt model.LedgerEvent, why string) {
	s.dropped.Add(1)
	prom.IncEventsDropped()
	logger.Warn("ledger event dropped", "reason", why, "type", evt.Type, "member_id", evt.MemberID)
}

func (s *ChannelSink) Events() <-chan model.LedgerEvent {
	return s.ch
}

func (s *ChannelSink) Dropped() int64 {
	return s.dropped.Load()
}

// Close stops accepting events; buffered events remain readable.
func (s *ChannelSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}
