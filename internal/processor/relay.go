package processor

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/nimasrn/points-ledger/internal/model"
	"github.com/nimasrn/points-ledger/pkg/logger"
	"github.com/nimasrn/points-ledger/pkg/prom"
)

const relayPublishTimeout = 2 * time.Second

type Publisher interface {
	PublishJSON(ctx context.Context, data interface{}, metadata map[string]string) (string, error)
}

// EventRelay forwards in-process ledger events to the stream. A publish
// failure loses that event only; the ledger itself is unaffected.
type EventRelay struct {
	source    <-chan model.LedgerEvent
	publisher Publisher
	published atomic.Int64
	failed    atomic.Int64
}

func NewEventRelay(source <-chan model.LedgerEvent, publisher Publisher) *EventRelay {
	return &EventRelay{source: source, publisher: publisher}
}

// Run returns when the source is closed and drained, or when ctx is done.
func (r *EventRelay) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-r.source:
			if !ok {
				return
			}
			r.forward(ctx, evt)
		}
	}
}

func (r *EventRelay) forward(ctx context.Context, evt model.LedgerEvent) {
	pctx, cancel := context.WithTimeout(ctx, relayPublishTimeout)
	defer cancel()

	meta := map[string]string{
		"type":      string(evt.Type),
		"member_id": evt.MemberID,
		"key":       evt.Key(),
	}
	if _, err := r.publisher.PublishJSON(pctx, evt, meta); err != nil {
		r.failed.Add(1)
		prom.IncEventsDropped()
		logger.Error("ledger event publish failed", "type", evt.Type, "member_id", evt.MemberID, "error", err)
		return
	}
	r.published.Add(1)
	prom.IncEventsPublished()
}

func (r *EventRelay) Published() int64 {
	return r.published.Load()
}

func (r *EventRelay) Failed() int64 {
	return r.failed.Load()
}
