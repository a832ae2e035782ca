package repository

import (
	"context"
	"iter"
	"sync/atomic"
	"time"

	"github.com/nimasrn/points-ledger/internal/model"
)

const (
	DefaultPageSize = 100
	MaxPageSize     = 1000
)

// LedgerStore is the only place durable ledger state changes.
// Every data method fails with model.ErrStoreUnavailable unless the store is Ready.
type LedgerStore interface {
	Open(ctx context.Context) error
	Close() error
	State() State

	CreateMember(ctx context.Context, member *model.Member) error
	GetMember(ctx context.Context, memberID string) (*model.Member, error)
	GetMemberByQR(ctx context.Context, code string) (*model.Member, error)
	FindMembersByContact(ctx context.Context, contact string, limit int) ([]*model.Member, error)
	UpdateMemberStatus(ctx context.Context, memberID string, from, to model.MemberStatus, at time.Time) (*model.Member, error)
	ReplaceQRCode(ctx context.Context, memberID, oldCode, newCode string, at time.Time) (*model.Member, error)
	QRHistory(ctx context.Context, memberID string) ([]*model.QRCodeRecord, error)

	// AppendTransaction assigns Sequence and ResultingBalance and commits tx
	// atomically with respect to other appends for the same member. A replay
	// of a committed id returns the stored record with ErrDuplicateTransaction;
	// the same id carrying a different request is ErrConflict.
	AppendTransaction(ctx context.Context, tx *model.Transaction) (*model.Transaction, error)
	GetTransaction(ctx context.Context, transactionID string) (*model.Transaction, error)
	ListTransactions(ctx context.Context, memberID string, page model.Page) (*model.TransactionPage, error)
	LatestBalance(ctx context.Context, memberID string) (int64, error)
	Stats(ctx context.Context) (*model.LedgerStats, error)
}

type State int32

const (
	StateUninitialized State = iota
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Lifecycle tracks Uninitialized -> Ready -> Closed for a store handle.
type Lifecycle struct {
	state atomic.Int32
}

func (l *Lifecycle) State() State {
	return State(l.state.Load())
}

// MarkReady fails once the handle has been closed; a closed store is not reopened.
func (l *Lifecycle) MarkReady() error {
	if l.state.CompareAndSwap(int32(StateUninitialized), int32(StateReady)) {
		return nil
	}
	if l.State() == StateReady {
		return nil
	}
	return model.ErrStoreUnavailable
}

func (l *Lifecycle) MarkClosed() {
	l.state.Store(int32(StateClosed))
}

func (l *Lifecycle) Check() error {
	if l.State() != StateReady {
		return model.ErrStoreUnavailable
	}
	return nil
}

// NormalizePage clamps a page request to store limits.
func NormalizePage(page model.Page) model.Page {
	if page.After < 0 {
		page.After = 0
	}
	if page.Limit <= 0 {
		page.Limit = DefaultPageSize
	}
	if page.Limit > MaxPageSize {
		page.Limit = MaxPageSize
	}
	return page
}

type TransactionLister interface {
	ListTransactions(ctx context.Context, memberID string, page model.Page) (*model.TransactionPage, error)
}

// Transactions walks a member's log oldest-first, fetching pageSize entries
// at a time. Each range over the returned sequence starts from the beginning.
func Transactions(ctx context.Context, store TransactionLister, memberID string, pageSize int) iter.Seq2[*model.Transaction, error] {
	return func(yield func(*model.Transaction, error) bool) {
		page := NormalizePage(model.Page{Limit: pageSize})
		for {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			res, err := store.ListTransactions(ctx, memberID, page)
			if err != nil {
				yield(nil, err)
				return
			}
			for _, tx := range res.Items {
				if !yield(tx, nil) {
					return
				}
			}
			if res.NextCursor == 0 {
				return
			}
			page.After = res.NextCursor
		}
	}
}
