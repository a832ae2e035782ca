package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/nimasrn/points-ledger/internal/model"
	"github.com/nimasrn/points-ledger/pkg/keylock"
	"github.com/nimasrn/points-ledger/pkg/logger"
	"github.com/nimasrn/points-ledger/pkg/pg"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var errRetryAppend = errors.New("append raced with a concurrent writer")

// LedgerRepository is the relational LedgerStore. Appends for one member are
// serialized in-process by a key lock and across processes by a row lock on
// the member record.
type LedgerRepository struct {
	db          *pg.DB
	locks       *keylock.Table
	lifecycle   Lifecycle
	autoMigrate bool
}

type LedgerRepositoryOption func(*LedgerRepository)

// WithAutoMigrate creates the schema from the entities on Open. Used with
// SQLite; Postgres deployments run the goose migrations instead.
func WithAutoMigrate() LedgerRepositoryOption {
	return func(r *LedgerRepository) { r.autoMigrate = true }
}

func NewLedgerRepository(db *pg.DB, opts ...LedgerRepositoryOption) *LedgerRepository {
	r := &LedgerRepository{
		db:    db,
		locks: keylock.New(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *LedgerRepository) Open(ctx context.Context) error {
	if r.State() == StateClosed {
		return model.ErrStoreUnavailable
	}
	if err := r.db.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %w", model.ErrStoreUnavailable, err)
	}
	if r.autoMigrate {
		if err := r.db.Write(ctx).AutoMigrate(&MemberEntity{}, &QRCodeEntity{}, &TransactionEntity{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
	}
	return r.lifecycle.MarkReady()
}

func (r *LedgerRepository) Close() error {
	if r.lifecycle.State() == StateClosed {
		return nil
	}
	r.lifecycle.MarkClosed()
	return r.db.Close()
}

func (r *LedgerRepository) State() State {
	return r.lifecycle.State()
}

func (r *LedgerRepository) CreateMember(ctx context.Context, member *model.Member) error {
	if err := r.lifecycle.Check(); err != nil {
		return err
	}

	err := r.db.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := r.db.Write(ctx).Create(toMemberEntity(member)).Error; err != nil {
			return err
		}
		return r.db.Write(ctx).Create(&QRCodeEntity{
			Code:     member.QRCode,
			MemberID: member.MemberID,
			IssuedAt: member.CreatedAt,
		}).Error
	})
	return mapError(err)
}

func (r *LedgerRepository) GetMember(ctx context.Context, memberID string) (*model.Member, error) {
	if err := r.lifecycle.Check(); err != nil {
		return nil, err
	}
	return r.findMember(ctx, "member_id = ?", memberID)
}

func (r *LedgerRepository) GetMemberByQR(ctx context.Context, code string) (*model.Member, error) {
	if err := r.lifecycle.Check(); err != nil {
		return nil, err
	}
	return r.findMember(ctx, "qr_code = ?", code)
}

func (r *LedgerRepository) findMember(ctx context.Context, query string, arg string) (*model.Member, error) {
	var entity MemberEntity
	if err := r.db.Read(ctx).Where(query, arg).Take(&entity).Error; err != nil {
		return nil, mapError(err)
	}
	return toMemberModel(&entity), nil
}

func (r *LedgerRepository) FindMembersByContact(ctx context.Context, contact string, limit int) ([]*model.Member, error) {
	if err := r.lifecycle.Check(); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > MaxPageSize {
		limit = DefaultPageSize
	}

	var entities []*MemberEntity
	err := r.db.Read(ctx).
		Where("contact = ?", contact).
		Order("created_at ASC").
		Limit(limit).
		Find(&entities).
		Error
	if err != nil {
		return nil, mapError(err)
	}
	return toMemberModels(entities), nil
}

func (r *LedgerRepository) UpdateMemberStatus(ctx context.Context, memberID string, from, to model.MemberStatus, at time.Time) (*model.Member, error) {
	if err := r.lifecycle.Check(); err != nil {
		return nil, err
	}

	result := r.db.Write(ctx).
		Model(&MemberEntity{}).
		Where("member_id = ? AND status = ?", memberID, string(from)).
		Updates(map[string]any{"status": string(to), "updated_at": at})
	if result.Error != nil {
		return nil, mapError(result.Error)
	}

	member, err := r.findMember(ctx, "member_id = ?", memberID)
	if err != nil {
		return nil, err
	}
	if result.RowsAffected == 0 && member.Status != to {
		return nil, fmt.Errorf("%w: member %s is %s, expected %s", model.ErrConflict, memberID, member.Status, from)
	}
	return member, nil
}

func (r *LedgerRepository) ReplaceQRCode(ctx context.Context, memberID, oldCode, newCode string, at time.Time) (*model.Member, error) {
	if err := r.lifecycle.Check(); err != nil {
		return nil, err
	}

	unlock, err := r.locks.Lock(ctx, memberID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var updated *model.Member
	err = r.db.WithinTransaction(ctx, func(ctx context.Context) error {
		entity, err := r.lockMember(ctx, memberID)
		if err != nil {
			return err
		}
		if entity.QRCode != oldCode {
			return fmt.Errorf("%w: qr code of member %s changed concurrently", model.ErrConflict, memberID)
		}

		if err := r.db.Write(ctx).Create(&QRCodeEntity{Code: newCode, MemberID: memberID, IssuedAt: at}).Error; err != nil {
			return err
		}
		err = r.db.Write(ctx).
			Model(&QRCodeEntity{}).
			Where("code = ? AND revoked_at IS NULL", oldCode).
			Update("revoked_at", at).
			Error
		if err != nil {
			return err
		}
		err = r.db.Write(ctx).
			Model(&MemberEntity{}).
			Where("member_id = ?", memberID).
			Updates(map[string]any{"qr_code": newCode, "updated_at": at}).
			Error
		if err != nil {
			return err
		}

		entity.QRCode = newCode
		entity.UpdatedAt = at
		updated = toMemberModel(entity)
		return nil
	})
	if err != nil {
		return nil, mapError(err)
	}
	return updated, nil
}

func (r *LedgerRepository) QRHistory(ctx context.Context, memberID string) ([]*model.QRCodeRecord, error) {
	if err := r.lifecycle.Check(); err != nil {
		return nil, err
	}
	if _, err := r.findMember(ctx, "member_id = ?", memberID); err != nil {
		return nil, err
	}

	var entities []*QRCodeEntity
	err := r.db.Read(ctx).
		Where("member_id = ?", memberID).
		Order("issued_at ASC").
		Find(&entities).
		Error
	if err != nil {
		return nil, mapError(err)
	}
	return toQRCodeModels(entities), nil
}

// AppendTransaction retries only when a concurrent writer wins a unique index
// between our checks and the insert; the retry then observes that writer.
func (r *LedgerRepository) AppendTransaction(ctx context.Context, tx *model.Transaction) (*model.Transaction, error) {
	const maxRetries = 3
	const baseDelay = 2 * time.Millisecond

	if err := r.lifecycle.Check(); err != nil {
		return nil, err
	}

	unlock, err := r.locks.Lock(ctx, tx.MemberID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	for attempt := 0; ; attempt++ {
		committed, err := r.appendAttempt(ctx, tx)
		if !errors.Is(err, errRetryAppend) {
			return committed, err
		}
		if attempt == maxRetries {
			return nil, fmt.Errorf("%w: transaction %s", model.ErrConflict, tx.TransactionID)
		}

		delay := baseDelay * time.Duration(1<<attempt)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (r *LedgerRepository) appendAttempt(ctx context.Context, tx *model.Transaction) (*model.Transaction, error) {
	var committed *model.Transaction

	err := r.db.WithinTransaction(ctx, func(ctx context.Context) error {
		existing, err := r.findTransaction(ctx, tx.TransactionID)
		switch {
		case err == nil:
			if !existing.SameRequest(tx) {
				return fmt.Errorf("%w: transaction id %s already used for a different request", model.ErrConflict, tx.TransactionID)
			}
			committed = existing
			return model.ErrDuplicateTransaction
		case !errors.Is(err, model.ErrNotFound):
			return err
		}

		if _, err := r.lockMember(ctx, tx.MemberID); err != nil {
			return err
		}

		var last TransactionEntity
		var balance, sequence int64
		err = r.db.Write(ctx).
			Where("member_id = ?", tx.MemberID).
			Order("sequence DESC").
			Limit(1).
			Take(&last).
			Error
		switch {
		case err == nil:
			balance, sequence = last.ResultingBalance, last.Sequence
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		next, err := model.ApplyDelta(balance, tx.Delta)
		if err != nil {
			return err
		}

		record := tx.Clone()
		record.Sequence = sequence + 1
		record.ResultingBalance = next
		if err := r.db.Write(ctx).Create(toTransactionEntity(record)).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return errRetryAppend
			}
			return err
		}
		committed = record
		return nil
	})

	switch {
	case err == nil:
		return committed, nil
	case errors.Is(err, model.ErrDuplicateTransaction):
		return committed, err
	case errors.Is(err, errRetryAppend):
		return nil, err
	}
	return nil, mapError(err)
}

func (r *LedgerRepository) lockMember(ctx context.Context, memberID string) (*MemberEntity, error) {
	var entity MemberEntity
	err := r.db.Write(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("member_id = ?", memberID).
		Take(&entity).
		Error
	if err != nil {
		return nil, mapError(err)
	}
	return &entity, nil
}

func (r *LedgerRepository) GetTransaction(ctx context.Context, transactionID string) (*model.Transaction, error) {
	if err := r.lifecycle.Check(); err != nil {
		return nil, err
	}
	return r.findTransaction(ctx, transactionID)
}

func (r *LedgerRepository) findTransaction(ctx context.Context, transactionID string) (*model.Transaction, error) {
	var entity TransactionEntity
	if err := r.db.Read(ctx).Where("transaction_id = ?", transactionID).Take(&entity).Error; err != nil {
		return nil, mapError(err)
	}
	return toTransactionModel(&entity), nil
}

func (r *LedgerRepository) ListTransactions(ctx context.Context, memberID string, page model.Page) (*model.TransactionPage, error) {
	if err := r.lifecycle.Check(); err != nil {
		return nil, err
	}
	if _, err := r.findMember(ctx, "member_id = ?", memberID); err != nil {
		return nil, err
	}
	page = NormalizePage(page)

	var entities []*TransactionEntity
	err := r.db.Read(ctx).
		Where("member_id = ? AND sequence > ?", memberID, page.After).
		Order("sequence ASC").
		Limit(page.Limit + 1).
		Find(&entities).
		Error
	if err != nil {
		return nil, mapError(err)
	}

	result := &model.TransactionPage{}
	if len(entities) > page.Limit {
		entities = entities[:page.Limit]
		result.NextCursor = entities[len(entities)-1].Sequence
	}
	result.Items = toTransactionModels(entities)
	return result, nil
}

func (r *LedgerRepository) LatestBalance(ctx context.Context, memberID string) (int64, error) {
	if err := r.lifecycle.Check(); err != nil {
		return 0, err
	}
	if _, err := r.findMember(ctx, "member_id = ?", memberID); err != nil {
		return 0, err
	}

	var last TransactionEntity
	err := r.db.Read(ctx).
		Select("resulting_balance").
		Where("member_id = ?", memberID).
		Order("sequence DESC").
		Limit(1).
		Take(&last).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, mapError(err)
	}
	return last.ResultingBalance, nil
}

type statusCount struct {
	Status string
	Total  int64
}

type kindSum struct {
	Kind  string
	Count int64
	Total decimal.Decimal
}

func (r *LedgerRepository) Stats(ctx context.Context) (*model.LedgerStats, error) {
	if err := r.lifecycle.Check(); err != nil {
		return nil, err
	}

	var statuses []statusCount
	err := r.db.Read(ctx).
		Model(&MemberEntity{}).
		Select("status, COUNT(*) AS total").
		Group("status").
		Scan(&statuses).
		Error
	if err != nil {
		return nil, mapError(err)
	}

	// sqlite's integer SUM fails on overflow while TOTAL widens to a float;
	// postgres sums bigint into numeric.
	sum := "SUM(delta)"
	read := r.db.Read(ctx)
	if read.Dialector.Name() == "sqlite" {
		sum = "TOTAL(delta)"
	}
	var kinds []kindSum
	err = read.
		Model(&TransactionEntity{}).
		Select("kind, COUNT(*) AS count, COALESCE(" + sum + ", 0) AS total").
		Group("kind").
		Scan(&kinds).
		Error
	if err != nil {
		return nil, mapError(err)
	}

	stats := &model.LedgerStats{MembersByStatus: make(map[model.MemberStatus]int64)}
	for _, s := range statuses {
		stats.MembersByStatus[model.MemberStatus(s.Status)] = s.Total
		stats.TotalMembers += s.Total
	}
	for _, k := range kinds {
		stats.TransactionCount += k.Count
		stats.AddKindTotal(model.TransactionKind(k.Kind), k.Total)
	}
	return stats, nil
}

// mapError folds driver errors into the ledger taxonomy, keeping the cause wrapped.
func mapError(err error) error {
	if err == nil {
		return nil
	}

	var netErr net.Error
	switch {
	case errors.Is(err, model.ErrNotFound),
		errors.Is(err, model.ErrConflict),
		errors.Is(err, model.ErrInsufficientBalance),
		errors.Is(err, model.ErrStoreUnavailable),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, gorm.ErrRecordNotFound):
		return model.ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %w", model.ErrConflict, err)
	case errors.Is(err, driver.ErrBadConn),
		errors.Is(err, sql.ErrConnDone),
		errors.As(err, &netErr):
		logger.Error("ledger store unreachable", "error", err)
		return fmt.Errorf("%w: %w", model.ErrStoreUnavailable, err)
	}
	return err
}
