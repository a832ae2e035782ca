// Package mongostore is a MongoDB LedgerStore. It has no multi-document
// transactions; an append claims the next (memberId, sequence) slot through a
// unique index and retries when another writer took it first.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/nimasrn/points-ledger/internal/model"
	"github.com/nimasrn/points-ledger/internal/repository"
	"github.com/nimasrn/points-ledger/pkg/keylock"
	"github.com/nimasrn/points-ledger/pkg/logger"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	membersCollection      = "members"
	qrCodesCollection      = "member_qr_codes"
	transactionsCollection = "transactions"

	DefaultAppendRetries = 8
)

type Config struct {
	URI           string
	Database      string
	AppendRetries int
}

type Store struct {
	client    *mongo.Client
	members   *mongo.Collection
	qrCodes   *mongo.Collection
	txs       *mongo.Collection
	locks     *keylock.Table
	lifecycle repository.Lifecycle
	retries   int
}

var _ repository.LedgerStore = (*Store)(nil)

// Connect dials the cluster; the store is not usable until Open succeeds.
func Connect(ctx context.Context, cfg Config) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrStoreUnavailable, err)
	}
	return New(client, cfg.Database, cfg.AppendRetries), nil
}

func New(client *mongo.Client, database string, appendRetries int) *Store {
	if appendRetries <= 0 {
		appendRetries = DefaultAppendRetries
	}
	db := client.Database(database)
	return &Store{
		client:  client,
		members: db.Collection(membersCollection),
		qrCodes: db.Collection(qrCodesCollection),
		txs:     db.Collection(transactionsCollection),
		locks:   keylock.New(),
		retries: appendRetries,
	}
}

func (s *Store) Open(ctx context.Context) error {
	if s.State() == repository.StateClosed {
		return model.ErrStoreUnavailable
	}
	if err := s.client.Ping(ctx, nil); err != nil {
		return fmt.Errorf("%w: %w", model.ErrStoreUnavailable, err)
	}
	if err := s.ensureIndexes(ctx); err != nil {
		return err
	}
	return s.lifecycle.MarkReady()
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	_, err := s.members.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "qrCode", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "contact", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("create member indexes: %w", err)
	}
	_, err = s.qrCodes.Indexes().CreateOne(ctx, mongo.IndexModel{Keys: bson.D{{Key: "memberId", Value: 1}}})
	if err != nil {
		return fmt.Errorf("create qr code indexes: %w", err)
	}
	_, err = s.txs.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "memberId", Value: 1}, {Key: "sequence", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("create transaction indexes: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	if s.State() == repository.StateClosed {
		return nil
	}
	s.lifecycle.MarkClosed()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *Store) State() repository.State {
	return s.lifecycle.State()
}

// CreateMember claims the QR code first so a code can never be handed out twice,
// then inserts the member and releases the claim if that fails.
func (s *Store) CreateMember(ctx context.Context, member *model.Member) error {
	if err := s.lifecycle.Check(); err != nil {
		return err
	}

	claim := &qrCodeDocument{Code: member.QRCode, MemberID: member.MemberID, IssuedAt: member.CreatedAt}
	if _, err := s.qrCodes.InsertOne(ctx, claim); err != nil {
		return mapError(err)
	}
	if _, err := s.members.InsertOne(ctx, toMemberDocument(member)); err != nil {
		if _, cleanupErr := s.qrCodes.DeleteOne(ctx, bson.M{"_id": member.QRCode}); cleanupErr != nil {
			logger.Warn("failed to release qr code claim", "code", member.QRCode, "error", cleanupErr)
		}
		return mapError(err)
	}
	return nil
}

func (s *Store) GetMember(ctx context.Context, memberID string) (*model.Member, error) {
	if err := s.lifecycle.Check(); err != nil {
		return nil, err
	}
	return s.findMember(ctx, bson.M{"_id": memberID})
}

func (s *Store) GetMemberByQR(ctx context.Context, code string) (*model.Member, error) {
	if err := s.lifecycle.Check(); err != nil {
		return nil, err
	}
	return s.findMember(ctx, bson.M{"qrCode": code})
}

func (s *Store) findMember(ctx context.Context, filter bson.M) (*model.Member, error) {
	var doc memberDocument
	if err := s.members.FindOne(ctx, filter).Decode(&doc); err != nil {
		return nil, mapError(err)
	}
	return doc.toModel(), nil
}

func (s *Store) FindMembersByContact(ctx context.Context, contact string, limit int) ([]*model.Member, error) {
	if err := s.lifecycle.Check(); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > repository.MaxPageSize {
		limit = repository.DefaultPageSize
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}}).
		SetLimit(int64(limit))
	cursor, err := s.members.Find(ctx, bson.M{"contact": contact}, opts)
	if err != nil {
		return nil, mapError(err)
	}
	defer cursor.Close(ctx)

	members := make([]*model.Member, 0)
	for cursor.Next(ctx) {
		var doc memberDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		members = append(members, doc.toModel())
	}
	return members, mapError(cursor.Err())
}

func (s *Store) UpdateMemberStatus(ctx context.Context, memberID string, from, to model.MemberStatus, at time.Time) (*model.Member, error) {
	if err := s.lifecycle.Check(); err != nil {
		return nil, err
	}

	res, err := s.members.UpdateOne(ctx,
		bson.M{"_id": memberID, "status": string(from)},
		bson.M{"$set": bson.M{"status": string(to), "updatedAt": at}},
	)
	if err != nil {
		return nil, mapError(err)
	}

	member, err := s.findMember(ctx, bson.M{"_id": memberID})
	if err != nil {
		return nil, err
	}
	if res.MatchedCount == 0 && member.Status != to {
		return nil, fmt.Errorf("%w: member %s is %s, expected %s", model.ErrConflict, memberID, member.Status, from)
	}
	return member, nil
}

func (s *Store) ReplaceQRCode(ctx context.Context, memberID, oldCode, newCode string, at time.Time) (*model.Member, error) {
	if err := s.lifecycle.Check(); err != nil {
		return nil, err
	}

	unlock, err := s.locks.Lock(ctx, memberID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if _, err := s.qrCodes.InsertOne(ctx, &qrCodeDocument{Code: newCode, MemberID: memberID, IssuedAt: at}); err != nil {
		return nil, mapError(err)
	}

	res, err := s.members.UpdateOne(ctx,
		bson.M{"_id": memberID, "qrCode": oldCode},
		bson.M{"$set": bson.M{"qrCode": newCode, "updatedAt": at}},
	)
	if err != nil || res.MatchedCount == 0 {
		if _, cleanupErr := s.qrCodes.DeleteOne(ctx, bson.M{"_id": newCode}); cleanupErr != nil {
			logger.Warn("failed to release qr code claim", "code", newCode, "error", cleanupErr)
		}
		if err != nil {
			return nil, mapError(err)
		}
		if _, err := s.findMember(ctx, bson.M{"_id": memberID}); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: qr code of member %s changed concurrently", model.ErrConflict, memberID)
	}

	_, err = s.qrCodes.UpdateOne(ctx,
		bson.M{"_id": oldCode, "revokedAt": bson.M{"$exists": false}},
		bson.M{"$set": bson.M{"revokedAt": at}},
	)
	if err != nil {
		logger.Warn("failed to mark qr code revoked", "code", oldCode, "error", err)
	}

	return s.findMember(ctx, bson.M{"_id": memberID})
}

func (s *Store) QRHistory(ctx context.Context, memberID string) ([]*model.QRCodeRecord, error) {
	if err := s.lifecycle.Check(); err != nil {
		return nil, err
	}
	if _, err := s.findMember(ctx, bson.M{"_id": memberID}); err != nil {
		return nil, err
	}

	cursor, err := s.qrCodes.Find(ctx, bson.M{"memberId": memberID}, options.Find().SetSort(bson.D{{Key: "issuedAt", Value: 1}}))
	if err != nil {
		return nil, mapError(err)
	}
	defer cursor.Close(ctx)

	records := make([]*model.QRCodeRecord, 0)
	for cursor.Next(ctx) {
		var doc qrCodeDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		records = append(records, doc.toModel())
	}
	return records, mapError(cursor.Err())
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

	for attempt := 0; attempt < s.retries; attempt++ {
		existing, err := s.findTransaction(ctx, tx.TransactionID)
		switch {
		case err == nil:
			if !existing.SameRequest(tx) {
				return nil, fmt.Errorf("%w: transaction id %s already used for a different request", model.ErrConflict, tx.TransactionID)
			}
			return existing, model.ErrDuplicateTransaction
		case !errors.Is(err, model.ErrNotFound):
			return nil, err
		}

		if _, err := s.findMember(ctx, bson.M{"_id": tx.MemberID}); err != nil {
			return nil, err
		}

		var balance, sequence int64
		last, err := s.lastTransaction(ctx, tx.MemberID)
		switch {
		case err == nil:
			balance, sequence = last.ResultingBalance, last.Sequence
		case !errors.Is(err, model.ErrNotFound):
			return nil, err
		}

		next, err := model.ApplyDelta(balance, tx.Delta)
		if err != nil {
			return nil, err
		}

		record := tx.Clone()
		record.Sequence = sequence + 1
		record.ResultingBalance = next

		_, err = s.txs.InsertOne(ctx, toTransactionDocument(record))
		if err == nil {
			return record, nil
		}
		if !mongo.IsDuplicateKeyError(err) {
			return nil, mapError(err)
		}
		// another writer took the slot or the id; the next pass sees which
		logger.Debug("append lost a race, retrying", "member_id", tx.MemberID, "attempt", attempt+1)
	}

	return nil, fmt.Errorf("%w: transaction %s could not claim a sequence after %d attempts", model.ErrConflict, tx.TransactionID, s.retries)
}

func (s *Store) lastTransaction(ctx context.Context, memberID string) (*model.Transaction, error) {
	var doc transactionDocument
	opts := options.FindOne().SetSort(bson.D{{Key: "sequence", Value: -1}})
	if err := s.txs.FindOne(ctx, bson.M{"memberId": memberID}, opts).Decode(&doc); err != nil {
		return nil, mapError(err)
	}
	return doc.toModel(), nil
}

func (s *Store) GetTransaction(ctx context.Context, transactionID string) (*model.Transaction, error) {
	if err := s.lifecycle.Check(); err != nil {
		return nil, err
	}
	return s.findTransaction(ctx, transactionID)
}

func (s *Store) findTransaction(ctx context.Context, transactionID string) (*model.Transaction, error) {
	var doc transactionDocument
	if err := s.txs.FindOne(ctx, bson.M{"_id": transactionID}).Decode(&doc); err != nil {
		return nil, mapError(err)
	}
	return doc.toModel(), nil
}

func (s *Store) ListTransactions(ctx context.Context, memberID string, page model.Page) (*model.TransactionPage, error) {
	if err := s.lifecycle.Check(); err != nil {
		return nil, err
	}
	if _, err := s.findMember(ctx, bson.M{"_id": memberID}); err != nil {
		return nil, err
	}
	page = repository.NormalizePage(page)

	opts := options.Find().
		SetSort(bson.D{{Key: "sequence", Value: 1}}).
		SetLimit(int64(page.Limit + 1))
	cursor, err := s.txs.Find(ctx, bson.M{"memberId": memberID, "sequence": bson.M{"$gt": page.After}}, opts)
	if err != nil {
		return nil, mapError(err)
	}
	defer cursor.Close(ctx)

	items := make([]*model.Transaction, 0, page.Limit)
	for cursor.Next(ctx) {
		var doc transactionDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		items = append(items, doc.toModel())
	}
	if err := cursor.Err(); err != nil {
		return nil, mapError(err)
	}

	result := &model.TransactionPage{}
	if len(items) > page.Limit {
		items = items[:page.Limit]
		result.NextCursor = items[len(items)-1].Sequence
	}
	result.Items = items
	return result, nil
}

func (s *Store) LatestBalance(ctx context.Context, memberID string) (int64, error) {
	if err := s.lifecycle.Check(); err != nil {
		return 0, err
	}
	if _, err := s.findMember(ctx, bson.M{"_id": memberID}); err != nil {
		return 0, err
	}

	last, err := s.lastTransaction(ctx, memberID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return last.ResultingBalance, nil
}

func (s *Store) Stats(ctx context.Context) (*model.LedgerStats, error) {
	if err := s.lifecycle.Check(); err != nil {
		return nil, err
	}

	stats := &model.LedgerStats{MembersByStatus: make(map[model.MemberStatus]int64)}

	var statuses []struct {
		Status string `bson:"_id"`
		Total  int64  `bson:"total"`
	}
	if err := s.aggregate(ctx, s.members, mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$status"},
			{Key: "total", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
	}, &statuses); err != nil {
		return nil, err
	}
	for _, st := range statuses {
		stats.MembersByStatus[model.MemberStatus(st.Status)] = st.Total
		stats.TotalMembers += st.Total
	}

	var kinds []struct {
		Kind  string `bson:"_id"`
		Count int64         `bson:"count"`
		Total bson.RawValue `bson:"total"`
	}
	if err := s.aggregate(ctx, s.txs, mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$kind"},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "total", Value: bson.D{{Key: "$sum", Value: "$delta"}}},
		}}},
	}, &kinds); err != nil {
		return nil, err
	}
	for _, k := range kinds {
		stats.TransactionCount += k.Count
		stats.AddKindTotal(model.TransactionKind(k.Kind), sumValue(k.Total))
	}
	return stats, nil
}

func (s *Store) aggregate(ctx context.Context, coll *mongo.Collection, pipeline mongo.Pipeline, out any) error {
	cursor, err := coll.Aggregate(ctx, pipeline)
	if err != nil {
		return mapError(err)
	}
	defer cursor.Close(ctx)
	return mapError(cursor.All(ctx, out))
}

// sumValue reads a $sum result. Mongo widens an overflowing long sum to a
// double, so every numeric BSON type is accepted.
func sumValue(v bson.RawValue) decimal.Decimal {
	switch v.Type {
	case bson.TypeInt32:
		return decimal.NewFromInt32(v.Int32())
	case bson.TypeInt64:
		return decimal.NewFromInt(v.Int64())
	case bson.TypeDouble:
		f := v.Double()
		switch {
		case math.IsNaN(f):
			return decimal.Zero
		case math.IsInf(f, 1):
			return decimal.NewFromInt(math.MaxInt64)
		case math.IsInf(f, -1):
			return decimal.NewFromInt(math.MinInt64)
		}
		return decimal.NewFromFloat(f)
	case bson.TypeDecimal128:
		if d, err := decimal.NewFromString(v.Decimal128().String()); err == nil {
			return d
		}
	}
	return decimal.Zero
}

func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return model.ErrNotFound
	case mongo.IsDuplicateKeyError(err):
		return fmt.Errorf("%w: %w", model.ErrConflict, err)
	case mongo.IsNetworkError(err), mongo.IsTimeout(err), errors.Is(err, mongo.ErrClientDisconnected):
		logger.Error("ledger store unreachable", "error", err)
		return fmt.Errorf("%w: %w", model.ErrStoreUnavailable, err)
	}
	return err
}
