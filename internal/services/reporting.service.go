package services

import (
	"context"

	"github.com/nimasrn/points-ledger/internal/model"
	"github.com/nimasrn/points-ledger/internal/repository"
)

type ReportingStore interface {
	ListTransactions(ctx context.Context, memberID string, page model.Page) (*model.TransactionPage, error)
	Stats(ctx context.Context) (*model.LedgerStats, error)
}

// ReportingService serves read-only views of the ledger.
type ReportingService struct {
	store ReportingStore
}

func NewReportingService(store ReportingStore) *ReportingService {
	return &ReportingService{store: store}
}

func (s *ReportingService) History(ctx context.Context, memberID string, page model.Page) (*model.TransactionPage, error) {
	if memberID == "" {
		return nil, model.NewValidationError("memberId", "is required")
	}
	return s.store.ListTransactions(ctx, memberID, repository.NormalizePage(page))
}

func (s *ReportingService) Stats(ctx context.Context) (*model.LedgerStats, error) {
	return s.store.Stats(ctx)
}
