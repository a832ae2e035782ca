package handlers

import (
	"context"
	"errors"

	"github.com/nimasrn/points-ledger/internal/model"
	xhttp "github.com/nimasrn/points-ledger/pkg/http"
	"github.com/nimasrn/points-ledger/pkg/logger"
)

type BalanceService interface {
	CurrentBalance(ctx context.Context, memberID string) (int64, error)
	Verify(ctx context.Context, memberID string) (*model.AuditReport, error)
}

type ReportingService interface {
	History(ctx context.Context, memberID string, page model.Page) (*model.TransactionPage, error)
	Stats(ctx context.Context) (*model.LedgerStats, error)
}

// LedgerHandler serves the read side: balances, history, audits and stats.
type LedgerHandler struct {
	balances BalanceService
	reports  ReportingService
	limits   PageLimits
}

func NewLedgerHandler(balances BalanceService, reports ReportingService, limits PageLimits) *LedgerHandler {
	return &LedgerHandler{balances: balances, reports: reports, limits: limits}
}

func RegisterLedgerRoutes(e Routes, h *LedgerHandler) {
	e.GET("/members/{id}/balance", h.Balance)
	e.GET("/members/{id}/transactions", h.History)
	e.GET("/members/{id}/audit", h.Audit)
	e.GET("/stats", h.Stats)
}

type balanceResponse struct {
	MemberID string `json:"memberId"`
	Balance  int64  `json:"balance"`
}

func (h *LedgerHandler) Balance(ctx *xhttp.RequestCtx) {
	memberID := param(ctx, "id")
	balance, err := h.balances.CurrentBalance(ctx, memberID)
	if err != nil {
		writeError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, balanceResponse{MemberID: memberID, Balance: balance})
}

func (h *LedgerHandler) History(ctx *xhttp.RequestCtx) {
	page, err := pageFromQuery(ctx, h.limits)
	if err != nil {
		writeError(ctx, err)
		return
	}
	res, err := h.reports.History(ctx, param(ctx, "id"), page)
	if err != nil {
		writeError(ctx, err)
		return
	}
	if res.Items == nil {
		res.Items = []*model.Transaction{}
	}
	writeJSON(ctx, xhttp.StatusOK, res)
}

// Audit answers 500 with the partial report when the log does not replay.
func (h *LedgerHandler) Audit(ctx *xhttp.RequestCtx) {
	report, err := h.balances.Verify(ctx, param(ctx, "id"))
	var integrity *model.IntegrityError
	switch {
	case errors.As(err, &integrity):
		logger.Error("ledger audit failed", "member_id", integrity.MemberID, "sequence", integrity.Sequence, "error", err)
		writeJSON(ctx, xhttp.StatusInternalServerError, errorResponse{
			Error:  err.Error(),
			Code:   "integrity_violation",
			Report: report,
		})
	case err != nil:
		writeError(ctx, err)
	default:
		writeJSON(ctx, xhttp.StatusOK, report)
	}
}

func (h *LedgerHandler) Stats(ctx *xhttp.RequestCtx) {
	stats, err := h.reports.Stats(ctx)
	if err != nil {
		writeError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, stats)
}
