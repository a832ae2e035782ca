package handlers

import (
	"context"

	"github.com/nimasrn/points-ledger/internal/model"
	xhttp "github.com/nimasrn/points-ledger/pkg/http"
)

type TransactionService interface {
	Submit(ctx context.Context, req model.SubmitRequest) (*model.Transaction, error)
	SubmitPurchase(ctx context.Context, req model.PurchaseRequest) (*model.Transaction, error)
}

type TransactionHandler struct {
	svc TransactionService
}

func NewTransactionHandler(svc TransactionService) *TransactionHandler {
	return &TransactionHandler{svc: svc}
}

func RegisterTransactionRoutes(e Routes, h *TransactionHandler) {
	e.POST("/transactions", h.Submit)
	e.POST("/transactions/purchase", h.SubmitPurchase)
}

// Submit answers 200 for both a fresh commit and a replay of a committed id;
// the body is the committed record either way.
func (h *TransactionHandler) Submit(ctx *xhttp.RequestCtx) {
	var req model.SubmitRequest
	if err := readJSON(ctx, &req); err != nil {
		badRequest(ctx, "invalid JSON: "+err.Error())
		return
	}
	tx, err := h.svc.Submit(ctx, req)
	if err != nil {
		writeError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, tx)
}

func (h *TransactionHandler) SubmitPurchase(ctx *xhttp.RequestCtx) {
	var req model.PurchaseRequest
	if err := readJSON(ctx, &req); err != nil {
		badRequest(ctx, "invalid JSON: "+err.Error())
		return
	}
	tx, err := h.svc.SubmitPurchase(ctx, req)
	if err != nil {
		writeError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, tx)
}
