package handlers

import (
	"github.com/nimasrn/points-ledger/internal/repository"
	xhttp "github.com/nimasrn/points-ledger/pkg/http"
)

type StoreState interface {
	State() repository.State
}

type HealthHandler struct {
	store StoreState
}

func RegisterHealthRoutes(e Routes, h *HealthHandler) {
	e.GET("/health", h.GetHealth)
}

func NewHealthHandler(store StoreState) *HealthHandler {
	return &HealthHandler{store: store}
}

type healthResponse struct {
	Status string `json:"status"`
	Store  string `json:"store"`
}

func (h *HealthHandler) GetHealth(ctx *xhttp.RequestCtx) {
	state := h.store.State()
	if state != repository.StateReady {
		writeJSON(ctx, xhttp.StatusServiceUnavailable, healthResponse{Status: "unavailable", Store: state.String()})
		return
	}
	writeJSON(ctx, xhttp.StatusOK, healthResponse{Status: "ok", Store: state.String()})
}
