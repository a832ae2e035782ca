package handlers

import (
	"encoding/json"
	"errors"
	"strconv"

	"github.com/nimasrn/points-ledger/internal/model"
	xhttp "github.com/nimasrn/points-ledger/pkg/http"
	"github.com/nimasrn/points-ledger/pkg/logger"
	"github.com/valyala/fasthttp"
)

// Routes is satisfied by both a router and a router group.
type Routes interface {
	GET(path string, handler fasthttp.RequestHandler)
	POST(path string, handler fasthttp.RequestHandler)
}

type errorResponse struct {
	Error  string             `json:"error"`
	Code   string             `json:"code"`
	Report *model.AuditReport `json:"report,omitempty"`
}

type listResponse[T any] struct {
	Items []T `json:"items"`
}

// PageLimits bounds the limit query parameter of list endpoints.
type PageLimits struct {
	Default int
	Max     int
}

func readJSON(ctx *xhttp.RequestCtx, dst any) error {
	return json.Unmarshal(ctx.PostBody(), dst)
}

func writeJSON(ctx *xhttp.RequestCtx, status int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		logger.Error("failed to encode response", "error", err, "request_id", xhttp.RequestID(ctx))
		status = xhttp.StatusInternalServerError
		b = []byte(`{"error":"internal error","code":"internal"}`)
	}
	ctx.Response.Header.Set("Content-Type", "application/json; charset=utf-8")
	ctx.Response.SetStatusCode(status)
	ctx.Response.SetBodyRaw(b)
}

func writeError(ctx *xhttp.RequestCtx, err error) {
	status, code := classify(err)
	if status >= xhttp.StatusInternalServerError {
		logger.Error("request failed", "path", string(ctx.Path()), "error", err, "request_id", xhttp.RequestID(ctx))
	}
	writeJSON(ctx, status, errorResponse{Error: err.Error(), Code: code})
}

func badRequest(ctx *xhttp.RequestCtx, msg string) {
	writeJSON(ctx, xhttp.StatusBadRequest, errorResponse{Error: msg, Code: "validation_failed"})
}

// classify maps ledger errors onto HTTP statuses and stable error codes.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, model.ErrValidation):
		return xhttp.StatusBadRequest, "validation_failed"
	case errors.Is(err, model.ErrNotFound):
		return xhttp.StatusNotFound, "not_found"
	case errors.Is(err, model.ErrConflict):
		return xhttp.StatusConflict, "conflict"
	case errors.Is(err, model.ErrInsufficientBalance):
		return xhttp.StatusUnprocessableEntity, "insufficient_balance"
	case errors.Is(err, model.ErrStoreUnavailable):
		return xhttp.StatusServiceUnavailable, "store_unavailable"
	case errors.Is(err, model.ErrIntegrity):
		return xhttp.StatusInternalServerError, "integrity_violation"
	}
	return xhttp.StatusInternalServerError, "internal"
}

func param(ctx *xhttp.RequestCtx, name string) string {
	v, _ := ctx.UserValue(name).(string)
	return v
}

func query(ctx *xhttp.RequestCtx, key string) string {
	return string(ctx.QueryArgs().Peek(key))
}

// pageFromQuery reads cursor and limit, clamping limit to l.Max.
func pageFromQuery(ctx *xhttp.RequestCtx, l PageLimits) (model.Page, error) {
	page := model.Page{Limit: l.Default}
	if v := query(ctx, "cursor"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return page, model.NewValidationError("cursor", "must be a non-negative integer")
		}
		page.After = n
	}
	if v := query(ctx, "limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return page, model.NewValidationError("limit", "must be a positive integer")
		}
		page.Limit = min(n, l.Max)
	}
	return page, nil
}
