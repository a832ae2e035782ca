package handlers

import (
	"context"

	"github.com/nimasrn/points-ledger/internal/model"
	xhttp "github.com/nimasrn/points-ledger/pkg/http"
)

type MemberService interface {
	Register(ctx context.Context, req model.RegisterRequest) (*model.Member, error)
	Lookup(ctx context.Context, key string) (*model.Member, error)
	ReissueQR(ctx context.Context, memberID string) (*model.Member, error)
	SetStatus(ctx context.Context, memberID string, status model.MemberStatus) (*model.Member, error)
	FindByContact(ctx context.Context, contact string) ([]*model.Member, error)
	QRHistory(ctx context.Context, memberID string) ([]*model.QRCodeRecord, error)
}

type MemberHandler struct {
	svc MemberService
}

func NewMemberHandler(svc MemberService) *MemberHandler {
	return &MemberHandler{svc: svc}
}

// The member segment is always {id}: it is a membership id everywhere except
// the lookup route, which also accepts a QR code.
func RegisterMemberRoutes(e Routes, h *MemberHandler) {
	e.POST("/members", h.Register)
	e.GET("/members", h.FindByContact)
	e.GET("/members/{id}", h.Lookup)
	e.POST("/members/{id}/qr/reissue", h.ReissueQR)
	e.GET("/members/{id}/qr", h.QRHistory)
	e.POST("/members/{id}/status", h.SetStatus)
}

type statusRequest struct {
	Status model.MemberStatus `json:"status"`
}

type qrResponse struct {
	MemberID string `json:"memberId"`
	QRCode   string `json:"qrCode"`
}

func (h *MemberHandler) Register(ctx *xhttp.RequestCtx) {
	var req model.RegisterRequest
	if err := readJSON(ctx, &req); err != nil {
		badRequest(ctx, "invalid JSON: "+err.Error())
		return
	}
	member, err := h.svc.Register(ctx, req)
	if err != nil {
		writeError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusCreated, member)
}

func (h *MemberHandler) Lookup(ctx *xhttp.RequestCtx) {
	member, err := h.svc.Lookup(ctx, param(ctx, "id"))
	if err != nil {
		writeError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, member)
}

func (h *MemberHandler) FindByContact(ctx *xhttp.RequestCtx) {
	members, err := h.svc.FindByContact(ctx, query(ctx, "contact"))
	if err != nil {
		writeError(ctx, err)
		return
	}
	if members == nil {
		members = []*model.Member{}
	}
	writeJSON(ctx, xhttp.StatusOK, listResponse[*model.Member]{Items: members})
}

func (h *MemberHandler) ReissueQR(ctx *xhttp.RequestCtx) {
	member, err := h.svc.ReissueQR(ctx, param(ctx, "id"))
	if err != nil {
		writeError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, qrResponse{MemberID: member.MemberID, QRCode: member.QRCode})
}

func (h *MemberHandler) QRHistory(ctx *xhttp.RequestCtx) {
	records, err := h.svc.QRHistory(ctx, param(ctx, "id"))
	if err != nil {
		writeError(ctx, err)
		return
	}
	if records == nil {
		records = []*model.QRCodeRecord{}
	}
	writeJSON(ctx, xhttp.StatusOK, listResponse[*model.QRCodeRecord]{Items: records})
}

func (h *MemberHandler) SetStatus(ctx *xhttp.RequestCtx) {
	var req statusRequest
	if err := readJSON(ctx, &req); err != nil {
		badRequest(ctx, "invalid JSON: "+err.Error())
		return
	}
	member, err := h.svc.SetStatus(ctx, param(ctx, "id"), req.Status)
	if err != nil {
		writeError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, member)
}
