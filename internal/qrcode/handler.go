package qrcode

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/frahmantamala/qrpay/internal/transport"
	"github.com/go-chi/chi"
)

type ServiceAPI interface {
	Add(ctx context.Context, req AddRequest) (*QRCode, error)
	List(ctx context.Context, paymentType int) ([]*QRCode, error)
	Delete(ctx context.Context, id int64) error
}

type Handler struct {
	*transport.BaseHandler
	Service ServiceAPI
}

func NewHandler(baseHandler *transport.BaseHandler, service ServiceAPI) *Handler {
	return &Handler{
		BaseHandler: baseHandler,
		Service:     service,
	}
}

func (h *Handler) AddQRCode(w http.ResponseWriter, r *http.Request) {
	var req AddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	q, err := h.Service.Add(r.Context(), req)
	if err != nil {
		h.Logger.Warn("AddQRCode: rejected", "error", err)
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusCreated, NewResponse(q))
}

func (h *Handler) ListQRCodes(w http.ResponseWriter, r *http.Request) {
	paymentType := 0
	if raw := r.URL.Query().Get("type"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			h.WriteError(w, http.StatusBadRequest, "invalid type filter")
			return
		}
		paymentType = n
	}

	codes, err := h.Service.List(r.Context(), paymentType)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	items := make([]Response, len(codes))
	for i, q := range codes {
		items[i] = NewResponse(q)
	}
	h.WriteJSON(w, http.StatusOK, ListResponse{Items: items})
}

func (h *Handler) DeleteQRCode(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.WriteError(w, http.StatusBadRequest, "invalid qr code id")
		return
	}
	if err := h.Service.Delete(r.Context(), id); err != nil {
		h.HandleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
