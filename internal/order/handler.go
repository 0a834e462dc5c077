package order

import (
	"context"
	"encoding/json"
	"html/template"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/frahmantamala/qrpay/internal/transport"
	"github.com/frahmantamala/qrpay/pkg/logger"
	"github.com/go-chi/chi"
)

type ServiceAPI interface {
	CreateOrder(ctx context.Context, req CreateOrderRequest) (*CreateOrderResponse, error)
	GetOrder(ctx context.Context, orderID string) (*OrderDetail, error)
	CheckOrder(ctx context.Context, orderID string) (*CheckResponse, error)
	CloseOrder(ctx context.Context, orderID string) error
	CloseOrderSigned(ctx context.Context, orderID, sign string) error
	DeleteOrder(ctx context.Context, orderID string) error
	Reissue(ctx context.Context, orderID string) (*ReissueResponse, error)
	GenerateReturnURL(ctx context.Context, orderID string) (*ReturnURLResponse, error)
	ListOrders(ctx context.Context, filter ListFilter) (*ListResponse, error)
	OrderDetail(ctx context.Context, orderID string) (*AdminOrder, error)
	ExpireOverdue(ctx context.Context) (int, error)
	Purge(ctx context.Context, olderThan time.Duration) (int64, error)
	Stats(ctx context.Context) (*Stats, error)
}

type Handler struct {
	*transport.BaseHandler
	Service ServiceAPI
}

func NewHandler(service ServiceAPI) *Handler {
	lg := logger.LoggerWrapper()
	if lg == nil {
		lg = slog.Default()
	}
	return &Handler{
		BaseHandler: transport.NewBaseHandler(lg),
		Service:     service,
	}
}

var redirectPage = template.Must(template.New("redirect").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Redirecting to payment</title>
</head>
<body>
<script>window.location.href = {{.}};</script>
<a href="{{.}}">Continue to payment</a>
</body>
</html>
`))

// CreateOrder accepts JSON, form or query parameters so that old merchant
// integrations calling GET /createOrder keep working.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	req, err := decodeCreateRequest(r)
	if err != nil {
		logger.Decorate(r.Context(), h.Logger).Error("CreateOrder: invalid request body", "error", err)
		h.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := h.Service.CreateOrder(r.Context(), req)
	if err != nil {
		logger.Decorate(r.Context(), h.Logger).Warn("CreateOrder: service error", "error", err, "merchant_order_id", string(req.PayID))
		h.HandleServiceError(w, err)
		return
	}

	if req.WantsHTML() {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		if err := redirectPage.Execute(w, resp.RedirectURL); err != nil {
			logger.Decorate(r.Context(), h.Logger).Error("CreateOrder: failed to render redirect page", "error", err)
		}
		return
	}
	h.WriteJSON(w, http.StatusCreated, resp)
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	detail, err := h.Service.GetOrder(r.Context(), orderIDParam(r))
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, detail)
}

func (h *Handler) CheckOrder(w http.ResponseWriter, r *http.Request) {
	resp, err := h.Service.CheckOrder(r.Context(), orderIDParam(r))
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, resp)
}

// CloseOrder is the merchant close; it requires a signature over the order id.
func (h *Handler) CloseOrder(w http.ResponseWriter, r *http.Request) {
	orderID := orderIDParam(r)
	if err := h.Service.CloseOrderSigned(r.Context(), orderID, r.FormValue("sign")); err != nil {
		logger.Decorate(r.Context(), h.Logger).Warn("CloseOrder: service error", "error", err, "order_id", orderID)
		h.HandleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{
		Page:  atoiOr(q.Get("page"), 1),
		Limit: atoiOr(q.Get("limit"), DefaultListLimit),
	}
	if raw := q.Get("state"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			h.WriteError(w, http.StatusBadRequest, "invalid state filter")
			return
		}
		state := State(n)
		filter.State = &state
	}
	if raw := q.Get("type"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || !PaymentType(n).Valid() {
			h.WriteError(w, http.StatusBadRequest, "invalid type filter")
			return
		}
		filter.PaymentType = PaymentType(n)
	}

	resp, err := h.Service.ListOrders(r.Context(), filter)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) GetOrderDetail(w http.ResponseWriter, r *http.Request) {
	detail, err := h.Service.OrderDetail(r.Context(), orderIDParam(r))
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, detail)
}

// AdminCloseOrder closes a pending order on an operator's behalf.
func (h *Handler) AdminCloseOrder(w http.ResponseWriter, r *http.Request) {
	orderID := orderIDParam(r)
	if err := h.Service.CloseOrder(r.Context(), orderID); err != nil {
		logger.Decorate(r.Context(), h.Logger).Warn("AdminCloseOrder: service error", "error", err, "order_id", orderID)
		h.HandleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) DeleteOrder(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.DeleteOrder(r.Context(), orderIDParam(r)); err != nil {
		h.HandleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ReissueOrder(w http.ResponseWriter, r *http.Request) {
	orderID := orderIDParam(r)
	resp, err := h.Service.Reissue(r.Context(), orderID)
	if err != nil {
		logger.Decorate(r.Context(), h.Logger).Warn("ReissueOrder: not confirmed", "error", err, "order_id", orderID)
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) GetReturnURL(w http.ResponseWriter, r *http.Request) {
	resp, err := h.Service.GenerateReturnURL(r.Context(), orderIDParam(r))
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) ExpireOverdue(w http.ResponseWriter, r *http.Request) {
	closed, err := h.Service.ExpireOverdue(r.Context())
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, CountResponse{Count: int64(closed)})
}

// PurgeOrders deletes old orders; olderThan is a Go duration such as "48h".
func (h *Handler) PurgeOrders(w http.ResponseWriter, r *http.Request) {
	var olderThan time.Duration
	if raw := r.URL.Query().Get("olderThan"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			h.WriteError(w, http.StatusBadRequest, "invalid olderThan duration")
			return
		}
		olderThan = d
	}

	deleted, err := h.Service.Purge(r.Context(), olderThan)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, CountResponse{Count: deleted})
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Service.Stats(r.Context())
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, stats)
}

func decodeCreateRequest(r *http.Request) (CreateOrderRequest, error) {
	var req CreateOrderRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		err := json.NewDecoder(r.Body).Decode(&req)
		return req, err
	}

	if err := r.ParseForm(); err != nil {
		return req, err
	}
	f := r.Form
	return CreateOrderRequest{
		PayID:     Text(f.Get("payId")),
		Param:     Text(f.Get("param")),
		Type:      Text(f.Get("type")),
		Price:     Text(f.Get("price")),
		Sign:      Text(f.Get("sign")),
		NotifyURL: Text(f.Get("notifyUrl")),
		ReturnURL: Text(f.Get("returnUrl")),
		IsHTML:    Text(f.Get("isHtml")),
	}, nil
}

// orderIDParam reads the id from the route, falling back to the query or
// form value used by the legacy aliases.
func orderIDParam(r *http.Request) string {
	if id := chi.URLParam(r, "orderId"); id != "" {
		return id
	}
	return r.FormValue("orderId")
}

func atoiOr(raw string, fallback int) int {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
