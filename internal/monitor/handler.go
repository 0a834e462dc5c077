package monitor

import (
	"context"
	"net/http"

	errors "github.com/frahmantamala/qrpay/internal"
	"github.com/frahmantamala/qrpay/internal/transport"
	"github.com/frahmantamala/qrpay/pkg/logger"
)

const (
	codeOK   = 1
	codeFail = -1
)

type GatewayAPI interface {
	Heartbeat(ctx context.Context, t, sign string) error
	Push(ctx context.Context, req PushRequest) (*PushResult, error)
}

// Response is the envelope the monitor agent understands. Failures are
// reported with code -1 and HTTP 200; the agent only reads the body.
type Response struct {
	Code int         `json:"code"`
	Msg  string      `json:"msg"`
	Data interface{} `json:"data,omitempty"`
}

type PushData struct {
	Outcome string `json:"outcome"`
	OrderID string `json:"orderId"`
	Price   string `json:"price"`
}

type Handler struct {
	*transport.BaseHandler
	Gateway GatewayAPI
}

func NewHandler(baseHandler *transport.BaseHandler, gateway GatewayAPI) *Handler {
	return &Handler{
		BaseHandler: baseHandler,
		Gateway:     gateway,
	}
}

// Heartbeat serves /monitor/heartbeat and the /appHeart alias.
func (h *Handler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	err := h.Gateway.Heartbeat(r.Context(), r.FormValue("t"), r.FormValue("sign"))
	if err != nil {
		logger.Decorate(r.Context(), h.Logger).Warn("Heartbeat: rejected", "error", err)
		h.fail(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, Response{Code: codeOK, Msg: "success"})
}

// Push serves /monitor/push and the /appPush alias.
func (h *Handler) Push(w http.ResponseWriter, r *http.Request) {
	req := PushRequest{
		T:     r.FormValue("t"),
		Type:  r.FormValue("type"),
		Price: r.FormValue("price"),
		Sign:  r.FormValue("sign"),
	}

	res, err := h.Gateway.Push(r.Context(), req)
	if err != nil {
		logger.Decorate(r.Context(), h.Logger).Warn("Push: rejected", "error", err, "type", req.Type, "price", req.Price)
		h.fail(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, Response{
		Code: codeOK,
		Msg:  "success",
		Data: PushData{Outcome: string(res.Outcome), OrderID: res.OrderID, Price: res.Price},
	})
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	msg := "internal error"
	if appErr, ok := errors.IsAppError(err); ok {
		msg = appErr.Message
	}
	h.WriteJSON(w, http.StatusOK, Response{Code: codeFail, Msg: msg})
}
