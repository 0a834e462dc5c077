package notify

import (
	"context"
	"net/http"
	"strings"
	"time"

	errors "github.com/frahmantamala/qrpay/internal"
	notificationDatamodel "github.com/frahmantamala/qrpay/internal/core/datamodel/notification"
	"github.com/frahmantamala/qrpay/internal/transport"
	"github.com/go-chi/chi"
)

type LogReader interface {
	ListByOrder(ctx context.Context, orderID string) ([]notificationDatamodel.Log, error)
}

type LogResponse struct {
	Kind       string    `json:"kind"`
	Strategy   string    `json:"strategy"`
	Method     string    `json:"method"`
	URL        string    `json:"url"`
	StatusCode int       `json:"statusCode"`
	Response   string    `json:"response"`
	Error      string    `json:"error,omitempty"`
	Confirmed  bool      `json:"confirmed"`
	DurationMs int64     `json:"durationMs"`
	CreatedAt  time.Time `json:"createdAt"`
}

type LogListResponse struct {
	OrderID string        `json:"orderId"`
	Items   []LogResponse `json:"items"`
}

type Handler struct {
	*transport.BaseHandler
	Logs LogReader
}

func NewHandler(baseHandler *transport.BaseHandler, logs LogReader) *Handler {
	return &Handler{
		BaseHandler: baseHandler,
		Logs:        logs,
	}
}

// ListLogs returns every delivery attempt recorded for an order.
func (h *Handler) ListLogs(w http.ResponseWriter, r *http.Request) {
	orderID := strings.TrimSpace(chi.URLParam(r, "orderId"))
	if orderID == "" {
		h.HandleServiceError(w, errors.ErrMissingParams)
		return
	}

	logs, err := h.Logs.ListByOrder(r.Context(), orderID)
	if err != nil {
		h.Logger.Error("ListLogs: storage error", "error", err, "order_id", orderID)
		h.HandleServiceError(w, errors.NewStorageError("failed to load notification logs", err))
		return
	}

	items := make([]LogResponse, len(logs))
	for i, l := range logs {
		items[i] = LogResponse{
			Kind:       l.Kind,
			Strategy:   l.Strategy,
			Method:     l.Method,
			URL:        l.URL,
			StatusCode: l.StatusCode,
			Response:   l.Response,
			Error:      l.Error,
			Confirmed:  l.Confirmed,
			DurationMs: l.DurationMs,
			CreatedAt:  l.CreatedAt,
		}
	}
	h.WriteJSON(w, http.StatusOK, LogListResponse{OrderID: orderID, Items: items})
}
