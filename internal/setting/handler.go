package setting

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/frahmantamala/qrpay/internal/transport"
)

type ServiceAPI interface {
	All(ctx context.Context) ([]Entry, error)
	Update(ctx context.Context, values map[string]string) error
	Monitor(ctx context.Context) (MonitorStatus, error)
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

func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Service.All(r.Context())
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, SettingsResponse{Settings: entries})
}

func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req UpdateSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.Service.Update(r.Context(), req.Settings); err != nil {
		h.Logger.Warn("UpdateSettings: rejected", "error", err)
		h.HandleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) GetMonitor(w http.ResponseWriter, r *http.Request) {
	status, err := h.Service.Monitor(r.Context())
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, status)
}
