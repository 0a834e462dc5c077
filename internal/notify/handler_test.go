package notify_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"

	"github.com/go-chi/chi"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	notificationDatamodel "github.com/frahmantamala/qrpay/internal/core/datamodel/notification"
	"github.com/frahmantamala/qrpay/internal/notify"
	"github.com/frahmantamala/qrpay/internal/transport"
)

type stubLogs struct {
	asked string
	logs  []notificationDatamodel.Log
	err   error
}

func (s *stubLogs) ListByOrder(ctx context.Context, orderID string) ([]notificationDatamodel.Log, error) {
	s.asked = orderID
	return s.logs, s.err
}

var _ = Describe("Handler", func() {
	var (
		logs   *stubLogs
		router chi.Router
	)

	BeforeEach(func() {
		logs = &stubLogs{}
		lg := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
		h := notify.NewHandler(transport.NewBaseHandler(lg), logs)
		router = chi.NewRouter()
		router.Get("/admin/orders/{orderId}/notifications", h.ListLogs)
	})

	It("lists the attempts of an order", func() {
		// Given
		logs.logs = []notificationDatamodel.Log{
			{OrderID: "O1", Kind: "notify", Strategy: "current-post", Method: "POST", URL: "http://m/cb", StatusCode: 500, Response: "err"},
			{OrderID: "O1", Kind: "notify", Strategy: "legacy-get", Method: "GET", URL: "http://m/cb?sign=x", StatusCode: 200, Response: "success", Confirmed: true},
		}
		req := httptest.NewRequest(http.MethodGet, "/admin/orders/O1/notifications", nil)
		rec := httptest.NewRecorder()

		// When
		router.ServeHTTP(rec, req)

		// Then
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(logs.asked).To(Equal("O1"))

		var resp notify.LogListResponse
		Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
		Expect(resp.OrderID).To(Equal("O1"))
		Expect(resp.Items).To(HaveLen(2))
		Expect(resp.Items[0].Confirmed).To(BeFalse())
		Expect(resp.Items[1].Strategy).To(Equal("legacy-get"))
		Expect(resp.Items[1].Confirmed).To(BeTrue())
	})

	It("returns an empty list for an order without attempts", func() {
		req := httptest.NewRequest(http.MethodGet, "/admin/orders/O2/notifications", nil)
		rec := httptest.NewRecorder()

		router.ServeHTTP(rec, req)

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(ContainSubstring(`"items":[]`))
	})

	It("maps storage failures to a server error", func() {
		logs.err = errors.New("connection reset")
		req := httptest.NewRequest(http.MethodGet, "/admin/orders/O3/notifications", nil)
		rec := httptest.NewRecorder()

		router.ServeHTTP(rec, req)

		Expect(rec.Code).To(Equal(http.StatusInternalServerError))
	})
})
