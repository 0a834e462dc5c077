package order_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"time"

	errors "github.com/frahmantamala/qrpay/internal"
	"github.com/frahmantamala/qrpay/internal/order"
	"github.com/go-chi/chi"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type mockService struct {
	createReq   order.CreateOrderRequest
	createResp  *order.CreateOrderResponse
	err         error
	closedID    string
	closeSign   string
	listFilter  order.ListFilter
	purgeWindow time.Duration
}

func (m *mockService) CreateOrder(ctx context.Context, req order.CreateOrderRequest) (*order.CreateOrderResponse, error) {
	m.createReq = req
	return m.createResp, m.err
}

func (m *mockService) GetOrder(ctx context.Context, orderID string) (*order.OrderDetail, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &order.OrderDetail{OrderID: orderID, StateText: "PENDING"}, nil
}

func (m *mockService) CheckOrder(ctx context.Context, orderID string) (*order.CheckResponse, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &order.CheckResponse{OrderID: orderID, State: 1, RedirectURL: "http://merchant.test/return"}, nil
}

func (m *mockService) CloseOrder(ctx context.Context, orderID string) error {
	m.closedID = orderID
	return m.err
}

func (m *mockService) CloseOrderSigned(ctx context.Context, orderID, sign string) error {
	m.closedID, m.closeSign = orderID, sign
	return m.err
}

func (m *mockService) DeleteOrder(ctx context.Context, orderID string) error {
	return m.err
}

func (m *mockService) Reissue(ctx context.Context, orderID string) (*order.ReissueResponse, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &order.ReissueResponse{OrderID: orderID, State: 1, Strategy: "current"}, nil
}

func (m *mockService) GenerateReturnURL(ctx context.Context, orderID string) (*order.ReturnURLResponse, error) {
	return &order.ReturnURLResponse{ReturnURL: "http://merchant.test/return?payId=M1", Mode: "new-first"}, m.err
}

func (m *mockService) ListOrders(ctx context.Context, filter order.ListFilter) (*order.ListResponse, error) {
	m.listFilter = filter
	return &order.ListResponse{Page: filter.Page, Limit: filter.Limit}, m.err
}

func (m *mockService) OrderDetail(ctx context.Context, orderID string) (*order.AdminOrder, error) {
	return &order.AdminOrder{OrderID: orderID}, m.err
}

func (m *mockService) ExpireOverdue(ctx context.Context) (int, error) {
	return 3, m.err
}

func (m *mockService) Purge(ctx context.Context, olderThan time.Duration) (int64, error) {
	m.purgeWindow = olderThan
	return 7, m.err
}

func (m *mockService) Stats(ctx context.Context) (*order.Stats, error) {
	return &order.Stats{TotalOrders: 4, TotalPaid: 2}, m.err
}

var _ = Describe("Handler", func() {
	var (
		svc     *mockService
		handler *order.Handler
		router  *chi.Mux
	)

	serve := func(req *http.Request) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	BeforeEach(func() {
		svc = &mockService{createResp: &order.CreateOrderResponse{
			OrderID: "20250301120000123", PayID: "M1", RedirectURL: "https://pay.example.com/#/payment/20250301120000123",
		}}
		handler = order.NewHandler(svc)
		router = chi.NewRouter()
		router.Post("/orders", handler.CreateOrder)
		router.HandleFunc("/createOrder", handler.CreateOrder)
		router.Get("/orders/{orderId}", handler.GetOrder)
		router.Get("/checkOrder", handler.CheckOrder)
		router.Post("/orders/{orderId}/close", handler.CloseOrder)
		router.HandleFunc("/closeOrder", handler.CloseOrder)
		router.Get("/admin/orders", handler.ListOrders)
		router.Post("/admin/orders/{orderId}/reissue", handler.ReissueOrder)
		router.Post("/admin/orders/expired", handler.ExpireOverdue)
		router.Delete("/admin/orders/last", handler.PurgeOrders)
		router.Get("/admin/stats", handler.GetStats)
	})

	Describe("CreateOrder", func() {
		It("decodes JSON bodies with numeric fields", func() {
			body := `{"payId":"M1","type":1,"price":10,"sign":"abc","param":"vip"}`
			req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(body))
			req.Header.Set("Content-Type", "application/json")

			w := serve(req)

			Expect(w.Code).To(Equal(http.StatusCreated))
			Expect(string(svc.createReq.Type)).To(Equal("1"))
			Expect(string(svc.createReq.Price)).To(Equal("10"))
			Expect(string(svc.createReq.Param)).To(Equal("vip"))

			var resp order.CreateOrderResponse
			Expect(json.NewDecoder(w.Body).Decode(&resp)).To(Succeed())
			Expect(resp.OrderID).To(Equal("20250301120000123"))
		})

		It("reads query parameters on the legacy GET alias", func() {
			q := url.Values{"payId": {"M1"}, "type": {"2"}, "price": {"0.01"}, "sign": {"abc"}}
			req := httptest.NewRequest(http.MethodGet, "/createOrder?"+q.Encode(), nil)

			w := serve(req)

			Expect(w.Code).To(Equal(http.StatusCreated))
			Expect(string(svc.createReq.PayID)).To(Equal("M1"))
			Expect(string(svc.createReq.Price)).To(Equal("0.01"))
		})

		It("renders a redirect page when isHtml=1", func() {
			form := url.Values{"payId": {"M1"}, "type": {"1"}, "price": {"1"}, "sign": {"abc"}, "isHtml": {"1"}}
			req := httptest.NewRequest(http.MethodPost, "/createOrder", strings.NewReader(form.Encode()))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

			w := serve(req)

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.Header().Get("Content-Type")).To(HavePrefix("text/html"))
			Expect(w.Body.String()).To(ContainSubstring("https://pay.example.com/#/payment/20250301120000123"))
		})

		It("maps service errors to their status", func() {
			svc.err = errors.ErrCapacityExceeded.Clone()
			req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(`{"payId":"M1"}`))
			req.Header.Set("Content-Type", "application/json")

			w := serve(req)

			Expect(w.Code).To(Equal(http.StatusServiceUnavailable))
			var resp errors.Response
			Expect(json.NewDecoder(w.Body).Decode(&resp)).To(Succeed())
			Expect(resp.Error.Code).To(Equal(errors.ErrCodeCapacityExceeded))
		})

		It("rejects malformed JSON", func() {
			req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(`{`))
			req.Header.Set("Content-Type", "application/json")

			Expect(serve(req).Code).To(Equal(http.StatusBadRequest))
		})
	})

	It("reads the order id from the path", func() {
		w := serve(httptest.NewRequest(http.MethodGet, "/orders/O1", nil))

		Expect(w.Code).To(Equal(http.StatusOK))
		var resp order.OrderDetail
		Expect(json.NewDecoder(w.Body).Decode(&resp)).To(Succeed())
		Expect(resp.OrderID).To(Equal("O1"))
	})

	It("reads the order id from the query on legacy aliases", func() {
		w := serve(httptest.NewRequest(http.MethodGet, "/checkOrder?orderId=O2", nil))

		Expect(w.Code).To(Equal(http.StatusOK))
		var resp order.CheckResponse
		Expect(json.NewDecoder(w.Body).Decode(&resp)).To(Succeed())
		Expect(resp.OrderID).To(Equal("O2"))
		Expect(resp.RedirectURL).To(Equal("http://merchant.test/return"))
	})

	It("reports unknown orders as 404", func() {
		svc.err = errors.ErrOrderNotFound.Clone()
		Expect(serve(httptest.NewRequest(http.MethodGet, "/orders/nope", nil)).Code).To(Equal(http.StatusNotFound))
	})

	It("passes the merchant signature through on close", func() {
		form := url.Values{"orderId": {"O3"}, "sign": {"s1"}}
		req := httptest.NewRequest(http.MethodPost, "/closeOrder", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		w := serve(req)

		Expect(w.Code).To(Equal(http.StatusNoContent))
		Expect(svc.closedID).To(Equal("O3"))
		Expect(svc.closeSign).To(Equal("s1"))
	})

	It("parses list filters", func() {
		w := serve(httptest.NewRequest(http.MethodGet, "/admin/orders?state=-1&type=2&page=3&limit=5", nil))

		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(*svc.listFilter.State).To(Equal(order.StateExpired))
		Expect(svc.listFilter.PaymentType).To(Equal(order.PaymentAlipay))
		Expect(svc.listFilter.Page).To(Equal(3))
		Expect(svc.listFilter.Limit).To(Equal(5))
	})

	It("rejects an unknown type filter", func() {
		Expect(serve(httptest.NewRequest(http.MethodGet, "/admin/orders?type=9", nil)).Code).To(Equal(http.StatusBadRequest))
	})

	It("surfaces unconfirmed reissues as bad gateway", func() {
		svc.err = errors.ErrDeliveryUnconfirmed.Clone().WithDetails(map[string]string{"newResp": "fail", "legacyResp": "fail"})

		w := serve(httptest.NewRequest(http.MethodPost, "/admin/orders/O1/reissue", nil))

		Expect(w.Code).To(Equal(http.StatusBadGateway))
		Expect(w.Body.String()).To(ContainSubstring("newResp"))
	})

	It("returns counts for bulk operations", func() {
		w := serve(httptest.NewRequest(http.MethodPost, "/admin/orders/expired", nil))
		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(w.Body.String()).To(ContainSubstring(`"count":3`))

		w = serve(httptest.NewRequest(http.MethodDelete, "/admin/orders/last?olderThan=48h", nil))
		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(w.Body.String()).To(ContainSubstring(`"count":7`))
		Expect(svc.purgeWindow).To(Equal(48 * time.Hour))
	})

	It("rejects a bad purge window", func() {
		Expect(serve(httptest.NewRequest(http.MethodDelete, "/admin/orders/last?olderThan=soon", nil)).Code).To(Equal(http.StatusBadRequest))
	})

	It("serves dashboard stats", func() {
		w := serve(httptest.NewRequest(http.MethodGet, "/admin/stats", nil))

		Expect(w.Code).To(Equal(http.StatusOK))
		var stats order.Stats
		Expect(json.NewDecoder(w.Body).Decode(&stats)).To(Succeed())
		Expect(stats.TotalOrders).To(Equal(int64(4)))
	})
})
