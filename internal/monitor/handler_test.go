package monitor_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"

	errors "github.com/frahmantamala/qrpay/internal"
	"github.com/frahmantamala/qrpay/internal/monitor"
	"github.com/frahmantamala/qrpay/internal/transport"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type mockGateway struct {
	heartT    string
	heartSign string
	pushReq   monitor.PushRequest
	result    *monitor.PushResult
	err       error
}

func (m *mockGateway) Heartbeat(ctx context.Context, t, sign string) error {
	m.heartT, m.heartSign = t, sign
	return m.err
}

func (m *mockGateway) Push(ctx context.Context, req monitor.PushRequest) (*monitor.PushResult, error) {
	m.pushReq = req
	return m.result, m.err
}

func decodeEnvelope(rec *httptest.ResponseRecorder) monitor.Response {
	var resp monitor.Response
	ExpectWithOffset(1, json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
	return resp
}

var _ = Describe("Handler", func() {
	var (
		gateway *mockGateway
		handler *monitor.Handler
	)

	BeforeEach(func() {
		gateway = &mockGateway{}
		handler = monitor.NewHandler(transport.NewBaseHandler(quietLogger()), gateway)
	})

	It("acknowledges a heartbeat sent as query parameters", func() {
		req := httptest.NewRequest(http.MethodGet, "/appHeart?t=1000&sign=abc", nil)
		rec := httptest.NewRecorder()

		handler.Heartbeat(rec, req)

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(decodeEnvelope(rec)).To(Equal(monitor.Response{Code: 1, Msg: "success"}))
		Expect(gateway.heartT).To(Equal("1000"))
		Expect(gateway.heartSign).To(Equal("abc"))
	})

	It("reports a rejected heartbeat with code -1", func() {
		gateway.err = errors.ErrInvalidSignature
		req := httptest.NewRequest(http.MethodGet, "/monitor/heartbeat?t=1&sign=x", nil)
		rec := httptest.NewRecorder()

		handler.Heartbeat(rec, req)

		Expect(rec.Code).To(Equal(http.StatusOK))
		resp := decodeEnvelope(rec)
		Expect(resp.Code).To(Equal(-1))
		Expect(resp.Msg).To(Equal("signature mismatch"))
	})

	It("reads push parameters from a form body", func() {
		// Given
		gateway.result = &monitor.PushResult{Outcome: monitor.OutcomeMatched, OrderID: "O1", Price: "10.00"}
		form := url.Values{"t": {"1000"}, "type": {"1"}, "price": {"10.00"}, "sign": {"s"}}
		req := httptest.NewRequest(http.MethodPost, "/appPush", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := httptest.NewRecorder()

		// When
		handler.Push(rec, req)

		// Then
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(gateway.pushReq).To(Equal(monitor.PushRequest{T: "1000", Type: "1", Price: "10.00", Sign: "s"}))
		Expect(rec.Body.String()).To(ContainSubstring(`"outcome":"matched"`))
		Expect(rec.Body.String()).To(ContainSubstring(`"orderId":"O1"`))
		Expect(decodeEnvelope(rec).Code).To(Equal(1))
	})

	It("hides internal failures behind a generic message", func() {
		gateway.err = context.DeadlineExceeded
		req := httptest.NewRequest(http.MethodGet, "/appPush?t=1&type=1&price=1&sign=s", nil)
		rec := httptest.NewRecorder()

		handler.Push(rec, req)

		resp := decodeEnvelope(rec)
		Expect(resp.Code).To(Equal(-1))
		Expect(resp.Msg).To(Equal("internal error"))
	})
})
