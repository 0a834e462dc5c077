package notify_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/frahmantamala/qrpay/internal/metrics"
	"github.com/frahmantamala/qrpay/internal/notify"
)

type mockMarker struct {
	mu     sync.Mutex
	marked []string
}

func (m *mockMarker) MarkNotifyFailed(ctx context.Context, orderID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.marked = append(m.marked, orderID)
	return true, nil
}

func (m *mockMarker) Marked() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.marked...)
}

type mockRecorder struct {
	mu       sync.Mutex
	attempts []notify.Attempt
}

func (m *mockRecorder) Record(ctx context.Context, kind notify.Kind, orderID string, a notify.Attempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, a)
	return nil
}

type captured struct {
	Method string
	Form   map[string]string
	Query  string
}

// merchant answers POST and GET with fixed bodies and records every call.
type merchant struct {
	mu       sync.Mutex
	calls    []captured
	postBody string
	getBody  string
	status   int
	delay    time.Duration
}

func (m *merchant) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	c := captured{Method: r.Method, Query: r.URL.RawQuery, Form: map[string]string{}}
	for k := range r.PostForm {
		c.Form[k] = r.PostForm.Get(k)
	}
	m.mu.Lock()
	m.calls = append(m.calls, c)
	m.mu.Unlock()

	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-r.Context().Done():
			return
		}
	}
	if m.status != 0 {
		w.WriteHeader(m.status)
	}
	if r.Method == http.MethodPost {
		_, _ = io.WriteString(w, m.postBody)
		return
	}
	_, _ = io.WriteString(w, m.getBody)
}

func (m *merchant) Calls() []captured {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]captured(nil), m.calls...)
}

var _ = Describe("Dispatcher", func() {
	var (
		marker     *mockMarker
		recorder   *mockRecorder
		m          *metrics.Metrics
		dispatcher *notify.Dispatcher
		handler    *merchant
		server     *httptest.Server
		del        notify.Delivery
		ctx        context.Context
	)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	BeforeEach(func() {
		ctx = context.Background()
		marker = &mockMarker{}
		recorder = &mockRecorder{}
		m = metrics.NewWithRegistry(prometheus.NewRegistry())
		handler = &merchant{}
		server = httptest.NewServer(handler)
		dispatcher = notify.NewDispatcher(notify.Config{Timeout: 2 * time.Second}, marker, recorder, m, logger)

		del = sampleDelivery()
		del.NotifyURL = server.URL + "/notify"
		del.ReturnURL = server.URL + "/return"
	})

	AfterEach(func() {
		_ = dispatcher.Shutdown(context.Background())
		server.Close()
	})

	Context("Notify", func() {
		It("stops after the current format is confirmed", func() {
			handler.postBody = "success"

			res := dispatcher.Notify(ctx, del, "K")

			Expect(res.Status).To(Equal(notify.Confirmed))
			Expect(res.Strategy).To(Equal("current"))
			Expect(handler.Calls()).To(HaveLen(1))
			Expect(handler.Calls()[0].Form["payId"]).To(Equal(del.OrderID))
			Expect(marker.Marked()).To(BeEmpty())
		})

		It("falls back to the legacy GET when POST answers fail", func() {
			handler.postBody = "fail"
			handler.getBody = "success"

			res := dispatcher.Notify(ctx, del, "K")

			Expect(res.Status).To(Equal(notify.Confirmed))
			Expect(res.Strategy).To(Equal("legacy"))
			calls := handler.Calls()
			Expect(calls).To(HaveLen(2))
			Expect(calls[0].Method).To(Equal(http.MethodPost))
			Expect(calls[1].Method).To(Equal(http.MethodGet))
			Expect(calls[1].Query).To(HavePrefix("payId=M1&param=x&type=1&price=10.00&reallyPrice=10.01&sign="))
			Expect(marker.Marked()).To(BeEmpty())
			Expect(testutil.ToFloat64(m.Deliveries.WithLabelValues("notify", "confirmed"))).To(Equal(1.0))
		})

		It("marks the order when neither format is confirmed", func() {
			handler.postBody = "fail"
			handler.getBody = "error"

			res := dispatcher.Notify(ctx, del, "K")

			Expect(res.Status).To(Equal(notify.Unconfirmed))
			Expect(res.Responses()).To(Equal(map[string]string{"current": "fail", "legacy": "error"}))
			Expect(marker.Marked()).To(ConsistOf(del.OrderID))
		})

		It("does not accept success on a non-2xx status", func() {
			handler.status = http.StatusInternalServerError
			handler.postBody = "success"
			handler.getBody = "success"

			Expect(dispatcher.Notify(ctx, del, "K").Confirmed()).To(BeFalse())
			Expect(marker.Marked()).To(ConsistOf(del.OrderID))
		})

		It("treats a timeout like a failed answer", func() {
			dispatcher = notify.NewDispatcher(notify.Config{Timeout: 50 * time.Millisecond}, marker, recorder, m, logger)
			handler.delay = 500 * time.Millisecond
			handler.postBody = "success"

			res := dispatcher.Notify(ctx, del, "K")

			Expect(res.Confirmed()).To(BeFalse())
			Expect(res.Attempts).To(HaveLen(2))
			Expect(res.Attempts[0].Err).To(HaveOccurred())
			Expect(marker.Marked()).To(ConsistOf(del.OrderID))
		})

		It("skips orders without a notify url", func() {
			del.NotifyURL = ""

			res := dispatcher.Notify(ctx, del, "K")

			Expect(res.Confirmed()).To(BeFalse())
			Expect(handler.Calls()).To(BeEmpty())
			Expect(marker.Marked()).To(BeEmpty())
		})

		It("records every attempt", func() {
			handler.postBody = "fail"
			handler.getBody = "success"

			dispatcher.Notify(ctx, del, "K")

			Expect(recorder.attempts).To(HaveLen(2))
			Expect(recorder.attempts[0].Accepted).To(BeFalse())
			Expect(recorder.attempts[1].Accepted).To(BeTrue())
		})
	})

	Context("Deliver", func() {
		It("never marks the order", func() {
			handler.postBody = "fail"
			handler.getBody = "fail"

			Expect(dispatcher.Deliver(ctx, del, "K").Confirmed()).To(BeFalse())
			Expect(marker.Marked()).To(BeEmpty())
		})
	})

	Context("Dispatch", func() {
		It("delivers on a tracked goroutine", func() {
			handler.postBody = "fail"
			handler.getBody = "nope"

			dispatcher.Dispatch(del, "K")
			dispatcher.Wait()

			Expect(handler.Calls()).To(HaveLen(2))
			Expect(marker.Marked()).To(ConsistOf(del.OrderID))
			Expect(testutil.ToFloat64(m.DeliveriesPending)).To(Equal(0.0))
		})

		It("marks the order when dispatched after shutdown", func() {
			Expect(dispatcher.Shutdown(context.Background())).To(Succeed())

			dispatcher.Dispatch(del, "K")

			Expect(handler.Calls()).To(BeEmpty())
			Expect(marker.Marked()).To(ConsistOf(del.OrderID))
		})

		It("cancels in-flight calls when shutdown times out", func() {
			handler.delay = time.Second
			handler.postBody = "success"

			dispatcher.Dispatch(del, "K")
			Eventually(handler.Calls).Should(HaveLen(1))

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
			defer cancel()
			Expect(dispatcher.Shutdown(shutdownCtx)).To(MatchError(context.DeadlineExceeded))
			Expect(marker.Marked()).To(ConsistOf(del.OrderID))
		})
	})

	Context("SendReturn", func() {
		It("falls back to legacy when the current attempt has an empty body", func() {
			handler.getBody = ""

			res := dispatcher.SendReturn(ctx, del, "K")

			Expect(res.Confirmed()).To(BeFalse())
			calls := handler.Calls()
			Expect(calls).To(HaveLen(2))
			Expect(calls[0].Method).To(Equal(http.MethodGet))
			Expect(calls[0].Query).To(HavePrefix("payId=M1&"))
			Expect(marker.Marked()).To(BeEmpty())
		})

		It("stops on any non-empty body", func() {
			handler.getBody = "thanks"

			res := dispatcher.SendReturn(ctx, del, "K")

			Expect(res.Confirmed()).To(BeTrue())
			Expect(handler.Calls()).To(HaveLen(1))
		})
	})
})
