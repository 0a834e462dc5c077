package monitor_test

import (
	"context"
	"sync"

	errors "github.com/frahmantamala/qrpay/internal"
	"github.com/frahmantamala/qrpay/internal/monitor"
	"github.com/frahmantamala/qrpay/internal/order"
	orderPostgres "github.com/frahmantamala/qrpay/internal/order/postgres"
	"github.com/frahmantamala/qrpay/internal/setting"
	settingPostgres "github.com/frahmantamala/qrpay/internal/setting/postgres"
	"github.com/frahmantamala/qrpay/internal/signature"
	"github.com/frahmantamala/qrpay/internal/slot"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func expectCode(err error, code errors.ErrorCode) {
	appErr, ok := errors.IsAppError(err)
	ExpectWithOffset(1, ok).To(BeTrue(), "expected an AppError, got %v", err)
	ExpectWithOffset(1, appErr.Code).To(Equal(code))
}

var _ = Describe("Gateway", func() {
	var (
		ctx        context.Context
		settings   *setting.Store
		allocator  *slot.Allocator
		store      *order.Store
		orders     *order.Service
		dispatcher *recordingDispatcher
		sweeper    *countingSweeper
		gateway    *monitor.Gateway
	)

	push := func(typ, price string) (*monitor.PushResult, error) {
		t := nowStamp()
		return gateway.Push(ctx, monitor.PushRequest{
			T:     t,
			Type:  typ,
			Price: price,
			Sign:  pushSign(typ, price, t),
		})
	}

	createOrder := func(payID, typ, price string) *order.CreateOrderResponse {
		sign := signature.SignCanonical([]signature.Field{
			signature.F("payId", payID),
			signature.F("param", ""),
			signature.F("type", typ),
			signature.F("price", price),
		}, testSecret)
		resp, err := orders.CreateOrder(ctx, order.CreateOrderRequest{
			PayID: order.Text(payID),
			Type:  order.Text(typ),
			Price: order.Text(price),
			Sign:  order.Text(sign),
		})
		ExpectWithOffset(1, err).NotTo(HaveOccurred())
		return resp
	}

	BeforeEach(func() {
		ctx = context.Background()
		db := openDB()
		log := quietLogger()

		settings = setting.NewStore(settingPostgres.NewSettingRepository(db), log)
		Expect(settings.EnsureDefaults(ctx)).To(Succeed())
		Expect(settings.Update(ctx, map[string]string{
			setting.KeySecret:    testSecret,
			setting.KeyNotifyURL: "http://merchant.test/notify",
			setting.KeyWechatQR:  "wxp://static",
			setting.KeyAlipayQR:  "https://qr.alipay.com/static",
		})).To(Succeed())

		allocator = slot.NewAllocator(db, log)
		store = order.NewStore(orderPostgres.NewOrderRepository(db, allocator), nopPublisher{}, nil, log)
		ids, err := order.NewIDGenerator()
		Expect(err).NotTo(HaveOccurred())

		orders = order.NewService(store, order.Dependencies{Settings: settings, IDs: ids}, order.Config{}, log)
		dispatcher = &recordingDispatcher{}
		sweeper = &countingSweeper{}
		gateway = monitor.NewGateway(store, settings, dispatcher, sweeper, ids, nil, log)
	})

	Describe("Heartbeat", func() {
		It("marks the monitor alive", func() {
			// Given
			t := nowStamp()

			// When
			err := gateway.Heartbeat(ctx, t, heartbeatSign(t))

			// Then
			Expect(err).NotTo(HaveOccurred())
			snap, err := settings.Snapshot(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(snap.MonitorAlive).To(BeTrue())
			Expect(snap.LastHeartbeat.IsZero()).To(BeFalse())
		})

		It("accepts the historical encodings", func() {
			Expect(gateway.Heartbeat(ctx, " 1000 ", signature.Digest("1000"+testSecret))).To(Succeed())
			Expect(gateway.Heartbeat(ctx, "1000.0", signature.Digest("1000"+testSecret))).To(Succeed())
			Expect(gateway.Heartbeat(ctx, " 1000 ", signature.Digest(" 1000 "+testSecret))).To(Succeed())
		})

		It("rejects a bad signature without touching liveness", func() {
			err := gateway.Heartbeat(ctx, "1000", signature.Digest("1000wrong"))

			expectCode(err, errors.ErrCodeInvalidSignature)
			snap, _ := settings.Snapshot(ctx)
			Expect(snap.MonitorAlive).To(BeFalse())
		})

		It("requires both parameters", func() {
			expectCode(gateway.Heartbeat(ctx, "", "x"), errors.ErrCodeValidationFailed)
			expectCode(gateway.Heartbeat(ctx, "1000", " "), errors.ErrCodeValidationFailed)
		})

		It("fails when no secret is configured", func() {
			Expect(settings.Update(ctx, map[string]string{setting.KeySecret: ""})).To(Succeed())

			expectCode(gateway.Heartbeat(ctx, "1000", heartbeatSign("1000")), errors.ErrCodeSecretNotConfigured)
		})
	})

	Describe("Push", func() {
		BeforeEach(func() {
			t := nowStamp()
			Expect(gateway.Heartbeat(ctx, t, heartbeatSign(t))).To(Succeed())
		})

		It("settles the matching order, then records a repeat as unattributed", func() {
			// Given
			created := createOrder("M1", "1", "10.00")
			Expect(created.ReallyPrice).To(Equal("10.00"))

			// When
			first, err := push("1", "10.00")

			// Then
			Expect(err).NotTo(HaveOccurred())
			Expect(first.Outcome).To(Equal(monitor.OutcomeMatched))
			Expect(first.OrderID).To(Equal(created.OrderID))

			paid, err := store.FindByID(ctx, created.OrderID)
			Expect(err).NotTo(HaveOccurred())
			Expect(paid.State).To(Equal(order.StatePaid))
			Expect(paid.PaidAt).NotTo(BeNil())

			_, held, err := allocator.Holder(ctx, 1000, 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(held).To(BeFalse())

			Expect(dispatcher.count()).To(Equal(1))
			Expect(dispatcher.calls[0].delivery.OrderID).To(Equal(created.OrderID))
			Expect(dispatcher.calls[0].delivery.NotifyURL).To(Equal("http://merchant.test/notify"))
			Expect(dispatcher.calls[0].secret).To(Equal(testSecret))

			// When
			second, err := push("1", "10.00")

			// Then
			Expect(err).NotTo(HaveOccurred())
			Expect(second.Outcome).To(Equal(monitor.OutcomeUnattributed))
			Expect(second.OrderID).NotTo(Equal(created.OrderID))
			Expect(dispatcher.count()).To(Equal(1))

			u, err := store.FindByID(ctx, second.OrderID)
			Expect(err).NotTo(HaveOccurred())
			Expect(u.Unattributed).To(BeTrue())
			Expect(u.State).To(Equal(order.StatePaid))
			Expect(u.NotifyURL).To(BeEmpty())
			Expect(u.MerchantOrderID).To(HavePrefix("unattributed-"))
			Expect(u.PriceCents).To(Equal(int64(1000)))
		})

		It("matches on the slot amount, not the requested price", func() {
			first := createOrder("M1", "2", "10.00")
			second := createOrder("M2", "2", "10.00")
			Expect(second.ReallyPrice).To(Equal("10.01"))

			res, err := push("2", "10.01")

			Expect(err).NotTo(HaveOccurred())
			Expect(res.OrderID).To(Equal(second.OrderID))
			still, _ := store.FindByID(ctx, first.OrderID)
			Expect(still.State).To(Equal(order.StatePending))
		})

		It("does not cross payment types", func() {
			created := createOrder("M1", "1", "10.00")

			res, err := push("2", "10.00")

			Expect(err).NotTo(HaveOccurred())
			Expect(res.Outcome).To(Equal(monitor.OutcomeUnattributed))
			pending, _ := store.FindByID(ctx, created.OrderID)
			Expect(pending.State).To(Equal(order.StatePending))
		})

		It("rounds the reported amount to cents", func() {
			created := createOrder("M1", "1", "10.00")

			res, err := push("1", "9.995")

			Expect(err).NotTo(HaveOccurred())
			Expect(res.OrderID).To(Equal(created.OrderID))
			Expect(res.Price).To(Equal("10.00"))
		})

		It("records the payment time and sweeps first", func() {
			_, err := push("1", "3.00")

			Expect(err).NotTo(HaveOccurred())
			Expect(sweeper.calls).To(Equal(1))
			snap, _ := settings.Snapshot(ctx)
			Expect(snap.LastPayment.IsZero()).To(BeFalse())
		})

		It("rejects a bad signature and changes nothing", func() {
			created := createOrder("M1", "1", "10.00")

			_, err := gateway.Push(ctx, monitor.PushRequest{T: "1", Type: "1", Price: "10.00", Sign: "bogus"})

			expectCode(err, errors.ErrCodeInvalidSignature)
			pending, _ := store.FindByID(ctx, created.OrderID)
			Expect(pending.State).To(Equal(order.StatePending))
			Expect(dispatcher.count()).To(Equal(0))
		})

		It("rejects an unknown payment type and a non-positive amount", func() {
			_, err := push("3", "1.00")
			expectCode(err, errors.ErrCodeInvalidPaymentType)

			_, err = push("1", "0")
			expectCode(err, errors.ErrCodeInvalidAmount)
		})

		It("does not settle a smaller order with an amount that overflows cents", func() {
			created := createOrder("M1", "1", "10.00")

			_, err := push("1", "184467440737095526.16")

			expectCode(err, errors.ErrCodeInvalidAmount)
			pending, err := store.FindByID(ctx, created.OrderID)
			Expect(err).NotTo(HaveOccurred())
			Expect(pending.State).To(Equal(order.StatePending))
			Expect(dispatcher.count()).To(Equal(0))
		})

		It("requires every parameter", func() {
			_, err := gateway.Push(ctx, monitor.PushRequest{T: "1", Type: "1", Sign: "x"})
			expectCode(err, errors.ErrCodeValidationFailed)
		})

		It("lets exactly one of two concurrent pushes claim the order", func() {
			created := createOrder("M1", "1", "10.00")

			var wg sync.WaitGroup
			results := make([]*monitor.PushResult, 2)
			for i := range results {
				wg.Add(1)
				go func(i int) {
					defer GinkgoRecover()
					defer wg.Done()
					res, err := push("1", "10.00")
					Expect(err).NotTo(HaveOccurred())
					results[i] = res
				}(i)
			}
			wg.Wait()

			matched := 0
			for _, r := range results {
				if r.Outcome == monitor.OutcomeMatched {
					matched++
					Expect(r.OrderID).To(Equal(created.OrderID))
				}
			}
			Expect(matched).To(Equal(1))
			Expect(dispatcher.count()).To(Equal(1))
		})
	})
})
