package order_test

import (
	"context"
	stderrors "errors"
	"time"

	errors "github.com/frahmantamala/qrpay/internal"
	orderDatamodel "github.com/frahmantamala/qrpay/internal/core/datamodel/order"
	slotDatamodel "github.com/frahmantamala/qrpay/internal/core/datamodel/slot"
	"github.com/frahmantamala/qrpay/internal/notify"
	"github.com/frahmantamala/qrpay/internal/order"
	orderPostgres "github.com/frahmantamala/qrpay/internal/order/postgres"
	"github.com/frahmantamala/qrpay/internal/setting"
	"github.com/frahmantamala/qrpay/internal/signature"
	"github.com/frahmantamala/qrpay/internal/slot"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testSecret = "k3y"

func openDB() *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	Expect(err).NotTo(HaveOccurred())

	sqlDB, err := db.DB()
	Expect(err).NotTo(HaveOccurred())
	sqlDB.SetMaxOpenConns(1)

	Expect(db.AutoMigrate(&orderDatamodel.PayOrder{}, &slotDatamodel.AmountSlot{})).To(Succeed())
	return db
}

func expectCode(err error, code errors.ErrorCode) {
	appErr, ok := errors.IsAppError(err)
	ExpectWithOffset(1, ok).To(BeTrue(), "expected an AppError, got %v", err)
	ExpectWithOffset(1, appErr.Code).To(Equal(code))
}

func signCreate(payID, param, typ, price string) string {
	return signature.SignCanonical([]signature.Field{
		signature.F("payId", payID),
		signature.F("param", param),
		signature.F("type", typ),
		signature.F("price", price),
	}, testSecret)
}

func backdate(db *gorm.DB, orderID string, age time.Duration) {
	ExpectWithOffset(1, db.Model(&orderDatamodel.PayOrder{}).
		Where("order_id = ?", orderID).
		Update("created_at", time.Now().Add(-age)).Error).To(Succeed())
}

var _ = Describe("Service", func() {
	var (
		ctx       context.Context
		db        *gorm.DB
		allocator *slot.Allocator
		store     *order.Store
		settings  *fakeSettings
		qrcodes   *fakeQRCodes
		notifier  *fakeNotifier
		sweeper   *countingSweeper
		publisher *recordingPublisher
		config    order.Config
		svc       *order.Service
	)

	build := func() {
		ids, err := order.NewIDGenerator()
		Expect(err).NotTo(HaveOccurred())
		svc = order.NewService(store, order.Dependencies{
			Settings: settings,
			QRCodes:  qrcodes,
			Notifier: notifier,
			Sweeper:  sweeper,
			IDs:      ids,
		}, config, quietLogger())
	}

	create := func(payID, typ, price string) (*order.CreateOrderResponse, error) {
		return svc.CreateOrder(ctx, order.CreateOrderRequest{
			PayID: order.Text(payID),
			Param: "vip",
			Type:  order.Text(typ),
			Price: order.Text(price),
			Sign:  order.Text(signCreate(payID, "vip", typ, price)),
		})
	}

	mustCreate := func(payID, typ, price string) *order.CreateOrderResponse {
		resp, err := create(payID, typ, price)
		ExpectWithOffset(1, err).NotTo(HaveOccurred())
		return resp
	}

	BeforeEach(func() {
		ctx = context.Background()
		db = openDB()
		allocator = slot.NewAllocator(db, quietLogger())
		publisher = &recordingPublisher{}
		store = order.NewStore(orderPostgres.NewOrderRepository(db, allocator), publisher, nil, quietLogger())
		settings = &fakeSettings{snap: setting.Snapshot{
			Secret:       testSecret,
			CloseMinutes: 5,
			NotifyURL:    "http://merchant.test/notify",
			ReturnURL:    "http://merchant.test/return",
			WechatQR:     "wxp://static",
			AlipayQR:     "https://qr.alipay.com/static",
			Perturbation: slot.ModeIncrement,
			MonitorAlive: true,
		}}
		qrcodes = &fakeQRCodes{byType: map[int]map[int64]string{}}
		notifier = &fakeNotifier{}
		sweeper = &countingSweeper{}
		config = order.Config{FrontendURL: "https://pay.example.com/"}
		build()
	})

	Describe("CreateOrder", func() {
		It("reserves the requested amount and falls back to the static QR", func() {
			// When
			resp := mustCreate("M1", "1", "10.00")

			// Then
			Expect(resp.PayID).To(Equal("M1"))
			Expect(resp.ReallyPrice).To(Equal("10.00"))
			Expect(resp.PayURL).To(Equal("wxp://static"))
			Expect(resp.IsAuto).To(BeTrue())
			Expect(resp.TimeoutMinutes).To(Equal(5))
			Expect(resp.RedirectURL).To(Equal("https://pay.example.com/#/payment/" + resp.OrderID))

			holder, ok, err := allocator.Holder(ctx, 1000, 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(holder).To(Equal(resp.OrderID))
			Expect(publisher.types()).To(ContainElement("order.created"))
		})

		It("perturbs a colliding amount by one cent", func() {
			first := mustCreate("M1", "1", "10.00")
			second := mustCreate("M2", "1", "10.00")

			Expect(first.ReallyPrice).To(Equal("10.00"))
			Expect(second.ReallyPrice).To(Equal("10.01"))
			Expect(second.Price).To(Equal("10.00"))
		})

		It("keeps payment types in separate slot spaces", func() {
			mustCreate("M1", "1", "10.00")
			resp := mustCreate("M2", "2", "10.00")

			Expect(resp.ReallyPrice).To(Equal("10.00"))
			Expect(resp.PayURL).To(Equal("https://qr.alipay.com/static"))
		})

		It("prefers a registered QR for the exact slot amount", func() {
			qrcodes.byType[1] = map[int64]string{1001: "wxp://fixed-10.01"}

			mustCreate("M1", "1", "10.00")
			resp := mustCreate("M2", "1", "10.00")

			Expect(resp.PayURL).To(Equal("wxp://fixed-10.01"))
			Expect(resp.IsAuto).To(BeFalse())
		})

		It("truncates sub-cent prices", func() {
			resp := mustCreate("M1", "1", "10.009")
			Expect(resp.ReallyPrice).To(Equal("10.00"))
		})

		It("accepts the legacy concatenated signature", func() {
			legacy := signature.SignLegacy([]signature.Field{
				signature.F("payId", "M1"), signature.F("param", "vip"),
				signature.F("type", "1"), signature.F("price", "10.00"),
			}, testSecret)

			_, err := svc.CreateOrder(ctx, order.CreateOrderRequest{
				PayID: "M1", Param: "vip", Type: "1", Price: "10.00", Sign: order.Text(legacy),
			})
			Expect(err).NotTo(HaveOccurred())
		})

		It("rejects a bad signature", func() {
			_, err := svc.CreateOrder(ctx, order.CreateOrderRequest{
				PayID: "M1", Param: "vip", Type: "1", Price: "10.00", Sign: "deadbeef",
			})
			expectCode(err, errors.ErrCodeInvalidSignature)
		})

		It("rejects a price too large to store instead of wrapping it", func() {
			_, err := create("HUGE", "1", "184467440737095526.16")
			expectCode(err, errors.ErrCodeInvalidAmount)

			resp := mustCreate("M1", "1", "10.00")
			Expect(resp.ReallyPrice).To(Equal("10.00"))
		})

		It("rejects a duplicate merchant order id", func() {
			mustCreate("M1", "1", "10.00")

			_, err := create("M1", "1", "20.00")
			expectCode(err, errors.ErrCodeDuplicateOrder)
		})

		It("refuses when the secret is not configured", func() {
			settings.update(func(s *setting.Snapshot) { s.Secret = "" })

			_, err := create("M1", "1", "10.00")
			expectCode(err, errors.ErrCodeSecretNotConfigured)
		})

		It("refuses while the monitor is down", func() {
			settings.update(func(s *setting.Snapshot) { s.MonitorAlive = false })

			_, err := create("M1", "1", "10.00")
			expectCode(err, errors.ErrCodeMonitorDown)
		})

		It("rolls the reservation back when no pay url exists", func() {
			settings.update(func(s *setting.Snapshot) { s.WechatQR = "" })

			_, err := create("M1", "1", "10.00")
			expectCode(err, errors.ErrCodeNoPayURL)

			_, held, err := allocator.Holder(ctx, 1000, 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(held).To(BeFalse())
		})

		It("reports capacity exhaustion once the attempt budget is spent", func() {
			config.MaxAttempts = 2
			build()

			mustCreate("M1", "1", "10.00")
			mustCreate("M2", "1", "10.00")
			_, err := create("M3", "1", "10.00")

			expectCode(err, errors.ErrCodeCapacityExceeded)
		})

		It("runs the opportunistic sweep first", func() {
			mustCreate("M1", "1", "10.00")
			Expect(sweeper.calls).To(Equal(1))
		})

		It("fills callback urls from settings when omitted", func() {
			resp := mustCreate("M1", "1", "10.00")

			detail, err := svc.OrderDetail(ctx, resp.OrderID)
			Expect(err).NotTo(HaveOccurred())
			Expect(detail.NotifyURL).To(Equal("http://merchant.test/notify"))
			Expect(detail.ReturnURL).To(Equal("http://merchant.test/return"))
		})
	})

	Describe("CheckOrder", func() {
		It("reports a fresh order as pending with time left", func() {
			resp := mustCreate("M1", "1", "10.00")

			check, err := svc.CheckOrder(ctx, resp.OrderID)
			Expect(err).NotTo(HaveOccurred())
			Expect(check.State).To(Equal(int(order.StatePending)))
			Expect(check.RemainingSeconds).To(BeNumerically(">", 290))
			Expect(check.RedirectURL).To(BeEmpty())
		})

		It("expires an overdue order on read and frees its slot", func() {
			resp := mustCreate("M1", "1", "10.00")
			backdate(db, resp.OrderID, 301*time.Second)

			check, err := svc.CheckOrder(ctx, resp.OrderID)
			Expect(err).NotTo(HaveOccurred())
			Expect(check.State).To(Equal(int(order.StateExpired)))
			Expect(check.RemainingSeconds).To(BeZero())

			_, held, err := allocator.Holder(ctx, 1000, 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(held).To(BeFalse())

			again := mustCreate("M2", "1", "10.00")
			Expect(again.ReallyPrice).To(Equal("10.00"))
		})

		It("hands back the return url once paid", func() {
			resp := mustCreate("M1", "1", "10.00")
			_, won, err := store.TransitionToPaid(ctx, resp.OrderID, time.Now())
			Expect(err).NotTo(HaveOccurred())
			Expect(won).To(BeTrue())

			check, err := svc.CheckOrder(ctx, resp.OrderID)
			Expect(err).NotTo(HaveOccurred())
			Expect(check.State).To(Equal(int(order.StatePaid)))
			Expect(check.RedirectURL).To(Equal("http://merchant.test/return"))
		})

		It("reports unknown orders", func() {
			_, err := svc.CheckOrder(ctx, "nope")
			expectCode(err, errors.ErrCodeOrderNotFound)
		})
	})

	Describe("GetOrder", func() {
		It("returns the payment page fields", func() {
			resp := mustCreate("M1", "1", "10.00")

			detail, err := svc.GetOrder(ctx, resp.OrderID)
			Expect(err).NotTo(HaveOccurred())
			Expect(detail.StateText).To(Equal("PENDING"))
			Expect(detail.Param).To(Equal("vip"))
			Expect(detail.TimeoutMinutes).To(Equal(5))
			Expect(detail.RedirectURL).To(HaveSuffix(resp.OrderID))
		})
	})

	Describe("CloseOrder", func() {
		It("expires a pending order once", func() {
			resp := mustCreate("M1", "1", "10.00")

			Expect(svc.CloseOrder(ctx, resp.OrderID)).To(Succeed())
			expectCode(svc.CloseOrder(ctx, resp.OrderID), errors.ErrCodeOrderNotPending)

			_, held, err := allocator.Holder(ctx, 1000, 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(held).To(BeFalse())
		})

		It("checks the merchant signature on the signed variant", func() {
			resp := mustCreate("M1", "1", "10.00")

			expectCode(svc.CloseOrderSigned(ctx, resp.OrderID, "bad"), errors.ErrCodeInvalidSignature)

			sign := signature.SignLegacy([]signature.Field{signature.F("orderId", resp.OrderID)}, testSecret)
			Expect(svc.CloseOrderSigned(ctx, resp.OrderID, sign)).To(Succeed())
		})

		It("reports unknown orders", func() {
			expectCode(svc.CloseOrder(ctx, "nope"), errors.ErrCodeOrderNotFound)
		})
	})

	Describe("DeleteOrder", func() {
		It("removes the order and is idempotent", func() {
			resp := mustCreate("M1", "1", "10.00")

			Expect(svc.DeleteOrder(ctx, resp.OrderID)).To(Succeed())
			Expect(svc.DeleteOrder(ctx, resp.OrderID)).To(Succeed())

			_, err := svc.GetOrder(ctx, resp.OrderID)
			expectCode(err, errors.ErrCodeOrderNotFound)

			_, held, err := allocator.Holder(ctx, 1000, 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(held).To(BeFalse())
		})
	})

	Describe("Reissue", func() {
		It("settles the order and fires the return callback when confirmed", func() {
			notifier.deliver = notify.Result{Kind: notify.KindNotify, Status: notify.Confirmed, Strategy: "legacy"}
			notifier.ret = notify.Result{Kind: notify.KindReturn, Status: notify.Confirmed, Strategy: "current"}
			resp := mustCreate("M1", "1", "10.00")
			_, _, err := store.TransitionToPaid(ctx, resp.OrderID, time.Now())
			Expect(err).NotTo(HaveOccurred())
			_, err = store.MarkNotifyFailed(ctx, resp.OrderID)
			Expect(err).NotTo(HaveOccurred())

			out, err := svc.Reissue(ctx, resp.OrderID)

			Expect(err).NotTo(HaveOccurred())
			Expect(out.State).To(Equal(int(order.StatePaid)))
			Expect(out.Strategy).To(Equal("legacy"))
			Expect(out.ReturnDelivered).To(BeTrue())
			Expect(notifier.delivered).To(HaveLen(1))
			Expect(notifier.delivered[0].MerchantOrderID).To(Equal("M1"))
			Expect(notifier.returned).To(HaveLen(1))
		})

		It("revives an expired order the merchant confirmed", func() {
			notifier.deliver = notify.Result{Status: notify.Confirmed, Strategy: "current"}
			resp := mustCreate("M1", "1", "10.00")
			Expect(svc.CloseOrder(ctx, resp.OrderID)).To(Succeed())

			out, err := svc.Reissue(ctx, resp.OrderID)
			Expect(err).NotTo(HaveOccurred())
			Expect(out.State).To(Equal(int(order.StatePaid)))
		})

		It("reports both responses when the merchant does not confirm", func() {
			notifier.deliver = notify.Result{
				Status: notify.Unconfirmed,
				Attempts: []notify.Attempt{
					{Strategy: "current", Body: "fail"},
					{Strategy: "legacy", Err: stderrors.New("connection refused")},
				},
			}
			resp := mustCreate("M1", "1", "10.00")

			_, err := svc.Reissue(ctx, resp.OrderID)

			expectCode(err, errors.ErrCodeDeliveryUnconfirmed)
			appErr, _ := errors.IsAppError(err)
			Expect(appErr.Details).To(Equal(map[string]string{
				"newResp":    "fail",
				"legacyResp": "connection refused",
			}))
			Expect(notifier.returned).To(BeEmpty())

			detail, err := svc.OrderDetail(ctx, resp.OrderID)
			Expect(err).NotTo(HaveOccurred())
			Expect(detail.State).To(Equal(int(order.StatePending)))
		})

		It("needs a notify url", func() {
			settings.update(func(s *setting.Snapshot) { s.NotifyURL = "" })
			resp := mustCreate("M1", "1", "10.00")

			_, err := svc.Reissue(ctx, resp.OrderID)
			expectCode(err, errors.ErrCodeNoNotifyURL)
		})
	})

	Describe("GenerateReturnURL", func() {
		It("signs both formats", func() {
			resp := mustCreate("M1", "1", "10.00")

			out, err := svc.GenerateReturnURL(ctx, resp.OrderID)
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Mode).To(Equal("new-first"))
			Expect(out.ReturnURL).To(Equal(out.ReturnURLNew))
			Expect(out.ReturnURLNew).To(HavePrefix("http://merchant.test/return?payId=M1&"))
			Expect(out.ReturnURLNew).To(HaveSuffix("sign=" + out.Sign))
			Expect(out.ReturnURLLegacy).To(HaveSuffix("sign=" + out.SignLegacy))
			Expect(out.Sign).NotTo(Equal(out.SignLegacy))
		})

		It("needs a return url", func() {
			settings.update(func(s *setting.Snapshot) { s.ReturnURL = "" })
			resp := mustCreate("M1", "1", "10.00")

			_, err := svc.GenerateReturnURL(ctx, resp.OrderID)
			expectCode(err, errors.ErrCodeNoReturnURL)
		})
	})

	Describe("admin operations", func() {
		It("lists with a state filter", func() {
			first := mustCreate("M1", "1", "10.00")
			mustCreate("M2", "1", "20.00")
			Expect(svc.CloseOrder(ctx, first.OrderID)).To(Succeed())

			pending := order.StatePending
			list, err := svc.ListOrders(ctx, order.ListFilter{State: &pending})
			Expect(err).NotTo(HaveOccurred())
			Expect(list.Total).To(Equal(int64(1)))
			Expect(list.Items).To(HaveLen(1))
			Expect(list.Items[0].MerchantOrderID).To(Equal("M2"))
			Expect(list.Limit).To(Equal(order.DefaultListLimit))
		})

		It("expires every overdue order in bulk", func() {
			old := mustCreate("M1", "1", "10.00")
			mustCreate("M2", "1", "20.00")
			backdate(db, old.OrderID, 10*time.Minute)

			closed, err := svc.ExpireOverdue(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(closed).To(Equal(1))
		})

		It("purges orders past retention", func() {
			old := mustCreate("M1", "1", "10.00")
			mustCreate("M2", "1", "20.00")
			backdate(db, old.OrderID, 48*time.Hour)

			deleted, err := svc.Purge(ctx, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(deleted).To(Equal(int64(1)))

			_, held, err := allocator.Holder(ctx, 1000, 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(held).To(BeFalse())
		})
	})
})
