package order_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/frahmantamala/qrpay/internal/order"
	orderPostgres "github.com/frahmantamala/qrpay/internal/order/postgres"
	"github.com/frahmantamala/qrpay/internal/slot"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// unreadableRepository fails every lookup by order id.
type unreadableRepository struct {
	order.Repository
}

func (unreadableRepository) FindByOrderID(ctx context.Context, orderID string) (*order.Order, error) {
	return nil, fmt.Errorf("read replica unavailable")
}

var _ = Describe("Store", func() {
	var (
		ctx       context.Context
		allocator *slot.Allocator
		publisher *recordingPublisher
		store     *order.Store
	)

	createPending := func(orderID, merchantOrderID string, cents int64) *order.Order {
		o := &order.Order{
			OrderID:         orderID,
			MerchantOrderID: merchantOrderID,
			PaymentType:     order.PaymentWechat,
			PriceCents:      cents,
			State:           order.StatePending,
			NotifyURL:       "http://merchant.test/notify",
			CreatedAt:       time.Now(),
		}
		err := store.Create(ctx, o, slot.ReserveRequest{
			DesiredCents: cents, PaymentType: 1, OrderID: orderID, Mode: slot.ModeIncrement,
		}, func(o *order.Order, r slot.Reservation) error {
			o.SlotCents = r.Cents
			o.PayURL = "wxp://static"
			return nil
		})
		ExpectWithOffset(1, err).NotTo(HaveOccurred())
		return o
	}

	BeforeEach(func() {
		ctx = context.Background()
		db := openDB()
		allocator = slot.NewAllocator(db, quietLogger())
		publisher = &recordingPublisher{}
		store = order.NewStore(orderPostgres.NewOrderRepository(db, allocator), publisher, nil, quietLogger())
	})

	Describe("TransitionToPaid", func() {
		It("settles once and frees the slot", func() {
			o := createPending("O1", "M1", 1000)

			paid, won, err := store.TransitionToPaid(ctx, o.OrderID, time.Now())
			Expect(err).NotTo(HaveOccurred())
			Expect(won).To(BeTrue())
			Expect(paid.State).To(Equal(order.StatePaid))
			Expect(paid.PaidAt).NotTo(BeNil())

			_, held, err := allocator.Holder(ctx, 1000, 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(held).To(BeFalse())
		})

		It("hands back the paid order without a separate read", func() {
			db := openDB()
			repo := unreadableRepository{Repository: orderPostgres.NewOrderRepository(db, slot.NewAllocator(db, quietLogger()))}
			s := order.NewStore(repo, publisher, nil, quietLogger())
			o := &order.Order{
				OrderID: "O1", MerchantOrderID: "M1", PaymentType: order.PaymentWechat,
				PriceCents: 1000, State: order.StatePending, CreatedAt: time.Now(),
			}
			Expect(s.Create(ctx, o, slot.ReserveRequest{
				DesiredCents: 1000, PaymentType: 1, OrderID: "O1", Mode: slot.ModeIncrement,
			}, func(o *order.Order, r slot.Reservation) error {
				o.SlotCents = r.Cents
				return nil
			})).To(Succeed())

			paid, won, err := s.TransitionToPaid(ctx, "O1", time.Now())

			Expect(err).NotTo(HaveOccurred())
			Expect(won).To(BeTrue())
			Expect(paid.State).To(Equal(order.StatePaid))
			Expect(paid.SlotCents).To(Equal(int64(1000)))
		})

		It("is idempotent on an already paid order", func() {
			o := createPending("O1", "M1", 1000)
			_, _, err := store.TransitionToPaid(ctx, o.OrderID, time.Now())
			Expect(err).NotTo(HaveOccurred())

			again, won, err := store.TransitionToPaid(ctx, o.OrderID, time.Now())

			Expect(err).NotTo(HaveOccurred())
			Expect(won).To(BeFalse())
			Expect(again.State).To(Equal(order.StatePaid))
			Expect(publisher.types()).To(Equal([]string{"order.created", "order.paid"}))
		})

		It("never lets a push and an expiry both win", func() {
			for i := 0; i < 20; i++ {
				o := createPending(fmt.Sprintf("O%d", i), fmt.Sprintf("M%d", i), 1000)

				var (
					wg                  sync.WaitGroup
					paidWon, expiredWon bool
				)
				wg.Add(2)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					_, won, err := store.TransitionToPaid(ctx, o.OrderID, time.Now())
					Expect(err).NotTo(HaveOccurred())
					paidWon = won
				}()
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					won, err := store.Close(ctx, o.OrderID)
					Expect(err).NotTo(HaveOccurred())
					expiredWon = won
				}()
				wg.Wait()

				Expect(paidWon != expiredWon).To(BeTrue(), "exactly one transition must win")

				final, err := store.FindByID(ctx, o.OrderID)
				Expect(err).NotTo(HaveOccurred())
				if paidWon {
					Expect(final.State).To(Equal(order.StatePaid))
				} else {
					Expect(final.State).To(Equal(order.StateExpired))
				}

				_, held, err := allocator.Holder(ctx, 1000, 1)
				Expect(err).NotTo(HaveOccurred())
				Expect(held).To(BeFalse())
			}
		})
	})

	Describe("FindBySlotAmount", func() {
		It("finds the pending holder of a slot", func() {
			createPending("O1", "M1", 1000)
			second := createPending("O2", "M2", 1000)

			found, err := store.FindBySlotAmount(ctx, 1001, order.PaymentWechat)
			Expect(err).NotTo(HaveOccurred())
			Expect(found.OrderID).To(Equal(second.OrderID))
		})

		It("returns nil when nothing is pending at that amount", func() {
			found, err := store.FindBySlotAmount(ctx, 4242, order.PaymentWechat)
			Expect(err).NotTo(HaveOccurred())
			Expect(found).To(BeNil())
		})
	})

	Describe("MarkNotifyFailed", func() {
		It("only applies to paid orders", func() {
			o := createPending("O1", "M1", 1000)

			won, err := store.MarkNotifyFailed(ctx, o.OrderID)
			Expect(err).NotTo(HaveOccurred())
			Expect(won).To(BeFalse())

			_, _, err = store.TransitionToPaid(ctx, o.OrderID, time.Now())
			Expect(err).NotTo(HaveOccurred())

			won, err = store.MarkNotifyFailed(ctx, o.OrderID)
			Expect(err).NotTo(HaveOccurred())
			Expect(won).To(BeTrue())
			Expect(publisher.types()).To(ContainElement("order.notify_failed"))
		})
	})

	Describe("Confirm", func() {
		It("keeps the original payment time", func() {
			o := createPending("O1", "M1", 1000)
			paidAt := time.Now().Add(-time.Hour).Truncate(time.Second)
			_, _, err := store.TransitionToPaid(ctx, o.OrderID, paidAt)
			Expect(err).NotTo(HaveOccurred())
			_, err = store.MarkNotifyFailed(ctx, o.OrderID)
			Expect(err).NotTo(HaveOccurred())

			confirmed, err := store.Confirm(ctx, o.OrderID)

			Expect(err).NotTo(HaveOccurred())
			Expect(confirmed.State).To(Equal(order.StatePaid))
			Expect(confirmed.PaidAt.Unix()).To(Equal(paidAt.Unix()))
		})
	})

	Describe("ExpireBefore", func() {
		It("closes only orders older than the cutoff", func() {
			createPending("O1", "M1", 1000)
			cutoff := time.Now().Add(time.Second)
			closed, err := store.ExpireBefore(ctx, cutoff)
			Expect(err).NotTo(HaveOccurred())
			Expect(closed).To(Equal(1))

			closed, err = store.ExpireBefore(ctx, cutoff)
			Expect(err).NotTo(HaveOccurred())
			Expect(closed).To(BeZero())
		})
	})

	Describe("RecordUnattributed", func() {
		It("stores a settled order and announces it", func() {
			now := time.Now()
			o := &order.Order{
				OrderID:         "U1",
				MerchantOrderID: "unattributed-abc",
				PaymentType:     order.PaymentAlipay,
				PriceCents:      500,
				SlotCents:       500,
				State:           order.StatePaid,
				Param:           "unattributed transfer",
				Unattributed:    true,
				CreatedAt:       now,
				PaidAt:          &now,
			}

			Expect(store.RecordUnattributed(ctx, o)).To(Succeed())

			found, err := store.FindByID(ctx, "U1")
			Expect(err).NotTo(HaveOccurred())
			Expect(found.Unattributed).To(BeTrue())
			Expect(found.State).To(Equal(order.StatePaid))
			Expect(publisher.types()).To(Equal([]string{"order.unattributed"}))
		})
	})
})
