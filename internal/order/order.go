package order

import (
	"errors"
	"time"

	"github.com/frahmantamala/qrpay/internal/core/events"
	"github.com/frahmantamala/qrpay/internal/core/money"
	orderDatamodel "github.com/frahmantamala/qrpay/internal/core/datamodel/order"
	"github.com/frahmantamala/qrpay/internal/notify"
)

type State int

const (
	StateExpired      State = -1
	StatePending      State = 0
	StatePaid         State = 1
	StateNotifyFailed State = 2
)

func (s State) String() string {
	switch s {
	case StateExpired:
		return "EXPIRED"
	case StatePending:
		return "PENDING"
	case StatePaid:
		return "PAID"
	case StateNotifyFailed:
		return "NOTIFY_FAILED"
	default:
		return "UNKNOWN"
	}
}

// Settled reports whether money has arrived for the order.
func (s State) Settled() bool {
	return s == StatePaid || s == StateNotifyFailed
}

type PaymentType int

const (
	PaymentWechat PaymentType = 1
	PaymentAlipay PaymentType = 2
)

func (p PaymentType) Valid() bool {
	return p == PaymentWechat || p == PaymentAlipay
}

func (p PaymentType) String() string {
	switch p {
	case PaymentWechat:
		return "wechat"
	case PaymentAlipay:
		return "alipay"
	default:
		return "unknown"
	}
}

var (
	ErrNotFound     = errors.New("order not found")
	ErrNotPending   = errors.New("order is not pending")
	ErrDuplicateKey = errors.New("order key already exists")
)

type Order struct {
	ID              int64
	OrderID         string
	MerchantOrderID string
	PaymentType     PaymentType
	PriceCents      int64
	SlotCents       int64
	State           State
	PayURL          string
	IsAuto          bool
	NotifyURL       string
	ReturnURL       string
	Param           string
	Unattributed    bool
	CreatedAt       time.Time
	PaidAt          *time.Time
	ClosedAt        *time.Time
}

// RemainingSeconds is the time left before a pending order expires. Orders
// that are no longer pending have none.
func (o *Order) RemainingSeconds(now time.Time, timeout time.Duration) int64 {
	if o.State != StatePending {
		return 0
	}
	left := timeout - now.Sub(o.CreatedAt)
	if left <= 0 {
		return 0
	}
	return int64(left / time.Second)
}

// Overdue reports a pending order whose timeout has fully elapsed.
func (o *Order) Overdue(now time.Time, timeout time.Duration) bool {
	return o.State == StatePending && now.Sub(o.CreatedAt) > timeout
}

func (o *Order) Price() string {
	return money.Format(o.PriceCents)
}

func (o *Order) SlotPrice() string {
	return money.Format(o.SlotCents)
}

func (o *Order) Delivery() notify.Delivery {
	return notify.Delivery{
		OrderID:         o.OrderID,
		MerchantOrderID: o.MerchantOrderID,
		Param:           o.Param,
		PaymentType:     int(o.PaymentType),
		PriceCents:      o.PriceCents,
		SlotCents:       o.SlotCents,
		NotifyURL:       o.NotifyURL,
		ReturnURL:       o.ReturnURL,
	}
}

func (o *Order) Snapshot() events.OrderSnapshot {
	return events.OrderSnapshot{
		OrderID:         o.OrderID,
		MerchantOrderID: o.MerchantOrderID,
		PaymentType:     int(o.PaymentType),
		PriceCents:      o.PriceCents,
		SlotCents:       o.SlotCents,
		State:           int(o.State),
	}
}

func (o *Order) ToDataModel() *orderDatamodel.PayOrder {
	return &orderDatamodel.PayOrder{
		ID:              o.ID,
		OrderID:         o.OrderID,
		MerchantOrderID: o.MerchantOrderID,
		PaymentType:     int(o.PaymentType),
		PriceCents:      o.PriceCents,
		SlotCents:       o.SlotCents,
		State:           int(o.State),
		PayURL:          o.PayURL,
		IsAuto:          o.IsAuto,
		NotifyURL:       o.NotifyURL,
		ReturnURL:       o.ReturnURL,
		Param:           o.Param,
		Unattributed:    o.Unattributed,
		CreatedAt:       o.CreatedAt,
		PaidAt:          o.PaidAt,
		ClosedAt:        o.ClosedAt,
	}
}

func FromDataModel(m *orderDatamodel.PayOrder) *Order {
	return &Order{
		ID:              m.ID,
		OrderID:         m.OrderID,
		MerchantOrderID: m.MerchantOrderID,
		PaymentType:     PaymentType(m.PaymentType),
		PriceCents:      m.PriceCents,
		SlotCents:       m.SlotCents,
		State:           State(m.State),
		PayURL:          m.PayURL,
		IsAuto:          m.IsAuto,
		NotifyURL:       m.NotifyURL,
		ReturnURL:       m.ReturnURL,
		Param:           m.Param,
		Unattributed:    m.Unattributed,
		CreatedAt:       m.CreatedAt,
		PaidAt:          m.PaidAt,
		ClosedAt:        m.ClosedAt,
	}
}
