package order

import "time"

type PayOrder struct {
	ID              int64      `gorm:"primaryKey"`
	OrderID         string     `gorm:"column:order_id;size:64;uniqueIndex;not null"`
	MerchantOrderID string     `gorm:"column:merchant_order_id;size:128;uniqueIndex;not null"`
	PaymentType     int        `gorm:"column:payment_type;not null;index:idx_pay_orders_match,priority:1"`
	PriceCents      int64      `gorm:"column:price_cents;not null"`
	SlotCents       int64      `gorm:"column:slot_cents;not null;index:idx_pay_orders_match,priority:2"`
	State           int        `gorm:"column:state;not null;index:idx_pay_orders_match,priority:3"`
	PayURL          string     `gorm:"column:pay_url;type:text"`
	IsAuto          bool       `gorm:"column:is_auto;not null"`
	NotifyURL       string     `gorm:"column:notify_url;type:text"`
	ReturnURL       string     `gorm:"column:return_url;type:text"`
	Param           string     `gorm:"column:param;type:text"`
	Unattributed    bool       `gorm:"column:unattributed;not null"`
	CreatedAt       time.Time  `gorm:"column:created_at;not null;index"`
	PaidAt          *time.Time `gorm:"column:paid_at"`
	ClosedAt        *time.Time `gorm:"column:closed_at"`
}

func (PayOrder) TableName() string {
	return "pay_orders"
}
