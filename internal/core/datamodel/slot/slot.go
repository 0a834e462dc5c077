package slot

import "time"

// AmountSlot reserves (slot_cents, payment_type) for exactly one pending order.
type AmountSlot struct {
	SlotCents   int64     `gorm:"column:slot_cents;primaryKey;autoIncrement:false"`
	PaymentType int       `gorm:"column:payment_type;primaryKey;autoIncrement:false"`
	OrderID     string    `gorm:"column:order_id;size:64;not null;index"`
	CreatedAt   time.Time `gorm:"column:created_at;not null"`
}

func (AmountSlot) TableName() string {
	return "amount_slots"
}
