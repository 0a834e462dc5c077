package qrcode

import "time"

type PayQRCode struct {
	ID          int64     `gorm:"primaryKey"`
	PaymentType int       `gorm:"column:payment_type;not null;index:idx_pay_qrcodes_amount,priority:1"`
	PriceCents  int64     `gorm:"column:price_cents;not null;index:idx_pay_qrcodes_amount,priority:2"`
	PayURL      string    `gorm:"column:pay_url;type:text;not null"`
	Enabled     bool      `gorm:"column:enabled;not null"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (PayQRCode) TableName() string {
	return "pay_qrcodes"
}
