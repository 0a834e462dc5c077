package notification

import "time"

// Log is one outbound delivery attempt to a merchant endpoint.
type Log struct {
	ID         int64     `gorm:"primaryKey"`
	OrderID    string    `gorm:"column:order_id;size:64;not null;index"`
	Kind       string    `gorm:"column:kind;size:16;not null"`
	Strategy   string    `gorm:"column:strategy;size:32;not null"`
	Method     string    `gorm:"column:method;size:8;not null"`
	URL        string    `gorm:"column:url;type:text;not null"`
	StatusCode int       `gorm:"column:status_code"`
	Response   string    `gorm:"column:response;type:text"`
	Error      string    `gorm:"column:error;type:text"`
	Confirmed  bool      `gorm:"column:confirmed;not null"`
	DurationMs int64     `gorm:"column:duration_ms"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (Log) TableName() string {
	return "notification_logs"
}
