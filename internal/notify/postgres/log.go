package postgres

import (
	"context"

	"gorm.io/gorm"

	notificationDatamodel "github.com/frahmantamala/qrpay/internal/core/datamodel/notification"
	"github.com/frahmantamala/qrpay/internal/notify"
)

const maxResponseLen = 1024

type LogRepository struct {
	db *gorm.DB
}

func NewLogRepository(db *gorm.DB) *LogRepository {
	return &LogRepository{db: db}
}

func (r *LogRepository) Record(ctx context.Context, kind notify.Kind, orderID string, a notify.Attempt) error {
	entry := notificationDatamodel.Log{
		OrderID:    orderID,
		Kind:       string(kind),
		Strategy:   a.Strategy,
		Method:     a.Method,
		URL:        a.URL,
		StatusCode: a.StatusCode,
		Response:   clip(a.Body),
		Confirmed:  a.Accepted,
		DurationMs: a.Duration.Milliseconds(),
	}
	if a.Err != nil {
		entry.Error = clip(a.Err.Error())
	}
	return r.db.WithContext(ctx).Create(&entry).Error
}

// ListByOrder returns the attempts for one order, oldest first.
func (r *LogRepository) ListByOrder(ctx context.Context, orderID string) ([]notificationDatamodel.Log, error) {
	var logs []notificationDatamodel.Log
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("id ASC").
		Find(&logs).Error
	return logs, err
}

func clip(s string) string {
	if len(s) > maxResponseLen {
		return s[:maxResponseLen]
	}
	return s
}
