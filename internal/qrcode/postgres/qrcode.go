package postgres

import (
	"context"

	"gorm.io/gorm"

	qrcodeDatamodel "github.com/frahmantamala/qrpay/internal/core/datamodel/qrcode"
	"github.com/frahmantamala/qrpay/internal/qrcode"
)

type QRCodeRepository struct {
	db *gorm.DB
}

func NewQRCodeRepository(db *gorm.DB) qrcode.RepositoryAPI {
	return &QRCodeRepository{db: db}
}

func (r *QRCodeRepository) Create(ctx context.Context, q *qrcodeDatamodel.PayQRCode) error {
	return r.db.WithContext(ctx).Create(q).Error
}

func (r *QRCodeRepository) List(ctx context.Context, paymentType int) ([]qrcodeDatamodel.PayQRCode, error) {
	q := r.db.WithContext(ctx).Model(&qrcodeDatamodel.PayQRCode{})
	if paymentType != 0 {
		q = q.Where("payment_type = ?", paymentType)
	}
	var rows []qrcodeDatamodel.PayQRCode
	err := q.Order("payment_type ASC, price_cents ASC, id ASC").Find(&rows).Error
	return rows, err
}

func (r *QRCodeRepository) Delete(ctx context.Context, id int64) (bool, error) {
	res := r.db.WithContext(ctx).Delete(&qrcodeDatamodel.PayQRCode{}, id)
	return res.RowsAffected > 0, res.Error
}

// EnabledInRange returns rows oldest first so callers that index by amount
// keep the newest code.
func (r *QRCodeRepository) EnabledInRange(ctx context.Context, paymentType int, minCents, maxCents int64) ([]qrcodeDatamodel.PayQRCode, error) {
	var rows []qrcodeDatamodel.PayQRCode
	err := r.db.WithContext(ctx).
		Where("payment_type = ? AND enabled = ? AND price_cents BETWEEN ? AND ?", paymentType, true, minCents, maxCents).
		Order("id ASC").
		Find(&rows).Error
	return rows, err
}
