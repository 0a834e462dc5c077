package postgres

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	orderDatamodel "github.com/frahmantamala/qrpay/internal/core/datamodel/order"
	"github.com/frahmantamala/qrpay/internal/order"
	"github.com/frahmantamala/qrpay/internal/slot"
)

// OrderRepository implements order.Repository with GORM. Slot releases run in
// the same transaction as the state change they belong to.
type OrderRepository struct {
	db    *gorm.DB
	slots *slot.Allocator
}

func NewOrderRepository(db *gorm.DB, slots *slot.Allocator) *OrderRepository {
	return &OrderRepository{db: db, slots: slots}
}

var _ order.Repository = (*OrderRepository)(nil)

func (r *OrderRepository) CreateWithSlot(ctx context.Context, o *order.Order, req slot.ReserveRequest, finalize order.FinalizeFunc) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res, err := r.slots.WithTx(tx).Reserve(ctx, req)
		if err != nil {
			return err
		}
		if err := finalize(o, res); err != nil {
			return err
		}

		row := o.ToDataModel()
		if err := tx.Create(row).Error; err != nil {
			if isDuplicate(err) {
				return order.ErrDuplicateKey
			}
			return err
		}
		o.ID = row.ID
		return nil
	})
}

func (r *OrderRepository) InsertSettled(ctx context.Context, o *order.Order) error {
	row := o.ToDataModel()
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		if isDuplicate(err) {
			return order.ErrDuplicateKey
		}
		return err
	}
	o.ID = row.ID
	return nil
}

func (r *OrderRepository) FindByOrderID(ctx context.Context, orderID string) (*order.Order, error) {
	return r.first(ctx, "order_id = ?", orderID)
}

func (r *OrderRepository) FindByMerchantOrderID(ctx context.Context, merchantOrderID string) (*order.Order, error) {
	return r.first(ctx, "merchant_order_id = ?", merchantOrderID)
}

func (r *OrderRepository) FindPendingBySlot(ctx context.Context, cents int64, paymentType order.PaymentType) (*order.Order, error) {
	return r.first(ctx, "slot_cents = ? AND payment_type = ? AND state = ?", cents, int(paymentType), int(order.StatePending))
}

func (r *OrderRepository) first(ctx context.Context, query string, args ...interface{}) (*order.Order, error) {
	var row orderDatamodel.PayOrder
	err := r.db.WithContext(ctx).Where(query, args...).Order("id ASC").First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, order.ErrNotFound
		}
		return nil, err
	}
	return order.FromDataModel(&row), nil
}

// MarkPaid moves a pending order to PAID and frees its slot. The returned
// order is read in the same transaction, whether or not this call won.
func (r *OrderRepository) MarkPaid(ctx context.Context, orderID string, paidAt time.Time) (*order.Order, bool, error) {
	var row orderDatamodel.PayOrder
	won, err := r.transition(ctx, orderID, []order.State{order.StatePending}, map[string]interface{}{
		"state":   int(order.StatePaid),
		"paid_at": paidAt,
	}, true, &row)
	if err != nil {
		return nil, false, err
	}
	return order.FromDataModel(&row), won, nil
}

// MarkConfirmed settles an order after a manually confirmed delivery, from
// any state other than PAID. An existing paid_at is kept.
func (r *OrderRepository) MarkConfirmed(ctx context.Context, orderID string, paidAt time.Time) (*order.Order, bool, error) {
	var row orderDatamodel.PayOrder
	won, err := r.transition(ctx, orderID, []order.State{order.StatePending, order.StateNotifyFailed, order.StateExpired}, map[string]interface{}{
		"state":   int(order.StatePaid),
		"paid_at": gorm.Expr("COALESCE(paid_at, ?)", paidAt),
	}, true, &row)
	if err != nil {
		return nil, false, err
	}
	return order.FromDataModel(&row), won, nil
}

func (r *OrderRepository) MarkNotifyFailed(ctx context.Context, orderID string) (bool, error) {
	return r.transition(ctx, orderID, []order.State{order.StatePaid}, map[string]interface{}{
		"state": int(order.StateNotifyFailed),
	}, false, nil)
}

func (r *OrderRepository) Expire(ctx context.Context, orderID string, closedAt time.Time) (bool, error) {
	return r.transition(ctx, orderID, []order.State{order.StatePending}, map[string]interface{}{
		"state":     int(order.StateExpired),
		"closed_at": closedAt,
	}, true, nil)
}

// transition applies updates when the order is in one of the from states.
// A non-nil out receives the row as it stands at the end of the transaction.
func (r *OrderRepository) transition(ctx context.Context, orderID string, from []order.State, updates map[string]interface{}, release bool, out *orderDatamodel.PayOrder) (bool, error) {
	states := make([]int, len(from))
	for i, s := range from {
		states[i] = int(s)
	}

	won := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&orderDatamodel.PayOrder{}).
			Where("order_id = ? AND state IN ?", orderID, states).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		won = res.RowsAffected > 0
		if won && release {
			if err := r.slots.WithTx(tx).ReleaseOrder(ctx, orderID); err != nil {
				return err
			}
		}
		if out == nil {
			return nil
		}
		err := tx.Where("order_id = ?", orderID).First(out).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return order.ErrNotFound
		}
		return err
	})
	if err != nil {
		return false, err
	}
	return won, nil
}

func (r *OrderRepository) PendingBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&orderDatamodel.PayOrder{}).
		Where("state = ? AND created_at < ?", int(order.StatePending), cutoff).
		Order("created_at ASC").
		Pluck("order_id", &ids).Error
	return ids, err
}

func (r *OrderRepository) Delete(ctx context.Context, orderID string) (bool, error) {
	deleted := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("order_id = ?", orderID).Delete(&orderDatamodel.PayOrder{})
		if res.Error != nil {
			return res.Error
		}
		deleted = res.RowsAffected > 0
		return r.slots.WithTx(tx).ReleaseOrder(ctx, orderID)
	})
	return deleted, err
}

// DeleteOlderThan hard-deletes orders created before cutoff together with any
// slot left pointing at an order that is no longer pending.
func (r *OrderRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("created_at < ?", cutoff).Delete(&orderDatamodel.PayOrder{})
		if res.Error != nil {
			return res.Error
		}
		deleted = res.RowsAffected
		_, err := r.slots.WithTx(tx).PurgeOrphans(ctx)
		return err
	})
	return deleted, err
}

func (r *OrderRepository) PurgeOrphanSlots(ctx context.Context) (int64, error) {
	return r.slots.PurgeOrphans(ctx)
}

func (r *OrderRepository) List(ctx context.Context, filter order.ListFilter) ([]*order.Order, int64, error) {
	filter = filter.Normalize()

	scoped := func() *gorm.DB {
		q := r.db.WithContext(ctx).Model(&orderDatamodel.PayOrder{})
		if filter.State != nil {
			q = q.Where("state = ?", int(*filter.State))
		}
		if filter.PaymentType != 0 {
			q = q.Where("payment_type = ?", int(filter.PaymentType))
		}
		return q
	}

	var total int64
	if err := scoped().Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []orderDatamodel.PayOrder
	if err := scoped().Order("id DESC").Limit(filter.Limit).Offset(filter.Offset()).Find(&rows).Error; err != nil {
		return nil, 0, err
	}

	orders := make([]*order.Order, len(rows))
	for i := range rows {
		orders[i] = order.FromDataModel(&rows[i])
	}
	return orders, total, nil
}

// isDuplicate recognises unique violations whether or not the dialector
// translates them.
func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "duplicate key value")
}
