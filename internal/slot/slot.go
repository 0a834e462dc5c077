// Package slot hands out the identifying amount of a pending order.
//
// A slot is a (cents, payment type) pair owned by at most one pending order.
// Reservation is a single insert against the composite primary key with
// ON CONFLICT DO NOTHING, so concurrent allocators can never both win the
// same pair. Collisions are resolved by stepping one cent up or down.
package slot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	orderDatamodel "github.com/frahmantamala/qrpay/internal/core/datamodel/order"
	slotDatamodel "github.com/frahmantamala/qrpay/internal/core/datamodel/slot"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const DefaultMaxAttempts = 10

// orderPending mirrors the pending state stored in pay_orders.state.
const orderPending = 0

var (
	ErrExhausted     = errors.New("no free amount slot within attempt budget")
	ErrInvalidAmount = errors.New("slot amount must be positive")
)

// Mode is the perturbation applied when the desired amount is taken.
type Mode int

const (
	ModeNone Mode = iota
	ModeIncrement
	ModeDecrement
)

// ParseMode reads the stored policy. "1" and "2" are the values written by
// the admin console; the names are accepted as well.
func ParseMode(raw string) Mode {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "increment", "inc", "+":
		return ModeIncrement
	case "2", "decrement", "dec", "-":
		return ModeDecrement
	default:
		return ModeNone
	}
}

func (m Mode) String() string {
	switch m {
	case ModeIncrement:
		return "increment"
	case ModeDecrement:
		return "decrement"
	default:
		return "none"
	}
}

func (m Mode) step() int64 {
	switch m {
	case ModeIncrement:
		return 1
	case ModeDecrement:
		return -1
	default:
		return 0
	}
}

type ReserveRequest struct {
	DesiredCents int64
	PaymentType  int
	OrderID      string
	Mode         Mode
	MaxAttempts  int
}

type Reservation struct {
	Cents       int64
	PaymentType int
	Attempts    int
}

type Allocator struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewAllocator(db *gorm.DB, logger *slog.Logger) *Allocator {
	return &Allocator{db: db, logger: logger}
}

// WithTx binds the allocator to an open transaction so the reservation
// commits or rolls back together with the caller's writes.
func (a *Allocator) WithTx(tx *gorm.DB) *Allocator {
	return &Allocator{db: tx, logger: a.logger}
}

func (a *Allocator) Reserve(ctx context.Context, req ReserveRequest) (Reservation, error) {
	if req.DesiredCents <= 0 {
		return Reservation{}, ErrInvalidAmount
	}
	attempts := req.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}
	if req.Mode == ModeNone {
		attempts = 1
	}

	candidate := req.DesiredCents
	for i := 1; i <= attempts; i++ {
		if candidate <= 0 {
			break
		}

		row := slotDatamodel.AmountSlot{
			SlotCents:   candidate,
			PaymentType: req.PaymentType,
			OrderID:     req.OrderID,
			CreatedAt:   time.Now(),
		}
		res := a.db.WithContext(ctx).
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(&row)
		if res.Error != nil {
			return Reservation{}, fmt.Errorf("reserve slot %d/%d: %w", candidate, req.PaymentType, res.Error)
		}
		if res.RowsAffected == 1 {
			if i > 1 {
				a.logger.Debug("slot perturbed",
					"order_id", req.OrderID,
					"desired_cents", req.DesiredCents,
					"slot_cents", candidate,
					"attempt", i)
			}
			return Reservation{Cents: candidate, PaymentType: req.PaymentType, Attempts: i}, nil
		}

		candidate += req.Mode.step()
	}

	a.logger.Warn("slot allocation exhausted",
		"order_id", req.OrderID,
		"desired_cents", req.DesiredCents,
		"payment_type", req.PaymentType,
		"mode", req.Mode.String(),
		"max_attempts", attempts)
	return Reservation{}, ErrExhausted
}

// Release frees a slot. Releasing a slot that does not exist is a no-op.
func (a *Allocator) Release(ctx context.Context, cents int64, paymentType int) error {
	err := a.db.WithContext(ctx).
		Where("slot_cents = ? AND payment_type = ?", cents, paymentType).
		Delete(&slotDatamodel.AmountSlot{}).Error
	if err != nil {
		return fmt.Errorf("release slot %d/%d: %w", cents, paymentType, err)
	}
	return nil
}

// ReleaseOrder frees whatever slot the order holds, if any.
func (a *Allocator) ReleaseOrder(ctx context.Context, orderID string) error {
	err := a.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Delete(&slotDatamodel.AmountSlot{}).Error
	if err != nil {
		return fmt.Errorf("release slot of order %s: %w", orderID, err)
	}
	return nil
}

// Holder returns the order currently holding the slot.
func (a *Allocator) Holder(ctx context.Context, cents int64, paymentType int) (string, bool, error) {
	var row slotDatamodel.AmountSlot
	err := a.db.WithContext(ctx).
		Where("slot_cents = ? AND payment_type = ?", cents, paymentType).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	return row.OrderID, true, nil
}

// PurgeOrphans removes slots whose order is gone or no longer pending.
func (a *Allocator) PurgeOrphans(ctx context.Context) (int64, error) {
	slots := slotDatamodel.AmountSlot{}.TableName()
	orders := orderDatamodel.PayOrder{}.TableName()

	res := a.db.WithContext(ctx).Exec(
		fmt.Sprintf(`DELETE FROM %[1]s WHERE NOT EXISTS (
			SELECT 1 FROM %[2]s WHERE %[2]s.order_id = %[1]s.order_id AND %[2]s.state = ?
		)`, slots, orders),
		orderPending,
	)
	if res.Error != nil {
		return 0, fmt.Errorf("purge orphan slots: %w", res.Error)
	}
	return res.RowsAffected, nil
}
