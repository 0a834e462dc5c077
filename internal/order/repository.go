package order

import (
	"context"
	"time"

	"github.com/frahmantamala/qrpay/internal/slot"
)

// FinalizeFunc fills in the fields that depend on the reserved slot, inside
// the creating transaction. Returning an error rolls the reservation back.
type FinalizeFunc func(o *Order, r slot.Reservation) error

const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

type ListFilter struct {
	State       *State
	PaymentType PaymentType
	Page        int
	Limit       int
}

func (f ListFilter) Normalize() ListFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit <= 0 || f.Limit > MaxListLimit {
		f.Limit = DefaultListLimit
	}
	return f
}

func (f ListFilter) Offset() int {
	return (f.Page - 1) * f.Limit
}

// Repository persists orders. Every state change is a compare-and-set on the
// current state; the bool result reports whether this call won.
type Repository interface {
	CreateWithSlot(ctx context.Context, o *Order, req slot.ReserveRequest, finalize FinalizeFunc) error
	InsertSettled(ctx context.Context, o *Order) error

	FindByOrderID(ctx context.Context, orderID string) (*Order, error)
	FindByMerchantOrderID(ctx context.Context, merchantOrderID string) (*Order, error)
	FindPendingBySlot(ctx context.Context, cents int64, paymentType PaymentType) (*Order, error)

	MarkPaid(ctx context.Context, orderID string, paidAt time.Time) (*Order, bool, error)
	MarkConfirmed(ctx context.Context, orderID string, paidAt time.Time) (*Order, bool, error)
	MarkNotifyFailed(ctx context.Context, orderID string) (bool, error)
	Expire(ctx context.Context, orderID string, closedAt time.Time) (bool, error)

	PendingBefore(ctx context.Context, cutoff time.Time) ([]string, error)
	Delete(ctx context.Context, orderID string) (bool, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	PurgeOrphanSlots(ctx context.Context) (int64, error)
	List(ctx context.Context, filter ListFilter) ([]*Order, int64, error)
}
