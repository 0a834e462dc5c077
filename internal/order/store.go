package order

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/frahmantamala/qrpay/internal/core/events"
	"github.com/frahmantamala/qrpay/internal/metrics"
	"github.com/frahmantamala/qrpay/internal/slot"
)

// Store is the order lifecycle state machine. All mutation of orders and
// their slots goes through it.
type Store struct {
	repo      Repository
	publisher events.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

func NewStore(repo Repository, publisher events.Publisher, m *metrics.Metrics, logger *slog.Logger) *Store {
	return &Store{
		repo:      repo,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}
}

// Create reserves a slot and persists the order in one transaction.
func (s *Store) Create(ctx context.Context, o *Order, req slot.ReserveRequest, finalize FinalizeFunc) error {
	if err := s.repo.CreateWithSlot(ctx, o, req, finalize); err != nil {
		return err
	}
	s.metrics.OrderCreated(int(o.PaymentType))
	s.publish(ctx, events.EventTypeOrderCreated, o)
	return nil
}

// RecordUnattributed stores a payment that matched no pending order as an
// already settled order without a notify target.
func (s *Store) RecordUnattributed(ctx context.Context, o *Order) error {
	if err := s.repo.InsertSettled(ctx, o); err != nil {
		return fmt.Errorf("failed to record unattributed transfer: %w", err)
	}
	s.publish(ctx, events.EventTypeUnattributedTransfer, o)
	return nil
}

func (s *Store) FindByID(ctx context.Context, orderID string) (*Order, error) {
	return s.repo.FindByOrderID(ctx, orderID)
}

func (s *Store) FindByMerchantOrderID(ctx context.Context, merchantOrderID string) (*Order, error) {
	return s.repo.FindByMerchantOrderID(ctx, merchantOrderID)
}

// FindBySlotAmount returns the pending order holding the slot, or nil.
func (s *Store) FindBySlotAmount(ctx context.Context, cents int64, paymentType PaymentType) (*Order, error) {
	o, err := s.repo.FindPendingBySlot(ctx, cents, paymentType)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return o, err
}

// TransitionToPaid settles a pending order and frees its slot. On an order
// that is already settled it returns the current record unchanged; the bool
// reports whether this call performed the transition.
func (s *Store) TransitionToPaid(ctx context.Context, orderID string, paidAt time.Time) (*Order, bool, error) {
	o, won, err := s.repo.MarkPaid(ctx, orderID, paidAt)
	if err != nil {
		return nil, false, fmt.Errorf("failed to mark order %s paid: %w", orderID, err)
	}
	if won {
		s.metrics.Transition(StatePaid.String())
		s.publish(ctx, events.EventTypeOrderPaid, o)
	}
	return o, won, nil
}

// Confirm settles an order whose delivery was confirmed by a manual reissue,
// whatever state it was in.
func (s *Store) Confirm(ctx context.Context, orderID string) (*Order, error) {
	o, won, err := s.repo.MarkConfirmed(ctx, orderID, s.now())
	if err != nil {
		return nil, fmt.Errorf("failed to confirm order %s: %w", orderID, err)
	}
	if won {
		s.metrics.Transition(StatePaid.String())
		s.publish(ctx, events.EventTypeOrderPaid, o)
	}
	return o, nil
}

// MarkNotifyFailed flags a PAID order whose callback was not confirmed. Any
// other state is left alone.
func (s *Store) MarkNotifyFailed(ctx context.Context, orderID string) (bool, error) {
	won, err := s.repo.MarkNotifyFailed(ctx, orderID)
	if err != nil {
		return false, fmt.Errorf("failed to mark order %s notify-failed: %w", orderID, err)
	}
	if won {
		s.metrics.Transition(StateNotifyFailed.String())
		if o, err := s.repo.FindByOrderID(ctx, orderID); err == nil {
			s.publish(ctx, events.EventTypeOrderNotifyFailed, o)
		}
	}
	return won, nil
}

// Close expires a pending order and frees its slot. It is a no-op for any
// other state.
func (s *Store) Close(ctx context.Context, orderID string) (bool, error) {
	won, err := s.repo.Expire(ctx, orderID, s.now())
	if err != nil {
		return false, fmt.Errorf("failed to close order %s: %w", orderID, err)
	}
	if won {
		s.metrics.Transition(StateExpired.String())
		if o, err := s.repo.FindByOrderID(ctx, orderID); err == nil {
			s.publish(ctx, events.EventTypeOrderExpired, o)
		}
	}
	return won, nil
}

// ExpireBefore closes every pending order created before cutoff. Each close
// is its own compare-and-set, so an order settled concurrently is skipped.
func (s *Store) ExpireBefore(ctx context.Context, cutoff time.Time) (int, error) {
	ids, err := s.repo.PendingBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to list overdue orders: %w", err)
	}

	closed := 0
	var firstErr error
	for _, id := range ids {
		won, err := s.Close(ctx, id)
		if err != nil {
			s.logger.Error("failed to expire order", "order_id", id, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if won {
			closed++
		}
	}
	return closed, firstErr
}

func (s *Store) Delete(ctx context.Context, orderID string) (bool, error) {
	return s.repo.Delete(ctx, orderID)
}

func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.repo.DeleteOlderThan(ctx, cutoff)
}

func (s *Store) PurgeOrphanSlots(ctx context.Context) (int64, error) {
	return s.repo.PurgeOrphanSlots(ctx)
}

func (s *Store) List(ctx context.Context, filter ListFilter) ([]*Order, int64, error) {
	return s.repo.List(ctx, filter)
}

func (s *Store) publish(ctx context.Context, eventType string, o *Order) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, events.NewSettlementEvent(eventType, o.Snapshot())); err != nil {
		s.logger.Warn("failed to publish order event", "event_type", eventType, "order_id", o.OrderID, "error", err)
	}
}
