// Package monitor is the endpoint surface for the phone-side agent that
// watches the WeChat and Alipay apps: liveness heartbeats and observed
// payment pushes.
package monitor

import (
	"context"
	"log/slog"
	"strings"
	"time"

	errors "github.com/frahmantamala/qrpay/internal"
	"github.com/frahmantamala/qrpay/internal/core/money"
	"github.com/frahmantamala/qrpay/internal/metrics"
	"github.com/frahmantamala/qrpay/internal/notify"
	"github.com/frahmantamala/qrpay/internal/order"
	"github.com/frahmantamala/qrpay/internal/setting"
	"github.com/frahmantamala/qrpay/internal/signature"
)

const unattributedParam = "unattributed transfer"

type Outcome string

const (
	OutcomeMatched      Outcome = "matched"
	OutcomeUnattributed Outcome = "unattributed"
)

type SettingsStore interface {
	Snapshot(ctx context.Context) (setting.Snapshot, error)
	RecordHeartbeat(ctx context.Context, at time.Time) error
	RecordPayment(ctx context.Context, at time.Time) error
}

type OrderStore interface {
	FindBySlotAmount(ctx context.Context, cents int64, paymentType order.PaymentType) (*order.Order, error)
	TransitionToPaid(ctx context.Context, orderID string, paidAt time.Time) (*order.Order, bool, error)
	RecordUnattributed(ctx context.Context, o *order.Order) error
}

// Dispatcher delivers the merchant callback in the background. It must not
// block the push response.
type Dispatcher interface {
	Dispatch(del notify.Delivery, secret string)
}

type Sweeper interface {
	Opportunistic(ctx context.Context)
}

type PushRequest struct {
	T     string
	Type  string
	Price string
	Sign  string
}

type PushResult struct {
	Outcome Outcome
	OrderID string
	Price   string
}

type Gateway struct {
	orders     OrderStore
	settings   SettingsStore
	dispatcher Dispatcher
	sweeper    Sweeper
	ids        *order.IDGenerator
	metrics    *metrics.Metrics
	logger     *slog.Logger
	now        func() time.Time
}

func NewGateway(orders OrderStore, settings SettingsStore, dispatcher Dispatcher, sweeper Sweeper, ids *order.IDGenerator, m *metrics.Metrics, logger *slog.Logger) *Gateway {
	return &Gateway{
		orders:     orders,
		settings:   settings,
		dispatcher: dispatcher,
		sweeper:    sweeper,
		ids:        ids,
		metrics:    m,
		logger:     logger,
		now:        time.Now,
	}
}

// Heartbeat records that the agent is alive. The signature is md5(t + key).
func (g *Gateway) Heartbeat(ctx context.Context, t, sign string) error {
	if blank(t) || blank(sign) {
		g.metrics.Heartbeat(false)
		return errors.ErrMissingParams
	}

	snap, err := g.snapshot(ctx)
	if err != nil {
		g.metrics.Heartbeat(false)
		return err
	}

	if !signature.Verify(signature.Heartbeat, []signature.Field{signature.F("t", t)}, snap.Secret, sign) {
		g.metrics.Heartbeat(false)
		g.logger.WarnContext(ctx, "heartbeat rejected", "reason", "signature")
		return errors.ErrInvalidSignature
	}

	if err := g.settings.RecordHeartbeat(ctx, g.now()); err != nil {
		g.metrics.Heartbeat(false)
		return errors.NewStorageError("failed to record heartbeat", err)
	}

	g.metrics.Heartbeat(true)
	return nil
}

// Push reconciles one observed payment. A pending order holding the exact
// slot amount is settled and its merchant notified in the background; any
// other payment is kept as an unattributed settled record.
func (g *Gateway) Push(ctx context.Context, req PushRequest) (*PushResult, error) {
	g.sweep(ctx)

	if blank(req.T) || blank(req.Type) || blank(req.Price) || blank(req.Sign) {
		return nil, errors.ErrMissingParams
	}

	snap, err := g.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	fields := []signature.Field{
		signature.F("type", req.Type),
		signature.F("price", req.Price),
		signature.F("t", req.T),
	}
	if !signature.Verify(signature.Push, fields, snap.Secret, req.Sign) {
		g.logger.WarnContext(ctx, "push rejected", "reason", "signature", "type", req.Type, "price", req.Price)
		return nil, errors.ErrInvalidSignature
	}

	paymentType, err := parseType(strings.TrimSpace(req.Type))
	if err != nil {
		return nil, err
	}
	amount, err := money.Parse(req.Price)
	if err != nil || !amount.IsPositive() {
		return nil, errors.ErrInvalidAmount
	}
	cents, err := money.RoundCents(amount)
	if err != nil {
		return nil, errors.ErrInvalidAmount
	}
	now := g.now()

	if err := g.settings.RecordPayment(ctx, now); err != nil {
		g.logger.ErrorContext(ctx, "failed to record last payment time", "error", err)
	}

	matched, err := g.settle(ctx, cents, paymentType, now)
	if err != nil {
		return nil, err
	}
	if matched != nil {
		g.dispatcher.Dispatch(matched.Delivery(), snap.Secret)
		g.metrics.Push(string(OutcomeMatched))
		g.logger.InfoContext(ctx, "push matched",
			"order_id", matched.OrderID,
			"pay_id", matched.MerchantOrderID,
			"price", money.Format(cents),
			"type", paymentType.String(),
		)
		return &PushResult{Outcome: OutcomeMatched, OrderID: matched.OrderID, Price: money.Format(cents)}, nil
	}

	u, err := g.recordUnattributed(ctx, cents, paymentType, now)
	if err != nil {
		return nil, err
	}
	g.metrics.Push(string(OutcomeUnattributed))
	g.logger.InfoContext(ctx, "push unattributed",
		"order_id", u.OrderID,
		"price", money.Format(cents),
		"type", paymentType.String(),
	)
	return &PushResult{Outcome: OutcomeUnattributed, OrderID: u.OrderID, Price: money.Format(cents)}, nil
}

// settle returns the order this push settled, or nil when no pending order
// holds the amount or a concurrent push or close won it first.
func (g *Gateway) settle(ctx context.Context, cents int64, paymentType order.PaymentType, now time.Time) (*order.Order, error) {
	pending, err := g.orders.FindBySlotAmount(ctx, cents, paymentType)
	if err != nil {
		return nil, errors.NewStorageError("failed to look up pending order", err)
	}
	if pending == nil {
		return nil, nil
	}

	paid, won, err := g.orders.TransitionToPaid(ctx, pending.OrderID, now)
	if err != nil {
		return nil, errors.NewStorageError("failed to settle order", err)
	}
	if !won {
		g.logger.InfoContext(ctx, "pending order changed before settlement", "order_id", pending.OrderID)
		return nil, nil
	}
	return paid, nil
}

func (g *Gateway) recordUnattributed(ctx context.Context, cents int64, paymentType order.PaymentType, now time.Time) (*order.Order, error) {
	paidAt := now
	u := &order.Order{
		OrderID:         g.ids.OrderID(),
		MerchantOrderID: g.ids.UnattributedID(),
		PaymentType:     paymentType,
		PriceCents:      cents,
		SlotCents:       cents,
		State:           order.StatePaid,
		Param:           unattributedParam,
		Unattributed:    true,
		CreatedAt:       now,
		PaidAt:          &paidAt,
	}
	if err := g.orders.RecordUnattributed(ctx, u); err != nil {
		return nil, errors.NewStorageError("failed to record unattributed payment", err)
	}
	return u, nil
}

func (g *Gateway) snapshot(ctx context.Context) (setting.Snapshot, error) {
	snap, err := g.settings.Snapshot(ctx)
	if err != nil {
		return setting.Snapshot{}, errors.NewStorageError("failed to load settings", err)
	}
	if snap.Secret == "" {
		return setting.Snapshot{}, errors.ErrSecretNotConfigured
	}
	return snap, nil
}

func (g *Gateway) sweep(ctx context.Context) {
	if g.sweeper != nil {
		g.sweeper.Opportunistic(ctx)
	}
}

func parseType(raw string) (order.PaymentType, error) {
	switch raw {
	case "1":
		return order.PaymentWechat, nil
	case "2":
		return order.PaymentAlipay, nil
	default:
		return 0, errors.ErrInvalidPaymentType
	}
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}
