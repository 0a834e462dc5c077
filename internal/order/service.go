package order

import (
	"context"
	stderrors "errors"
	"log/slog"
	"strings"
	"time"

	errors "github.com/frahmantamala/qrpay/internal"
	"github.com/frahmantamala/qrpay/internal/core/money"
	"github.com/frahmantamala/qrpay/internal/metrics"
	"github.com/frahmantamala/qrpay/internal/notify"
	"github.com/frahmantamala/qrpay/internal/setting"
	"github.com/frahmantamala/qrpay/internal/signature"
	"github.com/frahmantamala/qrpay/internal/slot"
)

const (
	createAttempts   = 3
	DefaultRetention = 24 * time.Hour
)

type SettingsProvider interface {
	Snapshot(ctx context.Context) (setting.Snapshot, error)
}

// QRCodeFinder returns the enabled per-amount QR urls of one payment type
// whose amount lies in [minCents, maxCents], keyed by amount.
type QRCodeFinder interface {
	PayURLs(ctx context.Context, paymentType int, minCents, maxCents int64) (map[int64]string, error)
}

type Notifier interface {
	Deliver(ctx context.Context, del notify.Delivery, secret string) notify.Result
	SendReturn(ctx context.Context, del notify.Delivery, secret string) notify.Result
}

// Sweeper expires overdue orders before a request touches the slot space.
// Failures are handled inside; callers never block on them.
type Sweeper interface {
	Opportunistic(ctx context.Context)
}

type StatsReader interface {
	Stats(ctx context.Context, since time.Time) (Stats, error)
}

type Dependencies struct {
	Settings SettingsProvider
	QRCodes  QRCodeFinder
	Notifier Notifier
	Sweeper  Sweeper
	Stats    StatsReader
	IDs      *IDGenerator
	Metrics  *metrics.Metrics
}

type Config struct {
	MaxAttempts int
	FrontendURL string
	Retention   time.Duration
}

type Service struct {
	store    *Store
	settings SettingsProvider
	qrcodes  QRCodeFinder
	notifier Notifier
	sweeper  Sweeper
	stats    StatsReader
	ids      *IDGenerator
	metrics  *metrics.Metrics
	config   Config
	logger   *slog.Logger
	now      func() time.Time
}

func NewService(store *Store, deps Dependencies, config Config, logger *slog.Logger) *Service {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = slot.DefaultMaxAttempts
	}
	if config.Retention <= 0 {
		config.Retention = DefaultRetention
	}
	config.FrontendURL = strings.TrimRight(config.FrontendURL, "/")

	return &Service{
		store:    store,
		settings: deps.Settings,
		qrcodes:  deps.QRCodes,
		notifier: deps.Notifier,
		sweeper:  deps.Sweeper,
		stats:    deps.Stats,
		ids:      deps.IDs,
		metrics:  deps.Metrics,
		config:   config,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *Service) CreateOrder(ctx context.Context, req CreateOrderRequest) (*CreateOrderResponse, error) {
	s.sweep(ctx)

	if err := req.Validate(); err != nil {
		s.logger.Warn("create order rejected", "merchant_order_id", req.PayID, "error", err)
		return nil, err
	}

	snap, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if snap.Secret == "" {
		return nil, errors.ErrSecretNotConfigured.Clone()
	}

	fields := []signature.Field{
		signature.F("payId", string(req.PayID)),
		signature.F("param", string(req.Param)),
		signature.F("type", string(req.Type)),
		signature.F("price", string(req.Price)),
	}
	if !signature.Verify(signature.CreateOrder, fields, snap.Secret, string(req.Sign)) {
		s.logger.Warn("create order signature mismatch", "merchant_order_id", req.PayID)
		return nil, errors.ErrInvalidSignature.Clone()
	}

	if !snap.MonitorAlive {
		return nil, errors.ErrMonitorDown.Clone()
	}

	merchantOrderID := strings.TrimSpace(string(req.PayID))
	if exists, err := s.merchantOrderExists(ctx, merchantOrderID); err != nil {
		return nil, err
	} else if exists {
		return nil, errors.ErrDuplicateOrder.Clone()
	}

	amount, err := money.Parse(string(req.Price))
	if err != nil {
		return nil, errors.ErrInvalidAmount.Clone()
	}
	desired, err := money.ToCents(amount)
	if err != nil || desired <= 0 {
		return nil, errors.ErrInvalidAmount.Clone()
	}

	paymentType := req.PaymentType()
	qrcodes, err := s.candidateQRCodes(ctx, paymentType, desired)
	if err != nil {
		return nil, err
	}

	notifyURL := strings.TrimSpace(string(req.NotifyURL))
	if notifyURL == "" {
		notifyURL = snap.NotifyURL
	}
	returnURL := strings.TrimSpace(string(req.ReturnURL))
	if returnURL == "" {
		returnURL = snap.ReturnURL
	}

	attempts := 0
	finalize := func(o *Order, r slot.Reservation) error {
		attempts = r.Attempts
		o.SlotCents = r.Cents
		if url, ok := qrcodes[r.Cents]; ok {
			o.PayURL = url
			o.IsAuto = false
			return nil
		}
		if static := snap.StaticQR(int(paymentType)); static != "" {
			o.PayURL = static
			o.IsAuto = true
			return nil
		}
		return errors.ErrNoPayURL.Clone()
	}

	var o *Order
	for attempt := 1; attempt <= createAttempts; attempt++ {
		o = &Order{
			OrderID:         s.ids.OrderID(),
			MerchantOrderID: merchantOrderID,
			PaymentType:     paymentType,
			PriceCents:      desired,
			State:           StatePending,
			NotifyURL:       notifyURL,
			ReturnURL:       returnURL,
			Param:           string(req.Param),
			CreatedAt:       s.now(),
		}
		err = s.store.Create(ctx, o, slot.ReserveRequest{
			DesiredCents: desired,
			PaymentType:  int(paymentType),
			OrderID:      o.OrderID,
			Mode:         snap.Perturbation,
			MaxAttempts:  s.config.MaxAttempts,
		}, finalize)
		if err == nil || !stderrors.Is(err, ErrDuplicateKey) {
			break
		}

		// Either the merchant id was taken concurrently or the generated
		// order id collided; only the latter is worth another try.
		if exists, lookupErr := s.merchantOrderExists(ctx, merchantOrderID); lookupErr != nil {
			return nil, lookupErr
		} else if exists {
			return nil, errors.ErrDuplicateOrder.Clone()
		}
		s.logger.Warn("order id collision, regenerating", "order_id", o.OrderID, "attempt", attempt)
	}
	if err != nil {
		return nil, s.createError(err, merchantOrderID, desired)
	}

	if o.SlotCents != o.PriceCents {
		s.logger.Info("amount perturbed to avoid a pending collision",
			"order_id", o.OrderID, "price_cents", o.PriceCents, "slot_cents", o.SlotCents)
	}
	s.metrics.SlotReserved(attempts)
	s.logger.Info("order created",
		"order_id", o.OrderID,
		"merchant_order_id", o.MerchantOrderID,
		"payment_type", int(o.PaymentType),
		"slot_cents", o.SlotCents,
		"is_auto", o.IsAuto)

	return &CreateOrderResponse{
		PayID:          o.MerchantOrderID,
		OrderID:        o.OrderID,
		PayType:        int(o.PaymentType),
		Price:          o.Price(),
		ReallyPrice:    o.SlotPrice(),
		PayURL:         o.PayURL,
		IsAuto:         o.IsAuto,
		TimeoutMinutes: snap.CloseMinutes,
		CreatedAt:      o.CreatedAt.Unix(),
		RedirectURL:    s.PaymentPageURL(o.OrderID),
	}, nil
}

func (s *Service) createError(err error, merchantOrderID string, desired int64) error {
	if appErr, ok := errors.IsAppError(err); ok {
		return appErr
	}
	switch {
	case stderrors.Is(err, slot.ErrExhausted):
		s.metrics.SlotExhaustedInc()
		s.logger.Warn("no free amount slot", "merchant_order_id", merchantOrderID, "price_cents", desired)
		return errors.ErrCapacityExceeded.Clone()
	case stderrors.Is(err, slot.ErrInvalidAmount):
		return errors.ErrInvalidAmount.Clone()
	case stderrors.Is(err, ErrDuplicateKey):
		return errors.NewStorageError("could not allocate a unique order id", err)
	default:
		s.logger.Error("failed to create order", "merchant_order_id", merchantOrderID, "error", err)
		return errors.NewStorageError("failed to create order", err)
	}
}

// PaymentPageURL is where the merchant sends the payer's browser.
func (s *Service) PaymentPageURL(orderID string) string {
	return s.config.FrontendURL + "/#/payment/" + orderID
}

func (s *Service) GetOrder(ctx context.Context, orderID string) (*OrderDetail, error) {
	o, err := s.find(ctx, orderID)
	if err != nil {
		return nil, err
	}
	snap, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	return &OrderDetail{
		PayID:            o.MerchantOrderID,
		OrderID:          o.OrderID,
		PayType:          int(o.PaymentType),
		Price:            o.Price(),
		ReallyPrice:      o.SlotPrice(),
		PayURL:           o.PayURL,
		IsAuto:           o.IsAuto,
		State:            int(o.State),
		StateText:        o.State.String(),
		TimeoutMinutes:   snap.CloseMinutes,
		CreatedAt:        o.CreatedAt.Unix(),
		RemainingSeconds: o.RemainingSeconds(s.now(), snap.Timeout()),
		ReturnURL:        o.ReturnURL,
		Param:            o.Param,
		RedirectURL:      s.PaymentPageURL(o.OrderID),
	}, nil
}

// CheckOrder is the payer-side poll. A pending order past its timeout is
// expired on the spot.
func (s *Service) CheckOrder(ctx context.Context, orderID string) (*CheckResponse, error) {
	o, err := s.find(ctx, orderID)
	if err != nil {
		return nil, err
	}
	snap, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if o.Overdue(now, snap.Timeout()) {
		if _, err := s.store.Close(ctx, o.OrderID); err != nil {
			s.logger.Error("failed to expire overdue order", "order_id", o.OrderID, "error", err)
		}
		if o, err = s.find(ctx, orderID); err != nil {
			return nil, err
		}
	}

	resp := &CheckResponse{
		OrderID:          o.OrderID,
		State:            int(o.State),
		StateText:        o.State.String(),
		RemainingSeconds: o.RemainingSeconds(now, snap.Timeout()),
		ReturnURL:        o.ReturnURL,
		Param:            o.Param,
	}
	if o.State.Settled() {
		resp.RedirectURL = o.ReturnURL
	}
	return resp, nil
}

func (s *Service) CloseOrder(ctx context.Context, orderID string) error {
	o, err := s.find(ctx, orderID)
	if err != nil {
		return err
	}
	if o.State != StatePending {
		return errors.ErrOrderNotPending.Clone()
	}

	won, err := s.store.Close(ctx, orderID)
	if err != nil {
		return errors.NewStorageError("failed to close order", err)
	}
	if !won {
		return errors.ErrOrderNotPending.Clone()
	}
	s.logger.Info("order closed", "order_id", orderID)
	return nil
}

// CloseOrderSigned is the merchant-facing close. The signature covers the
// platform order id in either merchant layout.
func (s *Service) CloseOrderSigned(ctx context.Context, orderID, sign string) error {
	snap, err := s.snapshot(ctx)
	if err != nil {
		return err
	}
	if snap.Secret == "" {
		return errors.ErrSecretNotConfigured.Clone()
	}
	fields := []signature.Field{signature.F("orderId", strings.TrimSpace(orderID))}
	if !signature.Verify(signature.CreateOrder, fields, snap.Secret, sign) {
		s.logger.Warn("close order signature mismatch", "order_id", orderID)
		return errors.ErrInvalidSignature.Clone()
	}
	return s.CloseOrder(ctx, orderID)
}

// DeleteOrder removes the order and its slot. Deleting a missing order
// succeeds.
func (s *Service) DeleteOrder(ctx context.Context, orderID string) error {
	deleted, err := s.store.Delete(ctx, orderID)
	if err != nil {
		return errors.NewStorageError("failed to delete order", err)
	}
	s.logger.Info("order deleted", "order_id", orderID, "existed", deleted)
	return nil
}

// Reissue re-runs merchant notification and, once confirmed, settles the
// order and fires the return callback.
func (s *Service) Reissue(ctx context.Context, orderID string) (*ReissueResponse, error) {
	o, err := s.find(ctx, orderID)
	if err != nil {
		return nil, err
	}
	snap, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if snap.Secret == "" {
		return nil, errors.ErrSecretNotConfigured.Clone()
	}
	if strings.TrimSpace(o.NotifyURL) == "" {
		return nil, errors.ErrNoNotifyURL.Clone()
	}

	res := s.notifier.Deliver(ctx, o.Delivery(), snap.Secret)
	if !res.Confirmed() {
		responses := res.Responses()
		s.logger.Warn("reissue unconfirmed", "order_id", orderID, "responses", responses)
		return nil, errors.ErrDeliveryUnconfirmed.Clone().WithDetails(map[string]string{
			"newResp":    responses[notify.CurrentNotify.Name],
			"legacyResp": responses[notify.LegacyNotify.Name],
		})
	}

	o, err = s.store.Confirm(ctx, orderID)
	if err != nil {
		return nil, errors.NewStorageError("failed to settle reissued order", err)
	}

	returned := false
	if strings.TrimSpace(o.ReturnURL) != "" {
		returned = s.notifier.SendReturn(ctx, o.Delivery(), snap.Secret).Confirmed()
	}

	s.logger.Info("reissue confirmed", "order_id", orderID, "strategy", res.Strategy, "return_delivered", returned)
	return &ReissueResponse{
		OrderID:         o.OrderID,
		State:           int(o.State),
		Strategy:        res.Strategy,
		ReturnDelivered: returned,
	}, nil
}

// GenerateReturnURL signs the order's return URL in both formats. The current
// format is the one to use; the legacy one is offered for old merchants.
func (s *Service) GenerateReturnURL(ctx context.Context, orderID string) (*ReturnURLResponse, error) {
	o, err := s.find(ctx, orderID)
	if err != nil {
		return nil, err
	}
	snap, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if snap.Secret == "" {
		return nil, errors.ErrSecretNotConfigured.Clone()
	}
	target := strings.TrimSpace(o.ReturnURL)
	if target == "" {
		return nil, errors.ErrNoReturnURL.Clone()
	}

	del := o.Delivery()
	current := notify.CurrentReturn.URL(target, del, snap.Secret)
	return &ReturnURLResponse{
		ReturnURL:       current,
		ReturnURLNew:    current,
		ReturnURLLegacy: notify.LegacyReturn.URL(target, del, snap.Secret),
		Mode:            "new-first",
		Sign:            notify.CurrentReturn.Signature(del, snap.Secret),
		SignLegacy:      notify.LegacyReturn.Signature(del, snap.Secret),
	}, nil
}

func (s *Service) ListOrders(ctx context.Context, filter ListFilter) (*ListResponse, error) {
	filter = filter.Normalize()
	orders, total, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, errors.NewStorageError("failed to list orders", err)
	}

	items := make([]AdminOrder, len(orders))
	for i, o := range orders {
		items[i] = NewAdminOrder(o)
	}
	return &ListResponse{Total: total, Page: filter.Page, Limit: filter.Limit, Items: items}, nil
}

func (s *Service) OrderDetail(ctx context.Context, orderID string) (*AdminOrder, error) {
	o, err := s.find(ctx, orderID)
	if err != nil {
		return nil, err
	}
	detail := NewAdminOrder(o)
	return &detail, nil
}

// ExpireOverdue closes every pending order past the configured timeout.
func (s *Service) ExpireOverdue(ctx context.Context) (int, error) {
	snap, err := s.snapshot(ctx)
	if err != nil {
		return 0, err
	}
	closed, err := s.store.ExpireBefore(ctx, s.now().Add(-snap.Timeout()))
	if err != nil {
		return closed, errors.NewStorageError("failed to expire overdue orders", err)
	}
	return closed, nil
}

// Purge deletes orders older than the retention window.
func (s *Service) Purge(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		olderThan = s.config.Retention
	}
	deleted, err := s.store.DeleteOlderThan(ctx, s.now().Add(-olderThan))
	if err != nil {
		return 0, errors.NewStorageError("failed to purge orders", err)
	}
	s.logger.Info("orders purged", "deleted", deleted, "older_than", olderThan.String())
	return deleted, nil
}

func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	if s.stats == nil {
		return &Stats{}, nil
	}
	now := s.now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	stats, err := s.stats.Stats(ctx, midnight)
	if err != nil {
		return nil, errors.NewStorageError("failed to load stats", err)
	}
	return &stats, nil
}

func (s *Service) find(ctx context.Context, orderID string) (*Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, errors.ErrMissingParams.Clone()
	}
	o, err := s.store.FindByID(ctx, orderID)
	if err != nil {
		if stderrors.Is(err, ErrNotFound) {
			return nil, errors.ErrOrderNotFound.Clone()
		}
		return nil, errors.NewStorageError("failed to load order", err)
	}
	return o, nil
}

func (s *Service) merchantOrderExists(ctx context.Context, merchantOrderID string) (bool, error) {
	_, err := s.store.FindByMerchantOrderID(ctx, merchantOrderID)
	switch {
	case err == nil:
		return true, nil
	case stderrors.Is(err, ErrNotFound):
		return false, nil
	default:
		return false, errors.NewStorageError("failed to check merchant order id", err)
	}
}

func (s *Service) candidateQRCodes(ctx context.Context, paymentType PaymentType, desired int64) (map[int64]string, error) {
	if s.qrcodes == nil {
		return map[int64]string{}, nil
	}
	span := int64(s.config.MaxAttempts)
	urls, err := s.qrcodes.PayURLs(ctx, int(paymentType), desired-span, desired+span)
	if err != nil {
		return nil, errors.NewStorageError("failed to load pay qr codes", err)
	}
	return urls, nil
}

func (s *Service) snapshot(ctx context.Context) (setting.Snapshot, error) {
	snap, err := s.settings.Snapshot(ctx)
	if err != nil {
		return setting.Snapshot{}, errors.NewStorageError("failed to load settings", err)
	}
	return snap, nil
}

func (s *Service) sweep(ctx context.Context) {
	if s.sweeper != nil {
		s.sweeper.Opportunistic(ctx)
	}
}
