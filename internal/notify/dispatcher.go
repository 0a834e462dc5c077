package notify

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/frahmantamala/qrpay/internal/metrics"
)

const (
	DefaultTimeout     = 10 * time.Second
	DefaultMaxInFlight = 64
	DefaultUserAgent   = "qrpay/1.0"

	markTimeout = 5 * time.Second
)

// FailureMarker flags a paid order whose callback was never confirmed.
type FailureMarker interface {
	MarkNotifyFailed(ctx context.Context, orderID string) (bool, error)
}

// Recorder keeps an audit trail of attempts. Failures to record are logged
// and never affect delivery.
type Recorder interface {
	Record(ctx context.Context, kind Kind, orderID string, attempt Attempt) error
}

type Config struct {
	Timeout     time.Duration
	MaxInFlight int
	UserAgent   string
}

type Dispatcher struct {
	client   *resty.Client
	marker   FailureMarker
	recorder Recorder
	metrics  *metrics.Metrics
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	slots  chan struct{}

	mu     sync.Mutex
	closed bool
}

func NewDispatcher(config Config, marker FailureMarker, recorder Recorder, m *metrics.Metrics, logger *slog.Logger) *Dispatcher {
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.MaxInFlight <= 0 {
		config.MaxInFlight = DefaultMaxInFlight
	}
	if config.UserAgent == "" {
		config.UserAgent = DefaultUserAgent
	}

	client := resty.New().
		SetTimeout(config.Timeout).
		SetHeader("User-Agent", config.UserAgent)

	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		client:   client,
		marker:   marker,
		recorder: recorder,
		metrics:  m,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		slots:    make(chan struct{}, config.MaxInFlight),
	}
}

// Deliver runs the notify plan against the order's notify URL. It never
// changes order state.
func (d *Dispatcher) Deliver(ctx context.Context, del Delivery, secret string) Result {
	return d.run(ctx, NotifyPlan, del.NotifyURL, del, secret)
}

// Notify delivers and, when no strategy was confirmed, marks the order
// NOTIFY_FAILED. Orders without a notify URL are left untouched.
func (d *Dispatcher) Notify(ctx context.Context, del Delivery, secret string) Result {
	if strings.TrimSpace(del.NotifyURL) == "" {
		d.logger.Info("no notify url, skipping callback", "order_id", del.OrderID)
		return Result{Kind: KindNotify, Status: Unconfirmed}
	}

	res := d.Deliver(ctx, del, secret)
	if !res.Confirmed() {
		d.markFailed(ctx, del.OrderID)
	}
	return res
}

// SendReturn fires the browser-facing return callback. The result is
// informational only.
func (d *Dispatcher) SendReturn(ctx context.Context, del Delivery, secret string) Result {
	return d.run(ctx, ReturnPlan, del.ReturnURL, del, secret)
}

// Dispatch runs Notify on a tracked goroutine detached from the caller's
// lifecycle. The outcome is visible only through the order state.
func (d *Dispatcher) Dispatch(del Delivery, secret string) {
	if strings.TrimSpace(del.NotifyURL) == "" {
		return
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.logger.Warn("dispatcher closed, notification not sent", "order_id", del.OrderID)
		d.markFailed(context.Background(), del.OrderID)
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()

	d.metrics.DeliveryStarted()
	go func() {
		defer d.wg.Done()
		defer d.metrics.DeliveryFinished()

		select {
		case d.slots <- struct{}{}:
			defer func() { <-d.slots }()
		case <-d.ctx.Done():
			d.markFailed(context.Background(), del.OrderID)
			return
		}

		d.Notify(d.ctx, del, secret)
	}()
}

// Wait blocks until every dispatched notification has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Shutdown stops accepting detached work and waits for in-flight deliveries.
// When ctx expires first the remaining calls are cancelled, which marks their
// orders NOTIFY_FAILED.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.logger.Info("shutting down notification dispatcher")

	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		d.logger.Info("notification dispatcher shutdown complete")
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		d.logger.Warn("notification dispatcher shutdown forced", "error", ctx.Err())
		return ctx.Err()
	}
}

func (d *Dispatcher) run(ctx context.Context, plan Plan, target string, del Delivery, secret string) Result {
	res := Result{Kind: plan.Kind, Status: Unconfirmed}
	target = strings.TrimSpace(target)
	if target == "" {
		return res
	}

	for _, strategy := range plan.Strategies {
		attempt := d.attempt(ctx, plan.Kind, strategy.Build(target, del, secret), strategy.Name)
		attempt.Accepted = plan.Accept(attempt)
		res.Attempts = append(res.Attempts, attempt)
		d.record(ctx, plan.Kind, del.OrderID, attempt)

		d.logger.Info("merchant callback attempt",
			"kind", plan.Kind,
			"strategy", strategy.Name,
			"order_id", del.OrderID,
			"merchant_order_id", del.MerchantOrderID,
			"status_code", attempt.StatusCode,
			"accepted", attempt.Accepted,
			"response", truncate(attempt.Response(), 200))

		if attempt.Accepted {
			res.Status = Confirmed
			res.Strategy = strategy.Name
			break
		}
	}

	d.metrics.Delivery(string(plan.Kind), res.Confirmed())
	return res
}

func (d *Dispatcher) attempt(ctx context.Context, kind Kind, req Request, strategy string) Attempt {
	a := Attempt{Strategy: strategy, Method: req.Method, URL: req.URL}

	r := d.client.R().SetContext(ctx)
	if req.Form != nil {
		r.SetFormData(req.Form)
	}

	start := time.Now()
	resp, err := r.Execute(req.Method, req.URL)
	a.Duration = time.Since(start)
	d.metrics.DeliveryAttempt(string(kind), strategy, a.Duration)

	if err != nil {
		a.Err = err
		return a
	}
	a.StatusCode = resp.StatusCode()
	a.Body = string(resp.Body())
	return a
}

func (d *Dispatcher) markFailed(ctx context.Context, orderID string) {
	if d.marker == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), markTimeout)
	defer cancel()

	marked, err := d.marker.MarkNotifyFailed(ctx, orderID)
	if err != nil {
		d.logger.Error("failed to mark order notify-failed", "order_id", orderID, "error", err)
		return
	}
	if marked {
		d.logger.Warn("merchant callback unconfirmed, order marked notify-failed", "order_id", orderID)
	}
}

func (d *Dispatcher) record(ctx context.Context, kind Kind, orderID string, a Attempt) {
	if d.recorder == nil {
		return
	}
	if err := d.recorder.Record(context.WithoutCancel(ctx), kind, orderID, a); err != nil {
		d.logger.Warn("failed to record callback attempt", "order_id", orderID, "error", err)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
