// Package sweeper expires overdue orders, drops slots that no longer belong
// to a pending order and flags a silent monitor agent as down.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/frahmantamala/qrpay/internal/metrics"
	"github.com/frahmantamala/qrpay/internal/setting"
)

// DefaultMonitorTimeout is how long the agent may go without a heartbeat
// before new orders are refused.
const DefaultMonitorTimeout = 3 * time.Minute

type OrderExpirer interface {
	ExpireBefore(ctx context.Context, cutoff time.Time) (int, error)
	PurgeOrphanSlots(ctx context.Context) (int64, error)
}

type SettingsSource interface {
	Snapshot(ctx context.Context) (setting.Snapshot, error)
	MarkMonitorDown(ctx context.Context, heartbeatBefore time.Time) (bool, error)
}

type Result struct {
	Expired       int
	OrphansPurged int64
	MonitorDown   bool
}

type Sweeper struct {
	orders         OrderExpirer
	settings       SettingsSource
	metrics        *metrics.Metrics
	logger         *slog.Logger
	monitorTimeout time.Duration
	now            func() time.Time
	running        sync.Mutex
}

func New(orders OrderExpirer, settings SettingsSource, m *metrics.Metrics, monitorTimeout time.Duration, logger *slog.Logger) *Sweeper {
	if monitorTimeout <= 0 {
		monitorTimeout = DefaultMonitorTimeout
	}
	return &Sweeper{
		orders:         orders,
		settings:       settings,
		metrics:        m,
		logger:         logger,
		monitorTimeout: monitorTimeout,
		now:            time.Now,
	}
}

// Sweep runs one full pass. Each order is closed by its own compare-and-set,
// so a pass racing a payment never overrides it.
func (s *Sweeper) Sweep(ctx context.Context) (Result, error) {
	s.running.Lock()
	defer s.running.Unlock()
	return s.sweep(ctx)
}

// Opportunistic is the sweep run in front of request handling. It skips when
// another pass is already running and only logs failures.
func (s *Sweeper) Opportunistic(ctx context.Context) {
	if !s.running.TryLock() {
		return
	}
	defer s.running.Unlock()

	if _, err := s.sweep(ctx); err != nil {
		s.logger.Warn("opportunistic sweep failed", "error", err)
	}
}

func (s *Sweeper) sweep(ctx context.Context) (Result, error) {
	var res Result

	snap, err := s.settings.Snapshot(ctx)
	if err != nil {
		s.metrics.Sweep(0, err)
		return res, fmt.Errorf("load settings: %w", err)
	}

	now := s.now()
	res.Expired, err = s.orders.ExpireBefore(ctx, now.Add(-snap.Timeout()))
	if err != nil {
		s.metrics.Sweep(res.Expired, err)
		return res, fmt.Errorf("expire overdue orders: %w", err)
	}

	res.OrphansPurged, err = s.orders.PurgeOrphanSlots(ctx)
	if err != nil {
		s.metrics.Sweep(res.Expired, err)
		return res, fmt.Errorf("purge orphan slots: %w", err)
	}

	if snap.MonitorAlive && snap.HeartbeatStale(now, s.monitorTimeout) {
		marked, err := s.settings.MarkMonitorDown(ctx, now.Add(-s.monitorTimeout))
		if err != nil {
			s.metrics.Sweep(res.Expired, err)
			return res, fmt.Errorf("mark monitor down: %w", err)
		}
		res.MonitorDown = marked
		if marked {
			s.logger.Warn("monitor heartbeat stale, marking down",
				"last_heartbeat", snap.LastHeartbeat.Unix(),
				"timeout", s.monitorTimeout.String())
		}
	}

	s.metrics.Sweep(res.Expired, nil)
	if res.Expired > 0 || res.OrphansPurged > 0 {
		s.logger.Info("sweep finished", "expired", res.Expired, "orphans_purged", res.OrphansPurged)
	}
	return res, nil
}
